// Package store keeps ingested articles in SQLite. The digest build reads
// recent records from it; ingestion and engagement refreshes write to it.
package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"github.com/ppiankov/aidigest/internal/errors"
	"github.com/ppiankov/aidigest/internal/model"
	"github.com/ppiankov/aidigest/internal/validate"
)

const schema = `
CREATE TABLE IF NOT EXISTS articles (
	id           TEXT PRIMARY KEY,
	url          TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL DEFAULT '',
	body         TEXT NOT NULL DEFAULT '',
	source       TEXT NOT NULL DEFAULT '',
	published_at INTEGER NOT NULL,
	fetched_at   INTEGER NOT NULL,
	likes        INTEGER NOT NULL DEFAULT 0,
	dislikes     INTEGER NOT NULL DEFAULT 0,
	comments     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_articles_published ON articles(published_at DESC);
CREATE INDEX IF NOT EXISTS idx_articles_source ON articles(source);
`

var columns = []string{
	"id", "url", "title", "body", "source",
	"published_at", "fetched_at", "likes", "dislikes", "comments",
}

// upsertChunk keeps multi-row inserts under SQLite's bound parameter limit
const upsertChunk = 90

// SQLiteStore is the article store. Writes go through a single connection;
// reads use a separate pool.
type SQLiteStore struct {
	readDB  *sql.DB
	writeDB *sql.DB
	now     func() time.Time
}

// Open opens (creating if needed) the database at path
func Open(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create store dir")
	}

	writeDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open write db")
	}
	writeDB.SetMaxOpenConns(1)

	s := &SQLiteStore{writeDB: writeDB, now: time.Now}
	if _, err := writeDB.Exec(schema); err != nil {
		_ = s.Close()
		return nil, errors.Wrap(err, "initialize schema")
	}

	readDB, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		_ = s.Close()
		return nil, errors.Wrap(err, "open read db")
	}
	s.readDB = readDB
	return s, nil
}

// Close closes both handles
func (s *SQLiteStore) Close() error {
	var first error
	for _, db := range []*sql.DB{s.readDB, s.writeDB} {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// FetchRecentArticles returns records published within window of now,
// newest first
func (s *SQLiteStore) FetchRecentArticles(ctx context.Context, window time.Duration) ([]validate.Raw, error) {
	q := sq.Select(columns...).From("articles").OrderBy("published_at DESC", "id ASC")
	if window > 0 {
		q = q.Where(sq.GtOrEq{"published_at": s.now().Add(-window).UnixMilli()})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build query")
	}

	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query articles")
	}
	defer func() { _ = rows.Close() }()

	var out []validate.Raw
	for rows.Next() {
		var (
			r                         validate.Raw
			published, fetched        int64
			likes, dislikes, comments int
		)
		if err := rows.Scan(&r.SourceID, &r.URL, &r.Title, &r.Body, &r.Source,
			&published, &fetched, &likes, &dislikes, &comments); err != nil {
			return nil, errors.Wrap(err, "scan article")
		}
		r.PublishedAt = time.UnixMilli(published).UTC()
		r.Likes, r.Dislikes, r.Comments = &likes, &dislikes, &comments
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate articles")
	}
	return out, nil
}

// UpsertArticles inserts articles, refreshing content and engagement of
// rows that already exist
func (s *SQLiteStore) UpsertArticles(ctx context.Context, articles []model.Article) error {
	if len(articles) == 0 {
		return nil
	}

	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin upsert")
	}
	defer func() { _ = tx.Rollback() }()

	for start := 0; start < len(articles); start += upsertChunk {
		end := min(start+upsertChunk, len(articles))
		q := sq.Insert("articles").Columns(columns...)
		for _, a := range articles[start:end] {
			q = q.Values(a.ID, a.URL, a.Title, a.Body, a.Source,
				a.PublishedAt.UnixMilli(), a.FetchedAt.UnixMilli(),
				a.Engagement.Likes, a.Engagement.Dislikes, a.Engagement.Comments)
		}
		q = q.Suffix(`ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			fetched_at = excluded.fetched_at,
			likes = excluded.likes,
			dislikes = excluded.dislikes,
			comments = excluded.comments`)

		query, args, err := q.ToSql()
		if err != nil {
			return errors.Wrap(err, "build upsert")
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return errors.Wrapf(err, "upsert articles %d-%d", start, end)
		}
	}
	return errors.Wrap(tx.Commit(), "commit upsert")
}

// UpdateEngagement writes back refreshed engagement counters. Unknown ids
// are ignored.
func (s *SQLiteStore) UpdateEngagement(ctx context.Context, updates map[string]model.Engagement) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin engagement update")
	}
	defer func() { _ = tx.Rollback() }()

	for id, eng := range updates {
		query, args, err := sq.Update("articles").
			Set("likes", eng.Likes).
			Set("dislikes", eng.Dislikes).
			Set("comments", eng.Comments).
			Where(sq.Eq{"id": id}).
			ToSql()
		if err != nil {
			return errors.Wrap(err, "build engagement update")
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return errors.Wrapf(err, "update engagement for %s", id)
		}
	}
	return errors.Wrap(tx.Commit(), "commit engagement update")
}

// Count returns the number of stored articles
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	query, args, err := sq.Select("COUNT(*)").From("articles").ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "build count")
	}
	var n int
	if err := s.readDB.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count articles")
	}
	return n, nil
}

// CountBySource counts articles published within window, per source
func (s *SQLiteStore) CountBySource(ctx context.Context, window time.Duration) (map[string]int, error) {
	q := sq.Select("source", "COUNT(*)").From("articles").GroupBy("source")
	if window > 0 {
		q = q.Where(sq.GtOrEq{"published_at": s.now().Add(-window).UnixMilli()})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build count")
	}

	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "count by source")
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]int)
	for rows.Next() {
		var (
			source string
			n      int
		)
		if err := rows.Scan(&source, &n); err != nil {
			return nil, errors.Wrap(err, "scan count")
		}
		out[source] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate counts")
	}
	return out, nil
}
