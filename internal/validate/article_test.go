package validate

import (
	"testing"
	"time"

	"github.com/ppiankov/aidigest/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int { return &v }

func fixedValidator() *Validator {
	v := NewValidator(0)
	v.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return v
}

func TestArticle_Complete(t *testing.T) {
	v := fixedValidator()
	pub := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	res, err := v.Article(Raw{
		SourceID:    "4211",
		URL:         "HTTPS://News.Example.com/post/?utm_source=x#top",
		Title:       "  New <b>model</b> released ",
		Body:        "<p>It is fast.</p>",
		Source:      "HackerNews",
		PublishedAt: pub,
		Likes:       intp(50),
		Dislikes:    intp(1),
		Comments:    intp(12),
	})
	require.NoError(t, err)
	assert.Empty(t, res.Issues)

	a := res.Article
	assert.Equal(t, "hackernews:4211", a.ID)
	assert.Equal(t, "https://news.example.com/post", a.URL)
	assert.Equal(t, "New model released", a.Title)
	assert.Equal(t, "It is fast.", a.Body)
	assert.Equal(t, "hackernews", a.Source)
	assert.Equal(t, pub, a.PublishedAt)
	assert.Equal(t, 50, a.Engagement.Likes)
	assert.Equal(t, 61, a.Engagement.Score())
}

func TestArticle_Defaults(t *testing.T) {
	v := fixedValidator()

	res, err := v.Article(Raw{
		URL:   "https://example.com/a",
		Likes: intp(-3),
	})
	require.NoError(t, err)

	a := res.Article
	assert.Equal(t, "https://example.com/a", a.ID)
	assert.Equal(t, Untitled, a.Title)
	assert.Equal(t, Untitled, a.Body)
	assert.Equal(t, "unknown", a.Source)
	assert.Equal(t, v.now(), a.PublishedAt)
	assert.Equal(t, 0, a.Engagement.Likes)
	assert.ElementsMatch(t, []string{
		"source missing", "title missing", "body missing", "publish time missing", "likes negative",
	}, res.Issues)
}

func TestArticle_Rejected(t *testing.T) {
	v := fixedValidator()
	_, err := v.Article(Raw{Title: "orphan", URL: "ftp://example.com/x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSchemaValidation))
}

func TestArticle_FuturePublishAndTruncate(t *testing.T) {
	v := fixedValidator()
	v.maxBodyChars = 20

	res, err := v.Article(Raw{
		SourceID:    "x1",
		Source:      "rss",
		Title:       "t",
		Body:        "one two three four five six seven",
		PublishedAt: v.now().Add(48 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, v.now(), res.Article.PublishedAt)
	assert.Contains(t, res.Issues, "publish time in the future")
	assert.LessOrEqual(t, len(res.Article.Body), 23)
}

func TestCanonicalURL(t *testing.T) {
	tests := map[string]string{
		"":                                 "",
		"not a url":                        "",
		"mailto:a@b.c":                     "",
		"http://A.com/x/":                  "http://a.com/x",
		"https://a.com/x?b=2&utm_medium=m": "https://a.com/x?b=2",
		"https://a.com/x?ref=hn#frag":      "https://a.com/x",
	}
	for in, want := range tests {
		assert.Equal(t, want, CanonicalURL(in), "input %q", in)
	}
}
