// Package validate turns loosely typed source records into model.Article
// values at the ingestion boundary. Records either validate (possibly with
// recorded issues and defaulted fields) or are rejected; nothing untyped
// travels further down the pipeline.
package validate

import (
	"net/url"
	"strings"
	"time"

	"github.com/ppiankov/aidigest/internal/errors"
	"github.com/ppiankov/aidigest/internal/model"
	"github.com/ppiankov/aidigest/internal/util"
)

// Untitled is the title given to records that arrive without one
const Untitled = "(untitled)"

// Raw is an article record as a source or store hands it over
type Raw struct {
	SourceID    string
	URL         string
	Title       string
	Body        string
	Source      string
	PublishedAt time.Time
	Likes       *int
	Dislikes    *int
	Comments    *int
}

// Result is a validated article plus the issues found while validating it
type Result struct {
	Article model.Article
	Issues  []string
}

// Validator validates raw records against the article schema
type Validator struct {
	maxBodyChars int
	now          func() time.Time
}

// NewValidator creates a validator that truncates bodies to maxBodyChars (0 = unlimited)
func NewValidator(maxBodyChars int) *Validator {
	return &Validator{
		maxBodyChars: maxBodyChars,
		now:          time.Now,
	}
}

// Article validates one record. Records with neither an id nor a usable
// URL are rejected with an ErrSchemaValidation-marked error.
func (v *Validator) Article(raw Raw) (Result, error) {
	var issues []string
	now := v.now().UTC()

	canonical := CanonicalURL(raw.URL)
	id := strings.TrimSpace(raw.SourceID)
	if id == "" {
		id = canonical
	}
	if id == "" {
		return Result{}, errors.Mark(errors.New("record has neither id nor url"), errors.ErrSchemaValidation)
	}

	source := strings.ToLower(strings.TrimSpace(raw.Source))
	if source == "" {
		source = "unknown"
		issues = append(issues, "source missing")
	}
	if raw.SourceID != "" && !strings.Contains(id, ":") {
		id = source + ":" + id
	}

	title := util.CleanText(raw.Title)
	if title == "" {
		title = Untitled
		issues = append(issues, "title missing")
	}

	body := util.CleanText(raw.Body)
	if body == "" {
		body = title
		issues = append(issues, "body missing")
	}
	body = util.Truncate(body, v.maxBodyChars)

	published := raw.PublishedAt.UTC()
	if raw.PublishedAt.IsZero() {
		published = now
		issues = append(issues, "publish time missing")
	} else if published.After(now.Add(time.Hour)) {
		published = now
		issues = append(issues, "publish time in the future")
	}

	eng, engIssues := engagement(raw)
	issues = append(issues, engIssues...)

	return Result{
		Article: model.Article{
			ID:          id,
			URL:         canonical,
			Title:       title,
			Body:        body,
			Source:      source,
			PublishedAt: published,
			FetchedAt:   now,
			Engagement:  eng,
		},
		Issues: issues,
	}, nil
}

func engagement(raw Raw) (model.Engagement, []string) {
	var issues []string
	count := func(name string, p *int) int {
		if p == nil {
			return 0
		}
		if *p < 0 {
			issues = append(issues, name+" negative")
			return 0
		}
		return *p
	}

	return model.Engagement{
		Likes:    count("likes", raw.Likes),
		Dislikes: count("dislikes", raw.Dislikes),
		Comments: count("comments", raw.Comments),
	}, issues
}

// CanonicalURL lowercases scheme and host, drops fragments, tracking
// parameters and trailing slashes. Non-http(s) or unparseable input yields "".
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	q := u.Query()
	for key := range q {
		if strings.HasPrefix(key, "utm_") || key == "ref" || key == "fbclid" {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	u.Path = strings.TrimSuffix(u.Path, "/")

	return u.String()
}
