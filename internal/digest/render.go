package digest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ppiankov/aidigest/internal/model"
)

// RenderJSON encodes the batch as indented JSON
func RenderJSON(batch *model.DigestBatch) ([]byte, error) {
	data, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal digest: %w", err)
	}
	return append(data, '\n'), nil
}

// RenderMarkdown renders the batch as a readable Markdown document
func RenderMarkdown(batch *model.DigestBatch) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "# AI Digest %s\n\n", batch.GeneratedAt.Format("2006-01-02"))
	if len(batch.Entries) == 0 {
		b.WriteString("_No stories made the cut in this window._\n")
		return []byte(b.String())
	}

	for i, e := range batch.Entries {
		title := e.Article.Title
		if e.Article.URL != "" {
			title = fmt.Sprintf("[%s](%s)", e.Article.Title, e.Article.URL)
		}
		fmt.Fprintf(&b, "## %d. %s\n\n", i+1, title)
		fmt.Fprintf(&b, "%s · %s · %s\n\n", stars(e.Evaluation.Rating), e.Article.Source, strings.Join(e.Evaluation.Tags, ", "))
		b.WriteString(e.Evaluation.Summary)
		b.WriteString("\n\n")
		if e.Evaluation.WhyItMatters != "" {
			fmt.Fprintf(&b, "**Why it matters:** %s\n\n", e.Evaluation.WhyItMatters)
		}
	}

	if len(batch.ByTag) > 0 {
		b.WriteString("---\n\n### By tag\n\n")
		for _, s := range batch.ByTag {
			fmt.Fprintf(&b, "- **%s**: %s\n", s.Name, positions(s.Entries))
		}
		b.WriteString("\n")
	}

	st := batch.Stats
	fmt.Fprintf(&b, "_%d stories from %d candidates (%d duplicates, %d filtered, %d capped)._\n",
		len(batch.Entries), st.Input, st.Duplicates, st.Filtered, st.Capped)
	return []byte(b.String())
}

func stars(rating int) string {
	rating = min(max(rating, model.MinRating), model.MaxRating)
	return strings.Repeat("★", rating) + strings.Repeat("☆", model.MaxRating-rating)
}

func positions(idx []int) string {
	parts := make([]string, len(idx))
	for i, n := range idx {
		parts[i] = fmt.Sprintf("#%d", n+1)
	}
	return strings.Join(parts, " ")
}
