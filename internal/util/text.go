package util

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

var (
	spaceRe        = regexp.MustCompile(`\s+`)
	markdownLinkRe = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	boldRe         = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	italicRe       = regexp.MustCompile(`\*([^*]+)\*`)
)

// StripHTML returns the text content of an HTML fragment.
// Script and style bodies are dropped. Plain text passes through unchanged.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}

	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	skip := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return b.String()
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				if tt == html.StartTagToken {
					skip++
				}
			case "br", "p", "div", "li", "h1", "h2", "h3", "h4":
				b.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				if skip > 0 {
					skip--
				}
			case "p", "div", "li", "h1", "h2", "h3", "h4":
				b.WriteByte(' ')
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

// CollapseSpace trims s and replaces every whitespace run with one space
func CollapseSpace(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// StripMarkdown removes link, bold and italic markup, keeping the text
func StripMarkdown(s string) string {
	s = markdownLinkRe.ReplaceAllString(s, "$1")
	s = boldRe.ReplaceAllString(s, "$1")
	s = italicRe.ReplaceAllString(s, "$1")
	return strings.ReplaceAll(s, `\`, "")
}

// CleanText strips HTML and markdown and collapses whitespace
func CleanText(s string) string {
	return CollapseSpace(StripMarkdown(StripHTML(s)))
}

// Truncate keeps at most max bytes of s, preferring a sentence end in the
// last 50 bytes, then a word boundary. Word and hard cuts get a "..." suffix.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}

	end := max
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	cut := s[:end]

	if p := strings.LastIndex(cut, "."); p >= 0 && p > max-50 {
		return cut[:p+1]
	}
	if sp := strings.LastIndex(cut, " "); sp >= 0 && sp > max-20 {
		return cut[:sp] + "..."
	}
	return cut + "..."
}
