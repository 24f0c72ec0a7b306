package fetch

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractText parses an HTML fragment and returns its visible text.
// Script and style elements are dropped.
func ExtractText(html string) (string, error) {
	if strings.TrimSpace(html) == "" {
		return "", nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("script, style, noscript").Remove()

	return cleanWhitespace(doc.Text()), nil
}

// StripHTML is ExtractText that falls back to the input on parse errors.
func StripHTML(html string) string {
	text, err := ExtractText(html)
	if err != nil {
		return cleanWhitespace(html)
	}
	return text
}

// cleanWhitespace collapses runs of whitespace into single spaces.
func cleanWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
