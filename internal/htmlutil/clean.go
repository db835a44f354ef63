package htmlutil

import (
	"strings"

	"github.com/k3a/html2text"
)

// ToText converts HTML to plain text using a proper HTML parser.
// Handles entities, strips tags, and preserves readable text.
func ToText(s string) string {
	return html2text.HTML2Text(s)
}

// LooksLikeHTML reports whether a response body is an HTML document
// (typically an error page from a proxy or gateway).
func LooksLikeHTML(contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "text/html") {
		return true
	}
	head := strings.ToLower(strings.TrimSpace(string(body[:min(len(body), 64)])))
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}

// ErrorText flattens an HTML error body to a single trimmed line,
// truncated to max runes.
func ErrorText(body []byte, max int) string {
	text := strings.Join(strings.Fields(ToText(string(body))), " ")
	if r := []rune(text); max > 0 && len(r) > max {
		return string(r[:max]) + "..."
	}
	return text
}
