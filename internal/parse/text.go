package parse

import (
	"html"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	whitespaceRe   = regexp.MustCompile(`\s+`)
	scriptRe       = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`)
	styleRe        = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style>`)
	eventAttrRe    = regexp.MustCompile(`(?i)\son\w+\s*=\s*("[^"]*"|'[^']*'|[^\s>]+)`)
	jsHrefRe       = regexp.MustCompile(`(?i)(href|src)\s*=\s*("javascript:[^"]*"|'javascript:[^']*')`)
	nonPrintableRe = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
)

// NormalizeText decodes entities, applies unicode NFKD normalization,
// and collapses whitespace runs to single spaces.
func NormalizeText(s string) string {
	s = html.UnescapeString(s)
	s = norm.NFKD.String(s)
	s = nonPrintableRe.ReplaceAllString(s, " ")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// SanitizeHTML strips active content before raw HTML is persisted:
// script and style blocks, inline event handlers, and javascript: URLs.
func SanitizeHTML(s string) string {
	s = scriptRe.ReplaceAllString(s, "")
	s = styleRe.ReplaceAllString(s, "")
	s = eventAttrRe.ReplaceAllString(s, "")
	s = jsHrefRe.ReplaceAllString(s, `$1="#"`)
	return s
}
