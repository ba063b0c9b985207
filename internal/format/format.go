// Package format turns model output into Telegram-safe HTML.
//
// Only one markdown construct is honored: **bold** spans become <b>…</b>.
// Everything else, including text inside a span, is HTML-escaped, so the
// result never carries markup that came from the (untrusted) input.
package format

import (
	"html"
	"regexp"
	"strings"
)

// boldRE matches a **span** non-greedily; spans may cross newlines.
var boldRE = regexp.MustCompile(`(?s)\*\*(.+?)\*\*`)

// Render escapes raw and wraps each **span** in <b> tags. Spans are taken
// left to right and do not nest; an unmatched ** stays as literal text.
//
// Render is not idempotent: apply it exactly once to each raw message.
func Render(raw string) string {
	if raw == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(raw) + 16)
	last := 0
	for _, m := range boldRE.FindAllStringSubmatchIndex(raw, -1) {
		b.WriteString(Escape(raw[last:m[0]]))
		b.WriteString("<b>")
		b.WriteString(Escape(raw[m[2]:m[3]]))
		b.WriteString("</b>")
		last = m[1]
	}
	b.WriteString(Escape(raw[last:]))
	return b.String()
}

// Escape replaces the HTML-reserved characters <, >, &, ' and ".
func Escape(s string) string {
	return html.EscapeString(s)
}
