package render

import (
	"regexp"
	"strings"
)

const transparentOverride = "html, body { background: transparent !important; }"

var (
	headOpenRe = regexp.MustCompile(`(?i)<head(\s[^>]*)?>`)
	headEndRe  = regexp.MustCompile(`(?i)</head\s*>`)
	htmlOpenRe = regexp.MustCompile(`(?i)<html(\s[^>]*)?>`)
)

// BuildDocument turns caller markup into a complete HTML document with the
// style block injected. Bare fragments are wrapped in a minimal HTML5 shell;
// full documents keep their structure and receive the block inside <head>.
func BuildDocument(html, css string, transparent bool) string {
	style := styleBlock(css, transparent)
	lower := strings.ToLower(html)
	if !strings.Contains(lower, "<html") && !strings.Contains(lower, "<!doctype") {
		var b strings.Builder
		b.Grow(len(html) + len(style) + 256)
		b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
		b.WriteString(`<meta charset="UTF-8">` + "\n")
		b.WriteString(`<meta name="viewport" content="width=device-width, initial-scale=1.0">` + "\n")
		b.WriteString(style)
		b.WriteString("\n</head>\n<body style=\"margin: 0; padding: 0;\">\n")
		b.WriteString(html)
		b.WriteString("\n</body>\n</html>")
		return b.String()
	}
	if style == "" {
		return html
	}

	if loc := headEndRe.FindStringIndex(html); loc != nil {
		return html[:loc[0]] + style + html[loc[0]:]
	}
	if loc := headOpenRe.FindStringIndex(html); loc != nil {
		return html[:loc[1]] + style + html[loc[1]:]
	}
	if loc := htmlOpenRe.FindStringIndex(html); loc != nil {
		return html[:loc[1]] + "<head>" + style + "</head>" + html[loc[1]:]
	}
	// Doctype without an <html> element; the parser still creates a head.
	return style + html
}

func styleBlock(css string, transparent bool) string {
	if strings.TrimSpace(css) == "" && !transparent {
		return ""
	}
	var b strings.Builder
	b.WriteString("<style>")
	b.WriteString(css)
	if transparent {
		if css != "" {
			b.WriteString("\n")
		}
		b.WriteString(transparentOverride)
	}
	b.WriteString("</style>")
	return b.String()
}
