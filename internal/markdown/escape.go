package markdown

import (
	"regexp"
	"strings"
)

var (
	// Reserved MarkdownV2 characters that must be backslash-escaped outside
	// code blocks and link structure.
	specialRE = regexp.MustCompile(`([_\[\]()~>#+\-=|{}.!\\])`)

	// Fenced code blocks pass through untouched.
	codeBlockRE = regexp.MustCompile("(?s)```.*?```")

	// Markdown links: [text](url). Bracket/paren structure is preserved,
	// only the inner text and URL are escaped.
	linkRE = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)

	headerRE = regexp.MustCompile(`(?m)^#+\s*(.*)$`)
	boldRE   = regexp.MustCompile(`\*\*(.*?)\*\*`)
	bulletRE = regexp.MustCompile(`(?m)^\* `)
)

// EscapeV2 rewrites raw generated text into the transport's MarkdownV2
// dialect. Code fences are left as-is, links keep their structure with
// escaped text and URL, and everywhere else headers become bold lines,
// **bold** becomes *bold*, leading "* " bullets become "- ", and reserved
// characters are escaped.
func EscapeV2(text string) string {
	var b strings.Builder
	last := 0
	for _, loc := range codeBlockRE.FindAllStringIndex(text, -1) {
		b.WriteString(escapeProse(text[last:loc[0]]))
		b.WriteString(text[loc[0]:loc[1]])
		last = loc[1]
	}
	b.WriteString(escapeProse(text[last:]))
	return b.String()
}

// escapeProse handles a segment outside code fences: links are kept intact,
// the rest is formatted and escaped.
func escapeProse(s string) string {
	var b strings.Builder
	last := 0
	for _, m := range linkRE.FindAllStringSubmatchIndex(s, -1) {
		b.WriteString(formatAndEscape(s[last:m[0]]))
		b.WriteString("[")
		b.WriteString(escapeSpecial(s[m[2]:m[3]]))
		b.WriteString("](")
		b.WriteString(escapeSpecial(s[m[4]:m[5]]))
		b.WriteString(")")
		last = m[1]
	}
	b.WriteString(formatAndEscape(s[last:]))
	return b.String()
}

// formatAndEscape applies MarkdownV2 formatting to plain prose: bullet
// normalization, header-to-bold conversion, double-to-single bold marks,
// then reserved-character escaping.
func formatAndEscape(s string) string {
	s = bulletRE.ReplaceAllString(s, "- ")
	s = headerRE.ReplaceAllStringFunc(s, func(line string) string {
		sub := headerRE.FindStringSubmatch(line)
		return "*" + strings.TrimSpace(sub[1]) + "*"
	})
	s = boldRE.ReplaceAllString(s, "*$1*")
	return escapeSpecial(s)
}

func escapeSpecial(s string) string {
	return specialRE.ReplaceAllString(s, `\$1`)
}
