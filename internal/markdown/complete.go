// Package markdown contains the pure text functions of the rendering
// pipeline: a delimiter-balance check deciding whether accumulated model
// output is safe to flush, and an escaper that rewrites raw output into the
// transport's strict MarkdownV2 dialect.
package markdown

import "strings"

// Complete reports whether every delimiter class in text is balanced:
// code fences (```), inline code marks (`) and bold marks (**) must each
// occur an even number of times.
//
// This is a necessary, not sufficient, well-formedness check. Nesting and
// ordering are not verified, so text can count as complete while still
// rendering oddly; the escaper is expected to be robust to that.
func Complete(text string) bool {
	if strings.Count(text, "```")%2 != 0 {
		return false
	}
	if strings.Count(text, "`")%2 != 0 {
		return false
	}
	if strings.Count(text, "**")%2 != 0 {
		return false
	}
	return true
}
