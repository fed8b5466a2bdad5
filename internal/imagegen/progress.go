package imagegen

import (
	"fmt"
	"strings"
)

// progressBar renders the staged progress indicator: filled squares for
// completed steps, empty squares for the rest, and a percentage. step is
// clamped to [0, total].
func progressBar(step, total int) string {
	if step < 0 {
		step = 0
	}
	if step > total {
		step = total
	}
	var b strings.Builder
	b.WriteString(strings.Repeat("🟩", step))
	b.WriteString(strings.Repeat("⬜️", total-step))
	fmt.Fprintf(&b, " %d%%", step*100/total)
	return b.String()
}
