package novel

import (
	"fmt"
	"regexp"
	"strings"
)

// styleTailChars is how much of the previous chapter's ending is quoted as a
// style reference.
const styleTailChars = 500

var newlineRuns = regexp.MustCompile(`\n+`)

// BuildContext composes the bounded context block for drafting a chapter.
//
// The section order is a contract, not a layout choice: the style tail must
// precede plot facts so the model weights recent prose style before plot
// constraints. Reordering is a behavioral regression.
func BuildContext(ch *Chapter, ledger *Ledger, memorySummary string, recentCount int) string {
	if ch.Number == 1 {
		return fmt.Sprintf("This is the first chapter of the novel.\n\nLong-term memory:\n%s", memorySummary)
	}

	var parts []string

	recent := ledger.RecentWindow(ch.Number, recentCount)
	if len(recent) > 0 {
		prev := recent[len(recent)-1]
		if prev.Content != "" {
			tail := newlineRuns.ReplaceAllString(strings.TrimSpace(prev.Content), "\n")
			if runes := []rune(tail); len(runes) > styleTailChars {
				tail = string(runes[len(runes)-styleTailChars:])
			}
			parts = append(parts, "--- Closing passage of the previous chapter (style reference) ---")
			parts = append(parts, fmt.Sprintf("[...%s]", tail))
		}
	}

	parts = append(parts, "\n--- Long-term memory (key plot and setting) ---")
	parts = append(parts, memorySummary)
	parts = append(parts, ledger.OutlineMap(ch.Number))

	return strings.Join(parts, "\n")
}
