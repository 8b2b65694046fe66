package novel

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

const outlineDetailLimit = 100

// Ledger holds the ordered chapter list for a run and derives the context
// windows the prompts are built from. Chapters are unique by number and kept
// sorted; once the structure is generated no chapter is ever removed, only
// its content fields mutate.
type Ledger struct {
	chapters []*Chapter
	logger   *slog.Logger
}

func NewLedger() *Ledger {
	return &Ledger{
		logger: slog.Default().With("component", "ledger"),
	}
}

// SetChapters replaces the ledger contents, re-sorted by number. Called once
// at structure-generation time (or on resume from a snapshot).
func (l *Ledger) SetChapters(chapters []Chapter) {
	l.chapters = make([]*Chapter, len(chapters))
	for i := range chapters {
		ch := chapters[i]
		l.chapters[i] = &ch
	}
	sort.Slice(l.chapters, func(i, j int) bool {
		return l.chapters[i].Number < l.chapters[j].Number
	})
}

// Get returns the chapter with the given number. Linear scan: books have
// tens of chapters, not thousands.
func (l *Ledger) Get(number int) (*Chapter, bool) {
	for _, ch := range l.chapters {
		if ch.Number == number {
			return ch, true
		}
	}
	return nil, false
}

// Chapters returns the ledger contents in order. Callers must not reorder.
func (l *Ledger) Chapters() []*Chapter {
	return l.chapters
}

func (l *Ledger) Len() int {
	return len(l.chapters)
}

// RecentWindow returns up to count chapters strictly before current, in
// ledger order. Empty for the first chapter.
func (l *Ledger) RecentWindow(current, count int) []*Chapter {
	end := -1
	for i, ch := range l.chapters {
		if ch.Number == current {
			end = i
			break
		}
	}
	if end <= 0 {
		return nil
	}
	start := end - count
	if start < 0 {
		start = 0
	}
	return l.chapters[start:end]
}

// Completed returns the chapters that have content.
func (l *Ledger) Completed() []*Chapter {
	var done []*Chapter
	for _, ch := range l.chapters {
		if ch.Complete() {
			done = append(done, ch)
		}
	}
	return done
}

// ShortTermMemory concatenates the full content of up to windowChapters
// chapters immediately preceding current, each tagged with its number and
// title. Chapters without content are skipped. When the result exceeds
// maxChars it is right-truncated - the most recent prose matters most for
// duplicate avoidance - and the truncation is flagged in the output.
func (l *Ledger) ShortTermMemory(current, windowChapters, maxChars int) string {
	window := l.RecentWindow(current, windowChapters)
	if len(window) == 0 {
		return ""
	}

	parts := []string{"=== Short-term memory (recent chapter text, avoid repeating) ==="}
	found := false
	for _, ch := range window {
		if strings.TrimSpace(ch.Content) == "" {
			continue
		}
		found = true
		parts = append(parts, fmt.Sprintf("\n[Chapter %d: %s]", ch.Number, ch.Title))
		parts = append(parts, ch.Content)
	}
	if !found {
		return ""
	}

	full := strings.Join(parts, "\n")
	if runes := []rune(full); maxChars > 0 && len(runes) > maxChars {
		l.logger.Debug("short-term memory truncated",
			"chapter", current,
			"full_chars", len(runes),
			"max_chars", maxChars)
		tail := string(runes[len(runes)-maxChars:])
		return fmt.Sprintf("=== Short-term memory (last %d chars) ===\n[...earlier text omitted...]\n%s", maxChars, tail)
	}
	return full
}

// OutlineMap renders one line per chapter across the whole book, marking the
// current position. Finished chapters show a truncated summary (or outline),
// pending ones their raw outline. Always the full ledger: this is the map
// that keeps very long books from losing the plot.
func (l *Ledger) OutlineMap(current int) string {
	parts := []string{"\n--- Book outline (current position: >) ---"}
	for _, ch := range l.chapters {
		marker := " "
		if ch.Number == current {
			marker = ">"
		}

		var status, details string
		if ch.Complete() {
			status = "(complete)"
			details = ch.Summary
			if details == "" {
				details = ch.Outline
			}
			if runes := []rune(details); len(runes) > outlineDetailLimit {
				details = string(runes[:outlineDetailLimit]) + "..."
			}
		} else {
			status = "(pending)"
			details = ch.Outline
		}

		parts = append(parts, fmt.Sprintf(" %s Ch%d '%s' %s: %s", marker, ch.Number, ch.Title, status, details))
	}
	return strings.Join(parts, "\n")
}

// RemainingOutline concatenates the outlines of chapters strictly after the
// given number. Used by memory compaction, which must only look forward.
func (l *Ledger) RemainingOutline(after int) string {
	var parts []string
	for _, ch := range l.chapters {
		if ch.Number > after {
			parts = append(parts, fmt.Sprintf("Chapter %d: %s - %s", ch.Number, ch.Title, ch.Outline))
		}
	}
	if len(parts) == 0 {
		return "No chapters remain (final chapter complete)."
	}
	return strings.Join(parts, "\n")
}

// AverageWordCount returns the mean word count of completed chapters
// strictly before the given number, and false when none exist.
func (l *Ledger) AverageWordCount(before int) (float64, bool) {
	sum, n := 0, 0
	for _, ch := range l.chapters {
		if ch.Number < before && ch.WordCount > 0 {
			sum += ch.WordCount
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return float64(sum) / float64(n), true
}

// LengthReport summarizes word-count balance across completed chapters.
func (l *Ledger) LengthReport() string {
	var counts []int
	for _, ch := range l.chapters {
		if ch.WordCount > 0 {
			counts = append(counts, ch.WordCount)
		}
	}
	if len(counts) == 0 {
		return "no completed chapters"
	}

	sum := 0
	for _, c := range counts {
		sum += c
	}
	avg := float64(sum) / float64(len(counts))

	var b strings.Builder
	fmt.Fprintf(&b, "average %.0f words across %d chapters\n", avg, len(counts))
	for _, ch := range l.chapters {
		if ch.WordCount == 0 {
			continue
		}
		diff := float64(ch.WordCount) - avg
		flag := "ok"
		if diff > avg*0.2 || diff < -avg*0.2 {
			flag = "imbalanced"
		}
		fmt.Fprintf(&b, "  Ch%d: %d words (%+.0f, %s)\n", ch.Number, ch.WordCount, diff, flag)
	}
	return b.String()
}
