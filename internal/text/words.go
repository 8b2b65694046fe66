package text

import "regexp"

var (
	hangulRuns = regexp.MustCompile(`[가-힣]+`)
	latinRuns  = regexp.MustCompile(`[a-zA-Z]+`)
)

// CountWords counts words in mixed Korean/English prose. Hangul is counted
// per syllable block, Latin text per whitespace-delimited run, so a sentence
// mixing both scripts yields a stable target-length metric.
func CountWords(s string) int {
	count := 0
	for _, run := range hangulRuns.FindAllString(s, -1) {
		count += len([]rune(run))
	}
	count += len(latinRuns.FindAllString(s, -1))
	return count
}
