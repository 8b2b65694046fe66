package novel

import (
	"fmt"
	"strings"
)

// Character is a cast member supplied by the narrative setup.
type Character struct {
	Name        string `json:"name" yaml:"name" validate:"required"`
	Description string `json:"description" yaml:"description"`
}

// Setup is the immutable narrative brief for a run: what the book is about,
// how it should read, and how long it should be. Read-only once loaded.
type Setup struct {
	Synopsis              string      `json:"synopsis" yaml:"synopsis" validate:"required"`
	WritingStyle          string      `json:"writing_style" yaml:"writing_style" validate:"required"`
	StyleExample          string      `json:"style_example" yaml:"style_example"`
	Characters            []Character `json:"characters" yaml:"characters" validate:"required,min=1,dive"`
	WorldSetting          string      `json:"world_setting" yaml:"world_setting"`
	TargetChapters        int         `json:"target_chapters" yaml:"target_chapters" validate:"required,min=1,max=500"`
	TargetWordsPerChapter int         `json:"target_words_per_chapter" yaml:"target_words_per_chapter" validate:"required,min=50"`
	WordsTolerance        float64     `json:"words_tolerance" yaml:"words_tolerance" validate:"min=0,max=1"`

	ShortTermMemoryChapters int  `json:"short_term_memory_chapters" yaml:"short_term_memory_chapters" validate:"min=0"`
	ShortTermMemoryMaxChars int  `json:"short_term_memory_max_chars" yaml:"short_term_memory_max_chars" validate:"min=0"`
	EnableCompaction        bool `json:"enable_compaction" yaml:"enable_compaction"`
}

// TargetWordRange derives the acceptable per-chapter word range from the
// target and tolerance fraction.
func (s *Setup) TargetWordRange() (minWords, maxWords int) {
	minWords = int(float64(s.TargetWordsPerChapter) * (1 - s.WordsTolerance))
	maxWords = int(float64(s.TargetWordsPerChapter) * (1 + s.WordsTolerance))
	return minWords, maxWords
}

// FormatForPrompt renders the setup block shared by every generation prompt.
func (s *Setup) FormatForPrompt() string {
	var chars strings.Builder
	for _, c := range s.Characters {
		fmt.Fprintf(&chars, "- %s: %s\n", c.Name, c.Description)
	}
	return fmt.Sprintf(`Synopsis: %s
Style: %s
Style example: %s
Characters:
%sWorld: %s`, s.Synopsis, s.WritingStyle, s.StyleExample, chars.String(), s.WorldSetting)
}

// Chapter is one unit of the book. Content stays empty until drafted;
// Summary and KeyEvents stay empty until summarized.
type Chapter struct {
	Number    int      `json:"number"`
	Title     string   `json:"title"`
	Outline   string   `json:"outline"`
	Content   string   `json:"content"`
	Summary   string   `json:"summary"`
	KeyEvents []string `json:"key_events"`
	WordCount int      `json:"word_count"`
}

// Complete reports whether the chapter has been written. Completeness is
// always derived from content, never stored separately.
func (c *Chapter) Complete() bool {
	return c.Content != ""
}
