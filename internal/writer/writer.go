// Package writer generates and revises chapter prose. It owns the draft
// retry loop and the post-processing pipeline that turns raw model output
// into clean prose.
package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dotcommander/novelist/internal/agent"
	"github.com/dotcommander/novelist/internal/novel"
	"github.com/dotcommander/novelist/internal/text"
	"github.com/dotcommander/novelist/pkg/llmjson"
)

const (
	// maxRedrafts bounds the fresh-draft retries after a too-short draft.
	maxRedrafts = 2
	// minViableFraction of minWords a draft must reach to be accepted
	// without a redraft.
	minViableFraction = 0.3
	// tokensPerWord is the empirical token budget multiplier.
	tokensPerWord = 1.5

	// Deviation bounds beyond which a revision becomes a full rewrite
	// instead of a targeted edit.
	rewriteBelowFraction = 0.8
	rewriteAboveFraction = 1.2

	rewriteSampleChars = 2000
	editSampleChars    = 3000
)

// Config bounds generation calls.
type Config struct {
	Model               string
	Temperature         float32
	MaxGenerationTokens int
}

// DraftInput is everything a chapter draft is composed from.
type DraftInput struct {
	Context         string
	ShortTermMemory string
	LongTermMemory  string
	MinWords        int
	MaxWords        int
	// NextOutline is the following chapter's outline; empty means this is
	// the final chapter.
	NextOutline string
}

// Writer drafts and revises chapters through the generation service.
type Writer struct {
	client       agent.Generator
	cfg          Config
	setup        *novel.Setup
	redraftDelay time.Duration
	logger       *slog.Logger
}

type Option func(*Writer)

// WithRedraftDelay overrides the pause between redraft attempts.
func WithRedraftDelay(d time.Duration) Option {
	return func(w *Writer) {
		w.redraftDelay = d
	}
}

func New(client agent.Generator, cfg Config, setup *novel.Setup, opts ...Option) *Writer {
	w := &Writer{
		client:       client,
		cfg:          cfg,
		setup:        setup,
		redraftDelay: 2 * time.Second,
		logger:       slog.Default().With("component", "writer"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WriteChapter drafts the chapter. Drafts that come back empty or far below
// the minimum length are redrafted from scratch up to maxRedrafts times;
// the last result is accepted regardless, because partial content beats
// terminating the run. Sets ch.WordCount as a side effect.
func (w *Writer) WriteChapter(ctx context.Context, ch *novel.Chapter, in DraftInput) (string, error) {
	w.logger.Info("drafting chapter",
		"chapter", ch.Number,
		"min_words", in.MinWords,
		"max_words", in.MaxWords)

	prompt := w.buildDraftPrompt(ch, in)

	var content string
	for attempt := 0; attempt <= maxRedrafts; attempt++ {
		if attempt > 0 {
			w.logger.Warn("draft too short, redrafting",
				"chapter", ch.Number,
				"attempt", attempt,
				"word_count", text.CountWords(content))
			select {
			case <-time.After(w.redraftDelay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		raw, err := w.client.Generate(ctx, agent.GenerateRequest{
			Model:       w.cfg.Model,
			Prompt:      prompt,
			System:      w.systemPrompt(),
			Temperature: w.cfg.Temperature,
			MaxTokens:   w.tokenBudget(in.MaxWords),
		})
		if err != nil {
			return "", fmt.Errorf("drafting chapter %d: %w", ch.Number, err)
		}

		content = postProcess(raw)
		if validDraft(content, in.MinWords) {
			break
		}
	}

	ch.WordCount = text.CountWords(content)
	w.logger.Info("draft complete",
		"chapter", ch.Number,
		"word_count", ch.WordCount,
		"target", fmt.Sprintf("%d-%d", in.MinWords, in.MaxWords))
	return content, nil
}

// RefineChapter revises a chapter against editorial feedback. A word count
// outside 80%-120% of the target range forces a full rewrite; otherwise the
// edit is targeted and preserves length. Sets ch.WordCount as a side effect.
func (w *Writer) RefineChapter(ctx context.Context, ch *novel.Chapter, feedback string, minWords, maxWords int) (string, error) {
	full := NeedsFullRewrite(ch.WordCount, minWords, maxWords)

	var prompt string
	var maxTokens int
	if full {
		w.logger.Info("refining chapter with full rewrite",
			"chapter", ch.Number,
			"word_count", ch.WordCount,
			"target", fmt.Sprintf("%d-%d", minWords, maxWords))
		prompt = fmt.Sprintf(`Rewrite the following chapter to fit the word budget.

Original (sample):
%s

Feedback: %s

Requirements:
1. %d-%d words.
2. A complete narrative without repetition.
3. Style: %s

Output format:
- No preamble, meta commentary, or JSON.
- Write only the full body of chapter %d from start to finish.

Rewritten chapter:`,
			text.SampleMiddle(ch.Content, rewriteSampleChars), feedback,
			minWords, maxWords, w.setup.WritingStyle, ch.Number)
		maxTokens = w.tokenBudget(maxWords)
	} else {
		w.logger.Info("refining chapter with targeted edit",
			"chapter", ch.Number,
			"word_count", ch.WordCount)
		prompt = fmt.Sprintf(`Revise the following chapter according to the feedback.

Original:
%s

Feedback: %s

Requirements:
1. Keep the current length; improve the quality.
2. Style: %s

Output format:
- No preamble or JSON, body text only.

Revised chapter:`,
			text.SampleMiddle(ch.Content, editSampleChars), feedback, w.setup.WritingStyle)
		maxTokens = w.tokenBudget(ch.WordCount)
	}

	raw, err := w.client.Generate(ctx, agent.GenerateRequest{
		Model:       w.cfg.Model,
		Prompt:      prompt,
		System:      w.systemPrompt(),
		Temperature: w.cfg.Temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("refining chapter %d: %w", ch.Number, err)
	}

	refined := postProcess(raw)
	previous := ch.WordCount
	ch.WordCount = text.CountWords(refined)
	w.logger.Info("refinement complete",
		"chapter", ch.Number,
		"word_count", fmt.Sprintf("%d -> %d", previous, ch.WordCount),
		"full_rewrite", full)
	return refined, nil
}

// RefineStructure rewrites the chapter plan according to structure-review
// feedback. A malformed response leaves the plan unchanged.
func (w *Writer) RefineStructure(ctx context.Context, chapters []novel.Chapter, feedback string, suggestions []string) ([]novel.Chapter, error) {
	w.logger.Info("refining chapter structure", "chapters", len(chapters))

	type chapterPlan struct {
		Number  int    `json:"number"`
		Title   string `json:"title"`
		Outline string `json:"outline"`
	}
	current := make([]chapterPlan, len(chapters))
	for i, ch := range chapters {
		current[i] = chapterPlan{Number: ch.Number, Title: ch.Title, Outline: ch.Outline}
	}
	currentJSON, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return chapters, fmt.Errorf("encoding current structure: %w", err)
	}

	suggestionText := ""
	for _, s := range suggestions {
		suggestionText += "- " + s + "\n"
	}

	prompt := fmt.Sprintf(`Revise the chapter structure according to the feedback.

Current structure:
%s

Feedback: %s

Suggestions:
%s
Respond in JSON:
{
  "chapters": [
    {"number": 1, "title": "title", "outline": "2-3 sentence outline"}
  ]
}`, currentJSON, feedback, suggestionText)

	response, err := w.client.Generate(ctx, agent.GenerateRequest{
		Model:       w.cfg.Model,
		Prompt:      prompt,
		System:      "You are a creative novelist. Respond in JSON.",
		Temperature: w.cfg.Temperature,
		ForceJSON:   true,
	})
	if err != nil {
		return chapters, fmt.Errorf("refining structure: %w", err)
	}

	result := llmjson.Decode[struct {
		Chapters []chapterPlan `json:"chapters"`
	}](response)
	if !result.Ok || len(result.Value.Chapters) == 0 {
		w.logger.Warn("structure refinement response unusable, keeping original plan")
		return chapters, nil
	}

	refined := make([]novel.Chapter, 0, len(result.Value.Chapters))
	for _, plan := range result.Value.Chapters {
		refined = append(refined, novel.Chapter{
			Number:  plan.Number,
			Title:   plan.Title,
			Outline: plan.Outline,
		})
	}
	w.logger.Info("structure refinement complete", "chapters", len(refined))
	return refined, nil
}

// NeedsFullRewrite reports whether the word count deviates enough from the
// target range to warrant rewriting instead of editing.
func NeedsFullRewrite(wordCount, minWords, maxWords int) bool {
	return float64(wordCount) < float64(minWords)*rewriteBelowFraction ||
		float64(wordCount) > float64(maxWords)*rewriteAboveFraction
}

func (w *Writer) systemPrompt() string {
	return fmt.Sprintf("You are a novelist writing in this style: %s", w.setup.WritingStyle)
}

func (w *Writer) tokenBudget(words int) int {
	budget := int(float64(words) * tokensPerWord)
	if w.cfg.MaxGenerationTokens > 0 && budget > w.cfg.MaxGenerationTokens {
		budget = w.cfg.MaxGenerationTokens
	}
	return budget
}

func (w *Writer) buildDraftPrompt(ch *novel.Chapter, in DraftInput) string {
	nextChapterLine := "This is the final chapter."
	if in.NextOutline != "" {
		nextChapterLine = fmt.Sprintf("Next chapter (%d) outline: %s", ch.Number+1, in.NextOutline)
	}

	stmSection := ""
	if in.ShortTermMemory != "" {
		stmSection = "\n" + in.ShortTermMemory + "\n"
	}
	ltmSection := ""
	if in.LongTermMemory != "" {
		ltmSection = "\n" + in.LongTermMemory + "\n"
	}

	return fmt.Sprintf(`%s

--- Context ---
%s
---
%s%s
--- Current chapter assignment ---
- Number: %d/%d
- Title: %s
- Outline: %s
- %s

Requirements:
1. Length: %d-%d words.
2. Style: follow the style directives and the style example above.
3. Follow this chapter's outline faithfully and close on a thread leading naturally into the next chapter's outline.
4. Keep characters and setting consistent and reflect the plot progression.
5. Write real narrative with complete scenes and dialogue.
6. If short-term memory is present, match its register and avoid repeating its sentences.
7. Respect the world rules above.

Output format:
- Do not use JSON.
- Write the chapter body directly, with no preamble or meta commentary.
- Provide only the final prose; never include reasoning, steps, or notes.

Full text of chapter %d:`,
		w.setup.FormatForPrompt(), in.Context, stmSection, ltmSection,
		ch.Number, w.setup.TargetChapters, ch.Title, ch.Outline, nextChapterLine,
		in.MinWords, in.MaxWords, ch.Number)
}

// postProcess is the shared cleanup pipeline for drafts and revisions:
// strip reasoning decoration, unwrap an accidental JSON envelope, collapse
// duplicated lines.
func postProcess(raw string) string {
	cleaned := text.StripReasoning(raw)
	cleaned = text.UnwrapJSONEnvelope(cleaned)
	return text.CollapseDuplicateLines(cleaned)
}

func validDraft(content string, minWords int) bool {
	if content == "" {
		return false
	}
	return float64(text.CountWords(content)) >= float64(minWords)*minViableFraction
}
