// Package editor scores structure plans and chapter drafts against the
// narrative setup, returning structured approval status and feedback for
// the revise loop.
package editor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dotcommander/novelist/internal/agent"
	"github.com/dotcommander/novelist/internal/novel"
	"github.com/dotcommander/novelist/internal/text"
	"github.com/dotcommander/novelist/pkg/llmjson"
)

const (
	StatusApproved      = "approved"
	StatusNeedsRevision = "needs_revision"
)

// neutralScore is substituted when a review response cannot be parsed, so
// the pipeline keeps moving instead of halting on a malformed reply.
const neutralScore = 7.0

// Review is the outcome of one editorial pass.
type Review struct {
	Scores       []float64
	AverageScore float64
	Suggestions  []string
	Status       string
	Feedback     string
}

// Approved reports whether the editor accepted the work as-is.
func (r Review) Approved() bool {
	return r.Status == StatusApproved
}

// Config bounds review calls.
type Config struct {
	Model          string
	Temperature    float32
	MaxTokens      int
	MaxReviewChars int
}

// Editor runs setup-grounded reviews through the generation service.
type Editor struct {
	client agent.Generator
	cfg    Config
	setup  *novel.Setup
	logger *slog.Logger
}

func New(client agent.Generator, cfg Config, setup *novel.Setup) *Editor {
	return &Editor{
		client: client,
		cfg:    cfg,
		setup:  setup,
		logger: slog.Default().With("component", "editor"),
	}
}

type reviewPayload struct {
	Scores      map[string]float64 `json:"scores"`
	Suggestions []string           `json:"suggestions"`
	Status      string             `json:"status"`
	Feedback    string             `json:"feedback"`
}

// ReviewStructure scores a whole chapter plan before any prose exists.
func (e *Editor) ReviewStructure(ctx context.Context, chapters []novel.Chapter) (Review, error) {
	e.logger.Info("reviewing chapter structure", "chapters", len(chapters))

	var lines []string
	for _, ch := range chapters {
		lines = append(lines, fmt.Sprintf("Chapter %d: %s - %s", ch.Number, ch.Title, ch.Outline))
	}

	prompt := fmt.Sprintf(`Review the proposed chapter structure.

Original setup:
%s

Proposed structure:
%s

Respond in JSON:
{
  "scores": {"story_flow": 8, "pacing": 7, "character_development": 9, "consistency": 8},
  "suggestions": ["suggestion"],
  "status": "%s" or "%s",
  "feedback": "overall feedback as one string"
}`, e.setup.FormatForPrompt(), strings.Join(lines, "\n"), StatusApproved, StatusNeedsRevision)

	response, err := e.client.Generate(ctx, agent.GenerateRequest{
		Model:       e.cfg.Model,
		Prompt:      prompt,
		System:      "You are an experienced book editor. Respond strictly in JSON.",
		Temperature: e.cfg.Temperature,
		ForceJSON:   true,
		MaxTokens:   e.cfg.MaxTokens,
	})
	if err != nil {
		return Review{}, fmt.Errorf("structure review: %w", err)
	}

	review := e.parseReview(response, "")
	e.logger.Info("structure review complete",
		"average_score", review.AverageScore,
		"status", review.Status)
	return review, nil
}

// ReviewContent scores one chapter draft. Both memory tiers are supplied so
// feedback can flag continuity breaks - repetition, register drift,
// contradicted plot facts - which compound across chapters if uncaught.
func (e *Editor) ReviewContent(ctx context.Context, ch *novel.Chapter, contextBlock, shortTermMemory, longTermMemory string, minWords, maxWords int) (Review, error) {
	e.logger.Info("reviewing chapter content",
		"chapter", ch.Number,
		"word_count", ch.WordCount)

	sample := text.SampleMiddle(ch.Content, e.cfg.MaxReviewChars)

	stmSection := ""
	if shortTermMemory != "" {
		stmSection = fmt.Sprintf("\n--- Short-term memory (recent chapter text) ---\n%s\n", shortTermMemory)
	}
	ltmSection := ""
	if longTermMemory != "" {
		ltmSection = fmt.Sprintf("\n%s\n", longTermMemory)
	}

	prompt := fmt.Sprintf(`%s

%s
%s%s
Chapter %d: %s (%d words, target %d-%d)

Content (sample):
%s

Review focus:
1. Repetition: no sentence structures, scenes, or situations recycled from the short-term memory above.
2. Style consistency: narration, tense, and register must match both this chapter and the previous ones.
3. Plot consistency: nothing may contradict the character development or plot threads in long-term memory, and resolved plots must not reopen.
4. Length balance: the content must justify its word count against the target.

Respond in JSON:
{
  "scores": {"style": 8, "continuity": 7, "characters": 9, "plot": 8, "length_balance": 7},
  "feedback": "problems and improvements as one string",
  "status": "%s" or "%s"
}`, e.setup.FormatForPrompt(), contextBlock, stmSection, ltmSection,
		ch.Number, ch.Title, ch.WordCount, minWords, maxWords, sample,
		StatusApproved, StatusNeedsRevision)

	response, err := e.client.Generate(ctx, agent.GenerateRequest{
		Model:       e.cfg.Model,
		Prompt:      prompt,
		System:      "You are a novel editor. Respond strictly in JSON.",
		Temperature: e.cfg.Temperature,
		ForceJSON:   true,
		MaxTokens:   e.cfg.MaxTokens,
	})
	if err != nil {
		return Review{}, fmt.Errorf("content review: %w", err)
	}

	lengthNote := ""
	if ch.WordCount < minWords {
		lengthNote = fmt.Sprintf(" [length short: %d/%d words]", ch.WordCount, minWords)
	} else if ch.WordCount > maxWords {
		lengthNote = fmt.Sprintf(" [length over: %d/%d words]", ch.WordCount, maxWords)
	}

	review := e.parseReview(response, lengthNote)
	e.logger.Info("content review complete",
		"chapter", ch.Number,
		"average_score", review.AverageScore,
		"status", review.Status)
	return review, nil
}

// parseReview decodes the editorial response, substituting a neutral
// needs-revision review when the response is malformed.
func (e *Editor) parseReview(response, lengthNote string) Review {
	result := llmjson.Decode[reviewPayload](response)
	if !result.Ok {
		e.logger.Warn("review response malformed, substituting neutral review",
			"response_length", len(response))
		return Review{
			Scores:       []float64{neutralScore},
			AverageScore: neutralScore,
			Status:       StatusNeedsRevision,
			Feedback:     "Review response could not be parsed." + lengthNote,
		}
	}

	payload := result.Value

	var scores []float64
	sum := 0.0
	for _, score := range payload.Scores {
		scores = append(scores, score)
		sum += score
	}
	avg := 0.0
	if len(scores) > 0 {
		avg = sum / float64(len(scores))
	}

	status := payload.Status
	if status != StatusApproved {
		status = StatusNeedsRevision
	}

	feedback := payload.Feedback
	if feedback == "" {
		feedback = "No feedback."
	}

	return Review{
		Scores:       scores,
		AverageScore: avg,
		Suggestions:  payload.Suggestions,
		Status:       status,
		Feedback:     feedback + lengthNote,
	}
}
