// Package summarizer distills a finished chapter into the structured record
// the memory store accumulates.
package summarizer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dotcommander/novelist/internal/agent"
	"github.com/dotcommander/novelist/internal/memory"
	"github.com/dotcommander/novelist/internal/novel"
	"github.com/dotcommander/novelist/internal/text"
	"github.com/dotcommander/novelist/pkg/llmjson"
)

const summarySampleChars = 3000

// Config bounds the summary call.
type Config struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

// Summarizer extracts a summary, key events, character changes, and new
// world facts from a completed chapter.
type Summarizer struct {
	client agent.Generator
	cfg    Config
	logger *slog.Logger
}

func New(client agent.Generator, cfg Config) *Summarizer {
	return &Summarizer{
		client: client,
		cfg:    cfg,
		logger: slog.Default().With("component", "summarizer"),
	}
}

// Summarize never fails the chapter: on a request error or a malformed
// response it logs and returns a minimal stub record, because a thin memory
// entry is better than aborting the run after the prose already exists.
func (s *Summarizer) Summarize(ctx context.Context, ch *novel.Chapter) memory.SummaryRecord {
	s.logger.Info("summarizing chapter", "chapter", ch.Number)

	sample := text.SampleMiddle(ch.Content, summarySampleChars)
	prompt := fmt.Sprintf(`Summarize chapter %d "%s" for the novel's running memory.

Chapter text (sample):
%s

Respond in JSON:
{
  "summary": "2-3 sentence chapter summary",
  "key_events": ["plot-relevant event", "..."],
  "character_changes": {"name": "what changed for them"},
  "new_info": ["newly established world or plot fact", "..."]
}`, ch.Number, ch.Title, sample)

	response, err := s.client.Generate(ctx, agent.GenerateRequest{
		Model:       s.cfg.Model,
		Prompt:      prompt,
		System:      "You extract structured story memory. Respond in JSON.",
		Temperature: s.cfg.Temperature,
		ForceJSON:   true,
		MaxTokens:   s.cfg.MaxTokens,
	})
	if err != nil {
		s.logger.Warn("summary request failed, recording stub", "chapter", ch.Number, "error", err)
		return stubRecord(ch)
	}

	result := llmjson.Decode[memory.SummaryRecord](response)
	if !result.Ok {
		s.logger.Warn("summary response malformed, recording stub", "chapter", ch.Number)
		return stubRecord(ch)
	}
	if result.Value.Summary == "" {
		result.Value.Summary = stubRecord(ch).Summary
	}

	s.logger.Info("summary complete",
		"chapter", ch.Number,
		"key_events", len(result.Value.KeyEvents),
		"new_info", len(result.Value.NewInfo))
	return result.Value
}

func stubRecord(ch *novel.Chapter) memory.SummaryRecord {
	return memory.SummaryRecord{
		Summary: fmt.Sprintf("Chapter %d (%s) complete.", ch.Number, ch.Title),
	}
}
