// Package structure plans the book as a numbered chapter list before any
// prose is written.
package structure

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/dotcommander/novelist/internal/agent"
	"github.com/dotcommander/novelist/internal/novel"
	"github.com/dotcommander/novelist/pkg/llmjson"
)

// Config bounds the planning call.
type Config struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

// Generator produces the initial chapter plan. Unlike the prose phases this
// is a fatal path: without a plan there is nothing to write, so a malformed
// response is returned as an error instead of being papered over.
type Generator struct {
	client agent.Generator
	cfg    Config
	setup  *novel.Setup
	logger *slog.Logger
}

func New(client agent.Generator, cfg Config, setup *novel.Setup) *Generator {
	return &Generator{
		client: client,
		cfg:    cfg,
		setup:  setup,
		logger: slog.Default().With("component", "structure_generator"),
	}
}

// Generate asks for a complete chapter plan covering the target chapter
// count. Chapters come back sorted by number.
func (g *Generator) Generate(ctx context.Context) ([]novel.Chapter, error) {
	g.logger.Info("generating chapter structure", "target_chapters", g.setup.TargetChapters)

	prompt := fmt.Sprintf(`%s

Design the complete chapter structure for this novel.

Requirements:
1. Exactly %d chapters.
2. Each chapter gets a title and a 2-3 sentence outline.
3. The outlines together must form one coherent arc: setup, rising action, climax, resolution.
4. Seed threads early that pay off in later chapters.

Respond in JSON:
{
  "chapters": [
    {"number": 1, "title": "title", "outline": "2-3 sentence outline"}
  ]
}`, g.setup.FormatForPrompt(), g.setup.TargetChapters)

	response, err := g.client.Generate(ctx, agent.GenerateRequest{
		Model:       g.cfg.Model,
		Prompt:      prompt,
		System:      "You are a novelist planning a book. Respond in JSON.",
		Temperature: g.cfg.Temperature,
		ForceJSON:   true,
		MaxTokens:   g.cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("generating structure: %w", err)
	}

	type chapterPlan struct {
		Number  int    `json:"number"`
		Title   string `json:"title"`
		Outline string `json:"outline"`
	}
	result := llmjson.Decode[struct {
		Chapters []chapterPlan `json:"chapters"`
	}](response)
	if !result.Ok {
		return nil, fmt.Errorf("structure response is not valid JSON: %.200s", result.Raw)
	}
	if len(result.Value.Chapters) == 0 {
		return nil, fmt.Errorf("structure response contains no chapters")
	}

	chapters := make([]novel.Chapter, 0, len(result.Value.Chapters))
	for _, plan := range result.Value.Chapters {
		chapters = append(chapters, novel.Chapter{
			Number:  plan.Number,
			Title:   plan.Title,
			Outline: plan.Outline,
		})
	}
	sort.Slice(chapters, func(i, j int) bool { return chapters[i].Number < chapters[j].Number })

	g.logger.Info("structure generated", "chapters", len(chapters))
	return chapters, nil
}
