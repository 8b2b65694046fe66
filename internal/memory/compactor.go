package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/dotcommander/novelist/internal/agent"
	"github.com/dotcommander/novelist/internal/novel"
	"github.com/dotcommander/novelist/pkg/llmjson"
)

// CompactorConfig bounds the compaction pass.
type CompactorConfig struct {
	Model              string
	Temperature        float32
	MaxTokens          int
	Interval           int
	MaxCharacterEvents int
	MaxPlotThreads     int
}

// CompactionStats reports what a pass changed. Applied is false when the
// model response was unusable and memory was left alone.
type CompactionStats struct {
	Applied                bool
	CharacterEventsBefore  int
	CharacterEventsAfter   int
	PlotThreadsBefore      int
	PlotThreadsAfter       int
}

// Compactor periodically asks the generation service to prune and merge
// long-term facts against what the remaining outline still needs.
type Compactor struct {
	client agent.Generator
	cfg    CompactorConfig
	setup  *novel.Setup
	logger *slog.Logger
}

func NewCompactor(client agent.Generator, cfg CompactorConfig, setup *novel.Setup) *Compactor {
	return &Compactor{
		client: client,
		cfg:    cfg,
		setup:  setup,
		logger: slog.Default().With("component", "compactor"),
	}
}

// ShouldCompact reports whether a pass is due after completedChapters
// chapters. Chapters skipped on resume count too.
func (c *Compactor) ShouldCompact(completedChapters int) bool {
	if !c.setup.EnableCompaction || c.cfg.Interval <= 0 || completedChapters == 0 {
		return false
	}
	return completedChapters%c.cfg.Interval == 0
}

type compactionPayload struct {
	CharacterDevelopment map[string][]string `json:"character_development"`
	PlotThreads          map[string]string   `json:"plot_threads"`
	RemovedItems         struct {
		RemovedCharacterEvents []string `json:"removed_character_events"`
		RemovedPlotThreads     []string `json:"removed_plot_threads"`
		Reason                 string   `json:"reason"`
	} `json:"removed_items"`
}

// Compact rewrites the structured memory through the generation service.
// remainingOutline must cover only not-yet-written chapters: the compactor
// looks forward, never at the past, so it cannot prune facts the future
// outline still needs. A structurally invalid response leaves memory
// untouched.
func (c *Compactor) Compact(ctx context.Context, store *Store, remainingOutline string) (CompactionStats, error) {
	charDev := store.CharacterDevelopment()
	threads := store.PlotThreads()

	stats := CompactionStats{
		CharacterEventsBefore: countEvents(charDev),
		PlotThreadsBefore:     len(threads),
	}

	c.logger.Info("memory compaction starting",
		"character_events", stats.CharacterEventsBefore,
		"plot_threads", stats.PlotThreadsBefore)

	response, err := c.client.Generate(ctx, agent.GenerateRequest{
		Model:       c.cfg.Model,
		Prompt:      c.buildPrompt(charDev, threads, remainingOutline),
		System:      "You curate the long-term memory of a novel in progress. Remove or merge information without affecting future plot development. Respond in JSON.",
		Temperature: c.cfg.Temperature,
		ForceJSON:   true,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return stats, fmt.Errorf("compaction request: %w", err)
	}

	result := llmjson.Decode[compactionPayload](response)
	if !result.Ok || result.Value.CharacterDevelopment == nil && result.Value.PlotThreads == nil {
		c.logger.Warn("compaction response unusable, keeping original memory",
			"response_length", len(response))
		return stats, nil
	}

	newDev := result.Value.CharacterDevelopment
	if newDev == nil {
		newDev = charDev
	}
	newThreads := result.Value.PlotThreads
	if newThreads == nil {
		newThreads = threads
	}

	// The caps are stated in the prompt but the model is only advisory;
	// enforce them on the parsed result so memory growth stays bounded.
	newDev, newThreads = c.enforceCaps(newDev, newThreads)

	store.ApplyCompaction(newDev, newThreads)

	stats.Applied = true
	stats.CharacterEventsAfter = countEvents(newDev)
	stats.PlotThreadsAfter = len(newThreads)

	c.logger.Info("memory compaction applied",
		"character_events", fmt.Sprintf("%d -> %d", stats.CharacterEventsBefore, stats.CharacterEventsAfter),
		"plot_threads", fmt.Sprintf("%d -> %d", stats.PlotThreadsBefore, stats.PlotThreadsAfter),
		"removed_reason", result.Value.RemovedItems.Reason)

	return stats, nil
}

func (c *Compactor) buildPrompt(charDev map[string][]string, threads map[string]string, remainingOutline string) string {
	var devText strings.Builder
	for name, events := range charDev {
		fmt.Fprintf(&devText, "- %s: %s\n", name, strings.Join(events, ", "))
	}
	var threadText strings.Builder
	for label, status := range threads {
		fmt.Fprintf(&threadText, "- %s: %s\n", label, status)
	}

	return fmt.Sprintf(`Optimize the long-term memory of this novel.

=== Novel setup ===
Synopsis: %s
Total chapters: %d

=== Remaining chapter outlines ===
%s

=== Current long-term memory ===

[Character development]
%s
[Plot threads]
%s
=== Instructions ===
1. Drop plot threads that are fully resolved and irrelevant to the remaining outline.
2. Merge near-duplicate entries; consolidate transient character states into lasting ones.
3. Preserve anything the remaining chapter outlines may need.
4. At most %d events per character and %d plot threads in total.

Respond in JSON:
{
  "character_development": {"name": ["key development", "..."]},
  "plot_threads": {"thread": "status"},
  "removed_items": {"removed_character_events": [], "removed_plot_threads": [], "reason": ""}
}`,
		c.setup.Synopsis, c.setup.TargetChapters, remainingOutline,
		devText.String(), threadText.String(),
		c.cfg.MaxCharacterEvents, c.cfg.MaxPlotThreads)
}

// enforceCaps hard-truncates over-cap results, keeping the most recent
// events per character and an arbitrary-but-stable subset of threads.
func (c *Compactor) enforceCaps(charDev map[string][]string, threads map[string]string) (map[string][]string, map[string]string) {
	if c.cfg.MaxCharacterEvents > 0 {
		for name, events := range charDev {
			if len(events) > c.cfg.MaxCharacterEvents {
				charDev[name] = events[len(events)-c.cfg.MaxCharacterEvents:]
			}
		}
	}

	if c.cfg.MaxPlotThreads > 0 && len(threads) > c.cfg.MaxPlotThreads {
		labels := make([]string, 0, len(threads))
		for label := range threads {
			labels = append(labels, label)
		}
		// Deterministic order before truncation.
		sort.Strings(labels)
		trimmed := make(map[string]string, c.cfg.MaxPlotThreads)
		for _, label := range labels[:c.cfg.MaxPlotThreads] {
			trimmed[label] = threads[label]
		}
		threads = trimmed
	}

	return charDev, threads
}

func countEvents(charDev map[string][]string) int {
	total := 0
	for _, events := range charDev {
		total += len(events)
	}
	return total
}
