package pipeline

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dotcommander/novelist/internal/agent"
	"github.com/dotcommander/novelist/internal/editor"
	"github.com/dotcommander/novelist/internal/memory"
	"github.com/dotcommander/novelist/internal/novel"
	"github.com/dotcommander/novelist/internal/state"
	"github.com/dotcommander/novelist/internal/storage"
	"github.com/dotcommander/novelist/internal/structure"
	"github.com/dotcommander/novelist/internal/summarizer"
	"github.com/dotcommander/novelist/internal/verify"
	"github.com/dotcommander/novelist/internal/writer"
)

func testSetup() *novel.Setup {
	return &novel.Setup{
		Synopsis:                "A drowned city gives up its last secret.",
		WritingStyle:            "spare, close third person",
		Characters:              []novel.Character{{Name: "Mira", Description: "salvage diver"}},
		TargetChapters:          2,
		TargetWordsPerChapter:   100,
		WordsTolerance:          0.2,
		ShortTermMemoryChapters: 2,
		ShortTermMemoryMaxChars: 8000,
	}
}

func prose(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = "word"
	}
	return strings.Join(words, " ")
}

// scriptedClient returns a mock that can carry a full happy-path run from
// structure generation to the last summary.
func scriptedClient() *agent.MockClient {
	client := agent.NewMockClient()
	client.Script["Design the complete chapter structure"] = `{"chapters": [
		{"number": 1, "title": "One", "outline": "the dive"},
		{"number": 2, "title": "Two", "outline": "the secret"}
	]}`
	client.Script["Review the proposed chapter structure"] = `{
		"scores": {"story_flow": 8, "pacing": 8, "character_development": 8, "consistency": 8},
		"status": "approved", "feedback": "Solid plan."
	}`
	client.Script["Full text of chapter"] = prose(100)
	client.Script["Review focus"] = `{
		"scores": {"style": 9, "continuity": 8, "characters": 9, "plot": 8, "length_balance": 8},
		"status": "approved", "feedback": "Strong chapter."
	}`
	client.Script["running memory"] = `{
		"summary": "The dive goes wrong.",
		"key_events": ["hull breached"],
		"character_changes": {"Mira": "shaken"},
		"new_info": ["the city has a keeper"]
	}`
	return client
}

func buildPipeline(client agent.Generator, store storage.Storage) *Pipeline {
	return assemble(testSetup(), client, store, 0)
}

// buildCompactingPipeline enables memory compaction at the given interval.
func buildCompactingPipeline(client agent.Generator, store storage.Storage, interval int) *Pipeline {
	setup := testSetup()
	setup.EnableCompaction = true
	return assemble(setup, client, store, interval)
}

func assemble(setup *novel.Setup, client agent.Generator, store storage.Storage, interval int) *Pipeline {
	return New(
		setup,
		Config{
			RecentChapters:    2,
			MemoryMaxChars:    8000,
			MaxRounds:         2,
			ApprovalThreshold: 7.5,
			AutoSaveInterval:  1,
			OutputFile:        "novel.md",
		},
		novel.NewLedger(),
		memory.NewStore(setup.Characters),
		writer.New(client, writer.Config{Model: "m", MaxGenerationTokens: 4000}, setup, writer.WithRedraftDelay(0)),
		editor.New(client, editor.Config{Model: "m", MaxReviewChars: 6000}, setup),
		summarizer.New(client, summarizer.Config{Model: "m"}),
		structure.New(client, structure.Config{Model: "m"}, setup),
		memory.NewCompactor(client, memory.CompactorConfig{Model: "m", Interval: interval, MaxCharacterEvents: 10, MaxPlotThreads: 20}, setup),
		verify.New(client, 0.6),
		state.NewManager(store, "state.json"),
		store,
		"run-test",
	)
}

func TestRunHappyPath(t *testing.T) {
	client := scriptedClient()
	store := storage.NewFileSystem(t.TempDir())
	ctx := context.Background()

	p := buildPipeline(client, store)
	if err := p.Run(ctx); err != nil {
		t.Fatal(err)
	}

	// 1 structure + 1 structure review + 2 x (draft, review, summary).
	if got := client.CallCount(); got != 8 {
		t.Errorf("CallCount = %d, want 8", got)
	}

	manuscript, err := store.Load(ctx, "novel.md")
	if err != nil {
		t.Fatal(err)
	}
	text := string(manuscript)
	if !strings.Contains(text, "# Chapter 1: One") || !strings.Contains(text, "# Chapter 2: Two") {
		t.Errorf("manuscript missing chapter headers:\n%s", text)
	}
	if !strings.Contains(text, chapterSeparator) {
		t.Error("manuscript missing chapter separators")
	}

	if !store.Exists(ctx, "state.json") {
		t.Error("state file should exist after the run")
	}
	if !store.Exists(ctx, "run.md") {
		t.Error("run metadata should be written")
	}

	snap, err := state.NewManager(store, "state.json").Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, ch := range snap.Chapters {
		if !ch.Complete() {
			t.Errorf("chapter %d not complete in saved state", ch.Number)
		}
		if ch.Summary != "The dive goes wrong." {
			t.Errorf("chapter %d summary = %q", ch.Number, ch.Summary)
		}
	}
	if snap.Memory.PlotThreads["the city has a keeper"] != memory.StatusOngoing {
		t.Errorf("memory threads = %v", snap.Memory.PlotThreads)
	}
}

func TestRunResumeSkipsCompletedChapters(t *testing.T) {
	store := storage.NewFileSystem(t.TempDir())
	ctx := context.Background()

	if err := buildPipeline(scriptedClient(), store).Run(ctx); err != nil {
		t.Fatal(err)
	}

	// Second run over the same state: everything is complete, so no
	// generation calls happen at all.
	idle := agent.NewMockClient()
	if err := buildPipeline(idle, store).Run(ctx); err != nil {
		t.Fatal(err)
	}
	if got := idle.CallCount(); got != 0 {
		t.Errorf("resume made %d generation calls, want 0", got)
	}
}

func TestRunResumeCompactsAtInterval(t *testing.T) {
	store := storage.NewFileSystem(t.TempDir())
	ctx := context.Background()

	// Two completed chapters on disk, resumed with an interval of 2: both
	// get skipped, and the skip on the second one lands exactly on the
	// compaction boundary.
	snap := &state.Snapshot{
		RunID: "run-test",
		Chapters: []novel.Chapter{
			{Number: 1, Title: "One", Outline: "the dive", Content: prose(100), WordCount: 100, Summary: "The dive goes wrong."},
			{Number: 2, Title: "Two", Outline: "the secret", Content: prose(100), WordCount: 100, Summary: "The secret surfaces."},
		},
		Memory: memory.Record{
			Log:                  []string{"[Ch1] The dive goes wrong.", "[Ch2] The secret surfaces."},
			CharacterDevelopment: map[string][]string{"Mira": {"shaken", "resolute"}},
			PlotThreads:          map[string]string{"the keeper stirs": memory.StatusOngoing},
		},
	}
	if err := state.NewManager(store, "state.json").Save(ctx, snap); err != nil {
		t.Fatal(err)
	}

	client := agent.NewMockClient()
	client.Script["curate the long-term memory"] = `{
		"character_development": {"Mira": ["resolute"]},
		"plot_threads": {"the keeper stirs": "resolved"},
		"removed_items": {"removed_character_events": ["shaken"], "removed_plot_threads": [], "reason": "merged"}
	}`

	if err := buildCompactingPipeline(client, store, 2).Run(ctx); err != nil {
		t.Fatal(err)
	}

	// No drafting on resume; the only generation call is the compaction
	// pass due after the second skipped chapter.
	if got := client.CallCount(); got != 1 {
		t.Errorf("CallCount = %d, want 1", got)
	}

	after, err := state.NewManager(store, "state.json").Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if after.Memory.PlotThreads["the keeper stirs"] != "resolved" {
		t.Errorf("compacted threads not saved: %v", after.Memory.PlotThreads)
	}
	if events := after.Memory.CharacterDevelopment["Mira"]; len(events) != 1 || events[0] != "resolute" {
		t.Errorf("compacted character events not saved: %v", events)
	}
}

func TestRunKeepsUnreadableStateFile(t *testing.T) {
	store := storage.NewFileSystem(t.TempDir())
	ctx := context.Background()

	// A truncated snapshot, as a crash mid-write would leave it.
	mangled := []byte(`{"chapters": [{"num`)
	if err := store.Save(ctx, "state.json", mangled); err != nil {
		t.Fatal(err)
	}

	err := buildPipeline(agent.NewMockClient(), store).Run(ctx)
	if err == nil {
		t.Fatal("expected the load failure to propagate")
	}
	if !strings.Contains(err.Error(), "decoding state") {
		t.Errorf("err = %v, want a state decode failure", err)
	}

	// The emergency save must not replace the file with an empty snapshot;
	// the unreadable original may still be salvageable by hand.
	after, loadErr := store.Load(ctx, "state.json")
	if loadErr != nil {
		t.Fatal(loadErr)
	}
	if !bytes.Equal(after, mangled) {
		t.Errorf("state file rewritten on load failure:\n%s", after)
	}
}

func TestRunRevisionLoop(t *testing.T) {
	client := scriptedClient()
	// Queued responses preempt the script: the first content review demands
	// revision, the writer revises, the second review approves.
	client.Queue(
		`{"chapters": [{"number": 1, "title": "One", "outline": "the dive"}]}`,
		`{"scores": {"story_flow": 8}, "status": "approved", "feedback": "ok"}`,
		prose(100), // draft
		`{"scores": {"style": 5}, "status": "needs_revision", "feedback": "1. Fix the pacing"}`,
		prose(110), // targeted edit
		`{"scores": {"style": 9}, "status": "approved", "feedback": "better"}`,
	)

	store := storage.NewFileSystem(t.TempDir())
	p := buildPipeline(client, store)
	if err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	ch, ok := p.ledger.Get(1)
	if !ok || ch.WordCount != 110 {
		t.Errorf("revised word count = %d, want 110", ch.WordCount)
	}
}

// failingGenerator delegates to a mock until a prompt containing trigger
// arrives, then fails.
type failingGenerator struct {
	*agent.MockClient
	trigger string
}

func (f *failingGenerator) Generate(ctx context.Context, req agent.GenerateRequest) (string, error) {
	if strings.Contains(req.Prompt, f.trigger) {
		return "", errors.New("service unavailable")
	}
	return f.MockClient.Generate(ctx, req)
}

func TestRunSavesStateOnFailure(t *testing.T) {
	client := &failingGenerator{MockClient: scriptedClient(), trigger: "Full text of chapter 2"}
	store := storage.NewFileSystem(t.TempDir())
	ctx := context.Background()

	err := buildPipeline(client, store).Run(ctx)
	if err == nil {
		t.Fatal("expected the chapter 2 failure to propagate")
	}

	snap, loadErr := state.NewManager(store, "state.json").Load(ctx)
	if loadErr != nil {
		t.Fatal(loadErr)
	}
	if snap == nil {
		t.Fatal("state should be saved on failure")
	}
	ch1, ok := findChapter(snap.Chapters, 1)
	if !ok || !ch1.Complete() {
		t.Errorf("chapter 1 progress lost: %+v", snap.Chapters)
	}
	if ch2, ok := findChapter(snap.Chapters, 2); !ok || ch2.Complete() {
		t.Errorf("chapter 2 should be present but unwritten: %+v", snap.Chapters)
	}
}

func TestRunInterruptedByContext(t *testing.T) {
	client := scriptedClient()
	store := storage.NewFileSystem(t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := buildPipeline(client, store).Run(ctx)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled in the chain", err)
	}
}

func findChapter(chapters []novel.Chapter, number int) (novel.Chapter, bool) {
	for _, ch := range chapters {
		if ch.Number == number {
			return ch, true
		}
	}
	return novel.Chapter{}, false
}
