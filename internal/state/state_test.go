package state

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/dotcommander/novelist/internal/memory"
	"github.com/dotcommander/novelist/internal/novel"
	"github.com/dotcommander/novelist/internal/storage"
)

func TestManagerRoundTrip(t *testing.T) {
	store := storage.NewFileSystem(t.TempDir())
	m := NewManager(store, "state.json")
	ctx := context.Background()

	snap := &Snapshot{
		RunID: "run-1",
		Chapters: []novel.Chapter{
			{Number: 1, Title: "One", Content: "prose", WordCount: 100, KeyEvents: []string{"met"}},
			{Number: 2, Title: "Two", Outline: "next"},
		},
		Memory: memory.Record{
			Log:                  []string{"They met."},
			CharacterDevelopment: map[string][]string{"Mira": {"changed"}},
			PlotThreads:          map[string]string{"storm": "ongoing"},
		},
	}
	if err := m.Save(ctx, snap); err != nil {
		t.Fatal(err)
	}

	loaded, err := m.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if loaded == nil {
		t.Fatal("expected a snapshot")
	}
	if loaded.RunID != "run-1" {
		t.Errorf("RunID = %q", loaded.RunID)
	}
	if len(loaded.Chapters) != 2 || loaded.Chapters[0].Content != "prose" || loaded.Chapters[0].WordCount != 100 {
		t.Errorf("chapters = %+v", loaded.Chapters)
	}
	if loaded.Memory.PlotThreads["storm"] != "ongoing" {
		t.Errorf("memory = %+v", loaded.Memory)
	}
}

func TestManagerLoadMissingFile(t *testing.T) {
	m := NewManager(storage.NewFileSystem(t.TempDir()), "state.json")
	snap, err := m.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if snap != nil {
		t.Errorf("missing file should load as nil, got %+v", snap)
	}
}

func TestSnapshotToleratesMistypedChapterFields(t *testing.T) {
	raw := `{
		"run_id": "run-2",
		"chapters": [
			{"number": 1, "title": "One", "word_count": "not a number", "content": "prose"},
			{"number": 2, "title": 7, "outline": "next"},
			{"title": "no number, dropped"},
			"not even an object"
		],
		"memory": {"log": ["a"], "plot_threads": {"x": "ongoing"}}
	}`

	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		t.Fatalf("tolerant decode should not error: %v", err)
	}
	if len(snap.Chapters) != 2 {
		t.Fatalf("got %d chapters, want 2 (undecodable ones dropped): %+v", len(snap.Chapters), snap.Chapters)
	}
	if snap.Chapters[0].Content != "prose" || snap.Chapters[0].WordCount != 0 {
		t.Errorf("mistyped word_count should be dropped, rest kept: %+v", snap.Chapters[0])
	}
	if snap.Chapters[1].Title != "" || snap.Chapters[1].Outline != "next" {
		t.Errorf("mistyped title should be dropped, rest kept: %+v", snap.Chapters[1])
	}
	if snap.Memory.PlotThreads["x"] != "ongoing" {
		t.Errorf("memory should survive: %+v", snap.Memory)
	}
}
