package summarizer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dotcommander/novelist/internal/agent"
	"github.com/dotcommander/novelist/internal/novel"
)

func testChapter() *novel.Chapter {
	return &novel.Chapter{Number: 2, Title: "Two", Content: "Mira surfaced with the map."}
}

func TestSummarize(t *testing.T) {
	client := agent.NewMockClient()
	client.Queue(`{
		"summary": "Mira recovers the map.",
		"key_events": ["map recovered"],
		"character_changes": {"Mira": "gains the map"},
		"new_info": ["the map is incomplete"]
	}`)

	rec := New(client, Config{Model: "test-model"}).Summarize(context.Background(), testChapter())
	if rec.Summary != "Mira recovers the map." {
		t.Errorf("Summary = %q", rec.Summary)
	}
	if len(rec.KeyEvents) != 1 || rec.KeyEvents[0] != "map recovered" {
		t.Errorf("KeyEvents = %v", rec.KeyEvents)
	}
	if rec.CharacterChanges["Mira"] != "gains the map" {
		t.Errorf("CharacterChanges = %v", rec.CharacterChanges)
	}
	if !client.Calls[0].ForceJSON {
		t.Error("summaries must force JSON")
	}
}

func TestSummarizeRequestErrorYieldsStub(t *testing.T) {
	client := agent.NewMockClient()
	client.Err = errors.New("boom")

	rec := New(client, Config{}).Summarize(context.Background(), testChapter())
	if !strings.Contains(rec.Summary, "Chapter 2") {
		t.Errorf("stub summary should name the chapter, got %q", rec.Summary)
	}
	if len(rec.KeyEvents) != 0 {
		t.Errorf("stub record should carry no events, got %v", rec.KeyEvents)
	}
}

func TestSummarizeMalformedResponseYieldsStub(t *testing.T) {
	client := agent.NewMockClient()
	client.Queue("the chapter was about a map, roughly speaking")

	rec := New(client, Config{}).Summarize(context.Background(), testChapter())
	if !strings.Contains(rec.Summary, "Chapter 2 (Two) complete.") {
		t.Errorf("expected stub summary, got %q", rec.Summary)
	}
}

func TestSummarizeEmptySummaryBackfilled(t *testing.T) {
	client := agent.NewMockClient()
	client.Queue(`{"summary": "", "key_events": ["map recovered"]}`)

	rec := New(client, Config{}).Summarize(context.Background(), testChapter())
	if rec.Summary == "" {
		t.Error("empty model summary should be backfilled with the stub text")
	}
	if len(rec.KeyEvents) != 1 {
		t.Errorf("parsed fields should survive the backfill, got %v", rec.KeyEvents)
	}
}
