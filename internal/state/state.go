// Package state persists and restores the full pipeline state so an
// interrupted run resumes where it stopped.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dotcommander/novelist/internal/memory"
	"github.com/dotcommander/novelist/internal/novel"
	"github.com/dotcommander/novelist/internal/storage"
)

// Snapshot is the on-disk state: the chapter plan with whatever prose has
// been written, plus the accumulated memory.
type Snapshot struct {
	RunID    string          `json:"run_id,omitempty"`
	Chapters []novel.Chapter `json:"chapters"`
	Memory   memory.Record   `json:"memory"`
}

// UnmarshalJSON decodes each chapter field individually, dropping mistyped
// fields instead of failing the whole load. A state file written by an
// older build or mangled by hand still restores everything it can.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("parsing state snapshot: %w", err)
	}

	if raw, ok := fields["run_id"]; ok {
		_ = json.Unmarshal(raw, &s.RunID)
	}
	if raw, ok := fields["memory"]; ok {
		_ = json.Unmarshal(raw, &s.Memory)
	}

	s.Chapters = nil
	var rawChapters []json.RawMessage
	if raw, ok := fields["chapters"]; ok {
		_ = json.Unmarshal(raw, &rawChapters)
	}
	for _, rawCh := range rawChapters {
		if ch, ok := decodeChapter(rawCh); ok {
			s.Chapters = append(s.Chapters, ch)
		}
	}
	return nil
}

func decodeChapter(data json.RawMessage) (novel.Chapter, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return novel.Chapter{}, false
	}

	var ch novel.Chapter
	if raw, ok := fields["number"]; ok {
		_ = json.Unmarshal(raw, &ch.Number)
	}
	if ch.Number == 0 {
		return novel.Chapter{}, false
	}
	if raw, ok := fields["title"]; ok {
		_ = json.Unmarshal(raw, &ch.Title)
	}
	if raw, ok := fields["outline"]; ok {
		_ = json.Unmarshal(raw, &ch.Outline)
	}
	if raw, ok := fields["content"]; ok {
		_ = json.Unmarshal(raw, &ch.Content)
	}
	if raw, ok := fields["summary"]; ok {
		_ = json.Unmarshal(raw, &ch.Summary)
	}
	if raw, ok := fields["key_events"]; ok {
		_ = json.Unmarshal(raw, &ch.KeyEvents)
	}
	if raw, ok := fields["word_count"]; ok {
		_ = json.Unmarshal(raw, &ch.WordCount)
	}
	return ch, true
}

// Manager writes and reads snapshots through the storage layer.
type Manager struct {
	store  storage.Storage
	path   string
	logger *slog.Logger
}

func NewManager(store storage.Storage, path string) *Manager {
	return &Manager{
		store:  store,
		path:   path,
		logger: slog.Default().With("component", "state_manager"),
	}
}

func (m *Manager) Save(ctx context.Context, snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	if err := m.store.Save(ctx, m.path, data); err != nil {
		return fmt.Errorf("saving state: %w", err)
	}
	m.logger.Info("state saved", "path", m.path, "chapters", len(snap.Chapters))
	return nil
}

// Load returns (nil, nil) when no state file exists yet.
func (m *Manager) Load(ctx context.Context) (*Snapshot, error) {
	if !m.store.Exists(ctx, m.path) {
		return nil, nil
	}
	data, err := m.store.Load(ctx, m.path)
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decoding state: %w", err)
	}
	m.logger.Info("state loaded", "path", m.path, "chapters", len(snap.Chapters))
	return &snap, nil
}
