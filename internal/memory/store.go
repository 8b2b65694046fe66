// Package memory holds the tiered long-term memory for a run: a rolling
// free-text log plus structured character-development and plot-thread facts,
// with periodic LLM-driven compaction to bound growth.
package memory

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/dotcommander/novelist/internal/novel"
)

// Thread statuses distinguish provenance: facts enter as ongoing, events as
// occurred.
const (
	StatusOngoing  = "ongoing"
	StatusOccurred = "occurred"
)

// recentLogEntries is how many trailing log entries feed the prompt summary.
const recentLogEntries = 5

// SummaryRecord is the structured digest a chapter summary produces.
type SummaryRecord struct {
	Summary          string            `json:"summary"`
	KeyEvents        []string          `json:"key_events"`
	CharacterChanges map[string]string `json:"character_changes"`
	NewInfo          []string          `json:"new_info"`
}

// Store is the long-term memory. It is mutated only through RecordSummary
// and ApplyCompaction; the orchestrator never touches the fields directly.
type Store struct {
	log                  []string
	characterDevelopment map[string][]string
	plotThreads          map[string]string
	logger               *slog.Logger
}

// NewStore initializes memory with one empty development list per cast
// member. Compaction may later rename, merge, or drop entries.
func NewStore(cast []novel.Character) *Store {
	s := &Store{
		characterDevelopment: make(map[string][]string),
		plotThreads:          make(map[string]string),
		logger:               slog.Default().With("component", "memory"),
	}
	for _, c := range cast {
		if c.Name != "" {
			s.characterDevelopment[c.Name] = []string{}
		}
	}
	return s
}

// RecordSummary folds a chapter digest into memory: the summary text is
// appended to the log, character deltas to their development lists, and new
// facts/events become plot threads. Exact-duplicate thread labels are not
// re-inserted; semantic duplicates are the compactor's problem.
func (s *Store) RecordSummary(rec SummaryRecord) {
	if strings.TrimSpace(rec.Summary) != "" {
		s.log = append(s.log, rec.Summary)
	}

	for name, change := range rec.CharacterChanges {
		if name == "" || change == "" {
			continue
		}
		s.characterDevelopment[name] = append(s.characterDevelopment[name], change)
	}

	for _, info := range rec.NewInfo {
		if info == "" {
			continue
		}
		if _, exists := s.plotThreads[info]; !exists {
			s.plotThreads[info] = StatusOngoing
		}
	}
	for _, event := range rec.KeyEvents {
		if event == "" {
			continue
		}
		if _, exists := s.plotThreads[event]; !exists {
			s.plotThreads[event] = StatusOccurred
		}
	}

	s.logger.Debug("memory updated from summary",
		"log_entries", len(s.log),
		"characters", len(s.characterDevelopment),
		"plot_threads", len(s.plotThreads))
}

// RecentMemoryText joins the last few log entries, oldest first, right
// truncated to maxChars. Empty log yields an empty string.
func (s *Store) RecentMemoryText(maxChars int) string {
	if len(s.log) == 0 {
		return ""
	}
	recent := s.log
	if len(recent) > recentLogEntries {
		recent = recent[len(recent)-recentLogEntries:]
	}
	joined := strings.Join(recent, "\n")
	if runes := []rune(joined); maxChars > 0 && len(runes) > maxChars {
		joined = string(runes[len(runes)-maxChars:])
	}
	return joined
}

// LongTermMemoryText formats the structured facts for prompt insertion:
// recent development per character plus every open plot thread.
func (s *Store) LongTermMemoryText() string {
	var sections []string

	if len(s.characterDevelopment) > 0 {
		names := make([]string, 0, len(s.characterDevelopment))
		for name := range s.characterDevelopment {
			names = append(names, name)
		}
		sort.Strings(names)

		var lines []string
		for _, name := range names {
			devs := s.characterDevelopment[name]
			if len(devs) == 0 {
				continue
			}
			if len(devs) > 3 {
				devs = devs[len(devs)-3:]
			}
			lines = append(lines, fmt.Sprintf("* %s: %s", name, strings.Join(devs, ", ")))
		}
		if len(lines) > 0 {
			sections = append(sections, "--- Character development (long-term memory) ---")
			sections = append(sections, lines...)
		}
	}

	if len(s.plotThreads) > 0 {
		labels := make([]string, 0, len(s.plotThreads))
		for label := range s.plotThreads {
			labels = append(labels, label)
		}
		sort.Strings(labels)

		sections = append(sections, "\n--- Plot threads (long-term memory) ---")
		for _, label := range labels {
			sections = append(sections, fmt.Sprintf("* %s: %s", label, s.plotThreads[label]))
		}
	}

	return strings.Join(sections, "\n")
}

// CharacterDevelopment returns a copy of the development map.
func (s *Store) CharacterDevelopment() map[string][]string {
	out := make(map[string][]string, len(s.characterDevelopment))
	for name, devs := range s.characterDevelopment {
		out[name] = append([]string(nil), devs...)
	}
	return out
}

// PlotThreads returns a copy of the thread map.
func (s *Store) PlotThreads() map[string]string {
	out := make(map[string]string, len(s.plotThreads))
	for label, status := range s.plotThreads {
		out[label] = status
	}
	return out
}

// ApplyCompaction replaces the structured facts wholesale with the
// compactor's pruned maps. The log is untouched.
func (s *Store) ApplyCompaction(characterDevelopment map[string][]string, plotThreads map[string]string) {
	if characterDevelopment == nil {
		characterDevelopment = make(map[string][]string)
	}
	if plotThreads == nil {
		plotThreads = make(map[string]string)
	}
	s.characterDevelopment = characterDevelopment
	s.plotThreads = plotThreads
}

// Record is the serialized form of a Store. Its UnmarshalJSON is the one
// place missing or mistyped fields are repaired; persisted state may come
// from a partially written or schema-drifted file, so every field falls
// back to an empty container instead of failing the load.
type Record struct {
	Log                  []string            `json:"log"`
	CharacterDevelopment map[string][]string `json:"character_development"`
	PlotThreads          map[string]string   `json:"plot_threads"`
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		*r = Record{}
		return nil
	}

	r.Log = nil
	if raw, ok := fields["log"]; ok {
		var log []string
		if err := json.Unmarshal(raw, &log); err == nil {
			r.Log = log
		}
	}

	r.CharacterDevelopment = make(map[string][]string)
	if raw, ok := fields["character_development"]; ok {
		var dev map[string][]string
		if err := json.Unmarshal(raw, &dev); err == nil && dev != nil {
			r.CharacterDevelopment = dev
		}
	}

	r.PlotThreads = make(map[string]string)
	if raw, ok := fields["plot_threads"]; ok {
		var threads map[string]string
		if err := json.Unmarshal(raw, &threads); err == nil && threads != nil {
			r.PlotThreads = threads
		}
	}

	return nil
}

// Snapshot returns the serializable form of the store.
func (s *Store) Snapshot() Record {
	return Record{
		Log:                  append([]string(nil), s.log...),
		CharacterDevelopment: s.CharacterDevelopment(),
		PlotThreads:          s.PlotThreads(),
	}
}

// Restore replaces the store's contents with a snapshot record. Seeded
// character entries survive only if the record carries none.
func (s *Store) Restore(rec Record) {
	s.log = append([]string(nil), rec.Log...)
	if rec.CharacterDevelopment != nil {
		s.characterDevelopment = rec.CharacterDevelopment
	}
	if rec.PlotThreads != nil {
		s.plotThreads = rec.PlotThreads
	}
}
