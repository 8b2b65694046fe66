package storage

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewRunID returns the identifier for one generation run.
func NewRunID() string {
	return uuid.New().String()
}

// RunDir builds the per-run output directory name from the run timestamp,
// the sanitized novel title, and a short run ID.
// Format: runs/2026-08-29_1530_winters-crossing_82f06b15
func RunDir(title, runID string) string {
	timestamp := time.Now().Format("2006-01-02_1504")
	shortID := runID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	return filepath.Join("runs", fmt.Sprintf("%s_%s_%s", timestamp, sanitizeForFilename(title, 30), shortID))
}

// RunMetadata renders the run's metadata file.
func RunMetadata(runID, title string, targetChapters int) []byte {
	metadata := fmt.Sprintf(`# Run Metadata

**Run ID**: %s
**Date**: %s
**Novel**: %s
**Target chapters**: %d

## Output Files

This directory holds the state snapshot and the stitched manuscript for
one generation run.
`, runID, time.Now().Format("2006-01-02 15:04:05"), title, targetChapters)
	return []byte(metadata)
}

// sanitizeForFilename converts a string to a safe filename component.
func sanitizeForFilename(s string, maxLen int) string {
	s = strings.ToLower(s)
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r >= '가' && r <= '힣':
			b.WriteRune(r)
		case r == ' ', r == '/', r == '\\', r == ':', r == '.', r == '_', r == '-':
			b.WriteRune('-')
		}
	}
	s = b.String()

	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	s = strings.Trim(s, "-")

	if runes := []rune(s); len(runes) > maxLen {
		s = strings.TrimRight(string(runes[:maxLen]), "-")
	}
	if s == "" {
		s = "novel"
	}
	return s
}
