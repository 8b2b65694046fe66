// Package verify checks, via embeddings, whether a revision actually
// addressed the editorial feedback it was given. The check is advisory:
// its result is logged and reported but never blocks the pipeline.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dotcommander/novelist/internal/agent"
)

const (
	// maxFeedbackPoints caps how many feedback items get verified.
	maxFeedbackPoints = 5
	// DefaultThreshold is the cosine similarity above which a feedback
	// point counts as addressed by the changed text.
	DefaultThreshold = 0.6
)

var (
	numberedLine = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*•])\s+(.+)$`)
	sentenceEnd  = regexp.MustCompile(`[.!?]\s+`)
)

// PointResult is the verdict for a single feedback point.
type PointResult struct {
	Point      string
	Similarity float64
	Addressed  bool
}

// Report aggregates the per-point verdicts of one revision check.
type Report struct {
	Points    []PointResult
	Addressed int
}

// Verifier embeds feedback points and the lines a revision introduced, then
// compares them by cosine similarity.
type Verifier struct {
	client    agent.Generator
	threshold float64
	logger    *slog.Logger
}

func New(client agent.Generator, threshold float64) *Verifier {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Verifier{
		client:    client,
		threshold: threshold,
		logger:    slog.Default().With("component", "revision_verifier"),
	}
}

// ExtractFeedbackPoints splits editorial feedback into individual points.
// Numbered or bulleted lines win; free prose falls back to a sentence
// split. At most maxFeedbackPoints are returned.
func ExtractFeedbackPoints(feedback string) []string {
	var points []string
	for _, line := range strings.Split(feedback, "\n") {
		if m := numberedLine.FindStringSubmatch(line); m != nil {
			if p := strings.TrimSpace(m[1]); p != "" {
				points = append(points, p)
			}
		}
	}
	if len(points) == 0 {
		for _, sentence := range sentenceEnd.Split(feedback, -1) {
			if s := strings.TrimSpace(sentence); s != "" {
				points = append(points, s)
			}
		}
	}
	if len(points) > maxFeedbackPoints {
		points = points[:maxFeedbackPoints]
	}
	return points
}

// VerifyRevision reports which feedback points are reflected in the text a
// revision added. The changed text is the set of lines present in revised
// but not in original. Embedding calls for the points run concurrently.
func (v *Verifier) VerifyRevision(ctx context.Context, original, revised, feedback string) (*Report, error) {
	points := ExtractFeedbackPoints(feedback)
	if len(points) == 0 {
		return &Report{}, nil
	}

	changed := changedLines(original, revised)
	if changed == "" {
		v.logger.Info("revision introduced no new lines", "points", len(points))
		report := &Report{}
		for _, p := range points {
			report.Points = append(report.Points, PointResult{Point: p})
		}
		return report, nil
	}

	changedVec, err := v.client.Embed(ctx, changed)
	if err != nil {
		return nil, fmt.Errorf("embedding changed text: %w", err)
	}

	vectors := make([][]float32, len(points))
	g, gctx := errgroup.WithContext(ctx)
	for i, point := range points {
		i, point := i, point
		g.Go(func() error {
			vec, err := v.client.Embed(gctx, point)
			if err != nil {
				return fmt.Errorf("embedding feedback point %d: %w", i+1, err)
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{}
	for i, point := range points {
		sim := CosineSimilarity(vectors[i], changedVec)
		addressed := sim >= v.threshold
		if addressed {
			report.Addressed++
		}
		report.Points = append(report.Points, PointResult{
			Point:      point,
			Similarity: sim,
			Addressed:  addressed,
		})
	}

	v.logger.Info("revision verified",
		"points", len(points),
		"addressed", report.Addressed)
	return report, nil
}

// CosineSimilarity of two embedding vectors. Mismatched lengths or a zero
// vector yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func changedLines(original, revised string) string {
	seen := make(map[string]struct{})
	for _, line := range strings.Split(original, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			seen[t] = struct{}{}
		}
	}
	var added []string
	for _, line := range strings.Split(revised, "\n") {
		t := strings.TrimSpace(line)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; !ok {
			added = append(added, t)
		}
	}
	return strings.Join(added, "\n")
}
