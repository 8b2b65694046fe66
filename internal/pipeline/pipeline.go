// Package pipeline orchestrates a full generation run: plan the structure,
// then draft, review, revise, summarize, and persist each chapter in order.
// Chapters are strictly sequential because every chapter's context depends
// on the accumulated memory of the ones before it.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

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

const chapterSeparator = "================================================================================"

// Config carries the orchestration knobs; everything model-facing lives in
// the components themselves.
type Config struct {
	RecentChapters    int
	MemoryMaxChars    int
	MaxRounds         int
	ApprovalThreshold float64
	AutoSaveInterval  int
	OutputFile        string
}

// Pipeline owns every component explicitly. Nothing is constructed lazily,
// so a test can swap any part for a fake.
type Pipeline struct {
	setup      *novel.Setup
	cfg        Config
	ledger     *novel.Ledger
	mem        *memory.Store
	writer     *writer.Writer
	editor     *editor.Editor
	summarizer *summarizer.Summarizer
	structGen  *structure.Generator
	compactor  *memory.Compactor
	verifier   *verify.Verifier
	stateMgr   *state.Manager
	store      storage.Storage
	runID      string
	logger     *slog.Logger

	// ready flips once a snapshot was restored or a fresh plan was saved.
	// Until then an emergency save would write an empty snapshot over
	// whatever the state file already holds.
	ready bool
}

func New(
	setup *novel.Setup,
	cfg Config,
	ledger *novel.Ledger,
	mem *memory.Store,
	w *writer.Writer,
	e *editor.Editor,
	s *summarizer.Summarizer,
	sg *structure.Generator,
	c *memory.Compactor,
	v *verify.Verifier,
	sm *state.Manager,
	store storage.Storage,
	runID string,
) *Pipeline {
	return &Pipeline{
		setup:      setup,
		cfg:        cfg,
		ledger:     ledger,
		mem:        mem,
		writer:     w,
		editor:     e,
		summarizer: s,
		structGen:  sg,
		compactor:  c,
		verifier:   v,
		stateMgr:   sm,
		store:      store,
		runID:      runID,
		logger:     slog.Default().With("component", "pipeline", "run_id", runID),
	}
}

// Run executes the whole generation. State is saved on interrupt, on error,
// and on completion, so a rerun with the same state file resumes instead of
// restarting. A panic in a component is converted into an error after a
// best-effort save.
func (p *Pipeline) Run(ctx context.Context) (err error) {
	start := time.Now()
	p.logger.Info("run starting", "target_chapters", p.setup.TargetChapters)

	defer func() {
		if r := recover(); r != nil {
			p.saveBestEffort()
			err = fmt.Errorf("pipeline panic: %v", r)
			return
		}
		if err != nil {
			p.saveBestEffort()
		}
	}()

	if err := p.restoreOrPlan(ctx); err != nil {
		return err
	}
	p.ready = true

	completed := 0
	for _, ch := range p.ledger.Chapters() {
		if err := ctx.Err(); err != nil {
			p.saveBestEffort()
			return fmt.Errorf("run interrupted: %w", err)
		}

		if ch.Complete() {
			p.logger.Info("chapter already complete, skipping", "chapter", ch.Number)
			completed++
			// Skipped chapters count toward the compaction interval, so a
			// resumed run compacts on the same schedule as a fresh one.
			p.maybeCompact(ctx, completed, ch.Number)
			continue
		}

		if err := p.produceChapter(ctx, ch); err != nil {
			return err
		}
		completed++

		if completed%p.cfg.AutoSaveInterval == 0 {
			if err := p.saveState(ctx); err != nil {
				p.logger.Warn("autosave failed", "chapter", ch.Number, "error", err)
			}
		}

		p.maybeCompact(ctx, completed, ch.Number)
	}

	if err := p.saveState(ctx); err != nil {
		return fmt.Errorf("final save: %w", err)
	}
	if err := p.writeManuscript(ctx); err != nil {
		return err
	}

	p.logger.Info("run complete",
		"chapters", len(p.ledger.Completed()),
		"duration", time.Since(start).Round(time.Second))
	p.logger.Info("length report", "report", p.ledger.LengthReport())
	return nil
}

// restoreOrPlan loads a previous snapshot if one exists; otherwise it
// generates and reviews the chapter structure.
func (p *Pipeline) restoreOrPlan(ctx context.Context) error {
	snap, err := p.stateMgr.Load(ctx)
	if err != nil {
		return err
	}
	if snap != nil && len(snap.Chapters) > 0 {
		p.ledger.SetChapters(snap.Chapters)
		p.mem.Restore(snap.Memory)
		p.logger.Info("resuming from saved state",
			"chapters", p.ledger.Len(),
			"completed", len(p.ledger.Completed()))
		return nil
	}

	chapters, err := p.structGen.Generate(ctx)
	if err != nil {
		return fmt.Errorf("planning structure: %w", err)
	}

	review, err := p.editor.ReviewStructure(ctx, chapters)
	if err != nil {
		p.logger.Warn("structure review failed, keeping initial plan", "error", err)
	} else if !review.Approved() {
		p.logger.Info("structure needs revision", "score", review.AverageScore)
		chapters, err = p.writer.RefineStructure(ctx, chapters, review.Feedback, review.Suggestions)
		if err != nil {
			p.logger.Warn("structure refinement failed, keeping initial plan", "error", err)
		}
	}

	p.ledger.SetChapters(chapters)
	if err := p.saveState(ctx); err != nil {
		return fmt.Errorf("saving initial plan: %w", err)
	}

	meta := storage.RunMetadata(p.runID, p.setup.Synopsis, p.setup.TargetChapters)
	if err := p.store.Save(ctx, "run.md", meta); err != nil {
		p.logger.Warn("writing run metadata failed", "error", err)
	}
	return nil
}

// produceChapter runs the draft-review-revise loop for one chapter and
// folds its summary into memory. Review and summary failures degrade; only
// generation failures abort.
func (p *Pipeline) produceChapter(ctx context.Context, ch *novel.Chapter) error {
	minWords, maxWords := p.setup.TargetWordRange()
	contextBlock := novel.BuildContext(ch, p.ledger, p.memorySummary(), p.cfg.RecentChapters)
	stm := p.ledger.ShortTermMemory(ch.Number, p.setup.ShortTermMemoryChapters, p.setup.ShortTermMemoryMaxChars)
	ltm := p.mem.LongTermMemoryText()

	nextOutline := ""
	if next, ok := p.ledger.Get(ch.Number + 1); ok {
		nextOutline = next.Outline
	}

	draft, err := p.writer.WriteChapter(ctx, ch, writer.DraftInput{
		Context:         contextBlock,
		ShortTermMemory: stm,
		LongTermMemory:  ltm,
		MinWords:        minWords,
		MaxWords:        maxWords,
		NextOutline:     nextOutline,
	})
	if err != nil {
		return err
	}
	ch.Content = draft

	for round := 0; round < p.cfg.MaxRounds; round++ {
		review, err := p.editor.ReviewContent(ctx, ch, contextBlock, stm, ltm, minWords, maxWords)
		if err != nil {
			p.logger.Warn("content review failed, keeping current draft",
				"chapter", ch.Number, "error", err)
			break
		}
		if p.accepted(review, ch.WordCount, minWords, maxWords) {
			p.logger.Info("chapter approved",
				"chapter", ch.Number,
				"round", round,
				"score", review.AverageScore)
			break
		}

		p.logger.Info("chapter needs revision",
			"chapter", ch.Number,
			"round", round,
			"score", review.AverageScore,
			"word_count", ch.WordCount)

		targeted := !writer.NeedsFullRewrite(ch.WordCount, minWords, maxWords)
		previous := ch.Content
		revised, err := p.writer.RefineChapter(ctx, ch, review.Feedback, minWords, maxWords)
		if err != nil {
			p.logger.Warn("revision failed, keeping current draft",
				"chapter", ch.Number, "error", err)
			break
		}
		ch.Content = revised

		if targeted && p.verifier != nil {
			p.verifyRevision(ctx, ch.Number, previous, revised, review.Feedback)
		}
	}

	rec := p.summarizer.Summarize(ctx, ch)
	p.mem.RecordSummary(rec)
	ch.Summary = rec.Summary
	ch.KeyEvents = rec.KeyEvents
	return nil
}

// maybeCompact runs memory compaction when the completed count hits the
// interval. Compaction is advisory; failures are logged and the run goes on.
func (p *Pipeline) maybeCompact(ctx context.Context, completed, chapter int) {
	if !p.compactor.ShouldCompact(completed) {
		return
	}
	stats, err := p.compactor.Compact(ctx, p.mem, p.ledger.RemainingOutline(chapter))
	if err != nil {
		p.logger.Warn("memory compaction failed", "error", err)
		return
	}
	if stats.Applied {
		if err := p.saveState(ctx); err != nil {
			p.logger.Warn("post-compaction save failed", "error", err)
		}
	}
}

// accepted is the single gate for finishing the refinement loop: editorial
// approval, a score over the threshold, and a word count inside the range.
func (p *Pipeline) accepted(review editor.Review, wordCount, minWords, maxWords int) bool {
	return review.Approved() &&
		review.AverageScore >= p.cfg.ApprovalThreshold &&
		wordCount >= minWords && wordCount <= maxWords
}

// verifyRevision is advisory only; its outcome never changes the content.
func (p *Pipeline) verifyRevision(ctx context.Context, chapter int, previous, revised, feedback string) {
	report, err := p.verifier.VerifyRevision(ctx, previous, revised, feedback)
	if err != nil {
		p.logger.Warn("revision verification failed", "chapter", chapter, "error", err)
		return
	}
	for _, point := range report.Points {
		if !point.Addressed {
			p.logger.Warn("feedback point may be unaddressed",
				"chapter", chapter,
				"point", point.Point,
				"similarity", fmt.Sprintf("%.2f", point.Similarity))
		}
	}
}

// memorySummary combines the rolling chapter summaries with the condensed
// long-term memory sections.
func (p *Pipeline) memorySummary() string {
	recent := p.mem.RecentMemoryText(p.cfg.MemoryMaxChars)
	longTerm := p.mem.LongTermMemoryText()
	switch {
	case recent == "" && longTerm == "":
		return "(no prior chapters)"
	case recent == "":
		return longTerm
	case longTerm == "":
		return recent
	default:
		return recent + "\n\n" + longTerm
	}
}

func (p *Pipeline) saveState(ctx context.Context) error {
	snap := &state.Snapshot{RunID: p.runID, Memory: p.mem.Snapshot()}
	for _, ch := range p.ledger.Chapters() {
		snap.Chapters = append(snap.Chapters, *ch)
	}
	return p.stateMgr.Save(ctx, snap)
}

// saveBestEffort records whatever progress exists when the run dies; the
// save error is only logged because the original failure matters more.
func (p *Pipeline) saveBestEffort() {
	if !p.ready {
		p.logger.Warn("skipping emergency save, no state restored or planned yet")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.saveState(ctx); err != nil {
		p.logger.Error("emergency state save failed", "error", err)
	}
}

// writeManuscript stitches every completed chapter into the final artifact.
func (p *Pipeline) writeManuscript(ctx context.Context) error {
	var b strings.Builder
	for _, ch := range p.ledger.Completed() {
		fmt.Fprintf(&b, "# Chapter %d: %s\n\n", ch.Number, ch.Title)
		b.WriteString(strings.TrimSpace(ch.Content))
		b.WriteString("\n\n" + chapterSeparator + "\n\n")
	}
	if err := p.store.Save(ctx, p.cfg.OutputFile, []byte(b.String())); err != nil {
		return fmt.Errorf("writing manuscript: %w", err)
	}
	p.logger.Info("manuscript written", "path", p.cfg.OutputFile)
	return nil
}
