package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dotcommander/novelist/internal/agent"
	"github.com/dotcommander/novelist/internal/config"
	"github.com/dotcommander/novelist/internal/editor"
	"github.com/dotcommander/novelist/internal/memory"
	"github.com/dotcommander/novelist/internal/novel"
	"github.com/dotcommander/novelist/internal/pipeline"
	"github.com/dotcommander/novelist/internal/state"
	"github.com/dotcommander/novelist/internal/storage"
	"github.com/dotcommander/novelist/internal/structure"
	"github.com/dotcommander/novelist/internal/summarizer"
	"github.com/dotcommander/novelist/internal/verify"
	"github.com/dotcommander/novelist/internal/writer"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config.yaml (default: $NOVELIST_CONFIG or XDG config dir)")
		setupPath  = flag.String("setup", "setup.yaml", "path to the novel setup file")
		runDir     = flag.String("run-dir", "", "resume a previous run from this output directory")
		verbose    = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := run(*configPath, *setupPath, *runDir); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "interrupted; progress saved, rerun with -run-dir to resume")
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, setupPath, runDir string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setup, err := config.LoadSetup(setupPath)
	if err != nil {
		return err
	}

	runID := storage.NewRunID()
	if runDir == "" {
		runDir = filepath.Join(cfg.Save.OutputDir, storage.RunDir(setup.Synopsis, runID))
	}
	store := storage.NewFileSystem(runDir)

	client := agent.NewClient(cfg.AI.APIKey,
		agent.WithBaseURL(cfg.AI.BaseURL),
		agent.WithTimeout(time.Duration(cfg.AI.Timeout)*time.Second),
		agent.WithEmbeddingModel(cfg.AI.EmbeddingModel),
		agent.WithRateLimit(cfg.Retry.RequestsPerMinute, cfg.Retry.BurstSize),
		agent.WithRetryPolicy(agent.RetryPolicy{
			MaxAttempts:          cfg.Retry.MaxRetries,
			Delay:                cfg.Retry.RetryDelay,
			RateLimitMaxAttempts: cfg.Retry.RateLimitMaxRetries,
			RateLimitDelay:       cfg.Retry.RateLimitDelay,
		}),
	)

	ledger := novel.NewLedger()
	mem := memory.NewStore(setup.Characters)

	p := pipeline.New(
		setup,
		pipeline.Config{
			RecentChapters:    cfg.Context.RecentChapters,
			MemoryMaxChars:    cfg.Context.MemoryMaxChars,
			MaxRounds:         cfg.Refinement.MaxRounds,
			ApprovalThreshold: cfg.Refinement.ApprovalThreshold,
			AutoSaveInterval:  cfg.Save.AutoSaveInterval,
			OutputFile:        cfg.Save.OutputFile,
		},
		ledger,
		mem,
		writer.New(client, writer.Config{
			Model:               cfg.AI.WriterModel,
			Temperature:         cfg.Generation.WriterTemperature,
			MaxGenerationTokens: cfg.Generation.MaxGenerationTokens,
		}, setup),
		editor.New(client, editor.Config{
			Model:          cfg.AI.EditorModel,
			Temperature:    cfg.Generation.EditorTemperature,
			MaxTokens:      cfg.Generation.MaxReviewTokens,
			MaxReviewChars: cfg.Context.ReviewMaxChars,
		}, setup),
		summarizer.New(client, summarizer.Config{
			Model:       cfg.AI.EditorModel,
			Temperature: cfg.Generation.SummarizerTemperature,
			MaxTokens:   cfg.Generation.MaxReviewTokens,
		}),
		structure.New(client, structure.Config{
			Model:       cfg.AI.WriterModel,
			Temperature: cfg.Generation.WriterTemperature,
			MaxTokens:   cfg.Generation.MaxGenerationTokens,
		}, setup),
		memory.NewCompactor(client, memory.CompactorConfig{
			Model:              cfg.AI.EditorModel,
			Temperature:        cfg.Generation.CompactorTemperature,
			MaxTokens:          cfg.Generation.MaxReviewTokens,
			Interval:           cfg.Memory.CompactionInterval,
			MaxCharacterEvents: cfg.Memory.MaxCharacterEvents,
			MaxPlotThreads:     cfg.Memory.MaxPlotThreads,
		}, setup),
		verify.New(client, cfg.Refinement.VerifyThreshold),
		state.NewManager(store, cfg.Save.StateFile),
		store,
		runID,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return p.Run(ctx)
}
