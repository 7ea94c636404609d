package main

import (
	"context"
	"errors"
	"flag"
	"os"

	"github.com/edwardbensa/storiedbc-db/internal/logging"
	"github.com/edwardbensa/storiedbc-db/internal/pipeline"
)

// runSync executes the full pipeline. Empty-delta phases are skipped
// inside the runner, so the exit code is plain success or failure.
func runSync() {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	dryRun := fs.Bool("dry-run", false, "Log writes without applying them")
	fs.Parse(os.Args[1:])

	cfg := mustConfig()
	if *dryRun {
		cfg.Pipeline.DryRun = true
	}

	staging, main := openStores(cfg)
	defer staging.Close()
	defer main.Close()

	ctx := context.Background()
	r := newRunner(cfg, staging, main)

	db, session := connectGraph(ctx, cfg)
	defer db.Close(ctx)
	defer session.Close(ctx)
	r.Graph = session

	if err := r.Run(ctx); err != nil {
		fatal("run pipeline", err)
	}
	logging.Info("Pipeline complete", "batch_id", r.BatchID())
	finish(exitOK)
}

func runExtract() {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	dryRun := fs.Bool("dry-run", false, "Log writes without applying them")
	fs.Parse(os.Args[1:])

	cfg := mustConfig()
	if *dryRun {
		cfg.Pipeline.DryRun = true
	}

	staging, main := openStores(cfg)
	defer staging.Close()
	defer main.Close()

	r := newRunner(cfg, staging, main)
	if err := r.Extract(context.Background()); err != nil {
		fatal("extract", err)
	}
	finish(exitOK)
}

// runStageToMain transforms the staging delta. Exits 10 when staging
// holds nothing new, so callers can skip the dependent load phases.
func runStageToMain() {
	flag.NewFlagSet("stage2main", flag.ExitOnError).Parse(os.Args[1:])

	cfg := mustConfig()
	staging, main := openStores(cfg)
	defer staging.Close()
	defer main.Close()

	r := newRunner(cfg, staging, main)
	err := r.StagingToMain(context.Background())
	if errors.Is(err, pipeline.ErrNoNewData) {
		finish(exitNoNewData)
	}
	if err != nil {
		fatal("stage2main", err)
	}
	finish(exitOK)
}

func runLoadMain() {
	fs := flag.NewFlagSet("loadmain", flag.ExitOnError)
	dryRun := fs.Bool("dry-run", false, "Log writes without applying them")
	fs.Parse(os.Args[1:])

	cfg := mustConfig()
	if *dryRun {
		cfg.Pipeline.DryRun = true
	}

	staging, main := openStores(cfg)
	defer staging.Close()
	defer main.Close()

	r := newRunner(cfg, staging, main)
	if err := r.LoadMain(context.Background()); err != nil {
		fatal("loadmain", err)
	}
	finish(exitOK)
}

func runImages() {
	flag.NewFlagSet("images", flag.ExitOnError).Parse(os.Args[1:])

	cfg := mustConfig()
	staging, main := openStores(cfg)
	defer staging.Close()
	defer main.Close()

	r := newRunner(cfg, staging, main)
	if err := r.SyncImages(context.Background()); err != nil {
		fatal("images", err)
	}
	finish(exitOK)
}

// runGraphPrep stages the main-store delta for the graph load. Exits 10
// when the graph is already in sync.
func runGraphPrep() {
	flag.NewFlagSet("graphprep", flag.ExitOnError).Parse(os.Args[1:])

	cfg := mustConfig()
	staging, main := openStores(cfg)
	defer staging.Close()
	defer main.Close()

	r := newRunner(cfg, staging, main)
	err := r.MainToAura(context.Background())
	if errors.Is(err, pipeline.ErrNoNewData) {
		finish(exitNoNewData)
	}
	if err != nil {
		fatal("graphprep", err)
	}
	finish(exitOK)
}

func runGraphSync() {
	flag.NewFlagSet("graphsync", flag.ExitOnError).Parse(os.Args[1:])

	cfg := mustConfig()
	staging, main := openStores(cfg)
	defer staging.Close()
	defer main.Close()

	ctx := context.Background()
	r := newRunner(cfg, staging, main)

	db, session := connectGraph(ctx, cfg)
	defer db.Close(ctx)
	defer session.Close(ctx)
	r.Graph = session

	if err := r.LoadAura(ctx); err != nil {
		fatal("graphsync", err)
	}
	finish(exitOK)
}
