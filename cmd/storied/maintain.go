package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/edwardbensa/storiedbc-db/internal/graph"
	"github.com/edwardbensa/storiedbc-db/internal/logging"
	"github.com/edwardbensa/storiedbc-db/internal/secure"
	"github.com/edwardbensa/storiedbc-db/internal/stage"
	"github.com/edwardbensa/storiedbc-db/internal/store"
)

// Audit retention windows.
const (
	logRetention     = 60 * 24 * time.Hour
	summaryRetention = 90 * 24 * time.Hour
)

func runSetup() {
	flag.NewFlagSet("setup", flag.ExitOnError).Parse(os.Args[1:])

	cfg := mustConfig()
	ctx := context.Background()

	db, session := connectGraph(ctx, cfg)
	defer db.Close(ctx)
	defer session.Close(ctx)

	if err := graph.EnsureConstraints(ctx, session); err != nil {
		fatal("setup", err)
	}
	logging.Info("Graph constraints verified")
	finish(exitOK)
}

func runDedupe() {
	fs := flag.NewFlagSet("dedupe", flag.ExitOnError)
	label := fs.String("label", "", "Deduplicate one label only (default: all)")
	fs.Parse(os.Args[1:])

	cfg := mustConfig()
	ctx := context.Background()

	db, session := connectGraph(ctx, cfg)
	defer db.Close(ctx)
	defer session.Close(ctx)

	labels := make([]string, 0, len(graph.LabelMap))
	if *label != "" {
		labels = append(labels, *label)
	} else {
		for _, l := range graph.LabelMap {
			labels = append(labels, l)
		}
	}

	total := 0
	for _, l := range labels {
		deleted, err := graph.DeduplicateNodes(ctx, session, l)
		if err != nil {
			fatal("dedupe", err)
		}
		total += deleted
	}
	fmt.Printf("Removed %d duplicate nodes\n", total)
	finish(exitOK)
}

func runRotate() {
	flag.NewFlagSet("rotate", flag.ExitOnError).Parse(os.Args[1:])

	cfg := mustConfig()
	if cfg.KeyRegistryPath == "" {
		fatal("rotate", fmt.Errorf("no key registry configured"))
	}
	cipher, err := secure.Load(cfg.KeyRegistryPath)
	if err != nil {
		fatal("load key registry", err)
	}

	main, err := store.Open(cfg.Store.Path)
	if err != nil {
		fatal("open main store", err)
	}
	defer main.Close()

	rotated, err := secure.RotateUsers(main, cipher, time.Now().UTC())
	if err != nil {
		fatal("rotate", err)
	}
	fmt.Printf("Rotated %d user documents to key version %s\n", rotated, cipher.LatestVersion())
	finish(exitOK)
}

func runSweep() {
	flag.NewFlagSet("sweep", flag.ExitOnError).Parse(os.Args[1:])

	cfg := mustConfig()
	staging, main := openStores(cfg)
	defer staging.Close()
	defer main.Close()

	stagingRemoved, err := staging.RetentionSweep(logRetention, summaryRetention)
	if err != nil {
		fatal("sweep staging store", err)
	}
	mainRemoved, err := main.RetentionSweep(logRetention, summaryRetention)
	if err != nil {
		fatal("sweep main store", err)
	}
	fmt.Printf("Pruned %d aged audit records\n", stagingRemoved+mainRemoved)
	finish(exitOK)
}

func runWipe() {
	fs := flag.NewFlagSet("wipe", flag.ExitOnError)
	confirm := fs.Bool("yes", false, "Confirm wiping all local state")
	fs.Parse(os.Args[1:])

	if !*confirm {
		fmt.Fprintln(os.Stderr, "storied wipe removes all local store data. Re-run with -yes to confirm.")
		os.Exit(exitError)
	}

	cfg := mustConfig()
	staging, main := openStores(cfg)
	defer staging.Close()
	defer main.Close()

	if err := staging.WipeAll(); err != nil {
		fatal("wipe staging store", err)
	}
	if err := main.WipeAll(); err != nil {
		fatal("wipe main store", err)
	}
	for _, sub := range []string{"staging", "main", "aura"} {
		if err := stage.Wipe(filepath.Join(cfg.Store.StageDir, sub)); err != nil {
			fatal("wipe stage directory", err)
		}
	}
	logging.Info("Local state wiped")
	finish(exitOK)
}
