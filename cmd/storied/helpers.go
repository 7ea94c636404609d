package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/edwardbensa/storiedbc-db/internal/blob"
	"github.com/edwardbensa/storiedbc-db/internal/config"
	"github.com/edwardbensa/storiedbc-db/internal/embed"
	"github.com/edwardbensa/storiedbc-db/internal/graph"
	"github.com/edwardbensa/storiedbc-db/internal/logging"
	"github.com/edwardbensa/storiedbc-db/internal/pipeline"
	"github.com/edwardbensa/storiedbc-db/internal/secure"
	"github.com/edwardbensa/storiedbc-db/internal/sheets"
	"github.com/edwardbensa/storiedbc-db/internal/store"
)

// Exit codes shared with the phase-skip protocol.
const (
	exitOK        = 0
	exitError     = 1
	exitNoNewData = 10
)

func mustConfig() *config.Config {
	if err := logging.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "storied: init logging: %v\n", err)
		os.Exit(exitError)
	}
	cfg, err := config.Load()
	if err != nil {
		fatal("load config", err)
	}
	return cfg
}

// openStores opens the staging and main document stores. The staging
// database lives next to the main one.
func openStores(cfg *config.Config) (*store.Store, *store.Store) {
	main, err := store.Open(cfg.Store.Path)
	if err != nil {
		fatal("open main store", err)
	}
	stagingPath := filepath.Join(filepath.Dir(cfg.Store.Path), "staging.db")
	staging, err := store.Open(stagingPath)
	if err != nil {
		main.Close()
		fatal("open staging store", err)
	}
	return staging, main
}

// newRunner wires the optional collaborators the configuration names.
// Commands that need a collaborator the config omits fail at use time
// with a clear error instead of at startup.
func newRunner(cfg *config.Config, staging, main *store.Store) *pipeline.Runner {
	r := pipeline.NewRunner(cfg, staging, main)

	if cfg.Sheets.ExportDir != "" {
		r.Source = sheets.NewCSVSpreadsheet(cfg.Sheets.ExportDir)
	}
	if cfg.Blob.ConnectionString != "" {
		blobs, err := blob.ConnectAzure(cfg.Blob.ConnectionString)
		if err != nil {
			fatal("connect blob storage", err)
		}
		r.Blobs = blobs
	}
	if cfg.KeyRegistryPath != "" {
		cipher, err := secure.Load(cfg.KeyRegistryPath)
		if err != nil {
			fatal("load key registry", err)
		}
		r.Cipher = cipher
	}
	r.Embedder = newEmbedder()
	return r
}

// newEmbedder returns the local embedding backend when it is running,
// nil otherwise. Books extracted without an embedder just skip the
// description embedding step.
func newEmbedder() embed.BatchEmbedder {
	endpoint := os.Getenv("OLLAMA_URL")
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	model := os.Getenv("OLLAMA_EMBED_MODEL")
	if model == "" {
		model = "nomic-embed-text"
	}

	e := embed.NewOllamaEmbedder(endpoint, model)
	if !e.Available() {
		logging.Warn("Embedding backend unavailable, descriptions will not be embedded",
			"endpoint", endpoint, "model", model)
		return nil
	}
	return e
}

// connectGraph opens a verified graph session. The caller owns both
// returned closers.
func connectGraph(ctx context.Context, cfg *config.Config) (*graph.DB, *graph.DriverSession) {
	db, err := graph.Connect(ctx, cfg.Graph.URI, cfg.Graph.User, cfg.Graph.Password)
	if err != nil {
		fatal("connect graph database", err)
	}
	return db, db.Session(ctx)
}

func fatal(what string, err error) {
	logging.Error("Command failed", "op", what, "err", err)
	fmt.Fprintf(os.Stderr, "storied: %s: %v\n", what, err)
	logging.Close()
	os.Exit(exitError)
}

func finish(code int) {
	logging.Close()
	os.Exit(code)
}
