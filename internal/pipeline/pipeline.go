// Package pipeline sequences the sync phases: spreadsheet extraction,
// staging-to-main transformation and load, image sync, and the graph
// projection. Phases communicate through staged JSON deltas and the
// ErrNoNewData sentinel.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/edwardbensa/storiedbc-db/internal/blob"
	"github.com/edwardbensa/storiedbc-db/internal/config"
	"github.com/edwardbensa/storiedbc-db/internal/embed"
	"github.com/edwardbensa/storiedbc-db/internal/graph"
	"github.com/edwardbensa/storiedbc-db/internal/graphprep"
	"github.com/edwardbensa/storiedbc-db/internal/logging"
	"github.com/edwardbensa/storiedbc-db/internal/lookup"
	"github.com/edwardbensa/storiedbc-db/internal/record"
	"github.com/edwardbensa/storiedbc-db/internal/retry"
	"github.com/edwardbensa/storiedbc-db/internal/secure"
	"github.com/edwardbensa/storiedbc-db/internal/sheets"
	"github.com/edwardbensa/storiedbc-db/internal/stage"
	"github.com/edwardbensa/storiedbc-db/internal/store"
	"github.com/edwardbensa/storiedbc-db/internal/transform"
	"github.com/edwardbensa/storiedbc-db/internal/work"
)

// ErrNoNewData signals that a transform phase found nothing to process.
// The runner skips the dependent load phases and the CLI maps it to
// exit code 10.
var ErrNoNewData = errors.New("no new data to process")

// Sync-state keys, one watermark per downstream target.
const (
	MainSyncKey = "main_sync"
	AuraSyncKey = "auradb_sync"
)

// Runner owns the collaborators for one pipeline run. Connections are
// explicit fields, wired by the caller.
type Runner struct {
	Cfg      *config.Config
	Staging  *store.Store
	Main     *store.Store
	Source   sheets.Spreadsheet
	Graph    graph.Session
	Blobs    blob.Store
	Cipher   *secure.Cipher
	Embedder embed.BatchEmbedder

	batchID   string
	timestamp time.Time
}

// NewRunner stamps a fresh batch id and timestamp for the run.
func NewRunner(cfg *config.Config, staging, main *store.Store) *Runner {
	return &Runner{
		Cfg:       cfg,
		Staging:   staging,
		Main:      main,
		batchID:   time.Now().Format("20060102-150405"),
		timestamp: time.Now().UTC(),
	}
}

// BatchID identifies this run in audit records.
func (r *Runner) BatchID() string { return r.batchID }

func (r *Runner) stagingDir() string { return filepath.Join(r.Cfg.Store.StageDir, "staging") }
func (r *Runner) mainDir() string    { return filepath.Join(r.Cfg.Store.StageDir, "main") }
func (r *Runner) auraDir() string    { return filepath.Join(r.Cfg.Store.StageDir, "aura") }

// bookkeeping collections never travel between stores as entity deltas.
var bookkeeping = []string{
	store.DeletionsCollection, store.SyncStates,
	store.Logs, store.BatchSummaries, store.Metadata,
}

// Extract syncs every spreadsheet group into the staging store.
func (r *Runner) Extract(ctx context.Context) error {
	if r.Source == nil {
		return fmt.Errorf("extract: no spreadsheet source configured")
	}
	p := sheets.NewPipeline(r.Staging, r.Source, r.Cfg.Pipeline.Workers, r.Cfg.Pipeline.DryRun)
	return p.SyncAll(ctx)
}

// StagingToMain downloads the staging delta since the main watermark and
// transforms it into main-shaped collections. Returns ErrNoNewData when
// the staging store holds nothing new.
func (r *Runner) StagingToMain(ctx context.Context) error {
	since, err := r.Main.LoadSyncState(MainSyncKey)
	if err != nil {
		return fmt.Errorf("load main sync state: %w", err)
	}

	logging.Info("Fetching staging delta", "since", since)
	files, err := stage.Download(r.Staging, r.stagingDir(), bookkeeping, since)
	if err != nil {
		return fmt.Errorf("download staging delta: %w", err)
	}
	if files == 0 {
		logging.Info("No new data found in staging, signalling early stop")
		return ErrNoNewData
	}

	tctx, err := r.buildTransformContext(since)
	if err != nil {
		return err
	}

	if err := transform.Run(r.stagingDir(), r.mainDir(), tctx); err != nil {
		return fmt.Errorf("transform staging delta: %w", err)
	}

	if err := transform.RemoveCustomIDs(r.mainDir(), transform.CleanupMap); err != nil {
		return err
	}
	if err := transform.SetCustomIDs(r.mainDir(), transform.CustomIDMap); err != nil {
		return err
	}
	logging.Info("Staging delta transformed", "collections", files)
	return nil
}

// buildTransformContext assembles the lookup maps and reference slices
// the per-collection transforms need.
func (r *Runner) buildTransformContext(since time.Time) (*transform.Context, error) {
	// Raw books that belong to a series, for series membership rollups
	allBooks, err := r.Staging.Find("books", store.FindOptions{})
	if err != nil {
		return nil, fmt.Errorf("fetch staging books: %w", err)
	}
	var seriesBooks []record.Record
	for _, b := range allBooks {
		if b.GetString("series") != "" {
			seriesBooks = append(seriesBooks, b)
		}
	}

	// Editions referenced by the changed reads, for read-rate derivation
	readUpdates, err := r.Staging.Find("user_reads", store.FindOptions{Since: since})
	if err != nil {
		return nil, fmt.Errorf("fetch user read updates: %w", err)
	}
	versionIDs := map[string]bool{}
	for _, ur := range readUpdates {
		versionIDs[ur.GetString("version_id")] = true
	}
	allVersions, err := r.Staging.Find("book_versions", store.FindOptions{})
	if err != nil {
		return nil, fmt.Errorf("fetch staging book versions: %w", err)
	}
	var versions []record.Record
	for _, v := range allVersions {
		if versionIDs[v.GetString("version_id")] {
			versions = append(versions, v)
		}
	}

	lookups, err := lookup.Build(r.Staging, transform.LookupRegistry(), r.stagingDir())
	if err != nil {
		return nil, fmt.Errorf("build lookup maps: %w", err)
	}
	logging.Info("Lookup and subdocument registries created")

	return &transform.Context{
		Lookups:        lookups,
		Subdocs:        transform.SubdocRegistry(lookups),
		Books:          seriesBooks,
		BookVersions:   versions,
		BlobAccount:    r.Cfg.Blob.Account,
		CoverContainer: r.Cfg.Blob.Container,
		Cipher:         r.Cipher,
		Now:            r.timestamp,
	}, nil
}

// LoadMain bulk-loads the transformed collections into the main store,
// replays staging tombstones, and advances the main watermark.
func (r *Runner) LoadMain(ctx context.Context) error {
	since, err := r.Main.LoadSyncState(MainSyncKey)
	if err != nil {
		return fmt.Errorf("load main sync state: %w", err)
	}

	collections, err := stage.List(r.mainDir())
	if err != nil {
		return fmt.Errorf("list transformed collections: %w", err)
	}
	if len(collections) == 0 {
		logging.Warn("No transformed collections found to load")
		return nil
	}
	logging.Info("Loading transformed collections", "count", len(collections))

	start := time.Now()
	results := make([]store.Stats, len(collections))
	tasks := make([]work.Task, len(collections))
	for i, name := range collections {
		i, name := i, name
		tasks[i] = work.Task{
			Name: name,
			Fn: func(ctx context.Context) error {
				results[i] = r.loadCollection(ctx, name)
				return nil
			},
		}
	}
	work.NewPool(r.Cfg.Pipeline.Workers).Run(ctx, tasks)

	removed, err := store.PropagateDeletions(r.Staging, r.Main, since)
	if err != nil {
		return fmt.Errorf("propagate deletions: %w", err)
	}

	var inserted, updated, retries int
	for _, s := range results {
		inserted += s.Inserted
		updated += s.Updated
		retries += s.RetryCount
	}
	r.Main.InsertBatchSummary(record.Record{
		"pipeline":          "load_main",
		"type":              "batch_summary",
		"batch_id":          r.batchID,
		"collections":       collections,
		"total_collections": len(collections),
		"total_inserted":    inserted,
		"total_updated":     updated,
		"total_removed":     removed,
		"total_retries":     retries,
		"duration_ms":       int(time.Since(start).Milliseconds()),
	})

	if err := r.Main.UpdateSyncState(MainSyncKey, r.timestamp, r.batchID); err != nil {
		return fmt.Errorf("update main sync state: %w", err)
	}
	logging.Info("All transformed collections loaded", "batch_id", r.batchID)
	return nil
}

// loadCollection upserts one staged collection into the main store.
// Failures land in the audit trail and the load moves on.
func (r *Runner) loadCollection(ctx context.Context, name string) store.Stats {
	start := time.Now()
	var stats store.Stats

	docs, err := stage.Read(r.mainDir(), name)
	if err != nil || len(docs) == 0 {
		if err != nil {
			logging.Error("Failed to read staged collection", "collection", name, "err", err)
			r.Main.LogError("load_main", r.batchID, name, err,
				record.Record{"source": "stage", "target": "main"})
		}
		return stats
	}

	if r.Cfg.Pipeline.DryRun {
		logging.Info("[DRY RUN] Would upsert docs", "collection", name, "count", len(docs))
		return stats
	}

	policy := retry.Policy{MaxAttempts: r.Cfg.Pipeline.MaxRetries, Backoff: 2}
	var result store.UpsertResult
	retries, err := policy.Do(ctx, "load "+name, func() error {
		var upsertErr error
		result, upsertErr = r.Main.Upsert(name, docs, r.timestamp)
		if upsertErr != nil {
			return retry.Transient(upsertErr)
		}
		return nil
	})
	stats.RetryCount = retries
	stats.DurationMS = int(time.Since(start).Milliseconds())
	if err != nil {
		logging.Error("Failed to load collection", "collection", name, "err", err)
		r.Main.LogError("load_main", r.batchID, name, err,
			record.Record{"source": "stage", "target": "main"})
		return stats
	}

	stats.Inserted = result.Inserted
	stats.Updated = result.Updated
	r.Main.LogEvent("load_main", "upsert",
		fmt.Sprintf("Loaded collection '%s'", name), stats,
		record.Record{"collection": name, "batch_id": r.batchID})
	return stats
}

// SyncImages reconciles cover art in blob storage against the staged
// edition delta.
func (r *Runner) SyncImages(ctx context.Context) error {
	if r.Blobs == nil {
		logging.Warn("No blob store configured, skipping image sync")
		return nil
	}

	versions, err := stage.Read(r.stagingDir(), "book_versions")
	if err != nil {
		return fmt.Errorf("read staged editions: %w", err)
	}
	if len(versions) == 0 {
		logging.Info("No staged editions, skipping image sync")
		return nil
	}

	manifest := blob.BuildManifest(versions, "cover_url", "cover")
	syncer := blob.NewSyncer(r.Blobs)
	if err := syncer.Sync(ctx, r.Main, r.Cfg.Blob.Container, "cover", manifest); err != nil {
		return fmt.Errorf("sync cover images: %w", err)
	}
	logging.Info("Images synced to blob storage", "manifest", len(manifest))
	return nil
}

// MainToAura extracts the main-store delta since the graph watermark,
// enriches it, and stages graph-ready JSON. Returns ErrNoNewData when
// the graph is already in sync.
func (r *Runner) MainToAura(ctx context.Context) error {
	start := time.Now()
	since, err := r.Main.LoadSyncState(AuraSyncKey)
	if err != nil {
		return fmt.Errorf("load graph sync state: %w", err)
	}

	results, total, err := graphprep.Extract(r.Main, since)
	if err != nil {
		r.Main.LogError("auradb_extract", r.batchID, "extract", err, nil)
		return fmt.Errorf("extract graph delta: %w", err)
	}
	if total == 0 {
		logging.Info("No new data found in main, signalling early stop")
		return ErrNoNewData
	}

	results = graphprep.Enrich(ctx, results, r.Cipher, r.Embedder, r.timestamp)

	written := 0
	for name, docs := range results {
		if len(docs) == 0 {
			continue
		}
		if err := stage.Write(r.auraDir(), name, docs); err != nil {
			r.Main.LogError("auradb_extract", r.batchID, "save_file", err,
				record.Record{"collection": name})
			return fmt.Errorf("stage %s for graph load: %w", name, err)
		}
		written += len(docs)
	}

	stats := store.Stats{Inserted: written, DurationMS: int(time.Since(start).Milliseconds())}
	r.Main.LogEvent("auradb_extract", "extract",
		"Extracted and transformed main data for the graph load", stats,
		record.Record{"batch_id": r.batchID})
	r.Main.InsertBatchSummary(record.Record{
		"pipeline":      "auradb_extract",
		"type":          "batch_summary",
		"batch_id":      r.batchID,
		"total_files":   len(results),
		"total_records": written,
		"duration_ms":   stats.DurationMS,
	})
	return nil
}

// auraCollections are the staged files the graph load consumes.
var auraCollections = []string{
	"books", "book_versions", "book_series", "genres", "awards",
	"creators", "creator_roles", "publishers", "formats", "languages",
	"users", "clubs", "user_badges", "club_badges", "countries",
	"user_reads", "book_awards", "club_period_books",
}

// LoadAura projects the staged graph delta into the graph database:
// constraints, tombstone replay, node upserts, the full edge catalogue,
// then property cleanup and dedup repair.
func (r *Runner) LoadAura(ctx context.Context) error {
	if r.Graph == nil {
		return fmt.Errorf("load graph: no graph session configured")
	}
	start := time.Now()

	since, err := r.Main.LoadSyncState(AuraSyncKey)
	if err != nil {
		return fmt.Errorf("load graph sync state: %w", err)
	}

	data := map[string][]record.Record{}
	for _, name := range auraCollections {
		docs, err := stage.Read(r.auraDir(), name)
		if err != nil {
			return fmt.Errorf("read staged %s: %w", name, err)
		}
		data[name] = docs
	}

	if err := graph.EnsureConstraints(ctx, r.Graph); err != nil {
		return err
	}

	tombstones, err := r.Main.DeletionsSince(since)
	if err != nil {
		return fmt.Errorf("fetch tombstones: %w", err)
	}
	if _, err := graph.SyncDeletions(ctx, r.Graph, tombstones); err != nil {
		r.Main.LogError("auradb_sync", r.batchID, "sync_deletions", err, nil)
		return err
	}

	nodeStats, err := r.loadNodes(ctx, data)
	if err != nil {
		return err
	}

	relRetries, err := r.loadRelationships(ctx, data)
	if err != nil {
		return err
	}

	if err := graph.CleanupProperties(ctx, r.Graph); err != nil {
		r.Main.LogError("auradb_sync", r.batchID, "cleanup", err, nil)
		return err
	}
	for _, label := range graph.LabelMap {
		if _, err := graph.DeduplicateNodes(ctx, r.Graph, label); err != nil {
			r.Main.LogError("auradb_sync", r.batchID, "deduplicate", err,
				record.Record{"label": label})
			return err
		}
	}

	if err := r.Main.UpdateSyncState(AuraSyncKey, r.timestamp, r.batchID); err != nil {
		return fmt.Errorf("update graph sync state: %w", err)
	}

	r.Main.InsertBatchSummary(record.Record{
		"pipeline":            "auradb_sync",
		"type":                "batch_summary",
		"batch_id":            r.batchID,
		"total_nodes":         nodeStats.Inserted,
		"total_relationships": 0,
		"total_retries":       nodeStats.RetryCount + relRetries,
		"duration_ms":         int(time.Since(start).Milliseconds()),
	})
	logging.Info("Graph sync completed", "batch_id", r.batchID)
	return nil
}

// loadNodes upserts every node label with bounded retry and a per-label
// audit event.
func (r *Runner) loadNodes(ctx context.Context, data map[string][]record.Record) (store.Stats, error) {
	var stats store.Stats
	policy := retry.Policy{MaxAttempts: r.Cfg.Pipeline.MaxRetries, Backoff: 2}

	for _, collection := range []string{
		"books", "book_versions", "book_series", "genres", "awards",
		"creators", "creator_roles", "publishers", "formats", "languages",
		"users", "clubs", "user_badges", "club_badges", "countries",
	} {
		label := graph.LabelMap[collection]
		rows := data[collection]
		if len(rows) == 0 {
			continue
		}

		nodeStart := time.Now()
		retries, err := policy.Do(ctx, "upsert "+label+" nodes", func() error {
			return retry.Transient(graph.UpsertNodes(ctx, r.Graph, label, rows))
		})
		stats.RetryCount += retries
		if err != nil {
			r.Main.LogError("auradb_sync", r.batchID, "load_nodes", err,
				record.Record{"label": label})
			return stats, fmt.Errorf("load %s nodes: %w", label, err)
		}

		stats.Inserted += len(rows)
		r.Main.LogEvent("auradb_sync", "upsert_nodes",
			fmt.Sprintf("Upserted nodes for label '%s'", label),
			store.Stats{
				Inserted:   len(rows),
				DurationMS: int(time.Since(nodeStart).Milliseconds()),
				RetryCount: retries,
			},
			record.Record{"label": label, "batch_id": r.batchID})
	}
	return stats, nil
}

// loadRelationships builds the full edge catalogue, then the edges that
// need dedicated handling: reading statuses, badges, awards, and club
// selections.
func (r *Runner) loadRelationships(ctx context.Context, data map[string][]record.Record) (int, error) {
	start := time.Now()
	policy := retry.Policy{MaxAttempts: r.Cfg.Pipeline.MaxRetries, Backoff: 2}
	totalRetries := 0

	run := func(stage string, fn func() error) error {
		retries, err := policy.Do(ctx, stage, func() error {
			return retry.Transient(fn())
		})
		totalRetries += retries
		if err != nil {
			r.Main.LogError("auradb_sync", r.batchID, stage, err, nil)
			return fmt.Errorf("%s: %w", stage, err)
		}
		return nil
	}

	for _, edge := range graph.EdgeCatalog(data) {
		edge := edge
		if err := run("refresh "+edge.Rel, func() error {
			return graph.RefreshEdges(ctx, r.Graph, edge)
		}); err != nil {
			return totalRetries, err
		}
	}

	if len(data["user_reads"]) > 0 {
		if err := run("reading status edges", func() error {
			return graph.ReadingStatusEdges(ctx, r.Graph, data["user_reads"])
		}); err != nil {
			return totalRetries, err
		}
	}
	if len(data["users"]) > 0 {
		if err := run("user badge edges", func() error {
			return graph.BadgeEdges(ctx, r.Graph, data["users"], "User")
		}); err != nil {
			return totalRetries, err
		}
	}
	if len(data["clubs"]) > 0 {
		if err := run("club badge edges", func() error {
			return graph.BadgeEdges(ctx, r.Graph, data["clubs"], "Club")
		}); err != nil {
			return totalRetries, err
		}
	}
	if len(data["book_awards"]) > 0 {
		if err := run("book award edges", func() error {
			return graph.BookAwardEdges(ctx, r.Graph, data["books"], data["book_awards"])
		}); err != nil {
			return totalRetries, err
		}
	}
	if len(data["club_period_books"]) > 0 {
		if err := run("club selection edges", func() error {
			return graph.ClubBookEdges(ctx, r.Graph, data["club_period_books"])
		}); err != nil {
			return totalRetries, err
		}
	}

	r.Main.LogEvent("auradb_sync", "relationships",
		"Created relationships in the graph database",
		store.Stats{
			DurationMS: int(time.Since(start).Milliseconds()),
			RetryCount: totalRetries,
		},
		record.Record{"batch_id": r.batchID})
	return totalRetries, nil
}

// Run executes the full pipeline. A phase reporting ErrNoNewData skips
// its dependent loads; any other error aborts the run.
func (r *Runner) Run(ctx context.Context) error {
	for _, dir := range []string{r.stagingDir(), r.mainDir(), r.auraDir()} {
		if err := stage.Wipe(dir); err != nil {
			return fmt.Errorf("wipe stage directory %s: %w", dir, err)
		}
	}

	if err := r.Extract(ctx); err != nil {
		return fmt.Errorf("extract phase: %w", err)
	}

	switch err := r.StagingToMain(ctx); {
	case err == nil:
		if err := r.LoadMain(ctx); err != nil {
			return fmt.Errorf("main load phase: %w", err)
		}
		if err := r.SyncImages(ctx); err != nil {
			return fmt.Errorf("image sync phase: %w", err)
		}
	case errors.Is(err, ErrNoNewData):
		logging.Info("No staging updates, skipping main load and image sync")
	default:
		return fmt.Errorf("staging transform phase: %w", err)
	}

	switch err := r.MainToAura(ctx); {
	case err == nil:
		if err := r.LoadAura(ctx); err != nil {
			return fmt.Errorf("graph load phase: %w", err)
		}
	case errors.Is(err, ErrNoNewData):
		logging.Info("Graph database is already in sync with main")
	default:
		return fmt.Errorf("graph transform phase: %w", err)
	}

	return nil
}
