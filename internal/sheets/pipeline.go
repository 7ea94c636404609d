package sheets

import (
	"context"
	"fmt"
	"time"

	"github.com/edwardbensa/storiedbc-db/internal/delta"
	"github.com/edwardbensa/storiedbc-db/internal/logging"
	"github.com/edwardbensa/storiedbc-db/internal/record"
	"github.com/edwardbensa/storiedbc-db/internal/retry"
	"github.com/edwardbensa/storiedbc-db/internal/store"
	"github.com/edwardbensa/storiedbc-db/internal/throttle"
	"github.com/edwardbensa/storiedbc-db/internal/work"
)

const pipelineName = "gsheet_sync"

// maxSheetWorkers caps concurrency against the spreadsheet API; its
// per-minute quota is shared across every worksheet read.
const maxSheetWorkers = 5

// Pipeline syncs spreadsheet groups into the staging store.
type Pipeline struct {
	Staging *store.Store
	Source  Spreadsheet
	DryRun  bool

	workers   int
	batchID   string
	timestamp time.Time
	throttle  *throttle.Throttle
	loadRetry retry.Policy
}

// NewPipeline wires a sync run against the staging store. One Pipeline
// serves one batch; every group synced through it shares a batch id.
func NewPipeline(staging *store.Store, source Spreadsheet, workers int, dryRun bool) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	if workers > maxSheetWorkers {
		workers = maxSheetWorkers
	}
	return &Pipeline{
		Staging:   staging,
		Source:    source,
		DryRun:    dryRun,
		workers:   workers,
		batchID:   time.Now().Format("20060102-150405"),
		timestamp: time.Now().UTC(),
		throttle:  throttle.New(2),
		loadRetry: retry.Policy{MaxAttempts: 5, Backoff: 2},
	}
}

// BatchID identifies this run in audit records.
func (p *Pipeline) BatchID() string { return p.batchID }

// loadSheet reads one worksheet, feeding observed latency back into the
// throttle so a slow API run self-paces.
func (p *Pipeline) loadSheet(ctx context.Context, name string) ([]record.Record, int, error) {
	var records []record.Record
	retries, err := p.loadRetry.Do(ctx, "load sheet "+name, func() error {
		if err := p.throttle.Wait(ctx); err != nil {
			return retry.Terminal(err)
		}
		start := time.Now()
		rows, err := p.Source.Records(ctx, name)
		if err != nil {
			return err
		}
		p.throttle.Observe(ctx, time.Since(start))
		records = rows
		return nil
	})
	return records, retries, err
}

// SyncSheet extracts one worksheet and applies its delta to the staging
// collection of the same name. Errors are recorded in the audit trail
// and absorbed so one bad sheet never aborts its group.
func (p *Pipeline) SyncSheet(ctx context.Context, name string) store.Stats {
	start := time.Now()
	logging.Info("Syncing sheet", "sheet", name)

	var stats store.Stats
	success := false
	defer func() {
		stats.DurationMS = int(time.Since(start).Milliseconds())
		if success {
			p.Staging.LogEvent(pipelineName, "upsert",
				fmt.Sprintf("Synced sheet '%s'", name), stats, record.Record{
					"sheet":    name,
					"source":   "gsheet",
					"target":   "staging",
					"batch_id": p.batchID,
				})
		}
	}()

	rows, retries, err := p.loadSheet(ctx, name)
	stats.RetryCount = retries
	if err != nil {
		logging.Error("Failed to load sheet", "sheet", name, "err", err)
		p.Staging.LogError(pipelineName, p.batchID, name, err,
			record.Record{"source": "gsheet", "target": "staging"})
		return stats
	}

	newList := delta.AddFingerprints(rows, IdentityFields[name])
	if len(newList) == 0 {
		logging.Warn("No records found in sheet", "sheet", name)
		return stats
	}

	oldList, err := p.Staging.Find(name, store.FindOptions{})
	if err != nil {
		logging.Error("Failed to fetch stored records", "sheet", name, "err", err)
		p.Staging.LogError(pipelineName, p.batchID, name, err,
			record.Record{"source": "gsheet", "target": "staging"})
		return stats
	}
	logging.Info("Found stored records", "sheet", name, "count", len(oldList))

	// First sync of this sheet: everything is new
	if len(oldList) == 0 {
		newList = delta.EnsureIDs(newList)
		if err := p.applyUpserts(name, newList); err != nil {
			p.Staging.LogError(pipelineName, p.batchID, name, err,
				record.Record{"source": "gsheet", "target": "staging"})
			return stats
		}
		stats.Inserted = len(newList)
		success = true
		return stats
	}

	if unchanged(oldList, newList) {
		logging.Info("Sheet unchanged, skipping", "sheet", name)
		success = true
		return stats
	}

	toUpsert, diff := delta.Classify(oldList, newList)

	if err := p.applyDeletions(name, diff.Deleted); err != nil {
		p.Staging.LogError(pipelineName, p.batchID, name, err,
			record.Record{"source": "gsheet", "target": "staging"})
		return stats
	}
	if len(toUpsert) > 0 {
		if err := p.applyUpserts(name, toUpsert); err != nil {
			p.Staging.LogError(pipelineName, p.batchID, name, err,
				record.Record{"source": "gsheet", "target": "staging"})
			return stats
		}
	}

	stats.Inserted = len(diff.New)
	stats.Updated = len(diff.Updated)
	stats.Removed = len(diff.Deleted)
	success = true
	return stats
}

// unchanged reports whether the stored snapshot already matches the
// sheet: same row count and the same content hash multiset.
func unchanged(oldList, newList []record.Record) bool {
	if len(oldList) != len(newList) {
		return false
	}
	oldHashes := map[string]int{}
	for _, doc := range oldList {
		if h := doc.GetString("full_hash"); h != "" {
			oldHashes[h]++
		}
	}
	for _, doc := range newList {
		h := doc.GetString("full_hash")
		if oldHashes[h] == 0 {
			return false
		}
		oldHashes[h]--
	}
	return true
}

func (p *Pipeline) applyUpserts(name string, docs []record.Record) error {
	if p.DryRun {
		logging.Info("[DRY RUN] Would upsert docs", "sheet", name, "count", len(docs))
		return nil
	}
	if _, err := p.Staging.Upsert(name, docs, p.timestamp); err != nil {
		return fmt.Errorf("upsert %s: %w", name, err)
	}
	return nil
}

func (p *Pipeline) applyDeletions(name string, removed []record.Record) error {
	for _, entry := range removed {
		if p.DryRun {
			logging.Info("[DRY RUN] Would archive and delete", "sheet", name, "id", entry.ID())
			continue
		}
		result, err := p.Staging.ArchiveDelete(name, entry.ID())
		if err != nil {
			return fmt.Errorf("archive delete %s/%s: %w", name, entry.ID(), err)
		}
		logging.Info("Removed record", "sheet", name, "id", entry.ID(),
			"archived", result.Archived, "deleted", result.Deleted)
	}
	return nil
}

// SyncGroup syncs a group of sheets concurrently and records one batch
// summary for the group.
func (p *Pipeline) SyncGroup(ctx context.Context, group Group) {
	start := time.Now()
	logging.Info("Syncing sheet group", "group", group.Name, "sheets", len(group.Sheets))

	results := make([]store.Stats, len(group.Sheets))
	tasks := make([]work.Task, len(group.Sheets))
	for i, name := range group.Sheets {
		i, name := i, name
		tasks[i] = work.Task{
			Name: name,
			Fn: func(ctx context.Context) error {
				results[i] = p.SyncSheet(ctx, name)
				return nil
			},
		}
	}
	work.NewPool(p.workers).Run(ctx, tasks)

	var inserted, updated, removed, retries int
	for _, r := range results {
		inserted += r.Inserted
		updated += r.Updated
		removed += r.Removed
		retries += r.RetryCount
	}

	p.Staging.InsertBatchSummary(record.Record{
		"pipeline":       pipelineName,
		"type":           "batch_summary",
		"batch_id":       p.batchID,
		"group":          group.Name,
		"sheets":         group.Sheets,
		"total_sheets":   len(group.Sheets),
		"total_inserted": inserted,
		"total_updated":  updated,
		"total_removed":  removed,
		"total_retries":  retries,
		"duration_ms":    int(time.Since(start).Milliseconds()),
	})
}

// SyncAll runs every sheet group in order.
func (p *Pipeline) SyncAll(ctx context.Context) error {
	for _, group := range Groups() {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.SyncGroup(ctx, group)
	}
	logging.Info("All sheet groups synced", "batch_id", p.batchID)
	return nil
}
