package store

import (
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/edwardbensa/storiedbc-db/internal/logging"
	"github.com/edwardbensa/storiedbc-db/internal/record"
)

// Stats are the per-operation counters carried on audit events.
type Stats struct {
	Inserted   int
	Updated    int
	Removed    int
	DurationMS int
	RetryCount int
}

// LogEvent persists a structured audit event into the logs collection.
// Audit failures are logged and swallowed; they never fail the batch
// that produced them.
func (s *Store) LogEvent(pipeline, logType, message string, stats Stats, context record.Record) {
	doc := record.Record{
		"_id":        uuid.NewString(),
		"timestamp":  time.Now().UTC(),
		"pipeline":   pipeline,
		"type":       logType,
		"message":    message,
		"inserted":   stats.Inserted,
		"updated":    stats.Updated,
		"removed":    stats.Removed,
		"duration_ms": stats.DurationMS,
		"retry_count": stats.RetryCount,
		"context":    context,
	}
	if _, err := s.Upsert(Logs, []record.Record{doc}, time.Now().UTC()); err != nil {
		logging.Error("Failed to write audit log", "pipeline", pipeline, "err", err)
	}
}

// LogError persists a structured error event into the logs collection,
// including a stack trace for the failing call site.
func (s *Store) LogError(pipeline, batchID, stage string, cause error, context record.Record) {
	doc := record.Record{
		"_id":           uuid.NewString(),
		"timestamp":     time.Now().UTC(),
		"pipeline":      pipeline,
		"type":          "error",
		"batch_id":      batchID,
		"stage":         stage,
		"error_message": cause.Error(),
		"stack_trace":   string(debug.Stack()),
		"context":       context,
	}
	if _, err := s.Upsert(Logs, []record.Record{doc}, time.Now().UTC()); err != nil {
		logging.Error("Failed to write audit error log", "pipeline", pipeline, "err", err)
	}
}

// InsertBatchSummary persists a per-run rollup into the batch_summaries
// collection. Every run emits one regardless of outcome, so each run is
// auditable.
func (s *Store) InsertBatchSummary(summary record.Record) {
	doc := summary.Clone()
	if doc.ID() == "" {
		doc["_id"] = uuid.NewString()
	}
	doc["timestamp"] = time.Now().UTC()
	if _, err := s.Upsert(BatchSummaries, []record.Record{doc}, time.Now().UTC()); err != nil {
		logging.Error("Failed to write batch summary", "err", err)
	}
}
