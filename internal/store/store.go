// Package store provides SQLite persistence for the document side of the
// sync pipeline: per-entity collections, deletion tombstones, sync-state
// watermarks, and the audit log collections.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/edwardbensa/storiedbc-db/internal/record"
)

// Collections reserved for pipeline bookkeeping rather than entity data.
const (
	DeletionsCollection = "deletions"
	SyncStates          = "sync_states"
	Logs                = "logs"
	BatchSummaries      = "batch_summaries"
	Metadata            = "metadata"
)

// DefaultSyncEpoch is the sentinel watermark returned when a pipeline has
// no stored sync state. Guarantees the first run is a full sync.
var DefaultSyncEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Store handles SQLite persistence. NOT an interface - concrete type.
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Store struct {
	db *sql.DB
	mu sync.RWMutex // Protects all database operations
}

// FindOptions narrows a collection scan.
type FindOptions struct {
	Since   time.Time         // only documents updated strictly after this time
	Equals  map[string]any    // field equality filters applied to the document body
	Exclude []string          // fields stripped from the returned documents
}

// UpsertResult reports bulk upsert counts.
type UpsertResult struct {
	Inserted int
	Updated  int
}

// ArchiveResult reports the outcome of an archive-then-delete operation.
type ArchiveResult struct {
	Deleted  bool
	Archived bool
	ID       string
}

// Open creates a new Store with the given database path.
// Creates tables if they don't exist.
// Uses WAL mode for better concurrent read performance (file-based DBs only).
func Open(dbPath string) (*Store, error) {
	// Build connection string based on database type
	connStr := dbPath
	if dbPath == ":memory:" {
		// For in-memory databases, use shared cache mode so all connections
		// in the pool see the same database
		connStr = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// For in-memory databases, limit to 1 connection to avoid issues
	// with multiple connections getting different databases
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// Enable WAL mode for file-based databases (not :memory:)
	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	s := &Store{db: db}

	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return s, nil
}

// createTables creates the required tables and indexes if they don't exist.
func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		body TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (collection, id)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_updated ON documents(collection, updated_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
// Thread-safe: acquires write lock to prevent closing during in-flight operations.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Upsert bulk-writes documents into a collection, stamping updated_at.
// Documents must carry a durable _id. Returns insert/update counts.
// Thread-safe: acquires write lock.
func (s *Store) Upsert(collection string, docs []record.Record, ts time.Time) (UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result UpsertResult
	if len(docs) == 0 {
		return result, nil
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	stmt, err := s.db.Prepare(`
		INSERT INTO documents (collection, id, body, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			body = excluded.body,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return result, err
	}
	defer stmt.Close()

	for _, doc := range docs {
		id := doc.ID()
		if id == "" {
			return result, fmt.Errorf("document missing required key _id in %q", collection)
		}

		existing, err := s.exists(collection, id)
		if err != nil {
			return result, err
		}

		stamped := doc.Clone()
		stamped["updated_at"] = ts
		body, err := json.Marshal(record.SafeValue(stamped))
		if err != nil {
			return result, fmt.Errorf("marshal document %s: %w", id, err)
		}

		if _, err := stmt.Exec(collection, id, string(body), ts.UTC()); err != nil {
			return result, err
		}

		if existing {
			result.Updated++
		} else {
			result.Inserted++
		}
	}

	return result, nil
}

func (s *Store) exists(collection, id string) (bool, error) {
	var one int
	err := s.db.QueryRow(
		"SELECT 1 FROM documents WHERE collection = ? AND id = ?",
		collection, id,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// Find retrieves documents from a collection, optionally bounded by the
// updated_at watermark and body field equality filters.
// Thread-safe: acquires read lock.
func (s *Store) Find(collection string, opts FindOptions) ([]record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT body FROM documents WHERE collection = ?"
	args := []any{collection}
	if !opts.Since.IsZero() {
		query += " AND updated_at > ?"
		args = append(args, opts.Since.UTC())
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []record.Record
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var doc record.Record
		if err := json.Unmarshal([]byte(body), &doc); err != nil {
			return nil, fmt.Errorf("unmarshal document in %q: %w", collection, err)
		}
		if !matchesFilters(doc, opts.Equals) {
			continue
		}
		for _, field := range opts.Exclude {
			delete(doc, field)
		}
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

func matchesFilters(doc record.Record, filters map[string]any) bool {
	for field, want := range filters {
		if doc[field] != want {
			return false
		}
	}
	return true
}

// Get retrieves a single document by id, or nil when absent.
// Thread-safe: acquires read lock.
func (s *Store) Get(collection, id string) (record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var body string
	err := s.db.QueryRow(
		"SELECT body FROM documents WHERE collection = ? AND id = ?",
		collection, id,
	).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var doc record.Record
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Collections lists all collection names with at least one document.
// Thread-safe: acquires read lock.
func (s *Store) Collections() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT DISTINCT collection FROM documents ORDER BY collection")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Count returns the number of documents in a collection.
// Thread-safe: acquires read lock.
func (s *Store) Count(collection string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM documents WHERE collection = ?", collection,
	).Scan(&n)
	return n, err
}

// ArchiveDelete copies a document into the deletions tombstone collection
// and then removes it from its source collection. Archive and delete are
// two operations, not one transaction: a crash between them leaves a
// duplicate tombstone with the source record still in place, never a
// silent loss.
func (s *Store) ArchiveDelete(collection, id string) (ArchiveResult, error) {
	doc, err := s.Get(collection, id)
	if err != nil {
		return ArchiveResult{}, err
	}
	if doc == nil {
		return ArchiveResult{}, nil
	}

	now := time.Now().UTC()
	tombstone := doc.Clone()
	tombstone["_id"] = uuid.NewString()
	tombstone["original_id"] = id
	tombstone["original_collection"] = collection
	tombstone["deleted_at"] = now

	if _, err := s.Upsert(DeletionsCollection, []record.Record{tombstone}, now); err != nil {
		return ArchiveResult{Archived: false}, fmt.Errorf("archive document %s: %w", id, err)
	}

	s.mu.Lock()
	res, err := s.db.Exec(
		"DELETE FROM documents WHERE collection = ? AND id = ?",
		collection, id,
	)
	s.mu.Unlock()
	if err != nil {
		return ArchiveResult{Archived: true, ID: id}, err
	}

	affected, _ := res.RowsAffected()
	return ArchiveResult{Deleted: affected == 1, Archived: true, ID: id}, nil
}

// Delete removes a document without archiving. Used when replaying
// tombstones onto a downstream store, where the source already holds the
// archived copy.
func (s *Store) Delete(collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"DELETE FROM documents WHERE collection = ? AND id = ?",
		collection, id,
	)
	return err
}

// DeletionsSince returns tombstones dated strictly after since.
func (s *Store) DeletionsSince(since time.Time) ([]record.Record, error) {
	docs, err := s.Find(DeletionsCollection, FindOptions{})
	if err != nil {
		return nil, err
	}

	var out []record.Record
	for _, doc := range docs {
		deletedAt := record.ToTime(doc.GetString("deleted_at"))
		if deletedAt.After(since) {
			out = append(out, doc)
		}
	}
	return out, nil
}

// LoadSyncState returns the last successful sync timestamp for a
// pipeline, or the default epoch sentinel when no state is stored.
func (s *Store) LoadSyncState(key string) (time.Time, error) {
	doc, err := s.Get(SyncStates, key)
	if err != nil {
		return time.Time{}, err
	}
	if doc == nil {
		return DefaultSyncEpoch, nil
	}
	if ts := record.ToTime(doc.GetString("last_sync_time")); !ts.IsZero() {
		return ts, nil
	}
	return DefaultSyncEpoch, nil
}

// UpdateSyncState upserts a pipeline's sync watermark. Called only after
// the phase's writes are durably committed. Refuses to regress the
// stored timestamp; overlapping runs are assumed not to happen (single
// runner), this guard just keeps a stale run from rolling the watermark
// backwards.
func (s *Store) UpdateSyncState(key string, ts time.Time, batchID string) error {
	current, err := s.LoadSyncState(key)
	if err != nil {
		return err
	}
	if current != DefaultSyncEpoch && ts.Before(current) {
		return fmt.Errorf("sync state regression for %q: %s < %s", key, ts, current)
	}

	doc := record.Record{
		"_id":            key,
		"last_sync_time": ts.UTC(),
		"last_batch_id":  batchID,
	}
	_, err = s.Upsert(SyncStates, []record.Record{doc}, time.Now().UTC())
	return err
}

// RetentionSweep removes audit documents older than the per-collection
// retention windows. Stands in for the TTL indexes a hosted document
// store would maintain.
func (s *Store) RetentionSweep(logRetention, summaryRetention time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	windows := map[string]time.Duration{
		Logs:           logRetention,
		BatchSummaries: summaryRetention,
	}
	for collection, window := range windows {
		cutoff := time.Now().UTC().Add(-window)
		res, err := s.db.Exec(
			"DELETE FROM documents WHERE collection = ? AND updated_at < ?",
			collection, cutoff,
		)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	return total, nil
}

// WipeAll removes every document. Maintenance operation.
func (s *Store) WipeAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM documents")
	return err
}
