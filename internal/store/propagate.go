package store

import (
	"time"

	"github.com/edwardbensa/storiedbc-db/internal/logging"
)

// PropagateDeletions replays tombstones from the source store dated
// after since onto the target store, grouped by original collection.
// Tombstones missing either original_id or original_collection are
// malformed bookkeeping, not data: they are logged and skipped.
// Replaying is idempotent, deleting an already-absent document is a
// no-op, so at-least-once application is safe.
func PropagateDeletions(source, target *Store, since time.Time) (int, error) {
	tombstones, err := source.DeletionsSince(since)
	if err != nil {
		return 0, err
	}
	if len(tombstones) == 0 {
		logging.Info("No new deletions to propagate")
		return 0, nil
	}

	groups := map[string][]string{}
	for _, doc := range tombstones {
		collection := doc.GetString("original_collection")
		originalID := doc.GetString("original_id")
		if collection == "" || originalID == "" {
			logging.Warn("Skipping malformed deletion record", "tombstone", doc.ID())
			continue
		}
		groups[collection] = append(groups[collection], originalID)
	}

	synced := 0
	for collection, ids := range groups {
		for _, id := range ids {
			if err := target.Delete(collection, id); err != nil {
				return synced, err
			}
			synced++
		}
		logging.Info("Propagated deletions", "collection", collection, "count", len(ids))
	}

	return synced, nil
}
