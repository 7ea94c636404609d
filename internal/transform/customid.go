package transform

import (
	"fmt"

	"github.com/edwardbensa/storiedbc-db/internal/logging"
	"github.com/edwardbensa/storiedbc-db/internal/record"
	"github.com/edwardbensa/storiedbc-db/internal/stage"
)

// CleanupMap lists per-collection sheet scaffolding fields that must
// not survive into the transformed output.
var CleanupMap = map[string][]string{
	"users":    {"user_id"},
	"creators": {"creator_id"},
}

// CustomIDMap names the sheet code field that acts as the durable
// identifier for static reference collections.
var CustomIDMap = map[string]string{
	"formats":             "format_id",
	"languages":           "language_id",
	"creator_roles":       "cr_id",
	"read_statuses":       "rstatus_id",
	"countries":           "country_id",
	"club_event_types":    "et_id",
	"club_event_statuses": "es_id",
	"user_roles":          "role_id",
	"user_permissions":    "permission_id",
}

// RemoveCustomIDs strips the listed scaffolding fields, and any empty
// or bookkeeping fields, from the staged collections in dir.
func RemoveCustomIDs(dir string, cleanup map[string][]string) error {
	for collection, fields := range cleanup {
		docs, err := stage.Read(dir, collection)
		if err != nil {
			return fmt.Errorf("clean %s: %w", collection, err)
		}
		if docs == nil {
			continue
		}

		for i, doc := range docs {
			for _, field := range fields {
				delete(doc, field)
			}
			docs[i], _ = record.Clean(doc, true)
		}

		if err := stage.Write(dir, collection, docs); err != nil {
			return err
		}
		logging.Info("Removed custom ids", "collection", collection, "fields", fields)
	}
	return nil
}

// SetCustomIDs promotes the sheet code to _id for the staged reference
// collections in dir, dropping the code field. Documents without the
// code field keep their minted identifier.
func SetCustomIDs(dir string, promote map[string]string) error {
	for collection, field := range promote {
		docs, err := stage.Read(dir, collection)
		if err != nil {
			return fmt.Errorf("promote %s ids: %w", collection, err)
		}
		if docs == nil {
			continue
		}

		for _, doc := range docs {
			code := doc.GetString(field)
			if code == "" {
				continue
			}
			doc["_id"] = code
			delete(doc, field)
		}

		if err := stage.Write(dir, collection, docs); err != nil {
			return err
		}
		logging.Info("Promoted custom ids", "collection", collection, "field", field)
	}
	return nil
}
