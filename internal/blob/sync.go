package blob

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/edwardbensa/storiedbc-db/internal/logging"
	"github.com/edwardbensa/storiedbc-db/internal/record"
	"github.com/edwardbensa/storiedbc-db/internal/store"
)

// inventoryKeys maps image types to their inventory document suffix.
var inventoryKeys = map[string]string{
	"user":  "user_dp",
	"club":  "club_dp",
	"cover": "cover_art",
}

// BuildManifest maps desired blob names to their source URLs for a
// staged collection. Documents without a source URL are skipped.
func BuildManifest(docs []record.Record, urlField, imgType string) map[string]string {
	manifest := make(map[string]string, len(docs))
	for _, doc := range docs {
		sourceURL := doc.GetString(urlField)
		if sourceURL == "" {
			logging.Warn("Document has no image URL, skipping",
				"id", doc.ID(), "field", urlField)
			continue
		}

		name, err := Filename(doc, imgType)
		if err != nil {
			logging.Warn("Cannot name image blob, skipping", "id", doc.ID(), "err", err)
			continue
		}
		manifest[name+Extension(sourceURL)] = sourceURL
	}
	return manifest
}

// Syncer reconciles a blob container against a desired manifest.
type Syncer struct {
	Blobs Store
	HTTP  *http.Client
}

// NewSyncer wires a syncer with the source-fetch timeout the image
// hosts tolerate.
func NewSyncer(blobs Store) *Syncer {
	return &Syncer{
		Blobs: blobs,
		HTTP:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Sync diffs the desired manifest against the known inventory, deletes
// obsolete blobs, streams new ones from their source URLs, and records
// the new inventory. A failed individual fetch is logged and skipped so
// one dead source URL cannot wedge the sync.
func (s *Syncer) Sync(ctx context.Context, st *store.Store, container, imgType string, manifest map[string]string) error {
	key, ok := inventoryKeys[imgType]
	if !ok {
		return fmt.Errorf("unknown image type %q", imgType)
	}
	inventoryID := "inventory_" + key

	known := map[string]bool{}
	if doc, err := st.Get(store.Metadata, inventoryID); err != nil {
		return fmt.Errorf("load image inventory: %w", err)
	} else if doc != nil {
		if names, ok := doc["filenames"].([]any); ok {
			for _, n := range names {
				if name, ok := n.(string); ok {
					known[name] = true
				}
			}
		}
	}

	var toUpload, toDelete []string
	for name := range manifest {
		if !known[name] {
			toUpload = append(toUpload, name)
		}
	}
	for name := range known {
		if _, ok := manifest[name]; !ok {
			toDelete = append(toDelete, name)
		}
	}
	sort.Strings(toUpload)
	sort.Strings(toDelete)

	for _, name := range toDelete {
		if err := s.Blobs.Delete(ctx, container, name); err != nil {
			return err
		}
		logging.Info("Deleted obsolete blob", "blob", name)
	}

	for _, name := range toUpload {
		if err := s.upload(ctx, container, name, manifest[name]); err != nil {
			logging.Error("Error streaming image", "blob", name, "err", err)
		}
	}

	desired := make([]string, 0, len(manifest))
	for name := range manifest {
		desired = append(desired, name)
	}
	sort.Strings(desired)

	_, err := st.Upsert(store.Metadata, []record.Record{{
		"_id":       inventoryID,
		"filenames": desired,
	}}, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update image inventory: %w", err)
	}

	logging.Info("Image sync complete",
		"type", imgType, "uploaded", len(toUpload), "deleted", len(toDelete))
	return nil
}

func (s *Syncer) upload(ctx context.Context, container, name, sourceURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return err
	}

	resp, err := s.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: HTTP %d", sourceURL, resp.StatusCode)
	}

	if err := s.Blobs.Upload(ctx, container, name, resp.Body); err != nil {
		return err
	}
	logging.Info("Streamed and uploaded image", "blob", name)
	return nil
}
