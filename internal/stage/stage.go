// Package stage manages the per-collection JSON delta files written
// between pipeline phases. Filenames are the collection name.
package stage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/edwardbensa/storiedbc-db/internal/logging"
	"github.com/edwardbensa/storiedbc-db/internal/record"
	"github.com/edwardbensa/storiedbc-db/internal/store"
)

// Write saves a collection delta as a JSON array under dir.
func Write(dir, collection string, docs []record.Record) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create stage directory: %w", err)
	}

	normalized := make([]any, len(docs))
	for i, doc := range docs {
		normalized[i] = record.SafeValue(doc)
	}

	data, err := json.MarshalIndent(normalized, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s delta: %w", collection, err)
	}

	path := filepath.Join(dir, collection+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s delta: %w", collection, err)
	}
	return nil
}

// Read loads a staged collection delta. A missing file yields an empty
// slice, not an error: absent deltas just mean nothing changed.
func Read(dir, collection string) ([]record.Record, error) {
	path := filepath.Join(dir, collection+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Warn("Missing staged file", "path", path)
			return nil, nil
		}
		return nil, err
	}

	var docs []record.Record
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("parse %s delta: %w", collection, err)
	}
	return docs, nil
}

// List returns the collection names with staged deltas under dir.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".json"))
	}
	return names, nil
}

// Wipe deletes all staged files under dir. Each pipeline run starts from
// a clean staging area.
func Wipe(dir string) error {
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(files) == 0 {
		logging.Info("Stage directory is empty", "dir", dir)
		return nil
	}

	logging.Info("Wiping stage directory", "dir", dir, "files", len(files))
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// Download writes each collection's delta since the watermark to dir,
// skipping excluded collections. Returns the number of collections that
// actually had new data.
func Download(st *store.Store, dir string, excluded []string, since time.Time) (int, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, err
	}

	skip := map[string]bool{}
	for _, name := range excluded {
		skip[name] = true
	}

	collections, err := st.Collections()
	if err != nil {
		return 0, err
	}

	filesCreated := 0
	for _, name := range collections {
		if skip[name] {
			logging.Info("Skipping excluded collection", "collection", name)
			continue
		}

		docs, err := st.Find(name, store.FindOptions{Since: since})
		if err != nil {
			return filesCreated, fmt.Errorf("fetch %s delta: %w", name, err)
		}
		if len(docs) == 0 {
			continue
		}

		if err := Write(dir, name, docs); err != nil {
			return filesCreated, err
		}
		logging.Info("Downloaded delta", "collection", name, "records", len(docs))
		filesCreated++
	}

	return filesCreated, nil
}
