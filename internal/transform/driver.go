package transform

import (
	"fmt"
	"sort"

	"github.com/edwardbensa/storiedbc-db/internal/logging"
	"github.com/edwardbensa/storiedbc-db/internal/record"
	"github.com/edwardbensa/storiedbc-db/internal/stage"
)

// Collection reads a staged delta, applies the collection's transform
// to every document, scrubs empty fields, and writes the result to the
// output stage. A missing input delta is skipped, not an error.
func Collection(inDir, outDir, collection string, fn Func, ctx *Context) error {
	raw, err := stage.Read(inDir, collection)
	if err != nil {
		return fmt.Errorf("read %s delta: %w", collection, err)
	}
	if raw == nil {
		return nil
	}

	transformed := make([]record.Record, 0, len(raw))
	removedCounts := map[string]int{}
	for _, doc := range raw {
		clean, removed := record.Clean(fn(doc, ctx), false)
		transformed = append(transformed, clean)
		for _, key := range removed {
			removedCounts[key]++
		}
	}

	if len(removedCounts) > 0 {
		keys := make([]string, 0, len(removedCounts))
		for k := range removedCounts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			logging.Warn("Removed empty field", "collection", collection, "field", k, "count", removedCounts[k])
		}
	}

	if err := stage.Write(outDir, collection, transformed); err != nil {
		return err
	}
	logging.Info("Transformed collection", "collection", collection, "records", len(transformed))
	return nil
}

// Run transforms every staged collection that has a registered
// transform. Collections without one are left as-is.
func Run(inDir, outDir string, ctx *Context) error {
	collections, err := stage.List(inDir)
	if err != nil {
		return err
	}

	for _, name := range collections {
		fn, ok := Map[name]
		if !ok {
			logging.Debug("No transform registered", "collection", name)
			continue
		}
		if err := Collection(inDir, outDir, name, fn, ctx); err != nil {
			return err
		}
	}
	return nil
}
