// Package lookup builds the in-memory business-key to durable-identifier
// maps the transforms use to resolve denormalized foreign keys.
package lookup

import (
	"fmt"
	"strings"

	"github.com/edwardbensa/storiedbc-db/internal/logging"
	"github.com/edwardbensa/storiedbc-db/internal/record"
	"github.com/edwardbensa/storiedbc-db/internal/stage"
	"github.com/edwardbensa/storiedbc-db/internal/store"
)

// Spec declares how one collection's lookup map is built: Field is the
// business key, Get lists the fields to resolve to. A single Get field
// yields a scalar value per key; multiple fields yield a sub-record.
type Spec struct {
	Field string
	Get   []string
}

// Registry maps collection names to lookup specs.
type Registry map[string]Spec

// Maps is the built result: collection -> business key -> value.
type Maps map[string]map[string]any

// Build constructs lookup maps from the reference store. Only the key
// field and the requested fields are kept per document. Documents
// missing the key field are silently excluded (logged at debug level,
// partially-populated reference data is tolerated). When the store has
// no rows for a collection, Build falls back to the same-named staged
// JSON delta before settling for an empty map.
func Build(st *store.Store, registry Registry, stageDir string) (Maps, error) {
	maps := make(Maps, len(registry))

	for name, spec := range registry {
		docs, err := st.Find(name, store.FindOptions{})
		if err != nil {
			return nil, fmt.Errorf("build %s lookup: %w", name, err)
		}

		// Cold start: the reference store may not be hydrated yet
		if len(docs) == 0 && stageDir != "" {
			staged, err := stage.Read(stageDir, name)
			if err != nil {
				return nil, fmt.Errorf("build %s lookup from stage: %w", name, err)
			}
			docs = staged
		}

		entries := make(map[string]any, len(docs))
		for _, doc := range docs {
			keyVal, present := doc[spec.Field]
			if !present {
				logging.Debug("Document missing lookup key field",
					"collection", name, "field", spec.Field, "id", doc.ID())
				continue
			}

			if len(spec.Get) == 1 {
				entries[Key(keyVal)] = doc[spec.Get[0]]
				continue
			}

			sub := record.Record{}
			for _, field := range spec.Get {
				sub[field] = doc[field]
			}
			entries[Key(keyVal)] = sub
		}

		logging.Debug("Loaded lookup map", "collection", name, "entries", len(entries))
		maps[name] = entries
	}

	return maps, nil
}

// Key normalizes a business-key value for map lookup.
func Key(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

// Resolve returns the mapped value for a business key, or nil when no
// match is found.
func (m Maps) Resolve(collection string, key any) any {
	entries, ok := m[collection]
	if !ok {
		return nil
	}
	return entries[Key(key)]
}

// ResolveCreator resolves a creator business key to a compact reference
// carrying the durable identifier and display name.
func (m Maps) ResolveCreator(creatorID string) record.Record {
	v := m.Resolve("creators", strings.TrimSpace(creatorID))
	doc, ok := v.(record.Record)
	if !ok {
		logging.Warn("No creator found", "creator_id", creatorID)
		return record.Record{}
	}

	first, _ := doc["firstname"].(string)
	last, _ := doc["lastname"].(string)
	fullName := strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))

	return record.Record{
		"_id":  doc["_id"],
		"name": fullName,
	}
}

// ResolveAwards assembles an award subdocument from decoded capture
// groups: award id, name, category, year, status. The category is
// omitted when blank.
func (m Maps) ResolveAwards(groups []string) record.Record {
	sub := record.Record{
		"_id":    m.Resolve("awards", groups[1]),
		"name":   groups[2],
		"year":   record.ToInt(groups[4]),
		"status": groups[5],
	}
	if groups[3] != "" {
		sub["category"] = groups[3]
	}
	return sub
}
