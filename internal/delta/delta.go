// Package delta implements the fingerprinting and change-classification
// protocol used to detect which records changed between two snapshots
// without a full field-by-field scan.
package delta

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/edwardbensa/storiedbc-db/internal/record"
)

// ignoreKeys are excluded from both hashes: identifiers, the hashes
// themselves, and the mutation timestamp.
var ignoreKeys = map[string]bool{
	"_id":        true,
	"full_hash":  true,
	"id_hash":    true,
	"updated_at": true,
}

// Change describes a single field-level difference in an updated record.
type Change struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// Update is the observability detail recorded for an updated record.
type Update struct {
	ID      string            `json:"_id"`
	IDHash  string            `json:"id_hash"`
	Changes map[string]Change `json:"changes"`
}

// Diff categorizes a snapshot comparison.
type Diff struct {
	New       []record.Record
	Updated   []Update
	Unchanged []record.Record
	Deleted   []record.Record
}

// HashDoc deterministically digests a record. encoding/json marshals map
// keys in sorted order, so the digest is stable under key reordering.
func HashDoc(doc record.Record) string {
	data, err := json.Marshal(record.SafeValue(doc))
	if err != nil {
		// Only unmarshalable values (channels, funcs) can fail here,
		// and records never carry those.
		return ""
	}
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// AddFingerprints attaches a content hash (full_hash) over all
// non-bookkeeping fields and an identity hash (id_hash) over the
// collection's identity field list. Records with an empty identity field
// list hash the empty object and collide into one identity group; callers
// must guarantee identity fields are populated.
func AddFingerprints(docs []record.Record, idFields []string) []record.Record {
	out := make([]record.Record, 0, len(docs))

	for _, doc := range docs {
		fullData := record.Record{}
		for k, v := range doc {
			if !ignoreKeys[k] {
				fullData[k] = v
			}
		}

		identityData := record.Record{}
		for _, field := range idFields {
			identityData[field] = fullData[field]
		}

		mod := doc.Clone()
		mod["full_hash"] = HashDoc(fullData)
		mod["id_hash"] = HashDoc(identityData)
		out = append(out, mod)
	}

	return out
}

// Classify compares old and new fingerprinted snapshots keyed by
// identity hash.
//
// Returns the records to write (updated records preserve the stored _id,
// new records are minted a fresh one) and the categorized diff.
// Field-level changes are computed only for the updated bucket.
func Classify(oldDocs, newDocs []record.Record) ([]record.Record, Diff) {
	newByIdentity := make(map[string]record.Record, len(newDocs))
	for _, doc := range newDocs {
		newByIdentity[doc.GetString("id_hash")] = doc
	}

	var toUpsert []record.Record
	var diff Diff
	matched := make(map[string]bool)

	for _, oldDoc := range oldDocs {
		idHash := oldDoc.GetString("id_hash")
		newDoc, present := newByIdentity[idHash]

		// No matching new doc means the record was removed upstream
		if !present {
			diff.Deleted = append(diff.Deleted, oldDoc)
			continue
		}
		matched[idHash] = true

		if oldDoc.GetString("full_hash") == newDoc.GetString("full_hash") {
			diff.Unchanged = append(diff.Unchanged, oldDoc)
			continue
		}

		changes := fieldChanges(oldDoc, newDoc)

		// Apply new field values under the original identifier
		updated := newDoc.Clone()
		updated["_id"] = oldDoc["_id"]

		toUpsert = append(toUpsert, updated)
		diff.Updated = append(diff.Updated, Update{
			ID:      oldDoc.ID(),
			IDHash:  idHash,
			Changes: changes,
		})
	}

	for _, newDoc := range newDocs {
		if matched[newDoc.GetString("id_hash")] {
			continue
		}
		entry := newDoc.Clone()
		entry["_id"] = uuid.NewString()
		toUpsert = append(toUpsert, entry)
		diff.New = append(diff.New, entry)
	}

	return toUpsert, diff
}

// fieldChanges computes the symmetric field-level difference between two
// versions of a record, skipping bookkeeping keys.
func fieldChanges(oldDoc, newDoc record.Record) map[string]Change {
	changes := map[string]Change{}

	keys := map[string]bool{}
	for k := range oldDoc {
		keys[k] = true
	}
	for k := range newDoc {
		keys[k] = true
	}

	for key := range keys {
		if ignoreKeys[key] {
			continue
		}
		oldVal, newVal := oldDoc[key], newDoc[key]
		if !equalValues(oldVal, newVal) {
			changes[key] = Change{From: oldVal, To: newVal}
		}
	}

	return changes
}

// equalValues compares field values through their normalized JSON forms,
// matching the semantics of the content hash.
func equalValues(a, b any) bool {
	aj, errA := json.Marshal(record.SafeValue(a))
	bj, errB := json.Marshal(record.SafeValue(b))
	if errA != nil || errB != nil {
		return false
	}
	return string(aj) == string(bj)
}

// EnsureIDs guarantees every record carries a durable identifier,
// minting one where absent. Used when a collection has no stored
// counterpart yet (first sync).
func EnsureIDs(docs []record.Record) []record.Record {
	out := make([]record.Record, 0, len(docs))
	for _, doc := range docs {
		mod := doc.Clone()
		if mod.ID() == "" {
			mod["_id"] = uuid.NewString()
		}
		out = append(out, mod)
	}
	return out
}
