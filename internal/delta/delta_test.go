package delta

import (
	"testing"

	"github.com/edwardbensa/storiedbc-db/internal/record"
)

func TestHashDocStableUnderKeyOrder(t *testing.T) {
	a := record.Record{"title": "Dune", "genre": "Sci-Fi", "pages": 412}
	b := record.Record{"pages": 412, "genre": "Sci-Fi", "title": "Dune"}

	if HashDoc(a) != HashDoc(b) {
		t.Errorf("hash changed under key reordering: %s vs %s", HashDoc(a), HashDoc(b))
	}
}

func TestAddFingerprints(t *testing.T) {
	docs := []record.Record{
		{"title": "Dune", "genre": "Sci-Fi", "pages": 412},
		{"title": "Dune", "genre": "Sci-Fi", "pages": 896},
	}

	out := AddFingerprints(docs, []string{"title", "genre"})
	if len(out) != 2 {
		t.Fatalf("expected 2 fingerprinted docs, got %d", len(out))
	}

	// Same identity fields, so identity hashes agree
	if out[0].GetString("id_hash") != out[1].GetString("id_hash") {
		t.Errorf("identity hash differs for identical identity fields")
	}
	// Different content, so full hashes differ
	if out[0].GetString("full_hash") == out[1].GetString("full_hash") {
		t.Errorf("content hash collided for different content")
	}

	// Bookkeeping fields never affect the content hash
	withID := AddFingerprints([]record.Record{
		{"title": "Dune", "genre": "Sci-Fi", "pages": 412, "_id": "abc", "updated_at": "2026-01-01"},
	}, []string{"title", "genre"})
	if withID[0].GetString("full_hash") != out[0].GetString("full_hash") {
		t.Errorf("bookkeeping fields leaked into the content hash")
	}

	// Inputs are not mutated
	if _, ok := docs[0]["full_hash"]; ok {
		t.Errorf("AddFingerprints mutated its input")
	}
}

func TestClassifyUnchanged(t *testing.T) {
	docs := AddFingerprints([]record.Record{
		{"title": "Dune", "genre": "Sci-Fi"},
	}, []string{"title", "genre"})
	stored := EnsureIDs(docs)

	toUpsert, diff := Classify(stored, docs)
	if len(toUpsert) != 0 {
		t.Errorf("expected nothing to upsert, got %d", len(toUpsert))
	}
	if len(diff.Unchanged) != 1 || len(diff.New) != 0 || len(diff.Updated) != 0 || len(diff.Deleted) != 0 {
		t.Errorf("unexpected diff: %+v", diff)
	}
}

func TestClassifyUpdatePreservesID(t *testing.T) {
	old := EnsureIDs(AddFingerprints([]record.Record{
		{"title": "Dune", "genre": "Sci-Fi", "pages": 412},
	}, []string{"title", "genre"}))

	updated := AddFingerprints([]record.Record{
		{"title": "Dune", "genre": "Sci-Fi", "pages": 896},
	}, []string{"title", "genre"})

	toUpsert, diff := Classify(old, updated)
	if len(toUpsert) != 1 {
		t.Fatalf("expected 1 doc to upsert, got %d", len(toUpsert))
	}
	if toUpsert[0].ID() != old[0].ID() {
		t.Errorf("update minted a new id: %s vs %s", toUpsert[0].ID(), old[0].ID())
	}
	if len(diff.Updated) != 1 {
		t.Fatalf("expected 1 updated, got %d", len(diff.Updated))
	}

	change, ok := diff.Updated[0].Changes["pages"]
	if !ok {
		t.Fatalf("pages change not recorded: %+v", diff.Updated[0].Changes)
	}
	if change.From != 412 || change.To != 896 {
		t.Errorf("wrong change values: %+v", change)
	}
}

func TestClassifyNewAndDeleted(t *testing.T) {
	old := EnsureIDs(AddFingerprints([]record.Record{
		{"title": "Dune", "genre": "Sci-Fi"},
		{"title": "Emma", "genre": "Romance"},
	}, []string{"title", "genre"}))

	// Emma removed upstream, Hyperion added
	current := AddFingerprints([]record.Record{
		{"title": "Dune", "genre": "Sci-Fi"},
		{"title": "Hyperion", "genre": "Sci-Fi"},
	}, []string{"title", "genre"})

	toUpsert, diff := Classify(old, current)

	if len(diff.Deleted) != 1 || diff.Deleted[0].GetString("title") != "Emma" {
		t.Errorf("expected Emma deleted, got %+v", diff.Deleted)
	}
	if len(diff.New) != 1 || diff.New[0].GetString("title") != "Hyperion" {
		t.Errorf("expected Hyperion new, got %+v", diff.New)
	}
	if len(toUpsert) != 1 {
		t.Errorf("expected only the new doc to upsert, got %d", len(toUpsert))
	}
	if diff.New[0].ID() == "" {
		t.Errorf("new doc was not minted an id")
	}

	// Re-running against the applied state classifies everything unchanged
	stored := append([]record.Record{old[0]}, diff.New...)
	again, diff2 := Classify(stored, current)
	if len(again) != 0 || len(diff2.Deleted) != 0 {
		t.Errorf("reclassification was not idempotent: upserts=%d deleted=%d", len(again), len(diff2.Deleted))
	}
}

func TestEnsureIDs(t *testing.T) {
	docs := []record.Record{
		{"title": "Dune"},
		{"title": "Emma", "_id": "keep-me"},
	}
	out := EnsureIDs(docs)
	if out[0].ID() == "" {
		t.Errorf("missing id was not minted")
	}
	if out[1].ID() != "keep-me" {
		t.Errorf("existing id was replaced: %s", out[1].ID())
	}
}
