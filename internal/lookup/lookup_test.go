package lookup

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/edwardbensa/storiedbc-db/internal/record"
	"github.com/edwardbensa/storiedbc-db/internal/stage"
	"github.com/edwardbensa/storiedbc-db/internal/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBuildScalarAndSubRecord(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC()
	s.Upsert("books", []record.Record{
		{"_id": "id-dune", "book_id": "b1", "title": "Dune"},
		{"_id": "id-hyperion", "book_id": "b2", "title": "Hyperion"},
		{"_id": "id-orphan", "title": "No Key"},
	}, now)
	s.Upsert("creators", []record.Record{
		{"_id": "id-herbert", "creator_id": "cr1", "firstname": "Frank", "lastname": "Herbert"},
	}, now)

	registry := Registry{
		"books":    {Field: "book_id", Get: []string{"_id"}},
		"creators": {Field: "creator_id", Get: []string{"_id", "firstname", "lastname"}},
	}
	maps, err := Build(s, registry, "")
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	// Single Get field resolves to a bare scalar
	if got := maps.Resolve("books", "b1"); got != "id-dune" {
		t.Errorf("books b1 = %v", got)
	}
	// Rows without the key field are excluded
	if len(maps["books"]) != 2 {
		t.Errorf("books map has %d entries, want 2", len(maps["books"]))
	}

	// Multiple Get fields resolve to a sub-record
	sub, ok := maps.Resolve("creators", "cr1").(record.Record)
	if !ok {
		t.Fatalf("creators cr1 = %T", maps.Resolve("creators", "cr1"))
	}
	if sub["_id"] != "id-herbert" || sub["firstname"] != "Frank" {
		t.Errorf("creator sub-record = %+v", sub)
	}

	if got := maps.Resolve("books", "zzz"); got != nil {
		t.Errorf("missing key resolved to %v", got)
	}
	if got := maps.Resolve("no_such_collection", "b1"); got != nil {
		t.Errorf("missing collection resolved to %v", got)
	}
}

func TestBuildStageFallback(t *testing.T) {
	s := testStore(t)
	dir := t.TempDir()
	staged := []record.Record{
		{"_id": "id-scifi", "name": "Sci-Fi"},
	}
	if err := stage.Write(dir, "genres", staged); err != nil {
		t.Fatalf("stage write: %v", err)
	}

	maps, err := Build(s, Registry{"genres": {Field: "name", Get: []string{"_id"}}}, dir)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got := maps.Resolve("genres", "Sci-Fi"); got != "id-scifi" {
		t.Errorf("stage fallback resolved %v", got)
	}
}

func TestBuildEmptyCollection(t *testing.T) {
	s := testStore(t)
	maps, err := Build(s, Registry{"genres": {Field: "name", Get: []string{"_id"}}}, t.TempDir())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(maps["genres"]) != 0 {
		t.Errorf("empty collection built %d entries", len(maps["genres"]))
	}
}

func TestResolveCreator(t *testing.T) {
	maps := Maps{
		"creators": {
			"cr1": record.Record{"_id": "id-herbert", "firstname": " Frank ", "lastname": "Herbert"},
		},
	}

	got := maps.ResolveCreator(" cr1 ")
	if got["_id"] != "id-herbert" || got["name"] != "Frank Herbert" {
		t.Errorf("resolved creator = %+v", got)
	}

	if got := maps.ResolveCreator("nobody"); len(got) != 0 {
		t.Errorf("missing creator = %+v, want empty", got)
	}
}

func TestResolveAwards(t *testing.T) {
	maps := Maps{"awards": {"aw1": "id-hugo"}}

	sub := maps.ResolveAwards([]string{"", "aw1", "Hugo Award", "Best Novel", "1966", "won"})
	if sub["_id"] != "id-hugo" || sub["name"] != "Hugo Award" ||
		sub["category"] != "Best Novel" || sub["year"] != 1966 || sub["status"] != "won" {
		t.Errorf("award = %+v", sub)
	}

	sub = maps.ResolveAwards([]string{"", "aw1", "Hugo Award", "", "1966", "won"})
	if _, ok := sub["category"]; ok {
		t.Errorf("blank category kept: %+v", sub)
	}
}
