package graphprep

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/edwardbensa/storiedbc-db/internal/record"
	"github.com/edwardbensa/storiedbc-db/internal/store"
)

// fakeEmbedder returns a fixed vector per text, or fails wholesale.
type fakeEmbedder struct {
	fail  bool
	texts []string
}

func (f *fakeEmbedder) Available() bool { return !f.fail }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, errors.New("embedding service down")
	}
	return []float32{1, 2, 3}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.fail {
		return nil, errors.New("embedding service down")
	}
	f.texts = texts
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 1}
	}
	return out, nil
}

func TestCurrentYearGoal(t *testing.T) {
	goals := []any{
		map[string]any{"year": "2025", "goal": 12},
		map[string]any{"year": "2026", "goal": 24},
	}
	if got := currentYearGoal(goals, 2026); got != 24 {
		t.Errorf("goal = %v, want 24", got)
	}
	if got := currentYearGoal(goals, 2030); got != "N/A" {
		t.Errorf("missing year goal = %v", got)
	}
	if got := currentYearGoal("not decoded", 2026); got != "N/A" {
		t.Errorf("undecoded goal = %v", got)
	}
}

func TestProcessBooksAwards(t *testing.T) {
	books := []record.Record{
		{
			"_id":         "id-dune",
			"title":       "Dune",
			"author":      []any{"Frank Herbert"},
			"genre":       []any{"Sci-Fi"},
			"description": "Spice and sandworms.",
			"awards": []any{
				map[string]any{"_id": "id-hugo", "name": "Hugo Award", "category": "Best Novel", "year": 1966, "status": "won"},
				map[string]any{"_id": "id-nebula", "name": "Nebula Award", "year": 1966, "status": "won"},
			},
		},
		{"_id": "id-plain", "title": "Plain", "description": "No awards here.", "awards": []any{}},
	}

	embedder := &fakeEmbedder{}
	out, awardRows := ProcessBooks(context.Background(), books, embedder)

	if len(awardRows) != 2 {
		t.Fatalf("award rows = %d", len(awardRows))
	}
	row := awardRows[0]
	if row["book_id"] != "id-dune" || row["award_id"] != "id-hugo" ||
		row.GetString("award_category") != "Best Novel" {
		t.Errorf("award row = %+v", row)
	}

	// The book's award list collapses into a display string
	display := out[0].GetString("awards")
	if !strings.Contains(display, "Hugo Award for Best Novel, 1966, won") {
		t.Errorf("awards display = %q", display)
	}
	if !strings.Contains(display, "Nebula Award, 1966, won") {
		t.Errorf("uncategorized award display = %q", display)
	}

	// Books without awards lose the key entirely
	if _, ok := out[1]["awards"]; ok {
		t.Errorf("empty award list kept: %+v", out[1])
	}

	// Both descriptions were embedded, with context in the prompt
	if len(embedder.texts) != 2 {
		t.Fatalf("embedded %d texts", len(embedder.texts))
	}
	if !strings.Contains(embedder.texts[0], "Title: Dune") ||
		!strings.Contains(embedder.texts[0], "Author: Frank Herbert") {
		t.Errorf("embedding text = %q", embedder.texts[0])
	}
	if _, ok := out[0]["description_embedding"]; !ok {
		t.Errorf("embedding missing: %+v", out[0])
	}
}

func TestProcessBooksSkipsMissingDescriptions(t *testing.T) {
	books := []record.Record{
		{"_id": "b1", "title": "No Blurb"},
		{"_id": "b2", "title": "Has Blurb", "description": "words"},
	}
	embedder := &fakeEmbedder{}
	out, _ := ProcessBooks(context.Background(), books, embedder)

	if len(embedder.texts) != 1 {
		t.Fatalf("embedded %d texts, want 1", len(embedder.texts))
	}
	if _, ok := out[0]["description_embedding"]; ok {
		t.Errorf("description-less book got an embedding")
	}
	if _, ok := out[1]["description_embedding"]; !ok {
		t.Errorf("described book missed its embedding")
	}
}

func TestProcessBooksEmbeddingOutage(t *testing.T) {
	books := []record.Record{
		{"_id": "b1", "title": "Dune", "description": "words"},
	}
	out, _ := ProcessBooks(context.Background(), books, &fakeEmbedder{fail: true})

	if out[0]["failed_embedding"] != true {
		t.Errorf("outage not marked: %+v", out[0])
	}
	if _, ok := out[0]["description_embedding"]; ok {
		t.Errorf("embedding present despite outage")
	}
}

func TestEnrich(t *testing.T) {
	results := map[string][]record.Record{
		"users": {
			{
				"_id": "u1",
				"reading_goal": []any{
					map[string]any{"year": "2026", "goal": 24},
				},
			},
		},
		"creators": {
			{"_id": "cr1", "firstname": "Frank", "lastname": "Herbert"},
		},
		"user_reads": {
			{"user_id": "u1", "version_id": "v1"},
			{"user_id": "u1", "version_id": "v1"},
		},
		"club_reading_periods": {
			{"_id": "p1", "name": "March 2026"},
		},
		"club_period_books": {
			{"_id": "cpb1", "period_id": "p1", "club_id": "c1", "book_id": "b1"},
			{"_id": "cpb2", "period_id": "p-gone", "club_id": "c1", "book_id": "b2"},
		},
	}

	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	out := Enrich(context.Background(), results, nil, nil, now)

	if out["users"][0]["reading_goal"] != 24 {
		t.Errorf("reading_goal = %v", out["users"][0]["reading_goal"])
	}
	if out["creators"][0]["name"] != "Frank Herbert" {
		t.Errorf("creator name = %v", out["creators"][0]["name"])
	}
	// Two reads of the same edition aggregate into one row
	if len(out["user_reads"]) != 1 {
		t.Errorf("user_reads = %d rows", len(out["user_reads"]))
	}
	if out["club_period_books"][0]["period_name"] != "March 2026" {
		t.Errorf("period_name = %v", out["club_period_books"][0]["period_name"])
	}
	if _, ok := out["club_period_books"][1]["period_name"]; ok {
		t.Errorf("missing period resolved: %+v", out["club_period_books"][1])
	}
}

func TestExtract(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "main.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	early := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	st.Upsert("books", []record.Record{
		{
			"_id":   "id-dune",
			"title": "Dune",
			"author": map[string]any{
				"_id": "id-herbert", "name": "Frank Herbert",
			},
		},
	}, late)
	st.Upsert("genres", []record.Record{
		{"_id": "g1", "name": "Sci-Fi", "date_added": "2026-01-01"},
	}, late)
	st.Upsert("creators", []record.Record{
		{"_id": "cr-old", "firstname": "Old"},
	}, early)

	results, total, err := Extract(st, early)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if total != 2 {
		t.Errorf("total = %d, want 2", total)
	}
	if len(results["creators"]) != 0 {
		t.Errorf("stale creator extracted")
	}

	book := results["books"][0]
	authors, ok := book["author"].([]any)
	if !ok || len(authors) != 1 || authors[0] != "Frank Herbert" {
		t.Errorf("author not flattened: %+v", book["author"])
	}
	if ids, ok := book["author_id"].([]any); !ok || ids[0] != "id-herbert" {
		t.Errorf("author_id not flattened: %+v", book["author_id"])
	}

	// Excluded fields never leave the store
	if _, ok := results["genres"][0]["date_added"]; ok {
		t.Errorf("excluded field extracted: %+v", results["genres"][0])
	}
}
