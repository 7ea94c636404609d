package record

import (
	"testing"
	"time"
)

func TestClean(t *testing.T) {
	doc := Record{
		"_id":        "b1",
		"title":      "Dune",
		"empty":      "",
		"nothing":    nil,
		"list":       []any{},
		"full_hash":  "abc",
		"id_hash":    "def",
		"updated_at": "2026-01-01",
	}

	clean, removed := Clean(doc, false)
	if clean.GetString("title") != "Dune" || clean.ID() != "b1" {
		t.Errorf("clean dropped kept fields: %+v", clean)
	}
	for _, key := range []string{"empty", "nothing", "list", "full_hash", "id_hash"} {
		if _, ok := clean[key]; ok {
			t.Errorf("%s survived cleaning", key)
		}
	}
	if _, ok := clean["updated_at"]; !ok {
		t.Errorf("updated_at removed without removeTS")
	}
	if len(removed) != 5 {
		t.Errorf("expected 5 removed keys, got %d: %v", len(removed), removed)
	}

	clean, _ = Clean(doc, true)
	if _, ok := clean["updated_at"]; ok {
		t.Errorf("updated_at survived removeTS cleaning")
	}
}

func TestToTime(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"2026-03-15 14:30:00", time.Date(2026, 3, 15, 14, 30, 0, 0, time.UTC)},
		{"2026-03-15", time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)},
		{"15/03/2026", time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)},
		{"2026-03-15T14:30:00Z", time.Date(2026, 3, 15, 14, 30, 0, 0, time.UTC)},
		{"", time.Time{}},
		{"not a date", time.Time{}},
	}
	for _, tc := range cases {
		if got := ToTime(tc.in); !got.Equal(tc.want) {
			t.Errorf("ToTime(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestToIntAndToFloat(t *testing.T) {
	if v := ToInt("412"); v != 412 {
		t.Errorf("ToInt string = %v", v)
	}
	if v := ToInt(""); v != nil {
		t.Errorf("ToInt blank = %v, want nil", v)
	}
	if v := ToInt("junk"); v != nil {
		t.Errorf("ToInt junk = %v, want nil", v)
	}
	if v := ToInt(3.9); v != 3 {
		t.Errorf("ToInt float = %v", v)
	}
	if v := ToFloat("11.5"); v != 11.5 {
		t.Errorf("ToFloat string = %v", v)
	}
	if v := ToFloat(nil); v != nil {
		t.Errorf("ToFloat nil = %v, want nil", v)
	}
}

func TestToArray(t *testing.T) {
	got := ToArray("Sci-Fi, Fantasy , ,Horror")
	want := []string{"Sci-Fi", "Fantasy", "Horror"}
	if len(got) != len(want) {
		t.Fatalf("ToArray = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ToArray[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if arr := ToArray(""); len(arr) != 0 {
		t.Errorf("ToArray blank = %v", arr)
	}
}

func TestFindDoc(t *testing.T) {
	docs := []Record{
		{"_id": "a", "name": "one"},
		{"_id": "b", "name": "two"},
	}
	if got := FindDoc(docs, "_id", "b"); got.GetString("name") != "two" {
		t.Errorf("FindDoc = %+v", got)
	}
	if got := FindDoc(docs, "_id", "zzz"); len(got) != 0 {
		t.Errorf("missing doc should be empty, got %+v", got)
	}
}

func TestFlatten(t *testing.T) {
	doc := Record{
		"_id": "b1",
		"author": map[string]any{
			"_id":  "c1",
			"name": "Frank Herbert",
		},
		"series": map[string]any{
			"_id":  "s1",
			"name": "Dune Saga",
		},
		"awards": []any{
			map[string]any{"_id": "a1", "name": "Hugo"},
		},
	}

	out := Flatten(doc, map[string]string{
		"author":    "author.name",
		"author_id": "author._id",
		"series":    "series.name",
		"series_id": "series._id",
	})

	// Flattened out-fields always become lists
	authors, ok := out["author"].([]any)
	if !ok || len(authors) != 1 || authors[0] != "Frank Herbert" {
		t.Errorf("author = %+v", out["author"])
	}
	ids, ok := out["author_id"].([]any)
	if !ok || len(ids) != 1 || ids[0] != "c1" {
		t.Errorf("author_id = %+v", out["author_id"])
	}
	if series, ok := out["series"].([]any); !ok || series[0] != "Dune Saga" {
		t.Errorf("series = %+v", out["series"])
	}

	// Fields not in the map stay put, nested or not
	if _, ok := out["awards"]; !ok {
		t.Errorf("unmapped nested field was removed")
	}

	// Input untouched
	if _, ok := doc["author"].(map[string]any); !ok {
		t.Errorf("Flatten mutated its input")
	}
}

func TestFlattenListParent(t *testing.T) {
	doc := Record{
		"_id": "u1",
		"badges": []any{
			map[string]any{"name": "Bookworm", "timestamp": "2026-01-05"},
			map[string]any{"name": "Critic", "timestamp": "2026-02-10"},
		},
	}

	out := Flatten(doc, map[string]string{
		"badges":           "badges.name",
		"badge_timestamps": "badges.timestamp",
	})

	names, ok := out["badges"].([]any)
	if !ok || len(names) != 2 || names[0] != "Bookworm" || names[1] != "Critic" {
		t.Fatalf("badges = %+v", out["badges"])
	}
	stamps, ok := out["badge_timestamps"].([]any)
	if !ok || len(stamps) != 2 || stamps[0] != "2026-01-05" {
		t.Fatalf("badge_timestamps = %+v", out["badge_timestamps"])
	}
}

func TestRemoveNested(t *testing.T) {
	doc := Record{
		"_id":    "b1",
		"title":  "Dune",
		"author": map[string]any{"name": "Frank Herbert"},
		"tags":   []any{"classic", "sci-fi"},
		"awards": []any{map[string]any{"name": "Hugo"}},
	}
	out := RemoveNested(doc)
	if _, ok := out["author"]; ok {
		t.Errorf("nested map survived")
	}
	if _, ok := out["awards"]; ok {
		t.Errorf("list of maps survived")
	}
	if _, ok := out["tags"]; !ok {
		t.Errorf("scalar list was removed")
	}
}

func TestSafeValue(t *testing.T) {
	ts := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	v := SafeValue(Record{"when": ts, "nested": Record{"also": ts}})

	m, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("SafeValue did not return a map: %T", v)
	}
	if m["when"] != "2026-03-15T12:00:00Z" {
		t.Errorf("time not normalized: %v", m["when"])
	}
	inner, ok := m["nested"].(map[string]any)
	if !ok || inner["also"] != "2026-03-15T12:00:00Z" {
		t.Errorf("nested time not normalized: %+v", m["nested"])
	}
}
