package stage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/edwardbensa/storiedbc-db/internal/record"
	"github.com/edwardbensa/storiedbc-db/internal/store"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	docs := []record.Record{
		{"_id": "b1", "title": "Dune", "added": time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)},
		{"_id": "b2", "title": "Hyperion"},
	}
	if err := Write(dir, "books", docs); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := Read(dir, "books")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 || got[0].ID() != "b1" {
		t.Fatalf("read = %+v", got)
	}
	// Timestamps survive the round trip as parseable strings
	if ts := record.ToTime(got[0].GetString("added")); ts.IsZero() {
		t.Errorf("added = %v", got[0]["added"])
	}
}

func TestReadMissingFile(t *testing.T) {
	docs, err := Read(t.TempDir(), "nothing")
	if err != nil {
		t.Fatalf("missing file errored: %v", err)
	}
	if docs != nil {
		t.Errorf("missing file read = %+v", docs)
	}
}

func TestListAndWipe(t *testing.T) {
	dir := t.TempDir()
	Write(dir, "books", []record.Record{{"_id": "b1"}})
	Write(dir, "users", []record.Record{{"_id": "u1"}})

	names, err := List(dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != 2 || names[0] != "books" || names[1] != "users" {
		t.Errorf("list = %v", names)
	}

	if err := Wipe(dir); err != nil {
		t.Fatalf("wipe: %v", err)
	}
	names, _ = List(dir)
	if len(names) != 0 {
		t.Errorf("files survived wipe: %v", names)
	}

	// Wiping a directory that never existed is fine
	if err := Wipe(filepath.Join(dir, "ghost")); err != nil {
		t.Errorf("wipe missing dir: %v", err)
	}
}

func TestDownload(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "staging.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	early := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	st.Upsert("books", []record.Record{{"_id": "b1", "title": "Dune"}}, late)
	st.Upsert("creators", []record.Record{{"_id": "cr1"}}, early)
	st.Upsert(store.Logs, []record.Record{{"_id": "l1"}}, late)

	dir := t.TempDir()
	n, err := Download(st, dir, []string{store.Logs}, early)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	// Only books changed after the watermark; logs are excluded and the
	// stale creators delta is empty.
	if n != 1 {
		t.Errorf("downloaded %d collections, want 1", n)
	}

	names, _ := List(dir)
	if len(names) != 1 || names[0] != "books" {
		t.Errorf("staged files = %v", names)
	}
	docs, _ := Read(dir, "books")
	if len(docs) != 1 || docs[0].GetString("title") != "Dune" {
		t.Errorf("staged books = %+v", docs)
	}
}
