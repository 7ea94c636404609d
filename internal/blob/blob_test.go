package blob

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/edwardbensa/storiedbc-db/internal/record"
	"github.com/edwardbensa/storiedbc-db/internal/store"
)

func TestFilename(t *testing.T) {
	name, err := Filename(record.Record{"isbn_13": "9780441013593"}, "cover")
	if err != nil {
		t.Fatalf("cover filename: %v", err)
	}
	if !strings.HasPrefix(name, "b01-") || len(name) != len("b01-")+hashLength {
		t.Errorf("isbn cover name = %q", name)
	}

	// ASIN is the fallback identifier and carries its own prefix
	name, err = Filename(record.Record{"isbn_13": " ", "asin": "B000R93D4Y"}, "cover")
	if err != nil || !strings.HasPrefix(name, "b02-") {
		t.Errorf("asin cover name = %q, err %v", name, err)
	}

	if _, err := Filename(record.Record{"title": "Dune"}, "cover"); err == nil {
		t.Errorf("cover without identifiers got a name")
	}

	name, err = Filename(record.Record{"handle": "paul_a"}, "user")
	if err != nil || !strings.HasSuffix(name, ".jpg") {
		t.Errorf("user name = %q, err %v", name, err)
	}
	if _, err := Filename(record.Record{}, "club"); err == nil {
		t.Errorf("club without handle got a name")
	}
	if _, err := Filename(record.Record{}, "banner"); err == nil {
		t.Errorf("unknown image type accepted")
	}

	// Same identifier, same name
	a, _ := Filename(record.Record{"isbn_13": "9780441013593"}, "cover")
	b, _ := Filename(record.Record{"isbn_13": "9780441013593", "title": "x"}, "cover")
	if a != b {
		t.Errorf("filename not stable: %q vs %q", a, b)
	}
}

func TestExtension(t *testing.T) {
	cases := map[string]string{
		"https://img.example.com/dune.png":          ".png",
		"https://img.example.com/dune.jpeg?s=large": ".jpeg",
		"https://img.example.com/dune":              ".jpg",
		"":                                          ".jpg",
	}
	for in, want := range cases {
		if got := Extension(in); got != want {
			t.Errorf("Extension(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestImageURL(t *testing.T) {
	doc := record.Record{"isbn_13": "9780441013593"}
	got := ImageURL(doc, "https://img.example.com/dune.png", "cover", "cover-art", "storiedimg")
	if !strings.HasPrefix(got, "https://storiedimg.blob.core.windows.net/cover-art/b01-") ||
		!strings.HasSuffix(got, ".png") {
		t.Errorf("url = %q", got)
	}

	if got := ImageURL(doc, "  ", "cover", "cover-art", "storiedimg"); got != "" {
		t.Errorf("blank source produced %q", got)
	}
	if got := ImageURL(record.Record{}, "https://x/y.png", "cover", "c", "a"); got != "" {
		t.Errorf("unnameable doc produced %q", got)
	}
}

func TestBuildManifest(t *testing.T) {
	docs := []record.Record{
		{"_id": "v1", "isbn_13": "9780441013593", "cover_url": "https://img.example.com/dune.png"},
		{"_id": "v2", "isbn_13": "9780553283686"},
		{"_id": "v3", "cover_url": "https://img.example.com/orphan.png"},
	}
	manifest := BuildManifest(docs, "cover_url", "cover")
	if len(manifest) != 1 {
		t.Fatalf("manifest = %+v", manifest)
	}
	for name, src := range manifest {
		if !strings.HasPrefix(name, "b01-") || !strings.HasSuffix(name, ".png") {
			t.Errorf("blob name = %q", name)
		}
		if src != "https://img.example.com/dune.png" {
			t.Errorf("source = %q", src)
		}
	}
}

// fakeBlobs records container operations in memory.
type fakeBlobs struct {
	uploaded map[string]string
	deleted  []string
}

func (f *fakeBlobs) Upload(ctx context.Context, container, name string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if f.uploaded == nil {
		f.uploaded = map[string]string{}
	}
	f.uploaded[name] = string(data)
	return nil
}

func (f *fakeBlobs) Delete(ctx context.Context, container, name string) error {
	f.deleted = append(f.deleted, name)
	return nil
}

func TestSyncerSync(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "dead") {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, "image-bytes:"+r.URL.Path)
	}))
	defer server.Close()

	st, err := store.Open(filepath.Join(t.TempDir(), "main.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	// Seed an inventory holding one blob that is no longer wanted
	_, err = st.Upsert(store.Metadata, []record.Record{{
		"_id":       "inventory_cover_art",
		"filenames": []string{"stale-blob.png"},
	}}, time.Now().UTC())
	if err != nil {
		t.Fatalf("seed inventory: %v", err)
	}

	manifest := map[string]string{
		"fresh-blob.png": server.URL + "/dune.png",
		"dead-blob.png":  server.URL + "/dead.png",
	}

	blobs := &fakeBlobs{}
	syncer := NewSyncer(blobs)
	if err := syncer.Sync(context.Background(), st, "cover-art", "cover", manifest); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if len(blobs.deleted) != 1 || blobs.deleted[0] != "stale-blob.png" {
		t.Errorf("deleted = %v", blobs.deleted)
	}
	// The dead source URL is skipped, not fatal
	if len(blobs.uploaded) != 1 {
		t.Fatalf("uploaded = %v", blobs.uploaded)
	}
	if got := blobs.uploaded["fresh-blob.png"]; !strings.Contains(got, "dune.png") {
		t.Errorf("uploaded body = %q", got)
	}

	// The inventory now reflects the desired manifest
	doc, err := st.Get(store.Metadata, "inventory_cover_art")
	if err != nil || doc == nil {
		t.Fatalf("inventory missing: %v", err)
	}
	names, _ := doc["filenames"].([]any)
	if len(names) != 2 {
		t.Errorf("inventory = %v", doc["filenames"])
	}

	if err := syncer.Sync(context.Background(), st, "cover-art", "banner", nil); err == nil {
		t.Errorf("unknown image type accepted")
	}
}

func TestSyncerSkipsKnownBlobs(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "main.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	_, err = st.Upsert(store.Metadata, []record.Record{{
		"_id":       "inventory_cover_art",
		"filenames": []string{"known.png"},
	}}, time.Now().UTC())
	if err != nil {
		t.Fatalf("seed inventory: %v", err)
	}

	blobs := &fakeBlobs{}
	manifest := map[string]string{"known.png": "https://unreachable.invalid/known.png"}
	if err := NewSyncer(blobs).Sync(context.Background(), st, "cover-art", "cover", manifest); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(blobs.uploaded) != 0 || len(blobs.deleted) != 0 {
		t.Errorf("known blob was re-synced: %+v", blobs)
	}
}
