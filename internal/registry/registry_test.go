package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jupyter-cache/nbcache/internal/db"
	"github.com/jupyter-cache/nbcache/internal/notebook"
)

// fakeCache is a minimal CacheLookup used to test the registry without
// depending on the cache engine package (which itself depends on registry's
// sibling packages).
type fakeCache struct {
	cached map[string]*db.CacheRecord // fingerprint -> record
}

func (f *fakeCache) Fingerprint(nb *notebook.Notebook) (string, error) {
	_, fp, err := notebook.Canonicalize(nb, notebook.DefaultCanonicalizeOptions())
	return fp, err
}

func (f *fakeCache) LookupByFingerprint(ctx context.Context, fingerprint string) (*db.CacheRecord, error) {
	if rec, ok := f.cached[fingerprint]; ok {
		return rec, nil
	}
	return nil, db.ErrNotFound
}

func writeNotebookFile(t *testing.T, path, source string) {
	t.Helper()
	content := `{"nbformat":4,"nbformat_minor":2,"metadata":{},"cells":[
		{"cell_type":"code","source":"` + source + `","execution_count":1,"metadata":{}}
	]}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func openTestRegistry(t *testing.T, cache CacheLookup) *Registry {
	t.Helper()
	store, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store, cache)
}

func TestAddAndGetNb(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "nb.ipynb")
	writeNotebookFile(t, path, "print(1)")

	r := openTestRegistry(t, nil)
	ctx := context.Background()

	rec, err := r.AddNb(ctx, path, "notebook-json", nil)
	if err != nil {
		t.Fatalf("AddNb: %v", err)
	}

	got, err := r.GetNb(ctx, path)
	if err != nil {
		t.Fatalf("GetNb: %v", err)
	}
	if got.Record.PK != rec.PK {
		t.Errorf("pk mismatch: got %d want %d", got.Record.PK, rec.PK)
	}
	if len(got.NB.Cells) != 1 {
		t.Errorf("expected 1 cell, got %d", len(got.NB.Cells))
	}
}

func TestAddNbIsIdempotentOnURI(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "nb.ipynb")
	writeNotebookFile(t, path, "print(1)")

	r := openTestRegistry(t, nil)
	ctx := context.Background()

	first, err := r.AddNb(ctx, path, "notebook-json", nil)
	if err != nil {
		t.Fatalf("AddNb: %v", err)
	}

	second, err := r.AddNb(ctx, path, "notebook-json", nil)
	if err != nil {
		t.Fatalf("AddNb (repeat): %v", err)
	}
	if second.PK != first.PK {
		t.Errorf("expected repeat AddNb to return the existing record pk=%d, got pk=%d", first.PK, second.PK)
	}

	all, err := r.List(ctx, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("expected AddNb to stay idempotent on uri, got %d tracked notebooks", len(all))
	}
}

func TestGetNbWrapsReadFailure(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "nb.ipynb")
	writeNotebookFile(t, path, "print(1)")

	r := openTestRegistry(t, nil)
	ctx := context.Background()
	if _, err := r.AddNb(ctx, path, "notebook-json", nil); err != nil {
		t.Fatalf("AddNb: %v", err)
	}

	// AddNb only validates the reader name, not the file's contents; corrupt
	// it afterward so GetNb's actual read fails.
	if err := os.WriteFile(path, []byte("{ not valid json"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := r.GetNb(ctx, path)
	if !errors.Is(err, ErrReadFailed) {
		t.Fatalf("expected ErrReadFailed, got %v", err)
	}
}

func TestAddNbUnknownReader(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "nb.ipynb")
	writeNotebookFile(t, path, "print(1)")

	r := openTestRegistry(t, nil)
	_, err := r.AddNb(context.Background(), path, "no-such-reader", nil)
	if err == nil {
		t.Fatal("expected error for unknown reader")
	}
}

func TestAddNbAssetOutsideFolder(t *testing.T) {
	t.Parallel()
	nbDir := t.TempDir()
	assetDir := t.TempDir()
	path := filepath.Join(nbDir, "nb.ipynb")
	writeNotebookFile(t, path, "print(1)")
	assetPath := filepath.Join(assetDir, "data.csv")
	if err := os.WriteFile(assetPath, []byte("a,b"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := openTestRegistry(t, nil)
	_, err := r.AddNb(context.Background(), path, "notebook-json", []string{assetPath})
	if !errors.Is(err, ErrAssetOutsideFolder) {
		t.Fatalf("expected ErrAssetOutsideFolder, got %v", err)
	}
}

func TestAddNbAssetWithinFolder(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "nb.ipynb")
	writeNotebookFile(t, path, "print(1)")
	assetPath := filepath.Join(dir, "data.csv")
	if err := os.WriteFile(assetPath, []byte("a,b"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := openTestRegistry(t, nil)
	rec, err := r.AddNb(context.Background(), path, "notebook-json", []string{assetPath})
	if err != nil {
		t.Fatalf("AddNb: %v", err)
	}
	if len(rec.Assets) != 1 {
		t.Fatalf("expected 1 asset, got %d", len(rec.Assets))
	}
}

func TestListAndRemove(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p1 := filepath.Join(dir, "a.ipynb")
	p2 := filepath.Join(dir, "b.ipynb")
	writeNotebookFile(t, p1, "print(1)")
	writeNotebookFile(t, p2, "print(2)")

	r := openTestRegistry(t, nil)
	ctx := context.Background()
	if _, err := r.AddNb(ctx, p1, "notebook-json", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := r.AddNb(ctx, p2, "notebook-json", nil); err != nil {
		t.Fatal(err)
	}

	all, err := r.List(ctx, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 tracked notebooks, got %d", len(all))
	}

	if err := r.RemoveNb(ctx, p1); err != nil {
		t.Fatalf("RemoveNb: %v", err)
	}
	all, err = r.List(ctx, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 tracked notebook after remove, got %d", len(all))
	}
}

func TestListWithFilters(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p1 := filepath.Join(dir, "a.ipynb")
	p2 := filepath.Join(dir, "b.ipynb")
	writeNotebookFile(t, p1, "print(1)")
	writeNotebookFile(t, p2, "print(2)")

	r := openTestRegistry(t, nil)
	ctx := context.Background()
	rec1, err := r.AddNb(ctx, p1, "notebook-json", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.AddNb(ctx, p2, "notebook-json", nil); err != nil {
		t.Fatal(err)
	}

	byURI, err := r.List(ctx, []string{p1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(byURI) != 1 || byURI[0].PK != rec1.PK {
		t.Fatalf("List(filterURIs) = %v, want only pk=%d", byURI, rec1.PK)
	}

	byPK, err := r.List(ctx, nil, []int64{rec1.PK})
	if err != nil {
		t.Fatal(err)
	}
	if len(byPK) != 1 || byPK[0].PK != rec1.PK {
		t.Fatalf("List(filterPKs) = %v, want only pk=%d", byPK, rec1.PK)
	}
}

func TestCachedForNbAndListUnexecuted(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "nb.ipynb")
	writeNotebookFile(t, path, "print(1)")

	fc := &fakeCache{cached: map[string]*db.CacheRecord{}}
	r := openTestRegistry(t, fc)
	ctx := context.Background()

	if _, err := r.AddNb(ctx, path, "notebook-json", nil); err != nil {
		t.Fatal(err)
	}

	unexecuted, err := r.ListUnexecuted(ctx)
	if err != nil {
		t.Fatalf("ListUnexecuted: %v", err)
	}
	if len(unexecuted) != 1 {
		t.Fatalf("expected 1 unexecuted notebook, got %d", len(unexecuted))
	}

	got, err := r.GetNb(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	fp, err := fc.Fingerprint(got.NB)
	if err != nil {
		t.Fatal(err)
	}
	fc.cached[fp] = &db.CacheRecord{PK: 1, Hashkey: fp}

	cached, err := r.CachedForNb(ctx, path)
	if err != nil {
		t.Fatalf("CachedForNb: %v", err)
	}
	if cached == nil {
		t.Fatal("expected a cache record once fingerprint matches")
	}

	unexecuted, err = r.ListUnexecuted(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(unexecuted) != 0 {
		t.Fatalf("expected 0 unexecuted notebooks once cached, got %d", len(unexecuted))
	}
}
