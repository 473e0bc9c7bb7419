// Package registry implements the project registry: the facade over the
// metadata store's project table that tracks notebooks to be executed and
// cached (spec §4.5).
package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jupyter-cache/nbcache/internal/db"
	"github.com/jupyter-cache/nbcache/internal/notebook"
	"github.com/jupyter-cache/nbcache/internal/reader"
)

// ErrAssetOutsideFolder signals that an asset path does not resolve under
// the notebook uri's parent folder, mirroring
// NbProjectRecord.validate_assets.
var ErrAssetOutsideFolder = errors.New("asset is not within the notebook's folder")

// ErrReadFailed wraps an error returned by a notebook's registered reader
// while resolving its project record to a notebook.
var ErrReadFailed = errors.New("failed to read notebook")

// CacheLookup is the subset of the cache engine a Registry needs, to answer
// CachedForNb / ListUnexecuted without the registry depending on the whole
// cache engine package; *cache.Engine implements it, and tests can supply a
// lightweight fake instead.
type CacheLookup interface {
	Fingerprint(nb *notebook.Notebook) (string, error)
	LookupByFingerprint(ctx context.Context, fingerprint string) (*db.CacheRecord, error)
}

// Registry tracks notebooks that belong to a project.
type Registry struct {
	store *db.Store
	cache CacheLookup
}

// New returns a Registry backed by store. cache may be nil; CachedForNb and
// ListUnexecuted will then report everything as unexecuted.
func New(store *db.Store, cache CacheLookup) *Registry {
	return &Registry{store: store, cache: cache}
}

// Notebook pairs a project record with the notebook it resolves to.
type Notebook struct {
	Record *db.ProjectRecord
	NB     *notebook.Notebook
}

// AddNb registers a notebook at uri, read using readerName, with the given
// asset paths. Asset paths must resolve within uri's parent folder.
func (r *Registry) AddNb(ctx context.Context, uri, readerName string, assets []string) (*db.ProjectRecord, error) {
	if _, err := reader.Lookup(readerName); err != nil {
		return nil, fmt.Errorf("add notebook %q: %w", uri, err)
	}
	absURI, err := filepath.Abs(uri)
	if err != nil {
		return nil, fmt.Errorf("resolve notebook path %q: %w", uri, err)
	}
	absAssets := make([]string, len(assets))
	for i, a := range assets {
		abs, err := filepath.Abs(a)
		if err != nil {
			return nil, fmt.Errorf("resolve asset path %q: %w", a, err)
		}
		absAssets[i] = abs
	}
	if err := validateAssets(absURI, absAssets); err != nil {
		return nil, err
	}

	readData := map[string]interface{}{"name": readerName}
	rec, err := r.store.ProjectCreate(ctx, absURI, readData, absAssets, nil)
	if errors.Is(err, db.ErrAlreadyExists) {
		existing, getErr := r.store.ProjectGetByURI(ctx, absURI)
		if getErr != nil {
			return nil, fmt.Errorf("add notebook %q: %w", uri, getErr)
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("add notebook %q: %w", uri, err)
	}
	return rec, nil
}

func validateAssets(uri string, assets []string) error {
	folder := filepath.Dir(uri)
	for _, a := range assets {
		rel, err := filepath.Rel(folder, a)
		if err != nil || strings.HasPrefix(rel, "..") {
			return fmt.Errorf("%w: asset %q is not in folder %q", ErrAssetOutsideFolder, a, folder)
		}
	}
	return nil
}

// RemoveNb removes a notebook from the project by uri.
func (r *Registry) RemoveNb(ctx context.Context, uri string) error {
	absURI, err := filepath.Abs(uri)
	if err != nil {
		return fmt.Errorf("resolve notebook path %q: %w", uri, err)
	}
	return r.store.ProjectRemoveByURIs(ctx, []string{absURI})
}

// RemoveNbByPK removes a notebook from the project by primary key.
func (r *Registry) RemoveNbByPK(ctx context.Context, pk int64) error {
	return r.store.ProjectRemoveByPKs(ctx, []int64{pk})
}

// List returns tracked project records, ordered by insertion, narrowed to
// filterURIs/filterPKs when given. Both nil/empty returns every tracked
// notebook.
func (r *Registry) List(ctx context.Context, filterURIs []string, filterPKs []int64) ([]*db.ProjectRecord, error) {
	all, err := r.store.ProjectAllOrderedByPK(ctx)
	if err != nil {
		return nil, err
	}
	if len(filterURIs) == 0 && len(filterPKs) == 0 {
		return all, nil
	}

	uris := make(map[string]bool, len(filterURIs))
	for _, u := range filterURIs {
		abs, err := filepath.Abs(u)
		if err != nil {
			return nil, fmt.Errorf("resolve notebook path %q: %w", u, err)
		}
		uris[abs] = true
	}
	pks := make(map[int64]bool, len(filterPKs))
	for _, pk := range filterPKs {
		pks[pk] = true
	}

	var out []*db.ProjectRecord
	for _, rec := range all {
		if uris[rec.URI] || pks[rec.PK] {
			out = append(out, rec)
		}
	}
	return out, nil
}

// GetNb returns the project record for uri together with the notebook read
// from disk via its registered reader.
func (r *Registry) GetNb(ctx context.Context, uri string) (*Notebook, error) {
	absURI, err := filepath.Abs(uri)
	if err != nil {
		return nil, fmt.Errorf("resolve notebook path %q: %w", uri, err)
	}
	rec, err := r.store.ProjectGetByURI(ctx, absURI)
	if err != nil {
		return nil, fmt.Errorf("get notebook %q: %w", uri, err)
	}
	return r.readNb(rec)
}

// GetNbByPK is GetNb, looked up by primary key instead of uri.
func (r *Registry) GetNbByPK(ctx context.Context, pk int64) (*Notebook, error) {
	rec, err := r.store.ProjectGetByPK(ctx, pk)
	if err != nil {
		return nil, fmt.Errorf("get notebook pk=%d: %w", pk, err)
	}
	return r.readNb(rec)
}

func (r *Registry) readNb(rec *db.ProjectRecord) (*Notebook, error) {
	name := ""
	if n, ok := rec.ReadData["name"].(string); ok {
		name = n
	}
	rd, err := reader.Lookup(name)
	if err != nil {
		return nil, fmt.Errorf("get notebook %q: %w: %w", rec.URI, ErrReadFailed, err)
	}
	nb, err := rd.Read(rec.URI)
	if err != nil {
		return nil, fmt.Errorf("get notebook %q: %w: %w", rec.URI, ErrReadFailed, err)
	}
	return &Notebook{Record: rec, NB: nb}, nil
}

// CachedForNb returns the cache record that matches the current content of
// the notebook at uri, or nil if it has not been (validly) executed yet.
func (r *Registry) CachedForNb(ctx context.Context, uri string) (*db.CacheRecord, error) {
	if r.cache == nil {
		return nil, nil
	}
	nb, err := r.GetNb(ctx, uri)
	if err != nil {
		return nil, err
	}
	fp, err := r.cache.Fingerprint(nb.NB)
	if err != nil {
		return nil, fmt.Errorf("fingerprint notebook %q: %w", uri, err)
	}
	rec, err := r.cache.LookupByFingerprint(ctx, fp)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ClearTracebacks clears the recorded traceback for the given notebooks,
// ahead of a fresh execution run.
func (r *Registry) ClearTracebacks(ctx context.Context, pks []int64) error {
	return r.store.ProjectClearTracebacks(ctx, pks)
}

// SetTraceback records the traceback produced by a failed execution of the
// notebook at uri.
func (r *Registry) SetTraceback(ctx context.Context, uri string, traceback *string) error {
	return r.store.ProjectSetTraceback(ctx, uri, traceback)
}

// ListUnexecuted returns every tracked notebook that has no matching cache
// record for its current content.
func (r *Registry) ListUnexecuted(ctx context.Context) ([]*db.ProjectRecord, error) {
	all, err := r.store.ProjectAllOrderedByPK(ctx)
	if err != nil {
		return nil, err
	}
	var out []*db.ProjectRecord
	for _, rec := range all {
		cached, err := r.CachedForNb(ctx, rec.URI)
		if err != nil {
			return nil, fmt.Errorf("check cache status for %q: %w", rec.URI, err)
		}
		if cached == nil {
			out = append(out, rec)
		}
	}
	return out, nil
}
