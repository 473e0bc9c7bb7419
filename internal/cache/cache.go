// Package cache implements the cache engine: the orchestration layer that
// ties the metadata store (internal/db) and the artifact store
// (internal/artifact) together into Ingest/Lookup/Retrieve/Merge/Diff/Evict
// operations over content-addressed, executed notebooks (spec §4.4).
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	godiffpatch "github.com/sourcegraph/go-diff-patch"

	"github.com/jupyter-cache/nbcache/internal/artifact"
	"github.com/jupyter-cache/nbcache/internal/db"
	"github.com/jupyter-cache/nbcache/internal/notebook"
)

const (
	// settingsCacheLimitKey is the settings-table key the cache size limit
	// is stored under.
	settingsCacheLimitKey = "cache_limit"
	// DefaultCacheLimit is how many cache records are kept before Truncate
	// starts evicting the least-recently-accessed ones.
	DefaultCacheLimit = 1000
	// SchemaVersion is the cache root's on-disk format version, written once
	// to __version__.txt by Init.
	SchemaVersion = "1"
)

// DefaultMergeNBMetaKeys is the default set of notebook metadata keys Merge
// copies from the cached notebook into the input, matching
// merge_match_into_notebook's default. Passing nil to Merge instead requests
// the explicit "copy everything" mode.
var DefaultMergeNBMetaKeys = []string{"kernelspec", "language_info", "widgets"}

// ErrAlreadyCached is a CachingError: a notebook already exists in the cache
// under overwrite=false.
var ErrAlreadyCached = errors.New("notebook already exists in cache")

// ErrRetrieval is a RetrievalError: a cache record's pk or hashkey does not
// resolve to a readable notebook on disk.
var ErrRetrieval = errors.New("failed to retrieve cached notebook")

// ErrNotValid wraps a *notebook.ValidityError: Ingest's execution_count
// validity check failed.
var ErrNotValid = errors.New("notebook is not validly executed")

// Bundle is a notebook together with the artifacts it produced and any
// extra JSON-able execution data, ready to be (or having been) cached.
type Bundle struct {
	NB        *notebook.Notebook
	URI       string
	Artifacts map[string][]byte // relative path -> content
	Data      map[string]interface{}
}

// Engine is the cache engine: metadata store + artifact store + the
// canonicalization rules that tie a notebook to its cache record.
type Engine struct {
	store    *db.Store
	artifact *artifact.Store
	opts     notebook.CanonicalizeOptions
}

// New returns an Engine backed by store and artifacts, canonicalizing
// notebooks with opts.
func New(store *db.Store, artifacts *artifact.Store, opts notebook.CanonicalizeOptions) *Engine {
	return &Engine{store: store, artifact: artifacts, opts: opts}
}

// Fingerprint derives nb's content-addressed fingerprint without caching
// anything; it implements registry.CacheLookup.
func (e *Engine) Fingerprint(nb *notebook.Notebook) (string, error) {
	_, fp, err := notebook.Canonicalize(nb, e.opts)
	return fp, err
}

// LookupByFingerprint returns the cache record for fingerprint, or a
// db.ErrNotFound-wrapped error if nothing is cached under it. It implements
// registry.CacheLookup.
func (e *Engine) LookupByFingerprint(ctx context.Context, fingerprint string) (*db.CacheRecord, error) {
	return e.store.CacheGetByFingerprint(ctx, fingerprint)
}

// Ingest caches an executed notebook bundle. If checkValidity, the bundle's
// execution_count sequence is validated first. If overwrite is false and a
// notebook file is already stored on disk for the derived fingerprint,
// ErrAlreadyCached is returned.
func (e *Engine) Ingest(ctx context.Context, bundle Bundle, description string, checkValidity, overwrite bool) (*db.CacheRecord, error) {
	if checkValidity {
		if err := notebook.CheckValidity(bundle.NB, bundle.URI); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNotValid, err)
		}
	}

	hashedNB, fingerprint, err := notebook.Canonicalize(bundle.NB, e.opts)
	if err != nil {
		return nil, err
	}

	if e.artifact.Exists(fingerprint) {
		if !overwrite {
			return nil, fmt.Errorf("%w: fingerprint %s", ErrAlreadyCached, fingerprint)
		}
		if err := e.artifact.Remove(fingerprint); err != nil {
			return nil, err
		}
	}

	if existing, err := e.store.CacheGetByFingerprint(ctx, fingerprint); err == nil {
		if err := e.store.CacheRemove(ctx, []int64{existing.PK}); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	nbText, err := notebook.Write(hashedNB)
	if err != nil {
		return nil, fmt.Errorf("serialize cached notebook: %w", err)
	}
	if err := e.artifact.WriteBundle(fingerprint, nbText, bundle.Artifacts); err != nil {
		return nil, err
	}

	record, err := e.store.CacheCreate(ctx, bundle.URI, fingerprint, description, bundle.Data)
	if err != nil {
		return nil, err
	}

	if err := e.Truncate(ctx); err != nil {
		return nil, err
	}

	return record, nil
}

// IngestFile Ingests nb, which the caller has already read from the file at
// path, recording path as its origin URI. It does not read the file itself,
// and artifacts are cached exactly as passed in, not looked up relative to
// path.
func (e *Engine) IngestFile(ctx context.Context, nb *notebook.Notebook, path string, artifacts map[string][]byte, data map[string]interface{}, description string, checkValidity, overwrite bool) (*db.CacheRecord, error) {
	return e.Ingest(ctx, Bundle{NB: nb, URI: path, Artifacts: artifacts, Data: data}, description, checkValidity, overwrite)
}

// Lookup returns the cache record matching nb's current content, or a
// db.ErrNotFound-wrapped error if it has not been cached.
func (e *Engine) Lookup(ctx context.Context, nb *notebook.Notebook) (*db.CacheRecord, error) {
	_, fingerprint, err := notebook.Canonicalize(nb, e.opts)
	if err != nil {
		return nil, err
	}
	return e.store.CacheGetByFingerprint(ctx, fingerprint)
}

// Retrieve loads the full bundle (notebook + artifacts) for a cache record,
// touching its accessed time.
func (e *Engine) Retrieve(ctx context.Context, pk int64) (*Bundle, *db.CacheRecord, error) {
	record, err := e.store.CacheGetByPK(ctx, pk)
	if err != nil {
		return nil, nil, err
	}
	if err := e.store.CacheTouch(ctx, pk); err != nil {
		return nil, nil, err
	}
	if !e.artifact.Exists(record.Hashkey) {
		return nil, nil, fmt.Errorf("%w: notebook file missing for cache record pk=%d", ErrRetrieval, pk)
	}

	text, err := e.artifact.ReadNotebook(record.Hashkey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrRetrieval, err)
	}
	nb, err := notebook.Parse(text)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrRetrieval, err)
	}

	paths, err := e.artifact.ListArtifacts(record.Hashkey)
	if err != nil {
		return nil, nil, err
	}
	artifacts := map[string][]byte{}
	for _, rel := range paths {
		// Artifact contents are read lazily by callers via WithArtifacts;
		// here we only record which paths exist.
		artifacts[rel] = nil
	}

	return &Bundle{NB: nb, URI: record.URI, Artifacts: artifacts, Data: record.Data}, record, nil
}

// WithArtifacts invokes fn with the filesystem directory holding the cache
// record's artifacts. The directory is only guaranteed to exist for the
// duration of fn; fn should only read from it.
func (e *Engine) WithArtifacts(ctx context.Context, pk int64, fn func(dir string) error) error {
	record, err := e.store.CacheGetByPK(ctx, pk)
	if err != nil {
		return err
	}
	return fn(e.artifact.ArtifactDir(record.Hashkey))
}

// Merge matches nb to a cached record and returns a copy of nb with its
// code cells and metadata replaced by the cached, executed versions -- the
// input's non-code cells are left untouched.
func (e *Engine) Merge(ctx context.Context, nb *notebook.Notebook, nbMetaKeys, cellMetaKeys []string) (int64, *notebook.Notebook, error) {
	record, err := e.Lookup(ctx, nb)
	if err != nil {
		return 0, nil, err
	}
	cached, _, err := e.Retrieve(ctx, record.PK)
	if err != nil {
		return 0, nil, err
	}

	out := nb.Clone()
	if nbMetaKeys == nil {
		out.Metadata = cloneMeta(cached.NB.Metadata)
	} else {
		for _, key := range nbMetaKeys {
			if v, ok := cached.NB.Metadata[key]; ok {
				out.Metadata[key] = v
			}
		}
	}

	cachedCodeCells := cached.NB.Cells
	cursor := 0
	for i := range out.Cells {
		if !out.Cells[i].IsCode() {
			continue
		}
		if cursor >= len(cachedCodeCells) {
			break
		}
		cachedCell := cachedCodeCells[cursor]
		cursor++

		if cellMetaKeys != nil {
			for k, v := range out.Cells[i].Metadata {
				cachedCell.Metadata[k] = v
			}
			for _, key := range cellMetaKeys {
				if v, ok := cachedCell.Metadata[key]; ok {
					out.Cells[i].Metadata[key] = v
				}
			}
		}
		cachedCell.ID = out.Cells[i].ID
		out.Cells[i] = cachedCell
	}
	return record.PK, out, nil
}

func cloneMeta(m map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Diff returns a unified text diff between the cached notebook identified
// by pk and nb's canonical projection, using the pack's diff collaborator
// in place of the original's optional nbdime dependency.
func (e *Engine) Diff(ctx context.Context, pk int64, nb *notebook.Notebook, uri string) (string, error) {
	cached, record, err := e.Retrieve(ctx, pk)
	if err != nil {
		return "", err
	}
	cachedText, err := notebook.Write(cached.NB)
	if err != nil {
		return "", err
	}

	hashedNB, _, err := notebook.Canonicalize(nb, e.opts)
	if err != nil {
		return "", err
	}
	otherText, err := notebook.Write(hashedNB)
	if err != nil {
		return "", err
	}

	patch := godiffpatch.GeneratePatch(record.URI, string(cachedText), string(otherText))
	header := fmt.Sprintf("nbdiff\n--- cached pk=%d\n+++ other: %s\n", pk, uri)
	return header + patch, nil
}

// Evict removes a cache record and its on-disk entry.
func (e *Engine) Evict(ctx context.Context, pk int64) error {
	record, err := e.store.CacheGetByPK(ctx, pk)
	if err != nil {
		return err
	}
	if err := e.artifact.Remove(record.Hashkey); err != nil {
		return err
	}
	return e.store.CacheRemove(ctx, []int64{pk})
}

// Truncate evicts the oldest cache records beyond the configured cache
// limit (settings key "cache_limit", default DefaultCacheLimit).
func (e *Engine) Truncate(ctx context.Context) error {
	limit, err := e.CacheLimit(ctx)
	if err != nil {
		return err
	}
	evictable, err := e.store.CacheSelectEvictable(ctx, limit)
	if err != nil {
		return err
	}
	for _, pk := range evictable {
		if err := e.Evict(ctx, pk); err != nil {
			return err
		}
	}
	return nil
}

// CacheLimit returns the configured cache_limit setting, or
// DefaultCacheLimit if unset.
func (e *Engine) CacheLimit(ctx context.Context) (int, error) {
	var limit int
	err := e.store.GetSetting(ctx, settingsCacheLimitKey, &limit)
	if errors.Is(err, db.ErrNotFound) {
		return DefaultCacheLimit, nil
	}
	if err != nil {
		return 0, err
	}
	return limit, nil
}

// SetCacheLimit updates the cache_limit setting.
func (e *Engine) SetCacheLimit(ctx context.Context, limit int) error {
	if limit <= 0 {
		return fmt.Errorf("cache limit must be positive, got %d", limit)
	}
	return e.store.SetSetting(ctx, settingsCacheLimitKey, limit)
}

// Clear removes every cache record and the entire on-disk cache tree.
func (e *Engine) Clear(ctx context.Context) error {
	all, err := e.store.CacheAll(ctx)
	if err != nil {
		return err
	}
	pks := make([]int64, len(all))
	for i, r := range all {
		pks[i] = r.PK
	}
	if err := e.store.CacheRemove(ctx, pks); err != nil {
		return err
	}
	return e.artifact.ClearAll()
}

// Init ensures the cache root's on-disk version marker (__version__.txt)
// exists, writing it once with SchemaVersion.
func (e *Engine) Init(ctx context.Context) error {
	return e.artifact.WriteVersion(SchemaVersion)
}

// Version reports the cache root's on-disk format version, read from
// __version__.txt, or "" if the cache root has not been initialized.
func (e *Engine) Version(ctx context.Context) (string, error) {
	return e.artifact.ReadVersion()
}

// Reconcile sweeps for cache records whose on-disk notebook file is
// missing (e.g. after an interrupted Ingest) and removes them, so the
// metadata store and artifact store stay consistent. This is invoked
// explicitly by callers rather than run as a background daemon.
func (e *Engine) Reconcile(ctx context.Context) (removed []int64, err error) {
	all, err := e.store.CacheAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range all {
		if !e.artifact.Exists(rec.Hashkey) {
			if err := e.store.CacheRemove(ctx, []int64{rec.PK}); err != nil {
				return removed, err
			}
			removed = append(removed, rec.PK)
		}
	}
	return removed, nil
}
