package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/jupyter-cache/nbcache/internal/artifact"
	"github.com/jupyter-cache/nbcache/internal/cache"
	"github.com/jupyter-cache/nbcache/internal/db"
	"github.com/jupyter-cache/nbcache/internal/registry"
)

// executionMetadata mirrors the optional notebook.metadata.execution block
// that lets a single notebook override the run's default timeout/
// allow_errors.
type executionMetadata struct {
	Timeout     *float64 `json:"timeout"`
	AllowErrors *bool    `json:"allow_errors"`
}

// Worker runs a single notebook's execution attempt and caches the result.
// It is the goroutine-pool analogue of ExecutionWorkerBase.__call__.
type Worker struct {
	registry *registry.Registry
	cache    *cache.Engine
	executor CellExecutor
	dir      DirectoryPolicy
}

// NewWorker returns a Worker that reads/writes through reg and eng, running
// cells with executor under the given directory policy.
func NewWorker(reg *registry.Registry, eng *cache.Engine, executor CellExecutor, dir DirectoryPolicy) *Worker {
	return &Worker{registry: reg, cache: eng, executor: executor, dir: dir}
}

// Run attempts to execute the notebook tracked by rec and, on success,
// caches it. It never returns an error itself -- every failure mode is
// reported as an Outcome, matching the original's "never let one notebook's
// failure kill the run" contract.
func (w *Worker) Run(ctx context.Context, rec *db.ProjectRecord, timeout time.Duration, allowErrors bool) Outcome {
	nb, err := w.registry.GetNbByPK(ctx, rec.PK)
	if err != nil {
		log.Printf("[executor] read failed for %s: %v", rec.URI, err)
		return Errored
	}

	effTimeout, effAllowErrors := applyMetadataOverride(nb.NB.Metadata, timeout, allowErrors)

	cwd, cleanup, err := w.prepareDir(rec)
	if err != nil {
		log.Printf("[executor] prepare directory failed for %s: %v", rec.URI, err)
		return Errored
	}
	if cleanup != nil {
		defer cleanup()
	}

	start := time.Now()
	execErr := w.executor.Execute(ctx, nb.NB, cwd, effTimeout, effAllowErrors)
	elapsed := time.Since(start)

	if execErr != nil {
		tb := execErr.Error()
		if err := w.registry.SetTraceback(ctx, rec.URI, &tb); err != nil {
			log.Printf("[executor] record traceback failed for %s: %v", rec.URI, err)
			return Errored
		}
		log.Printf("[executor] notebook %s raised: %v", rec.URI, execErr)
		return Excepted
	}

	// In-place runs never scan the notebook's own folder for artifacts --
	// only sandboxed runs, where cwd holds nothing but the copied assets and
	// whatever execution newly produced, report any.
	var artifacts map[string][]byte
	if w.dir == Sandboxed {
		// Point each declared asset at the copy prepareDir placed in cwd, so
		// collectArtifacts can recognize and skip it.
		folder := filepath.Dir(rec.URI)
		copied := make([]string, 0, len(rec.Assets))
		for _, a := range rec.Assets {
			if rel, relErr := filepath.Rel(folder, a); relErr == nil {
				copied = append(copied, filepath.Join(cwd, rel))
			}
		}
		artifacts, err = collectArtifacts(cwd, copied)
		if err != nil {
			log.Printf("[executor] collect artifacts failed for %s: %v", rec.URI, err)
			return Errored
		}
	}

	bundle := cache.Bundle{
		NB:        nb.NB,
		URI:       rec.URI,
		Artifacts: artifacts,
		Data:      map[string]interface{}{"execution_seconds": elapsed.Seconds()},
	}
	if _, err := w.cache.Ingest(ctx, bundle, "", false, true); err != nil {
		log.Printf("[executor] cache ingest failed for %s: %v", rec.URI, err)
		return Errored
	}

	log.Printf("[executor] notebook %s succeeded in %s", rec.URI, elapsed)
	return Succeeded
}

// applyMetadataOverride reads notebook.metadata.execution.{timeout,allow_errors}
// if present, overriding the run's defaults -- mirroring single_nb_execution's
// meta_override behavior.
func applyMetadataOverride(meta map[string]json.RawMessage, timeout time.Duration, allowErrors bool) (time.Duration, bool) {
	raw, ok := meta["execution"]
	if !ok {
		return timeout, allowErrors
	}
	var override executionMetadata
	if err := json.Unmarshal(raw, &override); err != nil {
		return timeout, allowErrors
	}
	if override.Timeout != nil {
		timeout = time.Duration(*override.Timeout * float64(time.Second))
	}
	if override.AllowErrors != nil {
		allowErrors = *override.AllowErrors
	}
	return timeout, allowErrors
}

// prepareDir resolves the working directory to execute rec's notebook in.
// Under Sandboxed it creates a fresh temp directory and copies rec's
// declared assets into it, returning a cleanup func to remove it afterward.
func (w *Worker) prepareDir(rec *db.ProjectRecord) (dir string, cleanup func(), err error) {
	if w.dir == InPlace {
		return filepath.Dir(rec.URI), nil, nil
	}

	tmp := filepath.Join(os.TempDir(), "nbcache-exec-"+uuid.NewString())
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return "", nil, fmt.Errorf("create sandbox directory: %w", err)
	}
	folder := filepath.Dir(rec.URI)
	for _, asset := range rec.Assets {
		rel, err := filepath.Rel(folder, asset)
		if err != nil {
			os.RemoveAll(tmp)
			return "", nil, fmt.Errorf("resolve asset %q: %w", asset, err)
		}
		if err := artifact.CopyFile(asset, filepath.Join(tmp, rel)); err != nil {
			os.RemoveAll(tmp)
			return "", nil, fmt.Errorf("copy asset %q: %w", asset, err)
		}
	}
	return tmp, func() { os.RemoveAll(tmp) }, nil
}

// collectArtifacts reads every file under dir that is not one of the
// notebook's declared input assets, keyed by path relative to dir --
// mirroring create_cache_bundle's artifact selection.
func collectArtifacts(dir string, assets []string) (map[string][]byte, error) {
	skip := make(map[string]bool, len(assets))
	for _, a := range assets {
		rel, err := filepath.Rel(dir, a)
		if err == nil {
			skip[rel] = true
		}
	}

	out := map[string][]byte{}
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, err
	}

	var walk func(sub string) error
	walk = func(sub string) error {
		full := filepath.Join(dir, sub)
		infos, err := os.ReadDir(full)
		if err != nil {
			return err
		}
		for _, e := range infos {
			rel := filepath.Join(sub, e.Name())
			if e.IsDir() {
				if err := walk(rel); err != nil {
					return err
				}
				continue
			}
			if skip[rel] {
				continue
			}
			data, err := os.ReadFile(filepath.Join(dir, rel))
			if err != nil {
				return err
			}
			out[filepath.ToSlash(rel)] = data
		}
		return nil
	}
	if err := walk(""); err != nil {
		return nil, err
	}
	return out, nil
}
