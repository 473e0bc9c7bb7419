package executor

import (
	"context"
	"log"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/jupyter-cache/nbcache/internal/cache"
	"github.com/jupyter-cache/nbcache/internal/db"
	"github.com/jupyter-cache/nbcache/internal/registry"
)

// Coordinator selects which tracked notebooks need execution and dispatches
// them to a Worker, serially or in parallel.
type Coordinator struct {
	registry *registry.Registry
	cache    *cache.Engine
	executor CellExecutor
}

// New returns a Coordinator that tracks notebooks via reg, caches results
// via eng, and executes cells via executor.
func New(reg *registry.Registry, eng *cache.Engine, executor CellExecutor) *Coordinator {
	return &Coordinator{registry: reg, cache: eng, executor: executor}
}

// Run selects notebooks per opts (everything if Force, otherwise only
// unexecuted ones, further narrowed by FilterURIs/FilterPKs), clears their
// tracebacks, and dispatches each to a Worker -- mirroring
// JupyterExecutorAbstract.get_records + run_and_cache.
func (c *Coordinator) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	records, err := c.selectRecords(ctx, opts)
	if err != nil {
		return nil, err
	}

	pks := make([]int64, len(records))
	for i, r := range records {
		pks[i] = r.PK
	}
	if err := c.registry.ClearTracebacks(ctx, pks); err != nil {
		return nil, err
	}

	log.Printf("[executor] starting run over %d notebook(s)", len(records))

	worker := NewWorker(c.registry, c.cache, c.executor, opts.Directory)

	result := &RunResult{}
	if opts.Scheduling == Parallel {
		c.runParallel(ctx, worker, records, opts, result)
	} else {
		c.runSerial(ctx, worker, records, opts, result)
	}

	log.Printf("[executor] run complete: %d succeeded, %d excepted, %d errored",
		len(result.Succeeded), len(result.Excepted), len(result.Errored))
	return result, nil
}

func (c *Coordinator) runSerial(ctx context.Context, worker *Worker, records []*db.ProjectRecord, opts RunOptions, result *RunResult) {
	for _, rec := range records {
		outcome := worker.Run(ctx, rec, opts.Timeout, opts.AllowErrors)
		result.add(outcome, rec.URI)
	}
}

func (c *Coordinator) runParallel(ctx context.Context, worker *Worker, records []*db.ProjectRecord, opts RunOptions, result *RunResult) {
	outcomes := make([]Outcome, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, rec := range records {
		i, rec := i, rec
		g.Go(func() error {
			outcomes[i] = worker.Run(gctx, rec, opts.Timeout, opts.AllowErrors)
			return nil
		})
	}
	// Worker.Run reports failures as Outcome values rather than errors, so
	// g.Wait() only ever surfaces a context cancellation.
	_ = g.Wait()

	for i, rec := range records {
		result.add(outcomes[i], rec.URI)
	}
}

// selectRecords resolves the notebooks a run should consider, per
// RunOptions.
func (c *Coordinator) selectRecords(ctx context.Context, opts RunOptions) ([]*db.ProjectRecord, error) {
	var all []*db.ProjectRecord
	var err error
	if opts.Force {
		all, err = c.registry.List(ctx, nil, nil)
	} else {
		all, err = c.registry.ListUnexecuted(ctx)
	}
	if err != nil {
		return nil, err
	}

	if len(opts.FilterURIs) == 0 && len(opts.FilterPKs) == 0 {
		return all, nil
	}

	uriSet := make(map[string]bool, len(opts.FilterURIs))
	for _, u := range opts.FilterURIs {
		// Tracked notebooks are stored under absolute paths.
		if abs, err := filepath.Abs(u); err == nil {
			u = abs
		}
		uriSet[u] = true
	}
	pkSet := make(map[int64]bool, len(opts.FilterPKs))
	for _, pk := range opts.FilterPKs {
		pkSet[pk] = true
	}

	var out []*db.ProjectRecord
	for _, rec := range all {
		if uriSet[rec.URI] || pkSet[rec.PK] {
			out = append(out, rec)
		}
	}
	return out, nil
}
