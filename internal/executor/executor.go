// Package executor implements the executor coordinator: it selects which
// registered notebooks need (re-)execution, dispatches each to a cell
// execution collaborator, and caches the successfully executed ones
// (spec §4.6, §5).
package executor

import (
	"context"
	"time"

	"github.com/jupyter-cache/nbcache/internal/notebook"
)

// CellExecutor is the out-of-core collaborator that actually runs a
// notebook's code cells against a kernel. Implementations mutate nb in
// place (populating execution_count and outputs) and return an error if a
// cell raised (and allowErrors is false) or the per-cell timeout elapsed.
type CellExecutor interface {
	Execute(ctx context.Context, nb *notebook.Notebook, cwd string, timeout time.Duration, allowErrors bool) error
}

// DirectoryPolicy controls the working directory a notebook is executed in.
type DirectoryPolicy int

const (
	// InPlace executes the notebook in its own containing folder.
	InPlace DirectoryPolicy = iota
	// Sandboxed executes the notebook in a fresh temporary folder, with
	// its declared assets copied in first.
	Sandboxed
)

// SchedulingPolicy controls how notebooks in a run are dispatched.
type SchedulingPolicy int

const (
	// Serial executes notebooks one at a time.
	Serial SchedulingPolicy = iota
	// Parallel executes notebooks concurrently, bounded by the number of
	// logical CPUs -- the goroutine-pool analogue of the original's
	// process pool.
	Parallel
)

// Outcome classifies how a single notebook's execution attempt ended.
type Outcome int

const (
	// Succeeded means the notebook executed and was cached.
	Succeeded Outcome = iota
	// Excepted means a cell raised during execution; a traceback was
	// recorded against the notebook's project record.
	Excepted
	// Errored means the notebook could not even be attempted (it could
	// not be read, or caching the result failed) -- an infrastructure
	// failure rather than a notebook bug.
	Errored
)

// RunResult collects the outcome of every notebook considered in a run.
type RunResult struct {
	Succeeded []string
	Excepted  []string
	Errored   []string
}

// All returns every considered notebook's URI, across all outcomes.
func (r *RunResult) All() []string {
	out := make([]string, 0, len(r.Succeeded)+len(r.Excepted)+len(r.Errored))
	out = append(out, r.Succeeded...)
	out = append(out, r.Excepted...)
	out = append(out, r.Errored...)
	return out
}

func (r *RunResult) add(outcome Outcome, uri string) {
	switch outcome {
	case Succeeded:
		r.Succeeded = append(r.Succeeded, uri)
	case Excepted:
		r.Excepted = append(r.Excepted, uri)
	default:
		r.Errored = append(r.Errored, uri)
	}
}

// RunOptions parameterizes a single execution run.
type RunOptions struct {
	// Force executes every tracked notebook, even ones already cached.
	Force bool
	// FilterURIs, if non-nil, restricts the run to these notebooks.
	FilterURIs []string
	// FilterPKs, if non-nil, restricts the run to these notebooks.
	FilterPKs []int64

	Timeout     time.Duration
	AllowErrors bool
	Directory   DirectoryPolicy
	Scheduling  SchedulingPolicy
}
