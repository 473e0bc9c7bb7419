package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jupyter-cache/nbcache/internal/artifact"
	"github.com/jupyter-cache/nbcache/internal/cache"
	"github.com/jupyter-cache/nbcache/internal/db"
	"github.com/jupyter-cache/nbcache/internal/notebook"
	"github.com/jupyter-cache/nbcache/internal/reader"
	"github.com/jupyter-cache/nbcache/internal/registry"
)

// fakeExecutor is a test-double CellExecutor: it never runs a real kernel.
// It keys its behavior off each notebook's first code cell's source text,
// so tests can drive success/failure per notebook.
type fakeExecutor struct {
	mu      sync.Mutex
	fail    map[string]string // source -> error message to fail with
	calls   int
}

func (f *fakeExecutor) Execute(ctx context.Context, nb *notebook.Notebook, cwd string, timeout time.Duration, allowErrors bool) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	for i := range nb.Cells {
		if !nb.Cells[i].IsCode() {
			continue
		}
		if msg, ok := f.fail[nb.Cells[i].Source]; ok {
			return fmt.Errorf("%s", msg)
		}
		count := i + 1
		nb.Cells[i].ExecutionCount = &count
	}
	return nil
}

func setupCoordinator(t *testing.T) (*registry.Registry, *cache.Engine, string) {
	t.Helper()
	store, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	artStore := artifact.New(t.TempDir())
	eng := cache.New(store, artStore, notebook.DefaultCanonicalizeOptions())
	reg := registry.New(store, eng)
	return reg, eng, t.TempDir()
}

func writeNB(t *testing.T, path, source string) {
	t.Helper()
	content := `{"nbformat":4,"nbformat_minor":2,"metadata":{},"cells":[
		{"cell_type":"code","source":"` + source + `","execution_count":null,"metadata":{}}
	]}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRunSerialSucceedsAndCaches(t *testing.T) {
	t.Parallel()
	reg, eng, dir := setupCoordinator(t)
	ctx := context.Background()

	nbPath := filepath.Join(dir, "a.ipynb")
	writeNB(t, nbPath, "print(1)")
	if _, err := reg.AddNb(ctx, nbPath, "notebook-json", nil); err != nil {
		t.Fatalf("AddNb: %v", err)
	}

	exec := &fakeExecutor{fail: map[string]string{}}
	coord := New(reg, eng, exec)

	result, err := coord.Run(ctx, RunOptions{Timeout: time.Second, Scheduling: Serial, Directory: InPlace})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Succeeded) != 1 {
		t.Fatalf("expected 1 succeeded, got %+v", result)
	}

	unexecuted, err := reg.ListUnexecuted(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(unexecuted) != 0 {
		t.Fatalf("expected notebook to be cached after run, got %d unexecuted", len(unexecuted))
	}
}

func TestRunRecordsExceptedTraceback(t *testing.T) {
	t.Parallel()
	reg, eng, dir := setupCoordinator(t)
	ctx := context.Background()

	nbPath := filepath.Join(dir, "bad.ipynb")
	writeNB(t, nbPath, "raise ValueError")
	if _, err := reg.AddNb(ctx, nbPath, "notebook-json", nil); err != nil {
		t.Fatalf("AddNb: %v", err)
	}

	exec := &fakeExecutor{fail: map[string]string{"raise ValueError": "boom"}}
	coord := New(reg, eng, exec)

	result, err := coord.Run(ctx, RunOptions{Timeout: time.Second, Scheduling: Serial, Directory: InPlace})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Excepted) != 1 {
		t.Fatalf("expected 1 excepted, got %+v", result)
	}

	rec, err := reg.GetNb(ctx, nbPath)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Record.Traceback == nil || *rec.Record.Traceback == "" {
		t.Error("expected traceback to be recorded")
	}
}

func TestRunParallelSchedulesAll(t *testing.T) {
	t.Parallel()
	reg, eng, dir := setupCoordinator(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		nbPath := filepath.Join(dir, fmt.Sprintf("nb%d.ipynb", i))
		writeNB(t, nbPath, fmt.Sprintf("print(%d)", i))
		if _, err := reg.AddNb(ctx, nbPath, "notebook-json", nil); err != nil {
			t.Fatalf("AddNb: %v", err)
		}
	}

	exec := &fakeExecutor{fail: map[string]string{}}
	coord := New(reg, eng, exec)

	result, err := coord.Run(ctx, RunOptions{Timeout: time.Second, Scheduling: Parallel, Directory: InPlace})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Succeeded) != 5 {
		t.Fatalf("expected 5 succeeded, got %+v", result)
	}
	if exec.calls != 5 {
		t.Fatalf("expected executor invoked 5 times, got %d", exec.calls)
	}
}

func TestRunForceReexecutesCached(t *testing.T) {
	t.Parallel()
	reg, eng, dir := setupCoordinator(t)
	ctx := context.Background()

	nbPath := filepath.Join(dir, "a.ipynb")
	writeNB(t, nbPath, "print(1)")
	if _, err := reg.AddNb(ctx, nbPath, "notebook-json", nil); err != nil {
		t.Fatalf("AddNb: %v", err)
	}

	exec := &fakeExecutor{fail: map[string]string{}}
	coord := New(reg, eng, exec)

	if _, err := coord.Run(ctx, RunOptions{Timeout: time.Second, Scheduling: Serial, Directory: InPlace}); err != nil {
		t.Fatal(err)
	}
	if exec.calls != 1 {
		t.Fatalf("expected 1 call after first run, got %d", exec.calls)
	}

	result, err := coord.Run(ctx, RunOptions{Force: true, Timeout: time.Second, Scheduling: Serial, Directory: InPlace})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Succeeded) != 1 {
		t.Fatalf("expected 1 succeeded on forced rerun, got %+v", result)
	}
	if exec.calls != 2 {
		t.Fatalf("expected 2 calls after forced rerun, got %d", exec.calls)
	}
}

func init() {
	// Ensure the notebook-json reader is registered for these tests even
	// if the reader package's own init ordering changes.
	_, _ = reader.Lookup("notebook-json")
}
