package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/jupyter-cache/nbcache/internal/notebook"
)

// SubprocessExecutor runs a notebook's cells by shelling out to an external
// `jupyter nbconvert --execute` process -- the out-of-core collaborator
// for the cell-execution contract, standing in for a native Jupyter kernel
// protocol client (no pack dependency speaks that protocol), the same way
// the cache engine's Diff defers to an external diff collaborator in place
// of nbdime.
type SubprocessExecutor struct {
	// Command is the nbconvert-compatible executable to run. Defaults to
	// "jupyter" if empty.
	Command string
}

// Execute writes nb to a temp file, runs nbconvert against it in cwd, and
// parses the result back into nb in place.
func (e *SubprocessExecutor) Execute(ctx context.Context, nb *notebook.Notebook, cwd string, timeout time.Duration, allowErrors bool) error {
	command := e.Command
	if command == "" {
		command = "jupyter"
	}

	inputPath := filepath.Join(cwd, ".nbcache-exec-input.ipynb")
	outputName := ".nbcache-exec-output.ipynb"
	text, err := notebook.Write(nb)
	if err != nil {
		return fmt.Errorf("serialize notebook for execution: %w", err)
	}
	if err := os.WriteFile(inputPath, text, 0o644); err != nil {
		return fmt.Errorf("write execution input: %w", err)
	}
	defer os.Remove(inputPath)
	defer os.Remove(filepath.Join(cwd, outputName))

	args := []string{
		"nbconvert",
		"--to", "notebook",
		"--execute",
		fmt.Sprintf("--ExecutePreprocessor.timeout=%d", int(timeout.Seconds())),
		"--output", outputName,
		"--output-dir", cwd,
		inputPath,
	}
	if allowErrors {
		args = append(args, "--allow-errors")
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout+10*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, command, args...)
	cmd.Dir = cwd
	output, runErr := cmd.CombinedOutput()
	if runErr != nil && !allowErrors {
		return fmt.Errorf("nbconvert execution failed: %w: %s", runErr, output)
	}

	executed, err := os.ReadFile(filepath.Join(cwd, outputName))
	if err != nil {
		return fmt.Errorf("read execution output: %w", err)
	}
	result, err := notebook.Parse(executed)
	if err != nil {
		return fmt.Errorf("parse execution output: %w", err)
	}

	nb.Cells = result.Cells
	nb.Metadata = result.Metadata
	return nil
}
