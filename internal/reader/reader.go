// Package reader implements the notebook reading contract: a process-wide
// name->factory registry standing in for the original's entry_points
// plugin discovery (spec §6, §9).
package reader

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/jupyter-cache/nbcache/internal/notebook"
)

// Reader reads a notebook-like file at uri into the in-memory model.
type Reader interface {
	Read(uri string) (*notebook.Notebook, error)
}

// ReadError is an NbReadError-kind error: the file could not be opened or
// could not be parsed into a notebook.
type ReadError struct {
	URI string
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("failed to read notebook %q: %v", e.URI, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// ReaderFunc adapts a plain function to the Reader interface.
type ReaderFunc func(uri string) (*notebook.Notebook, error)

func (f ReaderFunc) Read(uri string) (*notebook.Notebook, error) {
	return f(uri)
}

var (
	mu       sync.RWMutex
	registry = map[string]Reader{}
)

// Register adds (or replaces) a named reader in the process-wide registry.
// Typically called from an init() in a package that provides a reader.
func Register(name string, r Reader) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = r
}

// Lookup returns the reader registered under name, or an error if none is
// registered.
func Lookup(name string) (Reader, error) {
	mu.RLock()
	defer mu.RUnlock()
	r, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("no reader registered for: %q", name)
	}
	return r, nil
}

// Names returns the sorted list of registered reader names.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register("notebook-json", ReaderFunc(readNotebookJSON))
	Register("notebook-text", ReaderFunc(readNotebookText))
}

// readNotebookJSON reads a standard .ipynb JSON file.
func readNotebookJSON(uri string) (*notebook.Notebook, error) {
	data, err := os.ReadFile(uri)
	if err != nil {
		return nil, &ReadError{URI: uri, Err: err}
	}
	nb, err := notebook.Parse(data)
	if err != nil {
		return nil, &ReadError{URI: uri, Err: err}
	}
	return nb, nil
}

// readNotebookText reads a lightweight percent-delimited text format (a
// minimal jupytext-style "percent" format): each line starting with "# %%"
// begins a new code cell, everything else is appended to the current cell's
// source. A leading markdown block, if present, is captured too.
func readNotebookText(uri string) (*notebook.Notebook, error) {
	f, err := os.Open(uri)
	if err != nil {
		return nil, &ReadError{URI: uri, Err: err}
	}
	defer f.Close()

	nb := &notebook.Notebook{
		NBFormat:      notebook.FormatMajor,
		NBFormatMinor: notebook.FormatMinor,
		Metadata:      map[string]json.RawMessage{},
	}

	var current *notebook.Cell
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "# %%") {
			nb.Cells = append(nb.Cells, notebook.Cell{
				CellType: notebook.CellCode,
				Metadata: map[string]json.RawMessage{},
			})
			current = &nb.Cells[len(nb.Cells)-1]
			continue
		}
		if current == nil {
			nb.Cells = append(nb.Cells, notebook.Cell{
				CellType: notebook.CellOther,
				Metadata: map[string]json.RawMessage{},
			})
			current = &nb.Cells[len(nb.Cells)-1]
		}
		if current.Source != "" {
			current.Source += "\n"
		}
		current.Source += line
	}
	if err := scanner.Err(); err != nil {
		return nil, &ReadError{URI: uri, Err: err}
	}
	return nb, nil
}
