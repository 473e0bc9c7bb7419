// Package notebook defines the notebook data model and the pure functions
// used to canonicalize a notebook and derive its fingerprint.
package notebook

import (
	"encoding/json"
)

// FormatMajor.FormatMinor is the notebook format version the cache
// normalizes everything to before hashing or storing. Two notebooks
// differing only in minor version (4.0-4.5) are treated as the same format.
const (
	FormatMajor       = 4
	FormatMinor       = 4
	maxSupportedMinor = 5
)

// Cell kinds.
const (
	CellCode  = "code"
	CellOther = "markdown" // representative "non-code" kind; any kind != CellCode is treated as non-code
)

// Cell is a single notebook cell. Non-code cells carry no execution_count or
// outputs; those fields are only meaningful for code cells.
type Cell struct {
	CellType       string                     `json:"cell_type"`
	ID             string                     `json:"id,omitempty"`
	Source         string                     `json:"source"`
	Metadata       map[string]json.RawMessage `json:"metadata"`
	ExecutionCount *int                       `json:"execution_count,omitempty"`
	Outputs        []json.RawMessage          `json:"outputs,omitempty"`
}

// IsCode reports whether the cell is a code cell.
func (c *Cell) IsCode() bool {
	return c.CellType == CellCode
}

// Notebook is an ordered list of cells plus notebook-level metadata and a
// format version pair.
type Notebook struct {
	NBFormat      int                        `json:"nbformat"`
	NBFormatMinor int                        `json:"nbformat_minor"`
	Metadata      map[string]json.RawMessage `json:"metadata"`
	Cells         []Cell                     `json:"cells"`
}

// Clone returns a deep copy of the notebook, so callers may freely mutate
// the notebook tree (e.g. during execution) without aliasing a cached copy.
func (n *Notebook) Clone() *Notebook {
	if n == nil {
		return nil
	}
	out := &Notebook{
		NBFormat:      n.NBFormat,
		NBFormatMinor: n.NBFormatMinor,
		Metadata:      cloneRawMap(n.Metadata),
		Cells:         make([]Cell, len(n.Cells)),
	}
	for i, c := range n.Cells {
		out.Cells[i] = c.clone()
	}
	return out
}

func (c *Cell) clone() Cell {
	out := Cell{
		CellType: c.CellType,
		ID:       c.ID,
		Source:   c.Source,
		Metadata: cloneRawMap(c.Metadata),
	}
	if c.ExecutionCount != nil {
		v := *c.ExecutionCount
		out.ExecutionCount = &v
	}
	if c.Outputs != nil {
		out.Outputs = make([]json.RawMessage, len(c.Outputs))
		for i, o := range c.Outputs {
			cp := make(json.RawMessage, len(o))
			copy(cp, o)
			out.Outputs[i] = cp
		}
	}
	return out
}

func cloneRawMap(m map[string]json.RawMessage) map[string]json.RawMessage {
	if m == nil {
		return map[string]json.RawMessage{}
	}
	out := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		cp := make(json.RawMessage, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// CodeCells returns the indices, within n.Cells, of the code cells, in
// order.
func (n *Notebook) CodeCells() []int {
	var idx []int
	for i, c := range n.Cells {
		if c.IsCode() {
			idx = append(idx, i)
		}
	}
	return idx
}

// Parse reads a notebook from its canonical JSON text representation.
func Parse(data []byte) (*Notebook, error) {
	var nb Notebook
	if err := json.Unmarshal(data, &nb); err != nil {
		return nil, err
	}
	if nb.Metadata == nil {
		nb.Metadata = map[string]json.RawMessage{}
	}
	for i := range nb.Cells {
		if nb.Cells[i].Metadata == nil {
			nb.Cells[i].Metadata = map[string]json.RawMessage{}
		}
	}
	return &nb, nil
}

// Write serializes the notebook to its canonical JSON text representation.
func Write(nb *Notebook) ([]byte, error) {
	return json.MarshalIndent(nb, "", " ")
}
