package notebook

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnsupportedVersion is a CachingError: the notebook's format minor
// version is beyond what the cache has been taught to normalize.
var ErrUnsupportedVersion = errors.New("notebook format version not supported")

// DefaultNotebookMetadataKeys is the default notebook-metadata allow-list
// used when canonicalizing: only kernelspec participates in the fingerprint.
var DefaultNotebookMetadataKeys = []string{"kernelspec"}

// CanonicalizeOptions controls which metadata keys survive into the
// canonical projection used for fingerprinting. A nil slice means "keep
// all keys"; an empty non-nil slice means "keep none".
type CanonicalizeOptions struct {
	NotebookMetadataKeys []string
	CellMetadataKeys     []string
}

// DefaultCanonicalizeOptions matches spec §4.1 step 4's defaults: keep only
// `kernelspec` at the notebook level, keep all cell metadata.
func DefaultCanonicalizeOptions() CanonicalizeOptions {
	return CanonicalizeOptions{
		NotebookMetadataKeys: DefaultNotebookMetadataKeys,
		CellMetadataKeys:     nil,
	}
}

// projection is the trimmed, version-normalized, key-ordered form of a
// notebook that is actually hashed. Field order here IS the serialized key
// order (encoding/json preserves struct field order).
type projection struct {
	NBFormat      int                        `json:"nbformat"`
	NBFormatMinor int                        `json:"nbformat_minor"`
	Metadata      map[string]json.RawMessage `json:"metadata"`
	Cells         []projectionCell           `json:"cells"`
}

type projectionCell struct {
	CellType       string                     `json:"cell_type"`
	Source         string                     `json:"source"`
	Metadata       map[string]json.RawMessage `json:"metadata"`
	ExecutionCount *int                       `json:"execution_count"`
	Outputs        []json.RawMessage          `json:"outputs"`
}

// Upgrade upgrades nb to format version (4, 4), rejecting anything with a
// minor version beyond what the cache supports. The input is not mutated;
// a deep copy is returned.
func Upgrade(nb *Notebook) (*Notebook, error) {
	if nb.NBFormat != FormatMajor {
		return nil, fmt.Errorf("%w: nbformat %d is not supported (only %d)", ErrUnsupportedVersion, nb.NBFormat, FormatMajor)
	}
	if nb.NBFormatMinor > maxSupportedMinor {
		return nil, fmt.Errorf("%w: nbformat_minor %d is greater than %d", ErrUnsupportedVersion, nb.NBFormatMinor, maxSupportedMinor)
	}
	out := nb.Clone()
	out.NBFormat = FormatMajor
	out.NBFormatMinor = FormatMinor
	return out, nil
}

// Canonicalize implements spec §4.1: deep-copy, upgrade to 4.4, drop
// non-code cells, project to the allow-listed metadata, and derive the MD5
// fingerprint of the serialized projection.
//
// It returns the upgraded notebook with non-code cells dropped (the first
// element of the pair named in spec §4.1), and the fingerprint.
func Canonicalize(nb *Notebook, opts CanonicalizeOptions) (*Notebook, string, error) {
	upgraded, err := Upgrade(nb)
	if err != nil {
		return nil, "", err
	}

	codeCells := make([]Cell, 0, len(upgraded.Cells))
	for _, c := range upgraded.Cells {
		if c.IsCode() {
			codeCells = append(codeCells, c)
		}
	}
	upgraded.Cells = codeCells

	proj := projection{
		NBFormat:      FormatMajor,
		NBFormatMinor: FormatMinor,
		Metadata:      filterKeys(upgraded.Metadata, opts.NotebookMetadataKeys),
		Cells:         make([]projectionCell, len(codeCells)),
	}
	for i, c := range codeCells {
		proj.Cells[i] = projectionCell{
			CellType:       CellCode,
			Source:         c.Source,
			Metadata:       filterKeys(c.Metadata, opts.CellMetadataKeys),
			ExecutionCount: nil,
			Outputs:        []json.RawMessage{},
		}
	}

	text, err := json.Marshal(proj)
	if err != nil {
		return nil, "", fmt.Errorf("serialize canonical projection: %w", err)
	}
	sum := md5.Sum(text)
	return upgraded, hex.EncodeToString(sum[:]), nil
}

// filterKeys returns a copy of m restricted to the keys in allow (in no
// particular order; map key order is irrelevant since encoding/json sorts
// map keys when serializing). allow == nil means "keep all keys".
func filterKeys(m map[string]json.RawMessage, allow []string) map[string]json.RawMessage {
	if allow == nil {
		return cloneRawMap(m)
	}
	out := make(map[string]json.RawMessage, len(allow))
	for _, k := range allow {
		if v, ok := m[k]; ok {
			cp := make(json.RawMessage, len(v))
			copy(cp, v)
			out[k] = cp
		}
	}
	return out
}
