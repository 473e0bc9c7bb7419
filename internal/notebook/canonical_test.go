package notebook

import (
	"encoding/json"
	"testing"
)

func mustInt(v int) *int {
	return &v
}

func rawString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func sampleNotebook() *Notebook {
	return &Notebook{
		NBFormat:      4,
		NBFormatMinor: 2,
		Metadata: map[string]json.RawMessage{
			"kernelspec":    rawString("python3"),
			"random_widget": rawString("unrelated"),
		},
		Cells: []Cell{
			{
				CellType:       CellCode,
				ID:             "a1",
				Source:         "print(1)",
				Metadata:       map[string]json.RawMessage{"tags": rawString("t1")},
				ExecutionCount: mustInt(1),
				Outputs:        []json.RawMessage{rawString("out1")},
			},
			{
				CellType: "markdown",
				ID:       "m1",
				Source:   "# hello",
				Metadata: map[string]json.RawMessage{},
			},
			{
				CellType:       CellCode,
				ID:             "a2",
				Source:         "print(2)",
				Metadata:       map[string]json.RawMessage{},
				ExecutionCount: mustInt(2),
				Outputs:        []json.RawMessage{rawString("out2")},
			},
		},
	}
}

func TestCanonicalizeDeterministic(t *testing.T) {
	t.Parallel()
	nb := sampleNotebook()
	_, fp1, err := Canonicalize(nb, DefaultCanonicalizeOptions())
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	_, fp2, err := Canonicalize(nb, DefaultCanonicalizeOptions())
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	if fp1 != fp2 {
		t.Errorf("fingerprint not deterministic: %s != %s", fp1, fp2)
	}
}

func TestCanonicalizeDropsNonCodeCells(t *testing.T) {
	t.Parallel()
	nb := sampleNotebook()
	upgraded, _, err := Canonicalize(nb, DefaultCanonicalizeOptions())
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	if len(upgraded.Cells) != 2 {
		t.Fatalf("expected 2 code cells after drop, got %d", len(upgraded.Cells))
	}
	for _, c := range upgraded.Cells {
		if !c.IsCode() {
			t.Errorf("non-code cell survived canonicalization: %+v", c)
		}
	}
}

func TestCanonicalEquivalenceAcrossNonCodeEdits(t *testing.T) {
	t.Parallel()
	nb1 := sampleNotebook()
	nb2 := sampleNotebook()
	nb2.Cells[1].Source = "# a totally different heading"
	nb2.Metadata["random_widget"] = rawString("also different")
	nb2.Cells[0].ID = "different-id"

	_, fp1, err := Canonicalize(nb1, DefaultCanonicalizeOptions())
	if err != nil {
		t.Fatal(err)
	}
	_, fp2, err := Canonicalize(nb2, DefaultCanonicalizeOptions())
	if err != nil {
		t.Fatal(err)
	}
	if fp1 != fp2 {
		t.Errorf("fingerprints should match for non-code edits: %s != %s", fp1, fp2)
	}
}

func TestCanonicalDistinctionOnSourceChange(t *testing.T) {
	t.Parallel()
	nb1 := sampleNotebook()
	nb2 := sampleNotebook()
	nb2.Cells[0].Source = "print(999)"

	_, fp1, err := Canonicalize(nb1, DefaultCanonicalizeOptions())
	if err != nil {
		t.Fatal(err)
	}
	_, fp2, err := Canonicalize(nb2, DefaultCanonicalizeOptions())
	if err != nil {
		t.Fatal(err)
	}
	if fp1 == fp2 {
		t.Errorf("fingerprints should differ when code source changes")
	}
}

func TestCanonicalDistinctionOnRetainedMetadataChange(t *testing.T) {
	t.Parallel()
	nb1 := sampleNotebook()
	nb2 := sampleNotebook()
	nb2.Metadata["kernelspec"] = rawString("julia")

	_, fp1, err := Canonicalize(nb1, DefaultCanonicalizeOptions())
	if err != nil {
		t.Fatal(err)
	}
	_, fp2, err := Canonicalize(nb2, DefaultCanonicalizeOptions())
	if err != nil {
		t.Fatal(err)
	}
	if fp1 == fp2 {
		t.Errorf("fingerprints should differ when kernelspec changes")
	}
}

func TestCanonicalizeRejectsUnsupportedMinor(t *testing.T) {
	t.Parallel()
	nb := sampleNotebook()
	nb.NBFormatMinor = 6
	if _, _, err := Canonicalize(nb, DefaultCanonicalizeOptions()); err == nil {
		t.Fatal("expected error for nbformat_minor > 5")
	}
}

func TestCanonicalizeOutputsAndExecutionCountZeroed(t *testing.T) {
	t.Parallel()
	nb1 := sampleNotebook()
	nb2 := sampleNotebook()
	nb2.Cells[0].ExecutionCount = mustInt(99)
	nb2.Cells[0].Outputs = nil

	_, fp1, err := Canonicalize(nb1, DefaultCanonicalizeOptions())
	if err != nil {
		t.Fatal(err)
	}
	_, fp2, err := Canonicalize(nb2, DefaultCanonicalizeOptions())
	if err != nil {
		t.Fatal(err)
	}
	if fp1 != fp2 {
		t.Errorf("execution_count/outputs should not affect fingerprint: %s != %s", fp1, fp2)
	}
}

func TestCheckValidity(t *testing.T) {
	t.Parallel()
	nb := sampleNotebook()
	if err := CheckValidity(nb, "nb.ipynb"); err != nil {
		t.Fatalf("expected valid notebook, got %v", err)
	}

	bad := sampleNotebook()
	bad.Cells[2].ExecutionCount = mustInt(5)
	err := CheckValidity(bad, "nb.ipynb")
	if err == nil {
		t.Fatal("expected validity error")
	}
	ve, ok := err.(*ValidityError)
	if !ok {
		t.Fatalf("expected *ValidityError, got %T", err)
	}
	if ve.CellIndex != 2 {
		t.Errorf("expected offending cell index 2, got %d", ve.CellIndex)
	}
	if ve.OriginURI != "nb.ipynb" {
		t.Errorf("expected origin URI to be carried, got %q", ve.OriginURI)
	}
}

func TestCheckValidityNullCount(t *testing.T) {
	t.Parallel()
	nb := sampleNotebook()
	nb.Cells[0].ExecutionCount = nil
	if err := CheckValidity(nb, "nb.ipynb"); err == nil {
		t.Fatal("expected validity error for null execution_count")
	}
}
