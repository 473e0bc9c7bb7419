package notebook

import "fmt"

// ValidityError signals that a notebook is not "validly executed": its code
// cells' execution_count values do not form the strictly increasing
// sequence 1, 2, 3, ... with no gaps or nulls (spec §4.1).
type ValidityError struct {
	CellIndex int
	OriginURI string
	Expected  int
	Got       *int
}

func (e *ValidityError) Error() string {
	got := "nil"
	if e.Got != nil {
		got = fmt.Sprintf("%d", *e.Got)
	}
	return fmt.Sprintf("notebook %q: expected cell %d to have execution_count %d, got %s",
		e.OriginURI, e.CellIndex, e.Expected, got)
}

// CheckValidity implements spec §4.1's validation: code cells'
// execution_count values must be 1, 2, 3, ... with no gaps or nulls.
func CheckValidity(nb *Notebook, originURI string) error {
	expected := 1
	for i, c := range nb.Cells {
		if !c.IsCode() {
			continue
		}
		if c.ExecutionCount == nil || *c.ExecutionCount != expected {
			return &ValidityError{
				CellIndex: i,
				OriginURI: originURI,
				Expected:  expected,
				Got:       c.ExecutionCount,
			}
		}
		expected++
	}
	return nil
}
