package db

import (
	"fmt"
	"strings"
)

// inClause expands a "%s" placeholder in query into a list of "?"
// placeholders sized to pks, returning the finished query and arg list.
func inClause(query string, pks []int64) (string, []interface{}) {
	placeholders := make([]string, len(pks))
	args := make([]interface{}, len(pks))
	for i, pk := range pks {
		placeholders[i] = "?"
		args[i] = pk
	}
	return fmt.Sprintf(query, strings.Join(placeholders, ",")), args
}

func inClauseStr(query string, vals []string) (string, []interface{}) {
	placeholders := make([]string, len(vals))
	args := make([]interface{}, len(vals))
	for i, v := range vals {
		placeholders[i] = "?"
		args[i] = v
	}
	return fmt.Sprintf(query, strings.Join(placeholders, ",")), args
}
