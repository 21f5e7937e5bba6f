package repository

import (
	"context"
	"errors"
	"strings"
)

// ErrQueryNotReadOnly is returned for escape-hatch queries that are not a
// single SELECT or WITH statement.
var ErrQueryNotReadOnly = errors.New("query must be a single SELECT statement")

// Query runs a read-only SQL statement with bound parameters and returns
// generic rows, one map per row keyed by column name. It backs dynamic
// formulas; results are not dependency-tracked. The statement gate is a
// shape check, defence in depth on top of the read-only role the pool
// should connect as.
func (r *Repository) Query(ctx context.Context, sql string, binds []any) ([]map[string]any, error) {
	trimmed := strings.TrimSpace(sql)
	tokens := strings.Fields(strings.ToUpper(trimmed))
	if len(tokens) == 0 || (tokens[0] != "SELECT" && tokens[0] != "WITH") {
		return nil, ErrQueryNotReadOnly
	}
	if strings.Contains(strings.TrimSuffix(trimmed, ";"), ";") {
		return nil, ErrQueryNotReadOnly
	}

	rows, err := r.db.Query(ctx, trimmed, binds...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(fields))
		for i, fd := range fields {
			row[fd.Name] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
