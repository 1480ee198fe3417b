package db

import (
	"context"
	"fmt"
)

// QueryRows runs a read-only query and returns its rows as generic maps,
// keyed by column name. Used by the constrained SQL answer path; callers are
// responsible for validating the statement before passing it here.
func (db *DB) QueryRows(ctx context.Context, query string) ([]map[string]any, error) {
	rows, err := db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("running query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var results []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("reading row values: %w", err)
		}
		row := make(map[string]any, len(fields))
		for i, f := range fields {
			row[f.Name] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}
