// Package storage is the SQL-backed Persistence Layer for the durable
// alarm subsystem: schema bootstrap, alarm CRUD, and actor-session CRUD.
package storage

import "fmt"

// RowBatch is one shape a SQL driver may hand back: a column list plus a
// matching slice of row tuples.
type RowBatch struct {
	Columns []string
	Rows    [][]any
}

// NamedResult is the {columnNames, results} shape some drivers prefer.
type NamedResult struct {
	ColumnNames []string
	Results     [][]any
}

// RowCursor is an asynchronously iterable result shape: repeated calls to
// Next yield one decoded record at a time until ok is false.
type RowCursor interface {
	Next() (record map[string]any, ok bool, err error)
}

// Normalize decodes any of the three supported driver result shapes into a
// uniform, column-keyed record sequence. Each record maps the shape's
// declared column names to that row's values (a map, so it keeps no column
// order); the record sequence itself preserves row order.
//
// This is the single decode path shared by the live database/sql-backed
// engine and the unit tests: production code builds a []RowBatch from
// *sql.Rows and calls Normalize exactly like a test does, so "all three
// shapes decode identically" is a property of one function, not three.
func Normalize(shape any) ([]map[string]any, error) {
	switch v := shape.(type) {
	case []RowBatch:
		out := make([]map[string]any, 0)
		for _, batch := range v {
			for _, row := range batch.Rows {
				if len(row) != len(batch.Columns) {
					return nil, fmt.Errorf("storage: row has %d values, want %d columns", len(row), len(batch.Columns))
				}
				rec := make(map[string]any, len(batch.Columns))
				for i, col := range batch.Columns {
					rec[col] = row[i]
				}
				out = append(out, rec)
			}
		}
		return out, nil

	case NamedResult:
		out := make([]map[string]any, 0, len(v.Results))
		for _, row := range v.Results {
			if len(row) != len(v.ColumnNames) {
				return nil, fmt.Errorf("storage: row has %d values, want %d columns", len(row), len(v.ColumnNames))
			}
			rec := make(map[string]any, len(v.ColumnNames))
			for i, col := range v.ColumnNames {
				rec[col] = row[i]
			}
			out = append(out, rec)
		}
		return out, nil

	case RowCursor:
		out := make([]map[string]any, 0)
		for {
			rec, ok, err := v.Next()
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			out = append(out, rec)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("storage: unsupported result shape %T", shape)
	}
}

// sliceCursor adapts a pre-decoded record slice to RowCursor, used only by
// tests exercising the cursor branch of Normalize.
type sliceCursor struct {
	records []map[string]any
	pos     int
}

func newSliceCursor(records []map[string]any) *sliceCursor {
	return &sliceCursor{records: records}
}

func (c *sliceCursor) Next() (map[string]any, bool, error) {
	if c.pos >= len(c.records) {
		return nil, false, nil
	}
	rec := c.records[c.pos]
	c.pos++
	return rec, true, nil
}
