package db

import (
	"context"

	"github.com/JayJamieson/csv-sql/pkg/models"
)

// TabularStore is an embedded relational engine holding at most one table.
type TabularStore interface {
	// Replace drops the current table, if any, and creates data in its place.
	// On failure the previous table is left intact.
	Replace(ctx context.Context, data TableData) error
	Query(ctx context.Context, statement string) (models.QueryResult, error)
	Browse(ctx context.Context, tableName string, opts BrowseOptions) (models.QueryResult, error)
	Dialect() string
	Close() error
}

type TableData struct {
	Name    string
	Columns []models.Column
	Rows    [][]any
}

type BrowseOptions struct {
	Limit      int
	Offset     int
	SortColumn string
	SortDesc   bool
	ShowRowID  bool
}

type transformFunc func(columns []string, values []any) any

var transformFuncs = map[string]transformFunc{
	"array":   transformArray,
	"objects": transformObject,
}

// Shape converts result rows to the named response shape, "objects" or "array".
func Shape(result models.QueryResult, shape string) any {
	transform, ok := transformFuncs[shape]
	if !ok {
		transform = transformObject
	}
	rows := make([]any, 0, len(result.Rows))
	for _, row := range result.Rows {
		rows = append(rows, transform(result.Columns, row))
	}
	return rows
}

func transformArray(columns []string, values []any) any {
	arrRow := make([]any, len(columns))

	for i := range columns {
		val := values[i]
		if b, ok := val.([]byte); ok {
			val = string(b)
		}
		arrRow[i] = val
	}
	return arrRow
}

func transformObject(columns []string, values []any) any {
	objRow := make(map[string]any)

	for i, col := range columns {
		val := values[i]
		if b, ok := val.([]byte); ok {
			val = string(b)
		}
		objRow[col] = val
	}
	return objRow
}
