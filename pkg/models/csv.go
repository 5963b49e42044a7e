package models

import (
	"fmt"
	"strings"
	"time"
)

type ColumnType int

const (
	ColumnTypeText ColumnType = iota
	ColumnTypeInteger
	ColumnTypeReal
)

func (ct ColumnType) String() string {
	switch ct {
	case ColumnTypeInteger:
		return "INTEGER"
	case ColumnTypeReal:
		return "REAL"
	default:
		return "TEXT"
	}
}

func (ct ColumnType) MarshalText() ([]byte, error) {
	return []byte(ct.String()), nil
}

func (ct *ColumnType) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "INTEGER":
		*ct = ColumnTypeInteger
	case "REAL":
		*ct = ColumnTypeReal
	case "TEXT":
		*ct = ColumnTypeText
	default:
		return fmt.Errorf("unknown column type %q", text)
	}
	return nil
}

type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// Table is the single relation created from an uploaded CSV. Samples holds, per
// column, the first distinct non-empty raw values seen while parsing.
type Table struct {
	ID        string     `json:"id"`
	Name      string     `json:"table_name"`
	Filename  string     `json:"filename"`
	Columns   []Column   `json:"columns"`
	RowCount  int        `json:"row_count"`
	CreatedAt time.Time  `json:"created_at"`
	Samples   [][]string `json:"-"`
}

func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		names[i] = col.Name
	}
	return names
}

type ColumnDescriptor struct {
	Name        string     `json:"name"`
	Type        ColumnType `json:"type"`
	Description string     `json:"description"`
}

type QueryRequest struct {
	Prompt     string
	TableName  string
	Dialect    string
	Columns    []ColumnDescriptor
	SchemaText string
}

// SQLStatement is scoped to the table it was generated for.
type SQLStatement struct {
	Text    string `json:"sql"`
	TableID string `json:"table_id"`
}

type QueryResult struct {
	Columns  []string
	Rows     [][]any
	Duration time.Duration
}

func (r QueryResult) Objects() []map[string]any {
	objects := make([]map[string]any, 0, len(r.Rows))
	for _, row := range r.Rows {
		objRow := make(map[string]any, len(r.Columns))
		for i, col := range r.Columns {
			objRow[col] = row[i]
		}
		objects = append(objects, objRow)
	}
	return objects
}

type ErrorResponse struct {
	Timestamp string `json:"timestamp"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	// SQL is set when a generated statement failed to execute.
	SQL string `json:"sql,omitempty"`
}

type DataResponseBase struct {
	OK      bool     `json:"ok"`
	QueryMS float64  `json:"query_ms"`
	Columns []string `json:"columns"`
	Total   int      `json:"total,omitempty"`
}

type DataResponseObjects struct {
	DataResponseBase
	Rows []map[string]any `json:"rows"`
}

type DataResponseArray struct {
	DataResponseBase
	Rows [][]any `json:"rows"`
}
