package models

import (
	"time"

	"github.com/google/uuid"
	openapi_types "github.com/oapi-codegen/runtime/types"
)

type TableInfo struct {
	ID        openapi_types.UUID `json:"id"`
	Name      string             `json:"table_name"`
	Filename  string             `json:"filename"`
	RowCount  int                `json:"row_count"`
	Columns   []Column           `json:"columns"`
	CreatedAt time.Time          `json:"created_at"`
}

func NewTableInfo(t *Table) TableInfo {
	id, _ := uuid.Parse(t.ID)
	return TableInfo{
		ID:        id,
		Name:      t.Name,
		Filename:  t.Filename,
		RowCount:  t.RowCount,
		Columns:   t.Columns,
		CreatedAt: t.CreatedAt,
	}
}

type UploadResponse struct {
	OK       bool               `json:"ok"`
	Endpoint string             `json:"endpoint"`
	Table    TableInfo          `json:"table"`
	Columns  []ColumnDescriptor `json:"descriptors"`
}

type SchemaResponse struct {
	OK      bool               `json:"ok"`
	Table   TableInfo          `json:"table"`
	Columns []ColumnDescriptor `json:"descriptors"`
	Schema  string             `json:"schema"`
}

type PromptRequest struct {
	Prompt string `json:"prompt"`
}

type ExecuteRequest struct {
	SQL     string `json:"sql"`
	TableID string `json:"table_id,omitempty"`
}

type GenerateResponse struct {
	OK bool `json:"ok"`
	SQLStatement
}

type QueryResponseObjects struct {
	DataResponseObjects
	SQL     string `json:"sql,omitempty"`
	TableID string `json:"table_id,omitempty"`
}

type QueryResponseArray struct {
	DataResponseArray
	SQL     string `json:"sql,omitempty"`
	TableID string `json:"table_id,omitempty"`
}

type HealthResponse struct {
	OK          bool `json:"ok"`
	TableLoaded bool `json:"table_loaded"`
}
