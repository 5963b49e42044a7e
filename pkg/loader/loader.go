// Package loader turns uploaded CSV text into a typed frame and materializes it
// as the single table of a store.
//
// Column types are inferred conservatively: a column is INTEGER when every
// non-empty value (trimmed) parses as a base-10 integer, else REAL when every
// value parses as a finite decimal, else TEXT. Every data row is inspected.
// Values with a leading zero such as zip codes or "007" are never numeric.
package loader

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/JayJamieson/csv-sql/pkg/db"
	"github.com/JayJamieson/csv-sql/pkg/models"
	"github.com/google/uuid"
)

const DefaultSampleValues = 3

type Options struct {
	// SampleValues caps the distinct raw values kept per column for descriptions.
	SampleValues int
}

type Frame struct {
	Columns []models.Column
	Rows    [][]any
	Samples [][]string
}

func Parse(r io.Reader, opts Options) (*Frame, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &models.ParseError{Msg: "failed to read CSV data", Err: err}
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = 0
	reader.ReuseRecord = false

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, &models.ParseError{Msg: "CSV header row is empty"}
	}
	if err != nil {
		return nil, &models.ParseError{Msg: "invalid CSV header", Err: err}
	}

	names, err := normalizeHeader(header)
	if err != nil {
		return nil, err
	}

	var records [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &models.ParseError{Msg: "invalid CSV data", Err: err}
		}
		records = append(records, record)
	}

	sampleLimit := opts.SampleValues
	if sampleLimit <= 0 {
		sampleLimit = DefaultSampleValues
	}

	frame := &Frame{
		Columns: make([]models.Column, len(names)),
		Rows:    make([][]any, len(records)),
		Samples: make([][]string, len(names)),
	}

	for i, name := range names {
		values := make([]string, len(records))
		for r, record := range records {
			values[r] = record[i]
		}
		frame.Columns[i] = models.Column{Name: name, Type: InferType(values)}
		frame.Samples[i] = distinctSample(values, sampleLimit)
	}

	for r, record := range records {
		row := make([]any, len(record))
		for i, raw := range record {
			row[i] = convertValue(raw, frame.Columns[i].Type)
		}
		frame.Rows[r] = row
	}

	return frame, nil
}

// Load parses r and replaces the store's table with it. Parse failures never
// reach the store.
func Load(ctx context.Context, store db.TabularStore, tableName, filename string, r io.Reader, opts Options) (*models.Table, error) {
	frame, err := Parse(r, opts)
	if err != nil {
		return nil, err
	}

	err = store.Replace(ctx, db.TableData{
		Name:    tableName,
		Columns: frame.Columns,
		Rows:    frame.Rows,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load CSV into %s: %w", store.Dialect(), err)
	}

	return &models.Table{
		ID:        uuid.New().String(),
		Name:      tableName,
		Filename:  filename,
		Columns:   frame.Columns,
		RowCount:  len(frame.Rows),
		CreatedAt: time.Now().UTC(),
		Samples:   frame.Samples,
	}, nil
}

// SanitizeTableName keeps letters, digits and underscores.
func SanitizeTableName(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		if r < 128 && (r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	sanitized := b.String()
	if strings.Trim(sanitized, "_") == "" {
		return "imported_data"
	}
	if sanitized[0] >= '0' && sanitized[0] <= '9' {
		sanitized = "t_" + sanitized
	}
	return sanitized
}

func normalizeHeader(header []string) ([]string, error) {
	blank := true
	for _, cell := range header {
		if strings.TrimSpace(cell) != "" {
			blank = false
			break
		}
	}
	if blank {
		return nil, &models.ParseError{Msg: "CSV header row is empty"}
	}

	names := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, cell := range header {
		name := strings.TrimSpace(strings.ReplaceAll(cell, "$", ""))
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		key := strings.ToLower(name)
		if n, ok := seen[key]; ok {
			for {
				n++
				candidate := fmt.Sprintf("%s_%d", name, n)
				if _, taken := seen[strings.ToLower(candidate)]; !taken {
					seen[key] = n
					name = candidate
					key = strings.ToLower(candidate)
					break
				}
			}
		}
		seen[key] = 1
		names[i] = name
	}
	return names, nil
}

func InferType(values []string) models.ColumnType {
	sawValue := false
	integer, decimal := true, true
	for _, raw := range values {
		v := strings.TrimSpace(raw)
		if v == "" {
			continue
		}
		sawValue = true
		if integer && !isInteger(v) {
			integer = false
		}
		if decimal && !isReal(v) {
			decimal = false
		}
		if !integer && !decimal {
			break
		}
	}
	switch {
	case !sawValue:
		return models.ColumnTypeText
	case integer:
		return models.ColumnTypeInteger
	case decimal:
		return models.ColumnTypeReal
	default:
		return models.ColumnTypeText
	}
}

func isInteger(v string) bool {
	if hasLeadingZero(v) {
		return false
	}
	_, err := strconv.ParseInt(v, 10, 64)
	return err == nil
}

func isReal(v string) bool {
	if hasLeadingZero(v) || strings.ContainsAny(v, "xXpP_") {
		return false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return false
	}
	return !math.IsInf(f, 0) && !math.IsNaN(f)
}

// hasLeadingZero reports values like "007" or "-01" but not "0" or "0.5".
func hasLeadingZero(v string) bool {
	digits := strings.TrimLeft(v, "+-")
	return len(digits) > 1 && digits[0] == '0' && digits[1] >= '0' && digits[1] <= '9'
}

func convertValue(raw string, typ models.ColumnType) any {
	v := strings.TrimSpace(raw)
	if v == "" {
		return nil
	}
	switch typ {
	case models.ColumnTypeInteger:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	case models.ColumnTypeReal:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return raw
	}
}

func distinctSample(values []string, limit int) []string {
	sample := make([]string, 0, limit)
	seen := make(map[string]struct{}, limit)
	for _, raw := range values {
		v := strings.TrimSpace(raw)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		sample = append(sample, v)
		if len(sample) >= limit {
			break
		}
	}
	return sample
}
