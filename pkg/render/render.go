// Package render writes query results and column descriptions for the terminal
// as a table, CSV or JSON.
package render

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/JayJamieson/csv-sql/pkg/models"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

const (
	FormatTable = "table"
	FormatCSV   = "csv"
	FormatJSON  = "json"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5A56E0")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086"))
	sqlStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF5F87"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086"))
)

func ValidFormat(format string) error {
	switch format {
	case FormatTable, FormatCSV, FormatJSON:
		return nil
	default:
		return fmt.Errorf("unknown format %q, expected table, csv or json", format)
	}
}

func Result(w io.Writer, result models.QueryResult, format string) error {
	switch format {
	case FormatCSV:
		return writeCSV(w, result.Columns, result.Rows)
	case FormatJSON:
		return writeJSON(w, result.Objects())
	case FormatTable, "":
		if _, err := fmt.Fprintln(w, newTable(result.Columns, stringRows(result.Rows)).Render()); err != nil {
			return err
		}
		_, err := fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("%d row(s) in %s", len(result.Rows), result.Duration.Round(time.Microsecond))))
		return err
	default:
		return ValidFormat(format)
	}
}

func Descriptors(w io.Writer, descriptors []models.ColumnDescriptor, format string) error {
	headers := []string{"column", "type", "description"}
	rows := make([][]any, len(descriptors))
	for i, d := range descriptors {
		rows[i] = []any{d.Name, d.Type.String(), d.Description}
	}

	switch format {
	case FormatCSV:
		return writeCSV(w, headers, rows)
	case FormatJSON:
		return writeJSON(w, descriptors)
	case FormatTable, "":
		_, err := fmt.Fprintln(w, newTable(headers, stringRows(rows)).Render())
		return err
	default:
		return ValidFormat(format)
	}
}

func SQL(w io.Writer, statement string) error {
	_, err := fmt.Fprintln(w, sqlStyle.Render(statement))
	return err
}

func Error(w io.Writer, err error) {
	fmt.Fprintln(w, errorStyle.Render("Error: ")+err.Error())
}

func newTable(headers []string, rows [][]string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...)
}

func stringRows(rows [][]any) [][]string {
	out := make([][]string, len(rows))
	for i, row := range rows {
		cells := make([]string, len(row))
		for j, v := range row {
			if v == nil {
				cells[j] = "NULL"
				continue
			}
			cells[j] = FormatValue(v)
		}
		out[i] = cells
	}
	return out
}

// FormatValue renders a single scanned value. NULL becomes the empty string.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.Format(time.RFC3339)
	case []byte:
		return string(val)
	default:
		return fmt.Sprint(val)
	}
}

func writeCSV(w io.Writer, headers []string, rows [][]any) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(headers); err != nil {
		return err
	}
	record := make([]string, len(headers))
	for _, row := range rows {
		for i, v := range row {
			record[i] = FormatValue(v)
		}
		if err := cw.Write(record[:len(row)]); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// CSV returns result as CSV text.
func CSV(result models.QueryResult) (string, error) {
	var b strings.Builder
	if err := writeCSV(&b, result.Columns, result.Rows); err != nil {
		return "", err
	}
	return b.String(), nil
}
