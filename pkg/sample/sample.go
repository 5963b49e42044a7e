// Package sample generates a demo transactions CSV.
package sample

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v6"
)

var Header = []string{"transaction_id", "txn_dt", "customer_name", "merchant", "category", "amt", "qty", "city"}

var categories = []string{"groceries", "travel", "dining", "electronics", "utilities", "entertainment", "health"}

// WriteTransactions writes a header and rows of fake transactions to w. The
// same seed always yields the same data; a zero seed picks a random one.
func WriteTransactions(w io.Writer, rows int, seed int64) error {
	if rows < 0 {
		return fmt.Errorf("rows must not be negative, got %d", rows)
	}

	faker := gofakeit.New(seed)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	start := end.AddDate(-1, 0, 0)

	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i := 0; i < rows; i++ {
		record := []string{
			strconv.Itoa(i + 1),
			faker.DateRange(start, end).Format("2006-01-02"),
			faker.Name(),
			faker.Company(),
			faker.RandomString(categories),
			strconv.FormatFloat(faker.Price(0.99, 999.99), 'f', 2, 64),
			strconv.Itoa(faker.Number(1, 12)),
			faker.City(),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
