// Package describe derives short natural-language descriptions for the columns
// of a loaded table. Descriptions feed the synthesis prompt, so they never
// contain SQL statement keywords, quotes or statement terminators.
package describe

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/JayJamieson/csv-sql/pkg/models"
)

var abbreviations = map[string]string{
	"nm": "name", "dt": "date", "no": "number", "num": "number", "cd": "code",
	"desc": "description", "amt": "amount", "cnt": "count", "qty": "quantity",
	"addr": "address", "tel": "phone", "ph": "phone", "img": "image",
	"zip": "zipcode", "msg": "message", "txt": "text", "doc": "document",
	"usr": "user", "emp": "employee", "dept": "department", "grp": "group",
	"cat": "category", "loc": "location", "lat": "latitude", "lng": "longitude",
	"lon": "longitude", "st": "street", "bal": "balance", "avg": "average",
	"pct": "percent", "perc": "percent", "yr": "year", "mo": "month",
	"ts": "timestamp", "tx": "transaction", "txn": "transaction", "acct": "account",
	"cust": "customer", "prod": "product", "ref": "reference", "id": "identifier",
	"reg": "registered", "mod": "modified", "cre": "created", "upd": "updated",
	"stat": "status", "sts": "status", "typ": "type", "val": "value",
	"ord": "order", "seq": "sequence", "idx": "index", "flg": "flag", "yn": "yes or no",
}

// statementKeywords may read as instructions to the model and are kept out of
// descriptions.
var statementKeywords = map[string]struct{}{
	"select": {}, "insert": {}, "update": {}, "delete": {}, "drop": {}, "alter": {},
	"create": {}, "attach": {}, "detach": {}, "pragma": {}, "truncate": {}, "replace": {},
	"grant": {}, "revoke": {}, "exec": {}, "execute": {}, "copy": {}, "install": {},
	"load": {}, "merge": {}, "union": {}, "vacuum": {}, "call": {},
}

var typePhrases = map[models.ColumnType]string{
	models.ColumnTypeInteger: "whole number",
	models.ColumnTypeReal:    "decimal number",
	models.ColumnTypeText:    "text",
}

// Describe returns one descriptor per column in table order. It never fails.
func Describe(table *models.Table) []models.ColumnDescriptor {
	descriptors := make([]models.ColumnDescriptor, len(table.Columns))
	for i, col := range table.Columns {
		var samples []string
		if table.RowCount > 0 && i < len(table.Samples) {
			samples = table.Samples[i]
		}
		descriptors[i] = models.ColumnDescriptor{
			Name:        col.Name,
			Type:        col.Type,
			Description: describeColumn(i, col, samples),
		}
	}
	return descriptors
}

// SchemaText renders the descriptors as the block embedded in prompts and shown
// to users.
func SchemaText(table *models.Table, descriptors []models.ColumnDescriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Table %q with %d rows and %d columns:\n", table.Name, table.RowCount, len(descriptors))
	for _, d := range descriptors {
		fmt.Fprintf(&b, "- %q %s: %s\n", d.Name, d.Type, d.Description)
	}
	return b.String()
}

func describeColumn(index int, col models.Column, samples []string) string {
	subject := HumanizeName(col.Name)
	if subject == "" {
		subject = fmt.Sprintf("column %d", index+1)
	}

	desc := subject + ", " + typePhrases[col.Type]

	var safe []string
	for _, s := range samples {
		if isSafeSample(s) {
			safe = append(safe, s)
		}
	}
	if len(safe) > 0 {
		desc += " such as " + strings.Join(safe, ", ")
	}
	return desc
}

// HumanizeName splits a column name into lowercase words, expanding common
// abbreviations and dropping statement keywords.
func HumanizeName(name string) string {
	var words []string
	for _, word := range splitWords(name) {
		lower := strings.ToLower(word)
		if full, ok := abbreviations[lower]; ok {
			lower = full
		}
		if _, bad := statementKeywords[lower]; bad {
			continue
		}
		words = append(words, lower)
	}
	return strings.Join(words, " ")
}

func splitWords(name string) []string {
	var words []string
	var current []rune
	flush := func() {
		if len(current) > 0 {
			words = append(words, string(current))
			current = current[:0]
		}
	}

	runes := []rune(name)
	for i, r := range runes {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if i > 0 && len(current) > 0 && startsWord(runes, i) {
				flush()
			}
			current = append(current, r)
		default:
			flush()
		}
	}
	flush()
	return words
}

// startsWord reports a camelCase boundary at i: "orderDate" and "HTTPCode".
func startsWord(runes []rune, i int) bool {
	prev, cur := runes[i-1], runes[i]
	if unicode.IsLower(prev) && unicode.IsUpper(cur) {
		return true
	}
	if unicode.IsUpper(prev) && unicode.IsUpper(cur) && i+1 < len(runes) && unicode.IsLower(runes[i+1]) {
		return true
	}
	if unicode.IsLetter(prev) != unicode.IsLetter(cur) {
		return true
	}
	return false
}

func isSafeSample(value string) bool {
	if value == "" || len(value) > 40 || strings.ContainsAny(value, "'\";`\n\r") {
		return false
	}
	for _, word := range splitWords(value) {
		if _, bad := statementKeywords[strings.ToLower(word)]; bad {
			return false
		}
	}
	if strings.Contains(value, "--") || strings.Contains(value, "/*") {
		return false
	}
	return true
}
