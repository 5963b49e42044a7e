package nl2sql

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/JayJamieson/csv-sql/pkg/models"
	"github.com/JayJamieson/csv-sql/pkg/sqlguard"
)

// TextGenerator sends a single prompt to a text-generation service and returns
// the raw completion.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
}

type Synthesizer struct {
	generator TextGenerator
}

func NewSynthesizer(generator TextGenerator) *Synthesizer {
	return &Synthesizer{generator: generator}
}

// Synthesize turns req into one SQL statement. It makes a single generation
// attempt and does not validate the statement beyond its shape.
func (s *Synthesizer) Synthesize(ctx context.Context, req models.QueryRequest) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", &models.SynthesisError{Msg: "invalid query request", Err: models.ErrEmptyRequest}
	}
	if s.generator == nil {
		return "", &models.SynthesisError{Msg: "text generation is not configured"}
	}

	response, err := s.generator.Generate(ctx, BuildPrompt(req))
	if err != nil {
		return "", &models.SynthesisError{Msg: fmt.Sprintf("%s request failed", s.generator.Name()), Err: err}
	}

	sql, ok := ExtractSQL(response)
	if !ok {
		return "", &models.SynthesisError{Msg: "no SQL statement found in model response"}
	}
	return sql, nil
}

func BuildPrompt(req models.QueryRequest) string {
	dialect := req.Dialect
	if dialect == "" {
		dialect = "SQLite"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert SQL generator for a %s database.\n", dialect)
	fmt.Fprintf(&b, "The database has exactly one table, named %q.\n\n", req.TableName)

	b.WriteString("COLUMNS (name, type, description):\n")
	for _, col := range req.Columns {
		fmt.Fprintf(&b, "- %q %s: %s\n", col.Name, col.Type, col.Description)
	}
	if req.SchemaText != "" {
		b.WriteString("\nSCHEMA SUMMARY:\n")
		b.WriteString(req.SchemaText)
		if !strings.HasSuffix(req.SchemaText, "\n") {
			b.WriteString("\n")
		}
	}

	fmt.Fprintf(&b, `
RULES:
1. Output exactly one SQL statement, valid for %[1]s, inside a single `+"```sql"+` code block.
2. Query only the table %[2]q. Never reference any other table.
3. Use only the columns listed above and quote column names with double quotes.
4. The statement must be a read-only SELECT (a WITH clause is allowed). Never write INSERT, UPDATE, DELETE, DROP or any other statement that modifies data or schema.
5. Do not include explanations or more than one statement.

USER REQUEST (verbatim):
%[3]s
`, dialect, req.TableName, req.Prompt)

	return b.String()
}

var fencedBlock = regexp.MustCompile("(?is)```[ \\t]*(?:sql)?[ \\t]*\\r?\\n?(.*?)```")

var leadingSQLWord = regexp.MustCompile(`(?i)^\s*sql\s+`)

// ExtractSQL pulls the first statement out of a model response. A fenced code
// block wins over surrounding prose; otherwise a bare leading "sql" word is
// dropped.
func ExtractSQL(response string) (string, bool) {
	text := strings.TrimSpace(response)
	if match := fencedBlock.FindStringSubmatch(text); match != nil {
		text = strings.TrimSpace(match[1])
	} else {
		text = leadingSQLWord.ReplaceAllString(text, "")
	}
	return sqlguard.FirstStatement(text)
}
