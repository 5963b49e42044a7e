// Package sqlguard scans SQL text for statement boundaries and enforces the
// read-only policy applied to every statement before it reaches a store.
package sqlguard

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrEmpty              = errors.New("statement is empty")
	ErrMultipleStatements = errors.New("only a single statement is allowed")
	ErrNotSelect          = errors.New("only SELECT statements are allowed")
)

// MutatingKeywords are refused anywhere in a statement, including inside
// literals and identifiers.
var MutatingKeywords = []string{"INSERT", "UPDATE", "DELETE", "DROP", "ALTER", "ATTACH", "PRAGMA"}

// statementStart matches SELECT, or WITH only when it opens a CTE so that
// prose such as "help with that" is not taken for a statement.
const statementStart = `(SELECT\b|WITH\s+(?:RECURSIVE\s+)?[A-Za-z_"][\w"]*\s*(?:\([^)]*\)\s*)?AS\s*\()`

var (
	mutatingPattern  = regexp.MustCompile(`(?i)\b(` + strings.Join(MutatingKeywords, "|") + `)\b`)
	leadingKeyword   = regexp.MustCompile(`(?i)^(SELECT|WITH)\b`)
	lineStartKeyword = regexp.MustCompile(`(?im)^[ \t]*` + statementStart)
	anyKeyword       = regexp.MustCompile(`(?i)\b` + statementStart)
)

type ForbiddenKeywordError struct {
	Keyword string
}

func (e *ForbiddenKeywordError) Error() string {
	return fmt.Sprintf("statement contains forbidden keyword %s", e.Keyword)
}

// Check validates that text is one read-only statement and returns it with
// trailing terminators removed.
func Check(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", ErrEmpty
	}

	idx, err := terminator(trimmed, 0)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMultipleStatements, err)
	}
	statement := trimmed
	if idx >= 0 {
		if strings.Trim(trimmed[idx:], "; \t\r\n") != "" {
			return "", ErrMultipleStatements
		}
		statement = strings.TrimSpace(trimmed[:idx])
	}

	if match := mutatingPattern.FindString(statement); match != "" {
		return "", &ForbiddenKeywordError{Keyword: strings.ToUpper(match)}
	}

	body := StripLeadingComments(statement)
	if body == "" {
		return "", ErrEmpty
	}
	if !leadingKeyword.MatchString(body) {
		return "", ErrNotSelect
	}

	return statement, nil
}

// FirstStatement returns the first statement-like span in text: from the first
// SELECT or WITH keyword up to and including the first terminator outside
// quotes, or the end of text. Keywords at the start of a line win over keywords
// embedded in prose.
func FirstStatement(text string) (string, bool) {
	loc := lineStartKeyword.FindStringSubmatchIndex(text)
	start := -1
	if loc != nil {
		start = loc[2]
	} else if loc = anyKeyword.FindStringIndex(text); loc != nil {
		start = loc[0]
	}
	if start < 0 {
		return "", false
	}

	rest := text[start:]
	if idx, err := terminator(rest, 0); err == nil && idx >= 0 {
		rest = rest[:idx+1]
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return "", false
	}
	return rest, true
}

// StripLeadingComments removes whitespace and comments before the first token.
func StripLeadingComments(text string) string {
	s := strings.TrimSpace(text)
	for {
		switch {
		case strings.HasPrefix(s, "--"):
			end := strings.IndexByte(s, '\n')
			if end < 0 {
				return ""
			}
			s = strings.TrimSpace(s[end+1:])
		case strings.HasPrefix(s, "/*"):
			end := strings.Index(s[2:], "*/")
			if end < 0 {
				return ""
			}
			s = strings.TrimSpace(s[end+4:])
		default:
			return s
		}
	}
}

// lexMode selects how quoting is read. The stores disagree on brackets, dollar
// quotes, escape strings, backticks and nested comments, so text is only
// accepted when every mode sees the same statement boundaries.
type lexMode int

const (
	// sqliteLex reads [..] and `..` as quoted identifiers.
	sqliteLex lexMode = iota
	// duckLex reads $tag$..$tag$ and E'..' literals and nests block comments.
	duckLex
)

var lexModes = []lexMode{sqliteLex, duckLex}

var (
	errUnbalanced = errors.New("unterminated literal or comment")
	errAmbiguous  = errors.New("statement boundary depends on the SQL dialect")
)

// terminator returns the index of the first ';' at or after start that is
// outside literals, quoted identifiers and comments in every lex mode. It
// fails when a literal or block comment is left open in any mode, or when the
// modes disagree on where the statement ends.
func terminator(s string, start int) (int, error) {
	found := -2
	for _, mode := range lexModes {
		idx, err := scanTerminator(s, start, mode)
		if err != nil {
			return -1, err
		}
		if found != -2 && idx != found {
			return -1, errAmbiguous
		}
		found = idx
	}
	return found, nil
}

func scanTerminator(s string, start int, mode lexMode) (int, error) {
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\'' && mode == duckLex && isEscapeStringPrefix(s, i):
			end, ok := closeEscapeString(s, i+1)
			if !ok {
				return -1, errUnbalanced
			}
			i = end
		case c == '\'' || c == '"' || (c == '`' && mode == sqliteLex):
			end := strings.IndexByte(s[i+1:], c)
			if end < 0 {
				return -1, errUnbalanced
			}
			i += end + 1
		case c == '[' && mode == sqliteLex:
			end := strings.IndexByte(s[i+1:], ']')
			if end < 0 {
				return -1, errUnbalanced
			}
			i += end + 1
		case c == '$' && mode == duckLex:
			tag, ok := dollarTag(s, i)
			if !ok {
				continue
			}
			end := strings.Index(s[i+len(tag):], tag)
			if end < 0 {
				return -1, errUnbalanced
			}
			i += len(tag) + end + len(tag) - 1
		case c == '-' && i+1 < len(s) && s[i+1] == '-':
			end := strings.IndexByte(s[i:], '\n')
			if end < 0 {
				return -1, nil
			}
			i += end
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			end, ok := closeBlockComment(s, i, mode == duckLex)
			if !ok {
				return -1, errUnbalanced
			}
			i = end
		case c == ';':
			return i, nil
		}
	}
	return -1, nil
}

// isEscapeStringPrefix reports whether the quote at i opens an E'..' literal.
func isEscapeStringPrefix(s string, i int) bool {
	if i == 0 || (s[i-1] != 'E' && s[i-1] != 'e') {
		return false
	}
	return i < 2 || !isIdentByte(s[i-2])
}

// closeEscapeString returns the index of the quote closing an E'..' literal
// whose body starts at i. Backslash escapes the next byte and '' is a quote.
func closeEscapeString(s string, i int) (int, bool) {
	for ; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '\'':
			if i+1 < len(s) && s[i+1] == '\'' {
				i++
				continue
			}
			return i, true
		}
	}
	return -1, false
}

// dollarTag returns the $tag$ opening a dollar-quoted literal at i. A '$'
// followed by digits is a positional parameter.
func dollarTag(s string, i int) (string, bool) {
	j := i + 1
	for j < len(s) && isIdentByte(s[j]) {
		j++
	}
	if j >= len(s) || s[j] != '$' {
		return "", false
	}
	if j > i+1 && s[i+1] >= '0' && s[i+1] <= '9' {
		return "", false
	}
	return s[i : j+1], true
}

// closeBlockComment returns the index of the '/' ending the comment opened at
// i.
func closeBlockComment(s string, i int, nested bool) (int, bool) {
	depth := 0
	for j := i; j+1 < len(s); j++ {
		switch {
		case s[j] == '/' && s[j+1] == '*':
			if depth == 0 || nested {
				depth++
			}
			j++
		case s[j] == '*' && s[j+1] == '/':
			depth--
			j++
			if depth == 0 {
				return j, true
			}
		}
	}
	return -1, false
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= 0x80
}
