package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JayJamieson/csv-sql/pkg/models"
	"github.com/marcboeker/go-duckdb/v2"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

const (
	EngineDuckDB = "duckdb"
	EngineSQLite = "sqlite"
)

type Dialect struct {
	Name    string
	Integer string
	Real    string
	Text    string
	// RowID is the expression exposed as "rowid" when browsing.
	RowID string
	// OffsetOnly prefixes OFFSET when no LIMIT is given.
	OffsetOnly string
}

var (
	DuckDBDialect = Dialect{
		Name:    "DuckDB",
		Integer: "BIGINT",
		Real:    "DOUBLE",
		Text:    "VARCHAR",
		RowID:   "row_number() OVER ()",
	}
	SQLiteDialect = Dialect{
		Name:       "SQLite",
		Integer:    "INTEGER",
		Real:       "REAL",
		Text:       "TEXT",
		RowID:      "rowid",
		OffsetOnly: "LIMIT -1",
	}
)

func (d Dialect) columnType(t models.ColumnType) string {
	switch t {
	case models.ColumnTypeInteger:
		return d.Integer
	case models.ColumnTypeReal:
		return d.Real
	default:
		return d.Text
	}
}

type DB struct {
	conn    *sql.DB
	dialect Dialect
	current string
}

var _ TabularStore = (*DB)(nil)

// New opens the named engine. An empty url selects an in-memory database.
func New(engine, url string) (*DB, error) {
	switch strings.ToLower(strings.TrimSpace(engine)) {
	case "", EngineDuckDB:
		return NewDuckDB(url)
	case EngineSQLite:
		return NewSQLite(url)
	default:
		return nil, fmt.Errorf("unsupported engine %q", engine)
	}
}

// NewDuckDB opens DuckDB with external access disabled so statements cannot
// read or write host files.
func NewDuckDB(dsn string) (*DB, error) {
	dsn = strings.TrimSpace(dsn)
	if !strings.Contains(dsn, "enable_external_access") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "enable_external_access=false"
	}

	conn, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open DuckDB connection: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open DuckDB connection: %w", err)
	}

	return NewWithConn(conn, DuckDBDialect), nil
}

// NewSQLite opens a libsql file: URL backed by the local sqlite driver. Only
// one connection is kept so in-memory databases survive between calls.
func NewSQLite(dbURL string) (*DB, error) {
	dbURL = strings.TrimSpace(dbURL)
	if dbURL == "" {
		dbURL = "file::memory:"
	}

	conn, err := sql.Open("libsql", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxIdleTime(0)
	conn.SetConnMaxLifetime(0)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return NewWithConn(conn, SQLiteDialect), nil
}

func NewWithConn(conn *sql.DB, dialect Dialect) *DB {
	return &DB{conn: conn, dialect: dialect}
}

func (db *DB) Dialect() string {
	return db.dialect.Name
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) Replace(ctx context.Context, data TableData) error {
	if len(data.Columns) == 0 {
		return fmt.Errorf("table %s has no columns", data.Name)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := db.replaceInTx(ctx, tx, data); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("failed to roll back: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	db.current = data.Name
	return nil
}

func (db *DB) replaceInTx(ctx context.Context, tx *sql.Tx, data TableData) error {
	drops := []string{data.Name}
	if db.current != "" && db.current != data.Name {
		drops = append([]string{db.current}, drops...)
	}
	for _, name := range drops {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(name)); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", name, err)
		}
	}

	columnDefs := make([]string, len(data.Columns))
	columnList := make([]string, len(data.Columns))
	placeholders := make([]string, len(data.Columns))
	for i, col := range data.Columns {
		columnDefs[i] = quoteIdent(col.Name) + " " + db.dialect.columnType(col.Type)
		columnList[i] = quoteIdent(col.Name)
		placeholders[i] = "?"
	}

	createTableSQL := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(data.Name), strings.Join(columnDefs, ", "))
	if _, err := tx.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	if len(data.Rows) == 0 {
		return nil
	}

	insertStmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(data.Name), strings.Join(columnList, ", "), strings.Join(placeholders, ", ")))
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	defer insertStmt.Close()

	for i, row := range data.Rows {
		if len(row) != len(data.Columns) {
			return fmt.Errorf("row %d has %d values, expected %d", i+1, len(row), len(data.Columns))
		}
		if _, err := insertStmt.ExecContext(ctx, row...); err != nil {
			return fmt.Errorf("failed to insert row %d: %w", i+1, err)
		}
	}

	return nil
}

// Query prepares and runs statement. Preparing first keeps engines that accept
// several statements per call to the first one. Engine errors are returned
// unwrapped so their message reaches the caller unmodified.
func (db *DB) Query(ctx context.Context, statement string) (models.QueryResult, error) {
	startTime := time.Now()

	stmt, err := db.conn.PrepareContext(ctx, statement)
	if err != nil {
		return models.QueryResult{}, err
	}
	defer stmt.Close()

	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		return models.QueryResult{}, err
	}
	defer rows.Close()

	result, err := scanRows(rows)
	if err != nil {
		return models.QueryResult{}, err
	}
	result.Duration = time.Since(startTime)
	return result, nil
}

func (db *DB) Browse(ctx context.Context, tableName string, opts BrowseOptions) (models.QueryResult, error) {
	startTime := time.Now()

	query := "SELECT "
	if opts.ShowRowID {
		query += db.dialect.RowID + " AS rowid, "
	}
	query += "* FROM " + quoteIdent(tableName)

	if opts.SortColumn != "" {
		direction := ""
		if opts.SortDesc {
			direction = " DESC"
		}
		query += fmt.Sprintf(" ORDER BY %s%s", quoteIdent(opts.SortColumn), direction)
	}

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	} else if opts.Offset > 0 && db.dialect.OffsetOnly != "" {
		query += " " + db.dialect.OffsetOnly
	}

	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return models.QueryResult{}, fmt.Errorf("failed to query data: %w", err)
	}
	defer rows.Close()

	result, err := scanRows(rows)
	if err != nil {
		return models.QueryResult{}, err
	}
	result.Duration = time.Since(startTime)
	return result, nil
}

func scanRows(rows *sql.Rows) (models.QueryResult, error) {
	columns, err := rows.Columns()
	if err != nil {
		return models.QueryResult{}, fmt.Errorf("failed to get columns: %w", err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))

		scanArgs := make([]any, len(columns))
		for i := range values {
			scanArgs[i] = &values[i]
		}

		if err := rows.Scan(scanArgs...); err != nil {
			return models.QueryResult{}, fmt.Errorf("failed to scan row: %w", err)
		}

		for i, val := range values {
			values[i] = normalizeValue(val)
		}
		resultRows = append(resultRows, values)
	}

	if err := rows.Err(); err != nil {
		return models.QueryResult{}, err
	}

	return models.QueryResult{Columns: columns, Rows: resultRows}, nil
}

func normalizeValue(value any) any {
	switch v := value.(type) {
	case []byte:
		return string(v)
	case duckdb.Decimal:
		return v.Float64()
	default:
		return v
	}
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
