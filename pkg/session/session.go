// Package session owns the single live table of a csv-sql session and runs
// every operation against it: load, describe, generate, execute and browse.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/JayJamieson/csv-sql/pkg/db"
	"github.com/JayJamieson/csv-sql/pkg/describe"
	"github.com/JayJamieson/csv-sql/pkg/loader"
	"github.com/JayJamieson/csv-sql/pkg/metrics"
	"github.com/JayJamieson/csv-sql/pkg/models"
	"github.com/JayJamieson/csv-sql/pkg/nl2sql"
	"github.com/JayJamieson/csv-sql/pkg/query"
	"go.uber.org/zap"
)

const DefaultTableName = "transactions"

var (
	ErrUnknownColumn = errors.New("unknown column")
	ErrClosed        = errors.New("session is closed")
)

// Snapshot is the live table with its descriptors and schema text, read
// together under the session lock.
type Snapshot struct {
	Table       *models.Table
	Descriptors []models.ColumnDescriptor
	Schema      string
}

// Page is one browsed slice of rows and the table it was read from.
type Page struct {
	models.QueryResult
	Table *models.Table
}

type Options struct {
	TableName    string
	SampleValues int
}

// Session serializes operations with a mutex so one completes before the next
// begins. Statements generated for a table that has since been replaced are
// refused.
type Session struct {
	mu          sync.Mutex
	store       db.TabularStore
	executor    *query.Executor
	synthesizer *nl2sql.Synthesizer
	logger      *zap.Logger
	opts        Options

	table       *models.Table
	descriptors []models.ColumnDescriptor
	schemaText  string
	closed      bool
}

func New(store db.TabularStore, generator nl2sql.TextGenerator, logger *zap.Logger, opts Options) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TableName == "" {
		opts.TableName = DefaultTableName
	}
	opts.TableName = loader.SanitizeTableName(opts.TableName)
	if opts.SampleValues <= 0 {
		opts.SampleValues = loader.DefaultSampleValues
	}
	return &Session{
		store:       store,
		executor:    query.NewExecutor(store),
		synthesizer: nl2sql.NewSynthesizer(generator),
		logger:      logger,
		opts:        opts,
	}
}

func (s *Session) TableName() string {
	return s.opts.TableName
}

// Load replaces the live table with the CSV read from r. On failure the
// previous table stays live.
func (s *Session) Load(ctx context.Context, filename string, r io.Reader) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Snapshot{}, ErrClosed
	}

	table, err := loader.Load(ctx, s.store, s.opts.TableName, filename, r, loader.Options{SampleValues: s.opts.SampleValues})
	if err != nil {
		metrics.RecordUpload(metrics.OutcomeError, 0, 0)
		s.logger.Warn("csv load failed", zap.String("filename", filename), zap.Error(err))
		return Snapshot{}, err
	}

	s.table = table
	s.descriptors = describe.Describe(table)
	s.schemaText = describe.SchemaText(table, s.descriptors)

	metrics.RecordUpload(metrics.OutcomeOK, table.RowCount, len(table.Columns))
	s.logger.Info("csv loaded",
		zap.String("table_id", table.ID),
		zap.String("table", table.Name),
		zap.String("filename", filename),
		zap.Int("rows", table.RowCount),
		zap.Int("columns", len(table.Columns)),
	)

	return s.snapshot(), nil
}

// Snapshot returns the live table, descriptors and schema text in one read.
func (s *Session) Snapshot() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.table == nil {
		return Snapshot{}, models.ErrNoTable
	}
	return s.snapshot(), nil
}

func (s *Session) snapshot() Snapshot {
	t := *s.table
	return Snapshot{
		Table:       &t,
		Descriptors: slices.Clone(s.descriptors),
		Schema:      s.schemaText,
	}
}

// Table returns a copy of the live table.
func (s *Session) Table() (*models.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.table == nil {
		return nil, models.ErrNoTable
	}
	t := *s.table
	return &t, nil
}

func (s *Session) Describe() ([]models.ColumnDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.table == nil {
		return nil, models.ErrNoTable
	}
	return slices.Clone(s.descriptors), nil
}

func (s *Session) SchemaText() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.table == nil {
		return "", models.ErrNoTable
	}
	return s.schemaText, nil
}

// Generate asks the text generator for a statement answering prompt. The
// statement carries the ID of the table it was generated for.
func (s *Session) Generate(ctx context.Context, prompt string) (models.SQLStatement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.generate(ctx, prompt)
}

func (s *Session) generate(ctx context.Context, prompt string) (models.SQLStatement, error) {
	if s.table == nil {
		return models.SQLStatement{}, models.ErrNoTable
	}

	startTime := time.Now()
	sql, err := s.synthesizer.Synthesize(ctx, models.QueryRequest{
		Prompt:     prompt,
		TableName:  s.table.Name,
		Dialect:    s.store.Dialect(),
		Columns:    s.descriptors,
		SchemaText: s.schemaText,
	})
	elapsed := time.Since(startTime)
	if err != nil {
		metrics.RecordSynthesis(metrics.OutcomeError, elapsed)
		s.logger.Warn("sql generation failed", zap.String("table_id", s.table.ID), zap.Error(err))
		return models.SQLStatement{}, err
	}

	metrics.RecordSynthesis(metrics.OutcomeOK, elapsed)
	s.logger.Info("sql generated",
		zap.String("table_id", s.table.ID),
		zap.String("sql", sql),
		zap.Duration("elapsed", elapsed),
	)
	return models.SQLStatement{Text: sql, TableID: s.table.ID}, nil
}

// Execute runs stmt against the live table. A statement with an empty TableID
// is treated as direct SQL.
func (s *Session) Execute(ctx context.Context, stmt models.SQLStatement) (models.QueryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.execute(ctx, stmt)
}

// ExecuteRaw runs SQL typed by the user rather than generated.
func (s *Session) ExecuteRaw(ctx context.Context, sql string) (models.QueryResult, error) {
	return s.Execute(ctx, models.SQLStatement{Text: sql})
}

func (s *Session) execute(ctx context.Context, stmt models.SQLStatement) (models.QueryResult, error) {
	if s.table == nil {
		return models.QueryResult{}, models.ErrNoTable
	}
	if stmt.TableID != "" && stmt.TableID != s.table.ID {
		metrics.RecordExecution(metrics.OutcomeRejected, 0)
		return models.QueryResult{}, &models.ExecutionError{
			Msg:      "statement was generated for a table that has since been replaced",
			Rejected: true,
		}
	}

	startTime := time.Now()
	result, err := s.executor.Execute(ctx, stmt.Text)
	elapsed := time.Since(startTime)
	if err != nil {
		var execErr *models.ExecutionError
		if errors.As(err, &execErr) && execErr.Rejected {
			metrics.RecordExecution(metrics.OutcomeRejected, elapsed)
		} else {
			metrics.RecordExecution(metrics.OutcomeError, elapsed)
		}
		s.logger.Warn("query failed", zap.String("sql", stmt.Text), zap.Error(err))
		return models.QueryResult{}, err
	}

	metrics.RecordExecution(metrics.OutcomeOK, elapsed)
	s.logger.Debug("query executed",
		zap.String("sql", stmt.Text),
		zap.Int("rows", len(result.Rows)),
		zap.Duration("elapsed", elapsed),
	)
	return result, nil
}

// Ask generates a statement for prompt and executes it. The statement is
// returned even when execution fails so it can be shown.
func (s *Session) Ask(ctx context.Context, prompt string) (models.SQLStatement, models.QueryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stmt, err := s.generate(ctx, prompt)
	if err != nil {
		return models.SQLStatement{}, models.QueryResult{}, err
	}
	result, err := s.execute(ctx, stmt)
	return stmt, result, err
}

// Browse pages through the loaded rows.
func (s *Session) Browse(ctx context.Context, opts db.BrowseOptions) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.table == nil {
		return Page{}, models.ErrNoTable
	}
	if opts.SortColumn != "" && !slices.Contains(s.table.ColumnNames(), opts.SortColumn) {
		return Page{}, fmt.Errorf("%w: %s", ErrUnknownColumn, opts.SortColumn)
	}
	result, err := s.store.Browse(ctx, s.table.Name, opts)
	if err != nil {
		return Page{}, err
	}
	t := *s.table
	return Page{QueryResult: result, Table: &t}, nil
}

// Close releases the store. The session cannot be used afterwards.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.table = nil
	s.descriptors = nil
	s.schemaText = ""
	metrics.Reset()
	return s.store.Close()
}
