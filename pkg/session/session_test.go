package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/JayJamieson/csv-sql/pkg/db"
	"github.com/JayJamieson/csv-sql/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const peopleCSV = "name,age,city\nAlice,25,New York\nBob,30,Los Angeles\nCharlie,35,Chicago\n"

type scriptedGenerator struct {
	mu       sync.Mutex
	response string
	err      error
	calls    int
}

func (g *scriptedGenerator) Generate(_ context.Context, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.response, g.err
}

func (g *scriptedGenerator) Name() string { return "scripted" }

func newSession(t *testing.T, gen *scriptedGenerator) *Session {
	t.Helper()
	store, err := db.NewDuckDB("")
	require.NoError(t, err)

	s := New(store, gen, zaptest.NewLogger(t), Options{})
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func load(t *testing.T, s *Session, csv string) *models.Table {
	t.Helper()
	snap, err := s.Load(context.Background(), "data.csv", strings.NewReader(csv))
	require.NoError(t, err)
	return snap.Table
}

func TestOperationsBeforeLoad(t *testing.T) {
	s := newSession(t, &scriptedGenerator{response: "SELECT 1"})
	ctx := context.Background()

	_, err := s.Table()
	assert.ErrorIs(t, err, models.ErrNoTable)
	_, err = s.Describe()
	assert.ErrorIs(t, err, models.ErrNoTable)
	_, err = s.Generate(ctx, "anything")
	assert.ErrorIs(t, err, models.ErrNoTable)
	_, err = s.ExecuteRaw(ctx, "SELECT 1")
	assert.ErrorIs(t, err, models.ErrNoTable)
	_, err = s.Browse(ctx, db.BrowseOptions{})
	assert.ErrorIs(t, err, models.ErrNoTable)
}

func TestDescribeOneDescriptorPerColumnInOrder(t *testing.T) {
	s := newSession(t, &scriptedGenerator{})
	load(t, s, "txn_dt,amt,Customer Name,qty\n2024-01-01,9.99,Ann,2\n")

	descs, err := s.Describe()
	require.NoError(t, err)
	require.Len(t, descs, 4)
	assert.Equal(t, "txn_dt", descs[0].Name)
	assert.Equal(t, "amt", descs[1].Name)
	assert.Equal(t, "Customer Name", descs[2].Name)
	assert.Equal(t, "qty", descs[3].Name)
	assert.Equal(t, models.ColumnTypeReal, descs[1].Type)

	schema, err := s.SchemaText()
	require.NoError(t, err)
	assert.Contains(t, schema, `Table "transactions" with 1 rows and 4 columns`)
}

func TestExampleQueries(t *testing.T) {
	s := newSession(t, &scriptedGenerator{})
	load(t, s, peopleCSV)
	ctx := context.Background()

	all, err := s.ExecuteRaw(ctx, "SELECT * FROM transactions")
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "age", "city"}, all.Columns)
	assert.Len(t, all.Rows, 3)

	older, err := s.ExecuteRaw(ctx, "SELECT * FROM transactions WHERE age > 30")
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"Charlie", int64(35), "Chicago"}}, older.Rows)
}

func TestReloadReplacesTable(t *testing.T) {
	s := newSession(t, &scriptedGenerator{})
	ctx := context.Background()
	first := load(t, s, peopleCSV)
	second := load(t, s, "product,price\nwidget,2.5\n")
	assert.NotEqual(t, first.ID, second.ID)

	result, err := s.ExecuteRaw(ctx, "SELECT * FROM transactions")
	require.NoError(t, err)
	assert.Equal(t, []string{"product", "price"}, result.Columns)
	assert.Equal(t, [][]any{{"widget", 2.5}}, result.Rows)

	_, err = s.ExecuteRaw(ctx, "SELECT name FROM transactions WHERE name = 'Alice'")
	var execErr *models.ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.False(t, execErr.Rejected)
}

func TestStaleStatementIsRejected(t *testing.T) {
	gen := &scriptedGenerator{response: "```sql\nSELECT name FROM transactions;\n```"}
	s := newSession(t, gen)
	ctx := context.Background()
	load(t, s, peopleCSV)

	stmt, err := s.Generate(ctx, "list names")
	require.NoError(t, err)
	assert.Equal(t, "SELECT name FROM transactions;", stmt.Text)

	load(t, s, peopleCSV)
	_, err = s.Execute(ctx, stmt)
	var execErr *models.ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.True(t, execErr.Rejected)
}

func TestFailedLoadKeepsTable(t *testing.T) {
	s := newSession(t, &scriptedGenerator{})
	ctx := context.Background()
	first := load(t, s, peopleCSV)

	_, err := s.Load(ctx, "broken.csv", strings.NewReader("a,b\n1\n"))
	var parseErr *models.ParseError
	require.True(t, errors.As(err, &parseErr))

	current, err := s.Table()
	require.NoError(t, err)
	assert.Equal(t, first.ID, current.ID)

	result, err := s.ExecuteRaw(ctx, "SELECT COUNT(*) AS n FROM transactions")
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Rows[0][0])
}

func TestHeaderOnlyTable(t *testing.T) {
	s := newSession(t, &scriptedGenerator{})
	load(t, s, "name,age,city\n")

	descs, err := s.Describe()
	require.NoError(t, err)
	assert.Len(t, descs, 3)

	result, err := s.ExecuteRaw(context.Background(), "SELECT * FROM transactions")
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "age", "city"}, result.Columns)
	assert.Empty(t, result.Rows)
}

func TestMutatingStatementNeverReachesEngine(t *testing.T) {
	s := newSession(t, &scriptedGenerator{})
	ctx := context.Background()
	load(t, s, peopleCSV)

	for _, stmt := range []string{
		"DELETE FROM transactions",
		"SELECT * FROM transactions; DROP TABLE transactions",
		"drop table transactions",
	} {
		_, err := s.ExecuteRaw(ctx, stmt)
		var execErr *models.ExecutionError
		require.True(t, errors.As(err, &execErr), stmt)
		assert.True(t, execErr.Rejected, stmt)
	}

	result, err := s.ExecuteRaw(ctx, "SELECT COUNT(*) FROM transactions")
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Rows[0][0])
}

func TestAsk(t *testing.T) {
	gen := &scriptedGenerator{response: "Here you go:\n```sql\nSELECT name, city FROM transactions WHERE age > 30;\n```"}
	s := newSession(t, gen)
	load(t, s, peopleCSV)

	stmt, result, err := s.Ask(context.Background(), "who is older than 30?")
	require.NoError(t, err)
	assert.Equal(t, "SELECT name, city FROM transactions WHERE age > 30;", stmt.Text)
	assert.Equal(t, [][]any{{"Charlie", "Chicago"}}, result.Rows)
}

func TestAskReturnsStatementWhenExecutionFails(t *testing.T) {
	gen := &scriptedGenerator{response: "SELECT salary FROM transactions"}
	s := newSession(t, gen)
	load(t, s, peopleCSV)

	stmt, _, err := s.Ask(context.Background(), "salaries")
	var execErr *models.ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, "SELECT salary FROM transactions", stmt.Text)
}

func TestGenerateEmptyPromptMakesNoCall(t *testing.T) {
	gen := &scriptedGenerator{response: "SELECT 1"}
	s := newSession(t, gen)
	load(t, s, peopleCSV)

	_, err := s.Generate(context.Background(), "  ")
	var synthErr *models.SynthesisError
	require.True(t, errors.As(err, &synthErr))
	assert.Zero(t, gen.calls)
}

func TestGenerateWithoutGenerator(t *testing.T) {
	store, err := db.NewDuckDB("")
	require.NoError(t, err)
	s := New(store, nil, nil, Options{TableName: "sales data"})
	t.Cleanup(func() { _ = s.Close() })
	assert.Equal(t, "sales_data", s.TableName())

	load(t, s, peopleCSV)
	_, err = s.Generate(context.Background(), "anything")
	var synthErr *models.SynthesisError
	require.True(t, errors.As(err, &synthErr))
}

func TestBrowse(t *testing.T) {
	s := newSession(t, &scriptedGenerator{})
	load(t, s, peopleCSV)
	ctx := context.Background()

	result, err := s.Browse(ctx, db.BrowseOptions{Limit: 2, SortColumn: "age", SortDesc: true})
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, "Charlie", result.Rows[0][0])
	assert.Equal(t, 3, result.Table.RowCount)

	_, err = s.Browse(ctx, db.BrowseOptions{SortColumn: "age; drop"})
	assert.ErrorIs(t, err, ErrUnknownColumn)
}

func TestConcurrentOperationsAreSerialized(t *testing.T) {
	gen := &scriptedGenerator{response: "SELECT COUNT(*) FROM transactions"}
	s := newSession(t, gen)
	load(t, s, peopleCSV)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := s.Load(ctx, "data.csv", strings.NewReader(peopleCSV))
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, _, err := s.Ask(ctx, "how many rows?")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestClose(t *testing.T) {
	s := newSession(t, &scriptedGenerator{})
	load(t, s, peopleCSV)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Table()
	assert.ErrorIs(t, err, models.ErrNoTable)
	_, err = s.Load(context.Background(), "data.csv", strings.NewReader(peopleCSV))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestLoadReturnsMatchingSnapshot(t *testing.T) {
	s := newSession(t, &scriptedGenerator{})
	ctx := context.Background()

	first, err := s.Load(ctx, "data.csv", strings.NewReader(peopleCSV))
	require.NoError(t, err)
	require.Len(t, first.Descriptors, 3)
	assert.Equal(t, "name", first.Descriptors[0].Name)
	assert.Contains(t, first.Schema, "age")

	second, err := s.Load(ctx, "other.csv", strings.NewReader("sku,qty\nA1,2\n"))
	require.NoError(t, err)
	assert.NotEqual(t, first.Table.ID, second.Table.ID)
	assert.Equal(t, "sku", second.Descriptors[0].Name)

	current, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, second.Table.ID, current.Table.ID)
	assert.Equal(t, second.Descriptors, current.Descriptors)

	page, err := s.Browse(ctx, db.BrowseOptions{})
	require.NoError(t, err)
	assert.Equal(t, second.Table.ID, page.Table.ID)
	assert.Equal(t, []string{"sku", "qty"}, page.Columns)
}
