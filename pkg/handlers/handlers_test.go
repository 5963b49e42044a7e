package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/JayJamieson/csv-sql/pkg/db"
	"github.com/JayJamieson/csv-sql/pkg/models"
	"github.com/JayJamieson/csv-sql/pkg/session"
	"github.com/JayJamieson/csv-sql/pkg/source"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const peopleCSV = "name,age,city\nAlice,25,New York\nBob,30,Los Angeles\nCharlie,35,Chicago\n"

type stubGenerator struct {
	response string
	err      error
	calls    int
}

func (g *stubGenerator) Generate(context.Context, string) (string, error) {
	g.calls++
	return g.response, g.err
}

func (g *stubGenerator) Name() string { return "stub" }

func newTestServer(t *testing.T, gen *stubGenerator, maxBytes int64) *echo.Echo {
	t.Helper()
	store, err := db.NewDuckDB("")
	require.NoError(t, err)
	sess := session.New(store, gen, nil, session.Options{})
	t.Cleanup(func() { _ = sess.Close() })

	e := echo.New()
	NewHandler(sess, nil, maxBytes).Register(e)
	return e
}

func do(t *testing.T, e *echo.Echo, method, target, contentType string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func upload(t *testing.T, e *echo.Echo) models.UploadResponse {
	t.Helper()
	rec := do(t, e, http.MethodPost, "/api/upload?name=people.csv", "text/csv", peopleCSV)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[models.UploadResponse](t, rec)
}

func TestUploadRawBody(t *testing.T) {
	e := newTestServer(t, &stubGenerator{}, 0)

	resp := upload(t, e)
	assert.True(t, resp.OK)
	assert.Equal(t, "people.csv", resp.Table.Filename)
	assert.Equal(t, "transactions", resp.Table.Name)
	assert.Equal(t, 3, resp.Table.RowCount)
	require.Len(t, resp.Columns, 3)
	assert.Equal(t, "age", resp.Columns[1].Name)
	assert.Equal(t, "http://example.com/api/table", resp.Endpoint)
}

func TestUploadMultipart(t *testing.T) {
	e := newTestServer(t, &stubGenerator{}, 0)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "upload.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte(peopleCSV))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rec := do(t, e, http.MethodPost, "/api/upload", mw.FormDataContentType(), body.String())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "upload.csv", decode[models.UploadResponse](t, rec).Table.Filename)
}

func TestUploadFromURL(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(peopleCSV))
	}))
	defer remote.Close()

	e := newTestServer(t, &stubGenerator{}, 0)
	rec := do(t, e, http.MethodPost, "/api/upload?url="+remote.URL+"/exports/people.csv", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "people.csv", decode[models.UploadResponse](t, rec).Table.Filename)
}

func TestUploadErrors(t *testing.T) {
	e := newTestServer(t, &stubGenerator{}, 64)

	rec := do(t, e, http.MethodPost, "/api/upload", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, e, http.MethodPost, "/api/upload?name=bad.csv", "text/csv", "a,b\n\"1,2\n")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "CSV parse error", decode[models.ErrorResponse](t, rec).Error)

	rec = do(t, e, http.MethodPost, "/api/upload?name=big.csv", "text/csv", strings.Repeat("a,b\n", 100))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = do(t, e, http.MethodPost, "/api/upload?url=ftp://example.com/x.csv", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNoTableLoaded(t *testing.T) {
	e := newTestServer(t, &stubGenerator{response: "SELECT 1"}, 0)

	for _, tc := range []struct{ method, target, body string }{
		{http.MethodGet, "/api/schema", ""},
		{http.MethodGet, "/api/table", ""},
		{http.MethodPost, "/api/query/generate", `{"prompt":"hi"}`},
		{http.MethodPost, "/api/query/execute", `{"sql":"SELECT 1"}`},
		{http.MethodPost, "/api/query/ask", `{"prompt":"hi"}`},
	} {
		rec := do(t, e, tc.method, tc.target, echo.MIMEApplicationJSON, tc.body)
		assert.Equal(t, http.StatusConflict, rec.Code, tc.target)
	}

	rec := do(t, e, http.MethodGet, "/healthz", "", "")
	assert.False(t, decode[models.HealthResponse](t, rec).TableLoaded)
}

func TestSchema(t *testing.T) {
	e := newTestServer(t, &stubGenerator{}, 0)
	uploaded := upload(t, e)

	rec := do(t, e, http.MethodGet, "/api/schema", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[models.SchemaResponse](t, rec)
	assert.Equal(t, uploaded.Table.ID, resp.Table.ID)
	assert.Len(t, resp.Columns, 3)
	assert.Contains(t, resp.Schema, `Table "transactions"`)
}

func TestBrowseTable(t *testing.T) {
	e := newTestServer(t, &stubGenerator{}, 0)
	upload(t, e)

	rec := do(t, e, http.MethodGet, "/api/table?_size=2&_sort_desc=age", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[models.DataResponseObjects](t, rec)
	assert.Equal(t, 3, resp.Total)
	require.Len(t, resp.Rows, 2)
	assert.Equal(t, "Charlie", resp.Rows[0]["name"])

	rec = do(t, e, http.MethodGet, "/api/table?_shape=arrays&_offset=2", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	arrays := decode[models.DataResponseArray](t, rec)
	assert.Len(t, arrays.Rows, 1)

	rec = do(t, e, http.MethodGet, "/api/table?_sort=salary", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateAndExecute(t *testing.T) {
	gen := &stubGenerator{response: "```sql\nSELECT * FROM transactions WHERE age > 30;\n```"}
	e := newTestServer(t, gen, 0)
	uploaded := upload(t, e)

	rec := do(t, e, http.MethodPost, "/api/query/generate", echo.MIMEApplicationJSON, `{"prompt":"older than 30"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	generated := decode[models.GenerateResponse](t, rec)
	assert.Equal(t, "SELECT * FROM transactions WHERE age > 30;", generated.Text)
	assert.Equal(t, uploaded.Table.ID.String(), generated.TableID)

	payload, err := json.Marshal(models.ExecuteRequest{SQL: generated.Text, TableID: generated.TableID})
	require.NoError(t, err)
	rec = do(t, e, http.MethodPost, "/api/query/execute?_shape=arrays", echo.MIMEApplicationJSON, string(payload))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[models.QueryResponseArray](t, rec)
	assert.Equal(t, []string{"name", "age", "city"}, result.Columns)
	assert.Equal(t, [][]any{{"Charlie", float64(35), "Chicago"}}, result.Rows)

	upload(t, e)
	rec = do(t, e, http.MethodPost, "/api/query/execute", echo.MIMEApplicationJSON, string(payload))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "Statement rejected", decode[models.ErrorResponse](t, rec).Error)
}

func TestExecuteCSVFormat(t *testing.T) {
	e := newTestServer(t, &stubGenerator{}, 0)
	upload(t, e)

	rec := do(t, e, http.MethodPost, "/api/query/execute?format=csv", echo.MIMEApplicationJSON, `{"sql":"SELECT name, age FROM transactions ORDER BY age"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "name,age\nAlice,25\nBob,30\nCharlie,35\n", rec.Body.String())
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "text/csv")
}

func TestExecuteErrors(t *testing.T) {
	e := newTestServer(t, &stubGenerator{}, 0)
	upload(t, e)

	rec := do(t, e, http.MethodPost, "/api/query/execute", echo.MIMEApplicationJSON, `{"sql":"DROP TABLE transactions"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "Statement rejected", decode[models.ErrorResponse](t, rec).Error)

	rec = do(t, e, http.MethodPost, "/api/query/execute", echo.MIMEApplicationJSON, `{"sql":"SELECT salary FROM transactions"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "Query error", decode[models.ErrorResponse](t, rec).Error)
}

func TestGenerateErrors(t *testing.T) {
	gen := &stubGenerator{response: "I cannot help with that."}
	e := newTestServer(t, gen, 0)
	upload(t, e)

	rec := do(t, e, http.MethodPost, "/api/query/generate", echo.MIMEApplicationJSON, `{"prompt":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, gen.calls)

	rec = do(t, e, http.MethodPost, "/api/query/generate", echo.MIMEApplicationJSON, `{"prompt":"anything"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestAsk(t *testing.T) {
	gen := &stubGenerator{response: "SELECT name FROM transactions WHERE city = 'Chicago'"}
	e := newTestServer(t, gen, 0)
	upload(t, e)

	rec := do(t, e, http.MethodPost, "/api/query/ask", echo.MIMEApplicationJSON, `{"prompt":"who lives in Chicago?"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[models.QueryResponseObjects](t, rec)
	assert.Equal(t, gen.response, resp.SQL)
	assert.Equal(t, []map[string]any{{"name": "Charlie"}}, resp.Rows)

	gen.response = "SELECT salary FROM transactions"
	rec = do(t, e, http.MethodPost, "/api/query/ask", echo.MIMEApplicationJSON, `{"prompt":"salaries"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, gen.response, decode[models.ErrorResponse](t, rec).SQL)
}

func TestFetcherOption(t *testing.T) {
	h := NewHandler(nil, source.NewFetcher(), 10)
	assert.NotNil(t, h.Fetcher)
	assert.Equal(t, int64(10), h.MaxBytes)
}

func TestUploadResponseMatchesLoadedTable(t *testing.T) {
	e := newTestServer(t, &stubGenerator{}, 0)
	first := upload(t, e)
	assert.Equal(t, models.ColumnTypeInteger, first.Table.Columns[1].Type)

	rec := do(t, e, http.MethodPost, "/api/upload?name=stock.csv", "text/csv", "sku,qty,price\nA1,2,9.5\n")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	second := decode[models.UploadResponse](t, rec)

	assert.NotEqual(t, first.Table.ID, second.Table.ID)
	require.Len(t, second.Columns, 3)
	for i, col := range second.Table.Columns {
		assert.Equal(t, col.Name, second.Columns[i].Name)
		assert.Equal(t, col.Type, second.Columns[i].Type)
	}
	assert.Equal(t, models.ColumnTypeReal, second.Columns[2].Type)
}

func TestWriteError(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	require.NoError(t, WriteError(c, http.StatusTeapot, "Short", "long message"))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	resp := decode[models.ErrorResponse](t, rec)
	assert.Equal(t, "Short", resp.Error)
	assert.Equal(t, "long message", resp.Message)
	assert.NotEmpty(t, resp.Timestamp)
}
