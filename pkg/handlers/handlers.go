package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JayJamieson/csv-sql/pkg/db"
	"github.com/JayJamieson/csv-sql/pkg/models"
	"github.com/JayJamieson/csv-sql/pkg/render"
	"github.com/JayJamieson/csv-sql/pkg/session"
	"github.com/JayJamieson/csv-sql/pkg/source"
	"github.com/labstack/echo/v4"
)

const defaultPageSize = 500

type Handler struct {
	Session  *session.Session
	Fetcher  *source.Fetcher
	MaxBytes int64
}

func NewHandler(sess *session.Session, fetcher *source.Fetcher, maxBytes int64) *Handler {
	if fetcher == nil {
		fetcher = source.NewFetcher(source.WithMaxBytes(maxBytes))
	}
	return &Handler{
		Session:  sess,
		Fetcher:  fetcher,
		MaxBytes: maxBytes,
	}
}

func (h *Handler) Register(e *echo.Echo) {
	api := e.Group("/api")
	api.POST("/upload", h.Upload)
	api.GET("/schema", h.Schema)
	api.GET("/table", h.Table)
	api.POST("/query/generate", h.Generate)
	api.POST("/query/execute", h.Execute)
	api.POST("/query/ask", h.Ask)
	e.GET("/healthz", h.Health)
}

func (h *Handler) Upload(c echo.Context) error {
	ctx := c.Request().Context()

	csvURL := c.QueryParam("url")
	name := c.QueryParam("name")

	var reader io.Reader
	var filename string

	switch {
	case csvURL != "":
		body, fetchedName, err := h.Fetcher.Open(ctx, csvURL)
		if err != nil {
			if errors.Is(err, source.ErrTooLarge) {
				return WriteError(c, http.StatusRequestEntityTooLarge, "Upload too large", err.Error())
			}
			return WriteError(c, http.StatusBadRequest, "URL fetch error", err.Error())
		}
		defer body.Close()

		reader = body
		filename = fetchedName
		if name != "" {
			filename = name
		}
		if filename == "" {
			filename = "downloaded.csv"
		}
	case strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm):
		fileHeader, err := c.FormFile("file")
		if err != nil {
			return WriteError(c, http.StatusBadRequest, "Missing parameter",
				"Multipart uploads must carry the CSV in a 'file' field")
		}
		file, err := fileHeader.Open()
		if err != nil {
			return WriteError(c, http.StatusBadRequest, "Upload error", err.Error())
		}
		defer file.Close()

		reader = file
		filename = fileHeader.Filename
		if name != "" {
			filename = name
		}
	case name != "":
		reader = c.Request().Body
		filename = name
	default:
		return WriteError(c, http.StatusBadRequest, "Missing parameter",
			"Either 'url' or 'name' parameter, or a multipart 'file' field, must be provided")
	}

	snap, err := h.Session.Load(ctx, filename, source.LimitReader(reader, h.MaxBytes))
	if err != nil {
		return h.errorResponse(c, err)
	}

	endpoint := fmt.Sprintf("%s://%s/api/table", c.Scheme(), c.Request().Host)

	return c.JSON(http.StatusOK, models.UploadResponse{
		OK:       true,
		Endpoint: endpoint,
		Table:    models.NewTableInfo(snap.Table),
		Columns:  snap.Descriptors,
	})
}

func (h *Handler) Schema(c echo.Context) error {
	snap, err := h.Session.Snapshot()
	if err != nil {
		return h.errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, models.SchemaResponse{
		OK:      true,
		Table:   models.NewTableInfo(snap.Table),
		Columns: snap.Descriptors,
		Schema:  snap.Schema,
	})
}

func (h *Handler) Table(c echo.Context) error {
	ctx := c.Request().Context()

	size, _ := strconv.Atoi(c.QueryParam("_size"))
	offset, _ := strconv.Atoi(c.QueryParam("_offset"))
	sortCol := c.QueryParam("_sort")
	if sortCol == "" {
		sortCol = c.QueryParam("_sort_desc")
	}
	sortDesc := c.QueryParam("_sort_desc") != ""
	showRowID := c.QueryParam("_rowid") == "show"
	showTotal := c.QueryParam("_total") != "hide"

	if size <= 0 {
		size = defaultPageSize
	}

	page, err := h.Session.Browse(ctx, db.BrowseOptions{
		Limit:      size,
		Offset:     offset,
		SortColumn: sortCol,
		SortDesc:   sortDesc,
		ShowRowID:  showRowID,
	})
	if err != nil {
		return h.errorResponse(c, err)
	}

	baseResp := models.DataResponseBase{
		OK:      true,
		QueryMS: milliseconds(page.Duration),
		Columns: page.Columns,
	}
	if showTotal {
		baseResp.Total = page.Table.RowCount
	}

	if c.QueryParam("_shape") == "arrays" {
		return c.JSON(http.StatusOK, models.DataResponseArray{
			DataResponseBase: baseResp,
			Rows:             page.Rows,
		})
	}

	return c.JSON(http.StatusOK, models.DataResponseObjects{
		DataResponseBase: baseResp,
		Rows:             page.Objects(),
	})
}

func (h *Handler) Generate(c echo.Context) error {
	var req models.PromptRequest
	if err := c.Bind(&req); err != nil {
		return WriteError(c, http.StatusBadRequest, "Invalid request", err.Error())
	}

	stmt, err := h.Session.Generate(c.Request().Context(), req.Prompt)
	if err != nil {
		return h.errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, models.GenerateResponse{OK: true, SQLStatement: stmt})
}

func (h *Handler) Execute(c echo.Context) error {
	var req models.ExecuteRequest
	if err := c.Bind(&req); err != nil {
		return WriteError(c, http.StatusBadRequest, "Invalid request", err.Error())
	}

	stmt := models.SQLStatement{Text: req.SQL, TableID: req.TableID}
	result, err := h.Session.Execute(c.Request().Context(), stmt)
	if err != nil {
		return h.errorResponse(c, err)
	}

	return writeResult(c, stmt, result)
}

func (h *Handler) Ask(c echo.Context) error {
	var req models.PromptRequest
	if err := c.Bind(&req); err != nil {
		return WriteError(c, http.StatusBadRequest, "Invalid request", err.Error())
	}

	stmt, result, err := h.Session.Ask(c.Request().Context(), req.Prompt)
	if err != nil {
		status, title := errorStatus(err)
		return c.JSON(status, models.ErrorResponse{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Error:     title,
			Message:   err.Error(),
			SQL:       stmt.Text,
		})
	}

	return writeResult(c, stmt, result)
}

func (h *Handler) Health(c echo.Context) error {
	_, err := h.Session.Table()
	return c.JSON(http.StatusOK, models.HealthResponse{OK: true, TableLoaded: err == nil})
}

func writeResult(c echo.Context, stmt models.SQLStatement, result models.QueryResult) error {
	if c.QueryParam("format") == render.FormatCSV {
		body, err := render.CSV(result)
		if err != nil {
			return WriteError(c, http.StatusInternalServerError, "Render error", err.Error())
		}
		return c.Blob(http.StatusOK, "text/csv; charset=utf-8", []byte(body))
	}

	baseResp := models.DataResponseBase{
		OK:      true,
		QueryMS: milliseconds(result.Duration),
		Columns: result.Columns,
		Total:   len(result.Rows),
	}

	if c.QueryParam("_shape") == "arrays" {
		return c.JSON(http.StatusOK, models.QueryResponseArray{
			DataResponseArray: models.DataResponseArray{DataResponseBase: baseResp, Rows: result.Rows},
			SQL:               stmt.Text,
			TableID:           stmt.TableID,
		})
	}

	return c.JSON(http.StatusOK, models.QueryResponseObjects{
		DataResponseObjects: models.DataResponseObjects{DataResponseBase: baseResp, Rows: result.Objects()},
		SQL:                 stmt.Text,
		TableID:             stmt.TableID,
	})
}

func (h *Handler) errorResponse(c echo.Context, err error) error {
	status, title := errorStatus(err)
	return WriteError(c, status, title, err.Error())
}

func errorStatus(err error) (int, string) {
	var (
		parseErr *models.ParseError
		synthErr *models.SynthesisError
		execErr  *models.ExecutionError
	)

	switch {
	case errors.Is(err, source.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "Upload too large"
	case errors.Is(err, models.ErrNoTable):
		return http.StatusConflict, "No table loaded"
	case errors.Is(err, models.ErrEmptyRequest):
		return http.StatusBadRequest, "Empty query request"
	case errors.Is(err, session.ErrUnknownColumn):
		return http.StatusBadRequest, "Invalid parameter"
	case errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable, "Session closed"
	case errors.As(err, &parseErr):
		return http.StatusBadRequest, "CSV parse error"
	case errors.As(err, &synthErr):
		return http.StatusBadGateway, "SQL generation error"
	case errors.As(err, &execErr):
		if execErr.Rejected {
			return http.StatusUnprocessableEntity, "Statement rejected"
		}
		return http.StatusUnprocessableEntity, "Query error"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}

func milliseconds(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// WriteError sends the JSON error body shared by every endpoint.
func WriteError(c echo.Context, status int, error string, message string) error {
	resp := models.ErrorResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Error:     error,
		Message:   message,
	}
	return c.JSON(status, resp)
}
