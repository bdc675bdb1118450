package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chatshell/streamcore/internal/ratelimit"
	"github.com/chatshell/streamcore/internal/store/postgres"
	"github.com/chatshell/streamcore/internal/streaming"
	"github.com/chatshell/streamcore/internal/taskqueue"
)

type noopExecutor struct{}

func (noopExecutor) Execute(ctx context.Context, taskID string) error { return nil }

func newTestServer(t *testing.T) (*Server, sqlmock.Sqlmock, *streaming.Core) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	pool := postgres.NewPoolFromDB(sqlx.NewDb(db, "postgres"))
	tasks := postgres.NewTaskStore(pool)

	cfg := streaming.DefaultStreamConfig()
	core := streaming.NewCore(streaming.NewStreamState(), streaming.NewPerStreamBuffer(cfg.BufferSize, cfg.BufferAge), streaming.NewEmitter(16, time.Second, zap.NewNop()), cfg, zap.NewNop())
	core.Start()
	t.Cleanup(core.Stop)

	queue := taskqueue.NewQueue(noopExecutor{}, 10, zap.NewNop())

	limiter := ratelimit.NewConnectLimiter(1000, 1000)
	server := NewServer(core, tasks, queue, limiter, zap.NewNop())
	return server, mock, core
}

func TestHandleCreateTaskRejectsMissingFields(t *testing.T) {
	server, _, _ := newTestServer(t)
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)

	req := httptest.NewRequest("POST", "/task", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCreateTaskSucceeds(t *testing.T) {
	server, mock, _ := newTestServer(t)
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)

	mock.ExpectExec("INSERT INTO tasks").WillReturnResult(sqlmock.NewResult(1, 1))

	body := `{"session_id":"sess1","input":"hello"}`
	req := httptest.NewRequest("POST", "/task", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["task_id"])
}

func TestHandleStreamStatusNotFound(t *testing.T) {
	server, _, _ := newTestServer(t)
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)

	req := httptest.NewRequest("GET", "/streams/unknown", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleStreamStatusFound(t *testing.T) {
	server, _, core := newTestServer(t)
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)

	_, err := core.CreateStream("stream-1", "sess", nil, nil)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/streams/stream-1", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleCancelUnknownStream(t *testing.T) {
	server, _, _ := newTestServer(t)
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)

	req := httptest.NewRequest("POST", "/streams/unknown/cancel", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestParseOffsetRejectsNonNumeric(t *testing.T) {
	req := httptest.NewRequest("GET", "/streams/x/events?offset=abc", nil)
	_, err := parseOffset(req)
	assert.Error(t, err)
}

func TestParseOffsetDefaultsToZero(t *testing.T) {
	req := httptest.NewRequest("GET", "/streams/x/events", nil)
	offset, err := parseOffset(req)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), offset)
}
