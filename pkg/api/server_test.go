package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth-ai/assistant/pkg/config"
	"github.com/hearth-ai/assistant/pkg/groupqueue"
	"github.com/hearth-ai/assistant/pkg/health"
	"github.com/hearth-ai/assistant/pkg/knowledge/chunk"
	"github.com/hearth-ai/assistant/pkg/knowledge/learn"
	"github.com/hearth-ai/assistant/pkg/knowledge/search"
	"github.com/hearth-ai/assistant/pkg/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), store.Options{Path: t.TempDir() + "/assistant.db"}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st := newTestStore(t)
	cfg := &config.Config{Knowledge: config.KnowledgeConfig{BearerToken: "test-token"}}

	s := NewServer(cfg, st)
	s.SetSearchEngine(&search.Engine{Store: st})
	s.SetLearnService(&learn.Service{Store: st, Splitter: &chunk.Splitter{}})

	checker := &health.Checker{Store: st, Cfg: cfg.Health, Log: testLogger()}
	monitor := health.NewMonitor(checker, testLogger())
	monitor.Start(context.Background())
	t.Cleanup(monitor.Stop)
	s.SetHealthMonitor(monitor)

	q := groupqueue.New(st, testLogger(), config.GroupQueueConfig{MaxConcurrent: 1, MaxQueueSize: 10}, nil, nil)
	s.SetQueue(q)

	require.Eventually(t, func() bool {
		return monitor.LastReport().Status != ""
	}, time.Second, 5*time.Millisecond)

	return s
}

func TestServerValidateWiring(t *testing.T) {
	t.Run("nothing wired", func(t *testing.T) {
		s := &Server{}
		err := s.ValidateWiring()
		require.Error(t, err)
		msg := err.Error()
		assert.Contains(t, msg, "search engine")
		assert.Contains(t, msg, "learn service")
		assert.Contains(t, msg, "health monitor")
		assert.Contains(t, msg, "queue")
	})

	t.Run("fully wired", func(t *testing.T) {
		s := newTestServer(t)
		assert.NoError(t, s.ValidateWiring())
	})
}

func TestHealthAndStatusEndpointsRequireNoAuth(t *testing.T) {
	s := newTestServer(t)
	s.setupRoutes()

	for _, path := range []string{"/health", "/status"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		s.echo.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestAPIEndpointsRequireBearerToken(t *testing.T) {
	s := newTestServer(t)
	s.setupRoutes()

	req := httptest.NewRequest(http.MethodGet, "/api/search?q=hello", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "bearer token")

	req = httptest.NewRequest(http.MethodGet, "/api/search?q=hello", nil)
	req.Header.Set("Authorization", "Bearer test-token")
	rec = httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLearnAndDocRoundTrip(t *testing.T) {
	s := newTestServer(t)
	s.setupRoutes()

	body := `{"title":"note","content":"remember the door code","concepts":["security"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/learn", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer test-token")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"id"`)
}
