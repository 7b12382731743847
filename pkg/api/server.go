// Package api serves the knowledge-engine HTTP surface and the local
// liveness endpoints of spec §6: bearer-token authenticated
// search/consult/learn/doc/list/stats endpoints, and unauthenticated
// /health and /status for local supervision.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/hearth-ai/assistant/pkg/config"
	"github.com/hearth-ai/assistant/pkg/container"
	"github.com/hearth-ai/assistant/pkg/groupqueue"
	"github.com/hearth-ai/assistant/pkg/health"
	"github.com/hearth-ai/assistant/pkg/knowledge/learn"
	"github.com/hearth-ai/assistant/pkg/knowledge/search"
	"github.com/hearth-ai/assistant/pkg/models"
	"github.com/hearth-ai/assistant/pkg/store"
	"github.com/hearth-ai/assistant/pkg/version"
)

// Server is the HTTP API server. Fields are nil until the matching Set*
// method is called; ValidateWiring checks every required field was set
// before Start is allowed to run.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	cfg        *config.Config
	store      *store.Store
	startedAt  time.Time

	searchEngine *search.Engine
	learnService *learn.Service
	monitor      *health.Monitor
	pool         *container.Pool
	queue        *groupqueue.Queue
}

// NewServer builds a Server around the given store and config. Wire the
// remaining dependencies with the Set* methods, then call ValidateWiring.
func NewServer(cfg *config.Config, st *store.Store) *Server {
	s := &Server{cfg: cfg, store: st, startedAt: time.Now()}
	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.HTTPErrorHandler = httpErrorHandler
	return s
}

// SetSearchEngine wires the hybrid search engine behind /api/search and /api/consult.
func (s *Server) SetSearchEngine(e *search.Engine) { s.searchEngine = e }

// SetLearnService wires the write path behind POST /api/learn.
func (s *Server) SetLearnService(l *learn.Service) { s.learnService = l }

// SetHealthMonitor wires the background health monitor behind /health and /status.
func (s *Server) SetHealthMonitor(m *health.Monitor) { s.monitor = m }

// SetContainerPool wires the pool queried for the status endpoint's active_containers count.
func (s *Server) SetContainerPool(p *container.Pool) { s.pool = p }

// SetQueue wires the group queue queried for the status endpoint's current_max field.
func (s *Server) SetQueue(q *groupqueue.Queue) { s.queue = q }

// ValidateWiring reports every required Set* call that was never made.
func (s *Server) ValidateWiring() error {
	var errs []error
	if s.searchEngine == nil {
		errs = append(errs, errors.New("api: search engine not wired"))
	}
	if s.learnService == nil {
		errs = append(errs, errors.New("api: learn service not wired"))
	}
	if s.monitor == nil {
		errs = append(errs, errors.New("api: health monitor not wired"))
	}
	if s.queue == nil {
		errs = append(errs, errors.New("api: queue not wired"))
	}
	return errors.Join(errs...)
}

func (s *Server) setupRoutes() {
	s.echo.Use(securityHeaders())
	s.echo.Use(middleware.BodyLimit(2 * 1024 * 1024))

	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/status", s.statusHandler)

	grp := s.echo.Group("/api", bearerAuth(s.cfg.Knowledge.BearerToken))
	grp.GET("/search", s.searchHandler)
	grp.GET("/consult", s.consultHandler)
	grp.POST("/learn", s.learnHandler)
	grp.DELETE("/doc/:id", s.forgetHandler)
	grp.GET("/doc/:id", s.docHandler)
	grp.GET("/doc/:id/supersessions", s.supersessionsHandler)
	grp.GET("/list", s.listHandler)
	grp.GET("/stats", s.statsHandler)
}

// Start builds the listener for addr and runs the server, blocking until
// it shuts down or fails.
func (s *Server) Start(addr string) error {
	s.setupRoutes()
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	slog.Info("api server listening", "addr", addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// StartWithListener is like Start but serves on an already-bound
// listener, used by tests that need an ephemeral port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.setupRoutes()
	s.httpServer = &http.Server{Handler: s.echo}
	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// StatusResponse is the payload of GET /status. Shape fixed by spec §6.
type StatusResponse struct {
	ActiveContainers int             `json:"active_containers"`
	QueueDepth       int64           `json:"queue_depth"`
	RegisteredGroups int             `json:"registered_groups"`
	Resources        StatusResources `json:"resources"`
	RecentErrors     []string        `json:"recent_errors"`
	Uptime           string          `json:"uptime"`
	Version          string          `json:"version"`
}

// StatusResources is the nested resources object of StatusResponse.
type StatusResources struct {
	CPUUsage   float64 `json:"cpu_usage"`
	MemoryFree float64 `json:"memory_free"`
	CurrentMax int     `json:"current_max"`
}

func (s *Server) healthHandler(c *echo.Context) error {
	report := s.monitor.LastReport()
	status := report.Status
	if status == "" {
		status = health.StatusDegraded // not yet checked
	}
	httpStatus := http.StatusOK
	if status == health.StatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	return c.JSON(httpStatus, report)
}

func (s *Server) statusHandler(c *echo.Context) error {
	ctx := c.Request().Context()

	groups, err := s.store.ListGroups(ctx)
	if err != nil {
		return writeError(c, err)
	}

	var depth int64
	for _, g := range groups {
		d, err := s.store.QueueDepth(ctx, g.Name)
		if err == nil {
			depth += d
		}
	}

	active := 0
	records, err := s.store.AllNonTerminal(ctx)
	if err == nil {
		for _, r := range records {
			if r.Status == models.ContainerInUse {
				active++
			}
		}
	}

	cpu, _ := groupqueue.LoadAverage1m()
	mem, _ := groupqueue.FreeMemPercent()
	currentMax := 0
	if s.queue != nil {
		currentMax = s.queue.Concurrency()
	}

	resp := StatusResponse{
		ActiveContainers: active,
		QueueDepth:       depth,
		RegisteredGroups: len(groups),
		Resources: StatusResources{
			CPUUsage:   cpu,
			MemoryFree: mem,
			CurrentMax: currentMax,
		},
		RecentErrors: s.monitor.RecentErrors(),
		Uptime:       time.Since(s.startedAt).Round(time.Second).String(),
		Version:      version.Full(),
	}
	return c.JSON(http.StatusOK, resp)
}
