// Package api provides the REST API handlers and server for hydrarr: the
// aggregated dashboard endpoints, the log stream WebSocket, and the
// Prometheus metrics endpoint.
package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mescon/hydrarr/internal/config"
	"github.com/mescon/hydrarr/internal/logger"
	"github.com/mescon/hydrarr/internal/media"
	"github.com/mescon/hydrarr/internal/metrics"
	"github.com/mescon/hydrarr/internal/services"
)

// Engine is the reconciliation surface the handlers consume.
type Engine interface {
	TVOverview(ctx context.Context) (*media.Overview, error)
	MoviesOverview(ctx context.Context) (*media.Overview, error)
	Episodes(ctx context.Context, seriesID int64, season int) (*media.SeasonEpisodes, error)
	Releases(ctx context.Context, service string, itemID int64) ([]media.Release, error)
	HasRejectedReleases(ctx context.Context, service string, itemID int64) (bool, error)
	RejectedBatch(ctx context.Context, service string, ids []int64) (map[int64]bool, int)
	GrabRelease(ctx context.Context, service string, payload any) (any, error)
	AggregateLogs(ctx context.Context, service, level, search string, limit int) []media.LogEntry
	DashboardItems(ctx context.Context, services []string) []media.DashboardItem
}

// StatusProber runs a fresh health probe across all services.
type StatusProber interface {
	CheckAll(ctx context.Context) ([]services.ServiceStatus, services.QBitStatus)
}

type RESTServer struct {
	router     *gin.Engine
	httpServer *http.Server
	cfg        *config.Config
	log        *logger.Logger
	metrics    *metrics.Service
	engine     Engine
	prober     StatusProber
	hub        *WebSocketHub
	startTime  time.Time
}

// ServerDeps contains all dependencies required for the REST server.
type ServerDeps struct {
	Config  *config.Config
	Logger  *logger.Logger
	Metrics *metrics.Service
	Engine  Engine
	Prober  StatusProber
}

func NewRESTServer(deps ServerDeps) *RESTServer {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	s := &RESTServer{
		router:    r,
		cfg:       deps.Config,
		log:       deps.Logger,
		metrics:   deps.Metrics,
		engine:    deps.Engine,
		prober:    deps.Prober,
		hub:       NewWebSocketHub(deps.Config, deps.Logger),
		startTime: time.Now(),
	}

	r.Use(s.requestIDMiddleware())
	r.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		reqID := c.GetString("request_id")
		s.log.Errorf("[PANIC RECOVERY] request_id=%s path=%s method=%s error=%v",
			reqID, c.Request.URL.Path, c.Request.Method, recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":      "Internal server error",
			"request_id": reqID,
		})
	}))
	r.Use(s.corsMiddleware())
	r.Use(s.metricsMiddleware())

	s.setupRoutes()
	return s
}

// requestIDMiddleware attaches a correlation id to every request,
// honoring one supplied by the caller.
func (s *RESTServer) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set("request_id", reqID)
		c.Header("X-Request-ID", reqID)
		c.Next()
	}
}

// corsMiddleware applies the configured origin policy. No configured
// origin means no CORS headers, so the browser enforces same-origin.
func (s *RESTServer) corsMiddleware() gin.HandlerFunc {
	corsOrigin := s.cfg.CORSOrigin
	allowedOrigins := make(map[string]bool)
	if corsOrigin != "" && corsOrigin != "*" {
		for _, origin := range strings.Split(corsOrigin, ",") {
			allowedOrigins[strings.TrimSpace(origin)] = true
		}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if corsOrigin == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" && allowedOrigins[origin] {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Vary", "Origin")
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Origin, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *RESTServer) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.ObserveRequest(route, strconv.Itoa(c.Writer.Status()), time.Since(start).Seconds())
	}
}

func (s *RESTServer) setupRoutes() {
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/services", s.handleServices)
		api.GET("/overview", s.handleOverview)
		api.GET("/dashboard/:category", s.handleDashboard)

		api.GET("/tv/overview", s.handleTVOverview)
		api.GET("/tv/series/:id/episodes", s.handleEpisodes)
		api.GET("/movies/overview", s.handleMoviesOverview)

		api.GET("/releases", s.handleReleases)
		api.GET("/releases/rejected", s.handleRejectedCheck)
		api.POST("/releases/rejected/batch", s.handleRejectedBatch)
		api.POST("/releases/grab", s.handleGrabRelease)

		api.GET("/errors", s.handleErrors)
		api.GET("/logs/recent", s.handleRecentLogs)
		api.GET("/ws", s.hub.HandleConnection)
	}
}

// Router exposes the underlying gin engine for tests.
func (s *RESTServer) Router() *gin.Engine {
	return s.router
}

// Start begins serving HTTP requests on the given address.
func (s *RESTServer) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server and the WebSocket hub.
func (s *RESTServer) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
