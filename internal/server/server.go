// Package server exposes the workflow over HTTP. In multi-tenant mode
// every tenant-scoped route requires a bearer token; in single-tenant
// mode the configured storage directory is the only tenant.
package server

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/celadon-dev/celadon/internal/apperr"
	"github.com/celadon-dev/celadon/internal/auth"
	"github.com/celadon-dev/celadon/internal/config"
	"github.com/celadon-dev/celadon/internal/metrics"
	"github.com/celadon-dev/celadon/internal/requestid"
	"github.com/celadon-dev/celadon/internal/state"
	"github.com/celadon-dev/celadon/internal/workflow"
)

// Server is the HTTP front of the workflow service.
type Server struct {
	app     *fiber.App
	cfg     *config.Config
	svc     *workflow.Service
	auth    *auth.Service
	db      *state.DB
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New creates the server. authSvc and db are nil in single-tenant mode;
// metricsCollector may be nil.
func New(cfg *config.Config, svc *workflow.Service, authSvc *auth.Service, db *state.DB, metricsCollector *metrics.Metrics, logger zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
	})

	s := &Server{
		app:     app,
		cfg:     cfg,
		svc:     svc,
		auth:    authSvc,
		db:      db,
		metrics: metricsCollector,
		logger:  logger.With().Str("component", "server").Logger(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(func(c *fiber.Ctx) error {
		_, reqID := requestid.New(c.Context())
		c.Set("X-Request-ID", reqID)
		c.Locals("request_id", reqID)
		return c.Next()
	})

	if s.cfg.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: s.cfg.CORSOrigins,
			AllowHeaders: "Origin, Content-Type, Accept, Authorization",
			AllowMethods: "GET, POST, OPTIONS",
		}))
	}

	// Request logging and metrics. Probe and metrics paths stay quiet.
	s.app.Use(func(c *fiber.Ctx) error {
		path := c.Path()
		if path == "/api/health" || path == "/metrics" {
			return c.Next()
		}
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		s.logger.Info().
			Str("method", c.Method()).
			Str("path", path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("request_id", fmt.Sprintf("%v", c.Locals("request_id"))).
			Msg("api request")
		if s.metrics != nil {
			route := c.Route().Path
			s.metrics.RecordRequest(route, strconv.Itoa(status))
			s.metrics.ObserveDuration(route, time.Since(start).Seconds())
		}
		return err
	})

	if s.cfg.MultiTenant() {
		s.app.Use(s.requireAuth)
	}
}

// openPaths need no bearer token even in multi-tenant mode.
func openPath(path string) bool {
	switch path {
	case "/api/health", "/api/register", "/api/login", "/metrics":
		return true
	}
	return false
}

// requireAuth resolves the bearer token to a user id stored in locals.
// The stream endpoint also accepts a token query parameter, since
// EventSource clients cannot set headers.
func (s *Server) requireAuth(c *fiber.Ctx) error {
	if openPath(c.Path()) {
		return c.Next()
	}

	token := ""
	if h := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	}
	if token == "" && strings.HasPrefix(c.Path(), "/api/dev/stream/") {
		token = c.Query("token")
	}
	if token == "" {
		return writeError(c, apperr.New(apperr.KindAuth, "missing bearer token"))
	}
	userID, err := s.auth.VerifyToken(c.Context(), token)
	if err != nil {
		return writeError(c, err)
	}
	c.Locals("user_id", userID)
	c.Locals("token", token)
	return c.Next()
}

func (s *Server) setupRoutes() {
	s.app.Get("/api/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	s.app.Post("/api/start", s.handleStart)
	s.app.Post("/api/idea", s.handleIdea)
	s.app.Post("/api/prd/generate", s.handlePrdGenerate)
	s.app.Post("/api/dev/run", s.handleDevRun)
	s.app.Get("/api/dev/stream/:session_id", s.handleDevStream)
	s.app.Post("/api/deploy", s.handleDeploy)
	s.app.Get("/api/status/:session_id", s.handleStatus)
	s.app.Get("/api/projects", s.handleProjects)

	if s.cfg.MultiTenant() {
		s.app.Post("/api/register", s.handleRegister)
		s.app.Post("/api/login", s.handleLogin)
		s.app.Post("/api/logout", s.handleLogout)
		s.app.Get("/api/me", s.handleMe)
		s.app.Get("/api/admin/settings", s.requireAdmin, s.handleListSettings)
		s.app.Post("/api/admin/settings", s.requireAdmin, s.handleUpdateSetting)
		s.app.Get("/api/admin/providers", s.requireAdmin, s.handleProviders)
	}

	if s.metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	}
}

// tenant returns the persistence scope for the request.
func (s *Server) tenant(c *fiber.Ctx) string {
	if s.cfg.MultiTenant() {
		if id, ok := c.Locals("user_id").(string); ok {
			return id
		}
		return ""
	}
	return s.cfg.Storage()
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return fiber.StatusNotFound
	case apperr.KindValidation, apperr.KindConfig:
		return fiber.StatusBadRequest
	case apperr.KindAuth:
		return fiber.StatusUnauthorized
	case apperr.KindEngine:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func writeError(c *fiber.Ctx, err error) error {
	return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := ":" + strconv.Itoa(s.cfg.HTTPPort)
	s.logger.Info().Str("addr", addr).Bool("multi_tenant", s.cfg.MultiTenant()).Msg("server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}
