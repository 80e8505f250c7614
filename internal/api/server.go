package api

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/david/grant-matcher/internal/db"
	"github.com/david/grant-matcher/internal/matching"
	"github.com/david/grant-matcher/internal/models"
	"github.com/david/grant-matcher/internal/website"
)

// Catalog is the grant store as the HTTP layer sees it.
type Catalog interface {
	ListGrants(ctx context.Context, params db.ListParams) (*db.ListResult, error)
	GetGrant(ctx context.Context, linkHash string) (*models.Grant, error)
	GetStats(ctx context.Context) (*db.Stats, error)
	GetSources(ctx context.Context) ([]string, error)
	UpsertGrant(ctx context.Context, g models.Grant) (bool, error)
	SetGrantActive(ctx context.Context, linkHash string, active bool) error
}

// Matcher runs one NGO text against the catalog.
type Matcher interface {
	MatchAllGrants(ctx context.Context, raw string, opts matching.Options) ([]models.MatchResult, string, error)
}

// Extractor turns an NGO website URL into plain text.
type Extractor interface {
	Extract(ctx context.Context, rawURL string) (*website.Page, error)
}

// Indexer precomputes grant embeddings.
type Indexer interface {
	Run(ctx context.Context, force bool, limit int) (matching.IndexReport, error)
}

// Options wires the server. Extractor and Indexer may be nil, in which case
// the routes that need them answer 503.
type Options struct {
	Catalog       Catalog
	Matcher       Matcher
	Extractor     Extractor
	Indexer       Indexer
	AdminSecret   string
	CORSOrigins   []string
	MaxTextLength int
	Logger        *zap.Logger
}

type Server struct {
	Echo *echo.Echo

	catalog       Catalog
	matcher       Matcher
	extractor     Extractor
	indexer       Indexer
	adminSecret   string
	maxTextLength int
	logger        *zap.Logger
	now           func() time.Time

	// Background job tracking
	jobMu      sync.Mutex
	runningJob *backgroundJob
}

type backgroundJob struct {
	ID        string             `json:"id"`
	Kind      string             `json:"kind"`
	Status    string             `json:"status"` // running, completed, failed
	StartedAt time.Time          `json:"started_at"`
	EndedAt   time.Time          `json:"ended_at,omitempty"`
	Result    any                `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
	Cancel    context.CancelFunc `json:"-"`
}

func NewServer(opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	secret, err := resolveAdminSecret(opts.AdminSecret, logger)
	if err != nil {
		return nil, err
	}
	maxText := opts.MaxTextLength
	if maxText <= 0 {
		maxText = website.DefaultMaxTextLength
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(requestLogger(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:4200"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "X-Admin-Secret"},
	}))

	s := &Server{
		Echo:          e,
		catalog:       opts.Catalog,
		matcher:       opts.Matcher,
		extractor:     opts.Extractor,
		indexer:       opts.Indexer,
		adminSecret:   secret,
		maxTextLength: maxText,
		logger:        logger,
		now:           time.Now,
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)
	api := s.Echo.Group("/api/v1")
	api.POST("/match", s.handleMatch)
	api.GET("/grants", s.handleListGrants)
	api.GET("/grants/:link_hash", s.handleGetGrant)
	api.GET("/sources", s.handleGetSources)
	api.GET("/stats", s.handleGetStats)

	admin := api.Group("/admin")
	admin.Use(s.adminMiddleware)
	admin.POST("/grants", s.handleCreateGrant)
	admin.PATCH("/grants/:link_hash", s.handleSetGrantActive)
	admin.POST("/seed", s.handleSeed)
	admin.POST("/embed-grants", s.handleEmbedGrants)
	admin.GET("/job/:id", s.handleJobStatus)
}

// requestLogger sends echo's access log through zap.
func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("request_id", v.RequestID),
			}
			if v.Error != nil {
				logger.Warn("request failed", append(fields, zap.Error(v.Error))...)
				return nil
			}
			logger.Info("request", fields...)
			return nil
		},
	})
}

func (s *Server) Start(port string) error {
	s.logger.Info("server starting", zap.String("port", port))
	return s.Echo.Start(":" + port)
}

// Shutdown stops accepting requests and cancels a running background job.
func (s *Server) Shutdown(ctx context.Context) error {
	s.jobMu.Lock()
	if s.runningJob != nil && s.runningJob.Status == "running" && s.runningJob.Cancel != nil {
		s.runningJob.Cancel()
	}
	s.jobMu.Unlock()
	return s.Echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (s *Server) adminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		// Check X-Admin-Secret header or Bearer token
		authHeader := c.Request().Header.Get("Authorization")
		adminHeader := c.Request().Header.Get("X-Admin-Secret")

		if adminHeader != "" && adminHeader == s.adminSecret {
			return next(c)
		}
		if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") && authHeader[7:] == s.adminSecret {
			return next(c)
		}
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized admin access"})
	}
}

// resolveAdminSecret falls back to a random per-process secret so admin
// routes are never open when ADMIN_SECRET is unset.
func resolveAdminSecret(configured string, logger *zap.Logger) (string, error) {
	if secret := strings.TrimSpace(configured); secret != "" {
		return secret, nil
	}
	buf := make([]byte, 48)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate admin secret fallback: %w", err)
	}
	logger.Warn("ADMIN_SECRET is not set; using ephemeral in-memory fallback secret")
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func (s *Server) requestID(c echo.Context) string {
	if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
		return id
	}
	return uuid.NewString()
}

func errorJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
