// Package httpapi exposes the grant matching service over HTTP.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/grantmatchd/internal/config"
	"github.com/fyrsmithlabs/grantmatchd/internal/domain"
	"github.com/fyrsmithlabs/grantmatchd/internal/errs"
	"github.com/fyrsmithlabs/grantmatchd/internal/matcher"
)

// Repository is the subset of persistence the HTTP layer resolves ids with.
type Repository interface {
	GetGrant(ctx context.Context, id string) (*domain.Grant, error)
	GetOrganization(ctx context.Context, id string) (*domain.OrganizationProfile, error)
}

// Server hosts the REST API.
type Server struct {
	echo    *echo.Echo
	cfg     config.ServerConfig
	matcher *matcher.Service
	repo    Repository
	logger  *zap.Logger
}

// NewServer wires routes, middleware, and metrics.
func NewServer(cfg config.ServerConfig, svc *matcher.Service, repo Repository, logger *zap.Logger) (*Server, error) {
	if svc == nil || repo == nil {
		return nil, fmt.Errorf("%w: matcher service and repository are required", errs.ErrValidation)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, cfg: cfg, matcher: svc, repo: repo, logger: logger}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := NewMetrics(reg)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestLogger())
	e.Use(metrics.Middleware())

	e.GET("/health", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	api := e.Group("/api/v1")
	api.POST("/grants/:id/process", s.handleProcessGrant)
	api.POST("/grants/batch-process", s.handleBatchProcess)
	api.GET("/grants/search", s.handleSearchGrants)
	api.POST("/organizations/:id/matches", s.handleFindMatches)
	api.GET("/index/stats", s.handleIndexStats)

	return s, nil
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.logger.Info("http server listening", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			s.logger.Info("request",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Request().URL.Path),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps domain error classes onto HTTP statuses: validation
// failures are the client's fault, missing rows are 404, and upstream
// provider or parse failures surface as bad gateway.
func (s *Server) writeError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errs.IsValidation(err):
		status = http.StatusBadRequest
	case errs.IsNotFound(err):
		status = http.StatusNotFound
	case errs.IsProvider(err), errs.IsParse(err):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	return c.JSON(status, errorResponse{Error: err.Error()})
}

func (s *Server) handleHealth(c echo.Context) error {
	health := s.matcher.HealthCheck(c.Request().Context())
	status := http.StatusOK
	if health.Status != matcher.StatusHealthy {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, health)
}

func (s *Server) handleProcessGrant(c echo.Context) error {
	ctx := c.Request().Context()
	grant, err := s.repo.GetGrant(ctx, c.Param("id"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, s.matcher.ProcessNewGrant(ctx, grant))
}

type batchRequest struct {
	Limit int `json:"limit"`
}

func (s *Server) handleBatchProcess(c echo.Context) error {
	var req batchRequest
	if err := c.Bind(&req); err != nil {
		return s.writeError(c, fmt.Errorf("%w: invalid request body", errs.ErrValidation))
	}
	result, err := s.matcher.BatchProcessGrants(c.Request().Context(), req.Limit)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

type searchResponse struct {
	Query   string              `json:"query"`
	Results []matcher.SearchHit `json:"results"`
	Count   int                 `json:"count"`
}

func (s *Server) handleSearchGrants(c echo.Context) error {
	query := c.QueryParam("q")
	if query == "" {
		return s.writeError(c, fmt.Errorf("%w: query parameter q is required", errs.ErrValidation))
	}
	topK := 0
	if err := echo.QueryParamsBinder(c).Int("top_k", &topK).BindError(); err != nil {
		return s.writeError(c, fmt.Errorf("%w: top_k must be an integer", errs.ErrValidation))
	}

	hits, err := s.matcher.SemanticSearchGrants(c.Request().Context(), query, c.QueryParam("organization_id"), topK)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, searchResponse{Query: query, Results: hits, Count: len(hits)})
}

type matchRequest struct {
	TopK          int    `json:"top_k"`
	SpecificQuery string `json:"specific_query"`
}

type matchResponse struct {
	OrganizationID string               `json:"organization_id"`
	Matches        []matcher.GrantMatch `json:"matches"`
	Count          int                  `json:"count"`
}

func (s *Server) handleFindMatches(c echo.Context) error {
	ctx := c.Request().Context()

	var req matchRequest
	if err := c.Bind(&req); err != nil {
		return s.writeError(c, fmt.Errorf("%w: invalid request body", errs.ErrValidation))
	}

	org, err := s.repo.GetOrganization(ctx, c.Param("id"))
	if err != nil {
		return s.writeError(c, err)
	}

	matches, err := s.matcher.FindMatchingGrants(ctx, org, &matcher.MatchOptions{
		TopK:          req.TopK,
		SpecificQuery: req.SpecificQuery,
	})
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, matchResponse{OrganizationID: org.ID, Matches: matches, Count: len(matches)})
}

func (s *Server) handleIndexStats(c echo.Context) error {
	stats, err := s.matcher.IndexStats(c.Request().Context())
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}
