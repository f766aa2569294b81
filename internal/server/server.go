package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mohitmishra786/prompt-craft/internal/config"
	"github.com/mohitmishra786/prompt-craft/internal/gateway"
	"github.com/mohitmishra786/prompt-craft/internal/health"
	"github.com/mohitmishra786/prompt-craft/internal/models"
	"github.com/mohitmishra786/prompt-craft/internal/provider"
	providerfactory "github.com/mohitmishra786/prompt-craft/internal/provider/factory"
)

const (
	maxBodyBytes        = 1 << 20 // 1 MiB
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	writeTimeout        = 90 * time.Second
	idleTimeout         = 120 * time.Second
)

// Server is the host-application HTTP surface over the provider gateway.
type Server struct {
	cfg     config.Config
	cfgPath string
	gw      *gateway.Gateway
	monitor *health.Monitor
	logger  *zap.Logger
	prom    *prometheus.Registry
	app     *echo.Echo
	address string
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg config.Config, cfgPath string, gw *gateway.Gateway, monitor *health.Monitor, logger *zap.Logger, prom *prometheus.Registry) (*Server, error) {
	if gw == nil {
		return nil, errors.New("gateway must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Int64("latency_ms", v.Latency.Milliseconds()),
				zap.Error(v.Error))
			return nil
		},
	}))

	srv := &Server{
		cfg:     cfg,
		cfgPath: cfgPath,
		gw:      gw,
		monitor: monitor,
		logger:  logger,
		prom:    prom,
		app:     e,
		address: fmt.Sprintf(":%d", cfg.Server.Port),
	}

	srv.registerRoutes()
	return srv, nil
}

// Handler exposes the routed application, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.app
}

// Run starts the HTTP server and blocks until the context is cancelled. The
// health monitor interval loop, when configured, runs for the server's
// lifetime.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting server", zap.String("addr", s.address))

	if s.monitor != nil && s.cfg.HealthInterval > 0 {
		go s.monitor.Run(ctx, s.cfg.HealthInterval)
	}

	httpServer := &http.Server{
		Addr:         s.address,
		Handler:      s.app,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET("/healthz", s.handleLiveness)
	s.app.POST("/v1/complete", s.handleComplete)
	s.app.GET("/v1/providers", s.handleProviders)
	s.app.PUT("/v1/providers/active", s.handleSetActive)
	s.app.POST("/v1/reload", s.handleReload)
	s.app.GET("/v1/health", s.handleHealth)
	if s.prom != nil {
		s.app.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.prom, promhttp.HandlerOpts{})))
	}
}

func (s *Server) handleLiveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleComplete(c echo.Context) error {
	var req models.CompletionRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	if req.User == "" {
		return requestError{Status: http.StatusBadRequest, Message: "user text is required"}
	}

	resp, servedBy, err := s.gw.Complete(c.Request().Context(), req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, completeResponse{
		CompletionResponse: *resp,
		Provider:           servedBy,
	})
}

type completeResponse struct {
	models.CompletionResponse
	Provider models.ProviderType `json:"provider"`
}

type providerDescriptor struct {
	Type         models.ProviderType `json:"type"`
	Name         string              `json:"name"`
	Configured   bool                `json:"configured"`
	Active       bool                `json:"active"`
	DefaultModel string              `json:"default_model"`
	Models       []string            `json:"models"`
	Capabilities models.Capabilities `json:"capabilities"`
	Health       models.HealthStatus `json:"health"`
}

func (s *Server) handleProviders(c echo.Context) error {
	registry := s.gw.Registry()
	activeType, _ := registry.ActiveType()

	var out []providerDescriptor
	for _, p := range registry.All() {
		out = append(out, providerDescriptor{
			Type:         p.Type(),
			Name:         p.Name(),
			Configured:   p.Configured(),
			Active:       p.Type() == activeType,
			DefaultModel: p.DefaultModel(),
			Models:       p.AvailableModels(),
			Capabilities: p.Capabilities(),
			Health:       p.Health(),
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleSetActive(c echo.Context) error {
	var body struct {
		Type string `json:"type"`
	}
	if err := decodeRequestBody(c, &body); err != nil {
		return err
	}

	t, ok := models.ParseProviderType(body.Type)
	if !ok {
		return requestError{Status: http.StatusBadRequest, Message: fmt.Sprintf("unknown provider type %q", body.Type)}
	}
	if !s.gw.Registry().SetActive(t) {
		return requestError{Status: http.StatusConflict, Message: fmt.Sprintf("provider %q is not registered or not configured", t)}
	}
	return c.JSON(http.StatusOK, map[string]string{"active": string(t)})
}

func (s *Server) handleReload(c echo.Context) error {
	cfg, err := config.Load(s.cfgPath)
	if err != nil {
		return requestError{Status: http.StatusUnprocessableEntity, Message: err.Error()}
	}

	if err := providerfactory.Reload(cfg, s.gw.Registry(), s.logger); err != nil {
		return requestError{Status: http.StatusUnprocessableEntity, Message: err.Error()}
	}
	s.cfg = cfg

	activeType, _ := s.gw.Registry().ActiveType()
	return c.JSON(http.StatusOK, map[string]string{"active": string(activeType)})
}

func (s *Server) handleHealth(c echo.Context) error {
	if s.monitor == nil {
		return requestError{Status: http.StatusNotImplemented, Message: "health monitoring is not enabled"}
	}
	if c.QueryParam("cached") == "true" {
		return c.JSON(http.StatusOK, s.monitor.Statuses())
	}
	return c.JSON(http.StatusOK, s.monitor.RunOnce(c.Request().Context()))
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return requestError{Status: http.StatusBadRequest, Message: "request body is required"}
		}
		return requestError{Status: http.StatusBadRequest, Message: fmt.Sprintf("invalid JSON payload: %v", err)}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{Status: http.StatusBadRequest, Message: "request body must contain a single JSON object"}
	}
	return nil
}

type requestError struct {
	Status  int
	Message string
}

func (e requestError) Error() string {
	return e.Message
}

type errorBody struct {
	Error struct {
		Message  string `json:"message"`
		Category string `json:"category,omitempty"`
	} `json:"error"`
}

func writeError(c echo.Context, status int, message, category string) error {
	var payload errorBody
	payload.Error.Message = message
	payload.Error.Category = category
	return c.JSON(status, payload)
}

func errorHandler(err error, c echo.Context) {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = writeError(c, reqErr.Status, reqErr.Message, "")
		return
	}

	var provErr *provider.Error
	if errors.As(err, &provErr) {
		_ = writeError(c, statusForCategory(provErr.Category), provErr.Error(), string(provErr.Category))
		return
	}

	if he, ok := err.(*echo.HTTPError); ok {
		_ = writeError(c, he.Code, fmt.Sprintf("%v", he.Message), "")
		return
	}

	_ = writeError(c, http.StatusInternalServerError, "internal server error", "")
}

// statusForCategory maps the gateway's error taxonomy onto HTTP statuses at
// the host boundary. An unconfigured provider is visibly distinct (409) from
// a configured-but-failing one, and timeouts distinct from auth failures, so
// remediation guidance can differ.
func statusForCategory(category provider.ErrorCategory) int {
	switch category {
	case provider.CategoryAuthentication,
		provider.CategoryAuthToolUnavailable,
		provider.CategoryAuthSessionMissing,
		provider.CategoryAuthEnvironmentMismatch:
		return http.StatusUnauthorized
	case provider.CategoryAuthorization:
		return http.StatusForbidden
	case provider.CategoryNotFound:
		return http.StatusNotFound
	case provider.CategoryRateLimited:
		return http.StatusTooManyRequests
	case provider.CategoryContentFiltered:
		return http.StatusUnprocessableEntity
	case provider.CategoryTimeout:
		return http.StatusGatewayTimeout
	case provider.CategoryNetworkUnreachable, provider.CategoryServiceUnavailable:
		return http.StatusBadGateway
	case provider.CategoryConfiguration:
		return http.StatusConflict
	case provider.CategoryEmptyResponse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
