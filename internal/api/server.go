// Package api serves the quantized matmul kernel over HTTP.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"golang.org/x/time/rate"

	"github.com/samcharles93/qmatmul/internal/logger"
)

// ServerConfig tunes a Server.
type ServerConfig struct {
	// LaunchRate is the sustained number of launches per second. Zero
	// disables rate limiting.
	LaunchRate float64
	// LaunchBurst is the number of launches allowed at once.
	LaunchBurst int
	// MaxRuns bounds the run history. Zero keeps everything.
	MaxRuns int
	// Logger receives launch logs. Nil uses the request context's logger.
	Logger logger.Logger
}

type Server struct {
	store   *RunStore
	service *LaunchService
	limiter *rate.Limiter
	log     logger.Logger
	clock   func() time.Time
}

func NewServer(service *LaunchService, cfg ServerConfig) *Server {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.LaunchRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.LaunchRate), max(cfg.LaunchBurst, 1))
	}
	return &Server{
		store:   NewRunStore(cfg.MaxRuns),
		service: service,
		limiter: limiter,
		log:     cfg.Logger,
		clock:   time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/quant_matmul", s.handleQuantMatmul)
	e.GET("/v1/runs", s.handleListRuns)
	e.GET("/v1/runs/:id", s.handleGetRun)
	e.DELETE("/v1/runs/:id", s.handleDeleteRun)
	e.GET("/v1/device", s.handleDevice)
}

func (s *Server) handleQuantMatmul(c *echo.Context) error {
	if s.service == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "launch service not configured", "", "")
	}
	if !s.limiter.AllowN(s.clock(), 1) {
		return writeAPIError(c, newRateLimited(fmt.Sprintf("launch rate exceeded (%g/s, burst %d)",
			float64(s.limiter.Limit()), s.limiter.Burst())))
	}
	req, err := decodeJSON[QuantMatmulRequest](c.Request().Body)
	if err != nil {
		return writeAPIError(c, newInvalidRequest(err.Error()))
	}

	ctx := c.Request().Context()
	if s.log != nil {
		ctx = logger.WithContext(ctx, s.log)
	}
	run, err := s.service.Launch(ctx, &req)
	if errors.Is(err, ErrInvalidRequest) {
		return writeAPIError(c, err)
	}
	s.store.Put(run)
	if errors.Is(err, ErrLaunchRefused) {
		return writeAPIError(c, err)
	}
	if err != nil {
		return writeJSON(c, http.StatusInternalServerError, run)
	}
	return writeJSON(c, http.StatusOK, run)
}

func (s *Server) handleListRuns(c *echo.Context) error {
	return writeJSON(c, http.StatusOK, RunList{Object: "list", Data: s.store.List()})
}

func (s *Server) handleGetRun(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return writeNotFound(c, "run not found")
	}
	run, ok := s.store.Get(id)
	if !ok {
		return writeNotFound(c, "run not found")
	}
	return writeJSON(c, http.StatusOK, run)
}

func (s *Server) handleDeleteRun(c *echo.Context) error {
	id := c.Param("id")
	if id == "" || !s.store.Delete(id) {
		return writeNotFound(c, "run not found")
	}
	return writeJSON(c, http.StatusOK, map[string]any{"id": id, "object": "quant_matmul.run", "deleted": true})
}

func (s *Server) handleDevice(c *echo.Context) error {
	if s.service == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "launch service not configured", "", "")
	}
	return writeJSON(c, http.StatusOK, DeviceResponse{Object: "device", Device: s.service.Device().Info()})
}
