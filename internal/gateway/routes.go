package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danmuck/clamctl/internal/auth"
	"github.com/danmuck/clamctl/internal/clamd"
	"github.com/danmuck/clamctl/internal/observability"
)

var errPayloadTooLarge = errors.New("gateway: payload exceeds scan limit")

func (s *Service) buildRouter() *gin.Engine {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(s.log))
	r.Use(observability.RequestMetrics())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(s.cfg.CorsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", auth.HeaderAPIKey},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})
	return r
}

func (s *Service) registerRoutes() {
	r := s.router
	r.GET("/healthz", s.handleHealth)
	r.GET("/readyz", s.handleReady)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	if strings.TrimSpace(s.cfg.APIKey) != "" {
		v1.Use(auth.Middleware(auth.StaticKey{Key: s.cfg.APIKey}))
	}
	v1.GET("/ping", s.handlePing)
	v1.GET("/version", s.handleVersion)
	v1.POST("/scan", s.handleScan)
	v1.POST("/scan/path", s.handleScanPath)
}

func (s *Service) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"uptime":  time.Since(s.started).String(),
		"service": s.cfg.ServiceName,
	})
}

func (s *Service) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := s.scanner.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"ready":   false,
			"service": s.cfg.ServiceName,
			"error":   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ready":   true,
		"uptime":  time.Since(s.started).String(),
		"service": s.cfg.ServiceName,
	})
}

func (s *Service) handlePing(c *gin.Context) {
	if err := s.scanner.Ping(c.Request.Context()); err != nil {
		s.renderScanError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Service) handleVersion(c *gin.Context) {
	v, err := s.scanner.Version(c.Request.Context())
	if err != nil {
		s.renderScanError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"program":  v.Program,
		"database": v.Database,
	})
}

func (s *Service) handleScan(c *gin.Context) {
	data, err := s.readScanPayload(c)
	if err != nil {
		if errors.Is(err, errPayloadTooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty scan payload"})
		return
	}
	report, err := s.scanBlob(c.Request.Context(), data)
	if err != nil {
		s.renderScanError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Service) handleScanPath(c *gin.Context) {
	var req struct {
		Path string `json:"path" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	report, err := s.scanPath(c.Request.Context(), req.Path)
	if err != nil {
		s.renderScanError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// readScanPayload accepts either a raw body or a multipart "file" field,
// bounded by MaxScanBytes.
func (s *Service) readScanPayload(c *gin.Context) ([]byte, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		fh, err := c.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf("multipart file field: %w", err)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open upload: %w", err)
		}
		defer f.Close()
		return readBounded(f, s.cfg.MaxScanBytes)
	}
	return readBounded(c.Request.Body, s.cfg.MaxScanBytes)
}

func readBounded(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, errPayloadTooLarge
	}
	return data, nil
}

// renderScanError maps the client error taxonomy onto HTTP statuses:
// caller faults are 4xx, daemon protocol faults 502, daemon availability
// 503, timeouts 504.
func (s *Service) renderScanError(c *gin.Context, err error) {
	var pe *clamd.ProtocolError
	var te *clamd.TransportError
	switch {
	case errors.Is(err, clamd.ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, clamd.ErrClientClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	case errors.As(err, &pe):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	case errors.As(err, &te):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
