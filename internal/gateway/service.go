// Package gateway fronts the scanning daemon with an HTTP surface: content
// submission, verdict caching, and verdict event fan-out.
package gateway

import (
	"bytes"
	"context"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/danmuck/clamctl/internal/clamd"
	"github.com/danmuck/clamctl/internal/observability"
	"github.com/danmuck/clamctl/internal/scancache"
)

// Scanner is the daemon surface the gateway needs. *clamd.Client
// satisfies it.
type Scanner interface {
	Ping(ctx context.Context) error
	Version(ctx context.Context) (clamd.Version, error)
	ScanStream(ctx context.Context, data io.Reader) (clamd.ScanResult, error)
	ScanPath(ctx context.Context, path string) (clamd.ScanResult, error)
	Close() error
}

var _ Scanner = (*clamd.Client)(nil)

// ScanReport is the gateway's verdict record: the HTTP response body and
// the verdict event payload share this shape.
type ScanReport struct {
	ScanID    string    `json:"scan_id"`
	Digest    string    `json:"sha256,omitempty"`
	Source    string    `json:"source"`
	Status    string    `json:"status"`
	Signature string    `json:"signature,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Size      int64     `json:"size_bytes,omitempty"`
	Cached    bool      `json:"cached"`
	ScannedAt time.Time `json:"scanned_at"`
}

// Config describes the HTTP surface and its operational policies.
type Config struct {
	ListenAddr  string
	ServiceName string
	CorsOrigins []string

	// APIKey guards the /v1 routes when set; blank leaves them open.
	APIKey string

	// MaxScanBytes caps a single submission.
	MaxScanBytes int64

	ShutdownGrace time.Duration

	// DaemonWaitAttempts bounds the startup availability probe.
	DaemonWaitAttempts int
	Backoff            BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:         ":8090",
		ServiceName:        "scangwd",
		MaxScanBytes:       25 << 20,
		ShutdownGrace:      10 * time.Second,
		DaemonWaitAttempts: 5,
		Backoff:            DefaultBackoff(),
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = def.ListenAddr
	}
	if strings.TrimSpace(c.ServiceName) == "" {
		c.ServiceName = def.ServiceName
	}
	if c.MaxScanBytes <= 0 {
		c.MaxScanBytes = def.MaxScanBytes
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = def.ShutdownGrace
	}
	if c.DaemonWaitAttempts <= 0 {
		c.DaemonWaitAttempts = def.DaemonWaitAttempts
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}

// Service wires the scanner, the verdict cache, and the event publisher
// behind the HTTP routes. cache and events may be nil; the corresponding
// feature is skipped.
type Service struct {
	cfg     Config
	scanner Scanner
	cache   scancache.Cache
	events  Publisher
	log     zerolog.Logger

	router  *gin.Engine
	started time.Time
}

func NewService(cfg Config, scanner Scanner, cache scancache.Cache, events Publisher, logger zerolog.Logger) *Service {
	cfg = cfg.WithDefaults()
	s := &Service{
		cfg:     cfg,
		scanner: scanner,
		cache:   cache,
		events:  events,
		log:     logger.With().Str("component", "gateway").Logger(),
		started: time.Now(),
	}
	s.router = s.buildRouter()
	s.registerRoutes()
	return s
}

// Router exposes the HTTP handler, mostly for tests.
func (s *Service) Router() *gin.Engine {
	return s.router
}

// scanBlob runs the cache-then-daemon path for one content submission.
func (s *Service) scanBlob(ctx context.Context, data []byte) (ScanReport, error) {
	digest := scancache.Digest(data)
	size := int64(len(data))

	if s.cache != nil {
		entry, found, err := s.cache.Get(ctx, digest)
		if err != nil {
			// A broken cache degrades to scanning, never to failing.
			s.log.Warn().Str("digest", digest).Err(err).Msg("cache lookup failed")
		}
		hit := err == nil && found
		observability.RecordCacheLookup(hit)
		if hit {
			return ScanReport{
				ScanID:    entry.ScanID,
				Digest:    digest,
				Source:    "stream",
				Status:    entry.Status,
				Signature: entry.Signature,
				Size:      size,
				Cached:    true,
				ScannedAt: entry.ScannedAt,
			}, nil
		}
	}

	start := time.Now()
	result, err := s.scanner.ScanStream(ctx, bytes.NewReader(data))
	if err != nil {
		return ScanReport{}, err
	}
	report := ScanReport{
		ScanID:    uuid.NewString(),
		Digest:    digest,
		Source:    "stream",
		Status:    result.Status.String(),
		Signature: result.Signature,
		Detail:    result.Message,
		Size:      size,
		ScannedAt: time.Now().UTC(),
	}
	observability.RecordScan(report.Source, report.Status, size, time.Since(start))

	// Errored verdicts are transient daemon conditions and are not cached.
	if s.cache != nil && result.Status != clamd.StatusError {
		entry := scancache.Entry{
			Status:    report.Status,
			Signature: report.Signature,
			ScanID:    report.ScanID,
			ScannedAt: report.ScannedAt,
		}
		if err := s.cache.Set(ctx, digest, entry); err != nil {
			s.log.Warn().Str("digest", digest).Err(err).Msg("cache store failed")
		}
	}

	s.publish(report)
	return report, nil
}

// scanPath asks the daemon to scan one of its own files. Path scans are
// not content-addressed, so the cache is not consulted.
func (s *Service) scanPath(ctx context.Context, path string) (ScanReport, error) {
	start := time.Now()
	result, err := s.scanner.ScanPath(ctx, path)
	if err != nil {
		return ScanReport{}, err
	}
	report := ScanReport{
		ScanID:    uuid.NewString(),
		Source:    "path",
		Status:    result.Status.String(),
		Signature: result.Signature,
		Detail:    result.Message,
		ScannedAt: time.Now().UTC(),
	}
	observability.RecordScan(report.Source, report.Status, 0, time.Since(start))
	s.publish(report)
	return report, nil
}

func (s *Service) publish(report ScanReport) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishVerdict(report); err != nil {
		observability.RecordVerdictEvent(report.Status, false)
		s.log.Warn().Str("scan_id", report.ScanID).Err(err).Msg("verdict publish failed")
		return
	}
	observability.RecordVerdictEvent(report.Status, true)
}
