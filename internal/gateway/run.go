package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os/signal"
	"syscall"
	"time"
)

// Run blocks until signal shutdown.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

// Serve waits for the daemon, serves HTTP until ctx ends, then drains
// in-flight requests.
func (s *Service) Serve(ctx context.Context) error {
	if err := s.waitForDaemon(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()
	s.log.Info().Str("addr", s.cfg.ListenAddr).Str("service", s.cfg.ServiceName).Msg("gateway listening")

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	s.log.Info().Dur("grace", s.cfg.ShutdownGrace).Msg("gateway shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// waitForDaemon probes daemon liveness with exponential backoff so the
// gateway does not come up pointing at nothing.
func (s *Service) waitForDaemon(ctx context.Context) error {
	attempts := s.cfg.DaemonWaitAttempts
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for attempt := 1; attempt <= attempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := s.scanner.Ping(pingCtx)
		cancel()
		if err == nil {
			s.log.Info().Int("attempt", attempt).Msg("daemon reachable")
			return nil
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if attempt == attempts {
			return fmt.Errorf("daemon unreachable after %d attempts: %w", attempts, err)
		}
		delay := NextBackoffDelay(s.cfg.Backoff, attempt, rng)
		s.log.Warn().Int("attempt", attempt).Dur("retry_in", delay).Err(err).Msg("daemon not ready")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
