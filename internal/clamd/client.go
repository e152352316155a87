package clamd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Defaults applied by Config.WithDefaults.
const (
	DefaultNetwork = "tcp"
	DefaultAddress = "127.0.0.1:3310"

	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 60 * time.Second
	DefaultWriteTimeout = 30 * time.Second

	DefaultMaxReplyBytes = 64 * 1024

	closeGrace = 2 * time.Second
)

// Config describes how the client reaches and talks to the daemon.
type Config struct {
	// Network is "tcp" or "unix".
	Network string
	// Address is host:port for tcp, a socket path for unix.
	Address string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// ChunkSize caps the INSTREAM chunk payload size.
	ChunkSize int
	// MaxReplyBytes bounds a single daemon reply.
	MaxReplyBytes int

	// Dialer overrides the transport; nil selects a net.Dialer with
	// DialTimeout applied.
	Dialer Dialer
	// Logger receives dispatch and wire-level trace logging; nil disables.
	Logger *zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		Network:       DefaultNetwork,
		Address:       DefaultAddress,
		DialTimeout:   DefaultDialTimeout,
		ReadTimeout:   DefaultReadTimeout,
		WriteTimeout:  DefaultWriteTimeout,
		ChunkSize:     DefaultChunkSize,
		MaxReplyBytes: DefaultMaxReplyBytes,
	}
}

// WithDefaults fills zero-valued fields and leaves set ones alone.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.Network) == "" {
		c.Network = def.Network
	}
	if strings.TrimSpace(c.Address) == "" {
		c.Address = def.Address
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = def.ChunkSize
	}
	if c.MaxReplyBytes <= 0 {
		c.MaxReplyBytes = def.MaxReplyBytes
	}
	return c
}

func (c Config) Validate() error {
	switch c.Network {
	case "tcp", "unix":
	default:
		return fmt.Errorf("%w: network %q", ErrInvalidArgument, c.Network)
	}
	if strings.TrimSpace(c.Address) == "" {
		return fmt.Errorf("%w: blank address", ErrInvalidArgument)
	}
	return nil
}

// sessionState tracks the client's position in the connection lifecycle.
type sessionState int

const (
	stateIdle      sessionState = iota // no connection
	stateConnected                     // dialed, session not yet started
	stateSession                       // IDSESSION active, commands may flow
)

// Client is a single-session daemon client. Concurrent callers are
// serialized onto one connection, and a connection lost to a transport
// fault is replaced on the next call. The zero value is not usable; build
// clients with New.
type Client struct {
	cfg    Config
	dialer Dialer
	log    zerolog.Logger

	// slot is a capacity-1 dispatch token. Holding it grants exclusive use
	// of conn, state, and closed.
	slot chan struct{}

	conn   *conn
	state  sessionState
	closed bool
}

// New builds a client. No connection is made until the first operation.
func New(cfg Config) *Client {
	cfg = cfg.WithDefaults()
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &net.Dialer{Timeout: cfg.DialTimeout}
	}
	return &Client{
		cfg:    cfg,
		dialer: dialer,
		log:    logger.With().Str("component", "clamd").Logger(),
		slot:   make(chan struct{}, 1),
	}
}

// Ping checks daemon liveness.
func (c *Client) Ping(ctx context.Context) error {
	cmd, err := newPingCommand()
	if err != nil {
		return err
	}
	reply, err := c.dispatch(ctx, cmd)
	if err != nil {
		return err
	}
	return cmd.parse(reply)
}

// Version reports the daemon build and signature database versions.
func (c *Client) Version(ctx context.Context) (Version, error) {
	cmd, err := newVersionCommand()
	if err != nil {
		return Version{}, err
	}
	reply, err := c.dispatch(ctx, cmd)
	if err != nil {
		return Version{}, err
	}
	return cmd.parse(reply)
}

// ScanStream sends data through INSTREAM and returns the daemon verdict.
// The reader is consumed exactly once, so a retry needs a fresh reader.
func (c *Client) ScanStream(ctx context.Context, data io.Reader) (ScanResult, error) {
	cmd, err := newInStreamCommand(data, c.cfg.ChunkSize)
	if err != nil {
		return ScanResult{}, err
	}
	reply, err := c.dispatch(ctx, cmd)
	if err != nil {
		return ScanResult{}, err
	}
	return cmd.parse(reply)
}

// ScanPath scans a path on the daemon's filesystem.
func (c *Client) ScanPath(ctx context.Context, path string) (ScanResult, error) {
	cmd, err := newScanCommand(path)
	if err != nil {
		return ScanResult{}, err
	}
	reply, err := c.dispatch(ctx, cmd)
	if err != nil {
		return ScanResult{}, err
	}
	return cmd.parse(reply)
}

// Close ends the session and releases the connection. It never fails and
// is safe to call more than once; END delivery is best effort.
func (c *Client) Close() error {
	c.slot <- struct{}{}
	defer func() { <-c.slot }()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn != nil && c.conn.alive && c.state == stateSession {
		if cmd, err := newEndCommand(); err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), closeGrace)
			_, _ = c.conn.exchange(ctx, cmd)
			cancel()
		}
	}
	c.teardown()
	c.log.Debug().Msg("client closed")
	return nil
}

// dispatch serializes command execution: one slot, one connection, one
// command in flight. A session is established or re-established on demand.
func (c *Client) dispatch(ctx context.Context, cmd Command) ([]byte, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}
	reply, err := c.conn.exchange(ctx, cmd)
	if err != nil {
		if c.conn != nil && !c.conn.alive {
			c.teardown()
		}
		var te *TransportError
		if errors.As(err, &te) {
			c.log.Error().Str("command", cmd.Name()).Err(err).Msg("exchange failed")
		}
		return nil, err
	}
	return reply, nil
}

// acquire takes the dispatch slot or gives up when ctx ends first. The
// closed check runs under the slot so Close cannot race a new dispatch.
func (c *Client) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case c.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if c.closed {
		<-c.slot
		return ErrClientClosed
	}
	return nil
}

func (c *Client) release() { <-c.slot }

// ensureSession brings the client to stateSession, redialing when the
// previous connection died. Failures along the way drop back to stateIdle.
func (c *Client) ensureSession(ctx context.Context) error {
	if c.conn != nil && !c.conn.alive {
		c.log.Debug().Str("address", c.cfg.Address).Msg("dropping dead connection")
		c.teardown()
	}
	if c.state == stateSession {
		return nil
	}

	nc, err := c.dialer.DialContext(ctx, c.cfg.Network, c.cfg.Address)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		terr := &TransportError{Op: "dial", Err: err}
		c.log.Error().Str("network", c.cfg.Network).Str("address", c.cfg.Address).Err(terr).Msg("dial failed")
		return terr
	}
	c.conn = newConn(nc, c.cfg, c.log)
	c.state = stateConnected

	cmd, err := newIDSessionCommand()
	if err != nil {
		c.teardown()
		return err
	}
	if _, err := c.conn.exchange(ctx, cmd); err != nil {
		c.teardown()
		return err
	}
	c.state = stateSession
	c.log.Debug().Str("network", c.cfg.Network).Str("address", c.cfg.Address).Msg("session started")
	return nil
}

func (c *Client) teardown() {
	if c.conn != nil {
		_ = c.conn.close()
		c.conn = nil
	}
	c.state = stateIdle
}
