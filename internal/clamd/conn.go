package clamd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
)

// Dialer opens the raw stream to the daemon. *net.Dialer satisfies it;
// tests substitute in-memory transports.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

var _ Dialer = (*net.Dialer)(nil)

// conn is one established daemon connection. It is not safe for concurrent
// use; Client serializes access to it.
type conn struct {
	nc net.Conn
	br *bufio.Reader

	readTimeout  time.Duration
	writeTimeout time.Duration
	maxReply     int

	alive bool
	log   zerolog.Logger
}

func newConn(nc net.Conn, cfg Config, log zerolog.Logger) *conn {
	return &conn{
		nc:           nc,
		br:           bufio.NewReader(nc),
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
		maxReply:     cfg.MaxReplyBytes,
		alive:        true,
		log:          log,
	}
}

// exchange writes one command frame and, when the command expects one,
// reads one terminator-delimited reply. Any failure leaves the stream in an
// unknown protocol state, so the connection is marked dead and the caller
// redials. Cancellation is mapped back to the context error.
func (c *conn) exchange(ctx context.Context, cmd Command) ([]byte, error) {
	if !c.alive {
		return nil, &TransportError{Op: "write", Err: errConnDead}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.nc.SetDeadline(time.Time{}); err != nil {
		c.alive = false
		return nil, &TransportError{Op: "deadline", Err: err}
	}

	// Cancellation unblocks in-flight reads and writes by expiring the
	// connection deadline.
	stop := context.AfterFunc(ctx, func() {
		_ = c.nc.SetDeadline(time.Now())
	})
	defer stop()

	if err := cmd.writeTo(ctx, connWriter{nc: c.nc, timeout: c.writeTimeout}); err != nil {
		c.alive = false
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		return nil, err
	}
	if !cmd.wantReply() {
		c.log.Trace().Str("command", cmd.Name()).Msg("frame flushed")
		return nil, nil
	}

	reply, err := c.readReply(cmd.Name())
	if err != nil {
		c.alive = false
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}
		return nil, err
	}
	c.log.Trace().Str("command", cmd.Name()).Int("reply_bytes", len(reply)).Msg("exchange complete")
	return reply, nil
}

// readReply accumulates bytes until the terminator, bounded by maxReply. A
// stream that closes or stalls mid-reply is a transport fault; a stream
// that exceeds the bound without a terminator is a protocol fault.
func (c *conn) readReply(command string) ([]byte, error) {
	if c.readTimeout > 0 {
		if err := c.nc.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return nil, &TransportError{Op: "read", Err: err}
		}
	}
	var reply []byte
	for {
		part, err := c.br.ReadSlice(terminator)
		reply = append(reply, part...)
		if err == nil {
			reply = reply[:len(reply)-1]
			if len(reply) > c.maxReply {
				return nil, &ProtocolError{Command: command, Message: fmt.Sprintf("reply exceeds %d bytes", c.maxReply)}
			}
			return reply, nil
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			if len(reply) > c.maxReply {
				return nil, &ProtocolError{Command: command, Message: fmt.Sprintf("reply exceeds %d bytes", c.maxReply)}
			}
			continue
		}
		return nil, &TransportError{Op: "read", Err: err}
	}
}

func (c *conn) close() error {
	c.alive = false
	return c.nc.Close()
}

// connWriter refreshes the write deadline ahead of every write so long
// chunk sequences do not trip a deadline armed for a single frame.
type connWriter struct {
	nc      net.Conn
	timeout time.Duration
}

func (w connWriter) Write(p []byte) (int, error) {
	if w.timeout > 0 {
		if err := w.nc.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
			return 0, err
		}
	}
	return w.nc.Write(p)
}
