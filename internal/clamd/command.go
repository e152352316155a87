package clamd

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Wire framing for the z-variant of the clamd protocol: every request is
// prefixed with 'z' and terminated with a NUL, and every reply is terminated
// with a NUL. These values are fixed by the daemon.
const (
	commandPrefix byte = 'z'
	terminator    byte = 0x00

	chunkLenBytes = 4
)

// Command names understood by this client. The daemon rejects anything it
// does not recognize, so the set is closed here as well.
const (
	namePing      = "PING"
	nameVersion   = "VERSION"
	nameInStream  = "INSTREAM"
	nameScan      = "SCAN"
	nameIDSession = "IDSESSION"
	nameEnd       = "END"
)

// Reply markers. Scan verdicts are classified by trailing marker; a reply
// leading with the error marker is a daemon-side failure for any command.
const (
	replyPong   = "PONG"
	markerOK    = "OK"
	markerFound = "FOUND"
	markerError = "ERROR"
)

// Command is one request the daemon can execute. Implementations are
// immutable; one value describes one in-flight request.
type Command interface {
	// Name reports the wire name of the command.
	Name() string

	// wantReply reports whether the daemon answers this command with a
	// terminator-delimited reply. Session control commands are fire-only.
	wantReply() bool

	// writeTo frames the command and any payload onto w. The frame must be
	// fully flushed before the caller starts waiting on a reply.
	writeTo(ctx context.Context, w io.Writer) error
}

// baseCommand carries the validated wire name shared by every variant.
type baseCommand struct {
	name string
}

// newCommand is the single construction path for command names. A blank
// name never reaches the wire.
func newCommand(name string) (baseCommand, error) {
	if strings.TrimSpace(name) == "" {
		return baseCommand{}, fmt.Errorf("%w: blank command name", ErrInvalidArgument)
	}
	return baseCommand{name: name}, nil
}

func (c baseCommand) Name() string { return c.name }

// frame renders the single-write request form: prefix, name, optional
// space-separated argument, terminator.
func (c baseCommand) frame(arg string) []byte {
	buf := make([]byte, 0, 2+len(c.name)+1+len(arg))
	buf = append(buf, commandPrefix)
	buf = append(buf, c.name...)
	if arg != "" {
		buf = append(buf, ' ')
		buf = append(buf, arg...)
	}
	buf = append(buf, terminator)
	return buf
}

// writeFrame flushes one fully-rendered frame in a single write so frames
// from concurrent clients can never interleave on a shared transport.
func writeFrame(ctx context.Context, w io.Writer, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

// replyText applies the prechecks shared by every reply-bearing command:
// the reply must be non-blank and must not lead with the daemon error
// marker.
func replyText(command string, reply []byte) (string, error) {
	body := strings.TrimSpace(string(reply))
	if body == "" {
		return "", &ProtocolError{Command: command, Message: "empty reply"}
	}
	if strings.HasPrefix(body, markerError) {
		return "", &ProtocolError{Command: command, Message: body}
	}
	return body, nil
}

// pingCommand probes daemon liveness. The daemon answers with a literal
// PONG token.
type pingCommand struct {
	baseCommand
}

func newPingCommand() (pingCommand, error) {
	base, err := newCommand(namePing)
	if err != nil {
		return pingCommand{}, err
	}
	return pingCommand{base}, nil
}

func (c pingCommand) wantReply() bool { return true }

func (c pingCommand) writeTo(ctx context.Context, w io.Writer) error {
	return writeFrame(ctx, w, c.frame(""))
}

func (c pingCommand) parse(reply []byte) error {
	body, err := replyText(c.name, reply)
	if err != nil {
		return err
	}
	if body != replyPong {
		return &ProtocolError{Command: c.name, Message: fmt.Sprintf("unexpected liveness reply %q", body)}
	}
	return nil
}

// idSessionCommand switches the connection into a persistent session. The
// daemon does not acknowledge it; success is the frame reaching the wire.
type idSessionCommand struct {
	baseCommand
}

func newIDSessionCommand() (idSessionCommand, error) {
	base, err := newCommand(nameIDSession)
	if err != nil {
		return idSessionCommand{}, err
	}
	return idSessionCommand{base}, nil
}

func (c idSessionCommand) wantReply() bool { return false }

func (c idSessionCommand) writeTo(ctx context.Context, w io.Writer) error {
	return writeFrame(ctx, w, c.frame(""))
}

// endCommand closes the session before the connection is released. Like
// idSessionCommand it is fire-only.
type endCommand struct {
	baseCommand
}

func newEndCommand() (endCommand, error) {
	base, err := newCommand(nameEnd)
	if err != nil {
		return endCommand{}, err
	}
	return endCommand{base}, nil
}

func (c endCommand) wantReply() bool { return false }

func (c endCommand) writeTo(ctx context.Context, w io.Writer) error {
	return writeFrame(ctx, w, c.frame(""))
}
