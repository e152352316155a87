package clamd

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DefaultChunkSize is the INSTREAM chunk payload size used when the
// configuration does not set one.
const DefaultChunkSize = 2048

// ScanStatus is the three-way verdict the daemon attaches to a scan reply.
type ScanStatus int

const (
	StatusClean ScanStatus = iota
	StatusInfected
	StatusError
)

func (s ScanStatus) String() string {
	switch s {
	case StatusClean:
		return "clean"
	case StatusInfected:
		return "infected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// ScanResult is the parsed verdict for one scan target. Signature is set
// only for infected verdicts and Message only for daemon-side scan errors.
type ScanResult struct {
	Status    ScanStatus
	Signature string
	Message   string
}

func (r ScanResult) Clean() bool    { return r.Status == StatusClean }
func (r ScanResult) Infected() bool { return r.Status == StatusInfected }

// parseScanReply classifies a scan verdict by trailing marker. The daemon
// formats verdicts as "<target>: <detail> MARKER"; the target prefix is
// stripped, the detail is kept.
func parseScanReply(command string, reply []byte) (ScanResult, error) {
	body, err := replyText(command, reply)
	if err != nil {
		return ScanResult{}, err
	}
	switch {
	case strings.HasSuffix(body, markerFound):
		detail := strings.TrimSpace(strings.TrimSuffix(body, markerFound))
		if i := strings.LastIndex(detail, ": "); i >= 0 {
			detail = detail[i+2:]
		}
		detail = strings.TrimSpace(detail)
		if detail == "" {
			return ScanResult{}, &ProtocolError{Command: command, Message: fmt.Sprintf("missing signature in reply %q", body)}
		}
		return ScanResult{Status: StatusInfected, Signature: detail}, nil
	case strings.HasSuffix(body, markerOK):
		return ScanResult{Status: StatusClean}, nil
	case strings.HasSuffix(body, markerError):
		detail := strings.TrimSpace(strings.TrimSuffix(body, markerError))
		return ScanResult{Status: StatusError, Message: detail}, nil
	default:
		return ScanResult{}, &ProtocolError{Command: command, Message: fmt.Sprintf("unrecognized scan reply %q", body)}
	}
}

// scanCommand asks the daemon to scan a path on its own filesystem. The
// path is passed through verbatim; it names a daemon-side file, not a
// client-side one.
type scanCommand struct {
	baseCommand
	path string
}

func newScanCommand(path string) (scanCommand, error) {
	base, err := newCommand(nameScan)
	if err != nil {
		return scanCommand{}, err
	}
	if strings.TrimSpace(path) == "" {
		return scanCommand{}, fmt.Errorf("%w: blank scan path", ErrInvalidArgument)
	}
	return scanCommand{baseCommand: base, path: path}, nil
}

func (c scanCommand) wantReply() bool { return true }

func (c scanCommand) writeTo(ctx context.Context, w io.Writer) error {
	return writeFrame(ctx, w, c.frame(c.path))
}

func (c scanCommand) parse(reply []byte) (ScanResult, error) {
	return parseScanReply(c.name, reply)
}

// inStreamCommand streams caller data to the daemon in big-endian
// length-prefixed chunks, terminated by a zero-length chunk. The data
// reader is consumed exactly once.
type inStreamCommand struct {
	baseCommand
	data      io.Reader
	chunkSize int
}

func newInStreamCommand(data io.Reader, chunkSize int) (inStreamCommand, error) {
	base, err := newCommand(nameInStream)
	if err != nil {
		return inStreamCommand{}, err
	}
	if data == nil {
		return inStreamCommand{}, fmt.Errorf("%w: nil data stream", ErrInvalidArgument)
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return inStreamCommand{baseCommand: base, data: data, chunkSize: chunkSize}, nil
}

func (c inStreamCommand) wantReply() bool { return true }

// writeTo sends the command frame, then the chunk sequence. Each chunk is a
// single write of prefix plus payload so a chunk can never be split by a
// concurrent writer. Cancellation is honored at chunk boundaries.
func (c inStreamCommand) writeTo(ctx context.Context, w io.Writer) error {
	if err := writeFrame(ctx, w, c.frame("")); err != nil {
		return err
	}
	buf := make([]byte, chunkLenBytes+c.chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := io.ReadFull(c.data, buf[chunkLenBytes:])
		if n > 0 {
			binary.BigEndian.PutUint32(buf[:chunkLenBytes], uint32(n))
			if _, werr := w.Write(buf[:chunkLenBytes+n]); werr != nil {
				return &TransportError{Op: "write", Err: werr}
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
				break
			}
			return fmt.Errorf("read scan data: %w", rerr)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var end [chunkLenBytes]byte
	if _, err := w.Write(end[:]); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

func (c inStreamCommand) parse(reply []byte) (ScanResult, error) {
	return parseScanReply(c.name, reply)
}
