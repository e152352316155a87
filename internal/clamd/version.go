package clamd

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Version is the daemon's reported build version and signature database
// version, split out of the slash-separated VERSION reply.
type Version struct {
	Program  string
	Database string
}

func (v Version) String() string {
	return v.Program + "/" + v.Database
}

type versionCommand struct {
	baseCommand
}

func newVersionCommand() (versionCommand, error) {
	base, err := newCommand(nameVersion)
	if err != nil {
		return versionCommand{}, err
	}
	return versionCommand{base}, nil
}

func (c versionCommand) wantReply() bool { return true }

func (c versionCommand) writeTo(ctx context.Context, w io.Writer) error {
	return writeFrame(ctx, w, c.frame(""))
}

// parse splits the reply on '/'. The first token is the program version and
// the second the database version; both must be non-blank. Daemons append
// further tokens such as a build timestamp, which are ignored.
func (c versionCommand) parse(reply []byte) (Version, error) {
	body, err := replyText(c.name, reply)
	if err != nil {
		return Version{}, err
	}
	parts := strings.Split(body, "/")
	if len(parts) < 2 {
		return Version{}, &ProtocolError{Command: c.name, Message: fmt.Sprintf("malformed version reply %q", body)}
	}
	program := strings.TrimSpace(parts[0])
	database := strings.TrimSpace(parts[1])
	if program == "" || database == "" {
		return Version{}, &ProtocolError{Command: c.name, Message: fmt.Sprintf("malformed version reply %q", body)}
	}
	return Version{Program: program, Database: database}, nil
}
