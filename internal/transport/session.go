// Package transport provides the abstract RemoteSession capability the
// sync engine consumes (spec §6) and a concrete SSH-backed
// implementation, grounded on the teacher's
// internal/devsync/sshclient/client.go key-based ssh.ClientConfig and
// persistent-session reuse.
package transport

import (
	"context"
	"io"
)

// CommandResult is the outcome of a single remote command execution.
type CommandResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Session is the abstract capability the sync engine core consumes for
// all remote interaction: execute a shell command, upload/download a byte
// stream to/from a path, heartbeat, and reconnect. The core never talks
// to golang.org/x/crypto/ssh directly — only to this interface — so it
// can be driven by fakes in unit tests.
type Session interface {
	// Exec runs command on the remote host and returns its captured
	// stdout/stderr and exit code. It does not itself retry; callers
	// needing retry-with-backoff use WithRetry.
	Exec(ctx context.Context, command string) (CommandResult, error)
	// Upload streams local bytes to a remote path.
	Upload(ctx context.Context, r io.Reader, remotePath string) error
	// Download streams a remote path's bytes to w.
	Download(ctx context.Context, remotePath string, w io.Writer) error
	// Heartbeat verifies the underlying connection is alive; it returns a
	// non-nil error when a disconnect is detected.
	Heartbeat(ctx context.Context) error
	// Reconnect tears down and re-establishes the underlying connection.
	Reconnect(ctx context.Context) error
	// Close releases all resources held by the session.
	Close() error
}
