package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHConfig carries everything needed to dial and authenticate an SSH
// connection. Loading these values from a profile/CLI flags is out of
// scope for the core (spec §1); this struct is what a resolved SyncConfig
// feeds into NewSSHSession.
type SSHConfig struct {
	Host           string
	Port           string
	User           string
	PrivateKeyPath string
	Password       string
	DialTimeout    time.Duration
}

// SSHSession is a concrete Session backed by a single golang.org/x/crypto/ssh
// client connection. A mutex guards access to the underlying *ssh.Client so
// scanner polling, batch transfers, and the keep-alive goroutine can share
// one control channel (spec §5's "shared resource policy"), released
// between chunks during long transfers so a heartbeat can interleave.
//
// Grounded on the teacher's internal/devsync/sshclient/client.go SSHClient
// (key-based ssh.ClientConfig, NewSession-per-call, persistent connection
// reuse).
type SSHSession struct {
	cfg    SSHConfig
	mu     sync.Mutex
	client *ssh.Client
}

// NewSSHSession dials and authenticates an SSH connection per cfg.
func NewSSHSession(ctx context.Context, cfg SSHConfig) (*SSHSession, error) {
	s := &SSHSession{cfg: cfg}
	if err := s.dial(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SSHSession) clientConfig() (*ssh.ClientConfig, error) {
	var auths []ssh.AuthMethod
	if s.cfg.PrivateKeyPath != "" {
		key, err := os.ReadFile(s.cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("transport: read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("transport: parse private key: %w", err)
		}
		auths = append(auths, ssh.PublicKeys(signer))
	}
	if s.cfg.Password != "" {
		auths = append(auths, ssh.Password(s.cfg.Password))
	}
	if len(auths) == 0 {
		return nil, fmt.Errorf("transport: no authentication method configured")
	}
	return &ssh.ClientConfig{
		User:            s.cfg.User,
		Auth:            auths,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         s.cfg.DialTimeout,
	}, nil
}

func (s *SSHSession) dial(ctx context.Context) error {
	clientCfg, err := s.clientConfig()
	if err != nil {
		return err
	}
	addr := net.JoinHostPort(s.cfg.Host, s.cfg.Port)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		return fmt.Errorf("transport: handshake %s: %w", addr, err)
	}
	s.client = ssh.NewClient(sshConn, chans, reqs)
	return nil
}

// Exec implements Session.
func (s *SSHSession) Exec(ctx context.Context, command string) (CommandResult, error) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return CommandResult{}, fmt.Errorf("transport: not connected")
	}

	session, err := client.NewSession()
	if err != nil {
		return CommandResult{}, fmt.Errorf("transport: new session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	errCh := make(chan error, 1)
	go func() { errCh <- session.Run(command) }()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return CommandResult{}, ctx.Err()
	case err := <-errCh:
		exitCode := 0
		if err != nil {
			if exitErr, ok := err.(*ssh.ExitError); ok {
				exitCode = exitErr.ExitStatus()
			} else {
				return CommandResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, fmt.Errorf("transport: exec %q: %w", command, err)
			}
		}
		return CommandResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), ExitCode: exitCode}, nil
	}
}

// Upload implements Session, streaming r to `cat > remotePath` on the
// remote host in fixed-size chunks so the shared-session mutex can be
// released between chunks (spec §5).
func (s *SSHSession) Upload(ctx context.Context, r io.Reader, remotePath string) error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return fmt.Errorf("transport: not connected")
	}

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("transport: new session: %w", err)
	}
	defer session.Close()

	stdin, err := session.StdinPipe()
	if err != nil {
		return fmt.Errorf("transport: stdin pipe: %w", err)
	}
	var stderr bytes.Buffer
	session.Stderr = &stderr

	if err := session.Start(fmt.Sprintf("cat > %s", shellQuote(remotePath))); err != nil {
		return fmt.Errorf("transport: start upload: %w", err)
	}

	copyErr := copyInChunks(ctx, stdin, r, &s.mu)
	stdin.Close()
	waitErr := session.Wait()
	if copyErr != nil {
		return fmt.Errorf("transport: upload copy: %w", copyErr)
	}
	if waitErr != nil {
		return fmt.Errorf("transport: upload remote command: %w (stderr: %s)", waitErr, stderr.String())
	}
	return nil
}

// Download implements Session, streaming `cat remotePath` to w.
func (s *SSHSession) Download(ctx context.Context, remotePath string, w io.Writer) error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return fmt.Errorf("transport: not connected")
	}

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("transport: new session: %w", err)
	}
	defer session.Close()

	stdout, err := session.StdoutPipe()
	if err != nil {
		return fmt.Errorf("transport: stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	session.Stderr = &stderr

	if err := session.Start(fmt.Sprintf("cat %s", shellQuote(remotePath))); err != nil {
		return fmt.Errorf("transport: start download: %w", err)
	}

	copyErr := copyOutChunks(ctx, w, stdout, &s.mu)
	waitErr := session.Wait()
	if copyErr != nil {
		return fmt.Errorf("transport: download copy: %w", copyErr)
	}
	if waitErr != nil {
		return fmt.Errorf("transport: download remote command: %w (stderr: %s)", waitErr, stderr.String())
	}
	return nil
}

const chunkSize = 256 * 1024

// copyInChunks copies r into w in bounded chunks, releasing mu between
// chunks so a concurrent heartbeat can acquire the shared session mutex
// (spec §5: "long transfers release the mutex only between chunks").
func copyInChunks(ctx context.Context, w io.Writer, r io.Reader, mu *sync.Mutex) error {
	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			mu.Lock()
			_, werr := w.Write(buf[:n])
			mu.Unlock()
			if werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func copyOutChunks(ctx context.Context, w io.Writer, r io.Reader, mu *sync.Mutex) error {
	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			mu.Lock()
			_, werr := w.Write(buf[:n])
			mu.Unlock()
			if werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Heartbeat implements Session via an SSH keepalive request, the idiomatic
// way to detect a dead connection without a full reconnect.
func (s *SSHSession) Heartbeat(ctx context.Context) error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return fmt.Errorf("transport: not connected")
	}
	_, _, err := client.SendRequest("keepalive@gosync", true, nil)
	if err != nil {
		return fmt.Errorf("transport: heartbeat: %w", err)
	}
	return nil
}

// Reconnect implements Session.
func (s *SSHSession) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
	s.mu.Unlock()
	return s.dial(ctx)
}

// Close implements Session.
func (s *SSHSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
