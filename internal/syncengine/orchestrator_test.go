package syncengine

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"gosync/internal/config"
	"gosync/internal/reporter"
	"gosync/internal/syncerr"
	"gosync/internal/transport"
)

// fakeSession is a scripted transport.Session double driving a full
// orchestrator run without a real SSH connection: Exec recognizes the
// handful of remote commands the scanner/executor issue and answers each
// from fixed scripted state.
type remoteStat struct {
	mtime float64
	size  int64
}

type fakeSession struct {
	remoteFiles map[string]remoteStat // relative path -> observed (mtime, size)
	execLog     []string
	uploaded    map[string][]byte
}

var _ transport.Session = (*fakeSession)(nil)

func newFakeSession() *fakeSession {
	return &fakeSession{remoteFiles: map[string]remoteStat{}, uploaded: map[string][]byte{}}
}

func (f *fakeSession) Exec(_ context.Context, command string) (transport.CommandResult, error) {
	f.execLog = append(f.execLog, command)

	switch {
	case strings.Contains(command, "find /tmp"):
		return transport.CommandResult{ExitCode: 0}, nil
	case strings.Contains(command, "nohup bash"):
		return transport.CommandResult{ExitCode: 0}, nil
	case strings.HasPrefix(command, "cat "):
		return transport.CommandResult{Stdout: f.remoteScanGzip(), ExitCode: 0}, nil
	case strings.Contains(command, "tar -xzf"):
		return transport.CommandResult{ExitCode: 0}, nil
	case strings.HasPrefix(command, "rm -f"):
		return transport.CommandResult{ExitCode: 0}, nil
	default:
		return transport.CommandResult{ExitCode: 0}, nil
	}
}

// remoteScanGzip renders remoteFiles as the gzip'd sentinel-terminated TSV
// the RemoteScanner expects to read back.
func (f *fakeSession) remoteScanGzip() []byte {
	var b strings.Builder
	for path, st := range f.remoteFiles {
		fmt.Fprintf(&b, "%s\t%s\t%d\n", path, strconv.FormatFloat(st.mtime, 'f', -1, 64), st.size)
	}
	b.WriteString("SCAN_DONE\n")

	var out strings.Builder
	w := gzip.NewWriter(&stringWriter{&out})
	_, _ = io.WriteString(w, b.String())
	_ = w.Close()
	return []byte(out.String())
}

type stringWriter struct{ b *strings.Builder }

func (s *stringWriter) Write(p []byte) (int, error) { return s.b.Write(p) }

func (f *fakeSession) Upload(_ context.Context, r io.Reader, remotePath string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.uploaded[remotePath] = data
	return nil
}

func (f *fakeSession) Download(context.Context, string, io.Writer) error { return nil }
func (f *fakeSession) Heartbeat(context.Context) error                   { return nil }
func (f *fakeSession) Reconnect(context.Context) error                   { return nil }
func (f *fakeSession) Close() error                                      { return nil }

func newTestConfig(t *testing.T, localRoot string) *config.SyncConfig {
	t.Helper()
	return &config.SyncConfig{
		LocalRoot:       localRoot,
		RemoteRoot:      "/srv/app",
		Server:          "example.com",
		Port:            22,
		Username:        "deploy",
		ChangeThreshold: 180 * time.Second,
		PollInterval:    2 * time.Millisecond,
		PollTimeout:     200 * time.Millisecond,
	}
}

func TestRunPushesLocalOnlyFile(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	sess := newFakeSession()
	var events []string
	rep := reporterFunc(func(event string, _ reporter.Fields) { events = append(events, event) })

	o := &Orchestrator{Transport: sess, Config: newTestConfig(t, root), Reporter: rep}
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(sess.uploaded) != 1 {
		t.Fatalf("expected exactly one uploaded push archive, got %d", len(sess.uploaded))
	}

	data, err := os.ReadFile(filepath.Join(root, ".sync_state.csv"))
	if err != nil {
		t.Fatalf("expected state file written: %v", err)
	}
	if !strings.Contains(string(data), "a.txt") {
		t.Fatalf("expected a.txt recorded in state, got %q", data)
	}

	if _, err := os.Stat(filepath.Join(root, ".sync_progress.json")); !os.IsNotExist(err) {
		t.Fatalf("expected progress file cleared on clean completion, stat err=%v", err)
	}

	var sawSessionDone bool
	for _, e := range events {
		if e == reporter.EventSessionDone {
			sawSessionDone = true
		}
	}
	if !sawSessionDone {
		t.Fatal("expected a session_done event")
	}
}

func TestRunSkipsAlreadySyncedFileBothSidesAgree(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "same.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	mtime := float64(info.ModTime().UnixNano()) / 1e9

	sess := newFakeSession()
	sess.remoteFiles["same.txt"] = remoteStat{mtime: mtime, size: info.Size()}

	o := &Orchestrator{Transport: sess, Config: newTestConfig(t, root), Reporter: &discardReporter{}}
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sess.uploaded) != 0 {
		t.Fatalf("expected no upload for a path both sides already agree on, got %d", len(sess.uploaded))
	}
}

func TestRunDryRunMakesNoRemoteMutation(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	sess := newFakeSession()
	cfg := newTestConfig(t, root)
	cfg.DryRun = true

	o := &Orchestrator{Transport: sess, Config: cfg, Reporter: &discardReporter{}}
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sess.uploaded) != 0 {
		t.Fatalf("expected dry run to upload nothing, got %d", len(sess.uploaded))
	}
}

// TestRunForceBypassesStaleProgressFile asserts --force removes a leftover
// progress file before the executor gets a chance to treat its paths as
// already done, per spec §4.3.
func TestRunForceBypassesStaleProgressFile(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	stale := map[string]interface{}{
		"session": "stale-session",
		"started": time.Now().UTC(),
		"entries": map[string]interface{}{
			"a.txt": map[string]interface{}{"action": "PUSH", "status": "done", "ts": time.Now().UTC()},
		},
	}
	data, err := json.Marshal(stale)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, ".sync_progress.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}

	sess := newFakeSession()
	cfg := newTestConfig(t, root)
	cfg.Force = true

	o := &Orchestrator{Transport: sess, Config: cfg, Reporter: &discardReporter{}}
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(sess.uploaded) != 1 {
		t.Fatalf("expected --force to bypass the stale progress file and still upload, got %d uploads", len(sess.uploaded))
	}
}

// TestWrapTransportErrEscalatesExhaustedRetries asserts a WithRetry call
// whose budget runs out surfaces as syncerr.FatalTransportError, per spec
// §7's "TransportError escalates to FatalTransportError after retry budget
// exhausted".
func TestWrapTransportErrEscalatesExhaustedRetries(t *testing.T) {
	base := errors.New("dial failed")
	retryErr := transport.WithRetry(context.Background(), transport.RetryPolicy{
		MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond,
	}, func() error { return base })

	wrapped := wrapTransportErr(retryErr)
	var fatal *syncerr.FatalTransportError
	if !errors.As(wrapped, &fatal) {
		t.Fatalf("expected FatalTransportError, got %v (%T)", wrapped, wrapped)
	}
	if !errors.Is(wrapped, base) {
		t.Fatalf("expected wrapped error to unwrap to the original cause, got %v", wrapped)
	}
}

// TestWrapTransportErrKeepsPlainTransportErrorOnImmediateFailure asserts a
// non-retriable immediate failure is NOT escalated to FatalTransportError,
// since its retry budget was never actually exhausted.
func TestWrapTransportErrKeepsPlainTransportErrorOnImmediateFailure(t *testing.T) {
	sentinel := errors.New("permission denied")
	retryErr := transport.WithRetry(context.Background(), transport.RetryPolicy{
		MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond,
		Retriable: func(error) bool { return false },
	}, func() error { return sentinel })

	wrapped := wrapTransportErr(retryErr)
	var fatal *syncerr.FatalTransportError
	if errors.As(wrapped, &fatal) {
		t.Fatalf("expected a plain TransportError for an immediate non-retriable failure, got FatalTransportError")
	}
	var plain *syncerr.TransportError
	if !errors.As(wrapped, &plain) {
		t.Fatalf("expected TransportError, got %v (%T)", wrapped, wrapped)
	}
}

type reporterFunc func(event string, fields reporter.Fields)

func (f reporterFunc) Emit(event string, fields reporter.Fields) { f(event, fields) }

type discardReporter struct{}

func (discardReporter) Emit(string, reporter.Fields) {}
