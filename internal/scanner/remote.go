package scanner

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gosync/internal/fingerprint"
	"gosync/internal/ignore"
	"gosync/internal/transport"
)

// Sentinel is the terminal line appended to the remote scan's output file
// once the walk completes.
const Sentinel = "SCAN_DONE"

// ErrScanTimeout is returned when the sentinel does not appear before the
// configured poll timeout. Per spec §4.4.2, this does not kill the
// detached remote process — it may still be producing output — and is
// retried by the caller after reconnecting.
type ErrScanTimeout struct {
	RemotePath string
	Timeout    time.Duration
}

func (e *ErrScanTimeout) Error() string {
	return fmt.Sprintf("scanner: remote scan did not reach sentinel within %s (output: %s)", e.Timeout, e.RemotePath)
}

// RemoteScanner drives the remote side of the two-phase async scan
// protocol: Start launches one detached remote shell command that walks
// remoteRoot once and writes TSV lines to a session-unique temp file,
// terminated by Sentinel; Poll repeatedly reads that file until the
// sentinel appears or the timeout elapses.
//
// Grounded on the teacher's internal/devsync/watcher.go remote-command
// construction idiom (shellEscape, OS-aware path joins, the
// "bash -c '... & echo PID && wait'" detachment idiom) and its
// RunCommandWithStream/backoff retry loop, adapted from "stream a
// long-running watch command" to "poll a bounded scan's sentinel-
// terminated output".
type RemoteScanner struct {
	Session    transport.Session
	RemoteRoot string
	TempPath   string // e.g. /tmp/sync_scan_<uuid>.tsv.gz
	Matcher    ignore.Matcher
}

// Start issues the one remote command that launches the detached scan
// process. It returns once the background process has been launched
// (the command itself backgrounds and disowns its child, then exits).
func (s *RemoteScanner) Start(ctx context.Context) error {
	cmd := s.buildScanCommand()
	res, err := s.Session.Exec(ctx, cmd)
	if err != nil {
		return fmt.Errorf("scanner: starting remote scan: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("scanner: remote scan launch exited %d: %s", res.ExitCode, res.Stderr)
	}
	return nil
}

// buildScanCommand constructs the detached walk+gzip command. The walk
// itself uses POSIX find with -printf so it emits exactly
// "relative/path\tmtime\tsize" per regular file, pre-pruning the heavy
// subtrees the ignore matcher names; find's own NUL-free output is piped
// through gzip so the temp file matches the spec's .tsv.gz naming.
func (s *RemoteScanner) buildScanCommand() string {
	prune := ""
	if s.Matcher != nil {
		args := s.Matcher.RemotePruneArgs()
		if len(args) > 0 {
			prune = "\\( " + strings.Join(args, " ") + " -false \\) -o "
		}
	}
	walk := fmt.Sprintf(
		"cd %s && find . %s-type f -printf '%%P\\t%%T@\\t%%s\\n'",
		shellEscape(s.RemoteRoot), prune,
	)
	script := fmt.Sprintf(
		"(%s | gzip > %s; echo %s | gzip >> %s) >/tmp/sync_scan.log 2>&1 < /dev/null &\ndisown\necho SCAN_LAUNCHED",
		walk, shellEscape(s.TempPath), Sentinel, shellEscape(s.TempPath),
	)
	return fmt.Sprintf("nohup bash -c %s", shellEscape(script))
}

// Poll reads the remote temp file every interval until the sentinel line
// appears or timeout elapses, decompressing gzip as it reads. A read that
// fails (for example while the transport is down) counts as a poll that
// did not see the sentinel, so polling continues once the session is
// restored. On timeout it returns *ErrScanTimeout; the background process
// is left running.
func (s *RemoteScanner) Poll(ctx context.Context, interval, timeout time.Duration) ([]Entry, error) {
	deadline := time.Now().Add(timeout)
	for {
		entries, done, err := s.readOnce(ctx)
		if err == nil && done {
			return entries, nil
		}
		if time.Now().After(deadline) {
			return nil, &ErrScanTimeout{RemotePath: s.TempPath, Timeout: timeout}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// readOnce reads and decompresses the current contents of the remote
// scan output file and reports whether the sentinel line has appeared.
func (s *RemoteScanner) readOnce(ctx context.Context) ([]Entry, bool, error) {
	var buf bytes.Buffer
	cmd := fmt.Sprintf("cat %s 2>/dev/null | gunzip -c 2>/dev/null", shellEscape(s.TempPath))
	res, err := s.Session.Exec(ctx, cmd)
	if err != nil {
		return nil, false, fmt.Errorf("scanner: polling remote scan: %w", err)
	}
	buf.Write(res.Stdout)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, false, nil
	}
	if lines[len(lines)-1] != Sentinel {
		return nil, false, nil
	}

	entries := make([]Entry, 0, len(lines)-1)
	for _, line := range lines[:len(lines)-1] {
		e, parseErr := parseRemoteLine(line)
		if parseErr != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, true, nil
}

func parseRemoteLine(line string) (Entry, error) {
	fields := strings.SplitN(line, "\t", 3)
	if len(fields) != 3 {
		return Entry{}, fmt.Errorf("scanner: malformed remote scan line %q", line)
	}
	mtime, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Entry{}, err
	}
	size, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Path: fields[0], FP: fpFromParts(mtime, size)}, nil
}

// fpFromParts builds a Fingerprint from the raw epoch-seconds mtime and
// size fields carried in a remote scan line.
func fpFromParts(mtime float64, size int64) fingerprint.Fingerprint {
	return fingerprint.Fingerprint{Mtime: mtime, Size: size}
}

// Cleanup removes the remote temp file; best-effort per spec §4.4.2.
func (s *RemoteScanner) Cleanup(ctx context.Context) {
	_, _ = s.Session.Exec(ctx, fmt.Sprintf("rm -f %s", shellEscape(s.TempPath)))
}

// shellEscape escapes single quotes for safe inclusion in single-quoted
// shell strings. Grounded on the identical helper in the teacher's
// internal/devsync/watcher.go.
func shellEscape(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
