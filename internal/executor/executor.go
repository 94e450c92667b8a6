package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gosync/internal/decider"
	"gosync/internal/fingerprint"
	"gosync/internal/progress"
	"gosync/internal/reporter"
	"gosync/internal/state"
	"gosync/internal/syncerr"
	"gosync/internal/transport"
)

// defaultHighWaterMark bounds the number of paths bundled into a single
// archive before the batch is split into roughly-equal sub-archives.
const defaultHighWaterMark = 2000

// Executor converts a decided batch of actions into the minimum number of
// network operations: one archive upload per PUSH batch, one archive
// download per PULL batch, one rm command per delete batch, and a
// per-path artifact pair per conflict.
//
// Grounded on the teacher's internal/devsync/sshclient/client.go
// UploadFile/SyncFile plumbing for the upload/download half of each batch,
// combined with this package's own archive.go (derived from
// internal/securestore/securestore.go's createTarGz, encryption stripped).
type Executor struct {
	Session       transport.Session
	State         *state.Store
	Progress      *progress.Store
	Reporter      reporter.Reporter
	LocalRoot     string
	RemoteRoot    string
	SessionID     string
	HighWaterMark int
}

func (e *Executor) highWaterMark() int {
	if e.HighWaterMark > 0 {
		return e.HighWaterMark
	}
	return defaultHighWaterMark
}

// Run executes actions in the phase order spec'd: conflicts first (so
// artifacts land before any same-run mutation near them), then PUSH, PULL,
// DELETE_REMOTE, DELETE_LOCAL. SKIP actions transfer nothing; any
// StateEntry drop they carry is still applied, and a SKIP that adopts a
// path both sides already agree on (it carries the local fingerprint and
// the path has no StateEntry yet) records that fingerprint as synced.
func (e *Executor) Run(ctx context.Context, actions []decider.Action) error {
	var conflicts, pushes, pulls, deleteRemote, deleteLocal []decider.Action

	for _, a := range actions {
		switch a.Kind {
		case decider.SKIP:
			if a.DropState {
				e.State.Remove(a.Path)
			} else if _, ok := e.State.Lookup(a.Path); !ok && a.Local != (fingerprint.Fingerprint{}) {
				e.State.Upsert(a.Path, a.Local)
			}
		case decider.Conflict:
			conflicts = append(conflicts, a)
		case decider.PUSH:
			pushes = append(pushes, a)
		case decider.PULL:
			pulls = append(pulls, a)
		case decider.DeleteRemote:
			deleteRemote = append(deleteRemote, a)
		case decider.DeleteLocal:
			deleteLocal = append(deleteLocal, a)
		}
	}

	if err := e.handleConflicts(ctx, conflicts); err != nil {
		return err
	}
	if err := e.runPushBatches(ctx, e.dropCompleted(pushes, "PUSH")); err != nil {
		return err
	}
	if err := e.runPullBatches(ctx, e.dropCompleted(pulls, "PULL")); err != nil {
		return err
	}
	if err := e.runDeleteRemote(ctx, e.dropCompleted(deleteRemote, "DELETE_REMOTE")); err != nil {
		return err
	}
	if err := e.runDeleteLocal(ctx, e.dropCompleted(deleteLocal, "DELETE_LOCAL")); err != nil {
		return err
	}
	return nil
}

// dropCompleted removes any action whose path was already recorded `done`
// for this exact action kind in the progress file a prior, crashed run
// left behind (or earlier in this run) — the resume-integration rule from
// spec §4.6.
func (e *Executor) dropCompleted(actions []decider.Action, kind string) []decider.Action {
	done := e.Progress.CompletedPaths(kind)
	if len(done) == 0 {
		return actions
	}
	out := actions[:0:0]
	for _, a := range actions {
		if done[a.Path] {
			continue
		}
		out = append(out, a)
	}
	return out
}

// handleConflicts downloads only the remote copy of each conflicting path
// and writes a sibling info file; the local file is never touched and the
// original path's state entry is left exactly as it was.
func (e *Executor) handleConflicts(ctx context.Context, conflicts []decider.Action) error {
	for _, a := range conflicts {
		if err := e.writeConflictArtifacts(ctx, a); err != nil {
			// A single conflict write is an isolated LocalError: degrade to a
			// warning and keep going rather than abort the whole session.
			reporter.Warn(e.Reporter, "conflict artifact for %s: %v", a.Path, err)
			_ = e.Progress.Record(a.Path, "CONFLICT", progress.StatusFailed)
			continue
		}
		reporter.Conflict(e.Reporter, a.Path)
		_ = e.Progress.Record(a.Path, "CONFLICT", progress.StatusDone)
	}
	return nil
}

func (e *Executor) writeConflictArtifacts(ctx context.Context, a decider.Action) error {
	token := time.Now().UTC().Format("20060102T150405Z")
	localPath := filepath.Join(e.LocalRoot, filepath.FromSlash(a.Path))
	remoteCopyPath := fmt.Sprintf("%s.remote.%s.conflict", localPath, token)
	infoPath := fmt.Sprintf("%s.%s.conflict-info", localPath, token)

	var buf bytes.Buffer
	if err := e.Session.Download(ctx, path.Join(e.RemoteRoot, a.Path), &buf); err != nil {
		return &syncerr.LocalError{Op: "download conflict copy", Err: err}
	}
	if err := os.WriteFile(remoteCopyPath, buf.Bytes(), 0o644); err != nil {
		return &syncerr.LocalError{Op: "write conflict copy", Err: err}
	}

	info := fmt.Sprintf(
		"conflict detected for %s\n\nlocal:  mtime=%s size=%d\nremote: mtime=%s size=%d\n\n"+
			"the remote version has been saved alongside this file as:\n  %s\n\n"+
			"merge manually, then re-run sync; the local original was left untouched.\n",
		a.Path,
		fingerprint.FormatMtime(a.Local.Mtime), a.Local.Size,
		fingerprint.FormatMtime(a.Remote.Mtime), a.Remote.Size,
		filepath.Base(remoteCopyPath),
	)
	if err := os.WriteFile(infoPath, []byte(info), 0o644); err != nil {
		return &syncerr.LocalError{Op: "write conflict info", Err: err}
	}
	return nil
}

// runPushBatches bundles pushes into one or more archives, uploads each,
// and asks the remote to extract and discard it.
func (e *Executor) runPushBatches(ctx context.Context, pushes []decider.Action) error {
	if len(pushes) == 0 {
		return nil
	}
	sort.Slice(pushes, func(i, j int) bool { return pushes[i].Path < pushes[j].Path })

	items := make([]BundleItem, len(pushes))
	for i, a := range pushes {
		items[i] = BundleItem{
			SrcPath:     filepath.Join(e.LocalRoot, filepath.FromSlash(a.Path)),
			ArchivePath: a.Path,
		}
	}

	for bi, batch := range splitBatches(items, e.highWaterMark()) {
		paths := batchPaths(batch)

		archive, err := buildTarGz(batch)
		if err != nil {
			e.failBatch(paths, "PUSH", err)
			return &syncerr.LocalError{Op: "build push archive", Err: err}
		}
		reporter.BatchStarted(e.Reporter, "PUSH", len(paths), int64(len(archive)))

		remotePath := e.remoteTempName("push", bi)
		if err := e.Session.Upload(ctx, bytes.NewReader(archive), remotePath); err != nil {
			e.failBatch(paths, "PUSH", err)
			return &syncerr.LocalError{Op: "upload push archive", Err: err}
		}

		extractCmd := fmt.Sprintf("cd %s && tar -xzf %s && rm -f %s",
			shellQuote(e.RemoteRoot), shellQuote(remotePath), shellQuote(remotePath))
		res, err := e.Session.Exec(ctx, extractCmd)
		if err != nil || res.ExitCode != 0 {
			rerr := &syncerr.RemoteError{Command: extractCmd, Stderr: string(res.Stderr), ExitCode: res.ExitCode}
			if err != nil {
				rerr.Stderr = err.Error()
			}
			e.failBatch(paths, "PUSH", rerr)
			reporter.BatchDone(e.Reporter, "PUSH", len(paths), rerr)
			return rerr
		}

		for _, a := range byPath(batch, pushes) {
			e.State.Upsert(a.Path, a.Local)
			_ = e.Progress.Record(a.Path, "PUSH", progress.StatusDone)
		}
		reporter.BatchDone(e.Reporter, "PUSH", len(paths), nil)
	}
	return nil
}

// runPullBatches asks the remote to bundle PULL paths into a temp archive,
// downloads it, and extracts it locally.
func (e *Executor) runPullBatches(ctx context.Context, pulls []decider.Action) error {
	if len(pulls) == 0 {
		return nil
	}
	sort.Slice(pulls, func(i, j int) bool { return pulls[i].Path < pulls[j].Path })

	allPaths := make([]string, len(pulls))
	for i, a := range pulls {
		allPaths[i] = a.Path
	}

	for bi, batch := range splitByPathCount(allPaths, e.highWaterMark()) {
		reporter.BatchStarted(e.Reporter, "PULL", len(batch), 0)

		remotePath := e.remoteTempName("pull", bi)
		quoted := make([]string, len(batch))
		for i, p := range batch {
			quoted[i] = shellQuote(p)
		}
		bundleCmd := fmt.Sprintf("cd %s && tar -czf %s %s",
			shellQuote(e.RemoteRoot), shellQuote(remotePath), strings.Join(quoted, " "))
		res, err := e.Session.Exec(ctx, bundleCmd)
		if err != nil || res.ExitCode != 0 {
			rerr := &syncerr.RemoteError{Command: bundleCmd, Stderr: string(res.Stderr), ExitCode: res.ExitCode}
			if err != nil {
				rerr.Stderr = err.Error()
			}
			e.failBatch(batch, "PULL", rerr)
			reporter.BatchDone(e.Reporter, "PULL", len(batch), rerr)
			return rerr
		}

		var buf bytes.Buffer
		if err := e.Session.Download(ctx, remotePath, &buf); err != nil {
			e.failBatch(batch, "PULL", err)
			return &syncerr.LocalError{Op: "download pull archive", Err: err}
		}
		_, _ = e.Session.Exec(ctx, fmt.Sprintf("rm -f %s", shellQuote(remotePath)))

		if _, err := extractTarGz(&buf, e.LocalRoot); err != nil {
			e.failBatch(batch, "PULL", err)
			return &syncerr.LocalError{Op: "extract pull archive", Err: err}
		}

		for _, a := range pulls {
			if !containsPath(batch, a.Path) {
				continue
			}
			e.State.Upsert(a.Path, a.Remote)
			_ = e.Progress.Record(a.Path, "PULL", progress.StatusDone)
		}
		reporter.BatchDone(e.Reporter, "PULL", len(batch), nil)
	}
	return nil
}

// runDeleteRemote issues a single remote `rm -f` per batch listing every
// path, executed after all transfers of the session have completed.
func (e *Executor) runDeleteRemote(ctx context.Context, deletes []decider.Action) error {
	if len(deletes) == 0 {
		return nil
	}
	paths := actionPaths(deletes)
	reporter.BatchStarted(e.Reporter, "DELETE_REMOTE", len(paths), 0)

	quoted := make([]string, len(paths))
	for i, p := range paths {
		quoted[i] = shellQuote(path.Join(e.RemoteRoot, p))
	}
	cmd := fmt.Sprintf("rm -f %s", strings.Join(quoted, " "))
	res, err := e.Session.Exec(ctx, cmd)
	if err != nil || res.ExitCode != 0 {
		rerr := &syncerr.RemoteError{Command: cmd, Stderr: string(res.Stderr), ExitCode: res.ExitCode}
		if err != nil {
			rerr.Stderr = err.Error()
		}
		e.failBatch(paths, "DELETE_REMOTE", rerr)
		reporter.BatchDone(e.Reporter, "DELETE_REMOTE", len(paths), rerr)
		return rerr
	}
	for _, p := range paths {
		e.State.Remove(p)
		_ = e.Progress.Record(p, "DELETE_REMOTE", progress.StatusDone)
	}
	reporter.BatchDone(e.Reporter, "DELETE_REMOTE", len(paths), nil)
	return nil
}

// runDeleteLocal removes each path from the local root. Local deletes have
// no single-command batching equivalent, but are still reported as one
// logical batch.
func (e *Executor) runDeleteLocal(ctx context.Context, deletes []decider.Action) error {
	_ = ctx
	if len(deletes) == 0 {
		return nil
	}
	paths := actionPaths(deletes)
	reporter.BatchStarted(e.Reporter, "DELETE_LOCAL", len(paths), 0)

	for _, p := range paths {
		full := filepath.Join(e.LocalRoot, filepath.FromSlash(p))
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			lerr := &syncerr.LocalError{Op: "delete local file", Err: err}
			e.failBatch([]string{p}, "DELETE_LOCAL", lerr)
			reporter.BatchDone(e.Reporter, "DELETE_LOCAL", len(paths), lerr)
			return lerr
		}
		e.State.Remove(p)
		_ = e.Progress.Record(p, "DELETE_LOCAL", progress.StatusDone)
	}
	reporter.BatchDone(e.Reporter, "DELETE_LOCAL", len(paths), nil)
	return nil
}

func (e *Executor) failBatch(paths []string, kind string, err error) {
	for _, p := range paths {
		_ = e.Progress.Record(p, kind, progress.StatusFailed)
	}
	reporter.Error(e.Reporter, err)
}

func (e *Executor) remoteTempName(kind string, batchIndex int) string {
	if batchIndex == 0 {
		return path.Join("/tmp", fmt.Sprintf("sync_%s_%s.tar.gz", kind, e.SessionID))
	}
	return path.Join("/tmp", fmt.Sprintf("sync_%s_%s_%d.tar.gz", kind, e.SessionID, batchIndex))
}

func batchPaths(items []BundleItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ArchivePath
	}
	return out
}

func actionPaths(actions []decider.Action) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = a.Path
	}
	sort.Strings(out)
	return out
}

func byPath(batch []BundleItem, actions []decider.Action) []decider.Action {
	want := make(map[string]bool, len(batch))
	for _, it := range batch {
		want[it.ArchivePath] = true
	}
	var out []decider.Action
	for _, a := range actions {
		if want[a.Path] {
			out = append(out, a)
		}
	}
	return out
}

func containsPath(paths []string, p string) bool {
	for _, x := range paths {
		if x == p {
			return true
		}
	}
	return false
}

// splitByPathCount partitions a path list the same way splitBatches
// partitions BundleItems, for the PULL side where no local file exists yet
// to build a BundleItem from.
func splitByPathCount(paths []string, highWaterMark int) [][]string {
	if highWaterMark <= 0 || len(paths) <= highWaterMark {
		return [][]string{paths}
	}
	n := (len(paths) + highWaterMark - 1) / highWaterMark
	batches := make([][]string, 0, n)
	size := (len(paths) + n - 1) / n
	for i := 0; i < len(paths); i += size {
		end := i + size
		if end > len(paths) {
			end = len(paths)
		}
		batches = append(batches, paths[i:end])
	}
	return batches
}

// shellQuote escapes single quotes for safe inclusion in a single-quoted
// shell argument. Grounded on the identical helper duplicated across the
// teacher's remote-command construction sites.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
