package syncengine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"gosync/internal/config"
	"gosync/internal/decider"
	"gosync/internal/executor"
	"gosync/internal/fingerprint"
	"gosync/internal/ignore"
	"gosync/internal/progress"
	"gosync/internal/reporter"
	"gosync/internal/scanner"
	"gosync/internal/state"
	"gosync/internal/syncerr"
	"gosync/internal/transport"
)

// heartbeatInterval is how often the orchestrator checks the remote
// session is alive while it has work in flight, per spec §4.7.
const heartbeatInterval = 30 * time.Second

// Orchestrator drives one Session end to end: scan, decide, execute,
// finalize. It exclusively owns the state store, progress store, and the
// session's remote temp files for its lifetime.
type Orchestrator struct {
	Transport transport.Session
	Config    *config.SyncConfig
	Reporter  reporter.Reporter
	// Retry overrides transport.DefaultRetryPolicy when non-zero, for
	// tests that want a tighter budget than 6 attempts / 30s cap.
	Retry transport.RetryPolicy
}

func (o *Orchestrator) retryPolicy() transport.RetryPolicy {
	if o.Retry.MaxAttempts > 0 {
		return o.Retry
	}
	return transport.DefaultRetryPolicy
}

func (o *Orchestrator) warn(format string, args ...interface{}) {
	reporter.Warn(o.Reporter, format, args...)
}

func (o *Orchestrator) enterPhase(p Phase) {
	reporter.Warn(o.Reporter, "phase: %s", p)
}

// wrapTransportErr classifies a transport-layer failure into the syncerr
// taxonomy: a retry budget exhausted by WithRetry escalates to
// FatalTransportError per spec §7, anything else (a non-retriable
// immediate failure, a cancelled context) stays a plain TransportError.
func wrapTransportErr(err error) error {
	var exhausted *transport.ErrRetriesExhausted
	if errors.As(err, &exhausted) {
		return &syncerr.FatalTransportError{Err: exhausted.Err}
	}
	return &syncerr.TransportError{Err: err}
}

// fatalHolder lets the background keep-alive goroutine hand a fatal error
// back to Run after cancelling the work context, since Run's own error
// return only sees ctx.Err() once the cancellation has propagated.
type fatalHolder struct {
	mu  sync.Mutex
	err error
}

func (f *fatalHolder) set(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err == nil {
		f.err = err
	}
}

func (f *fatalHolder) get() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Run executes one full sync session and returns nil only on a clean
// Done transition. Any fatal error means the session ended Aborted; the
// caller is expected to exit non-zero.
func (o *Orchestrator) Run(ctx context.Context) (err error) {
	sess := NewSession(o.Config)
	o.enterPhase(PhaseInit)
	reporter.Warn(o.Reporter, "session %s started", sess.ID)

	defer func() {
		aborted := err != nil
		if aborted {
			o.enterPhase(PhaseAborted)
		} else {
			o.enterPhase(PhaseDone)
		}
		reporter.SessionDone(o.Reporter, sess.ID, aborted)
	}()

	// workCtx is cancelled either by the caller or by keepAlive after its
	// reconnect budget is exhausted; fatal captures the latter so Run can
	// return a FatalTransportError instead of a bare context.Canceled.
	workCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()
	fatal := &fatalHolder{}
	go o.keepAlive(workCtx, fatal, cancelWork)

	o.sweepOrphans(ctx, sess)

	matcher := ignore.New(o.Config.LocalRoot, o.warn)

	st := state.New(o.Config.LocalRoot, o.warn)
	if err := st.Load(); err != nil {
		if abortErr := o.handleStateCorruption(err); abortErr != nil {
			return abortErr
		}
		// --force: Load already leaves st's table empty, so the session
		// proceeds as a first-time sync for every path.
	}

	if o.Config.Force {
		if err := progress.RemoveFile(o.Config.LocalRoot); err != nil {
			o.warn("syncengine: failed to remove progress file under --force: %v", err)
		}
	}
	pr := progress.New(o.Config.LocalRoot, o.warn)
	_ = pr.Begin(sess.ID)

	o.enterPhase(PhaseScanning)
	localEntries, remoteEntries, err := o.scan(workCtx, sess, matcher)
	if err != nil {
		if fe := fatal.get(); fe != nil {
			return fe
		}
		return err
	}

	o.enterPhase(PhaseDeciding)
	actions := o.decide(localEntries, remoteEntries, st.All())
	for _, a := range actions {
		reporter.ActionDecided(o.Reporter, a.Path, a.Kind.String())
	}

	exec := &executor.Executor{
		Session:    o.Transport,
		State:      st,
		Progress:   pr,
		Reporter:   o.Reporter,
		LocalRoot:  o.Config.LocalRoot,
		RemoteRoot: o.Config.RemoteRoot,
		SessionID:  sess.ID,
	}
	if o.Config.DryRun {
		return o.reportDryRun(actions)
	}

	o.enterPhase(PhaseConflicts)
	o.enterPhase(PhasePushPull)
	o.enterPhase(PhaseDeletes)
	if err := exec.Run(workCtx, actions); err != nil {
		if fe := fatal.get(); fe != nil {
			return fe
		}
		return fmt.Errorf("syncengine: executing actions: %w", err)
	}

	o.enterPhase(PhaseFinalize)
	if err := st.Save(); err != nil {
		return &syncerr.LocalError{Op: "save state", Err: err}
	}
	if err := pr.Clear(); err != nil {
		o.warn("syncengine: failed to clear progress file: %v", err)
	}
	o.cleanupSessionTemp(ctx, sess)

	return nil
}

// scan runs the local walk and the remote async scan's poll loop
// concurrently, joining them with errgroup, per spec §5 ("both feed into
// the decider only after both complete"). A local-scan error cancels the
// remote poll; the local walk does not observe cancellation and runs to
// completion. A poll timeout is retried once after a reconnect, against
// the same temp file. Remote paths that the ignore matcher excludes are
// dropped once both sides are in.
func (o *Orchestrator) scan(ctx context.Context, sess *Session, matcher ignore.Matcher) ([]scanner.Entry, []scanner.Entry, error) {
	rs := &scanner.RemoteScanner{
		Session:    o.Transport,
		RemoteRoot: o.Config.RemoteRoot,
		TempPath:   sess.ScanPath,
		Matcher:    matcher,
	}
	if err := transport.WithRetry(ctx, o.retryPolicy(), func() error { return rs.Start(ctx) }); err != nil {
		return nil, nil, wrapTransportErr(err)
	}
	reporter.ScanStarted(o.Reporter, "remote")
	reporter.ScanStarted(o.Reporter, "local")

	var localEntries, remoteEntries []scanner.Entry
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		entries, err := scanner.Local(o.Config.LocalRoot, matcher, o.warn)
		if err != nil {
			return &syncerr.LocalError{Op: "local scan", Err: err}
		}
		localEntries = entries
		reporter.ScanDone(o.Reporter, "local", len(entries))
		return nil
	})

	g.Go(func() error {
		entries, err := rs.Poll(gctx, o.Config.PollInterval, o.Config.PollTimeout)
		var timeoutErr *scanner.ErrScanTimeout
		if errors.As(err, &timeoutErr) {
			// The detached scan keeps running: reconnect and poll it again.
			if rerr := transport.WithRetry(gctx, o.retryPolicy(), func() error {
				return o.Transport.Reconnect(gctx)
			}); rerr != nil {
				return wrapTransportErr(rerr)
			}
			entries, err = rs.Poll(gctx, o.Config.PollInterval, o.Config.PollTimeout)
		}
		if err != nil {
			if errors.As(err, &timeoutErr) {
				return fmt.Errorf("syncengine: %w", err)
			}
			return wrapTransportErr(err)
		}
		remoteEntries = entries
		reporter.ScanDone(o.Reporter, "remote", len(entries))
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	kept := remoteEntries[:0]
	for _, e := range remoteEntries {
		if !matcher.Matches(e.Path) {
			kept = append(kept, e)
		}
	}
	return localEntries, kept, nil
}

// decide builds the union key set across local, remote, and stored paths
// and runs each through the decider, per spec §4.7 step 5.
func (o *Orchestrator) decide(local, remote []scanner.Entry, stored map[string]fingerprint.Fingerprint) []decider.Action {
	localByPath := make(map[string]fingerprint.Fingerprint, len(local))
	for _, e := range local {
		localByPath[e.Path] = e.FP
	}
	remoteByPath := make(map[string]fingerprint.Fingerprint, len(remote))
	for _, e := range remote {
		remoteByPath[e.Path] = e.FP
	}

	keys := make(map[string]struct{}, len(localByPath)+len(remoteByPath)+len(stored))
	for p := range localByPath {
		keys[p] = struct{}{}
	}
	for p := range remoteByPath {
		keys[p] = struct{}{}
	}
	for p := range stored {
		keys[p] = struct{}{}
	}

	actions := make([]decider.Action, 0, len(keys))
	for p := range keys {
		lfp, lok := localByPath[p]
		rfp, rok := remoteByPath[p]
		sfp, sok := stored[p]
		actions = append(actions, decider.Decide(decider.Input{
			Path:          p,
			Local:         lfp,
			LocalPresent:  lok,
			Remote:        rfp,
			RemotePresent: rok,
			State:         sfp,
			StatePresent:  sok,
			Threshold:     o.Config.ChangeThreshold,
			PushOnly:      o.Config.PushOnly,
			PullOnly:      o.Config.PullOnly,
		}))
	}
	return actions
}

func (o *Orchestrator) reportDryRun(actions []decider.Action) error {
	for _, a := range actions {
		if a.Kind == decider.SKIP {
			continue
		}
		reporter.Warn(o.Reporter, "dry run: would %s %s", a.Kind, a.Path)
	}
	return nil
}

// keepAlive heartbeats the remote session every 30s until ctx is
// cancelled, reconnecting with backoff on a detected disconnect. Scans
// running detached under nohup are unaffected by a transport drop; they
// are simply polled again once the session is restored. When the
// reconnect's own retry budget is exhausted, the fault escalates to a
// FatalTransportError (spec §7): it is stashed in fatal and cancel is
// called so Run's in-flight scan/execute unwinds and reports it.
func (o *Orchestrator) keepAlive(ctx context.Context, fatal *fatalHolder, cancel context.CancelFunc) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.Transport.Heartbeat(ctx); err != nil {
				o.warn("syncengine: heartbeat failed, reconnecting: %v", err)
				reconnectErr := transport.WithRetry(ctx, o.retryPolicy(), func() error {
					return o.Transport.Reconnect(ctx)
				})
				if reconnectErr != nil {
					fatalErr := wrapTransportErr(reconnectErr)
					o.warn("syncengine: reconnect exhausted retries, aborting session: %v", fatalErr)
					fatal.set(fatalErr)
					cancel()
					return
				}
			}
		}
	}
}

// sweepOrphans best-effort removes remote temp files left by a prior
// aborted run, matching the sync_* naming pattern and excluding nothing
// from the current session (its own files do not exist yet).
func (o *Orchestrator) sweepOrphans(ctx context.Context, sess *Session) {
	cmd := fmt.Sprintf("find /tmp -maxdepth 1 -name %s -mmin +60 -exec rm -f {} +", shellQuote(remoteFilePrefix+"*"))
	if _, err := o.Transport.Exec(ctx, cmd); err != nil {
		o.warn("syncengine: orphan sweep failed (non-fatal): %v", err)
	}
}

// cleanupSessionTemp removes this session's own remote temp files after a
// clean finish; the executor already cleans up its push/pull bundles
// per-batch, so this only needs to catch the scan file.
func (o *Orchestrator) cleanupSessionTemp(ctx context.Context, sess *Session) {
	cmd := fmt.Sprintf("rm -f %s", shellQuote(sess.ScanPath))
	if _, err := o.Transport.Exec(ctx, cmd); err != nil {
		o.warn("syncengine: session temp cleanup failed (non-fatal): %v", err)
	}
}

// handleStateCorruption implements spec §7's StateCorruption policy: warn,
// treat state as empty, and proceed only under --force; otherwise abort.
func (o *Orchestrator) handleStateCorruption(err error) error {
	sc := &syncerr.StateCorruption{Path: o.Config.LocalRoot, Err: err}
	if !o.Config.Force {
		return sc
	}
	o.warn("syncengine: %v, proceeding with --force (treating state as empty)", sc)
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
