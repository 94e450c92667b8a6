// Package syncengine drives a single bidirectional sync run: it owns the
// SyncSession, the state and progress stores, and the seven-phase state
// machine described in the orchestrator section of the design (Init ->
// Scanning -> Deciding -> Executing(Conflicts) -> Executing(PushPull) ->
// Executing(Deletes) -> Finalizing -> Done|Aborted).
//
// Grounded on the teacher's internal/devsync/devsync.go top-level driving
// loop and internal/devsync/watcher.go's reconnect-with-backoff logic,
// generalized from "run forever watching for local changes" to "run this
// seven-phase state machine once and report the outcome".
package syncengine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"gosync/internal/config"
)

// remoteFilePrefix groups every temp file this engine creates on the
// remote host so a best-effort sweep can find and remove orphans left by
// a prior aborted run.
const remoteFilePrefix = "sync_"

// Session is one sync run's identity and transient remote resources.
// Exactly one Session exists per orchestrator Run call; nothing outside
// this package constructs or mutates one directly.
type Session struct {
	ID        string
	Config    *config.SyncConfig
	StartedAt time.Time
	ScanPath  string
}

// NewSession mints a fresh session UUID and the remote scan temp-file path
// derived from it, per the sync_<kind>_<uuid>.<ext> naming the scanner
// relies on. The executor mints its own push/pull archive names per batch
// (it may split a direction into several archives), so Session does not
// carry single push/pull paths.
func NewSession(cfg *config.SyncConfig) *Session {
	id := uuid.New().String()
	return &Session{
		ID:        id,
		Config:    cfg,
		StartedAt: time.Now().UTC(),
		ScanPath:  remoteTempPath(id, "scan", "tsv.gz"),
	}
}

func remoteTempPath(sessionID, kind, ext string) string {
	return fmt.Sprintf("/tmp/%s%s_%s.%s", remoteFilePrefix, kind, sessionID, ext)
}

// Phase names the orchestrator's state machine positions, used only for
// Reporter events and logging; execution order is fixed in code, not data.
type Phase string

const (
	PhaseInit      Phase = "init"
	PhaseScanning  Phase = "scanning"
	PhaseDeciding  Phase = "deciding"
	PhaseConflicts Phase = "executing_conflicts"
	PhasePushPull  Phase = "executing_pushpull"
	PhaseDeletes   Phase = "executing_deletes"
	PhaseFinalize  Phase = "finalizing"
	PhaseDone      Phase = "done"
	PhaseAborted   Phase = "aborted"
)
