// Package reporter defines the abstract structured-event sink the sync
// engine core emits to (spec §6) and a console implementation built on a
// publish/subscribe event bus.
//
// Grounded on the teacher's internal/util/safeprint.go SafePrinter
// (mutex-serialized terminal output across goroutines), rebuilt around
// github.com/asaskevich/EventBus so the core depends only on the Reporter
// interface, never on a concrete console type.
package reporter

import "fmt"

// Event names match spec §6's Reporter contract.
const (
	EventScanStarted   = "scan_started"
	EventScanDone      = "scan_done"
	EventActionDecided = "action_decided"
	EventBatchStarted  = "batch_started"
	EventBatchDone     = "batch_done"
	EventConflict      = "conflict"
	EventWarn          = "warn"
	EventError         = "error"
	EventSessionDone   = "session_done"
)

// Fields carries event-specific structured data. Kept as a loosely typed
// map (rather than one struct per event) because each event in spec §6
// carries a different shape and the core never interprets these fields
// itself — only a subscriber (e.g. the console reporter) does.
type Fields map[string]interface{}

// Reporter is the abstract event sink the sync engine core emits to. Emit
// is called on the core's own goroutines. The console implementation
// dispatches synchronously through EventBus, so Emit returns only after
// the event's line has been printed; output from concurrent goroutines is
// serialized by util.SafePrinter.
type Reporter interface {
	Emit(event string, fields Fields)
}

// Helper emission methods give call sites a typed, self-documenting API
// over the raw Emit contract, matching the event names and fields spec §6
// names for each.

func ScanStarted(r Reporter, side string) {
	r.Emit(EventScanStarted, Fields{"side": side})
}

func ScanDone(r Reporter, side string, count int) {
	r.Emit(EventScanDone, Fields{"side": side, "count": count})
}

func ActionDecided(r Reporter, path, kind string) {
	r.Emit(EventActionDecided, Fields{"path": path, "kind": kind})
}

func BatchStarted(r Reporter, kind string, count int, bytes int64) {
	r.Emit(EventBatchStarted, Fields{"kind": kind, "count": count, "bytes": bytes})
}

func BatchDone(r Reporter, kind string, count int, err error) {
	f := Fields{"kind": kind, "count": count}
	if err != nil {
		f["error"] = err.Error()
	}
	r.Emit(EventBatchDone, f)
}

func Conflict(r Reporter, path string) {
	r.Emit(EventConflict, Fields{"path": path})
}

func Warn(r Reporter, format string, args ...interface{}) {
	r.Emit(EventWarn, Fields{"message": fmt.Sprintf(format, args...)})
}

func Error(r Reporter, err error) {
	r.Emit(EventError, Fields{"error": err.Error()})
}

func SessionDone(r Reporter, sessionID string, aborted bool) {
	r.Emit(EventSessionDone, Fields{"session": sessionID, "aborted": aborted})
}
