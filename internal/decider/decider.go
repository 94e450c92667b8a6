// Package decider implements the sync engine's pure decision function:
// given a path's local fingerprint, remote fingerprint, and persisted
// state entry (each possibly "missing"), it produces exactly one Action.
//
// The function is total and pure by construction — it touches no
// filesystem, network, or global state — so it is fully unit-testable in
// isolation, matching spec §8's decider-totality and decider-purity
// properties.
//
// Grounded on the explicit side-by-side fingerprint comparison in the
// teacher's internal/syncdata/forcesinglesync.go, generalized from an
// interactive per-call choice into one total function over the three-way
// tuple.
package decider

import (
	"time"

	"gosync/internal/fingerprint"
)

// Kind is the action the decider assigns to a path.
type Kind int

const (
	SKIP Kind = iota
	PUSH
	PULL
	DeleteLocal
	DeleteRemote
	Conflict
)

func (k Kind) String() string {
	switch k {
	case SKIP:
		return "SKIP"
	case PUSH:
		return "PUSH"
	case PULL:
		return "PULL"
	case DeleteLocal:
		return "DELETE_LOCAL"
	case DeleteRemote:
		return "DELETE_REMOTE"
	case Conflict:
		return "CONFLICT"
	default:
		return "UNKNOWN"
	}
}

// Action is the decider's output for one path.
type Action struct {
	Kind Kind
	Path string
	// Local and Remote are the fingerprints observed for this path, when
	// present; the executor uses these to build transfer batches and
	// conflict artifacts without a second stat/lookup.
	Local, Remote fingerprint.Fingerprint
	// DropState is set when SKIP is produced for a path that no longer
	// exists on either side but still has a stored StateEntry — the
	// caller must remove that stale entry.
	DropState bool
}

// Input is the decider's total input for one path: local/remote presence
// is a first-class "missing" marker distinct from "unchanged", and state
// presence is likewise explicit.
type Input struct {
	Path          string
	Local         fingerprint.Fingerprint
	LocalPresent  bool
	Remote        fingerprint.Fingerprint
	RemotePresent bool
	State         fingerprint.Fingerprint
	StatePresent  bool
	// Threshold is the change-detection window; zero means
	// fingerprint.DefaultThreshold.
	Threshold          time.Duration
	PushOnly, PullOnly bool
}

// Decide applies the decision table from spec §4.5 to in and returns
// exactly one Action.
func Decide(in Input) Action {
	threshold := in.Threshold
	if threshold == 0 {
		threshold = fingerprint.DefaultThreshold
	}

	switch {
	case !in.LocalPresent && !in.RemotePresent:
		return gate(in, Action{Kind: SKIP, Path: in.Path, DropState: in.StatePresent})

	case in.LocalPresent && !in.RemotePresent:
		if in.StatePresent {
			// Remote deleted a once-synced file.
			return gate(in, Action{Kind: DeleteLocal, Path: in.Path, Local: in.Local})
		}
		return gate(in, Action{Kind: PUSH, Path: in.Path, Local: in.Local})

	case !in.LocalPresent && in.RemotePresent:
		if in.StatePresent {
			// Local deleted a once-synced file.
			return gate(in, Action{Kind: DeleteRemote, Path: in.Path, Remote: in.Remote})
		}
		return gate(in, Action{Kind: PULL, Path: in.Path, Remote: in.Remote})

	default: // both present
		if !in.StatePresent {
			// First sight with no recorded history: if both sides already
			// agree, adopt as synced (SKIP, caller writes a StateEntry);
			// otherwise a conflict since neither side can be trusted as
			// authoritative.
			if !fingerprint.Changed(in.Local, in.Remote, threshold) {
				return gate(in, Action{Kind: SKIP, Path: in.Path, Local: in.Local, Remote: in.Remote})
			}
			return gate(in, Action{Kind: Conflict, Path: in.Path, Local: in.Local, Remote: in.Remote})
		}

		localChanged := fingerprint.Changed(in.Local, in.State, threshold)
		remoteChanged := fingerprint.Changed(in.Remote, in.State, threshold)

		switch {
		case localChanged && remoteChanged:
			return gate(in, Action{Kind: Conflict, Path: in.Path, Local: in.Local, Remote: in.Remote})
		case localChanged:
			return gate(in, Action{Kind: PUSH, Path: in.Path, Local: in.Local})
		case remoteChanged:
			return gate(in, Action{Kind: PULL, Path: in.Path, Remote: in.Remote})
		default:
			return gate(in, Action{Kind: SKIP, Path: in.Path})
		}
	}
}

// gate applies push_only/pull_only direction gating: PULL/DELETE_LOCAL are
// demoted to SKIP under push_only; PUSH/DELETE_REMOTE are demoted to SKIP
// under pull_only. CONFLICT is never demoted — a conflict needs a human
// regardless of direction gating.
func gate(in Input, a Action) Action {
	if in.PushOnly && (a.Kind == PULL || a.Kind == DeleteLocal) {
		return Action{Kind: SKIP, Path: a.Path}
	}
	if in.PullOnly && (a.Kind == PUSH || a.Kind == DeleteRemote) {
		return Action{Kind: SKIP, Path: a.Path}
	}
	return a
}
