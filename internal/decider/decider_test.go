package decider

import (
	"testing"
	"time"

	"gosync/internal/fingerprint"
)

func TestFirstSyncClean(t *testing.T) {
	a := Decide(Input{
		Path:         "a.txt",
		LocalPresent: true, Local: fingerprint.Fingerprint{Mtime: 1000, Size: 10},
	})
	if a.Kind != PUSH {
		t.Fatalf("expected PUSH, got %v", a.Kind)
	}
}

func TestDeletePropagation(t *testing.T) {
	a := Decide(Input{
		Path:          "b.txt",
		RemotePresent: true, Remote: fingerprint.Fingerprint{Mtime: 2000, Size: 20},
		StatePresent: true, State: fingerprint.Fingerprint{Mtime: 2000, Size: 20},
	})
	if a.Kind != DeleteRemote {
		t.Fatalf("expected DELETE_REMOTE, got %v", a.Kind)
	}
}

func TestConflict(t *testing.T) {
	a := Decide(Input{
		Path:          "c.txt",
		LocalPresent:  true, Local: fingerprint.Fingerprint{Mtime: 3500, Size: 35},
		RemotePresent: true, Remote: fingerprint.Fingerprint{Mtime: 3600, Size: 40},
		StatePresent:  true, State: fingerprint.Fingerprint{Mtime: 3000, Size: 30},
	})
	if a.Kind != Conflict {
		t.Fatalf("expected CONFLICT, got %v", a.Kind)
	}
}

func TestThresholdTolerance(t *testing.T) {
	a := Decide(Input{
		Path:          "d.txt",
		LocalPresent:  true, Local: fingerprint.Fingerprint{Mtime: 4090, Size: 50},
		RemotePresent: true, Remote: fingerprint.Fingerprint{Mtime: 4090, Size: 50},
		StatePresent:  true, State: fingerprint.Fingerprint{Mtime: 4000, Size: 50},
		Threshold:     180 * time.Second,
	})
	if a.Kind != SKIP {
		t.Fatalf("expected SKIP, got %v", a.Kind)
	}
}

func TestBothMissingDropsStaleState(t *testing.T) {
	a := Decide(Input{Path: "e.txt", StatePresent: true, State: fingerprint.Fingerprint{Mtime: 1, Size: 1}})
	if a.Kind != SKIP || !a.DropState {
		t.Fatalf("expected SKIP with DropState, got %+v", a)
	}
}

func TestBothPresentNoStateAgreeAdopts(t *testing.T) {
	fp := fingerprint.Fingerprint{Mtime: 100, Size: 5}
	a := Decide(Input{
		Path: "f.txt", LocalPresent: true, Local: fp, RemotePresent: true, Remote: fp,
	})
	if a.Kind != SKIP {
		t.Fatalf("expected SKIP (adopt as synced), got %v", a.Kind)
	}
}

func TestBothPresentNoStateDisagreeConflicts(t *testing.T) {
	a := Decide(Input{
		Path: "g.txt", LocalPresent: true, Local: fingerprint.Fingerprint{Mtime: 100, Size: 5},
		RemotePresent: true, Remote: fingerprint.Fingerprint{Mtime: 100, Size: 9},
	})
	if a.Kind != Conflict {
		t.Fatalf("expected CONFLICT, got %v", a.Kind)
	}
}

func TestPushOnlyDemotesPullAndDeleteLocal(t *testing.T) {
	pull := Decide(Input{Path: "p", RemotePresent: true, Remote: fingerprint.Fingerprint{Size: 1}, PushOnly: true})
	if pull.Kind != SKIP {
		t.Fatalf("expected PULL demoted to SKIP under push_only, got %v", pull.Kind)
	}
	del := Decide(Input{
		Path: "p", LocalPresent: true, Local: fingerprint.Fingerprint{Size: 1},
		StatePresent: true, State: fingerprint.Fingerprint{Size: 1}, PushOnly: true,
	})
	if del.Kind != SKIP {
		t.Fatalf("expected DELETE_LOCAL demoted to SKIP under push_only, got %v", del.Kind)
	}
}

func TestPullOnlyDemotesPushAndDeleteRemote(t *testing.T) {
	push := Decide(Input{Path: "p", LocalPresent: true, Local: fingerprint.Fingerprint{Size: 1}, PullOnly: true})
	if push.Kind != SKIP {
		t.Fatalf("expected PUSH demoted to SKIP under pull_only, got %v", push.Kind)
	}
	del := Decide(Input{
		Path: "p", RemotePresent: true, Remote: fingerprint.Fingerprint{Size: 1},
		StatePresent: true, State: fingerprint.Fingerprint{Size: 1}, PullOnly: true,
	})
	if del.Kind != SKIP {
		t.Fatalf("expected DELETE_REMOTE demoted to SKIP under pull_only, got %v", del.Kind)
	}
}

func TestDeciderIsPure(t *testing.T) {
	in := Input{
		Path: "h.txt", LocalPresent: true, Local: fingerprint.Fingerprint{Mtime: 10, Size: 1},
		RemotePresent: true, Remote: fingerprint.Fingerprint{Mtime: 20, Size: 2},
		StatePresent: true, State: fingerprint.Fingerprint{Mtime: 5, Size: 1},
	}
	a1 := Decide(in)
	a2 := Decide(in)
	if a1 != a2 {
		t.Fatalf("expected identical outputs for identical inputs: %+v vs %+v", a1, a2)
	}
}

func TestDeciderTotalityOverAllPresenceCombinations(t *testing.T) {
	presentCombos := []struct{ local, remote, state bool }{
		{false, false, false}, {false, false, true},
		{true, false, false}, {true, false, true},
		{false, true, false}, {false, true, true},
		{true, true, false}, {true, true, true},
	}
	for _, c := range presentCombos {
		in := Input{
			Path: "x", LocalPresent: c.local, RemotePresent: c.remote, StatePresent: c.state,
			Local:  fingerprint.Fingerprint{Mtime: 1, Size: 1},
			Remote: fingerprint.Fingerprint{Mtime: 2, Size: 2},
			State:  fingerprint.Fingerprint{Mtime: 3, Size: 3},
		}
		a := Decide(in)
		if a.Kind < SKIP || a.Kind > Conflict {
			t.Fatalf("decider produced an invalid Kind for %+v: %v", c, a.Kind)
		}
	}
}
