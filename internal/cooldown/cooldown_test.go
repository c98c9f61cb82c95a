package cooldown

import (
	"errors"
	"testing"
	"time"
)

func TestTrackerBlocksWithinWindow(t *testing.T) {
	tr := NewTracker(6 * time.Second)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := tr.Check("alice", "ticket", base); err != nil {
		t.Fatalf("first check failed: %v", err)
	}

	err := tr.Check("alice", "ticket", base.Add(2*time.Second))
	var cd *Error
	if !errors.As(err, &cd) {
		t.Fatalf("expected cooldown error, got=%v", err)
	}
	if cd.Remaining != 4*time.Second {
		t.Fatalf("unexpected remaining: got=%s want=4s", cd.Remaining)
	}
	if cd.Error() != "Please wait 4.0 more second(s) before reusing the `ticket` command." {
		t.Fatalf("unexpected message: %q", cd.Error())
	}

	// 別の操作・別の参加者は独立
	if err := tr.Check("alice", "join", base.Add(2*time.Second)); err != nil {
		t.Fatalf("other action should not be blocked: %v", err)
	}
	if err := tr.Check("bob", "ticket", base.Add(2*time.Second)); err != nil {
		t.Fatalf("other participant should not be blocked: %v", err)
	}

	if err := tr.Check("alice", "ticket", base.Add(6*time.Second)); err != nil {
		t.Fatalf("check after window failed: %v", err)
	}
}

func TestTrackerSweepsExpiredRecords(t *testing.T) {
	tr := NewTracker(time.Second)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, p := range []string{"a", "b", "c"} {
		if err := tr.Check(p, "ticket", base); err != nil {
			t.Fatalf("check failed: %v", err)
		}
	}
	if tr.Len() != 3 {
		t.Fatalf("unexpected record count: got=%d want=3", tr.Len())
	}

	if err := tr.Check("d", "ticket", base.Add(2*time.Second)); err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if tr.Len() != 1 {
		t.Fatalf("expired records were not swept: got=%d want=1", tr.Len())
	}
}

func TestTrackerDisabled(t *testing.T) {
	tr := NewTracker(0)
	now := time.Now()
	for i := 0; i < 3; i++ {
		if err := tr.Check("alice", "ticket", now); err != nil {
			t.Fatalf("disabled tracker blocked: %v", err)
		}
	}

	var nilTracker *Tracker
	if err := nilTracker.Check("alice", "ticket", now); err != nil {
		t.Fatalf("nil tracker blocked: %v", err)
	}
}

func TestTrackerReset(t *testing.T) {
	tr := NewTracker(time.Minute)
	now := time.Now()

	_ = tr.Check("alice", "roll", now)
	tr.Reset("alice", "roll")
	if err := tr.Check("alice", "roll", now); err != nil {
		t.Fatalf("reset record still blocks: %v", err)
	}
}
