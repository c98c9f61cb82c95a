package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nantokaworks/guild-raffle/internal/lottery"
	"github.com/nantokaworks/guild-raffle/internal/notification"
)

func TestSchedulerClosesAtEndTime(t *testing.T) {
	rec := &notification.Recorder{}
	s := newTestLottery(t, testDeps(newTestLedger(), rec, nil), 10, 3, 30*time.Millisecond)

	sc := NewScheduler(0, rec)
	sc.Schedule(s)
	waitDone(t, s, 2*time.Second)

	if s.Status() != StatusClosed {
		t.Fatalf("session must be closed after its end time")
	}
	if st := s.Settlement(); st == nil || st.Outcome != OutcomeNoParticipants {
		t.Fatalf("unexpected settlement: %+v", st)
	}

	deadline := time.Now().Add(time.Second)
	for sc.Pending() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sc.Pending() != 0 {
		t.Fatalf("settled session must be forgotten: pending=%d", sc.Pending())
	}
}

func TestSchedulerTimerAndAdminCloseSettleOnce(t *testing.T) {
	mem := newTestLedger("alice")
	rec := &notification.Recorder{}
	s := newTestLottery(t, testDeps(mem, rec, lottery.NewScriptedRandom(0)), 10, 3, 20*time.Millisecond)
	submitN(t, s, "alice", 1)

	sc := NewScheduler(0, rec)
	sc.Schedule(s)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(20 * time.Millisecond)
			sc.Close(context.Background(), s)
		}()
	}
	wg.Wait()
	waitDone(t, s, 2*time.Second)

	if got := len(rec.AnnouncedOfType(notification.TypeSessionSettled)); got != 1 {
		t.Fatalf("unexpected announcements: %d", got)
	}
	if b := balanceOf(t, mem, "acct-alice"); b.Bonus != 9 {
		t.Fatalf("winner must be paid exactly once: bonus=%d", b.Bonus)
	}
}

func TestSchedulerPushesLiveState(t *testing.T) {
	rec := &notification.Recorder{}
	s := newTestLottery(t, testDeps(newTestLedger(), rec, nil), 10, 3, time.Minute)

	sc := NewScheduler(10*time.Millisecond, rec)
	sc.Schedule(s)
	defer sc.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for len(rec.LiveStates()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	states := rec.LiveStates()
	if len(states) < 2 {
		t.Fatalf("expected periodic live state, got %d", len(states))
	}
	if states[0].Type != notification.TypeLiveState || states[0].EventID != s.ID() || !states[0].Live {
		t.Fatalf("unexpected live notice: %+v", states[0])
	}
}

func TestSchedulerCancel(t *testing.T) {
	s := newTestLottery(t, testDeps(newTestLedger(), nil, nil), 10, 3, 20*time.Millisecond)

	sc := NewScheduler(0, nil)
	sc.Schedule(s)
	if !sc.Cancel(s.ID()) {
		t.Fatalf("Cancel must report the armed session")
	}
	if sc.Cancel(s.ID()) {
		t.Fatalf("second Cancel must be a no-op")
	}

	time.Sleep(60 * time.Millisecond)
	if s.Status() != StatusOpen {
		t.Fatalf("cancelled session must not be settled by the timer")
	}
	if sc.Pending() != 0 {
		t.Fatalf("unexpected pending tasks: %d", sc.Pending())
	}
}
