package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type collectPublisher struct {
	mu      sync.Mutex
	notices []Notice
}

func (c *collectPublisher) Publish(_ context.Context, n Notice) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notices = append(c.notices, n)
	return nil
}

func (c *collectPublisher) all() []Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notice(nil), c.notices...)
}

func TestDispatcherPublishesInOrder(t *testing.T) {
	pub := &collectPublisher{}
	failing := PublisherFunc(func(context.Context, Notice) error {
		return errors.New("chat offline")
	})

	d := NewDispatcher(10, failing, pub)
	d.Start()

	d.Announce("s1", Notice{Type: TypeSessionStarted, Message: "started"})
	d.UpdateLiveState("s1", Notice{Message: "2 tickets sold"})
	d.Announce("s1", Notice{Type: TypeSessionSettled, Message: "settled"})
	d.Stop()

	got := pub.all()
	if len(got) != 3 {
		t.Fatalf("unexpected notice count: got=%d want=3", len(got))
	}
	if got[0].Type != TypeSessionStarted || got[2].Type != TypeSessionSettled {
		t.Fatalf("unexpected order: %+v", got)
	}
	if !got[1].Live || got[1].Type != TypeLiveState {
		t.Fatalf("live state not marked: %+v", got[1])
	}
	for _, n := range got {
		if n.EventID != "s1" {
			t.Fatalf("event id not set: %+v", n)
		}
	}
}

func TestDispatcherDropsLiveStateWhenFull(t *testing.T) {
	pub := &collectPublisher{}
	d := NewDispatcher(1, pub)

	// 処理を開始していないのでキューは1件で満杯
	d.UpdateLiveState("s1", Notice{Message: "first"})
	d.UpdateLiveState("s1", Notice{Message: "dropped"})

	d.Start()
	d.Stop()

	got := pub.all()
	if len(got) != 1 || got[0].Message != "first" {
		t.Fatalf("unexpected notices: %+v", got)
	}
}

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Announce("d1", Notice{Type: TypeDuelSettled})
	r.Announce("d2", Notice{Type: TypeDuelExpired})
	r.UpdateLiveState("s1", Notice{Type: TypeLiveState})

	if got := r.AnnouncedOfType(TypeDuelExpired); len(got) != 1 || got[0].EventID != "d2" {
		t.Fatalf("unexpected filtered notices: %+v", got)
	}
	if got := r.LiveStates(); len(got) != 1 || !got[0].Live {
		t.Fatalf("unexpected live states: %+v", got)
	}
}
