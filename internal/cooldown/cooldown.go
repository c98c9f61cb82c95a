// Package cooldown throttles repeated chat actions per participant.
package cooldown

import (
	"fmt"
	"sync"
	"time"
)

// Error は待機中の操作に返す
type Error struct {
	Action    string
	Remaining time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("Please wait %.1f more second(s) before reusing the `%s` command.", e.Remaining.Seconds(), e.Action)
}

type key struct {
	participant string
	action      string
}

// Tracker records the last time each participant used each action.
type Tracker struct {
	mu       sync.Mutex
	window   time.Duration
	until    map[key]time.Time
	lastScan time.Time
}

func NewTracker(window time.Duration) *Tracker {
	return &Tracker{
		window: window,
		until:  make(map[key]time.Time),
	}
}

// Check returns *Error while participant is cooling down on action.
// Otherwise the action is recorded and nil is returned.
func (t *Tracker) Check(participant, action string, now time.Time) error {
	if t == nil || t.window <= 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.sweep(now)

	k := key{participant: participant, action: action}
	if until, ok := t.until[k]; ok && now.Before(until) {
		return &Error{Action: action, Remaining: until.Sub(now)}
	}
	t.until[k] = now.Add(t.window)
	return nil
}

// Reset forgets participant's record for action.
func (t *Tracker) Reset(participant, action string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.until, key{participant: participant, action: action})
}

// Len returns the number of live records.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.until)
}

// sweep drops expired records at most once per window.
func (t *Tracker) sweep(now time.Time) {
	if now.Sub(t.lastScan) < t.window {
		return
	}
	for k, until := range t.until {
		if !now.Before(until) {
			delete(t.until, k)
		}
	}
	t.lastScan = now
}
