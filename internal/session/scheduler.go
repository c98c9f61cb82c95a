package session

import (
	"context"
	"sync"
	"time"

	"github.com/nantokaworks/guild-raffle/internal/shared/logger"
	"go.uber.org/zap"
)

type task struct {
	timer *time.Timer
	stop  chan struct{}
	once  sync.Once
}

func (t *task) cancel() {
	t.once.Do(func() {
		t.timer.Stop()
		close(t.stop)
	})
}

// Scheduler fires settlement at each session's end time and pushes periodic live state.
type Scheduler struct {
	mu       sync.Mutex
	tasks    map[string]*task
	liveness time.Duration
	sink     NotificationSink
}

func NewScheduler(liveness time.Duration, sink NotificationSink) *Scheduler {
	return &Scheduler{
		tasks:    make(map[string]*task),
		liveness: liveness,
		sink:     sink,
	}
}

// Schedule arms the expiry timer and the liveness ticker for sess.
func (sc *Scheduler) Schedule(sess *Session) {
	t := &task{stop: make(chan struct{})}

	sc.mu.Lock()
	if prev, ok := sc.tasks[sess.ID()]; ok {
		prev.cancel()
	}
	sc.tasks[sess.ID()] = t
	// AfterFuncの発火より先に登録しておく
	t.timer = time.AfterFunc(sess.EndTime().Sub(sess.now()), func() {
		logger.Info("Event end time reached", zap.String("event_id", sess.ID()))
		sess.ForceClose(context.Background())
	})
	sc.mu.Unlock()

	go sc.watch(sess, t)
}

func (sc *Scheduler) watch(sess *Session, t *task) {
	var tick <-chan time.Time
	if sc.liveness > 0 && sc.sink != nil {
		ticker := time.NewTicker(sc.liveness)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-tick:
			if sess.Status() != StatusOpen {
				continue
			}
			sc.sink.UpdateLiveState(sess.ID(), sess.liveNotice())
		case <-sess.Done():
			sc.forget(sess.ID(), t)
			return
		case <-t.stop:
			return
		}
	}
}

func (sc *Scheduler) forget(id string, t *task) {
	t.cancel()
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.tasks[id] == t {
		delete(sc.tasks, id)
	}
}

// Cancel stops the expiry timer and ticker for id. It does not settle the session.
func (sc *Scheduler) Cancel(id string) bool {
	sc.mu.Lock()
	t, ok := sc.tasks[id]
	delete(sc.tasks, id)
	sc.mu.Unlock()

	if ok {
		t.cancel()
	}
	return ok
}

// Close cancels the scheduled expiry and settles sess now.
func (sc *Scheduler) Close(ctx context.Context, sess *Session) (*Settlement, bool) {
	sc.Cancel(sess.ID())
	return sess.ForceClose(ctx)
}

// Pending returns the number of armed sessions.
func (sc *Scheduler) Pending() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.tasks)
}

// Stop cancels every scheduled task. Open sessions are left unsettled.
func (sc *Scheduler) Stop() {
	sc.mu.Lock()
	tasks := sc.tasks
	sc.tasks = make(map[string]*task)
	sc.mu.Unlock()

	for id, t := range tasks {
		t.cancel()
		logger.Warn("Scheduled event cancelled on shutdown", zap.String("event_id", id))
	}
}
