package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nantokaworks/guild-raffle/internal/cooldown"
	"github.com/nantokaworks/guild-raffle/internal/notification"
	"github.com/nantokaworks/guild-raffle/internal/shared/logger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Authorizer decides who may start and close events.
type Authorizer interface {
	IsAuthorized(ctx context.Context, identity string, requireTopLevel bool) bool
}

// LotteryParams are the admin inputs for a lottery.
type LotteryParams struct {
	Description string
	UnitPrice   decimal.Decimal
	MaxEntries  int
	Duration    time.Duration
}

// GiveawayParams are the admin inputs for a giveaway.
type GiveawayParams struct {
	Prize    string
	Duration time.Duration
}

// Manager is the process-wide registry of in-flight sessions, one per kind.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	active   map[Kind]*Session

	deps      Deps
	auth      Authorizer
	scheduler *Scheduler
	cooldown  *cooldown.Tracker
}

func NewManager(deps Deps, auth Authorizer, scheduler *Scheduler, cd *cooldown.Tracker) *Manager {
	return &Manager{
		sessions:  make(map[string]*Session),
		active:    make(map[Kind]*Session),
		deps:      deps.withDefaults(),
		auth:      auth,
		scheduler: scheduler,
		cooldown:  cd,
	}
}

func (m *Manager) authorize(ctx context.Context, identity string) error {
	if m.auth == nil || !m.auth.IsAuthorized(ctx, identity, false) {
		return ErrUnauthorized
	}
	return nil
}

func (m *Manager) CreateLottery(ctx context.Context, adminID string, p LotteryParams) (*Session, error) {
	return m.create(ctx, adminID, Params{
		Kind:        KindLottery,
		Description: p.Description,
		UnitPrice:   p.UnitPrice,
		MaxEntries:  p.MaxEntries,
		Duration:    p.Duration,
		CreatedBy:   adminID,
	})
}

func (m *Manager) CreateGiveaway(ctx context.Context, adminID string, p GiveawayParams) (*Session, error) {
	return m.create(ctx, adminID, Params{
		Kind:        KindGiveaway,
		Description: p.Prize,
		Duration:    p.Duration,
		CreatedBy:   adminID,
	})
}

func (m *Manager) create(ctx context.Context, adminID string, p Params) (*Session, error) {
	if err := m.authorize(ctx, adminID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if cur, ok := m.active[p.Kind]; ok && cur.Status() == StatusOpen {
		m.mu.Unlock()
		return nil, ErrSlotBusy
	}
	sess, err := New(p, m.deps)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.sessions[sess.ID()] = sess
	m.active[p.Kind] = sess
	m.mu.Unlock()

	if m.scheduler != nil {
		m.scheduler.Schedule(sess)
	}
	go m.release(sess)

	logger.Info("Event started",
		zap.String("event_id", sess.ID()),
		zap.String("kind", string(sess.Kind())),
		zap.String("admin", adminID),
		zap.Time("end_time", sess.EndTime()))

	if m.deps.Sink != nil {
		snap := sess.Snapshot()
		m.deps.Sink.Announce(sess.ID(), notification.Notice{
			Type:    notification.TypeSessionStarted,
			Kind:    string(sess.Kind()),
			Message: StartMessage(snap),
			Data:    snap,
		})
	}
	return sess, nil
}

// release removes sess from the registry once it has settled.
func (m *Manager) release(sess *Session) {
	<-sess.Done()
	m.remove(sess)
}

func (m *Manager) remove(sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sess.ID())
	if m.active[sess.Kind()] == sess {
		delete(m.active, sess.Kind())
	}
}

// Submit adds an entry to the open session of kind.
func (m *Manager) Submit(ctx context.Context, kind Kind, participantID, requestID string) (*Session, int, error) {
	sess, ok := m.Active(kind)
	if !ok {
		return nil, 0, ErrNotFound
	}
	count, err := m.submit(ctx, sess, participantID, requestID)
	return sess, count, err
}

// SubmitTo adds an entry to the session with id.
func (m *Manager) SubmitTo(ctx context.Context, id, participantID, requestID string) (*Session, int, error) {
	sess, ok := m.Get(id)
	if !ok {
		return nil, 0, ErrNotFound
	}
	count, err := m.submit(ctx, sess, participantID, requestID)
	return sess, count, err
}

func (m *Manager) submit(ctx context.Context, sess *Session, participantID, requestID string) (int, error) {
	if participantID == "" {
		return 0, ErrEmptyParticipant
	}
	// 再送されたリクエストはクールダウンに掛けず前回の結果を返す
	if count, ok := sess.PreviousAdmission(participantID, requestID); ok {
		return count, nil
	}
	if err := m.cooldown.Check(participantID, string(sess.Kind()), m.deps.Clock()); err != nil {
		return 0, err
	}
	return sess.SubmitEntry(ctx, participantID, requestID)
}

// Close settles the session with id now.
func (m *Manager) Close(ctx context.Context, adminID, id string) (*Settlement, error) {
	if err := m.authorize(ctx, adminID); err != nil {
		return nil, err
	}
	sess, ok := m.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return m.closeSession(ctx, adminID, sess)
}

// CloseKind settles the open session of kind now.
func (m *Manager) CloseKind(ctx context.Context, adminID string, kind Kind) (*Settlement, error) {
	if err := m.authorize(ctx, adminID); err != nil {
		return nil, err
	}
	sess, ok := m.Active(kind)
	if !ok {
		return nil, ErrNotFound
	}
	return m.closeSession(ctx, adminID, sess)
}

func (m *Manager) closeSession(ctx context.Context, adminID string, sess *Session) (*Settlement, error) {
	logger.Info("Event closed by admin", zap.String("event_id", sess.ID()), zap.String("admin", adminID))

	var st *Settlement
	if m.scheduler != nil {
		st, _ = m.scheduler.Close(ctx, sess)
	} else {
		st, _ = sess.ForceClose(ctx)
	}
	if st == nil {
		return nil, fmt.Errorf("waiting for settlement: %w", ctx.Err())
	}
	m.remove(sess)
	return st, nil
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

// Active returns the open session occupying kind's slot.
func (m *Manager) Active(kind Kind) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.active[kind]
	return sess, ok
}

// List returns snapshots of all in-flight sessions ordered by start time.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		snaps = append(snaps, s.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].StartTime.Before(snaps[j].StartTime)
	})
	return snaps
}
