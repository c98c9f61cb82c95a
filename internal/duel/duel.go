// Package duel runs the two-player Deathroll game.
package duel

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/nantokaworks/guild-raffle/internal/ledger"
	"github.com/nantokaworks/guild-raffle/internal/lottery"
	"github.com/nantokaworks/guild-raffle/internal/notification"
	"github.com/nantokaworks/guild-raffle/internal/shared/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusAwaiting   Status = "awaiting_acceptance"
	StatusInProgress Status = "in_progress"
	StatusSettled    Status = "settled"
	StatusExpired    Status = "expired"
)

const (
	DefaultAcceptWindow = 15 * time.Minute
	minRoll             = 1
	maxRoll             = 100
	// 終了した決闘を参照できる期間
	finishedRetention = 10 * time.Minute
	ledgerCallTimeout = 30 * time.Second
)

// Roll is one round: both sides roll once.
type Roll struct {
	Challenger int `json:"challenger"`
	Target     int `json:"target"`
}

// PayoutFailure is a wager transfer leg that could not be applied.
type PayoutFailure struct {
	ParticipantID string `json:"participant_id"`
	Side          string `json:"side"`
	Amount        int64  `json:"amount"`
	Reason        string `json:"reason"`
}

// Duel is a snapshot of one Deathroll.
type Duel struct {
	ID           string          `json:"id"`
	ChallengerID string          `json:"challenger_id"`
	TargetID     string          `json:"target_id"`
	Wager        int64           `json:"wager"`
	Status       Status          `json:"status"`
	Rolls        []Roll          `json:"rolls"`
	WinnerID     string          `json:"winner_id,omitempty"`
	LoserID      string          `json:"loser_id,omitempty"`
	Failures     []PayoutFailure `json:"payout_failures,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
	SettledAt    time.Time       `json:"settled_at,omitempty"`
}

// Sink receives duel announcements.
type Sink interface {
	Announce(eventID string, n notification.Notice)
}

type Deps struct {
	Ledger       ledger.Ledger
	Sink         Sink
	Random       lottery.RandomSource
	Clock        func() time.Time
	AcceptWindow time.Duration
}

type record struct {
	duel  Duel
	timer *time.Timer
}

// Engine tracks pending and running duels.
type Engine struct {
	mu      sync.Mutex
	duels   map[string]*record
	engaged map[string]string // target -> 進行中の決闘ID
	deps    Deps
	stopped bool
}

func NewEngine(deps Deps) *Engine {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Random == nil {
		deps.Random = lottery.SecureRandom{}
	}
	if deps.AcceptWindow <= 0 {
		deps.AcceptWindow = DefaultAcceptWindow
	}
	return &Engine{
		duels:   make(map[string]*record),
		engaged: make(map[string]string),
		deps:    deps,
	}
}

// Challenge creates a duel waiting for targetID to accept.
func (e *Engine) Challenge(ctx context.Context, challengerID, targetID string, wager int64) (Duel, error) {
	challengerID = strings.TrimSpace(challengerID)
	targetID = strings.TrimSpace(targetID)
	if challengerID == "" || targetID == "" {
		return Duel{}, ErrMissingPlayer
	}
	if strings.EqualFold(challengerID, targetID) {
		return Duel{}, ErrSelfChallenge
	}
	if wager <= 0 {
		return Duel{}, ErrInvalidWager
	}
	if e.deps.Ledger == nil {
		return Duel{}, fmt.Errorf("duel requires a ledger: %w", ledger.ErrUnavailable)
	}

	if _, err := e.deps.Ledger.ResolveAccount(ctx, challengerID); err != nil {
		return Duel{}, err
	}
	if _, err := e.deps.Ledger.ResolveAccount(ctx, targetID); err != nil {
		return Duel{}, fmt.Errorf("%w: %w", ErrTargetAccount, err)
	}

	id, err := gonanoid.New()
	if err != nil {
		return Duel{}, fmt.Errorf("failed to generate duel id: %w", err)
	}

	now := e.deps.Clock()
	rec := &record{duel: Duel{
		ID:           id,
		ChallengerID: challengerID,
		TargetID:     targetID,
		Wager:        wager,
		Status:       StatusAwaiting,
		Rolls:        []Roll{},
		CreatedAt:    now,
		ExpiresAt:    now.Add(e.deps.AcceptWindow),
	}}

	e.mu.Lock()
	e.duels[id] = rec
	rec.timer = time.AfterFunc(e.deps.AcceptWindow, func() { e.Expire(id) })
	snap := rec.snapshot()
	e.mu.Unlock()

	logger.Info("Deathroll challenge created",
		zap.String("duel_id", id),
		zap.String("challenger", challengerID),
		zap.String("target", targetID),
		zap.Int64("wager", wager))

	e.announce(id, notification.TypeDuelChallenged,
		fmt.Sprintf("%s, you have been challenged to a Deathroll by %s for %d! Type !accept to accept.", targetID, challengerID, wager),
		snap)
	return snap, nil
}

// Accept starts the duel, rolls it to the end and settles the wager.
func (e *Engine) Accept(ctx context.Context, duelID, actorID string) (Duel, error) {
	e.mu.Lock()
	rec, ok := e.duels[duelID]
	if !ok {
		e.mu.Unlock()
		return Duel{}, ErrNotFound
	}
	d := &rec.duel
	if !strings.EqualFold(d.TargetID, strings.TrimSpace(actorID)) {
		e.mu.Unlock()
		return Duel{}, ErrNotTarget
	}
	switch d.Status {
	case StatusExpired:
		e.mu.Unlock()
		return Duel{}, ErrDuelExpired
	case StatusInProgress, StatusSettled:
		e.mu.Unlock()
		return Duel{}, &engagedError{target: d.TargetID}
	}
	if !e.deps.Clock().Before(d.ExpiresAt) {
		// タイマーより先に期限切れを確定させる
		expired := e.expireLocked(rec)
		e.mu.Unlock()
		e.announceExpired(expired)
		return Duel{}, ErrDuelExpired
	}
	if _, busy := e.engaged[d.TargetID]; busy {
		e.mu.Unlock()
		return Duel{}, &engagedError{target: d.TargetID}
	}
	d.Status = StatusInProgress
	e.engaged[d.TargetID] = d.ID
	rec.timer.Stop()
	challenger, target, wager := d.ChallengerID, d.TargetID, d.Wager
	e.mu.Unlock()

	logger.Info("Deathroll accepted", zap.String("duel_id", duelID), zap.String("target", target))

	rolls, challengerWon, err := e.roll()
	if err != nil {
		logger.Error("Deathroll roll failed", zap.String("duel_id", duelID), zap.Error(err))
		e.mu.Lock()
		d.Status = StatusAwaiting
		delete(e.engaged, target)
		if remaining := d.ExpiresAt.Sub(e.deps.Clock()); remaining > 0 {
			rec.timer.Reset(remaining)
		} else {
			rec.timer.Reset(0)
		}
		e.mu.Unlock()
		return Duel{}, fmt.Errorf("failed to roll: %w", err)
	}

	winner, loser := target, challenger
	if challengerWon {
		winner, loser = challenger, target
	}
	failures := e.transfer(ctx, duelID, winner, loser, wager)

	e.mu.Lock()
	d.Rolls = rolls
	d.WinnerID = winner
	d.LoserID = loser
	d.Failures = failures
	d.Status = StatusSettled
	d.SettledAt = e.deps.Clock()
	delete(e.engaged, target)
	e.retire(duelID)
	snap := rec.snapshot()
	e.mu.Unlock()

	logger.Info("Deathroll settled",
		zap.String("duel_id", duelID),
		zap.String("winner", winner),
		zap.String("loser", loser),
		zap.Int("rounds", len(rolls)),
		zap.Int("payout_failures", len(failures)))

	e.announce(duelID, notification.TypeDuelSettled, ResultMessage(snap), snap)
	return snap, nil
}

// roll draws rounds until a side rolls exactly 1. The challenger is checked first.
func (e *Engine) roll() ([]Roll, bool, error) {
	rolls := make([]Roll, 0, 64)
	for {
		c, err := lottery.Between(e.deps.Random, minRoll, maxRoll)
		if err != nil {
			return nil, false, err
		}
		t, err := lottery.Between(e.deps.Random, minRoll, maxRoll)
		if err != nil {
			return nil, false, err
		}
		rolls = append(rolls, Roll{Challenger: c, Target: t})

		if c == minRoll {
			return rolls, true, nil
		}
		if t == minRoll {
			return rolls, false, nil
		}
	}
}

// transfer debits the loser and credits the winner. Each leg is retried by the ledger on its own.
func (e *Engine) transfer(ctx context.Context, duelID, winner, loser string, wager int64) []PayoutFailure {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerCallTimeout)
	defer cancel()

	legs := []struct {
		side     string
		identity string
		note     string
		apply    func(context.Context, ledger.Operation) error
	}{
		{"debit", loser, "Balance decrease: %d for DeathRoll", e.deps.Ledger.Debit},
		{"credit", winner, "Balance increase: %d For DeathRoll", e.deps.Ledger.Credit},
	}

	var (
		mu       sync.Mutex
		g        errgroup.Group
		failures []PayoutFailure
	)
	for _, leg := range legs {
		leg := leg
		g.Go(func() error {
			err := func() error {
				ref, err := e.deps.Ledger.ResolveAccount(ctx, leg.identity)
				if err != nil {
					return err
				}
				return leg.apply(ctx, ledger.Operation{
					ID:      ledger.OperationID(fmt.Sprintf("duel/%s/%s", duelID, leg.side)),
					Account: ref,
					Amount:  wager,
					Note:    fmt.Sprintf(leg.note, wager),
				})
			}()
			if err != nil {
				logger.Error("Deathroll ledger update failed",
					zap.String("duel_id", duelID),
					zap.String("side", leg.side),
					zap.String("participant", leg.identity),
					zap.Int64("amount", wager),
					zap.Error(err))
				mu.Lock()
				failures = append(failures, PayoutFailure{
					ParticipantID: leg.identity,
					Side:          leg.side,
					Amount:        wager,
					Reason:        err.Error(),
				})
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return failures
}

// Expire ends a duel that was never accepted. Only the first call has an effect.
func (e *Engine) Expire(duelID string) bool {
	e.mu.Lock()
	rec, ok := e.duels[duelID]
	if !ok || rec.duel.Status != StatusAwaiting {
		e.mu.Unlock()
		return false
	}
	snap := e.expireLocked(rec)
	e.mu.Unlock()

	e.announceExpired(snap)
	return true
}

func (e *Engine) expireLocked(rec *record) Duel {
	rec.timer.Stop()
	rec.duel.Status = StatusExpired
	e.retire(rec.duel.ID)
	return rec.snapshot()
}

func (e *Engine) announceExpired(d Duel) {
	logger.Info("Deathroll challenge expired", zap.String("duel_id", d.ID), zap.String("target", d.TargetID))
	e.announce(d.ID, notification.TypeDuelExpired,
		fmt.Sprintf("Time's up! %s did not accept the challenge.", d.TargetID), d)
}

// retire drops a finished duel after the retention period.
func (e *Engine) retire(duelID string) {
	if e.stopped {
		delete(e.duels, duelID)
		return
	}
	time.AfterFunc(finishedRetention, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.duels, duelID)
	})
}

// Get returns a copy of the duel.
func (e *Engine) Get(duelID string) (Duel, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.duels[duelID]
	if !ok {
		return Duel{}, false
	}
	return rec.snapshot(), true
}

// PendingFor returns the newest challenge still waiting for targetID.
func (e *Engine) PendingFor(targetID string) (Duel, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.deps.Clock()
	var newest *record
	for _, rec := range e.duels {
		d := rec.duel
		if d.Status != StatusAwaiting || !strings.EqualFold(d.TargetID, targetID) || !now.Before(d.ExpiresAt) {
			continue
		}
		if newest == nil || d.CreatedAt.After(newest.duel.CreatedAt) {
			newest = rec
		}
	}
	if newest == nil {
		return Duel{}, false
	}
	return newest.snapshot(), true
}

// Stop cancels pending expiry timers. Pending challenges are dropped without announcement.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
	for id, rec := range e.duels {
		rec.timer.Stop()
		if rec.duel.Status != StatusInProgress {
			delete(e.duels, id)
		}
	}
}

func (e *Engine) announce(duelID, typ, msg string, d Duel) {
	if e.deps.Sink == nil {
		return
	}
	e.deps.Sink.Announce(duelID, notification.Notice{
		Type:    typ,
		Kind:    "deathroll",
		Message: msg,
		Data:    d,
	})
}

func (r *record) snapshot() Duel {
	d := r.duel
	d.Rolls = append([]Roll{}, r.duel.Rolls...)
	if r.duel.Failures != nil {
		d.Failures = append([]PayoutFailure(nil), r.duel.Failures...)
	}
	return d
}

// ResultMessage renders the roll log and the winner for chat.
func ResultMessage(d Duel) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Deathroll %s vs %s:", d.ChallengerID, d.TargetID)
	for _, r := range d.Rolls {
		fmt.Fprintf(&b, " %d|%d", r.Challenger, r.Target)
	}
	fmt.Fprintf(&b, ". Winner: %s (+%d)!", d.WinnerID, d.Wager)
	if len(d.Failures) > 0 {
		b.WriteString(" The balance update is pending and will be fixed by an admin.")
	}
	return b.String()
}
