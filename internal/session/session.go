// Package session runs timed lottery and giveaway events.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/nantokaworks/guild-raffle/internal/ledger"
	"github.com/nantokaworks/guild-raffle/internal/lottery"
	"github.com/nantokaworks/guild-raffle/internal/notification"
	"github.com/nantokaworks/guild-raffle/internal/shared/logger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Kind string

const (
	KindLottery  Kind = "lottery"
	KindGiveaway Kind = "giveaway"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindLottery:
		return KindLottery, nil
	case KindGiveaway:
		return KindGiveaway, nil
	default:
		return "", fmt.Errorf("unknown event kind %q: %w", s, ErrInvalidConfig)
	}
}

type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// NotificationSink receives lifecycle announcements and live-state refreshes.
type NotificationSink interface {
	Announce(eventID string, n notification.Notice)
	UpdateLiveState(eventID string, n notification.Notice)
}

// HistoryRecorder persists settlement summaries.
type HistoryRecorder interface {
	RecordSettlement(ctx context.Context, st *Settlement) error
}

// Params describes a new event.
type Params struct {
	Kind Kind
	// Description は抽選のタイトル、ギブアウェイでは景品
	Description string
	UnitPrice   decimal.Decimal
	MaxEntries  int
	Duration    time.Duration
	CreatedBy   string
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Ledger            ledger.Ledger
	Sink              NotificationSink
	History           HistoryRecorder
	Random            lottery.RandomSource
	Clock             func() time.Time
	HouseAccount      string
	FeeRate           decimal.Decimal
	Rule              lottery.Rule
	PayoutConcurrency int
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Random == nil {
		d.Random = lottery.SecureRandom{}
	}
	if d.Rule == "" {
		d.Rule = lottery.RuleUniform
	}
	if d.PayoutConcurrency <= 0 {
		d.PayoutConcurrency = 4
	}
	return d
}

// ledgerCallTimeout bounds one ledger call made outside of a request context.
const ledgerCallTimeout = 30 * time.Second

// Session is one timed event. Status moves open → closed exactly once.
type Session struct {
	id          string
	kind        Kind
	description string
	unitPrice   decimal.Decimal
	maxEntries  int
	startTime   time.Time
	endTime     time.Time
	createdBy   string

	deps     Deps
	registry *EntryRegistry
	locks    keyedMutex

	mu            sync.Mutex
	status        Status
	inflight      sync.WaitGroup
	debitFailures []DebitFailure
	announced     bool
	settlement    *Settlement
	done          chan struct{}
}

// New validates p and returns an open session.
func New(p Params, deps Deps) (*Session, error) {
	deps = deps.withDefaults()
	now := deps.Clock()

	if p.Duration <= 0 {
		return nil, fmt.Errorf("duration %s: %w", p.Duration, ErrInvalidWindow)
	}

	switch p.Kind {
	case KindLottery:
		if !p.UnitPrice.IsPositive() || !p.UnitPrice.Equal(p.UnitPrice.Truncate(0)) {
			return nil, fmt.Errorf("ticket price must be a positive whole number: %w", ErrInvalidConfig)
		}
		if p.MaxEntries < 1 {
			return nil, fmt.Errorf("max tickets must be at least 1: %w", ErrInvalidConfig)
		}
		if deps.Ledger == nil {
			return nil, fmt.Errorf("lottery requires a ledger: %w", ErrInvalidConfig)
		}
	case KindGiveaway:
		p.UnitPrice = decimal.Zero
		p.MaxEntries = 1
	default:
		return nil, fmt.Errorf("unknown event kind %q: %w", p.Kind, ErrInvalidConfig)
	}

	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate event id: %w", err)
	}

	return &Session{
		id:          id,
		kind:        p.Kind,
		description: strings.TrimSpace(p.Description),
		unitPrice:   p.UnitPrice,
		maxEntries:  p.MaxEntries,
		startTime:   now,
		endTime:     now.Add(p.Duration),
		createdBy:   p.CreatedBy,
		deps:        deps,
		registry:    NewEntryRegistry(p.MaxEntries),
		status:      StatusOpen,
		done:        make(chan struct{}),
	}, nil
}

func (s *Session) ID() string           { return s.id }
func (s *Session) Kind() Kind           { return s.kind }
func (s *Session) Description() string  { return s.description }
func (s *Session) EndTime() time.Time   { return s.endTime }
func (s *Session) StartTime() time.Time { return s.startTime }

// Done is closed once settlement has finished.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Settlement returns nil until the session has been settled.
func (s *Session) Settlement() *Settlement {
	select {
	case <-s.done:
		return s.settlement
	default:
		return nil
	}
}

func (s *Session) now() time.Time {
	return s.deps.Clock()
}

// SubmitEntry admits one entry for participantID and returns the participant's new count.
// For lotteries the ticket price is debited after admission.
func (s *Session) SubmitEntry(ctx context.Context, participantID, requestID string) (int, error) {
	if participantID == "" {
		return 0, ErrEmptyParticipant
	}

	// 同じ参加者のリクエストは引き落としが終わるまで直列化する
	unlock := s.locks.Lock(participantID)
	defer unlock()

	// 処理済みのリクエストは締め切り後でも前回の結果を返す
	if count, ok := s.PreviousAdmission(participantID, requestID); ok {
		logger.Debug("Duplicate entry request ignored",
			zap.String("event_id", s.id),
			zap.String("participant", participantID),
			zap.String("request_id", requestID))
		return count, nil
	}

	var account ledger.AccountRef
	if s.kind == KindLottery {
		if s.Status() != StatusOpen {
			return 0, ErrSessionClosed
		}
		ref, err := s.deps.Ledger.ResolveAccount(ctx, participantID)
		if err != nil {
			return 0, err
		}
		account = ref
	}

	s.mu.Lock()
	now := s.now()
	if s.status != StatusOpen || !now.Before(s.endTime) {
		s.mu.Unlock()
		return 0, ErrSessionClosed
	}
	adm, err := s.registry.TryAdmit(participantID, requestID, now)
	if err != nil {
		s.mu.Unlock()
		if s.kind == KindGiveaway && errors.Is(err, ErrCapReached) {
			return 0, ErrAlreadyJoined
		}
		return 0, err
	}
	charge := s.kind == KindLottery && !adm.Duplicate
	if charge {
		s.inflight.Add(1)
	}
	s.mu.Unlock()

	if adm.Duplicate {
		logger.Debug("Duplicate entry request ignored",
			zap.String("event_id", s.id),
			zap.String("participant", participantID),
			zap.String("request_id", requestID))
		return adm.Count, nil
	}

	if charge {
		defer s.inflight.Done()
		s.debitTicket(ctx, account, adm.Count)
	}

	logger.Info("Entry admitted",
		zap.String("event_id", s.id),
		zap.String("kind", string(s.kind)),
		zap.String("participant", participantID),
		zap.Int("count", adm.Count))
	return adm.Count, nil
}

// PreviousAdmission returns the count an already processed (participantID, requestID) was admitted with.
func (s *Session) PreviousAdmission(participantID, requestID string) (int, bool) {
	adm, ok := s.registry.Lookup(participantID, requestID)
	return adm.Count, ok
}

// debitTicket charges one ticket. A failure leaves the entry in place for reconciliation.
func (s *Session) debitTicket(ctx context.Context, account ledger.AccountRef, n int) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerCallTimeout)
	defer cancel()

	amount := s.unitPrice.IntPart()
	op := ledger.Operation{
		ID:      ledger.OperationID(fmt.Sprintf("session/%s/entry/%s/%d", s.id, account.Identity, n)),
		Account: account,
		Amount:  amount,
		Note:    fmt.Sprintf("Balance decrease: %d for Lottery", amount),
	}
	if err := s.deps.Ledger.Debit(ctx, op); err != nil {
		logger.Error("Ticket debit failed, entry kept for reconciliation",
			zap.String("event_id", s.id),
			zap.String("participant", account.Identity),
			zap.String("account", account.Account),
			zap.Int("ticket", n),
			zap.Int64("amount", amount),
			zap.Error(err))

		s.mu.Lock()
		s.debitFailures = append(s.debitFailures, DebitFailure{
			ParticipantID: account.Identity,
			Ticket:        n,
			Amount:        amount,
			Reason:        err.Error(),
		})
		s.mu.Unlock()
	}
}

// ForceClose settles the session. Only the first call runs settlement and returns ran=true;
// later calls wait for it and return the same settlement.
func (s *Session) ForceClose(ctx context.Context) (*Settlement, bool) {
	s.mu.Lock()
	if s.status == StatusClosed {
		s.mu.Unlock()
		select {
		case <-s.done:
			return s.settlement, false
		case <-ctx.Done():
			return nil, false
		}
	}
	s.status = StatusClosed
	s.mu.Unlock()

	logger.Info("Closing event", zap.String("event_id", s.id), zap.String("kind", string(s.kind)))

	s.settle(context.WithoutCancel(ctx))
	close(s.done)
	return s.settlement, true
}

func (s *Session) settle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Settlement panicked",
				zap.String("event_id", s.id),
				zap.Any("panic", r))
			st := s.newSettlement(0, 0)
			st.Outcome = OutcomeFailed
			st.Error = fmt.Sprint(r)
			s.settlement = st
			s.announceFinal(st)
		}
	}()

	// 引き落とし中のチケットを待ってから締める
	s.inflight.Wait()
	counts := s.registry.Freeze()

	total := 0
	for _, c := range counts {
		total += c
	}
	st := s.newSettlement(total, len(counts))

	switch {
	case len(counts) == 0:
		st.Outcome = OutcomeNoParticipants
	case s.kind == KindLottery:
		s.settleLottery(ctx, st, counts)
	default:
		s.settleGiveaway(st)
	}

	s.settlement = st
	s.recordHistory(ctx, st)
	s.announceFinal(st)
	s.logUnpaid(st)
}

func (s *Session) newSettlement(total, participants int) *Settlement {
	s.mu.Lock()
	debitFailures := append([]DebitFailure(nil), s.debitFailures...)
	s.mu.Unlock()

	return &Settlement{
		SessionID:      s.id,
		Kind:           s.kind,
		Description:    s.description,
		TotalEntries:   total,
		Participants:   participants,
		UnitPrice:      s.unitPrice,
		PrizePool:      s.unitPrice.Mul(decimal.NewFromInt(int64(total))),
		Placements:     []Placement{},
		PayoutFailures: []PayoutFailure{},
		DebitFailures:  debitFailures,
		SettledAt:      s.now(),
	}
}

func (s *Session) settleGiveaway(st *Settlement) {
	winner, err := lottery.DrawOne(s.registry.Participants(), s.deps.Random)
	if err != nil {
		logger.Error("Giveaway draw failed", zap.String("event_id", s.id), zap.Error(err))
		st.Outcome = OutcomeFailed
		st.Error = err.Error()
		return
	}

	st.Outcome = OutcomeWinners
	st.Prize = s.description
	st.Placements = append(st.Placements, Placement{
		Place:         1,
		ParticipantID: winner,
		Entries:       1,
		Reward:        decimal.Zero,
	})
}

func (s *Session) announceFinal(st *Settlement) {
	s.mu.Lock()
	if s.announced {
		s.mu.Unlock()
		return
	}
	s.announced = true
	s.mu.Unlock()

	if s.deps.Sink == nil {
		return
	}
	s.deps.Sink.Announce(s.id, notification.Notice{
		Type:    notification.TypeSessionSettled,
		Kind:    string(s.kind),
		Message: SettlementMessage(st),
		Data:    st,
	})
}

func (s *Session) recordHistory(ctx context.Context, st *Settlement) {
	if s.deps.History == nil {
		return
	}
	if err := s.deps.History.RecordSettlement(ctx, st); err != nil {
		logger.Error("Failed to record event history", zap.String("event_id", s.id), zap.Error(err))
	}
}

func (s *Session) logUnpaid(st *Settlement) {
	for _, f := range st.PayoutFailures {
		logger.Error("Unpaid settlement payout",
			zap.String("event_id", s.id),
			zap.String("participant", f.ParticipantID),
			zap.Int("place", f.Place),
			zap.Int64("amount", f.Amount),
			zap.String("reason", f.Reason))
	}
	for _, f := range st.DebitFailures {
		logger.Error("Uncollected ticket debit",
			zap.String("event_id", s.id),
			zap.String("participant", f.ParticipantID),
			zap.Int("ticket", f.Ticket),
			zap.Int64("amount", f.Amount),
			zap.String("reason", f.Reason))
	}
}
