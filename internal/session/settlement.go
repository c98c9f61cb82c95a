package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nantokaworks/guild-raffle/internal/ledger"
	"github.com/nantokaworks/guild-raffle/internal/lottery"
	"github.com/nantokaworks/guild-raffle/internal/shared/logger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Outcome string

const (
	OutcomeWinners        Outcome = "winners"
	OutcomeNoParticipants Outcome = "no_participants"
	OutcomeFailed         Outcome = "failed"
)

// Placement is one paid place. Paid is the whole-unit amount actually credited.
type Placement struct {
	Place         int             `json:"place"`
	ParticipantID string          `json:"participant_id"`
	Entries       int             `json:"entries"`
	Reward        decimal.Decimal `json:"reward"`
	Paid          int64           `json:"paid"`
}

// PayoutFailure is a credit that could not be applied after retries.
type PayoutFailure struct {
	ParticipantID string `json:"participant_id"`
	Place         int    `json:"place"`
	Amount        int64  `json:"amount"`
	Reason        string `json:"reason"`
}

// DebitFailure is a ticket whose price could not be collected.
type DebitFailure struct {
	ParticipantID string `json:"participant_id"`
	Ticket        int    `json:"ticket"`
	Amount        int64  `json:"amount"`
	Reason        string `json:"reason"`
}

// Settlement is the final report of a session.
type Settlement struct {
	SessionID      string          `json:"session_id"`
	Kind           Kind            `json:"kind"`
	Outcome        Outcome         `json:"outcome"`
	Description    string          `json:"description,omitempty"`
	TotalEntries   int             `json:"total_entries"`
	Participants   int             `json:"participants"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	PrizePool      decimal.Decimal `json:"prize_pool"`
	Fee            decimal.Decimal `json:"fee"`
	FeePaid        int64           `json:"fee_paid"`
	Unclaimed      decimal.Decimal `json:"unclaimed"`
	Dust           decimal.Decimal `json:"dust"`
	Placements     []Placement     `json:"placements"`
	PayoutFailures []PayoutFailure `json:"payout_failures"`
	DebitFailures  []DebitFailure  `json:"debit_failures,omitempty"`
	Prize          string          `json:"prize,omitempty"`
	SettledAt      time.Time       `json:"settled_at"`
	Error          string          `json:"error,omitempty"`
}

// Winners returns the participant ids in place order.
func (st *Settlement) Winners() []string {
	out := make([]string, 0, len(st.Placements))
	for _, p := range st.Placements {
		out = append(out, p.ParticipantID)
	}
	return out
}

type payout struct {
	place    int
	identity string
	reward   decimal.Decimal
	opKey    string
	note     string
}

func (s *Session) settleLottery(ctx context.Context, st *Settlement, counts map[string]int) {
	alloc, err := lottery.Allocate(counts, st.PrizePool, s.deps.FeeRate, s.deps.Rule, s.deps.Random)
	if err != nil {
		logger.Error("Prize allocation failed", zap.String("event_id", s.id), zap.Error(err))
		st.Outcome = OutcomeFailed
		st.Error = err.Error()
		return
	}

	st.Outcome = OutcomeWinners
	st.Fee = alloc.Fee
	st.Unclaimed = alloc.Unclaimed

	payouts := make([]payout, 0, len(alloc.Winners)+1)
	if s.deps.HouseAccount != "" && alloc.Fee.IsPositive() {
		payouts = append(payouts, payout{
			place:    0,
			identity: s.deps.HouseAccount,
			reward:   alloc.Fee,
			opKey:    fmt.Sprintf("session/%s/fee", s.id),
			note:     "Balance increase: %d Lottery fee",
		})
	}
	for i, winner := range alloc.Winners {
		st.Placements = append(st.Placements, Placement{
			Place:         i + 1,
			ParticipantID: winner,
			Entries:       counts[winner],
			Reward:        alloc.Rewards[i],
		})
		payouts = append(payouts, payout{
			place:    i + 1,
			identity: winner,
			reward:   alloc.Rewards[i],
			opKey:    fmt.Sprintf("session/%s/payout/%d", s.id, i+1),
			note:     "Balance increase: %d Win in Lottery",
		})
	}

	var (
		mu   sync.Mutex
		g    errgroup.Group
		dust = decimal.Zero
	)
	g.SetLimit(s.deps.PayoutConcurrency)

	for _, p := range payouts {
		p := p
		g.Go(func() error {
			paid, err := s.credit(ctx, p)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				st.PayoutFailures = append(st.PayoutFailures, PayoutFailure{
					ParticipantID: p.identity,
					Place:         p.place,
					Amount:        p.reward.IntPart(),
					Reason:        err.Error(),
				})
				return nil
			}
			dust = dust.Add(p.reward.Sub(decimal.NewFromInt(paid)))
			if p.place == 0 {
				st.FeePaid = paid
			} else {
				st.Placements[p.place-1].Paid = paid
			}
			return nil
		})
	}
	// 個々の失敗は収集済みなのでエラーは返らない
	_ = g.Wait()
	sort.Slice(st.PayoutFailures, func(i, j int) bool {
		return st.PayoutFailures[i].Place < st.PayoutFailures[j].Place
	})
	st.Dust = dust
}

// credit pays the whole-unit part of p.reward. Rewards below one unit are not sent.
func (s *Session) credit(ctx context.Context, p payout) (int64, error) {
	amount := p.reward.IntPart()
	if amount <= 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, ledgerCallTimeout)
	defer cancel()

	ref, err := s.deps.Ledger.ResolveAccount(ctx, p.identity)
	if err != nil {
		return 0, err
	}
	err = s.deps.Ledger.Credit(ctx, ledger.Operation{
		ID:      ledger.OperationID(p.opKey),
		Account: ref,
		Amount:  amount,
		Note:    fmt.Sprintf(p.note, amount),
	})
	if err != nil {
		return 0, err
	}

	logger.Info("Settlement payout applied",
		zap.String("event_id", s.id),
		zap.String("participant", p.identity),
		zap.Int("place", p.place),
		zap.Int64("amount", amount))
	return amount, nil
}
