package session

import (
	"time"

	"github.com/nantokaworks/guild-raffle/internal/lottery"
	"github.com/nantokaworks/guild-raffle/internal/notification"
	"github.com/shopspring/decimal"
)

// Snapshot is a read-only view of a session for rendering.
type Snapshot struct {
	ID               string            `json:"id"`
	Kind             Kind              `json:"kind"`
	Status           Status            `json:"status"`
	Description      string            `json:"description"`
	UnitPrice        decimal.Decimal   `json:"unit_price"`
	MaxEntries       int               `json:"max_entries"`
	TotalEntriesSold int               `json:"total_entries_sold"`
	Participants     int               `json:"participants"`
	Entries          []Entry           `json:"entries"`
	PrizePool        decimal.Decimal   `json:"prize_pool"`
	ProjectedFee     decimal.Decimal   `json:"projected_fee"`
	ProjectedRewards []decimal.Decimal `json:"projected_rewards"`
	StartTime        time.Time         `json:"start_time"`
	EndTime          time.Time         `json:"end_time"`
	TimeRemaining    time.Duration     `json:"time_remaining"`
	CreatedBy        string            `json:"created_by"`
}

func (s *Session) Snapshot() Snapshot {
	status := s.Status()
	entries := s.registry.Entries()

	total := 0
	for _, e := range entries {
		total += e.Count
	}
	pool := s.unitPrice.Mul(decimal.NewFromInt(int64(total)))

	snap := Snapshot{
		ID:               s.id,
		Kind:             s.kind,
		Status:           status,
		Description:      s.description,
		UnitPrice:        s.unitPrice,
		MaxEntries:       s.maxEntries,
		TotalEntriesSold: total,
		Participants:     len(entries),
		Entries:          entries,
		PrizePool:        pool,
		ProjectedFee:     decimal.Zero,
		ProjectedRewards: []decimal.Decimal{},
		StartTime:        s.startTime,
		EndTime:          s.endTime,
		CreatedBy:        s.createdBy,
	}

	if status == StatusOpen {
		if remaining := s.endTime.Sub(s.now()); remaining > 0 {
			snap.TimeRemaining = remaining
		}
	}

	if s.kind == KindLottery {
		fee, remaining := lottery.SplitFee(pool, s.deps.FeeRate)
		snap.ProjectedFee = fee
		winners := len(entries)
		if winners > lottery.MaxWinners {
			winners = lottery.MaxWinners
		}
		for _, share := range lottery.Shares(winners) {
			snap.ProjectedRewards = append(snap.ProjectedRewards, remaining.Mul(share))
		}
	}
	return snap
}

// liveNotice builds the periodic live-state notice.
func (s *Session) liveNotice() notification.Notice {
	snap := s.Snapshot()
	return notification.Notice{
		Type:    notification.TypeLiveState,
		Kind:    string(s.kind),
		Message: LiveMessage(snap),
		Data:    snap,
	}
}
