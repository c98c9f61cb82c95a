package lottery

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// MaxWinners is the number of paid places.
const MaxWinners = 3

var ErrInvalidAllocation = errors.New("invalid allocation input")

var (
	placeShares = []decimal.Decimal{
		decimal.RequireFromString("0.50"),
		decimal.RequireFromString("0.35"),
		decimal.RequireFromString("0.10"),
	}
	one = decimal.NewFromInt(1)
)

// Allocation is the prize split of one closed lottery.
// Fee + sum(Rewards) + Unclaimed == PrizePool.
type Allocation struct {
	Winners   []string          `json:"winners"`
	Rewards   []decimal.Decimal `json:"rewards"`
	PrizePool decimal.Decimal   `json:"prize_pool"`
	Fee       decimal.Decimal   `json:"fee"`
	Remaining decimal.Decimal   `json:"remaining"`
	Unclaimed decimal.Decimal   `json:"unclaimed"`
}

// SplitFee returns fee = pool × rate and the remainder.
func SplitFee(prizePool, feeRate decimal.Decimal) (fee, remaining decimal.Decimal) {
	fee = prizePool.Mul(feeRate)
	return fee, prizePool.Sub(fee)
}

// Shares returns each place's fraction of the remaining pool for n winners.
// 不在の順位の取り分は上位へ繰り入れる。1人なら残り全額。
func Shares(n int) []decimal.Decimal {
	switch {
	case n <= 0:
		return nil
	case n == 1:
		return []decimal.Decimal{one}
	case n == 2:
		return []decimal.Decimal{placeShares[0].Add(placeShares[2]), placeShares[1]}
	default:
		return append([]decimal.Decimal(nil), placeShares...)
	}
}

// Allocate draws up to three winners from entries and splits the pool.
func Allocate(entries map[string]int, prizePool, feeRate decimal.Decimal, rule Rule, rng RandomSource) (*Allocation, error) {
	if prizePool.IsNegative() {
		return nil, fmt.Errorf("prize pool %s: %w", prizePool, ErrInvalidAllocation)
	}
	if feeRate.IsNegative() || feeRate.GreaterThanOrEqual(one) {
		return nil, fmt.Errorf("fee rate %s: %w", feeRate, ErrInvalidAllocation)
	}

	fee, remaining := SplitFee(prizePool, feeRate)
	alloc := &Allocation{
		Winners:   []string{},
		Rewards:   []decimal.Decimal{},
		PrizePool: prizePool,
		Fee:       fee,
		Remaining: remaining,
		Unclaimed: remaining,
	}

	candidates := candidatesFrom(entries)
	if len(candidates) == 0 {
		return alloc, nil
	}

	winners, err := drawWinners(candidates, MaxWinners, rule, rng)
	if err != nil {
		return nil, err
	}

	paid := decimal.Zero
	for _, share := range Shares(len(winners)) {
		reward := remaining.Mul(share)
		alloc.Rewards = append(alloc.Rewards, reward)
		paid = paid.Add(reward)
	}
	alloc.Winners = winners
	alloc.Unclaimed = remaining.Sub(paid)
	return alloc, nil
}

// Total returns Fee + rewards + Unclaimed.
func (a *Allocation) Total() decimal.Decimal {
	total := a.Fee.Add(a.Unclaimed)
	for _, r := range a.Rewards {
		total = total.Add(r)
	}
	return total
}
