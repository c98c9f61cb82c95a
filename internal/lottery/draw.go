package lottery

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNoParticipants      = errors.New("no participants")
	ErrUnknownRule         = errors.New("unknown winner rule")
	errInvalidTicketsTotal = errors.New("invalid total tickets")
)

// Rule は当選者の選び方
type Rule string

const (
	// RuleUniform gives every distinct participant one equal chance.
	RuleUniform Rule = "uniform"
	// RuleWeighted gives each participant a chance proportional to entries held.
	RuleWeighted Rule = "weighted"
)

func ParseRule(s string) (Rule, error) {
	switch Rule(strings.ToLower(strings.TrimSpace(s))) {
	case "", RuleUniform:
		return RuleUniform, nil
	case RuleWeighted:
		return RuleWeighted, nil
	default:
		return "", fmt.Errorf("%q: %w", s, ErrUnknownRule)
	}
}

// Candidate は累積重み抽選に使用するエントリ。
type Candidate struct {
	ParticipantID string
	Entries       int
	CumulativeSum int
}

// candidatesFrom はID順に並べた抽選対象を返す（乱数列が同じなら結果も同じ）
func candidatesFrom(entries map[string]int) []Candidate {
	ids := make([]string, 0, len(entries))
	for id, count := range entries {
		if count > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	candidates := make([]Candidate, len(ids))
	for i, id := range ids {
		candidates[i] = Candidate{ParticipantID: id, Entries: entries[id]}
	}
	return candidates
}

// drawWinners picks up to n distinct winners without replacement.
func drawWinners(candidates []Candidate, n int, rule Rule, rng RandomSource) ([]string, error) {
	if n > len(candidates) {
		n = len(candidates)
	}
	pool := append([]Candidate(nil), candidates...)
	winners := make([]string, 0, n)

	for len(winners) < n {
		var idx int
		var err error
		switch rule {
		case RuleWeighted:
			idx, err = pickWeighted(pool, rng)
		case RuleUniform, "":
			idx, err = rng.Intn(len(pool))
		default:
			return nil, fmt.Errorf("%q: %w", rule, ErrUnknownRule)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to pick winner: %w", err)
		}
		if idx < 0 || idx >= len(pool) {
			return nil, errInvalidTicketsTotal
		}

		winners = append(winners, pool[idx].ParticipantID)
		pool = append(pool[:idx], pool[idx+1:]...)
	}
	return winners, nil
}

func pickWeighted(pool []Candidate, rng RandomSource) (int, error) {
	total := 0
	for i := range pool {
		total += pool[i].Entries
		pool[i].CumulativeSum = total
	}
	if total <= 0 {
		return 0, errInvalidTicketsTotal
	}

	picked, err := rng.Intn(total)
	if err != nil {
		return 0, err
	}

	target := picked + 1 // 1-based index
	idx := sort.Search(len(pool), func(i int) bool {
		return pool[i].CumulativeSum >= target
	})
	if idx >= len(pool) {
		return 0, errInvalidTicketsTotal
	}
	return idx, nil
}

// DrawOne picks a single giveaway winner uniformly.
func DrawOne(participants []string, rng RandomSource) (string, error) {
	seen := make(map[string]int, len(participants))
	for _, p := range participants {
		seen[p] = 1
	}
	if len(seen) == 0 {
		return "", ErrNoParticipants
	}

	winners, err := drawWinners(candidatesFrom(seen), 1, RuleUniform, rng)
	if err != nil {
		return "", err
	}
	return winners[0], nil
}
