package lottery

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimals(t *testing.T, label string, got []decimal.Decimal, want ...string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: unexpected length: got=%d want=%d", label, len(got), len(want))
	}
	for i := range want {
		if !got[i].Equal(dec(want[i])) {
			t.Fatalf("%s[%d]: got=%s want=%s", label, i, got[i], want[i])
		}
	}
}

func TestAllocateThreeWinners(t *testing.T) {
	entries := map[string]int{"p1": 2, "p2": 1, "p3": 3, "p4": 1, "p5": 0}
	pool := dec("10").Mul(decimal.NewFromInt(7))

	alloc, err := Allocate(entries, pool, dec("0.05"), RuleUniform, NewScriptedRandom(0, 0, 0))
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	if !alloc.Fee.Equal(dec("3.5")) {
		t.Fatalf("unexpected fee: got=%s want=3.5", alloc.Fee)
	}
	if !alloc.Remaining.Equal(dec("66.5")) {
		t.Fatalf("unexpected remaining: got=%s want=66.5", alloc.Remaining)
	}
	assertDecimals(t, "rewards", alloc.Rewards, "33.25", "23.275", "6.65")
	if len(alloc.Winners) != 3 || alloc.Winners[0] != "p1" || alloc.Winners[1] != "p2" || alloc.Winners[2] != "p3" {
		t.Fatalf("unexpected winners: %v", alloc.Winners)
	}
	if !alloc.Total().Equal(pool) {
		t.Fatalf("allocation does not add up: got=%s want=%s", alloc.Total(), pool)
	}
}

func TestAllocateSingleWinnerTakesRemaining(t *testing.T) {
	alloc, err := Allocate(map[string]int{"solo": 7}, dec("70"), dec("0.05"), RuleUniform, NewScriptedRandom(0))
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	assertDecimals(t, "rewards", alloc.Rewards, "66.5")
	if alloc.Winners[0] != "solo" {
		t.Fatalf("unexpected winner: %v", alloc.Winners)
	}
	if !alloc.Unclaimed.IsZero() {
		t.Fatalf("unexpected unclaimed: got=%s want=0", alloc.Unclaimed)
	}
}

func TestAllocateTwoWinnersFoldThirdIntoFirst(t *testing.T) {
	alloc, err := Allocate(map[string]int{"a": 1, "b": 1}, dec("20"), dec("0.05"), RuleUniform, NewScriptedRandom(1, 0))
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	// remaining 19 → 60% / 35%
	assertDecimals(t, "rewards", alloc.Rewards, "11.4", "6.65")
	if alloc.Winners[0] != "b" || alloc.Winners[1] != "a" {
		t.Fatalf("unexpected winners: %v", alloc.Winners)
	}
	if !alloc.Total().Equal(dec("20")) {
		t.Fatalf("allocation does not add up: got=%s", alloc.Total())
	}
}

func TestAllocateNoParticipants(t *testing.T) {
	alloc, err := Allocate(map[string]int{}, decimal.Zero, dec("0.05"), RuleUniform, NewScriptedRandom())
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if len(alloc.Winners) != 0 || len(alloc.Rewards) != 0 {
		t.Fatalf("unexpected winners for empty entries: %+v", alloc)
	}
}

func TestAllocateSumsExactlyForAnyWinnerCount(t *testing.T) {
	rng := NewSeededRandom(7)
	prices := []string{"10", "3.33", "0.07", "125.5"}

	for n := 0; n <= 6; n++ {
		for _, price := range prices {
			entries := map[string]int{}
			total := 0
			for i := 0; i < n; i++ {
				count := i%3 + 1
				entries[string(rune('a'+i))] = count
				total += count
			}
			pool := dec(price).Mul(decimal.NewFromInt(int64(total)))

			for _, rule := range []Rule{RuleUniform, RuleWeighted} {
				alloc, err := Allocate(entries, pool, dec("0.05"), rule, rng)
				if err != nil {
					t.Fatalf("Allocate(n=%d price=%s rule=%s) failed: %v", n, price, rule, err)
				}
				if !alloc.Total().Equal(pool) {
					t.Fatalf("n=%d price=%s rule=%s: total=%s pool=%s", n, price, rule, alloc.Total(), pool)
				}
				wantWinners := n
				if wantWinners > MaxWinners {
					wantWinners = MaxWinners
				}
				if len(alloc.Winners) != wantWinners {
					t.Fatalf("n=%d: unexpected winner count: got=%d want=%d", n, len(alloc.Winners), wantWinners)
				}
				seen := map[string]bool{}
				for _, w := range alloc.Winners {
					if seen[w] {
						t.Fatalf("duplicate winner %q", w)
					}
					seen[w] = true
				}
			}
		}
	}
}

func TestAllocateRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		pool string
		rate string
	}{
		{name: "negative pool", pool: "-1", rate: "0.05"},
		{name: "negative rate", pool: "10", rate: "-0.01"},
		{name: "rate of one", pool: "10", rate: "1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Allocate(map[string]int{"a": 1}, dec(tc.pool), dec(tc.rate), RuleUniform, SecureRandom{})
			if !errors.Is(err, ErrInvalidAllocation) {
				t.Fatalf("unexpected error: got=%v want=%v", err, ErrInvalidAllocation)
			}
		})
	}
}

func TestSharesSumWithinRemaining(t *testing.T) {
	for n := 1; n <= MaxWinners; n++ {
		sum := decimal.Zero
		for _, s := range Shares(n) {
			sum = sum.Add(s)
		}
		if sum.GreaterThan(decimal.NewFromInt(1)) {
			t.Fatalf("shares for %d winners exceed 1: %s", n, sum)
		}
	}
}
