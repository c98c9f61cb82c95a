package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nantokaworks/guild-raffle/internal/ledger"
	"github.com/nantokaworks/guild-raffle/internal/lottery"
	"github.com/shopspring/decimal"
)

const houseAccount = "Lottery"

type allowList map[string]bool

func (a allowList) IsAuthorized(_ context.Context, identity string, _ bool) bool {
	return a[identity]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newTestLedger creates an account "acct-<id>" for each identity plus the house account.
func newTestLedger(identities ...string) *ledger.MemoryLedger {
	mem := ledger.NewMemoryLedger()
	mem.AddAccount(houseAccount)
	for _, id := range identities {
		mem.AddAccount("acct-"+id, id)
	}
	return mem
}

func testDeps(l ledger.Ledger, sink NotificationSink, rng lottery.RandomSource) Deps {
	return Deps{
		Ledger:            l,
		Sink:              sink,
		Random:            rng,
		HouseAccount:      houseAccount,
		FeeRate:           decimal.RequireFromString("0.05"),
		Rule:              lottery.RuleUniform,
		PayoutConcurrency: 4,
	}
}

func newTestLottery(t *testing.T, deps Deps, price int64, maxEntries int, d time.Duration) *Session {
	t.Helper()
	s, err := New(Params{
		Kind:        KindLottery,
		Description: "Weekly",
		UnitPrice:   decimal.NewFromInt(price),
		MaxEntries:  maxEntries,
		Duration:    d,
	}, deps)
	if err != nil {
		t.Fatalf("New lottery failed: %v", err)
	}
	return s
}

func balanceOf(t *testing.T, mem *ledger.MemoryLedger, account string) ledger.Balance {
	t.Helper()
	b, err := mem.Balance(context.Background(), ledger.AccountRef{Account: account})
	if err != nil {
		t.Fatalf("Balance(%s) failed: %v", account, err)
	}
	return b
}

func submitN(t *testing.T, s *Session, participant string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := s.SubmitEntry(context.Background(), participant, ""); err != nil {
			t.Fatalf("SubmitEntry(%s #%d) failed: %v", participant, i+1, err)
		}
	}
}

func waitDone(t *testing.T, s *Session, timeout time.Duration) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(timeout):
		t.Fatalf("session %s was not settled within %s", s.ID(), timeout)
	}
}

type panicRandom struct{}

func (panicRandom) Intn(int) (int, error) {
	panic("random source exploded")
}
