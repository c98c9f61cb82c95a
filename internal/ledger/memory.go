package ledger

import (
	"context"
	"fmt"
	"sync"
)

// MemoryLedger is an in-process Ledger. Failures can be injected per account.
type MemoryLedger struct {
	mu         sync.Mutex
	identities map[string]string
	balances   map[string]*Balance
	notes      map[string][]string
	applied    map[string]struct{}
	failures   map[string]int
	calls      map[string]int
	// identityごとの解決失敗回数と呼び出し回数
	resolveFailures map[string]int
	resolveCalls    map[string]int
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		identities: make(map[string]string),
		balances:   make(map[string]*Balance),
		notes:      make(map[string][]string),
		applied:    make(map[string]struct{}),
		failures:   make(map[string]int),
		calls:      make(map[string]int),

		resolveFailures: make(map[string]int),
		resolveCalls:    make(map[string]int),
	}
}

// AddAccount creates account and links identities to it.
func (m *MemoryLedger) AddAccount(account string, identities ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.balances[account]; !ok {
		m.balances[account] = &Balance{Account: account}
	}
	m.identities[account] = account
	for _, id := range identities {
		m.identities[id] = account
	}
}

// FailNext makes the next n Debit/Credit calls against account fail with ErrUnavailable.
// n < 0 fails forever.
func (m *MemoryLedger) FailNext(account string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[account] = n
}

// FailResolveNext makes the next n ResolveAccount calls for identity fail with ErrUnavailable.
// n < 0 fails forever.
func (m *MemoryLedger) FailResolveNext(identity string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolveFailures[identity] = n
}

func (m *MemoryLedger) ResolveCalls(identity string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolveCalls[identity]
}

// Calls returns how many Debit/Credit calls reached account.
func (m *MemoryLedger) Calls(account string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[account]
}

// Notes returns the audit notes appended to account.
func (m *MemoryLedger) Notes(account string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.notes[account]...)
}

func (m *MemoryLedger) ResolveAccount(ctx context.Context, identity string) (AccountRef, error) {
	if err := ctx.Err(); err != nil {
		return AccountRef{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resolveCalls[identity]++
	if n := m.resolveFailures[identity]; n != 0 {
		if n > 0 {
			m.resolveFailures[identity] = n - 1
		}
		return AccountRef{}, fmt.Errorf("%s: %w", identity, ErrUnavailable)
	}

	account, ok := m.identities[identity]
	if !ok {
		return AccountRef{}, fmt.Errorf("%s: %w", identity, ErrAccountNotFound)
	}
	return AccountRef{Identity: identity, Account: account}, nil
}

func (m *MemoryLedger) Debit(ctx context.Context, op Operation) error {
	return m.apply(ctx, op, false)
}

func (m *MemoryLedger) Credit(ctx context.Context, op Operation) error {
	return m.apply(ctx, op, true)
}

func (m *MemoryLedger) apply(ctx context.Context, op Operation, credit bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if op.Amount <= 0 {
		return ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	account := op.Account.Account
	m.calls[account]++

	if n := m.failures[account]; n != 0 {
		if n > 0 {
			m.failures[account] = n - 1
		}
		return fmt.Errorf("%s: %w", account, ErrUnavailable)
	}

	bal, ok := m.balances[account]
	if !ok {
		return fmt.Errorf("%s: %w", account, ErrAccountNotFound)
	}
	if _, done := m.applied[op.ID]; done {
		return nil
	}
	m.applied[op.ID] = struct{}{}

	if credit {
		bal.Bonus += op.Amount
	} else {
		bal.Deducts += op.Amount
	}
	bal.Net = bal.Bonus - bal.Deducts
	m.notes[account] = append(m.notes[account], op.Note)
	return nil
}

func (m *MemoryLedger) Balance(ctx context.Context, ref AccountRef) (Balance, error) {
	if err := ctx.Err(); err != nil {
		return Balance{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.balances[ref.Account]
	if !ok {
		return Balance{}, fmt.Errorf("%s: %w", ref.Account, ErrAccountNotFound)
	}
	return *bal, nil
}
