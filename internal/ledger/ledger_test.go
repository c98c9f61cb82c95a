package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nantokaworks/guild-raffle/internal/localdb"
)

func setupLedgerTestDB(t *testing.T) {
	t.Helper()

	if localdb.DBClient != nil {
		_ = localdb.CloseDB()
	}
	if _, err := localdb.SetupDB(filepath.Join(t.TempDir(), "local.db")); err != nil {
		t.Fatalf("SetupDB failed: %v", err)
	}
	t.Cleanup(func() {
		_ = localdb.CloseDB()
	})
}

func fastRetry(tries uint) RetryConfig {
	return RetryConfig{MaxTries: tries, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestOperationIDIsDeterministic(t *testing.T) {
	a := OperationID("session/abc/payout/1")
	b := OperationID("session/abc/payout/1")
	c := OperationID("session/abc/payout/2")

	if a != b {
		t.Fatalf("same key produced different ids: %s != %s", a, b)
	}
	if a == c {
		t.Fatalf("different keys produced the same id: %s", a)
	}
}

func TestSQLiteLedgerCreditDebit(t *testing.T) {
	setupLedgerTestDB(t)
	ctx := context.Background()

	if err := localdb.UpsertLedgerAccount("Alice", "alice"); err != nil {
		t.Fatalf("UpsertLedgerAccount failed: %v", err)
	}

	l := NewSQLiteLedger()
	ref, err := l.ResolveAccount(ctx, "alice")
	if err != nil {
		t.Fatalf("ResolveAccount failed: %v", err)
	}
	if ref.Account != "Alice" {
		t.Fatalf("unexpected account: got=%q want=%q", ref.Account, "Alice")
	}

	credit := Operation{ID: OperationID("t/credit"), Account: ref, Amount: 40, Note: "Balance increase: 40 Win in Lottery"}
	if err := l.Credit(ctx, credit); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	// 同じIDの再送は二重計上されない
	if err := l.Credit(ctx, credit); err != nil {
		t.Fatalf("Credit retry failed: %v", err)
	}
	if err := l.Debit(ctx, Operation{ID: OperationID("t/debit"), Account: ref, Amount: 15, Note: "Balance decrease: 15 for Lottery"}); err != nil {
		t.Fatalf("Debit failed: %v", err)
	}

	bal, err := l.Balance(ctx, ref)
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if bal.Bonus != 40 || bal.Deducts != 15 || bal.Net != 25 {
		t.Fatalf("unexpected balance: %+v", bal)
	}

	if _, err := l.ResolveAccount(ctx, "nobody"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("unexpected resolve error: got=%v want=%v", err, ErrAccountNotFound)
	}
	if err := l.Credit(ctx, Operation{ID: "zero", Account: ref}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("unexpected zero amount error: got=%v want=%v", err, ErrInvalidAmount)
	}
}

func TestRetryingRecoversFromTransientFailures(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryLedger()
	mem.AddAccount("Bob", "bob")
	mem.FailNext("Bob", 2)

	l := NewRetrying(mem, fastRetry(3))
	ref, err := l.ResolveAccount(ctx, "bob")
	if err != nil {
		t.Fatalf("ResolveAccount failed: %v", err)
	}

	if err := l.Credit(ctx, Operation{ID: "op", Account: ref, Amount: 7, Note: "n"}); err != nil {
		t.Fatalf("Credit should succeed on third attempt: %v", err)
	}
	if got := mem.Calls("Bob"); got != 3 {
		t.Fatalf("unexpected call count: got=%d want=3", got)
	}

	bal, _ := mem.Balance(ctx, ref)
	if bal.Bonus != 7 {
		t.Fatalf("unexpected bonus: got=%d want=7", bal.Bonus)
	}
}

func TestRetryingGivesUpAfterMaxTries(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryLedger()
	mem.AddAccount("Carol", "carol")
	mem.FailNext("Carol", -1)

	l := NewRetrying(mem, fastRetry(3))
	err := l.Debit(ctx, Operation{ID: "op", Account: AccountRef{Identity: "carol", Account: "Carol"}, Amount: 1})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("unexpected error: got=%v want=%v", err, ErrUnavailable)
	}
	if got := mem.Calls("Carol"); got != 3 {
		t.Fatalf("unexpected call count: got=%d want=3", got)
	}
}

func TestRetryingDoesNotRetryPermanentErrors(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryLedger()

	l := NewRetrying(mem, fastRetry(5))
	err := l.Credit(ctx, Operation{ID: "op", Account: AccountRef{Account: "Ghost"}, Amount: 1})
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("unexpected error: got=%v want=%v", err, ErrAccountNotFound)
	}
	if got := mem.Calls("Ghost"); got != 1 {
		t.Fatalf("permanent error was retried: calls=%d", got)
	}
}

func TestRetryingRetriesResolveAccount(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryLedger()
	mem.AddAccount("Dave", "dave")
	mem.FailResolveNext("dave", 2)

	l := NewRetrying(mem, fastRetry(3))
	ref, err := l.ResolveAccount(ctx, "dave")
	if err != nil {
		t.Fatalf("ResolveAccount should succeed on third attempt: %v", err)
	}
	if ref.Account != "Dave" {
		t.Fatalf("unexpected account: got=%q want=Dave", ref.Account)
	}
	if got := mem.ResolveCalls("dave"); got != 3 {
		t.Fatalf("unexpected resolve calls: got=%d want=3", got)
	}
}

func TestRetryingResolveGivesUp(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryLedger()
	mem.AddAccount("Erin", "erin")
	mem.FailResolveNext("erin", -1)

	l := NewRetrying(mem, fastRetry(3))
	if _, err := l.ResolveAccount(ctx, "erin"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("unexpected error: got=%v want=%v", err, ErrUnavailable)
	}
	if got := mem.ResolveCalls("erin"); got != 3 {
		t.Fatalf("unexpected resolve calls: got=%d want=3", got)
	}
}

func TestRetryingResolveUnknownIsPermanent(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryLedger()

	l := NewRetrying(mem, fastRetry(5))
	if _, err := l.ResolveAccount(ctx, "ghost"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("unexpected error: got=%v want=%v", err, ErrAccountNotFound)
	}
	if got := mem.ResolveCalls("ghost"); got != 1 {
		t.Fatalf("permanent error was retried: calls=%d", got)
	}
}
