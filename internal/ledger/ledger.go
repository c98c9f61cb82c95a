// Package ledger moves whole-unit balances between participants and the house.
package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrAccountNotFound は識別子に紐づく口座がない場合
	ErrAccountNotFound = errors.New("ledger account not found")
	ErrInvalidAmount   = errors.New("ledger amount must be positive")
	// ErrUnavailable is returned by backends that are temporarily unreachable.
	ErrUnavailable = errors.New("ledger unavailable")
)

// AccountRef は解決済みの口座
type AccountRef struct {
	Identity string `json:"identity"`
	Account  string `json:"account"`
}

// Operation is one balance change. ID makes retries idempotent.
type Operation struct {
	ID      string
	Account AccountRef
	Amount  int64
	Note    string
}

type Balance struct {
	Account string `json:"account"`
	Deducts int64  `json:"deducts"`
	Bonus   int64  `json:"bonus"`
	Net     int64  `json:"net"`
}

// Ledger is the external balance store.
type Ledger interface {
	ResolveAccount(ctx context.Context, identity string) (AccountRef, error)
	// Debit adds to the deducts column.
	Debit(ctx context.Context, op Operation) error
	// Credit adds to the bonus column.
	Credit(ctx context.Context, op Operation) error
	Balance(ctx context.Context, ref AccountRef) (Balance, error)
}

var opNamespace = uuid.MustParse("6f1c1c52-8f0e-4d3b-9a8e-0b7c5d2f4e11")

// OperationID derives a stable operation id from a logical key
// such as "session/<id>/payout/1".
func OperationID(key string) string {
	return uuid.NewSHA1(opNamespace, []byte(key)).String()
}
