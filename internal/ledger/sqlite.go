package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/nantokaworks/guild-raffle/internal/localdb"
	"github.com/nantokaworks/guild-raffle/internal/shared/logger"
	"go.uber.org/zap"
)

// SQLiteLedger stores balances in the local database.
type SQLiteLedger struct{}

func NewSQLiteLedger() *SQLiteLedger {
	return &SQLiteLedger{}
}

func (l *SQLiteLedger) ResolveAccount(ctx context.Context, identity string) (AccountRef, error) {
	if err := ctx.Err(); err != nil {
		return AccountRef{}, err
	}

	account, err := localdb.ResolveLedgerIdentity(identity)
	if errors.Is(err, localdb.ErrRecordNotFound) {
		return AccountRef{}, fmt.Errorf("%s: %w", identity, ErrAccountNotFound)
	}
	if err != nil {
		return AccountRef{}, err
	}
	return AccountRef{Identity: identity, Account: account}, nil
}

func (l *SQLiteLedger) Debit(ctx context.Context, op Operation) error {
	return l.apply(ctx, op, localdb.LedgerPurposeDeduct)
}

func (l *SQLiteLedger) Credit(ctx context.Context, op Operation) error {
	return l.apply(ctx, op, localdb.LedgerPurposeBonus)
}

func (l *SQLiteLedger) apply(ctx context.Context, op Operation, purpose localdb.LedgerPurpose) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if op.Amount <= 0 {
		return ErrInvalidAmount
	}

	applied, err := localdb.ApplyLedgerOperation(localdb.LedgerOperation{
		OpID:    op.ID,
		Account: op.Account.Account,
		Purpose: purpose,
		Amount:  op.Amount,
		Note:    op.Note,
	})
	if errors.Is(err, localdb.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", op.Account.Account, ErrAccountNotFound)
	}
	if err != nil {
		return err
	}
	if !applied {
		logger.Debug("Ledger operation already applied",
			zap.String("op_id", op.ID),
			zap.String("account", op.Account.Account))
	}
	return nil
}

func (l *SQLiteLedger) Balance(ctx context.Context, ref AccountRef) (Balance, error) {
	if err := ctx.Err(); err != nil {
		return Balance{}, err
	}

	row, err := localdb.GetLedgerAccount(ref.Account)
	if errors.Is(err, localdb.ErrRecordNotFound) {
		return Balance{}, fmt.Errorf("%s: %w", ref.Account, ErrAccountNotFound)
	}
	if err != nil {
		return Balance{}, err
	}
	return Balance{
		Account: row.Account,
		Deducts: row.Deducts,
		Bonus:   row.Bonus,
		Net:     row.Bonus - row.Deducts,
	}, nil
}
