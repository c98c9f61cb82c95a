package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/nantokaworks/guild-raffle/internal/shared/logger"
	"go.uber.org/zap"
)

// RetryConfig bounds how hard a single ledger operation is retried.
type RetryConfig struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxTries:        3,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
	}
}

// Retrying wraps a Ledger and retries ResolveAccount, Debit and Credit with exponential backoff.
// ErrAccountNotFound and ErrInvalidAmount are not retried.
type Retrying struct {
	next Ledger
	cfg  RetryConfig
}

func NewRetrying(next Ledger, cfg RetryConfig) *Retrying {
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 1
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = DefaultRetryConfig().InitialInterval
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		cfg.MaxInterval = cfg.InitialInterval * 20
	}
	return &Retrying{next: next, cfg: cfg}
}

func (r *Retrying) ResolveAccount(ctx context.Context, identity string) (AccountRef, error) {
	return retry(ctx, r.cfg, "resolve", []zap.Field{zap.String("identity", identity)},
		func(ctx context.Context) (AccountRef, error) {
			return r.next.ResolveAccount(ctx, identity)
		})
}

func (r *Retrying) Balance(ctx context.Context, ref AccountRef) (Balance, error) {
	return r.next.Balance(ctx, ref)
}

func (r *Retrying) Debit(ctx context.Context, op Operation) error {
	return r.apply(ctx, "debit", op, r.next.Debit)
}

func (r *Retrying) Credit(ctx context.Context, op Operation) error {
	return r.apply(ctx, "credit", op, r.next.Credit)
}

func (r *Retrying) apply(ctx context.Context, kind string, op Operation, call func(context.Context, Operation) error) error {
	fields := []zap.Field{
		zap.String("op_id", op.ID),
		zap.String("account", op.Account.Account),
		zap.Int64("amount", op.Amount),
	}
	_, err := retry(ctx, r.cfg, kind, fields, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, call(ctx, op)
	})
	return err
}

// retry runs call with exponential backoff. ErrAccountNotFound and ErrInvalidAmount stop immediately.
func retry[T any](ctx context.Context, cfg RetryConfig, kind string, fields []zap.Field, call func(context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = cfg.MaxInterval

	attempt := 0
	v, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := call(ctx)
		if err == nil {
			return v, nil
		}
		if errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrInvalidAmount) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(cfg.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("Ledger operation failed, retrying", append([]zap.Field{
				zap.String("kind", kind),
				zap.Int("attempt", attempt),
				zap.Duration("next", next),
				zap.Error(err),
			}, fields...)...)
		}),
	)
	if err != nil {
		// 口座が無いのは想定内なのでエラーログにしない
		if !errors.Is(err, ErrAccountNotFound) {
			logger.Error("Ledger operation failed", append([]zap.Field{
				zap.String("kind", kind),
				zap.Int("attempts", attempt),
				zap.Error(err),
			}, fields...)...)
		}
		var zero T
		return zero, err
	}
	return v, nil
}
