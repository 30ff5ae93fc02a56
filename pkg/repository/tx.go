package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultTxAttempts = 3
	defaultTxTimeout  = 10 * time.Second
)

// TxFunc runs inside a transaction. Returning an error rolls everything back.
type TxFunc func(tx *gorm.DB) error

// TxOption customises a TxRunner.
type TxOption func(*TxRunner)

// WithIsolation selects the isolation level by its config name. Empty or "default" keeps the
// driver's level.
func WithIsolation(name string) TxOption {
	return func(r *TxRunner) {
		if level, ok := isolationLevel(name); ok {
			r.opts = []*sql.TxOptions{{Isolation: level}}
		} else {
			r.opts = nil
		}
	}
}

func WithTxTimeout(timeout time.Duration) TxOption {
	return func(r *TxRunner) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// WithTxAttempts bounds how often a transaction is rerun after a deadlock or lock timeout.
func WithTxAttempts(attempts int) TxOption {
	return func(r *TxRunner) {
		if attempts > 0 {
			r.attempts = attempts
		}
	}
}

// TxRunner is the transaction boundary for multi-row writes.
type TxRunner struct {
	db       *gorm.DB
	logger   *zap.Logger
	opts     []*sql.TxOptions
	timeout  time.Duration
	attempts int
}

func NewTxRunner(db *gorm.DB, logger *zap.Logger, opts ...TxOption) *TxRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &TxRunner{
		db:       db,
		logger:   logger,
		timeout:  defaultTxTimeout,
		attempts: defaultTxAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// DB returns the handle for reads that need no transaction.
func (r *TxRunner) DB(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

// Run executes fn in a transaction, rerunning it on retryable failures.
func (r *TxRunner) Run(ctx context.Context, fn TxFunc) error {
	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		err = r.runOnce(ctx, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		r.logger.Warn("Transaction conflict, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.attempts),
			zap.Error(err))
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", r.attempts, err)
}

func (r *TxRunner) runOnce(ctx context.Context, fn TxFunc) error {
	txCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		txCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return r.db.WithContext(txCtx).Transaction(func(tx *gorm.DB) error {
		return fn(tx)
	}, r.opts...)
}

func isolationLevel(name string) (sql.IsolationLevel, bool) {
	switch name {
	case "read_committed":
		return sql.LevelReadCommitted, true
	case "repeatable_read":
		return sql.LevelRepeatableRead, true
	case "serializable":
		return sql.LevelSerializable, true
	}
	return sql.LevelDefault, false
}
