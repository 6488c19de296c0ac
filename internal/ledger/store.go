package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the outcome recorded for a transfer attempt.
type Status string

const (
	StatusConfirmed                 Status = "CONFIRMED"
	StatusRejectedInsufficientFunds Status = "REJECTED_INSUFFICIENT_FUNDS"
	StatusError                     Status = "ERROR"
)

// TransferRecord is one row of a worker's transaction log. Immutable once written.
type TransferRecord struct {
	TransactionID string          `json:"transaction_id"`
	Source        string          `json:"source_account"`
	Dest          string          `json:"dest_account"`
	Amount        decimal.Decimal `json:"amount"`
	Timestamp     time.Time       `json:"timestamp"`
	Status        Status          `json:"status"`
}

// ErrScopeDone is returned when a scope is used after Commit or Rollback.
var ErrScopeDone = errors.New("ledger scope already finished")

// Store is a worker's local account ledger.
type Store interface {
	// Balance reads an account outside any scope. found is false when the
	// account does not exist.
	Balance(ctx context.Context, accountID string) (balance decimal.Decimal, found bool, err error)
	// PartialTotal sums every local balance.
	PartialTotal(ctx context.Context) (decimal.Decimal, error)
	// Records lists the local transaction log, oldest first.
	Records(ctx context.Context) ([]TransferRecord, error)
	// Begin opens an exclusive transactional scope. Writes made through the
	// scope are invisible outside it until Commit.
	Begin(ctx context.Context) (Scope, error)
}

// Scope is one open transaction. Exactly one of Commit or Rollback ends it.
type Scope interface {
	Balance(ctx context.Context, accountID string) (balance decimal.Decimal, found bool, err error)
	// SetBalance overwrites a balance. ok is false when no such account exists.
	SetBalance(ctx context.Context, accountID string, balance decimal.Decimal) (ok bool, err error)
	AppendRecord(ctx context.Context, rec TransferRecord) (ok bool, err error)
	Commit() error
	Rollback() error
}
