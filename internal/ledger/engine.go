package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dreamware/ledgermesh/internal/bankerr"
	"github.com/dreamware/ledgermesh/internal/platform/metrics"
)

// OperationStats counts engine calls since start.
type OperationStats struct {
	Balances      uint64 `json:"balances"`
	Transfers     uint64 `json:"transfers"`
	Confirmed     uint64 `json:"confirmed"`
	Rejected      uint64 `json:"rejected"`
	Failed        uint64 `json:"failed"`
	PartialTotals uint64 `json:"partial_totals"`
}

// Engine applies the worker-local transfer protocol on top of a Store.
type Engine struct {
	workerID string
	store    Store
	log      *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	newID    func() string

	stats OperationStats
}

// NewEngine builds an engine for workerID. m may be nil.
func NewEngine(workerID string, store Store, log *zap.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		workerID: workerID,
		store:    store,
		log:      log.Named("ledger"),
		metrics:  m,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// WorkerID returns the id this engine stamps into transaction ids.
func (e *Engine) WorkerID() string { return e.workerID }

// NewTransactionID returns TXN-<worker>-<uuid>.
func (e *Engine) NewTransactionID() string {
	return fmt.Sprintf("TXN-%s-%s", e.workerID, e.newID())
}

// BalanceOf reads a balance outside any transaction.
func (e *Engine) BalanceOf(ctx context.Context, accountID string) (decimal.Decimal, bool, error) {
	atomic.AddUint64(&e.stats.Balances, 1)
	bal, found, err := e.store.Balance(ctx, accountID)
	if err != nil {
		return decimal.Zero, false, bankerr.Wrap(bankerr.KindPersistenceFailure, err, "read balance of %s", accountID)
	}
	return bal, found, nil
}

// Debit sets the source balance inside scope.
func (e *Engine) Debit(ctx context.Context, scope Scope, accountID string, newBalance decimal.Decimal) (bool, error) {
	return scope.SetBalance(ctx, accountID, newBalance)
}

// Credit sets the destination balance inside scope.
func (e *Engine) Credit(ctx context.Context, scope Scope, accountID string, newBalance decimal.Decimal) (bool, error) {
	return scope.SetBalance(ctx, accountID, newBalance)
}

// AppendRecord writes rec to the transaction log inside scope.
func (e *Engine) AppendRecord(ctx context.Context, scope Scope, rec TransferRecord) (bool, error) {
	return scope.AppendRecord(ctx, rec)
}

// Transfer moves amount from source to dest atomically. On success the
// returned record is CONFIRMED and persisted. On failure nothing is
// persisted; the record still carries the generated transaction id and the
// status the failure maps to, and the error is a *bankerr.Error with TxID set.
func (e *Engine) Transfer(ctx context.Context, source, dest string, amount decimal.Decimal) (rec TransferRecord, err error) {
	atomic.AddUint64(&e.stats.Transfers, 1)
	rec = TransferRecord{
		TransactionID: e.NewTransactionID(),
		Source:        source,
		Dest:          dest,
		Amount:        amount,
		Timestamp:     e.now().UTC(),
	}
	log := e.log.With(zap.String("txn", rec.TransactionID), zap.String("source", source), zap.String("dest", dest))

	defer func() {
		if err == nil {
			atomic.AddUint64(&e.stats.Confirmed, 1)
			e.metrics.IncLedgerTransfer(string(StatusConfirmed))
			log.Info("transfer confirmed", zap.String("amount", amount.StringFixed(2)))
			return
		}
		rec.Status = StatusError
		if bankerr.KindOf(err) == bankerr.KindInsufficientFunds {
			rec.Status = StatusRejectedInsufficientFunds
			atomic.AddUint64(&e.stats.Rejected, 1)
		} else {
			atomic.AddUint64(&e.stats.Failed, 1)
		}
		e.metrics.IncLedgerTransfer(string(rec.Status))
		log.Warn("transfer failed", zap.String("status", string(rec.Status)), zap.Error(err))

		var be *bankerr.Error
		if errors.As(err, &be) {
			err = be.WithTx(rec.TransactionID)
		} else {
			err = bankerr.Wrap(bankerr.KindPersistenceFailure, err, "transfer failed").WithTx(rec.TransactionID)
		}
	}()

	if !amount.IsPositive() {
		return rec, bankerr.New(bankerr.KindBadRequest, "amount must be positive, got %s", amount.String())
	}

	scope, err := e.store.Begin(ctx)
	if err != nil {
		return rec, bankerr.Wrap(bankerr.KindPersistenceFailure, err, "open transaction")
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := scope.Rollback(); rbErr != nil && !errors.Is(rbErr, ErrScopeDone) {
			log.Error("rollback failed", zap.Error(rbErr))
		}
	}()

	srcBal, found, err := scope.Balance(ctx, source)
	if err != nil {
		return rec, bankerr.Wrap(bankerr.KindPersistenceFailure, err, "read balance of %s", source)
	}
	if !found {
		return rec, bankerr.New(bankerr.KindAccountNotFound, "source account %s not found", source)
	}
	if srcBal.LessThan(amount) {
		return rec, bankerr.New(bankerr.KindInsufficientFunds, "insufficient funds in account %s", source)
	}

	if ok, err := e.Debit(ctx, scope, source, srcBal.Sub(amount)); err != nil || !ok {
		return rec, persistence(err, "debit %s", source)
	}

	dstBal, found, err := scope.Balance(ctx, dest)
	if err != nil {
		return rec, bankerr.Wrap(bankerr.KindPersistenceFailure, err, "read balance of %s", dest)
	}
	if !found {
		return rec, bankerr.New(bankerr.KindAccountNotFound, "destination account %s not found", dest)
	}

	if ok, err := e.Credit(ctx, scope, dest, dstBal.Add(amount)); err != nil || !ok {
		return rec, persistence(err, "credit %s", dest)
	}

	rec.Status = StatusConfirmed
	if ok, err := e.AppendRecord(ctx, scope, rec); err != nil || !ok {
		return rec, persistence(err, "record transaction")
	}

	if err := scope.Commit(); err != nil {
		return rec, bankerr.Wrap(bankerr.KindPersistenceFailure, err, "commit")
	}
	committed = true
	return rec, nil
}

// PartialTotal sums every balance held by this worker.
func (e *Engine) PartialTotal(ctx context.Context) (decimal.Decimal, error) {
	atomic.AddUint64(&e.stats.PartialTotals, 1)
	total, err := e.store.PartialTotal(ctx)
	if err != nil {
		return decimal.Zero, bankerr.Wrap(bankerr.KindPersistenceFailure, err, "partial total")
	}
	return total, nil
}

// Records returns the local transaction log.
func (e *Engine) Records(ctx context.Context) ([]TransferRecord, error) {
	recs, err := e.store.Records(ctx)
	if err != nil {
		return nil, bankerr.Wrap(bankerr.KindPersistenceFailure, err, "list transactions")
	}
	return recs, nil
}

// Stats returns a snapshot of the operation counters.
func (e *Engine) Stats() OperationStats {
	return OperationStats{
		Balances:      atomic.LoadUint64(&e.stats.Balances),
		Transfers:     atomic.LoadUint64(&e.stats.Transfers),
		Confirmed:     atomic.LoadUint64(&e.stats.Confirmed),
		Rejected:      atomic.LoadUint64(&e.stats.Rejected),
		Failed:        atomic.LoadUint64(&e.stats.Failed),
		PartialTotals: atomic.LoadUint64(&e.stats.PartialTotals),
	}
}

func persistence(err error, format string, args ...any) error {
	if err == nil {
		return bankerr.New(bankerr.KindPersistenceFailure, format+": no rows affected", args...)
	}
	return bankerr.Wrap(bankerr.KindPersistenceFailure, err, format, args...)
}
