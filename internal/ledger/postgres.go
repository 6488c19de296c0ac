package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Schema creates the three ledger tables when they are missing.
const Schema = `
CREATE TABLE IF NOT EXISTS clients (
	client_id   TEXT PRIMARY KEY,
	name        TEXT NOT NULL DEFAULT '',
	email       TEXT NOT NULL DEFAULT '',
	phone       TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS accounts (
	account_id  TEXT PRIMARY KEY,
	client_id   TEXT REFERENCES clients (client_id),
	balance     NUMERIC(15, 2) NOT NULL DEFAULT 0,
	kind        TEXT NOT NULL DEFAULT 'SAVINGS'
);

CREATE TABLE IF NOT EXISTS transactions (
	transaction_id TEXT PRIMARY KEY,
	source_account TEXT NOT NULL,
	dest_account   TEXT NOT NULL,
	amount         NUMERIC(15, 2) NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	status         TEXT NOT NULL
);
`

// OpenPostgres opens a lib/pq handle. The pool is transparent to the ledger:
// every scope still owns exactly one connection for its lifetime.
func OpenPostgres(dsn string, maxOpenConns int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// WaitForDatabase pings db with exponential backoff until it answers or
// maxElapsed passes.
func WaitForDatabase(ctx context.Context, db *sql.DB, log *zap.Logger, maxElapsed time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = maxElapsed

	return backoff.RetryNotify(func() error {
		return db.PingContext(ctx)
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		log.Warn("database not ready", zap.Error(err), zap.Duration("retry_in", next))
	})
}

// PostgresStore keeps the ledger in Postgres.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema applies Schema.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Seed provisions accounts that do not exist yet. Existing balances are kept.
func (p *PostgresStore) Seed(ctx context.Context, accounts map[string]decimal.Decimal) error {
	for id, bal := range accounts {
		if _, err := p.db.ExecContext(ctx,
			`INSERT INTO accounts (account_id, balance) VALUES ($1, $2) ON CONFLICT (account_id) DO NOTHING`,
			id, bal); err != nil {
			return fmt.Errorf("seed account %s: %w", id, err)
		}
	}
	return nil
}

func (p *PostgresStore) Balance(ctx context.Context, accountID string) (decimal.Decimal, bool, error) {
	return scanBalance(p.db.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE account_id = $1`, accountID))
}

func (p *PostgresStore) PartialTotal(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.Decimal
	if err := p.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(balance), 0) FROM accounts`).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("sum balances: %w", err)
	}
	return total, nil
}

func (p *PostgresStore) Records(ctx context.Context) ([]TransferRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT transaction_id, source_account, dest_account, amount, created_at, status
		FROM transactions ORDER BY created_at, transaction_id`)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []TransferRecord
	for rows.Next() {
		var rec TransferRecord
		var status string
		if err := rows.Scan(&rec.TransactionID, &rec.Source, &rec.Dest, &rec.Amount, &rec.Timestamp, &status); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		rec.Status = Status(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Begin(ctx context.Context) (Scope, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &pgScope{tx: tx}, nil
}

type pgScope struct {
	tx *sql.Tx
}

// Balance locks the row for the rest of the scope.
func (s *pgScope) Balance(ctx context.Context, accountID string) (decimal.Decimal, bool, error) {
	return scanBalance(s.tx.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE account_id = $1 FOR UPDATE`, accountID))
}

func (s *pgScope) SetBalance(ctx context.Context, accountID string, balance decimal.Decimal) (bool, error) {
	res, err := s.tx.ExecContext(ctx,
		`UPDATE accounts SET balance = $1 WHERE account_id = $2`, balance, accountID)
	return affected(res, err)
}

func (s *pgScope) AppendRecord(ctx context.Context, rec TransferRecord) (bool, error) {
	res, err := s.tx.ExecContext(ctx, `
		INSERT INTO transactions (transaction_id, source_account, dest_account, amount, created_at, status)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.TransactionID, rec.Source, rec.Dest, rec.Amount, rec.Timestamp, string(rec.Status))
	return affected(res, err)
}

func (s *pgScope) Commit() error {
	if err := s.tx.Commit(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return ErrScopeDone
		}
		return err
	}
	return nil
}

func (s *pgScope) Rollback() error {
	if err := s.tx.Rollback(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return ErrScopeDone
		}
		return err
	}
	return nil
}

func scanBalance(row *sql.Row) (decimal.Decimal, bool, error) {
	var bal decimal.Decimal
	switch err := row.Scan(&bal); {
	case errors.Is(err, sql.ErrNoRows):
		return decimal.Zero, false, nil
	case err != nil:
		return decimal.Zero, false, err
	}
	return bal, true, nil
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
