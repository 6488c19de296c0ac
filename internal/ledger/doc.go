// Package ledger is a worker node's local account ledger.
//
// Engine.Transfer runs the debit, credit and record steps inside one Scope
// and either commits all three or rolls all three back. Two Store
// implementations exist: PostgresStore for deployments and MemoryStore for
// local runs and tests. Money is shopspring/decimal throughout.
package ledger
