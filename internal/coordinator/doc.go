// Package coordinator implements the central node: it owns the partition
// directory and turns client requests into calls against worker replicas.
//
// # Overview
//
// The coordinator holds no account data. Every request is resolved to a
// partition, then to that partition's replicas, then answered from the
// replicas' replies:
//
//	┌────────┐  GET /balance     ┌───────────────┐  ordered failover   ┌──────────┐
//	│ client │ ────────────────▶ │ BalanceRouter │ ──────────────────▶ │ replica1 │
//	└────────┘                   └───────────────┘        then         │ replica2 │
//	     │     POST /transfer    ┌─────────────────────┐   fan-out     │ replica3 │
//	     ├─────────────────────▶ │ TransferCoordinator │ ────────────▶ │   ...    │
//	     │     GET /reconcile    ┌──────────────────────────┐          │          │
//	     └─────────────────────▶ │ ReconciliationAggregator │ ───────▶ │ all nodes│
//	                             └──────────────────────────┘          └──────────┘
//
// # Components
//
// PartitionDirectory: account id → partition key → ordered replica list.
// Routing uses the parity of the digits in the account id; registration order
// is preserved and registration is idempotent per node id.
//
// BalanceRouter: asks replicas one by one and returns the first answer. A
// replica's 404 ends the search with AccountNotFound.
//
// TransferCoordinator: sends the transfer to every replica concurrently,
// waits for all of them and accepts if any one confirmed. A partition with
// fewer than the configured minimum replicas is refused up front.
//
// ReconciliationAggregator: sums every node's partial total; a node that
// fails contributes zero.
//
// HealthMonitor: periodic probes of each worker's health endpoint, surfaced
// on GET /nodes. Routing never consults it.
//
// # Consistency
//
// Acceptance needs one confirming replica, failed replicas are not repaired
// and transfers whose destination lives in another partition are applied to
// the source partition's replicas only.
//
// # Concurrency
//
// All types are safe for concurrent use. Outbound calls go through a
// cluster.Channel whose pool is sized separately from the inbound handler
// pool.
package coordinator
