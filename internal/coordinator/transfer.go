package coordinator

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dreamware/ledgermesh/internal/bankerr"
	"github.com/dreamware/ledgermesh/internal/cluster"
	"github.com/dreamware/ledgermesh/internal/platform/metrics"
)

// TransferState tracks one coordinator-side transfer attempt.
type TransferState string

const (
	StateInitiated              TransferState = "INITIATED"
	StateReplicasResolved       TransferState = "REPLICAS_RESOLVED"
	StateAwaitingReplicaResults TransferState = "AWAITING_REPLICA_RESULTS"
	StateDecided                TransferState = "DECIDED"
)

// Decision is the client-visible outcome of a transfer attempt.
type Decision string

const (
	DecisionAccepted Decision = "ACCEPTED"
	DecisionRejected Decision = "REJECTED"
)

// ReplicaOutcome is one replica's answer. Exactly one of Confirmation and
// Err is meaningful.
type ReplicaOutcome struct {
	Node         cluster.NodeInfo
	Confirmation string
	Err          error
}

// Confirmed reports whether the replica applied the transfer.
func (o ReplicaOutcome) Confirmed() bool {
	return o.Err == nil && strings.HasPrefix(o.Confirmation, cluster.ConfirmationPrefix)
}

func (o ReplicaOutcome) detail() string {
	if o.Err != nil {
		return fmt.Sprintf("%s: %v", o.Node.ID, o.Err)
	}
	return fmt.Sprintf("%s: unexpected reply %q", o.Node.ID, o.Confirmation)
}

// TransferResult is the decided attempt.
type TransferResult struct {
	Partition string
	State     TransferState
	Decision  Decision
	// Message is the first confirming replica's text when accepted.
	Message  string
	Outcomes []ReplicaOutcome
}

// TransferCoordinator fans a transfer out to every replica of the source
// partition and decides one outcome.
//
// The acceptance rule is deliberately weak: a single confirming replica is
// enough. Replicas that failed are not compensated, so replicas of a
// partition may diverge.
type TransferCoordinator struct {
	dir         *PartitionDirectory
	ch          RemoteCaller
	minReplicas int
	log         *zap.Logger
	metrics     *metrics.Metrics
}

// NewTransferCoordinator builds a coordinator that refuses partitions with
// fewer than minReplicas replicas. m may be nil.
func NewTransferCoordinator(dir *PartitionDirectory, ch RemoteCaller, minReplicas int, log *zap.Logger, m *metrics.Metrics) *TransferCoordinator {
	return &TransferCoordinator{
		dir:         dir,
		ch:          ch,
		minReplicas: minReplicas,
		log:         log.Named("transfer"),
		metrics:     m,
	}
}

// Transfer routes by the source account only; a destination in another
// partition is not supported.
//
// Errors:
//   - ServiceUnavailable when the partition has fewer than minReplicas replicas
//   - RemoteCallFailure when no replica confirmed; the message joins every
//     replica's failure with "; "
func (c *TransferCoordinator) Transfer(ctx context.Context, source, dest string, amount decimal.Decimal) (TransferResult, error) {
	res := TransferResult{State: StateInitiated}
	res.Partition = c.dir.PartitionOf(source)
	replicas := c.dir.ReplicasOf(res.Partition)
	if len(replicas) < c.minReplicas {
		c.metrics.IncTransferDecision("UNAVAILABLE")
		return res, bankerr.New(bankerr.KindServiceUnavailable,
			"not enough replicas for partition %s: have %d, need %d", res.Partition, len(replicas), c.minReplicas)
	}
	res.State = StateReplicasResolved

	form := map[string]string{
		cluster.ParamSourceAccount: source,
		cluster.ParamDestAccount:   dest,
		cluster.ParamAmount:        amount.StringFixed(2),
	}
	// Replica writes are bounded by the channel's call timeout only; the
	// caller going away must not abort a write a replica may commit.
	callCtx := context.WithoutCancel(ctx)
	futures := make([]*cluster.Future, len(replicas))
	for i, node := range replicas {
		futures[i] = c.ch.PostAsync(callCtx, node.Addr, cluster.PathTransfer, form)
	}
	res.State = StateAwaitingReplicaResults

	res.Outcomes = make([]ReplicaOutcome, len(replicas))
	for i, f := range futures {
		body, err := f.Wait()
		res.Outcomes[i] = ReplicaOutcome{Node: replicas[i], Confirmation: body, Err: err}
	}
	res.State = StateDecided

	log := c.log.With(zap.String("partition", res.Partition), zap.String("source", source), zap.String("dest", dest))
	for _, o := range res.Outcomes {
		if o.Confirmed() {
			res.Decision = DecisionAccepted
			res.Message = o.Confirmation
			break
		}
	}
	if res.Decision == DecisionAccepted {
		c.metrics.IncTransferDecision(string(DecisionAccepted))
		for _, o := range res.Outcomes {
			if !o.Confirmed() {
				log.Warn("replica did not confirm accepted transfer", zap.String("node", o.Node.ID), zap.String("detail", o.detail()))
			}
		}
		log.Info("transfer accepted", zap.Int("replicas", len(replicas)))
		return res, nil
	}

	res.Decision = DecisionRejected
	c.metrics.IncTransferDecision(string(DecisionRejected))
	details := make([]string, len(res.Outcomes))
	for i, o := range res.Outcomes {
		details[i] = o.detail()
	}
	log.Warn("transfer rejected by every replica", zap.Strings("details", details))
	return res, bankerr.New(bankerr.KindRemoteCallFailure,
		"transfer could not be confirmed by any replica. Details: %s", strings.Join(details, "; "))
}
