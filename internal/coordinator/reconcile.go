package coordinator

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/ledgermesh/internal/bankerr"
	"github.com/dreamware/ledgermesh/internal/cluster"
	"github.com/dreamware/ledgermesh/internal/platform/metrics"
)

// NodeTotal is one node's contribution to a reconciliation.
type NodeTotal struct {
	Node  string
	Total decimal.Decimal
	Err   error
}

// Reconciliation is the summed result.
type Reconciliation struct {
	Total   decimal.Decimal
	PerNode []NodeTotal
	// Failed counts nodes that contributed zero because they did not answer.
	Failed int
}

// ReconciliationAggregator sums partial totals across every registered node.
// A node that fails contributes zero and the sum is still reported; because
// every replica holds a copy of its partition, the total counts each
// partition once per replica.
type ReconciliationAggregator struct {
	dir     *PartitionDirectory
	ch      RemoteCaller
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewReconciliationAggregator(dir *PartitionDirectory, ch RemoteCaller, log *zap.Logger, m *metrics.Metrics) *ReconciliationAggregator {
	return &ReconciliationAggregator{dir: dir, ch: ch, log: log.Named("reconcile"), metrics: m}
}

// Reconcile queries every node once, concurrently, and sums after all have
// completed.
func (a *ReconciliationAggregator) Reconcile(ctx context.Context) (Reconciliation, error) {
	nodes := a.dir.Nodes()
	if len(nodes) == 0 {
		return Reconciliation{}, bankerr.New(bankerr.KindServiceUnavailable, "no worker nodes registered")
	}

	parts := make([]NodeTotal, len(nodes))
	var g errgroup.Group
	for i, node := range nodes {
		g.Go(func() error {
			parts[i] = NodeTotal{Node: node.ID, Total: decimal.Zero}
			body, err := a.ch.Get(ctx, node.Addr, cluster.PathPartialTotal, nil)
			if err == nil {
				var total decimal.Decimal
				if total, err = decimal.NewFromString(strings.TrimSpace(body)); err == nil {
					parts[i].Total = total
					return nil
				}
			}
			parts[i].Err = err
			// nil unless the caller canceled
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return Reconciliation{}, bankerr.Wrap(bankerr.KindInternalAggregateFailure, err, "join partial totals")
	}

	res := Reconciliation{Total: decimal.Zero, PerNode: parts}
	for _, p := range parts {
		if p.Err != nil {
			res.Failed++
			a.metrics.IncReconciliationMissing()
			a.log.Warn("node contributed zero", zap.String("node", p.Node), zap.Error(p.Err))
			continue
		}
		res.Total = res.Total.Add(p.Total)
	}
	a.log.Info("reconciliation complete",
		zap.String("total", res.Total.StringFixed(2)), zap.Int("nodes", len(nodes)), zap.Int("failed", res.Failed))
	return res, nil
}
