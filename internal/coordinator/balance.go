package coordinator

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dreamware/ledgermesh/internal/bankerr"
	"github.com/dreamware/ledgermesh/internal/cluster"
)

// RemoteCaller is the part of *cluster.Channel the coordinator services use.
type RemoteCaller interface {
	Get(ctx context.Context, addr, path string, params map[string]string) (string, error)
	PostAsync(ctx context.Context, addr, path string, form map[string]string) *cluster.Future
}

// Balance is a successful balance read.
type Balance struct {
	AccountID string
	Amount    decimal.Decimal
	// Node is the replica that answered.
	Node string
}

// BalanceRouter serves balance reads with ordered failover.
type BalanceRouter struct {
	dir *PartitionDirectory
	ch  RemoteCaller
	log *zap.Logger
}

func NewBalanceRouter(dir *PartitionDirectory, ch RemoteCaller, log *zap.Logger) *BalanceRouter {
	return &BalanceRouter{dir: dir, ch: ch, log: log.Named("balance")}
}

// BalanceOf asks the account's replicas one at a time, in registration
// order, and returns the first answer. A 404 from a replica is authoritative
// and ends the search with AccountNotFound. Connectivity failures move on to
// the next replica; when none is left the result is ServiceUnavailable.
func (b *BalanceRouter) BalanceOf(ctx context.Context, accountID string) (Balance, error) {
	partition := b.dir.PartitionOf(accountID)
	replicas := b.dir.ReplicasOf(partition)
	if len(replicas) == 0 {
		return Balance{}, bankerr.New(bankerr.KindServiceUnavailable, "no replicas available for partition %s", partition)
	}

	params := map[string]string{cluster.ParamAccountID: accountID}
	for _, node := range replicas {
		if err := ctx.Err(); err != nil {
			return Balance{}, bankerr.Wrap(bankerr.KindServiceUnavailable, err, "balance lookup canceled")
		}

		body, err := b.ch.Get(ctx, node.Addr, cluster.PathBalance, params)
		if cluster.IsNotFound(err) {
			return Balance{}, bankerr.New(bankerr.KindAccountNotFound, "account %s not found", accountID)
		}
		if err != nil {
			b.log.Warn("replica failed, trying next",
				zap.String("node", node.ID), zap.String("partition", partition), zap.Error(err))
			continue
		}

		amount, err := decimal.NewFromString(strings.TrimSpace(body))
		if err != nil {
			b.log.Warn("replica sent unparsable balance, trying next",
				zap.String("node", node.ID), zap.String("body", body))
			continue
		}
		return Balance{AccountID: accountID, Amount: amount, Node: node.ID}, nil
	}

	return Balance{}, bankerr.New(bankerr.KindServiceUnavailable,
		"could not get balance for account %s: all replicas of %s failed", accountID, partition)
}
