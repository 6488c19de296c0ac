package cluster

import (
	"fmt"
	"strings"
)

// Worker endpoint paths shared by the coordinator and the nodes.
const (
	PathBalance      = "/worker/balance"
	PathTransfer     = "/worker/transfer"
	PathPartialTotal = "/worker/partial-total"
	PathHealth       = "/worker/health"
	PathInfo         = "/worker/info"
	PathTransactions = "/worker/transactions"
)

// Form and query parameter names on both tiers.
const (
	ParamAccountID     = "accountId"
	ParamSourceAccount = "sourceAccount"
	ParamDestAccount   = "destAccount"
	ParamAmount        = "amount"
)

// ConfirmationPrefix starts every successful worker transfer reply. The
// coordinator counts a replica as confirming only when its 2xx body has it.
const ConfirmationPrefix = "CONFIRMED"

// NodeInfo identifies a worker node and the partitions it serves.
type NodeInfo struct {
	ID         string   `json:"id"`
	Addr       string   `json:"addr"`
	Partitions []string `json:"partitions,omitempty"`
}

func (n NodeInfo) String() string {
	return fmt.Sprintf("%s@%s", n.ID, n.Addr)
}

// BaseURL normalizes addr to a scheme-qualified URL without a trailing slash.
// Both "host:port" and "http://host:port/" forms are accepted.
func BaseURL(addr string) string {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return strings.TrimRight(addr, "/")
}
