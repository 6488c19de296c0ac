package coordinator

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dreamware/ledgermesh/internal/bankerr"
	"github.com/dreamware/ledgermesh/internal/cluster"
	"github.com/dreamware/ledgermesh/internal/platform/httputil"
	"github.com/dreamware/ledgermesh/internal/platform/metrics"
)

// API is the coordinator's client-facing HTTP surface.
type API struct {
	dir        *PartitionDirectory
	balances   *BalanceRouter
	transfers  *TransferCoordinator
	reconciler *ReconciliationAggregator
	health     *HealthMonitor
	log        *zap.Logger
}

// NewAPI wires the three services over dir and ch. health may be nil.
func NewAPI(dir *PartitionDirectory, ch RemoteCaller, minReplicas int, health *HealthMonitor, log *zap.Logger, m *metrics.Metrics) *API {
	return &API{
		dir:        dir,
		balances:   NewBalanceRouter(dir, ch, log),
		transfers:  NewTransferCoordinator(dir, ch, minReplicas, log, m),
		reconciler: NewReconciliationAggregator(dir, ch, log, m),
		health:     health,
		log:        log.Named("api"),
	}
}

// Register mounts the endpoints on r.
func (a *API) Register(r chi.Router) {
	r.Get("/balance", a.handleBalance)
	r.Post("/transfer", a.handleTransfer)
	r.Get("/reconciliation", a.handleReconciliation)
	r.Get("/nodes", a.handleNodes)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteText(w, http.StatusOK, "OK")
	})
}

func (a *API) handleBalance(w http.ResponseWriter, r *http.Request) {
	accountID := strings.TrimSpace(r.URL.Query().Get(cluster.ParamAccountID))
	if accountID == "" {
		httputil.WriteError(w, bankerr.New(bankerr.KindBadRequest, "Missing accountId parameter"))
		return
	}

	bal, err := a.balances.BalanceOf(r.Context(), accountID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteText(w, http.StatusOK, fmt.Sprintf("Balance for account %s: %s", accountID, bal.Amount.StringFixed(2)))
}

func (a *API) handleTransfer(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httputil.WriteError(w, bankerr.Wrap(bankerr.KindBadRequest, err, "malformed form body"))
		return
	}
	source := strings.TrimSpace(r.PostForm.Get(cluster.ParamSourceAccount))
	dest := strings.TrimSpace(r.PostForm.Get(cluster.ParamDestAccount))
	rawAmount := strings.TrimSpace(r.PostForm.Get(cluster.ParamAmount))
	if source == "" || dest == "" || rawAmount == "" {
		httputil.WriteError(w, bankerr.New(bankerr.KindBadRequest,
			"Missing parameters: sourceAccount, destAccount and amount are required"))
		return
	}
	amount, err := decimal.NewFromString(rawAmount)
	if err != nil || !amount.IsPositive() {
		httputil.WriteError(w, bankerr.New(bankerr.KindBadRequest, "Invalid amount %q: must be a positive number", rawAmount))
		return
	}
	if !amount.Equal(amount.Round(2)) {
		httputil.WriteError(w, bankerr.New(bankerr.KindBadRequest, "Invalid amount %q: at most two decimal places", rawAmount))
		return
	}

	res, err := a.transfers.Transfer(r.Context(), source, dest, amount)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteText(w, http.StatusOK, res.Message)
}

func (a *API) handleReconciliation(w http.ResponseWriter, r *http.Request) {
	res, err := a.reconciler.Reconcile(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteText(w, http.StatusOK, "Total system reconciliation: "+res.Total.StringFixed(2))
}

type nodeView struct {
	cluster.NodeInfo
	Health *NodeHealth `json:"health,omitempty"`
}

func (a *API) handleNodes(w http.ResponseWriter, _ *http.Request) {
	nodes := a.dir.Nodes()
	var health map[string]*NodeHealth
	if a.health != nil {
		health = a.health.GetAllNodeHealth()
	}
	views := make([]nodeView, len(nodes))
	for i, n := range nodes {
		views[i] = nodeView{NodeInfo: n, Health: health[n.ID]}
	}
	httputil.WriteJSON(w, http.StatusOK, struct {
		Nodes      []nodeView     `json:"nodes"`
		Partitions map[string]int `json:"partitions"`
		Count      int            `json:"count"`
	}{Nodes: views, Partitions: a.dir.Partitions(), Count: len(views)})
}
