// Package node serves a worker's ledger over HTTP.
package node

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dreamware/ledgermesh/internal/bankerr"
	"github.com/dreamware/ledgermesh/internal/cluster"
	"github.com/dreamware/ledgermesh/internal/ledger"
	"github.com/dreamware/ledgermesh/internal/platform/httputil"
)

// Node is a worker runtime: one engine and the handlers in front of it.
type Node struct {
	ID      string
	engine  *ledger.Engine
	log     *zap.Logger
	started time.Time
}

// New builds a Node around engine.
func New(engine *ledger.Engine, log *zap.Logger) *Node {
	return &Node{
		ID:      engine.WorkerID(),
		engine:  engine,
		log:     log.Named("node").With(zap.String("node", engine.WorkerID())),
		started: time.Now(),
	}
}

// Register mounts the worker endpoints on r.
func (n *Node) Register(r chi.Router) {
	r.Get(cluster.PathBalance, n.handleBalance)
	r.Post(cluster.PathTransfer, n.handleTransfer)
	r.Get(cluster.PathPartialTotal, n.handlePartialTotal)
	r.Get(cluster.PathHealth, n.handleHealth)
	r.Get(cluster.PathInfo, n.handleInfo)
	r.Get(cluster.PathTransactions, n.handleTransactions)
}

func (n *Node) handleBalance(w http.ResponseWriter, r *http.Request) {
	accountID := strings.TrimSpace(r.URL.Query().Get(cluster.ParamAccountID))
	if accountID == "" {
		httputil.WriteText(w, http.StatusBadRequest, "Missing accountId parameter")
		return
	}

	bal, found, err := n.engine.BalanceOf(r.Context(), accountID)
	if err != nil {
		n.log.Error("balance lookup failed", zap.String("account", accountID), zap.Error(err))
		httputil.WriteError(w, err)
		return
	}
	if !found {
		httputil.WriteText(w, http.StatusNotFound, fmt.Sprintf("Account %s not found", accountID))
		return
	}
	httputil.WriteText(w, http.StatusOK, bal.StringFixed(2))
}

// handleTransfer replies 200 "CONFIRMED: ..." or "ERROR: <STATUS> - <detail>"
// with the status mapped from the failure.
func (n *Node) handleTransfer(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httputil.WriteText(w, http.StatusBadRequest, "ERROR: "+string(ledger.StatusError)+" - malformed form body")
		return
	}
	source := strings.TrimSpace(r.PostForm.Get(cluster.ParamSourceAccount))
	dest := strings.TrimSpace(r.PostForm.Get(cluster.ParamDestAccount))
	rawAmount := strings.TrimSpace(r.PostForm.Get(cluster.ParamAmount))
	if source == "" || dest == "" || rawAmount == "" {
		httputil.WriteText(w, http.StatusBadRequest,
			"ERROR: "+string(ledger.StatusError)+" - sourceAccount, destAccount and amount are required")
		return
	}
	amount, err := decimal.NewFromString(rawAmount)
	if err != nil {
		httputil.WriteText(w, http.StatusBadRequest,
			fmt.Sprintf("ERROR: %s - invalid amount %q", ledger.StatusError, rawAmount))
		return
	}

	rec, err := n.engine.Transfer(r.Context(), source, dest, amount)
	if err != nil {
		httputil.WriteText(w, bankerr.HTTPStatus(bankerr.KindOf(err)),
			fmt.Sprintf("ERROR: %s - %s", rec.Status, bankerr.Message(err)))
		return
	}
	httputil.WriteText(w, http.StatusOK, fmt.Sprintf(
		"%s: transfer %s of %s from %s to %s completed on %s.",
		cluster.ConfirmationPrefix, rec.TransactionID, rec.Amount.StringFixed(2), rec.Source, rec.Dest, n.ID))
}

func (n *Node) handlePartialTotal(w http.ResponseWriter, r *http.Request) {
	total, err := n.engine.PartialTotal(r.Context())
	if err != nil {
		n.log.Error("partial total failed", zap.Error(err))
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteText(w, http.StatusOK, total.StringFixed(2))
}

func (n *Node) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteText(w, http.StatusOK, "OK")
}

func (n *Node) handleInfo(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, struct {
		NodeID string                `json:"node_id"`
		Uptime string                `json:"uptime"`
		Ops    ledger.OperationStats `json:"operations"`
	}{
		NodeID: n.ID,
		Uptime: time.Since(n.started).Round(time.Second).String(),
		Ops:    n.engine.Stats(),
	})
}

func (n *Node) handleTransactions(w http.ResponseWriter, r *http.Request) {
	recs, err := n.engine.Records(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if recs == nil {
		recs = []ledger.TransferRecord{}
	}
	httputil.WriteJSON(w, http.StatusOK, struct {
		NodeID       string                  `json:"node_id"`
		Transactions []ledger.TransferRecord `json:"transactions"`
		Count        int                     `json:"count"`
	}{NodeID: n.ID, Transactions: recs, Count: len(recs)})
}

// Ping reports whether the ledger answers; used by the boot sequence.
func (n *Node) Ping(ctx context.Context) error {
	_, err := n.engine.PartialTotal(ctx)
	return err
}
