package node

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dreamware/ledgermesh/internal/cluster"
	"github.com/dreamware/ledgermesh/internal/ledger"
	"github.com/dreamware/ledgermesh/internal/platform/httpserver"
)

func newTestNode(t *testing.T) (http.Handler, *ledger.MemoryStore) {
	t.Helper()
	log := zaptest.NewLogger(t)
	store := ledger.NewMemoryStore(map[string]decimal.Decimal{
		"41": decimal.RequireFromString("150.00"),
		"43": decimal.RequireFromString("50.00"),
	})
	n := New(ledger.NewEngine("worker-db-0", store, log, nil), log)
	r := httpserver.NewRouter(log, 8, time.Second)
	n.Register(r)
	return r, store
}

func postForm(h http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHandleBalance(t *testing.T) {
	h, _ := newTestNode(t)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"existing account", "/worker/balance?accountId=41", http.StatusOK, "150.00"},
		{"unknown account", "/worker/balance?accountId=77", http.StatusNotFound, "Account 77 not found"},
		{"missing parameter", "/worker/balance", http.StatusBadRequest, "Missing accountId parameter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(h, tt.path)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantBody, rec.Body.String())
		})
	}
}

func TestHandleTransferConfirmed(t *testing.T) {
	h, store := newTestNode(t)

	rec := postForm(h, cluster.PathTransfer, url.Values{
		cluster.ParamSourceAccount: {"41"},
		cluster.ParamDestAccount:   {"43"},
		cluster.ParamAmount:        {"100.00"},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "CONFIRMED: transfer TXN-worker-db-0-"), rec.Body.String())
	assert.Contains(t, rec.Body.String(), "of 100.00 from 41 to 43")

	bal, _, _ := store.Balance(context.Background(), "41")
	assert.Equal(t, "50.00", bal.StringFixed(2))
}

func TestHandleTransferErrors(t *testing.T) {
	tests := []struct {
		name       string
		form       url.Values
		wantStatus int
		wantPrefix string
	}{
		{
			name:       "insufficient funds",
			form:       url.Values{"sourceAccount": {"43"}, "destAccount": {"41"}, "amount": {"75.00"}},
			wantStatus: http.StatusConflict,
			wantPrefix: "ERROR: REJECTED_INSUFFICIENT_FUNDS - insufficient funds in account 43 (transaction TXN-worker-db-0-",
		},
		{
			name:       "unknown source",
			form:       url.Values{"sourceAccount": {"99"}, "destAccount": {"41"}, "amount": {"1.00"}},
			wantStatus: http.StatusNotFound,
			wantPrefix: "ERROR: ERROR - source account 99 not found",
		},
		{
			name:       "unknown destination",
			form:       url.Values{"sourceAccount": {"41"}, "destAccount": {"98"}, "amount": {"1.00"}},
			wantStatus: http.StatusNotFound,
			wantPrefix: "ERROR: ERROR - destination account 98 not found",
		},
		{
			name:       "bad amount",
			form:       url.Values{"sourceAccount": {"41"}, "destAccount": {"43"}, "amount": {"ten"}},
			wantStatus: http.StatusBadRequest,
			wantPrefix: "ERROR: ERROR - invalid amount",
		},
		{
			name:       "missing field",
			form:       url.Values{"sourceAccount": {"41"}, "amount": {"1.00"}},
			wantStatus: http.StatusBadRequest,
			wantPrefix: "ERROR: ERROR - sourceAccount, destAccount and amount are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, store := newTestNode(t)

			rec := postForm(h, cluster.PathTransfer, tt.form)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.True(t, strings.HasPrefix(rec.Body.String(), tt.wantPrefix), rec.Body.String())

			total, err := store.PartialTotal(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "200.00", total.StringFixed(2))
		})
	}
}

func TestHandlePartialTotalAndHealth(t *testing.T) {
	h, _ := newTestNode(t)

	rec := get(h, cluster.PathPartialTotal)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "200.00", rec.Body.String())

	rec = get(h, cluster.PathHealth)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestHandleInfoAndTransactions(t *testing.T) {
	h, _ := newTestNode(t)
	postForm(h, cluster.PathTransfer, url.Values{"sourceAccount": {"41"}, "destAccount": {"43"}, "amount": {"10.00"}})
	get(h, "/worker/balance?accountId=41")

	rec := get(h, cluster.PathInfo)
	require.Equal(t, http.StatusOK, rec.Code)
	var info struct {
		NodeID string                `json:"node_id"`
		Ops    ledger.OperationStats `json:"operations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "worker-db-0", info.NodeID)
	assert.Equal(t, uint64(1), info.Ops.Transfers)
	assert.Equal(t, uint64(1), info.Ops.Balances)

	rec = get(h, cluster.PathTransactions)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Transactions []ledger.TransferRecord `json:"transactions"`
		Count        int                     `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, ledger.StatusConfirmed, list.Transactions[0].Status)
	assert.Equal(t, "10", list.Transactions[0].Amount.String())
}

func TestWrongMethodIs405(t *testing.T) {
	h, _ := newTestNode(t)

	rec := get(h, cluster.PathTransfer)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = postForm(h, cluster.PathBalance, url.Values{})
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPing(t *testing.T) {
	log := zaptest.NewLogger(t)
	n := New(ledger.NewEngine("w", ledger.NewMemoryStore(nil), log, nil), log)
	assert.NoError(t, n.Ping(context.Background()))
}
