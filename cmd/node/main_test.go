package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dreamware/ledgermesh/internal/ledger"
	"github.com/dreamware/ledgermesh/internal/platform/config"
	"github.com/dreamware/ledgermesh/internal/platform/metrics"
)

func memoryConfig(t *testing.T) config.Node {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
id: worker-db-0
ledger:
  driver: memory
  seed:
    "41": "150.00"
    "43": "50.00"
`), 0o600))
	cfg, err := config.LoadNode(path)
	require.NoError(t, err)
	return cfg
}

func TestRootCommand(t *testing.T) {
	root := newRootCmd()

	start, _, err := root.Find([]string{"start"})
	require.NoError(t, err)
	assert.Equal(t, "start", start.Name())
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestParseSeed(t *testing.T) {
	tests := []struct {
		name    string
		raw     map[string]string
		want    map[string]decimal.Decimal
		wantErr bool
	}{
		{"empty", nil, map[string]decimal.Decimal{}, false},
		{"valid", map[string]string{"41": "150.5"}, map[string]decimal.Decimal{"41": decimal.RequireFromString("150.5")}, false},
		{"not a number", map[string]string{"41": "lots"}, nil, true},
		{"negative", map[string]string{"41": "-1"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSeed(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, got, len(tt.want))
			for id, amount := range tt.want {
				assert.True(t, amount.Equal(got[id]), id)
			}
		})
	}
}

func TestOpenStoreMemory(t *testing.T) {
	cfg := memoryConfig(t)

	store, closeStore, err := openStore(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.IsType(t, &ledger.MemoryStore{}, store)
	assert.NoError(t, closeStore(context.Background()))

	total, err := store.PartialTotal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "200.00", total.StringFixed(2))
}

func TestOpenStorePostgresUnreachable(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the database backoff to give up")
	}
	cfg := memoryConfig(t)
	cfg.Ledger.Driver = "postgres"
	cfg.Database.Host = "127.0.0.1"
	cfg.Database.Port = 1
	cfg.Database.ConnectTimeout = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, _, err := openStore(ctx, cfg, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "unreachable")
}

func TestNewHandlerServesWorkerRoutes(t *testing.T) {
	cfg := memoryConfig(t)
	store, _, err := openStore(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	h, err := newHandler(context.Background(), cfg, store, zaptest.NewLogger(t), metrics.New(prometheus.NewRegistry()))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/worker/balance?accountId=41", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "150.00", rec.Body.String())

	form := url.Values{"sourceAccount": {"41"}, "destAccount": {"43"}, "amount": {"100"}}
	req := httptest.NewRequest(http.MethodPost, "/worker/transfer", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "CONFIRMED"), rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ledger_transfers_total")
}
