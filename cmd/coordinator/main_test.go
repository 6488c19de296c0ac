package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dreamware/ledgermesh/internal/platform/config"
	"github.com/dreamware/ledgermesh/internal/platform/metrics"
)

func TestRootCommand(t *testing.T) {
	root := newRootCmd()

	start, _, err := root.Find([]string{"start"})
	require.NoError(t, err)
	assert.Equal(t, "start", start.Name())
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestStartFailsOnMissingConfig(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"start", "--config", filepath.Join(t.TempDir(), "absent.yaml")})
	root.SetOut(&nopWriter{})
	root.SetErr(&nopWriter{})

	err := root.ExecuteContext(context.Background())
	assert.ErrorContains(t, err, "read config")
}

func TestNewServerRegistersBootstrapNodes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coordinator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
nodes:
  - {id: worker-db-0, address: "http://127.0.0.1:18081", partitions: [Cuenta-P1]}
  - {id: worker-db-1, address: "http://127.0.0.1:18082", partitions: [Cuenta-P2]}
  - {id: worker-db-2, address: "http://127.0.0.1:18083", partitions: [Cuenta-P1]}
`), 0o600))
	cfg, err := config.LoadCoordinator(path)
	require.NoError(t, err)

	s, err := newServer(cfg, zaptest.NewLogger(t), metrics.New(prometheus.NewRegistry()))
	require.NoError(t, err)
	defer s.channel.Close(context.Background())

	assert.Len(t, s.dir.ReplicasOf("Cuenta-P1"), 2)

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nodes", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Count)

	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewServerRejectsInvalidNode(t *testing.T) {
	cfg, err := config.LoadCoordinator("")
	require.NoError(t, err)
	cfg.Nodes = []config.NodeEntry{{ID: "", Address: "http://x", Partitions: []string{"Cuenta-P1"}}}

	_, err = newServer(cfg, zaptest.NewLogger(t), nil)
	assert.Error(t, err)
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
