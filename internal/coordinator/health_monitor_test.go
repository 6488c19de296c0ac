package coordinator

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dreamware/ledgermesh/internal/cluster"
)

func healthy(m *HealthMonitor, nodeID string) bool {
	h := m.GetNodeHealth(nodeID)
	return h != nil && h.Status == HealthHealthy
}

func newTestMonitor(t *testing.T, interval time.Duration) *HealthMonitor {
	t.Helper()
	ch := cluster.NewChannel(cluster.DefaultChannelConfig(), zaptest.NewLogger(t), nil)
	t.Cleanup(func() { _ = ch.Close(context.Background()) })
	m := NewHealthMonitor(ch, interval, zaptest.NewLogger(t))
	t.Cleanup(m.Stop)
	return m
}

// TestNewHealthMonitor verifies default thresholds.
func TestNewHealthMonitor(t *testing.T) {
	monitor := newTestMonitor(t, 5*time.Second)

	assert.Equal(t, 5*time.Second, monitor.interval)
	assert.Equal(t, 2*time.Second, monitor.timeout)
	assert.Equal(t, 3, monitor.maxFailures)
	assert.NotNil(t, monitor.checkFunc)
	assert.Len(t, monitor.nodes, 0)
}

// TestHealthMonitorProbesWorkerEndpoint runs the default check against a
// worker that answers on its health path and one that does not exist.
func TestHealthMonitorProbesWorkerEndpoint(t *testing.T) {
	var hits int
	var mu sync.Mutex
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		if r.URL.Path != cluster.PathHealth {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("OK"))
	}))
	defer worker.Close()
	dead := httptest.NewServer(http.NotFoundHandler())
	deadAddr := dead.URL
	dead.Close()

	monitor := newTestMonitor(t, 20*time.Millisecond)
	nodes := []cluster.NodeInfo{
		{ID: "worker-db-0", Addr: worker.URL},
		{ID: "worker-db-1", Addr: deadAddr},
	}
	monitor.Start(context.Background(), func() []cluster.NodeInfo { return nodes })

	require.Eventually(t, func() bool {
		h := monitor.GetNodeHealth("worker-db-1")
		return healthy(monitor, "worker-db-0") && h != nil && h.Status == HealthUnhealthy
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Greater(t, hits, 0)
	mu.Unlock()
}

// TestHealthMonitorNodeFailureAndRecovery drives a node down and back up.
func TestHealthMonitorNodeFailureAndRecovery(t *testing.T) {
	monitor := newTestMonitor(t, 20*time.Millisecond)

	var mu sync.Mutex
	down := false
	monitor.SetCheckFunction(func(_ context.Context, addr string) error {
		mu.Lock()
		defer mu.Unlock()
		if addr == "http://w1:8081" && down {
			return fmt.Errorf("node is down")
		}
		return nil
	})

	unhealthy := make(chan string, 4)
	monitor.SetOnUnhealthy(func(nodeID string) { unhealthy <- nodeID })

	nodes := []cluster.NodeInfo{
		{ID: "worker-db-0", Addr: "http://w1:8081"},
		{ID: "worker-db-1", Addr: "http://w2:8081"},
	}
	monitor.Start(context.Background(), func() []cluster.NodeInfo { return nodes })

	require.Eventually(t, func() bool { return healthy(monitor, "worker-db-0") }, time.Second, 5*time.Millisecond)

	mu.Lock()
	down = true
	mu.Unlock()

	select {
	case id := <-unhealthy:
		assert.Equal(t, "worker-db-0", id)
	case <-time.After(2 * time.Second):
		t.Fatal("unhealthy callback not invoked")
	}
	assert.True(t, healthy(monitor, "worker-db-1"))
	health := monitor.GetNodeHealth("worker-db-0")
	require.NotNil(t, health)
	assert.GreaterOrEqual(t, health.ConsecutiveFails, 3)

	mu.Lock()
	down = false
	mu.Unlock()

	require.Eventually(t, func() bool { return healthy(monitor, "worker-db-0") }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, monitor.GetNodeHealth("worker-db-0").ConsecutiveFails)
}

// TestHealthMonitorNodeRemoval forgets nodes that leave the provider's list.
func TestHealthMonitorNodeRemoval(t *testing.T) {
	monitor := newTestMonitor(t, 20*time.Millisecond)
	monitor.SetCheckFunction(func(context.Context, string) error { return nil })

	var mu sync.Mutex
	nodes := []cluster.NodeInfo{{ID: "a", Addr: "http://a"}, {ID: "b", Addr: "http://b"}}
	provider := func() []cluster.NodeInfo {
		mu.Lock()
		defer mu.Unlock()
		return append([]cluster.NodeInfo(nil), nodes...)
	}
	monitor.Start(context.Background(), provider)

	require.Eventually(t, func() bool { return len(monitor.GetAllNodeHealth()) == 2 }, time.Second, 5*time.Millisecond)

	mu.Lock()
	nodes = nodes[:1]
	mu.Unlock()

	require.Eventually(t, func() bool { return len(monitor.GetAllNodeHealth()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Nil(t, monitor.GetNodeHealth("b"))
}

// TestHealthMonitorStop returns promptly and stops checking.
func TestHealthMonitorStop(t *testing.T) {
	ch := cluster.NewChannel(cluster.DefaultChannelConfig(), zaptest.NewLogger(t), nil)
	defer ch.Close(context.Background())
	monitor := NewHealthMonitor(ch, 10*time.Millisecond, zaptest.NewLogger(t))

	var mu sync.Mutex
	calls := 0
	monitor.SetCheckFunction(func(context.Context, string) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})
	monitor.Start(nil, func() []cluster.NodeInfo { return []cluster.NodeInfo{{ID: "a", Addr: "http://a"}} })
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		monitor.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}

	mu.Lock()
	after := calls
	mu.Unlock()
	time.Sleep(40 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, after, calls)
	mu.Unlock()
}

// TestHealthMonitorGetNodeHealthReturnsCopy guards the internal records.
func TestHealthMonitorGetNodeHealthReturnsCopy(t *testing.T) {
	monitor := newTestMonitor(t, time.Hour)
	monitor.SetCheckFunction(func(context.Context, string) error { return nil })
	monitor.checkAllNodes(context.Background(), []cluster.NodeInfo{{ID: "a", Addr: "http://a"}})

	h := monitor.GetNodeHealth("a")
	require.NotNil(t, h)
	h.Status = "tampered"

	assert.Equal(t, HealthHealthy, monitor.GetNodeHealth("a").Status)
	assert.Nil(t, monitor.GetNodeHealth("missing"))
	assert.False(t, healthy(monitor, "missing"))
}

// TestHealthMonitorStopRightAfterStart must not race the loop's registration.
func TestHealthMonitorStopRightAfterStart(t *testing.T) {
	for i := 0; i < 50; i++ {
		monitor := newTestMonitor(t, time.Hour)
		monitor.SetCheckFunction(func(context.Context, string) error { return nil })
		monitor.Start(context.Background(), func() []cluster.NodeInfo { return nil })
		monitor.Stop()
	}
}
