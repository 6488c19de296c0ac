package coordinator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/ledgermesh/internal/cluster"
)

// Health states reported by the monitor.
const (
	HealthUnknown   = "unknown"
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
)

// NodeHealth tracks the health status of a single worker node.
// Thread-safe: Protected by HealthMonitor's mutex when accessed.
type NodeHealth struct {
	LastCheck        time.Time `json:"last_check"`        // Timestamp of the last check attempt
	LastHealthy      time.Time `json:"last_healthy"`      // Timestamp of the last successful check
	NodeID           string    `json:"node_id"`           // Unique identifier of the node
	Status           string    `json:"status"`            // "healthy", "unhealthy" or "unknown"
	ConsecutiveFails int       `json:"consecutive_fails"` // Consecutive failed checks
}

// HealthMonitor periodically probes every registered worker's health endpoint.
//
// The monitor is informational: it feeds the /nodes view and logs state
// changes. Replica order and the replica-count check used by transfers do
// not depend on it.
//
// Thread-safe: All methods are safe for concurrent access.
type HealthMonitor struct {
	nodes       map[string]*NodeHealth                       // Current health status per node
	checkFunc   func(ctx context.Context, addr string) error // Performs one health check
	onUnhealthy func(nodeID string)                          // Called when a node turns unhealthy
	log         *zap.Logger
	ctx         context.Context    // Context for cancellation
	cancel      context.CancelFunc // Cancel function for shutdown
	interval    time.Duration      // How often to check node health
	timeout     time.Duration      // Bound on a single check
	mu          sync.RWMutex       // Protects nodes map
	wg          sync.WaitGroup     // Wait group for graceful shutdown
	maxFailures int                // Failures before marking unhealthy
}

// NewHealthMonitor creates a monitor that probes through ch every interval.
// Nodes are marked unhealthy after 3 consecutive failures.
//
// Example:
//
//	monitor := NewHealthMonitor(ch, 5*time.Second, log)
//	monitor.Start(ctx, dir.Nodes)
//	defer monitor.Stop()
func NewHealthMonitor(ch RemoteCaller, interval time.Duration, log *zap.Logger) *HealthMonitor {
	ctx, cancel := context.WithCancel(context.Background())

	h := &HealthMonitor{
		interval:    interval,
		timeout:     2 * time.Second,
		maxFailures: 3,
		nodes:       make(map[string]*NodeHealth),
		log:         log.Named("health"),
		ctx:         ctx,
		cancel:      cancel,
	}
	h.checkFunc = func(ctx context.Context, addr string) error {
		_, err := ch.Get(ctx, addr, cluster.PathHealth, nil)
		return err
	}
	return h
}

// SetOnUnhealthy sets the callback invoked when a node becomes unhealthy.
// The callback runs on its own goroutine.
func (h *HealthMonitor) SetOnUnhealthy(callback func(nodeID string)) {
	h.onUnhealthy = callback
}

// SetCheckFunction overrides the health check. Useful in tests.
func (h *HealthMonitor) SetCheckFunction(checkFunc func(ctx context.Context, addr string) error) {
	h.checkFunc = checkFunc
}

// Start launches the check loop on its own goroutine and returns. The loop
// runs until ctx is canceled or Stop is called.
//
// Parameters:
//   - ctx: Context for cancellation (nil uses the monitor's internal context)
//   - nodeProvider: Function that returns the current node list
func (h *HealthMonitor) Start(ctx context.Context, nodeProvider func() []cluster.NodeInfo) {
	if ctx == nil {
		ctx = h.ctx
	}
	h.wg.Add(1)
	go h.run(ctx, nodeProvider)
}

func (h *HealthMonitor) run(ctx context.Context, nodeProvider func() []cluster.NodeInfo) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.log.Info("health monitor started", zap.Duration("interval", h.interval))
	h.checkAllNodes(ctx, nodeProvider())

	for {
		select {
		case <-ticker.C:
			h.checkAllNodes(ctx, nodeProvider())
		case <-ctx.Done():
			h.log.Info("health monitor stopping", zap.String("reason", "context canceled"))
			return
		case <-h.ctx.Done():
			h.log.Info("health monitor stopping", zap.String("reason", "stopped"))
			return
		}
	}
}

// Stop cancels the monitoring goroutine and waits for it to return.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
}

// checkAllNodes checks every node and forgets nodes no longer provided.
func (h *HealthMonitor) checkAllNodes(ctx context.Context, nodes []cluster.NodeInfo) {
	current := make(map[string]bool, len(nodes))
	for _, node := range nodes {
		current[node.ID] = true
		h.checkNode(ctx, node)
	}

	h.mu.Lock()
	for nodeID := range h.nodes {
		if !current[nodeID] {
			delete(h.nodes, nodeID)
			h.log.Info("node removed from health monitoring", zap.String("node", nodeID))
		}
	}
	h.mu.Unlock()
}

// checkNode performs one check and updates the node's record. The lock is
// not held during the check itself.
func (h *HealthMonitor) checkNode(ctx context.Context, node cluster.NodeInfo) {
	h.mu.Lock()
	health, exists := h.nodes[node.ID]
	if !exists {
		health = &NodeHealth{
			NodeID:      node.ID,
			Status:      HealthUnknown,
			LastCheck:   time.Now(),
			LastHealthy: time.Now(),
		}
		h.nodes[node.ID] = health
	}
	h.mu.Unlock()

	checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
	err := h.checkFunc(checkCtx, node.Addr)
	cancel()

	h.mu.Lock()
	defer h.mu.Unlock()

	health.LastCheck = time.Now()

	if err != nil {
		health.ConsecutiveFails++
		h.log.Debug("health check failed",
			zap.String("node", node.ID), zap.Int("attempt", health.ConsecutiveFails), zap.Error(err))

		if health.ConsecutiveFails >= h.maxFailures && health.Status != HealthUnhealthy {
			health.Status = HealthUnhealthy
			h.log.Warn("node marked unhealthy",
				zap.String("node", node.ID), zap.Int("failures", health.ConsecutiveFails))
			if h.onUnhealthy != nil {
				go h.onUnhealthy(node.ID)
			}
		}
		return
	}

	if health.Status == HealthUnhealthy {
		h.log.Info("node recovered", zap.String("node", node.ID))
	}
	health.Status = HealthHealthy
	health.ConsecutiveFails = 0
	health.LastHealthy = time.Now()
}

// GetNodeHealth returns a copy of a node's record, or nil if it is not monitored.
func (h *HealthMonitor) GetNodeHealth(nodeID string) *NodeHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	health, exists := h.nodes[nodeID]
	if !exists {
		return nil
	}
	cp := *health
	return &cp
}

// GetAllNodeHealth returns copies of every record keyed by node id.
func (h *HealthMonitor) GetAllNodeHealth() map[string]*NodeHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make(map[string]*NodeHealth, len(h.nodes))
	for id, health := range h.nodes {
		cp := *health
		result[id] = &cp
	}
	return result
}
