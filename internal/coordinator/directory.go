package coordinator

import (
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/ledgermesh/internal/cluster"
)

// PartitionDirectory maps partition keys to the ordered list of worker nodes
// that replicate them, and maps account ids to partition keys.
//
// Routing rules:
//   - An account id's digits decide its partition by parity:
//     even → "<prefix>2", odd → "<prefix>1"
//   - An id without digits falls back to FNV-1a(id) mod count, plus one
//   - Replica order is registration order and never changes
//
// Architecture:
//
//	┌──────────────────────────────────────────┐
//	│           PartitionDirectory             │
//	├──────────────────────────────────────────┤
//	│  replicas: map[key]→[]NodeInfo (ordered) │
//	│  nodes:    []NodeInfo (registration)     │
//	│  mu:       RWMutex                       │
//	├──────────────────────────────────────────┤
//	│  "42" → even → "Cuenta-P2" → [n1 n3 n5]  │
//	└──────────────────────────────────────────┘
//
// Thread Safety:
// Registration happens at startup, lookups happen on every request. All
// methods are safe for concurrent use and return copies.
type PartitionDirectory struct {
	// replicas maps a partition key to its replica list.
	// Lists are append-only and keep registration order.
	replicas map[string][]cluster.NodeInfo

	// nodes holds every registered node once, in registration order.
	nodes []cluster.NodeInfo

	// prefix and count parameterize PartitionOf.
	prefix string
	count  int

	mu sync.RWMutex
}

// NewPartitionDirectory creates an empty directory. Account ids route to
// keys "<prefix>1" … "<prefix><count>".
//
// Example:
//
//	dir := NewPartitionDirectory("Cuenta-P", 2)
//	dir.Register("worker-db-0", "http://10.0.0.5:8081", []string{"Cuenta-P1"})
func NewPartitionDirectory(prefix string, count int) *PartitionDirectory {
	if count <= 0 {
		count = 1
	}
	return &PartitionDirectory{
		replicas: make(map[string][]cluster.NodeInfo),
		prefix:   prefix,
		count:    count,
	}
}

// Register records that node id at addr serves partitions.
//
// Registration is idempotent per id:
//   - a new id is appended to every listed partition's replica list
//   - a known id keeps its position; its address is refreshed and any
//     partitions it did not serve before are appended
//
// Parameters:
//   - id: unique node identifier (e.g. "worker-db-0")
//   - addr: base URL of the node
//   - partitions: partition keys the node holds a copy of
//
// Returns:
//   - error if id or addr is empty
func (d *PartitionDirectory) Register(id, addr string, partitions []string) error {
	if id == "" || addr == "" {
		return fmt.Errorf("register node: id and address are required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	idx := slices.IndexFunc(d.nodes, func(n cluster.NodeInfo) bool { return n.ID == id })
	if idx < 0 {
		d.nodes = append(d.nodes, cluster.NodeInfo{ID: id, Addr: addr})
		idx = len(d.nodes) - 1
	}
	node := &d.nodes[idx]
	node.Addr = addr
	for _, p := range partitions {
		if !slices.Contains(node.Partitions, p) {
			node.Partitions = append(node.Partitions, p)
		}
	}

	for _, list := range d.replicas {
		for i := range list {
			if list[i].ID == id {
				list[i].Addr = addr
			}
		}
	}

	for _, p := range partitions {
		list := d.replicas[p]
		if slices.ContainsFunc(list, func(n cluster.NodeInfo) bool { return n.ID == id }) {
			continue
		}
		d.replicas[p] = append(list, cluster.NodeInfo{ID: id, Addr: addr})
	}
	return nil
}

// ReplicasOf returns the replicas of key in registration order. An empty
// result means the partition is unavailable.
func (d *PartitionDirectory) ReplicasOf(key string) []cluster.NodeInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.replicas[key])
}

// Nodes returns every registered node once, in registration order.
func (d *PartitionDirectory) Nodes() []cluster.NodeInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]cluster.NodeInfo, len(d.nodes))
	for i, n := range d.nodes {
		out[i] = cluster.NodeInfo{ID: n.ID, Addr: n.Addr, Partitions: slices.Clone(n.Partitions)}
	}
	return out
}

// Partitions returns the known partition keys and their replica counts.
func (d *PartitionDirectory) Partitions() map[string]int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string]int, len(d.replicas))
	for k, v := range d.replicas {
		out[k] = len(v)
	}
	return out
}

// PartitionOf maps an account id to its partition key. Pure and total.
//
// The parity of the id's digit string equals the parity of its last digit,
// so ids longer than any integer type still route correctly.
//
// Example:
//
//	dir.PartitionOf("42")     // "Cuenta-P2"
//	dir.PartitionOf("41")     // "Cuenta-P1"
//	dir.PartitionOf("AC-007") // "Cuenta-P1" (digits "007")
func (d *PartitionDirectory) PartitionOf(accountID string) string {
	last := strings.LastIndexFunc(accountID, func(r rune) bool { return r >= '0' && r <= '9' })
	if last < 0 {
		h := fnv.New32a()
		h.Write([]byte(accountID))
		return fmt.Sprintf("%s%d", d.prefix, int(h.Sum32()%uint32(d.count))+1)
	}
	if (accountID[last]-'0')%2 == 0 {
		return d.prefix + "2"
	}
	return d.prefix + "1"
}
