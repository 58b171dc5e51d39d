// Package ring implements the consistent-hash ring spec.md §4.3
// describes: each node gets V virtual points on a 32-bit hash circle,
// and a key's owner is the first point clockwise from its hash.
//
// The ring is wrapped behind an RWMutex and exposes an AddNode/Lookup
// style API, with no datacenter dimension since spec.md's node sets
// are flat.
package ring

import (
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
)

// VirtualNodes is the number of synthetic points placed on the ring
// per node, matching spec.md's V=100.
const VirtualNodes = 100

// Ring is a consistent-hash ring over a set of node identifiers.
type Ring struct {
	mu     sync.RWMutex
	points map[uint32]string
	sorted []uint32
	nodes  map[string]bool
}

// New builds a ring from an initial node set. It may be called with no
// nodes and grown later with AddNode.
func New(nodes ...string) *Ring {
	r := &Ring{
		points: make(map[uint32]string),
		nodes:  make(map[string]bool),
	}
	for _, n := range nodes {
		r.addNodeLocked(n)
	}
	r.rebuildSortedLocked()
	return r
}

// AddNode adds a node and its virtual points to the ring. Re-adding an
// existing node is a no-op.
func (r *Ring) AddNode(node string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nodes[node] {
		return
	}
	r.addNodeLocked(node)
	r.rebuildSortedLocked()
}

// RemoveNode drops a node and its virtual points from the ring.
func (r *Ring) RemoveNode(node string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.nodes[node] {
		return
	}
	delete(r.nodes, node)
	for i := 0; i < VirtualNodes; i++ {
		delete(r.points, hashPoint(node, i))
	}
	r.rebuildSortedLocked()
}

func (r *Ring) addNodeLocked(node string) {
	r.nodes[node] = true
	for i := 0; i < VirtualNodes; i++ {
		r.points[hashPoint(node, i)] = node
	}
}

func (r *Ring) rebuildSortedLocked() {
	sorted := make([]uint32, 0, len(r.points))
	for p := range r.points {
		sorted = append(sorted, p)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	r.sorted = sorted
}

// Lookup returns the node responsible for key: the first point
// clockwise from hash(key), wrapping to index 0 at the end of the
// circle. The empty string is returned if the ring has no nodes.
func (r *Ring) Lookup(key string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.sorted) == 0 {
		return ""
	}
	h := hashKey(key)
	idx := sort.Search(len(r.sorted), func(i int) bool { return r.sorted[i] >= h })
	if idx == len(r.sorted) {
		idx = 0
	}
	return r.points[r.sorted[idx]]
}

// Nodes returns the current node set in no particular order.
func (r *Ring) Nodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.nodes))
	for n := range r.nodes {
		out = append(out, n)
	}
	return out
}

func hashPoint(node string, i int) uint32 {
	return hashKey(fmt.Sprintf("%s#%d", node, i))
}

// hashKey truncates a SHA-1 digest to 32 bits, matching spec.md's
// "SHA-1 truncated mod 2^32" circle and the original Python's
// int(sha1(key).hexdigest(), 16) % 2**32.
func hashKey(key string) uint32 {
	sum := sha1.Sum([]byte(key))
	// the low 4 bytes of the digest, big-endian, mod 2^32 is
	// equivalent to the Python original's "interpret the full digest
	// as an integer, then mod 2^32" — both keep the low 32 bits.
	return binary.BigEndian.Uint32(sum[16:20])
}
