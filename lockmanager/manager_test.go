package lockmanager

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dionp3/distributed-sync-system/raft"
)

func TestMain(m *testing.M) {
	raft.Configure(raft.Timeouts{
		Heartbeat:   15 * time.Millisecond,
		ElectionMin: 40 * time.Millisecond,
		ElectionMax: 80 * time.Millisecond,
		RPC:         200 * time.Millisecond,
	})
	os.Exit(m.Run())
}

// fakeTransport routes raft RPCs directly to in-process *raft.Node
// instances, mirroring raft package's own test fixture so lockmanager
// can be exercised against a real (if accelerated) raft cluster.
type fakeTransport struct {
	mu    sync.RWMutex
	nodes map[string]*raft.Node
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{nodes: make(map[string]*raft.Node)}
}

func (t *fakeTransport) register(id string, n *raft.Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes[id] = n
}

func (t *fakeTransport) SendRequestVote(_ context.Context, peerID string, args *raft.RequestVoteArgs) (*raft.RequestVoteReply, error) {
	t.mu.RLock()
	peer, ok := t.nodes[peerID]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no such peer %s", peerID)
	}
	return peer.HandleRequestVote(args), nil
}

func (t *fakeTransport) SendAppendEntries(_ context.Context, peerID string, args *raft.AppendEntriesArgs) (*raft.AppendEntriesReply, error) {
	t.mu.RLock()
	peer, ok := t.nodes[peerID]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no such peer %s", peerID)
	}
	return peer.HandleAppendEntries(args), nil
}

func newLockCluster(t *testing.T, size int) ([]*raft.Node, []*Manager) {
	t.Helper()
	transport := newFakeTransport()
	ids := make([]string, size)
	for i := range ids {
		ids[i] = fmt.Sprintf("node-%d", i)
	}

	nodes := make([]*raft.Node, size)
	mgrs := make([]*Manager, size)
	for i, id := range ids {
		peers := make([]string, 0, size-1)
		for _, other := range ids {
			if other != id {
				peers = append(peers, other)
			}
		}
		n := raft.New(id, peers, transport)
		mgr := New(n)
		n.Bind(mgr)
		nodes[i] = n
		mgrs[i] = mgr
		transport.register(id, n)
	}
	return nodes, mgrs
}

func waitForLeaderMgr(t *testing.T, nodes []*raft.Node, mgrs []*Manager, timeout time.Duration) *Manager {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for i, n := range nodes {
			if n.IsLeader() {
				return mgrs[i]
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no leader elected before timeout")
	return nil
}

func runAll(nodes []*raft.Node) func() {
	for _, n := range nodes {
		go n.Run()
	}
	return func() {
		for _, n := range nodes {
			n.Stop()
		}
	}
}

// TestExclusiveLockContentionGrantsOneHolder covers spec.md §8's S1
// scenario: two clients racing for the same exclusive lock, one grant,
// one either denied or made to wait for the holder's release.
func TestExclusiveLockContentionGrantsOneHolder(t *testing.T) {
	nodes, mgrs := newLockCluster(t, 3)
	stop := runAll(nodes)
	defer stop()

	leader := waitForLeaderMgr(t, nodes, mgrs, 2*time.Second)

	var wg sync.WaitGroup
	results := make([]AcquireResult, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0] = leader.Acquire("resource-1", Exclusive, "client-a", 2*time.Second)
	}()
	go func() {
		defer wg.Done()
		results[1] = leader.Acquire("resource-1", Exclusive, "client-b", 2*time.Second)
	}()
	wg.Wait()

	grants := 0
	for _, r := range results {
		if r.Success {
			grants++
		}
	}
	assert.Equal(t, 1, grants, "exactly one client should hold the exclusive lock")
}

// TestSharedLocksCoexist covers the shared/shared compatibility rule:
// two shared-lock acquisitions on the same name both succeed.
func TestSharedLocksCoexist(t *testing.T) {
	nodes, mgrs := newLockCluster(t, 3)
	stop := runAll(nodes)
	defer stop()

	leader := waitForLeaderMgr(t, nodes, mgrs, 2*time.Second)

	r1 := leader.Acquire("resource-2", Shared, "reader-1", 2*time.Second)
	r2 := leader.Acquire("resource-2", Shared, "reader-2", 2*time.Second)
	require.True(t, r1.Success)
	require.True(t, r2.Success)
}

// TestReleaseAndReacquire covers the release → re-acquire handoff:
// client-a holds, releases, and client-b's later acquire succeeds.
func TestReleaseAndReacquire(t *testing.T) {
	nodes, mgrs := newLockCluster(t, 3)
	stop := runAll(nodes)
	defer stop()

	leader := waitForLeaderMgr(t, nodes, mgrs, 2*time.Second)

	first := leader.Acquire("resource-3", Exclusive, "client-a", 2*time.Second)
	require.True(t, first.Success)

	rel := leader.Release("resource-3", "client-a")
	require.True(t, rel.Success)

	require.Eventually(t, func() bool {
		second := leader.Acquire("resource-3", Exclusive, "client-b", 2*time.Second)
		return second.Success
	}, 2*time.Second, 20*time.Millisecond)
}

// TestMonitorForcesReleaseOnExpiry covers spec.md §8's S2 scenario:
// a client acquires and never releases; the deadlock monitor force-
// releases the lock once its expiry passes, unblocking a second
// client.
func TestMonitorForcesReleaseOnExpiry(t *testing.T) {
	nodes, mgrs := newLockCluster(t, 3)
	stop := runAll(nodes)
	defer stop()

	leader := waitForLeaderMgr(t, nodes, mgrs, 2*time.Second)

	held := leader.Acquire("resource-4", Exclusive, "client-stuck", 50*time.Millisecond)
	require.True(t, held.Success)

	monitor := NewMonitor(leader, 20*time.Millisecond)
	go monitor.Run()
	defer monitor.Stop()

	require.Eventually(t, func() bool {
		second := leader.Acquire("resource-4", Exclusive, "client-new", 500*time.Millisecond)
		return second.Success
	}, 3*time.Second, 20*time.Millisecond, "monitor should eventually force-release the expired lock")
}

// TestAcquireOnFollowerReturnsNotLeader covers the not-leader error
// path spec.md §7 describes.
func TestAcquireOnFollowerReturnsNotLeader(t *testing.T) {
	nodes, mgrs := newLockCluster(t, 3)
	stop := runAll(nodes)
	defer stop()

	leader := waitForLeaderMgr(t, nodes, mgrs, 2*time.Second)

	var follower *Manager
	for i, n := range nodes {
		if !n.IsLeader() {
			follower = mgrs[i]
			break
		}
	}
	require.NotNil(t, follower)
	_ = leader

	result := follower.Acquire("resource-5", Exclusive, "client-x", time.Second)
	assert.False(t, result.Success)
	assert.Equal(t, ErrNotLeader.Error(), result.Error)
}
