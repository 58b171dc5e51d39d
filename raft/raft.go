// Package raft implements the replicated state-machine layer spec.md
// §4.1 describes: leader election, log replication, commit-index
// advancement, and ordered application of committed commands to a
// pluggable state machine.
//
// The engine's shape is one mutex guarding term/log/commit bookkeeping,
// a swappable timeout-event hook so tests can control timing, and
// struct-field stat counters instead of out-of-band metrics I/O. The
// two-phase construction idiom spec.md §9 calls for (state machine
// built with a null replicator, replicator built with a reference to
// the state machine, then bound together) is handled with cyclic
// wiring: New returns a Node with no bound StateMachine yet; Bind
// closes the cycle once the caller has built one that needs this Node
// for submitCommand.
package raft

import (
	"context"
	"math/rand"
	"sync"
	"time"

	logging "github.com/op/go-logging"

	"github.com/dionp3/distributed-sync-system/logctx"
)

var logger *logging.Logger

func init() {
	logger = logctx.New("raft")
}

// Role is the node's current position in the Raft protocol.
type Role string

const (
	RoleFollower  Role = "follower"
	RoleCandidate Role = "candidate"
	RoleLeader    Role = "leader"
)

// Timing knobs, kept as package vars rather than consts so tests can
// shrink them instead of waiting out real election timeouts.
var (
	// heartbeatIntervalVar is how often a leader sends appendEntries to
	// keep followers from starting an election, per spec.md §4.1.
	heartbeatIntervalVar = 100 * time.Millisecond

	electionTimeoutMinVar = 1000 * time.Millisecond
	electionTimeoutMaxVar = 2500 * time.Millisecond

	// rpcTimeoutVar bounds a single inter-node RPC, per spec.md §5
	// ("~500 ms for inter-node").
	rpcTimeoutVar = 500 * time.Millisecond
)

// HeartbeatInterval and RPCTimeout are exported read-only views of the
// current timing knobs, for callers (e.g. metrics) that just want to
// report the configured values.
func HeartbeatInterval() time.Duration { return heartbeatIntervalVar }
func RPCTimeout() time.Duration        { return rpcTimeoutVar }

// Timeouts is a bundle of the tunable timing knobs, shrunk by tests
// that would otherwise wait out real election timeouts. The node
// entrypoints do not call Configure and run with the defaults above.
type Timeouts struct {
	Heartbeat   time.Duration
	ElectionMin time.Duration
	ElectionMax time.Duration
	RPC         time.Duration
}

// Configure overrides the package's timing knobs. Zero fields leave
// the corresponding knob unchanged. Not safe to call concurrently with
// a running Node.
func Configure(t Timeouts) {
	if t.Heartbeat > 0 {
		heartbeatIntervalVar = t.Heartbeat
	}
	if t.ElectionMin > 0 {
		electionTimeoutMinVar = t.ElectionMin
	}
	if t.ElectionMax > 0 {
		electionTimeoutMaxVar = t.ElectionMax
	}
	if t.RPC > 0 {
		rpcTimeoutVar = t.RPC
	}
}

// newTimeoutEvent is a package-level hook so tests can substitute a
// fast or deterministic clock without threading a clock interface
// through every call site.
var newTimeoutEvent = func(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Entry is a single replicated log record. Indices are 1-based and are
// never reused once assigned by the leader that created them
// (spec.md's data model for the replication layer).
type Entry struct {
	Term    uint64
	Command []byte
}

// StateMachine receives committed commands in log order. Apply must be
// deterministic and must not block on external I/O (spec.md §4.1/§5).
type StateMachine interface {
	Apply(command []byte)
}

// Transport is the peer-RPC contract the Node needs to run elections
// and replicate entries. transport.Client implements it over
// JSON/HTTP; tests can substitute an in-process fake.
type Transport interface {
	SendRequestVote(ctx context.Context, peerID string, args *RequestVoteArgs) (*RequestVoteReply, error)
	SendAppendEntries(ctx context.Context, peerID string, args *AppendEntriesArgs) (*AppendEntriesReply, error)
}

// Node is one replica of the replicated log.
type Node struct {
	mu sync.Mutex

	id        string
	peerIDs   []string
	transport Transport
	sm        StateMachine

	role        Role
	currentTerm uint64
	votedFor    string
	log         []Entry
	commitIndex uint64
	lastApplied uint64
	leaderID    string

	nextIndex  map[string]uint64
	matchIndex map[string]uint64

	lastContact     time.Time
	electionTimeout time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup

	// ------------- runtime stats -------------
	statElections     uint64
	statAppendRecv    uint64
	statCommits       uint64
	statStepDowns     uint64
	statSubmitRejects uint64
}

// New constructs a Node with no bound state machine. Call Bind before
// Run to complete the two-phase construction spec.md §9 describes.
func New(id string, peerIDs []string, transport Transport) *Node {
	n := &Node{
		id:         id,
		peerIDs:    append([]string{}, peerIDs...),
		transport:  transport,
		role:       RoleFollower,
		nextIndex:  make(map[string]uint64),
		matchIndex: make(map[string]uint64),
		stopCh:     make(chan struct{}),
	}
	n.resetElectionDeadlineLocked()
	return n
}

// Bind attaches the state machine that committed commands are applied
// to, resolving the construction cycle between Node and whatever
// higher-level state machine (e.g. lockmanager.Manager) needs a *Node
// to submit commands through.
func (n *Node) Bind(sm StateMachine) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sm = sm
}

// ID returns this node's identifier.
func (n *Node) ID() string { return n.id }

// Status is a snapshot of the node's current role/term, used by
// lockmanager to decide leadership and by metrics to publish role/term
// gauges.
type Status struct {
	ID          string
	Role        Role
	Term        uint64
	LeaderID    string
	CommitIndex uint64
	LogLength   int
}

// GetStatus returns a consistent snapshot of the node's election state.
func (n *Node) GetStatus() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return Status{
		ID:          n.id,
		Role:        n.role,
		Term:        n.currentTerm,
		LeaderID:    n.leaderID,
		CommitIndex: n.commitIndex,
		LogLength:   len(n.log),
	}
}

// IsLeader reports whether this node currently believes it is leader.
func (n *Node) IsLeader() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.role == RoleLeader
}

func randomElectionTimeout() time.Duration {
	span := electionTimeoutMaxVar - electionTimeoutMinVar
	return electionTimeoutMinVar + time.Duration(rand.Int63n(int64(span)))
}

func (n *Node) resetElectionDeadlineLocked() {
	n.lastContact = time.Now()
	n.electionTimeout = randomElectionTimeout()
}

func (n *Node) lastLogInfoLocked() (index uint64, term uint64) {
	if len(n.log) == 0 {
		return 0, 0
	}
	last := n.log[len(n.log)-1]
	return uint64(len(n.log)), last.Term
}

// majorityOf returns the smallest quorum size for a cluster of
// clusterSize members (self included): clusterSize/2+1, which equals
// ⌈(N+1)/2⌉ for N = clusterSize.
func majorityOf(clusterSize int) int {
	return clusterSize/2 + 1
}

// Run drives the node's election/heartbeat loop until Stop is called.
// It is meant to run in its own goroutine for the lifetime of the
// process, started once from the owning server's startup path.
func (n *Node) Run() {
	n.wg.Add(1)
	defer n.wg.Done()

	for {
		select {
		case <-n.stopCh:
			return
		default:
		}

		n.mu.Lock()
		role := n.role
		n.mu.Unlock()

		switch role {
		case RoleLeader:
			n.sendHeartbeats()
			select {
			case <-n.stopCh:
				return
			case <-newTimeoutEvent(heartbeatIntervalVar):
			}
		default:
			n.mu.Lock()
			remaining := n.electionTimeout - time.Since(n.lastContact)
			n.mu.Unlock()
			if remaining <= 0 {
				n.startElection()
				continue
			}
			select {
			case <-n.stopCh:
				return
			case <-newTimeoutEvent(remaining):
			}
		}
	}
}

// Stop halts the election/heartbeat loop and waits for it to exit.
func (n *Node) Stop() {
	select {
	case <-n.stopCh:
		// already stopped
	default:
		close(n.stopCh)
	}
	n.wg.Wait()
}
