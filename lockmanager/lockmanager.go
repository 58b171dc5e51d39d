// Package lockmanager implements the lock-manager state machine
// spec.md §4.2 describes: shared/exclusive semantics, a FIFO holders
// list, per-client acquire waits resolved by the raft apply loop, and a
// leader-only deadlock monitor that force-releases expired locks.
//
// The per-client one-shot wakeup is reified as a map of *sync.Cond,
// signaled under the manager's own mutex while the raft apply loop
// holds it — the "condition variables resolved under the engine mutex
// to eliminate lost wake-ups" idiom spec.md §9 calls for.
package lockmanager

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	logging "github.com/op/go-logging"

	"github.com/dionp3/distributed-sync-system/logctx"
	"github.com/dionp3/distributed-sync-system/raft"
)

var logger *logging.Logger

func init() {
	logger = logctx.New("lockmanager")
}

// LockType is shared or exclusive, per spec.md's LockRecord data model.
type LockType string

const (
	Shared    LockType = "shared"
	Exclusive LockType = "exclusive"
)

// SystemTimeout is the synthetic client id the deadlock monitor submits
// RELEASE commands as, forcing an outright delete of the record instead
// of a holder removal (spec.md §4.2 apply-step semantics).
const SystemTimeout = "SYSTEM_TIMEOUT"

// Error values surfaced to callers, per spec.md §7's error taxonomy.
var (
	ErrNotLeader    = errors.New("NOT_LEADER")
	ErrSubmitFailed = errors.New("SUBMIT_FAILED")
	ErrLockTimeout  = errors.New("LOCK_TIMEOUT")
	ErrLockDenied   = errors.New("LOCK_DENIED_OR_TIMEOUT")
)

// commandType tags the ACQUIRE/RELEASE variant carried in the
// replicated log, per spec.md §9's "JSON-dict commands... translated
// to a tagged variant with fixed fields" note.
type commandType string

const (
	cmdAcquire commandType = "ACQUIRE"
	cmdRelease commandType = "RELEASE"
)

// command is the wire shape of a lock-manager log entry. It is a plain
// struct with no json.RawMessage catch-all, so unknown fields are
// dropped on decode; the command set is closed (ACQUIRE/RELEASE only)
// and this is the only state machine on the log.
type command struct {
	Type     commandType `json:"type"`
	LockName string      `json:"lock_name"`
	LockType LockType    `json:"lock_type,omitempty"`
	ClientID string      `json:"client_id"`
	Expiry   int64       `json:"expiry,omitempty"` // unix nanos
}

// record is the lock table's value type (spec.md's LockRecord).
type record struct {
	Type    LockType
	Holders []string
	Expiry  time.Time
}

// AcquireResult is the §6 /lock/acquire response shape.
type AcquireResult struct {
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	LeaderHint string `json:"leader_hint,omitempty"`
	Message    string `json:"message,omitempty"`
}

// ReleaseResult is the §6 /lock/release response shape.
type ReleaseResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Manager is the lock-manager state machine, bound to a raft.Node.
type Manager struct {
	mu sync.Mutex

	node *raft.Node

	locks   map[string]*record
	waiters map[string]*sync.Cond
	// waiters holds one sync.Cond per waiting client; every one of them
	// uses Manager's own mu as its Locker.
}

// New constructs a Manager bound to node. node must already have been
// constructed (via raft.New); the caller still owes node.Bind(mgr) to
// close the construction cycle spec.md §9 describes, with the reverse
// reference wired by the caller after both halves exist.
func New(node *raft.Node) *Manager {
	return &Manager{
		node:    node,
		locks:   make(map[string]*record),
		waiters: make(map[string]*sync.Cond),
	}
}

// Acquire implements spec.md §4.2's acquire flow: submit an ACQUIRE
// command through raft, then wait on a per-client completion signal
// bounded by timeout+ε.
func (m *Manager) Acquire(lockName string, lockType LockType, clientID string, timeout time.Duration) AcquireResult {
	if !m.node.IsLeader() {
		return AcquireResult{Success: false, Error: ErrNotLeader.Error(), LeaderHint: m.node.GetStatus().LeaderID}
	}
	if lockType == "" {
		lockType = Exclusive
	}

	cmd := command{
		Type:     cmdAcquire,
		LockName: lockName,
		LockType: lockType,
		ClientID: clientID,
		Expiry:   time.Now().Add(timeout).UnixNano(),
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return AcquireResult{Success: false, Error: err.Error()}
	}

	accepted, hint := m.node.Submit(payload)
	if !accepted {
		return AcquireResult{Success: false, Error: ErrSubmitFailed.Error(), LeaderHint: hint}
	}

	const epsilon = 500 * time.Millisecond
	granted, timedOut := m.waitForClient(lockName, clientID, timeout+epsilon)
	if timedOut {
		return AcquireResult{Success: false, Error: ErrLockTimeout.Error()}
	}
	if granted {
		return AcquireResult{Success: true, Message: string(lockType) + " lock acquired"}
	}
	return AcquireResult{Success: false, Error: ErrLockDenied.Error()}
}

// waitForClient blocks until Apply signals clientID's waiter, or
// timeout elapses, then reports whether clientID ended up among
// lockName's holders. It returns granted=false, timedOut=true on
// timeout; granted reflects lock-table state otherwise.
func (m *Manager) waitForClient(lockName string, clientID string, timeout time.Duration) (granted bool, timedOut bool) {
	m.mu.Lock()
	cond := sync.NewCond(&m.mu)
	m.waiters[clientID] = cond

	done := make(chan struct{})
	timer := time.AfterFunc(timeout, func() {
		m.mu.Lock()
		close(done)
		cond.Broadcast()
		m.mu.Unlock()
	})
	defer timer.Stop()

	for {
		select {
		case <-done:
			m.mu.Unlock()
			return false, true
		default:
		}
		if _, ok := m.waiters[clientID]; !ok {
			break
		}
		cond.Wait()
	}
	delete(m.waiters, clientID)
	granted = m.isHolderLocked(lockName, clientID)
	m.mu.Unlock()
	return granted, false
}

func (m *Manager) isHolderLocked(lockName string, clientID string) bool {
	r, ok := m.locks[lockName]
	if !ok {
		return false
	}
	for _, h := range r.Holders {
		if h == clientID {
			return true
		}
	}
	return false
}

// Release implements spec.md §4.2's release flow: submit a RELEASE
// command through raft. Unlike Acquire, the caller doesn't wait on the
// apply step — release is fire-and-forget from the client's
// perspective, matching the original source's release_lock.
func (m *Manager) Release(lockName string, clientID string) ReleaseResult {
	if !m.node.IsLeader() {
		return ReleaseResult{Success: false, Message: ErrNotLeader.Error()}
	}
	cmd := command{Type: cmdRelease, LockName: lockName, ClientID: clientID}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return ReleaseResult{Success: false, Message: err.Error()}
	}
	accepted, _ := m.node.Submit(payload)
	return ReleaseResult{Success: accepted, Message: "release command submitted"}
}

// Apply is the deterministic state-machine projection spec.md §4.2
// describes, invoked by raft.Node's apply loop in log order on every
// replica.
func (m *Manager) Apply(payload []byte) {
	var cmd command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		logger.Errorf("lockmanager: malformed command: %v", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch cmd.Type {
	case cmdAcquire:
		m.applyAcquireLocked(cmd)
	case cmdRelease:
		m.applyReleaseLocked(cmd)
	default:
		logger.Warningf("lockmanager: unknown command type %q", cmd.Type)
	}
}

func (m *Manager) applyAcquireLocked(cmd command) {
	cur, exists := m.locks[cmd.LockName]

	granted := !exists || (cur.Type == Shared && cmd.LockType == Shared)
	if !granted {
		return
	}

	if !exists {
		m.locks[cmd.LockName] = &record{
			Type:    cmd.LockType,
			Holders: []string{cmd.ClientID},
			Expiry:  time.Unix(0, cmd.Expiry),
		}
	} else {
		cur.Holders = append(cur.Holders, cmd.ClientID)
	}

	if cond, ok := m.waiters[cmd.ClientID]; ok {
		delete(m.waiters, cmd.ClientID)
		cond.Broadcast()
	}
}

func (m *Manager) applyReleaseLocked(cmd command) {
	cur, exists := m.locks[cmd.LockName]
	if !exists {
		return
	}

	if cmd.ClientID == SystemTimeout {
		delete(m.locks, cmd.LockName)
		logger.Infof("lockmanager: forced release of %q on timeout", cmd.LockName)
		return
	}

	for i, h := range cur.Holders {
		if h == cmd.ClientID {
			cur.Holders = append(cur.Holders[:i], cur.Holders[i+1:]...)
			break
		}
	}
	if len(cur.Holders) == 0 {
		delete(m.locks, cmd.LockName)
	}
}

// snapshotExpired returns the names of every lock record whose expiry
// has passed, used by the deadlock monitor.
func (m *Manager) snapshotExpired(now time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired []string
	for name, r := range m.locks {
		if r.Expiry.Before(now) {
			expired = append(expired, name)
		}
	}
	return expired
}
