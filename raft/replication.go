package raft

import (
	"context"
	"sync"
)

// AppendEntriesArgs is the §6 /raft/append_entries request body.
type AppendEntriesArgs struct {
	Term         uint64  `json:"term"`
	LeaderID     string  `json:"leader_id"`
	PrevLogIndex uint64  `json:"prev_log_index"`
	PrevLogTerm  uint64  `json:"prev_log_term"`
	Entries      []Entry `json:"entries"`
	LeaderCommit uint64  `json:"leader_commit"`
}

// AppendEntriesReply is the §6 /raft/append_entries response body.
type AppendEntriesReply struct {
	Term    uint64 `json:"term"`
	Success bool   `json:"success"`
}

// Submit appends cmd to the log at the current leader's next index and
// returns (true, "") on acceptance, or (false, leaderHint) if this node
// isn't leader. Replication happens asynchronously on the next
// heartbeat cycle, per spec.md §4.1.
func (n *Node) Submit(command []byte) (accepted bool, leaderHint string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.role != RoleLeader {
		n.statSubmitRejects++
		return false, n.leaderID
	}

	n.log = append(n.log, Entry{Term: n.currentTerm, Command: command})
	return true, ""
}

// sendHeartbeats fans appendEntries out to every peer in parallel, then
// advances commitIndex once a majority of matchIndex entries at the
// current term are replicated.
func (n *Node) sendHeartbeats() {
	n.mu.Lock()
	if n.role != RoleLeader {
		n.mu.Unlock()
		return
	}
	term := n.currentTerm
	leaderCommit := n.commitIndex
	peers := append([]string{}, n.peerIDs...)
	n.mu.Unlock()

	var wg sync.WaitGroup
	for _, peer := range peers {
		wg.Add(1)
		go func(peerID string) {
			defer wg.Done()
			n.replicateTo(peerID, term, leaderCommit)
		}(peer)
	}
	wg.Wait()

	n.mu.Lock()
	n.advanceCommitIndexLocked()
	n.applyCommittedLocked()
	n.mu.Unlock()
}

func (n *Node) replicateTo(peerID string, term uint64, leaderCommit uint64) {
	n.mu.Lock()
	if n.role != RoleLeader || n.currentTerm != term {
		n.mu.Unlock()
		return
	}
	next := n.nextIndex[peerID]
	if next == 0 {
		next = uint64(len(n.log) + 1)
	}
	prevLogIndex := next - 1
	var prevLogTerm uint64
	if prevLogIndex > 0 && prevLogIndex <= uint64(len(n.log)) {
		prevLogTerm = n.log[prevLogIndex-1].Term
	}
	var entries []Entry
	if next <= uint64(len(n.log)) {
		entries = append(entries, n.log[next-1:]...)
	}
	args := &AppendEntriesArgs{
		Term:         term,
		LeaderID:     n.id,
		PrevLogIndex: prevLogIndex,
		PrevLogTerm:  prevLogTerm,
		Entries:      entries,
		LeaderCommit: leaderCommit,
	}
	n.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeoutVar)
	defer cancel()
	reply, err := n.transport.SendAppendEntries(ctx, peerID, args)
	if err != nil {
		// RPC failures are idempotent and retried next heartbeat cycle,
		// per spec.md §4.1 Failure semantics.
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.role != RoleLeader || n.currentTerm != term {
		return
	}
	if reply.Term > n.currentTerm {
		n.stepDownLocked(reply.Term)
		return
	}
	if reply.Success {
		n.matchIndex[peerID] = prevLogIndex + uint64(len(entries))
		n.nextIndex[peerID] = n.matchIndex[peerID] + 1
	} else if n.nextIndex[peerID] > 1 {
		n.nextIndex[peerID]--
	}
}

// advanceCommitIndexLocked implements spec.md §4.1's commit rule: the
// highest N such that a majority of matchIndex[p] >= N AND
// log[N].term == currentTerm.
func (n *Node) advanceCommitIndexLocked() {
	if n.role != RoleLeader {
		return
	}
	clusterSize := len(n.peerIDs) + 1
	majority := majorityOf(clusterSize)

	for N := uint64(len(n.log)); N > n.commitIndex; N-- {
		if n.log[N-1].Term != n.currentTerm {
			continue
		}
		count := 1 // the leader itself
		for _, peer := range n.peerIDs {
			if n.matchIndex[peer] >= N {
				count++
			}
		}
		if count >= majority {
			n.commitIndex = N
			n.statCommits++
			return
		}
	}
}

// applyCommittedLocked hands every entry between lastApplied+1 and
// commitIndex to the bound state machine, in order.
func (n *Node) applyCommittedLocked() {
	for n.lastApplied < n.commitIndex {
		n.lastApplied++
		entry := n.log[n.lastApplied-1]
		if n.sm != nil {
			n.sm.Apply(entry.Command)
		}
	}
}

// HandleAppendEntries implements spec.md §4.1's replication/commit
// rules on the follower/candidate side.
func (n *Node) HandleAppendEntries(args *AppendEntriesArgs) *AppendEntriesReply {
	n.mu.Lock()
	defer n.mu.Unlock()

	if args.Term > n.currentTerm {
		n.stepDownLocked(args.Term)
	}
	if args.Term < n.currentTerm {
		return &AppendEntriesReply{Term: n.currentTerm, Success: false}
	}

	// a valid leader heartbeat/append always resets our deadline and
	// our role, even if we were mid-election for the same term.
	n.role = RoleFollower
	n.leaderID = args.LeaderID
	n.resetElectionDeadlineLocked()

	if args.PrevLogIndex > 0 {
		if args.PrevLogIndex > uint64(len(n.log)) {
			return &AppendEntriesReply{Term: n.currentTerm, Success: false}
		}
		if n.log[args.PrevLogIndex-1].Term != args.PrevLogTerm {
			return &AppendEntriesReply{Term: n.currentTerm, Success: false}
		}
	}

	// truncate any conflicting suffix, then append the new entries.
	insertAt := args.PrevLogIndex
	for i, entry := range args.Entries {
		idx := insertAt + uint64(i) + 1
		if idx <= uint64(len(n.log)) {
			if n.log[idx-1].Term != entry.Term {
				n.log = n.log[:idx-1]
				n.log = append(n.log, args.Entries[i:]...)
				break
			}
			continue
		}
		n.log = append(n.log, args.Entries[i:]...)
		break
	}

	if args.LeaderCommit > n.commitIndex {
		n.commitIndex = args.LeaderCommit
		if uint64(len(n.log)) < n.commitIndex {
			n.commitIndex = uint64(len(n.log))
		}
	}
	n.applyCommittedLocked()

	return &AppendEntriesReply{Term: n.currentTerm, Success: true}
}
