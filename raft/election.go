package raft

import (
	"context"
	"sync"
)

// RequestVoteArgs is the §6 /raft/request_vote request body.
type RequestVoteArgs struct {
	Term         uint64 `json:"term"`
	CandidateID  string `json:"candidate_id"`
	LastLogIndex uint64 `json:"last_log_index"`
	LastLogTerm  uint64 `json:"last_log_term"`
}

// RequestVoteReply is the §6 /raft/request_vote response body.
type RequestVoteReply struct {
	Term        uint64 `json:"term"`
	VoteGranted bool   `json:"vote_granted"`
}

// startElection transitions to candidate, increments the term, votes
// for itself, and solicits votes from every peer in parallel.
func (n *Node) startElection() {
	n.mu.Lock()
	n.role = RoleCandidate
	n.currentTerm++
	n.votedFor = n.id
	n.leaderID = ""
	n.resetElectionDeadlineLocked()
	n.statElections++
	term := n.currentTerm
	lastIndex, lastTerm := n.lastLogInfoLocked()
	peers := append([]string{}, n.peerIDs...)
	n.mu.Unlock()

	logger.Infof("%s: starting election for term %d", n.id, term)

	votes := 1 // votes for itself
	var voteMu sync.Mutex
	var wg sync.WaitGroup

	for _, peer := range peers {
		wg.Add(1)
		go func(peerID string) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), rpcTimeoutVar)
			defer cancel()

			reply, err := n.transport.SendRequestVote(ctx, peerID, &RequestVoteArgs{
				Term:         term,
				CandidateID:  n.id,
				LastLogIndex: lastIndex,
				LastLogTerm:  lastTerm,
			})
			if err != nil {
				return
			}

			n.mu.Lock()
			if reply.Term > n.currentTerm {
				n.stepDownLocked(reply.Term)
				n.mu.Unlock()
				return
			}
			n.mu.Unlock()

			if reply.VoteGranted {
				voteMu.Lock()
				votes++
				voteMu.Unlock()
			}
		}(peer)
	}
	wg.Wait()

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.role != RoleCandidate || n.currentTerm != term {
		// stepped down, or a newer election already superseded this one
		return
	}
	if votes >= majorityOf(len(peers)+1) {
		n.becomeLeaderLocked()
	}
}

func (n *Node) becomeLeaderLocked() {
	n.role = RoleLeader
	n.leaderID = n.id
	nextLogIndex := uint64(len(n.log) + 1)
	for _, peer := range n.peerIDs {
		n.nextIndex[peer] = nextLogIndex
		n.matchIndex[peer] = 0
	}
	logger.Infof("%s: elected leader for term %d", n.id, n.currentTerm)
}

// stepDownLocked handles "any RPC observing term > currentTerm" per
// spec.md §4.1 Step-down: immediate transition to follower, term bump,
// vote reset, leader hint cleared.
func (n *Node) stepDownLocked(newTerm uint64) {
	if newTerm <= n.currentTerm {
		return
	}
	n.currentTerm = newTerm
	n.votedFor = ""
	n.role = RoleFollower
	n.leaderID = ""
	n.statStepDowns++
	n.resetElectionDeadlineLocked()
}

// HandleRequestVote implements spec.md §4.1's vote-granting rule.
func (n *Node) HandleRequestVote(args *RequestVoteArgs) *RequestVoteReply {
	n.mu.Lock()
	defer n.mu.Unlock()

	if args.Term > n.currentTerm {
		n.stepDownLocked(args.Term)
	}

	if args.Term < n.currentTerm {
		return &RequestVoteReply{Term: n.currentTerm, VoteGranted: false}
	}

	canVote := n.votedFor == "" || n.votedFor == args.CandidateID
	lastIndex, lastTerm := n.lastLogInfoLocked()
	candidateUpToDate := args.LastLogTerm > lastTerm ||
		(args.LastLogTerm == lastTerm && args.LastLogIndex >= lastIndex)

	if canVote && candidateUpToDate {
		n.votedFor = args.CandidateID
		n.resetElectionDeadlineLocked()
		return &RequestVoteReply{Term: n.currentTerm, VoteGranted: true}
	}
	return &RequestVoteReply{Term: n.currentTerm, VoteGranted: false}
}
