// Package transport is the external RPC collaborator spec.md §6
// describes: a JSON-over-HTTP client used by raft to reach its peers
// and by cache to broadcast invalidations, plus the HTTP route wiring
// shared by all three node types.
//
// Resolving a peer address, sending, and reading the reply is ported
// from raw-TCP message framing to JSON/HTTP since spec.md §6 specifies
// a JSON RPC surface; the concurrent fan-out with per-peer error
// tolerance in BroadcastInvalidate mirrors an asyncio.gather-across-every-peer-
// but-self broadcast.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	logging "github.com/op/go-logging"

	"github.com/dionp3/distributed-sync-system/logctx"
	"github.com/dionp3/distributed-sync-system/raft"
)

var logger *logging.Logger

func init() {
	logger = logctx.New("transport")
}

// Client is a JSON/HTTP RPC client addressed by peer id. It implements
// raft.Transport (SendRequestVote/SendAppendEntries) and
// cache.Broadcaster (BroadcastInvalidate).
type Client struct {
	mu    sync.RWMutex
	peers map[string]string // nodeId -> base URL
	http  *http.Client
}

// NewClient constructs a Client addressing peers by base URL, per
// spec.md §6's RAFT_PEERS/CACHE_PEERS configuration shape
// (map[nodeId]baseURL).
func NewClient(peers map[string]string) *Client {
	return &Client{
		peers: copyPeers(peers),
		http:  &http.Client{},
	}
}

func copyPeers(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// SetPeers replaces the peer address table, used when config is
// reloaded or a node set changes at startup.
func (c *Client) SetPeers(peers map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peers = copyPeers(peers)
}

func (c *Client) peerURL(peerID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	url, ok := c.peers[peerID]
	return url, ok
}

// peerIDs returns every known peer id, for BroadcastInvalidate's fan-out.
func (c *Client) peerIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.peers))
	for id := range c.peers {
		ids = append(ids, id)
	}
	return ids
}

// post sends body as a JSON POST to peerID+path and decodes the JSON
// reply into out.
func (c *Client) post(ctx context.Context, peerID string, path string, body any, out any) error {
	base, ok := c.peerURL(peerID)
	if !ok {
		return fmt.Errorf("transport: unknown peer %q", peerID)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("transport: peer %s returned %d: %s", peerID, resp.StatusCode, string(respBody))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// SendRequestVote implements raft.Transport.
func (c *Client) SendRequestVote(ctx context.Context, peerID string, args *raft.RequestVoteArgs) (*raft.RequestVoteReply, error) {
	var reply raft.RequestVoteReply
	if err := c.post(ctx, peerID, "/raft/request_vote", args, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// SendAppendEntries implements raft.Transport.
func (c *Client) SendAppendEntries(ctx context.Context, peerID string, args *raft.AppendEntriesArgs) (*raft.AppendEntriesReply, error) {
	var reply raft.AppendEntriesReply
	if err := c.post(ctx, peerID, "/raft/append_entries", args, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

type invalidatePayload struct {
	Key string `json:"key"`
}

// BroadcastInvalidate implements cache.Broadcaster: fan the
// invalidation out to every known peer concurrently, tolerating
// individual failures, per spec.md §4.4's "best-effort fire-and-forget"
// failure semantics.
func (c *Client) BroadcastInvalidate(ctx context.Context, key string) error {
	var wg sync.WaitGroup
	for _, peerID := range c.peerIDs() {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			peerCtx, cancel := context.WithTimeout(ctx, raft.RPCTimeout())
			defer cancel()
			if err := c.post(peerCtx, id, "/cache/invalidate", invalidatePayload{Key: key}, nil); err != nil {
				logger.Debugf("transport: invalidate broadcast to %s failed: %v", id, err)
			}
		}(peerID)
	}
	wg.Wait()
	return nil
}
