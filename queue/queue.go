// Package queue implements the sharded, at-least-once persistent queue
// spec.md §4.3 describes. The engine itself is stateless per request —
// all durable state lives in the external key-value store, keyed as:
//
//	main:     list  at   q:<topic>
//	pending:  list  at   pending_q:<topic>
//	metadata: hash  at   pending_q:<topic>_meta  : messageId -> msg
//
// Ported from an asyncio/redis-py implementation to context-aware
// kvstore.Store calls, using a small serialization-aware value type
// instead of ad hoc string concatenation.
package queue

import (
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	logging "github.com/op/go-logging"

	"github.com/dionp3/distributed-sync-system/kvstore"
	"github.com/dionp3/distributed-sync-system/logctx"
	"github.com/dionp3/distributed-sync-system/ring"
)

var logger *logging.Logger

func init() {
	logger = logctx.New("queue")
}

const (
	queuePrefix   = "q:"
	pendingPrefix = "pending_q:"
	metaSuffix    = "_meta"
)

// RedeliveryTimeout is how long a consumed-but-unacked message sits in
// the pending list before the redelivery monitor puts it back on the
// main queue, per spec.md §4.3.
const RedeliveryTimeout = 30 * time.Second

// ErrRedirect names the REDIRECT condition. Publish and Consume do not
// return it: a topic this node doesn't own is reported as a result with
// Status "REDIRECT" and the owning node id in Node, with a nil error.
var ErrRedirect = fmt.Errorf("REDIRECT")

// Message is the wire shape stored at every stage of the queue.
type Message struct {
	ID        string          `json:"id"`
	Timestamp float64         `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	Topic     string          `json:"topic"`
	SentTime  float64         `json:"sent_time,omitempty"`
}

// PublishResult is the §6 /queue/publish response shape.
type PublishResult struct {
	Status    string `json:"status"` // SUCCESS | REDIRECT | FAILURE
	MessageID string `json:"message_id,omitempty"`
	Node      string `json:"node,omitempty"`
}

// ConsumeResult is the §6 /queue/consume response shape.
type ConsumeResult struct {
	Status  string   `json:"status"` // MESSAGE_SENT | NO_MESSAGE | REDIRECT
	Node    string   `json:"node,omitempty"`
	Message *Message `json:"message,omitempty"`
}

// AckResult is the §6 /queue/ack response shape.
type AckResult struct {
	Status    string `json:"status"` // ACK_RECEIVED | ACK_NOT_FOUND
	MessageID string `json:"message_id"`
}

// Node is one shard of the distributed queue, stateless apart from its
// id and the ring it consults to decide ownership.
type Node struct {
	id    string
	ring  *ring.Ring
	store kvstore.Store

	nowFunc func() time.Time
}

// New constructs a queue Node bound to a store and a (shared) ring.
func New(id string, r *ring.Ring, store kvstore.Store) *Node {
	return &Node{id: id, ring: r, store: store, nowFunc: time.Now}
}

func (n *Node) now() time.Time {
	if n.nowFunc != nil {
		return n.nowFunc()
	}
	return time.Now()
}

// Publish implements spec.md §4.3's publish operation.
func (n *Node) Publish(ctx context.Context, topic string, data json.RawMessage) (PublishResult, error) {
	owner := n.ring.Lookup(topic)
	if owner == "" {
		return PublishResult{Status: "FAILURE"}, fmt.Errorf("no nodes available")
	}
	if owner != n.id {
		return PublishResult{Status: "REDIRECT", Node: owner}, nil
	}

	now := n.now()
	id := messageID(topic, now)
	msg := Message{ID: id, Timestamp: float64(now.UnixNano()) / 1e9, Data: data, Topic: topic}
	payload, err := json.Marshal(msg)
	if err != nil {
		return PublishResult{}, err
	}
	if err := n.store.RPush(ctx, queuePrefix+topic, string(payload)); err != nil {
		return PublishResult{}, err
	}
	return PublishResult{Status: "SUCCESS", MessageID: id, Node: n.id}, nil
}

func messageID(topic string, now time.Time) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s-%d", topic, now.UnixNano())))
	return fmt.Sprintf("%x", sum)[:10]
}

// Consume implements spec.md §4.3's consume operation: an atomic
// pop-tail-of-main/push-head-of-pending move, then metadata install,
// with the pending-list entry swapped for the stamped copy.
func (n *Node) Consume(ctx context.Context, topic string) (ConsumeResult, error) {
	owner := n.ring.Lookup(topic)
	if owner != n.id {
		return ConsumeResult{Status: "REDIRECT", Node: owner}, nil
	}

	queueKey := queuePrefix + topic
	pendingKey := pendingPrefix + topic
	metaKey := pendingKey + metaSuffix

	raw, ok, err := n.store.RPopLPush(ctx, queueKey, pendingKey)
	if err != nil {
		return ConsumeResult{}, err
	}
	if !ok {
		return ConsumeResult{Status: "NO_MESSAGE"}, nil
	}

	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return ConsumeResult{}, fmt.Errorf("corrupt queue entry: %w", err)
	}
	msg.SentTime = float64(n.now().UnixNano()) / 1e9

	updated, err := json.Marshal(msg)
	if err != nil {
		return ConsumeResult{}, err
	}
	if err := n.store.HSet(ctx, metaKey, msg.ID, string(updated)); err != nil {
		return ConsumeResult{}, err
	}
	// Replace the pending-list copy with the sent_time-stamped one, so Ack
	// and the redelivery monitor can remove it by the metadata value.
	if err := n.store.LPush(ctx, pendingKey, string(updated)); err != nil {
		return ConsumeResult{}, err
	}
	if err := n.store.LRem(ctx, pendingKey, raw); err != nil {
		return ConsumeResult{}, err
	}

	return ConsumeResult{Status: "MESSAGE_SENT", Message: &msg}, nil
}

// Ack implements spec.md §4.3's acknowledge operation.
func (n *Node) Ack(ctx context.Context, topic string, messageID string) (AckResult, error) {
	pendingKey := pendingPrefix + topic
	metaKey := pendingKey + metaSuffix

	raw, ok, err := n.store.HGet(ctx, metaKey, messageID)
	if err != nil {
		return AckResult{}, err
	}
	if !ok {
		return AckResult{Status: "ACK_NOT_FOUND", MessageID: messageID}, nil
	}

	deleted, err := n.store.HDel(ctx, metaKey, messageID)
	if err != nil {
		return AckResult{}, err
	}
	if !deleted {
		return AckResult{Status: "ACK_NOT_FOUND", MessageID: messageID}, nil
	}

	if err := n.store.LRem(ctx, pendingKey, raw); err != nil {
		return AckResult{}, err
	}
	return AckResult{Status: "ACK_RECEIVED", MessageID: messageID}, nil
}

// topicFromMetaKey recovers the topic name from a "pending_q:<topic>_meta"
// key, the inverse of the key scheme above.
func topicFromMetaKey(metaKey string) (string, bool) {
	if !strings.HasPrefix(metaKey, pendingPrefix) || !strings.HasSuffix(metaKey, metaSuffix) {
		return "", false
	}
	topic := strings.TrimPrefix(metaKey, pendingPrefix)
	topic = strings.TrimSuffix(topic, metaSuffix)
	return topic, true
}
