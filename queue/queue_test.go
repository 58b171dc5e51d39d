package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dionp3/distributed-sync-system/kvstore"
	"github.com/dionp3/distributed-sync-system/ring"
)

func newTestNode(t *testing.T, id string, r *ring.Ring) (*Node, kvstore.Store) {
	t.Helper()
	store := kvstore.NewMemory()
	return New(id, r, store), store
}

// TestPublishRedirectsToRingOwner covers spec.md §8's S3 scenario:
// publishing to a topic this node doesn't own returns REDIRECT
// naming the actual owner.
func TestPublishRedirectsToRingOwner(t *testing.T) {
	r := ring.New("node-a", "node-b", "node-c")

	var topic string
	for _, candidate := range []string{"orders", "payments", "events", "shipping"} {
		if r.Lookup(candidate) != "node-a" {
			topic = candidate
			break
		}
	}
	require.NotEmpty(t, topic, "expected at least one topic not owned by node-a")

	n, _ := newTestNode(t, "node-a", r)
	result, err := n.Publish(context.Background(), topic, json.RawMessage(`{"x":1}`))
	require.NoError(t, err)
	assert.Equal(t, "REDIRECT", result.Status)
	assert.Equal(t, r.Lookup(topic), result.Node)
}

// TestPublishConsumeAckRoundTrip covers the owner-side happy path:
// publish lands in the main list, consume moves it to pending plus
// metadata, ack clears both.
func TestPublishConsumeAckRoundTrip(t *testing.T) {
	r := ring.New("solo")
	n, store := newTestNode(t, "solo", r)
	ctx := context.Background()

	pub, err := n.Publish(ctx, "orders", json.RawMessage(`{"item":"widget"}`))
	require.NoError(t, err)
	require.Equal(t, "SUCCESS", pub.Status)
	require.NotEmpty(t, pub.MessageID)

	consumed, err := n.Consume(ctx, "orders")
	require.NoError(t, err)
	require.Equal(t, "MESSAGE_SENT", consumed.Status)
	require.Equal(t, pub.MessageID, consumed.Message.ID)

	_, ok, err := store.Get(ctx, "q:orders")
	require.NoError(t, err)
	assert.False(t, ok, "main list key shouldn't exist as a string")

	again, err := n.Consume(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, "NO_MESSAGE", again.Status)

	ack, err := n.Ack(ctx, "orders", consumed.Message.ID)
	require.NoError(t, err)
	assert.Equal(t, "ACK_RECEIVED", ack.Status)

	doubleAck, err := n.Ack(ctx, "orders", consumed.Message.ID)
	require.NoError(t, err)
	assert.Equal(t, "ACK_NOT_FOUND", doubleAck.Status)
}

// TestRedeliveryMonitorRequeuesUnackedMessage covers spec.md §8's S4
// scenario: a consumed-but-unacked message past RedeliveryTimeout is
// put back at the head of the main queue and can be consumed again.
func TestRedeliveryMonitorRequeuesUnackedMessage(t *testing.T) {
	r := ring.New("solo")
	n, _ := newTestNode(t, "solo", r)
	ctx := context.Background()

	base := time.Now()
	n.nowFunc = func() time.Time { return base }

	_, err := n.Publish(ctx, "alerts", json.RawMessage(`{"level":"high"}`))
	require.NoError(t, err)

	consumed, err := n.Consume(ctx, "alerts")
	require.NoError(t, err)
	require.Equal(t, "MESSAGE_SENT", consumed.Status)

	// advance the clock well past RedeliveryTimeout, then run one scan.
	n.nowFunc = func() time.Time { return base.Add(RedeliveryTimeout + time.Second) }
	mon := NewMonitor(n)
	mon.tick(ctx)

	redelivered, err := n.Consume(ctx, "alerts")
	require.NoError(t, err)
	require.Equal(t, "MESSAGE_SENT", redelivered.Status)
	assert.Equal(t, consumed.Message.ID, redelivered.Message.ID)
}

// TestRedeliveryIsIdempotentAfterAck covers the idempotency note in
// spec.md §4.3: once a message is acked, it must never be redelivered
// even if a scan races the ack.
func TestRedeliveryIsIdempotentAfterAck(t *testing.T) {
	r := ring.New("solo")
	n, _ := newTestNode(t, "solo", r)
	ctx := context.Background()

	_, err := n.Publish(ctx, "jobs", json.RawMessage(`{}`))
	require.NoError(t, err)
	consumed, err := n.Consume(ctx, "jobs")
	require.NoError(t, err)

	ack, err := n.Ack(ctx, "jobs", consumed.Message.ID)
	require.NoError(t, err)
	require.Equal(t, "ACK_RECEIVED", ack.Status)

	mon := NewMonitor(n)
	mon.tick(ctx)

	again, err := n.Consume(ctx, "jobs")
	require.NoError(t, err)
	assert.Equal(t, "NO_MESSAGE", again.Status)
}
