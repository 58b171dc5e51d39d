package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Monitor scans pending-metadata hashes for topics this node owns and
// redelivers any message whose sentTime is older than RedeliveryTimeout,
// per spec.md §4.3. Idempotent under repeated scans: once a message's
// metadata entry is deleted by the first successful move, later scans
// simply won't see it.
type Monitor struct {
	node     *Node
	interval time.Duration
	stopCh   chan struct{}
}

// NewMonitor constructs a redelivery monitor polling every
// RedeliveryTimeout/3, as spec.md §4.3 and the original's
// redelivery_monitor both specify.
func NewMonitor(node *Node) *Monitor {
	return &Monitor{
		node:     node,
		interval: RedeliveryTimeout / 3,
		stopCh:   make(chan struct{}),
	}
}

// Run polls until Stop is called.
func (m *Monitor) Run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.tick(context.Background())
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	metaKeys, err := m.node.store.Keys(ctx, pendingPrefix+"*"+metaSuffix)
	if err != nil {
		logger.Errorf("queue redelivery: keys scan failed: %v", err)
		return
	}

	now := m.node.now()
	for _, metaKey := range metaKeys {
		topic, ok := topicFromMetaKey(metaKey)
		if !ok {
			continue
		}
		if m.node.ring.Lookup(topic) != m.node.id {
			continue
		}
		m.redeliverExpired(ctx, topic, metaKey, now)
	}
}

func (m *Monitor) redeliverExpired(ctx context.Context, topic, metaKey string, now time.Time) {
	pending, err := m.node.store.HGetAll(ctx, metaKey)
	if err != nil {
		logger.Errorf("queue redelivery: hgetall %s failed: %v", metaKey, err)
		return
	}

	pendingKey := pendingPrefix + topic
	queueKey := queuePrefix + topic

	for msgID, raw := range pending {
		var msg Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			continue
		}
		sentTime := time.Unix(0, int64(msg.SentTime*1e9))
		if now.Sub(sentTime) <= RedeliveryTimeout {
			continue
		}

		logger.Infof("queue: redelivering message %s for topic %q on timeout", msgID, topic)
		if err := m.node.store.LPush(ctx, queueKey, raw); err != nil {
			logger.Errorf("queue redelivery: lpush failed: %v", err)
			continue
		}
		if _, err := m.node.store.HDel(ctx, metaKey, msgID); err != nil {
			logger.Errorf("queue redelivery: hdel failed: %v", err)
			continue
		}
		if err := m.node.store.LRem(ctx, pendingKey, raw); err != nil {
			logger.Errorf("queue redelivery: lrem failed: %v", err)
		}
	}
}

// Stop halts the monitor loop.
func (m *Monitor) Stop() {
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
	}
}
