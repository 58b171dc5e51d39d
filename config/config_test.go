package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadParsesPeersAndDerivesPort(t *testing.T) {
	t.Setenv("NODE_ID", "lock_node_3")
	t.Setenv("NODE_TYPE", "lock")
	t.Setenv("RAFT_PEERS", `{"lock_node_1":"http://host1:8001","lock_node_2":"http://host2:8002"}`)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "lock_node_3", cfg.NodeID)
	assert.Equal(t, NodeTypeLock, cfg.NodeType)
	assert.Equal(t, 8003, cfg.Port, "base port 8000 + trailing id suffix 3")
	assert.Equal(t, "http://host1:8001", cfg.RaftPeers["lock_node_1"])
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("NODE_ID", "cache_node_1")
	t.Setenv("NODE_TYPE", "cache")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.RedisHost)
	assert.Equal(t, 100, cfg.CacheMaxSize)
	assert.Empty(t, cfg.CachePeers)
}

func TestLoadRejectsMalformedPeerJSON(t *testing.T) {
	t.Setenv("NODE_ID", "lock_node_1")
	t.Setenv("NODE_TYPE", "lock")
	t.Setenv("RAFT_PEERS", `{not-json`)

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsUnknownNodeType(t *testing.T) {
	t.Setenv("NODE_ID", "n1")
	t.Setenv("NODE_TYPE", "bogus")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsMissingNodeID(t *testing.T) {
	t.Setenv("NODE_TYPE", "lock")

	_, err := Load()
	assert.Error(t, err)
}

func TestPortFromNodeIDFallsBackWithoutNumericSuffix(t *testing.T) {
	assert.Equal(t, 8021, portFromNodeID(NodeTypeCache, "cache_node_1"))
	assert.Equal(t, 8001, portFromNodeID(NodeTypeLock, "weird"))
}
