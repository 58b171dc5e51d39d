// Package config loads the environment-variable configuration spec.md
// §6 describes, using viper for env binding the way ar4mirez-maia
// wires a viper-backed config struct with AutomaticEnv.
//
// Grounded on original_source/src/utils/config.py (get_peers,
// get_node_list, get_cache_max_size, and the "malformed JSON → fatal"
// policy main.py's safe_json_load enforces) and main.py's
// get_port_from_id fallback for deriving an HTTP port from a node id
// when PORT isn't set explicitly.
package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	logging "github.com/op/go-logging"

	"github.com/dionp3/distributed-sync-system/logctx"
)

var logger *logging.Logger

func init() {
	logger = logctx.New("config")
}

// NodeType is one of the three process roles spec.md §2 splits the
// system into.
type NodeType string

const (
	NodeTypeLock  NodeType = "lock"
	NodeTypeQueue NodeType = "queue"
	NodeTypeCache NodeType = "cache"
)

// basePortFor mirrors main.py's port-per-node-type convention: each
// node type claims its own port range, nodes within it offset by the
// trailing integer in their id.
var basePortFor = map[NodeType]int{
	NodeTypeLock:  8000,
	NodeTypeQueue: 8010,
	NodeTypeCache: 8020,
}

// Config is the fully-resolved environment configuration for one
// process, per spec.md §6's Configuration table.
type Config struct {
	NodeID   string
	NodeType NodeType
	Port     int

	RaftPeers  map[string]string // nodeId -> base URL
	CachePeers map[string]string // nodeId -> base URL
	QueueNodes []string

	RedisHost    string
	CacheMaxSize int
}

// Load reads NODE_ID, NODE_TYPE, RAFT_PEERS, CACHE_PEERS, QUEUE_NODES,
// REDIS_HOST, CACHE_MAX_SIZE, and PORT from the environment. A
// malformed JSON value in RAFT_PEERS/CACHE_PEERS/QUEUE_NODES is a fatal
// misconfiguration, per the original's safe_json_load: callers should
// treat a non-nil error here as reason to exit, not retry.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("REDIS_HOST", "redis")
	v.SetDefault("CACHE_MAX_SIZE", 100)
	v.SetDefault("RAFT_PEERS", "{}")
	v.SetDefault("CACHE_PEERS", "{}")
	v.SetDefault("QUEUE_NODES", "[]")

	nodeID := v.GetString("NODE_ID")
	nodeType := NodeType(v.GetString("NODE_TYPE"))
	if nodeID == "" {
		return nil, fmt.Errorf("config: NODE_ID is required")
	}
	switch nodeType {
	case NodeTypeLock, NodeTypeQueue, NodeTypeCache:
	default:
		return nil, fmt.Errorf("config: NODE_TYPE must be one of lock|queue|cache, got %q", nodeType)
	}

	raftPeers, err := parsePeerMap(v.GetString("RAFT_PEERS"), "RAFT_PEERS")
	if err != nil {
		return nil, err
	}
	cachePeers, err := parsePeerMap(v.GetString("CACHE_PEERS"), "CACHE_PEERS")
	if err != nil {
		return nil, err
	}
	queueNodes, err := parseNodeList(v.GetString("QUEUE_NODES"))
	if err != nil {
		return nil, err
	}

	port := v.GetInt("PORT")
	if port == 0 {
		port = portFromNodeID(nodeType, nodeID)
	}

	return &Config{
		NodeID:       nodeID,
		NodeType:     nodeType,
		Port:         port,
		RaftPeers:    raftPeers,
		CachePeers:   cachePeers,
		QueueNodes:   queueNodes,
		RedisHost:    v.GetString("REDIS_HOST"),
		CacheMaxSize: v.GetInt("CACHE_MAX_SIZE"),
	}, nil
}

func parsePeerMap(raw string, envVar string) (map[string]string, error) {
	peers := make(map[string]string)
	if raw == "" {
		return peers, nil
	}
	if err := json.Unmarshal([]byte(raw), &peers); err != nil {
		return nil, fmt.Errorf("config: %s has invalid JSON: %w", envVar, err)
	}
	return peers, nil
}

func parseNodeList(raw string) ([]string, error) {
	var nodes []string
	if raw == "" {
		return nodes, nil
	}
	if err := json.Unmarshal([]byte(raw), &nodes); err != nil {
		return nil, fmt.Errorf("config: QUEUE_NODES has invalid JSON: %w", err)
	}
	return nodes, nil
}

// portFromNodeID implements main.py's get_port_from_id: base port for
// the node type, plus the trailing integer segment of the node id
// (split on "_"), falling back to base+1 if no integer suffix exists.
func portFromNodeID(nodeType NodeType, nodeID string) int {
	base := basePortFor[nodeType]
	parts := strings.Split(nodeID, "_")
	suffix := parts[len(parts)-1]
	n, err := strconv.Atoi(suffix)
	if err != nil {
		logger.Warningf("config: node id %q has no numeric suffix, defaulting to base port + 1", nodeID)
		return base + 1
	}
	return base + n
}
