package transport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dionp3/distributed-sync-system/cache"
	"github.com/dionp3/distributed-sync-system/lockmanager"
	"github.com/dionp3/distributed-sync-system/queue"
	"github.com/dionp3/distributed-sync-system/raft"
)

// Server wires the REST surfaces spec.md §6 names onto a
// *mux.Router. It stays thin by design — decode request, call straight
// into the engine's exported API, encode response — the way
// yogimathius-time-series-analytics-engine's REST layer does.
type Server struct {
	Router *mux.Router

	raftNode *raft.Node
	locks    *lockmanager.Manager
	queue    *queue.Node
	cache    *cache.Cache
}

// NewServer builds the route set for whichever engines are non-nil.
// A lock node passes raftNode+locks, a queue node passes queue, a
// cache node passes cache — cmd/* wires exactly one of each per
// process per spec.md §2's node-type split.
func NewServer(raftNode *raft.Node, locks *lockmanager.Manager, q *queue.Node, c *cache.Cache) *Server {
	s := &Server{
		Router:   mux.NewRouter(),
		raftNode: raftNode,
		locks:    locks,
		queue:    q,
		cache:    c,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.Router.Use(requestIDMiddleware)

	if s.raftNode != nil {
		s.Router.HandleFunc("/raft/request_vote", s.handleRequestVote).Methods(http.MethodPost)
		s.Router.HandleFunc("/raft/append_entries", s.handleAppendEntries).Methods(http.MethodPost)
	}
	if s.locks != nil {
		s.Router.HandleFunc("/lock/acquire", s.handleLockAcquire).Methods(http.MethodPost)
		s.Router.HandleFunc("/lock/release", s.handleLockRelease).Methods(http.MethodPost)
	}
	if s.queue != nil {
		s.Router.HandleFunc("/queue/publish", s.handleQueuePublish).Methods(http.MethodPost)
		s.Router.HandleFunc("/queue/consume", s.handleQueueConsume).Methods(http.MethodPost)
		s.Router.HandleFunc("/queue/ack", s.handleQueueAck).Methods(http.MethodPost)
	}
	if s.cache != nil {
		s.Router.HandleFunc("/cache/read", s.handleCacheRead).Methods(http.MethodPost)
		s.Router.HandleFunc("/cache/write", s.handleCacheWrite).Methods(http.MethodPost)
		s.Router.HandleFunc("/cache/invalidate", s.handleCacheInvalidate).Methods(http.MethodPost)
	}
	s.Router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

// requestIDMiddleware stamps every request with a uuid-based request
// id for log correlation, the way Chinzzii-leader-replication-go and
// cuemby-warren mint per-request ids.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set("X-Request-Id", reqID)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(r *http.Request, out any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

// --- raft ---

func (s *Server) handleRequestVote(w http.ResponseWriter, r *http.Request) {
	var args raft.RequestVoteArgs
	if err := decodeJSON(r, &args); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.raftNode.HandleRequestVote(&args))
}

func (s *Server) handleAppendEntries(w http.ResponseWriter, r *http.Request) {
	var args raft.AppendEntriesArgs
	if err := decodeJSON(r, &args); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.raftNode.HandleAppendEntries(&args))
}

// --- lock ---

type acquireRequest struct {
	LockName string               `json:"lock_name"`
	LockType lockmanager.LockType `json:"lock_type"`
	ClientID string               `json:"client_id"`
	Timeout  float64              `json:"timeout"`
}

func (s *Server) handleLockAcquire(w http.ResponseWriter, r *http.Request) {
	req := acquireRequest{Timeout: 10.0}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	timeout := time.Duration(req.Timeout * float64(time.Second))
	writeJSON(w, http.StatusOK, s.locks.Acquire(req.LockName, req.LockType, req.ClientID, timeout))
}

type releaseRequest struct {
	LockName string `json:"lock_name"`
	ClientID string `json:"client_id"`
}

func (s *Server) handleLockRelease(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.locks.Release(req.LockName, req.ClientID))
}

// --- queue ---

type publishRequest struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

func (s *Server) handleQueuePublish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	result, err := s.queue.Publish(r.Context(), req.Topic, req.Data)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type topicRequest struct {
	Topic string `json:"topic"`
}

func (s *Server) handleQueueConsume(w http.ResponseWriter, r *http.Request) {
	var req topicRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	result, err := s.queue.Consume(r.Context(), req.Topic)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type ackRequest struct {
	Topic     string `json:"topic"`
	MessageID string `json:"message_id"`
}

func (s *Server) handleQueueAck(w http.ResponseWriter, r *http.Request) {
	var req ackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	result, err := s.queue.Ack(r.Context(), req.Topic, req.MessageID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- cache ---

type cacheKeyRequest struct {
	Key string `json:"key"`
}

func (s *Server) handleCacheRead(w http.ResponseWriter, r *http.Request) {
	var req cacheKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	result, err := s.cache.Read(r.Context(), req.Key)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type cacheWriteRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (s *Server) handleCacheWrite(w http.ResponseWriter, r *http.Request) {
	var req cacheWriteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	result, err := s.cache.Write(r.Context(), req.Key, req.Value)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	var req cacheKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.cache.HandleInvalidate(r.Context(), req.Key); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
