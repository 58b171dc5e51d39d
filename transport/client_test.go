package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dionp3/distributed-sync-system/raft"
)

func TestSendRequestVoteRoundTrips(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"term":3,"vote_granted":true}`))
	}))
	defer srv.Close()

	client := NewClient(map[string]string{"peer-1": srv.URL})
	reply, err := client.SendRequestVote(context.Background(), "peer-1", &raft.RequestVoteArgs{Term: 3})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), reply.Term)
	assert.True(t, reply.VoteGranted)
}

func TestSendRequestVoteUnknownPeerErrors(t *testing.T) {
	client := NewClient(map[string]string{})
	_, err := client.SendRequestVote(context.Background(), "ghost", &raft.RequestVoteArgs{})
	assert.Error(t, err)
}

// TestBroadcastInvalidateToleratesPartialFailure covers spec.md §4.4's
// best-effort broadcast semantics: one dead peer must not stop
// delivery to a live one, and the call itself never errors out.
func TestBroadcastInvalidateToleratesPartialFailure(t *testing.T) {
	received := make(chan string, 1)
	live := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- "ok"
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer live.Close()

	client := NewClient(map[string]string{
		"live": live.URL,
		"dead": "http://127.0.0.1:1", // nothing listening
	})

	err := client.BroadcastInvalidate(context.Background(), "k1")
	assert.NoError(t, err)

	select {
	case <-received:
	default:
		t.Fatal("expected the live peer to receive the invalidate broadcast")
	}
}
