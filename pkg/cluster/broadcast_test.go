package cluster

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/palisade/pkg/config"
	"github.com/cuemby/palisade/pkg/storage"
	"github.com/cuemby/palisade/pkg/types"
)

type fakeMembership struct {
	id      string
	members []*types.Node
}

func (f *fakeMembership) ID() string { return f.id }

func (f *fakeMembership) Members() ([]*types.Node, error) { return f.members, nil }

func seedStore(t *testing.T, store storage.Store) {
	t.Helper()
	for _, ct := range types.AllConfigTypes() {
		_, err := store.PutConfig(&types.ConfigDocument{Type: ct, Payload: []byte("{}")})
		require.NoError(t, err)
	}
}

// remoteNode is an httptest stand-in for one member's internal endpoint
func remoteNode(t *testing.T, fail bool) *httptest.Server {
	t.Helper()
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/_internal/configupdate" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if fail {
			http.Error(w, "malformed roles document", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func testBroadcaster(t *testing.T, membership *fakeMembership, trust *httptest.Server) *Broadcaster {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	seedStore(t, store)

	registry := config.NewRegistry(store, nil)

	b := NewBroadcaster(membership, registry, nil)
	// Trust the httptest certificate for remote calls
	b.client = trust.Client()
	return b
}

func apiAddr(ts *httptest.Server) string {
	return strings.TrimPrefix(ts.URL, "https://")
}

func TestBroadcastAllNodesAck(t *testing.T) {
	remote1 := remoteNode(t, false)
	remote2 := remoteNode(t, false)

	membership := &fakeMembership{
		id: "node-1",
		members: []*types.Node{
			{ID: "node-1", APIAddr: "127.0.0.1:0"},
			{ID: "node-2", APIAddr: apiAddr(remote1)},
			{ID: "node-3", APIAddr: apiAddr(remote2)},
		},
	}

	b := testBroadcaster(t, membership, remote1)
	summary, err := b.Broadcast(context.Background(), types.AllConfigTypes())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.TotalNodes)
	assert.Equal(t, 3, summary.Acked)
	assert.True(t, summary.AllAcked())
	assert.Empty(t, summary.Failures)
}

func TestBroadcastPartialFailure(t *testing.T) {
	healthy := remoteNode(t, false)
	broken := remoteNode(t, true)

	membership := &fakeMembership{
		id: "node-1",
		members: []*types.Node{
			{ID: "node-1", APIAddr: "127.0.0.1:0"},
			{ID: "node-2", APIAddr: apiAddr(healthy)},
			{ID: "node-3", APIAddr: apiAddr(broken)},
		},
	}

	b := testBroadcaster(t, membership, healthy)
	summary, err := b.Broadcast(context.Background(), types.AllConfigTypes())
	require.NoError(t, err)

	// The broken node is reported; the healthy ones still reloaded
	assert.Equal(t, 2, summary.Acked)
	assert.False(t, summary.AllAcked())
	assert.Contains(t, summary.Failures["node-3"], "malformed roles document")
}

func TestBroadcastSurvivesAbandonedCaller(t *testing.T) {
	remote := remoteNode(t, false)

	membership := &fakeMembership{
		id: "node-1",
		members: []*types.Node{
			{ID: "node-1", APIAddr: "127.0.0.1:0"},
			{ID: "node-2", APIAddr: apiAddr(remote)},
		},
	}

	// The caller is gone before the fan-out starts; reloads still run to
	// completion and every node acks
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := testBroadcaster(t, membership, remote)
	summary, err := b.Broadcast(ctx, types.AllConfigTypes())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Acked)
	assert.True(t, summary.AllAcked())
	assert.Empty(t, summary.Failures)
}

func TestBroadcastLocalReloadOpensGate(t *testing.T) {
	membership := &fakeMembership{
		id:      "node-1",
		members: []*types.Node{{ID: "node-1", APIAddr: "127.0.0.1:0"}},
	}

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	seedStore(t, store)

	registry := config.NewRegistry(store, nil)
	require.False(t, registry.Gate().IsInitialized())

	b := NewBroadcaster(membership, registry, nil)
	summary, err := b.Broadcast(context.Background(), types.AllConfigTypes())
	require.NoError(t, err)

	assert.True(t, summary.AllAcked())
	assert.True(t, registry.Gate().IsInitialized())
	assert.NotNil(t, registry.Current())
}

func TestBroadcastLocalFailureReported(t *testing.T) {
	membership := &fakeMembership{
		id:      "node-1",
		members: []*types.Node{{ID: "node-1", APIAddr: "127.0.0.1:0"}},
	}

	// Empty store: the local load fails with missing documents
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	registry := config.NewRegistry(store, nil)
	b := NewBroadcaster(membership, registry, nil)

	summary, err := b.Broadcast(context.Background(), types.AllConfigTypes())
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Acked)
	assert.Contains(t, summary.Failures, "node-1")
	assert.False(t, registry.Gate().IsInitialized())
}
