package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/palisade/pkg/types"
)

func testStore(t *testing.T) *BoltStore {
	t.Helper()

	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPutConfigBumpsVersion(t *testing.T) {
	store := testStore(t)

	v, err := store.PutConfig(&types.ConfigDocument{
		Type:    types.ConfigTypeRoles,
		Payload: []byte("reader: {}\n"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = store.PutConfig(&types.ConfigDocument{
		Type:    types.ConfigTypeRoles,
		Payload: []byte("reader: {}\nwriter: {}\n"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	doc, err := store.GetConfig(types.ConfigTypeRoles)
	require.NoError(t, err)
	assert.Equal(t, int64(2), doc.Version)
	assert.Equal(t, "reader: {}\nwriter: {}\n", string(doc.Payload))
	assert.False(t, doc.UpdatedAt.IsZero())
}

func TestGetConfigNotFound(t *testing.T) {
	store := testStore(t)

	_, err := store.GetConfig(types.ConfigTypeTenants)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRestoreConfigKeepsVersionAndTimestamp(t *testing.T) {
	store := testStore(t)

	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	require.NoError(t, store.RestoreConfig(&types.ConfigDocument{
		Type:      types.ConfigTypeRoles,
		Version:   7,
		Payload:   []byte("reader: {}\n"),
		UpdatedAt: ts,
	}))

	doc, err := store.GetConfig(types.ConfigTypeRoles)
	require.NoError(t, err)
	assert.Equal(t, int64(7), doc.Version)
	assert.True(t, doc.UpdatedAt.Equal(ts))

	// A regular write after restore continues from the restored version
	v, err := store.PutConfig(&types.ConfigDocument{
		Type:    types.ConfigTypeRoles,
		Payload: []byte("{}"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(8), v)
}

func TestIsEmptyAndListConfigs(t *testing.T) {
	store := testStore(t)

	empty, err := store.IsEmpty()
	require.NoError(t, err)
	assert.True(t, empty)

	for _, ct := range types.AllConfigTypes() {
		_, err := store.PutConfig(&types.ConfigDocument{Type: ct, Payload: []byte("{}")})
		require.NoError(t, err)
	}

	empty, err = store.IsEmpty()
	require.NoError(t, err)
	assert.False(t, empty)

	docs, err := store.ListConfigs()
	require.NoError(t, err)
	assert.Len(t, docs, len(types.AllConfigTypes()))
}

func TestNodeRegistry(t *testing.T) {
	store := testStore(t)

	node := &types.Node{
		ID:       "node-1",
		RaftAddr: "127.0.0.1:7700",
		APIAddr:  "127.0.0.1:9700",
		Status:   types.NodeStatusReady,
	}
	require.NoError(t, store.PutNode(node))

	got, err := store.GetNode("node-1")
	require.NoError(t, err)
	assert.Equal(t, node.RaftAddr, got.RaftAddr)
	assert.Equal(t, types.NodeStatusReady, got.Status)

	nodes, err := store.ListNodes()
	require.NoError(t, err)
	assert.Len(t, nodes, 1)

	require.NoError(t, store.DeleteNode("node-1"))
	_, err = store.GetNode("node-1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetNode("never-registered")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveAndGetCA(t *testing.T) {
	store := testStore(t)

	_, err := store.GetCA()
	assert.ErrorIs(t, err, ErrNotFound)

	payload := []byte(`{"root_cert":"abc"}`)
	require.NoError(t, store.SaveCA(payload))

	got, err := store.GetCA()
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// The returned slice is a copy, mutating it must not corrupt the store
	got[0] = 'X'
	again, err := store.GetCA()
	require.NoError(t, err)
	assert.Equal(t, payload, again)
}
