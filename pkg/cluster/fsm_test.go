package cluster

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/palisade/pkg/storage"
	"github.com/cuemby/palisade/pkg/types"
)

func testFSM(t *testing.T) (*FSM, storage.Store) {
	t.Helper()

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return NewFSM(store), store
}

func applyCommand(t *testing.T, fsm *FSM, op string, payload interface{}) applyResult {
	t.Helper()

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	cmdData, err := json.Marshal(Command{Op: op, Data: data})
	require.NoError(t, err)

	result, ok := fsm.Apply(&raft.Log{Data: cmdData}).(applyResult)
	require.True(t, ok)
	return result
}

func TestFSMApplyPutConfig(t *testing.T) {
	fsm, store := testFSM(t)

	doc := &types.ConfigDocument{
		Type:    types.ConfigTypeRoles,
		Payload: []byte("admin_role:\n  permissions:\n    - \"*\"\n"),
	}

	result := applyCommand(t, fsm, "put_config", doc)
	require.NoError(t, result.Err)
	assert.Equal(t, int64(1), result.Version)

	// A second write to the same type bumps the version
	result = applyCommand(t, fsm, "put_config", doc)
	require.NoError(t, result.Err)
	assert.Equal(t, int64(2), result.Version)

	stored, err := store.GetConfig(types.ConfigTypeRoles)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)
	assert.Equal(t, doc.Payload, stored.Payload)
}

func TestFSMApplyNodeRegistry(t *testing.T) {
	fsm, store := testFSM(t)

	node := &types.Node{
		ID:       "node-1",
		RaftAddr: "127.0.0.1:7000",
		APIAddr:  "127.0.0.1:9200",
		Status:   types.NodeStatusReady,
		JoinedAt: time.Now(),
	}

	result := applyCommand(t, fsm, "register_node", node)
	require.NoError(t, result.Err)

	got, err := store.GetNode("node-1")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9200", got.APIAddr)

	result = applyCommand(t, fsm, "remove_node", "node-1")
	require.NoError(t, result.Err)

	_, err = store.GetNode("node-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFSMApplyUnknownCommand(t *testing.T) {
	fsm, _ := testFSM(t)

	result := applyCommand(t, fsm, "scale_service", "nope")
	assert.Error(t, result.Err)
}

// memorySink buffers a raft snapshot in memory
type memorySink struct {
	bytes.Buffer
	cancelled bool
}

func (s *memorySink) ID() string    { return "in-memory" }
func (s *memorySink) Cancel() error { s.cancelled = true; return nil }
func (s *memorySink) Close() error  { return nil }

func TestFSMSnapshotRestoreRoundTrip(t *testing.T) {
	fsm, _ := testFSM(t)

	doc := &types.ConfigDocument{
		Type:    types.ConfigTypeInternalUsers,
		Payload: []byte("alice:\n  hash: \"$2a$12$abc\"\n"),
	}
	require.NoError(t, applyCommand(t, fsm, "put_config", doc).Err)
	require.NoError(t, applyCommand(t, fsm, "put_config", doc).Err)
	require.NoError(t, applyCommand(t, fsm, "register_node", &types.Node{ID: "node-1"}).Err)

	snap, err := fsm.Snapshot()
	require.NoError(t, err)

	sink := &memorySink{}
	require.NoError(t, snap.Persist(sink))
	assert.False(t, sink.cancelled)

	restored, store2 := testFSM(t)
	require.NoError(t, restored.Restore(io.NopCloser(bytes.NewReader(sink.Bytes()))))

	// Versions survive restore verbatim, they are not re-assigned
	got, err := store2.GetConfig(types.ConfigTypeInternalUsers)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)

	node, err := store2.GetNode("node-1")
	require.NoError(t, err)
	assert.Equal(t, "node-1", node.ID)
}
