package cluster

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/cuemby/palisade/pkg/storage"
	"github.com/cuemby/palisade/pkg/types"
)

// FSM implements the raft finite state machine for the security layer.
// Committed log entries mutate the node-local store, so every member ends up
// with an identical copy of the config documents and the node registry.
type FSM struct {
	mu    sync.RWMutex
	store storage.Store
}

// NewFSM creates a new FSM instance backed by the given store
func NewFSM(store storage.Store) *FSM {
	return &FSM{store: store}
}

// Command represents a state change operation in the raft log
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// applyResult is returned from Apply for operations that produce a value
type applyResult struct {
	Version int64
	Err     error
}

// Apply applies a committed raft log entry to the local store
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return applyResult{Err: fmt.Errorf("failed to unmarshal command: %w", err)}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case "put_config":
		var doc types.ConfigDocument
		if err := json.Unmarshal(cmd.Data, &doc); err != nil {
			return applyResult{Err: err}
		}
		version, err := f.store.PutConfig(&doc)
		return applyResult{Version: version, Err: err}

	case "register_node":
		var node types.Node
		if err := json.Unmarshal(cmd.Data, &node); err != nil {
			return applyResult{Err: err}
		}
		return applyResult{Err: f.store.PutNode(&node)}

	case "remove_node":
		var nodeID string
		if err := json.Unmarshal(cmd.Data, &nodeID); err != nil {
			return applyResult{Err: err}
		}
		return applyResult{Err: f.store.DeleteNode(nodeID)}

	case "save_ca":
		var data []byte
		if err := json.Unmarshal(cmd.Data, &data); err != nil {
			return applyResult{Err: err}
		}
		return applyResult{Err: f.store.SaveCA(data)}

	default:
		return applyResult{Err: fmt.Errorf("unknown command: %s", cmd.Op)}
	}
}

// Snapshot creates a point-in-time snapshot of the replicated state.
// Called periodically by raft to compact the log.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	configs, err := f.store.ListConfigs()
	if err != nil {
		return nil, fmt.Errorf("failed to list configs: %w", err)
	}

	nodes, err := f.store.ListNodes()
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	snapshot := &stateSnapshot{
		Configs: configs,
		Nodes:   nodes,
	}

	if ca, err := f.store.GetCA(); err == nil {
		snapshot.CA = ca
	}

	return snapshot, nil
}

// Restore replaces local state from a snapshot. Called when a node restarts
// or falls far enough behind the log.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snapshot stateSnapshot
	if err := json.NewDecoder(rc).Decode(&snapshot); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, doc := range snapshot.Configs {
		if err := f.store.RestoreConfig(doc); err != nil {
			return fmt.Errorf("failed to restore config %s: %w", doc.Type, err)
		}
	}

	for _, node := range snapshot.Nodes {
		if err := f.store.PutNode(node); err != nil {
			return fmt.Errorf("failed to restore node %s: %w", node.ID, err)
		}
	}

	if len(snapshot.CA) > 0 {
		if err := f.store.SaveCA(snapshot.CA); err != nil {
			return fmt.Errorf("failed to restore CA: %w", err)
		}
	}

	return nil
}

// stateSnapshot represents a point-in-time snapshot of replicated state
type stateSnapshot struct {
	Configs []*types.ConfigDocument
	Nodes   []*types.Node
	CA      []byte `json:",omitempty"`
}

// Persist writes the snapshot to the given SnapshotSink
func (s *stateSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()

	if err != nil {
		sink.Cancel()
	}

	return err
}

// Release releases the snapshot resources
func (s *stateSnapshot) Release() {}
