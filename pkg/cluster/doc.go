// Package cluster implements the replicated state machine and the
// config-update broadcast for the security layer.
//
// # Architecture
//
// Every node runs a raft member. Config document writes, node registry
// changes and CA material go through the raft log, so each member holds an
// identical local copy in its own store. Reads never cross the network: a
// node authenticates and authorizes requests entirely from its local
// snapshot.
//
// A write does not change what a node enforces until that node reloads. The
// Broadcaster closes this gap: after a replicated write it fans a reload
// notification out to every member over the internal API and tallies the
// acknowledgements. A member that fails to reload keeps serving its previous
// snapshot; the broadcast reports the failure but performs no rollback.
//
// # Core Components
//
//   - Node: raft lifecycle (bootstrap, join, voter management) and the
//     typed write operations that go through the log
//   - FSM: applies committed commands to the local store, snapshots and
//     restores replicated state
//   - Broadcaster: parallel reload fan-out with per-node ack summary
//
// # Invariants
//
// Writes are leader-only; followers return ErrNotLeader and the API layer
// points the caller at the leader. Apply order is identical on every member,
// so version numbers assigned by the store are identical cluster-wide.
package cluster
