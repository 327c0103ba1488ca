package cluster

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"

	"github.com/cuemby/palisade/pkg/events"
	"github.com/cuemby/palisade/pkg/log"
	"github.com/cuemby/palisade/pkg/metrics"
	"github.com/cuemby/palisade/pkg/storage"
	"github.com/cuemby/palisade/pkg/types"
)

// ErrNotLeader is returned when a write lands on a follower
var ErrNotLeader = errors.New("not the cluster leader")

const applyTimeout = 5 * time.Second

// Config holds configuration for creating a Node
type Config struct {
	NodeID   string
	BindAddr string
	APIAddr  string
	DataDir  string
}

// Node is one member of the security cluster. It owns the raft instance
// replicating config documents and the node registry to every member.
type Node struct {
	nodeID   string
	bindAddr string
	apiAddr  string
	dataDir  string

	raft   *raft.Raft
	fsm    *FSM
	store  storage.Store
	broker *events.Broker
	logger zerolog.Logger
}

// NewNode creates a cluster node on top of an existing store
func NewNode(cfg *Config, store storage.Store, broker *events.Broker) *Node {
	return &Node{
		nodeID:   cfg.NodeID,
		bindAddr: cfg.BindAddr,
		apiAddr:  cfg.APIAddr,
		dataDir:  cfg.DataDir,
		fsm:      NewFSM(store),
		store:    store,
		broker:   broker,
		logger:   log.WithComponent("cluster"),
	}
}

func (n *Node) setupRaft() error {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(n.nodeID)

	// Tuned for LAN deployments: faster failure detection and election
	// than the WAN-oriented defaults
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", n.bindAddr)
	if err != nil {
		return fmt.Errorf("failed to resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(n.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(n.dataDir, 2, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(n.dataDir, "raft-log.db"))
	if err != nil {
		return fmt.Errorf("failed to create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(n.dataDir, "raft-stable.db"))
	if err != nil {
		return fmt.Errorf("failed to create stable store: %w", err)
	}

	r, err := raft.NewRaft(config, n.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return fmt.Errorf("failed to create raft: %w", err)
	}

	n.raft = r
	go n.monitorLeadership()
	return nil
}

// Bootstrap initializes a new single-node raft cluster and registers this
// node in the replicated registry
func (n *Node) Bootstrap() error {
	if err := n.setupRaft(); err != nil {
		return err
	}

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{
				ID:      raft.ServerID(n.nodeID),
				Address: raft.ServerAddress(n.bindAddr),
			},
		},
	}

	if err := n.raft.BootstrapCluster(configuration).Error(); err != nil {
		return fmt.Errorf("failed to bootstrap cluster: %w", err)
	}

	// Wait for this node to win the single-member election before the
	// self-registration write
	deadline := time.Now().Add(10 * time.Second)
	for !n.IsLeader() {
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for leadership")
		}
		time.Sleep(50 * time.Millisecond)
	}

	n.logger.Info().Str("node_id", n.nodeID).Msg("Bootstrapped cluster")

	return n.RegisterNode(&types.Node{
		ID:       n.nodeID,
		RaftAddr: n.bindAddr,
		APIAddr:  n.apiAddr,
		Status:   types.NodeStatusReady,
		JoinedAt: time.Now(),
	})
}

// joinRequest is the body of the internal join endpoint
type joinRequest struct {
	NodeID   string `json:"node_id"`
	RaftAddr string `json:"raft_addr"`
	APIAddr  string `json:"api_addr"`
}

// Join starts raft and asks the leader, via its internal API, to add this
// node as a voter. The HTTP client must carry a node certificate.
func (n *Node) Join(leaderAPIAddr string, tlsConfig *tls.Config) error {
	if err := n.setupRaft(); err != nil {
		return err
	}

	body, err := json.Marshal(joinRequest{
		NodeID:   n.nodeID,
		RaftAddr: n.bindAddr,
		APIAddr:  n.apiAddr,
	})
	if err != nil {
		return err
	}

	client := &http.Client{
		Timeout:   10 * time.Second,
		Transport: &http.Transport{TLSClientConfig: tlsConfig},
	}

	url := fmt.Sprintf("https://%s/_internal/join", leaderAPIAddr)
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to contact leader: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("leader rejected join: %s", resp.Status)
	}

	n.logger.Info().Str("node_id", n.nodeID).Str("leader", leaderAPIAddr).Msg("Joined cluster")
	return nil
}

// AddVoter adds a new node to the raft cluster. Leader only.
func (n *Node) AddVoter(nodeID, address string) error {
	if n.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !n.IsLeader() {
		return ErrNotLeader
	}

	future := n.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to add voter: %w", err)
	}

	n.logger.Info().Str("node_id", nodeID).Str("address", address).Msg("Added voter")
	return nil
}

// RemoveServer removes a node from the raft cluster. Leader only.
func (n *Node) RemoveServer(nodeID string) error {
	if n.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	if !n.IsLeader() {
		return ErrNotLeader
	}

	future := n.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to remove server: %w", err)
	}

	return n.RemoveNode(nodeID)
}

// IsLeader returns true if this node is the raft leader
func (n *Node) IsLeader() bool {
	if n.raft == nil {
		return false
	}
	return n.raft.State() == raft.Leader
}

// LeaderAddr returns the raft address of the current leader
func (n *Node) LeaderAddr() string {
	if n.raft == nil {
		return ""
	}
	addr, _ := n.raft.LeaderWithID()
	return string(addr)
}

// ID returns this node's identifier
func (n *Node) ID() string {
	return n.nodeID
}

// APIAddr returns this node's API address
func (n *Node) APIAddr() string {
	return n.apiAddr
}

// Members returns the registered cluster members
func (n *Node) Members() ([]*types.Node, error) {
	return n.store.ListNodes()
}

// Stats returns raft statistics for diagnostics
func (n *Node) Stats() map[string]interface{} {
	if n.raft == nil {
		return nil
	}

	return map[string]interface{}{
		"state":          n.raft.State().String(),
		"last_log_index": n.raft.LastIndex(),
		"applied_index":  n.raft.AppliedIndex(),
		"leader":         n.LeaderAddr(),
	}
}

// apply submits a command to the raft log and waits for commit
func (n *Node) apply(cmd Command) (applyResult, error) {
	if n.raft == nil {
		return applyResult{}, fmt.Errorf("raft not initialized")
	}
	if !n.IsLeader() {
		return applyResult{}, ErrNotLeader
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return applyResult{}, fmt.Errorf("failed to marshal command: %w", err)
	}

	future := n.raft.Apply(data, applyTimeout)
	if err := future.Error(); err != nil {
		return applyResult{}, fmt.Errorf("failed to apply command: %w", err)
	}

	result, ok := future.Response().(applyResult)
	if !ok {
		return applyResult{}, fmt.Errorf("unexpected apply response %T", future.Response())
	}
	return result, result.Err
}

// PutConfig replicates a config document write to every member and returns
// the version assigned to it
func (n *Node) PutConfig(doc *types.ConfigDocument) (int64, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return 0, err
	}

	result, err := n.apply(Command{Op: "put_config", Data: data})
	if err != nil {
		return 0, err
	}

	metrics.ConfigWritesTotal.WithLabelValues(string(doc.Type)).Inc()
	n.publish(events.EventConfigUpdated, fmt.Sprintf("Config %s updated to version %d", doc.Type, result.Version), map[string]string{
		"type":    string(doc.Type),
		"version": fmt.Sprintf("%d", result.Version),
	})
	return result.Version, nil
}

// RegisterNode adds or refreshes a member in the replicated node registry
func (n *Node) RegisterNode(node *types.Node) error {
	data, err := json.Marshal(node)
	if err != nil {
		return err
	}

	if _, err := n.apply(Command{Op: "register_node", Data: data}); err != nil {
		return err
	}

	n.publish(events.EventNodeJoined, fmt.Sprintf("Node %s joined", node.ID), map[string]string{
		"node_id":  node.ID,
		"api_addr": node.APIAddr,
	})
	return nil
}

// RemoveNode removes a member from the replicated node registry
func (n *Node) RemoveNode(nodeID string) error {
	data, err := json.Marshal(nodeID)
	if err != nil {
		return err
	}

	if _, err := n.apply(Command{Op: "remove_node", Data: data}); err != nil {
		return err
	}

	n.publish(events.EventNodeLeft, fmt.Sprintf("Node %s left", nodeID), map[string]string{
		"node_id": nodeID,
	})
	return nil
}

// SaveCA replicates CA material to every member
func (n *Node) SaveCA(caData []byte) error {
	data, err := json.Marshal(caData)
	if err != nil {
		return err
	}

	_, err = n.apply(Command{Op: "save_ca", Data: data})
	return err
}

// monitorLeadership keeps leadership metrics current
func (n *Node) monitorLeadership() {
	for isLeader := range n.raft.LeaderCh() {
		if isLeader {
			metrics.RaftLeader.Set(1)
			n.logger.Info().Str("node_id", n.nodeID).Msg("Became leader")
		} else {
			metrics.RaftLeader.Set(0)
			n.logger.Info().Str("node_id", n.nodeID).Msg("Lost leadership")
		}

		if members, err := n.Members(); err == nil {
			metrics.RaftPeers.Set(float64(len(members)))
		}
	}
}

func (n *Node) publish(eventType events.EventType, msg string, metadata map[string]string) {
	if n.broker == nil {
		return
	}
	n.broker.Publish(&events.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		Message:   msg,
		Metadata:  metadata,
	})
}

// Shutdown stops raft gracefully
func (n *Node) Shutdown() error {
	if n.raft == nil {
		return nil
	}
	return n.raft.Shutdown().Error()
}
