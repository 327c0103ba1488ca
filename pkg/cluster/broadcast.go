package cluster

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/palisade/pkg/config"
	"github.com/cuemby/palisade/pkg/log"
	"github.com/cuemby/palisade/pkg/metrics"
	"github.com/cuemby/palisade/pkg/types"
)

const (
	broadcastTimeout     = 10 * time.Second
	broadcastConcurrency = 8
)

// AckSummary reports the per-node outcome of one config-update broadcast
type AckSummary struct {
	TotalNodes int               `json:"total_nodes"`
	Acked      int               `json:"acked"`
	Failures   map[string]string `json:"failures,omitempty"`
}

// AllAcked reports whether every member acknowledged the reload
func (s *AckSummary) AllAcked() bool {
	return s.Acked == s.TotalNodes
}

// Membership exposes the slice of cluster state the broadcaster needs
type Membership interface {
	ID() string
	Members() ([]*types.Node, error)
}

// Broadcaster fans a reload notification out to every cluster member after a
// config write. Each member re-reads the named types from its own replicated
// store; a member that fails keeps its previous snapshot and the others are
// not rolled back.
type Broadcaster struct {
	node     Membership
	registry *config.Registry
	client   *http.Client
	logger   zerolog.Logger
}

// NewBroadcaster creates a broadcaster. The TLS config must present this
// node's certificate so peers accept the internal request.
func NewBroadcaster(node Membership, registry *config.Registry, tlsConfig *tls.Config) *Broadcaster {
	return &Broadcaster{
		node:     node,
		registry: registry,
		client: &http.Client{
			Timeout:   broadcastTimeout,
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
		},
		logger: log.WithComponent("broadcast"),
	}
}

// Broadcast triggers a reload of the named config types on every cluster
// member, including this one, and tallies the acknowledgements. A per-node
// failure never cancels the requests still in flight.
func (b *Broadcaster) Broadcast(ctx context.Context, configTypes []types.ConfigType) (*AckSummary, error) {
	members, err := b.node.Members()
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}

	metrics.BroadcastsTotal.Inc()

	summary := &AckSummary{
		TotalNodes: len(members),
		Failures:   make(map[string]string),
	}
	var mu sync.Mutex

	// A reload that has started runs to completion even when the caller
	// abandons the request; the per-node client timeout still bounds it
	fanout := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(broadcastConcurrency)

	for _, member := range members {
		member := member
		g.Go(func() error {
			var reloadErr error
			if member.ID == b.node.ID() {
				reloadErr = b.registry.Reload(fanout, configTypes)
			} else {
				reloadErr = b.reloadRemote(fanout, member.APIAddr, configTypes)
			}

			mu.Lock()
			defer mu.Unlock()
			if reloadErr != nil {
				summary.Failures[member.ID] = reloadErr.Error()
			} else {
				summary.Acked++
			}
			return nil
		})
	}

	// Goroutines never return errors; Wait only orders the tally
	_ = g.Wait()

	if len(summary.Failures) > 0 {
		metrics.BroadcastNodeFailures.Add(float64(len(summary.Failures)))
		b.logger.Warn().
			Int("total", summary.TotalNodes).
			Int("acked", summary.Acked).
			Interface("failures", summary.Failures).
			Msg("Broadcast completed with failures")
	} else {
		b.logger.Info().
			Int("total", summary.TotalNodes).
			Msg("Broadcast acknowledged by all nodes")
	}

	return summary, nil
}

// reloadRemote asks one member to reload from its local store
func (b *Broadcaster) reloadRemote(ctx context.Context, apiAddr string, configTypes []types.ConfigType) error {
	names := make([]string, len(configTypes))
	for i, t := range configTypes {
		names[i] = string(t)
	}

	url := fmt.Sprintf("https://%s/_internal/configupdate?types=%s", apiAddr, strings.Join(names, ","))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("node returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}
