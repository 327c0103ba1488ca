package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cuemby/palisade/pkg/cluster"
	"github.com/cuemby/palisade/pkg/config"
	"github.com/cuemby/palisade/pkg/log"
	"github.com/cuemby/palisade/pkg/storage"
	"github.com/cuemby/palisade/pkg/types"
)

// maxConfigBody bounds a config document upload
const maxConfigBody = 4 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// HealthResponse represents the liveness check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// handleHealth is a simple liveness probe
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// handleReady reports whether this node can serve authenticated traffic
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	ready := true
	var message string

	if s.cluster != nil {
		if s.cluster.IsLeader() {
			checks["raft"] = "leader"
		} else if addr := s.cluster.LeaderAddr(); addr != "" {
			checks["raft"] = fmt.Sprintf("follower (leader: %s)", addr)
		} else {
			checks["raft"] = "no leader elected"
			ready = false
			message = "Waiting for leader election"
		}
	} else {
		checks["raft"] = "not running"
	}

	if s.cfg.DisableSecurity {
		checks["security"] = "disabled"
	} else if s.registry.Gate().IsInitialized() {
		checks["security"] = fmt.Sprintf("initialized (generation %d)", s.registry.Current().Generation)
	} else {
		checks["security"] = "not initialized"
		ready = false
		if message == "" {
			message = "Security configuration not loaded"
		}
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	})
}

// WhoAmIResponse projects the transport identity of the caller
type WhoAmIResponse struct {
	DN                       string `json:"dn"`
	IsAdmin                  bool   `json:"is_admin"`
	IsNodeCertificateRequest bool   `json:"is_node_certificate_request"`
}

// handleWhoAmI answers for any caller, before initialization included. It
// never consults the config snapshot; only the peer certificate matters.
func (s *Server) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	resp := WhoAmIResponse{}

	if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
		resp.DN = r.TLS.PeerCertificates[0].Subject.String()
		resp.IsAdmin, resp.IsNodeCertificateRequest = s.identity.ClassifyDN(resp.DN)
	}

	writeJSON(w, http.StatusOK, resp)
}

// AuthInfoResponse describes the caller's resolved identity and grants
type AuthInfoResponse struct {
	UserName     string   `json:"user_name"`
	BackendRoles []string `json:"backend_roles"`
	Roles        []string `json:"roles"`
	Tenants      []string `json:"tenants"`
	Principal    string   `json:"principal,omitempty"`
	CredentialK  string   `json:"credential_kind"`
}

func (s *Server) handleAuthInfo(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFrom(r.Context())
	if principal == nil {
		// Security disabled: there is no identity to report
		writeJSON(w, http.StatusOK, AuthInfoResponse{UserName: "security_disabled"})
		return
	}

	resp := AuthInfoResponse{
		UserName:     principal.Name,
		BackendRoles: principal.BackendRoles,
		Principal:    principal.DN,
		CredentialK:  string(principal.CredentialKind),
	}

	if eff := RolesFrom(r.Context()); eff != nil {
		resp.Roles = eff.Roles
	}

	if snap := s.registry.Current(); snap != nil {
		for name := range snap.Tenants {
			resp.Tenants = append(resp.Tenants, name)
		}
		sort.Strings(resp.Tenants)
	}

	writeJSON(w, http.StatusOK, resp)
}

// ConfigDocumentResponse is the GET projection of one stored document
type ConfigDocumentResponse struct {
	Type      string    `json:"type"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
	Payload   string    `json:"payload"`
}

func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	ct := types.ConfigType(chi.URLParam(r, "type"))
	if !ct.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown config type %q", ct)})
		return
	}

	doc, err := s.store.GetConfig(ct)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("no %s document", ct)})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, ConfigDocumentResponse{
		Type:      string(doc.Type),
		Version:   doc.Version,
		UpdatedAt: doc.UpdatedAt,
		Payload:   string(doc.Payload),
	})
}

// ConfigWriteResponse reports the result of a config document write
type ConfigWriteResponse struct {
	Status  string `json:"status"`
	Type    string `json:"type"`
	Version int64  `json:"version"`
}

// handleConfigPut stores one config document. The write replicates to every
// member but changes nothing until a configupdate broadcast reloads it.
func (s *Server) handleConfigPut(w http.ResponseWriter, r *http.Request) {
	ct := types.ConfigType(chi.URLParam(r, "type"))
	if !ct.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown config type %q", ct)})
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxConfigBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}

	// Reject documents that could never load; a malformed write must not
	// be able to poison a later reload
	if err := config.ValidatePayload(ct, payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	_, getErr := s.store.GetConfig(ct)
	created := errors.Is(getErr, storage.ErrNotFound)

	version, err := s.cluster.PutConfig(&types.ConfigDocument{Type: ct, Payload: payload})
	if err != nil {
		if errors.Is(err, cluster.ErrNotLeader) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error":  "writes must go to the cluster leader",
				"leader": s.cluster.LeaderAddr(),
			})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	status := http.StatusOK
	statusText := "UPDATED"
	if created {
		status = http.StatusCreated
		statusText = "CREATED"
	}

	ctLogger := log.WithConfigType(string(ct))
	ctLogger.Info().
		Int64("version", version).
		Msg("Config document written")

	writeJSON(w, status, ConfigWriteResponse{
		Status:  statusText,
		Type:    string(ct),
		Version: version,
	})
}

// handleConfigUpdate broadcasts a reload of the named types (default: all)
// to every cluster member and reports the per-node tally
func (s *Server) handleConfigUpdate(w http.ResponseWriter, r *http.Request) {
	configTypes, err := parseTypesParam(r.URL.Query().Get("types"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	summary, err := s.broadcaster.Broadcast(r.Context(), configTypes)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// handleInternalConfigUpdate reloads this node's snapshot from its local
// store. Reached only with a node certificate.
func (s *Server) handleInternalConfigUpdate(w http.ResponseWriter, r *http.Request) {
	configTypes, err := parseTypesParam(r.URL.Query().Get("types"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if err := s.registry.Reload(r.Context(), configTypes); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "reloaded",
		"generation": s.registry.Current().Generation,
	})
}

// joinRequest mirrors cluster.joinRequest for the leader-side handler
type joinRequest struct {
	NodeID   string `json:"node_id"`
	RaftAddr string `json:"raft_addr"`
	APIAddr  string `json:"api_addr"`
}

// handleInternalJoin adds a new member to raft and the node registry
func (s *Server) handleInternalJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid join request"})
		return
	}
	if req.NodeID == "" || req.RaftAddr == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "node_id and raft_addr are required"})
		return
	}

	if !s.cluster.IsLeader() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error":  "join must go to the cluster leader",
			"leader": s.cluster.LeaderAddr(),
		})
		return
	}

	if err := s.cluster.AddVoter(req.NodeID, req.RaftAddr); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	node := &types.Node{
		ID:       req.NodeID,
		RaftAddr: req.RaftAddr,
		APIAddr:  req.APIAddr,
		Status:   types.NodeStatusReady,
		JoinedAt: time.Now(),
	}
	if err := s.cluster.RegisterNode(node); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "joined"})
}

// parseTypesParam parses the comma-separated types query parameter; empty
// means every config type
func parseTypesParam(raw string) ([]types.ConfigType, error) {
	if raw == "" {
		return types.AllConfigTypes(), nil
	}
	return types.ParseConfigTypes(strings.Split(raw, ","))
}
