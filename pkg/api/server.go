package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/cuemby/palisade/pkg/auth"
	"github.com/cuemby/palisade/pkg/cluster"
	"github.com/cuemby/palisade/pkg/config"
	"github.com/cuemby/palisade/pkg/log"
	"github.com/cuemby/palisade/pkg/metrics"
	"github.com/cuemby/palisade/pkg/rbac"
	"github.com/cuemby/palisade/pkg/storage"
	"github.com/cuemby/palisade/pkg/types"
)

// Actions checked by the authorization pipeline
const (
	ActionConfigRead   = "security:config/read"
	ActionConfigWrite  = "security:config/write"
	ActionConfigUpdate = "security:configupdate"
	ActionAuthInfo     = "security:authinfo/read"
)

// Cluster is the slice of cluster operations the API layer needs
type Cluster interface {
	PutConfig(doc *types.ConfigDocument) (int64, error)
	RegisterNode(node *types.Node) error
	AddVoter(nodeID, address string) error
	IsLeader() bool
	LeaderAddr() string
	Members() ([]*types.Node, error)
	Stats() map[string]interface{}
}

// Broadcaster fans reloads out to the cluster after config writes
type Broadcaster interface {
	Broadcast(ctx context.Context, configTypes []types.ConfigType) (*cluster.AckSummary, error)
}

// Config holds the API server configuration
type Config struct {
	Addr string

	// DisableSecurity passes every request through with no authentication
	// or authorization. Only for development.
	DisableSecurity bool

	// BootstrapTypes are the config types an admin certificate may write
	// while the initialization gate is still closed
	BootstrapTypes []types.ConfigType

	TLS *tls.Config
}

// Server is the security layer's HTTP surface
type Server struct {
	cfg         Config
	registry    *config.Registry
	identity    *auth.Resolver
	roles       *rbac.Resolver
	store       storage.Store
	cluster     Cluster
	broadcaster Broadcaster
	router      chi.Router
	httpServer  *http.Server
	logger      zerolog.Logger
}

// NewServer wires the full request pipeline and routes
func NewServer(cfg Config, registry *config.Registry, identity *auth.Resolver, roles *rbac.Resolver, store storage.Store, cl Cluster, bc Broadcaster) *Server {
	s := &Server{
		cfg:         cfg,
		registry:    registry,
		identity:    identity,
		roles:       roles,
		store:       store,
		cluster:     cl,
		broadcaster: bc,
		logger:      log.WithComponent("api"),
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.instrument)

	// Liveness and metrics sit outside the security pipeline
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/_security", func(r chi.Router) {
		// whoami answers before initialization and without credentials;
		// it only projects the transport identity
		r.Get("/whoami", s.handleWhoAmI)

		r.Get("/authinfo", s.secured(ActionAuthInfo, s.handleAuthInfo))
		r.Get("/config/{type}", s.secured(ActionConfigRead, s.handleConfigGet))
		r.Put("/config/{type}", s.securedConfigWrite(s.handleConfigPut))
		r.Post("/configupdate", s.securedConfigUpdate(s.handleConfigUpdate))
	})

	// Node-certificate-only endpoints for intra-cluster traffic
	r.Route("/_internal", func(r chi.Router) {
		r.Use(s.requireNodeCert)
		r.Post("/configupdate", s.handleInternalConfigUpdate)
		r.Post("/join", s.handleInternalJoin)
	})

	s.router = r
	return s
}

// Handler returns the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving. Blocks until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		TLSConfig:    s.cfg.TLS,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", s.cfg.Addr).Bool("tls", s.cfg.TLS != nil).Msg("API server starting")

	if s.cfg.TLS != nil {
		// Certificates come from TLSConfig
		return s.httpServer.ListenAndServeTLS("", "")
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
