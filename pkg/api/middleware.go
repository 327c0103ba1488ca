package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cuemby/palisade/pkg/auth"
	"github.com/cuemby/palisade/pkg/log"
	"github.com/cuemby/palisade/pkg/metrics"
	"github.com/cuemby/palisade/pkg/rbac"
	"github.com/cuemby/palisade/pkg/types"
)

type contextKey string

const (
	principalKey contextKey = "principal"
	rolesKey     contextKey = "effective_roles"
)

// PrincipalFrom returns the authenticated principal for the request, or nil
// when security is disabled
func PrincipalFrom(ctx context.Context) *types.Principal {
	p, _ := ctx.Value(principalKey).(*types.Principal)
	return p
}

// RolesFrom returns the effective roles resolved for the request, or nil for
// admin-certificate and security-disabled requests
func RolesFrom(ctx context.Context) *rbac.EffectiveRoles {
	e, _ := ctx.Value(rolesKey).(*rbac.EffectiveRoles)
	return e
}

// countingWriter records status and body bytes for the traffic counters
type countingWriter struct {
	http.ResponseWriter
	status  int
	written int64
}

func (w *countingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *countingWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.written += int64(n)
	return n, err
}

// instrument updates the traffic counters for every completed request,
// denied ones included
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		cw := &countingWriter{ResponseWriter: w, status: http.StatusOK}

		if r.ContentLength > 0 {
			metrics.BytesReceived.Add(float64(r.ContentLength))
		}

		next.ServeHTTP(cw, r)

		metrics.BytesSent.Add(float64(cw.written))
		metrics.HTTPRequestsTotal.WithLabelValues(fmt.Sprintf("%dxx", cw.status/100)).Inc()

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		metrics.HTTPRequestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	})
}

// secured runs the authorization pipeline for one action:
// disabled bypass, initialization gate, authentication, admin-certificate
// bypass, then role evaluation.
func (s *Server) secured(action string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.DisableSecurity {
			next(w, r)
			return
		}

		if !s.registry.Gate().IsInitialized() {
			s.writeNotInitialized(w)
			return
		}

		principal, err := s.identity.Resolve(r, s.registry.Current())
		if err != nil {
			s.writeUnauthorized(w, err)
			return
		}

		r = r.WithContext(context.WithValue(r.Context(), principalKey, principal))

		if principal.IsAdminCert {
			metrics.AuthResultsTotal.WithLabelValues("admin_bypass", string(principal.CredentialKind)).Inc()
			next(w, r)
			return
		}

		eff := s.roles.Resolve(principal, s.registry.Current())
		if !eff.Covers(action) {
			metrics.AuthResultsTotal.WithLabelValues("denied", string(principal.CredentialKind)).Inc()
			principalLogger := log.WithPrincipal(principal.Name)
			principalLogger.Warn().
				Str("action", action).
				Msg("Access denied")
			writeJSON(w, http.StatusForbidden, map[string]string{
				"error": fmt.Sprintf("no permissions for %s", action),
				"user":  principal.Name,
			})
			return
		}

		metrics.AuthResultsTotal.WithLabelValues("allowed", string(principal.CredentialKind)).Inc()
		next(w, r.WithContext(context.WithValue(r.Context(), rolesKey, eff)))
	}
}

// securedConfigWrite is the pipeline for config PUTs. It differs from
// secured in one way: while the gate is closed, an admin certificate may
// still write the bootstrap-allowed types so a fresh cluster can be seeded.
func (s *Server) securedConfigWrite(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.DisableSecurity {
			next(w, r)
			return
		}

		if !s.registry.Gate().IsInitialized() {
			principal, err := s.identity.Resolve(r, s.registry.Current())
			if err != nil || !principal.IsAdminCert {
				s.writeNotInitialized(w)
				return
			}

			ct := types.ConfigType(chi.URLParam(r, "type"))
			if !s.bootstrapAllowed(ct) {
				s.writeNotInitialized(w)
				return
			}

			metrics.AuthResultsTotal.WithLabelValues("admin_bootstrap", string(principal.CredentialKind)).Inc()
			next(w, r.WithContext(context.WithValue(r.Context(), principalKey, principal)))
			return
		}

		s.secured(ActionConfigWrite, next)(w, r)
	}
}

// securedConfigUpdate is the pipeline for the reload trigger. While the gate
// is closed an admin certificate may still broadcast a reload, so the first
// load of freshly written bootstrap documents can open the gate without a
// node restart.
func (s *Server) securedConfigUpdate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.DisableSecurity {
			next(w, r)
			return
		}

		if !s.registry.Gate().IsInitialized() {
			principal, err := s.identity.Resolve(r, s.registry.Current())
			if err != nil || !principal.IsAdminCert {
				s.writeNotInitialized(w)
				return
			}

			metrics.AuthResultsTotal.WithLabelValues("admin_bootstrap", string(principal.CredentialKind)).Inc()
			next(w, r.WithContext(context.WithValue(r.Context(), principalKey, principal)))
			return
		}

		s.secured(ActionConfigUpdate, next)(w, r)
	}
}

// requireNodeCert admits only peers presenting an inter-node certificate
func (s *Server) requireNodeCert(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.DisableSecurity {
			next.ServeHTTP(w, r)
			return
		}

		if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "node certificate required"})
			return
		}

		dn := r.TLS.PeerCertificates[0].Subject.String()
		if _, isNode := s.identity.ClassifyDN(dn); !isNode {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "node certificate required"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) bootstrapAllowed(ct types.ConfigType) bool {
	for _, t := range s.cfg.BootstrapTypes {
		if t == ct {
			return true
		}
	}
	return false
}

func (s *Server) writeNotInitialized(w http.ResponseWriter) {
	metrics.AuthResultsTotal.WithLabelValues("not_initialized", "none").Inc()
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"error": "security layer not initialized",
	})
}

func (s *Server) writeUnauthorized(w http.ResponseWriter, err error) {
	outcome := "unauthenticated"
	if errors.Is(err, auth.ErrInvalidCredentials) {
		outcome = "invalid_credentials"
	}
	metrics.AuthResultsTotal.WithLabelValues(outcome, "none").Inc()

	w.Header().Set("WWW-Authenticate", `Basic realm="palisade"`)
	writeJSON(w, http.StatusUnauthorized, map[string]string{
		"error": "authentication required",
	})
}
