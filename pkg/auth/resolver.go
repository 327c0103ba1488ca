package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/cuemby/palisade/pkg/config"
	"github.com/cuemby/palisade/pkg/types"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrNoCredentials means the request carried no usable credentials and
	// no anonymous fallback applies
	ErrNoCredentials = errors.New("no credentials supplied")

	// ErrInvalidCredentials means credentials were present but failed
	// verification
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrMalformedCertificate means a peer certificate was presented but its
	// subject could not be interpreted
	ErrMalformedCertificate = errors.New("malformed peer certificate")
)

// InjectedUserHeader asserts an identity verbatim when the injected-identity
// escape hatch is enabled. Format: "username" or "username|role1,role2".
const InjectedUserHeader = "X-Palisade-Injected-User"

// dummyHash keeps credential verification constant-time for unknown users
var dummyHash = []byte("$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW")

// Options configures the identity resolver
type Options struct {
	// AdminDNs is the allow-list of admin certificate subject DNs
	// (exact match after normalization)
	AdminDNs []string

	// NodeDNPatterns classify inter-node certificates (wildcard patterns)
	NodeDNPatterns []string

	// InjectedUserEnabled turns on the injected-identity escape hatch.
	// Off by default; intended only for trusted internal automation.
	InjectedUserEnabled bool
}

// Resolver extracts a Principal from a request's transport credentials.
// Resolution branches are mutually exclusive and tried in fixed precedence:
// peer certificate, basic credentials, injected header, anonymous.
type Resolver struct {
	opts     Options
	adminDNs map[string]struct{}
}

// NewResolver creates a resolver with the given options
func NewResolver(opts Options) *Resolver {
	admins := make(map[string]struct{}, len(opts.AdminDNs))
	for _, dn := range opts.AdminDNs {
		admins[NormalizeDN(dn)] = struct{}{}
	}
	return &Resolver{opts: opts, adminDNs: admins}
}

// Resolve extracts the principal for one request. The snapshot may be nil
// before initialization; certificate identities still resolve (the who-am-i
// path works pre-init), while basic and anonymous resolution require a
// snapshot and fail with ErrNoCredentials without one.
func (r *Resolver) Resolve(req *http.Request, snap *config.Snapshot) (*types.Principal, error) {
	// 1. Mutual TLS peer certificate
	if req.TLS != nil && len(req.TLS.PeerCertificates) > 0 {
		return r.resolveCert(req)
	}

	// 2. HTTP basic credentials
	if username, password, ok := req.BasicAuth(); ok {
		if snap == nil || !snap.Security.HTTP.BasicAuthActive() {
			return nil, ErrInvalidCredentials
		}
		return r.resolveBasic(username, password, snap)
	}

	// 3. Injected identity escape hatch
	if r.opts.InjectedUserEnabled {
		if raw := req.Header.Get(InjectedUserHeader); raw != "" {
			return resolveInjected(raw)
		}
	}

	// 4. Anonymous fallback
	if snap != nil && snap.Security.HTTP.AnonymousAuthEnabled {
		return anonymousPrincipal(snap.Security), nil
	}

	// 5. Nothing usable
	return nil, ErrNoCredentials
}

// ClassifyDN reports the admin/node classification for a certificate subject
// DN without building a full principal. Used by the who-am-i projection.
func (r *Resolver) ClassifyDN(dn string) (isAdmin, isNode bool) {
	norm := NormalizeDN(dn)
	if _, ok := r.adminDNs[norm]; ok {
		isAdmin = true
	}
	for _, p := range r.opts.NodeDNPatterns {
		if MatchDNPattern(p, dn) {
			isNode = true
			break
		}
	}
	return isAdmin, isNode
}

func (r *Resolver) resolveCert(req *http.Request) (*types.Principal, error) {
	cert := req.TLS.PeerCertificates[0]
	dn := cert.Subject.String()
	if dn == "" {
		return nil, ErrMalformedCertificate
	}

	isAdmin, isNode := r.ClassifyDN(dn)

	name := cert.Subject.CommonName
	if name == "" {
		name = dn
	}

	// Organizational units travel as backend roles for DN-based mappings
	var backendRoles []string
	backendRoles = append(backendRoles, cert.Subject.OrganizationalUnit...)

	return &types.Principal{
		Name:           name,
		BackendRoles:   backendRoles,
		CredentialKind: types.CredentialCert,
		DN:             dn,
		IsAdminCert:    isAdmin,
		IsNodeCert:     isNode,
	}, nil
}

func (r *Resolver) resolveBasic(username, password string, snap *config.Snapshot) (*types.Principal, error) {
	user, ok := snap.InternalUsers[username]
	if !ok {
		// Burn a comparison anyway so absent and present users cost the same
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Hash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return &types.Principal{
		Name:           username,
		BackendRoles:   append([]string(nil), user.BackendRoles...),
		CredentialKind: types.CredentialBasic,
	}, nil
}

func resolveInjected(raw string) (*types.Principal, error) {
	parts := strings.SplitN(raw, "|", 2)
	name := strings.TrimSpace(parts[0])
	if name == "" {
		return nil, ErrInvalidCredentials
	}

	var backendRoles []string
	if len(parts) == 2 {
		for _, role := range strings.Split(parts[1], ",") {
			if role = strings.TrimSpace(role); role != "" {
				backendRoles = append(backendRoles, role)
			}
		}
	}

	return &types.Principal{
		Name:           name,
		BackendRoles:   backendRoles,
		CredentialKind: types.CredentialInjected,
	}, nil
}

func anonymousPrincipal(cfg *types.SecurityConfig) *types.Principal {
	name := cfg.HTTP.AnonymousUsername
	if name == "" {
		name = types.DefaultAnonymousUsername
	}
	roles := cfg.HTTP.AnonymousBackendRoles
	if len(roles) == 0 {
		roles = []string{types.DefaultAnonymousBackendRole}
	}
	return &types.Principal{
		Name:           name,
		BackendRoles:   append([]string(nil), roles...),
		CredentialKind: types.CredentialAnonymous,
	}
}
