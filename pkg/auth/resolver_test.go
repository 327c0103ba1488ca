package auth

import (
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/cuemby/palisade/pkg/config"
	"github.com/cuemby/palisade/pkg/types"
)

const (
	testAdminDN       = "CN=admin,OU=admin,O=Palisade Cluster"
	testNodeDNPattern = "CN=*,OU=node,O=Palisade Cluster"
)

func testResolver(injected bool) *Resolver {
	return NewResolver(Options{
		AdminDNs:            []string{testAdminDN},
		NodeDNPatterns:      []string{testNodeDNPattern},
		InjectedUserEnabled: injected,
	})
}

func testSnapshot(t *testing.T, mutate func(*types.SecurityConfig)) *config.Snapshot {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)

	sec := &types.SecurityConfig{}
	if mutate != nil {
		mutate(sec)
	}
	return &config.Snapshot{
		Generation: 1,
		Security:   sec,
		InternalUsers: map[string]*types.InternalUser{
			"alice": {Hash: string(hash), BackendRoles: []string{"ops"}},
		},
	}
}

func certRequest(cn string, ous ...string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/_security/authinfo", nil)
	req.TLS = &tls.ConnectionState{
		PeerCertificates: []*x509.Certificate{{
			Subject: pkix.Name{
				CommonName:         cn,
				OrganizationalUnit: ous,
				Organization:       []string{"Palisade Cluster"},
			},
		}},
	}
	return req
}

func TestResolveAdminCertificate(t *testing.T) {
	snap := testSnapshot(t, nil)

	p, err := testResolver(false).Resolve(certRequest("admin", "admin"), snap)
	require.NoError(t, err)

	assert.Equal(t, "admin", p.Name)
	assert.Equal(t, types.CredentialCert, p.CredentialKind)
	assert.True(t, p.IsAdminCert)
	assert.False(t, p.IsNodeCert)
	assert.Equal(t, []string{"admin"}, p.BackendRoles)
}

func TestResolveNodeCertificate(t *testing.T) {
	p, err := testResolver(false).Resolve(certRequest("node-3", "node"), nil)
	require.NoError(t, err)

	assert.True(t, p.IsNodeCert)
	assert.False(t, p.IsAdminCert)
	assert.Equal(t, "node-3", p.Name)
}

func TestResolveClientCertificateOUsAsBackendRoles(t *testing.T) {
	snap := testSnapshot(t, nil)

	p, err := testResolver(false).Resolve(certRequest("svc-metrics", "monitoring", "readonly"), snap)
	require.NoError(t, err)

	assert.False(t, p.IsAdminCert)
	assert.False(t, p.IsNodeCert)
	assert.Equal(t, []string{"monitoring", "readonly"}, p.BackendRoles)
}

func TestCertificateBeatsBasicCredentials(t *testing.T) {
	snap := testSnapshot(t, nil)

	req := certRequest("admin", "admin")
	req.SetBasicAuth("alice", "correct horse")

	p, err := testResolver(false).Resolve(req, snap)
	require.NoError(t, err)
	assert.Equal(t, types.CredentialCert, p.CredentialKind)
	assert.Equal(t, "admin", p.Name)
}

func TestResolveBasicCredentials(t *testing.T) {
	snap := testSnapshot(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth("alice", "correct horse")

	p, err := testResolver(false).Resolve(req, snap)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Name)
	assert.Equal(t, types.CredentialBasic, p.CredentialKind)
	assert.Equal(t, []string{"ops"}, p.BackendRoles)
}

func TestResolveBasicWrongPassword(t *testing.T) {
	snap := testSnapshot(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth("alice", "wrong")

	_, err := testResolver(false).Resolve(req, snap)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestResolveBasicUnknownUser(t *testing.T) {
	snap := testSnapshot(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth("mallory", "correct horse")

	_, err := testResolver(false).Resolve(req, snap)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestResolveBasicDisabledByConfig(t *testing.T) {
	off := false
	snap := testSnapshot(t, func(sec *types.SecurityConfig) {
		sec.HTTP.BasicAuthEnabled = &off
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth("alice", "correct horse")

	_, err := testResolver(false).Resolve(req, snap)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestResolveBasicWithoutSnapshot(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth("alice", "correct horse")

	_, err := testResolver(false).Resolve(req, nil)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestResolveInjectedIdentity(t *testing.T) {
	snap := testSnapshot(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(InjectedUserHeader, "batch-runner|etl, reporting")

	p, err := testResolver(true).Resolve(req, snap)
	require.NoError(t, err)
	assert.Equal(t, "batch-runner", p.Name)
	assert.Equal(t, types.CredentialInjected, p.CredentialKind)
	assert.Equal(t, []string{"etl", "reporting"}, p.BackendRoles)
}

func TestResolveInjectedIdentityNameOnly(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(InjectedUserHeader, "batch-runner")

	p, err := testResolver(true).Resolve(req, testSnapshot(t, nil))
	require.NoError(t, err)
	assert.Equal(t, "batch-runner", p.Name)
	assert.Empty(t, p.BackendRoles)
}

func TestInjectedIdentityIgnoredWhenDisabled(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(InjectedUserHeader, "batch-runner|etl")

	_, err := testResolver(false).Resolve(req, testSnapshot(t, nil))
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestResolveAnonymousFallback(t *testing.T) {
	snap := testSnapshot(t, func(sec *types.SecurityConfig) {
		sec.HTTP.AnonymousAuthEnabled = true
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	p, err := testResolver(false).Resolve(req, snap)
	require.NoError(t, err)

	assert.Equal(t, types.DefaultAnonymousUsername, p.Name)
	assert.Equal(t, types.CredentialAnonymous, p.CredentialKind)
	assert.Equal(t, []string{types.DefaultAnonymousBackendRole}, p.BackendRoles)
}

func TestResolveAnonymousConfiguredIdentity(t *testing.T) {
	snap := testSnapshot(t, func(sec *types.SecurityConfig) {
		sec.HTTP.AnonymousAuthEnabled = true
		sec.HTTP.AnonymousUsername = "guest"
		sec.HTTP.AnonymousBackendRoles = []string{"public"}
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	p, err := testResolver(false).Resolve(req, snap)
	require.NoError(t, err)
	assert.Equal(t, "guest", p.Name)
	assert.Equal(t, []string{"public"}, p.BackendRoles)
}

func TestResolveNoCredentials(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	_, err := testResolver(false).Resolve(req, testSnapshot(t, nil))
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestClassifyDN(t *testing.T) {
	r := testResolver(false)

	isAdmin, isNode := r.ClassifyDN("cn=admin, ou=admin, o=Palisade Cluster")
	assert.True(t, isAdmin)
	assert.False(t, isNode)

	isAdmin, isNode = r.ClassifyDN("CN=node-9,OU=node,O=Palisade Cluster")
	assert.False(t, isAdmin)
	assert.True(t, isNode)

	isAdmin, isNode = r.ClassifyDN("CN=someone,O=Elsewhere")
	assert.False(t, isAdmin)
	assert.False(t, isNode)
}
