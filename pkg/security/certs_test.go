package security

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCertDirsUnderHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	nodeDir, err := GetCertDir("node-1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, defaultCertDir, "node-node-1"), nodeDir)

	adminDir, err := GetAdminCertDir("ops")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, defaultCertDir, "admin-ops"), adminDir)
}

func TestSaveLoadCertRoundTrip(t *testing.T) {
	ca, _ := testCA(t)
	dir := t.TempDir()

	cert, err := ca.IssueNodeCertificate("node-1", []string{"localhost"}, []net.IP{net.ParseIP("127.0.0.1")})
	require.NoError(t, err)

	assert.False(t, CertExists(dir))
	require.NoError(t, SaveCertToFile(cert, dir))
	require.NoError(t, SaveCACertToFile(ca.GetRootCACert(), dir))
	assert.True(t, CertExists(dir))

	loaded, err := LoadCertFromFile(dir)
	require.NoError(t, err)
	require.NotNil(t, loaded.Leaf)
	assert.Equal(t, cert.Leaf.SerialNumber, loaded.Leaf.SerialNumber)
	assert.Equal(t, "node-1", loaded.Leaf.Subject.CommonName)

	caCert, err := LoadCACertFromFile(dir)
	require.NoError(t, err)
	assert.True(t, caCert.IsCA)

	require.NoError(t, RemoveCerts(dir))
	assert.False(t, CertExists(dir))
	_, err = LoadCertFromFile(dir)
	assert.Error(t, err)
}

func TestValidateCertChain(t *testing.T) {
	ca, _ := testCA(t)
	other, _ := testCA(t)

	cert, err := ca.IssueNodeCertificate("node-1", []string{"localhost"}, nil)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, SaveCACertToFile(ca.GetRootCACert(), dir))
	caCert, err := LoadCACertFromFile(dir)
	require.NoError(t, err)

	assert.NoError(t, ValidateCertChain(cert.Leaf, caCert))

	// A leaf from a different cluster CA must not validate
	foreignDir := t.TempDir()
	require.NoError(t, SaveCACertToFile(other.GetRootCACert(), foreignDir))
	foreignCA, err := LoadCACertFromFile(foreignDir)
	require.NoError(t, err)
	assert.Error(t, ValidateCertChain(cert.Leaf, foreignCA))

	assert.Error(t, ValidateCertChain(nil, caCert))
	assert.Error(t, ValidateCertChain(cert.Leaf, nil))
}

func TestGetCertInfo(t *testing.T) {
	ca, _ := testCA(t)

	cert, err := ca.IssueAdminCertificate("ops")
	require.NoError(t, err)

	info := GetCertInfo(cert.Leaf)
	assert.Equal(t, "CN=ops,OU=admin,O=Palisade Cluster", info["subject"])
	assert.Equal(t, "Palisade Root CA", info["issuer"])
	assert.Equal(t, false, info["is_ca"])

	assert.Contains(t, GetCertInfo(nil), "error")
}
