package types

// CredentialKind classifies the source of a request's credentials
type CredentialKind string

const (
	CredentialCert      CredentialKind = "cert"
	CredentialBasic     CredentialKind = "basic"
	CredentialInjected  CredentialKind = "injected"
	CredentialAnonymous CredentialKind = "anonymous"
	CredentialNone      CredentialKind = "none"
)

// Principal is the identity resolved for a single request. It is derived
// fresh per request from transport credentials and never persisted.
type Principal struct {
	Name           string
	BackendRoles   []string
	CredentialKind CredentialKind

	// DN is the subject distinguished name when the credential is a
	// client certificate, empty otherwise
	DN string

	IsAdminCert bool
	IsNodeCert  bool
}

// HasBackendRole reports whether the principal asserts the given backend role
func (p *Principal) HasBackendRole(role string) bool {
	for _, r := range p.BackendRoles {
		if r == role {
			return true
		}
	}
	return false
}
