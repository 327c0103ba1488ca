package types

import (
	"time"
)

// ConfigType identifies one of the security configuration documents
type ConfigType string

const (
	ConfigTypeConfig        ConfigType = "config"
	ConfigTypeInternalUsers ConfigType = "internalusers"
	ConfigTypeRoles         ConfigType = "roles"
	ConfigTypeRolesMapping  ConfigType = "rolesmapping"
	ConfigTypeActionGroups  ConfigType = "actiongroups"
	ConfigTypeTenants       ConfigType = "tenants"
)

// AllConfigTypes lists every config type a complete snapshot must contain
func AllConfigTypes() []ConfigType {
	return []ConfigType{
		ConfigTypeConfig,
		ConfigTypeInternalUsers,
		ConfigTypeRoles,
		ConfigTypeRolesMapping,
		ConfigTypeActionGroups,
		ConfigTypeTenants,
	}
}

// Valid reports whether t is a known config type
func (t ConfigType) Valid() bool {
	switch t {
	case ConfigTypeConfig, ConfigTypeInternalUsers, ConfigTypeRoles,
		ConfigTypeRolesMapping, ConfigTypeActionGroups, ConfigTypeTenants:
		return true
	}
	return false
}

// ParseConfigTypes converts a list of names to config types, rejecting unknown names
func ParseConfigTypes(names []string) ([]ConfigType, error) {
	out := make([]ConfigType, 0, len(names))
	for _, n := range names {
		t := ConfigType(n)
		if !t.Valid() {
			return nil, &UnknownConfigTypeError{Name: n}
		}
		out = append(out, t)
	}
	return out, nil
}

// UnknownConfigTypeError reports an unrecognized config type name
type UnknownConfigTypeError struct {
	Name string
}

func (e *UnknownConfigTypeError) Error() string {
	return "unknown config type: " + e.Name
}

// ConfigDocument is a versioned security configuration document.
// The payload is the raw YAML blob; parsing happens at load time.
// Documents are replaced wholesale on every update, never patched.
type ConfigDocument struct {
	Type      ConfigType `json:"type"`
	Version   int64      `json:"version"`
	Payload   []byte     `json:"payload"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// SecurityConfig is the parsed payload of the "config" document
type SecurityConfig struct {
	// HTTP authentication behavior
	HTTP HTTPAuthConfig `yaml:"http" json:"http"`
}

// HTTPAuthConfig controls which authentication paths are active for HTTP requests
type HTTPAuthConfig struct {
	// AnonymousAuthEnabled allows requests with no credentials to proceed
	// as the configured anonymous principal
	AnonymousAuthEnabled  bool     `yaml:"anonymous_auth_enabled" json:"anonymous_auth_enabled"`
	AnonymousUsername     string   `yaml:"anonymous_username" json:"anonymous_username"`
	AnonymousBackendRoles []string `yaml:"anonymous_backend_roles" json:"anonymous_backend_roles"`

	// BasicAuthEnabled allows username/password lookup against internal users.
	// Disabled only by explicit configuration.
	BasicAuthEnabled *bool `yaml:"basic_auth_enabled" json:"basic_auth_enabled"`
}

// BasicAuthActive returns the effective basic-auth switch (enabled unless
// explicitly disabled)
func (c *HTTPAuthConfig) BasicAuthActive() bool {
	return c.BasicAuthEnabled == nil || *c.BasicAuthEnabled
}

// DefaultAnonymousUsername is used when anonymous auth is enabled without
// an explicit username
const DefaultAnonymousUsername = "palisade_anonymous"

// DefaultAnonymousBackendRole is granted to the anonymous principal when no
// backend roles are configured
const DefaultAnonymousBackendRole = "palisade_anonymous_backendrole"

// InternalUser is one entry of the "internalusers" document
type InternalUser struct {
	// Hash is the bcrypt hash of the user's password
	Hash          string            `yaml:"hash" json:"hash"`
	BackendRoles  []string          `yaml:"backend_roles" json:"backend_roles"`
	SecurityRoles []string          `yaml:"security_roles" json:"security_roles"`
	Attributes    map[string]string `yaml:"attributes" json:"attributes"`
	Description   string            `yaml:"description" json:"description"`
}

// Role is one entry of the "roles" document. Permissions are action names,
// optionally with a trailing wildcard (e.g. "security:config/*").
type Role struct {
	Permissions []string `yaml:"permissions" json:"permissions"`
	Description string   `yaml:"description" json:"description"`
}

// RoleMapping is one entry of the "rolesmapping" document. Each pattern list
// independently grants the mapped role (union semantics).
type RoleMapping struct {
	Users        []string `yaml:"users" json:"users"`
	BackendRoles []string `yaml:"backend_roles" json:"backend_roles"`
	DNs          []string `yaml:"dns" json:"dns"`
	Description  string   `yaml:"description" json:"description"`
}

// ActionGroup is one entry of the "actiongroups" document. AllowedActions may
// name concrete permissions or other action groups, which are expanded
// recursively.
type ActionGroup struct {
	AllowedActions []string `yaml:"allowed_actions" json:"allowed_actions"`
	Description    string   `yaml:"description" json:"description"`
}

// Tenant is one entry of the "tenants" document
type Tenant struct {
	Description string `yaml:"description" json:"description"`
	Reserved    bool   `yaml:"reserved" json:"reserved"`
}

// NodeStatus represents cluster node health
type NodeStatus string

const (
	NodeStatusReady NodeStatus = "ready"
	NodeStatusDown  NodeStatus = "down"
)

// Node is a cluster membership record
type Node struct {
	ID       string     `json:"id"`
	RaftAddr string     `json:"raft_addr"`
	APIAddr  string     `json:"api_addr"`
	Status   NodeStatus `json:"status"`
	JoinedAt time.Time  `json:"joined_at"`
	LastSeen time.Time  `json:"last_seen"`
}
