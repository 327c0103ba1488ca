package rbac

import (
	"fmt"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cuemby/palisade/pkg/auth"
	"github.com/cuemby/palisade/pkg/config"
	"github.com/cuemby/palisade/pkg/types"
)

// EffectiveRoles is the resolved role and permission set for a principal
// against one snapshot generation. It must be recomputed after a snapshot
// swap, never carried across generations.
type EffectiveRoles struct {
	Generation  uint64
	Roles       []string
	Permissions []string
}

// HasRole reports whether the set contains the named security role
func (e *EffectiveRoles) HasRole(role string) bool {
	for _, r := range e.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Covers reports whether the flattened permission set covers the requested
// action. Permissions may end in '*' to cover an action prefix.
func (e *EffectiveRoles) Covers(action string) bool {
	for _, p := range e.Permissions {
		if p == action {
			return true
		}
		if strings.HasSuffix(p, "*") && strings.HasPrefix(action, p[:len(p)-1]) {
			return true
		}
	}
	return false
}

const cacheSize = 2048

// Resolver computes effective roles. It is safe for unlimited parallel use;
// the memoization cache is keyed by (username, credential kind, generation).
type Resolver struct {
	cache *lru.Cache[string, *EffectiveRoles]
}

// NewResolver creates a role resolver
func NewResolver() *Resolver {
	cache, _ := lru.New[string, *EffectiveRoles](cacheSize)
	return &Resolver{cache: cache}
}

// Resolve returns the effective role set for the principal against the given
// snapshot. Identical (principal, generation) inputs always yield identical
// results.
func (r *Resolver) Resolve(p *types.Principal, snap *config.Snapshot) *EffectiveRoles {
	key := cacheKey(p, snap.Generation)
	if cached, ok := r.cache.Get(key); ok {
		return cached
	}

	resolved := resolve(p, snap)
	r.cache.Add(key, resolved)
	return resolved
}

func cacheKey(p *types.Principal, gen uint64) string {
	// Injected principals assert arbitrary backend roles, so those are part
	// of the identity for caching purposes
	return fmt.Sprintf("%d|%s|%s|%s", gen, p.CredentialKind, p.Name, strings.Join(p.BackendRoles, ","))
}

func resolve(p *types.Principal, snap *config.Snapshot) *EffectiveRoles {
	roles := make(map[string]struct{})
	backendRoles := make(map[string]struct{})

	for _, br := range p.BackendRoles {
		backendRoles[br] = struct{}{}
	}

	// Directly assigned roles and declared backend roles from internalusers
	if user, ok := snap.InternalUsers[p.Name]; ok {
		for _, role := range user.SecurityRoles {
			roles[role] = struct{}{}
		}
		for _, br := range user.BackendRoles {
			backendRoles[br] = struct{}{}
		}
	}

	// Role mapping expansion: username, backend-role and DN patterns each
	// independently grant the mapped role
	for roleName, mapping := range snap.RoleMappings {
		if mappingApplies(mapping, p, backendRoles) {
			roles[roleName] = struct{}{}
		}
	}

	// Flatten permissions through action groups
	permissions := make(map[string]struct{})
	for roleName := range roles {
		role, ok := snap.Roles[roleName]
		if !ok {
			continue
		}
		for _, action := range role.Permissions {
			expandAction(action, snap.ActionGroups, permissions, make(map[string]struct{}))
		}
	}

	return &EffectiveRoles{
		Generation:  snap.Generation,
		Roles:       sortedKeys(roles),
		Permissions: sortedKeys(permissions),
	}
}

func mappingApplies(m *types.RoleMapping, p *types.Principal, backendRoles map[string]struct{}) bool {
	for _, pattern := range m.Users {
		if wildcardMatch(pattern, p.Name) {
			return true
		}
	}
	for _, pattern := range m.BackendRoles {
		for br := range backendRoles {
			if wildcardMatch(pattern, br) {
				return true
			}
		}
	}
	if p.DN != "" {
		for _, pattern := range m.DNs {
			if auth.MatchDNPattern(pattern, p.DN) {
				return true
			}
		}
	}
	return false
}

// expandAction resolves an action reference to concrete permissions,
// expanding action groups recursively. The seen set breaks reference cycles.
func expandAction(action string, groups map[string]*types.ActionGroup, out map[string]struct{}, seen map[string]struct{}) {
	if _, dup := seen[action]; dup {
		return
	}
	seen[action] = struct{}{}

	group, ok := groups[action]
	if !ok {
		out[action] = struct{}{}
		return
	}
	for _, inner := range group.AllowedActions {
		expandAction(inner, groups, out, seen)
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// wildcardMatch implements simple glob matching where '*' matches any
// (possibly empty) substring
func wildcardMatch(pattern, s string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == s
	}
	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	for i := 1; i < len(parts)-1; i++ {
		idx := strings.Index(s, parts[i])
		if idx < 0 {
			return false
		}
		s = s[idx+len(parts[i]):]
	}
	return strings.HasSuffix(s, parts[len(parts)-1])
}
