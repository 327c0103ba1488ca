package config

import (
	"sync"
	"sync/atomic"

	"github.com/cuemby/palisade/pkg/types"
)

// Snapshot is an immutable view of the parsed security configuration.
// Once constructed it is never mutated; the Holder replaces the whole
// snapshot on reload.
type Snapshot struct {
	// Generation is assigned by the Holder on install, strictly increasing
	Generation uint64

	Security      *types.SecurityConfig
	InternalUsers map[string]*types.InternalUser
	Roles         map[string]*types.Role
	RoleMappings  map[string]*types.RoleMapping
	ActionGroups  map[string]*types.ActionGroup
	Tenants       map[string]*types.Tenant

	// Versions records the store version of each document in this snapshot
	Versions map[types.ConfigType]int64
}

// Has reports whether the snapshot contains the given config type
func (s *Snapshot) Has(t types.ConfigType) bool {
	switch t {
	case types.ConfigTypeConfig:
		return s.Security != nil
	case types.ConfigTypeInternalUsers:
		return s.InternalUsers != nil
	case types.ConfigTypeRoles:
		return s.Roles != nil
	case types.ConfigTypeRolesMapping:
		return s.RoleMappings != nil
	case types.ConfigTypeActionGroups:
		return s.ActionGroups != nil
	case types.ConfigTypeTenants:
		return s.Tenants != nil
	}
	return false
}

// Total reports whether the snapshot has an entry for every required type
func (s *Snapshot) Total() bool {
	for _, t := range types.AllConfigTypes() {
		if !s.Has(t) {
			return false
		}
	}
	return true
}

// merge returns a copy of s with the types present in other replacing the
// corresponding entries. Neither input is modified.
func (s *Snapshot) merge(other *Snapshot) *Snapshot {
	out := &Snapshot{
		Security:      s.Security,
		InternalUsers: s.InternalUsers,
		Roles:         s.Roles,
		RoleMappings:  s.RoleMappings,
		ActionGroups:  s.ActionGroups,
		Tenants:       s.Tenants,
		Versions:      make(map[types.ConfigType]int64, len(s.Versions)),
	}
	for t, v := range s.Versions {
		out.Versions[t] = v
	}

	if other.Security != nil {
		out.Security = other.Security
	}
	if other.InternalUsers != nil {
		out.InternalUsers = other.InternalUsers
	}
	if other.Roles != nil {
		out.Roles = other.Roles
	}
	if other.RoleMappings != nil {
		out.RoleMappings = other.RoleMappings
	}
	if other.ActionGroups != nil {
		out.ActionGroups = other.ActionGroups
	}
	if other.Tenants != nil {
		out.Tenants = other.Tenants
	}
	for t, v := range other.Versions {
		out.Versions[t] = v
	}
	return out
}

// Holder owns the node-local current snapshot. The swap is an atomic pointer
// replace so concurrent readers always observe either the fully-old or
// fully-new snapshot. Writers are serialized: two concurrent installs of
// disjoint type subsets must both end up in the final snapshot.
type Holder struct {
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
	gen     atomic.Uint64
}

// NewHolder creates an empty holder with no current snapshot
func NewHolder() *Holder {
	return &Holder{}
}

// Current returns the current snapshot, or nil if none was ever installed
func (h *Holder) Current() *Snapshot {
	return h.current.Load()
}

// Generation returns the generation of the current snapshot (0 when none)
func (h *Holder) Generation() uint64 {
	return h.gen.Load()
}

// Install merges the partial load result into the current snapshot and swaps
// it in, replacing only the types present in partial. The result must be
// total or the install fails and the prior snapshot is retained.
func (h *Holder) Install(partial *Snapshot) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	next := partial
	if cur := h.current.Load(); cur != nil {
		next = cur.merge(partial)
	}
	if !next.Total() {
		return ErrUninitialized
	}

	next.Generation = h.gen.Add(1)
	h.current.Store(next)
	return nil
}
