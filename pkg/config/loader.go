package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/palisade/pkg/storage"
	"github.com/cuemby/palisade/pkg/types"
	"gopkg.in/yaml.v3"
)

// Loader reads raw config documents from the store and parses them into
// typed structures. Loading is fail-atomic: a parse failure on any requested
// type aborts the whole load.
type Loader struct {
	store storage.Store
}

// NewLoader creates a loader backed by the given store
func NewLoader(store storage.Store) *Loader {
	return &Loader{store: store}
}

// Load reads and parses the documents for the requested types. The returned
// snapshot is partial (it contains exactly the requested types) and carries
// no generation; the Holder assigns one on install.
func (l *Loader) Load(ctx context.Context, configTypes []types.ConfigType) (*Snapshot, error) {
	snap := &Snapshot{
		Versions: make(map[types.ConfigType]int64, len(configTypes)),
	}

	for _, t := range configTypes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		doc, err := l.store.GetConfig(t)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("%w: missing %s document", ErrUninitialized, t)
			}
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		if err := parseInto(snap, doc); err != nil {
			return nil, &MalformedError{Type: t, Err: err}
		}
		snap.Versions[t] = doc.Version
	}

	return snap, nil
}

// parseInto parses one document payload into its slot in the snapshot
func parseInto(snap *Snapshot, doc *types.ConfigDocument) error {
	switch doc.Type {
	case types.ConfigTypeConfig:
		var cfg types.SecurityConfig
		if err := yaml.Unmarshal(doc.Payload, &cfg); err != nil {
			return err
		}
		snap.Security = &cfg

	case types.ConfigTypeInternalUsers:
		users := make(map[string]*types.InternalUser)
		if err := yaml.Unmarshal(doc.Payload, &users); err != nil {
			return err
		}
		snap.InternalUsers = users

	case types.ConfigTypeRoles:
		roles := make(map[string]*types.Role)
		if err := yaml.Unmarshal(doc.Payload, &roles); err != nil {
			return err
		}
		snap.Roles = roles

	case types.ConfigTypeRolesMapping:
		mappings := make(map[string]*types.RoleMapping)
		if err := yaml.Unmarshal(doc.Payload, &mappings); err != nil {
			return err
		}
		snap.RoleMappings = mappings

	case types.ConfigTypeActionGroups:
		groups := make(map[string]*types.ActionGroup)
		if err := yaml.Unmarshal(doc.Payload, &groups); err != nil {
			return err
		}
		snap.ActionGroups = groups

	case types.ConfigTypeTenants:
		tenants := make(map[string]*types.Tenant)
		if err := yaml.Unmarshal(doc.Payload, &tenants); err != nil {
			return err
		}
		snap.Tenants = tenants

	default:
		return fmt.Errorf("unknown config type %q", doc.Type)
	}
	return nil
}

// ValidatePayload checks that a raw payload parses as the given config type.
// Used on admin writes so a document that can never load is rejected up front.
func ValidatePayload(t types.ConfigType, payload []byte) error {
	snap := &Snapshot{}
	doc := &types.ConfigDocument{Type: t, Payload: payload}
	if err := parseInto(snap, doc); err != nil {
		return &MalformedError{Type: t, Err: err}
	}
	return nil
}
