/*
Package types defines the core data structures shared across Palisade packages.

Types are organized into three groups: security configuration documents (the six
config types stored in the cluster document store), request-scoped identity
(Principal and its credential classification), and cluster membership records.

# Core Components

Config Documents:
  - ConfigType: enumeration of the six security configuration types
  - ConfigDocument: versioned, opaque YAML payload stored per type
  - SecurityConfig, InternalUser, Role, RoleMapping, ActionGroup, Tenant:
    the parsed payload structures

Identity:
  - Principal: per-request resolved identity, never persisted
  - CredentialKind: tagged classification of the credential source

Cluster:
  - Node: membership record with raft and API addresses

# Design Principles

  - No business logic: types carry data, packages carry behavior
  - JSON tags for store blobs and wire payloads, YAML tags for config documents
  - Principals are derived fresh per request and valid only for that request
*/
package types
