/*
Package storage provides the durable document store backing Palisade's
security configuration and cluster membership records.

The store is a plain key-value document store: one versioned ConfigDocument
per config type in a reserved bucket, plus a node registry. It owns no
security logic; interpretation of document payloads is the config package's
job. Writes are last-writer-wins upserts that bump the document version.

# Core Components

Store Interface:
  - GetConfig/PutConfig/ListConfigs: versioned config document access
  - IsEmpty: bootstrap probe (store has never been initialized)
  - PutNode/GetNode/ListNodes/DeleteNode: cluster membership records
  - SaveCA/GetCA: certificate authority material at rest

BoltStore:
  - BoltDB (bbolt) implementation, single file palisade.db
  - JSON-serialized blobs, bucket per record family
  - A get after a put on the same node reflects that put

# Usage

	store, err := storage.NewBoltStore("/var/lib/palisade")
	if err != nil { ... }
	defer store.Close()

	doc, err := store.GetConfig(types.ConfigTypeRoles)
	if errors.Is(err, storage.ErrNotFound) { ... }
*/
package storage
