package storage

import (
	"errors"

	"github.com/cuemby/palisade/pkg/types"
)

// ErrNotFound is returned when a requested document does not exist
var ErrNotFound = errors.New("not found")

// Store defines the interface for security configuration storage.
// This is implemented by BoltDB-backed storage.
type Store interface {
	// Config documents
	GetConfig(t types.ConfigType) (*types.ConfigDocument, error)
	PutConfig(doc *types.ConfigDocument) (int64, error)
	RestoreConfig(doc *types.ConfigDocument) error
	ListConfigs() ([]*types.ConfigDocument, error)
	IsEmpty() (bool, error)

	// Nodes
	PutNode(node *types.Node) error
	GetNode(id string) (*types.Node, error)
	ListNodes() ([]*types.Node, error)
	DeleteNode(id string) error

	// Certificate authority material
	SaveCA(data []byte) error
	GetCA() ([]byte, error)

	// Utility
	Close() error
}
