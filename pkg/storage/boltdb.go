package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/palisade/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketConfigs = []byte("security_config")
	bucketNodes   = []byte("nodes")
	bucketCA      = []byte("ca")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "palisade.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketConfigs,
			bucketNodes,
			bucketCA,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// GetConfig retrieves the document for a config type
func (s *BoltStore) GetConfig(t types.ConfigType) (*types.ConfigDocument, error) {
	var doc types.ConfigDocument
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConfigs)
		data := b.Get([]byte(t))
		if data == nil {
			return fmt.Errorf("config document %s: %w", t, ErrNotFound)
		}
		return json.Unmarshal(data, &doc)
	})
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// PutConfig overwrites the document for a config type unconditionally and
// bumps its version. Returns the new version.
func (s *BoltStore) PutConfig(doc *types.ConfigDocument) (int64, error) {
	var version int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConfigs)

		version = 1
		if prev := b.Get([]byte(doc.Type)); prev != nil {
			var prevDoc types.ConfigDocument
			if err := json.Unmarshal(prev, &prevDoc); err == nil {
				version = prevDoc.Version + 1
			}
		}

		stored := types.ConfigDocument{
			Type:      doc.Type,
			Version:   version,
			Payload:   doc.Payload,
			UpdatedAt: time.Now(),
		}

		data, err := json.Marshal(&stored)
		if err != nil {
			return err
		}
		return b.Put([]byte(doc.Type), data)
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

// RestoreConfig writes a document verbatim, keeping its version and
// timestamp. Used when replaying a state snapshot.
func (s *BoltStore) RestoreConfig(doc *types.ConfigDocument) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketConfigs).Put([]byte(doc.Type), data)
	})
}

// ListConfigs returns all stored config documents
func (s *BoltStore) ListConfigs() ([]*types.ConfigDocument, error) {
	var docs []*types.ConfigDocument
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConfigs)
		return b.ForEach(func(k, v []byte) error {
			var doc types.ConfigDocument
			if err := json.Unmarshal(v, &doc); err != nil {
				return err
			}
			docs = append(docs, &doc)
			return nil
		})
	})
	return docs, err
}

// IsEmpty reports whether the store holds no config documents at all
func (s *BoltStore) IsEmpty() (bool, error) {
	empty := true
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConfigs)
		k, _ := b.Cursor().First()
		empty = k == nil
		return nil
	})
	return empty, err
}

// Node operations

func (s *BoltStore) PutNode(node *types.Node) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		data, err := json.Marshal(node)
		if err != nil {
			return err
		}
		return b.Put([]byte(node.ID), data)
	})
}

func (s *BoltStore) GetNode(id string) (*types.Node, error) {
	var node types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("node %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &node)
	})
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *BoltStore) ListNodes() ([]*types.Node, error) {
	var nodes []*types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		return b.ForEach(func(k, v []byte) error {
			var node types.Node
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			nodes = append(nodes, &node)
			return nil
		})
	})
	return nodes, err
}

func (s *BoltStore) DeleteNode(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		return b.Delete([]byte(id))
	})
}

// Certificate Authority operations

func (s *BoltStore) SaveCA(data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCA)
		// Use fixed key "ca" for the CA data
		return b.Put([]byte("ca"), data)
	})
}

func (s *BoltStore) GetCA() ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCA)
		v := b.Get([]byte("ca"))
		if v == nil {
			return fmt.Errorf("CA: %w", ErrNotFound)
		}
		// Copy since BoltDB data is only valid during the transaction
		data = make([]byte, len(v))
		copy(data, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}
