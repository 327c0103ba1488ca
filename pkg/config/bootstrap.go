package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/palisade/pkg/storage"
	"github.com/cuemby/palisade/pkg/types"
)

// SeedFromDirectory seeds the store from a directory holding one YAML file
// per config type (config.yml, internalusers.yml, ...). It is called only
// when the store is empty and default initialization is explicitly enabled.
//
// Every file is validated before anything is written: a malformed default
// configuration must leave the store untouched so the node stays
// unavailable rather than partially secured.
func SeedFromDirectory(store storage.Store, dir string) error {
	empty, err := store.IsEmpty()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !empty {
		return fmt.Errorf("store already initialized, refusing to seed from %s", dir)
	}

	payloads := make(map[types.ConfigType][]byte, len(types.AllConfigTypes()))
	for _, t := range types.AllConfigTypes() {
		path := filepath.Join(dir, string(t)+".yml")
		payload, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read default %s document: %w", t, err)
		}
		if err := ValidatePayload(t, payload); err != nil {
			return err
		}
		payloads[t] = payload
	}

	for _, t := range types.AllConfigTypes() {
		doc := &types.ConfigDocument{Type: t, Payload: payloads[t]}
		if _, err := store.PutConfig(doc); err != nil {
			return fmt.Errorf("seed %s document: %w", t, err)
		}
	}

	return nil
}
