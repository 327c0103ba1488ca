package config

import (
	"errors"
	"fmt"

	"github.com/cuemby/palisade/pkg/types"
)

var (
	// ErrUninitialized means the store holds no security configuration and
	// bootstrap from a default directory is not enabled
	ErrUninitialized = errors.New("security configuration not initialized")

	// ErrStoreUnavailable means the backing document store could not be read
	ErrStoreUnavailable = errors.New("configuration store unavailable")
)

// MalformedError reports that a single config document failed to parse.
// The whole load is aborted; a partial snapshot is never installed.
type MalformedError struct {
	Type types.ConfigType
	Err  error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed %s document: %v", e.Type, e.Err)
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}
