package state

import (
	"context"
	"fmt"

	"github.com/terrapin-io/terrapin/internal/ir"
)

// Backend is where state documents live. Lock must be exclusive across
// processes for the whole plan+apply cycle.
type Backend interface {
	// Read loads the current document, returning an empty one when none
	// has been written yet.
	Read(ctx context.Context) (*ir.State, error)

	// Write persists the document.
	Write(ctx context.Context, st *ir.State) error

	// Lock acquires the exclusive state lock, failing immediately with an
	// error wrapping ErrAlreadyLocked when another run holds it.
	Lock(ctx context.Context) error

	// Unlock releases the state lock.
	Unlock(ctx context.Context) error
}

// NewBackend builds a backend from configuration. A nil configuration
// selects the local backend at defaultPath.
func NewBackend(cfg *ir.BackendConfig, defaultPath string) (Backend, error) {
	if cfg == nil {
		return NewLocalBackend(defaultPath), nil
	}
	switch cfg.Type {
	case "local", "":
		path := cfg.Config["path"]
		if path == "" {
			path = defaultPath
		}
		return NewLocalBackend(path), nil
	case "s3":
		return newS3Backend(cfg.Config)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}
