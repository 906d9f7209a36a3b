package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/terrapin-io/terrapin/internal/ir"
)

// staleLockAge is how old a local lock file must be before it is treated
// as left behind by a crashed run.
const staleLockAge = 10 * time.Minute

// localBackend keeps the state document in a single file next to the
// configuration.
type localBackend struct {
	path string
}

// NewLocalBackend returns a file-based backend rooted at path.
func NewLocalBackend(path string) Backend {
	return &localBackend{path: path}
}

func (b *localBackend) Read(ctx context.Context) (*ir.State, error) {
	raw, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", b.path, err)
	}

	if IsEncrypted(raw) {
		raw, err = DecryptState(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt state: %w", err)
		}
	}
	return UnmarshalState(raw)
}

func (b *localBackend) Write(ctx context.Context, st *ir.State) error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	raw, err := MarshalState(st)
	if err != nil {
		return err
	}
	raw, err = EncryptState(raw)
	if err != nil {
		return fmt.Errorf("failed to encrypt state: %w", err)
	}

	if err := os.WriteFile(b.path, raw, 0644); err != nil {
		return fmt.Errorf("failed to write state file %s: %w", b.path, err)
	}
	return nil
}

// Lock creates a sidecar lock file. An existing fresh lock file means
// another run is active; a sufficiently old one is treated as stale and
// replaced.
func (b *localBackend) Lock(ctx context.Context) error {
	lockPath := b.lockPath()
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	if info, err := os.Stat(lockPath); err == nil {
		if time.Since(info.ModTime()) > staleLockAge {
			os.Remove(lockPath)
		} else {
			return fmt.Errorf("%w (lock file: %s; remove it manually if no other run is active)",
				ErrAlreadyLocked, lockPath)
		}
	}

	content := fmt.Sprintf("pid=%d\ntime=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(lockPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	return nil
}

func (b *localBackend) Unlock(ctx context.Context) error {
	if err := os.Remove(b.lockPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

func (b *localBackend) lockPath() string {
	return b.path + ".lock"
}
