package version

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/terrapin-io/terrapin/internal/ir"
)

// lockFileFormatVersion guards the on-disk lock file shape.
const lockFileFormatVersion = 1

type lockFile struct {
	FormatVersion int                      `json:"format_version"`
	Providers     map[string]*ir.LockEntry `json:"providers"`
}

// ReadLockFile loads a previously written lock record. A missing file is
// not an error; it returns an empty set.
func ReadLockFile(path string) (map[string]*ir.LockEntry, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]*ir.LockEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read lock file %s: %w", path, err)
	}

	var lf lockFile
	if err := json.Unmarshal(raw, &lf); err != nil {
		return nil, fmt.Errorf("failed to parse lock file %s: %w", path, err)
	}
	if lf.FormatVersion != lockFileFormatVersion {
		return nil, fmt.Errorf("lock file %s has unsupported format version %d", path, lf.FormatVersion)
	}
	if lf.Providers == nil {
		lf.Providers = map[string]*ir.LockEntry{}
	}
	return lf.Providers, nil
}

// WriteLockFile persists the resolved set.
func WriteLockFile(path string, entries map[string]*ir.LockEntry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	raw, err := json.MarshalIndent(lockFile{
		FormatVersion: lockFileFormatVersion,
		Providers:     entries,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode lock file: %w", err)
	}
	if err := os.WriteFile(path, append(raw, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write lock file %s: %w", path, err)
	}
	return nil
}

// WriteLockFileIfChanged persists the resolved set only when it differs
// from the prior lock, and reports whether a write happened.
func WriteLockFileIfChanged(path string, entries, prior map[string]*ir.LockEntry) (bool, error) {
	if LocksEqual(entries, prior) {
		return false, nil
	}
	if err := WriteLockFile(path, entries); err != nil {
		return false, err
	}
	return true, nil
}

// LocksEqual reports whether two lock sets pin the same versions with the
// same checksums.
func LocksEqual(a, b map[string]*ir.LockEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for name, ea := range a {
		eb, ok := b[name]
		if !ok || ea.Version != eb.Version {
			return false
		}
		ca := append([]string(nil), ea.Checksums...)
		cb := append([]string(nil), eb.Checksums...)
		sort.Strings(ca)
		sort.Strings(cb)
		if len(ca) != len(cb) {
			return false
		}
		for i := range ca {
			if ca[i] != cb[i] {
				return false
			}
		}
	}
	return true
}
