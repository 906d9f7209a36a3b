// Package state persists the record of applied infrastructure and
// guards it with an exclusive per-run lock and per-record optimistic
// serials.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/terrapin-io/terrapin/internal/ir"
)

// ErrAlreadyLocked is wrapped by backends when another run holds the
// state lock. The caller must fail immediately, not queue.
var ErrAlreadyLocked = fmt.Errorf("state is locked by another run")

// ConcurrentModificationError rejects a write whose expected serial does
// not match the stored record.
type ConcurrentModificationError struct {
	Address  string
	Expected int
	Actual   int
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("concurrent modification of %s: expected serial %d, found %d",
		e.Address, e.Expected, e.Actual)
}

// UnsupportedFormatError rejects a state document whose format version
// this build does not recognize.
type UnsupportedFormatError struct {
	Got int
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("state document has unsupported format version %d (want %d)",
		e.Got, ir.FormatVersion)
}

// NewState returns an empty state document with a fresh lineage.
func NewState() *ir.State {
	return &ir.State{
		FormatVersion: ir.FormatVersion,
		Lineage:       uuid.New().String(),
		Serial:        0,
	}
}

// MarshalState encodes a state document.
func MarshalState(st *ir.State) ([]byte, error) {
	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}
	return append(raw, '\n'), nil
}

// UnmarshalState decodes a state document, rejecting unknown formats.
func UnmarshalState(raw []byte) (*ir.State, error) {
	var st ir.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("failed to parse state: %w", err)
	}
	if st.FormatVersion != ir.FormatVersion {
		return nil, &UnsupportedFormatError{Got: st.FormatVersion}
	}
	return &st, nil
}

// Store provides locked, transactional access to the persisted state.
type Store struct {
	backend Backend
}

func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

// Snapshot returns the last committed document without taking the lock.
func (s *Store) Snapshot(ctx context.Context) (*ir.State, error) {
	return s.backend.Read(ctx)
}

// BeginTransaction acquires the exclusive store lock for a plan+apply
// cycle and loads the current document. It fails immediately with
// ErrAlreadyLocked when another run holds the lock.
func (s *Store) BeginTransaction(ctx context.Context) (*Tx, error) {
	if err := s.backend.Lock(ctx); err != nil {
		return nil, err
	}
	doc, err := s.backend.Read(ctx)
	if err != nil {
		_ = s.backend.Unlock(ctx)
		return nil, err
	}
	return &Tx{store: s, doc: doc}, nil
}

// Tx is the scoped lock handle. Every write persists through the backend
// before returning, so work completed before an interrupt is never lost.
// Tx is safe for concurrent use by executor workers.
type Tx struct {
	mu    sync.Mutex
	store *Store
	doc   *ir.State
	done  bool
}

// Get returns the record at address, if any.
func (t *Tx) Get(address string) (*ir.Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, rec := range t.doc.Resources {
		if rec.Address == address {
			return rec, true
		}
	}
	return nil, false
}

// State returns a snapshot of the transaction's current document view.
// The records are shared, not copied; callers must treat them as
// read-only.
func (t *Tx) State() *ir.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return &ir.State{
		FormatVersion: t.doc.FormatVersion,
		Lineage:       t.doc.Lineage,
		Serial:        t.doc.Serial,
		Resources:     append([]*ir.Record(nil), t.doc.Resources...),
		ProviderLocks: t.doc.ProviderLocks,
		Outputs:       t.doc.Outputs,
	}
}

// Records returns all records in the transaction's view.
func (t *Tx) Records() []*ir.Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*ir.Record, len(t.doc.Resources))
	copy(out, t.doc.Resources)
	return out
}

// Write stores a record. expectedSerial must match the stored record's
// serial (zero for a new address); the stored serial then increases by
// one. The new serial is returned after the document has been persisted.
func (t *Tx) Write(ctx context.Context, rec *ir.Record, expectedSerial int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	actual := 0
	idx := -1
	for i, existing := range t.doc.Resources {
		if existing.Address == rec.Address {
			actual = existing.Serial
			idx = i
			break
		}
	}
	if actual != expectedSerial {
		return 0, &ConcurrentModificationError{Address: rec.Address, Expected: expectedSerial, Actual: actual}
	}

	rec.Serial = expectedSerial + 1
	if idx >= 0 {
		t.doc.Resources[idx] = rec
	} else {
		t.doc.Resources = append(t.doc.Resources, rec)
	}

	if err := t.store.backend.Write(ctx, t.doc); err != nil {
		return 0, err
	}
	return rec.Serial, nil
}

// Remove deletes the record at address and persists the document.
func (t *Tx) Remove(ctx context.Context, address string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, rec := range t.doc.Resources {
		if rec.Address == address {
			t.doc.Resources = append(t.doc.Resources[:i], t.doc.Resources[i+1:]...)
			return t.store.backend.Write(ctx, t.doc)
		}
	}
	return nil
}

// SetProviderLocks records the provider versions this cycle resolved.
func (t *Tx) SetProviderLocks(locks map[string]*ir.LockEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.doc.ProviderLocks = locks
}

// SetOutputs records the configuration outputs for this cycle.
func (t *Tx) SetOutputs(outputs map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.doc.Outputs = outputs
}

// Commit bumps the document serial, persists, and releases the lock.
func (t *Tx) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.doc.Serial++
	if err := t.store.backend.Write(ctx, t.doc); err != nil {
		return err
	}
	t.done = true
	return t.store.backend.Unlock(ctx)
}

// Close releases the lock without bumping the document serial. Writes
// already persisted stay persisted: state reflects exactly what was
// applied. Close after Commit is a no-op.
func (t *Tx) Close(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	return t.store.backend.Unlock(ctx)
}
