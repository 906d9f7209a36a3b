package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/terrapin-io/terrapin/internal/ir"
	"github.com/terrapin-io/terrapin/internal/provider"
	"github.com/terrapin-io/terrapin/internal/state"
)

// fakeProvider is scripted through resource attributes: "fail" makes
// Create/Update explode, "fail_delete" makes Delete explode, and
// "sleep" stalls Create for the given duration. Every call is recorded
// so tests can assert operation order.
type fakeProvider struct {
	mu  sync.Mutex
	ops []string
	seq int
}

func (f *fakeProvider) record(op, resourceType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, fmt.Sprintf("%s %s", op, resourceType))
}

func (f *fakeProvider) operations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func (f *fakeProvider) nextID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return fmt.Sprintf("fake-%d", f.seq)
}

func (f *fakeProvider) Schema(resourceType string) (*provider.Schema, error) {
	return &provider.Schema{
		ForceReplacement: []string{"immutable"},
		Computed:         []string{"id"},
	}, nil
}

func (f *fakeProvider) Create(ctx context.Context, resourceType string, attrs map[string]any) (map[string]any, error) {
	if d, ok := attrs["sleep"].(string); ok {
		dur, err := time.ParseDuration(d)
		if err == nil {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(dur):
			}
		}
	}
	if fail, _ := attrs["fail"].(bool); fail {
		return nil, errors.New("create exploded")
	}
	f.record("create", resourceType)

	out := make(map[string]any, len(attrs)+1)
	for k, v := range attrs {
		out[k] = v
	}
	out["id"] = f.nextID()
	return out, nil
}

func (f *fakeProvider) Read(ctx context.Context, resourceType string, attrs map[string]any) (map[string]any, error) {
	return attrs, nil
}

func (f *fakeProvider) Update(ctx context.Context, resourceType string, prior, desired map[string]any) (map[string]any, error) {
	if fail, _ := desired["fail"].(bool); fail {
		return nil, errors.New("update exploded")
	}
	f.record("update", resourceType)

	out := make(map[string]any, len(desired)+1)
	for k, v := range desired {
		out[k] = v
	}
	if id, ok := prior["id"]; ok {
		out["id"] = id
	}
	return out, nil
}

func (f *fakeProvider) Delete(ctx context.Context, resourceType string, attrs map[string]any) error {
	if fail, _ := attrs["fail_delete"].(bool); fail {
		return errors.New("delete exploded")
	}
	f.record("delete", resourceType)
	return nil
}

func newTestRegistry(t *testing.T) (*provider.Registry, *fakeProvider) {
	t.Helper()
	fake := &fakeProvider{}
	reg := provider.NewRegistry()
	reg.Register("test", []provider.Release{{Version: "1.0.0"}}, func() provider.Provider { return fake })
	require.NoError(t, reg.LoadProvider("test"))
	return reg, fake
}

// ctxBackend keeps the document in memory and honors context
// cancellation on reads and writes, the way remote backends do.
type ctxBackend struct {
	mu  sync.Mutex
	doc *ir.State
}

func (b *ctxBackend) Read(ctx context.Context) (*ir.State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.doc == nil {
		return state.NewState(), nil
	}
	return b.doc, nil
}

func (b *ctxBackend) Write(ctx context.Context, st *ir.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.doc = st
	return nil
}

func (b *ctxBackend) Lock(ctx context.Context) error   { return ctx.Err() }
func (b *ctxBackend) Unlock(ctx context.Context) error { return nil }

func newTestTx(t *testing.T) *state.Tx {
	t.Helper()
	backend := state.NewLocalBackend(filepath.Join(t.TempDir(), "state.json"))
	store := state.NewStore(backend)
	tx, err := store.BeginTransaction(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Close(context.Background()) })
	return tx
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
