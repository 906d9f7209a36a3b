package state

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrapin-io/terrapin/internal/ir"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(NewLocalBackend(filepath.Join(t.TempDir(), "state.json")))
}

func record(addr string) *ir.Record {
	return &ir.Record{
		Address:    addr,
		Type:       "null_resource",
		Name:       addr,
		Provider:   "null",
		Attributes: map[string]any{"id": "x"},
	}
}

func TestTx_WriteAssignsSerials(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx, err := store.BeginTransaction(ctx)
	require.NoError(t, err)
	defer tx.Close(ctx)

	serial, err := tx.Write(ctx, record("a"), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, serial)

	serial, err = tx.Write(ctx, record("a"), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, serial)
}

func TestTx_WriteRejectsStaleSerial(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx, err := store.BeginTransaction(ctx)
	require.NoError(t, err)
	defer tx.Close(ctx)

	_, err = tx.Write(ctx, record("a"), 0)
	require.NoError(t, err)

	_, err = tx.Write(ctx, record("a"), 0)
	require.Error(t, err)

	var conflict *ConcurrentModificationError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "a", conflict.Address)
	assert.Equal(t, 0, conflict.Expected)
	assert.Equal(t, 1, conflict.Actual)
}

func TestStore_LockIsExclusive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx, err := store.BeginTransaction(ctx)
	require.NoError(t, err)
	defer tx.Close(ctx)

	_, err = store.BeginTransaction(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyLocked, "a held lock must fail fast, not queue")
}

func TestStore_LockReleasedOnClose(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx, err := store.BeginTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Close(ctx))

	tx2, err := store.BeginTransaction(ctx)
	require.NoError(t, err)
	defer tx2.Close(ctx)
}

func TestTx_CommitBumpsDocumentSerial(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx, err := store.BeginTransaction(ctx)
	require.NoError(t, err)
	_, err = tx.Write(ctx, record("a"), 0)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	st, err := store.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Serial)
	require.Len(t, st.Resources, 1)
	assert.NotEmpty(t, st.Lineage)
}

func TestTx_WritesPersistWithoutCommit(t *testing.T) {
	// An interrupted run never loses completed work: every Write lands
	// on the backend immediately.
	store := newTestStore(t)
	ctx := context.Background()

	tx, err := store.BeginTransaction(ctx)
	require.NoError(t, err)
	_, err = tx.Write(ctx, record("a"), 0)
	require.NoError(t, err)
	require.NoError(t, tx.Close(ctx))

	st, err := store.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, st.Resources, 1)
	assert.Equal(t, "a", st.Resources[0].Address)
}

func TestTx_Remove(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx, err := store.BeginTransaction(ctx)
	require.NoError(t, err)
	defer tx.Close(ctx)

	_, err = tx.Write(ctx, record("a"), 0)
	require.NoError(t, err)
	require.NoError(t, tx.Remove(ctx, "a"))

	_, ok := tx.Get("a")
	assert.False(t, ok)

	// Removing an absent address is a no-op.
	require.NoError(t, tx.Remove(ctx, "nope"))
}

func TestUnmarshalState_RejectsUnknownFormat(t *testing.T) {
	_, err := UnmarshalState([]byte(`{"format_version": 42, "lineage": "x", "serial": 0}`))
	require.Error(t, err)

	var unsupported *UnsupportedFormatError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, 42, unsupported.Got)
}

func TestMarshalState_RoundTrip(t *testing.T) {
	st := NewState()
	st.Resources = []*ir.Record{record("a")}
	st.ProviderLocks = map[string]*ir.LockEntry{"null": {Version: "1.0.0"}}

	raw, err := MarshalState(st)
	require.NoError(t, err)

	loaded, err := UnmarshalState(raw)
	require.NoError(t, err)
	assert.Equal(t, st.Lineage, loaded.Lineage)
	require.Len(t, loaded.Resources, 1)
	assert.Equal(t, "1.0.0", loaded.ProviderLocks["null"].Version)
}

func TestLocalBackend_ReadMissingReturnsEmptyState(t *testing.T) {
	backend := NewLocalBackend(filepath.Join(t.TempDir(), "nope.json"))
	st, err := backend.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ir.FormatVersion, st.FormatVersion)
	assert.Empty(t, st.Resources)
}
