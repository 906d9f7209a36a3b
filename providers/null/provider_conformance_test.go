package null

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrapin-io/terrapin/internal/provider"
)

// Provider conformance suite: every provider must survive the full
// lifecycle Schema -> Create -> Read -> Update -> Delete through the
// generic interface, preserving identity across in-place updates.

func TestConformance_FullLifecycle(t *testing.T) {
	ctx := context.Background()
	var p provider.Provider = New()

	schema, err := p.Schema("null_resource")
	require.NoError(t, err)
	require.NotNil(t, schema)

	attrs := map[string]any{"triggers": map[string]any{"key": "value"}}

	created, err := p.Create(ctx, "null_resource", attrs)
	require.NoError(t, err)
	require.NotEmpty(t, created["id"])

	read, err := p.Read(ctx, "null_resource", created)
	require.NoError(t, err)
	assert.Equal(t, created["id"], read["id"])

	desired := map[string]any{"triggers": map[string]any{"key": "value"}, "note": "updated"}
	updated, err := p.Update(ctx, "null_resource", created, desired)
	require.NoError(t, err)
	assert.Equal(t, created["id"], updated["id"], "update must not change identity")
	assert.Equal(t, "updated", updated["note"])

	require.NoError(t, p.Delete(ctx, "null_resource", updated))
}

func TestConformance_CreateDoesNotMutateInput(t *testing.T) {
	ctx := context.Background()
	var p provider.Provider = New()

	attrs := map[string]any{"triggers": map[string]any{"key": "value"}}
	_, err := p.Create(ctx, "null_resource", attrs)
	require.NoError(t, err)
	assert.NotContains(t, attrs, "id", "provider must not write into the caller's map")
}
