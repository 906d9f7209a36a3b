package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrapin-io/terrapin/internal/ir"
)

func TestExpand_Count(t *testing.T) {
	resources := []*ir.Resource{
		{
			Type:     "null_resource",
			Name:     "worker",
			Provider: "test",
			Count:    3,
			Attributes: map[string]any{
				"index": "${count.index}",
			},
		},
	}

	expanded := Expand(resources)
	require.Len(t, expanded, 3)
	assert.Equal(t, "worker[0]", expanded[0].Name)
	assert.Equal(t, "worker[2]", expanded[2].Name)
	assert.Equal(t, "0", expanded[0].Attributes["index"])
	assert.Equal(t, "2", expanded[2].Attributes["index"])
}

func TestExpand_ForEach(t *testing.T) {
	resources := []*ir.Resource{
		{
			Type:     "null_resource",
			Name:     "env",
			Provider: "test",
			ForEach: map[string]any{
				"prod":    "10.0.0.0/16",
				"staging": "10.1.0.0/16",
			},
			Attributes: map[string]any{
				"name": "${each.key}",
				"cidr": "${each.value}",
			},
		},
	}

	expanded := Expand(resources)
	require.Len(t, expanded, 2)

	byName := make(map[string]*ir.Resource)
	for _, res := range expanded {
		byName[res.Name] = res
	}
	prod, ok := byName[`env["prod"]`]
	require.True(t, ok)
	assert.Equal(t, "prod", prod.Attributes["name"])
	assert.Equal(t, "10.0.0.0/16", prod.Attributes["cidr"])
}

func TestExpand_PlainResourceUntouched(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "null_resource", Name: "single", Provider: "test"},
	}
	expanded := Expand(resources)
	require.Len(t, expanded, 1)
	assert.Same(t, resources[0], expanded[0])
}

func TestExpand_ClonesAreIndependent(t *testing.T) {
	resources := []*ir.Resource{
		{
			Type:     "null_resource",
			Name:     "worker",
			Provider: "test",
			Count:    2,
			Attributes: map[string]any{
				"nested": map[string]any{"key": "value"},
			},
		},
	}

	expanded := Expand(resources)
	require.Len(t, expanded, 2)

	expanded[0].Attributes["nested"].(map[string]any)["key"] = "mutated"
	assert.Equal(t, "value", expanded[1].Attributes["nested"].(map[string]any)["key"],
		"mutating one instance must not leak into its siblings")
}
