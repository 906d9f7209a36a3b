// Package null implements a provider that manages no real
// infrastructure. It is useful for wiring ordering between resources
// and for exercising the engine in tests.
package null

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/terrapin-io/terrapin/internal/provider"
)

// Releases is the published version history of the null provider,
// oldest first.
var Releases = []provider.Release{
	{Version: "1.0.0", Checksums: []string{"sha256:6e1f7c1b8c6a40d1b7e2c9f3a5d8e4b2c0a9f8e7d6c5b4a3928170605f4e3d2c"}},
	{Version: "1.1.0", Checksums: []string{"sha256:9b8a7c6d5e4f3a2b1c0d9e8f7a6b5c4d3e2f1a0b9c8d7e6f5a4b3c2d1e0f9a8b"}},
	{Version: "1.2.0", Checksums: []string{"sha256:2c3d4e5f6a7b8c9d0e1f2a3b4c5d6e7f8a9b0c1d2e3f4a5b6c7d8e9f0a1b2c3d"}},
}

// Provider manages null_resource objects. An object is nothing more
// than a generated id plus the triggers it was created with; changing
// any trigger replaces the object.
type Provider struct{}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) Schema(resourceType string) (*provider.Schema, error) {
	if resourceType != "null_resource" {
		return nil, fmt.Errorf("unknown resource type: %s", resourceType)
	}
	return &provider.Schema{
		ForceReplacement: []string{"triggers"},
		Computed:         []string{"id"},
	}, nil
}

func (p *Provider) Create(ctx context.Context, resourceType string, attrs map[string]any) (map[string]any, error) {
	if resourceType != "null_resource" {
		return nil, fmt.Errorf("unknown resource type: %s", resourceType)
	}
	out := make(map[string]any, len(attrs)+1)
	for k, v := range attrs {
		out[k] = v
	}
	out["id"] = fmt.Sprintf("null-%s", uuid.New().String())
	return out, nil
}

func (p *Provider) Read(ctx context.Context, resourceType string, attrs map[string]any) (map[string]any, error) {
	// Null objects never drift; what state says is what exists.
	return attrs, nil
}

func (p *Provider) Update(ctx context.Context, resourceType string, prior, desired map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(desired)+1)
	for k, v := range desired {
		out[k] = v
	}
	// The id survives in-place updates.
	if id, ok := prior["id"]; ok {
		out["id"] = id
	}
	return out, nil
}

func (p *Provider) Delete(ctx context.Context, resourceType string, attrs map[string]any) error {
	return nil
}
