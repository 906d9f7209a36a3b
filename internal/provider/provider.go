package provider

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Read when the remote object no longer exists.
var ErrNotFound = errors.New("resource not found")

// Schema describes how a provider treats the attributes of one resource
// type. Attributes not listed are assumed mutable in place. New resource
// types are added by registering a provider that reports them here, not
// by touching the planner.
type Schema struct {
	// ForceReplacement lists attributes that cannot be changed on a live
	// object; a diff on any of them turns an update into a replacement.
	ForceReplacement []string

	// Computed lists attributes the provider assigns on its own, such as
	// generated identifiers. Their presence in state is never drift.
	Computed []string
}

// ForcesReplacement reports whether a change to attr requires replacing
// the object.
func (s *Schema) ForcesReplacement(attr string) bool {
	if s == nil {
		return false
	}
	for _, a := range s.ForceReplacement {
		if a == attr {
			return true
		}
	}
	return false
}

// IsComputed reports whether attr is provider-assigned.
func (s *Schema) IsComputed(attr string) bool {
	if s == nil {
		return false
	}
	for _, a := range s.Computed {
		if a == attr {
			return true
		}
	}
	return false
}

// Provider is the collaborator that manages real objects of one or more
// resource types. The engine never assumes these calls are idempotent;
// it assumes each call either clearly succeeded, clearly failed, or
// timed out with unknown outcome.
type Provider interface {
	// Schema returns the attribute behavior for a resource type.
	Schema(resourceType string) (*Schema, error)

	// Create provisions a new object and returns its full attribute map,
	// including any provider-assigned identifiers.
	Create(ctx context.Context, resourceType string, attrs map[string]any) (map[string]any, error)

	// Read refreshes the attribute map of an existing object, or returns
	// ErrNotFound if it no longer exists.
	Read(ctx context.Context, resourceType string, attrs map[string]any) (map[string]any, error)

	// Update changes an existing object in place and returns the applied
	// attribute map.
	Update(ctx context.Context, resourceType string, prior, desired map[string]any) (map[string]any, error)

	// Delete removes an existing object.
	Delete(ctx context.Context, resourceType string, attrs map[string]any) error
}
