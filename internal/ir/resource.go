package ir

import "fmt"

// Resource is a single declared infrastructure object. One Resource may
// expand into several addressable instances via Count or ForEach.
type Resource struct {
	Type       string         `yaml:"type" json:"type"`
	Name       string         `yaml:"name" json:"name"`
	Provider   string         `yaml:"provider" json:"provider"`
	Lifecycle  *Lifecycle     `yaml:"lifecycle,omitempty" json:"lifecycle,omitempty"`
	DependsOn  []string       `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	Count      int            `yaml:"count,omitempty" json:"count,omitempty"`
	ForEach    map[string]any `yaml:"for_each,omitempty" json:"for_each,omitempty"`
	Timeout    string         `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Attributes map[string]any `yaml:"attributes" json:"attributes"`
}

// Address returns the stable address of the resource (type.name).
func (r *Resource) Address() string {
	return fmt.Sprintf("%s.%s", r.Type, r.Name)
}

// Lifecycle holds the per-resource lifecycle policy flags.
type Lifecycle struct {
	CreateBeforeDestroy bool     `yaml:"create_before_destroy,omitempty" json:"create_before_destroy,omitempty"`
	PreventDestroy      bool     `yaml:"prevent_destroy,omitempty" json:"prevent_destroy,omitempty"`
	IgnoreChanges       []string `yaml:"ignore_changes,omitempty" json:"ignore_changes,omitempty"`
}
