package ir

// Config is the fully structured desired-object set handed to the engine.
// No raw configuration syntax reaches the packages below this type.
type Config struct {
	Resources []*Resource                     `yaml:"resources" json:"resources"`
	Providers map[string]*ProviderRequirement `yaml:"providers,omitempty" json:"providers,omitempty"`
	Moved     []Move                          `yaml:"moved,omitempty" json:"moved,omitempty"`
	Backend   *BackendConfig                  `yaml:"backend,omitempty" json:"backend,omitempty"`
	Outputs   map[string]any                  `yaml:"outputs,omitempty" json:"outputs,omitempty"`
}

// ProviderRequirement declares the version constraints for one provider,
// e.g. ">= 2.0.0, < 3.0.0" or "~> 1.2".
type ProviderRequirement struct {
	Version string `yaml:"version" json:"version"`
}

// Move renames a tracked address. The record held at From is inherited by
// To before planning, so a rename is an update, not a destroy and create.
type Move struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
}

// BackendConfig selects where state is persisted.
type BackendConfig struct {
	Type   string            `yaml:"type" json:"type"` // "local" or "s3"
	Config map[string]string `yaml:"config,omitempty" json:"config,omitempty"`
}
