// Package config loads and validates the terrapin.yaml configuration
// document into the engine's structured form.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/terrapin-io/terrapin/internal/ir"
)

// DefaultFile is the configuration file name looked up in the working
// directory when no path is given.
const DefaultFile = "terrapin.yaml"

// Load reads and validates a configuration file.
func Load(path string) (*ir.Config, error) {
	if path == "" {
		path = DefaultFile
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates a configuration document.
func Parse(raw []byte) (*ir.Config, error) {
	var cfg ir.Config
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks structural rules that do not need providers or state:
// required fields, unique addresses, and well-formed lifecycle blocks.
func Validate(cfg *ir.Config) error {
	seen := make(map[string]bool, len(cfg.Resources))
	for i, res := range cfg.Resources {
		if res.Type == "" {
			return fmt.Errorf("resource %d: type is required", i)
		}
		if res.Name == "" {
			return fmt.Errorf("resource %d: name is required", i)
		}
		if res.Provider == "" {
			return fmt.Errorf("resource %s: provider is required", res.Address())
		}
		addr := res.Address()
		if seen[addr] {
			return fmt.Errorf("duplicate resource address %s", addr)
		}
		seen[addr] = true

		if res.Count > 0 && len(res.ForEach) > 0 {
			return fmt.Errorf("resource %s: count and for_each are mutually exclusive", addr)
		}
		if res.Count < 0 {
			return fmt.Errorf("resource %s: count must not be negative", addr)
		}
		if res.Timeout != "" {
			if _, err := time.ParseDuration(res.Timeout); err != nil {
				return fmt.Errorf("resource %s: invalid timeout %q: %w", addr, res.Timeout, err)
			}
		}
	}

	for name, req := range cfg.Providers {
		if req == nil || req.Version == "" {
			return fmt.Errorf("provider %s: version constraint is required", name)
		}
	}

	for i, mv := range cfg.Moved {
		if mv.From == "" || mv.To == "" {
			return fmt.Errorf("moved %d: both from and to are required", i)
		}
		if mv.From == mv.To {
			return fmt.Errorf("moved %d: from and to are identical (%s)", i, mv.From)
		}
	}

	if cfg.Backend != nil {
		switch cfg.Backend.Type {
		case "local", "s3":
		default:
			return fmt.Errorf("unsupported backend type %q", cfg.Backend.Type)
		}
	}
	return nil
}
