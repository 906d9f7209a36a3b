package cli

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/terrapin-io/terrapin/internal/engine"
	"github.com/terrapin-io/terrapin/internal/ir"
	"github.com/terrapin-io/terrapin/internal/provider"
	"github.com/terrapin-io/terrapin/internal/state"
	"github.com/terrapin-io/terrapin/internal/version"
	"github.com/terrapin-io/terrapin/providers/docker"
	"github.com/terrapin-io/terrapin/providers/null"
)

const (
	workDir          = ".terrapin"
	defaultStateFile = ".terrapin/state.json"
	lockFilePath     = ".terrapin/providers.lock.json"
)

// newRegistry registers every built-in provider with its release
// history.
func newRegistry() *provider.Registry {
	registry := provider.NewRegistry()
	registry.Register("null", null.Releases, func() provider.Provider { return null.New() })
	registry.Register("docker", docker.Releases, func() provider.Provider { return docker.New() })
	return registry
}

// resolveProviderLocks turns the configured version constraints into an
// exact pinned version per provider, honoring the existing lock file,
// and persists the result when it changed.
func resolveProviderLocks(cfg *ir.Config, registry *provider.Registry) (map[string]*ir.LockEntry, error) {
	required := make(map[string]version.ConstraintSet)
	for name, req := range cfg.Providers {
		set, err := version.ParseConstraintSet(req.Version)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		required[name] = set
	}
	// Providers used without a declared constraint accept any release.
	for _, res := range cfg.Resources {
		if _, ok := required[res.Provider]; !ok {
			set, err := version.ParseConstraintSet(">= 0.0.0")
			if err != nil {
				return nil, err
			}
			required[res.Provider] = set
		}
	}

	available := make(map[string][]provider.Release, len(required))
	for name := range required {
		available[name] = registry.Releases(name)
	}

	existing, err := version.ReadLockFile(lockFilePath)
	if err != nil {
		return nil, err
	}

	resolved, err := version.Resolve(required, available, existing)
	if err != nil {
		return nil, err
	}

	if _, err := version.WriteLockFileIfChanged(lockFilePath, resolved, existing); err != nil {
		return nil, err
	}
	return resolved, nil
}

// openStore builds the state store from the configured backend, or the
// local default.
func openStore(cfg *ir.Config) (*state.Store, error) {
	var backendCfg *ir.BackendConfig
	if cfg != nil {
		backendCfg = cfg.Backend
	}
	backend, err := state.NewBackend(backendCfg, filepath.Clean(defaultStateFile))
	if err != nil {
		return nil, err
	}
	return state.NewStore(backend), nil
}

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
)

func actionSymbol(action ir.Action) (symbol, color string) {
	switch action {
	case ir.ActionCreate:
		return "+", colorGreen
	case ir.ActionDestroy:
		return "-", colorRed
	case ir.ActionUpdate:
		return "~", colorYellow
	case ir.ActionReplace:
		return "-/+", colorYellow
	default:
		return " ", colorReset
	}
}

// renderPlanChanges prints the detailed change list for a plan.
func renderPlanChanges(plan *ir.Plan) {
	for _, change := range plan.Changes {
		symbol, color := actionSymbol(change.Action)

		var resourceType, resourceName string
		if change.Desired != nil {
			resourceType = change.Desired.Type
			resourceName = change.Desired.Name
		} else if change.Prior != nil {
			resourceType = change.Prior.Type
			resourceName = change.Prior.Name
		}

		verb := string(change.Action) + "d"
		if change.Action == ir.ActionDestroy {
			verb = "destroyed"
		}
		if change.Action == ir.ActionReplace {
			verb = "replaced"
			if change.ReplaceOrder == ir.CreateThenDestroy {
				verb = "replaced (create before destroy)"
			}
		}

		fmt.Printf("\n%s  # %s will be %s%s\n", color, change.Address, verb, colorReset)
		fmt.Printf("%s  %s resource %q %q {%s\n", color, symbol, resourceType, resourceName, colorReset)
		renderAttributeDiff(change.Diff)
		fmt.Printf("%s    }%s\n", color, colorReset)
	}
}

func renderAttributeDiff(diff map[string]*ir.AttributeDiff) {
	keys := make([]string, 0, len(diff))
	for k := range diff {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		d := diff[key]
		after := formatValue(d.After)
		if d.Unknown {
			after = "(known after apply)"
		}
		switch d.Action {
		case "create":
			fmt.Printf("%s      + %s = %s%s\n", colorGreen, key, after, colorReset)
		case "delete":
			fmt.Printf("%s      - %s = %s%s\n", colorRed, key, formatValue(d.Before), colorReset)
		case "update":
			fmt.Printf("%s      ~ %s = %s -> %s%s\n", colorYellow, key, formatValue(d.Before), after, colorReset)
		default:
			fmt.Printf("        %s = %s\n", key, after)
		}
	}
}

// formatValue returns a human-readable representation of a value.
func formatValue(v any) string {
	if v == nil {
		return "null"
	}
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprintf("%v", v)
}

// renderPlanSummary prints the plan summary counts.
func renderPlanSummary(plan *ir.Plan) {
	fmt.Println("\nPlan summary:")
	fmt.Printf("  Create:  %d\n", plan.Summary.Create)
	fmt.Printf("  Update:  %d\n", plan.Summary.Update)
	fmt.Printf("  Destroy: %d\n", plan.Summary.Destroy)
	fmt.Printf("  Replace: %d\n", plan.Summary.Replace)
	fmt.Printf("  NoOp:    %d\n", plan.Summary.NoOp)
}

// printApplyEvent streams per-node progress to stdout as the executor
// settles each address.
func printApplyEvent(ev engine.ApplyEvent) {
	switch ev.Status {
	case "started":
		fmt.Printf("%s: %s...\n", ev.Address, ev.Action)
	case "applied":
		fmt.Printf("%s: %s complete (%s)\n", ev.Address, ev.Action, ev.Duration.Round(time.Millisecond))
	case "failed":
		fmt.Printf("%s%s: failed: %v%s\n", colorRed, ev.Address, ev.Error, colorReset)
	case "skipped":
		fmt.Printf("%s%s: skipped (dependency not applied)%s\n", colorYellow, ev.Address, colorReset)
	case "cancelled":
		fmt.Printf("%s%s: cancelled%s\n", colorYellow, ev.Address, colorReset)
	}
}
