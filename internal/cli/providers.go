package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/terrapin-io/terrapin/internal/config"
	"github.com/terrapin-io/terrapin/internal/provider"
	"github.com/terrapin-io/terrapin/internal/version"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Inspect and lock provider versions",
}

var providersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known providers and their published versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry := newRegistry()
		for _, name := range []string{"docker", "null"} {
			releases := registry.Releases(name)
			versions := make([]string, 0, len(releases))
			for _, rel := range releases {
				versions = append(versions, rel.Version)
			}
			fmt.Printf("%s: %v\n", name, versions)
		}
		return nil
	},
}

var providersLockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Resolve version constraints and write the lock file",
	Long: `Resolves every configured version constraint to an exact provider
version. A version already pinned in the lock file is kept as long as
it still satisfies the constraints, so re-running never silently
upgrades.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load("")
		if err != nil {
			return err
		}

		registry := newRegistry()
		locks, err := resolveProviderLocks(cfg, registry)
		if err != nil {
			return err
		}

		names := make([]string, 0, len(locks))
		for name := range locks {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("%s = %s\n", name, locks[name].Version)
		}
		fmt.Printf("Lock file written to %s\n", lockFilePath)
		return nil
	},
}

var providersVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that the lock file still satisfies the configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load("")
		if err != nil {
			return err
		}

		existing, err := version.ReadLockFile(lockFilePath)
		if err != nil {
			return err
		}

		registry := newRegistry()
		required := make(map[string]version.ConstraintSet)
		for name, req := range cfg.Providers {
			set, err := version.ParseConstraintSet(req.Version)
			if err != nil {
				return fmt.Errorf("provider %s: %w", name, err)
			}
			required[name] = set
		}
		available := make(map[string][]provider.Release, len(required))
		for name := range required {
			available[name] = registry.Releases(name)
		}

		locks, err := version.Resolve(required, available, existing)
		if err != nil {
			return err
		}
		if !version.LocksEqual(existing, locks) {
			return fmt.Errorf("lock file is out of date; run 'terrapin providers lock'")
		}
		fmt.Println("Lock file matches the configuration.")
		return nil
	},
}

func init() {
	providersCmd.AddCommand(providersListCmd)
	providersCmd.AddCommand(providersLockCmd)
	providersCmd.AddCommand(providersVerifyCmd)
}
