package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/terrapin-io/terrapin/internal/config"
)

const starterConfig = `# Terrapin configuration.
providers:
  "null":
    version: "~> 1.0"

resources:
  - type: null_resource
    name: example
    provider: "null"
    attributes:
      triggers:
        greeting: hello
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Prepare a working directory",
	Long: `Creates the local working directory, scaffolds a starter configuration
when none exists, and resolves provider versions into the lock file.`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", workDir, err)
	}

	if _, err := os.Stat(config.DefaultFile); os.IsNotExist(err) {
		if err := os.WriteFile(config.DefaultFile, []byte(starterConfig), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", config.DefaultFile, err)
		}
		fmt.Printf("Created %s\n", config.DefaultFile)
	}

	cfg, err := config.Load("")
	if err != nil {
		return err
	}

	registry := newRegistry()
	locks, err := resolveProviderLocks(cfg, registry)
	if err != nil {
		return err
	}
	for name, entry := range locks {
		fmt.Printf("Resolved provider %s %s\n", name, entry.Version)
	}

	fmt.Println("Terrapin initialized.")
	return nil
}
