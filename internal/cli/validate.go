package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terrapin-io/terrapin/internal/config"
	"github.com/terrapin-io/terrapin/internal/engine"
	"github.com/terrapin-io/terrapin/internal/ir"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for errors",
	Long: `Validates the configuration structurally and builds the dependency
graph, catching duplicate addresses, unresolved references, and cycles
without touching providers or state.`,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}

	resources := engine.Expand(cfg.Resources)
	if _, err := engine.BuildGraph(resources, map[string]*ir.Record{}); err != nil {
		return err
	}

	fmt.Printf("Configuration is valid: %d resources", len(resources))
	if len(cfg.Moved) > 0 {
		fmt.Printf(", %d moves", len(cfg.Moved))
	}
	fmt.Println()
	return nil
}
