package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/terrapin-io/terrapin/internal/config"
	"github.com/terrapin-io/terrapin/internal/engine"
)

var (
	planOutFile string
	planTargets []string
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Compute the execution plan",
	Long: `Compares the declared configuration against the last-applied state and
prints the actions a subsequent apply would take. Planning is
read-only: no provider operation runs and no state is written.`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planOutFile, "out", "o", "", "Write the plan as JSON to a file")
	planCmd.Flags().StringSliceVar(&planTargets, "target", nil, "Limit the plan to these addresses plus their dependencies")
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load("")
	if err != nil {
		return err
	}

	registry := newRegistry()
	if _, err := resolveProviderLocks(cfg, registry); err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	st, err := store.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	planner := engine.NewPlanner(registry)
	plan, err := planner.PlanTargets(ctx, cfg, st, planTargets)
	if err != nil {
		return err
	}

	if plan.Empty() {
		fmt.Println("No changes. Infrastructure matches the configuration.")
	} else {
		fmt.Println("Terrapin will perform the following actions:")
		renderPlanChanges(plan)
	}
	renderPlanSummary(plan)

	if planOutFile != "" {
		raw, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode plan: %w", err)
		}
		if err := os.WriteFile(planOutFile, append(raw, '\n'), 0644); err != nil {
			return fmt.Errorf("failed to write plan file: %w", err)
		}
		fmt.Printf("\nPlan written to %s\n", planOutFile)
	}
	return nil
}
