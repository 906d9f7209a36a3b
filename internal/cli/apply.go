package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terrapin-io/terrapin/internal/config"
	"github.com/terrapin-io/terrapin/internal/engine"
)

var (
	applyAutoApprove bool
	applyParallelism int
	applyTargets     []string
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply the configuration",
	Long: `Computes a plan under the exclusive state lock and executes it in
dependency order. Every completed operation is recorded in state
before its dependents run, so an interrupted apply loses nothing that
finished.`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Skip interactive approval of the plan")
	applyCmd.Flags().IntVar(&applyParallelism, "parallelism", engine.DefaultParallelism, "Maximum concurrent provider operations")
	applyCmd.Flags().StringSliceVar(&applyTargets, "target", nil, "Limit the apply to these addresses plus their dependencies")
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load("")
	if err != nil {
		return err
	}

	registry := newRegistry()
	locks, err := resolveProviderLocks(cfg, registry)
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	tx, err := store.BeginTransaction(ctx)
	if err != nil {
		return err
	}
	defer tx.Close(ctx)

	planner := engine.NewPlanner(registry)
	plan, err := planner.PlanTargets(ctx, cfg, tx.State(), applyTargets)
	if err != nil {
		return err
	}

	if plan.Empty() {
		fmt.Println("No changes. Infrastructure matches the configuration.")
		return nil
	}

	fmt.Println("Terrapin will perform the following actions:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)

	if !applyAutoApprove {
		fmt.Print("\nDo you want to perform these actions? (y/n): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "yes" {
			fmt.Println("Apply cancelled.")
			return nil
		}
	}

	fmt.Printf("\nApplying %d changes...\n\n", len(plan.Changes))

	exec := engine.NewExecutor(registry,
		engine.WithParallelism(applyParallelism),
		engine.WithProviderLocks(locks),
	)
	report, fatalErr := exec.Apply(ctx, plan, tx, printApplyEvent)
	if fatalErr != nil {
		return fatalErr
	}

	tx.SetProviderLocks(locks)
	if outputs, err := engine.ResolveOutputs(cfg.Outputs, tx); err == nil && outputs != nil {
		tx.SetOutputs(outputs)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit state: %w", err)
	}

	fmt.Printf("\nApply complete. Run %s: %d applied, %d failed, %d skipped, %d cancelled.\n",
		report.RunID, report.Applied, report.Failed, report.Skipped, report.Cancelled)

	if st := tx.State(); len(st.Outputs) > 0 {
		fmt.Println("\nOutputs:")
		for k, v := range st.Outputs {
			fmt.Printf("  %s = %v\n", k, v)
		}
	}
	return report.Err()
}
