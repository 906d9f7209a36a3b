package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terrapin-io/terrapin/internal/config"
	"github.com/terrapin-io/terrapin/internal/engine"
	"github.com/terrapin-io/terrapin/internal/ir"
)

var (
	destroyAutoApprove bool
	destroyParallelism int
)

var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Destroy all managed infrastructure",
	Long: `Plans the removal of every tracked resource and executes it in strict
reverse dependency order. Resources marked prevent_destroy stop the
run before anything is touched.`,
	RunE: runDestroy,
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyAutoApprove, "auto-approve", false, "Skip interactive approval")
	destroyCmd.Flags().IntVar(&destroyParallelism, "parallelism", engine.DefaultParallelism, "Maximum concurrent provider operations")
}

func runDestroy(cmd *cobra.Command, args []string) error {
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

	// An empty desired set turns every tracked record into a destroy.
	empty := &ir.Config{Backend: cfg.Backend, Providers: cfg.Providers}
	planner := engine.NewPlanner(registry)
	plan, err := planner.Plan(ctx, empty, tx.State())
	if err != nil {
		return err
	}

	if plan.Empty() {
		fmt.Println("Nothing to destroy. State is empty.")
		return nil
	}

	fmt.Println("Terrapin will destroy the following resources:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)

	if !destroyAutoApprove {
		fmt.Print("\nDo you really want to destroy all resources? (y/n): ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "yes" {
			fmt.Println("Destroy cancelled.")
			return nil
		}
	}

	fmt.Printf("\nDestroying %d resources...\n\n", len(plan.Changes))

	exec := engine.NewExecutor(registry,
		engine.WithParallelism(destroyParallelism),
		engine.WithProviderLocks(locks),
	)
	report, fatalErr := exec.Apply(ctx, plan, tx, printApplyEvent)
	if fatalErr != nil {
		return fatalErr
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit state: %w", err)
	}

	fmt.Printf("\nDestroy complete. Run %s: %d destroyed, %d failed, %d skipped, %d cancelled.\n",
		report.RunID, report.Applied, report.Failed, report.Skipped, report.Cancelled)
	return report.Err()
}
