package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/terrapin-io/terrapin/internal/config"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and modify tracked state",
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked resource addresses",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := config.Load("")
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		st, err := store.Snapshot(ctx)
		if err != nil {
			return err
		}

		addrs := make([]string, 0, len(st.Resources))
		for _, rec := range st.Resources {
			addrs = append(addrs, rec.Address)
		}
		sort.Strings(addrs)
		for _, addr := range addrs {
			fmt.Println(addr)
		}
		return nil
	},
}

var stateShowCmd = &cobra.Command{
	Use:   "show <address>",
	Short: "Show the tracked record for one address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := config.Load("")
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		st, err := store.Snapshot(ctx)
		if err != nil {
			return err
		}

		rec, ok := st.RecordMap()[args[0]]
		if !ok {
			return fmt.Errorf("no resource tracked at %s", args[0])
		}
		raw, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(raw))
		return nil
	},
}

var stateRmCmd = &cobra.Command{
	Use:   "rm <address>",
	Short: "Forget a resource without destroying it",
	Long: `Removes a record from state without touching the real object. The
object becomes unmanaged; a later apply will plan it as a new create.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := config.Load("")
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

		if _, ok := tx.Get(args[0]); !ok {
			return fmt.Errorf("no resource tracked at %s", args[0])
		}
		if err := tx.Remove(ctx, args[0]); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		fmt.Printf("Removed %s from state.\n", args[0])
		return nil
	},
}

func init() {
	stateCmd.AddCommand(stateListCmd)
	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(stateRmCmd)
}
