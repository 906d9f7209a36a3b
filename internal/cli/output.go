package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/terrapin-io/terrapin/internal/config"
)

var outputCmd = &cobra.Command{
	Use:   "output [name]",
	Short: "Show output values from the last apply",
	Args:  cobra.MaximumNArgs(1),
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

		if len(args) == 1 {
			v, ok := st.Outputs[args[0]]
			if !ok {
				return fmt.Errorf("no output named %q", args[0])
			}
			fmt.Printf("%v\n", v)
			return nil
		}

		names := make([]string, 0, len(st.Outputs))
		for name := range st.Outputs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("%s = %v\n", name, st.Outputs[name])
		}
		return nil
	},
}
