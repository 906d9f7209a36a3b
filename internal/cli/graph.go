package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/terrapin-io/terrapin/internal/config"
	"github.com/terrapin-io/terrapin/internal/engine"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Export the dependency graph in DOT format",
	Long: `Builds the dependency graph from the configuration and the current
state and writes it to stdout in Graphviz DOT format.`,
	RunE: runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
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
		return fmt.Errorf("failed to read state: %w", err)
	}

	resources := engine.Expand(cfg.Resources)
	records := engine.ApplyMoves(st.RecordMap(), cfg.Moved)
	graph, err := engine.BuildGraph(resources, records)
	if err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString("digraph terrapin {\n")
	b.WriteString("  rankdir = \"LR\";\n")
	for _, addr := range graph.CreationOrder() {
		fmt.Fprintf(&b, "  %q;\n", addr)
		for _, dep := range graph.Dependencies(addr) {
			fmt.Fprintf(&b, "  %q -> %q;\n", addr, dep)
		}
	}
	b.WriteString("}\n")

	fmt.Print(b.String())
	return nil
}
