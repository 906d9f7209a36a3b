package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Version is the build version, overridden at link time.
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the terrapin version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("terrapin %s %s/%s\n", Version, runtime.GOOS, runtime.GOARCH)
	},
}
