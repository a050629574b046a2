package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the bilicache version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("bilicache %s (%s)\n", Version, Commit)
	},
}
