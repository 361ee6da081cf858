package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opsdesk/opsdesk/internal/version"
)

var versionShort bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		info := version.GetInfo()
		if versionShort {
			fmt.Println(info.Short())
			return
		}
		fmt.Println(info.String())
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Print only the version number")
	rootCmd.AddCommand(versionCmd)
}
