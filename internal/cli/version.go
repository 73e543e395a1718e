package cli

import (
	"fmt"
	"runtime"

	"github.com/gomithril/textembed"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		// version needs no model configuration
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "textembed %s (%s)\n", textembed.Version, runtime.Version())
		},
	}
}
