package cli

import (
	"github.com/spf13/cobra"

	"github.com/compozy/tasktree/pkg/version"
)

func VersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printYAML(cmd.OutOrStdout(), version.Get())
		},
	}
}
