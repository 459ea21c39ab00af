package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/compozy/tasktree/pkg/config"
)

func ValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Load and validate definitions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			loader, closeFn, err := newLoader(config.FromContext(ctx))
			if err != nil {
				return err
			}
			defer closeFn()
			var errs []error
			for _, file := range args {
				p, err := loader.LoadFile(ctx, file)
				if err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: invalid: %v\n", file, err)
					errs = append(errs, fmt.Errorf("%s: %w", file, err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%s, %d specs)\n", file, p.Name(), p.Len())
			}
			return errors.Join(errs...)
		},
	}
}
