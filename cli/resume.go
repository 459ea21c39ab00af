package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/compozy/tasktree/engine/core"
	"github.com/compozy/tasktree/engine/runner"
	"github.com/compozy/tasktree/engine/workflow"
	"github.com/compozy/tasktree/pkg/config"
)

func ResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume WORKFLOW_ID FILE",
		Short: "Continue a saved workflow from the snapshot store",
		Args:  cobra.ExactArgs(2),
		RunE:  resumeWorkflow,
	}
	cmd.Flags().Bool("auto-manual", false, "Complete manual tasks automatically")
	cmd.Flags().Int("max-steps", workflow.DefaultMaxSteps, "Maximum tasks run per workflow")
	cmd.Flags().Bool("save", true, "Save the resulting snapshot back to the store")
	cmd.Flags().String("store-url", "", "Redis URL of the snapshot store")
	return cmd
}

func resumeWorkflow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)
	id, err := core.ParseID(args[0])
	if err != nil {
		return fmt.Errorf("invalid workflow id %q: %w", args[0], err)
	}
	file := args[1]
	autoManual, err := cmd.Flags().GetBool("auto-manual")
	if err != nil {
		return fmt.Errorf("failed to get auto-manual flag: %w", err)
	}
	sess, closeFn, err := newSession(ctx, cmd, cfg)
	if err != nil {
		return err
	}
	defer closeFn()
	if _, err := sess.defs.AddFile(ctx, file); err != nil {
		return err
	}
	res, err := sess.runner.Resume(ctx, id, runner.RunConfig{AutoManual: autoManual})
	if err != nil {
		return err
	}
	return printYAML(cmd.OutOrStdout(), []RunResult{newRunResult(file, res)})
}
