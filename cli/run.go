package cli

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/compozy/tasktree/engine/definition"
	"github.com/compozy/tasktree/engine/expr"
	"github.com/compozy/tasktree/engine/infra/snapstore"
	"github.com/compozy/tasktree/engine/runner"
	"github.com/compozy/tasktree/engine/workflow"
	"github.com/compozy/tasktree/pkg/config"
	"github.com/compozy/tasktree/pkg/logger"
)

// RunResult is the printed outcome of one workflow instance.
type RunResult struct {
	ID        string           `yaml:"id"`
	File      string           `yaml:"file"`
	Process   string           `yaml:"process"`
	Completed bool             `yaml:"completed"`
	Cancelled bool             `yaml:"cancelled"`
	Success   bool             `yaml:"success"`
	Saved     bool             `yaml:"saved,omitempty"`
	Pending   []runner.TaskRef `yaml:"pending,omitempty"`
	Data      map[string]any   `yaml:"data"`
}

func newRunResult(file string, res *runner.Result) RunResult {
	return RunResult{
		ID:        res.ID,
		File:      file,
		Process:   res.Process,
		Completed: res.Completed,
		Cancelled: res.Cancelled,
		Success:   res.Success,
		Saved:     res.Saved,
		Pending:   res.Pending,
		Data:      res.Data,
	}
}

// session carries what every workflow instance of one command shares.
type session struct {
	defs   *definition.Registry
	loader *definition.Loader
	runner *runner.Runner
}

func RunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run FILE...",
		Short: "Run each definition as an independent workflow",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runWorkflows,
	}
	cmd.Flags().StringSlice("data", []string{}, "Initial data in key=value format (can be used multiple times)")
	cmd.Flags().Bool("auto-manual", false, "Complete manual tasks automatically")
	cmd.Flags().Int("max-steps", workflow.DefaultMaxSteps, "Maximum tasks run per workflow")
	cmd.Flags().Duration("timeout", 0, "Abort runs after this duration (0 disables)")
	cmd.Flags().Bool("save", false, "Save each final snapshot to the snapshot store")
	cmd.Flags().String("store-url", "", "Redis URL of the snapshot store")
	return cmd
}

func runWorkflows(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)
	pairs, err := cmd.Flags().GetStringSlice("data")
	if err != nil {
		return fmt.Errorf("failed to get data flags: %w", err)
	}
	data, err := parseData(pairs)
	if err != nil {
		return err
	}
	autoManual, err := cmd.Flags().GetBool("auto-manual")
	if err != nil {
		return fmt.Errorf("failed to get auto-manual flag: %w", err)
	}
	sess, closeFn, err := newSession(ctx, cmd, cfg)
	if err != nil {
		return err
	}
	defer closeFn()
	if cfg.Engine.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Engine.RunTimeout)
		defer cancel()
	}
	rc := runner.RunConfig{AutoManual: autoManual}
	results := make([]RunResult, len(args))
	g, gctx := errgroup.WithContext(ctx)
	for i, file := range args {
		g.Go(func() error {
			p, err := sess.loader.LoadFile(gctx, file)
			if err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}
			res, err := sess.runner.Start(gctx, p, data, rc)
			if err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}
			results[i] = newRunResult(file, res)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return printYAML(cmd.OutOrStdout(), results)
}

func newSession(ctx context.Context, cmd *cobra.Command, cfg *config.Config) (*session, func(), error) {
	save, err := cmd.Flags().GetBool("save")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get save flag: %w", err)
	}
	loader, closeLoader, err := newLoader(cfg)
	if err != nil {
		return nil, nil, err
	}
	store, err := snapstore.New(ctx, snapstore.FromAppConfig(cfg))
	if err != nil {
		closeLoader()
		return nil, nil, err
	}
	closeFn := func() {
		closeLoader()
		if err := store.Close(); err != nil {
			logger.FromContext(ctx).Warn("failed to close snapshot store", "error", err)
		}
	}
	opts, err := workflowOptions(ctx, cfg, nil)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	defs := definition.NewRegistry(loader)
	sess := &session{
		defs:   defs,
		loader: loader,
		runner: runner.New(defs, store, runner.WithSave(save), runner.WithWorkflowOptions(opts...)),
	}
	return sess, closeFn, nil
}

// workflowOptions applies the engine section of cfg. A nil meter records on
// the global provider.
func workflowOptions(ctx context.Context, cfg *config.Config, meter metric.Meter) ([]workflow.Option, error) {
	metrics, err := workflow.NewMetrics(ctx, meter)
	if err != nil {
		return nil, err
	}
	return []workflow.Option{
		workflow.WithMaxDepth(cfg.Engine.MaxIteratorDepth),
		workflow.WithMaxSteps(cfg.Engine.MaxRunSteps),
		workflow.WithHaltOnManual(cfg.Engine.HaltOnManual),
		workflow.WithMetrics(metrics),
	}, nil
}

func newLoader(cfg *config.Config) (*definition.Loader, func(), error) {
	ev, err := expr.NewCELEvaluator(
		expr.WithCostLimit(cfg.Expr.CostLimit),
		expr.WithCacheSize(cfg.Expr.CacheSize),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create expression evaluator: %w", err)
	}
	loader, err := definition.NewLoader(
		cfg.Definition.CacheSize,
		definition.WithEvaluator(ev),
		definition.WithLookahead(cfg.Engine.DefaultLookahead),
	)
	if err != nil {
		ev.Close()
		return nil, nil, err
	}
	var once sync.Once
	return loader, func() { once.Do(ev.Close) }, nil
}

func printYAML(w io.Writer, v any) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return encoder.Close()
}
