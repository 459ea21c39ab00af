package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/compozy/tasktree/pkg/config"
	"github.com/compozy/tasktree/pkg/logger"
)

const defaultConfigFile = "tasktree.yaml"

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tasktree",
		Short:         "Run task-tree workflows from YAML definitions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return SetupGlobalConfig(cmd)
		},
	}
	flags := root.PersistentFlags()
	flags.String("log-level", "info", "Log level (debug, info, warn, error, disabled)")
	flags.Bool("log-json", false, "Output logs in JSON format")
	flags.Bool("log-source", false, "Include source code location in logs")
	flags.String("config", defaultConfigFile, "Path to configuration file")

	root.AddCommand(
		RunCmd(),
		ResumeCmd(),
		ValidateCmd(),
		TreeCmd(),
		ServeCmd(),
		VersionCmd(),
	)
	return root
}

// SetupGlobalConfig loads configuration from the config file, the environment
// and explicitly set flags, then installs the logger and the configuration
// manager into the command context.
func SetupGlobalConfig(cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	flag := cmd.Flag("config")
	if flag == nil {
		return fmt.Errorf("failed to get config flag: not defined")
	}
	configFile := flag.Value.String()
	sources := []config.Source{config.NewEnvProvider()}
	if configFile != "" {
		sources = append([]config.Source{config.NewYAMLProvider(configFile)}, sources...)
	}
	sources = append(sources, config.NewCLIProvider(changedFlags(cmd)))

	manager := config.NewManager(config.NewService())
	cfg, err := manager.Load(ctx, sources...)
	if err != nil {
		return err
	}
	log := logger.SetupLogger(
		logger.LogLevel(cfg.Runtime.LogLevel),
		cfg.Runtime.LogJSON,
		cfg.Runtime.LogSource,
	)
	ctx = logger.ContextWithLogger(ctx, log)
	ctx = config.ContextWithManager(ctx, manager)
	cmd.SetContext(ctx)
	log.Debug("configuration loaded", "config_file", configFile, "max_run_steps", cfg.Engine.MaxRunSteps)
	return nil
}

// changedFlags collects the flags the user set that map to configuration. It
// reads the persistent flags too, so it works before cobra merges them.
func changedFlags(cmd *cobra.Command) map[string]any {
	values := make(map[string]any)
	collect := func(f *pflag.Flag) {
		if _, ok := config.FlagPath(f.Name); !ok {
			return
		}
		raw := f.Value.String()
		switch f.Value.Type() {
		case "bool":
			if v, err := strconv.ParseBool(raw); err == nil {
				values[f.Name] = v
			}
		case "int":
			if v, err := strconv.Atoi(raw); err == nil {
				values[f.Name] = v
			}
		default:
			values[f.Name] = raw
		}
	}
	cmd.PersistentFlags().Visit(collect)
	cmd.Flags().Visit(collect)
	return values
}
