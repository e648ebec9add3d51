package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/signalnine/envgrade/internal/config"
	"github.com/signalnine/envgrade/internal/logging"
)

var (
	cfgFile     string
	envFile     string
	flagVerbose bool
)

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "envgrade",
		Short:         "Grade container build recipes against test rubrics",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadEnvFile(envFile, cmd.Flags().Changed("env-file"))
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "envgrade.yaml", "config file path")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file merged into the environment")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")
	root.AddCommand(newEvaluateCmd())
	root.AddCommand(newBatchCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newListCmd())
	return root
}

// loadConfig reads the config file, which may be absent unless --config was
// given, and applies ENVGRADE_* overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(cfgFile, cmd.Flags().Changed("config"))
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}
	return cfg, nil
}

func newLogger() *slog.Logger {
	return logging.New(os.Stderr, flagVerbose)
}
