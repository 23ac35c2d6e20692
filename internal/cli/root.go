package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/swarm/internal/logging"
)

var version = "0.1.0"

// newRootCmd builds the command tree. A fresh tree per call keeps flag state
// from leaking between invocations.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "swarm",
		Short:   "A cooperative virtual-user load generator",
		Version: version,
		Long: `Swarm simulates a population of virtual users against an HTTP service.

Each user belongs to a user class, picks weighted tasks, waits between them
and can enter nested task sets. Test definitions are YAML or JSON files.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	root.PersistentFlags().String("log-format", "console", "Log format: console, json")
	root.PersistentFlags().String("log-output", "stderr", "Log output: stdout, stderr or a file path")

	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateCmd())
	return root
}

// Execute runs the command line and reports any error on stderr.
// This is called by main.main().
func Execute() error {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// newLogger builds the logger selected by the persistent flags.
func newLogger(cmd *cobra.Command) (*zap.Logger, error) {
	level, _ := cmd.Flags().GetString("log-level")
	format, _ := cmd.Flags().GetString("log-format")
	output, _ := cmd.Flags().GetString("log-output")

	logger, err := logging.New(logging.Config{
		Level:  level,
		Format: format,
		Output: output,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}
