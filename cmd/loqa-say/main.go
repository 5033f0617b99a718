// Package main provides loqa-say, a command line front end for the speaker:
// speak locally, publish to a running speakerd, or inspect its history.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/loqalabs/loqa-speaker/internal/config"
	"github.com/loqalabs/loqa-speaker/internal/runtime"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = ""

	configFile string
	logLevel   string

	cfg    config.Config
	logger *slog.Logger

	rootCmd = &cobra.Command{
		Use:           "loqa-say",
		Short:         "Speak text through the loqa speaker pipeline",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cfg, err = config.Load(configFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Telemetry.LogLevel = logLevel
			}
			logger = runtime.NewLogger(cfg.Telemetry, cmd.ErrOrStderr())
			return nil
		},
	}
)

// textFromArgs joins args, or reads stdin when args is empty or "-".
func textFromArgs(args []string, stdin io.Reader) (string, error) {
	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	return strings.Join(args, " "), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (defaults plus LOQA_* environment when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(sayCmd, publishCmd, sanitizeCmd, historyCmd)
}
