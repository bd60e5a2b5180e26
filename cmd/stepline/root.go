package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	slogmulti "github.com/samber/slog-multi"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	profilePath string
	dataDir     string
	logFile     string
	verbose     bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "stepline",
		Short:         "Run queries through a bounded plan-and-execute agent loop",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// A missing .env file is fine; explicit environment still applies.
			_ = godotenv.Load()
		},
	}

	cmd.PersistentFlags().StringVar(&flags.profilePath, "profile", "", "path to a YAML profile")
	cmd.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "override the data directory")
	cmd.PersistentFlags().StringVar(&flags.logFile, "log-file", "", "also write logs to this file")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(newRunCmd(flags))
	cmd.AddCommand(newReindexCmd(flags))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// buildLogger fans log output out to stderr and, when configured, a file.
// The returned closer owns the file handle.
func buildLogger(flags *rootFlags) (*slog.Logger, io.Closer, error) {
	level := slog.LevelInfo
	if flags.verbose {
		level = slog.LevelDebug
	}

	handlers := []slog.Handler{
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
	}
	var closer io.Closer
	if flags.logFile != "" {
		f, err := os.OpenFile(flags.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		closer = f
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	if len(handlers) == 1 {
		return slog.New(handlers[0]), closer, nil
	}
	return slog.New(slogmulti.Fanout(handlers...)), closer, nil
}
