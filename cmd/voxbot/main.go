package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"voxBot/internal/app/runtime"
)

var (
	// Version is set at build time.
	Version = ""

	envFiles []string
	logLevel string

	rootCmd = &cobra.Command{
		Use:           "voxbot",
		Short:         "Read chat aloud in voice calls",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Connect to chat and read messages aloud until interrupted",
		Args:  cobra.NoArgs,
		RunE:  execute,
	}
)

func execute(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run, err := runtime.Start(ctx, runtime.Options{EnvFiles: envFiles, LogLevel: logLevel})
	if err != nil {
		return err
	}

	<-ctx.Done()
	return run.Stop()
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func init() {
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version

	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "load settings from these .env files (default ./.env)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", fmt.Sprintf("override LOG_LEVEL (%s)", "debug, info, warn, error"))

	rootCmd.AddCommand(runCmd, synthCmd)
}
