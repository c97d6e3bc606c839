package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/editsuite/orchestrator/internal/config"
	"github.com/spf13/cobra"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var opts config.Options

	rootCmd := &cobra.Command{
		Use:           "server",
		Short:         "Editing suite orchestrator",
		Long:          "Serves the desktop app API and supervises the Python transcription and chatbot services.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "YAML configuration overlay")
	rootCmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "Path to the .env file (default .env)")

	rootCmd.AddCommand(newCheckCommand(&opts))
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s (built %s)\n", Version, BuildTime)
		},
	})

	return rootCmd
}
