package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "vmlink",
	Short: "Drive an embedded guest VM from the command line",
	Long: `vmlink - exercise the embedding core against a WebAssembly guest.

The guest runs behind the same lifecycle and threading model a host
application would use: Direct mode calls it on the invoking thread,
Threaded mode hands it to a dedicated worker with a message queue.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(demoCmd)
}

// buildLogger returns a development logger when --verbose is set, a no-op
// logger otherwise.
func buildLogger(cmd *cobra.Command) *zap.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	if !verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
