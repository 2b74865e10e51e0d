package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// newRootCmd builds the base command and its subcommands
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "splitlink",
		Short: "Adaptive BLE connection parameters for split keyboards",
		Long: `Manages the connection parameters of a split keyboard link:

- Low-latency parameters while keys or sensors are active
- Low-power parameters after a period of inactivity
- Immediate wake-up on the next key press

Use "params" to inspect the parameter profiles, "simulate" to run the state
machine against an in-memory link, and "config" to print the effective configuration.`,
		Version: formatVersion(version),
	}

	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("splitlink {{.Version}} (commit %s, built %s)\n", commit, date))

	rootCmd.AddCommand(newParamsCmd())
	rootCmd.AddCommand(newSimulateCmd())
	rootCmd.AddCommand(newConfigCmd())

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}
}
