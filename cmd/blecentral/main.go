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

// newRootCmd builds the command tree. Commands are built per invocation so
// flag state never leaks between runs.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "blecentral",
		Short: "Bluetooth Low Energy central session tool",
		Long: `Bluetooth Low Energy (BLE) central-role session tool:

- Scan and discover nearby BLE peripherals
- Connect to a peripheral and subscribe to characteristic notifications
- Print received payloads until interrupted (Ctrl+C)`,
		Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),

		// Silence Cobra's "Error:" prefix - main() prints clean errors
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newMonitorCmd())

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolP("verbose", "V", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("config", "", "Path to YAML configuration file")

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
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
