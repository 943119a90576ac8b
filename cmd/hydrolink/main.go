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

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "hydrolink",
	Short: "Water-quality sensor BLE client",
	Long: `BLE client for the ESP32 water-quality sensor that provides:

- Scan for nearby sensor devices
- Connect and stream live TDS/vibration readings with automatic
  reassembly of fragmented notification payloads
- Request a single on-demand reading
- Track testing compliance locally

Readings are classified as Clean, Unsafe, or Extremely Unsafe from the
sensor's TDS measurement.`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(readCmd)

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("config", "", "Config file path (defaults to ~/.config/hydrolink/config.yaml)")
	rootCmd.PersistentFlags().Bool("simulate", false, "Use a simulated sensor instead of the BLE stack")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
