package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/avelasco/hydrolink/internal/transport"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for water sensors",
	Long: `Scan for nearby water-quality sensors and display their addresses,
names, and signal strength. Devices are matched by name (esp32, water,
xiao, seeed) or by the advertised sensor service UUID.`,
	RunE: runScan,
}

var scanDuration time.Duration

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (0 uses the configured window)")
}

func runScan(cmd *cobra.Command, args []string) error {
	mgr, _, cfg, _, err := buildSession(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	if scanDuration > 0 {
		cfg.Session.ScanWindow = scanDuration
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tNAME\tRSSI")

	found := 0
	err = mgr.Scan(ctx, func(dev transport.DeviceHandle) {
		found++
		name := dev.Name
		if name == "" {
			name = "(unknown)"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\n", dev.ID, name, dev.RSSI)
		w.Flush()
	})
	if err != nil {
		return err
	}

	if found == 0 {
		fmt.Println("No sensors found.")
	}
	return nil
}
