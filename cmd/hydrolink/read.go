package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/avelasco/hydrolink/internal/transport"
)

// readCmd represents the read command
var readCmd = &cobra.Command{
	Use:   "read <address>",
	Short: "Request a single reading from a sensor",
	Long: `Connect to a sensor, read the current value once and print it as
JSON. With --simulate, no address is required.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRead,
}

var readJSON bool

func init() {
	readCmd.Flags().BoolVar(&readJSON, "json", false, "Print the raw normalized reading as JSON")
}

func runRead(cmd *cobra.Command, args []string) error {
	mgr, sim, cfg, _, err := buildSession(cmd)
	if err != nil {
		return err
	}
	if sim == nil && len(args) == 0 {
		return fmt.Errorf("sensor address is required (or use --simulate)")
	}
	cmd.SilenceUsage = true

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	device := transport.DeviceHandle{Name: cfg.Sensor.DeviceID}
	if len(args) > 0 {
		device.ID = args[0]
	} else {
		device.ID = "AA:BB:CC:DD:EE:FF"
	}

	if err := mgr.Connect(ctx, device); err != nil {
		return err
	}
	defer mgr.Disconnect()

	rd, err := mgr.RequestSingleReading(ctx)
	if err != nil {
		return err
	}

	if readJSON {
		out, err := json.MarshalIndent(rd, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("Device:    %s\n", rd.DeviceID)
	fmt.Printf("TDS:       %.1f ppm\n", rd.TDS)
	fmt.Printf("Quality:   %s\n", rd.Quality)
	fmt.Printf("Vibration: %.2f\n", rd.Vibration)
	fmt.Printf("Battery:   %d%%\n", rd.BatteryLevel)
	return nil
}
