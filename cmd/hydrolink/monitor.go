package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/avelasco/hydrolink/internal/reading"
	"github.com/avelasco/hydrolink/internal/session"
	"github.com/avelasco/hydrolink/internal/store"
	"github.com/avelasco/hydrolink/internal/transport"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor <address>",
	Short: "Stream live readings from a sensor",
	Long: `Connect to a sensor and stream live water-quality readings until
interrupted. Readings are recorded into the local test history for
compliance tracking.

With --simulate, no address is required; a simulated sensor is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMonitor,
}

var (
	monitorStorePath string
	monitorInterval  time.Duration
)

func init() {
	monitorCmd.Flags().StringVar(&monitorStorePath, "store", "", "Test-history store file (empty for in-memory)")
	monitorCmd.Flags().DurationVar(&monitorInterval, "sim-interval", time.Second, "Simulated notification interval")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	mgr, sim, cfg, logger, err := buildSession(cmd)
	if err != nil {
		return err
	}
	if sim == nil && len(args) == 0 {
		return fmt.Errorf("sensor address is required (or use --simulate)")
	}
	cmd.SilenceUsage = true

	var kv store.Store
	if monitorStorePath != "" {
		fs, err := store.NewFileStore(monitorStorePath)
		if err != nil {
			return err
		}
		kv = fs
	} else {
		kv = store.NewMemoryStore()
	}
	tracker, err := store.NewTracker(kv, nil, logger,
		cfg.Compliance.TestInterval, cfg.Compliance.VibrationThreshold)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	device := transport.DeviceHandle{Name: cfg.Sensor.DeviceID}
	if len(args) > 0 {
		device.ID = args[0]
	} else {
		device.ID = "AA:BB:CC:DD:EE:FF"
	}

	token := mgr.Subscribe(func(ev session.Event) {
		switch e := ev.(type) {
		case session.Disconnected:
			fmt.Printf("\nDisconnected: %s\n", e.Cause)
			cancel()
		case session.DataError:
			logger.WithField("raw", e.Raw).Warn("Dropped malformed message")
		}
	})
	defer mgr.Unsubscribe(token)

	if err := mgr.Connect(ctx, device); err != nil {
		return err
	}
	defer mgr.Disconnect()

	err = mgr.StartMonitoring(func(rd *reading.SensorReading) {
		printReading(rd)
		if rerr := tracker.Record(rd); rerr != nil {
			logger.WithField("error", rerr).Warn("Failed to record reading")
		}
	})
	if err != nil {
		return err
	}
	defer mgr.StopMonitoring()

	if sim != nil {
		sim.StartEmitting(ctx, monitorInterval)
	}

	fmt.Printf("Monitoring %s - press Ctrl+C to stop\n", device.ID)
	<-ctx.Done()

	if last, ok := tracker.LastTest(); ok {
		fmt.Printf("Last test recorded at %s\n", last.Format(time.RFC3339))
	}
	return nil
}

// printReading writes one colorized reading line; color is suppressed when
// stdout is not a terminal.
func printReading(rd *reading.SensorReading) {
	qualityColor := color.New(color.FgGreen)
	switch rd.Quality {
	case reading.QualityUnsafe:
		qualityColor = color.New(color.FgYellow)
	case reading.QualityExtremelyUnsafe:
		qualityColor = color.New(color.FgRed)
	case reading.QualityUnknown:
		qualityColor = color.New(color.FgWhite)
	}
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		qualityColor.DisableColor()
	}

	marker := ""
	if rd.Recovered {
		marker = " (recovered)"
	}
	fmt.Printf("%s  TDS %7.1f ppm  %s  vib %.2f  batt %3d%%%s\n",
		rd.ReceivedAt.Format("15:04:05"),
		rd.TDS,
		qualityColor.Sprintf("%-15s", string(rd.Quality)),
		rd.Vibration,
		rd.BatteryLevel,
		marker,
	)
}
