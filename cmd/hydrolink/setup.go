package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/avelasco/hydrolink/internal/config"
	"github.com/avelasco/hydrolink/internal/session"
	"github.com/avelasco/hydrolink/internal/transport"
)

// buildSession assembles config, logger, transport, and session manager from
// the command's flags. Returns the sim transport as well when --simulate is
// set so commands can drive it.
func buildSession(cmd *cobra.Command) (*session.Manager, *transport.SimTransport, *config.Config, *logrus.Logger, error) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	logger, err := configureLogger(cmd, cfg.LogLevel)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	simulate, _ := cmd.Flags().GetBool("simulate")
	if simulate {
		sim := transport.NewSimTransport(logger)
		sim.SetAdvertisements(transport.Advertisement{
			DeviceHandle: transport.DeviceHandle{
				ID:   "AA:BB:CC:DD:EE:FF",
				Name: cfg.Sensor.DeviceID,
				RSSI: -48,
			},
			ServiceUUIDs: []string{transport.NormalizeUUID(cfg.Sensor.ServiceUUID)},
		})
		return session.NewManager(cfg, sim, logger), sim, cfg, logger, nil
	}

	tr := transport.NewBLETransport(cfg.Sensor.ServiceUUID, cfg.Sensor.CharacteristicUUID, logger)
	return session.NewManager(cfg, tr, logger), nil, cfg, logger, nil
}
