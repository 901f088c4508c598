package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/srg/strided/daemon"
	"github.com/srg/strided/motion"
	"github.com/srg/strided/peripheral"
	"github.com/srg/strided/pkg/config"
	"github.com/srg/strided/rsc"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the RSC sensor daemon",
	Long: `Run the full pipeline against real hardware: read accelerometer
samples from the configured serial port, detect strides, and broadcast
speed and cadence over BLE until interrupted.

Requires access to the HCI device, so it typically runs as root or
with CAP_NET_ADMIN.`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		logger.Info("Interrupt received, shutting down...")
		cancel()
	}()

	source, err := cfg.OpenSensor(logger)
	if err != nil {
		return fmt.Errorf("failed to open sample source: %w", err)
	}
	defer func() {
		if err := source.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close sample source")
		}
	}()

	stack, err := peripheral.NewGobleStack(logger)
	if err != nil {
		return err
	}

	d := daemon.New(
		cfg.DaemonConfig(),
		source,
		motion.NewDetector(cfg.DetectorConfig(), logger),
		motion.NewEstimator(cfg.EstimatorConfig()),
		rsc.NewMapper(cfg.RSCMapperConfig()),
		peripheral.New(stack, cfg.PeripheralConfig(), logger),
		logger,
	)

	return d.Run(ctx)
}
