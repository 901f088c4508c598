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

	"github.com/srg/strided/internal/sensor"
	"github.com/srg/strided/motion"
	"github.com/srg/strided/pkg/config"
	"github.com/srg/strided/rsc"
)

// simulateCmd represents the simulate command
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the pipeline on a synthetic waveform",
	Long: `Run the stride detection pipeline against a generated accelerometer
waveform and print the resulting cadence and speed live. No BLE
hardware or serial sensor is required.

Useful for tuning detector thresholds: the waveform frequency in Hz
corresponds to strides per second, so 2 Hz should converge on a
machine cadence of 120.

Examples:
  # Two strides per second for ten seconds
  strided simulate --frequency 2 --duration 10s

  # A noisy, slower stride
  strided simulate --frequency 1.5 --noise 1.0`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

var (
	simulateDuration  time.Duration
	simulateFrequency float64
	simulateAmplitude float64
	simulateNoise     float64
)

const simulateReportInterval = 250 * time.Millisecond

func init() {
	simulateCmd.Flags().DurationVarP(&simulateDuration, "duration", "d", 10*time.Second, "Simulation length (0 for indefinite)")
	simulateCmd.Flags().Float64VarP(&simulateFrequency, "frequency", "f", 2, "Stride frequency in Hz")
	simulateCmd.Flags().Float64VarP(&simulateAmplitude, "amplitude", "a", 8, "Peak acceleration in m/s^2")
	simulateCmd.Flags().Float64VarP(&simulateNoise, "noise", "n", 0, "Uniform noise amplitude in m/s^2")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	if simulateFrequency <= 0 {
		return fmt.Errorf("frequency must be positive, got %v", simulateFrequency)
	}
	if simulateAmplitude <= 0 {
		return fmt.Errorf("amplitude must be positive, got %v", simulateAmplitude)
	}

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

	baseCtx := cmd.Context()
	if simulateDuration > 0 {
		var cancel context.CancelFunc
		baseCtx, cancel = context.WithTimeout(baseCtx, simulateDuration)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nCtrl+C pressed, stopping simulation...")
		cancel()
	}()

	source := sensor.NewSyntheticSource(sensor.SyntheticConfig{
		Frequency: simulateFrequency,
		Amplitude: simulateAmplitude,
		Noise:     simulateNoise,
		Period:    cfg.SamplePeriod.Std(),
		Seed:      time.Now().UnixNano(),
	})
	detector := motion.NewDetector(cfg.DetectorConfig(), logger)
	estimator := motion.NewEstimator(cfg.EstimatorConfig())
	mapper := rsc.NewMapper(cfg.RSCMapperConfig())

	heading := color.New(color.FgCyan, color.Bold)
	stepMark := color.New(color.FgGreen)
	heading.Printf("Simulating %.1f Hz strides (amplitude %.1f m/s^2, noise %.1f)\n",
		simulateFrequency, simulateAmplitude, simulateNoise)

	sampleTicker := time.NewTicker(cfg.SamplePeriod.Std())
	defer sampleTicker.Stop()
	reportTicker := time.NewTicker(simulateReportInterval)
	defer reportTicker.Stop()

	var (
		steps   int
		cadence int
		last    time.Time
	)

	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			m := mapper.Map(cadence)
			heading.Printf("Done: %d steps, final cadence %d spm, speed %.2f m/s\n",
				steps, int(m.Cadence), m.SpeedMetersPerSecond())
			return nil

		case <-sampleTicker.C:
			sample, err := source.Read()
			if err != nil {
				return err
			}
			last = sample.Timestamp
			if event, ok := detector.Observe(sample); ok {
				steps++
				cadence = estimator.OnStep(event)
				stepMark.Printf("step %-4d", steps)
				fmt.Printf(" at %s\n", event.Timestamp.Format("15:04:05.000"))
			} else {
				cadence = estimator.Tick(sample.Timestamp)
			}

		case <-reportTicker.C:
			m := mapper.Map(cadence)
			fmt.Printf("\rcadence %3d spm  speed %5.2f m/s  (%s)",
				int(m.Cadence), m.SpeedMetersPerSecond(), last.Format("15:04:05.000"))
		}
	}
}
