// Package config holds the daemon configuration: defaults, YAML
// overlay and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/strided/daemon"
	"github.com/srg/strided/internal/sensor"
	"github.com/srg/strided/motion"
	"github.com/srg/strided/peripheral"
	"github.com/srg/strided/rsc"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "250ms" or "5s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// SensorConfig selects and tunes the sample source.
type SensorConfig struct {
	Port         string   `yaml:"port" default:"/dev/ttyACM0"`
	BaudRate     int      `yaml:"baud_rate" default:"115200"`
	Staleness    Duration `yaml:"staleness"`     // max sample age before reads fail
	FailureLimit int      `yaml:"failure_limit"` // consecutive read failures before shutdown
}

// DetectorConfig tunes step detection.
type DetectorConfig struct {
	RiseThreshold float64  `yaml:"rise_threshold" default:"3"`
	FallThreshold float64  `yaml:"fall_threshold" default:"3"`
	Refractory    Duration `yaml:"refractory"`
	BaselineAlpha float64  `yaml:"baseline_alpha" default:"0.05"`
}

// CadenceConfig tunes the cadence estimator.
type CadenceConfig struct {
	Horizon Duration `yaml:"horizon"` // sliding window length
}

// MapperConfig tunes the cadence-to-speed mapping.
type MapperConfig struct {
	ReferenceCadence int     `yaml:"reference_cadence" default:"120"`
	ReferenceSpeed   float64 `yaml:"reference_speed" default:"4.4704"` // m/s at reference cadence
	EquivalentBase   float64 `yaml:"equivalent_base" default:"20"`
	EquivalentSlope  float64 `yaml:"equivalent_slope" default:"1.3333333333333333"`
}

// AdvertisingConfig tunes the advertise supervisor.
type AdvertisingConfig struct {
	Retries int      `yaml:"retries" default:"5"`
	Backoff Duration `yaml:"backoff"`
}

// NotifyConfig tunes notification fan-out.
type NotifyConfig struct {
	QueueDepth   int      `yaml:"queue_depth" default:"8"`
	DrainTimeout Duration `yaml:"drain_timeout"`
}

// Config holds the full daemon configuration.
type Config struct {
	DeviceName   string   `yaml:"device_name" default:"Treadmill Pi"`
	LogLevel     string   `yaml:"log_level" default:"info"`
	SamplePeriod Duration `yaml:"sample_period"`

	Sensor      SensorConfig      `yaml:"sensor"`
	Detector    DetectorConfig    `yaml:"detector"`
	Cadence     CadenceConfig     `yaml:"cadence"`
	Mapper      MapperConfig      `yaml:"mapper"`
	Advertising AdvertisingConfig `yaml:"advertising"`
	Notify      NotifyConfig      `yaml:"notify"`
}

// DefaultConfig returns a fully populated configuration. Scalar
// defaults come from struct tags; durations are set here because they
// are YAML strings, not numbers.
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)

	cfg.SamplePeriod = Duration(daemon.DefaultSamplePeriod)
	cfg.Sensor.Staleness = Duration(time.Second)
	cfg.Sensor.FailureLimit = daemon.DefaultSensorFailureLimit
	cfg.Detector.Refractory = Duration(250 * time.Millisecond)
	cfg.Cadence.Horizon = Duration(5 * time.Second)
	cfg.Advertising.Backoff = Duration(peripheral.DefaultAdvertiseBackoff)
	cfg.Notify.DrainTimeout = Duration(peripheral.DefaultDrainTimeout)

	return cfg
}

// Load reads YAML from path over the defaults and validates the
// result. An empty path returns the validated defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the pipeline cannot run with. All problems
// are reported at once.
func (c *Config) Validate() error {
	var problems []string

	if c.DeviceName == "" {
		problems = append(problems, "device_name must not be empty")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, fmt.Sprintf("log_level %q is not a valid level", c.LogLevel))
	}
	if c.SamplePeriod <= 0 {
		problems = append(problems, "sample_period must be positive")
	}
	if c.Sensor.BaudRate <= 0 {
		problems = append(problems, "sensor.baud_rate must be positive")
	}
	if c.Sensor.Staleness <= 0 {
		problems = append(problems, "sensor.staleness must be positive")
	}
	if c.Sensor.FailureLimit <= 0 {
		problems = append(problems, "sensor.failure_limit must be positive")
	}
	if c.Detector.RiseThreshold <= 0 || c.Detector.FallThreshold <= 0 {
		problems = append(problems, "detector thresholds must be positive")
	}
	if c.Detector.Refractory <= 0 {
		problems = append(problems, "detector.refractory must be positive")
	}
	if c.Detector.BaselineAlpha <= 0 || c.Detector.BaselineAlpha >= 1 {
		problems = append(problems, "detector.baseline_alpha must be in (0, 1)")
	}
	if c.Cadence.Horizon <= 0 {
		problems = append(problems, "cadence.horizon must be positive")
	}
	if c.Mapper.ReferenceCadence <= 0 {
		problems = append(problems, "mapper.reference_cadence must be positive")
	}
	if c.Mapper.ReferenceSpeed <= 0 {
		problems = append(problems, "mapper.reference_speed must be positive")
	}
	if c.Advertising.Retries <= 0 {
		problems = append(problems, "advertising.retries must be positive")
	}
	if c.Advertising.Backoff <= 0 {
		problems = append(problems, "advertising.backoff must be positive")
	}
	if c.Notify.QueueDepth <= 0 {
		problems = append(problems, "notify.queue_depth must be positive")
	}
	if c.Notify.DrainTimeout <= 0 {
		problems = append(problems, "notify.drain_timeout must be positive")
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}

// NewLogger creates a logger configured per LogLevel. Validate must
// have passed.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// DaemonConfig converts to the daemon's loop configuration.
func (c *Config) DaemonConfig() daemon.Config {
	return daemon.Config{
		SamplePeriod:       c.SamplePeriod.Std(),
		SensorFailureLimit: c.Sensor.FailureLimit,
	}
}

// DetectorConfig converts to the step detector configuration.
func (c *Config) DetectorConfig() motion.DetectorConfig {
	return motion.DetectorConfig{
		RiseThreshold: c.Detector.RiseThreshold,
		FallThreshold: c.Detector.FallThreshold,
		Refractory:    c.Detector.Refractory.Std(),
		BaselineAlpha: c.Detector.BaselineAlpha,
	}
}

// EstimatorConfig converts to the cadence estimator configuration.
func (c *Config) EstimatorConfig() motion.EstimatorConfig {
	return motion.EstimatorConfig{Horizon: c.Cadence.Horizon.Std()}
}

// RSCMapperConfig converts to the speed mapping configuration.
func (c *Config) RSCMapperConfig() rsc.MapperConfig {
	return rsc.MapperConfig{
		ReferenceCadence: c.Mapper.ReferenceCadence,
		ReferenceSpeed:   c.Mapper.ReferenceSpeed,
		EquivalentBase:   c.Mapper.EquivalentBase,
		EquivalentSlope:  c.Mapper.EquivalentSlope,
	}
}

// PeripheralConfig converts to the GATT peripheral configuration.
func (c *Config) PeripheralConfig() peripheral.Config {
	return peripheral.Config{
		DeviceName:       c.DeviceName,
		AdvertiseRetries: c.Advertising.Retries,
		AdvertiseBackoff: c.Advertising.Backoff.Std(),
		QueueDepth:       c.Notify.QueueDepth,
		DrainTimeout:     c.Notify.DrainTimeout.Std(),
	}
}

// OpenSensor opens the configured serial sample source.
func (c *Config) OpenSensor(logger *logrus.Logger) (sensor.Source, error) {
	return sensor.Open(c.Sensor.Port, c.Sensor.BaudRate, c.Sensor.Staleness.Std(), logger)
}
