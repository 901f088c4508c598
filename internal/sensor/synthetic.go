package sensor

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// SyntheticConfig shapes the generated waveform. Frequency is the
// footfall rate in Hz (one peak/trough pair per cycle), so 2 Hz
// corresponds to 120 steps per minute.
type SyntheticConfig struct {
	Frequency float64       // cycles per second
	Amplitude float64       // peak acceleration, m/s^2
	Noise     float64       // uniform noise amplitude, 0 for deterministic output
	Period    time.Duration // virtual time advanced per Read
	Start     time.Time     // zero means time.Now()
	Seed      int64
}

// SyntheticSource produces a sinusoidal acceleration signal on a
// virtual clock: every Read advances time by one sampling period. That
// makes pipeline runs repeatable regardless of scheduling jitter.
type SyntheticSource struct {
	cfg SyntheticConfig

	mu      sync.Mutex
	now     time.Time
	elapsed time.Duration
	rng     *rand.Rand
}

// NewSyntheticSource creates a synthetic waveform source.
func NewSyntheticSource(cfg SyntheticConfig) *SyntheticSource {
	if cfg.Period <= 0 {
		cfg.Period = 20 * time.Millisecond
	}
	start := cfg.Start
	if start.IsZero() {
		start = time.Now()
	}
	return &SyntheticSource{
		cfg: cfg,
		now: start,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Read returns the next sample of the waveform. It never fails.
func (s *SyntheticSource) Read() (Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.elapsed.Seconds()
	value := s.cfg.Amplitude * math.Sin(2*math.Pi*s.cfg.Frequency*t)
	if s.cfg.Noise > 0 {
		value += (s.rng.Float64()*2 - 1) * s.cfg.Noise
	}

	sample := Sample{Value: value, Timestamp: s.now}
	s.now = s.now.Add(s.cfg.Period)
	s.elapsed += s.cfg.Period
	return sample, nil
}

// Close implements Source.
func (s *SyntheticSource) Close() error {
	return nil
}
