// Package sensor abstracts the accelerometer feeding the step pipeline.
//
// The daemon polls a Source once per sampling period. The production
// implementation reads binary frames from the sensor board over a
// serial link; a synthetic implementation generates a deterministic
// waveform for the simulate command and for tests.
package sensor

import (
	"errors"
	"fmt"
	"time"
)

// Sample is a single accelerometer reading along the configured axis.
type Sample struct {
	Value     float64
	Timestamp time.Time
}

// Source produces acceleration samples.
type Source interface {
	// Read returns the most recent sample. It never blocks on I/O.
	Read() (Sample, error)
	Close() error
}

// Sentinel causes for ReadError.
var (
	// ErrNoSample indicates that no frame has arrived yet.
	ErrNoSample = errors.New("no sample received yet")
	// ErrStale indicates that the last frame is older than the
	// configured staleness limit (sensor likely disconnected).
	ErrStale = errors.New("sample is stale")
)

// ReadError represents a transient acquisition failure. The daemon
// skips the tick on a ReadError and escalates only after a run of
// consecutive failures.
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("sensor read: %v", e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}
