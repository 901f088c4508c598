package rsc

import "math"

// MapperConfig holds the cadence-to-speed mapping parameters. The
// defaults equate 120 steps per minute with a 6-minute-mile pace and
// derive the reported running cadence from the machine cadence the
// way commercial ellipticals do.
type MapperConfig struct {
	// ReferenceCadence is the machine cadence (strides per minute)
	// that maps to ReferenceSpeed.
	ReferenceCadence int

	// ReferenceSpeed is the speed in m/s reported at
	// ReferenceCadence. 4.4704 m/s is a 6-minute mile.
	ReferenceSpeed float64

	// EquivalentBase and EquivalentSlope convert machine cadence to
	// the equivalent running cadence reported over RSC:
	// round(base + slope * cadence).
	EquivalentBase  float64
	EquivalentSlope float64
}

// DefaultMapperConfig returns the stock mapping parameters.
func DefaultMapperConfig() MapperConfig {
	return MapperConfig{
		ReferenceCadence: 120,
		ReferenceSpeed:   4.4704,
		EquivalentBase:   20,
		EquivalentSlope:  8.0 / 6.0,
	}
}

// Mapper converts a machine cadence into an RSC measurement. It is a
// pure value type and safe to copy.
type Mapper struct {
	cfg MapperConfig
}

// NewMapper returns a Mapper for the given parameters.
func NewMapper(cfg MapperConfig) Mapper {
	return Mapper{cfg: cfg}
}

// Map converts cadence in strides per minute to a measurement. Zero
// cadence always maps to a zero measurement so a stopped machine
// reports as stopped.
func (m Mapper) Map(cadence int) Measurement {
	if cadence <= 0 {
		return Measurement{}
	}

	speed := m.cfg.ReferenceSpeed * float64(cadence) / float64(m.cfg.ReferenceCadence)
	equivalent := math.Round(m.cfg.EquivalentBase + m.cfg.EquivalentSlope*float64(cadence))

	return Measurement{
		Speed:   clampUint16(math.Round(speed * SpeedScale)),
		Cadence: clampUint8(equivalent),
	}
}

func clampUint16(v float64) uint16 {
	if v < 0 {
		return 0
	}
	if v > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(v)
}

func clampUint8(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > math.MaxUint8 {
		return math.MaxUint8
	}
	return uint8(v)
}
