package rsc

import (
	"encoding/binary"
	"fmt"
)

// RSC Measurement flags. Stride length and total distance are never
// reported by this device; the walking/running bit is always set to
// running.
const (
	flagStrideLengthPresent  = 0x01
	flagTotalDistancePresent = 0x02
	flagRunning              = 0x04
)

// MeasurementSize is the wire size of an RSC Measurement payload
// without optional fields.
const MeasurementSize = 4

// SpeedScale converts meters per second to the characteristic's
// 1/256 m/s fixed-point unit.
const SpeedScale = 256

// Measurement is one RSC Measurement value: instantaneous speed in
// 1/256 m/s and instantaneous cadence in steps per minute. Immutable
// once produced.
type Measurement struct {
	Speed   uint16
	Cadence uint8
}

// SpeedMetersPerSecond returns the speed in m/s.
func (m Measurement) SpeedMetersPerSecond() float64 {
	return float64(m.Speed) / SpeedScale
}

// Encode serializes the measurement into the RSC Measurement
// characteristic layout: flags, little-endian speed, cadence.
func (m Measurement) Encode() []byte {
	payload := make([]byte, MeasurementSize)
	payload[0] = flagRunning
	binary.LittleEndian.PutUint16(payload[1:3], m.Speed)
	payload[3] = m.Cadence
	return payload
}

// Decode parses an RSC Measurement payload produced by Encode. It
// rejects payloads carrying optional fields this device never emits.
func Decode(payload []byte) (Measurement, error) {
	if len(payload) != MeasurementSize {
		return Measurement{}, fmt.Errorf("RSC measurement is %d bytes, want %d", len(payload), MeasurementSize)
	}
	if payload[0]&(flagStrideLengthPresent|flagTotalDistancePresent) != 0 {
		return Measurement{}, fmt.Errorf("unsupported RSC measurement flags 0x%02x", payload[0])
	}
	return Measurement{
		Speed:   binary.LittleEndian.Uint16(payload[1:3]),
		Cadence: payload[3],
	}, nil
}
