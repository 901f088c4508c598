package sensor

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// Frame is one sensor-board report: a sequence counter, the board
// uptime in milliseconds and the acceleration along the mounted axis.
// The board appends "\r\n" after every frame so the reader can resync
// mid-stream.
type Frame struct {
	Seq    uint32
	Millis uint32
	Value  float32
}

const (
	framePayloadSize = 12 // Seq + Millis + Value, little-endian
	frameSize        = framePayloadSize + 2
)

var frameStop = [2]byte{'\r', '\n'}

// DefaultBaudRate matches the sensor-board firmware.
const DefaultBaudRate = 115200

// SerialSource reads acceleration frames from a serial link in a
// background goroutine and keeps only the latest sample. Read never
// touches the wire, so a wedged port cannot stall the sampling loop.
type SerialSource struct {
	stream io.ReadCloser
	logger *logrus.Logger

	staleness time.Duration

	mu      sync.Mutex
	last    Sample
	haveOne bool
	lastSeq uint32

	cancel context.CancelFunc
	done   chan struct{}
}

// Open opens the serial port and starts the frame reader. An open
// failure is fatal to the caller: without a sensor there is nothing to
// serve.
func Open(port string, baud int, staleness time.Duration, logger *logrus.Logger) (*SerialSource, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}

	mode := &serial.Mode{BaudRate: baud}
	p, err := serial.Open(port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open sensor port %q: %w", port, err)
	}
	if err := p.SetReadTimeout(100 * time.Millisecond); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("failed to configure sensor port %q: %w", port, err)
	}

	logger.WithFields(logrus.Fields{
		"port": port,
		"baud": baud,
	}).Info("Sensor port opened")

	return NewSerialSource(p, staleness, logger), nil
}

// NewSerialSource wraps an already-open frame stream. Open is the
// production path; tests feed a pre-recorded stream.
func NewSerialSource(stream io.ReadCloser, staleness time.Duration, logger *logrus.Logger) *SerialSource {
	if logger == nil {
		logger = logrus.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &SerialSource{
		stream:    stream,
		logger:    logger,
		staleness: staleness,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	go s.readLoop(ctx)
	return s
}

// Read returns the latest decoded sample. It returns a ReadError
// wrapping ErrNoSample before the first frame arrives, and one wrapping
// ErrStale once frames stop flowing for longer than the staleness
// limit.
func (s *SerialSource) Read() (Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.haveOne {
		return Sample{}, &ReadError{Err: ErrNoSample}
	}
	if s.staleness > 0 && time.Since(s.last.Timestamp) > s.staleness {
		return Sample{}, &ReadError{Err: fmt.Errorf("%w: last frame %s ago", ErrStale, time.Since(s.last.Timestamp).Round(time.Millisecond))}
	}
	return s.last, nil
}

// Close stops the reader and closes the underlying stream.
func (s *SerialSource) Close() error {
	s.cancel()
	err := s.stream.Close()
	<-s.done
	return err
}

func (s *SerialSource) readLoop(ctx context.Context) {
	defer close(s.done)

	buf := make([]byte, frameSize)
	synced := false

	for ctx.Err() == nil {
		if !synced {
			if err := s.resync(ctx); err != nil {
				return
			}
			synced = true
		}

		if err := s.fill(ctx, buf); err != nil {
			return
		}

		frame, err := decodeFrame(buf)
		if err != nil {
			s.logger.WithField("error", err).Warn("Bad sensor frame, resyncing")
			synced = false
			continue
		}

		if s.lastSeq != 0 && frame.Seq != s.lastSeq+1 {
			s.logger.WithFields(logrus.Fields{
				"expected": s.lastSeq + 1,
				"got":      frame.Seq,
			}).Debug("Sensor frame gap")
		}

		s.mu.Lock()
		s.last = Sample{Value: float64(frame.Value), Timestamp: time.Now()}
		s.haveOne = true
		s.lastSeq = frame.Seq
		s.mu.Unlock()
	}
}

// resync discards bytes until the end of the current frame.
func (s *SerialSource) resync(ctx context.Context) error {
	one := make([]byte, 1)
	for ctx.Err() == nil {
		n, err := s.stream.Read(one)
		if err != nil {
			return err
		}
		if n == 1 && one[0] == '\n' {
			return nil
		}
	}
	return ctx.Err()
}

// fill reads exactly len(buf) bytes, tolerating short reads from the
// port's read timeout.
func (s *SerialSource) fill(ctx context.Context, buf []byte) error {
	count := 0
	for count < len(buf) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := s.stream.Read(buf[count:])
		if err != nil {
			return err
		}
		count += n
	}
	return nil
}

func decodeFrame(raw []byte) (Frame, error) {
	var frame Frame
	if len(raw) != frameSize {
		return frame, fmt.Errorf("frame is %d bytes, want %d", len(raw), frameSize)
	}
	if raw[framePayloadSize] != frameStop[0] || raw[framePayloadSize+1] != frameStop[1] {
		return frame, fmt.Errorf("missing frame terminator")
	}
	if err := binary.Read(bytes.NewReader(raw[:framePayloadSize]), binary.LittleEndian, &frame); err != nil {
		return frame, err
	}
	return frame, nil
}
