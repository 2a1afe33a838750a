package microphone

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/voicechat/domain/repositories"
	"github.com/satriahrh/voicechat/internal/audio"
)

const frameBuffer = 32

// ErrMicrophoneUnavailable is returned by Open after the device reported
// that it cannot capture audio
var ErrMicrophoneUnavailable = errors.New("microphone unavailable")

// DeviceMicrophone is the remote device's microphone, fed by the PCM frames
// it relays. Every Open creates an analyser over the live frames.
type DeviceMicrophone struct {
	bus     *PCMBus
	fftSize int
	logger  *zap.Logger

	mu        sync.Mutex
	available bool
	reason    string
}

// NewDeviceMicrophone creates a new device microphone. The device is assumed
// available until it reports otherwise.
func NewDeviceMicrophone(bus *PCMBus, fftSize int, logger *zap.Logger) *DeviceMicrophone {
	if fftSize <= 0 {
		fftSize = audio.DefaultFFTSize
	}

	return &DeviceMicrophone{
		bus:       bus,
		fftSize:   fftSize,
		logger:    logger,
		available: true,
	}
}

// SetStatus records what the device reported about its microphone
func (m *DeviceMicrophone) SetStatus(available bool, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.available = available
	m.reason = reason
	m.logger.Info("Microphone status updated",
		zap.Bool("available", available),
		zap.String("reason", reason))
}

// Open implements repositories.Microphone
func (m *DeviceMicrophone) Open(ctx context.Context) (repositories.AudioStream, error) {
	m.mu.Lock()
	available, reason := m.available, m.reason
	m.mu.Unlock()

	if !available {
		if reason == "" {
			return nil, ErrMicrophoneUnavailable
		}
		return nil, fmt.Errorf("%w: %s", ErrMicrophoneUnavailable, reason)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	frames, unsubscribe := m.bus.Subscribe(frameBuffer)
	stream := &deviceStream{
		analyser:    audio.NewAnalyser(m.fftSize),
		unsubscribe: unsubscribe,
		done:        make(chan struct{}),
	}
	go stream.feed(frames)

	return stream, nil
}

// deviceStream analyses frames from one bus subscription
type deviceStream struct {
	analyser    *audio.Analyser
	unsubscribe func()
	done        chan struct{}
	closeOnce   sync.Once
}

func (s *deviceStream) feed(frames <-chan []byte) {
	defer close(s.done)
	for frame := range frames {
		s.analyser.WritePCM16(frame)
	}
}

func (s *deviceStream) FrequencyBinCount() int {
	return s.analyser.FrequencyBinCount()
}

func (s *deviceStream) ByteFrequencyData(dst []uint8) {
	s.analyser.ByteFrequencyData(dst)
}

func (s *deviceStream) ByteTimeDomainData(dst []uint8) {
	s.analyser.ByteTimeDomainData(dst)
}

func (s *deviceStream) Close() error {
	s.closeOnce.Do(func() {
		s.unsubscribe()
		<-s.done
	})
	return nil
}
