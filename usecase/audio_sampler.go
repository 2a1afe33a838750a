package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/voicechat/domain/repositories"
	"github.com/satriahrh/voicechat/internal/audio"
)

const defaultFrameInterval = 33 * time.Millisecond

// AudioSamplerConfig configures an AudioSampler
type AudioSamplerConfig struct {
	FrameInterval time.Duration
	Smoothing     float64
}

// AudioSampler turns a live microphone stream into smoothed levels, one
// sample per frame, while capture is active.
type AudioSampler struct {
	mic      repositories.Microphone
	config   AudioSamplerConfig
	onLevels func(audio.Levels)
	logger   *zap.Logger

	// lifecycle serialises Start and Stop
	lifecycle sync.Mutex
	stream    repositories.AudioStream
	cancel    context.CancelFunc
	done      chan struct{}

	mu     sync.Mutex
	levels audio.Levels
}

// NewAudioSampler creates a new audio sampler. onLevels runs on the
// sampling goroutine and must not block.
func NewAudioSampler(mic repositories.Microphone, config AudioSamplerConfig, onLevels func(audio.Levels), logger *zap.Logger) *AudioSampler {
	if config.FrameInterval <= 0 {
		config.FrameInterval = defaultFrameInterval
	}
	if config.Smoothing <= 0 || config.Smoothing >= 1 {
		config.Smoothing = audio.SmoothingFactor
	}

	return &AudioSampler{
		mic:      mic,
		config:   config,
		onLevels: onLevels,
		logger:   logger,
	}
}

// Start acquires a microphone stream and begins sampling. Calling Start
// while sampling is a no-op.
func (s *AudioSampler) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.stream != nil {
		return nil
	}

	stream, err := s.mic.Open(ctx)
	if err != nil {
		return fmt.Errorf("failed to open microphone: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.stream = stream
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(loopCtx, stream, s.done)
	s.logger.Debug("Audio sampling started", zap.Duration("frameInterval", s.config.FrameInterval))
	return nil
}

// Stop releases the stream and resets all levels to zero
func (s *AudioSampler) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.stream == nil {
		return
	}

	s.cancel()
	<-s.done
	if err := s.stream.Close(); err != nil {
		s.logger.Warn("Failed to close audio stream", zap.Error(err))
	}
	s.stream = nil
	s.cancel = nil
	s.done = nil

	s.mu.Lock()
	s.levels = audio.Levels{}
	s.mu.Unlock()

	if s.onLevels != nil {
		s.onLevels(audio.Levels{})
	}
	s.logger.Debug("Audio sampling stopped")
}

// Levels returns the latest smoothed levels
func (s *AudioSampler) Levels() audio.Levels {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.levels
}

func (s *AudioSampler) run(ctx context.Context, stream repositories.AudioStream, done chan<- struct{}) {
	defer close(done)

	bins := stream.FrequencyBinCount()
	frequency := make([]uint8, bins)
	timeDomain := make([]uint8, bins*2)

	ticker := time.NewTicker(s.config.FrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		stream.ByteTimeDomainData(timeDomain)
		stream.ByteFrequencyData(frequency)
		raw := audio.Measure(timeDomain, frequency)

		s.mu.Lock()
		s.levels = s.levels.Smooth(raw, s.config.Smoothing)
		levels := s.levels
		s.mu.Unlock()

		if s.onLevels != nil {
			s.onLevels(levels)
		}
	}
}
