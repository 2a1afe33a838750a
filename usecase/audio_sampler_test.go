package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/voicechat/internal/audio"
)

func TestAudioSamplerProducesLevels(t *testing.T) {
	mic := &fakeMicrophone{}
	var mu sync.Mutex
	var updates []audio.Levels
	sampler := NewAudioSampler(mic, AudioSamplerConfig{FrameInterval: 2 * time.Millisecond}, func(levels audio.Levels) {
		mu.Lock()
		updates = append(updates, levels)
		mu.Unlock()
	}, zaptest.NewLogger(t))

	if err := sampler.Start(context.Background()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	waitFor(t, time.Second, func() bool { return sampler.Levels().Amplitude > 0.5 }, "amplitude to rise")

	levels := sampler.Levels()
	if levels.Amplitude > 1 {
		t.Errorf("Expected amplitude to be clamped to 1, got %v", levels.Amplitude)
	}
	if levels.Bass <= 0 || levels.Mid <= 0 || levels.High <= 0 {
		t.Errorf("Expected every band to rise, got %+v", levels)
	}

	sampler.Stop()

	if !sampler.Levels().IsZero() {
		t.Errorf("Expected levels to reset, got %+v", sampler.Levels())
	}
	if mic.closeCount() != 1 {
		t.Errorf("Expected stream to be closed once, got %d", mic.closeCount())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(updates) == 0 || !updates[len(updates)-1].IsZero() {
		t.Error("Expected a final zero update after stop")
	}
}

func TestAudioSamplerSmoothsTowardsTarget(t *testing.T) {
	mic := &fakeMicrophone{}
	var mu sync.Mutex
	var amplitudes []float64
	sampler := NewAudioSampler(mic, AudioSamplerConfig{FrameInterval: 2 * time.Millisecond}, func(levels audio.Levels) {
		mu.Lock()
		amplitudes = append(amplitudes, levels.Amplitude)
		mu.Unlock()
	}, zaptest.NewLogger(t))

	if err := sampler.Start(context.Background()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(amplitudes) >= 3
	}, "three frames")
	sampler.Stop()

	mu.Lock()
	defer mu.Unlock()
	// a constant input approaches its target geometrically
	if amplitudes[0] >= amplitudes[1] || amplitudes[1] >= amplitudes[2] {
		t.Errorf("Expected rising amplitudes, got %v", amplitudes[:3])
	}
	if amplitudes[0] > 0.31 {
		t.Errorf("Expected first frame to move only 30%% of the way, got %v", amplitudes[0])
	}
}

func TestAudioSamplerOpenFailure(t *testing.T) {
	mic := &fakeMicrophone{err: errFakeMicrophone}
	sampler := NewAudioSampler(mic, AudioSamplerConfig{}, nil, zaptest.NewLogger(t))

	err := sampler.Start(context.Background())
	if !errors.Is(err, errFakeMicrophone) {
		t.Errorf("Expected wrapped microphone error, got %v", err)
	}

	// stopping a sampler that never started is a no-op
	sampler.Stop()
}

func TestAudioSamplerStartTwice(t *testing.T) {
	mic := &fakeMicrophone{}
	sampler := NewAudioSampler(mic, AudioSamplerConfig{FrameInterval: time.Millisecond}, nil, zaptest.NewLogger(t))

	if err := sampler.Start(context.Background()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if err := sampler.Start(context.Background()); err != nil {
		t.Fatalf("Expected second start to be a no-op, got %v", err)
	}
	sampler.Stop()
	sampler.Stop()

	if mic.closeCount() != 1 {
		t.Errorf("Expected a single stream, got %d closes", mic.closeCount())
	}
}
