package audio

import (
	"math"
	"testing"
)

func TestMeasureSilence(t *testing.T) {
	timeDomain := make([]uint8, 256)
	for i := range timeDomain {
		timeDomain[i] = 128
	}
	frequency := make([]uint8, 128)

	levels := Measure(timeDomain, frequency)
	if !levels.IsZero() {
		t.Errorf("Expected zero levels for silence, got %+v", levels)
	}
}

func TestMeasureAmplitudeClamped(t *testing.T) {
	timeDomain := make([]uint8, 256)
	for i := range timeDomain {
		if i%2 == 0 {
			timeDomain[i] = 255
		} else {
			timeDomain[i] = 0
		}
	}

	levels := Measure(timeDomain, nil)
	if levels.Amplitude != 1 {
		t.Errorf("Expected amplitude clamped to 1, got %f", levels.Amplitude)
	}
}

func TestMeasureAmplitudeScaled(t *testing.T) {
	// constant offset of 16 gives rms 0.125, scaled by 3
	timeDomain := make([]uint8, 64)
	for i := range timeDomain {
		timeDomain[i] = 144
	}

	levels := Measure(timeDomain, nil)
	if math.Abs(levels.Amplitude-0.375) > 1e-9 {
		t.Errorf("Expected amplitude 0.375, got %f", levels.Amplitude)
	}
}

func TestMeasureBands(t *testing.T) {
	frequency := make([]uint8, 128)
	for i := range frequency {
		switch {
		case i < 42:
			frequency[i] = 255
		case i < 84:
			frequency[i] = 51
		default:
			frequency[i] = 0
		}
	}

	levels := Measure(nil, frequency)
	if levels.Bass != 1 {
		t.Errorf("Expected bass 1, got %f", levels.Bass)
	}
	if math.Abs(levels.Mid-0.2) > 1e-9 {
		t.Errorf("Expected mid 0.2, got %f", levels.Mid)
	}
	if levels.High != 0 {
		t.Errorf("Expected high 0, got %f", levels.High)
	}
}

func TestLevelsSmooth(t *testing.T) {
	prev := Levels{Amplitude: 1}
	next := Levels{Amplitude: 0, Bass: 1}

	got := prev.Smooth(next, SmoothingFactor)
	if math.Abs(got.Amplitude-0.7) > 1e-9 {
		t.Errorf("Expected amplitude 0.7, got %f", got.Amplitude)
	}
	if math.Abs(got.Bass-0.3) > 1e-9 {
		t.Errorf("Expected bass 0.3, got %f", got.Bass)
	}
}
