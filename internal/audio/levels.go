package audio

import "math"

const (
	// SmoothingFactor is the weight kept from the previous frame
	SmoothingFactor = 0.7
	// amplitudeGain scales the raw RMS so normal speech fills the range
	amplitudeGain = 3.0
)

// Levels is the audio-reactive signal published to the presentation layer.
// Every field is in [0,1].
type Levels struct {
	Amplitude float64 `json:"amplitude"`
	Bass      float64 `json:"bass"`
	Mid       float64 `json:"mid"`
	High      float64 `json:"high"`
}

// Measure computes raw levels from one analysed frame. timeDomain holds
// bytes centred on 128; frequency holds bin magnitudes in 0..255.
func Measure(timeDomain, frequency []uint8) Levels {
	return Levels{
		Amplitude: amplitude(timeDomain),
		Bass:      bandAverage(frequency, 0),
		Mid:       bandAverage(frequency, 1),
		High:      bandAverage(frequency, 2),
	}
}

// Smooth blends next into l, keeping factor of the previous value
func (l Levels) Smooth(next Levels, factor float64) Levels {
	blend := func(prev, cur float64) float64 {
		return prev*factor + cur*(1-factor)
	}
	return Levels{
		Amplitude: blend(l.Amplitude, next.Amplitude),
		Bass:      blend(l.Bass, next.Bass),
		Mid:       blend(l.Mid, next.Mid),
		High:      blend(l.High, next.High),
	}
}

// IsZero reports whether all levels are zero
func (l Levels) IsZero() bool {
	return l == Levels{}
}

func amplitude(timeDomain []uint8) float64 {
	if len(timeDomain) == 0 {
		return 0
	}
	var sum float64
	for _, v := range timeDomain {
		sample := (float64(v) - 128) / 128
		sum += sample * sample
	}
	rms := math.Sqrt(sum / float64(len(timeDomain)))
	return math.Min(rms*amplitudeGain, 1)
}

// bandAverage averages one third of the spectrum. The last band absorbs
// the remainder bins.
func bandAverage(frequency []uint8, band int) float64 {
	third := len(frequency) / 3
	if third == 0 {
		return 0
	}
	start := band * third
	end := start + third
	if band == 2 {
		end = len(frequency)
	}

	var sum float64
	for _, v := range frequency[start:end] {
		sum += float64(v)
	}
	return sum / float64(end-start) / 255
}
