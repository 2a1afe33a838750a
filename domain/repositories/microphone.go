package repositories

import "context"

// Microphone hands out live audio streams for visualisation
type Microphone interface {
	Open(ctx context.Context) (AudioStream, error)
}

// AudioStream exposes the latest analysed frame of a live signal. Byte
// values follow the analyser convention: time-domain samples are centred
// on 128, frequency bins are scaled to 0..255.
type AudioStream interface {
	FrequencyBinCount() int
	ByteFrequencyData(dst []uint8)
	ByteTimeDomainData(dst []uint8)
	Close() error
}
