package microphone

import (
	"sync"

	"go.uber.org/zap"
)

// PCMBus fans microphone frames out to every subscriber. Publish never
// blocks: a subscriber that falls behind loses frames.
type PCMBus struct {
	logger *zap.Logger

	mu      sync.Mutex
	subs    map[uint64]chan []byte
	next    uint64
	closed  bool
	dropped int
}

// NewPCMBus creates a new PCM bus
func NewPCMBus(logger *zap.Logger) *PCMBus {
	return &PCMBus{
		logger: logger,
		subs:   make(map[uint64]chan []byte),
	}
}

// Publish hands frame to every subscriber. The frame must not be modified
// afterwards.
func (b *PCMBus) Publish(frame []byte) {
	if len(frame) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- frame:
		default:
			b.dropped++
			if b.dropped%100 == 1 {
				b.logger.Debug("Dropping PCM frames for slow subscriber", zap.Int("dropped", b.dropped))
			}
		}
	}
}

// Subscribe returns a channel of frames and a function that ends the
// subscription. The channel is closed when the subscription ends or the
// bus is closed.
func (b *PCMBus) Subscribe(buffer int) (<-chan []byte, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan []byte, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Subscribers returns the number of live subscriptions
func (b *PCMBus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription
func (b *PCMBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
