package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/voicechat/domain/repositories"
	"github.com/satriahrh/voicechat/internal/queue"
)

const (
	defaultSpeechRate   = 1.1
	defaultSpeechPitch  = 1.0
	defaultSpeechVolume = 1.0
)

// SpeechQueueConfig holds the voice settings applied to every utterance
type SpeechQueueConfig struct {
	Rate   float64
	Pitch  float64
	Volume float64
	Lang   string
	// VoiceHint is matched against voice names by the output device
	VoiceHint string
}

// SpeechQueueCallbacks receive playback updates. They must not block.
type SpeechQueueCallbacks struct {
	OnPlayingChanged func(playing bool)
	OnError          func(err error)
}

// SpeechQueue serialises utterances onto a synthesizer. Exactly one drain
// goroutine speaks at a time, in FIFO order.
type SpeechQueue struct {
	synth     repositories.SpeechSynthesizer
	config    SpeechQueueConfig
	callbacks SpeechQueueCallbacks
	logger    *zap.Logger

	mu            sync.Mutex
	items         *queue.Queue[repositories.Utterance]
	draining      bool
	playing       bool
	epoch         uint64
	cancelCurrent context.CancelFunc
	lastDrain     chan struct{}
}

// NewSpeechQueue creates a new speech queue
func NewSpeechQueue(
	synth repositories.SpeechSynthesizer,
	config SpeechQueueConfig,
	callbacks SpeechQueueCallbacks,
	logger *zap.Logger,
) *SpeechQueue {
	if config.Rate == 0 {
		config.Rate = defaultSpeechRate
	}
	if config.Pitch == 0 {
		config.Pitch = defaultSpeechPitch
	}
	if config.Volume == 0 {
		config.Volume = defaultSpeechVolume
	}

	return &SpeechQueue{
		synth:     synth,
		config:    config,
		callbacks: callbacks,
		logger:    logger,
		items:     queue.New[repositories.Utterance](),
	}
}

// Enqueue appends a segment and makes sure a drain loop is running.
// Blank segments are dropped.
func (q *SpeechQueue) Enqueue(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	utterance := repositories.Utterance{
		ID:     uuid.NewString(),
		Text:   text,
		Lang:   q.config.Lang,
		Voice:  q.config.VoiceHint,
		Rate:   q.config.Rate,
		Pitch:  q.config.Pitch,
		Volume: q.config.Volume,
	}

	q.mu.Lock()
	q.items.Enqueue(utterance)
	started := false
	if !q.draining {
		q.draining = true
		started = true
		previous := q.lastDrain
		done := make(chan struct{})
		q.lastDrain = done
		go q.drain(q.epoch, previous, done)
	}
	wasPlaying := q.playing
	q.playing = true
	q.mu.Unlock()

	q.logger.Debug("Speech enqueued",
		zap.String("utteranceID", utterance.ID),
		zap.Bool("startedDrain", started))

	if !wasPlaying {
		q.notifyPlaying(true)
	}
}

// CancelAll clears the queue and silences the synthesizer before returning
func (q *SpeechQueue) CancelAll() {
	q.mu.Lock()
	dropped := q.items.Clear()
	q.epoch++
	q.draining = false
	wasPlaying := q.playing
	q.playing = false
	cancel := q.cancelCurrent
	q.cancelCurrent = nil
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	q.synth.Cancel()

	if wasPlaying {
		q.logger.Info("Speech cancelled", zap.Int("dropped", dropped))
		q.notifyPlaying(false)
	}
}

// IsPlaying reports whether an utterance is playing or queued
func (q *SpeechQueue) IsPlaying() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// Len returns the number of pending utterances
func (q *SpeechQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// drain speaks queued utterances until the queue is empty or its epoch is
// cancelled. It waits for the previous drain to return first so two Speak
// calls never overlap.
func (q *SpeechQueue) drain(epoch uint64, previous <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	if previous != nil {
		<-previous
	}

	for {
		q.mu.Lock()
		if epoch != q.epoch {
			q.mu.Unlock()
			return
		}
		utterance, ok := q.items.Dequeue()
		if !ok {
			q.draining = false
			q.playing = false
			q.mu.Unlock()
			q.notifyPlaying(false)
			return
		}
		ctx, cancel := context.WithCancel(context.Background())
		q.cancelCurrent = cancel
		q.mu.Unlock()

		err := q.synth.Speak(ctx, utterance)
		interrupted := ctx.Err() != nil
		cancel()

		if err == nil {
			continue
		}
		if interrupted || isInterruption(err) {
			q.logger.Debug("Utterance interrupted", zap.String("utteranceID", utterance.ID))
			continue
		}

		q.mu.Lock()
		current := epoch == q.epoch
		q.mu.Unlock()
		if !current {
			return
		}

		q.logger.Error("Failed to speak utterance",
			zap.String("utteranceID", utterance.ID),
			zap.Error(err))
		if q.callbacks.OnError != nil {
			q.callbacks.OnError(err)
		}
	}
}

func (q *SpeechQueue) notifyPlaying(playing bool) {
	if q.callbacks.OnPlayingChanged != nil {
		q.callbacks.OnPlayingChanged(playing)
	}
}

func isInterruption(err error) bool {
	return errors.Is(err, repositories.ErrSpeechInterrupted) ||
		errors.Is(err, repositories.ErrSpeechCanceled) ||
		errors.Is(err, context.Canceled)
}
