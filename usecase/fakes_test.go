package usecase

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/satriahrh/voicechat/domain/entities"
	"github.com/satriahrh/voicechat/domain/repositories"
	"github.com/satriahrh/voicechat/internal/audio"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting: %s", msg)
}

// fakeRecognizer hands out scripted recognition instances
type fakeRecognizer struct {
	mu      sync.Mutex
	openErr error
	opened  chan *fakeRecognition
	count   int
}

func newFakeRecognizer() *fakeRecognizer {
	return &fakeRecognizer{opened: make(chan *fakeRecognition, 16)}
}

func (r *fakeRecognizer) Open(ctx context.Context, config repositories.RecognitionConfig) (repositories.Recognition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.openErr != nil {
		return nil, r.openErr
	}
	r.count++
	rec := &fakeRecognition{events: make(chan repositories.RecognitionEvent, 16), config: config}
	r.opened <- rec
	return rec, nil
}

func (r *fakeRecognizer) openCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func (r *fakeRecognizer) next(t *testing.T) *fakeRecognition {
	t.Helper()
	select {
	case rec := <-r.opened:
		return rec
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for recognition to open")
		return nil
	}
}

// fakeRecognition lets tests emit events by hand. Abort and Stop only
// record the call so late events can still be injected.
type fakeRecognition struct {
	mu      sync.Mutex
	events  chan repositories.RecognitionEvent
	config  repositories.RecognitionConfig
	closed  bool
	stopped bool
	aborted bool
}

func (f *fakeRecognition) Events() <-chan repositories.RecognitionEvent { return f.events }

func (f *fakeRecognition) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeRecognition) Abort() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = true
}

func (f *fakeRecognition) wasStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func (f *fakeRecognition) wasAborted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aborted
}

func (f *fakeRecognition) emit(event repositories.RecognitionEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.events <- event
	if event.Type == repositories.RecognitionEnded {
		f.closed = true
		close(f.events)
	}
}

func (f *fakeRecognition) start() {
	f.emit(repositories.RecognitionEvent{Type: repositories.RecognitionStarted})
}

func (f *fakeRecognition) result(index int, results ...repositories.RecognitionResult) {
	f.emit(repositories.RecognitionEvent{Type: repositories.RecognitionResultEvent, Results: results, ResultIndex: index})
}

func (f *fakeRecognition) fail(code string) {
	f.emit(repositories.RecognitionEvent{Type: repositories.RecognitionErrorEvent, Error: code})
}

func (f *fakeRecognition) end() {
	f.emit(repositories.RecognitionEvent{Type: repositories.RecognitionEnded})
}

// fakeSynth records utterances. With block set, Speak waits for release
// or cancellation; otherwise it takes delay.
type fakeSynth struct {
	mu        sync.Mutex
	block     bool
	delay     time.Duration
	fail      map[string]error
	spoken    []string
	active    int
	maxActive int
	cancels   int
	release   chan struct{}
	started   chan string
}

func newFakeSynth(block bool) *fakeSynth {
	return &fakeSynth{
		block:   block,
		delay:   time.Millisecond,
		fail:    map[string]error{},
		release: make(chan struct{}, 16),
		started: make(chan string, 64),
	}
}

func (s *fakeSynth) Speak(ctx context.Context, u repositories.Utterance) error {
	s.mu.Lock()
	s.spoken = append(s.spoken, u.Text)
	s.active++
	if s.active > s.maxActive {
		s.maxActive = s.active
	}
	failure := s.fail[u.Text]
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
	}()

	s.started <- u.Text

	if failure != nil {
		return failure
	}

	if s.block {
		select {
		case <-s.release:
			return nil
		case <-ctx.Done():
			return repositories.ErrSpeechInterrupted
		}
	}

	select {
	case <-time.After(s.delay):
		return nil
	case <-ctx.Done():
		return repositories.ErrSpeechInterrupted
	}
}

func (s *fakeSynth) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels++
}

func (s *fakeSynth) spokenTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spoken...)
}

func (s *fakeSynth) cancelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancels
}

func (s *fakeSynth) waitStarted(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-s.started:
		if got != want {
			t.Fatalf("Expected %q to start, got %q", want, got)
		}
	case <-time.After(time.Second):
		t.Fatalf("Timed out waiting for %q to start", want)
	}
}

// streamScript describes the reply of one call to fakeStreamer
type streamScript struct {
	fragments []string
	err       error
	// hold blocks after the fragments until the call context is done
	hold bool
	// afterCancel is yielded once the context is done, like a provider
	// that ignores cancellation
	afterCancel string
}

type fakeStreamer struct {
	mu       sync.Mutex
	scripts  []streamScript
	requests []repositories.CompletionRequest
	calls    int
}

func (f *fakeStreamer) StreamCompletion(ctx context.Context, req repositories.CompletionRequest) iter.Seq2[string, error] {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	script := streamScript{}
	if f.calls < len(f.scripts) {
		script = f.scripts[f.calls]
	}
	f.calls++
	f.mu.Unlock()

	return func(yield func(string, error) bool) {
		for _, fragment := range script.fragments {
			if !yield(fragment, nil) {
				return
			}
		}
		if script.hold {
			<-ctx.Done()
			if script.afterCancel != "" {
				if !yield(script.afterCancel, nil) {
					return
				}
			}
			yield("", ctx.Err())
			return
		}
		if script.err != nil {
			yield("", script.err)
		}
	}
}

func (f *fakeStreamer) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeStreamer) lastRequest() repositories.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

// fakeMicrophone serves a constant loud signal
type fakeMicrophone struct {
	err    error
	mu     sync.Mutex
	closed int
}

func (m *fakeMicrophone) Open(ctx context.Context) (repositories.AudioStream, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &fakeAudioStream{mic: m}, nil
}

func (m *fakeMicrophone) closeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type fakeAudioStream struct {
	mic *fakeMicrophone
}

func (s *fakeAudioStream) FrequencyBinCount() int { return 128 }

func (s *fakeAudioStream) ByteFrequencyData(dst []uint8) {
	for i := range dst {
		dst[i] = 200
	}
}

func (s *fakeAudioStream) ByteTimeDomainData(dst []uint8) {
	for i := range dst {
		if i%2 == 0 {
			dst[i] = 255
		} else {
			dst[i] = 0
		}
	}
}

func (s *fakeAudioStream) Close() error {
	s.mic.mu.Lock()
	defer s.mic.mu.Unlock()
	s.mic.closed++
	return nil
}

var errFakeMicrophone = errors.New("permission denied")

// recordingObserver keeps every update it receives
type recordingObserver struct {
	mu       sync.Mutex
	states   []OrchestratorState
	turns    map[string]entities.ConversationTurn
	errors   []string
	speaking []bool
	levels   int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{turns: map[string]entities.ConversationTurn{}}
}

func (r *recordingObserver) OnStateChanged(state OrchestratorState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *recordingObserver) OnTurn(turn entities.ConversationTurn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns[turn.ID] = turn
}

func (r *recordingObserver) OnTranscript(string, string) {}

func (r *recordingObserver) OnSpeaking(speaking bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speaking = append(r.speaking, speaking)
}

func (r *recordingObserver) OnLevels(audio.Levels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.levels++
}

func (r *recordingObserver) OnError(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, message)
}

func (r *recordingObserver) errorMessages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errors...)
}

func (r *recordingObserver) sawState(state OrchestratorState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.states {
		if s == state {
			return true
		}
	}
	return false
}
