package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/voicechat/domain"
	"github.com/satriahrh/voicechat/domain/entities"
	"github.com/satriahrh/voicechat/domain/repositories"
	"github.com/satriahrh/voicechat/internal/audio"
)

const defaultSettleDelay = 200 * time.Millisecond

// OrchestratorState is the externally visible conversation state
type OrchestratorState int

const (
	StateIdle OrchestratorState = iota
	StateListening
	StateAwaitingResponse
	StateSpeaking
)

func (s OrchestratorState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// OrchestratorObserver receives presentation updates in loop order.
// Methods run on the orchestrator loop and must not call back into it
// synchronously.
type OrchestratorObserver interface {
	OnStateChanged(state OrchestratorState)
	OnTurn(turn entities.ConversationTurn)
	OnTranscript(interim, final string)
	OnSpeaking(speaking bool)
	OnLevels(levels audio.Levels)
	// OnError receives the message to display, or "" when cleared
	OnError(message string)
}

// NopObserver ignores every update
type NopObserver struct{}

func (NopObserver) OnStateChanged(OrchestratorState) {}
func (NopObserver) OnTurn(entities.ConversationTurn) {}
func (NopObserver) OnTranscript(string, string) {}
func (NopObserver) OnSpeaking(bool) {}
func (NopObserver) OnLevels(audio.Levels) {}
func (NopObserver) OnError(string) {}

// OrchestratorDeps are the capabilities an orchestrator drives. Microphone
// may be nil, in which case no levels are produced.
type OrchestratorDeps struct {
	Recognizer  repositories.SpeechRecognizer
	Synthesizer repositories.SpeechSynthesizer
	Microphone  repositories.Microphone
	Streamer    repositories.CompletionStreamer
}

// OrchestratorConfig configures a TurnOrchestrator and its components
type OrchestratorConfig struct {
	SettleDelay   time.Duration
	Transcription TranscriptionConfig
	Speech        SpeechQueueConfig
	Gateway       ModelGatewayConfig
	Sampler       AudioSamplerConfig
}

// OrchestratorSnapshot is a point-in-time copy of the presentation state
type OrchestratorSnapshot struct {
	State       OrchestratorState           `json:"-"`
	StateName   string                      `json:"state"`
	Turns       []entities.ConversationTurn `json:"turns"`
	Interim     string                      `json:"interim_transcript"`
	Final       string                      `json:"final_transcript"`
	IsListening bool                        `json:"is_listening"`
	IsSpeaking  bool                        `json:"is_speaking"`
	IsLoading   bool                        `json:"is_loading"`
	Error       string                      `json:"error,omitempty"`
	Levels      audio.Levels                `json:"levels"`
}

// errorSlots keeps the latest error of each source
type errorSlots struct {
	recognition string
	speech      string
	model       string
	sampler     string
}

func (e errorSlots) display() string {
	for _, msg := range []string{e.recognition, e.speech, e.model, e.sampler} {
		if msg != "" {
			return msg
		}
	}
	return ""
}

// TurnOrchestrator binds transcription, model gateway and speech output
// into one conversation. All of its state is owned by a single loop
// goroutine started by Run.
type TurnOrchestrator struct {
	loop         *eventLoop
	conversation *entities.Conversation
	source       *TranscriptionSource
	speech       *SpeechQueue
	gateway      *ModelGateway
	sampler      *AudioSampler
	observer     OrchestratorObserver
	config       OrchestratorConfig
	logger       *zap.Logger

	runCtx context.Context

	// loop-owned state
	phase         OrchestratorState
	reported      OrchestratorState
	turnToken     uint64
	requestCancel context.CancelFunc
	assistantID   string
	segmenter     SentenceSegmenter
	interim       string
	final         string
	speaking      bool
	errs          errorSlots
	shownError    string

	snapMu sync.RWMutex
	snap   OrchestratorSnapshot
}

// NewTurnOrchestrator wires the components of one conversation
func NewTurnOrchestrator(
	deps OrchestratorDeps,
	config OrchestratorConfig,
	observer OrchestratorObserver,
	logger *zap.Logger,
) *TurnOrchestrator {
	if config.SettleDelay <= 0 {
		config.SettleDelay = defaultSettleDelay
	}
	if observer == nil {
		observer = NopObserver{}
	}

	o := &TurnOrchestrator{
		loop:         newEventLoop(),
		conversation: entities.NewConversation(),
		observer:     observer,
		config:       config,
		logger:       logger,
		runCtx:       context.Background(),
	}
	o.snap.StateName = StateIdle.String()

	o.source = NewTranscriptionSource(deps.Recognizer, config.Transcription, TranscriptionCallbacks{
		OnInterim: func(text string) {
			o.loop.post(func() { o.setTranscript(text, o.final) })
		},
		OnFinal: func(text string) {
			o.loop.post(func() { o.setTranscript(o.interim, text) })
		},
		OnActiveChanged: func(active bool) {
			o.loop.post(func() { o.onSourceActive(active) })
		},
		OnError: func(err *domain.RecognitionError) {
			o.loop.post(func() { o.onRecognitionError(err) })
		},
	}, logger.Named("transcription"))

	o.speech = NewSpeechQueue(deps.Synthesizer, config.Speech, SpeechQueueCallbacks{
		OnPlayingChanged: func(bool) {
			o.loop.post(o.syncSpeaking)
		},
		OnError: func(err error) {
			o.loop.post(func() {
				o.errs.speech = "Speech error: " + err.Error()
				o.publishError()
			})
		},
	}, logger.Named("speech"))

	o.gateway = NewModelGateway(deps.Streamer, config.Gateway, logger.Named("gateway"))

	if deps.Microphone != nil {
		o.sampler = NewAudioSampler(deps.Microphone, config.Sampler, func(levels audio.Levels) {
			o.loop.post(func() { o.publishLevels(levels) })
		}, logger.Named("sampler"))
	}

	return o
}

// Run processes events on the calling goroutine until ctx is done, then
// tears every component down.
func (o *TurnOrchestrator) Run(ctx context.Context) error {
	o.runCtx = ctx
	o.loop.run(ctx)

	o.source.Abort()
	o.speech.CancelAll()
	o.cancelRequest()
	if o.sampler != nil {
		o.sampler.Stop()
	}
	o.logger.Info("Orchestrator stopped")
	return ctx.Err()
}

// Toggle is the single voice button: it interrupts speech when playing,
// stops listening when listening, and starts listening otherwise.
func (o *TurnOrchestrator) Toggle(ctx context.Context) error {
	return o.loop.invoke(ctx, o.toggle)
}

// StartListening begins a new capture
func (o *TurnOrchestrator) StartListening(ctx context.Context) error {
	return o.loop.invoke(ctx, o.startListening)
}

// StopListening ends capture and submits the transcript after the settle delay
func (o *TurnOrchestrator) StopListening(ctx context.Context) error {
	return o.loop.invoke(ctx, o.stopListening)
}

// Interrupt silences speech, cancels the in-flight request and stops capture
func (o *TurnOrchestrator) Interrupt(ctx context.Context) error {
	return o.loop.invoke(ctx, o.interrupt)
}

// SubmitText sends a typed user turn, bypassing capture
func (o *TurnOrchestrator) SubmitText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("text cannot be empty")
	}
	return o.loop.invoke(ctx, func() {
		if o.phase == StateListening {
			o.source.Abort()
			o.stopSampler()
		}
		o.speech.CancelAll()
		o.refreshSpeaking()
		o.cancelRequest()
		o.submit(text)
	})
}

// Snapshot returns the current presentation state
func (o *TurnOrchestrator) Snapshot() OrchestratorSnapshot {
	o.snapMu.RLock()
	snap := o.snap
	o.snapMu.RUnlock()
	snap.Turns = o.conversation.Turns()
	return snap
}

func (o *TurnOrchestrator) toggle() {
	switch {
	case o.speech.IsPlaying():
		o.interrupt()
	case o.phase == StateListening:
		o.stopListening()
	default:
		o.startListening()
	}
}

func (o *TurnOrchestrator) startListening() {
	if o.phase == StateListening {
		return
	}

	o.speech.CancelAll()
	o.refreshSpeaking()
	o.cancelRequest()
	o.turnToken++
	o.setTranscript("", "")

	if err := o.source.Start(o.runCtx); err != nil {
		o.logger.Error("Failed to start listening", zap.Error(err))
		var recErr *domain.RecognitionError
		if errors.As(err, &recErr) {
			o.errs.recognition = recErr.UserMessage()
		} else {
			o.errs.recognition = "Failed to start speech recognition."
		}
		o.publishError()
		o.setPhase(StateIdle)
		return
	}

	o.errs = errorSlots{}
	o.publishError()
	o.setPhase(StateListening)

	if o.sampler != nil {
		if err := o.sampler.Start(o.runCtx); err != nil {
			o.logger.Warn("Audio sampler unavailable", zap.Error(err))
			o.errs.sampler = "Microphone error: " + err.Error()
			o.publishError()
		}
	}
}

func (o *TurnOrchestrator) stopListening() {
	if o.phase != StateListening {
		return
	}

	o.source.Stop()
	o.stopSampler()
	o.setPhase(StateAwaitingResponse)

	token := o.turnToken
	time.AfterFunc(o.config.SettleDelay, func() {
		o.loop.post(func() { o.settle(token) })
	})
}

// settle runs after the settle delay and starts the turn if nothing
// newer happened in between.
func (o *TurnOrchestrator) settle(token uint64) {
	if token != o.turnToken || o.phase != StateAwaitingResponse {
		return
	}

	text := strings.TrimSpace(o.final)
	if text == "" {
		o.logger.Info("No speech captured, skipping turn")
		o.setPhase(StateIdle)
		return
	}
	o.submit(text)
}

func (o *TurnOrchestrator) submit(text string) {
	history := o.conversation.History()

	user := o.conversation.Append(entities.RoleUser, text)
	o.observer.OnTurn(user)
	assistant := o.conversation.Append(entities.RoleAssistant, "")
	o.observer.OnTurn(assistant)

	o.assistantID = assistant.ID
	o.segmenter.Reset()
	o.errs.model = ""
	o.publishError()
	o.setPhase(StateAwaitingResponse)

	o.turnToken++
	token := o.turnToken
	ctx, cancel := context.WithCancel(o.runCtx)
	o.requestCancel = cancel

	o.logger.Info("Turn submitted",
		zap.String("turnID", user.ID),
		zap.Int("historyLength", len(history)))

	go func() {
		full, err := o.gateway.Send(ctx, text, history, func(chunk string) {
			o.loop.post(func() { o.applyChunk(token, chunk) })
		})
		o.loop.post(func() { o.finishTurn(token, full, err) })
	}()
}

func (o *TurnOrchestrator) applyChunk(token uint64, chunk string) {
	if token != o.turnToken {
		return
	}

	if turn, ok := o.conversation.AppendContent(o.assistantID, chunk); ok {
		o.observer.OnTurn(turn)
	}
	for _, sentence := range o.segmenter.Push(chunk) {
		o.speech.Enqueue(sentence)
	}
}

func (o *TurnOrchestrator) finishTurn(token uint64, full string, err error) {
	if token != o.turnToken {
		return
	}
	if o.requestCancel != nil {
		o.requestCancel()
		o.requestCancel = nil
	}

	switch {
	case err == nil:
		if rest := o.segmenter.Flush(); rest != "" {
			o.speech.Enqueue(rest)
		}
		o.logger.Info("Turn completed", zap.Int("responseLength", len(full)))
	case domain.IsCancelled(err):
		o.logger.Debug("Turn cancelled")
	default:
		modelErr := domain.AsModelError(err)
		o.logger.Warn("Turn failed", zap.Stringer("kind", modelErr.Kind), zap.Error(err))
		o.segmenter.Reset()
		o.errs.model = modelErr.UserMessage()
		o.publishError()
	}

	o.setPhase(StateIdle)
}

func (o *TurnOrchestrator) interrupt() {
	o.speech.CancelAll()
	o.cancelRequest()
	o.turnToken++
	if o.phase == StateListening {
		o.source.Abort()
		o.stopSampler()
	}
	o.setPhase(StateIdle)
	o.syncSpeaking()
}

func (o *TurnOrchestrator) cancelRequest() {
	if o.requestCancel != nil {
		o.requestCancel()
		o.requestCancel = nil
	}
}

func (o *TurnOrchestrator) stopSampler() {
	if o.sampler != nil {
		o.sampler.Stop()
	}
}

func (o *TurnOrchestrator) onSourceActive(active bool) {
	if active || o.phase != StateListening {
		return
	}
	// capture died without a restart while the user still wanted to listen
	o.stopSampler()
	o.setPhase(StateIdle)
}

func (o *TurnOrchestrator) onRecognitionError(err *domain.RecognitionError) {
	o.errs.recognition = err.UserMessage()
	o.publishError()
	if o.phase == StateListening {
		o.stopSampler()
		o.setPhase(StateIdle)
	}
}

func (o *TurnOrchestrator) setTranscript(interim, final string) {
	o.interim = interim
	o.final = final
	o.observer.OnTranscript(interim, final)
	o.updateSnapshot(func(s *OrchestratorSnapshot) {
		s.Interim = interim
		s.Final = final
	})
}

func (o *TurnOrchestrator) syncSpeaking() {
	o.refreshSpeaking()
	o.publishState()
}

// refreshSpeaking pulls the playing flag from the queue without publishing state
func (o *TurnOrchestrator) refreshSpeaking() {
	playing := o.speech.IsPlaying()
	if playing != o.speaking {
		o.speaking = playing
		o.observer.OnSpeaking(playing)
	}
}

func (o *TurnOrchestrator) setPhase(phase OrchestratorState) {
	o.phase = phase
	o.publishState()
}

func (o *TurnOrchestrator) publishState() {
	state := o.phase
	if state == StateIdle && o.speaking {
		state = StateSpeaking
	}

	o.updateSnapshot(func(s *OrchestratorSnapshot) {
		s.State = state
		s.StateName = state.String()
		s.IsListening = o.phase == StateListening
		s.IsLoading = o.phase == StateAwaitingResponse
		s.IsSpeaking = o.speaking
	})

	if state != o.reported {
		o.reported = state
		o.observer.OnStateChanged(state)
	}
}

func (o *TurnOrchestrator) publishError() {
	msg := o.errs.display()
	o.updateSnapshot(func(s *OrchestratorSnapshot) { s.Error = msg })
	if msg != o.shownError {
		o.shownError = msg
		o.observer.OnError(msg)
	}
}

func (o *TurnOrchestrator) publishLevels(levels audio.Levels) {
	o.updateSnapshot(func(s *OrchestratorSnapshot) { s.Levels = levels })
	o.observer.OnLevels(levels)
}

func (o *TurnOrchestrator) updateSnapshot(fn func(s *OrchestratorSnapshot)) {
	o.snapMu.Lock()
	defer o.snapMu.Unlock()
	fn(&o.snap)
}
