package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/satriahrh/voicechat/domain/repositories"
)

const (
	defaultSampleRate = 16000
	defaultEncoding   = "LINEAR16"
	audioBuffer       = 64
)

// AudioSource hands out subscriptions to the live microphone frames
type AudioSource interface {
	Subscribe(buffer int) (<-chan []byte, func())
}

// GoogleConfig holds the Google Cloud Speech settings
type GoogleConfig struct {
	SampleRate      int
	Encoding        string
	Endpoint        string
	CredentialsFile string
}

// NewGoogleConfigFromEnv reads the Google Cloud Speech settings from the environment
func NewGoogleConfigFromEnv() GoogleConfig {
	config := GoogleConfig{
		Encoding:        os.Getenv("GOOGLE_SPEECH_ENCODING"),
		Endpoint:        os.Getenv("GOOGLE_SPEECH_ENDPOINT"),
		CredentialsFile: os.Getenv("GOOGLE_SPEECH_CREDENTIALS_FILE"),
	}

	if rateStr := os.Getenv("GOOGLE_SPEECH_SAMPLE_RATE"); rateStr != "" {
		if rate, err := strconv.Atoi(rateStr); err == nil {
			config.SampleRate = rate
		}
	}

	return config
}

// ValidateGoogleConfig validates the GoogleConfig
func ValidateGoogleConfig(config GoogleConfig) error {
	if config.SampleRate < 0 {
		return fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}

	if config.Encoding != "" {
		if _, err := getAudioEncoding(config.Encoding); err != nil {
			return err
		}
	}

	return nil
}

// GoogleRecognizer streams microphone frames to Google Cloud Speech. Each
// Open starts a new streaming call, matching one recognition instance.
type GoogleRecognizer struct {
	source AudioSource
	config GoogleConfig
	logger *zap.Logger

	mu     sync.Mutex
	client *speech.Client
}

// NewGoogleRecognizer creates a new Google recognizer. The client is
// created on first Open.
func NewGoogleRecognizer(source AudioSource, config GoogleConfig, logger *zap.Logger) (*GoogleRecognizer, error) {
	if err := ValidateGoogleConfig(config); err != nil {
		return nil, err
	}

	if config.SampleRate == 0 {
		config.SampleRate = defaultSampleRate
		logger.Info("Using default sample rate", zap.Int("sampleRate", config.SampleRate))
	}
	if config.Encoding == "" {
		config.Encoding = defaultEncoding
		logger.Info("Using default encoding", zap.String("encoding", config.Encoding))
	}

	return &GoogleRecognizer{
		source: source,
		config: config,
		logger: logger,
	}, nil
}

// Open implements repositories.SpeechRecognizer
func (g *GoogleRecognizer) Open(ctx context.Context, config repositories.RecognitionConfig) (repositories.Recognition, error) {
	client, err := g.getClient(ctx)
	if err != nil {
		return nil, err
	}

	sampleRate := config.SampleRate
	if sampleRate == 0 {
		sampleRate = g.config.SampleRate
	}
	encodingName := config.Encoding
	if encodingName == "" {
		encodingName = g.config.Encoding
	}
	encoding, err := getAudioEncoding(encodingName)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := client.StreamingRecognize(streamCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create streaming recognize: %w", err)
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   encoding,
					SampleRateHertz:            int32(sampleRate),
					LanguageCode:               config.Language,
					EnableAutomaticPunctuation: true,
				},
				InterimResults:  config.InterimResults,
				SingleUtterance: !config.Continuous,
			},
		},
	}); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to send streaming config: %w", err)
	}

	frames, unsubscribe := g.source.Subscribe(audioBuffer)
	rec := &googleRecognition{
		stream:      stream,
		cancel:      cancel,
		unsubscribe: unsubscribe,
		events:      make(chan repositories.RecognitionEvent, audioBuffer),
		stop:        make(chan struct{}),
		logger:      g.logger,
	}
	rec.events <- repositories.RecognitionEvent{Type: repositories.RecognitionStarted}

	go rec.sendAudio(frames)
	go rec.receive()

	return rec, nil
}

// Close releases the underlying client
func (g *GoogleRecognizer) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.client == nil {
		return nil
	}
	err := g.client.Close()
	g.client = nil
	return err
}

func (g *GoogleRecognizer) getClient(ctx context.Context) (*speech.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.client != nil {
		return g.client, nil
	}

	var opts []option.ClientOption
	if g.config.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.config.Endpoint))
	}
	if g.config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(g.config.CredentialsFile))
	}

	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	g.client = client
	return client, nil
}

// googleRecognition is one StreamingRecognize call
type googleRecognition struct {
	stream      speechpb.Speech_StreamingRecognizeClient
	cancel      context.CancelFunc
	unsubscribe func()
	events      chan repositories.RecognitionEvent
	logger      *zap.Logger

	stop     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	aborted bool
	results []repositories.RecognitionResult
}

func (r *googleRecognition) Events() <-chan repositories.RecognitionEvent {
	return r.events
}

// Stop half-closes the stream; Google still sends the pending finals
func (r *googleRecognition) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *googleRecognition) Abort() {
	r.mu.Lock()
	r.aborted = true
	r.mu.Unlock()

	r.Stop()
	r.cancel()
}

func (r *googleRecognition) sendAudio(frames <-chan []byte) {
	defer r.unsubscribe()

	for {
		select {
		case <-r.stop:
			if err := r.stream.CloseSend(); err != nil {
				r.logger.Debug("Failed to close send stream", zap.Error(err))
			}
			return
		case frame, ok := <-frames:
			if !ok {
				_ = r.stream.CloseSend()
				return
			}
			if err := r.stream.Send(&speechpb.StreamingRecognizeRequest{
				StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
					AudioContent: frame,
				},
			}); err != nil {
				// the receive side reports the stream error
				return
			}
		}
	}
}

func (r *googleRecognition) receive() {
	defer close(r.events)
	defer r.cancel()

	for {
		resp, err := r.stream.Recv()
		if err != nil {
			if code := recognitionErrorCode(err); code != "" && !r.isAborted() {
				r.logger.Warn("Google speech stream failed", zap.String("code", code), zap.Error(err))
				r.events <- repositories.RecognitionEvent{Type: repositories.RecognitionErrorEvent, Error: code}
			}
			r.events <- repositories.RecognitionEvent{Type: repositories.RecognitionEnded}
			return
		}

		if r.isAborted() {
			continue
		}
		if event, ok := r.apply(resp); ok {
			r.events <- event
		}
	}
}

func (r *googleRecognition) isAborted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.aborted
}

// apply folds one response into the instance's result list. Finalised
// results stay; the trailing interim slots are replaced.
func (r *googleRecognition) apply(resp *speechpb.StreamingRecognizeResponse) (repositories.RecognitionEvent, bool) {
	incoming := convertResults(resp.GetResults())
	if len(incoming) == 0 {
		return repositories.RecognitionEvent{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stable := 0
	for stable < len(r.results) && r.results[stable].IsFinal {
		stable++
	}
	r.results = append(r.results[:stable], incoming...)

	results := make([]repositories.RecognitionResult, len(r.results))
	copy(results, r.results)
	return repositories.RecognitionEvent{
		Type:        repositories.RecognitionResultEvent,
		Results:     results,
		ResultIndex: stable,
	}, true
}

func convertResults(results []*speechpb.StreamingRecognitionResult) []repositories.RecognitionResult {
	converted := make([]repositories.RecognitionResult, 0, len(results))
	for _, result := range results {
		alternatives := result.GetAlternatives()
		if len(alternatives) == 0 {
			continue
		}
		converted = append(converted, repositories.RecognitionResult{
			Transcript: alternatives[0].GetTranscript(),
			IsFinal:    result.GetIsFinal(),
		})
	}
	return converted
}

// recognitionErrorCode maps a stream error onto a recognition error code.
// An empty code means the stream simply ended.
func recognitionErrorCode(err error) string {
	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return ""
	}

	switch status.Code(err) {
	case codes.Canceled, codes.OutOfRange:
		// OutOfRange is the streaming duration limit; the caller restarts
		return ""
	case codes.Unauthenticated, codes.PermissionDenied:
		return "service-not-allowed"
	case codes.InvalidArgument:
		return "bad-grammar"
	default:
		return "network"
	}
}

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding {
	case "WAV", "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "AMR":
		return speechpb.RecognitionConfig_AMR, nil
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}
