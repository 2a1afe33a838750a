package llm

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/satriahrh/voicechat/domain/repositories"
)

// MockStreamer is a placeholder CompletionStreamer for running without a
// model service. It streams a canned reply word by word.
type MockStreamer struct {
	delay time.Duration
}

// NewMockStreamer creates a new mock streamer that waits delay between words
func NewMockStreamer(delay time.Duration) *MockStreamer {
	return &MockStreamer{delay: delay}
}

// StreamCompletion implements repositories.CompletionStreamer
func (m *MockStreamer) StreamCompletion(ctx context.Context, req repositories.CompletionRequest) iter.Seq2[string, error] {
	var reply string
	switch prompt := strings.TrimSpace(req.Prompt); {
	case prompt == "":
		reply = "Hi there! What would you like to talk about?"
	default:
		reply = fmt.Sprintf("You said %q. Tell me more about that!", prompt)
	}

	return func(yield func(string, error) bool) {
		for _, word := range strings.SplitAfter(reply, " ") {
			if m.delay > 0 {
				select {
				case <-time.After(m.delay):
				case <-ctx.Done():
					yield("", ctx.Err())
					return
				}
			}
			if !yield(word, nil) {
				return
			}
		}
	}
}
