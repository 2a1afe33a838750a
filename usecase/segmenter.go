package usecase

import (
	"regexp"
	"strings"
)

// sentenceBoundary matches terminal punctuation followed by whitespace
var sentenceBoundary = regexp.MustCompile(`[.!?]\s+`)

// SentenceSegmenter splits streamed text into speakable sentences
type SentenceSegmenter struct {
	pending string
}

// Push appends chunk and returns every sentence it completed, trimmed
func (s *SentenceSegmenter) Push(chunk string) []string {
	s.pending += chunk

	var sentences []string
	for {
		loc := sentenceBoundary.FindStringIndex(s.pending)
		if loc == nil {
			break
		}
		sentence := strings.TrimSpace(s.pending[:loc[0]+1])
		s.pending = s.pending[loc[1]:]
		if sentence != "" {
			sentences = append(sentences, sentence)
		}
	}
	return sentences
}

// Flush returns the trimmed remainder and empties the accumulator
func (s *SentenceSegmenter) Flush() string {
	rest := strings.TrimSpace(s.pending)
	s.pending = ""
	return rest
}

// Pending returns the text not yet emitted
func (s *SentenceSegmenter) Pending() string {
	return s.pending
}

// Reset drops any pending text
func (s *SentenceSegmenter) Reset() {
	s.pending = ""
}
