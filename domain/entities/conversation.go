package entities

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role represents the author of a conversation turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is one message in the visible transcript
type ConversationTurn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate validates the turn data
func (t ConversationTurn) Validate() error {
	if t.ID == "" {
		return errors.New("id is required")
	}
	if t.Role != RoleUser && t.Role != RoleAssistant {
		return errors.New("invalid turn role")
	}
	return nil
}

// Conversation is the append-only, in-memory transcript of one session.
// Only the content of the latest assistant turn may change after it is
// appended.
type Conversation struct {
	mu    sync.RWMutex
	turns []ConversationTurn
	now   func() time.Time
}

// NewConversation creates an empty conversation
func NewConversation() *Conversation {
	return &Conversation{
		turns: make([]ConversationTurn, 0),
		now:   time.Now,
	}
}

// Append adds a new turn at the end of the conversation
func (c *Conversation) Append(role Role, content string) ConversationTurn {
	c.mu.Lock()
	defer c.mu.Unlock()

	turn := ConversationTurn{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: c.now(),
	}
	c.turns = append(c.turns, turn)
	return turn
}

// AppendContent appends a streamed chunk to the turn with the given ID.
// It reports false when the turn is unknown, superseded, or not an
// assistant turn.
func (c *Conversation) AppendContent(id, chunk string) (ConversationTurn, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.turns) == 0 {
		return ConversationTurn{}, false
	}
	last := &c.turns[len(c.turns)-1]
	if last.ID != id || last.Role != RoleAssistant {
		return ConversationTurn{}, false
	}
	last.Content += chunk
	return *last, true
}

// Turns returns a copy of all turns in insertion order
func (c *Conversation) Turns() []ConversationTurn {
	c.mu.RLock()
	defer c.mu.RUnlock()

	turns := make([]ConversationTurn, len(c.turns))
	copy(turns, c.turns)
	return turns
}

// History returns the turns usable as model context, skipping turns whose
// content is blank.
func (c *Conversation) History() []ConversationTurn {
	c.mu.RLock()
	defer c.mu.RUnlock()

	history := make([]ConversationTurn, 0, len(c.turns))
	for _, turn := range c.turns {
		if strings.TrimSpace(turn.Content) == "" {
			continue
		}
		history = append(history, turn)
	}
	return history
}

// Len returns the number of turns
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.turns)
}

// Reset drops every turn
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = make([]ConversationTurn, 0)
}
