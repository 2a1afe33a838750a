package websocket

import (
	"github.com/satriahrh/voicechat/domain/entities"
	"github.com/satriahrh/voicechat/internal/audio"
	"github.com/satriahrh/voicechat/usecase"
)

// clientObserver mirrors the conversation onto the client's connection.
// Every method only queues a message, so it never blocks the loop.
type clientObserver struct {
	client *Client
}

var _ usecase.OrchestratorObserver = (*clientObserver)(nil)

func (o *clientObserver) OnStateChanged(state usecase.OrchestratorState) {
	o.client.sendJSON(StateMessage{BaseMessage: newBase(MessageTypeState), State: state.String()})
}

func (o *clientObserver) OnTurn(turn entities.ConversationTurn) {
	o.client.sendJSON(TurnMessage{BaseMessage: newBase(MessageTypeTurn), Turn: turn})
}

func (o *clientObserver) OnTranscript(interim, final string) {
	o.client.sendJSON(TranscriptMessage{BaseMessage: newBase(MessageTypeTranscript), Interim: interim, Final: final})
}

func (o *clientObserver) OnSpeaking(speaking bool) {
	o.client.sendJSON(SpeakingMessage{BaseMessage: newBase(MessageTypeSpeaking), Speaking: speaking})
}

// OnLevels skips the timestamp; levels arrive every frame
func (o *clientObserver) OnLevels(levels audio.Levels) {
	o.client.sendJSON(AudioLevelsMessage{BaseMessage: BaseMessage{Type: MessageTypeLevels}, Levels: levels})
}

func (o *clientObserver) OnError(message string) {
	o.client.sendJSON(CreateErrorMessage("", message))
}
