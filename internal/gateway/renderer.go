package gateway

import (
	"github.com/eleven-am/voice-live/internal/live"
	"github.com/eleven-am/voice-live/internal/shared"
	"github.com/eleven-am/voice-live/internal/turns"
)

// renderer forwards controller notifications to the client as JSON
// messages. Messages are keyed by ID so the client can replace a partial
// with its final in place.
type renderer struct {
	client sender
}

func (r *renderer) OnState(state live.State, err error) {
	msg := &ServerMessage{Type: MessageTypeState, State: state}
	if err != nil {
		msg.Code = shared.ErrorCode(err)
		msg.Error = err.Error()
	}
	r.client.Send(msg)
}

func (r *renderer) OnVolume(level float64) {
	r.client.Send(&ServerMessage{Type: MessageTypeVolume, Level: &level})
}

func (r *renderer) OnPartial(msg turns.Message) {
	r.client.Send(&ServerMessage{Type: MessageTypeMessage, Message: &msg})
}

func (r *renderer) OnFinal(msg turns.Message, replaces string) {
	r.client.Send(&ServerMessage{Type: MessageTypeMessage, Message: &msg, Replaces: replaces})
}

func (r *renderer) OnExtraction(e live.Extraction) {
	r.client.Send(&ServerMessage{Type: MessageTypeExtraction, Extraction: &e})
}
