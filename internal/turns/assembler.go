package turns

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eleven-am/voice-live/internal/shared"
)

type Message struct {
	ID        string         `json:"id"`
	Speaker   shared.Speaker `json:"speaker"`
	Text      string         `json:"text"`
	Timestamp time.Time      `json:"timestamp"`
	Partial   bool           `json:"partial"`
}

// Finalized holds the messages finalized by one Complete or Interrupt call,
// user before model.
type Finalized []Message

// Text joins the finalized texts with a single space.
func (f Finalized) Text() string {
	parts := make([]string, 0, len(f))
	for _, m := range f {
		if m.Text != "" {
			parts = append(parts, m.Text)
		}
	}
	return strings.Join(parts, " ")
}

// Observer is notified after each mutation, outside the assembler lock.
// OnFinal carries the ID of the partial message the final one replaces.
type Observer interface {
	OnPartial(msg Message)
	OnFinal(msg Message, replaces string)
}

type State string

const (
	StateIdle         State = "idle"
	StateAccumulating State = "accumulating"
)

type slot struct {
	partial *Message
	text    strings.Builder
}

// Assembler accumulates streamed transcript fragments per speaker and turns
// them into finalized messages. At most one partial message per speaker
// exists at any time.
type Assembler struct {
	now   func() time.Time
	newID func() string

	mu         sync.Mutex
	slots      map[shared.Speaker]*slot
	transcript []*Message
	observers  []Observer
}

func NewAssembler() *Assembler {
	return &Assembler{
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
		slots: map[shared.Speaker]*slot{
			shared.SpeakerUser:  {},
			shared.SpeakerModel: {},
		},
	}
}

func (a *Assembler) Subscribe(o Observer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observers = append(a.observers, o)
}

// Fragment appends text to the speaker's partial message, creating it when
// the slot is idle. The partial keeps its identity across fragments. A
// partial left behind by ClearPending is taken over, so its ID is reused and
// the transcript never holds two partials for one speaker.
func (a *Assembler) Fragment(speaker shared.Speaker, text string) (Message, bool) {
	a.mu.Lock()
	s, ok := a.slots[speaker]
	if !ok || text == "" {
		a.mu.Unlock()
		return Message{}, false
	}

	s.text.WriteString(text)
	if s.partial == nil {
		s.partial = a.stalePartial(speaker)
	}
	if s.partial == nil {
		s.partial = &Message{
			ID:      a.newID(),
			Speaker: speaker,
			Partial: true,
		}
		a.transcript = append(a.transcript, s.partial)
	}
	s.partial.Text = s.text.String()
	s.partial.Timestamp = a.now()
	msg := *s.partial
	observers := a.observers
	a.mu.Unlock()

	for _, o := range observers {
		o.OnPartial(msg)
	}
	return msg, true
}

// Complete finalizes every accumulating slot with non-empty text.
func (a *Assembler) Complete() Finalized {
	return a.finalize(shared.SpeakerUser, shared.SpeakerModel)
}

// Interrupt finalizes only the model slot. The user is never cut off.
func (a *Assembler) Interrupt() Finalized {
	return a.finalize(shared.SpeakerModel)
}

type replacement struct {
	msg      Message
	replaces string
}

func (a *Assembler) finalize(speakers ...shared.Speaker) Finalized {
	a.mu.Lock()
	var done []replacement
	for _, speaker := range speakers {
		s := a.slots[speaker]
		if s.partial == nil || s.text.Len() == 0 {
			continue
		}
		final := &Message{
			ID:        a.newID(),
			Speaker:   speaker,
			Text:      s.text.String(),
			Timestamp: a.now(),
		}
		a.remove(s.partial.ID)
		a.transcript = append(a.transcript, final)
		done = append(done, replacement{msg: *final, replaces: s.partial.ID})

		s.partial = nil
		s.text.Reset()
	}
	observers := a.observers
	a.mu.Unlock()

	out := make(Finalized, 0, len(done))
	for _, r := range done {
		out = append(out, r.msg)
		for _, o := range observers {
			o.OnFinal(r.msg, r.replaces)
		}
	}
	return out
}

func (a *Assembler) stalePartial(speaker shared.Speaker) *Message {
	for _, m := range a.transcript {
		if m.Partial && m.Speaker == speaker {
			return m
		}
	}
	return nil
}

func (a *Assembler) remove(id string) {
	for i, m := range a.transcript {
		if m.ID == id {
			a.transcript = append(a.transcript[:i], a.transcript[i+1:]...)
			return
		}
	}
}

func (a *Assembler) State(speaker shared.Speaker) State {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.slots[speaker]; ok && s.partial != nil {
		return StateAccumulating
	}
	return StateIdle
}

// Pending returns the text accumulated for speaker in the current turn.
func (a *Assembler) Pending(speaker shared.Speaker) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.slots[speaker]; ok {
		return s.text.String()
	}
	return ""
}

// Transcript returns a snapshot of all messages in display order.
func (a *Assembler) Transcript() []Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Message, len(a.transcript))
	for i, m := range a.transcript {
		out[i] = *m
	}
	return out
}

// ClearPending returns both slots to idle. Partial messages already in the
// transcript stay there as the last known text until the next fragment for
// that speaker replaces them.
func (a *Assembler) ClearPending() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range a.slots {
		s.partial = nil
		s.text.Reset()
	}
}

// Reset clears accumulators and the transcript.
func (a *Assembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range a.slots {
		s.partial = nil
		s.text.Reset()
	}
	a.transcript = nil
}
