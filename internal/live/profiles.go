package live

import (
	"fmt"

	"github.com/eleven-am/voice-live/internal/shared"
	"github.com/eleven-am/voice-live/internal/transport"
)

const conversationInstruction = `You are a friendly, helpful voice assistant fluent in Khmer and English.
Hold a natural spoken conversation with the user.
Answer in Khmer when the user speaks Khmer and in English when the user speaks English.
Keep replies short and conversational so they work well when spoken aloud.`

const dictationInstruction = `You turn the user's speech into clean, well structured written text.
Khmer and English, including mixed speech, are both supported.

Rules:
1. Capture the meaning and intent, not every literal word.
2. Remove filler words, fix grammar and add punctuation.
3. Organize the text into paragraphs, use bullet points for lists and headers for topic changes.
4. Format dates, times and numbers properly.
5. Write action items as checkboxes, for example "- [ ] Call John at 3:00 PM".
6. Never add information the user did not say.
7. Do not converse or reply. Output only the enhanced text.`

// Profiles maps each mode to the instruction profile a session opens with.
type Profiles map[shared.Mode]transport.Profile

func DefaultProfiles() Profiles {
	return Profiles{
		shared.ModeConversation: {
			Mode:        shared.ModeConversation,
			Instruction: conversationInstruction,
			Modalities:  []transport.Modality{transport.ModalityAudio},
		},
		shared.ModeDictation: {
			Mode:        shared.ModeDictation,
			Instruction: dictationInstruction,
			Modalities:  []transport.Modality{transport.ModalityAudio},
		},
	}
}

func (p Profiles) Lookup(mode shared.Mode) (transport.Profile, error) {
	profile, ok := p[mode]
	if !ok {
		return transport.Profile{}, fmt.Errorf("no profile for mode %q", mode)
	}
	return profile, nil
}

func (p Profiles) Validate() error {
	for _, mode := range []shared.Mode{shared.ModeConversation, shared.ModeDictation} {
		profile, err := p.Lookup(mode)
		if err != nil {
			return err
		}
		if profile.Mode != mode {
			return fmt.Errorf("profile registered for %s declares mode %s", mode, profile.Mode)
		}
		if err := profile.Validate(); err != nil {
			return err
		}
	}
	return nil
}
