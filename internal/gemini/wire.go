package gemini

import (
	"strings"

	"github.com/eleven-am/voice-live/internal/audio"
	"github.com/eleven-am/voice-live/internal/transport"
)

type setupMessage struct {
	Setup setup `json:"setup"`
}

type setup struct {
	Model                    string            `json:"model"`
	GenerationConfig         generationConfig  `json:"generationConfig"`
	SystemInstruction        *content          `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *transcriptionCfg `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *transcriptionCfg `json:"outputAudioTranscription,omitempty"`
}

type transcriptionCfg struct{}

type generationConfig struct {
	ResponseModalities []transport.Modality `json:"responseModalities"`
	SpeechConfig       *speechConfig        `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoice `json:"prebuiltVoiceConfig"`
}

type prebuiltVoice struct {
	VoiceName string `json:"voiceName"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *audio.Blob `json:"inlineData,omitempty"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	Audio *audio.Blob `json:"audio,omitempty"`
}

type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
	GoAway        *goAway        `json:"goAway,omitempty"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

func modelName(model string) string {
	if strings.HasPrefix(model, "models/") {
		return model
	}
	return "models/" + model
}

func newSetup(model, defaultVoice string, p transport.Profile) setupMessage {
	s := setup{
		Model:                    modelName(model),
		GenerationConfig:         generationConfig{ResponseModalities: p.Modalities},
		InputAudioTranscription:  &transcriptionCfg{},
		OutputAudioTranscription: &transcriptionCfg{},
	}
	if p.Instruction != "" {
		s.SystemInstruction = &content{Parts: []part{{Text: p.Instruction}}}
	}
	voice := p.Voice
	if voice == "" {
		voice = defaultVoice
	}
	if voice != "" {
		s.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoice{VoiceName: voice}},
		}
	}
	return setupMessage{Setup: s}
}

// events flattens one serverContent message in the order input transcript,
// output transcript, turn complete, audio parts, interrupted. Every audio
// part of a multi-part model turn becomes its own event.
func (sc *serverContent) events() []transport.Event {
	var out []transport.Event
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		out = append(out, transport.Event{Kind: transport.EventInputTranscript, Text: sc.InputTranscription.Text})
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		out = append(out, transport.Event{Kind: transport.EventOutputTranscript, Text: sc.OutputTranscription.Text})
	}
	if sc.TurnComplete {
		out = append(out, transport.Event{Kind: transport.EventTurnComplete})
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" || !p.InlineData.IsAudio() {
				continue
			}
			out = append(out, transport.Event{Kind: transport.EventAudio, Audio: *p.InlineData})
		}
	}
	if sc.Interrupted {
		out = append(out, transport.Event{Kind: transport.EventInterrupted})
	}
	return out
}
