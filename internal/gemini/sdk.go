package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"google.golang.org/genai"

	"github.com/eleven-am/voice-live/internal/audio"
	"github.com/eleven-am/voice-live/internal/shared"
	"github.com/eleven-am/voice-live/internal/transport"
)

// SDKDialer opens sessions through the genai Live client. The client is
// created on first use so a missing key surfaces at connect time.
type SDKDialer struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	client *genai.Client
}

func NewSDKDialer(cfg Config, logger *slog.Logger) *SDKDialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SDKDialer{
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "gemini", "transport", "sdk"),
	}
}

func (d *SDKDialer) CheckCredential() error {
	if d.cfg.APIKey == "" {
		return shared.ErrCredentialMissing
	}
	return nil
}

func (d *SDKDialer) liveClient(ctx context.Context) (*genai.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		return d.client, nil
	}
	if d.cfg.APIKey == "" {
		return nil, shared.ErrCredentialMissing
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  d.cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: client: %v", shared.ErrTransportOpen, err)
	}
	d.client = client
	return client, nil
}

func (d *SDKDialer) Open(ctx context.Context, profile transport.Profile) (transport.Session, error) {
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrTransportOpen, err)
	}
	client, err := d.liveClient(ctx)
	if err != nil {
		return nil, err
	}

	live, err := client.Live.Connect(ctx, d.cfg.Model, liveConfig(d.cfg.Voice, profile))
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", shared.ErrTransportOpen, err)
	}

	log := d.logger.With("mode", profile.Mode.String())
	sess := newSession(&sdkConn{live: live}, d.cfg.PendingFrames, log)
	sess.start(d.cfg.HandshakeTimeout)
	log.Info("live session connected", "model", d.cfg.Model)
	return sess, nil
}

func liveConfig(defaultVoice string, p transport.Profile) *genai.LiveConnectConfig {
	modalities := make([]genai.Modality, len(p.Modalities))
	for i, m := range p.Modalities {
		modalities[i] = genai.Modality(m)
	}
	cfg := &genai.LiveConnectConfig{
		ResponseModalities:       modalities,
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if p.Instruction != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: p.Instruction}}}
	}
	voice := p.Voice
	if voice == "" {
		voice = defaultVoice
	}
	if voice != "" {
		cfg.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		}
	}
	return cfg
}

type sdkConn struct {
	live *genai.Session
}

func (c *sdkConn) WriteAudio(frame audio.Blob) error {
	raw, err := audio.DecodeBase64(frame.Data)
	if err != nil {
		return err
	}
	return c.live.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{MIMEType: frame.MIMEType, Data: raw},
	})
}

func (c *sdkConn) Read() (*serverMessage, error) {
	msg, err := c.live.Receive()
	if err != nil {
		return nil, err
	}
	return fromSDK(msg), nil
}

func (c *sdkConn) Close() error {
	return c.live.Close()
}

// fromSDK maps a genai message onto the wire shape so both transports share
// one event ordering.
func fromSDK(msg *genai.LiveServerMessage) *serverMessage {
	out := &serverMessage{}
	if msg.SetupComplete != nil {
		out.SetupComplete = &struct{}{}
	}
	if msg.GoAway != nil {
		out.GoAway = &goAway{}
	}

	sc := msg.ServerContent
	if sc == nil {
		return out
	}
	converted := &serverContent{
		TurnComplete: sc.TurnComplete,
		Interrupted:  sc.Interrupted,
	}
	if sc.InputTranscription != nil {
		converted.InputTranscription = &transcription{Text: sc.InputTranscription.Text}
	}
	if sc.OutputTranscription != nil {
		converted.OutputTranscription = &transcription{Text: sc.OutputTranscription.Text}
	}
	if sc.ModelTurn != nil {
		turn := &content{}
		for _, p := range sc.ModelTurn.Parts {
			if p == nil || p.InlineData == nil {
				continue
			}
			turn.Parts = append(turn.Parts, part{InlineData: &audio.Blob{
				MIMEType: p.InlineData.MIMEType,
				Data:     audio.EncodeBase64(p.InlineData.Data),
			}})
		}
		converted.ModelTurn = turn
	}
	out.ServerContent = converted
	return out
}
