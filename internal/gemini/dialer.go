package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/oauth2"

	"github.com/eleven-am/voice-live/internal/audio"
	"github.com/eleven-am/voice-live/internal/shared"
	"github.com/eleven-am/voice-live/internal/transport"
)

const (
	DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	DefaultModel    = "gemini-2.5-flash-native-audio-preview-09-2025"
	DefaultVoice    = "Kore"

	writeWait      = 10 * time.Second
	maxMessageSize = 4 * 1024 * 1024
)

type Config struct {
	Endpoint    string
	Model       string
	Voice       string
	APIKey      string
	TokenSource oauth2.TokenSource

	PendingFrames    int
	HandshakeTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Voice == "" {
		c.Voice = DefaultVoice
	}
	if c.PendingFrames <= 0 {
		c.PendingFrames = DefaultPendingFrames
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 15 * time.Second
	}
	return c
}

// Dialer opens BidiGenerateContent sessions over a raw websocket.
type Dialer struct {
	cfg    Config
	ws     *websocket.Dialer
	logger *slog.Logger
}

func NewDialer(cfg Config, logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{
		cfg: cfg.withDefaults(),
		ws: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		logger: logger.With("component", "gemini"),
	}
}

func (d *Dialer) Open(ctx context.Context, profile transport.Profile) (transport.Session, error) {
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrTransportOpen, err)
	}

	target, header, err := d.credentials()
	if err != nil {
		return nil, err
	}

	ws, resp, err := d.ws.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dial: %v (status %d)", shared.ErrTransportOpen, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: dial: %v", shared.ErrTransportOpen, err)
	}
	ws.SetReadLimit(maxMessageSize)

	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteJSON(newSetup(d.cfg.Model, d.cfg.Voice, profile)); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("%w: setup: %v", shared.ErrTransportOpen, err)
	}

	log := d.logger.With("mode", profile.Mode.String())
	sess := newSession(&wsConn{ws: ws}, d.cfg.PendingFrames, log)
	sess.start(d.cfg.HandshakeTimeout)
	log.Info("live session dialed", "model", d.cfg.Model)
	return sess, nil
}

func (d *Dialer) CheckCredential() error {
	if d.cfg.APIKey == "" && d.cfg.TokenSource == nil {
		return shared.ErrCredentialMissing
	}
	return nil
}

func (d *Dialer) credentials() (string, http.Header, error) {
	u, err := url.Parse(d.cfg.Endpoint)
	if err != nil {
		return "", nil, fmt.Errorf("%w: endpoint: %v", shared.ErrTransportOpen, err)
	}
	header := http.Header{}

	switch {
	case d.cfg.APIKey != "":
		q := u.Query()
		q.Set("key", d.cfg.APIKey)
		u.RawQuery = q.Encode()
	case d.cfg.TokenSource != nil:
		tok, err := d.cfg.TokenSource.Token()
		if err != nil {
			return "", nil, fmt.Errorf("%w: token: %v", shared.ErrCredentialMissing, err)
		}
		header.Set("Authorization", tok.Type()+" "+tok.AccessToken)
	default:
		return "", nil, shared.ErrCredentialMissing
	}
	return u.String(), header, nil
}

type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) WriteAudio(frame audio.Blob) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(realtimeInputMessage{RealtimeInput: realtimeInput{Audio: &frame}})
}

func (c *wsConn) Read() (*serverMessage, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: server message: %v", shared.ErrDecode, err)
	}
	return &msg, nil
}

func (c *wsConn) Close() error {
	_ = c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return c.ws.Close()
}
