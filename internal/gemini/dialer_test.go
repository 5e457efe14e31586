package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/oauth2"
	"google.golang.org/genai"

	"github.com/eleven-am/voice-live/internal/audio"
	"github.com/eleven-am/voice-live/internal/shared"
	"github.com/eleven-am/voice-live/internal/transport"
)

type fakeLive struct {
	t       *testing.T
	server  *httptest.Server
	setups  chan setupMessage
	frames  chan audio.Blob
	headers chan http.Header
	queries chan string
	conns   chan *websocket.Conn
}

func newFakeLive(t *testing.T) *fakeLive {
	f := &fakeLive{
		t:       t,
		setups:  make(chan setupMessage, 1),
		frames:  make(chan audio.Blob, 64),
		headers: make(chan http.Header, 1),
		queries: make(chan string, 1),
		conns:   make(chan *websocket.Conn, 1),
	}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.headers <- r.Header.Clone()
		f.queries <- r.URL.RawQuery

		var setup setupMessage
		if err := ws.ReadJSON(&setup); err != nil {
			ws.Close()
			return
		}
		f.setups <- setup
		f.conns <- ws

		for {
			var msg realtimeInputMessage
			if err := ws.ReadJSON(&msg); err != nil {
				return
			}
			if msg.RealtimeInput.Audio != nil {
				f.frames <- *msg.RealtimeInput.Audio
			}
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeLive) url() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

func (f *fakeLive) conn() *websocket.Conn {
	select {
	case ws := <-f.conns:
		return ws
	case <-time.After(2 * time.Second):
		f.t.Fatal("server never received setup")
		return nil
	}
}

func (f *fakeLive) sendJSON(ws *websocket.Conn, v any) {
	if err := ws.WriteJSON(v); err != nil {
		f.t.Fatalf("server write: %v", err)
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testProfile() transport.Profile {
	return transport.Profile{
		Mode:        shared.ModeConversation,
		Instruction: "Be concise.",
		Modalities:  []transport.Modality{transport.ModalityAudio},
	}
}

func nextEvent(t *testing.T, events <-chan transport.Event) transport.Event {
	t.Helper()
	select {
	case evt, ok := <-events:
		if !ok {
			t.Fatal("events channel closed")
		}
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return transport.Event{}
	}
}

func nextFrame(t *testing.T, frames <-chan audio.Blob) audio.Blob {
	t.Helper()
	select {
	case f := <-frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return audio.Blob{}
	}
}

func TestDialer_MissingCredential(t *testing.T) {
	d := NewDialer(Config{Endpoint: "ws://127.0.0.1:1"}, testLogger())

	_, err := d.Open(context.Background(), testProfile())
	if !errors.Is(err, shared.ErrCredentialMissing) {
		t.Errorf("expected ErrCredentialMissing, got %v", err)
	}
}

func TestDialer_InvalidProfile(t *testing.T) {
	d := NewDialer(Config{APIKey: "k"}, testLogger())

	_, err := d.Open(context.Background(), transport.Profile{Mode: shared.ModeConversation})
	if !errors.Is(err, shared.ErrTransportOpen) {
		t.Errorf("expected ErrTransportOpen, got %v", err)
	}
}

func TestDialer_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer server.Close()

	d := NewDialer(Config{Endpoint: "ws" + strings.TrimPrefix(server.URL, "http"), APIKey: "bad"}, testLogger())
	_, err := d.Open(context.Background(), testProfile())
	if !errors.Is(err, shared.ErrTransportOpen) {
		t.Fatalf("expected ErrTransportOpen, got %v", err)
	}
	if !strings.Contains(err.Error(), "403") {
		t.Errorf("expected status in error, got %v", err)
	}
}

func TestDialer_SetupMessage(t *testing.T) {
	live := newFakeLive(t)
	d := NewDialer(Config{Endpoint: live.url(), APIKey: "secret", Model: "gemini-test"}, testLogger())

	sess, err := d.Open(context.Background(), testProfile())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sess.Close()

	setup := <-live.setups
	if setup.Setup.Model != "models/gemini-test" {
		t.Errorf("model = %q", setup.Setup.Model)
	}
	if setup.Setup.SystemInstruction == nil || setup.Setup.SystemInstruction.Parts[0].Text != "Be concise." {
		t.Errorf("unexpected system instruction: %+v", setup.Setup.SystemInstruction)
	}
	if sc := setup.Setup.GenerationConfig.SpeechConfig; sc == nil || sc.VoiceConfig.PrebuiltVoiceConfig.VoiceName != DefaultVoice {
		t.Errorf("expected default voice %s, got %+v", DefaultVoice, sc)
	}
	if got := setup.Setup.GenerationConfig.ResponseModalities; len(got) != 1 || got[0] != transport.ModalityAudio {
		t.Errorf("modalities = %v", got)
	}
	if setup.Setup.InputAudioTranscription == nil || setup.Setup.OutputAudioTranscription == nil {
		t.Error("expected both transcriptions enabled")
	}
	if q := <-live.queries; q != "key=secret" {
		t.Errorf("query = %q", q)
	}
}

func TestDialer_BearerToken(t *testing.T) {
	live := newFakeLive(t)
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok", TokenType: "Bearer"})
	d := NewDialer(Config{Endpoint: live.url(), TokenSource: ts}, testLogger())

	sess, err := d.Open(context.Background(), testProfile())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sess.Close()

	if got := (<-live.headers).Get("Authorization"); got != "Bearer tok" {
		t.Errorf("Authorization = %q", got)
	}
}

func TestSession_QueuesFramesUntilSetupComplete(t *testing.T) {
	live := newFakeLive(t)
	d := NewDialer(Config{Endpoint: live.url(), APIKey: "k"}, testLogger())

	sess, err := d.Open(context.Background(), testProfile())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sess.Close()
	ws := live.conn()

	for _, data := range []string{"AAAA", "BBBB", "CCCC"} {
		if err := sess.Send(audio.Blob{MIMEType: audio.InputMIMEType, Data: data}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	select {
	case f := <-live.frames:
		t.Fatalf("frame %q delivered before setupComplete", f.Data)
	case <-time.After(100 * time.Millisecond):
	}
	if n := sess.(*Session).Pending(); n != 3 {
		t.Errorf("expected 3 pending frames, got %d", n)
	}

	live.sendJSON(ws, map[string]any{"setupComplete": map[string]any{}})
	if evt := nextEvent(t, sess.Events()); evt.Kind != transport.EventOpened {
		t.Fatalf("expected opened, got %s", evt)
	}

	for _, want := range []string{"AAAA", "BBBB", "CCCC"} {
		if got := nextFrame(t, live.frames); got.Data != want {
			t.Errorf("expected frame %s, got %s", want, got.Data)
		}
	}

	sess.Send(audio.Blob{MIMEType: audio.InputMIMEType, Data: "DDDD"})
	if got := nextFrame(t, live.frames); got.Data != "DDDD" {
		t.Errorf("expected frame DDDD after ready, got %s", got.Data)
	}
	if n := sess.(*Session).Pending(); n != 0 {
		t.Errorf("expected queue drained, got %d", n)
	}
}

func TestSession_EventOrder(t *testing.T) {
	live := newFakeLive(t)
	d := NewDialer(Config{Endpoint: live.url(), APIKey: "k"}, testLogger())

	sess, err := d.Open(context.Background(), testProfile())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sess.Close()
	ws := live.conn()

	live.sendJSON(ws, map[string]any{"setupComplete": map[string]any{}})
	live.sendJSON(ws, map[string]any{
		"serverContent": map[string]any{
			"interrupted":         true,
			"turnComplete":        true,
			"inputTranscription":  map[string]any{"text": "hi"},
			"outputTranscription": map[string]any{"text": "hello"},
			"modelTurn": map[string]any{"parts": []any{
				map[string]any{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": "AAAA"}},
				map[string]any{"text": "not audio"},
				map[string]any{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": "BBBB"}},
			}},
		},
	})

	want := []transport.EventKind{
		transport.EventOpened,
		transport.EventInputTranscript,
		transport.EventOutputTranscript,
		transport.EventTurnComplete,
		transport.EventAudio,
		transport.EventAudio,
		transport.EventInterrupted,
	}
	var audioData []string
	for i, kind := range want {
		evt := nextEvent(t, sess.Events())
		if evt.Kind != kind {
			t.Fatalf("event %d: expected %s, got %s", i, kind, evt)
		}
		if evt.Kind == transport.EventAudio {
			audioData = append(audioData, evt.Audio.Data)
		}
	}
	if strings.Join(audioData, ",") != "AAAA,BBBB" {
		t.Errorf("expected both audio parts in order, got %v", audioData)
	}
}

func TestSession_SkipsMalformedMessage(t *testing.T) {
	live := newFakeLive(t)
	d := NewDialer(Config{Endpoint: live.url(), APIKey: "k"}, testLogger())

	sess, err := d.Open(context.Background(), testProfile())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sess.Close()
	ws := live.conn()

	ws.WriteMessage(websocket.TextMessage, []byte("{not json"))
	live.sendJSON(ws, map[string]any{"setupComplete": map[string]any{}})

	if evt := nextEvent(t, sess.Events()); evt.Kind != transport.EventOpened {
		t.Errorf("expected opened after malformed message, got %s", evt)
	}
}

func TestSession_RemoteClose(t *testing.T) {
	live := newFakeLive(t)
	d := NewDialer(Config{Endpoint: live.url(), APIKey: "k"}, testLogger())

	sess, err := d.Open(context.Background(), testProfile())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sess.Close()
	ws := live.conn()

	live.sendJSON(ws, map[string]any{"setupComplete": map[string]any{}})
	nextEvent(t, sess.Events())

	ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(1011, "quota"))

	evt := nextEvent(t, sess.Events())
	if evt.Kind != transport.EventClosed || !errors.Is(evt.Err, shared.ErrSessionClosed) {
		t.Fatalf("expected closed with ErrSessionClosed, got %s", evt)
	}
	if _, ok := <-sess.Events(); ok {
		t.Error("expected events channel closed after final event")
	}
	if err := sess.Send(audio.Blob{Data: "AAAA"}); !errors.Is(err, shared.ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed on send after close, got %v", err)
	}
}

func TestSession_HandshakeTimeout(t *testing.T) {
	live := newFakeLive(t)
	d := NewDialer(Config{Endpoint: live.url(), APIKey: "k", HandshakeTimeout: 50 * time.Millisecond}, testLogger())

	sess, err := d.Open(context.Background(), testProfile())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sess.Close()

	evt := nextEvent(t, sess.Events())
	if evt.Kind != transport.EventError || !errors.Is(evt.Err, shared.ErrTransportOpen) {
		t.Errorf("expected error event with ErrTransportOpen, got %s", evt)
	}
}

func TestSession_LocalClose(t *testing.T) {
	live := newFakeLive(t)
	d := NewDialer(Config{Endpoint: live.url(), APIKey: "k"}, testLogger())

	sess, err := d.Open(context.Background(), testProfile())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	live.conn()

	sess.Close()
	sess.Close()

	select {
	case evt, ok := <-sess.Events():
		if ok {
			t.Errorf("expected no event after local close, got %s", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed after local close")
	}
}

func TestFrameQueue_DropsOldest(t *testing.T) {
	q := newFrameQueue(2)
	q.push(audio.Blob{Data: "1"})
	q.push(audio.Blob{Data: "2"})
	if dropped := q.push(audio.Blob{Data: "3"}); !dropped {
		t.Error("expected overflow to report a drop")
	}

	frames := q.drain()
	if len(frames) != 2 || frames[0].Data != "2" || frames[1].Data != "3" {
		t.Errorf("expected [2 3], got %+v", frames)
	}
	if q.dropped != 1 || q.len() != 0 {
		t.Errorf("unexpected queue state: dropped=%d len=%d", q.dropped, q.len())
	}
}

func TestSession_FullOutboundBufferDropsNewFrame(t *testing.T) {
	// Not started, so nothing drains the outbound buffer.
	s := newSession(nil, 1, testLogger())
	s.markReady()

	var err error
	sent := 0
	for sent <= cap(s.out) {
		if err = s.Send(audio.Blob{Data: "x"}); err != nil {
			break
		}
		sent++
	}
	if !errors.Is(err, shared.ErrFrameDropped) {
		t.Fatalf("expected ErrFrameDropped once the buffer is full, got %v", err)
	}
	if sent != cap(s.out) {
		t.Errorf("expected %d frames accepted, got %d", cap(s.out), sent)
	}
	if s.Dropped() != 1 {
		t.Errorf("expected 1 dropped frame, got %d", s.Dropped())
	}
}

func TestFromSDK(t *testing.T) {
	msg := fromSDK(&genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{
			TurnComplete:        true,
			OutputTranscription: &genai.Transcription{Text: "ok"},
			ModelTurn: &genai.Content{Parts: []*genai.Part{
				{InlineData: &genai.Blob{MIMEType: "audio/pcm;rate=24000", Data: []byte{1, 0}}},
			}},
		},
	})

	events := msg.ServerContent.events()
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Kind != transport.EventOutputTranscript || events[1].Kind != transport.EventTurnComplete {
		t.Errorf("unexpected order: %v", events)
	}
	if events[2].Kind != transport.EventAudio || events[2].Audio.Data != audio.EncodeBase64([]byte{1, 0}) {
		t.Errorf("unexpected audio event: %s", events[2])
	}
}

func TestServerMessage_Unmarshal(t *testing.T) {
	var msg serverMessage
	raw := `{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"AAAA"}}]}}}`
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	events := msg.ServerContent.events()
	if len(events) != 1 || events[0].Audio.SampleRate() != audio.OutputSampleRate {
		t.Errorf("unexpected events: %v", events)
	}
}

func TestSDKDialer_MissingCredential(t *testing.T) {
	d := NewSDKDialer(Config{}, testLogger())
	if _, err := d.Open(context.Background(), testProfile()); !errors.Is(err, shared.ErrCredentialMissing) {
		t.Errorf("expected ErrCredentialMissing, got %v", err)
	}
}
