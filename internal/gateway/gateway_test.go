package gateway

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/eleven-am/voice-live/internal/audio"
	"github.com/eleven-am/voice-live/internal/live"
	"github.com/eleven-am/voice-live/internal/shared"
	"github.com/eleven-am/voice-live/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSession struct {
	events chan transport.Event

	mu     sync.Mutex
	sent   []audio.Blob
	closed bool
}

func (s *fakeSession) Send(frame audio.Blob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return shared.ErrSessionClosed
	}
	s.sent = append(s.sent, frame)
	return nil
}

func (s *fakeSession) Events() <-chan transport.Event { return s.events }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) frames() []audio.Blob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audio.Blob(nil), s.sent...)
}

type fakeDialer struct {
	mu       sync.Mutex
	sessions []*fakeSession
	profiles []transport.Profile
}

func (d *fakeDialer) Open(_ context.Context, p transport.Profile) (transport.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := &fakeSession{events: make(chan transport.Event, 16)}
	s.events <- transport.Event{Kind: transport.EventOpened}
	d.sessions = append(d.sessions, s)
	d.profiles = append(d.profiles, p)
	return s, nil
}

func (d *fakeDialer) last() (*fakeSession, transport.Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[len(d.sessions)-1], d.profiles[len(d.profiles)-1]
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []*ServerMessage
	fail bool
}

func (r *recordingSender) Send(msg *ServerMessage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return false
	}
	r.msgs = append(r.msgs, msg)
	return true
}

func (r *recordingSender) types() []MessageType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []MessageType
	for _, m := range r.msgs {
		out = append(out, m.Type)
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func encodeFrame(samples []float32) []byte {
	data := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(s))
	}
	return data
}

func modelAudio(d time.Duration) audio.Blob {
	n := int(int64(d) * audio.OutputSampleRate / int64(time.Second))
	return audio.Blob{MIMEType: audio.OutputMIMEType, Data: audio.EncodeBase64(audio.EncodePCM16(make([]int16, n)))}
}

func TestDecodeFrame(t *testing.T) {
	in := []float32{0, 0.5, -1, 1}
	got := DecodeFrame(append(encodeFrame(in), 0x01, 0x02))
	if len(got) != len(in) {
		t.Fatalf("expected %d samples, got %d", len(in), len(got))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Errorf("sample %d: expected %v, got %v", i, in[i], got[i])
		}
	}
}

func TestCaptureDevice_RequiresSampleRate(t *testing.T) {
	d := newCaptureDevice(testLogger())
	if _, err := d.Open(context.Background()); !errors.Is(err, ErrNoSampleRate) {
		t.Fatalf("expected ErrNoSampleRate, got %v", err)
	}

	d.setRate(44100)
	s, err := d.Open(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.SampleRate() != 44100 {
		t.Errorf("expected 44100, got %d", s.SampleRate())
	}

	d.push(encodeFrame([]float32{0.1, 0.2}))
	block := <-s.Blocks()
	if len(block) != 2 {
		t.Errorf("expected 2 samples, got %d", len(block))
	}
}

func TestCaptureDevice_ReopenClosesPrevious(t *testing.T) {
	d := newCaptureDevice(testLogger())
	d.setRate(48000)
	first, _ := d.Open(context.Background())
	second, _ := d.Open(context.Background())

	if _, ok := <-first.Blocks(); ok {
		t.Error("expected first stream closed")
	}

	d.push(encodeFrame([]float32{1}))
	select {
	case <-second.Blocks():
	case <-time.After(time.Second):
		t.Fatal("expected frame on the new stream")
	}

	second.Close()
	second.Close()
	d.push(encodeFrame([]float32{1}))
}

func TestOutputStream_PlayAndStop(t *testing.T) {
	client := &recordingSender{}
	now := time.Unix(1000, 0)
	s := newOutputStream("out_1", client, func() time.Time { return now })

	ended := make(chan struct{}, 1)
	h, err := s.Schedule("src_1", audio.Buffer{Samples: make([]float32, 2400), SampleRate: 24000}, 250*time.Millisecond, func() { ended <- struct{}{} })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	play := client.msgs[0]
	if play.Type != MessageTypePlay || play.ID != "src_1" || play.Stream != "out_1" {
		t.Errorf("unexpected play message: %+v", play)
	}
	if play.StartAt == nil || *play.StartAt != 0.25 || play.SampleRate != 24000 {
		t.Errorf("unexpected timing: start=%v rate=%d", play.StartAt, play.SampleRate)
	}
	pcm, err := audio.DecodeBase64(play.Data)
	if err != nil || len(pcm) != 4800 {
		t.Errorf("expected 4800 PCM bytes, got %d (%v)", len(pcm), err)
	}

	h.Stop()
	h.Stop()
	if got := client.types(); len(got) != 2 || got[1] != MessageTypeStop {
		t.Errorf("expected a single stop message, got %v", got)
	}
	select {
	case <-ended:
		t.Error("onEnded must not fire after Stop")
	case <-time.After(450 * time.Millisecond):
	}
}

func TestOutputStream_NaturalEnd(t *testing.T) {
	client := &recordingSender{}
	s := newOutputStream("out_1", client, time.Now)

	ended := make(chan struct{})
	_, err := s.Schedule("src_1", audio.Buffer{Samples: make([]float32, 240), SampleRate: 24000}, 0, func() { close(ended) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case <-ended:
	case <-time.After(time.Second):
		t.Fatal("expected onEnded")
	}
}

func TestOutputStream_CloseStopsPending(t *testing.T) {
	client := &recordingSender{}
	s := newOutputStream("out_1", client, time.Now)
	buf := audio.Buffer{Samples: make([]float32, 24000), SampleRate: 24000}
	s.Schedule("a", buf, 0, nil)
	s.Schedule("b", buf, time.Second, nil)

	s.Close()
	stops := 0
	for _, typ := range client.types() {
		if typ == MessageTypeStop {
			stops++
		}
	}
	if stops != 2 {
		t.Errorf("expected 2 stop messages, got %d", stops)
	}
	if _, err := s.Schedule("c", buf, 0, nil); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("expected ErrStreamClosed, got %v", err)
	}
}

func TestOutputStream_UndeliverableFails(t *testing.T) {
	s := newOutputStream("out_1", &recordingSender{fail: true}, time.Now)
	if _, err := s.Schedule("a", audio.Buffer{Samples: make([]float32, 10), SampleRate: 24000}, 0, nil); err == nil {
		t.Error("expected error when the client cannot receive")
	}
}

func TestHandleLive_InvalidMode(t *testing.T) {
	h := NewHandler(Config{Dialer: &fakeDialer{}}, testLogger())
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/live?mode=upload", nil), httptest.NewRecorder())

	err := h.HandleLive(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

type liveClient struct {
	t  *testing.T
	ws *websocket.Conn
}

func dialLive(t *testing.T, h *Handler, query string) *liveClient {
	t.Helper()
	e := echo.New()
	h.RegisterRoutes(e.Group("/api/v1"))
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/live" + query
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return &liveClient{t: t, ws: ws}
}

// next reads until a message of the given type arrives.
func (c *liveClient) next(typ MessageType) *ServerMessage {
	c.t.Helper()
	_ = c.ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg ServerMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			c.t.Fatalf("waiting for %s: %v", typ, err)
		}
		if msg.Type == typ {
			return &msg
		}
	}
}

func (c *liveClient) state(want live.State) {
	c.t.Helper()
	for {
		msg := c.next(MessageTypeState)
		if msg.State == want {
			return
		}
	}
}

func TestHandleLive_Conversation(t *testing.T) {
	dialer := &fakeDialer{}
	h := NewHandler(Config{Dialer: dialer}, testLogger())
	c := dialLive(t, h, "?mode=conversation")

	c.ws.WriteJSON(ClientMessage{Type: MessageTypeHello, SampleRate: 48000})
	c.state(live.StateConnected)
	if h.Active() != 1 {
		t.Errorf("expected 1 active client, got %d", h.Active())
	}

	block := make([]float32, 4096)
	for i := range block {
		block[i] = 0.5
	}
	c.ws.WriteMessage(websocket.BinaryMessage, encodeFrame(block))
	vol := c.next(MessageTypeVolume)
	if vol.Level == nil || *vol.Level != 1 {
		t.Errorf("expected clamped volume 1, got %v", vol.Level)
	}

	sess, profile := dialer.last()
	if profile.Mode != shared.ModeConversation {
		t.Errorf("expected conversation profile, got %s", profile.Mode)
	}
	waitFor(t, func() bool { return len(sess.frames()) == 1 })
	if frame := sess.frames()[0]; frame.MIMEType != audio.InputMIMEType {
		t.Errorf("expected a 16 kHz frame, got %s", frame.MIMEType)
	}

	sess.events <- transport.Event{Kind: transport.EventOutputTranscript, Text: "Hel"}
	partial := c.next(MessageTypeMessage)
	if !partial.Message.Partial || partial.Message.Text != "Hel" || partial.Message.Speaker != shared.SpeakerModel {
		t.Errorf("unexpected partial: %+v", partial.Message)
	}

	sess.events <- transport.Event{Kind: transport.EventAudio, Audio: modelAudio(500 * time.Millisecond)}
	play := c.next(MessageTypePlay)
	if play.Stream == "" || play.SampleRate != audio.OutputSampleRate {
		t.Errorf("unexpected play message: %+v", play)
	}

	sess.events <- transport.Event{Kind: transport.EventInterrupted}
	final := c.next(MessageTypeMessage)
	if final.Message.Partial || final.Replaces != partial.Message.ID || final.Message.Text != "Hel" {
		t.Errorf("unexpected final: %+v replaces=%s", final.Message, final.Replaces)
	}
	stop := c.next(MessageTypeStop)
	if stop.ID != play.ID {
		t.Errorf("expected stop for %s, got %s", play.ID, stop.ID)
	}
	c.next(MessageTypeExtraction)

	c.ws.WriteJSON(ClientMessage{Type: MessageTypeDisconnect})
	c.state(live.StateDisconnected)
}

func TestHandleLive_ModeChangeReconnects(t *testing.T) {
	dialer := &fakeDialer{}
	h := NewHandler(Config{Dialer: dialer}, testLogger())
	c := dialLive(t, h, "")

	c.ws.WriteJSON(ClientMessage{Type: MessageTypeHello, SampleRate: 16000})
	c.state(live.StateConnected)

	c.ws.WriteJSON(ClientMessage{Type: MessageTypeHello, Mode: "dictation"})
	c.state(live.StateDisconnected)
	c.state(live.StateConnected)

	dialer.mu.Lock()
	first := dialer.sessions[0]
	dialer.mu.Unlock()
	if !first.isClosed() {
		t.Error("previous session should be closed")
	}
	if _, p := dialer.last(); p.Mode != shared.ModeDictation {
		t.Errorf("expected dictation profile, got %s", p.Mode)
	}
}

func TestHandleLive_UnknownMessage(t *testing.T) {
	h := NewHandler(Config{Dialer: &fakeDialer{}}, testLogger())
	c := dialLive(t, h, "")

	c.ws.WriteJSON(ClientMessage{Type: "ping"})
	msg := c.next(MessageTypeError)
	if msg.Code != "unknown_message" {
		t.Errorf("expected unknown_message, got %s", msg.Code)
	}
}

func TestHandleLive_ClientGoneReleasesSession(t *testing.T) {
	dialer := &fakeDialer{}
	h := NewHandler(Config{Dialer: dialer}, testLogger())
	c := dialLive(t, h, "")

	c.ws.WriteJSON(ClientMessage{Type: MessageTypeHello, SampleRate: 48000})
	c.state(live.StateConnected)
	c.ws.Close()

	sess, _ := dialer.last()
	waitFor(t, func() bool { return sess.isClosed() && h.Active() == 0 })
}
