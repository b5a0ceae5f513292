package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicebridge-ai/voicebridge/pkg/bridge/protocol"
)

type fakeRealtimeServer struct {
	t        *testing.T
	upgrader websocket.Upgrader

	gotAuth   chan string
	gotFrames chan map[string]any
	conns     chan *websocket.Conn
}

func newFakeRealtimeServer(t *testing.T) *fakeRealtimeServer {
	return &fakeRealtimeServer{
		t:         t,
		gotAuth:   make(chan string, 1),
		gotFrames: make(chan map[string]any, 16),
		conns:     make(chan *websocket.Conn, 1),
	}
}

func (s *fakeRealtimeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.gotAuth <- r.Header.Get("Authorization")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.t.Errorf("upgrade: %v", err)
		return
	}
	s.conns <- conn
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			s.t.Errorf("server decode: %v", err)
			return
		}
		s.gotFrames <- frame
	}
}

func dialFake(t *testing.T, srv *fakeRealtimeServer) *Client {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, Config{
		URL:          "ws" + strings.TrimPrefix(ts.URL, "http"),
		APIKey:       "sk-test",
		Voice:        "alloy",
		Instructions: "be brief",
		Temperature:  0.8,
		Logger:       slog.New(slog.NewTextHandler(testWriter{t}, nil)),
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSpace(string(p)))
	return len(p), nil
}

func waitFrame(t *testing.T, srv *fakeRealtimeServer) map[string]any {
	t.Helper()
	select {
	case frame := <-srv.gotFrames:
		return frame
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func TestDial_SendsAuthAndSessionUpdate(t *testing.T) {
	srv := newFakeRealtimeServer(t)
	c := dialFake(t, srv)

	if auth := <-srv.gotAuth; auth != "Bearer sk-test" {
		t.Fatalf("auth header=%q", auth)
	}
	frame := waitFrame(t, srv)
	if frame["type"] != "session.update" {
		t.Fatalf("first frame type=%v, want session.update", frame["type"])
	}
	session := frame["session"].(map[string]any)
	if session["voice"] != "alloy" || session["input_audio_format"] != "g711_ulaw" {
		t.Fatalf("session=%v", session)
	}
	if c.State() != StateReady {
		t.Fatalf("state=%v, want READY", c.State())
	}
}

func TestAppendAudio_ForwardsInReadyDropsAfterClose(t *testing.T) {
	srv := newFakeRealtimeServer(t)
	c := dialFake(t, srv)
	waitFrame(t, srv) // session.update

	if err := c.AppendAudio("AAAA"); err != nil {
		t.Fatalf("append: %v", err)
	}
	frame := waitFrame(t, srv)
	if frame["type"] != "input_audio_buffer.append" || frame["audio"] != "AAAA" {
		t.Fatalf("frame=%v", frame)
	}

	c.Close()
	if err := c.AppendAudio("BBBB"); err != nil {
		t.Fatalf("append after close must drop silently, got %v", err)
	}
}

func TestTruncate_SendsItemTruncate(t *testing.T) {
	srv := newFakeRealtimeServer(t)
	c := dialFake(t, srv)
	waitFrame(t, srv) // session.update

	if err := c.Truncate("item_1", 500); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	frame := waitFrame(t, srv)
	if frame["type"] != "conversation.item.truncate" {
		t.Fatalf("frame=%v", frame)
	}
	if frame["item_id"] != "item_1" || frame["audio_end_ms"] != float64(500) || frame["content_index"] != float64(0) {
		t.Fatalf("truncate frame=%v", frame)
	}
}

func TestEvents_DeliversDecodedEventsAndClosesOnDisconnect(t *testing.T) {
	srv := newFakeRealtimeServer(t)
	c := dialFake(t, srv)
	serverConn := <-srv.conns

	payloads := []string{
		`{"type":"response.audio.delta","item_id":"item_1","delta":"AAAA"}`,
		`{"type":"rate_limits.updated"}`,
		`{"type":"input_audio_buffer.speech_started"}`,
	}
	for _, p := range payloads {
		if err := serverConn.WriteMessage(websocket.TextMessage, []byte(p)); err != nil {
			t.Fatalf("server write: %v", err)
		}
	}

	ev := <-c.Events()
	delta, ok := ev.(protocol.RealtimeAudioDelta)
	if !ok || delta.ItemID != "item_1" {
		t.Fatalf("first event=%#v", ev)
	}
	// The rate_limits event is filtered; speech_started comes next.
	ev = <-c.Events()
	if _, ok := ev.(protocol.RealtimeSpeechStarted); !ok {
		t.Fatalf("second event=%#v", ev)
	}

	serverConn.Close()
	select {
	case _, open := <-c.Events():
		if open {
			t.Fatal("expected events channel to close after disconnect")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("events channel did not close")
	}
	if c.State() != StateClosed {
		t.Fatalf("state=%v, want CLOSED", c.State())
	}
	if c.Err() == nil {
		t.Fatal("transport error must be recorded")
	}
}

func TestClose_IsIdempotentAndLeavesNoError(t *testing.T) {
	srv := newFakeRealtimeServer(t)
	c := dialFake(t, srv)

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	for range c.Events() {
	}
	if err := c.Err(); err != nil {
		t.Fatalf("deliberate close must not record a transport error, got %v", err)
	}
}
