package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicebridge-ai/voicebridge/pkg/bridge/session"
	"github.com/voicebridge-ai/voicebridge/pkg/bridge/sessions"
	"github.com/voicebridge-ai/voicebridge/pkg/gateway/config"
	"github.com/voicebridge-ai/voicebridge/pkg/gateway/lifecycle"
	"github.com/voicebridge-ai/voicebridge/pkg/gateway/mw"
)

// ModelDialer opens the speech model leg for one call.
type ModelDialer func(ctx context.Context) (session.ModelLeg, error)

// MediaStreamHandler accepts the telephony media-stream WebSocket and runs
// the bridge for the duration of the call.
type MediaStreamHandler struct {
	Config    config.Config
	Calls     session.CallRecorder
	Logger    *slog.Logger
	Lifecycle *lifecycle.Lifecycle
	Tracker   *sessions.Tracker
	DialModel ModelDialer
}

func (h MediaStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorJSON(w, r, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}
	if h.Lifecycle != nil && h.Lifecycle.IsDraining() {
		writeErrorJSON(w, r, http.StatusServiceUnavailable, "overloaded", "bridge is draining")
		return
	}
	reqID, _ := mw.RequestIDFrom(r.Context())

	upgrader := websocket.Upgrader{
		// The telephony provider connects server-to-server with no Origin.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), h.Config.HandshakeTimeout)
	model, err := h.DialModel(dialCtx)
	cancel()
	if err != nil {
		h.Logger.Error("failed to connect speech model", "request_id", reqID, "error", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "upstream unavailable"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	s, err := session.New(session.Dependencies{
		Conn:      conn,
		Model:     model,
		Calls:     h.Calls,
		Logger:    h.Logger,
		RequestID: reqID,
		Config: session.Config{
			MaxMessageBytes:   h.Config.WSMaxMessageBytes,
			PingInterval:      h.Config.WSPingInterval,
			WriteTimeout:      h.Config.WSWriteTimeout,
			ReadTimeout:       h.Config.WSReadTimeout,
			OutboundQueueSize: h.Config.OutboundQueueSize,
			FinalizeTimeout:   h.Config.CallFinalizeTimeout,
		},
	})
	if err != nil {
		h.Logger.Error("failed to initialize bridge session", "request_id", reqID, "error", err)
		_ = model.Close()
		_ = conn.Close()
		return
	}

	unregister := func() {}
	if h.Tracker != nil {
		unregister = h.Tracker.Register("call_"+mw.RandHex(8), s.Cancel)
	}
	defer unregister()

	if err := s.Run(); err != nil {
		h.Logger.Warn("bridge session ended with error", "request_id", reqID, "error", err)
	}
}
