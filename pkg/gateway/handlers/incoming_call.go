package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/voicebridge-ai/voicebridge/pkg/gateway/mw"
	"github.com/voicebridge-ai/voicebridge/pkg/gateway/twiml"
	"github.com/voicebridge-ai/voicebridge/pkg/store"
)

// CallDirectory is the slice of the store the call webhook needs.
type CallDirectory interface {
	VerifiedCallerByPhone(ctx context.Context, phone string) (store.Caller, error)
	CreateCall(ctx context.Context, callerIdentity, callerPhone string) (store.Call, error)
}

// IncomingCallHandler answers the telephony provider's call webhook with
// instructions: enrolled callers are connected to the media stream, everyone
// else is politely refused.
type IncomingCallHandler struct {
	Directory  CallDirectory
	Logger     *slog.Logger
	PublicHost string
	Greeting   string
}

func (h IncomingCallHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorJSON(w, r, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}
	reqID, _ := mw.RequestIDFrom(r.Context())

	from := strings.TrimSpace(r.FormValue("From"))
	if from == "" {
		h.Logger.Warn("call webhook without From number", "request_id", reqID)
		h.respond(w, r, twiml.Reject("Sorry, this call cannot be connected."))
		return
	}

	caller, err := h.Directory.VerifiedCallerByPhone(r.Context(), from)
	if errors.Is(err, store.ErrCallerNotFound) {
		h.Logger.Info("rejecting unenrolled caller", "request_id", reqID, "from", from)
		h.respond(w, r, twiml.Reject("Sorry, this number is not registered with us. Goodbye."))
		return
	}
	if err != nil {
		h.Logger.Error("caller lookup failed", "request_id", reqID, "error", err)
		h.respond(w, r, twiml.Reject("Sorry, we cannot take your call right now. Please try again later."))
		return
	}

	// The record must exist before the media stream connects; a stream with
	// no call record would have nothing to bind to.
	call, err := h.Directory.CreateCall(r.Context(), caller.Email, caller.PhoneNumber)
	if err != nil {
		h.Logger.Error("failed to create call record", "request_id", reqID, "from", from, "error", err)
		h.respond(w, r, twiml.Reject("Sorry, we cannot take your call right now. Please try again later."))
		return
	}
	h.Logger.Info("accepted incoming call", "request_id", reqID, "call_id", call.ID, "from", from)

	greeting := h.Greeting
	if greeting == "" {
		greeting = "Connecting you to your assistant."
		if caller.DisplayName != "" {
			greeting = "Hello " + caller.DisplayName + ". " + greeting
		}
	}
	h.respond(w, r, twiml.ConnectStream(greeting, h.streamURL(r)))
}

func (h IncomingCallHandler) streamURL(r *http.Request) string {
	host := strings.TrimSpace(h.PublicHost)
	if host == "" {
		host = r.Host
	}
	return "wss://" + host + "/media-stream"
}

func (h IncomingCallHandler) respond(w http.ResponseWriter, r *http.Request, resp twiml.Response) {
	body, err := resp.Render()
	if err != nil {
		reqID, _ := mw.RequestIDFrom(r.Context())
		h.Logger.Error("failed to render call instructions", "request_id", reqID, "error", err)
		writeErrorJSON(w, r, http.StatusInternalServerError, "internal", "failed to render response")
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
