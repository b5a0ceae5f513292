package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/voicebridge-ai/voicebridge/pkg/store"
)

type fakeDirectory struct {
	callers   map[string]store.Caller
	lookupErr error
	createErr error
	created   []string
}

func (d *fakeDirectory) VerifiedCallerByPhone(_ context.Context, phone string) (store.Caller, error) {
	if d.lookupErr != nil {
		return store.Caller{}, d.lookupErr
	}
	caller, ok := d.callers[phone]
	if !ok {
		return store.Caller{}, store.ErrCallerNotFound
	}
	return caller, nil
}

func (d *fakeDirectory) CreateCall(_ context.Context, callerIdentity, callerPhone string) (store.Call, error) {
	if d.createErr != nil {
		return store.Call{}, d.createErr
	}
	d.created = append(d.created, callerIdentity)
	return store.Call{ID: uuid.New(), CallerIdentity: callerIdentity, CallerPhone: callerPhone, Status: "active"}, nil
}

func postCallWebhook(t *testing.T, h IncomingCallHandler, from string) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{}
	if from != "" {
		form.Set("From", from)
	}
	req := httptest.NewRequest(http.MethodPost, "/incoming-call", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Host = "bridge.test"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func testCallHandler(dir *fakeDirectory) IncomingCallHandler {
	return IncomingCallHandler{
		Directory: dir,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestIncomingCall_EnrolledCallerGetsStreamConnection(t *testing.T) {
	dir := &fakeDirectory{callers: map[string]store.Caller{
		"+15551230000": {Email: "pat@example.com", PhoneNumber: "+15551230000", Verified: true},
	}}
	rr := postCallWebhook(t, testCallHandler(dir), "+15551230000")

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
		t.Fatalf("content-type=%q", ct)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `url="wss://bridge.test/media-stream"`) {
		t.Fatalf("body=%q missing stream url", body)
	}
	if len(dir.created) != 1 || dir.created[0] != "pat@example.com" {
		t.Fatalf("created=%v", dir.created)
	}
}

func TestIncomingCall_GreetingUsesCallerName(t *testing.T) {
	dir := &fakeDirectory{callers: map[string]store.Caller{
		"+15551230000": {Email: "pat@example.com", PhoneNumber: "+15551230000", DisplayName: "Pat", Verified: true},
	}}
	rr := postCallWebhook(t, testCallHandler(dir), "+15551230000")

	if !strings.Contains(rr.Body.String(), "Hello Pat.") {
		t.Fatalf("body=%q missing personalized greeting", rr.Body.String())
	}
}

func TestIncomingCall_PublicHostOverridesRequestHost(t *testing.T) {
	dir := &fakeDirectory{callers: map[string]store.Caller{
		"+15551230000": {PhoneNumber: "+15551230000", Verified: true},
	}}
	h := testCallHandler(dir)
	h.PublicHost = "bridge.example.com"
	rr := postCallWebhook(t, h, "+15551230000")

	if !strings.Contains(rr.Body.String(), `url="wss://bridge.example.com/media-stream"`) {
		t.Fatalf("body=%q", rr.Body.String())
	}
}

func TestIncomingCall_UnenrolledCallerIsRefused(t *testing.T) {
	dir := &fakeDirectory{callers: map[string]store.Caller{}}
	rr := postCallWebhook(t, testCallHandler(dir), "+15550001111")

	body := rr.Body.String()
	if !strings.Contains(body, "<Hangup>") {
		t.Fatalf("body=%q missing hangup", body)
	}
	if strings.Contains(body, "<Connect>") {
		t.Fatalf("unenrolled caller was connected: %q", body)
	}
	if len(dir.created) != 0 {
		t.Fatalf("created call record for unenrolled caller: %v", dir.created)
	}
}

func TestIncomingCall_CreateFailureRefusesCall(t *testing.T) {
	dir := &fakeDirectory{
		callers:   map[string]store.Caller{"+15551230000": {PhoneNumber: "+15551230000", Verified: true}},
		createErr: errors.New("db down"),
	}
	rr := postCallWebhook(t, testCallHandler(dir), "+15551230000")

	body := rr.Body.String()
	if strings.Contains(body, "<Connect>") {
		t.Fatalf("call connected without a record: %q", body)
	}
	if !strings.Contains(body, "<Hangup>") {
		t.Fatalf("body=%q missing hangup", body)
	}
}

func TestIncomingCall_MissingFromIsRefused(t *testing.T) {
	dir := &fakeDirectory{callers: map[string]store.Caller{}}
	rr := postCallWebhook(t, testCallHandler(dir), "")

	if !strings.Contains(rr.Body.String(), "<Hangup>") {
		t.Fatalf("body=%q", rr.Body.String())
	}
}

func TestIncomingCall_RejectsNonPost(t *testing.T) {
	rr := httptest.NewRecorder()
	testCallHandler(&fakeDirectory{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/incoming-call", nil))

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", rr.Code)
	}
}
