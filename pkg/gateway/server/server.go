package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/voicebridge-ai/voicebridge/pkg/bridge/realtime"
	"github.com/voicebridge-ai/voicebridge/pkg/bridge/session"
	"github.com/voicebridge-ai/voicebridge/pkg/bridge/sessions"
	"github.com/voicebridge-ai/voicebridge/pkg/gateway/config"
	"github.com/voicebridge-ai/voicebridge/pkg/gateway/handlers"
	"github.com/voicebridge-ai/voicebridge/pkg/gateway/lifecycle"
	"github.com/voicebridge-ai/voicebridge/pkg/gateway/mw"
)

// CallStore is everything the HTTP surface needs from the persistence layer.
type CallStore interface {
	handlers.CallDirectory
	session.CallRecorder
	handlers.Pinger
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	calls     CallStore
	lifecycle *lifecycle.Lifecycle
	tracker   *sessions.Tracker
	dialModel handlers.ModelDialer
}

type Dependencies struct {
	Calls     CallStore
	Lifecycle *lifecycle.Lifecycle
	Tracker   *sessions.Tracker

	// DialModel overrides how the speech model leg is opened. When nil the
	// server dials the realtime endpoint from the configuration.
	DialModel handlers.ModelDialer
}

func New(cfg config.Config, deps Dependencies, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		calls:     deps.Calls,
		lifecycle: deps.Lifecycle,
		tracker:   deps.Tracker,
		dialModel: deps.DialModel,
	}
	if s.lifecycle == nil {
		s.lifecycle = &lifecycle.Lifecycle{}
	}
	if s.tracker == nil {
		s.tracker = sessions.NewTracker()
	}
	if s.dialModel == nil {
		s.dialModel = func(ctx context.Context) (session.ModelLeg, error) {
			return realtime.Dial(ctx, realtime.Config{
				URL:              cfg.RealtimeURL,
				APIKey:           cfg.RealtimeAPIKey,
				Voice:            cfg.RealtimeVoice,
				Instructions:     cfg.RealtimeInstructions,
				Temperature:      cfg.RealtimeTemperature,
				HandshakeTimeout: cfg.HandshakeTimeout,
				WriteTimeout:     cfg.WSWriteTimeout,
				Logger:           logger,
			})
		}
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Lifecycle: s.lifecycle,
		Store:     s.calls,
	})

	s.mux.Handle("/incoming-call", handlers.IncomingCallHandler{
		Directory:  s.calls,
		Logger:     s.logger,
		PublicHost: s.cfg.PublicHost,
	})
	s.mux.Handle("/media-stream", handlers.MediaStreamHandler{
		Config:    s.cfg,
		Calls:     s.calls,
		Logger:    s.logger,
		Lifecycle: s.lifecycle,
		Tracker:   s.tracker,
		DialModel: s.dialModel,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
