// Package session implements the per-call bridge between a telephony media
// stream and a realtime speech model. Each call runs a single event loop that
// serializes both inbound sockets, so call state needs no locking.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicebridge-ai/voicebridge/pkg/bridge/protocol"
)

const outboundPriorityQueueSize = 8

// Conn is the telephony side of the bridge, satisfied by *websocket.Conn.
type Conn interface {
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	ReadMessage() (messageType int, p []byte, err error)
	wsWriter
}

// ModelLeg is the speech model side of the bridge.
type ModelLeg interface {
	Events() <-chan any
	AppendAudio(payload string) error
	Truncate(itemID string, audioEndMS int64) error
	Err() error
	Close() error
}

// CallRecorder persists call lifecycle transitions.
type CallRecorder interface {
	BindStreamToken(ctx context.Context, streamSID string) error
	Complete(ctx context.Context, streamSID string) error
	Fail(ctx context.Context, streamSID, reason string) error
}

type Config struct {
	MaxMessageBytes   int64
	PingInterval      time.Duration
	WriteTimeout      time.Duration
	ReadTimeout       time.Duration
	OutboundQueueSize int
	FinalizeTimeout   time.Duration
}

type Dependencies struct {
	Conn      Conn
	Model     ModelLeg
	Calls     CallRecorder
	Logger    *slog.Logger
	RequestID string
	Config    Config
}

type BridgeSession struct {
	conn      Conn
	model     ModelLeg
	calls     CallRecorder
	logger    *slog.Logger
	requestID string
	cfg       Config

	ctx    context.Context
	cancel context.CancelFunc

	outboundPriority chan outboundFrame
	outboundNormal   chan outboundFrame

	streamSID string
	playback  playbackTracker
}

type outboundFrame struct {
	payload []byte
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

func New(deps Dependencies) (*BridgeSession, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Model == nil {
		return nil, fmt.Errorf("model leg is required")
	}
	if deps.Calls == nil {
		return nil, fmt.Errorf("call recorder is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = 128
	}
	if deps.Config.FinalizeTimeout <= 0 {
		deps.Config.FinalizeTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &BridgeSession{
		conn:             deps.Conn,
		model:            deps.Model,
		calls:            deps.Calls,
		logger:           deps.Logger,
		requestID:        deps.RequestID,
		cfg:              deps.Config,
		ctx:              ctx,
		cancel:           cancel,
		outboundPriority: make(chan outboundFrame, outboundPriorityQueueSize),
		outboundNormal:   make(chan outboundFrame, deps.Config.OutboundQueueSize),
	}, nil
}

// Cancel stops the session loop. Safe to call from any goroutine.
func (s *BridgeSession) Cancel() {
	s.cancel()
}

// Run bridges the two sockets until either side disconnects, then records
// the call outcome. It always returns after finalizing, so callers can block
// on it directly.
func (s *BridgeSession) Run() error {
	defer s.cancel()

	if s.cfg.MaxMessageBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	}
	if s.cfg.ReadTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		})
	}

	readCh := make(chan inboundFrame, 64)
	writerErrCh := make(chan error, 1)
	go s.readLoop(readCh)
	go func() {
		w := outboundWriter{
			ws:       s.conn,
			ctx:      s.ctx,
			cfg:      s.cfg,
			priority: s.outboundPriority,
			normal:   s.outboundNormal,
		}
		writerErrCh <- w.Run()
		close(writerErrCh)
	}()

	defer s.finalize(writerErrCh)

	for {
		select {
		case <-s.ctx.Done():
			return nil
		case err := <-writerErrCh:
			if err != nil {
				s.logger.Warn("telephony write failed", "request_id", s.requestID, "stream_sid", s.streamSID, "error", err)
			}
			return err
		case frame, ok := <-readCh:
			if !ok {
				return nil
			}
			if frame.err != nil {
				// The caller hung up or the socket broke. Either way the
				// call is over; record it as completed.
				s.logger.Info("telephony stream ended", "request_id", s.requestID, "stream_sid", s.streamSID, "reason", frame.err.Error())
				return nil
			}
			if frame.messageType != websocket.TextMessage {
				continue
			}
			if err := s.handleTelephony(frame.data); err != nil {
				return err
			}
		case ev, ok := <-s.model.Events():
			if !ok {
				if err := s.model.Err(); err != nil {
					s.logger.Warn("model stream failed", "request_id", s.requestID, "stream_sid", s.streamSID, "error", err)
				}
				return nil
			}
			if err := s.handleModel(ev); err != nil {
				return err
			}
		}
	}
}

func (s *BridgeSession) handleTelephony(data []byte) error {
	msg, err := protocol.DecodeTelephonyMessage(data)
	if err != nil {
		s.logger.Warn("dropping malformed telephony frame", "request_id", s.requestID, "stream_sid", s.streamSID, "error", err)
		return nil
	}
	switch m := msg.(type) {
	case protocol.TelephonyStart:
		s.streamSID = m.StreamSID
		s.playback.onStreamStart()
		s.logger.Info("media stream started", "request_id", s.requestID, "stream_sid", s.streamSID)
		if err := s.calls.BindStreamToken(s.ctx, s.streamSID); err != nil {
			// Bridging continues without a bound record; the hangup path
			// will log the orphan.
			s.logger.Error("failed to bind stream to call record", "request_id", s.requestID, "stream_sid", s.streamSID, "error", err)
		}
	case protocol.TelephonyMedia:
		if regressed := s.playback.onInboundAudio(m.TimestampMS); regressed {
			s.logger.Warn("inbound media timestamp regressed", "request_id", s.requestID, "stream_sid", s.streamSID, "timestamp_ms", m.TimestampMS)
		}
		if err := s.model.AppendAudio(m.Payload); err != nil {
			s.logger.Warn("failed to forward caller audio", "request_id", s.requestID, "stream_sid", s.streamSID, "error", err)
			return nil
		}
	case protocol.TelephonyMark:
		s.playback.onAck()
	case protocol.TelephonyUnknown:
		s.logger.Debug("ignoring telephony event", "request_id", s.requestID, "event", m.Event)
	}
	return nil
}

func (s *BridgeSession) handleModel(ev any) error {
	switch m := ev.(type) {
	case protocol.RealtimeAudioDelta:
		if s.streamSID == "" {
			// Audio arriving before the telephony stream announces itself
			// has nowhere to go.
			s.logger.Debug("dropping model audio before stream start", "request_id", s.requestID)
			return nil
		}
		if err := s.enqueueJSON(protocol.NewMediaOut(s.streamSID, m.Delta), false); err != nil {
			return err
		}
		s.playback.onPlaybackDelta(m.ItemID)
		return s.enqueueJSON(protocol.NewMarkOut(s.streamSID), false)
	case protocol.RealtimeSpeechStarted:
		itemID, elapsedMS, inFlight := s.playback.cutForInterrupt()
		if !inFlight {
			return nil
		}
		s.logger.Info("caller barge-in", "request_id", s.requestID, "stream_sid", s.streamSID, "item_id", itemID, "audio_end_ms", elapsedMS)
		if itemID != "" {
			if err := s.model.Truncate(itemID, elapsedMS); err != nil {
				s.logger.Warn("failed to truncate model response", "request_id", s.requestID, "stream_sid", s.streamSID, "error", err)
			}
		}
		return s.enqueueJSON(protocol.NewClearOut(s.streamSID), true)
	case protocol.RealtimeError:
		s.logger.Warn("model reported error", "request_id", s.requestID, "stream_sid", s.streamSID, "code", m.Code, "message", m.Message)
		return nil
	case protocol.RealtimeUnknown:
		return nil
	default:
		return nil
	}
}

func (s *BridgeSession) enqueueJSON(v any, priority bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode outbound frame: %w", err)
	}
	frame := outboundFrame{payload: payload}
	if priority {
		select {
		case s.outboundPriority <- frame:
			return nil
		case <-s.ctx.Done():
			return s.ctx.Err()
		}
	}
	select {
	case s.outboundNormal <- frame:
		return nil
	default:
		// Playback frames pace at real time, so a full queue means the
		// socket has stalled. Dropping audio beats blocking the loop.
		s.logger.Warn("outbound audio queue full, dropping frame", "request_id", s.requestID, "stream_sid", s.streamSID)
		return nil
	}
}

// finalize closes both legs and records the call outcome exactly once.
func (s *BridgeSession) finalize(writerErrCh <-chan error) {
	s.cancel()
	_ = s.model.Close()

	wait := 100 * time.Millisecond
	if s.cfg.WriteTimeout > 0 && s.cfg.WriteTimeout < wait {
		wait = s.cfg.WriteTimeout
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-writerErrCh:
	case <-timer.C:
	}
	_ = s.conn.Close()

	if s.streamSID == "" {
		s.logger.Warn("call ended before a stream token was seen, skipping completion", "request_id", s.requestID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FinalizeTimeout)
	defer cancel()
	if err := s.calls.Complete(ctx, s.streamSID); err != nil {
		s.logger.Error("failed to mark call completed", "request_id", s.requestID, "stream_sid", s.streamSID, "error", err)
		if err := s.calls.Fail(ctx, s.streamSID, "completion write failed: "+err.Error()); err != nil {
			s.logger.Error("failed to mark call failed", "request_id", s.requestID, "stream_sid", s.streamSID, "error", err)
		}
	}
}

func (s *BridgeSession) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := s.conn.ReadMessage()
		frame := inboundFrame{messageType: messageType, data: data, err: err}
		select {
		case out <- frame:
		case <-s.ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}
