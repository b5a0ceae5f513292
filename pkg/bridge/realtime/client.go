// Package realtime owns the outbound connection to the speech-realtime
// service. The client is deliberately dumb: it configures the session once,
// forwards audio, and reports decoded events. A transport failure closes it
// for good — reconnecting mid-call would silently lose truncation and
// acknowledgment state, so the orchestrator tears the whole call down
// instead.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicebridge-ai/voicebridge/pkg/bridge/protocol"
)

type State int32

const (
	StateConnecting State = iota
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateReady:
		return "READY"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

type Config struct {
	URL          string
	APIKey       string
	Voice        string
	Instructions string
	Temperature  float64

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	Logger *slog.Logger
}

// Client speaks the realtime wire protocol over one WebSocket connection.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeTimeout time.Duration

	state   atomic.Int32
	writeMu sync.Mutex

	events   chan any
	done     chan struct{}
	doneOnce sync.Once

	errMu  sync.Mutex
	errVal error
}

// Dial connects, sends the one-time session configuration (telephony
// narrow-band codec both ways, server-side voice-activity turn detection),
// and starts the read loop. The returned client is in StateReady.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("realtime url is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("realtime api key is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = cfg.HandshakeTimeout

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := dialer.DialContext(ctx, cfg.URL, headers)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial realtime: %w", err)
	}

	c := &Client{
		conn:         conn,
		logger:       cfg.Logger,
		writeTimeout: cfg.WriteTimeout,
		events:       make(chan any, 64),
		done:         make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))

	if err := c.writeJSON(protocol.NewSessionUpdate(cfg.Voice, cfg.Instructions, cfg.Temperature)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send session.update: %w", err)
	}
	c.state.Store(int32(StateReady))

	go c.readLoop()
	return c, nil
}

// Events yields decoded inbound events. The channel closes when the read
// loop exits; Err reports the transport error that ended it, if any.
func (c *Client) Events() <-chan any {
	return c.events
}

func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.errVal
}

func (c *Client) State() State {
	return State(c.state.Load())
}

// AppendAudio forwards one inbound telephony chunk. Outside StateReady the
// chunk is dropped with a log line: early frames before session setup
// completes, and late frames racing a close, are expected.
func (c *Client) AppendAudio(payload string) error {
	if c.State() != StateReady {
		c.logger.Debug("dropping audio append outside ready state", "state", c.State().String())
		return nil
	}
	return c.writeJSON(protocol.NewInputAudioAppend(payload))
}

// Truncate cuts a response item's audio at the given offset. Fire and
// forget: the bridge does not wait for acknowledgment.
func (c *Client) Truncate(itemID string, audioEndMS int64) error {
	if c.State() != StateReady {
		c.logger.Debug("dropping truncate outside ready state", "state", c.State().String())
		return nil
	}
	return c.writeJSON(protocol.NewItemTruncate(itemID, audioEndMS))
}

// Close transitions to StateClosed and closes the connection, unblocking
// the read loop. Safe to call more than once.
func (c *Client) Close() error {
	c.doneOnce.Do(func() { close(c.done) })
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateClosed)) &&
		!c.state.CompareAndSwap(int32(StateReady), int32(StateClosed)) {
		return nil
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.conn.Close()
}

func (c *Client) writeJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Client) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.State() != StateClosed {
				c.setErr(err)
				c.logger.Warn("realtime connection lost", "error", err)
			}
			c.state.Store(int32(StateClosed))
			c.doneOnce.Do(func() { close(c.done) })
			_ = c.conn.Close()
			return
		}

		msg, decErr := protocol.DecodeRealtimeMessage(data)
		if decErr != nil {
			c.logger.Warn("dropping undecodable realtime message", "error", decErr)
			continue
		}
		switch ev := msg.(type) {
		case protocol.RealtimeUnknown:
			c.logger.Debug("ignoring realtime event", "type", ev.Type)
			continue
		default:
			select {
			case c.events <- msg:
			case <-c.done:
				return
			}
		}
	}
}

func (c *Client) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.errVal == nil {
		c.errVal = err
	}
}
