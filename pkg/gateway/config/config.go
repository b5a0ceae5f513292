package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// Public host used when rendering the media-stream URL into call
	// instructions (e.g. "bridge.example.com").
	PublicHost string

	// Realtime speech model upstream.
	RealtimeURL          string
	RealtimeAPIKey       string
	RealtimeVoice        string
	RealtimeInstructions string
	RealtimeTemperature  float64
	HandshakeTimeout     time.Duration

	// Telephony WebSocket limits.
	WSMaxMessageBytes int64
	WSPingInterval    time.Duration
	WSWriteTimeout    time.Duration
	WSReadTimeout     time.Duration
	OutboundQueueSize int

	// Call record store.
	DatabaseURL         string
	DBMaxConns          int32
	DBMinConns          int32
	DBConnectTimeout    time.Duration
	CallFinalizeTimeout time.Duration

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

const defaultInstructions = "You are a helpful phone assistant. Keep answers short and conversational; the caller hears them as speech."

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                 envOr("BRIDGE_ADDR", ":8080"),
		PublicHost:           strings.TrimSpace(os.Getenv("BRIDGE_PUBLIC_HOST")),
		RealtimeURL:          envOr("BRIDGE_REALTIME_URL", "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview-2024-10-01"),
		RealtimeAPIKey:       strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		RealtimeVoice:        envOr("BRIDGE_REALTIME_VOICE", "alloy"),
		RealtimeInstructions: envOr("BRIDGE_REALTIME_INSTRUCTIONS", defaultInstructions),
		RealtimeTemperature:  envFloat64Or("BRIDGE_REALTIME_TEMPERATURE", 0.8),
		HandshakeTimeout:     envDurationOr("BRIDGE_REALTIME_HANDSHAKE_TIMEOUT", 5*time.Second),
		WSMaxMessageBytes:    envInt64Or("BRIDGE_WS_MAX_MESSAGE_BYTES", 64*1024),
		WSPingInterval:       envDurationOr("BRIDGE_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:       envDurationOr("BRIDGE_WS_WRITE_TIMEOUT", 5*time.Second),
		WSReadTimeout:        envDurationOr("BRIDGE_WS_READ_TIMEOUT", 0),
		OutboundQueueSize:    envIntOr("BRIDGE_WS_OUTBOUND_QUEUE_SIZE", 128),
		DatabaseURL:          strings.TrimSpace(os.Getenv("BRIDGE_DATABASE_URL")),
		DBMaxConns:           int32(envIntOr("BRIDGE_DB_MAX_CONNS", 10)),
		DBMinConns:           int32(envIntOr("BRIDGE_DB_MIN_CONNS", 1)),
		DBConnectTimeout:     envDurationOr("BRIDGE_DB_CONNECT_TIMEOUT", 30*time.Second),
		CallFinalizeTimeout:  envDurationOr("BRIDGE_CALL_FINALIZE_TIMEOUT", 5*time.Second),
		ReadHeaderTimeout:    envDurationOr("BRIDGE_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:  envDurationOr("BRIDGE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	if cfg.RealtimeAPIKey == "" {
		return Config{}, fmt.Errorf("OPENAI_API_KEY must be set")
	}
	if strings.TrimSpace(cfg.RealtimeURL) == "" {
		return Config{}, fmt.Errorf("BRIDGE_REALTIME_URL must not be empty")
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("BRIDGE_DATABASE_URL must be set")
	}
	if cfg.RealtimeTemperature < 0 || cfg.RealtimeTemperature > 2 {
		return Config{}, fmt.Errorf("BRIDGE_REALTIME_TEMPERATURE must be between 0 and 2")
	}
	if cfg.HandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_REALTIME_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.WSMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_WS_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSReadTimeout < 0 {
		return Config{}, fmt.Errorf("BRIDGE_WS_READ_TIMEOUT must be >= 0")
	}
	if cfg.OutboundQueueSize <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_WS_OUTBOUND_QUEUE_SIZE must be > 0")
	}
	if cfg.DBMaxConns <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_DB_MAX_CONNS must be > 0")
	}
	if cfg.DBMinConns < 0 {
		return Config{}, fmt.Errorf("BRIDGE_DB_MIN_CONNS must be >= 0")
	}
	if cfg.DBMinConns > cfg.DBMaxConns {
		return Config{}, fmt.Errorf("BRIDGE_DB_MIN_CONNS must be <= BRIDGE_DB_MAX_CONNS")
	}
	if cfg.DBConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_DB_CONNECT_TIMEOUT must be > 0")
	}
	if cfg.CallFinalizeTimeout <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_CALL_FINALIZE_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("BRIDGE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
