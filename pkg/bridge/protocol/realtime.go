package protocol

import (
	"encoding/json"
	"strings"
)

// RealtimeAudioDelta is one chunk of synthesized audio from the AI leg.
// Delta stays base64 as received and is forwarded verbatim.
type RealtimeAudioDelta struct {
	ItemID string
	Delta  string
}

// RealtimeSpeechStarted fires when server-side voice-activity detection
// decides the caller has started speaking.
type RealtimeSpeechStarted struct{}

// RealtimeError is an error event reported by the AI service. It is logged
// by the orchestrator; the transport decides whether the session survives.
type RealtimeError struct {
	Code    string
	Message string
}

// RealtimeUnknown covers every message type the bridge does not consume
// (rate limits, transcript events, response bookkeeping, ...).
type RealtimeUnknown struct {
	Type string
}

// DecodeRealtimeMessage decodes one inbound AI-leg message into a tagged
// event. Unknown types decode to RealtimeUnknown.
func DecodeRealtimeMessage(data []byte) (any, error) {
	var envelope struct {
		Type   string `json:"type"`
		Delta  string `json:"delta"`
		ItemID string `json:"item_id"`
		Error  *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badFrame("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badFrame("missing type", "type")
	}

	switch typ {
	case "response.audio.delta":
		if envelope.Delta == "" {
			// A delta event with no audio carries nothing to forward.
			return RealtimeUnknown{Type: typ}, nil
		}
		return RealtimeAudioDelta{ItemID: envelope.ItemID, Delta: envelope.Delta}, nil
	case "input_audio_buffer.speech_started":
		return RealtimeSpeechStarted{}, nil
	case "error":
		out := RealtimeError{}
		if envelope.Error != nil {
			out.Code = envelope.Error.Code
			out.Message = envelope.Error.Message
		}
		return out, nil
	default:
		return RealtimeUnknown{Type: typ}, nil
	}
}

type turnDetection struct {
	Type string `json:"type"`
}

type sessionBody struct {
	TurnDetection     turnDetection `json:"turn_detection"`
	InputAudioFormat  string        `json:"input_audio_format"`
	OutputAudioFormat string        `json:"output_audio_format"`
	Voice             string        `json:"voice"`
	Instructions      string        `json:"instructions"`
	Modalities        []string      `json:"modalities"`
	Temperature       float64       `json:"temperature"`
}

// SessionUpdate is the one-time session configuration sent when the AI leg
// reaches Ready. Both directions use the telephony leg's 8kHz companded
// codec so no transcoding happens anywhere in the bridge.
type SessionUpdate struct {
	Type    string      `json:"type"`
	Session sessionBody `json:"session"`
}

// InputAudioAppend forwards one inbound telephony audio chunk.
type InputAudioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// ItemTruncate cuts a response item's audio at the given offset during
// barge-in.
type ItemTruncate struct {
	Type         string `json:"type"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMS   int64  `json:"audio_end_ms"`
}

func NewSessionUpdate(voice, instructions string, temperature float64) SessionUpdate {
	return SessionUpdate{
		Type: "session.update",
		Session: sessionBody{
			TurnDetection:     turnDetection{Type: "server_vad"},
			InputAudioFormat:  "g711_ulaw",
			OutputAudioFormat: "g711_ulaw",
			Voice:             voice,
			Instructions:      instructions,
			Modalities:        []string{"text", "audio"},
			Temperature:       temperature,
		},
	}
}

func NewInputAudioAppend(audio string) InputAudioAppend {
	return InputAudioAppend{Type: "input_audio_buffer.append", Audio: audio}
}

func NewItemTruncate(itemID string, audioEndMS int64) ItemTruncate {
	return ItemTruncate{
		Type:         "conversation.item.truncate",
		ItemID:       itemID,
		ContentIndex: 0,
		AudioEndMS:   audioEndMS,
	}
}
