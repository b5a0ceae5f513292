// Package protocol decodes and encodes the two wire protocols the bridge
// speaks: Twilio media-stream control messages on the telephony leg and
// realtime-API messages on the AI leg. All functions are pure transforms.
package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	// MarkName is the acknowledgment label attached to every outbound mark.
	// The telephony side echoes it back once the preceding media has played.
	MarkName = "responsePart"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badFrame(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_frame", Message: message, Param: param}
}

// flexibleMS accepts a millisecond timestamp encoded either as a JSON number
// or as a quoted decimal string, which is how the telephony stream sends it.
type flexibleMS int64

func (t *flexibleMS) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*t = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q", s)
	}
	*t = flexibleMS(n)
	return nil
}

// TelephonyStart arrives once per media stream and carries the stream
// correlator used for all later outbound events and lifecycle updates.
type TelephonyStart struct {
	StreamSID string
}

// TelephonyMedia is one inbound audio frame. Payload stays base64 exactly
// as received; the bridge never decodes audio.
type TelephonyMedia struct {
	TimestampMS int64
	Payload     string
}

// TelephonyMark acknowledges a previously sent outbound mark.
type TelephonyMark struct {
	Name string
}

// TelephonyUnknown covers every event tag the bridge has no use for.
// The stream carries kinds (connected, stop, dtmf, ...) that are ignored,
// not rejected.
type TelephonyUnknown struct {
	Event string
}

// DecodeTelephonyMessage decodes one inbound media-stream frame into a
// tagged event. Unknown event tags decode to TelephonyUnknown; only
// malformed JSON or a missing required field is an error.
func DecodeTelephonyMessage(data []byte) (any, error) {
	var envelope struct {
		Event string `json:"event"`
		Start *struct {
			StreamSID string `json:"streamSid"`
		} `json:"start"`
		Media *struct {
			Timestamp flexibleMS `json:"timestamp"`
			Payload   string     `json:"payload"`
		} `json:"media"`
		Mark *struct {
			Name string `json:"name"`
		} `json:"mark"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badFrame("invalid json frame", "")
	}
	event := strings.TrimSpace(envelope.Event)
	if event == "" {
		return nil, badFrame("missing event", "event")
	}

	switch event {
	case "start":
		if envelope.Start == nil {
			return nil, badFrame("start frame requires start object", "start")
		}
		sid := strings.TrimSpace(envelope.Start.StreamSID)
		if sid == "" {
			return nil, badFrame("start.streamSid is required", "start.streamSid")
		}
		return TelephonyStart{StreamSID: sid}, nil
	case "media":
		if envelope.Media == nil {
			return nil, badFrame("media frame requires media object", "media")
		}
		if envelope.Media.Payload == "" {
			return nil, badFrame("media.payload is required", "media.payload")
		}
		return TelephonyMedia{
			TimestampMS: int64(envelope.Media.Timestamp),
			Payload:     envelope.Media.Payload,
		}, nil
	case "mark":
		var name string
		if envelope.Mark != nil {
			name = strings.TrimSpace(envelope.Mark.Name)
		}
		return TelephonyMark{Name: name}, nil
	default:
		return TelephonyUnknown{Event: event}, nil
	}
}

type mediaPayload struct {
	Payload string `json:"payload"`
}

type markPayload struct {
	Name string `json:"name"`
}

// MediaOut is an outbound audio event carrying one AI audio chunk.
type MediaOut struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid"`
	Media     mediaPayload `json:"media"`
}

// MarkOut asks the telephony side to acknowledge once playback reaches
// this point in the outbound queue.
type MarkOut struct {
	Event     string      `json:"event"`
	StreamSID string      `json:"streamSid"`
	Mark      markPayload `json:"mark"`
}

// ClearOut discards any audio still queued for playback downstream.
type ClearOut struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}

func NewMediaOut(streamSID, payload string) MediaOut {
	return MediaOut{
		Event:     "media",
		StreamSID: streamSID,
		Media:     mediaPayload{Payload: payload},
	}
}

func NewMarkOut(streamSID string) MarkOut {
	return MarkOut{
		Event:     "mark",
		StreamSID: streamSID,
		Mark:      markPayload{Name: MarkName},
	}
}

func NewClearOut(streamSID string) ClearOut {
	return ClearOut{Event: "clear", StreamSID: streamSID}
}
