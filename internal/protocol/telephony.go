package protocol

import (
	"encoding/json"
	"strings"

	"github.com/ent0n29/phonebridge/internal/reliability"
)

// EventType identifies media-stream events exchanged with the telephony provider.
type EventType string

const (
	EventConnected EventType = "connected"
	EventStart     EventType = "start"
	EventMedia     EventType = "media"
	EventStop      EventType = "stop"
	EventMark      EventType = "mark"
	EventClear     EventType = "clear"
)

type TelephonyEnvelope struct {
	Event     EventType `json:"event"`
	StreamSID string    `json:"streamSid,omitempty"`
}

type StartMetadata struct {
	StreamSID        string            `json:"streamSid"`
	AccountSID       string            `json:"accountSid,omitempty"`
	CallSID          string            `json:"callSid"`
	Tracks           []string          `json:"tracks,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type StartEvent struct {
	Event          EventType     `json:"event"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	StreamSID      string        `json:"streamSid,omitempty"`
	Start          StartMetadata `json:"start"`
}

type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type MediaEvent struct {
	Event     EventType    `json:"event"`
	StreamSID string       `json:"streamSid,omitempty"`
	Media     MediaPayload `json:"media"`
}

type StopEvent struct {
	Event     EventType `json:"event"`
	StreamSID string    `json:"streamSid,omitempty"`
}

type ClearEvent struct {
	Event     EventType `json:"event"`
	StreamSID string    `json:"streamSid"`
}

// rawStart tolerates non-string custom parameter values.
type rawStart struct {
	StreamSID string `json:"streamSid"`
	Start     struct {
		StreamSID        string         `json:"streamSid"`
		AccountSID       string         `json:"accountSid"`
		CallSID          string         `json:"callSid"`
		Tracks           []string       `json:"tracks"`
		CustomParameters map[string]any `json:"customParameters"`
	} `json:"start"`
}

// ParseTelephonyEvent decodes one media-stream frame into StartEvent, MediaEvent
// or StopEvent. Other well-formed events return ErrUnsupportedEvent.
func ParseTelephonyEvent(raw []byte) (any, error) {
	var env TelephonyEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, reliability.Protocol("parse telephony envelope", err)
	}

	switch env.Event {
	case EventStart:
		var rs rawStart
		if err := json.Unmarshal(raw, &rs); err != nil {
			return nil, reliability.Protocol("parse start event", err)
		}
		streamSID := strings.TrimSpace(rs.Start.StreamSID)
		if streamSID == "" {
			streamSID = strings.TrimSpace(rs.StreamSID)
		}
		if streamSID == "" {
			return nil, invalid("parse start event", "missing streamSid")
		}
		return StartEvent{
			Event:     EventStart,
			StreamSID: streamSID,
			Start: StartMetadata{
				StreamSID:        streamSID,
				AccountSID:       rs.Start.AccountSID,
				CallSID:          strings.TrimSpace(rs.Start.CallSID),
				Tracks:           rs.Start.Tracks,
				CustomParameters: stringifyParams(rs.Start.CustomParameters),
			},
		}, nil
	case EventMedia:
		var msg MediaEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, reliability.Protocol("parse media event", err)
		}
		if msg.Media.Payload == "" {
			return nil, invalid("parse media event", "missing media payload")
		}
		return msg, nil
	case EventStop:
		var msg StopEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, reliability.Protocol("parse stop event", err)
		}
		return msg, nil
	default:
		return env, ErrUnsupportedEvent
	}
}

func NewMediaEvent(streamSID, payload string) MediaEvent {
	return MediaEvent{
		Event:     EventMedia,
		StreamSID: streamSID,
		Media:     MediaPayload{Payload: payload},
	}
}

func NewClearEvent(streamSID string) ClearEvent {
	return ClearEvent{Event: EventClear, StreamSID: streamSID}
}
