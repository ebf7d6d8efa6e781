package protocol

import "fmt"

// ActionKind names the single effect an AI message has on the bridge.
type ActionKind int

const (
	// ActionDrop discards the message; Reason says why.
	ActionDrop ActionKind = iota
	// ActionTelephony sends Telephony to the telephony socket.
	ActionTelephony
	// ActionReply sends Reply back on the AI socket.
	ActionReply
	// ActionLog records Log with the transcript sink only.
	ActionLog
)

func (k ActionKind) String() string {
	switch k {
	case ActionDrop:
		return "drop"
	case ActionTelephony:
		return "telephony"
	case ActionReply:
		return "reply"
	case ActionLog:
		return "log"
	default:
		return fmt.Sprintf("action(%d)", int(k))
	}
}

const (
	DropStreamUnknown = "stream_unknown"
	DropAudioMissing  = "audio_missing"
)

type LogLine struct {
	Text   string
	Source Source
}

// Action is the result of translating one AI message.
type Action struct {
	Kind      ActionKind
	Telephony any
	Reply     any
	Log       LogLine
	Reason    string
}

// UserAudio wraps an inbound telephony media frame for the AI socket. The
// payload is passed through untouched.
func UserAudio(m MediaEvent) UserAudioChunk {
	return UserAudioChunk{UserAudioChunk: m.Media.Payload}
}

// AudioPayload returns the base64 audio carried by an AI audio message. The
// direct chunk field wins over the audio event field.
func AudioPayload(msg AIMessage) (string, bool) {
	if msg.Audio != nil && msg.Audio.Chunk != "" {
		return msg.Audio.Chunk, true
	}
	if msg.AudioEvent != nil && msg.AudioEvent.AudioBase64 != "" {
		return msg.AudioEvent.AudioBase64, true
	}
	return "", false
}

// PingEventID returns the event id a pong must echo.
func PingEventID(msg AIMessage) int64 {
	if msg.PingEvent != nil {
		return msg.PingEvent.EventID
	}
	if msg.EventID != nil {
		return *msg.EventID
	}
	return 0
}

// TranslateAI maps one AI message to its effect. streamID is the telephony
// stream the call is bound to, empty until the start event arrives.
func TranslateAI(msg AIMessage, streamID string) Action {
	switch msg.Type {
	case TypeAudio:
		payload, ok := AudioPayload(msg)
		if !ok {
			return Action{Kind: ActionDrop, Reason: DropAudioMissing}
		}
		if streamID == "" {
			return Action{Kind: ActionDrop, Reason: DropStreamUnknown}
		}
		return Action{Kind: ActionTelephony, Telephony: NewMediaEvent(streamID, payload)}
	case TypeInterruption:
		if streamID == "" {
			return Action{Kind: ActionDrop, Reason: DropStreamUnknown}
		}
		return Action{Kind: ActionTelephony, Telephony: NewClearEvent(streamID)}
	case TypePing:
		return Action{Kind: ActionReply, Reply: Pong{Type: TypePong, EventID: PingEventID(msg)}}
	case TypeInitiationMetadata:
		text := "conversation initiated"
		if msg.InitiationMetadataEvent != nil && msg.InitiationMetadataEvent.ConversationID != "" {
			text += ": " + msg.InitiationMetadataEvent.ConversationID
		}
		return Action{Kind: ActionLog, Log: LogLine{Text: text, Source: SourceSystem}}
	case TypeAgentResponse:
		text := ""
		if msg.AgentResponseEvent != nil {
			text = msg.AgentResponseEvent.AgentResponse
		}
		return Action{Kind: ActionLog, Log: LogLine{Text: text, Source: SourceAgent}}
	case TypeUserTranscript:
		text := ""
		if msg.UserTranscriptionEvent != nil {
			text = msg.UserTranscriptionEvent.UserTranscript
		}
		return Action{Kind: ActionLog, Log: LogLine{Text: text, Source: SourceHuman}}
	default:
		return Action{
			Kind:   ActionLog,
			Log:    LogLine{Text: "unhandled ai message type: " + string(msg.Type), Source: SourceSystem},
			Reason: ErrUnsupportedType.Error(),
		}
	}
}
