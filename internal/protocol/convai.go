package protocol

import (
	"encoding/json"
	"strings"

	"github.com/ent0n29/phonebridge/internal/reliability"
)

// MessageType identifies conversational AI websocket payload variants.
type MessageType string

const (
	TypeInitiationClientData MessageType = "conversation_initiation_client_data"
	TypeInitiationMetadata   MessageType = "conversation_initiation_metadata"
	TypeAudio                MessageType = "audio"
	TypeAgentResponse        MessageType = "agent_response"
	TypeUserTranscript       MessageType = "user_transcript"
	TypeInterruption         MessageType = "interruption"
	TypePing                 MessageType = "ping"
	TypePong                 MessageType = "pong"
)

type AudioChunk struct {
	Chunk string `json:"chunk"`
}

type AudioEvent struct {
	AudioBase64 string `json:"audio_base_64"`
	EventID     int64  `json:"event_id,omitempty"`
}

type PingEvent struct {
	EventID int64  `json:"event_id"`
	PingMS  *int64 `json:"ping_ms,omitempty"`
}

type AgentResponseEvent struct {
	AgentResponse string `json:"agent_response"`
}

type UserTranscriptionEvent struct {
	UserTranscript string `json:"user_transcript"`
}

type InitiationMetadataEvent struct {
	ConversationID         string `json:"conversation_id"`
	AgentOutputAudioFormat string `json:"agent_output_audio_format,omitempty"`
	UserInputAudioFormat   string `json:"user_input_audio_format,omitempty"`
}

// AIMessage is the union of every message the AI socket sends us. Only the
// field matching Type is expected to be populated.
type AIMessage struct {
	Type                    MessageType              `json:"type"`
	EventID                 *int64                   `json:"event_id,omitempty"`
	Audio                   *AudioChunk              `json:"audio,omitempty"`
	AudioEvent              *AudioEvent              `json:"audio_event,omitempty"`
	PingEvent               *PingEvent               `json:"ping_event,omitempty"`
	AgentResponseEvent      *AgentResponseEvent      `json:"agent_response_event,omitempty"`
	UserTranscriptionEvent  *UserTranscriptionEvent  `json:"user_transcription_event,omitempty"`
	InitiationMetadataEvent *InitiationMetadataEvent `json:"conversation_initiation_metadata_event,omitempty"`
}

// ParseAIMessage decodes one AI frame. Unknown types decode without error so
// the translator can decide what to do with them.
func ParseAIMessage(raw []byte) (AIMessage, error) {
	var msg AIMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return AIMessage{}, reliability.Protocol("parse ai message", err)
	}
	msg.Type = MessageType(strings.TrimSpace(string(msg.Type)))
	if msg.Type == "" {
		return AIMessage{}, invalid("parse ai message", "missing type")
	}
	return msg, nil
}

// InitialConfig is the one-shot agent configuration sent when the AI leg opens.
type InitialConfig struct {
	Prompt           string
	FirstMessage     string
	DynamicVariables map[string]string
}

type PromptOverride struct {
	Prompt string `json:"prompt"`
}

type AgentOverride struct {
	Prompt       *PromptOverride `json:"prompt,omitempty"`
	FirstMessage string          `json:"first_message,omitempty"`
}

type ConversationConfigOverride struct {
	Agent AgentOverride `json:"agent"`
}

type InitiationClientData struct {
	Type                       MessageType                 `json:"type"`
	DynamicVariables           map[string]string           `json:"dynamic_variables,omitempty"`
	ConversationConfigOverride *ConversationConfigOverride `json:"conversation_config_override,omitempty"`
}

type UserAudioChunk struct {
	UserAudioChunk string `json:"user_audio_chunk"`
}

type Pong struct {
	Type    MessageType `json:"type"`
	EventID int64       `json:"event_id"`
}

func NewInitiationClientData(cfg InitialConfig) InitiationClientData {
	msg := InitiationClientData{
		Type:             TypeInitiationClientData,
		DynamicVariables: cfg.DynamicVariables,
	}
	if cfg.Prompt == "" && cfg.FirstMessage == "" {
		return msg
	}
	override := &ConversationConfigOverride{}
	if cfg.Prompt != "" {
		override.Agent.Prompt = &PromptOverride{Prompt: cfg.Prompt}
	}
	override.Agent.FirstMessage = cfg.FirstMessage
	msg.ConversationConfigOverride = override
	return msg
}
