package bridge

import (
	"strings"

	"github.com/ent0n29/phonebridge/internal/callconfig"
	"github.com/ent0n29/phonebridge/internal/protocol"
)

// Custom parameter keys with a meaning of their own. They are never copied
// into dynamic variables.
const (
	paramPrompt       = "prompt"
	paramFirstMessage = "first_message"
	paramAgentID      = "agent_id"
)

// phoneParamKeys are checked in order; the first non-empty value wins.
var phoneParamKeys = []string{"phone", "phone_number", "phoneNumber", "to", "from"}

// Defaults is the configuration used when neither the store nor the stream
// parameters say otherwise.
type Defaults struct {
	AgentID      string
	Prompt       string
	FirstMessage string
}

func phoneFromParams(params map[string]string) string {
	for _, key := range phoneParamKeys {
		if v := strings.TrimSpace(params[key]); v != "" {
			return v
		}
	}
	return ""
}

// resolveConfig layers defaults, then the stored blob (may be nil), then the
// explicit stream parameters.
func resolveConfig(defaults Defaults, blob *callconfig.Blob, params map[string]string) protocol.InitialConfig {
	cfg := protocol.InitialConfig{
		Prompt:           defaults.Prompt,
		FirstMessage:     defaults.FirstMessage,
		DynamicVariables: map[string]string{},
	}
	if blob != nil {
		if blob.Prompt != "" {
			cfg.Prompt = blob.Prompt
		}
		if blob.FirstMessage != "" {
			cfg.FirstMessage = blob.FirstMessage
		}
		for k, v := range blob.DynamicVariables {
			cfg.DynamicVariables[k] = v
		}
	}
	for k, v := range params {
		switch k {
		case paramPrompt:
			if v != "" {
				cfg.Prompt = v
			}
		case paramFirstMessage:
			if v != "" {
				cfg.FirstMessage = v
			}
		case paramAgentID:
		default:
			cfg.DynamicVariables[k] = v
		}
	}
	if len(cfg.DynamicVariables) == 0 {
		cfg.DynamicVariables = nil
	}
	return cfg
}

func resolveAgentID(defaults Defaults, blob *callconfig.Blob, params map[string]string) string {
	if v := strings.TrimSpace(params[paramAgentID]); v != "" {
		return v
	}
	if blob != nil && strings.TrimSpace(blob.AgentID) != "" {
		return strings.TrimSpace(blob.AgentID)
	}
	return defaults.AgentID
}

func cloneParams(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
