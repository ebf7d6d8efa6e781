package httpapi

import (
	"fmt"
	"net/http"
	"strings"
)

type statusCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type statusResponse struct {
	ActiveSessions  int           `json:"active_sessions"`
	ConfigStore     string        `json:"config_store"`
	TranscriptSink  string        `json:"transcript_sink"`
	OutboundEnabled bool          `json:"outbound_enabled"`
	StreamURL       string        `json:"stream_url"`
	Checks          []statusCheck `json:"checks"`
}

// handleStatus reports configuration problems an operator can fix without
// reading logs.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	checks := make([]statusCheck, 0, 8)
	checks = append(checks, s.aiChecks()...)
	checks = append(checks, s.telephonyChecks()...)
	checks = append(checks, s.storageChecks()...)

	if s.cfg.APIToken == "" {
		checks = append(checks, statusCheck{
			ID:     "api_token",
			Status: "warn",
			Label:  "Admin token",
			Detail: "admin and outbound endpoints are open",
			Fix:    "Set APP_API_TOKEN before exposing the service.",
		})
	} else {
		checks = append(checks, statusCheck{ID: "api_token", Status: "ok", Label: "Admin token", Detail: "present"})
	}

	respondJSON(w, http.StatusOK, statusResponse{
		ActiveSessions:  s.registry.Count(),
		ConfigStore:     s.configStoreMode(),
		TranscriptSink:  s.transcriptMode(),
		OutboundEnabled: s.outbound.Enabled(),
		StreamURL:       s.streamURL(r),
		Checks:          checks,
	})
}

func (s *Server) aiChecks() []statusCheck {
	var out []statusCheck
	if strings.TrimSpace(s.cfg.ElevenLabsAPIKey) == "" {
		out = append(out, statusCheck{
			ID:     "elevenlabs_key",
			Status: "error",
			Label:  "ElevenLabs API key",
			Detail: "ELEVENLABS_API_KEY is not set",
			Fix:    "Set ELEVENLABS_API_KEY; signed URLs cannot be provisioned without it.",
		})
	} else {
		out = append(out, statusCheck{ID: "elevenlabs_key", Status: "ok", Label: "ElevenLabs API key", Detail: "present"})
	}
	if strings.TrimSpace(s.cfg.ElevenLabsAgentID) == "" {
		out = append(out, statusCheck{
			ID:     "elevenlabs_agent",
			Status: "error",
			Label:  "Default agent",
			Detail: "ELEVENLABS_AGENT_ID is not set",
			Fix:    "Set ELEVENLABS_AGENT_ID to the agent used when no per-number agent is stored.",
		})
	} else {
		out = append(out, statusCheck{ID: "elevenlabs_agent", Status: "ok", Label: "Default agent", Detail: s.cfg.ElevenLabsAgentID})
	}
	return out
}

func (s *Server) telephonyChecks() []statusCheck {
	if !s.outbound.Enabled() {
		return []statusCheck{{
			ID:     "twilio",
			Status: "warn",
			Label:  "Outbound calling",
			Detail: "disabled",
			Fix:    "Set TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, TWILIO_PHONE_NUMBER and APP_PUBLIC_HOST.",
		}}
	}
	return []statusCheck{{
		ID:     "twilio",
		Status: "ok",
		Label:  "Outbound calling",
		Detail: fmt.Sprintf("from %s", s.cfg.TwilioPhoneNumber),
	}}
}

func (s *Server) storageChecks() []statusCheck {
	var out []statusCheck
	switch mode := s.configStoreMode(); mode {
	case "in-memory":
		out = append(out, statusCheck{
			ID:     "config_store",
			Status: "warn",
			Label:  "Call configuration store",
			Detail: "in-memory only",
			Fix:    "Set REDIS_URL or DATABASE_URL so outbound call configuration survives restarts.",
		})
	default:
		out = append(out, statusCheck{ID: "config_store", Status: "ok", Label: "Call configuration store", Detail: mode})
	}
	switch mode := s.transcriptMode(); mode {
	case "in-memory":
		out = append(out, statusCheck{
			ID:     "transcript_sink",
			Status: "warn",
			Label:  "Transcript log",
			Detail: "in-memory only",
			Fix:    "Set DATABASE_URL to keep conversation transcripts.",
		})
	default:
		out = append(out, statusCheck{ID: "transcript_sink", Status: "ok", Label: "Transcript log", Detail: mode})
	}
	return out
}
