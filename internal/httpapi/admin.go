package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ent0n29/phonebridge/internal/bridge"
	"github.com/ent0n29/phonebridge/internal/callconfig"
	"github.com/ent0n29/phonebridge/internal/policy"
)

const (
	defaultTranscriptLimit = 50
	maxTranscriptLimit     = 500
)

func phoneParam(r *http.Request) string {
	raw := chi.URLParam(r, "phone")
	if v, err := url.PathUnescape(raw); err == nil {
		raw = v
	}
	return callconfig.NormalizePhone(raw)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	phone := phoneParam(r)
	if phone == "" {
		respondError(w, http.StatusBadRequest, "invalid_phone", "missing phone number")
		return
	}
	blob, err := s.configs.Get(r.Context(), phone)
	if errors.Is(err, callconfig.ErrNotFound) {
		respondError(w, http.StatusNotFound, "config_not_found", err.Error())
		return
	}
	if err != nil {
		s.log.Warn("config read failed", zap.String("phone", policy.MaskPhone(phone)), zap.Error(err))
		respondError(w, http.StatusServiceUnavailable, "config_store_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, blob)
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	phone := phoneParam(r)
	if phone == "" {
		respondError(w, http.StatusBadRequest, "invalid_phone", "missing phone number")
		return
	}
	var blob callconfig.Blob
	if err := decodeJSON(r, &blob); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	blob.AgentID = strings.TrimSpace(blob.AgentID)
	blob.UpdatedAt = time.Now().UTC()

	if err := s.configs.Put(r.Context(), phone, blob); err != nil {
		s.log.Warn("config write failed", zap.String("phone", policy.MaskPhone(phone)), zap.Error(err))
		respondError(w, http.StatusServiceUnavailable, "config_store_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, blob)
}

func (s *Server) handleDeleteConfig(w http.ResponseWriter, r *http.Request) {
	phone := phoneParam(r)
	if phone == "" {
		respondError(w, http.StatusBadRequest, "invalid_phone", "missing phone number")
		return
	}
	if err := s.configs.Delete(r.Context(), phone); err != nil && !errors.Is(err, callconfig.ErrNotFound) {
		respondError(w, http.StatusServiceUnavailable, "config_store_unavailable", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListTranscript(w http.ResponseWriter, r *http.Request) {
	phone := phoneParam(r)
	if phone == "" {
		respondError(w, http.StatusBadRequest, "invalid_phone", "missing phone number")
		return
	}
	limit := defaultTranscriptLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = min(n, maxTranscriptLimit)
	}

	entries, err := s.transcripts.Recent(r.Context(), phone, limit)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "transcript_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"phone_number": phone,
		"entries":      entries,
	})
}

func (s *Server) handleClearTranscript(w http.ResponseWriter, r *http.Request) {
	phone := phoneParam(r)
	if phone == "" {
		respondError(w, http.StatusBadRequest, "invalid_phone", "missing phone number")
		return
	}
	if err := s.transcripts.Clear(r.Context(), phone); err != nil {
		respondError(w, http.StatusServiceUnavailable, "transcript_unavailable", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"sessions": s.registry.List(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.registry.Get(chi.URLParam(r, "id"))
	if errors.Is(err, bridge.ErrNotFound) {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, info)
}
