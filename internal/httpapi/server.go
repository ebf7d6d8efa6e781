package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/phonebridge/internal/bridge"
	"github.com/ent0n29/phonebridge/internal/callconfig"
	"github.com/ent0n29/phonebridge/internal/config"
	"github.com/ent0n29/phonebridge/internal/observability"
	"github.com/ent0n29/phonebridge/internal/outbound"
	"github.com/ent0n29/phonebridge/internal/policy"
	"github.com/ent0n29/phonebridge/internal/reliability"
	"github.com/ent0n29/phonebridge/internal/transcript"
)

// TranscriptStore is the read/clear side of the conversation log.
type TranscriptStore interface {
	Clear(ctx context.Context, phoneNumber string) error
	Recent(ctx context.Context, phoneNumber string, limit int) ([]transcript.Entry, error)
	Mode() string
}

type Deps struct {
	Registry    *bridge.Registry
	Configs     callconfig.Store
	Transcripts TranscriptStore
	Outbound    *outbound.Service
	Metrics     *observability.Metrics
	Logger      *zap.Logger
}

type Server struct {
	cfg         config.Config
	registry    *bridge.Registry
	configs     callconfig.Store
	transcripts TranscriptStore
	outbound    *outbound.Service
	metrics     *observability.Metrics
	log         *zap.Logger
	upgrader    websocket.Upgrader
}

func New(cfg config.Config, deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:         cfg,
		registry:    deps.Registry,
		configs:     deps.Configs,
		transcripts: deps.Transcripts,
		outbound:    deps.Outbound,
		metrics:     deps.Metrics,
		log:         log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Telephony providers do not send Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/status", s.handleStatus)

	r.Get(outbound.MediaStreamPath, s.handleMediaStream)
	r.Post("/incoming-call", s.handleIncomingCall)
	r.Post("/outbound-call", s.handleOutboundCall)

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/v1/config/{phone}", s.handleGetConfig)
		r.Put("/v1/config/{phone}", s.handlePutConfig)
		r.Delete("/v1/config/{phone}", s.handleDeleteConfig)
		r.Get("/v1/transcripts/{phone}", s.handleListTranscript)
		r.Delete("/v1/transcripts/{phone}", s.handleClearTranscript)
		r.Get("/v1/sessions", s.handleListSessions)
		r.Get("/v1/sessions/{id}", s.handleGetSession)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.registry.Count(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	status := http.StatusOK
	state := "ready"
	if !s.registry.Accepting() {
		status = http.StatusServiceUnavailable
		state = "draining"
	}
	respondJSON(w, status, map[string]any{
		"status":           state,
		"config_store":     s.configStoreMode(),
		"transcript_sink":  s.transcriptMode(),
		"outbound_enabled": s.outbound.Enabled(),
	})
}

func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	if !s.registry.Accepting() {
		respondError(w, http.StatusServiceUnavailable, "draining", "server is shutting down")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("media stream upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(1 << 20)
	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	_ = s.registry.Serve(r.Context(), bridge.WrapConn(conn, s.cfg.WSReadTimeout))
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

// handleIncomingCall answers the provider's voice webhook with TwiML that
// streams the call to /media-stream, passing the caller number along.
func (s *Server) handleIncomingCall(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_form", err.Error())
		return
	}
	params := map[string]string{}
	if from := strings.TrimSpace(r.PostForm.Get("From")); from != "" {
		params["phone"] = callconfig.NormalizePhone(from)
	}
	if sid := strings.TrimSpace(r.PostForm.Get("CallSid")); sid != "" {
		s.log.Info("incoming call", zap.String("call_sid", sid), zap.String("phone", policy.MaskPhone(params["phone"])))
	}

	doc, err := outbound.ConnectTwiML(s.streamURL(r), params)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "twiml_error", err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}

func (s *Server) handleOutboundCall(w http.ResponseWriter, r *http.Request) {
	var req outbound.Request
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	supplied := req.Token
	if supplied == "" {
		supplied = requestToken(r)
	}
	if err := policy.AuthorizeToken(s.cfg.APIToken, supplied); err != nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}

	res, err := s.outbound.Initiate(r.Context(), req)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]any{
			"message":      "call initiated",
			"call_sid":     res.CallSID,
			"phone_number": res.PhoneNumber,
		})
	case errors.Is(err, outbound.ErrInvalidNumber):
		respondError(w, http.StatusBadRequest, "invalid_number", err.Error())
	case errors.Is(err, outbound.ErrDisabled):
		respondError(w, http.StatusServiceUnavailable, "outbound_disabled", err.Error())
	case reliability.KindOf(err) == reliability.KindStore:
		s.metrics.ProviderErrors.WithLabelValues("config_store", string(reliability.KindStore)).Inc()
		respondError(w, http.StatusServiceUnavailable, "config_store_unavailable", err.Error())
	default:
		s.metrics.ProviderErrors.WithLabelValues("twilio", "create_call").Inc()
		respondError(w, http.StatusBadGateway, "call_failed", err.Error())
	}
}

func (s *Server) streamURL(r *http.Request) string {
	if u := outbound.StreamURL(s.cfg.PublicHost); u != "" {
		return u
	}
	return outbound.StreamURL(r.Host)
}

func (s *Server) configStoreMode() string {
	if s.configs == nil {
		return "disabled"
	}
	return s.configs.Mode()
}

func (s *Server) transcriptMode() string {
	if s.transcripts == nil {
		return "disabled"
	}
	return s.transcripts.Mode()
}

// requireToken guards admin routes when APP_API_TOKEN is set.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := policy.AuthorizeToken(s.cfg.APIToken, requestToken(r)); err != nil {
			respondError(w, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestToken(r *http.Request) string {
	if auth := strings.TrimSpace(r.Header.Get("Authorization")); auth != "" {
		if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
			return strings.TrimSpace(auth[7:])
		}
	}
	if tok := strings.TrimSpace(r.Header.Get("X-API-Token")); tok != "" {
		return tok
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
