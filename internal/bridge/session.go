package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/phonebridge/internal/callconfig"
	"github.com/ent0n29/phonebridge/internal/observability"
	"github.com/ent0n29/phonebridge/internal/policy"
	"github.com/ent0n29/phonebridge/internal/protocol"
	"github.com/ent0n29/phonebridge/internal/reliability"
	"github.com/ent0n29/phonebridge/internal/transcript"
)

const (
	legTelephony = "telephony"
	legAI        = "ai"

	providerAI    = "elevenlabs"
	providerStore = "config_store"
)

// ConfigReader is the read side of the configuration store.
type ConfigReader interface {
	Get(ctx context.Context, phoneNumber string) (callconfig.Blob, error)
}

// TranscriptRecorder accepts transcript lines without blocking.
type TranscriptRecorder interface {
	Record(entry transcript.Entry) bool
}

// Deps are the collaborators shared by every Session. Configs, Transcripts
// and Metrics are optional.
type Deps struct {
	Provisioner      Provisioner
	Dialer           Dialer
	Configs          ConfigReader
	Transcripts      TranscriptRecorder
	Metrics          *observability.Metrics
	Logger           *zap.Logger
	Defaults         Defaults
	ProvisionTimeout time.Duration
	StoreTimeout     time.Duration
}

// Info is a point-in-time view of a Session.
type Info struct {
	ID          string    `json:"session_id"`
	State       State     `json:"state"`
	StreamID    string    `json:"stream_id,omitempty"`
	CallID      string    `json:"call_id,omitempty"`
	PhoneNumber string    `json:"phone_number,omitempty"`
	AgentID     string    `json:"agent_id,omitempty"`
	AIOpen      bool      `json:"ai_open"`
	StartedAt   time.Time `json:"started_at"`
}

// Session bridges one telephony media stream and one AI conversation socket.
// The telephony leg owns the session: when it ends, the AI leg is closed.
// The AI leg ending leaves the telephony leg running.
type Session struct {
	id        string
	deps      Deps
	log       *zap.Logger
	telephony Socket

	telWriteMu sync.Mutex
	aiWriteMu  sync.Mutex
	// configWritten is the sequence of the newest initial configuration
	// written to the AI socket. Guarded by aiWriteMu.
	configWritten uint64

	mu         sync.Mutex
	state      State
	streamID   string
	callID     string
	phone      string
	params     map[string]string
	agentID    string
	dialing    bool
	ai         Socket
	aiOpen     bool
	relaying   bool
	configSeq  uint64
	acceptedAt time.Time
	aiOpenedAt time.Time
	heardAI    bool
	cancel     context.CancelFunc

	closeOnce  sync.Once
	background sync.WaitGroup
}

func NewSession(id string, telephony Socket, deps Deps) *Session {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.ProvisionTimeout <= 0 {
		deps.ProvisionTimeout = 10 * time.Second
	}
	if deps.StoreTimeout <= 0 {
		deps.StoreTimeout = 3 * time.Second
	}
	return &Session{
		id:         id,
		deps:       deps,
		log:        deps.Logger.With(zap.String("session_id", id)),
		telephony:  telephony,
		state:      StateAwaitingStart,
		params:     map[string]string{},
		agentID:    deps.Defaults.AgentID,
		acceptedAt: time.Now(),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:          s.id,
		State:       s.state,
		StreamID:    s.streamID,
		CallID:      s.callID,
		PhoneNumber: policy.MaskPhone(s.phone),
		AgentID:     s.agentID,
		AIOpen:      s.aiOpen,
		StartedAt:   s.acceptedAt.UTC(),
	}
}

// Run drives the session until the telephony leg ends or ctx is cancelled.
// AI provisioning starts immediately, concurrently with waiting for the
// telephony start event. The returned error is only ever a telephony
// transport failure.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	stop := context.AfterFunc(ctx, s.Close)
	defer stop()

	s.event("session_accepted")

	var g errgroup.Group
	g.Go(func() error {
		s.runAI(ctx)
		return nil
	})

	err := s.readTelephony(ctx)
	s.Close()
	_ = g.Wait()
	s.background.Wait()
	s.finish()
	return err
}

// Close tears the session down: the AI socket first, then the telephony
// socket. Safe to call more than once and from any goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosing
		ai := s.ai
		s.aiOpen = false
		s.relaying = false
		cancel := s.cancel
		s.mu.Unlock()

		if ai != nil {
			_ = ai.Close()
		}
		if cancel != nil {
			cancel()
		}
		_ = s.telephony.Close()

		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
	})
}

func (s *Session) closing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state >= StateClosing
}

func (s *Session) readTelephony(ctx context.Context) error {
	for {
		_, raw, err := s.telephony.ReadMessage()
		if err != nil {
			if s.closing() || isNormalClose(err) {
				s.log.Info("telephony socket closed")
				return nil
			}
			err = reliability.Transport("telephony read", err)
			s.log.Warn("telephony socket failed", zap.Error(err))
			s.event("telephony_transport_error")
			return err
		}

		ev, err := protocol.ParseTelephonyEvent(raw)
		if errors.Is(err, protocol.ErrUnsupportedEvent) {
			if env, ok := ev.(protocol.TelephonyEnvelope); ok {
				s.message(legTelephony, "in", string(env.Event))
			}
			continue
		}
		if err != nil {
			s.log.Warn("discarding malformed telephony message", zap.Error(err))
			s.drop(legTelephony, "malformed")
			continue
		}

		switch e := ev.(type) {
		case protocol.StartEvent:
			s.message(legTelephony, "in", string(protocol.EventStart))
			s.handleStart(ctx, e)
		case protocol.MediaEvent:
			s.message(legTelephony, "in", string(protocol.EventMedia))
			s.forwardAudio(e)
		case protocol.StopEvent:
			s.message(legTelephony, "in", string(protocol.EventStop))
			s.log.Info("telephony stream stopped")
			return nil
		}
	}
}

func (s *Session) handleStart(ctx context.Context, e protocol.StartEvent) {
	params := cloneParams(e.Start.CustomParameters)
	phone := phoneFromParams(params)

	// Whichever of start and AI-open takes the lock second owns the
	// phone-aware configuration send.
	s.mu.Lock()
	s.streamID = e.Start.StreamSID
	s.callID = e.Start.CallSID
	s.phone = phone
	s.params = params
	if s.state < StateClosing {
		if s.relaying {
			s.state = StateActive
		} else {
			s.state = StateAIConnecting
		}
	}
	resend := s.aiOpen
	var seq uint64
	if resend {
		s.configSeq++
		seq = s.configSeq
	}
	s.mu.Unlock()

	s.stage(observability.StageStart, time.Since(s.acceptedAt))
	s.log.Info("telephony stream started",
		zap.String("stream_sid", e.Start.StreamSID),
		zap.String("call_sid", e.Start.CallSID),
		zap.String("phone", policy.MaskPhone(phone)),
	)
	s.record(phone, e.Start.CallSID, protocol.LogLine{
		Text:   "call started: stream " + e.Start.StreamSID,
		Source: protocol.SourceSystem,
	})

	// The store lookup runs off the read loop so stop and media keep flowing
	// while it is slow. seq keeps a late resend from overwriting a newer one.
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		blob := s.lookup(ctx, phone)
		s.upgradeAgent(resolveAgentID(s.deps.Defaults, blob, params))
		if resend {
			s.log.Info("ai leg already open; resending initial configuration")
			s.sendConfig(seq, resolveConfig(s.deps.Defaults, blob, params))
		}
	}()
}

// upgradeAgent switches to a phone-specific agent id if the AI socket has not
// been dialed yet.
func (s *Session) upgradeAgent(agentID string) {
	if agentID == "" {
		return
	}
	s.mu.Lock()
	current := s.agentID
	dialing := s.dialing
	if agentID != current && !dialing {
		s.agentID = agentID
	}
	s.mu.Unlock()

	if agentID == current {
		return
	}
	if dialing {
		s.log.Info("ignoring agent id change after dial",
			zap.String("agent_id", current),
			zap.String("wanted_agent_id", agentID),
		)
		return
	}
	s.log.Info("agent id upgraded", zap.String("agent_id", agentID))
}

// forwardAudio relays caller audio once the first initial configuration has
// been written: the AI leg expects conversation_initiation_client_data before
// any user_audio_chunk.
func (s *Session) forwardAudio(e protocol.MediaEvent) {
	s.mu.Lock()
	ready := s.relaying
	s.mu.Unlock()
	if !ready {
		s.drop(legTelephony, "ai_not_ready")
		return
	}
	s.writeAI(protocol.UserAudio(e), "user_audio_chunk")
}

func (s *Session) runAI(ctx context.Context) {
	ai, err := s.connectAI(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("ai leg unavailable; telephony leg left to its own timeout",
			zap.Error(err),
			zap.String("kind", string(reliability.KindOf(err))),
		)
		s.providerError(providerAI, err)
		s.event("ai_connect_failed")
		return
	}

	s.mu.Lock()
	if s.state >= StateClosing {
		s.mu.Unlock()
		_ = ai.Close()
		return
	}
	s.ai = ai
	s.aiOpen = true
	s.aiOpenedAt = time.Now()
	s.configSeq++
	seq := s.configSeq
	phone := s.phone
	params := cloneParams(s.params)
	s.mu.Unlock()

	s.stage(observability.StageAIConnect, time.Since(s.acceptedAt))
	s.event("ai_open")
	s.log.Info("ai socket open", zap.Bool("phone_known", phone != ""))

	// Without a phone number this sends defaults and is not retried from
	// here; the start handler resends once the number is known.
	blob := s.lookup(ctx, phone)
	s.sendConfig(seq, resolveConfig(s.deps.Defaults, blob, params))

	s.readAI(ai)
}

func (s *Session) connectAI(ctx context.Context) (Socket, error) {
	s.mu.Lock()
	agentID := s.agentID
	s.mu.Unlock()

	signed, err := s.provision(ctx, agentID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	upgraded := s.agentID
	s.dialing = true
	s.mu.Unlock()

	if upgraded != agentID {
		s.log.Info("re-provisioning for phone-specific agent", zap.String("agent_id", upgraded))
		if signed, err = s.provision(ctx, upgraded); err != nil {
			return nil, err
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.deps.ProvisionTimeout)
	defer cancel()
	ai, err := s.deps.Dialer.Dial(dialCtx, signed)
	if err != nil {
		return nil, reliability.Transport("ai dial", err)
	}
	return ai, nil
}

func (s *Session) provision(ctx context.Context, agentID string) (string, error) {
	pctx, cancel := context.WithTimeout(ctx, s.deps.ProvisionTimeout)
	defer cancel()

	started := time.Now()
	signed, err := s.deps.Provisioner.SignedURL(pctx, agentID)
	if err != nil {
		if reliability.KindOf(err) == "" {
			err = reliability.Provision("signed url", err)
		}
		return "", err
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveProvisionLatency(time.Since(started))
	}
	return signed, nil
}

func (s *Session) readAI(ai Socket) {
	for {
		_, raw, err := ai.ReadMessage()
		if err != nil {
			s.mu.Lock()
			closing := s.state >= StateClosing
			if s.ai == ai {
				s.aiOpen = false
				s.relaying = false
				if s.state == StateActive {
					s.state = StateAIConnecting
				}
			}
			s.mu.Unlock()
			if closing {
				return
			}
			if isNormalClose(err) {
				s.log.Info("ai socket closed; telephony leg continues")
			} else {
				err = reliability.Transport("ai read", err)
				s.log.Warn("ai socket failed; telephony leg continues", zap.Error(err))
				s.providerError(providerAI, err)
			}
			s.event("ai_closed")
			return
		}

		msg, err := protocol.ParseAIMessage(raw)
		if err != nil {
			s.log.Warn("discarding malformed ai message", zap.Error(err))
			s.drop(legAI, "malformed")
			continue
		}
		s.message(legAI, "in", string(msg.Type))
		s.handleAI(msg)
	}
}

func (s *Session) handleAI(msg protocol.AIMessage) {
	s.mu.Lock()
	streamID := s.streamID
	phone := s.phone
	callID := s.callID
	s.mu.Unlock()

	action := protocol.TranslateAI(msg, streamID)
	switch action.Kind {
	case protocol.ActionTelephony:
		if msg.Type == protocol.TypeAudio {
			s.markFirstAudio()
		}
		s.writeTelephony(action.Telephony, string(msg.Type))
	case protocol.ActionReply:
		s.writeAI(action.Reply, string(protocol.TypePong))
	case protocol.ActionLog:
		if action.Reason != "" {
			s.log.Info("unhandled ai message", zap.String("type", string(msg.Type)))
		}
		s.record(phone, callID, action.Log)
	case protocol.ActionDrop:
		if action.Reason == protocol.DropAudioMissing {
			s.log.Warn("ai audio message without payload", zap.String("type", string(msg.Type)))
		} else {
			s.log.Debug("dropping ai message", zap.String("type", string(msg.Type)), zap.String("reason", action.Reason))
		}
		s.drop(legAI, action.Reason)
	}
}

func (s *Session) markFirstAudio() {
	s.mu.Lock()
	first := !s.heardAI && s.streamID != ""
	s.heardAI = true
	opened := s.aiOpenedAt
	s.mu.Unlock()
	if first && !opened.IsZero() {
		s.stage(observability.StageFirstAIAudio, time.Since(opened))
	}
}

// sendConfig writes an initial configuration unless a newer one has
// already been written.
func (s *Session) sendConfig(seq uint64, cfg protocol.InitialConfig) {
	s.mu.Lock()
	ai := s.ai
	open := s.aiOpen
	s.mu.Unlock()
	if !open || ai == nil {
		return
	}

	data, err := protocol.Encode(protocol.NewInitiationClientData(cfg))
	if err != nil {
		s.log.Error("encode initial configuration", zap.Error(err))
		return
	}

	s.aiWriteMu.Lock()
	stale := seq <= s.configWritten
	if !stale {
		s.configWritten = seq
		err = ai.WriteMessage(websocket.TextMessage, data)
	}
	s.aiWriteMu.Unlock()

	switch {
	case stale:
		s.log.Debug("skipping superseded initial configuration")
	case err != nil:
		err = reliability.Transport("ai write config", err)
		s.log.Warn("initial configuration not delivered", zap.Error(err))
		s.providerError(providerAI, err)
	default:
		s.message(legAI, "out", string(protocol.TypeInitiationClientData))
		s.log.Info("initial configuration sent",
			zap.Bool("prompt", cfg.Prompt != ""),
			zap.Bool("first_message", cfg.FirstMessage != ""),
			zap.Int("dynamic_variables", len(cfg.DynamicVariables)),
		)
	}

	s.mu.Lock()
	if s.ai == ai && s.aiOpen {
		s.relaying = true
		if s.streamID != "" && s.state < StateClosing {
			s.state = StateActive
		}
	}
	s.mu.Unlock()
}

func (s *Session) writeAI(msg any, kind string) {
	s.mu.Lock()
	ai := s.ai
	open := s.aiOpen
	s.mu.Unlock()
	if !open || ai == nil {
		s.drop(legAI, "ai_not_open")
		return
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		s.log.Error("encode ai message", zap.String("type", kind), zap.Error(err))
		return
	}
	s.aiWriteMu.Lock()
	err = ai.WriteMessage(websocket.TextMessage, data)
	s.aiWriteMu.Unlock()
	if err != nil {
		err = reliability.Transport("ai write", err)
		s.log.Warn("ai write failed", zap.String("type", kind), zap.Error(err))
		s.providerError(providerAI, err)
		return
	}
	s.message(legAI, "out", kind)
}

// writeTelephony failures end the session: the call cannot continue without
// its telephony leg.
func (s *Session) writeTelephony(msg any, kind string) {
	if s.closing() {
		return
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		s.log.Error("encode telephony message", zap.String("type", kind), zap.Error(err))
		return
	}
	s.telWriteMu.Lock()
	err = s.telephony.WriteMessage(websocket.TextMessage, data)
	s.telWriteMu.Unlock()
	if err != nil {
		if s.closing() {
			return
		}
		err = reliability.Transport("telephony write", err)
		s.log.Warn("telephony write failed; closing session", zap.Error(err))
		s.event("telephony_transport_error")
		s.Close()
		return
	}
	s.message(legTelephony, "out", kind)
}

// lookup reads the stored configuration for phone. Missing or failing
// lookups yield nil and the session carries on with defaults.
func (s *Session) lookup(ctx context.Context, phone string) *callconfig.Blob {
	if phone == "" || s.deps.Configs == nil {
		return nil
	}
	lctx, cancel := context.WithTimeout(ctx, s.deps.StoreTimeout)
	defer cancel()

	blob, err := s.deps.Configs.Get(lctx, phone)
	if errors.Is(err, callconfig.ErrNotFound) {
		return nil
	}
	if err != nil {
		if ctx.Err() == nil {
			if reliability.KindOf(err) == "" {
				err = reliability.Store("config get", err)
			}
			s.log.Warn("config lookup failed; using defaults",
				zap.String("phone", policy.MaskPhone(phone)),
				zap.Error(err),
			)
			s.providerError(providerStore, err)
		}
		return nil
	}
	return &blob
}

func (s *Session) record(phone, callID string, line protocol.LogLine) {
	if s.deps.Transcripts == nil {
		return
	}
	s.deps.Transcripts.Record(transcript.Entry{
		PhoneNumber: phone,
		CallID:      callID,
		Source:      transcript.Source(line.Source),
		Text:        line.Text,
		CreatedAt:   time.Now().UTC(),
	})
}

func (s *Session) finish() {
	s.mu.Lock()
	phone := s.phone
	callID := s.callID
	s.mu.Unlock()

	s.record(phone, callID, protocol.LogLine{Text: "call ended", Source: protocol.SourceSystem})
	s.stage(observability.StageCallDuration, time.Since(s.acceptedAt))
	s.event("session_closed")
	s.log.Info("session closed", zap.Duration("duration", time.Since(s.acceptedAt)))
}

func (s *Session) event(name string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.SessionEvents.WithLabelValues(name).Inc()
	}
}

func (s *Session) message(leg, direction, kind string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.WSMessages.WithLabelValues(leg, direction, kind).Inc()
	}
}

func (s *Session) drop(leg, reason string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.DroppedFrames.WithLabelValues(leg, reason).Inc()
	}
}

func (s *Session) providerError(provider string, err error) {
	if s.deps.Metrics == nil {
		return
	}
	kind := string(reliability.KindOf(err))
	if kind == "" {
		kind = "unknown"
	}
	s.deps.Metrics.ProviderErrors.WithLabelValues(provider, kind).Inc()
}

func (s *Session) stage(name string, d time.Duration) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveStage(name, d)
	}
}
