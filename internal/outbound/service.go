package outbound

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/phonebridge/internal/callconfig"
	"github.com/ent0n29/phonebridge/internal/policy"
	"github.com/ent0n29/phonebridge/internal/reliability"
)

var (
	ErrInvalidNumber = errors.New("a destination phone number is required")
	ErrDisabled      = errors.New("outbound calling is not configured")
)

// Caller places a call connected to the media stream.
type Caller interface {
	Call(ctx context.Context, to string, params map[string]string) (string, error)
}

type ConfigWriter interface {
	Put(ctx context.Context, phoneNumber string, blob callconfig.Blob) error
}

type HistoryClearer interface {
	Clear(ctx context.Context, phoneNumber string) error
}

type Request struct {
	Number           string            `json:"number"`
	Prompt           string            `json:"prompt,omitempty"`
	FirstMessage     string            `json:"first_message,omitempty"`
	DynamicVariables map[string]string `json:"dynamic_variables,omitempty"`
	AgentID          string            `json:"agent_id,omitempty"`
	Token            string            `json:"token,omitempty"`
}

type Result struct {
	CallSID     string `json:"call_sid"`
	PhoneNumber string `json:"phone_number"`
}

// Service seeds per-number configuration and then places the call, so the
// bridge session finds the configuration when the stream starts.
type Service struct {
	caller       Caller
	configs      ConfigWriter
	history      HistoryClearer
	log          *zap.Logger
	storeTimeout time.Duration
}

// NewService accepts a nil caller; Initiate then returns ErrDisabled.
func NewService(caller Caller, configs ConfigWriter, history HistoryClearer, log *zap.Logger, storeTimeout time.Duration) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if storeTimeout <= 0 {
		storeTimeout = 3 * time.Second
	}
	return &Service{
		caller:       caller,
		configs:      configs,
		history:      history,
		log:          log,
		storeTimeout: storeTimeout,
	}
}

func (s *Service) Enabled() bool { return s != nil && s.caller != nil }

func (s *Service) Initiate(ctx context.Context, req Request) (Result, error) {
	if !s.Enabled() {
		return Result{}, ErrDisabled
	}
	phone := callconfig.NormalizePhone(req.Number)
	if strings.TrimSpace(phone) == "" {
		return Result{}, ErrInvalidNumber
	}
	masked := policy.MaskPhone(phone)

	if s.history != nil {
		hctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
		err := s.history.Clear(hctx, phone)
		cancel()
		if err != nil {
			s.log.Warn("transcript history not cleared", zap.String("phone", masked), zap.Error(err))
		}
	}

	if s.configs != nil {
		blob := callconfig.Blob{
			AgentID:          strings.TrimSpace(req.AgentID),
			Prompt:           req.Prompt,
			FirstMessage:     req.FirstMessage,
			DynamicVariables: req.DynamicVariables,
			UpdatedAt:        time.Now().UTC(),
		}
		cctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
		err := s.configs.Put(cctx, phone, blob)
		cancel()
		if err != nil {
			return Result{}, reliability.Store("seed call config", err)
		}
	}

	sid, err := s.caller.Call(ctx, phone, map[string]string{"phone": phone})
	if err != nil {
		s.log.Warn("outbound call failed", zap.String("phone", masked), zap.Error(err))
		return Result{}, err
	}
	s.log.Info("outbound call placed", zap.String("phone", masked), zap.String("call_sid", sid))
	return Result{CallSID: sid, PhoneNumber: phone}, nil
}
