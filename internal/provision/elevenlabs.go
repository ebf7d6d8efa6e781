package provision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ent0n29/phonebridge/internal/reliability"
)

const signedURLPath = "/v1/convai/conversation/get_signed_url"

var ErrEmptySignedURL = errors.New("provider returned empty signed url")

// ProvisionError describes a failed signed-URL request. StatusCode is zero
// when the request never produced a response.
type ProvisionError struct {
	StatusCode int
	Body       string
	Retryable  bool
	Err        error
}

func (e *ProvisionError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("provision signed url: %v", e.Err)
	}
	if e.Body == "" {
		return fmt.Sprintf("provision signed url: status %d", e.StatusCode)
	}
	return fmt.Sprintf("provision signed url: status %d: %s", e.StatusCode, e.Body)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

type ElevenLabsConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// ElevenLabsProvisioner exchanges an agent id for a short-lived websocket URL.
type ElevenLabsProvisioner struct {
	cfg    ElevenLabsConfig
	client *http.Client
}

func NewElevenLabsProvisioner(cfg ElevenLabsConfig) *ElevenLabsProvisioner {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &ElevenLabsProvisioner{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type signedURLResponse struct {
	SignedURL string `json:"signed_url"`
}

// SignedURL does not retry. Failures come back as *ProvisionError wrapped in
// a reliability provision error.
func (p *ElevenLabsProvisioner) SignedURL(ctx context.Context, agentID string) (string, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return "", reliability.Provision("signed_url", &ProvisionError{Err: errors.New("agent id is required")})
	}

	u, err := url.Parse(p.cfg.BaseURL + signedURLPath)
	if err != nil {
		return "", reliability.Provision("signed_url", &ProvisionError{Err: fmt.Errorf("parse base url: %w", err)})
	}
	q := u.Query()
	q.Set("agent_id", agentID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", reliability.Provision("signed_url", &ProvisionError{Err: fmt.Errorf("create request: %w", err)})
	}
	req.Header.Set("xi-api-key", p.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	res, err := p.client.Do(req)
	if err != nil {
		return "", reliability.Provision("signed_url", &ProvisionError{Retryable: true, Err: fmt.Errorf("send request: %w", err)})
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", reliability.Provision("signed_url", &ProvisionError{
			StatusCode: res.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			Retryable:  reliability.IsRetryableHTTPStatus(res.StatusCode),
		})
	}

	var out signedURLResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 64<<10)).Decode(&out); err != nil {
		return "", reliability.Provision("signed_url", &ProvisionError{StatusCode: res.StatusCode, Err: fmt.Errorf("decode response: %w", err)})
	}
	signed := strings.TrimSpace(out.SignedURL)
	if signed == "" {
		return "", reliability.Provision("signed_url", &ProvisionError{StatusCode: res.StatusCode, Err: ErrEmptySignedURL})
	}
	return signed, nil
}
