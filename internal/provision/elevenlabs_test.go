package provision

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ent0n29/phonebridge/internal/reliability"
)

func TestSignedURLSuccess(t *testing.T) {
	var gotKey, gotAgent, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("xi-api-key")
		gotAgent = r.URL.Query().Get("agent_id")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"signed_url":"wss://example.test/convai?token=abc"}`))
	}))
	defer srv.Close()

	p := NewElevenLabsProvisioner(ElevenLabsConfig{APIKey: "key-1", BaseURL: srv.URL + "/"})
	got, err := p.SignedURL(context.Background(), "agent-7")
	if err != nil {
		t.Fatalf("SignedURL() error = %v", err)
	}
	if got != "wss://example.test/convai?token=abc" {
		t.Fatalf("SignedURL() = %q", got)
	}
	if gotKey != "key-1" {
		t.Fatalf("xi-api-key = %q, want key-1", gotKey)
	}
	if gotAgent != "agent-7" {
		t.Fatalf("agent_id = %q, want agent-7", gotAgent)
	}
	if gotPath != signedURLPath {
		t.Fatalf("path = %q, want %q", gotPath, signedURLPath)
	}
}

func TestSignedURLNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad agent", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewElevenLabsProvisioner(ElevenLabsConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := p.SignedURL(context.Background(), "agent")
	if err == nil {
		t.Fatalf("SignedURL() expected error")
	}
	if reliability.KindOf(err) != reliability.KindProvision {
		t.Fatalf("KindOf() = %q, want provision", reliability.KindOf(err))
	}
	var pe *ProvisionError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ProvisionError, got %T", err)
	}
	if pe.StatusCode != http.StatusUnauthorized {
		t.Fatalf("StatusCode = %d, want 401", pe.StatusCode)
	}
	if pe.Retryable {
		t.Fatalf("401 should not be retryable")
	}
	if pe.Body != "bad agent" {
		t.Fatalf("Body = %q", pe.Body)
	}
}

func TestSignedURLServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewElevenLabsProvisioner(ElevenLabsConfig{BaseURL: srv.URL})
	_, err := p.SignedURL(context.Background(), "agent")
	var pe *ProvisionError
	if !errors.As(err, &pe) || !pe.Retryable {
		t.Fatalf("expected retryable *ProvisionError, got %v", err)
	}
}

func TestSignedURLEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"signed_url":"  "}`))
	}))
	defer srv.Close()

	p := NewElevenLabsProvisioner(ElevenLabsConfig{BaseURL: srv.URL})
	_, err := p.SignedURL(context.Background(), "agent")
	if !errors.Is(err, ErrEmptySignedURL) {
		t.Fatalf("SignedURL() error = %v, want ErrEmptySignedURL", err)
	}
}

func TestSignedURLTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := srv.URL
	srv.Close()

	p := NewElevenLabsProvisioner(ElevenLabsConfig{BaseURL: base})
	_, err := p.SignedURL(context.Background(), "agent")
	var pe *ProvisionError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ProvisionError, got %v", err)
	}
	if pe.StatusCode != 0 || pe.Err == nil {
		t.Fatalf("unexpected ProvisionError %+v", pe)
	}
}

func TestSignedURLRequiresAgentID(t *testing.T) {
	p := NewElevenLabsProvisioner(ElevenLabsConfig{})
	if _, err := p.SignedURL(context.Background(), " "); err == nil {
		t.Fatalf("SignedURL() expected error for empty agent id")
	}
}
