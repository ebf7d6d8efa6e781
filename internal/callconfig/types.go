package callconfig

import (
	"context"
	"errors"
	"strings"
	"time"
)

var ErrNotFound = errors.New("call config not found")

// Blob is the per-phone-number configuration stashed before or during a call.
type Blob struct {
	AgentID          string            `json:"agent_id,omitempty"`
	Prompt           string            `json:"prompt,omitempty"`
	FirstMessage     string            `json:"first_message,omitempty"`
	DynamicVariables map[string]string `json:"dynamic_variables"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Store reads and upserts configuration blobs keyed by phone number.
// Writes are last-writer-wins; there is no cross-key consistency.
type Store interface {
	Get(ctx context.Context, phoneNumber string) (Blob, error)
	Put(ctx context.Context, phoneNumber string, blob Blob) error
	Delete(ctx context.Context, phoneNumber string) error
	Mode() string
	Close() error
}

func (b Blob) Clone() Blob {
	c := b
	c.DynamicVariables = make(map[string]string, len(b.DynamicVariables))
	for k, v := range b.DynamicVariables {
		c.DynamicVariables[k] = v
	}
	return c
}

// NormalizePhone reduces a phone number to its leading '+' and digits so that
// "+1 (555) 010-0000" and "+15550100000" share a key.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if strings.TrimPrefix(out, "+") == "" {
		return raw
	}
	return out
}
