package transcript

import (
	"context"
	"time"
)

// Source identifies who produced a transcript line.
type Source string

const (
	SourceAgent  Source = "agent"
	SourceHuman  Source = "human"
	SourceSystem Source = "system"
)

// Entry is a single human-readable conversation log line.
type Entry struct {
	ID          string    `json:"id"`
	PhoneNumber string    `json:"phone_number"`
	CallID      string    `json:"call_id,omitempty"`
	Source      Source    `json:"source"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"created_at"`
}

// Sink is the append-only conversation log, partitioned by phone number.
type Sink interface {
	Append(ctx context.Context, entry Entry) error
	Clear(ctx context.Context, phoneNumber string) error
	Recent(ctx context.Context, phoneNumber string, limit int) ([]Entry, error)
	Mode() string
	Close() error
}
