package transcript

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ent0n29/phonebridge/internal/callconfig"
)

// PostgresSink persists the conversation log in PostgreSQL.
type PostgresSink struct {
	pool *pgxpool.Pool
}

func NewPostgresSink(ctx context.Context, databaseURL string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresSink{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversation_log (
			id TEXT PRIMARY KEY,
			phone_number TEXT NOT NULL,
			call_id TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_log_phone_created ON conversation_log (phone_number, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresSink) Append(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversation_log (id, phone_number, call_id, source, text, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID,
		callconfig.NormalizePhone(entry.PhoneNumber),
		entry.CallID,
		string(entry.Source),
		entry.Text,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append transcript: %w", err)
	}
	return nil
}

func (s *PostgresSink) Clear(ctx context.Context, phoneNumber string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM conversation_log WHERE phone_number=$1`, callconfig.NormalizePhone(phoneNumber)); err != nil {
		return fmt.Errorf("clear transcript: %w", err)
	}
	return nil
}

func (s *PostgresSink) Recent(ctx context.Context, phoneNumber string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, phone_number, call_id, source, text, created_at
		 FROM conversation_log WHERE phone_number=$1 ORDER BY created_at DESC LIMIT $2`,
		callconfig.NormalizePhone(phoneNumber),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer rows.Close()

	items := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e      Entry
			source string
		)
		if err := rows.Scan(&e.ID, &e.PhoneNumber, &e.CallID, &source, &e.Text, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}
		e.Source = Source(source)
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript rows: %w", err)
	}

	// Chronological order for readers.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}

	return items, nil
}

func (s *PostgresSink) Mode() string { return "postgres" }

func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
