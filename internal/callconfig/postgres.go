package callconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists call configuration in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS call_configs (
			phone_number TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL DEFAULT '',
			prompt TEXT NOT NULL DEFAULT '',
			first_message TEXT NOT NULL DEFAULT '',
			dynamic_variables JSONB NOT NULL DEFAULT '{}'::jsonb,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init call config schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, phoneNumber string) (Blob, error) {
	var (
		b    Blob
		vars []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT agent_id, prompt, first_message, dynamic_variables, updated_at
		   FROM call_configs WHERE phone_number=$1`,
		NormalizePhone(phoneNumber),
	).Scan(&b.AgentID, &b.Prompt, &b.FirstMessage, &vars, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Blob{}, ErrNotFound
		}
		return Blob{}, fmt.Errorf("get call config: %w", err)
	}
	if len(vars) > 0 {
		if err := json.Unmarshal(vars, &b.DynamicVariables); err != nil {
			return Blob{}, fmt.Errorf("decode dynamic variables: %w", err)
		}
	}
	if b.DynamicVariables == nil {
		b.DynamicVariables = map[string]string{}
	}
	return b, nil
}

func (s *PostgresStore) Put(ctx context.Context, phoneNumber string, blob Blob) error {
	if blob.DynamicVariables == nil {
		blob.DynamicVariables = map[string]string{}
	}
	vars, err := json.Marshal(blob.DynamicVariables)
	if err != nil {
		return fmt.Errorf("encode dynamic variables: %w", err)
	}
	if blob.UpdatedAt.IsZero() {
		blob.UpdatedAt = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO call_configs (phone_number, agent_id, prompt, first_message, dynamic_variables, updated_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6)
		 ON CONFLICT (phone_number) DO UPDATE SET
			agent_id=EXCLUDED.agent_id,
			prompt=EXCLUDED.prompt,
			first_message=EXCLUDED.first_message,
			dynamic_variables=EXCLUDED.dynamic_variables,
			updated_at=EXCLUDED.updated_at`,
		NormalizePhone(phoneNumber),
		blob.AgentID,
		blob.Prompt,
		blob.FirstMessage,
		string(vars),
		blob.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert call config: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, phoneNumber string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM call_configs WHERE phone_number=$1`, NormalizePhone(phoneNumber)); err != nil {
		return fmt.Errorf("delete call config: %w", err)
	}
	return nil
}

func (s *PostgresStore) Mode() string { return "postgres" }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
