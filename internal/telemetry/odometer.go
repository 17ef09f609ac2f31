package telemetry

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresOdometerSink persists OdometerEvent rows to a token_events table for
// later cost reporting. It is purely additive: the Pipeline never requires
// it, and a caller who never constructs one still gets odometer events
// through the ordinary Metrics counters in telemetry.go.
type PostgresOdometerSink struct {
	pool *pgxpool.Pool
	host string
}

// NewPostgresOdometerSink creates a sink using an existing pool and ensures
// the token_events schema exists. The caller owns the pool and is
// responsible for closing it.
func NewPostgresOdometerSink(ctx context.Context, pool *pgxpool.Pool, host string) (*PostgresOdometerSink, error) {
	s := &PostgresOdometerSink{pool: pool, host: host}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresOdometerSink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS token_events (
			id SERIAL PRIMARY KEY,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			input_tokens INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			timestamp BIGINT NOT NULL,
			host TEXT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_token_events_timestamp ON token_events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_token_events_provider_model ON token_events(provider, model)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("telemetry: odometer schema: %w", err)
		}
	}
	return nil
}

// Record appends one OdometerEvent row.
func (s *PostgresOdometerSink) Record(ctx context.Context, ev OdometerEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO token_events (provider, model, input_tokens, output_tokens, timestamp, host)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.Provider, ev.Model, ev.InputTokens, ev.OutputTokens, ev.Timestamp.UnixMilli(), s.host)
	if err != nil {
		return fmt.Errorf("telemetry: store odometer event: %w", err)
	}
	return nil
}
