package tradelog

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5/pgxpool"

	"news-trend-trader/internal/interfaces"
	"news-trend-trader/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS fills (
	id            BIGSERIAL PRIMARY KEY,
	handle        TEXT        NOT NULL,
	instrument_id TEXT        NOT NULL,
	kind          TEXT        NOT NULL,
	side          TEXT        NOT NULL,
	quantity      DOUBLE PRECISION NOT NULL,
	price         DOUBLE PRECISION NOT NULL,
	ts            TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS decisions (
	id            BIGSERIAL PRIMARY KEY,
	instrument_id TEXT        NOT NULL,
	ts            TIMESTAMPTZ NOT NULL,
	outcome       TEXT        NOT NULL,
	reason        TEXT        NOT NULL,
	payload       JSONB       NOT NULL
);`

// PGJournal writes fills and decisions to Postgres.
type PGJournal struct {
	pool *pgxpool.Pool
}

var _ interfaces.Journal = (*PGJournal)(nil)

// NewPGJournal connects and creates the tables if needed.
func NewPGJournal(ctx context.Context, dsn string) (*PGJournal, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pg journal connect: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg journal schema: %w", err)
	}
	return &PGJournal{pool: pool}, nil
}

func (j *PGJournal) RecordFill(ctx context.Context, f types.Fill) error {
	_, err := j.pool.Exec(ctx,
		`INSERT INTO fills (handle, instrument_id, kind, side, quantity, price, ts) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(f.Handle), f.InstrumentID, string(f.Kind), string(f.Side), f.Quantity, f.Price, f.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("PGJournal.RecordFill: %w", err)
	}
	return nil
}

func (j *PGJournal) RecordDecision(ctx context.Context, d types.DecisionRecord) error {
	payload, err := sonic.Marshal(d)
	if err != nil {
		return fmt.Errorf("PGJournal.RecordDecision: %w", err)
	}
	_, err = j.pool.Exec(ctx,
		`INSERT INTO decisions (instrument_id, ts, outcome, reason, payload) VALUES ($1, $2, $3, $4, $5)`,
		d.InstrumentID, d.Timestamp, d.Outcome, d.Reason, payload,
	)
	if err != nil {
		return fmt.Errorf("PGJournal.RecordDecision: %w", err)
	}
	return nil
}

func (j *PGJournal) Close() error {
	j.pool.Close()
	return nil
}
