package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/filmstat/cinescan/pkg/endata"
)

var mirrorRowsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "cinescan_mirror_rows_total",
	Help: "Rows sent to the Postgres mirror",
})

const createRecordsTable = `
CREATE TABLE IF NOT EXISTS cinema_records (
	cinema_id  BIGINT PRIMARY KEY,
	payload    JSONB NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const insertRecord = `
INSERT INTO cinema_records (cinema_id, payload)
VALUES ($1, $2)
ON CONFLICT (cinema_id) DO NOTHING`

// PG mirrors snapshot records into a Postgres table, keyed by identifier.
// Snapshots are cumulative, so most rows of a later snapshot already exist;
// the insert skips them.
type PG struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPG connects to Postgres and ensures the records table exists.
func NewPG(ctx context.Context, dsn string, logger zerolog.Logger) (*PG, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, createRecordsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure cinema_records table: %w", err)
	}

	return &PG{
		pool:   pool,
		logger: logger.With().Str("component", "pg-mirror").Logger(),
	}, nil
}

// UpsertRecords sends the records in one batch. Records without a usable
// identifier are skipped, not failed: the file artifacts remain the
// authoritative full view.
func (p *PG) UpsertRecords(ctx context.Context, records []*endata.Record) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	skipped := 0
	for _, rec := range records {
		id, ok := rec.ID()
		if !ok {
			skipped++
			continue
		}
		payload, err := json.Marshal(rec)
		if err != nil {
			skipped++
			continue
		}
		batch.Queue(insertRecord, id, payload)
	}
	if skipped > 0 {
		p.logger.Warn().Int("skipped", skipped).Msg("Records without a usable identifier were not mirrored")
	}
	if batch.Len() == 0 {
		return nil
	}

	br := p.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("mirror row: %w", err)
		}
	}

	mirrorRowsTotal.Add(float64(batch.Len()))
	p.logger.Debug().Int("rows", batch.Len()).Msg("Snapshot mirrored")
	return nil
}

// Close releases the connection pool.
func (p *PG) Close() {
	p.pool.Close()
}
