// Package sink accumulates scan outcomes in memory and persists cumulative
// snapshots: the full record set, a reduced name/code projection, and the
// failure log. Snapshots never clear the in-memory state, so each persisted
// artifact set is a superset of the previous one.
package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/filmstat/cinescan/pkg/endata"
)

// Prometheus metrics for snapshot persistence.
var (
	snapshotsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cinescan_snapshots_total",
		Help: "Snapshot persist operations by result",
	}, []string{"result"}) // "success", "error"

	snapshotRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cinescan_snapshot_records",
		Help: "Records contained in the most recent snapshot",
	})
)

// Failure is one exhausted-retry failure.
type Failure struct {
	ID     int64
	Reason string
	At     time.Time
}

// Mirror receives each snapshot's records, typically a Postgres table.
type Mirror interface {
	UpsertRecords(ctx context.Context, records []*endata.Record) error
}

// StoreConfig holds the store configuration.
type StoreConfig struct {
	// Dir is the directory snapshot artifacts are written to. It is
	// created if missing.
	Dir string

	// Mirror, when non-nil, additionally receives every snapshot's
	// records.
	Mirror Mirror
}

// Store is the in-memory result set of one scan run. Appends are cheap and
// serialized; persisting copies the current state under the lock and writes
// files outside it, so workers are never blocked on I/O.
type Store struct {
	mu       sync.Mutex
	records  []*endata.Record
	failures []Failure

	dir    string
	mirror Mirror
	logger zerolog.Logger
}

// NewStore creates a store writing snapshots into cfg.Dir.
func NewStore(cfg StoreConfig, logger zerolog.Logger) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	return &Store{
		dir:    cfg.Dir,
		mirror: cfg.Mirror,
		logger: logger.With().Str("component", "sink").Logger(),
	}, nil
}

// AddRecord appends a fetched record.
func (s *Store) AddRecord(rec *endata.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

// AddFailure appends an exhausted-retry failure.
func (s *Store) AddFailure(id int64, reason string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, Failure{ID: id, Reason: reason, At: at})
}

// Counts returns the current number of records and failures.
func (s *Store) Counts() (records, failures int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records), len(s.failures)
}

// Snapshot returns copies of the current records and failures.
func (s *Store) Snapshot() ([]*endata.Record, []Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]*endata.Record, len(s.records))
	copy(records, s.records)
	failures := make([]Failure, len(s.failures))
	copy(failures, s.failures)
	return records, failures
}

// SnapshotAndPersist writes the cumulative artifact set labelled with at.
// Empty views are skipped: a run with no failures produces no error file.
// Partial failures are joined so every artifact gets its write attempt.
func (s *Store) SnapshotAndPersist(ctx context.Context, at time.Time) error {
	records, failures := s.Snapshot()
	label := at.Format(stampLayout)

	var errs []error
	if len(records) > 0 {
		if err := writeRecordsXLSX(filepath.Join(s.dir, recordsPrefix+label+".xlsx"), records); err != nil {
			errs = append(errs, fmt.Errorf("records xlsx: %w", err))
		}
		if err := writeRecordsJSON(filepath.Join(s.dir, recordsPrefix+label+".json"), records); err != nil {
			errs = append(errs, fmt.Errorf("records json: %w", err))
		}
		if err := writeProjectionXLSX(filepath.Join(s.dir, projectionPrefix+label+".xlsx"), records); err != nil {
			errs = append(errs, fmt.Errorf("projection xlsx: %w", err))
		}
		if err := writeProjectionJSON(filepath.Join(s.dir, simplePrefix+label+".json"), records); err != nil {
			errs = append(errs, fmt.Errorf("projection json: %w", err))
		}
		if s.mirror != nil {
			if err := s.mirror.UpsertRecords(ctx, records); err != nil {
				errs = append(errs, fmt.Errorf("mirror: %w", err))
			}
		}
	}
	if len(failures) > 0 {
		if err := writeFailuresXLSX(filepath.Join(s.dir, failuresPrefix+label+".xlsx"), failures); err != nil {
			errs = append(errs, fmt.Errorf("failures xlsx: %w", err))
		}
	}

	snapshotRecords.Set(float64(len(records)))
	if len(errs) > 0 {
		snapshotsTotal.WithLabelValues("error").Inc()
		return errors.Join(errs...)
	}
	snapshotsTotal.WithLabelValues("success").Inc()

	s.logger.Info().
		Int("records", len(records)).
		Int("failures", len(failures)).
		Str("label", label).
		Str("dir", s.dir).
		Msg("Snapshot persisted")
	return nil
}
