package integration

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/filmstat/cinescan/internal/testutil"
	"github.com/filmstat/cinescan/pkg/endata"
	"github.com/filmstat/cinescan/pkg/ratelimit"
	"github.com/filmstat/cinescan/pkg/scan"
	"github.com/filmstat/cinescan/pkg/sink"
)

// env wires a mock registry, a result store, and everything needed to run a
// full scan against them.
type env struct {
	mock  *testutil.MockRegistry
	store *sink.Store
	dir   string
}

func setup(t *testing.T) *env {
	t.Helper()

	mock := testutil.NewMockRegistry()
	t.Cleanup(mock.Close)

	dir := t.TempDir()
	store, err := sink.NewStore(sink.StoreConfig{Dir: dir}, zerolog.Nop())
	require.NoError(t, err)

	return &env{mock: mock, store: store, dir: dir}
}

// run executes one scan against the mock registry with fast pacing.
func (e *env) run(ctx context.Context, t *testing.T, cfg scan.RunConfig) error {
	t.Helper()

	clientCfg := endata.DefaultConfig()
	clientCfg.BaseURL = e.mock.URL()
	clientCfg.Identity = endata.Identity{
		Origin:          "https://ys.endata.cn",
		Referer:         "https://ys.endata.cn/Details/Cinema",
		AcceptLanguage:  "zh-CN,zh;q=0.9",
		RotateUserAgent: false,
		UserAgent:       "cinescan-integration/1.0",
	}
	client, err := endata.New(clientCfg)
	require.NoError(t, err)

	pace := ratelimit.NewController(ratelimit.Config{
		InitialInterval: time.Millisecond,
		MinInterval:     time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}, zerolog.Nop())

	sup, err := scan.NewSupervisor(cfg, client, pace, e.store, zerolog.Nop())
	require.NoError(t, err)

	return sup.Run(ctx)
}

// globOne expects exactly one file matching pattern and returns it.
func globOne(t *testing.T, dir, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	require.NoError(t, err)
	require.Len(t, matches, 1, "files matching %s", pattern)
	return matches[0]
}

// globNone asserts no file matches pattern.
func globNone(t *testing.T, dir, pattern string) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	require.NoError(t, err)
	require.Empty(t, matches, "files matching %s", pattern)
}

// readRows reads back the first sheet of an xlsx artifact.
func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	require.NoError(t, err)
	return rows
}

func TestScan_SingleIdentifier(t *testing.T) {
	t.Parallel()

	e := setup(t)
	e.mock.SetCinema(1, "A", "44010001")

	err := e.run(context.Background(), t, scan.DefaultRunConfig(1, 1))
	require.NoError(t, err)

	records, failures := e.store.Counts()
	assert.Equal(t, 1, records)
	assert.Equal(t, 0, failures)

	// Projection artifact carries the single expected row.
	projection := globOne(t, e.dir, "cinema_name_zzid_*.xlsx")
	rows := readRows(t, projection)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"CinemaID", "CinemaName", "ZZID"}, rows[0])
	assert.Equal(t, []string{"1", "A", "44010001"}, rows[1])

	// No failures means no error log at all.
	globNone(t, e.dir, "error_logs_*.xlsx")
}

func TestScan_FailedIdentifierExhaustsRetries(t *testing.T) {
	t.Parallel()

	e := setup(t)
	e.mock.SetCinema(1, "A", "44010001")
	e.mock.SetDropped(2) // transport failure on every attempt
	e.mock.SetCinema(3, "C", "44010003")

	err := e.run(context.Background(), t, scan.DefaultRunConfig(1, 3))
	require.NoError(t, err)

	records, failures := e.store.Counts()
	assert.Equal(t, 2, records)
	assert.Equal(t, 1, failures)

	// The failed identifier burned its whole attempt budget.
	assert.Equal(t, scan.DefaultMaxAttempts, e.mock.RequestCount(2))
	assert.Equal(t, 1, e.mock.RequestCount(1))
	assert.Equal(t, 1, e.mock.RequestCount(3))

	errorLog := globOne(t, e.dir, "error_logs_*.xlsx")
	rows := readRows(t, errorLog)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"cinemaid", "error", "timestamp"}, rows[0])
	assert.Equal(t, "2", rows[1][0])
	assert.Contains(t, rows[1][1], "endata network error")
	assert.NotEmpty(t, rows[1][2])
}

func TestScan_NoRecordIdentifiersAreSilent(t *testing.T) {
	t.Parallel()

	e := setup(t)
	// Only 2 and 4 exist; the rest answer with an empty table.
	e.mock.SetCinema(2, "B", "44010002")
	e.mock.SetCinema(4, "D", "44010004")

	err := e.run(context.Background(), t, scan.DefaultRunConfig(1, 5))
	require.NoError(t, err)

	records, failures := e.store.Counts()
	assert.Equal(t, 2, records)
	assert.Equal(t, 0, failures)

	// Clean misses are terminal on the first attempt.
	for id := int64(1); id <= 5; id++ {
		assert.Equal(t, 1, e.mock.RequestCount(id), "identifier %d", id)
	}

	globNone(t, e.dir, "error_logs_*.xlsx")
}

func TestScan_MalformedResponseIsTerminal(t *testing.T) {
	t.Parallel()

	e := setup(t)
	e.mock.SetCinema(1, "A", "44010001")
	e.mock.SetResponse(2, testutil.MockResponse{
		StatusCode: 200,
		Body:       testutil.MalformedBody(),
		Headers:    map[string]string{"Content-Type": "text/html"},
	})
	e.mock.SetCinema(3, "C", "44010003")

	err := e.run(context.Background(), t, scan.DefaultRunConfig(1, 3))
	require.NoError(t, err)

	records, failures := e.store.Counts()
	assert.Equal(t, 2, records)
	assert.Equal(t, 0, failures, "malformed answers are not failures")
	assert.Equal(t, 1, e.mock.RequestCount(2), "malformed answers are not retried")
}

func TestScan_SendsBrowserIdentity(t *testing.T) {
	t.Parallel()

	e := setup(t)
	e.mock.SetCinema(1, "A", "44010001")

	err := e.run(context.Background(), t, scan.DefaultRunConfig(1, 1))
	require.NoError(t, err)

	header := e.mock.LastRequestHeader()
	require.NotNil(t, header)
	assert.Equal(t, "cinescan-integration/1.0", header.Get("User-Agent"))
	assert.Equal(t, "https://ys.endata.cn", header.Get("Origin"))
	assert.Equal(t, "https://ys.endata.cn/Details/Cinema", header.Get("Referer"))
	assert.Equal(t, "zh-CN,zh;q=0.9", header.Get("Accept-Language"))
	assert.Equal(t, "application/json, text/plain, */*", header.Get("Accept"))
	assert.Equal(t, "application/x-www-form-urlencoded", header.Get("Content-Type"))
}

func TestScan_CancellationPersistsPartialResults(t *testing.T) {
	t.Parallel()

	e := setup(t)
	for id := int64(1); id <= 100; id++ {
		e.mock.SetCinema(id, "X", "44010000")
	}

	cfg := scan.DefaultRunConfig(1, 5000)
	cfg.Workers = 4

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	err := e.run(ctx, t, cfg)
	require.ErrorIs(t, err, context.Canceled)

	records, failures := e.store.Counts()
	require.Less(t, records+failures, 5000, "early cancel should leave identifiers unprocessed")
	require.Greater(t, records, 0, "some records should land before the cancel")

	// The final snapshot still ran and carries exactly the accumulated
	// records.
	snapshot := globOne(t, e.dir, "all_cinemas_data_*.json")
	data, err := os.ReadFile(snapshot)
	require.NoError(t, err)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal(data, &rows))
	assert.Len(t, rows, records)
}

func TestScan_SnapshotsAreCumulative(t *testing.T) {
	t.Parallel()

	e := setup(t)
	for id := int64(1); id <= 60; id++ {
		e.mock.SetCinema(id, "X", "44010000")
	}

	cfg := scan.DefaultRunConfig(1, 60)
	cfg.Workers = 2
	cfg.SnapshotEvery = 25 * time.Millisecond

	err := e.run(context.Background(), t, cfg)
	require.NoError(t, err)

	matches, err := filepath.Glob(filepath.Join(e.dir, "all_cinemas_data_*.json"))
	require.NoError(t, err)
	require.NotEmpty(t, matches)

	// Later snapshots are supersets of earlier ones; the last one holds
	// the full range.
	var sizes []int
	for _, path := range matches {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		var rows []map[string]any
		require.NoError(t, json.Unmarshal(data, &rows))
		sizes = append(sizes, len(rows))
	}
	for i := 1; i < len(sizes); i++ {
		assert.GreaterOrEqual(t, sizes[i], sizes[i-1], "snapshot sizes: %v", sizes)
	}
	assert.Equal(t, 60, sizes[len(sizes)-1])
}
