// Package endata implements the HTTP client for the endata cinema registry:
// one form-encoded POST per identifier, response envelope parsing, and the
// browser identity the endpoint expects.
package endata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for registry lookups.
var (
	lookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cinescan_lookups_total",
		Help: "Total registry lookups by outcome",
	}, []string{"outcome"}) // "record", "no_record", "error"

	lookupErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cinescan_lookup_errors_total",
		Help: "Total registry lookup errors by class",
	}, []string{"class"})

	lookupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cinescan_lookup_duration_seconds",
		Help:    "Round-trip duration of one lookup attempt in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})
)

// Defaults for the registry endpoint.
const (
	// DefaultBaseURL is the per-identifier lookup endpoint.
	DefaultBaseURL = "https://ys.endata.cn/enlib-api/api/cinema/getcinema_baseinfo_byid.do"

	// DefaultConnectTimeout bounds connection establishment.
	DefaultConnectTimeout = 3 * time.Second

	// DefaultReadTimeout bounds the whole request including the body read.
	DefaultReadTimeout = 30 * time.Second
)

// Config holds the client configuration.
type Config struct {
	// BaseURL is the lookup endpoint receiving the POST.
	BaseURL string

	// ConnectTimeout bounds connection establishment; ReadTimeout bounds
	// the complete exchange. Both keep a worker from blocking forever.
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration

	// Identity is the header identity applied to every request.
	Identity Identity
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:        DefaultBaseURL,
		ConnectTimeout: DefaultConnectTimeout,
		ReadTimeout:    DefaultReadTimeout,
		Identity:       DefaultIdentity(),
	}
}

// Client performs single lookup attempts against the registry. Retries and
// pacing are the caller's concern; one Lookup call is exactly one POST.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a registry client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if cfg.ConnectTimeout <= 0 {
		return nil, fmt.Errorf("connect timeout must be positive (got %v)", cfg.ConnectTimeout)
	}
	if cfg.ReadTimeout <= 0 {
		return nil, fmt.Errorf("read timeout must be positive (got %v)", cfg.ReadTimeout)
	}

	logger := log.With().Str("component", "endata-client").Logger()

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.ReadTimeout,
		},
		config: cfg,
		logger: logger,
	}, nil
}

// Lookup fetches the record for one identifier.
//
// Returns the record on success, ErrNoRecord when the registry answers
// cleanly but holds nothing for the identifier, and a *LookupError for
// transport, status, and decode failures.
func (c *Client) Lookup(ctx context.Context, id int64) (*Record, error) {
	start := time.Now()
	defer func() {
		lookupDuration.Observe(time.Since(start).Seconds())
	}()

	// Form body: a cache-busting random value plus the identifier.
	form := url.Values{}
	form.Set("r", strconv.FormatFloat(rand.Float64(), 'f', -1, 64))
	form.Set("cinemaid", strconv.FormatInt(id, 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.config.Identity.apply(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		lookupsTotal.WithLabelValues("error").Inc()
		lookupErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &LookupError{
			Class:   ErrorClassNetwork,
			Message: "request failed",
			Err:     err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		class := classifyStatus(resp.StatusCode)
		lookupsTotal.WithLabelValues("error").Inc()
		lookupErrorsTotal.WithLabelValues(string(class)).Inc()

		c.logger.Warn().
			Int64("id", id).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Registry returned error status")

		return nil, &LookupError{
			StatusCode: resp.StatusCode,
			Class:      class,
			Message:    resp.Status,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		lookupsTotal.WithLabelValues("error").Inc()
		lookupErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &LookupError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassNetwork,
			Message:    "read response body",
			Err:        err,
		}
	}

	rec, err := parseLookup(body)
	if err != nil {
		var le *LookupError
		if errors.As(err, &le) {
			lookupsTotal.WithLabelValues("error").Inc()
			lookupErrorsTotal.WithLabelValues(string(le.Class)).Inc()
			c.logger.Warn().
				Int64("id", id).
				Err(err).
				Msg("Malformed registry response")
			return nil, err
		}

		// Clean no-record answer.
		lookupsTotal.WithLabelValues("no_record").Inc()
		c.logger.Debug().Int64("id", id).Msg("No record for identifier")
		return nil, err
	}

	lookupsTotal.WithLabelValues("record").Inc()
	c.logger.Debug().
		Int64("id", id).
		Int("fields", rec.Len()).
		Msg("Record fetched")

	return rec, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
