// Package thegraph fetches hourly pair measurements from a Uniswap V2 subgraph.
package thegraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"pair-apr-lab/internal/domain"
	"pair-apr-lab/internal/ingestion"
)

// Default configuration values.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxRetries   = 3
	DefaultRetryWaitMin = 500 * time.Millisecond
	DefaultRetryWaitMax = 5 * time.Second
	DefaultRateLimit    = 5 // requests per second
	DefaultPageSize     = 1000
)

const pairHoursQuery = `query PairHours($pair: String!, $first: Int!, $skip: Int!) {
  pairHourDatas(first: $first, skip: $skip, orderBy: hourStartUnix, orderDirection: desc, where: {pair: $pair}) {
    hourStartUnix
    reserveUSD
    hourlyVolumeUSD
  }
}`

// Client implements ingestion.MeasurementSource over the subgraph GraphQL API.
type Client struct {
	endpoint string
	apiKey   string
	http     *retryablehttp.Client
	limiter  *rate.Limiter
	pageSize int
}

// Compile-time interface check.
var _ ingestion.MeasurementSource = (*Client)(nil)

// ClientOption configures Client.
type ClientOption func(*Client)

// WithAPIKey sets the gateway API key sent as a bearer token.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithTimeout sets the per-attempt HTTP timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.http.HTTPClient.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.http.RetryMax = n
	}
}

// WithRetryWait sets the backoff bounds between attempts.
func WithRetryWait(minWait, maxWait time.Duration) ClientOption {
	return func(c *Client) {
		c.http.RetryWaitMin = minWait
		c.http.RetryWaitMax = maxWait
	}
}

// WithRateLimit caps outgoing requests per second. Zero disables limiting.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

// WithPageSize sets the number of rows requested per GraphQL page.
func WithPageSize(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithHTTPClient sets the underlying http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.http.HTTPClient = client
	}
}

// NewClient creates a subgraph client for endpoint.
func NewClient(endpoint string, opts ...ClientOption) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = DefaultMaxRetries
	rc.RetryWaitMin = DefaultRetryWaitMin
	rc.RetryWaitMax = DefaultRetryWaitMax
	rc.HTTPClient.Timeout = DefaultTimeout
	rc.Logger = nil

	c := &Client{
		endpoint: endpoint,
		http:     rc,
		limiter:  rate.NewLimiter(DefaultRateLimit, 1),
		pageSize: DefaultPageSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type pairHoursResponse struct {
	Data struct {
		PairHourDatas []pairHourData `json:"pairHourDatas"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

// pairHourData is one row as returned by the subgraph. Numeric fields are strings.
type pairHourData struct {
	HourStartUnix   int64  `json:"hourStartUnix"`
	ReserveUSD      string `json:"reserveUSD"`
	HourlyVolumeUSD string `json:"hourlyVolumeUSD"`
}

// Fetch returns up to limit of the newest hourly measurements for pairID, newest first.
// Returns ingestion.ErrNotFound when the subgraph has no hours for the pair and
// ingestion.ErrSourceUnavailable on transport, status or GraphQL errors.
func (c *Client) Fetch(ctx context.Context, pairID string, limit int) ([]*domain.Measurement, error) {
	pair, err := domain.NormalizePairID(pairID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ingestion.ErrNotFound, err)
	}
	if limit <= 0 {
		return nil, nil
	}

	out := make([]*domain.Measurement, 0, limit)
	for skip := 0; skip < limit; skip += c.pageSize {
		first := min(c.pageSize, limit-skip)

		rows, err := c.page(ctx, pair, first, skip)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			m, err := row.toMeasurement(pair)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ingestion.ErrSourceUnavailable, err)
			}
			out = append(out, m)
		}
		if len(rows) < first {
			break
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no hourly data for %s", ingestion.ErrNotFound, pair)
	}
	return out, nil
}

func (c *Client) page(ctx context.Context, pair string, first, skip int) ([]pairHourData, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limit: %w", ingestion.ErrSourceUnavailable, err)
		}
	}

	body, err := json.Marshal(graphQLRequest{
		Query: pairHoursQuery,
		Variables: map[string]any{
			"pair":  pair,
			"first": first,
			"skip":  skip,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ingestion.ErrSourceUnavailable, ctxErr)
		}
		return nil, fmt.Errorf("%w: %v", ingestion.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ingestion.ErrSourceUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d: %s", ingestion.ErrSourceUnavailable, resp.StatusCode, truncate(respBody, 200))
	}

	var parsed pairHoursResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: unmarshal response: %v", ingestion.ErrSourceUnavailable, err)
	}
	if len(parsed.Errors) > 0 {
		msgs := make([]error, len(parsed.Errors))
		for i, e := range parsed.Errors {
			msgs[i] = errors.New(e.Message)
		}
		return nil, fmt.Errorf("%w: graphql: %v", ingestion.ErrSourceUnavailable, errors.Join(msgs...))
	}

	return parsed.Data.PairHourDatas, nil
}

func (r pairHourData) toMeasurement(pair string) (*domain.Measurement, error) {
	reserve, err := decimal.NewFromString(r.ReserveUSD)
	if err != nil {
		return nil, fmt.Errorf("parse reserveUSD %q: %w", r.ReserveUSD, err)
	}
	volume, err := decimal.NewFromString(r.HourlyVolumeUSD)
	if err != nil {
		return nil, fmt.Errorf("parse hourlyVolumeUSD %q: %w", r.HourlyVolumeUSD, err)
	}
	return &domain.Measurement{
		PairID:    pair,
		Timestamp: time.Unix(r.HourStartUnix, 0).UTC(),
		Reserve:   reserve,
		Volume:    volume,
		Fees:      domain.FeesFromVolume(volume),
	}, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..." + strconv.Itoa(len(b)-n) + " more bytes"
}
