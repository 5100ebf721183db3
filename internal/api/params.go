package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"pair-apr-lab/internal/domain"
	"pair-apr-lab/internal/metrics"
)

// Snapshot listing bounds.
const (
	DefaultLimit = 100
	MaxLimit     = 500
)

// requestError is a parameter error reported to the caller as 400.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &requestError{msg: msg}
}

type seriesParams struct {
	pair string
	from time.Time
	to   time.Time
	ma   int
}

// parseSeriesParams reads pair, from, to and ma (default 1).
func parseSeriesParams(c *gin.Context) (seriesParams, error) {
	var p seriesParams

	pair, from, to := c.Query("pair"), c.Query("from"), c.Query("to")
	if pair == "" || from == "" || to == "" {
		return p, badRequest("Missing query params")
	}

	var err error
	if p.pair, err = domain.NormalizePairID(pair); err != nil {
		return p, badRequest("Invalid pair")
	}
	if p.from, err = parseTime(from, false); err != nil {
		return p, badRequest("Invalid date format")
	}
	if p.to, err = parseTime(to, true); err != nil {
		return p, badRequest("Invalid date format")
	}
	if p.from.After(p.to) {
		return p, badRequest("from must not be after to")
	}

	p.ma, err = strconv.Atoi(c.DefaultQuery("ma", "1"))
	if err != nil || metrics.ValidateWindow("ma", p.ma) != nil {
		return p, badRequest("Invalid ma parameter, must be 1, 12, or 24")
	}
	return p, nil
}

// parseTime accepts RFC3339 or a bare date. A bare date used as an upper
// bound covers the whole day.
func parseTime(v string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

type listParams struct {
	pair   string
	limit  int
	offset int
}

// parseListParams reads the optional pair, limit (capped at MaxLimit) and offset.
func parseListParams(c *gin.Context) (listParams, error) {
	p := listParams{limit: DefaultLimit}

	if raw := c.Query("pair"); raw != "" {
		pair, err := domain.NormalizePairID(raw)
		if err != nil {
			return p, badRequest("Invalid pair")
		}
		p.pair = pair
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return p, badRequest("Invalid limit")
		}
		p.limit = min(n, MaxLimit)
	}
	if raw := c.Query("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return p, badRequest("Invalid offset")
		}
		p.offset = n
	}
	return p, nil
}
