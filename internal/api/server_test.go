package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pair-apr-lab/internal/domain"
	"pair-apr-lab/internal/ingestion"
	"pair-apr-lab/internal/logging"
	"pair-apr-lab/internal/observability"
	"pair-apr-lab/internal/storage"
	"pair-apr-lab/internal/storage/memory"
)

const (
	pairA = "0xbc9d21652cca70f54351e3fb982c6b5dbe992a22"
	pairB = "0xb4e16d0168e52d35cacd2c6185b44281ec28c9dc"
)

var t0 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeIngester struct {
	results []ingestion.Result
	calls   int
}

func (f *fakeIngester) RunOnce(context.Context) []ingestion.Result {
	f.calls++
	return f.results
}

// pingStore adds a failing Ping to a memory store.
type pingStore struct {
	*memory.SnapshotStore
	err error
}

func (p *pingStore) Ping(context.Context) error { return p.err }

// countingStore records Query calls.
type countingStore struct {
	storage.SnapshotStore
	queries int
}

func (c *countingStore) Query(ctx context.Context, q storage.SnapshotQuery) ([]*domain.Snapshot, error) {
	c.queries++
	return c.SnapshotStore.Query(ctx, q)
}

func seededStore(t *testing.T) *memory.SnapshotStore {
	t.Helper()
	store := memory.NewSnapshotStore()
	var snapshots []*domain.Snapshot
	for i := 0; i < 48; i++ {
		for _, pair := range []string{pairA, pairB} {
			snapshots = append(snapshots, &domain.Snapshot{
				PairID:    pair,
				Timestamp: t0.Add(time.Duration(i) * time.Hour),
				Liquidity: decimal.NewFromInt(1_000_000),
				Volume:    decimal.NewFromInt(41_666),
				Fees:      decimal.NewFromInt(125),
			})
		}
	}
	_, err := store.InsertMany(context.Background(), snapshots)
	require.NoError(t, err)
	return store
}

func newTestServer(store storage.SnapshotStore, ing Ingester) *Server {
	reg := prometheus.NewRegistry()
	return New(Options{
		Store:          store,
		Ingester:       ing,
		Logger:         logging.Discard(),
		Metrics:        observability.NewMetrics("test", reg),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
}

func get(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestMetrics_TimeWindow(t *testing.T) {
	s := newTestServer(seededStore(t), nil)

	rec := get(t, s, http.MethodGet, "/api/metrics?pair="+pairA+"&from=2024-05-01T00:00:00Z&to=2024-05-01T23:00:00Z&ma=24")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Pair    string            `json:"pair"`
		Metrics []domain.AprPoint `json:"metrics"`
	}
	decode(t, rec, &body)

	assert.Equal(t, pairA, body.Pair)
	require.Len(t, body.Metrics, 24)
	// Full 24h window of 125/h fees on 1M liquidity each hour
	assert.InDelta(t, 125.0*24*8760*100/(24_000_000*24), body.Metrics[23].APR, 1e-9)
	assert.True(t, body.Metrics[0].Timestamp.Equal(t0))
}

func TestMetrics_DateOnlyBoundsCoverWholeDay(t *testing.T) {
	s := newTestServer(seededStore(t), nil)

	rec := get(t, s, http.MethodGet, "/api/metrics?pair="+pairA+"&from=2024-05-01&to=2024-05-01")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Metrics []domain.AprPoint `json:"metrics"`
	}
	decode(t, rec, &body)
	assert.Len(t, body.Metrics, 24)
}

func TestPairMetrics_CountWindow(t *testing.T) {
	s := newTestServer(seededStore(t), nil)

	rec := get(t, s, http.MethodGet, "/api/pair-metrics?pair="+pairB+"&from=2024-05-01&to=2024-05-02&ma=12")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data []domain.AprPoint `json:"data"`
	}
	decode(t, rec, &body)
	assert.Len(t, body.Data, 48)
}

func TestMetrics_BadRequestsNeverTouchStore(t *testing.T) {
	store := &countingStore{SnapshotStore: seededStore(t)}
	s := newTestServer(store, nil)

	tests := []struct {
		name  string
		query string
		msg   string
	}{
		{"missing pair", "from=2024-05-01&to=2024-05-02", "Missing query params"},
		{"missing to", "pair=" + pairA + "&from=2024-05-01", "Missing query params"},
		{"bad pair", "pair=0x12&from=2024-05-01&to=2024-05-02", "Invalid pair"},
		{"bad date", "pair=" + pairA + "&from=yesterday&to=2024-05-02", "Invalid date format"},
		{"inverted range", "pair=" + pairA + "&from=2024-05-03&to=2024-05-02", "from must not be after to"},
		{"ma=5", "pair=" + pairA + "&from=2024-05-01&to=2024-05-02&ma=5", "Invalid ma parameter, must be 1, 12, or 24"},
		{"ma not a number", "pair=" + pairA + "&from=2024-05-01&to=2024-05-02&ma=day", "Invalid ma parameter, must be 1, 12, or 24"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, path := range []string{"/api/metrics", "/api/pair-metrics"} {
				rec := get(t, s, http.MethodGet, path+"?"+tt.query)
				assert.Equal(t, http.StatusBadRequest, rec.Code)

				var body map[string]string
				decode(t, rec, &body)
				assert.Equal(t, tt.msg, body["error"])
			}
		})
	}
	assert.Zero(t, store.queries)
}

func TestSnapshots_Listing(t *testing.T) {
	s := newTestServer(seededStore(t), nil)

	rec := get(t, s, http.MethodGet, "/api/snapshots?pair="+pairA+"&limit=5&offset=1")
	require.Equal(t, http.StatusOK, rec.Code)

	var snapshots []domain.Snapshot
	decode(t, rec, &snapshots)
	require.Len(t, snapshots, 5)
	assert.True(t, snapshots[0].Timestamp.Equal(t0.Add(46*time.Hour)), "newest first after offset")
	assert.NotEmpty(t, snapshots[0].ID)
	for _, snap := range snapshots {
		assert.Equal(t, pairA, snap.PairID)
	}

	rec = get(t, s, http.MethodGet, "/api/snapshots?limit=10000")
	decode(t, rec, &snapshots)
	assert.Len(t, snapshots, 96, "limit is capped at 500, store has 96")

	rec = get(t, s, http.MethodGet, "/api/snapshots")
	decode(t, rec, &snapshots)
	assert.Len(t, snapshots, 96, "default limit 100 exceeds the 96 stored")

	rec = get(t, s, http.MethodGet, "/api/snapshots?limit=0")
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestSnapshots_BadParams(t *testing.T) {
	s := newTestServer(seededStore(t), nil)

	for _, q := range []string{"limit=-1", "limit=abc", "offset=-2", "pair=nope"} {
		rec := get(t, s, http.MethodGet, "/api/snapshots?"+q)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestIngest(t *testing.T) {
	tests := []struct {
		name    string
		results []ingestion.Result
		code    int
	}{
		{"all ok", []ingestion.Result{{PairID: pairA, Action: ingestion.ActionAppend, Inserted: 1}}, http.StatusOK},
		{"partial failure", []ingestion.Result{
			{PairID: pairA, Action: ingestion.ActionAppend},
			{PairID: pairB, Action: ingestion.ActionFailed, Err: errors.New("boom"), Error: "boom"},
		}, http.StatusOK},
		{"all failed", []ingestion.Result{
			{PairID: pairA, Action: ingestion.ActionFailed, Err: errors.New("boom"), Error: "boom"},
		}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing := &fakeIngester{results: tt.results}
			s := newTestServer(memory.NewSnapshotStore(), ing)

			for _, method := range []string{http.MethodGet, http.MethodPost} {
				rec := get(t, s, method, "/api/ingest")
				assert.Equal(t, tt.code, rec.Code)

				var body map[string]any
				decode(t, rec, &body)
				if tt.code == http.StatusOK {
					assert.Equal(t, "Ingestion completed", body["message"])
				} else {
					assert.Equal(t, "Ingestion failed", body["error"])
				}
			}
			assert.Equal(t, 2, ing.calls)
		})
	}
}

func TestIngest_NotRoutedWithoutIngester(t *testing.T) {
	s := newTestServer(memory.NewSnapshotStore(), nil)
	assert.Equal(t, http.StatusNotFound, get(t, s, http.MethodGet, "/api/ingest").Code)
}

func TestAPI_SecurityHeadersAndCORS(t *testing.T) {
	s := newTestServer(seededStore(t), nil)

	rec := get(t, s, http.MethodGet, "/api/snapshots")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "SAMEORIGIN", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-referrer", rec.Header().Get("Referrer-Policy"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = get(t, s, http.MethodOptions, "/api/metrics")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "OPTIONS")

	rec = get(t, s, http.MethodGet, "/health")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"), "only /api routes get CORS")
}

func TestHealth(t *testing.T) {
	healthy := newTestServer(&pingStore{SnapshotStore: memory.NewSnapshotStore()}, nil)
	assert.Equal(t, http.StatusOK, get(t, healthy, http.MethodGet, "/health").Code)

	down := newTestServer(&pingStore{SnapshotStore: memory.NewSnapshotStore(), err: errors.New("conn refused")}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, down, http.MethodGet, "/health").Code)
}

func TestPrometheusEndpoint(t *testing.T) {
	s := newTestServer(seededStore(t), nil)
	get(t, s, http.MethodGet, "/api/snapshots")

	rec := get(t, s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_api_requests_total")
}
