// Package telemetry collects HTTP and ledger metrics in process and serves
// them in the Prometheus text exposition format.
package telemetry

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/db"
)

var defaultDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// histogram counts observations into fixed buckets. Bucket counts are stored
// non-cumulative and summed at export.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits
	mu           sync.Mutex
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	atomicAddFloat64(&h.sum, v)

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
}

func (h *histogram) Count() int64 {
	return atomic.LoadInt64(&h.count)
}

func (h *histogram) Sum() float64 {
	return math.Float64frombits(atomic.LoadUint64(&h.sum))
}

func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	raw := make([]int64, len(h.bucketCounts))
	copy(raw, h.bucketCounts)
	h.mu.Unlock()

	var running int64
	for i, c := range raw {
		running += c
		raw[i] = running
	}
	return raw
}

func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		next := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(addr, old, math.Float64bits(next)) {
			return
		}
	}
}

// labelsKey builds the key of a labeled request histogram.
func labelsKey(method, route, status string) string {
	return method + "|" + route + "|" + status
}

// Metrics holds the service's counters, gauges and request histograms.
type Metrics struct {
	mu       sync.RWMutex
	requests map[string]*histogram

	active atomic.Int64

	refreshes     atomic.Int64
	ledgerVersion atomic.Uint64
	ledgerBills   atomic.Int64
	lastRefresh   atomic.Int64 // unix seconds

	// Stale, when set, reports whether the ledger snapshot is stale.
	Stale func() bool
	// Pool, when set, adds connection pool gauges.
	Pool *pgxpool.Pool
}

func New() *Metrics {
	return &Metrics{requests: make(map[string]*histogram)}
}

func (m *Metrics) requestHistogram(key string) *histogram {
	m.mu.RLock()
	h, ok := m.requests[key]
	m.mu.RUnlock()
	if ok {
		return h
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok = m.requests[key]; !ok {
		h = newHistogram(defaultDurationBuckets)
		m.requests[key] = h
	}
	return h
}

// LedgerRefreshed records a successful ledger refresh.
func (m *Metrics) LedgerRefreshed(_ context.Context, version uint64, bills int) {
	m.refreshes.Add(1)
	m.ledgerVersion.Store(version)
	m.ledgerBills.Store(int64(bills))
	m.lastRefresh.Store(time.Now().Unix())
}

// Middleware records request durations by method, route and status code.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Path() == "/metrics" {
				return next(c)
			}
			m.active.Add(1)
			start := time.Now()

			err := next(c)

			m.active.Add(-1)
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok && !c.Response().Committed {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.requestHistogram(labelsKey(c.Request().Method, route, strconv.Itoa(status))).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves GET /metrics.
func (m *Metrics) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder
		m.write(&b)
		return c.Blob(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
	}
}

func (m *Metrics) write(b *strings.Builder) {
	m.mu.RLock()
	keys := make([]string, 0, len(m.requests))
	for k := range m.requests {
		keys = append(keys, k)
	}
	hists := make(map[string]*histogram, len(m.requests))
	for k, h := range m.requests {
		hists[k] = h
	}
	m.mu.RUnlock()
	sort.Strings(keys)

	header(b, "http_server_request_duration_seconds", "Duration of HTTP requests in seconds.", "histogram")
	for _, k := range keys {
		parts := strings.SplitN(k, "|", 3)
		labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", parts[0], parts[1], parts[2])
		writeHistogram(b, "http_server_request_duration_seconds", labels, hists[k])
	}
	b.WriteByte('\n')

	gauge(b, "http_server_active_requests", "Number of in-flight HTTP requests.", m.active.Load())

	header(b, "ledger_refresh_total", "Successful ledger refreshes.", "counter")
	fmt.Fprintf(b, "ledger_refresh_total %d\n\n", m.refreshes.Load())

	gauge(b, "ledger_version", "Version of the current ledger snapshot.", int64(m.ledgerVersion.Load()))
	gauge(b, "ledger_bills", "Bills in the current ledger snapshot.", m.ledgerBills.Load())
	gauge(b, "ledger_last_refresh_timestamp_seconds", "Unix time of the last successful refresh.", m.lastRefresh.Load())
	if m.Stale != nil {
		var v int64
		if m.Stale() {
			v = 1
		}
		gauge(b, "ledger_stale", "1 when the ledger snapshot may not reflect the source.", v)
	}

	if m.Pool != nil {
		st := db.GetPoolStats(m.Pool)
		gauge(b, "db_pool_total_connections", "Connections held by the pool.", int64(st.TotalConns))
		gauge(b, "db_pool_idle_connections", "Idle pool connections.", int64(st.IdleConns))
		gauge(b, "db_pool_acquired_connections", "Pool connections in use.", int64(st.AcquiredConns))
	}
}

func header(b *strings.Builder, name, help, typ string) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s %s\n", name, typ)
}

func gauge(b *strings.Builder, name, help string, v int64) {
	header(b, name, help, "gauge")
	fmt.Fprintf(b, "%s %d\n\n", name, v)
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	cum := h.cumulativeBuckets()
	total := h.Count()
	for i, le := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, le, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, total)
	fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.Sum())
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, total)
}
