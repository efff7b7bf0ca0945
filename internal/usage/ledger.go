// Package usage keeps the short-term ledger of engine operations that
// feeds caller statistics, and forwards every record to a persistent sink.
// Counts are reporting aids and may lag under concurrency.
package usage

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/HanTheDev/reqnest-engine/internal/models"
	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// DefaultCapacity bounds the number of records kept in memory.
const DefaultCapacity = 10000

// recentActivityLimit is the number of records returned in Stats.
const recentActivityLimit = 5

// Sink persists usage records.
type Sink interface {
	LogUsage(ctx context.Context, rec *models.UsageRecord) error
}

// Counts aggregates operations for one caller or one API.
type Counts struct {
	Total          int64 `json:"total"`
	Success        int64 `json:"success"`
	ResponseTimeMs int64 `json:"-"`
}

// Stats is the caller facing summary.
type Stats struct {
	CallsToday      int64                `json:"callsToday"`
	TotalCalls      int64                `json:"totalCalls"`
	SuccessRate     float64              `json:"successRate"`
	AvgResponseTime float64              `json:"avgResponseTime"`
	RecentActivity  []models.UsageRecord `json:"recentActivity"`
	APICalls        map[string]int64     `json:"apiCalls"`
}

type Option func(*Ledger)

func WithSink(s Sink) Option {
	return func(l *Ledger) { l.sink = s }
}

func WithClock(c clock.Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

func WithLogger(log *zap.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

func WithCapacity(n int) Option {
	return func(l *Ledger) { l.capacity = n }
}

type Ledger struct {
	mu       sync.RWMutex
	records  []models.UsageRecord
	next     int
	full     bool
	capacity int

	byCaller    map[string]*Counts
	byAPI       map[string]*Counts
	byCallerAPI map[string]map[string]int64

	sink    Sink
	clock   clock.Clock
	log     *zap.Logger
	metrics *metrics
}

func NewLedger(opts ...Option) *Ledger {
	l := &Ledger{
		capacity:    DefaultCapacity,
		byCaller:    make(map[string]*Counts),
		byAPI:       make(map[string]*Counts),
		byCallerAPI: make(map[string]map[string]int64),
		clock:       clock.New(),
		log:         zap.NewNop(),
		metrics:     newMetrics(),
	}
	for _, o := range opts {
		o(l)
	}
	if l.capacity <= 0 {
		l.capacity = DefaultCapacity
	}
	l.records = make([]models.UsageRecord, l.capacity)
	return l
}

// PrometheusCollectors returns the ledger metrics.
func (l *Ledger) PrometheusCollectors() []prometheus.Collector {
	return l.metrics.collectors()
}

// Record appends rec. A zero timestamp is set from the ledger clock.
func (l *Ledger) Record(ctx context.Context, rec models.UsageRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.clock.Now().UTC()
	}
	success := rec.Status == http.StatusOK

	l.mu.Lock()
	l.records[l.next] = rec
	l.next = (l.next + 1) % l.capacity
	if l.next == 0 {
		l.full = true
	}
	bump(l.byCaller, rec.UserID, rec, success)
	bump(l.byAPI, rec.APIName, rec, success)
	perAPI, ok := l.byCallerAPI[rec.UserID]
	if !ok {
		perAPI = make(map[string]int64)
		l.byCallerAPI[rec.UserID] = perAPI
	}
	perAPI[rec.APIName]++
	l.mu.Unlock()

	l.metrics.operations.WithLabelValues(rec.APIName, string(rec.Operation), strconv.Itoa(rec.Status)).Inc()
	l.metrics.duration.WithLabelValues(string(rec.Operation)).Observe(float64(rec.ResponseTimeMs) / 1000)

	if l.sink != nil {
		bg := context.WithoutCancel(ctx)
		go func() {
			if err := l.sink.LogUsage(bg, &rec); err != nil {
				l.log.Warn("failed to persist usage record",
					zap.String("user", rec.UserID),
					zap.String("api", rec.APIName),
					zap.Error(err))
			}
		}()
	}
}

func bump(m map[string]*Counts, key string, rec models.UsageRecord, success bool) {
	c, ok := m[key]
	if !ok {
		c = &Counts{}
		m[key] = c
	}
	c.Total++
	if success {
		c.Success++
	}
	c.ResponseTimeMs += rec.ResponseTimeMs
}

// Stats summarizes caller's activity. Lifetime totals survive ring
// eviction; CallsToday and RecentActivity only see retained records.
func (l *Ledger) Stats(caller string) Stats {
	startOfDay := truncateDay(l.clock.Now().UTC())

	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := Stats{
		RecentActivity: []models.UsageRecord{},
		APICalls:       map[string]int64{},
	}
	if c, ok := l.byCaller[caller]; ok {
		stats.TotalCalls = c.Total
		stats.SuccessRate, stats.AvgResponseTime = rates(c)
	}
	for api, n := range l.byCallerAPI[caller] {
		stats.APICalls[api] = n
	}

	l.eachNewestFirst(func(rec models.UsageRecord) {
		if rec.UserID != caller {
			return
		}
		if !rec.Timestamp.Before(startOfDay) {
			stats.CallsToday++
		}
		if len(stats.RecentActivity) < recentActivityLimit {
			stats.RecentActivity = append(stats.RecentActivity, rec)
		}
	})
	return stats
}

// APIStats returns lifetime counts for one API name.
func (l *Ledger) APIStats(api string) (total int64, successRate, avgResponseTime float64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.byAPI[api]
	if !ok {
		return 0, 0, 0
	}
	successRate, avgResponseTime = rates(c)
	return c.Total, successRate, avgResponseTime
}

// GetUsageAnalytics aggregates the retained records of caller in
// [from, to) per API and operation. It mirrors the persistent query so the
// ledger can serve analytics when no database is configured.
func (l *Ledger) GetUsageAnalytics(ctx context.Context, caller string, from, to time.Time) ([]models.UsageAnalytics, error) {
	type key struct {
		api string
		op  models.Operation
	}
	groups := make(map[key]*models.UsageAnalytics)
	totals := make(map[key]int64)

	l.mu.RLock()
	l.eachNewestFirst(func(rec models.UsageRecord) {
		if rec.UserID != caller || rec.Timestamp.Before(from) || !rec.Timestamp.Before(to) {
			return
		}
		k := key{rec.APIName, rec.Operation}
		g, ok := groups[k]
		if !ok {
			g = &models.UsageAnalytics{APIName: rec.APIName, Operation: rec.Operation}
			groups[k] = g
		}
		g.Calls++
		if rec.Status != http.StatusOK {
			g.Errors++
		}
		totals[k] += rec.ResponseTimeMs
		if rec.Timestamp.After(g.LastCall) {
			g.LastCall = rec.Timestamp
		}
	})
	l.mu.RUnlock()

	out := make([]models.UsageAnalytics, 0, len(groups))
	for k, g := range groups {
		g.AvgResponseTimeMs = float64(totals[k]) / float64(g.Calls)
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].APIName != out[j].APIName {
			return out[i].APIName < out[j].APIName
		}
		return out[i].Operation < out[j].Operation
	})
	return out, nil
}

func (l *Ledger) eachNewestFirst(fn func(models.UsageRecord)) {
	size := l.next
	if l.full {
		size = l.capacity
	}
	for i := 0; i < size; i++ {
		idx := (l.next - 1 - i + l.capacity) % l.capacity
		fn(l.records[idx])
	}
}

func rates(c *Counts) (successRate, avgResponseTime float64) {
	if c.Total == 0 {
		return 0, 0
	}
	return float64(c.Success) * 100 / float64(c.Total), float64(c.ResponseTimeMs) / float64(c.Total)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
