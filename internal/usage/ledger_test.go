package usage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/HanTheDev/reqnest-engine/internal/models"
	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanSink struct {
	got chan models.UsageRecord
	err error
}

func (s *chanSink) LogUsage(ctx context.Context, rec *models.UsageRecord) error {
	s.got <- *rec
	return s.err
}

func record(user, api string, op models.Operation, status int, ms int64) models.UsageRecord {
	return models.UsageRecord{UserID: user, APIName: api, Operation: op, Status: status, ResponseTimeMs: ms}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	l := NewLedger(WithClock(mock))

	// Yesterday's call counts toward totals but not today.
	l.Record(ctx, models.UsageRecord{UserID: "u1", APIName: "todos", Operation: models.OpCreate, Status: 200, ResponseTimeMs: 10, Timestamp: mock.Now().Add(-24 * time.Hour)})
	l.Record(ctx, record("u1", "todos", models.OpSearch, 404, 20))
	l.Record(ctx, record("u1", "notes", models.OpReadAll, 200, 30))
	l.Record(ctx, record("u1", "todos", models.OpUpdate, 200, 40))
	l.Record(ctx, record("u2", "todos", models.OpCreate, 200, 50))

	stats := l.Stats("u1")
	assert.Equal(t, int64(4), stats.TotalCalls)
	assert.Equal(t, int64(3), stats.CallsToday)
	assert.InDelta(t, 75.0, stats.SuccessRate, 0.001)
	assert.InDelta(t, 25.0, stats.AvgResponseTime, 0.001)
	assert.Equal(t, map[string]int64{"todos": 3, "notes": 1}, stats.APICalls)

	require.Len(t, stats.RecentActivity, 4)
	assert.Equal(t, models.OpUpdate, stats.RecentActivity[0].Operation, "newest first")

	empty := l.Stats("nobody")
	assert.Zero(t, empty.TotalCalls)
	assert.NotNil(t, empty.RecentActivity)
}

func TestRecentActivityLimitedToFive(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(WithClock(clock.NewMock()))
	for i := 0; i < 8; i++ {
		l.Record(ctx, record("u1", "todos", models.OpReadAll, 200, int64(i)))
	}
	stats := l.Stats("u1")
	require.Len(t, stats.RecentActivity, 5)
	assert.Equal(t, int64(7), stats.RecentActivity[0].ResponseTimeMs)
}

func TestRingEvictionKeepsLifetimeTotals(t *testing.T) {
	ctx := context.Background()
	l := NewLedger(WithClock(clock.NewMock()), WithCapacity(3))
	for i := 0; i < 5; i++ {
		l.Record(ctx, record("u1", "todos", models.OpCreate, 200, 1))
	}
	stats := l.Stats("u1")
	assert.Equal(t, int64(5), stats.TotalCalls)
	assert.Equal(t, int64(3), stats.CallsToday)
}

func TestAPIStats(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	l.Record(ctx, record("a", "orders", models.OpCreate, 200, 10))
	l.Record(ctx, record("b", "orders", models.OpCreate, 400, 30))

	total, success, avg := l.APIStats("orders")
	assert.Equal(t, int64(2), total)
	assert.InDelta(t, 50.0, success, 0.001)
	assert.InDelta(t, 20.0, avg, 0.001)

	total, _, _ = l.APIStats("missing")
	assert.Zero(t, total)
}

func TestRecordForwardsToSink(t *testing.T) {
	sink := &chanSink{got: make(chan models.UsageRecord, 1), err: errors.New("db down")}
	l := NewLedger(WithSink(sink))

	ctx, cancel := context.WithCancel(context.Background())
	l.Record(ctx, record("u1", "todos", models.OpDelete, 404, 5))
	cancel()

	select {
	case rec := <-sink.got:
		assert.Equal(t, models.OpDelete, rec.Operation)
		assert.False(t, rec.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("sink was not called")
	}
}

func TestRecordMetrics(t *testing.T) {
	l := NewLedger()
	l.Record(context.Background(), record("u1", "todos", models.OpCreate, 200, 5))
	l.Record(context.Background(), record("u1", "todos", models.OpCreate, 200, 5))

	assert.Equal(t, 2.0, testutil.ToFloat64(l.metrics.operations.WithLabelValues("todos", "CREATE", "200")))
	assert.Len(t, l.PrometheusCollectors(), 2)
}

func TestConcurrentRecord(t *testing.T) {
	l := NewLedger()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Record(context.Background(), record("u1", "todos", models.OpReadAll, 200, 1))
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), l.Stats("u1").TotalCalls)
}

func TestGetUsageAnalytics(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	l := NewLedger(WithClock(mock))

	l.Record(ctx, record("u1", "todos", models.OpCreate, 200, 10))
	l.Record(ctx, record("u1", "todos", models.OpCreate, 400, 30))
	l.Record(ctx, record("u1", "notes", models.OpSearch, 404, 5))
	l.Record(ctx, record("u2", "todos", models.OpCreate, 200, 99))
	mock.Add(48 * time.Hour)
	l.Record(ctx, record("u1", "todos", models.OpCreate, 200, 1000))

	from := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	got, err := l.GetUsageAnalytics(ctx, "u1", from, from.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "notes", got[0].APIName)
	assert.Equal(t, int64(1), got[0].Errors)

	assert.Equal(t, "todos", got[1].APIName)
	assert.Equal(t, models.OpCreate, got[1].Operation)
	assert.Equal(t, int64(2), got[1].Calls)
	assert.Equal(t, int64(1), got[1].Errors)
	assert.InDelta(t, 20.0, got[1].AvgResponseTimeMs, 0.001)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), got[1].LastCall)
}
