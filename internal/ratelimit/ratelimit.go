// Package ratelimit gates inbound requests with one token bucket per API
// key, sized by the caller's current subscription tier.
//
// The tier store is the source of truth. Every admission check re-reads the
// caller's tier; when it differs from the tier the cached bucket was built
// for, the bucket is replaced by a fresh, full one. Accumulated consumption
// is discarded rather than prorated.
package ratelimit

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/HanTheDev/reqnest-engine/internal/apierr"
	"github.com/HanTheDev/reqnest-engine/internal/models"
	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// TierStore resolves an API key to its subscription tier. An empty tier
// means the key has no plan. A key that belongs to no account is
// models.ErrNotFound.
type TierStore interface {
	Tier(ctx context.Context, apiKey string) (string, error)
}

// Bandwidth is a bucket capacity refilled greedily over Period.
type Bandwidth struct {
	Capacity int
	Period   time.Duration
}

var bandwidths = map[string]Bandwidth{
	models.TierFree:       {Capacity: 30, Period: 24 * time.Hour},
	models.TierPremium:    {Capacity: 100, Period: 24 * time.Hour},
	models.TierEnterprise: {Capacity: 1000, Period: 24 * time.Hour},
}

// NormalizeTier maps unknown or empty tiers to free.
func NormalizeTier(tier string) string {
	if _, ok := bandwidths[tier]; ok {
		return tier
	}
	return models.TierFree
}

// BandwidthFor returns the bandwidth of tier, treating unknown tiers as free.
func BandwidthFor(tier string) Bandwidth {
	return bandwidths[NormalizeTier(tier)]
}

// Bucket is a token bucket bound to the tier it was built for. The tier of
// a bucket never changes.
type Bucket struct {
	tier      string
	bandwidth Bandwidth
	limiter   *rate.Limiter
}

func newBucket(tier string) *Bucket {
	bw := BandwidthFor(tier)
	every := rate.Limit(float64(bw.Capacity) / bw.Period.Seconds())
	return &Bucket{
		tier:      tier,
		bandwidth: bw,
		limiter:   rate.NewLimiter(every, bw.Capacity),
	}
}

func (b *Bucket) Tier() string {
	return b.tier
}

func (b *Bucket) Capacity() int {
	return b.bandwidth.Capacity
}

// Probe is the outcome of a consumption attempt.
type Probe struct {
	Consumed      bool
	Remaining     int64
	WaitForRefill time.Duration
}

// TryConsume takes one token at now.
func (b *Bucket) TryConsume(now time.Time) Probe {
	if b.limiter.AllowN(now, 1) {
		remaining := int64(math.Floor(b.limiter.TokensAt(now)))
		if remaining < 0 {
			remaining = 0
		}
		return Probe{Consumed: true, Remaining: remaining}
	}

	missing := 1 - b.limiter.TokensAt(now)
	if missing < 0 {
		missing = 0
	}
	wait := time.Duration(missing / float64(b.limiter.Limit()) * float64(time.Second))
	return Probe{WaitForRefill: wait}
}

// Decision is the result of an admission check.
type Decision struct {
	Admitted          bool   `json:"admitted"`
	Tier              string `json:"tier"`
	Remaining         int64  `json:"remaining"`
	TotalHits         int64  `json:"totalHits"`
	RetryAfterSeconds int64  `json:"retryAfterSeconds,omitempty"`
}

type Option func(*Limiter)

func WithClock(c clock.Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

func WithHitCounter(h HitCounter) Option {
	return func(l *Limiter) { l.hits = h }
}

func WithBucketTable(t *BucketTable) Option {
	return func(l *Limiter) { l.table = t }
}

func WithLogger(log *zap.Logger) Option {
	return func(l *Limiter) { l.log = log }
}

type Limiter struct {
	tiers   TierStore
	table   *BucketTable
	hits    HitCounter
	clock   clock.Clock
	log     *zap.Logger
	metrics *metrics
}

func New(tiers TierStore, opts ...Option) *Limiter {
	l := &Limiter{
		tiers: tiers,
		clock: clock.New(),
		log:   zap.NewNop(),
	}
	for _, o := range opts {
		o(l)
	}
	if l.table == nil {
		l.table = NewBucketTable(DefaultShards)
	}
	if l.hits == nil {
		l.hits = NewMemoryHitCounter()
	}
	l.metrics = newMetrics(l.table)
	return l
}

// PrometheusCollectors returns the limiter metrics.
func (l *Limiter) PrometheusCollectors() []prometheus.Collector {
	return l.metrics.collectors()
}

// ResolveBucket returns the bucket for apiKey, replacing it when the
// caller's tier changed since it was built. Keys without an account are
// rejected before any bucket is built.
//
// The tier is read outside the shard lock. When a tier change races with
// two requests, the one holding the older read may install its bucket
// last; the next check reads the new tier and replaces it again. Bucket
// installs are last-writer-wins.
func (l *Limiter) ResolveBucket(ctx context.Context, apiKey string) (*Bucket, error) {
	const op = "ratelimit.ResolveBucket"

	tier, err := l.tiers.Tier(ctx, apiKey)
	if errors.Is(err, models.ErrNotFound) {
		return nil, apierr.New(apierr.EUnauthenticated, op, "unknown API key")
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.EInternal, op, err, "failed to resolve tier")
	}
	tier = NormalizeTier(tier)

	b, replaced := l.table.Resolve(apiKey, tier, newBucket)
	if replaced {
		l.log.Debug("bucket created", zap.String("tier", tier), zap.Int("capacity", b.Capacity()))
	}
	return b, nil
}

// CheckAdmission consumes one token for apiKey. A rejected request
// returns a Decision carrying RetryAfterSeconds together with an
// ERateLimited error.
func (l *Limiter) CheckAdmission(ctx context.Context, apiKey string) (Decision, error) {
	if apiKey == "" {
		return Decision{}, apierr.New(apierr.EUnauthenticated, "ratelimit.CheckAdmission", "missing API key")
	}

	bucket, err := l.ResolveBucket(ctx, apiKey)
	if err != nil {
		return Decision{}, err
	}

	probe := bucket.TryConsume(l.clock.Now())
	if !probe.Consumed {
		l.metrics.decisions.WithLabelValues(bucket.Tier(), "rejected").Inc()
		d := Decision{
			Tier:              bucket.Tier(),
			RetryAfterSeconds: int64(math.Ceil(probe.WaitForRefill.Seconds())),
		}
		return d, apierr.Errorf(apierr.ERateLimited, "ratelimit.CheckAdmission",
			"rate limit exceeded for %s tier", bucket.Tier())
	}

	l.metrics.decisions.WithLabelValues(bucket.Tier(), "admitted").Inc()
	total, err := l.hits.Incr(ctx, apiKey)
	if err != nil {
		l.log.Warn("failed to count hit", zap.Error(err))
	}
	return Decision{
		Admitted:  true,
		Tier:      bucket.Tier(),
		Remaining: probe.Remaining,
		TotalHits: total,
	}, nil
}

// TotalHits returns the cumulative admitted requests for apiKey.
func (l *Limiter) TotalHits(ctx context.Context, apiKey string) (int64, error) {
	return l.hits.Count(ctx, apiKey)
}

// Forget drops the bucket held for apiKey, e.g. after the key is rotated.
func (l *Limiter) Forget(apiKey string) {
	l.table.Evict(apiKey)
}
