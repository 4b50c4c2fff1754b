// Package aggregation computes current and historical personal trading
// volume across exchanges.
package aggregation

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"exchange-volume-tracker/internal/cache"
	"exchange-volume-tracker/internal/connector"
	"exchange-volume-tracker/internal/credentials"
	"exchange-volume-tracker/internal/domain"
	"exchange-volume-tracker/internal/logger"
	"exchange-volume-tracker/internal/normalize"
	"exchange-volume-tracker/internal/observability"
	"exchange-volume-tracker/internal/storage"
)

// SnapshotKey is the cache key of the current-volume snapshot.
const SnapshotKey = "volume:current"

const (
	defaultWindow          = 24 * time.Hour
	defaultCacheTTL        = 4 * time.Minute
	defaultExchangeTimeout = 30 * time.Second
)

// Options configures a Service.
type Options struct {
	Connectors  []connector.Connector
	Credentials credentials.Store
	Normalizer  *normalize.Normalizer
	Store       storage.HistoricalStore
	Cache       cache.Cache

	// Window is the rolling lookback of a current-volume snapshot.
	Window time.Duration
	// CacheTTL must be shorter than the refresh interval so staleness
	// stays observable.
	CacheTTL time.Duration
	// ExchangeTimeout bounds each exchange's fetch during a refresh.
	ExchangeTimeout time.Duration
}

// Service aggregates normalized fills into volume snapshots and series.
type Service struct {
	connectors      []connector.Connector
	creds           credentials.Store
	normalizer      *normalize.Normalizer
	store           storage.HistoricalStore
	cache           cache.Cache
	window          time.Duration
	cacheTTL        time.Duration
	exchangeTimeout time.Duration

	group singleflight.Group
	log   *logger.Entry
	now   func() time.Time
}

// NewService creates an aggregation service.
func NewService(opts Options) *Service {
	s := &Service{
		connectors:      opts.Connectors,
		creds:           opts.Credentials,
		normalizer:      opts.Normalizer,
		store:           opts.Store,
		cache:           opts.Cache,
		window:          opts.Window,
		cacheTTL:        opts.CacheTTL,
		exchangeTimeout: opts.ExchangeTimeout,
		log:             logger.Get().WithComponent("aggregation"),
		now:             time.Now,
	}
	if s.window <= 0 {
		s.window = defaultWindow
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = defaultCacheTTL
	}
	if s.exchangeTimeout <= 0 {
		s.exchangeTimeout = defaultExchangeTimeout
	}
	return s
}

// WithClock overrides the service clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CurrentVolume returns the rolling-window snapshot, from cache when
// fresh. Concurrent callers that miss the cache share one refresh.
func (s *Service) CurrentVolume(ctx context.Context) (*domain.CurrentVolumeSnapshot, error) {
	if snap, err := s.cache.GetSnapshot(ctx, SnapshotKey); err == nil {
		observability.DefaultMetrics.CacheHits.Inc()
		return snap, nil
	}
	observability.DefaultMetrics.CacheMisses.Inc()

	v, err, _ := s.group.Do(SnapshotKey, func() (interface{}, error) {
		return s.Refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.CurrentVolumeSnapshot), nil
}

// Refresh fans out to every exchange, builds a fresh snapshot and
// replaces the cached one. One exchange failing never fails the
// snapshot; the failed exchange contributes zero and carries the error.
func (s *Service) Refresh(ctx context.Context) (*domain.CurrentVolumeSnapshot, error) {
	since := s.now().Add(-s.window)

	results := make([]domain.ExchangeVolume, len(s.connectors))
	var wg sync.WaitGroup
	for i, conn := range s.connectors {
		wg.Add(1)
		go func(i int, conn connector.Connector) {
			defer wg.Done()
			results[i] = s.fetchExchange(ctx, conn, since)
		}(i, conn)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool {
		return results[i].Exchange < results[j].Exchange
	})

	snap := &domain.CurrentVolumeSnapshot{
		Exchanges:  results,
		ComputedAt: s.now().UTC(),
	}
	allOK := true
	for _, ev := range results {
		if ev.Error != "" {
			allOK = false
			continue
		}
		snap.TotalUSD24h += ev.VolumeUSD24h
	}

	if err := s.cache.SetSnapshot(ctx, SnapshotKey, snap, s.cacheTTL); err != nil {
		s.log.WithError(err).Warn("failed to cache snapshot")
	}

	observability.DefaultMetrics.SnapshotTotal.Set(snap.TotalUSD24h)
	if allOK {
		observability.DefaultMetrics.LastSuccessfulRefresh.Set(float64(snap.ComputedAt.Unix()))
	}
	return snap, nil
}

// fetchExchange fetches and normalizes one exchange's window under its
// own timeout. Failures are folded into the returned entry.
func (s *Service) fetchExchange(ctx context.Context, conn connector.Connector, since time.Time) domain.ExchangeVolume {
	started := s.now()
	ev := domain.ExchangeVolume{Exchange: conn.Name()}

	fctx, cancel := context.WithTimeout(ctx, s.exchangeTimeout)
	defer cancel()

	cred, err := s.creds.Get(fctx, conn.Name())
	if err != nil {
		return s.failExchange(ev, started, err)
	}

	fills, err := conn.FetchRecentFills(fctx, cred, since)
	if err != nil {
		return s.failExchange(ev, started, err)
	}
	observability.RecordFillsFetched(conn.Name(), len(fills))

	contribs, skipped, err := s.normalizer.NormalizeAll(fctx, fills)
	if err != nil {
		return s.failExchange(ev, started, err)
	}

	ev.Fills = len(contribs)
	ev.SkippedFills = skipped
	for _, c := range contribs {
		ev.VolumeUSD24h += c.USDNotional
	}

	observability.RecordRefresh(conn.Name(), "ok", s.now().Sub(started).Seconds())
	return ev
}

func (s *Service) failExchange(ev domain.ExchangeVolume, started time.Time, err error) domain.ExchangeVolume {
	ev.VolumeUSD24h = 0
	ev.Error = err.Error()
	s.log.WithError(err).WithFields(logger.Fields{"exchange": ev.Exchange}).Warn("exchange refresh failed")
	observability.RecordRefresh(ev.Exchange, "error", s.now().Sub(started).Seconds())
	return ev
}

// HistoricalVolume returns the gap-free volume series between start and
// end inclusive, re-bucketed to the granularity. Days with no stored
// volume appear as explicit zeros.
func (s *Service) HistoricalVolume(ctx context.Context, start, end domain.Day, g domain.Granularity) ([]domain.VolumePoint, error) {
	days := domain.DaysBetween(start, end)
	if days == nil {
		return nil, storage.ErrInvalidInput
	}

	records, err := s.store.QueryRange(ctx, start, end)
	if err != nil {
		return nil, err
	}

	perDay := make(map[domain.Day]float64)
	for _, rec := range records {
		perDay[rec.Day] += rec.TotalUSDNotional
	}

	var points []domain.VolumePoint
	for _, day := range days {
		bucket := g.BucketOf(day)
		if len(points) == 0 || points[len(points)-1].Bucket != bucket {
			points = append(points, domain.VolumePoint{Bucket: bucket})
		}
		points[len(points)-1].TotalUSDNotional += perDay[day]
	}
	return points, nil
}
