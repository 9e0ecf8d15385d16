// Package briefing holds the fallback coordinator: it runs one
// refresh cycle at a time, deciding per cycle whether the metered bus
// source is affordable and degrading to the cached scraper fallback
// when it is not.
package briefing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"commute-briefing/internal/cache"
	"commute-briefing/internal/config"
	"commute-briefing/internal/metrics"
	"commute-briefing/internal/officeday"
	"commute-briefing/internal/quota"
	"commute-briefing/internal/transit"
)

// ErrConfig marks a cycle aborted by a setup problem rather than a
// transient fetch failure. It is the only way RunCycle fails; every
// other degradation still publishes a snapshot.
var ErrConfig = errors.New("configuration error")

// TrafficSource is the unmetered travel-time collaborator.
type TrafficSource interface {
	TravelMinutes(ctx context.Context) (float64, error)
}

// CalendarSource supplies today's calendar event titles.
type CalendarSource interface {
	Titles(ctx context.Context, day time.Time) ([]string, error)
}

// MeteredSource is the quota-metered departures collaborator. The
// coordinator admission-checks before calling; every call is assumed
// to have been charged.
type MeteredSource interface {
	Departures(ctx context.Context, stopCode string, routes []string) ([]transit.Departure, error)
}

// FallbackSource is the scraped departures collaborator, fronted by
// the TTL cache.
type FallbackSource interface {
	Departures(ctx context.Context, stopCode string) ([]transit.Departure, error)
}

// Notifier delivers a published snapshot. Fire-and-forget: errors are
// logged, never folded into the cycle result.
type Notifier interface {
	Publish(ctx context.Context, s *Snapshot) error
}

// Store persists quota counters and snapshot history. Optional.
type Store interface {
	SaveQuota(ctx context.Context, qs quota.Snapshot) error
	InsertSnapshot(ctx context.Context, s *Snapshot) error
}

// Coordinator composes the ledger, classifier, cache and the external
// collaborators into the per-cycle state machine.
type Coordinator struct {
	cfg      *config.Config
	ledger   *quota.Ledger
	cache    *cache.Cache[[]transit.Departure]
	traffic  TrafficSource
	calendar CalendarSource
	metered  MeteredSource
	fallback FallbackSource
	notifier Notifier
	store    Store
	mcol     *metrics.Collector
	now      func() time.Time

	// cycleMu serializes cycles: manual triggers queue behind the
	// in-flight cycle, timer triggers coalesce via TryLock.
	cycleMu sync.Mutex
	latest  atomic.Pointer[Snapshot]

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Options carries the optional collaborators.
type Options struct {
	Traffic  TrafficSource
	Calendar CalendarSource
	Notifier Notifier
	Store    Store
	Metrics  *metrics.Collector
}

func NewCoordinator(cfg *config.Config, ledger *quota.Ledger, metered MeteredSource, fallback FallbackSource, opts Options) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		ledger:   ledger,
		cache:    cache.New[[]transit.Departure](),
		traffic:  opts.Traffic,
		calendar: opts.Calendar,
		metered:  metered,
		fallback: fallback,
		notifier: opts.Notifier,
		store:    opts.Store,
		mcol:     opts.Metrics,
		now:      time.Now,
	}
}

// SetClock overrides the coordinator's clock. Intended for tests.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
	c.cache.SetClock(now)
}

// Latest returns the most recently published snapshot, or nil before
// the first cycle completes.
func (c *Coordinator) Latest() *Snapshot { return c.latest.Load() }

// QuotaSnapshot reports the ledger state.
func (c *Coordinator) QuotaSnapshot() quota.Snapshot { return c.ledger.Snapshot() }

// ResetCounters forces a ledger reset outside the day-boundary path.
func (c *Coordinator) ResetCounters(ctx context.Context) quota.Snapshot {
	c.ledger.Reset()
	qs := c.ledger.Snapshot()
	if c.store != nil {
		if err := c.store.SaveQuota(ctx, qs); err != nil {
			log.Printf("persist quota reset: %v", err)
		}
	}
	log.Printf("quota counters reset")
	return qs
}

// ClearCache drops all cached fallback results.
func (c *Coordinator) ClearCache() {
	c.cache.Clear()
	log.Printf("fallback cache cleared")
}

// RunCycle executes one full refresh cycle for the given trigger
// class and publishes the resulting snapshot. Blocks until any
// in-flight cycle finishes first.
func (c *Coordinator) RunCycle(ctx context.Context, trigger quota.Class) (*Snapshot, error) {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()
	return c.runCycle(ctx, trigger)
}

// RunCycleIfIdle is RunCycle for timer triggers: when a cycle is
// already in flight the trigger is coalesced and ran=false is
// returned.
func (c *Coordinator) RunCycleIfIdle(ctx context.Context, trigger quota.Class) (*Snapshot, bool, error) {
	if !c.cycleMu.TryLock() {
		if c.mcol != nil {
			c.mcol.CyclesSkipped.WithLabelValues("coalesced").Inc()
		}
		return nil, false, nil
	}
	defer c.cycleMu.Unlock()
	s, err := c.runCycle(ctx, trigger)
	return s, true, err
}

func (c *Coordinator) runCycle(ctx context.Context, trigger quota.Class) (*Snapshot, error) {
	if c.cfg.StopPrimary == "" {
		if c.mcol != nil {
			c.mcol.CycleErrors.Inc()
		}
		return nil, fmt.Errorf("%w: primary stop code not configured", ErrConfig)
	}

	now := c.now().In(c.cfg.Location)
	day := c.classifyDay(ctx, now)

	trafficMin, delayMin := c.fetchTraffic(ctx)

	source := SourceUnavailable
	var deps []transit.Departure
	stale := false
	if day.IsOfficeDay {
		source, deps, stale = c.fetchBus(ctx, trigger)
	} else {
		if c.mcol != nil {
			c.mcol.CyclesSkipped.WithLabelValues("non_office_day").Inc()
		}
		log.Printf("not an office day, skipping bus sources")
	}

	next := nextBusFrom(deps)
	snap := &Snapshot{
		ID:              uuid.NewString(),
		Trigger:         trigger,
		FetchedAt:       now,
		OfficeDay:       day,
		TrafficMinutes:  trafficMin,
		BaselineMinutes: c.cfg.BaselineMinutes,
		DelayMinutes:    delayMin,
		BusSource:       source,
		NextBus:         next,
		Departures:      deps,
		StaleBus:        stale,
		IssueDetected:   c.issueDetected(delayMin, next),
		Quota:           c.ledger.Snapshot(),
	}
	c.publish(ctx, snap)
	return snap, nil
}

func (c *Coordinator) classifyDay(ctx context.Context, now time.Time) officeday.Result {
	if c.calendar == nil {
		// No calendar configured: every day is a commute day.
		return officeday.Result{IsOfficeDay: true}
	}
	start := c.now()
	tctx, cancel := context.WithTimeout(ctx, c.cfg.HassTimeout)
	titles, err := c.calendar.Titles(tctx, now)
	cancel()
	if c.mcol != nil {
		c.mcol.ObserveFetch("calendar", time.Since(start))
	}
	if err != nil {
		log.Printf("calendar fetch error: %v", err)
		titles = nil
	}
	return officeday.Classify(titles, c.cfg.OfficeKeywords, c.cfg.WFHKeywords, c.cfg.DefaultOfficeDay)
}

func (c *Coordinator) fetchTraffic(ctx context.Context) (traffic, delay *float64) {
	if c.traffic == nil {
		return nil, nil
	}
	start := c.now()
	tctx, cancel := context.WithTimeout(ctx, c.cfg.HassTimeout)
	mins, err := c.traffic.TravelMinutes(tctx)
	cancel()
	if c.mcol != nil {
		c.mcol.ObserveFetch("traffic", time.Since(start))
	}
	if err != nil {
		// Traffic failures never abort the cycle; delay stays unknown.
		log.Printf("traffic fetch error: %v", err)
		return nil, nil
	}
	d := mins - c.cfg.BaselineMinutes
	return &mins, &d
}

// fetchBus walks the source-selection ladder for the primary stop and,
// when everything fails, once more for the backup stop. The backup
// pass only uses the cached fallback path: a cycle is charged at most
// one metered unit.
func (c *Coordinator) fetchBus(ctx context.Context, trigger quota.Class) (BusSource, []transit.Departure, bool) {
	if c.ledger.TryConsume(trigger) {
		if c.mcol != nil {
			c.mcol.MeteredCalls.Inc()
		}
		start := c.now()
		mctx, cancel := context.WithTimeout(ctx, c.cfg.MeteredTimeout)
		deps, err := c.metered.Departures(mctx, c.cfg.StopPrimary, c.cfg.Routes)
		cancel()
		if c.mcol != nil {
			c.mcol.ObserveFetch("metered", time.Since(start))
		}
		if err == nil && len(deps) > 0 {
			return SourceMetered, deps, false
		}
		// The call already counted against quota: no retry, fall
		// through to the fallback path.
		if err != nil {
			log.Printf("metered fetch error: %v", err)
			if c.mcol != nil {
				c.mcol.MeteredErrors.Inc()
			}
		}
	} else {
		if c.mcol != nil {
			c.mcol.MeteredDenied.Inc()
		}
		log.Printf("quota denied %s call, using fallback", trigger)
	}

	if deps, stale, ok := c.fetchFallback(ctx, c.cfg.StopPrimary); ok {
		return SourceFallback, deps, stale
	}
	if c.cfg.StopBackup != "" {
		log.Printf("primary stop unavailable, trying backup stop %s", c.cfg.StopBackup)
		if deps, stale, ok := c.fetchFallback(ctx, c.cfg.StopBackup); ok {
			return SourceFallback, deps, stale
		}
	}
	if c.mcol != nil {
		c.mcol.BusUnavailable.Inc()
	}
	return SourceUnavailable, nil, false
}

func (c *Coordinator) fetchFallback(ctx context.Context, stopCode string) ([]transit.Departure, bool, bool) {
	start := c.now()
	fctx, cancel := context.WithTimeout(ctx, c.cfg.ScraperTimeout)
	deps, stale, err := c.cache.Get(fctx, stopCode, c.cfg.CacheTTL, func(ctx context.Context) ([]transit.Departure, error) {
		return c.fallback.Departures(ctx, stopCode)
	})
	cancel()
	if c.mcol != nil {
		c.mcol.ObserveFetch("fallback", time.Since(start))
	}
	if err != nil && !stale {
		log.Printf("fallback fetch error for stop %s: %v", stopCode, err)
		return nil, false, false
	}
	if stale {
		// Publishable, surfaced for diagnostics only.
		log.Printf("serving stale fallback data for stop %s (refresh failed: %v)", stopCode, err)
		if c.mcol != nil {
			c.mcol.CacheStale.Inc()
		}
	}
	deps = transit.FilterRoutes(deps, c.cfg.Routes)
	if len(deps) == 0 {
		return nil, false, false
	}
	if c.mcol != nil {
		c.mcol.FallbackServed.Inc()
	}
	return deps, stale, true
}

// issueDetected derives the issue flag. Unknown fields never trigger
// an issue.
func (c *Coordinator) issueDetected(delay *float64, next *NextBus) bool {
	if delay != nil && *delay >= c.cfg.DelayThreshold {
		return true
	}
	if next != nil && next.EtaMinutes != transit.DueUnknown && next.EtaMinutes >= c.cfg.BusGapThreshold {
		return true
	}
	return false
}

// publish swaps in the new snapshot and fans it out to the notifier,
// the store, and the metrics gauges. Fan-out failures are logged only.
func (c *Coordinator) publish(ctx context.Context, snap *Snapshot) {
	c.latest.Store(snap)

	if c.mcol != nil {
		c.mcol.CyclesRun.WithLabelValues(string(snap.Trigger)).Inc()
		c.mcol.QuotaUsedManual.Set(float64(snap.Quota.UsedManual))
		c.mcol.QuotaUsedAuto.Set(float64(snap.Quota.UsedAuto))
		c.mcol.QuotaRemaining.Set(float64(snap.Quota.Remaining()))
		if snap.DelayMinutes != nil {
			c.mcol.TrafficDelayMinutes.Set(*snap.DelayMinutes)
		}
		if snap.NextBus != nil && snap.NextBus.EtaMinutes != transit.DueUnknown {
			c.mcol.NextBusMinutes.Set(float64(snap.NextBus.EtaMinutes))
		}
		if snap.IssueDetected {
			c.mcol.IssueDetected.Set(1)
		} else {
			c.mcol.IssueDetected.Set(0)
		}
	}

	if c.notifier != nil {
		nctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := c.notifier.Publish(nctx, snap)
		cancel()
		if err != nil {
			log.Printf("notify error: %v", err)
			if c.mcol != nil {
				c.mcol.NotifyPublishErrs.Inc()
			}
		} else if c.mcol != nil {
			c.mcol.NotifyPublished.Inc()
		}
	}

	if c.store != nil {
		sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := c.store.SaveQuota(sctx, snap.Quota); err != nil {
			log.Printf("persist quota: %v", err)
		}
		if err := c.store.InsertSnapshot(sctx, snap); err != nil {
			log.Printf("persist snapshot: %v", err)
		}
		cancel()
	}
}
