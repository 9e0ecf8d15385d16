package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"commute-briefing/internal/briefing"
	"commute-briefing/internal/config"
	"commute-briefing/internal/control"
	"commute-briefing/internal/hass"
	"commute-briefing/internal/metrics"
	"commute-briefing/internal/notify"
	"commute-briefing/internal/quota"
	"commute-briefing/internal/store"
	"commute-briefing/internal/transit"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Metrics setup
	var mcol *metrics.Collector
	var metricsSrvCancel context.CancelFunc
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector()
		mctx, mcancel := context.WithCancel(ctx)
		metricsSrvCancel = mcancel
		srv := mcol.Serve(cfg.MetricsAddr)
		go func() {
			<-mctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// Quota ledger, restored from Postgres when configured
	ledger := quota.NewLedger(cfg.DailyQuota, cfg.ReservedManual, cfg.MaxAuto, cfg.Location)

	var pg *store.Store
	if cfg.DatabaseURL != "" {
		pg, err = store.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db open error: %v", err)
		}
		defer pg.Close()
		if err := pg.Ping(ctx); err != nil {
			log.Fatalf("db ping error: %v", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatalf("db schema error: %v", err)
		}
		day := time.Now().In(cfg.Location).Format("2006-01-02")
		usedManual, usedAuto, found, err := pg.LoadQuota(ctx, day)
		if err != nil {
			log.Fatalf("db quota load error: %v", err)
		}
		if found {
			ledger.Restore(day, usedManual, usedAuto)
			log.Printf("restored quota for %s: manual=%d auto=%d", day, usedManual, usedAuto)
		}
	}

	// NATS notifier
	var notifier briefing.Notifier
	if cfg.NATSURL != "" {
		n, err := notify.NewNATSNotifier(cfg.NATSURL, cfg.NATSSubject, wrapNotifierMetrics(mcol))
		if err != nil {
			log.Fatalf("nats error: %v", err)
		}
		defer n.Close()
		notifier = n
	}

	// Collaborators
	metered := transit.NewTransportAPIClient(cfg.TransportAPIBaseURL, cfg.TransportAPIAppID, cfg.TransportAPIAppKey, cfg.MeteredTimeout)
	fallback := transit.NewScraperClient(cfg.ScraperURL, cfg.ScraperTimeout)

	var traffic briefing.TrafficSource
	var calendar briefing.CalendarSource
	if cfg.HassURL != "" {
		hc := hass.NewClient(cfg.HassURL, cfg.HassToken, cfg.HassTimeout)
		if cfg.WazeEntity != "" {
			traffic = &trafficAdapter{c: hc, entity: cfg.WazeEntity}
		}
		if cfg.CalendarEntity != "" {
			calendar = &calendarAdapter{c: hc, entity: cfg.CalendarEntity}
		}
	}

	opts := briefing.Options{
		Traffic:  traffic,
		Calendar: calendar,
		Notifier: notifier,
		Metrics:  mcol,
	}
	if pg != nil {
		opts.Store = pg
	}
	coord := briefing.NewCoordinator(cfg, ledger, metered, fallback, opts)

	// Control API
	ctl := control.NewServer(coord)
	if pg != nil {
		ctl.SetHistory(pg)
	}
	ctlSrv := ctl.Serve(cfg.ControlAddr)

	// Background refresh loop
	coord.Start(ctx)

	// Block until context cancelled
	<-ctx.Done()
	coord.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
	_ = ctlSrv.Shutdown(shutdownCtx)
	shutdownCancel()
	if metricsSrvCancel != nil {
		metricsSrvCancel()
	}
	log.Println("shutdown complete")
}

// trafficAdapter binds the Home Assistant client to the configured
// Waze travel-time entity.
type trafficAdapter struct {
	c      *hass.Client
	entity string
}

func (a *trafficAdapter) TravelMinutes(ctx context.Context) (float64, error) {
	return a.c.TravelMinutes(ctx, a.entity)
}

type calendarAdapter struct {
	c      *hass.Client
	entity string
}

func (a *calendarAdapter) Titles(ctx context.Context, day time.Time) ([]string, error) {
	return a.c.CalendarTitles(ctx, a.entity, day)
}

// wrapNotifierMetrics adapts our Collector to the NotifierMetrics interface.
func wrapNotifierMetrics(c *metrics.Collector) notify.NotifierMetrics {
	if c == nil {
		return nil
	}
	return &natsMetrics{c: c}
}

type natsMetrics struct{ c *metrics.Collector }

func (m *natsMetrics) SetConnected(b bool) {
	if b {
		m.c.NATSConnected.Set(1)
	} else {
		m.c.NATSConnected.Set(0)
	}
}
