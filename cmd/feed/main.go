package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"marketfeed/internal/cache"
	"marketfeed/internal/codec"
	"marketfeed/internal/core"
	"marketfeed/internal/ingest"
	"marketfeed/internal/obs"
	"marketfeed/internal/ops"
	"marketfeed/internal/prefs"
	"marketfeed/internal/rest"
	"marketfeed/pkg/conn"
	"marketfeed/pkg/websocket"
)

const handshakeTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		logs.Errorf("feed: %+v", err)
		os.Exit(1)
	}
}

func run() error {
	configFlag := flag.String("config", "", "YAML config path (optional)")
	flag.Parse()

	cfg, err := ops.Load(*configFlag)
	if err != nil {
		return err
	}

	if cfg.Profiling.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: cfg.Profiling.AppName,
			ServerAddress:   cfg.Profiling.ServerAddress,
			Logger:          profilerLogger{},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return errors.Wrap(err, "start pyroscope").With("server", cfg.Profiling.ServerAddress)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	symbols, err := codec.NewSymbolTable(cfg.SymbolNames()...)
	if err != nil {
		return err
	}

	metrics := obs.NewCounters()
	pool, err := ingest.New(
		cfg.IngestConfig(),
		codec.New(symbols),
		websocket.NewDialer(handshakeTimeout, nil),
		ingest.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}
	defer pool.Close()

	caches := cache.NewManager(cfg.CacheConfig())
	defer caches.Destroy()

	var serviceOpts []core.Option
	if cfg.Postgres.Enabled {
		pg, err := conn.New(cfg.PostgresOption())
		if err != nil {
			return err
		}
		defer func() {
			_ = pg.Close()
		}()

		store, err := prefs.NewStore(pg.DB())
		if err != nil {
			return err
		}
		cached, err := prefs.NewCached(store, caches.Preference, 0)
		if err != nil {
			return err
		}
		serviceOpts = append(serviceOpts, core.WithPreferences(cached))
		logs.Info("preference store ready")
	}

	fetcher := rest.New(cfg.RestConfig(), caches.Upstream, nil)
	service, err := core.NewService(pool, caches, fetcher, serviceOpts...)
	if err != nil {
		return err
	}
	defer service.Close()

	if err := pool.Start(ctx); err != nil {
		return err
	}
	logs.Infof("feed started, exchanges: %v, symbols: %v", pool.Exchanges(), symbols.Names())

	interval := cfg.Stats.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logs.Info("feed shutting down")
			return nil
		case <-sys.Shutdown():
			logs.Info("feed shutting down")
			return nil
		case <-ticker.C:
			reportStats(pool, caches, metrics)
		}
	}
}

func reportStats(pool *ingest.Pool, caches *cache.Manager, metrics *obs.Counters) {
	for ex, s := range pool.ConnectionStats() {
		logs.Infof("%s connections, total: %d, open: %d, connecting: %d, closed: %d, breaker: %s",
			ex, s.Total, s.Open, s.Connecting, s.Closed, s.Breaker.State)
	}

	o := caches.OverallStats()
	logs.Infof("cache, items: %d, size: %d, hit rate: %.2f%%, evictions: %d",
		o.ItemCount, o.TotalSize, o.HitRate*100, o.Evictions)

	snap := metrics.Snapshot()
	for ex, s := range snap.Exchanges {
		logs.Infof("%s signals, decode errors: %d, dropped sends: %d, refusals: %d, reconnects: %d",
			ex, s.DecodeErrors, s.DroppedSends, s.BreakerRefusals, s.Reconnects)
	}
	logs.Infof("event latency, count: %d, min: %s, avg: %s, max: %s",
		snap.EventLatency.Count, snap.EventLatency.Min, snap.EventLatency.Avg, snap.EventLatency.Max)
}

type profilerLogger struct{}

func (profilerLogger) Infof(format string, args ...interface{})  { logs.Infof(format, args...) }
func (profilerLogger) Debugf(_ string, _ ...interface{})         {}
func (profilerLogger) Errorf(format string, args ...interface{}) { logs.Errorf(format, args...) }
