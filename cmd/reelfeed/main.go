package main

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/example/reelfeed/internal/events"
	"github.com/example/reelfeed/internal/fetch"
	"github.com/example/reelfeed/internal/httpapi"
	"github.com/example/reelfeed/internal/platform/config"
	"github.com/example/reelfeed/internal/platform/db"
	"github.com/example/reelfeed/internal/platform/httpserver"
	"github.com/example/reelfeed/internal/platform/logging"
	"github.com/example/reelfeed/internal/platform/natsconn"
	"github.com/example/reelfeed/internal/platform/run"
	"github.com/example/reelfeed/internal/playback"
	"github.com/example/reelfeed/internal/progressdb"
	"github.com/example/reelfeed/internal/resolver"
	"github.com/example/reelfeed/internal/source"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	// Byte fetcher with a breaker in front of the media origin.
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "media-origin",
		MaxRequests: cfg.Fetch.CBMaxRequests,
		Interval:    cfg.Fetch.CBInterval,
		Timeout:     cfg.Fetch.CBTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Fetch.CBFailureThreshold
		},
	})
	fetcher := fetch.New(fetch.Config{
		MaxRetries:     cfg.Fetch.MaxRetries,
		RetryBaseDelay: cfg.Fetch.RetryBaseDelay,
		HeadBytes:      cfg.Fetch.HeadBytes,
	}, fetch.WithCircuitBreaker(cb), fetch.WithLogger(log))

	// Source resolution, memoized in Redis when configured.
	var resolverOpts []resolver.Option
	if cfg.Resolver.RedisURL != "" {
		srcCache, err := resolver.NewSourceCache(cfg.Resolver.RedisURL, cfg.Resolver.CacheTTL)
		if err != nil {
			log.Error("redis source cache", zap.Error(err))
			run.Exit(1)
		}
		resolverOpts = append(resolverOpts, resolver.WithCache(srcCache))
	}
	resolverOpts = append(resolverOpts, resolver.WithLogger(log))
	res := resolver.New(cfg.Resolver.BaseURL, resolverOpts...)

	mat := source.New(res, fetcher, log)

	// Optional telemetry / durable progress over NATS.
	var sink playback.EventSink
	var repo progressdb.Repository
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	if cfg.NATSURL != "" {
		nc, err := natsconn.Connect(natsconn.Options{URL: cfg.NATSURL})
		if err != nil {
			log.Warn("nats connect, telemetry disabled", zap.Error(err))
		} else {
			defer nc.Close()
			js, err := nc.JetStream()
			if err != nil {
				log.Warn("jetstream, telemetry disabled", zap.Error(err))
			} else {
				sink = events.New(js, log)
			}
			if cfg.DatabaseURL != "" {
				pool, err := db.Open(context.Background(), cfg.DatabaseURL)
				if err != nil {
					log.Error("db open", zap.Error(err))
					run.Exit(1)
				}
				defer pool.Close()
				pg := progressdb.NewPostgresRepository(pool)
				repo = pg
				progressdb.StartConsumer(consumerCtx, nc, pg, log)
			}
		}
	}

	cache := playback.NewCacheStore(playback.CacheConfig{
		BudgetBytes:  cfg.Cache.BudgetBytes,
		FetchTimeout: cfg.Cache.FetchTimeout,
	}, log)

	coord, err := playback.NewCoordinator(playback.Config{
		VisibilityThreshold: cfg.Playback.VisibilityThreshold,
		TrackingWindow:      cfg.Playback.TrackingWindow,
		ProgressInterval:    cfg.Playback.ProgressInterval,
	}, playback.Deps{
		Cache: cache,
		Quality: &playback.QualitySelector{
			Network: playback.StaticClassifier(playback.ParseNetworkClass(cfg.Playback.NetworkClass)),
		},
		Progress: playback.NewMemoryProgressStore(),
		Fetch:    mat.Fetch,
		Events:   sink,
		Logger:   log,
	})
	if err != nil {
		log.Error("coordinator", zap.Error(err))
		run.Exit(1)
	}
	defer coord.Close()

	r := chi.NewRouter()
	httpserver.SetupRouter(r)
	r.Post("/v1/feed/attach", httpapi.Attach(coord, log))
	r.Post("/v1/feed/detach", httpapi.Detach(coord, log))
	r.Post("/v1/feed/visibility", httpapi.Visibility(coord, log))
	r.Post("/v1/feed/screen", httpapi.Screen(coord, log))
	r.Post("/v1/feed/retry", httpapi.Retry(coord, log))
	r.Post("/v1/feed/quality", httpapi.Quality(coord, log))
	r.Get("/v1/feed/state", httpapi.State(coord))
	if repo != nil {
		r.Get("/v1/progress/{video_id}", httpapi.Progress(repo, log))
	}

	srv := httpserver.New(httpserver.Options{Addr: cfg.HTTP.Addr, Router: r})

	runner := run.New(log)
	code := runner.WithSignals(func(ctx context.Context) error {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		return srv.Start(log)
	})

	log.Info("exit", zap.Int("code", code))
	run.Exit(code)
}
