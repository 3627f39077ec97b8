package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"salonbook/internal/analytics"
	"salonbook/internal/api"
	"salonbook/internal/booking"
	"salonbook/internal/clock"
	"salonbook/internal/config"
	"salonbook/internal/db"
	"salonbook/internal/events"
	"salonbook/internal/lock"
	"salonbook/internal/metrics"
	"salonbook/internal/slots"
	"salonbook/internal/syncpipe"
)

func main() {
	// Initialize logger
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("SALON_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel()); err == nil {
		logger = logger.Level(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer database.Close()

	metrics.Register()

	bus := events.NewEventBus(&logger)
	if len(cfg.Kafka.Brokers) > 0 {
		forwarder := events.NewKafkaForwarder(events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.KafkaTopic()), 5*time.Second, &logger)
		forwarder.Attach(bus)
		defer forwarder.Close()
		logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.KafkaTopic()).Msg("Kafka forwarding enabled")
	}

	clk := clock.System{}
	calculator := slots.NewCalculator(database, clk, &logger)
	bookings := booking.NewService(database, database, clk, bus, &logger)

	var rdb *redis.Client
	var cache *slots.Cache
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()

		cache = slots.NewCache(rdb, cfg.SlotCacheTTL(), &logger)
		calculator.UseCache(cache)
		bookings.UseSlotCache(cache)
		bookings.UseLocker(lock.NewRedisLocker(rdb, cfg.LockTTL(), cfg.LockWait()))
	}

	// Cached days of a reloaded org may reflect its previous hours.
	syncSalons := func(c *config.SalonsConfig) error {
		if err := database.SyncSalonsFromConfig(ctx, c); err != nil {
			return err
		}
		for _, o := range c.Orgs {
			cache.InvalidateOrg(ctx, o.TenantID, o.ID)
		}
		return nil
	}

	if err := config.WatchSalons(ctx, cfg.SalonsPath(), cfg.SalonsWatchInterval(), &logger, syncSalons); err != nil {
		logger.Fatal().Err(err).Str("path", cfg.SalonsPath()).Msg("failed to load salons config")
	}

	deps := api.Deps{
		Slots:     calculator,
		Booking:   bookings,
		Menus:     database,
		Schedules: database,
		Checker:   booking.NewChecker(database),
	}
	if cache != nil {
		deps.SlotCache = cache
	}

	if cfg.Analytics.DSN != "" {
		bunDB, err := analytics.Open(cfg.Analytics.DSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("open analytics store error")
		}
		sink := analytics.NewSink(bunDB, cfg.Analytics.WritesPerSecond, &logger)
		defer sink.Close()
		if cfg.Analytics.CreateSchema {
			if err := sink.CreateSchema(ctx); err != nil {
				logger.Fatal().Err(err).Msg("create analytics schema error")
			}
		}
		deps.Facts = sink

		pipeline := syncpipe.New(database, sink, database, syncpipe.NewTimerScheduler(ctx), clk, syncpipe.Config{
			Limit:        cfg.SyncBatchLimit(),
			RetryBackoff: cfg.SyncRetryBackoff(),
			MaxAttempts:  cfg.SyncMaxAttempts(),
		}, &logger)
		pipeline.UseEvents(bus)
		pipeline.UseCompleter(database)
		deps.Sync = pipeline

		if cfg.Sync.Enabled {
			go pipeline.Start(ctx, cfg.SyncInterval())
		}
	} else {
		logger.Warn().Msg("analytics.dsn is empty, sync and reports are disabled")
	}

	if cfg.Backup.Enabled {
		backups := db.NewBackupService(database, cfg.BackupPath(), cfg.BackupInterval(), cfg.Backup.RetentionDays, &logger)
		go backups.Start(ctx)
	}

	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8090
	}
	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, database, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	server := api.NewHTTPServer(cfg.ServerAddress(), deps, &logger)
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctxShutdown); err != nil {
			logger.Error().Err(err).Msg("api shutdown error")
		}
	}()

	logger.Info().Str("addr", cfg.ServerAddress()).Msg("salond started")
	if err := server.Start(); err != nil {
		logger.Error().Err(err).Msg("api server error")
	}
	logger.Info().Msg("salond stopped")
}

func startHealthServer(ctx context.Context, port int, database *db.DB, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := database.PingContext(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	serve(ctx, fmt.Sprintf(":%d", port), mux, "health", logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	serve(ctx, fmt.Sprintf(":%d", port), mux, "metrics", logger)
}

func serve(ctx context.Context, addr string, handler http.Handler, name string, logger *zerolog.Logger) {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Str("server", name).Msg("server error")
	}
}
