// creditledger is the service binary: it wires the request engine to
// Postgres persistence, the NATS price feed and event stream, and the
// HTTP API, then runs until signalled.
package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"CreditLedger/internal/bank"
	"CreditLedger/internal/config"
	"CreditLedger/internal/engine"
	"CreditLedger/internal/feed"
	"CreditLedger/internal/observability"
	"CreditLedger/internal/oracle"
	"CreditLedger/internal/persistence"
	"CreditLedger/internal/query"
	"CreditLedger/internal/server"
)

func main() {
	configPath := flag.String("config", envOr("LEDGER_CONFIG", "config.yaml"), "path to config file")
	flag.Parse()

	log := observability.NewLogger("creditledger")
	log.Info().Str("config", *configPath).Msg("starting")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("postgres ping")
	}
	log.Info().Msg("postgres connected")

	if err := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir, log).Up(ctx); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}
	log.Info().Msg("migrations applied")

	// --- Recovery ---
	snapStore := persistence.NewSnapshotStore(db)
	snapData, snapSeq, err := snapStore.LoadLatest(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load snapshot")
	}
	headSeq, err := snapStore.LatestSequence(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("read event log head")
	}
	startSeq := headSeq + 1
	if snapData == nil {
		log.Info().Int64("start_sequence", startSeq).Msg("cold start, no snapshot")
	} else {
		log.Info().Int64("snapshot_sequence", snapSeq).Int64("start_sequence", startSeq).Msg("snapshot loaded")
		if headSeq >= snapSeq {
			// Events between the snapshot and the log head exist but are not
			// replayed into state; the shutdown path snapshots at head to
			// keep this window empty on clean restarts.
			log.Warn().Int64("gap", headSeq-snapSeq+1).Msg("event log is ahead of snapshot")
		}
	}

	// --- NATS ---
	nc, js, err := feed.ConnectNATS(cfg.NATS.URL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()
	if err := feed.EnsureStreams(ctx, js, log); err != nil {
		log.Fatal().Err(err).Msg("ensure streams")
	}

	// --- Oracle ---
	prices := oracle.NewCache(cfg.Oracle.MaxPriceAge.Std())
	priceSub := feed.NewPriceSubscriber(js, prices, metrics, log)

	// --- Channels ---
	persistChan := make(chan engine.Output, cfg.Channels.PersistCapacity)
	eventChan := make(chan engine.Output, cfg.Channels.EventCapacity)

	// --- Engine ---
	eng, err := engine.New(engine.Config{
		Vaults:      cfg.Vaults,
		Collaterals: cfg.Collaterals,
		Thresholds:  cfg.Thresholds,
	}, engine.Deps{
		Oracle:         prices,
		Custody:        bank.NewLedger(),
		PersistChan:    persistChan,
		EventChan:      eventChan,
		RequestChecker: persistence.NewRequestChecker(db),
		Metrics:        metrics,
		Logger:         log,
	}, startSeq)
	if err != nil {
		log.Fatal().Err(err).Msg("build engine")
	}
	if snapData != nil {
		if err := eng.Restore(snapData); err != nil {
			log.Fatal().Err(err).Msg("restore snapshot")
		}
	}

	// --- Workers ---
	errChan := make(chan error, 8)

	worker := persistence.NewWorker(db, persistChan, startSeq,
		cfg.Persistence.BatchSize, cfg.Persistence.FlushTimeout.Std(), metrics, log)
	go func() { errChan <- worker.Run(ctx) }()

	publisher := feed.NewPublisher(js, eventChan, metrics, log)
	go func() { errChan <- publisher.Run(ctx) }()

	go func() { errChan <- priceSub.Run(ctx) }()

	go monitorChannels(ctx, metrics, persistChan, eventChan)

	go snapshotLoop(ctx, eng, snapStore, cfg.Persistence.SnapshotInterval.Std(), metrics, log)

	srv := server.New(cfg.Server.Addr, eng, query.NewService(db), health, metrics, log)
	go func() { errChan <- srv.Start() }()

	health.SetReady(true)
	log.Info().
		Int64("sequence", startSeq).
		Str("http", cfg.Server.Addr).
		Msg("creditledger ready")

	// --- Wait for shutdown ---
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		if err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("worker failed, shutting down")
		}
	}
	health.SetReady(false)

	// Stop accepting requests first so the engine quiesces, then drain the
	// persist channel and seal state with a final snapshot.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}

	close(persistChan)
	cancel()

	if err := saveSnapshot(shutdownCtx, eng, snapStore, metrics); err != nil {
		log.Error().Err(err).Msg("final snapshot failed")
	} else {
		log.Info().Msg("final snapshot saved")
	}
	log.Info().Msg("shutdown complete")
}

func snapshotLoop(ctx context.Context, eng *engine.Engine, store *persistence.SnapshotStore,
	interval time.Duration, metrics *observability.Metrics, log zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := saveSnapshot(ctx, eng, store, metrics); err != nil {
				log.Error().Err(err).Msg("periodic snapshot failed")
			}
		}
	}
}

func saveSnapshot(ctx context.Context, eng *engine.Engine, store *persistence.SnapshotStore,
	metrics *observability.Metrics) error {
	start := time.Now()
	data, seq, err := eng.Snapshot()
	if err != nil {
		return err
	}
	if err := store.Save(ctx, seq, data, time.Now()); err != nil {
		return err
	}
	metrics.SnapshotTaken.Inc()
	metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	metrics.SnapshotLastSeq.Set(float64(seq))
	return nil
}

func monitorChannels(ctx context.Context, metrics *observability.Metrics,
	persistChan, eventChan chan engine.Output) {
	channels := map[string]chan engine.Output{
		"persist": persistChan,
		"event":   eventChan,
	}
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, ch := range channels {
				size, capacity := float64(len(ch)), float64(cap(ch))
				metrics.ChannelSize.WithLabelValues(name).Set(size)
				metrics.ChannelCapacity.WithLabelValues(name).Set(capacity)
				if capacity > 0 {
					metrics.ChannelUtilization.WithLabelValues(name).Set(size / capacity)
				}
			}
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
