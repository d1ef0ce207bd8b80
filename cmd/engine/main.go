package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lev-exchange/engine/internal/broker"
	"github.com/lev-exchange/engine/internal/config"
	"github.com/lev-exchange/engine/internal/engine"
)

const VERSION = "v1.0"

func main() {
	// ═══════════════════════════════════════════════════════════════
	// BOOTSTRAP
	// ═══════════════════════════════════════════════════════════════

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("no .env file found")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	cfg := config.Load()
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Msgf("trading engine %s starting", VERSION)
	log.Debug().
		Str("broker_addr", cfg.BrokerAddr).
		Str("orders_stream", cfg.OrdersStream).
		Str("snapshot_path", cfg.SnapshotPath).
		Msg("configuration loaded")

	// ═══════════════════════════════════════════════════════════════
	// STATE + SNAPSHOT RECOVERY
	// ═══════════════════════════════════════════════════════════════

	state := engine.New(cfg.NewUserBalance)
	cursor := &engine.Cursor{}
	snapshots := engine.NewSnapshotManager(state, cursor, cfg.SnapshotPath, cfg.SnapshotPeriod)

	lastProcessedID, err := snapshots.Load()
	if err != nil {
		log.Error().Err(err).Msg("snapshot load failed, starting empty")
	} else if lastProcessedID != "" {
		cursor.Set(lastProcessedID)
		log.Info().Str("last_processed_id", lastProcessedID).Msg("resuming from snapshot")
	}

	// ═══════════════════════════════════════════════════════════════
	// BROKER + CONSUMERS
	// ═══════════════════════════════════════════════════════════════

	b := broker.New(cfg.BrokerAddr, cfg.BrokerDB, cfg.BrokerRetryBackoff)
	defer b.Close()

	if cfg.ConsumerGroupMode {
		ctx := context.Background()
		if err := b.EnsureGroup(ctx, cfg.OrdersStream, cfg.ConsumerGroup); err != nil {
			log.Error().Err(err).Msg("failed to ensure consumer group")
		}
	}

	processor := engine.NewProcessor(state, b, cursor, cfg)
	scanner := engine.NewScanner(state, cfg.LiquidationPeriod)

	ctx, cancel := context.WithCancel(context.Background())

	go scanner.Run(ctx)
	go snapshots.Run(ctx)
	go processor.Run(ctx)

	log.Info().Msg("engine running")

	// ═══════════════════════════════════════════════════════════════
	// GRACEFUL SHUTDOWN
	// ═══════════════════════════════════════════════════════════════

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Warn().Msg("shutdown signal received, draining")
	cancel()

	if err := snapshots.Save(); err != nil {
		log.Error().Err(err).Msg("final snapshot save failed")
	} else {
		log.Info().Msg("final snapshot saved")
	}

	log.Info().Msg("shutdown complete")
}
