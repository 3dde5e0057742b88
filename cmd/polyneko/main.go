// PolyNeko - directional trading bot for Polymarket 15-minute Up/Down markets
//
// Strategy:
// 1. Stream spot prices from Binance and compute a rolling momentum signal
// 2. Enter the momentum side of the current 15-minute market when the
//    signal clears the confidence threshold
// 3. If the entered token's price trails off past the trigger and stays
//    there, hedge once with the opposite side to cap the loss
// 4. Settle at the slot boundary against the reference price and record P&L
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/polyneko/polyneko/internal/config"
	"github.com/polyneko/polyneko/internal/dashboard"
	"github.com/polyneko/polyneko/internal/engine"
	"github.com/polyneko/polyneko/internal/execution"
	"github.com/polyneko/polyneko/internal/exposure"
	"github.com/polyneko/polyneko/internal/feed"
	"github.com/polyneko/polyneko/internal/ledger"
	"github.com/polyneko/polyneko/internal/market"
	"github.com/polyneko/polyneko/internal/notify"
	"github.com/polyneko/polyneko/internal/position"
	sig "github.com/polyneko/polyneko/internal/signal"
)

const version = "2.0.0"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	mode := "LIVE"
	if cfg.SimulationMode {
		mode = "SIM"
	}
	log.Info().
		Str("version", version).
		Str("mode", mode).
		Strs("symbols", cfg.Symbols).
		Str("bet_size", cfg.BetSize.String()).
		Str("max_position", cfg.MaxPosition.String()).
		Msg("🐱 PolyNeko starting")

	store, err := ledger.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Ledger init failed")
	}

	priceFeed := feed.NewBinanceFeed(cfg.Symbols)
	if err := priceFeed.Start(); err != nil {
		log.Fatal().Err(err).Msg("Price feed start failed")
	}

	books := market.NewBooks(cfg.WSURL)
	if err := books.Start(); err != nil {
		log.Fatal().Err(err).Msg("Market books start failed")
	}

	gamma := market.NewGammaClient(cfg.GammaURL)
	registry := market.NewRegistry(priceFeed, gamma)

	var exchange execution.Exchange
	if cfg.SimulationMode {
		exchange = execution.NewSimulatedExchange()
	} else {
		exchange, err = execution.NewCLOBClient(execution.CLOBConfig{
			BaseURL:       cfg.CLOBURL,
			APIKey:        cfg.APIKey,
			APISecret:     cfg.APISecret,
			Passphrase:    cfg.Passphrase,
			PrivateKey:    cfg.PrivateKey,
			FunderAddress: cfg.FunderAddress,
			SignatureType: cfg.SignatureType,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("CLOB client init failed")
		}
	}
	gateway := execution.NewGateway(exchange, store, cfg.OrderMaxRetries)

	sinks := []notify.Notifier{}
	if d := notify.NewDiscord(cfg.DiscordWebhook); d != nil {
		sinks = append(sinks, d)
	}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.Error().Err(err).Msg("Telegram init failed, continuing without it")
		} else {
			sinks = append(sinks, tg)
		}
	}
	notifier := notify.NewMulti(sinks...)

	caps := exposure.NewLedger(cfg.MaxPosition)
	signals := sig.NewEngine(cfg.SignalWindow, cfg.EntryThreshold)

	params := position.Params{
		BetSize:       cfg.BetSize,
		MinConfidence: cfg.MinConfidence,
		TrailTrigger:  cfg.TrailTrigger,
		TrailSize:     cfg.TrailSize,
		HedgeConfirm:  cfg.HedgeConfirm,
	}

	orchestrator := engine.New(cfg.Symbols, priceFeed, signals, registry, books,
		gateway, store, caps, notifier, params, cfg.SignalCooldown)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := orchestrator.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Engine start failed")
	}
	notifier.Startup(cfg.Symbols, cfg.SimulationMode)

	var dash *dashboard.Server
	if cfg.DashboardEnabled {
		dash = dashboard.NewServer(store, cfg.DashboardPort)
		dash.Start()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("Shutting down...")
	cancel()
	orchestrator.Stop()
	priceFeed.Stop()
	books.Stop()
	if dash != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := dash.Stop(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Dashboard shutdown failed")
		}
	}
	log.Info().Msg("👋 Goodbye")
}
