package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"calhub/internal/api"
	"calhub/internal/cache"
	"calhub/internal/calendar"
	"calhub/internal/config"
	"calhub/internal/engine"
	"calhub/internal/store"
	"calhub/internal/token"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	// Optional .env for secret overrides
	_ = godotenv.Load()

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	// Setup logging
	setupLogging(cfg.Logging)

	log.Info().Msg("Starting calhub server")

	// Open the database
	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	settings := store.NewSettings(db)
	accounts := store.NewAccounts(db)
	cacheSvc := cache.NewService(db, cfg.CacheTTL())

	tokens := token.NewManager(accounts, cfg.Google.ClientID, cfg.Google.ClientSecret,
		cfg.Google.TokenURL, cfg.Google.TokenInfoURL)

	agg := engine.NewAggregator(
		settings,
		accounts,
		tokens,
		calendar.NewGoogleClient(tokens),
		calendar.NewGraphClient(cfg.RelayTimeout()),
		calendar.NewRelayClient(cfg.RelayTimeout(), cfg.RelayCacheTTL()),
		cacheSvc,
	)

	// Periodic expired-entry sweep
	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.Cache.SweepSchedule, func() {
		if _, err := cacheSvc.ClearExpired(); err != nil {
			log.Warn().Err(err).Msg("Cache sweep failed")
		}
	}); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.Cache.SweepSchedule).Msg("Invalid sweep schedule")
	}
	sweeper.Start()
	defer sweeper.Stop()

	// The only authenticator trusts identity headers, so running without a
	// fronting session layer must be an explicit choice.
	if !cfg.Auth.TrustedProxy {
		log.Fatal().Msg("auth.trusted_proxy must be enabled; this server resolves identity from proxy headers")
	}

	handlers := api.NewHandlers(agg)
	var auth api.Authenticator = api.HeaderAuthenticator{}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           routes(handlers, auth, cfg.HandlerTimeout()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Handle shutdown gracefully
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info().Msg("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Graceful shutdown failed")
		}
	}()

	log.Info().Int("port", cfg.Server.Port).Msg("Listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server failed")
	}

	log.Info().Msg("Server stopped")
}

func setupLogging(cfg config.LoggingConfig) {
	// Set log level
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Configure output
	var output = os.Stdout
	if cfg.Path != "" {
		file, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to open log file, using stdout")
		} else {
			output = file
		}
	}

	// Configure format
	if cfg.Format == "console" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}
}
