// Command bot runs the quota-gated Telegram assistant: it long-polls
// Telegram, answers through Gemini, keeps the quota ledger in SQLite and
// serves the ops HTTP surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/tbourn/go-assistant-bot/internal/ai"
	"github.com/tbourn/go-assistant-bot/internal/config"
	"github.com/tbourn/go-assistant-bot/internal/history"
	httpapi "github.com/tbourn/go-assistant-bot/internal/http"
	"github.com/tbourn/go-assistant-bot/internal/ledger"
	"github.com/tbourn/go-assistant-bot/internal/observability"
	"github.com/tbourn/go-assistant-bot/internal/ratelimit"
	"github.com/tbourn/go-assistant-bot/internal/repo"
	"github.com/tbourn/go-assistant-bot/internal/services"
	"github.com/tbourn/go-assistant-bot/internal/sysutil"
	"github.com/tbourn/go-assistant-bot/internal/transport/telegram"
)

// version is set at link time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("bot", pflag.ContinueOnError)
	envFile := flags.String("env-file", ".env", "dotenv file loaded before reading the environment (ignored when missing)")
	showVersion := flags.Bool("version", false, "print the version and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Println(version)
		return nil
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", *envFile, err)
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.RequireCredentials(); err != nil {
		return err
	}
	sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", cfg.DBPath, err)
	}
	if cfg.OTEL.Enabled {
		if err := repo.EnableTracing(db); err != nil {
			return fmt.Errorf("gorm tracing: %w", err)
		}
	}
	if err := repo.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	sheets := repo.NewSheets(db)

	quotas := ledger.New(sheets, cfg.Quota.DefaultLimit)
	codes := ledger.NewRegistry(sheets)
	memory := history.New(cfg.History.Limit, cfg.History.Snippet)

	tgbotapi.SetLogger(telegram.NewZeroLogger(log.Logger))
	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	api.Debug = cfg.Telegram.Debug
	log.Info().Str("bot", api.Self.UserName).Str("version", version).Msg("telegram authorized")
	bot := telegram.NewBot(api, nil)

	svc := &services.SessionService{
		Ledger:    services.LedgerQuota(quotas),
		Codes:     codes,
		History:   memory,
		Transport: bot,
		Photos:    bot,
		Logs:      ledger.NewLogSink(sheets),
		AI: ai.NewGemini(ai.Options{
			APIKey:  cfg.AI.APIKey,
			Model:   cfg.AI.Model,
			BaseURL: cfg.AI.BaseURL,
			Timeout: cfg.AI.Timeout,
		}),
		BotName:     cfg.BotName,
		BonusAmount: cfg.Quota.BonusAmount,
	}

	var srv *http.Server
	if cfg.OpsEnabled {
		gin.SetMode(cfg.GinMode)
		r := gin.New()
		httpapi.RegisterRoutes(r, httpapi.Deps{Quotas: quotas, Codes: codes, History: memory}, cfg)
		srv = &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           r,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			MaxHeaderBytes:    cfg.MaxHeaderBytes,
		}
		go func() {
			log.Info().Str("addr", srv.Addr).Bool("admin", cfg.Security.AdminToken != "").Msg("ops server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("ops server failed")
				stop()
			}
		}()
	}

	d := &telegram.Dispatcher{
		Source:      api,
		Handler:     svc,
		Limiter:     ratelimit.New(cfg.RateRPS, cfg.RateBurst),
		Dedup:       &repo.UpdateLog{DB: db, TTL: cfg.UpdateDedupTTL},
		PollTimeout: cfg.Telegram.PollTimeout,
	}
	runErr := d.Run(ctx)

	if srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("ops server shutdown")
		}
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("bye")
	return runErr
}
