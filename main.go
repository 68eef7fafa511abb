// Vigilante is a Telegram RSS watcher bot.
//
// It polls the feeds its chats have subscribed to on a fixed interval
// and delivers every new item to every subscriber exactly once.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jmoiron/sqlx"
	"github.com/oklog/run"
	"github.com/sethvargo/go-envconfig"
	"github.com/sethvargo/go-retry"
	_ "golang.org/x/crypto/x509roots/fallback"
	_ "modernc.org/sqlite"

	"github.com/mgarced/vigilante/internal/fetch"
	"github.com/mgarced/vigilante/internal/migrations"
	"github.com/mgarced/vigilante/internal/server"
	"github.com/mgarced/vigilante/internal/sqlite"
	"github.com/mgarced/vigilante/internal/subs"
	feedsync "github.com/mgarced/vigilante/internal/sync"
	"github.com/mgarced/vigilante/internal/telegram"
	"github.com/mgarced/vigilante/logger"
)

type config struct {
	BotToken string `env:"BOT_TOKEN, required"`
	Database string `env:"DATABASE, required"`

	// How often the feeds are checked, in minutes.
	CheckIntervalMinutes int `env:"CHECK_INTERVAL_MINUTES, default=10"`

	Port int `env:"PORT, default=4444"`

	// Which format to use for logging: either text or json
	LoggerFormat string `env:"LOGGER_FORMAT, default=text"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Parse the config
	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}
	if cfg.CheckIntervalMinutes <= 0 {
		log.Fatalf("CHECK_INTERVAL_MINUTES must be positive, got %d", cfg.CheckIntervalMinutes)
	}

	// Determine which logger format to use
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, nil)
	if cfg.LoggerFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, nil)
	}
	l := slog.New(logger.NewContextHandler(handler))
	slog.SetDefault(l)

	if err := serve(ctx, cfg); err != nil {
		slog.Error("error running", "error", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg config) error {
	// Connect to the db
	dbx, err := sqlx.Open("sqlite", sqlite.DSN(cfg.Database))
	if err != nil {
		return fmt.Errorf("error opening database: %s", err)
	}
	defer dbx.Close()

	// Migrate, always
	if err := migrations.Run(dbx); err != nil {
		return fmt.Errorf("error migrating: %s", err)
	}

	// Retry until Telegram answers; the network may still be coming up.
	var api *tgbotapi.BotAPI
	if err := retry.Fibonacci(ctx, 1*time.Second, func(ctx context.Context) error {
		a, err := tgbotapi.NewBotAPI(cfg.BotToken)
		if err != nil {
			return retry.RetryableError(err)
		}
		api = a

		return nil
	}); err != nil {
		return fmt.Errorf("error connecting to telegram: %s", err)
	}

	var (
		repo     = sqlite.New(dbx)
		fetcher  = fetch.New()
		notifier = telegram.NewNotifier(api)
		service  = subs.New(repo, repo, fetcher)
		engine   = feedsync.NewEngine(repo, repo, fetcher, notifier)
		sched    = feedsync.NewScheduler(engine, time.Duration(cfg.CheckIntervalMinutes)*time.Minute)
		bot      = telegram.NewBot(api, service)
		admin    = server.New(cfg.Port, server.Handlers{Service: service, Engine: engine})
	)

	slog.Info("feeds are checked on a fixed interval", "minutes", cfg.CheckIntervalMinutes)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g run.Group
	g.Add(func() error {
		return bot.Run(runCtx)
	}, func(error) {
		cancel()
	})
	g.Add(func() error {
		return sched.Run(runCtx)
	}, func(error) {
		cancel()
	})
	g.Add(func() error {
		if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("error listening: %s", err)
		}

		return nil
	}, func(error) {
		downCtx, downCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer downCancel()
		if err := admin.Shutdown(downCtx); err != nil {
			slog.Error("error shutting down admin server", "error", err)
		}
	})
	g.Add(run.SignalHandler(runCtx, os.Interrupt, syscall.SIGTERM))

	err = g.Run()
	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		slog.Info("shutting down", "signal", sigErr.Signal)
		return nil
	}

	return err
}
