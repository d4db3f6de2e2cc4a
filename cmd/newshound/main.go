// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"newshound/internal/bot"
	"newshound/internal/cli"
	"newshound/internal/config"
	"newshound/internal/feed"
	"newshound/internal/filelock"
	"newshound/internal/monitor"
	"newshound/internal/telegram"
	"newshound/internal/unlock"
)

func main() { cli.Main(new(app)) }

type app struct {
	// configuration
	configPath string
	lockPath   string
	interval   time.Duration
	lang       string
	country    string
	timezone   string
	unlockMode string
	resolve    bool
	dry        bool

	// mocked in tests
	httpc  *http.Client
	getpid func() int
}

func (a *app) Flags(fs *flag.FlagSet) {
	fs.StringVar(&a.configPath, "config", "newshound.json", "Path to the configuration file.")
	fs.StringVar(&a.lockPath, "lock-file", "newshound.lock", "Path to the lock file preventing concurrent instances.")
	fs.DurationVar(&a.interval, "interval", 5*time.Minute, "Interval between scheduled monitoring runs.")
	fs.StringVar(&a.lang, "lang", "pt-BR", "Google News edition language.")
	fs.StringVar(&a.country, "country", "BR", "Google News edition country.")
	fs.StringVar(&a.timezone, "timezone", "America/Sao_Paulo", "Timezone for article timestamps.")
	fs.StringVar(&a.unlockMode, "unlock-mode", "direct", "Paywall unlock mode: direct or assisted.")
	fs.BoolVar(&a.resolve, "resolve-links", false, "Resolve news.google.com redirect links before sending.")
	fs.BoolVar(&a.dry, "dry", false, "Enable dry-run mode: log articles, but don't send them.")
}

// initialDelay gives Telegram long polling a head start before the first
// scheduled run.
const initialDelay = 15 * time.Second

func (a *app) Run(ctx context.Context, env *cli.Env) error {
	token := env.Getenv("TELEGRAM_TOKEN")
	if token == "" {
		return fmt.Errorf("%w: TELEGRAM_TOKEN environment variable is not set", cli.ErrInvalidArgs)
	}

	mode, err := unlock.ParseMode(a.unlockMode)
	if err != nil {
		return fmt.Errorf("%w: %v", cli.ErrInvalidArgs, err)
	}
	loc, err := time.LoadLocation(a.timezone)
	if err != nil {
		return fmt.Errorf("%w: %v", cli.ErrInvalidArgs, err)
	}
	if a.getpid == nil {
		a.getpid = os.Getpid
	}

	level := slog.LevelInfo
	if a.dry {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(env.Stderr, &slog.HandlerOptions{Level: level}))

	lock, err := filelock.Acquire(a.lockPath, strconv.Itoa(a.getpid()))
	if err != nil {
		if errors.Is(err, filelock.ErrAlreadyLocked) {
			return fmt.Errorf("another instance is already running (lock file %s)", a.lockPath)
		}
		return err
	}
	defer lock.Release()

	store, err := config.Open(a.configPath, logger)
	if err != nil {
		return err
	}

	scrubber := strings.NewReplacer(token, "[EXPUNGED]")
	tg := telegram.New(telegram.Config{
		Token:      token,
		HTTPClient: a.httpc,
		Scrubber:   scrubber,
		Logger:     logger,
	})
	fetcher := feed.New(feed.Config{
		HTTPClient:   a.httpc,
		Logger:       logger,
		Lang:         a.lang,
		Country:      a.country,
		Location:     loc,
		ResolveLinks: a.resolve,
	})
	engine := monitor.New(monitor.Config{
		Store:   store,
		Fetcher: fetcher,
		Send:    tg.SendMessage,
		Logger:  logger,
		Dry:     a.dry,
	})
	b := bot.New(bot.Config{
		Store:    store,
		Client:   tg,
		Engine:   engine,
		Unlocker: unlock.New(unlock.Config{Mode: mode, HTTPClient: a.httpc, Logger: logger}),
		Logger:   logger,
	})

	go a.schedule(ctx, engine, logger)

	logger.Info("started", "config", a.configPath, "interval", a.interval, "dry", a.dry)
	if err := b.Poll(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// schedule triggers a monitoring run every interval until ctx is canceled.
// Run errors are logged, not fatal.
func (a *app) schedule(ctx context.Context, engine *monitor.Engine, logger *slog.Logger) {
	select {
	case <-time.After(initialDelay):
	case <-ctx.Done():
		return
	}

	t := time.NewTicker(a.interval)
	defer t.Stop()
	for {
		if rep, err := engine.Run(ctx, 0); err != nil {
			logger.Warn("scheduled run failed", "error", err)
		} else {
			logger.Debug("scheduled run finished", "fetched", rep.Fetched, "new", rep.New)
		}

		select {
		case <-t.C:
		case <-ctx.Done():
			return
		}
	}
}
