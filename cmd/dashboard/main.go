package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/codeblock102/addin-darululum-sub004/internal/analytics"
	"github.com/codeblock102/addin-darululum-sub004/internal/app"
	"github.com/codeblock102/addin-darululum-sub004/internal/config"
	"github.com/codeblock102/addin-darululum-sub004/internal/db"
	"github.com/codeblock102/addin-darululum-sub004/internal/identity"
	"github.com/codeblock102/addin-darululum-sub004/internal/inbox"
	"github.com/codeblock102/addin-darululum-sub004/internal/jobs"
	"github.com/codeblock102/addin-darululum-sub004/internal/live"
	"github.com/codeblock102/addin-darululum-sub004/internal/logging"
	"github.com/codeblock102/addin-darululum-sub004/internal/observability"
	"github.com/codeblock102/addin-darululum-sub004/internal/querycache"
	"github.com/codeblock102/addin-darululum-sub004/internal/realtime"
	"github.com/codeblock102/addin-darululum-sub004/internal/roles"
	"github.com/codeblock102/addin-darululum-sub004/internal/tg"
)

// version проставляется при сборке: -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, using process environment")
	}
	if err := run(); err != nil {
		log.Fatalf("dashboard: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	lg, err := logging.Init(cfg.LogLevel, cfg.Env)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer lg.Closer()
	base := lg.Base

	flush, err := observability.InitSentry(cfg.SentryDSN, cfg.Env, version)
	if err != nil {
		base.Warn("sentry init failed", zap.Error(err))
	} else {
		defer flush()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()
	if err := db.Migrate(ctx, database, lg.Component("migrate")); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	store := db.NewStore(database)

	cache, closeCache, err := openCache(ctx, cfg, base)
	if err != nil {
		return err
	}
	defer closeCache()

	feed, pinger, closeFeed, err := openFeed(cfg, lg.Component("feed"))
	if err != nil {
		return err
	}
	defer closeFeed()
	bridge := realtime.NewBridge(feed, lg.Component("realtime"))
	defer bridge.Close()

	resolver := roles.NewResolver(store, cfg.ResolveTimeout, lg.Component("roles"))
	inboxSvc := inbox.NewService(store, cache, cfg.CacheTTL)
	analyticsSvc := analytics.NewService(store, cache, cfg.CacheTTL, lg.Component("analytics"))

	notifier, err := openNotifier(cfg, store, lg)
	if err != nil {
		return err
	}
	watcher, err := live.NewWatcher(bridge, inboxSvc, analyticsSvc, notifier, live.DefaultMaxWatchedUsers, lg.Component("live"))
	if err != nil {
		return err
	}
	defer watcher.Close()
	stopAdmin := watcher.WatchAdminMessages()
	defer stopAdmin()
	stopAnalytics := watcher.WatchAnalytics()
	defer stopAnalytics()

	srv := app.NewServer(app.Deps{
		Sessions:  identity.NewParser(cfg.JWTSecret, cfg.JWTIssuer),
		Roles:     resolver,
		Analytics: analyticsSvc,
		Inbox:     inboxSvc,
		Watcher:   watcher,
		Profiles:  store,
		Bridge:    bridge,
		Ping:      store.Ping,
		Log:       lg.Component("http"),
	})

	runner := jobs.New(ctx, lg.Component("jobs"))
	runner.Every(30*time.Second, "db_ping", jobs.DBPing(store.Ping))
	runner.Every(cfg.CacheTTL, "analytics_warm", jobs.WarmAnalytics(analyticsSvc))
	if pinger != nil {
		runner.Every(cfg.RealtimeMaxReconnect, "feed_keepalive", jobs.FeedKeepAlive(pinger))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.ListenAndServe(gctx, cfg.HTTPAddr, srv.Router(), lg.Component("http"))
	})
	g.Go(func() error {
		if err := analyticsSvc.Warm(gctx); err != nil && gctx.Err() == nil {
			base.Warn("analytics warm-up failed", zap.Error(err))
		}
		return nil
	})

	base.Info("dashboard started",
		zap.String("version", version),
		zap.String("addr", cfg.HTTPAddr),
		zap.String("realtime", cfg.RealtimeDriver),
		zap.Bool("redis", cfg.RedisURL != ""),
	)
	err = g.Wait()
	stop()
	runner.Wait()
	base.Info("dashboard stopped")
	return err
}

func openCache(ctx context.Context, cfg *config.Config, log *zap.Logger) (querycache.Cache, func(), error) {
	if cfg.RedisURL == "" {
		return querycache.NewLRU(cfg.CacheSize, cfg.CacheTTL), func() {}, nil
	}
	rc, err := querycache.NewRedis(ctx, cfg.RedisURL, cfg.CacheTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	log.Info("query cache: redis")
	return rc, func() { _ = rc.Close() }, nil
}

func openFeed(cfg *config.Config, log *zap.Logger) (realtime.Feed, jobs.Pinger, func(), error) {
	if cfg.RealtimeDriver == "memory" {
		mf := realtime.NewMemoryFeed()
		return mf, nil, mf.Close, nil
	}
	pf, err := realtime.NewPGFeed(cfg.DatabaseURL, cfg.RealtimeMinReconnect, cfg.RealtimeMaxReconnect, log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("realtime feed: %w", err)
	}
	return pf, pf, func() { _ = pf.Close() }, nil
}

func openNotifier(cfg *config.Config, store *db.Store, lg *logging.Log) (live.Notifier, error) {
	if cfg.BotToken == "" {
		return live.NewLogNotifier(lg.Component("notify")), nil
	}
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	lg.Base.Info("telegram notifications enabled", zap.String("bot", bot.Self.UserName))
	return tg.NewNotifier(bot, store, lg.Component("telegram")), nil
}
