package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/gotrs-io/tg-helpdesk/internal/cache"
	"github.com/gotrs-io/tg-helpdesk/internal/config"
	"github.com/gotrs-io/tg-helpdesk/internal/database"
	"github.com/gotrs-io/tg-helpdesk/internal/outbound"
	"github.com/gotrs-io/tg-helpdesk/internal/realtime"
	"github.com/gotrs-io/tg-helpdesk/internal/repository"
	"github.com/gotrs-io/tg-helpdesk/internal/runner"
	"github.com/gotrs-io/tg-helpdesk/internal/runner/tasks"
	"github.com/gotrs-io/tg-helpdesk/internal/services/autoclose"
	"github.com/gotrs-io/tg-helpdesk/internal/services/ingest"
	"github.com/gotrs-io/tg-helpdesk/internal/services/lifecycle"
	"github.com/gotrs-io/tg-helpdesk/internal/services/rating"
	"github.com/gotrs-io/tg-helpdesk/internal/services/support"
	"github.com/gotrs-io/tg-helpdesk/internal/storage"
	"github.com/gotrs-io/tg-helpdesk/internal/transport/telegram"
)

func logger(prefix string) *log.Logger {
	return log.New(os.Stdout, "["+prefix+"] ", log.LstdFlags)
}

func loadConfig() (*config.Config, error) {
	return config.Load(configFile)
}

// openStore connects to the configured database and applies the schema.
func openStore(ctx context.Context, cfg *config.Config) (*sqlx.DB, *repository.SQLStore, error) {
	db, err := database.Open(ctx, cfg.Database.Options())
	if err != nil {
		return nil, nil, err
	}
	if err := database.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, repository.NewSQLStore(db), nil
}

// app is the fully wired helpdesk core.
type app struct {
	cfg      *config.Config
	db       *sqlx.DB
	store    *repository.SQLStore
	bot      *telegram.Bot
	hub      *realtime.Hub
	queue    *outbound.Queue
	sched    *autoclose.Scheduler
	engine   *lifecycle.Engine
	support  *support.Service
	ingester *ingest.Ingester
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if cfg.Telegram.Token == "" {
		return nil, fmt.Errorf("telegram.token is not set (HELPDESK_TELEGRAM_TOKEN or BOT_TOKEN)")
	}
	db, store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	files, err := storage.NewFilesystemStore(cfg.Storage.Path)
	if err != nil {
		db.Close()
		return nil, err
	}
	bot, err := telegram.New(cfg.Telegram.Token, telegram.WithLogger(logger("TELEGRAM")))
	if err != nil {
		db.Close()
		return nil, err
	}

	hub := realtime.NewHub(realtime.WithLogger(logger("HUB")))
	queue := outbound.NewQueue(bot, store,
		outbound.WithLogger(logger("OUTBOUND")),
		outbound.WithSendTimeout(cfg.Outbound.SendTimeout),
		outbound.WithBufferSize(cfg.Outbound.BufferSize),
		outbound.WithDeadLetterSize(cfg.Outbound.DeadLetterSize),
	)
	sched := autoclose.NewScheduler(store, hub, autoclose.WithLogger(logger("AUTOCLOSE")))
	console := consoleURL(cfg.App.BaseURL)
	engine := lifecycle.NewEngine(store, sched, queue, hub,
		lifecycle.WithLogger(logger("LIFECYCLE")),
		lifecycle.WithReopenWindow(cfg.Ticket.ReopenWindow),
		lifecycle.WithZone(support.NewSettings(store)),
		lifecycle.WithConsoleURL(console),
		lifecycle.WithNotificationTopic(lifecycle.Topic{
			ChatID:   cfg.Telegram.NotificationChatID,
			ThreadID: cfg.Telegram.NotificationTopicID,
		}),
	)
	sched.SetCloser(engine)

	svc := support.NewService(store, engine, sched, queue, hub, files,
		support.WithLogger(logger("SUPPORT")),
		support.WithAutoCloseDelay(cfg.Ticket.AutoCloseDelay),
		support.WithSessionTTL(cfg.Session.TTL),
		support.WithRetentionMonths(cfg.Ticket.RetentionMonths),
		support.WithBotToken(cfg.Telegram.Token),
	)

	ratings := rating.NewService(store, hub, rating.WithLogger(logger("RATING")))
	in := ingest.NewIngester(ingest.Deps{
		Store:     store,
		Lifecycle: engine,
		Ratings:   ratings,
		History:   svc,
		Settings:  svc.Settings(),
		Transport: bot,
		Outbound:  queue,
		Events:    hub,
		Files:     files,
	},
		ingest.WithLogger(logger("INGEST")),
		ingest.WithDeduper(newDeduper(cfg)),
		ingest.WithMediaGroupWindow(cfg.Ticket.MediaGroupWindow),
		ingest.WithConsoleURL(console),
	)

	return &app{
		cfg:      cfg,
		db:       db,
		store:    store,
		bot:      bot,
		hub:      hub,
		queue:    queue,
		sched:    sched,
		engine:   engine,
		support:  svc,
		ingester: in,
	}, nil
}

// consoleURL is the base for "Open ticket" links. Telegram refuses
// keyboard links to loopback hosts, so a local base_url yields none.
func consoleURL(base string) string {
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return ""
	}
	host := u.Hostname()
	if host == "localhost" {
		return ""
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return ""
	}
	return strings.TrimRight(base, "/")
}

// newDeduper prefers Redis when enabled so replicas share delivered update
// ids, and keeps a local cache behind it.
func newDeduper(cfg *config.Config) cache.Deduper {
	local := cache.NewLocalDeduper(cfg.Redis.DedupTTL)
	if !cfg.Redis.Enabled {
		return local
	}
	return cache.NewFallbackDeduper(cache.NewRedisDeduper(cache.RedisConfig{
		Addr:     cfg.Redis.GetRedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TTL:      cfg.Redis.DedupTTL,
	}), local)
}

// registry builds the registry of periodic sweeps from the runner section.
func (a *app) registry() *runner.TaskRegistry {
	rc := a.cfg.Runner
	reg := runner.NewTaskRegistry()
	reg.Register(tasks.NewRestrictionPurgeTask(a.store, rc.RestrictionPurge, nil))
	reg.Register(tasks.NewSessionPurgeTask(a.support, rc.SessionPurge))
	reg.Register(tasks.NewCleanupTask(a.support, rc.Cleanup))
	reg.Register(tasks.NewAutoCloseRecoverTask(a.sched, rc.AutoCloseRecover))
	return reg
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		log.Printf("close database: %v", err)
	}
}
