package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/gotrs-io/tg-helpdesk/internal/api"
	"github.com/gotrs-io/tg-helpdesk/internal/runner"
	"github.com/gotrs-io/tg-helpdesk/internal/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot, the console API and the scheduled sweeps",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	var (
		source  transport.Source
		webhook http.Handler
	)
	switch cfg.Telegram.Mode {
	case "webhook":
		wh, err := a.bot.Webhook(ctx, cfg.Telegram.WebhookURL, cfg.Telegram.WebhookSecret)
		if err != nil {
			return err
		}
		source, webhook = wh, wh
	default:
		source = a.bot.Poller(cfg.Telegram.PollTimeout)
	}

	deps := api.Deps{
		Support:     a.support,
		WebSocket:   a.hub.ServeWS,
		Webhook:     webhook,
		WebhookPath: cfg.Telegram.WebhookPath,
		DeadLetters: a.queue,
		CookieName:  cfg.Session.CookieName,
		Secure:      cfg.Session.Secure,
		ErrorLog:    logger("API"),
	}
	if cfg.App.Debug {
		deps.AccessLog = os.Stdout
	}
	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      api.NewRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// The queue outlives ctx so replies produced while draining albums
	// still go out.
	queueCtx, stopQueue := context.WithCancel(context.Background())
	defer stopQueue()
	var queueDone sync.WaitGroup
	queueDone.Add(1)
	go func() {
		defer queueDone.Done()
		a.queue.Run(queueCtx)
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.hub.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		a.ingester.Run(ctx, source)
	}()

	n, err := a.sched.Recover(ctx)
	if err != nil {
		log.Printf("auto-close recovery failed: %v", err)
	} else {
		log.Printf("re-armed %d auto-close timers", n)
	}

	if cfg.Runner.Enabled {
		r := runner.NewRunner(a.registry(), runner.WithLogger(logger("RUNNER")))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Start(ctx); err != nil {
				log.Printf("task runner: %v", err)
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("helpdesk %s listening on %s (telegram %s)", version, srv.Addr, cfg.Telegram.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err = <-serveErr:
		stop()
	}
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	wg.Wait()
	drain(shutdownCtx, a.queue.Pending)
	stopQueue()
	queueDone.Wait()
	log.Println("helpdesk stopped")
	return err
}

// drain waits until pending reports zero or ctx expires.
func drain(ctx context.Context, pending func() int) {
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for pending() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
