package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gotrs-io/tg-helpdesk/internal/runner"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep [task...]",
	Short: "Run maintenance tasks once and exit",
	Long: `Runs scheduled maintenance tasks immediately. Without arguments every
configured task runs. Known tasks: restriction-purge, session-purge,
ticket-cleanup, auto-close-recover.`,
	RunE: runSweep,
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	queueCtx, stopQueue := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.queue.Run(queueCtx)
	}()

	reg := a.registry()
	r := runner.NewRunner(reg, runner.WithLogger(logger("SWEEP")))
	names := args
	if len(names) == 0 {
		names = reg.Names()
	}
	var failed int
	for _, name := range names {
		if err := r.RunOnce(ctx, name); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", name, err)
			failed++
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", name)
	}

	drainCtx, cancel := context.WithTimeout(ctx, cfg.Outbound.SendTimeout+5*time.Second)
	drain(drainCtx, a.queue.Pending)
	cancel()
	stopQueue()
	<-done

	if failed > 0 {
		return fmt.Errorf("%d of %d tasks failed", failed, len(names))
	}
	return nil
}
