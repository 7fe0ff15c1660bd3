// Package runner executes the helpdesk's periodic sweeps on a cron schedule.
package runner

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
)

var (
	taskRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helpdesk_task_runs_total",
		Help: "Background task executions by outcome",
	}, []string{"task", "result"})
	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "helpdesk_task_duration_seconds",
		Help:    "Background task execution time",
		Buckets: prometheus.DefBuckets,
	}, []string{"task"})
)

// Runner fires registered tasks on their cron schedules.
type Runner struct {
	cron     *cron.Cron
	registry *TaskRegistry
	logger   *log.Logger
	wg       sync.WaitGroup
}

// Option configures a Runner.
type Option func(*Runner)

func WithLogger(l *log.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

func NewRunner(registry *TaskRegistry, opts ...Option) *Runner {
	r := &Runner{
		registry: registry,
		logger:   log.New(os.Stdout, "[RUNNER] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(r)
	}
	// A sweep still running when its next tick comes is skipped.
	r.cron = cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(r.logger))),
	)
	return r
}

// Start schedules every registered task and blocks until ctx is done.
func (r *Runner) Start(ctx context.Context) error {
	for _, name := range r.registry.Names() {
		task, _ := r.registry.Get(name)
		if _, err := r.cron.AddFunc(task.Schedule(), func() { _ = r.run(ctx, task) }); err != nil {
			return fmt.Errorf("schedule %s (%q): %w", name, task.Schedule(), err)
		}
		r.logger.Printf("%s scheduled at %q", name, task.Schedule())
	}
	if off := r.registry.Disabled(); len(off) > 0 {
		r.logger.Printf("disabled: %v", off)
	}
	r.cron.Start()

	<-ctx.Done()
	r.Stop()
	return nil
}

// RunOnce executes one task immediately, outside the schedule.
func (r *Runner) RunOnce(ctx context.Context, name string) error {
	task, ok := r.registry.Get(name)
	if !ok {
		return fmt.Errorf("unknown task %q", name)
	}
	return r.run(ctx, task)
}

func (r *Runner) run(ctx context.Context, task Task) (err error) {
	r.wg.Add(1)
	defer r.wg.Done()

	taskCtx, cancel := context.WithTimeout(ctx, task.Timeout())
	defer cancel()

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
		elapsed := time.Since(start)
		taskDuration.WithLabelValues(task.Name()).Observe(elapsed.Seconds())
		if err != nil {
			taskRuns.WithLabelValues(task.Name(), "error").Inc()
			r.logger.Printf("%s failed after %v: %v", task.Name(), elapsed, err)
			return
		}
		taskRuns.WithLabelValues(task.Name(), "ok").Inc()
	}()
	return task.Run(taskCtx)
}

// Stop halts the schedule and waits for running tasks.
func (r *Runner) Stop() {
	done := r.cron.Stop()
	r.wg.Wait()
	<-done.Done()
	r.logger.Println("task runner stopped")
}
