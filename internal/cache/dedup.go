// Package cache provides short-lived key tracking used to drop duplicate
// deliveries of the same Telegram update.
package cache

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var dedupChecks = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "helpdesk_dedup_checks_total",
	Help: "Update deduplication checks by backend and result",
}, []string{"backend", "result"})

// Deduper remembers keys for a TTL.
type Deduper interface {
	// Seen records key and reports whether it was already present.
	Seen(ctx context.Context, key string) (bool, error)
}

// LocalDeduper keeps keys in process memory.
type LocalDeduper struct {
	mu      sync.Mutex
	items   map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
	lastGC  time.Time
	gcEvery time.Duration
}

var _ Deduper = (*LocalDeduper)(nil)

// NewLocalDeduper returns a deduper that forgets keys after ttl.
func NewLocalDeduper(ttl time.Duration) *LocalDeduper {
	return &LocalDeduper{
		items:   make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
		gcEvery: time.Minute,
	}
}

// Seen implements Deduper.
func (d *LocalDeduper) Seen(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if now.Sub(d.lastGC) >= d.gcEvery {
		for k, exp := range d.items {
			if !now.Before(exp) {
				delete(d.items, k)
			}
		}
		d.lastGC = now
	}

	if exp, ok := d.items[key]; ok && now.Before(exp) {
		dedupChecks.WithLabelValues("local", "duplicate").Inc()
		return true, nil
	}
	d.items[key] = now.Add(d.ttl)
	dedupChecks.WithLabelValues("local", "fresh").Inc()
	return false, nil
}

// Len returns the number of tracked keys, expired ones included until the
// next sweep.
func (d *LocalDeduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

// FallbackDeduper asks primary first and answers from secondary when the
// primary fails.
type FallbackDeduper struct {
	primary   Deduper
	secondary Deduper
	logger    *log.Logger
}

// NewFallbackDeduper wraps two dedupers.
func NewFallbackDeduper(primary, secondary Deduper) *FallbackDeduper {
	return &FallbackDeduper{
		primary:   primary,
		secondary: secondary,
		logger:    log.New(os.Stdout, "[DEDUP] ", log.LstdFlags),
	}
}

// Seen implements Deduper.
func (f *FallbackDeduper) Seen(ctx context.Context, key string) (bool, error) {
	seen, err := f.primary.Seen(ctx, key)
	if err == nil {
		return seen, nil
	}
	f.logger.Printf("primary backend failed, using fallback: %v", err)
	return f.secondary.Seen(ctx, key)
}
