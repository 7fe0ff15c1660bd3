package outbound

import (
	"context"
	"sync"
)

// Collector is an Enqueuer that keeps jobs in memory instead of sending.
type Collector struct {
	mu   sync.Mutex
	jobs []Job
}

var _ Enqueuer = (*Collector)(nil)

func (c *Collector) Enqueue(_ context.Context, job Job) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs = append(c.jobs, job)
	return nil
}

// Jobs returns a copy of the collected jobs.
func (c *Collector) Jobs() []Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Job, len(c.jobs))
	copy(out, c.jobs)
	return out
}

// For returns the jobs addressed to one account.
func (c *Collector) For(accountID int64) []Job {
	var out []Job
	for _, j := range c.Jobs() {
		if j.AccountID == accountID {
			out = append(out, j)
		}
	}
	return out
}

func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs = nil
}
