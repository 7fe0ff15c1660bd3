package runner

import (
	"context"
	"sort"
	"time"
)

// Task is one periodic sweep.
type Task interface {
	Name() string
	// Schedule is a six-field cron expression (seconds first) or a
	// descriptor such as "@every 5m". Empty disables the task.
	Schedule() string
	Run(ctx context.Context) error
	// Timeout bounds a single run.
	Timeout() time.Duration
}

// TaskRegistry holds the sweeps a Runner schedules, keyed by name.
type TaskRegistry struct {
	tasks    map[string]Task
	disabled []string
}

func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{tasks: make(map[string]Task)}
}

// Register adds task, or records it as disabled when its schedule is
// empty. A later task with the same name replaces an earlier one.
func (r *TaskRegistry) Register(task Task) {
	if task.Schedule() == "" {
		r.disabled = append(r.disabled, task.Name())
		return
	}
	r.tasks[task.Name()] = task
}

func (r *TaskRegistry) Get(name string) (Task, bool) {
	task, ok := r.tasks[name]
	return task, ok
}

// Len is the number of enabled tasks.
func (r *TaskRegistry) Len() int { return len(r.tasks) }

// Names lists enabled tasks in sorted order.
func (r *TaskRegistry) Names() []string {
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Disabled lists tasks registered without a schedule.
func (r *TaskRegistry) Disabled() []string {
	out := append([]string(nil), r.disabled...)
	sort.Strings(out)
	return out
}
