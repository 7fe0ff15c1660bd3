package realtime

import "sync"

// Recorded is one captured broadcast.
type Recorded struct {
	Event   string
	Payload any
}

// Recorder is a Broadcaster that keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
}

var _ Broadcaster = (*Recorder)(nil)

func (r *Recorder) Broadcast(event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{Event: event, Payload: payload})
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Recorded, len(r.events))
	copy(out, r.events)
	return out
}

// Names returns the recorded event names in order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Event)
	}
	return out
}

// Find returns every payload recorded under event.
func (r *Recorder) Find(event string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []any
	for _, e := range r.events {
		if e.Event == event {
			out = append(out, e.Payload)
		}
	}
	return out
}

// Count returns how many times event was broadcast.
func (r *Recorder) Count(event string) int {
	return len(r.Find(event))
}

// Reset forgets everything recorded.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
