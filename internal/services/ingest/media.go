package ingest

import (
	"sort"
	"strconv"

	"github.com/gotrs-io/tg-helpdesk/internal/clock"
	"github.com/gotrs-io/tg-helpdesk/internal/transport"
)

// pendingGroup buffers the items of one album until no new item arrived
// for the media group window.
type pendingGroup struct {
	items []transport.Update
	gen   uint64
	timer *clock.Timer
}

func groupKey(u transport.Update) string {
	return strconv.FormatInt(u.AccountID, 10) + ":" + u.MediaGroupID
}

// bufferGroup adds an album item and restarts the debounce.
func (in *Ingester) bufferGroup(u transport.Update) {
	key := groupKey(u)
	in.mu.Lock()
	defer in.mu.Unlock()
	g, ok := in.groups[key]
	if !ok {
		g = &pendingGroup{}
		in.groups[key] = g
	}
	g.items = append(g.items, u)
	g.gen++
	if g.timer != nil {
		g.timer.Stop()
	}
	gen := g.gen
	g.timer = in.clock.AfterFunc(in.mediaWindow, func() { in.flushGroup(key, gen, false) })
}

// flushGroup ingests a buffered album as one message. A stale generation
// means a newer item restarted the window. force ignores the generation.
func (in *Ingester) flushGroup(key string, gen uint64, force bool) {
	in.mu.Lock()
	g, ok := in.groups[key]
	if !ok || (!force && g.gen != gen) {
		in.mu.Unlock()
		return
	}
	delete(in.groups, key)
	if g.timer != nil {
		g.timer.Stop()
	}
	ctx := in.baseCtx
	in.inflight.Add(1)
	in.mu.Unlock()
	defer in.inflight.Done()

	items := g.items
	sort.SliceStable(items, func(i, j int) bool { return items[i].MessageID < items[j].MessageID })
	if err := in.ingest(ctx, items); err != nil {
		in.logger.Printf("album %s from %d: %v", key, items[0].AccountID, err)
	}
}

// PendingGroups returns the number of albums waiting to be flushed.
func (in *Ingester) PendingGroups() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.groups)
}
