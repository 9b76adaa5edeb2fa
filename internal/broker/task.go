package broker

import (
	"context"
	"time"

	"regwatch/internal/eventbus"
	"regwatch/internal/registry"
	"regwatch/pkg/logx"
)

type commandKind int

const (
	cmdSearch commandKind = iota
	cmdCancelSearch
	cmdRefresh
)

type searchResult struct {
	page registry.SearchPage
	err  error
}

type refreshResult struct {
	pkg registry.Package
	err error
}

type command struct {
	kind commandKind

	term        string
	searchReply chan searchResult

	id           string
	refreshReply chan refreshResult
}

type pendingRefresh struct {
	id    string
	reply chan refreshResult
}

// unit is a handle to one spawned unit of work. Replacing a slot's unit
// cancels the old one's context and stops selecting on its done channel;
// the abandoned goroutine notices the cancellation at its next await
// point and exits without calling upstream.
type unit struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// SearchEvent and RefreshEvent are the eventbus payloads for broker
// lifecycle events.
type SearchEvent struct {
	Term string
}

type RefreshEvent struct {
	ID string
}

type task struct {
	rx   chan command
	stop chan struct{}
	done chan struct{}

	client   Client
	debounce time.Duration
	log      logx.Logger
	bus      eventbus.Bus

	search  *unit
	refresh *unit
	queue   []pendingRefresh
}

// run is the broker event loop. Exactly one of these happens per
// iteration: the search slot completes, the refresh slot completes, or a
// command arrives. The task is the only goroutine touching slots and
// queue, so there are no locks.
func (t *task) run() {
	defer close(t.done)

	accepting := true
	for {
		if !accepting && t.search == nil && t.refresh == nil && len(t.queue) == 0 {
			break
		}

		var stop chan struct{}
		if accepting {
			stop = t.stop
		}

		select {
		case <-unitDone(t.search):
			t.search = nil
			t.tryRunQueuedRefresh()
		case <-unitDone(t.refresh):
			t.refresh = nil
			t.tryRunQueuedRefresh()
		case cmd := <-t.rx:
			if accepting {
				t.handle(cmd)
			} else {
				// Late arrival that raced Close; the sender gets
				// ErrReplyLost rather than a silent hang.
				dropCommand(cmd)
			}
		case <-stop:
			accepting = false
		}
	}

	t.drainMailbox()
	t.log.Debug("broker task stopping")
}

// unitDone maps an empty slot to a nil channel, which never selects —
// the Go rendering of a terminated future arm.
func unitDone(u *unit) <-chan struct{} {
	if u == nil {
		return nil
	}
	return u.done
}

func (t *task) handle(cmd command) {
	switch cmd.kind {
	case cmdSearch:
		t.runSearch(cmd.term, cmd.searchReply)
	case cmdCancelSearch:
		t.cancelSearch()
		t.tryRunQueuedRefresh()
	case cmdRefresh:
		t.queueRefresh(pendingRefresh{id: cmd.id, reply: cmd.refreshReply})
		t.tryRunQueuedRefresh()
	}
}

func (t *task) runSearch(term string, reply chan searchResult) {
	// A new search always supersedes the pending one, whatever state the
	// queue is in.
	if t.search != nil {
		t.search.cancel()
	}
	t.log.Trace("starting search", logx.String("term", term))
	t.search = t.startSearch(term, reply)
}

func (t *task) cancelSearch() {
	t.log.Trace("cancelling search")
	if t.search != nil {
		t.search.cancel()
		t.search = nil
	}
	t.publish("search.cancelled", SearchEvent{})
}

func (t *task) queueRefresh(p pendingRefresh) {
	t.log.Trace("queueing refresh", logx.String("id", p.id))
	t.queue = append(t.queue, p)
}

func (t *task) tryRunQueuedRefresh() {
	if t.search != nil || t.refresh != nil {
		return
	}
	if len(t.queue) == 0 {
		return
	}
	p := t.queue[0]
	t.queue = t.queue[1:]
	t.log.Info("dequeued refresh", logx.String("id", p.id), logx.Int("queued", len(t.queue)))
	t.publish("refresh.dequeued", RefreshEvent{ID: p.id})
	t.refresh = t.startRefresh(p)
}

func (t *task) startSearch(term string, reply chan searchResult) *unit {
	ctx, cancel := context.WithCancel(context.Background())
	u := &unit{cancel: cancel, done: make(chan struct{})}
	deadline := time.Now().Add(t.debounce)

	go func() {
		defer close(u.done)
		defer close(reply)
		if !sleepUntil(ctx, deadline) {
			// Superseded or cancelled inside the debounce window: no
			// upstream call happens for this search.
			return
		}
		t.log.Info("running search", logx.String("term", term))
		t.publish("search.started", SearchEvent{Term: term})
		page, err := t.client.Search(ctx, term)
		reply <- searchResult{page: page, err: err}
	}()
	return u
}

func (t *task) startRefresh(p pendingRefresh) *unit {
	ctx, cancel := context.WithCancel(context.Background())
	u := &unit{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(u.done)
		defer close(p.reply)
		t.log.Info("running refresh", logx.String("id", p.id))
		t.publish("refresh.started", RefreshEvent{ID: p.id})
		pkg, err := t.client.Get(ctx, p.id)
		p.reply <- refreshResult{pkg: pkg, err: err}
	}()
	return u
}

// drainMailbox drops whatever is still buffered after shutdown so no
// sender is left waiting on a reply that will never come.
func (t *task) drainMailbox() {
	for {
		select {
		case cmd := <-t.rx:
			dropCommand(cmd)
		default:
			return
		}
	}
}

func dropCommand(cmd command) {
	if cmd.searchReply != nil {
		close(cmd.searchReply)
	}
	if cmd.refreshReply != nil {
		close(cmd.refreshReply)
	}
}

func (t *task) publish(typ string, data any) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

// sleepUntil waits for the deadline, reporting false if ctx was
// cancelled first.
func sleepUntil(ctx context.Context, deadline time.Time) bool {
	d := time.Until(deadline)
	if d <= 0 {
		return ctx.Err() == nil
	}
	tm := time.NewTimer(d)
	defer tm.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-tm.C:
		return true
	}
}
