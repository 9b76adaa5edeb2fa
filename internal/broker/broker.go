// Package broker serializes calls to the rate-sensitive upstream
// registry behind a single background task.
//
// One broker guarantees at most one outstanding upstream call at a time:
// live search input is debounced into at most one pending search, and
// refresh requests queue FIFO behind whatever is in flight. Commands flow
// through a mailbox channel into the task, which is the sole owner of all
// broker state; replies come back on single-use channels.
package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"regwatch/internal/eventbus"
	"regwatch/internal/registry"
	"regwatch/pkg/logx"
)

// Client is the upstream call surface the broker serializes.
type Client interface {
	Search(ctx context.Context, term string) (registry.SearchPage, error)
	Get(ctx context.Context, id string) (registry.Package, error)
}

var (
	// ErrSendFailed means the broker is stopped and the command was not
	// accepted.
	ErrSendFailed = errors.New("broker: command not accepted; broker is stopped")
	// ErrReplyLost means the broker dropped the request without answering
	// it: the search was superseded or cancelled, or the broker shut down
	// with the request still queued.
	ErrReplyLost = errors.New("broker: reply lost; request was dropped")
)

const (
	defaultDebounce    = 300 * time.Millisecond
	defaultMailboxSize = 64
)

type Options struct {
	// Debounce is the quiet window after the most recent Search before
	// the upstream call is dispatched. Zero means the default (300ms).
	Debounce time.Duration
	// MailboxSize bounds the command channel. Zero means the default (64).
	MailboxSize int

	Log logx.Logger
	Bus eventbus.Bus
}

// Broker is a cheap, copyable handle to the background task. All copies
// talk to the same task; Close stops it for all of them.
type Broker struct {
	tx        chan command
	stop      chan struct{}
	done      chan struct{}
	closeOnce *sync.Once
}

// New spawns the broker task and returns a handle to it. The task runs
// until Close is called and all in-flight and queued work has finished.
func New(client Client, opts Options) Broker {
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	mailbox := opts.MailboxSize
	if mailbox <= 0 {
		mailbox = defaultMailboxSize
	}

	b := Broker{
		tx:        make(chan command, mailbox),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		closeOnce: &sync.Once{},
	}
	t := &task{
		rx:       b.tx,
		stop:     b.stop,
		done:     b.done,
		client:   client,
		debounce: debounce,
		log:      opts.Log,
		bus:      opts.Bus,
	}
	go t.run()
	return b
}

// Search asks the broker for a debounced upstream search. If another
// Search arrives within the debounce window, this one is superseded and
// returns ErrReplyLost. Upstream errors are returned verbatim.
func (b Broker) Search(ctx context.Context, term string) (registry.SearchPage, error) {
	reply := make(chan searchResult, 1)
	if err := b.send(ctx, command{kind: cmdSearch, term: term, searchReply: reply}); err != nil {
		return registry.SearchPage{}, err
	}
	select {
	case res, ok := <-reply:
		if !ok {
			return registry.SearchPage{}, ErrReplyLost
		}
		return res.page, res.err
	case <-b.done:
		// The task is gone; one last non-blocking look in case the reply
		// raced the shutdown.
		select {
		case res, ok := <-reply:
			if !ok {
				return registry.SearchPage{}, ErrReplyLost
			}
			return res.page, res.err
		default:
			return registry.SearchPage{}, ErrReplyLost
		}
	case <-ctx.Done():
		return registry.SearchPage{}, ctx.Err()
	}
}

// CancelSearch guarantees no upstream call happens for any search issued
// before this command is processed.
func (b Broker) CancelSearch(ctx context.Context) error {
	return b.send(ctx, command{kind: cmdCancelSearch})
}

// Refresh fetches fresh metadata for one package. Refreshes are served
// strictly in arrival order and never interleave with a search or with
// each other.
func (b Broker) Refresh(ctx context.Context, id string) (registry.Package, error) {
	reply := make(chan refreshResult, 1)
	if err := b.send(ctx, command{kind: cmdRefresh, id: id, refreshReply: reply}); err != nil {
		return registry.Package{}, err
	}
	select {
	case res, ok := <-reply:
		if !ok {
			return registry.Package{}, ErrReplyLost
		}
		return res.pkg, res.err
	case <-b.done:
		select {
		case res, ok := <-reply:
			if !ok {
				return registry.Package{}, ErrReplyLost
			}
			return res.pkg, res.err
		default:
			return registry.Package{}, ErrReplyLost
		}
	case <-ctx.Done():
		return registry.Package{}, ctx.Err()
	}
}

// Close stops command intake. In-flight and queued work still completes;
// Done is closed when the task has fully drained.
func (b Broker) Close() {
	b.closeOnce.Do(func() { close(b.stop) })
}

// Done is closed when the broker task has exited.
func (b Broker) Done() <-chan struct{} { return b.done }

func (b Broker) send(ctx context.Context, cmd command) error {
	// Cheap pre-check so a stopped broker rejects deterministically even
	// when the mailbox has free space.
	select {
	case <-b.stop:
		return ErrSendFailed
	default:
	}
	select {
	case b.tx <- cmd:
		return nil
	case <-b.stop:
		return ErrSendFailed
	case <-ctx.Done():
		return ctx.Err()
	}
}
