package jobs

import (
	"context"
	"runtime/debug"
	"time"

	"regwatch/internal/eventbus"
	"regwatch/pkg/logx"
)

type registration struct {
	name string
	run  func(ctx context.Context) (Action, error)
	trig trigger
}

type exitKind int

const (
	// exitCancelled: the job returned Cancel.
	exitCancelled exitKind = iota
	// exitAborted: the scheduler cancelled the job (shutdown).
	exitAborted
	// exitPanicked: the job body panicked; the goroutine ends.
	exitPanicked
)

type jobExit struct {
	id      uint64
	name    string
	kind    exitKind
	panicV  any
	stack   string
	started time.Time
}

// jobHandle is the actor's supervising entry for one live job goroutine.
// The actor is the sole owner; nothing else may cancel or inspect jobs.
type jobHandle struct {
	name   string
	cancel context.CancelFunc
}

// JobEvent is the eventbus payload for job lifecycle events.
type JobEvent struct {
	Name  string
	Error string
}

type actor struct {
	rx    chan registration
	stop  chan struct{}
	done  chan struct{}
	exits chan jobExit

	jobs   map[uint64]*jobHandle
	nextID uint64

	log logx.Logger
	bus eventbus.Bus
}

func (t *actor) run() {
	defer close(t.done)

	accepting := true
	for {
		if !accepting && len(t.jobs) == 0 {
			break
		}

		var stop chan struct{}
		if accepting {
			stop = t.stop
		}

		select {
		case ex := <-t.exits:
			t.reap(ex)
		case reg := <-t.rx:
			if accepting {
				t.spawn(reg)
			} else {
				t.log.Warn("registration after stop; dropping job", logx.String("job", reg.name))
			}
		case <-stop:
			accepting = false
			t.abortAll()
		}
	}

	t.log.Debug("job scheduler task stopping")
}

func (t *actor) spawn(reg registration) {
	t.nextID++
	id := t.nextID

	jctx, cancel := context.WithCancel(context.Background())
	t.jobs[id] = &jobHandle{name: reg.name, cancel: cancel}
	t.log.Info("job scheduled", logx.String("job", reg.name))
	t.publish("job.scheduled", JobEvent{Name: reg.name})

	go t.jobLoop(jctx, id, reg)
}

// jobLoop is the per-job supervised goroutine: Idle (waiting for the next
// tick) -> Running -> back to Idle on Continue or an application error,
// gone on Cancel. A panic is caught here, at the task boundary, and ends
// the goroutine without touching any other job.
func (t *actor) jobLoop(ctx context.Context, id uint64, reg registration) {
	exit := jobExit{id: id, name: reg.name, kind: exitAborted, started: time.Now()}
	defer func() {
		if r := recover(); r != nil {
			exit.kind = exitPanicked
			exit.panicV = r
			exit.stack = string(debug.Stack())
		}
		// The actor reaps every exit; it stays alive until the job set
		// is drained, so this send cannot be orphaned.
		t.exits <- exit
	}()

	next := reg.trig.first(time.Now())
	for {
		if !sleepUntil(ctx, next) {
			return // aborted while idle
		}

		action, err := reg.run(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return // aborted while running
			}
			// Application errors keep the job registered; it is retried
			// on its next tick, indefinitely.
			t.log.Error("job run failed", logx.String("job", reg.name), logx.Err(err))
			t.publish("job.failed", JobEvent{Name: reg.name, Error: err.Error()})
		case action == Cancel:
			exit.kind = exitCancelled
			return
		default:
			t.log.Debug("job run completed", logx.String("job", reg.name))
			t.publish("job.finished", JobEvent{Name: reg.name})
		}

		next = reg.trig.next(time.Now())
	}
}

func (t *actor) reap(ex jobExit) {
	delete(t.jobs, ex.id)

	switch ex.kind {
	case exitPanicked:
		t.log.Error("job panicked",
			logx.String("job", ex.name),
			logx.Any("panic", ex.panicV),
			logx.Stack(ex.stack))
		t.publish("job.panicked", JobEvent{Name: ex.name})
	case exitCancelled:
		t.log.Info("job cancelled itself", logx.String("job", ex.name))
		t.publish("job.cancelled", JobEvent{Name: ex.name})
	case exitAborted:
		t.log.Info("job aborted", logx.String("job", ex.name))
		t.publish("job.aborted", JobEvent{Name: ex.name})
	}
}

func (t *actor) abortAll() {
	for _, h := range t.jobs {
		h.cancel()
	}
}

func (t *actor) publish(typ string, data JobEvent) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

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
