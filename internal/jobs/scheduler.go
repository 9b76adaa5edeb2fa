// Package jobs runs a dynamic, named set of periodic background jobs.
//
// The scheduler is a single background task owning a mailbox of
// registrations. Each registered job gets its own supervised goroutine
// that ticks on its own interval (or cron schedule); panics are isolated
// per job and every exit is reaped and logged with the job's name.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"regwatch/internal/eventbus"
	"regwatch/pkg/logx"
)

// ErrStopped is returned by Schedule variants after Stop/Close.
var ErrStopped = errors.New("jobs: scheduler stopped")

const defaultMailboxSize = 64

type Options struct {
	// MailboxSize bounds the registration channel. Zero means the
	// default (64).
	MailboxSize int

	Log logx.Logger
	Bus eventbus.Bus
}

// Scheduler is a cheap, copyable handle to the background task.
type Scheduler struct {
	tx        chan registration
	stop      chan struct{}
	done      chan struct{}
	closeOnce *sync.Once
}

// New spawns the scheduler task and returns a handle to it.
func New(opts Options) Scheduler {
	mailbox := opts.MailboxSize
	if mailbox <= 0 {
		mailbox = defaultMailboxSize
	}
	s := Scheduler{
		tx:        make(chan registration, mailbox),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		closeOnce: &sync.Once{},
	}
	t := &actor{
		rx:    s.tx,
		stop:  s.stop,
		done:  s.done,
		exits: make(chan jobExit, 16),
		jobs:  map[uint64]*jobHandle{},
		log:   opts.Log,
		bus:   opts.Bus,
	}
	go t.run()
	return s
}

// Schedule registers job under name: it runs once immediately, then every
// interval. Jobs can be registered at any time, not only at startup.
func (s Scheduler) Schedule(job Job, interval time.Duration, name string) error {
	return s.ScheduleContext(context.Background(), job, interval, name)
}

// ScheduleContext is Schedule for callers that need send cancellation.
func (s Scheduler) ScheduleContext(ctx context.Context, job Job, interval time.Duration, name string) error {
	if job == nil {
		return errors.New("jobs: nil job")
	}
	if interval <= 0 {
		return fmt.Errorf("jobs: interval must be > 0, got %s", interval)
	}
	return s.send(ctx, registration{
		name: name,
		run:  job.Run,
		trig: intervalTrigger(interval),
	})
}

// ScheduleBlocking registers a job with a synchronous body.
func (s Scheduler) ScheduleBlocking(job BlockingJob, interval time.Duration, name string) error {
	return s.ScheduleBlockingContext(context.Background(), job, interval, name)
}

func (s Scheduler) ScheduleBlockingContext(ctx context.Context, job BlockingJob, interval time.Duration, name string) error {
	if job == nil {
		return errors.New("jobs: nil job")
	}
	return s.ScheduleContext(ctx, JobFunc(func(context.Context) (Action, error) {
		return job.RunBlocking()
	}), interval, name)
}

// ScheduleCron registers a job ticking on a standard 5-field cron
// expression (descriptors like @hourly work too). Unlike interval jobs,
// the first run waits for the first matching time.
func (s Scheduler) ScheduleCron(job Job, spec string, name string) error {
	return s.ScheduleCronContext(context.Background(), job, spec, name)
}

func (s Scheduler) ScheduleCronContext(ctx context.Context, job Job, spec string, name string) error {
	if job == nil {
		return errors.New("jobs: nil job")
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("jobs: invalid cron spec %q: %w", spec, err)
	}
	return s.send(ctx, registration{
		name: name,
		run:  job.Run,
		trig: cronTrigger{sched: sched},
	})
}

// Close stops registration intake and aborts running jobs. It does not
// wait; use Stop for that.
func (s Scheduler) Close() {
	s.closeOnce.Do(func() { close(s.stop) })
}

// Stop closes the scheduler and waits until every job goroutine has been
// reaped or ctx expires.
func (s Scheduler) Stop(ctx context.Context) error {
	s.Close()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the scheduler task has exited.
func (s Scheduler) Done() <-chan struct{} { return s.done }

func (s Scheduler) send(ctx context.Context, reg registration) error {
	select {
	case <-s.stop:
		return ErrStopped
	default:
	}
	select {
	case s.tx <- reg:
		return nil
	case <-s.stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
