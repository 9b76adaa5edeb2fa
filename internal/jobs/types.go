package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// Action tells the scheduler what to do with a job after a run.
type Action int

const (
	// Continue keeps the job registered; it runs again on its next tick.
	Continue Action = iota
	// Cancel removes the job permanently.
	Cancel
)

// Job is one periodically executed unit of work. Returning an error
// keeps the job registered (logged, retried on the next tick); Cancel is
// the only clean way to stop it.
type Job interface {
	Run(ctx context.Context) (Action, error)
}

// JobFunc adapts a plain function to Job.
type JobFunc func(ctx context.Context) (Action, error)

func (f JobFunc) Run(ctx context.Context) (Action, error) { return f(ctx) }

// BlockingJob is a job with a synchronous body. Every job runs on its own
// goroutine, so a blocking body stalls nothing but its own ticks; the
// separate type exists so callers state the intent and don't receive a
// context they would have to ignore.
type BlockingJob interface {
	RunBlocking() (Action, error)
}

// trigger computes tick times for one job.
type trigger interface {
	// first is the initial run time given the registration time.
	first(now time.Time) time.Time
	// next is the following run time given the end of the last run.
	next(now time.Time) time.Time
}

// intervalTrigger runs immediately on registration, then every d.
type intervalTrigger time.Duration

func (t intervalTrigger) first(now time.Time) time.Time { return now }
func (t intervalTrigger) next(now time.Time) time.Time  { return now.Add(time.Duration(t)) }

// cronTrigger runs at the times the cron expression matches.
type cronTrigger struct {
	sched cron.Schedule
}

func (t cronTrigger) first(now time.Time) time.Time { return t.sched.Next(now) }
func (t cronTrigger) next(now time.Time) time.Time  { return t.sched.Next(now) }
