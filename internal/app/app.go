// Package app wires the service together: config, logging, the registry
// client, the request broker, the job scheduler and the follow store.
package app

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"regwatch/internal/broker"
	"regwatch/internal/config"
	"regwatch/internal/eventbus"
	"regwatch/internal/follow"
	"regwatch/internal/jobs"
	"regwatch/internal/registry"
	"regwatch/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger
	bus    eventbus.Bus

	client *registry.Client
	broker broker.Broker
	sched  jobs.Scheduler
	store  *follow.Store

	cancelBG context.CancelFunc
	bgWG     sync.WaitGroup
	cfgCh    chan *config.Config
}

// New loads the config and builds the object graph. Background work does
// not start until Start.
func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath, logx.Nop())
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(mapLogConfig(cfg.Log))
	mgr.SetLogger(log.With(logx.String("svc", "config")))

	bus := eventbus.New()

	client, err := registry.New(mapRegistryConfig(cfg.Registry), log.With(logx.String("svc", "registry")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	brokerOpts, err := mapBrokerOptions(cfg.Broker)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	brokerOpts.Log = log.With(logx.String("svc", "broker"))
	brokerOpts.Bus = bus

	a := &App{
		cfgMgr: mgr,
		logSvc: logSvc,
		log:    log,
		bus:    bus,
		client: client,
		broker: broker.New(client, brokerOpts),
		sched: jobs.New(jobs.Options{
			Log: log.With(logx.String("svc", "jobs")),
			Bus: bus,
		}),
		store: follow.NewStore(),
	}
	return a, nil
}

// Broker exposes the request broker to outer layers (HTTP handlers, UI
// bridges) that issue searches and refreshes.
func (a *App) Broker() broker.Broker { return a.broker }

func (a *App) Scheduler() jobs.Scheduler { return a.sched }

func (a *App) Store() *follow.Store { return a.store }

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgMgr.Get()

	bgCtx, cancel := context.WithCancel(context.Background())
	a.cancelBG = cancel

	a.goSafe("config-watch", func() {
		_ = a.cfgMgr.Watch(bgCtx)
	})

	a.cfgCh = a.cfgMgr.Subscribe(1)
	a.goSafe("config-apply", func() {
		for {
			select {
			case <-bgCtx.Done():
				return
			case next, ok := <-a.cfgCh:
				if !ok {
					return
				}
				a.applyConfig(next)
			}
		}
	})

	if err := a.registerJobs(ctx, cfg); err != nil {
		return err
	}

	a.log.Info("started")
	return nil
}

// Stop shuts down in dependency order: jobs first (they feed the
// broker), then the broker (draining its queue), then background
// watchers and log sinks.
func (a *App) Stop(ctx context.Context) error {
	if err := a.sched.Stop(ctx); err != nil {
		a.log.Warn("scheduler stop timed out", logx.Err(err))
	}

	a.broker.Close()
	select {
	case <-a.broker.Done():
	case <-ctx.Done():
		a.log.Warn("broker drain timed out", logx.Err(ctx.Err()))
	}

	if a.cancelBG != nil {
		a.cancelBG()
	}
	if a.cfgCh != nil {
		a.cfgMgr.Unsubscribe(a.cfgCh)
		a.cfgCh = nil
	}
	a.bgWG.Wait()

	a.log.Info("stopped")
	return a.logSvc.Close()
}

// applyConfig handles a hot reload. Only the log section is live;
// broker, registry and job parameters are fixed at construction, so a
// change there is logged and takes effect on restart.
func (a *App) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.logSvc.Apply(mapLogConfig(cfg.Log))
	a.log.Info("log config applied", logx.String("level", cfg.Log.Level))
	a.log.Info("non-log config changes take effect on restart")
}

func (a *App) registerJobs(ctx context.Context, cfg *config.Config) error {
	if !cfg.Jobs.RefreshEnabled {
		a.log.Info("refresh job disabled")
		return nil
	}

	olderThan, err := config.ParseDurationOrDefault("jobs.outdated_after", cfg.Jobs.OutdatedAfter, defaultOutdatedAfter)
	if err != nil {
		return err
	}
	job := follow.NewRefreshOutdatedJob(a.store, a.broker, olderThan, a.log.With(logx.String("job", "refresh-outdated")))

	schedule := cfg.Jobs.RefreshSchedule
	if every, derr := config.ParseDurationField("jobs.refresh_schedule", schedule); derr == nil && every > 0 {
		return a.sched.ScheduleContext(ctx, job, every, "refresh outdated packages")
	}
	// Not a plain duration: treat it as a cron spec.
	return a.sched.ScheduleCronContext(ctx, job, schedule, "refresh outdated packages")
}

// goSafe runs fn on a background goroutine with panic capture, so a
// broken watcher can never take the process down.
func (a *App) goSafe(name string, fn func()) {
	a.bgWG.Add(1)
	go func() {
		defer a.bgWG.Done()
		defer func() {
			if r := recover(); r != nil {
				a.log.Error("background goroutine panicked",
					logx.String("name", name),
					logx.Any("panic", r),
					logx.Stack(string(debug.Stack())))
			}
		}()
		fn()
	}()
}
