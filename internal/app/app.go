package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"outreach/internal/api"
	"outreach/internal/campaign"
	"outreach/internal/config"
	"outreach/internal/eventbus"
	"outreach/internal/operator"
	rtsup "outreach/internal/runtime/supervisor"
	"outreach/internal/scheduler"
	"outreach/internal/storage"
	"outreach/internal/transport"
	"outreach/internal/transport/whatsapp"
	logx "outreach/pkg/logx"
	"outreach/pkg/systemd"
)

const (
	tickDetect   = "campaign.detect"
	tickSend     = "campaign.send"
	tickMaintain = "campaign.maintain"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	tx    transport.Adapter
	eng   *campaign.Engine
	sched *scheduler.Service
	api   *api.Service
	op    *operator.Console

	events chan transport.Event
}

type Option func(*options)

type options struct {
	tx transport.Adapter
}

// WithTransport replaces the configured transport. Used by tests and by
// dry runs without a WhatsApp session.
func WithTransport(tx transport.Adapter) Option { return func(o *options) { o.tx = tx } }

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// Alerts need a sender; enable them only once the console exists.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Alerts.Enabled = false
	logSvc, log := logx.New(bootCfg)
	log = log.With(logx.String("comp", "app"))

	settings, err := mapCampaignSettings(cfg)
	if err != nil {
		return nil, err
	}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, logSvc.Logger())
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	fail := func(err error) (*App, error) {
		_ = store.Close()
		return nil, err
	}

	tx := o.tx
	if tx == nil {
		if cfg.WhatsApp.Enabled {
			wcfg, err := mapWhatsAppConfig(cfg)
			if err != nil {
				return fail(err)
			}
			wa, err := whatsapp.New(context.Background(), wcfg, logSvc.Logger())
			if err != nil {
				return fail(err)
			}
			tx = wa
		} else {
			log.Warn("whatsapp disabled; using loopback transport")
			tx = transport.NewLoopback()
		}
	}

	bus := eventbus.New()
	eng := campaign.New(settings, storage.NewCollections(store, logSvc.Logger()), tx,
		campaign.WithBus(bus),
		campaign.WithLogger(logSvc.Logger()),
		campaign.WithAuditor(store),
	)

	var op *operator.Console
	if cfg.Operator.Enabled {
		ocfg, err := mapOperatorConfig(cfg)
		if err != nil {
			return fail(err)
		}
		if op, err = operator.New(ocfg, eng, logSvc.Logger()); err != nil {
			return fail(err)
		}
		logSvc.SetAlertSender(op)
	} else if logCfg.Alerts.Enabled {
		log.Warn("logging.alerts enabled without the operator console; alerts disabled")
		logCfg.Alerts.Enabled = false
	}
	logSvc.Apply(logCfg)

	a := &App{
		cfgm:   cfgm,
		log:    log,
		logs:   logSvc,
		bus:    bus,
		store:  store,
		tx:     tx,
		eng:    eng,
		sched:  scheduler.New(settings.Location, logSvc.Logger()),
		api:    api.New(mapAPIConfig(cfg), eng, store, logSvc.Logger()),
		op:     op,
		events: make(chan transport.Event, 256),
	}
	if err := a.setTicks(mapTicks(cfg)); err != nil {
		return fail(err)
	}
	return a, nil
}

// Engine exposes the campaign engine, mostly for tests.
func (a *App) Engine() *campaign.Engine { return a.eng }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) setTicks(t ticks) error {
	if err := a.sched.Set(tickDetect, t.detector, 30*time.Second, func(ctx context.Context) {
		if n := a.eng.DetectTick(ctx); n > 0 {
			a.log.Debug("jobs enqueued", logx.Int("count", n))
		}
	}); err != nil {
		return fmt.Errorf("automation.detector_tick: %w", err)
	}
	// One send per tick. The timeout covers the longest jitter plus the
	// transport call.
	if err := a.sched.Set(tickSend, t.sender, sendTimeout(a.eng.Settings()), func(ctx context.Context) {
		out, err := a.eng.SendTick(ctx)
		if err != nil {
			a.log.Warn("send tick failed", logx.String("outcome", out.String()), logx.Err(err))
			return
		}
		if out != campaign.SendIdle {
			a.log.Debug("send tick", logx.String("outcome", out.String()))
		}
	}); err != nil {
		return fmt.Errorf("automation.sender_tick: %w", err)
	}
	if err := a.sched.Set(tickMaintain, t.maintenance, time.Minute, a.eng.Maintain); err != nil {
		return fmt.Errorf("automation.maintenance_tick: %w", err)
	}
	return nil
}

func (a *App) validate(_ context.Context, cfg *config.Config) error {
	if _, err := mapCampaignSettings(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapWhatsAppConfig(cfg); err != nil {
		return err
	}
	if _, err := mapOperatorConfig(cfg); err != nil {
		return err
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validate)

	if err := a.eng.Load(a.sup.Context()); err != nil {
		return fmt.Errorf("load campaign state: %w", err)
	}

	a.sup.Go("transport", func(c context.Context) error {
		err := a.tx.Start(c, a.events)
		if c.Err() != nil {
			return nil
		}
		if err == nil {
			err = errors.New("transport exited unexpectedly")
		}
		return err
	})
	a.sup.Go0("transport.events", a.dispatchEvents)

	if a.op != nil {
		if err := a.op.Start(a.sup.Context()); err != nil {
			return err
		}
	}
	a.api.Start(a.sup.Context())
	a.sched.Start(a.sup.Context())

	// Optional: log events for observability/debug (components can also subscribe themselves).
	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					// Debug level: sender and detector ticks publish often.
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sup.Go0("systemd.watchdog", func(c context.Context) { systemd.Watchdog(c, a.log) })
	systemd.Ready(a.log)

	a.log.Info("app started",
		logx.Bool("automation", a.eng.Settings().AutomationEnabled),
		logx.Bool("dry_run", a.eng.Settings().DryRun),
		logx.Bool("operator", a.op != nil),
	)
	return nil
}

func (a *App) dispatchEvents(c context.Context) {
	for {
		select {
		case <-c.Done():
			return
		case ev := <-a.events:
			switch {
			case ev.Connected != nil:
				ok := *ev.Connected
				a.eng.SetConnected(ok)
				if ok {
					systemd.Status(a.log, "connected")
				} else {
					systemd.Status(a.log, "disconnected")
				}
			case ev.Inbound != nil:
				res := a.eng.HandleInbound(c, *ev.Inbound)
				a.log.Trace("inbound handled", logx.String("contact", ev.Inbound.ContactID), logx.String("result", string(res)))
			}
		}
	}
}

func (a *App) applyConfig(c context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.Strings("sections", restart))
	}

	logCfg := mapLogConfig(newCfg)
	if a.op == nil {
		logCfg.Alerts.Enabled = false
	}
	a.logs.Apply(logCfg)

	if s, err := mapCampaignSettings(newCfg); err != nil {
		a.log.Warn("invalid campaign config; keeping previous", logx.Err(err))
	} else {
		a.eng.Apply(s)
	}
	if err := a.setTicks(mapTicks(newCfg)); err != nil {
		a.log.Warn("invalid automation ticks; keeping previous", logx.Err(err))
	}
	if a.op != nil {
		a.op.SetOwners(newCfg.Operator.OwnerUserIDs)
	}
	a.api.Reconfigure(c, mapAPIConfig(newCfg))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	systemd.Stopping(a.log)

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	// Each step has an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// fn must honor stepCtx; if it doesn't, report when it finally returns.
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// Scheduler first: an in-flight send tick finishes before the transport goes away.
	step("scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("api", time.Second, func(c context.Context) error { a.api.Stop(c); return nil })
	step("operator", 2*time.Second, func(c context.Context) error {
		if a.op != nil {
			return a.op.Stop(c)
		}
		return nil
	})
	step("transport", 2*time.Second, func(c context.Context) error { return a.tx.Stop(c) })
	// Wait for supervised goroutines before closing the store they may still write to.
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
