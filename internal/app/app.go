// Package app wires the alarm engine, its sinks and the chat transport into
// one process and runs it until stopped.
package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"quizalarm/internal/alarmstore"
	"quizalarm/internal/clock"
	"quizalarm/internal/config"
	"quizalarm/internal/eventbus"
	"quizalarm/internal/manager"
	"quizalarm/internal/notify"
	"quizalarm/internal/notify/cronsink"
	"quizalarm/internal/notify/mqttsink"
	"quizalarm/internal/question"
	"quizalarm/internal/relay"
	rtsup "quizalarm/internal/runtime/supervisor"
	"quizalarm/internal/schedule"
	"quizalarm/internal/session"
	"quizalarm/internal/storage"
	"quizalarm/internal/task/engine"
	kit "quizalarm/internal/transport"
	telegram "quizalarm/internal/transport/telegram/adapter"
	"quizalarm/internal/transport/telegram/router"
	logx "quizalarm/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	engine    *engine.Service
	questions *question.Service
	remote    *question.RemoteClient
	remoteCfg question.RemoteConfig
	sess      *session.Session
	sched     *schedule.Scheduler
	alarms    *alarmstore.Store
	mgr       *manager.Manager

	startSink func(context.Context) error
	stopSink  func(context.Context)

	// Chat side; nil when no bot token is configured.
	adapter *telegram.Adapter
	router  *router.Router
	relay   *relay.Service
	updates chan kit.Update

	interval   atomic.Int64
	intervalCh chan time.Duration
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	logs, base := logx.New(mapLogging(cfg), nil)
	a := &App{
		cfgm:       cfgm,
		log:        base.With(logx.String("comp", "app")),
		logs:       logs,
		bus:        eventbus.New(),
		updates:    make(chan kit.Update, 64),
		intervalCh: make(chan time.Duration, 1),
	}
	ok := false
	defer func() {
		if !ok {
			a.closeStore()
			_ = logs.Close()
		}
	}()

	tcfg, chatEnabled, err := mapTelegram(cfg)
	if err != nil {
		return nil, err
	}
	if chatEnabled {
		ad, err := telegram.New(tcfg, base)
		if err != nil {
			return nil, err
		}
		a.adapter = ad
		logs.SetSender(ad)
	} else {
		a.log.Warn("telegram.token is empty; chat commands and relay are disabled")
	}

	if sc, enabled, err := mapStorage(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, base)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	} else {
		a.log.Warn("storage disabled; alarms live in memory only")
	}

	engCfg, err := mapEngine(cfg)
	if err != nil {
		return nil, err
	}
	a.engine = engine.New(engCfg, base, a.bus)

	qcfg, rcfg, err := mapQuestions(cfg)
	if err != nil {
		return nil, err
	}
	var remote question.Remote
	if rcfg.BaseURL != "" {
		a.remote = question.NewRemoteClient(rcfg)
		remote = a.remote
	}
	a.remoteCfg = rcfg
	a.questions = question.NewService(qcfg, remote, base)

	clk := clock.System{Loc: loc}
	a.sess = session.New(a.questions, base, a.bus,
		session.WithClock(clk),
		session.WithRunner(a.runAsync),
		session.WithQuestionDeadline(questionDeadline(qcfg)),
		session.WithResolvedHook(a.onResolved),
	)

	sink, err := a.buildSink(cfg, base)
	if err != nil {
		return nil, err
	}
	a.sched = schedule.New(sink, clk, base, a.bus)
	a.alarms = alarmstore.New(a.store, base, a.bus)

	mcfg, err := mapManager(cfg)
	if err != nil {
		return nil, err
	}
	var journal manager.Journal
	if a.store != nil {
		journal = a.store
	}
	a.mgr = manager.New(mcfg, a.alarms, a.sched, a.sess, clk, journal, base, a.bus)

	interval, err := mapPendingInterval(cfg)
	if err != nil {
		return nil, err
	}
	a.interval.Store(int64(interval))

	if a.adapter != nil {
		relCfg, err := mapRelay(cfg)
		if err != nil {
			return nil, err
		}
		a.relay = relay.New(relCfg, a.adapter, base, a.bus)
		a.router = router.New(a.mgr, a.adapter, cfg.Telegram.OwnerUserIDs, loc, base)
	}

	ok = true
	return a, nil
}

func (a *App) buildSink(cfg *config.Config, log logx.Logger) (notify.Sink, error) {
	due := func(ctx context.Context, p notify.Payload) error {
		// a stale trigger for a deleted alarm will never succeed
		if _, known := a.mgr.Alarm(p.AlarmID); !known {
			return engine.NoRetry(fmt.Errorf("due delivery: %w: %s", alarmstore.ErrNotFound, p.AlarmID))
		}
		if !a.mgr.HandleDue(ctx, p.AlarmID) {
			a.log.Debug("due delivery ignored", logx.String("alarm_id", p.AlarmID))
		}
		return nil
	}
	switch driver := sinkDriver(cfg); driver {
	case "mqtt":
		mc, err := mapMQTTSink(cfg)
		if err != nil {
			return nil, err
		}
		s := mqttsink.New(mc, mqttsink.Dial(mc), a.engine, due, log)
		a.startSink, a.stopSink = s.Start, s.Stop
		return s, nil
	case "cron":
		cc, err := mapCronSink(cfg)
		if err != nil {
			return nil, err
		}
		s := cronsink.New(cc, a.engine, due, log)
		a.startSink = func(ctx context.Context) error { s.Start(ctx); return nil }
		a.stopSink = s.Stop
		return s, nil
	default:
		return nil, fmt.Errorf("unknown sink.driver: %s", driver)
	}
}

// runAsync is the session runner: question generation goes through the task
// engine, or a plain goroutine when the engine refuses it. Work the engine
// accepts and later drops is covered by the session's question deadline.
func (a *App) runAsync(fn func(ctx context.Context)) {
	err := a.engine.Enqueue(engine.Task{
		Name: "question.generate",
		Run: func(ctx context.Context) error {
			fn(ctx)
			return nil
		},
	})
	if err != nil {
		a.log.Debug("question task not queued; running inline", logx.Err(err))
		go fn(context.Background())
	}
}

func (a *App) onResolved(res session.Resolution) {
	if a.mgr != nil {
		a.mgr.OnResolved(res)
	}
}

func (a *App) Manager() *manager.Manager { return a.mgr }

// Done is closed when the app context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the app supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateMapping(cfg)
	})

	a.engine.Start(run)
	if err := a.startSink(run); err != nil {
		return fmt.Errorf("start sink: %w", err)
	}

	res := a.mgr.Load(run)
	sum := res.Summary(len(a.mgr.Alarms()))
	a.log.Info("alarms loaded", logx.Int("alarms", sum.Alarms), logx.Int("triggers", sum.Triggers),
		logx.Strings("failed", sum.Failed))
	if id, fired := a.mgr.CheckPending(run); fired {
		a.log.Info("pending alarm activated on startup", logx.String("alarm_id", id))
	}

	if a.relay != nil {
		a.relay.Start(run)
		a.sup.Go0("relay.forward", func(c context.Context) { a.relay.Forward(c, a.bus) })
	}
	if a.adapter != nil {
		if err := a.adapter.Start(run, a.updates); err != nil {
			return err
		}
		a.sup.Go("router.dispatch", func(c context.Context) error {
			return a.router.Dispatch(c, a.updates)
		})
		a.sup.Go0("telegram.menu", func(c context.Context) {
			mctx, cancel := context.WithTimeout(c, 10*time.Second)
			defer cancel()
			if err := a.adapter.UpdateMenuCommands(mctx, a.router.Menu()); err != nil {
				a.log.Warn("menu commands update failed", logx.Err(err))
			}
		})
	}

	a.sup.Go0("eventbus.log", a.logEvents)
	a.sup.Go0("pending.check", a.pendingLoop)
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("systemd.watchdog", func(c context.Context) { watchdogLoop(c, a.log) })

	notifyReady(a.log)
	next, nextID, hasNext := a.mgr.NextAlarmTime()
	if hasNext {
		a.log.Info("app started", logx.Time("next_alarm", next), logx.String("next_alarm_id", nextID))
	} else {
		a.log.Info("app started", logx.Bool("has_next", false))
	}
	return nil
}

// logEvents mirrors bus traffic into the debug log.
func (a *App) logEvents(ctx context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

// pendingLoop repeats the pending-alarm check. Running it more often than
// needed is harmless: the manager ignores already-fired occurrences.
func (a *App) pendingLoop(ctx context.Context) {
	t := time.NewTicker(time.Duration(a.interval.Load()))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-a.intervalCh:
			t.Reset(d)
			a.log.Info("pending check interval changed", logx.Duration("interval", d))
		case <-t.C:
			if id, fired := a.mgr.CheckPending(ctx); fired {
				a.log.Info("pending alarm activated", logx.String("alarm_id", id))
			}
		}
	}
}

func (a *App) setPendingInterval(d time.Duration) {
	if d <= 0 || int64(d) == a.interval.Swap(int64(d)) {
		return
	}
	select {
	case <-a.intervalCh:
	default:
	}
	a.intervalCh <- d
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifyStopping(a.log)
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		runStopStep(ctx, a.log, name, limit, fn)
	}
	if a.adapter != nil {
		step("adapter", 3*time.Second, a.adapter.Stop)
	}
	if a.relay != nil {
		step("relay", 2*time.Second, func(c context.Context) error { a.relay.Stop(c); return nil })
	}
	step("sink", 2*time.Second, func(c context.Context) error { a.stopSink(c); return nil })
	step("taskengine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.closeStore() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	st := a.store
	a.store = nil
	return st.Close()
}

// runStopStep bounds one shutdown step by limit, never past the caller's
// deadline. A step that overruns is left running and reported when it ends.
func runStopStep(ctx context.Context, log logx.Logger, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	if limit <= 0 {
		log.Warn("stop step skipped; no time left", logx.String("name", name))
		return
	}
	sctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(sctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-sctx.Done():
		log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		go func() {
			err := <-done
			log.Info("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
		}()
	}
}
