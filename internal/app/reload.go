package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"quizalarm/internal/config"
	"quizalarm/internal/question"
	logx "quizalarm/pkg/logx"
)

const runStopTimeout = 3 * time.Second

// validateMapping runs every mapper so a reload that parses but cannot be
// applied is rejected before commit.
func validateMapping(cfg *config.Config) error {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	_, _, err := mapTelegram(cfg)
	collect(err)
	_, _, err = mapStorage(cfg)
	collect(err)
	_, err = mapEngine(cfg)
	collect(err)
	_, err = mapRelay(cfg)
	collect(err)
	_, _, err = mapQuestions(cfg)
	collect(err)
	_, err = mapManager(cfg)
	collect(err)
	_, err = mapPendingInterval(cfg)
	collect(err)
	switch sinkDriver(cfg) {
	case "mqtt":
		_, err = mapMQTTSink(cfg)
	default:
		_, err = mapCronSink(cfg)
	}
	collect(err)
	return errors.Join(errs...)
}

func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// keep only the newest of a burst
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, last, next)
			last = next
		}
	}
}

// applyConfig pushes the live-reloadable parts of next into the running
// components. Keys in Change.Restart are only logged.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	ch := config.Diff(prev, next)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.log.Debug("config change summary", append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)...)
	if len(ch.Restart) > 0 {
		a.log.Warn("config change needs a restart to take effect", logx.Strings("keys", ch.Restart))
	}

	a.logs.SetChatTarget(next.Telegram.LogChatID, next.Logging.Chat.ThreadID)
	a.logs.Apply(mapLogging(next))

	if a.router != nil {
		a.router.SetOwners(next.Telegram.OwnerUserIDs)
	}

	if ec, err := mapEngine(next); err != nil {
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(ctx, ec)
	}

	if a.relay != nil {
		if rc, err := mapRelay(next); err != nil {
			a.log.Warn("invalid relay config; keeping previous", logx.Err(err))
		} else {
			a.applyRelay(ctx, rc.Enabled, func() { a.relay.Apply(rc) })
		}
	}

	a.applyQuestions(next)

	if mc, err := mapManager(next); err != nil {
		a.log.Warn("invalid scheduler.due_tolerance; keeping previous", logx.Err(err))
	} else {
		a.mgr.Apply(mc)
	}
	if d, err := mapPendingInterval(next); err != nil {
		a.log.Warn("invalid scheduler.pending_check_interval; keeping previous", logx.Err(err))
	} else {
		a.setPendingInterval(d)
	}

	a.log.Info("config reloaded", logx.String("changed", strings.Join(ch.Sections, ",")))
}

// applyRelay restarts the relay around apply when it is switched on or off.
func (a *App) applyRelay(ctx context.Context, enabled bool, apply func()) {
	was := a.relay.Enabled()
	if was && !enabled {
		a.log.Info("relay disabled via config")
		sctx, cancel := context.WithTimeout(ctx, runStopTimeout)
		a.relay.Stop(sctx)
		cancel()
	}
	apply()
	if !was && enabled {
		a.log.Info("relay enabled via config")
		a.relay.Start(ctx)
	}
}

// applyQuestions swaps the remote client only when its endpoint or timeout
// changed; a new api key is rotated in place.
func (a *App) applyQuestions(next *config.Config) {
	qc, rc, err := mapQuestions(next)
	if err != nil {
		a.log.Warn("invalid questions config; keeping previous", logx.Err(err))
		return
	}
	switch {
	case rc.BaseURL == "":
		if a.remote != nil {
			a.questions.SetRemote(nil)
			a.remote = nil
			a.log.Info("remote questions detached")
		}
	case a.remote == nil || rc.BaseURL != a.remoteCfg.BaseURL || rc.Timeout != a.remoteCfg.Timeout:
		a.remote = question.NewRemoteClient(rc)
		a.questions.SetRemote(a.remote)
		a.log.Info("remote questions client replaced", logx.String("base_url", rc.BaseURL))
	case rc.APIKey != a.remoteCfg.APIKey:
		a.remote.SetAPIKey(rc.APIKey)
		a.log.Info("remote questions api key rotated", logx.Bool("set", rc.APIKey != ""))
	}
	a.remoteCfg = rc
	a.questions.Apply(qc)
}
