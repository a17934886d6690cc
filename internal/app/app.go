// Package app wires configuration, storage, the Telegram adapter and the
// birthday services into one process.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"

	"birthdaybot/internal/birthday"
	"birthdaybot/internal/bot"
	"birthdaybot/internal/config"
	"birthdaybot/internal/eventbus"
	"birthdaybot/internal/i18n"
	"birthdaybot/internal/notifier"
	"birthdaybot/internal/reminder"
	rtsup "birthdaybot/internal/runtime/supervisor"
	"birthdaybot/internal/storage"
	kit "birthdaybot/internal/transport"
	telegram "birthdaybot/internal/transport/telegram/adapter"
	logx "birthdaybot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	notif   *notifier.Service
	remind  *reminder.Service
	greeter *bot.Greeter
	router  *bot.Router
	catalog *i18n.Catalog

	updates chan kit.Update
	// bgCtx outlives the supervisor so the notifier and reminder drain in
	// Stop instead of being cut off by cancellation.
	bgCtx context.Context
}

// New loads the config at cfgPath and builds every component. Nothing
// runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateRuntime(cfg); err != nil {
		return nil, err
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, bootLog)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	// Set the chat target before enabling the chat sink.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Chat.Enabled = false
	logSvc, root := logx.New(bootCfg, ad)
	logSvc.SetChatTarget(logTarget(cfg), cfg.Logging.Telegram.ThreadID)
	logSvc.Apply(logCfg)
	log := root.With(logx.String("comp", "app"))

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		adapter: ad,
		updates: make(chan kit.Update, 256),
	}
	if err := a.build(cfg, root); err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, root logx.Logger) error {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	st, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	a.store = st
	a.log.Info("storage ready", logx.String("driver", sc.Driver))

	cat, err := i18n.New(cfg.Locale.Default, root.With(logx.String("comp", "i18n")))
	if err != nil {
		return err
	}
	a.catalog = cat

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return err
	}
	a.notif = notifier.New(ncfg, a.adapter, root.With(logx.String("comp", "notifier")), a.bus, st)

	births := birthday.NewStore(st, root.With(logx.String("comp", "birthdays")))
	a.greeter = bot.NewGreeter(a.notif, cat, cfg.Reminder.Priority)
	sched := birthday.NewScheduler(births, a.greeter, root.With(logx.String("comp", "due")))

	rcfg, err := mapReminderConfig(cfg)
	if err != nil {
		return err
	}
	a.remind = reminder.New(rcfg, sched, root.With(logx.String("comp", "reminder")), a.bus)

	h := &bot.Handlers{Store: births, Bus: a.bus}
	a.router = bot.NewRouter(bot.RouterConfig{BotName: a.adapter.Username}, a.adapter, cat, root.With(logx.String("comp", "router")), h.Commands()...)
	a.router.SetForceLocale(cfg.Locale.Force)
	return nil
}

// Done is closed when the app context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err is the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()
	a.bgCtx = context.WithoutCancel(ctx)

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateRuntime(cfg)
	})

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}
	a.notif.Start(a.bgCtx)

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})
	if a.cfgm.Get().Telegram.SetCommands {
		a.sup.Go0("telegram.menu", func(c context.Context) {
			mctx, cancel := context.WithTimeout(c, 15*time.Second)
			defer cancel()
			if err := bot.PublishMenu(mctx, a.adapter, a.catalog, a.router.Commands()); err != nil {
				a.log.Warn("menu update failed", logx.Err(err))
			}
		})
	}

	if err := a.remind.Start(a.bgCtx); err != nil {
		return err
	}

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
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// Keep only the newest of a burst.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.startSystemd()
	a.log.Info("app started", logx.String("bot", a.adapter.Username()))
	return nil
}

// applyConfig pushes a validated config to the running components.
// Storage, token and default locale need a restart.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		switch s {
		case "storage":
			a.log.Warn("storage config changed; restart required")
		case "telegram":
			if prev.Telegram.Token != next.Telegram.Token || strings.TrimSpace(prev.Telegram.PollTimeout) != strings.TrimSpace(next.Telegram.PollTimeout) {
				a.log.Warn("telegram connection settings changed; restart required")
			}
		}
	}
	if prev.Locale.Default != next.Locale.Default {
		a.log.Warn("locale.default changed; restart required")
	}

	a.logs.SetChatTarget(logTarget(next), next.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogConfig(next))

	a.router.SetForceLocale(next.Locale.Force)
	a.greeter.SetPriority(next.Reminder.Priority)

	if ncfg, err := mapNotifierConfig(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.notif.Enabled()
		a.notif.Apply(ncfg)
		switch {
		case wasEnabled && !ncfg.Enabled:
			sctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(sctx)
			cancel()
			a.log.Info("notifier queue disabled via config")
		case !wasEnabled && ncfg.Enabled:
			a.notif.Start(a.bgCtx)
			a.log.Info("notifier queue enabled via config")
		}
	}

	if rcfg, err := mapReminderConfig(next); err != nil {
		a.log.Warn("invalid reminder config; keeping previous", logx.Err(err))
	} else {
		actx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := a.remind.Apply(actx, rcfg); err != nil {
			a.log.Warn("reminder reconfigure failed", logx.Err(err))
		}
		cancel()
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}

// startSystemd reports readiness and feeds the watchdog when running under
// systemd. Both are no-ops otherwise.
func (a *App) startSystemd() {
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified ready")
	}

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	})
}

// Stop shuts down in dependency order: intake first, then the notifier
// drain, then the transport and storage.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// Reminder and the command workers drain in parallel; both still
	// need the notifier and the adapter.
	var g errgroup.Group
	g.Go(func() error {
		return a.step(ctx, "reminder", 3*time.Second, a.remind.Stop)
	})
	g.Go(func() error {
		a.sup.Cancel()
		return a.step(ctx, "supervisor", 4*time.Second, a.sup.Wait)
	})
	err := g.Wait()

	_ = a.step(ctx, "notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	if serr := a.step(ctx, "adapter", 3*time.Second, a.adapter.Stop); serr != nil && err == nil {
		err = serr
	}
	if serr := a.store.Close(); serr != nil {
		a.log.Warn("storage close failed", logx.Err(serr))
	}

	a.log.Info("stopped")
	_ = a.logs.Close()
	return err
}

// step bounds one shutdown step by max without extending ctx.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	sctx, cancel := context.WithTimeout(ctx, max)
	defer cancel()
	err := fn(sctx)
	took := time.Since(start)
	if err != nil {
		a.log.Warn("stop step error", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
		return fmt.Errorf("%s: %w", name, err)
	}
	a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", took))
	return nil
}
