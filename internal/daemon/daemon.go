package daemon

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/harun/phonepilot/internal/config"
	"github.com/harun/phonepilot/internal/observability"
	"github.com/harun/phonepilot/internal/tracing"
	"github.com/harun/phonepilot/pkg/agent"
	"github.com/harun/phonepilot/pkg/control"
	"github.com/harun/phonepilot/pkg/cron"
	"github.com/harun/phonepilot/pkg/device/adb"
	"github.com/harun/phonepilot/pkg/device/vdisplay"
	"github.com/harun/phonepilot/pkg/dispatch"
	"github.com/harun/phonepilot/pkg/session"
)

// Options override collaborators, mostly for tests.
type Options struct {
	ADBRunner       adb.Runner
	DialDisplay     vdisplay.DialFunc
	ProviderFactory agent.ProviderCreator
	Loader          *config.Loader
}

// Daemon wires the device, dispatch and agent layers together and runs
// them either for one task or as a long-lived service.
type Daemon struct {
	config *config.Config
	loader *config.Loader
	logger zerolog.Logger

	adb         *adb.Client
	prober      *adb.Prober
	catalog     *adb.Catalog
	displays    *vdisplay.Registry
	flags       *config.Flags
	sessions    *session.Registry
	broadcaster *control.EventBroadcaster
	dispatcher  *dispatch.Dispatcher
	runner      *agent.Runner
	lifecycle   *LifecycleManager

	mu        sync.RWMutex
	running   bool
	startTime time.Time

	tracingEnabled bool
}

// New builds every component from cfg. Nothing touches the device until a
// run starts.
func New(cfg *config.Config, log zerolog.Logger, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	observability.EnsureRegistered()

	d := &Daemon{
		config: cfg,
		loader: opts.Loader,
		logger: log.With().Str("component", "daemon").Logger(),
	}
	if err := tracing.InitOpenTelemetry("phonepilot"); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to initialize tracing, continuing without it")
	} else {
		d.tracingEnabled = true
	}

	runner := opts.ADBRunner
	if runner == nil {
		runner = adb.ExecRunner{Path: cfg.Device.ADBPath, Timeout: cfg.Device.Timeout()}
	}
	d.adb = adb.New(adb.Config{Serial: cfg.Device.Serial, Runner: runner, Logger: log})
	d.prober = adb.NewProber(d.adb, cfg.Device.BridgePackage)
	d.catalog = adb.NewCatalog(d.adb, nil)

	dial := opts.DialDisplay
	if dial == nil {
		remote := cfg.Remote
		dial = func(ctx context.Context, sessionID string) (*vdisplay.Controller, error) {
			return vdisplay.Dial(ctx, remote.Endpoint, sessionID, vdisplay.Options{
				CallTimeout: remote.CallTimeout(),
				Logger:      log,
			})
		}
	}
	d.displays = vdisplay.NewRegistry(dial, log)
	d.flags = config.NewFlags(cfg)
	d.sessions = session.NewRegistry()
	d.broadcaster = control.NewEventBroadcaster(log)

	d.dispatcher = dispatch.New(dispatch.Config{
		Local:    d.adb,
		Prober:   d.prober,
		Bridge:   d.prober,
		Apps:     d.catalog,
		Displays: d.displays,
		Overlay:  d.broadcaster,
		Flags:    d.flags,
		Remote: dispatch.RemoteSettings{
			Width:           cfg.Remote.Width,
			Height:          cfg.Remote.Height,
			DPI:             cfg.Remote.DPI,
			Bitrate:         cfg.Remote.Bitrate,
			FallbackPackage: cfg.Remote.FallbackPackage,
		},
		MaxBackspace: cfg.Dispatch.MaxBackspace,
		Logger:       log,
	})

	r, err := agent.NewRunner(agent.Config{
		Sessions:        d.sessions,
		Dispatcher:      d.dispatcher,
		Observer:        agent.NewScreenObserver(d.adb, d.dispatcher, d.adb, log),
		Displays:        d.displays,
		Overlay:         d.broadcaster,
		Flags:           d.flags,
		Reporter:        d.broadcaster,
		AuthProfiles:    authProfiles(cfg.AI.Profiles, cfg.Agent.Profile),
		ProviderFactory: opts.ProviderFactory,
		Logger:          log,
		Model:           cfg.Agent.Model,
		Temperature:     cfg.Agent.Temperature,
		MaxTokens:       cfg.Agent.MaxTokens,
		SystemPrompt:    cfg.Agent.SystemPrompt,
		MaxSteps:        cfg.Agent.MaxSteps,
	})
	if err != nil {
		d.shutdownTracing()
		return nil, fmt.Errorf("failed to create agent runner: %w", err)
	}
	d.runner = r
	d.lifecycle = NewLifecycleManager(d)
	return d, nil
}

// authProfiles maps configured profiles for the runner. The profile named
// by agent.profile is tried first; the rest stay as failover.
func authProfiles(profiles []config.AIProfile, preferred string) []agent.AuthProfile {
	out := make([]agent.AuthProfile, 0, len(profiles))
	lowest := 0
	for _, p := range profiles {
		lowest = min(lowest, p.Priority)
		out = append(out, agent.AuthProfile{
			ID:       p.ID,
			Provider: p.Provider,
			APIKey:   p.APIKey,
			BaseURL:  p.BaseURL,
			Priority: p.Priority,
		})
	}
	for i := range out {
		if out[i].ID == preferred {
			out[i].Priority = lowest - 1
		}
	}
	return out
}

// TaskParams describe a foreground run.
type TaskParams struct {
	SessionID string
	Task      string
	MaxSteps  int
	Pause     *session.PauseGate
	OnStep    func(agent.StepOutcome)
}

// RunTask runs one task to completion in the foreground.
func (d *Daemon) RunTask(ctx context.Context, p TaskParams) (string, error) {
	d.rescanApps(ctx)
	defer d.displays.ReleaseAll(context.WithoutCancel(ctx))
	defer d.shutdownTracing()

	return d.runner.Run(ctx, agent.RunParams{
		SessionID:       p.SessionID,
		Task:            p.Task,
		MaxSteps:        p.MaxSteps,
		CleanupOnFinish: d.config.Agent.CleanupOnFinish,
		Pause:           p.Pause,
		OnStep:          p.OnStep,
	})
}

// Serve runs the control gateway, the scheduler and the config watcher
// until ctx ends or one of them fails.
func (d *Daemon) Serve(ctx context.Context) error {
	if d.config.Control.SharedSecret == "" {
		return errors.New("control.shared_secret is required to serve")
	}

	server, err := control.NewServer(control.Config{
		Host:         d.config.Control.Host,
		Port:         d.config.Control.Port,
		SharedSecret: d.config.Control.SharedSecret,
		RateLimit:    d.config.Control.RateLimit,
		RateBurst:    d.config.Control.RateBurst,
		Runner:       d.runner,
		Sessions:     d.sessions,
		Broadcaster:  d.broadcaster,
		Logger:       d.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create control server: %w", err)
	}

	scheduler, err := cron.NewService(cron.ServiceOptions{
		StorePath: filepath.Join(d.config.DataDir, "schedules.json"),
		Runner:    d.runner,
		Logger:    d.logger,
		OnEvent: func(evt cron.Event) {
			d.broadcaster.Broadcast("cron."+string(evt.Action), evt)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	if err := scheduler.SetJobs(cron.JobsFromConfig(d.config.Schedules)); err != nil {
		return fmt.Errorf("invalid schedules: %w", err)
	}

	if err := d.lifecycle.Start(); err != nil {
		return err
	}
	d.mu.Lock()
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		d.displays.ReleaseAll(context.Background())
		if err := d.lifecycle.Stop(); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to stop lifecycle manager")
		}
		d.shutdownTracing()
		d.logger.Info().Msg("Daemon stopped")
	}()

	d.rescanApps(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Serve(gctx) })
	g.Go(func() error { return scheduler.Start(gctx) })
	if d.loader != nil {
		g.Go(func() error { return d.watchConfig(gctx, scheduler) })
	}

	d.logger.Info().
		Str("host", d.config.Control.Host).
		Int("port", d.config.Control.Port).
		Int("schedules", len(d.config.Schedules)).
		Msg("Daemon started")
	return g.Wait()
}

// watchConfig applies hot-reloadable settings: the remote display flag,
// settle delays and the schedule set.
func (d *Daemon) watchConfig(ctx context.Context, scheduler *cron.Service) error {
	w, err := config.NewWatcher(d.loader, d.logger, func(cfg *config.Config) {
		d.flags.Apply(cfg)
		if err := scheduler.SetJobs(cron.JobsFromConfig(cfg.Schedules)); err != nil {
			d.logger.Warn().Err(err).Msg("Ignoring reloaded schedules")
		}
		d.logger.Info().Bool("remote", d.flags.RemoteDisplayEnabled()).Msg("Config reloaded")
	})
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		_ = w.Stop()
		return err
	}
	<-ctx.Done()
	return w.Stop()
}

func (d *Daemon) rescanApps(ctx context.Context) {
	if err := d.catalog.Rescan(ctx); err != nil {
		d.logger.Debug().Err(err).Msg("Initial app scan failed")
	}
}

func (d *Daemon) shutdownTracing() {
	if !d.tracingEnabled {
		return
	}
	d.tracingEnabled = false
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to shutdown tracing")
	}
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running:        d.running,
		ActiveSessions: d.sessions.Active(),
	}
	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}
	return status
}

// Status represents daemon status
type Status struct {
	Running        bool
	Uptime         time.Duration
	StartTime      time.Time
	ActiveSessions []string
}
