// Package daemon wires the tracker, its store and the socket server into the
// long-running tempo process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codefionn/tempo/internal/actor"
	"github.com/codefionn/tempo/internal/config"
	"github.com/codefionn/tempo/internal/consts"
	"github.com/codefionn/tempo/internal/lockfile"
	"github.com/codefionn/tempo/internal/logger"
	"github.com/codefionn/tempo/internal/monitor"
	"github.com/codefionn/tempo/internal/pidfile"
	"github.com/codefionn/tempo/internal/pprof"
	"github.com/codefionn/tempo/internal/project"
	"github.com/codefionn/tempo/internal/ratelimit"
	"github.com/codefionn/tempo/internal/recovery"
	"github.com/codefionn/tempo/internal/socketserver"
	"github.com/codefionn/tempo/internal/store"
	"github.com/codefionn/tempo/internal/tracker"
)

// Options tune how the daemon runs.
type Options struct {
	// ConfigPath is watched for changes. Empty disables hot reload.
	ConfigPath string
	// LogMirror receives log lines in addition to the log file, e.g.
	// os.Stderr in foreground mode.
	LogMirror io.Writer
	// Clock overrides the monitor's clock source.
	Clock monitor.Clock
	// HandleSignals makes Run stop on SIGINT and SIGTERM.
	HandleSignals bool
	// Profiling enables runtime profiles for diagnosis.
	Profiling pprof.Config
}

// Daemon is one tempo process.
type Daemon struct {
	cfg  *config.Config
	opts Options

	lock *lockfile.Lockfile
	pid  *pidfile.Pidfile

	store   *store.Store
	system  *actor.System
	service *tracker.Service
	server  *socketserver.Server
	limiter *ratelimit.Limiter
	monitor *monitor.Monitor
	log     *logger.Logger

	ready chan struct{}
}

// New creates a daemon for cfg. Nothing is started until Run.
func New(cfg *config.Config, opts Options) *Daemon {
	if opts.Clock == nil {
		opts.Clock = monitor.SystemClock()
	}
	return &Daemon{
		cfg:   cfg,
		opts:  opts,
		lock:  lockfile.New(cfg.LockPath),
		pid:   pidfile.New(cfg.PidPath),
		ready: make(chan struct{}),
	}
}

// Ready is closed once the socket accepts connections.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// Run starts the daemon and blocks until ctx is cancelled, a signal arrives
// or a client requests shutdown. Open sessions are closed before it returns.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.lock.TryAcquire(); err != nil {
		return fmt.Errorf("failed to acquire daemon lock: %w", err)
	}
	defer d.lock.Release()

	if err := logger.Init(logger.ParseLevel(d.cfg.LogLevel), logger.Options{Path: d.cfg.LogPath, Mirror: d.opts.LogMirror}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	slog.SetDefault(slog.New(logger.NewSlogHandler(logger.Global())))
	d.log = logger.Global().WithPrefix("daemon")

	if d.opts.Profiling.Enabled() {
		prof := pprof.NewHandler(d.opts.Profiling)
		if err := prof.Start(); err != nil {
			return err
		}
		defer func() {
			if err := prof.Stop(); err != nil {
				d.log.Warn("Profiling: %v", err)
			}
		}()
	}

	if err := d.pid.Write(); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	defer d.pid.Remove()

	st, err := store.Open(d.cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	d.store = st
	defer st.Close()

	report := recovery.New(st, recovery.Policy{
		IdleTimeout: d.cfg.Tracking.IdleTimeout(),
		MaxSession:  d.cfg.Tracking.MaxSession(),
	}).Run(ctx)
	if report.Recovered+report.Duplicates+report.Failed > 0 {
		d.log.Info("Recovery closed %d session(s), %d duplicate(s), %d failed", report.Recovered, report.Duplicates, report.Failed)
	}

	if err := d.startTracker(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := d.startServer(runCtx, cancel); err != nil {
		d.stopTracker()
		return err
	}
	close(d.ready)
	d.log.Info("tempo daemon running (pid %d)", os.Getpid())

	g, gctx := errgroup.WithContext(runCtx)
	d.monitor = monitor.New(d.opts.Clock, d.cfg.Tracking.TickInterval(), d.cfg.Tracking.SleepThreshold(), d.emitTick)
	g.Go(func() error { return d.monitor.Run(gctx) })
	g.Go(func() error { return d.heartbeatLoop(gctx, d.cfg.Tracking.FlushInterval()) })
	if d.opts.ConfigPath != "" {
		g.Go(func() error {
			if err := config.Watch(gctx, d.opts.ConfigPath, func(c *config.Config) { d.reload(gctx, c) }); err != nil {
				// Hot reload is optional; the daemon keeps running without it.
				d.log.Warn("Config watcher stopped: %v", err)
			}
			return nil
		})
	}
	if d.opts.HandleSignals {
		g.Go(func() error { return waitForSignal(gctx, cancel, d.log) })
	}

	err = g.Wait()

	d.log.Info("Shutting down")
	d.server.Stop()
	d.stopTracker()
	d.log.Info("Shutdown complete")

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (d *Daemon) startTracker(ctx context.Context) error {
	projects, err := d.store.ListProjects(ctx)
	if err != nil {
		return fmt.Errorf("failed to load projects: %w", err)
	}

	resolver := project.FromConfig(d.cfg.Projects)
	engine := tracker.NewEngine(tracker.SettingsFromConfig(d.cfg.Tracking, linkedKey(resolver)), projects)
	writer := tracker.NewWriter(d.store, tracker.RetryPolicyFromConfig(d.cfg.Store))
	if err := adoptOpenSessions(ctx, d.store, engine, writer); err != nil {
		return err
	}
	proc := tracker.NewProcessor(engine, writer, d.cfg.RateLimits.IDEDebounce(), d.cfg.RateLimits.SwitchSettle())

	d.system = actor.NewSystem()
	// The processor outlives the run context so it can still handle shutdown.
	svc, err := tracker.Spawn(context.Background(), d.system, proc)
	if err != nil {
		return fmt.Errorf("failed to start tracker: %w", err)
	}
	d.service = svc
	return nil
}

// adoptOpenSessions hands sessions recovery could not close to the engine,
// so later signals continue them instead of opening a second session.
func adoptOpenSessions(ctx context.Context, st *store.Store, engine *tracker.Engine, writer *tracker.Writer) error {
	open, err := st.OpenSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load open sessions: %w", err)
	}
	var ch tracker.Changes
	for _, s := range open {
		adopted := engine.Adopt(s)
		ch.Sessions = append(ch.Sessions, adopted.Sessions...)
	}
	if len(open) > 0 {
		logger.Global().WithPrefix("daemon").Warn("Continuing %d session(s) left open after recovery", len(open))
	}
	if ch.Empty() {
		return nil
	}
	if err := writer.Flush(ctx, ch); err != nil {
		// Buffered; retried on the next flush.
		logger.Global().WithPrefix("daemon").Warn("Closing duplicate sessions: %v", err)
	}
	return nil
}

func (d *Daemon) startServer(ctx context.Context, onShutdown func()) error {
	mode, err := d.cfg.SocketMode()
	if err != nil {
		return err
	}

	d.limiter = ratelimit.New(ratelimit.LimitsFromConfig(d.cfg.RateLimits))
	d.server = socketserver.NewServer(d.service, project.FromConfig(d.cfg.Projects), socketserver.Options{
		Path:           d.cfg.Socket.Path,
		Mode:           mode,
		MaxConnections: d.cfg.Socket.MaxConnections,
		Limiter:        d.limiter,
		OnShutdown:     onShutdown,
	})
	if err := d.server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start socket server: %w", err)
	}
	return nil
}

// stopTracker closes all open sessions and stops the actor system.
func (d *Daemon) stopTracker() {
	ctx, cancel := context.WithTimeout(context.Background(), consts.Timeout10Seconds)
	defer cancel()

	if err := d.service.Shutdown(ctx); err != nil {
		d.log.Error("Failed to close open sessions: %v", err)
	}
	if err := d.system.StopAll(ctx); err != nil {
		d.log.Warn("Failed to stop actors: %v", err)
	}
}

func (d *Daemon) emitTick(ctx context.Context, tick monitor.Tick) {
	if err := d.service.Tick(ctx, tick); err != nil && ctx.Err() == nil {
		d.log.Warn("Dropped tick: %v", err)
	}
}

// heartbeatLoop persists the open sessions and retries buffered writes.
func (d *Daemon) heartbeatLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := d.service.Heartbeat(ctx); err != nil && ctx.Err() == nil {
				d.log.Debug("Heartbeat not persisted: %v", err)
			}
		}
	}
}

// reload applies a changed configuration file. Socket, store and interval
// settings need a restart.
func (d *Daemon) reload(ctx context.Context, cfg *config.Config) {
	logger.Global().SetLevel(logger.ParseLevel(cfg.LogLevel))
	d.limiter.SetLimits(ratelimit.LimitsFromConfig(cfg.RateLimits))
	d.monitor.SetSleepThreshold(cfg.Tracking.SleepThreshold())

	resolver := project.FromConfig(cfg.Projects)
	d.server.SetResolver(resolver)

	err := d.service.Reconfigure(ctx, tracker.Reconfig{
		Settings:     tracker.SettingsFromConfig(cfg.Tracking, linkedKey(resolver)),
		IDEDebounce:  cfg.RateLimits.IDEDebounce(),
		SwitchSettle: cfg.RateLimits.SwitchSettle(),
		Retry:        tracker.RetryPolicyFromConfig(cfg.Store),
	})
	if err != nil {
		d.log.Warn("Failed to apply reloaded config: %v", err)
		return
	}
	d.log.Info("Configuration reloaded")
}

// linkedKey maps a configured linked project path to its project key.
func linkedKey(r *project.Resolver) func(string) string {
	return func(p string) string {
		if res, err := r.Resolve(p); err == nil {
			return res.Key
		}
		return r.Key(config.ExpandPath(p))
	}
}

func waitForSignal(ctx context.Context, cancel context.CancelFunc, log *logger.Logger) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		log.Info("Received %s", sig)
		cancel()
	case <-ctx.Done():
	}
	return nil
}
