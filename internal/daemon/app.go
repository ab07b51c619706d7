// Package daemon wires the relay components together and exposes them on a
// control socket for the CLI and the UI collaborator.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"go.olrik.dev/mediakey/internal/core"
	"go.olrik.dev/mediakey/internal/db"
	"go.olrik.dev/mediakey/internal/inject"
	"go.olrik.dev/mediakey/internal/keys"
	"go.olrik.dev/mediakey/internal/relay"
	"go.olrik.dev/mediakey/internal/supervisor"
	"go.olrik.dev/mediakey/internal/trust"
	"go.olrik.dev/mediakey/internal/uiloop"
)

// Options carries the platform capabilities the App drives. Nil fields get
// the real implementations.
type Options struct {
	Injector inject.Injector
	Store    trust.TrustStore
	Probe    supervisor.PortProbe
	Launcher supervisor.ProcessLauncher
	Signal   supervisor.Signaler

	// Control socket, pid file and journal locations. Empty means the
	// defaults under the config path.
	SocketPath   string
	PIDFilePath  string
	DatabasePath string
}

// App owns every component for the lifetime of the process.
type App struct {
	cfg *core.Configuration

	loop       *uiloop.Loop
	dispatcher *inject.Dispatcher
	relay      *relay.Listener
	supervisor *supervisor.Supervisor
	trust      *trust.Coordinator
	hosts      hostResolver

	// hostRefresh is the interval between network re-checks; zero disables
	hostRefresh time.Duration

	socketPath   string
	pidFilePath  string
	databasePath string

	level        *slog.LevelVar
	logBroadcast *LogBroadcaster
	startTime    time.Time

	mu        sync.Mutex
	database  *db.DB
	control   net.Listener
	hostInfo  HostInfo
	relayErr  error
	checkTask *uiloop.Task

	ctx          context.Context
	cancel       context.CancelFunc
	startupDone  chan struct{}
	shutdownOnce sync.Once
	finished     chan struct{}
}

// New builds the App from cfg. Nothing is started until Run or Start.
func New(cfg *core.Configuration, opts Options) (*App, error) {
	if opts.Injector == nil {
		injector, err := inject.NewInjector()
		if err != nil {
			return nil, fmt.Errorf("failed to create key injector: %w", err)
		}
		opts.Injector = injector
	}
	if opts.Store == nil {
		opts.Store = trust.WithEnvOverride(trust.NewStore(), os.LookupEnv)
	}
	if opts.Probe == nil {
		opts.Probe = supervisor.NetProbe{}
	}
	if opts.Launcher == nil {
		opts.Launcher = supervisor.ExecLauncher{}
	}
	if opts.SocketPath == "" {
		opts.SocketPath = core.GetSocketPath()
	}
	if opts.PIDFilePath == "" {
		opts.PIDFilePath = core.GetPIDFilePath()
	}
	if opts.DatabasePath == "" {
		opts.DatabasePath = core.GetDatabasePath()
	}

	ctx, cancel := context.WithCancel(context.Background())
	loop := uiloop.New()
	sup := supervisor.New(supervisor.Config{
		Path:    cfg.Companion.Path,
		Port:    cfg.Companion.Port,
		LogPath: cfg.Companion.LogFile,
		Settle:  cfg.Companion.Settle,
	}, opts.Probe, opts.Launcher, opts.Signal)

	a := &App{
		cfg:          cfg,
		loop:         loop,
		dispatcher:   inject.NewDispatcher(loop, opts.Injector),
		supervisor:   sup,
		trust:        trust.NewCoordinator(opts.Store, loop, cfg.Permission.BundleID, cfg.Permission.ResetGrace),
		hosts:        defaultHostResolver(),
		hostRefresh:  DefaultHostRefresh,
		socketPath:   opts.SocketPath,
		pidFilePath:  opts.PIDFilePath,
		databasePath: opts.DatabasePath,
		level:        new(slog.LevelVar),
		logBroadcast: NewLogBroadcaster(1000),
		ctx:          ctx,
		cancel:       cancel,
		finished:     make(chan struct{}),
	}
	a.relay = relay.NewListener(cfg.Relay.SocketPath, a.dispatcher)
	a.level.Set(LevelFor(cfg.Verbose))

	a.dispatcher.SetObserver(a.recordKey)
	a.supervisor.SetEventLogger(a.recordCompanion)
	a.trust.SetObserver(a.recordPermission)
	return a, nil
}

// Run turns the calling goroutine into the UI loop and blocks until the App
// has shut down, either through STOP or SIGTERM/SIGINT. The caller should
// be the process main goroutine locked to the main thread.
func (a *App) Run() error {
	a.setupLogging()

	if err := a.Start(); err != nil {
		return err
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(signals)
	go func() {
		select {
		case sig := <-signals:
			slog.Info("Shutdown signal received", "signal", sig.String())
			a.journalDaemon("signal", sig.String())
			a.Shutdown()
		case <-a.ctx.Done():
		}
	}()

	a.watchConfig()

	a.loop.Run()
	<-a.finished
	return nil
}

// Start opens the control socket and the journal, then kicks off the
// startup sequence in the background. The UI loop must be run separately.
func (a *App) Start() error {
	a.startTime = time.Now()

	if err := a.listenControl(); err != nil {
		return err
	}
	if err := os.WriteFile(a.pidFilePath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		slog.Warn("Failed to write pid file", "path", a.pidFilePath, "error", err)
	}

	a.openJournal()
	a.journalDaemon("start", fmt.Sprintf("daemon started - version: %s, PID: %d", core.FormatVersion(core.Version), os.Getpid()))

	a.startupDone = make(chan struct{})
	go a.startup()
	go a.serveControl()

	a.mu.Lock()
	a.checkTask = a.loop.Schedule(a.cfg.Permission.CheckDelay, a.passiveCheck, false)
	a.mu.Unlock()
	return nil
}

// startup frees the port and launches the companion before the relay
// socket is bound, so the companion never sees a half-ready relay.
func (a *App) startup() {
	defer close(a.startupDone)

	st := a.supervisor.Start(a.ctx)
	if st.State != supervisor.StateRunning {
		slog.Warn("Companion is not running", "state", string(st.State), "error", st.Error)
	}

	info := a.hosts.Resolve(a.ctx, a.cfg.Companion.Port)
	a.mu.Lock()
	a.hostInfo = info
	a.mu.Unlock()
	slog.Info("Companion reachable", "bookmark", info.BookmarkURL, "ip", info.IPURL)
	if a.hostRefresh > 0 {
		go a.watchHost(info)
	}

	if a.ctx.Err() != nil {
		return
	}
	if err := a.relay.Start(); err != nil {
		slog.Error("Command relay disabled for this session", "error", err)
		a.mu.Lock()
		a.relayErr = err
		a.mu.Unlock()
		a.journalDaemon("relay_failed", err.Error())
	}
}

// passiveCheck runs on the UI loop after the post-launch delay.
func (a *App) passiveCheck() {
	st := a.trust.Check()
	slog.Info("Input injection permission", "state", st.String())
}

// Shutdown stops every component in dependency order. Safe to call more
// than once and from any goroutine except the UI loop.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(func() {
		slog.Info("Executing shutdown sequence...")
		a.cancel()

		a.mu.Lock()
		control := a.control
		a.checkTask.Cancel()
		a.mu.Unlock()
		if control != nil {
			control.Close()
		}

		if a.startupDone != nil {
			<-a.startupDone
		}
		if err := a.relay.Close(); err != nil {
			slog.Debug("Failed to close relay listener", "error", err)
		}
		if err := a.supervisor.Stop(); err != nil {
			slog.Warn("Failed to stop companion", "error", err)
		}

		// Pending key releases are flushed before the loop exits
		a.loop.Close()
		select {
		case <-a.loop.Done():
		case <-time.After(5 * time.Second):
			slog.Warn("UI loop did not drain in time")
		}
		if err := a.dispatcher.Close(); err != nil {
			slog.Debug("Failed to close injector", "error", err)
		}

		a.journalDaemon("stop", fmt.Sprintf("daemon stopped - version: %s, PID: %d, keys dispatched: %d",
			core.FormatVersion(core.Version), os.Getpid(), a.dispatcher.Dispatched()))
		a.closeJournal()

		os.Remove(a.pidFilePath)
		close(a.finished)
	})
}

// Done is closed once Shutdown has completed.
func (a *App) Done() <-chan struct{} {
	return a.finished
}

func (a *App) openJournal() {
	if !a.cfg.Journal.Enabled {
		return
	}
	database, err := db.Open(a.databasePath)
	if err != nil {
		slog.Error("Failed to open database", "error", err, "path", a.databasePath)
		return
	}
	slog.Debug("Database opened", "path", a.databasePath)
	a.mu.Lock()
	a.database = database
	a.mu.Unlock()
}

func (a *App) closeJournal() {
	a.mu.Lock()
	database := a.database
	a.database = nil
	a.mu.Unlock()
	if database == nil {
		return
	}
	if err := database.Flush(); err != nil {
		slog.Error("Failed to flush database during shutdown", "error", err)
	}
	if err := database.Close(); err != nil {
		slog.Error("Failed to close database during shutdown", "error", err)
	}
}

// journal runs fn against the open database, if any. Write failures are
// logged and otherwise ignored.
func (a *App) journal(fn func(*db.DB) error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.database == nil {
		return
	}
	if err := fn(a.database); err != nil {
		slog.Debug("Failed to write journal entry", "error", err)
	}
}

func (a *App) journalDaemon(eventType, details string) {
	a.journal(func(d *db.DB) error { return d.LogDaemonEvent(eventType, details) })
}

func (a *App) recordKey(cmd keys.Command) {
	slog.Debug("Key command accepted", "key", cmd.String(), "code", int(cmd))
	a.journal(func(d *db.DB) error { return d.LogKeyEvent(int(cmd), cmd.String()) })
}

func (a *App) recordCompanion(eventType, details string) {
	a.journal(func(d *db.DB) error { return d.LogCompanionEvent(eventType, details) })
}

func (a *App) recordPermission(from, to trust.State) {
	a.journal(func(d *db.DB) error { return d.LogPermissionEvent(from.String(), to.String()) })
}
