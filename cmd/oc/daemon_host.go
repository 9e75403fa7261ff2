package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/steveyegge/overcode/internal/api"
	"github.com/steveyegge/overcode/internal/archive"
	"github.com/steveyegge/overcode/internal/config"
	"github.com/steveyegge/overcode/internal/events"
	"github.com/steveyegge/overcode/internal/federation"
	"github.com/steveyegge/overcode/internal/fsys"
	"github.com/steveyegge/overcode/internal/history"
	"github.com/steveyegge/overcode/internal/monitor"
	"github.com/steveyegge/overcode/internal/mux"
	"github.com/steveyegge/overcode/internal/notify"
	"github.com/steveyegge/overcode/internal/registry"
	"github.com/steveyegge/overcode/internal/state"
	"github.com/steveyegge/overcode/internal/supervisor"
	"github.com/steveyegge/overcode/internal/telemetry"
)

// loopGrace bounds how long the daemon waits for a loop to wind down,
// both during shutdown and when the API bounces a loop in-process.
const loopGrace = 5 * time.Second

// daemonHost owns the long-running tasks of the fused daemon process:
// the monitor loop and the supervisor loop. It implements
// api.DaemonControl so the web API can bounce either loop without
// restarting the process.
type daemonHost struct {
	ctx   context.Context // daemon lifetime; loop contexts derive from it
	cfg   config.Config
	paths state.Paths
	fs    fsys.FS
	m     mux.Multiplexer
	reg   *registry.Registry
	rec   events.Recorder
	peers func() map[string]state.PeerState

	notifier monitor.Notifier
	archiver monitor.Archiver

	monLog io.Writer
	supLog io.Writer

	// hostWake is the stable wake channel handed to the supervisor. A
	// pump goroutine per monitor instance forwards into it, so monitor
	// restarts do not sever the supervisor's tick signal.
	hostWake chan struct{}
	// monErr delivers a fatal monitor error to the daemon main loop.
	monErr chan error

	// supRef tracks the most recently started supervisor loop for the
	// stats the monitor folds into MonitorState. It outlives a stopped
	// loop so the counters stay visible. Read without taking mu; the
	// monitor tick must never block on lifecycle operations.
	supRef atomic.Pointer[supervisor.Loop]

	mu        sync.Mutex // guards the lifecycle fields below
	monCancel context.CancelFunc
	monDone   chan struct{}
	supCancel context.CancelFunc
	supDone   chan struct{}
}

func newDaemonHost(ctx context.Context, cfg config.Config, paths state.Paths, fs fsys.FS, m mux.Multiplexer, reg *registry.Registry, rec events.Recorder, peers func() map[string]state.PeerState, notifier monitor.Notifier, archiver monitor.Archiver, monLog, supLog io.Writer) *daemonHost {
	return &daemonHost{
		ctx:      ctx,
		cfg:      cfg,
		paths:    paths,
		fs:       fs,
		m:        m,
		reg:      reg,
		rec:      rec,
		peers:    peers,
		notifier: notifier,
		archiver: archiver,
		monLog:   monLog,
		supLog:   supLog,
		hostWake: make(chan struct{}, 1),
		monErr:   make(chan error, 1),
	}
}

// supervisorStats reports the remediation-agent counters for
// MonitorState. Called from the monitor tick; must not take mu.
func (h *daemonHost) supervisorStats() (int, *time.Time, float64) {
	if s := h.supRef.Load(); s != nil {
		return s.Stats()
	}
	return 0, nil, 0
}

// startMonitor launches a fresh monitor loop.
func (h *daemonHost) startMonitor() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.startMonitorLocked()
}

func (h *daemonHost) startMonitorLocked() error {
	if h.monDone != nil {
		return errors.New("monitor already running")
	}
	ctx, cancel := context.WithCancel(h.ctx)
	mon := monitor.New(h.reg, h.m, h.fs, h.paths, h.cfg.Group, monitor.Options{
		Tick:       h.cfg.Tick(),
		ScanLines:  h.cfg.Monitor.ScanLines,
		Version:    version,
		Notifier:   h.notifier,
		Archiver:   h.archiver,
		Recorder:   h.rec,
		PeerStates: h.peers,
		Supervisor: h.supervisorStats,
		Log:        h.monLog,
	})
	done := make(chan struct{})
	h.monCancel, h.monDone = cancel, done

	// Forward ticks into the stable wake channel for as long as this
	// monitor instance lives.
	go func(wake <-chan struct{}) {
		for {
			select {
			case <-ctx.Done():
				return
			case <-wake:
				select {
				case h.hostWake <- struct{}{}:
				default:
				}
			}
		}
	}(mon.Wake())

	go func() {
		defer close(done)
		if err := mon.Run(ctx); err != nil {
			select {
			case h.monErr <- err:
			default:
			}
		}
	}()
	return nil
}

// stopMonitorLocked cancels the running monitor loop and waits for it.
func (h *daemonHost) stopMonitorLocked() error {
	if h.monDone == nil {
		return errors.New("monitor is not running")
	}
	h.monCancel()
	select {
	case <-h.monDone:
	case <-time.After(loopGrace):
		return errors.New("monitor did not stop in time")
	}
	h.monCancel, h.monDone = nil, nil
	return nil
}

// RestartMonitor implements api.DaemonControl: it winds down the
// current monitor loop and starts a fresh one.
func (h *daemonHost) RestartMonitor() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.stopMonitorLocked(); err != nil {
		return err
	}
	fmt.Fprintln(h.monLog, "monitor restarting") //nolint:errcheck // best-effort log
	return h.startMonitorLocked()
}

// startSupervisor launches the supervisor loop.
func (h *daemonHost) startSupervisor() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.startSupervisorLocked()
}

func (h *daemonHost) startSupervisorLocked() error {
	if h.supDone != nil {
		return errors.New("supervisor already running")
	}
	ctx, cancel := context.WithCancel(h.ctx)
	sup := supervisor.New(h.reg, h.m, h.cfg.Group, supervisor.Options{
		MinLaunchInterval: h.cfg.MinLaunchInterval(),
		Mission:           h.cfg.Supervisor.Mission,
		ActionPhrases:     h.cfg.Supervisor.ActionPhrases,
		NoActionPhrases:   h.cfg.Supervisor.NoActionPhrases,
		Command:           h.cfg.Agent.Command,
		Permissiveness:    state.Permissiveness(h.cfg.Agent.Permissiveness),
		Wake:              h.hostWake,
		Recorder:          h.rec,
		Log:               h.supLog,
	})
	done := make(chan struct{})
	h.supCancel, h.supDone = cancel, done
	h.supRef.Store(sup)

	go func() {
		defer close(done)
		if err := sup.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(h.supLog, "supervisor stopped: %v\n", err) //nolint:errcheck // best-effort log
		}
	}()
	return nil
}

// StartSupervisor implements api.DaemonControl.
func (h *daemonHost) StartSupervisor() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.startSupervisorLocked()
}

// StopSupervisor implements api.DaemonControl.
func (h *daemonHost) StopSupervisor() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.supDone == nil {
		return errors.New("supervisor is not running")
	}
	h.supCancel()
	select {
	case <-h.supDone:
	case <-time.After(loopGrace):
		return errors.New("supervisor did not stop in time")
	}
	h.supCancel, h.supDone = nil, nil
	return nil
}

// stopAll winds down both loops for daemon shutdown. Best-effort: a
// loop that overruns the grace period is abandoned to process exit.
func (h *daemonHost) stopAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.supDone != nil {
		h.supCancel()
		select {
		case <-h.supDone:
		case <-time.After(loopGrace):
			fmt.Fprintln(h.supLog, "supervisor did not stop in time") //nolint:errcheck // best-effort log
		}
		h.supCancel, h.supDone = nil, nil
	}
	if h.monDone != nil {
		h.monCancel()
		select {
		case <-h.monDone:
		case <-time.After(loopGrace):
			fmt.Fprintln(h.monLog, "monitor did not stop in time") //nolint:errcheck // best-effort log
		}
		h.monCancel, h.monDone = nil, nil
	}
}

// runDaemon is the body of "oc daemon run": one process hosting the
// monitor loop, the supervisor loop, the federation poller, and the
// web API. It blocks until a termination signal or a fatal monitor
// error.
func runDaemon(cfg config.Config, monLog, supLog io.Writer, stderr io.Writer) int {
	fs := fsys.OSFS{}
	paths := cfg.Paths()

	locks, err := acquireDaemonLocks(paths)
	if err != nil {
		fmt.Fprintf(stderr, "oc daemon run: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	defer locks.release()
	if err := writePIDFiles(paths); err != nil {
		fmt.Fprintf(stderr, "oc daemon run: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	defer removePIDFiles(paths)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry is a no-op without an OTLP endpoint configured.
	tel, err := telemetry.Init(ctx, "overcode", version)
	if err != nil {
		fmt.Fprintf(monLog, "telemetry disabled: %v\n", err) //nolint:errcheck // best-effort log
	}
	if tel != nil {
		defer func() {
			flushCtx, flushCancel := context.WithTimeout(context.Background(), loopGrace)
			defer flushCancel()
			tel.Shutdown(flushCtx) //nolint:errcheck // best-effort flush
		}()
	}
	telemetry.SetProcessOTELAttrs(cfg.Group)

	var rec events.Recorder = events.Discard
	if fileRec, err := events.NewFileRecorder(paths.Events(), stderr); err != nil {
		fmt.Fprintf(monLog, "event journal disabled: %v\n", err) //nolint:errcheck // best-effort log
	} else {
		rec = fileRec
		defer fileRec.Close() //nolint:errcheck // best-effort close
	}

	m, err := newMultiplexer(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "oc daemon run: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "local"
	}
	reg := registry.New(fs, m, paths, cfg.Group, hostname, cfg.Prices.Vector())
	if err := reg.Load(); err != nil {
		fmt.Fprintf(stderr, "oc daemon run: loading sessions: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	poller := federation.New(reg, cfg.Federation.Peers, federation.Options{
		Interval: cfg.PollInterval(),
		Recorder: rec,
		Log:      monLog,
	})
	go poller.Run(ctx) //nolint:errcheck // exits with ctx

	notifier := notify.New(cfg.Notify.Command, monLog)

	var archiver monitor.Archiver
	if cfg.Archive.DSN != "" {
		arch, err := archive.Open(ctx, cfg.Archive.DSN, cfg.Archive.Table)
		if err != nil {
			fmt.Fprintf(monLog, "archive disabled: %v\n", err) //nolint:errcheck // best-effort log
		} else {
			archiver = arch
			defer arch.Close() //nolint:errcheck // best-effort close
		}
	}

	host := newDaemonHost(ctx, cfg, paths, fs, m, reg, rec, poller.States, notifier, archiver, monLog, supLog)
	if err := host.startMonitor(); err != nil {
		fmt.Fprintf(stderr, "oc daemon run: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	if err := host.startSupervisor(); err != nil {
		fmt.Fprintf(stderr, "oc daemon run: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	hist := history.NewLog(fs, paths.History())
	srv := api.New(reg, m, fs, paths, hist, api.Options{
		Port:     cfg.Web.Port,
		APIKey:   cfg.Web.APIKey,
		Agent:    cfg.Agent,
		Control:  host,
		Recorder: rec,
		Log:      monLog,
	})
	port, err := srv.Listen()
	if err != nil {
		fmt.Fprintf(stderr, "oc daemon run: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	serveDone := make(chan error, 1)
	go func() { serveDone <- srv.Serve(ctx) }()

	fmt.Fprintf(monLog, "daemon started: group %s, web on 127.0.0.1:%d, tick %s\n",
		cfg.Group, port, cfg.Tick()) //nolint:errcheck // best-effort log
	rec.Record(events.Event{Type: events.DaemonStarted, Actor: "daemon", Subject: cfg.Group,
		Message: fmt.Sprintf("PID %d, web port %d", os.Getpid(), port)})

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigc)

	exit := 0
	served := false
loop:
	for {
		select {
		case s := <-sigc:
			if s == syscall.SIGHUP {
				reloadPeers(cfg, poller, monLog)
				continue
			}
			fmt.Fprintf(monLog, "received %s, shutting down\n", s) //nolint:errcheck // best-effort log
			break loop
		case err := <-host.monErr:
			fmt.Fprintf(stderr, "oc daemon run: monitor failed: %v\n", err) //nolint:errcheck // best-effort stderr
			exit = 1
			break loop
		case err := <-serveDone:
			served = true
			if err != nil {
				fmt.Fprintf(stderr, "oc daemon run: web server failed: %v\n", err) //nolint:errcheck // best-effort stderr
				exit = 1
			}
			break loop
		}
	}

	host.stopAll()
	cancel()
	if !served {
		select {
		case <-serveDone:
		case <-time.After(loopGrace):
		}
	}
	rec.Record(events.Event{Type: events.DaemonStopped, Actor: "daemon", Subject: cfg.Group})
	fmt.Fprintln(monLog, "daemon stopped") //nolint:errcheck // best-effort log
	return exit
}

// reloadPeers re-reads the config file and applies the federation peer
// list to the running poller. Everything else requires a restart.
func reloadPeers(cfg config.Config, poller *federation.Poller, log io.Writer) {
	fresh, err := config.Load(fsys.OSFS{}, filepath.Join(cfg.StateDir, config.Filename))
	if err != nil {
		fmt.Fprintf(log, "config reload failed: %v\n", err) //nolint:errcheck // best-effort log
		return
	}
	poller.SetPeers(fresh.Federation.Peers)
	fmt.Fprintf(log, "config reloaded: %d federation peers\n", len(fresh.Federation.Peers)) //nolint:errcheck // best-effort log
}
