// Command bfdd is the BFD daemon: it loads the configured sessions,
// runs the protocol engine on a single event loop, and serves the
// monitoring API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/netrange/bfdd/internal/bfd"
	"github.com/netrange/bfdd/internal/config"
	"github.com/netrange/bfdd/internal/ext"
	"github.com/netrange/bfdd/internal/metrics"
	"github.com/netrange/bfdd/internal/monitor"
	"github.com/netrange/bfdd/internal/netio"
	"github.com/netrange/bfdd/internal/sched"
	"github.com/netrange/bfdd/internal/version"
)

// drainDelay gives the final AdminDown packets time to leave the host
// before the sockets close.
const drainDelay = 250 * time.Millisecond

// startupTimeout bounds config loading and peer name resolution.
const startupTimeout = 30 * time.Second

func main() {
	os.Exit(run())
}

// run builds and executes the root command. Any startup failure is fatal
// with exit code 1; once running, the daemon only exits on signal.
func run() int {
	var (
		configPath  string
		monitorAddr string
		logLevel    string
		extensions  []string
	)

	root := &cobra.Command{
		Use:           "bfdd",
		Short:         "BFD failure detection daemon",
		Version:       fmt.Sprintf("%s (%s)", version.Version, version.Commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), configPath, monitorAddr, logLevel, extensions)
		},
	}

	root.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML configuration file")
	root.Flags().StringVar(&monitorAddr, "monitor-addr", "", "monitor listen address (overrides config)")
	root.Flags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	root.Flags().StringArrayVarP(&extensions, "extension", "x", nil, "enable a named extension capability (repeatable)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		slog.Error("fatal", "error", err)
		return 1
	}
	return 0
}

// runDaemon wires the daemon together and runs it until ctx is canceled.
func runDaemon(ctx context.Context, configPath, monitorAddr, logLevel string, extraExtensions []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if monitorAddr != "" {
		cfg.Monitor.Listen = monitorAddr
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	levelVar := new(slog.LevelVar)
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	levelVar.Set(level)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(logger)

	gate, err := ext.NewGate(append(cfg.Extensions, extraExtensions...)...)
	if err != nil {
		return err
	}
	if caps := gate.Enabled(); len(caps) > 0 {
		logger.Info("extensions enabled", "capabilities", caps)
	}

	startupCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()
	sessionCfgs, err := cfg.Validate(startupCtx, gate)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	coll := metrics.NewCollector(reg)

	loop := sched.New(sched.WithLogger(logger))
	mux := netio.NewMux(logger)

	tableOpts := []bfd.TableOption{
		bfd.WithTableLogger(logger),
		bfd.WithStateObserver(coll.ObserveStateChange),
		bfd.WithDiscardCounter(coll.ObserveDiscard),
	}
	if gate.IsEnabled(ext.DynamicSessions) {
		tableOpts = append(tableOpts, bfd.WithDynamicSessions(cfg.DynamicTemplate()))
	}
	table := bfd.NewTable(loop, mux, tableOpts...)

	// One socket per local port in use. Dynamic sessions arrive on the
	// well-known port.
	ports := map[uint16]struct{}{}
	for _, sc := range sessionCfgs {
		port := sc.Engine.LocalPort
		if port == 0 {
			port = bfd.DefaultPort
		}
		ports[port] = struct{}{}
	}
	if gate.IsEnabled(ext.DynamicSessions) {
		ports[bfd.DefaultPort] = struct{}{}
	}
	for port := range ports {
		if err := mux.Ensure(startupCtx, port); err != nil {
			return err
		}
	}

	for _, sc := range sessionCfgs {
		var opts []bfd.SessionOption
		if sc.AuthKey != "" {
			opts = append(opts, bfd.WithAuthenticator(
				bfd.NewSHA256Authenticator(sc.AuthKeyID, []byte(sc.AuthKey))))
		}
		if _, err := table.Add(sc.Engine, opts...); err != nil {
			return err
		}
	}
	sessionCount := table.Len()
	coll.SetSessionCount(sessionCount)

	// Broadcast administrative actions ride the same event queue as
	// packets and timers, so they never interleave with a transition.
	loop.OnSignal(syscall.SIGUSR1, table.ForcePollAll)
	loop.OnSignal(syscall.SIGUSR2, table.ToggleAdminDownAll)

	snapshots := func(ctx context.Context) ([]bfd.SessionSnapshot, error) {
		var snaps []bfd.SessionSnapshot
		if err := loop.Call(func() { snaps = table.Snapshots() }); err != nil {
			return nil, err
		}
		coll.SetSessionCount(len(snaps))
		return snaps, nil
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	g, runCtx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		return loop.Run(runCtx)
	})

	g.Go(func() error {
		return mux.Run(runCtx, func(peer netip.AddrPort, data []byte) {
			// The read buffer is reused; the loop runs the handler later.
			pkt := make([]byte, len(data))
			copy(pkt, data)
			if err := loop.Post(func() { table.HandleDatagram(peer, pkt) }); err != nil {
				logger.Debug("dropping datagram, loop closed", "peer", peer.String())
			}
		})
	})

	if cfg.Monitor.Listen != "" {
		mon := monitor.New(cfg.Monitor.Listen, snapshots, reg, logger)
		g.Go(func() error {
			return mon.Run(runCtx)
		})
	}

	g.Go(func() error {
		return watchdog(runCtx, loop)
	})

	// Shutdown: drain by taking every session AdminDown so peers learn of
	// the exit, then stop the loop and sockets.
	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-runCtx.Done():
			return nil
		}
		daemon.SdNotify(false, daemon.SdNotifyStopping)
		logger.Info("shutting down, draining sessions")
		if err := loop.Call(table.SetAdminDownAll); err == nil {
			time.Sleep(drainDelay)
		}
		cancelRun()
		return nil
	})

	daemon.SdNotify(false, daemon.SdNotifyReady)
	logger.Info("bfdd started",
		"version", version.Version,
		"sessions", sessionCount,
		"monitor", cfg.Monitor.Listen,
	)

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// watchdog pets the systemd watchdog, proving the event loop is alive by
// round-tripping through it.
func watchdog(ctx context.Context, loop *sched.Loop) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return nil
	}

	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := loop.Call(func() {}); err != nil {
				return nil
			}
			daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
