// godot1x daemon -- IEEE 802.1X authenticator with RADIUS pass-through.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/godot1x/internal/config"
	"github.com/dantte-lp/godot1x/internal/dot1x"
	dot1xmetrics "github.com/dantte-lp/godot1x/internal/metrics"
	"github.com/dantte-lp/godot1x/internal/netio"
	"github.com/dantte-lp/godot1x/internal/ovs"
	"github.com/dantte-lp/godot1x/internal/server"
	appversion "github.com/dantte-lp/godot1x/internal/version"
)

// shutdownTimeout is the maximum time to wait for HTTP servers to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// quarantineVLANDefault is the OVS quarantine VLAN when none is
// configured.
const quarantineVLANDefault = 999

func main() {
	os.Exit(run())
}

func run() int {
	// 1. Parse flags.
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(appversion.Full("godot1x"))
		return 0
	}

	// 2. Load config.
	cfg, err := config.Load(*configPath)
	if err != nil {
		// Logger is not set up yet; use a temporary stderr logger.
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}
	if !cfg.Authenticator.Enabled {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error(
			"authenticator role is not enabled; use godot1x-supplicant for the supplicant role")
		return 1
	}

	// 3. Set up logger with dynamic level support for SIGHUP reload.
	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("godot1x starting",
		slog.String("version", appversion.Version),
		slog.String("api_addr", cfg.API.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
		slog.Int("ports", len(cfg.Authenticator.Interfaces)),
	)

	// 4. Create Prometheus metrics collector.
	reg := prometheus.NewRegistry()
	collector := dot1xmetrics.NewCollector(reg)

	// 5. Run everything under a signal-aware errgroup.
	if err := runDaemon(cfg, reg, collector, logger, *configPath, logLevel); err != nil {
		logger.Error("godot1x exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("godot1x stopped")
	return 0
}

// runDaemon wires the endpoints, the authenticator context and the HTTP
// servers, then blocks until a termination signal.
func runDaemon(
	cfg *config.Config,
	reg *prometheus.Registry,
	collector *dot1xmetrics.Collector,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// EAPOL endpoint: one AF_PACKET socket per controlled port.
	l2, err := netio.NewLinuxEAPOLConn(cfg.Authenticator.Interfaces)
	if err != nil {
		return fmt.Errorf("create EAPOL endpoint: %w", err)
	}

	// RADIUS endpoint, if a server is configured.
	authCfg, radiusEP, err := buildAuthenticatorConfig(cfg)
	if err != nil {
		l2.Close()
		return err
	}

	opts := []dot1x.AuthenticatorOption{dot1x.WithMetrics(collector)}

	// Optional OVS switch driver.
	var ovsDriver *ovs.Driver
	if cfg.OVS.Enabled {
		ovsDriver, err = newOVSDriver(ctx, cfg, logger)
		if err != nil {
			l2.Close()
			return fmt.Errorf("create OVS driver: %w", err)
		}
		defer ovsDriver.Close()
		opts = append(opts, dot1x.WithSwitchDriver(ovsDriver))
	}

	auth, err := dot1x.NewAuthenticator(authCfg, l2, radiusEP, logger, opts...)
	if err != nil {
		l2.Close()
		return fmt.Errorf("create authenticator: %w", err)
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Engine goroutine.
	g.Go(func() error {
		if err := auth.Run(gCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("authenticator: %w", err)
		}
		return nil
	})

	// Management API server (h2c so HTTP/2 clients work over plaintext).
	apiHandler, apiSrv := newAPIServer(cfg.API, auth, logger)
	metricsSrv := newMetricsServer(cfg.Metrics, reg)

	// Event pump: fans engine state changes out to API subscribers.
	g.Go(func() error {
		apiHandler.PumpEvents(gCtx.Done())
		return nil
	})

	lc := net.ListenConfig{}
	g.Go(func() error {
		logger.Info("API server listening", slog.String("addr", cfg.API.Addr))
		return listenAndServe(gCtx, &lc, apiSrv, cfg.API.Addr)
	})
	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(gCtx, &lc, metricsSrv, cfg.Metrics.Addr)
	})

	// systemd watchdog and SIGHUP reload.
	g.Go(func() error { return runWatchdog(gCtx, logger) })
	startSIGHUPReload(gCtx, g, configPath, logLevel, logger)

	notifyReady(logger)

	// Shutdown goroutine: waits for context cancellation.
	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, logger, apiSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run daemon: %w", err)
	}
	return nil
}

// buildAuthenticatorConfig maps the file configuration onto the engine
// configuration and opens the RADIUS endpoint when a server is set.
func buildAuthenticatorConfig(cfg *config.Config) (dot1x.AuthenticatorConfig, dot1x.AAAEndpoint, error) {
	ac := cfg.Authenticator

	baseMAC, err := netio.InterfaceMAC(ac.Interfaces[0])
	if err != nil {
		return dot1x.AuthenticatorConfig{}, nil, fmt.Errorf("interface %q: %w", ac.Interfaces[0], err)
	}

	out := dot1x.AuthenticatorConfig{
		NumPorts:         len(ac.Interfaces),
		InterfaceName:    ac.Interfaces[0],
		BaseMAC:          baseMAC,
		FramedMTU:        ac.FramedMTU,
		RadiusTimeout:    ac.Radius.TimeoutSeconds,
		RadiusMaxRetrans: ac.Radius.MaxRetrans,
		PortParams:       portParamsFromConfig(ac.Ports),
	}

	if ac.Radius.Server == "" {
		return out, nil, nil
	}

	serverAddr, err := ac.Radius.ServerAddr()
	if err != nil {
		return dot1x.AuthenticatorConfig{}, nil, err
	}
	sourceAddr, err := ac.Radius.SourceAddr()
	if err != nil {
		return dot1x.AuthenticatorConfig{}, nil, err
	}
	out.Server = &dot1x.ServerConfig{
		Addr:       serverAddr,
		Secret:     []byte(ac.Radius.Secret),
		SourceAddr: sourceAddr,
	}

	ep, err := netio.NewRadiusConn(netip.AddrPort{})
	if err != nil {
		return dot1x.AuthenticatorConfig{}, nil, fmt.Errorf("create RADIUS endpoint: %w", err)
	}
	return out, ep, nil
}

// portParamsFromConfig maps the config port defaults onto engine
// parameters, filling zeros with the Section 9.4.1 defaults.
func portParamsFromConfig(pd config.PortDefaults) dot1x.PortParams {
	params := dot1x.DefaultPortParams()
	switch pd.PortControl {
	case "force_authorized":
		params.PortControl = dot1x.ControlForceAuthorized
	case "force_unauthorized":
		params.PortControl = dot1x.ControlForceUnauthorized
	}
	if pd.QuietPeriod != 0 {
		params.QuietPeriod = pd.QuietPeriod
	}
	if pd.ReAuthPeriod != 0 {
		params.ReAuthPeriod = pd.ReAuthPeriod
	}
	params.ReAuthEnabled = pd.ReAuthEnabled
	if pd.ServerTimeout != 0 {
		params.ServerTimeout = pd.ServerTimeout
	}
	if pd.MaxRetrans != 0 {
		params.MaxRetrans = pd.MaxRetrans
	}
	params.KeyTxEnabled = pd.KeyTxEnabled
	return params
}

// newOVSDriver connects the OVS switch driver.
func newOVSDriver(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*ovs.Driver, error) {
	cl, err := ovs.NewOVSDBClient(ctx, ovs.OVSDBClientConfig{
		Endpoint:       cfg.OVS.Endpoint,
		QuarantineVLAN: quarantineVLANDefault,
		ConnectTimeout: 10 * time.Second,
	}, logger)
	if err != nil {
		return nil, err
	}
	return ovs.NewDriver(cl, ovs.DriverConfig{
		PortNames: cfg.Authenticator.Interfaces,
		Dampening: ovs.DefaultDampeningConfig(),
	}, logger), nil
}

// newAPIServer creates the management API HTTP server.
func newAPIServer(
	cfg config.APIConfig,
	auth *dot1x.Authenticator,
	logger *slog.Logger,
) (*server.Server, *http.Server) {
	srv, handler := server.New(auth, logger)
	return srv, &http.Server{
		Addr:              cfg.Addr,
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// newMetricsServer creates an HTTP server for the Prometheus metrics
// endpoint.
func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// listenAndServe serves HTTP until the server is shut down.
func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

// gracefulShutdown drains the HTTP servers within the shutdown budget.
func gracefulShutdown(ctx context.Context, logger *slog.Logger, servers ...*http.Server) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil && shutdownErr == nil {
			shutdownErr = fmt.Errorf("shutdown HTTP server: %w", err)
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Systemd Integration — sd_notify + watchdog
// -------------------------------------------------------------------------

// notifyReady sends READY=1 to systemd, indicating the daemon has
// completed initialization and is ready to serve.
func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

// notifyStopping sends STOPPING=1 to systemd.
func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd. If the
// watchdog is not configured, the goroutine exits immediately.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive",
					slog.String("error", wdErr.Error()))
			}
		}
	}
}

// -------------------------------------------------------------------------
// SIGHUP Reload — log level
// -------------------------------------------------------------------------

// startSIGHUPReload registers the SIGHUP goroutine. A reload refreshes
// the dynamic log level; port parameter changes go through the
// management API, which re-runs the machines on commit.
func startSIGHUPReload(
	ctx context.Context,
	g *errgroup.Group,
	configPath string,
	logLevel *slog.LevelVar,
	logger *slog.Logger,
) {
	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-sigHUP:
				logger.Info("received SIGHUP, reloading configuration")
				newCfg, err := config.Load(configPath)
				if err != nil {
					logger.Error("failed to reload configuration, keeping current settings",
						slog.String("error", err.Error()))
					continue
				}
				oldLevel := logLevel.Level()
				newLevel := config.ParseLogLevel(newCfg.Log.Level)
				logLevel.Set(newLevel)
				logger.Info("configuration reloaded",
					slog.String("old_log_level", oldLevel.String()),
					slog.String("new_log_level", newLevel.String()),
				)
			}
		}
	})
}

// -------------------------------------------------------------------------
// Logger construction
// -------------------------------------------------------------------------

// newLoggerWithLevel builds the daemon logger honoring the configured
// format and the dynamic level variable.
func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
