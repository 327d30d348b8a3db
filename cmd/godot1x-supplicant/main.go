// godot1x-supplicant -- IEEE 802.1X supplicant agent for one interface.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/godot1x/internal/config"
	"github.com/dantte-lp/godot1x/internal/dot1x"
	"github.com/dantte-lp/godot1x/internal/eap"
	"github.com/dantte-lp/godot1x/internal/netio"
	appversion "github.com/dantte-lp/godot1x/internal/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(appversion.Full("godot1x-supplicant"))
		return 0
	}

	errLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cfg, err := config.Load(*configPath)
	if err != nil {
		errLogger.Error("failed to load configuration", slog.String("error", err.Error()))
		return 1
	}
	if !cfg.Supplicant.Enabled {
		errLogger.Error("supplicant role is not enabled in the configuration")
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLogger(cfg.Log, logLevel)

	logger.Info("godot1x-supplicant starting",
		slog.String("version", appversion.Version),
		slog.String("interface", cfg.Supplicant.Interface),
		slog.String("identity", cfg.Supplicant.Identity),
	)

	if err := runSupplicant(cfg, logger); err != nil {
		logger.Error("godot1x-supplicant exited with error", slog.String("error", err.Error()))
		return 1
	}
	logger.Info("godot1x-supplicant stopped")
	return 0
}

// runSupplicant wires the endpoint and the supplicant context and runs
// until a termination signal.
func runSupplicant(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sc := cfg.Supplicant

	l2, err := netio.NewLinuxEAPOLConn([]string{sc.Interface})
	if err != nil {
		return fmt.Errorf("create EAPOL endpoint: %w", err)
	}

	mac, err := netio.InterfaceMAC(sc.Interface)
	if err != nil {
		l2.Close()
		return fmt.Errorf("interface %q: %w", sc.Interface, err)
	}

	methods, err := buildMethods(sc, logger)
	if err != nil {
		l2.Close()
		return err
	}

	sup := dot1x.NewSupplicant(dot1x.SupplicantConfig{
		InterfaceMAC: mac,
		Peer: eap.PeerConfig{
			Identity:    sc.Identity,
			Methods:     methods,
			AllowCanned: true,
		},
		Params: dot1x.SupplicantParams{
			HeldPeriod:  sc.HeldPeriod,
			StartPeriod: sc.StartPeriod,
			MaxStart:    sc.MaxStart,
			AuthPeriod:  sc.AuthPeriod,
		},
	}, l2, logger)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sup.Run(gCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("supplicant: %w", err)
		}
		return nil
	})

	// Log state transitions at info level; the supplicant has no API
	// surface of its own.
	g.Go(func() error {
		for {
			select {
			case <-gCtx.Done():
				return nil
			case ev := <-sup.StateChanges():
				logger.Info("state transition",
					slog.String("machine", ev.Machine),
					slog.String("from", ev.OldState),
					slog.String("to", ev.NewState),
					slog.Bool("authorized", ev.Authorized),
				)
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildMethods assembles the configured EAP peer methods in preference
// order.
func buildMethods(sc config.SupplicantConfig, logger *slog.Logger) ([]eap.PeerMethod, error) {
	var methods []eap.PeerMethod
	for _, name := range sc.Methods {
		switch strings.ToLower(name) {
		case "md5":
			methods = append(methods, &eap.MD5Method{Secret: []byte(sc.Password)})
		case "tls":
			tlsCfg, err := buildTLSConfig(sc.EAPTLS)
			if err != nil {
				return nil, err
			}
			methods = append(methods, eap.NewTLSMethod(eap.TLSMethodConfig{
				TLS:    tlsCfg,
				Logger: logger,
			}))
		default:
			return nil, fmt.Errorf("method %q: %w", name, config.ErrUnknownMethod)
		}
	}
	return methods, nil
}

// buildTLSConfig loads the EAP-TLS credentials.
func buildTLSConfig(tc config.EAPTLSConfig) (*tls.Config, error) {
	out := &tls.Config{
		ServerName: tc.ServerName,
	}
	if tc.ServerName == "" {
		// EAP-TLS servers are commonly addressed without a DNS name;
		// chain verification still applies through the custom verifier.
		out.InsecureSkipVerify = true
		out.VerifyPeerCertificate = verifyChainOnly(&out.RootCAs)
	}

	if tc.CAFile != "" {
		pem, err := os.ReadFile(tc.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("CA file %q: no certificates found", tc.CAFile)
		}
		out.RootCAs = pool
	}

	if tc.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(tc.CertFile, tc.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		out.Certificates = []tls.Certificate{cert}
	}

	return out, nil
}

// verifyChainOnly validates the server chain against the configured
// roots without hostname verification (RFC 5216 Section 5.2: the server
// identity is usually pinned by CA, not by name).
func verifyChainOnly(roots **x509.CertPool) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return errors.New("server presented no certificate")
		}
		certs := make([]*x509.Certificate, 0, len(rawCerts))
		for _, raw := range rawCerts {
			c, err := x509.ParseCertificate(raw)
			if err != nil {
				return fmt.Errorf("parse server certificate: %w", err)
			}
			certs = append(certs, c)
		}
		opts := x509.VerifyOptions{
			Roots:         *roots,
			Intermediates: x509.NewCertPool(),
			KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		}
		for _, c := range certs[1:] {
			opts.Intermediates.AddCert(c)
		}
		_, err := certs[0].Verify(opts)
		return err
	}
}

// newLogger builds the agent logger.
func newLogger(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
