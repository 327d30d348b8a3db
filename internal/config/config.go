// Package config manages godot1x daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete godot1x configuration.
type Config struct {
	API           APIConfig           `koanf:"api"`
	Metrics       MetricsConfig       `koanf:"metrics"`
	Log           LogConfig           `koanf:"log"`
	Authenticator AuthenticatorConfig `koanf:"authenticator"`
	Supplicant    SupplicantConfig    `koanf:"supplicant"`
	OVS           OVSConfig           `koanf:"ovs"`
}

// APIConfig holds the management HTTP API configuration.
type APIConfig struct {
	// Addr is the HTTP listen address (e.g., ":50051").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// RadiusConfig describes the AAA server for the authenticator role.
type RadiusConfig struct {
	// Server is the RADIUS server "host:port"; port defaults to 1812
	// when omitted.
	Server string `koanf:"server"`

	// Secret is the shared secret (≤ 64 octets).
	Secret string `koanf:"secret"`

	// SourceAddress is the NAS source IP used for NAS-IP-Address /
	// NAS-IPv6-Address selection; empty lets the kernel choose.
	SourceAddress string `koanf:"source_address"`

	// TimeoutSeconds is the Access-Request retransmission interval.
	TimeoutSeconds uint32 `koanf:"timeout_seconds"`

	// MaxRetrans is the Access-Request retransmission limit.
	MaxRetrans int `koanf:"max_retrans"`
}

// PortDefaults seeds every controlled port's managed parameters
// (IEEE Std 802.1X-2004 Section 9.4.1 defaults when zero).
type PortDefaults struct {
	// PortControl is "auto", "force_authorized" or "force_unauthorized".
	PortControl string `koanf:"port_control"`

	QuietPeriod   uint32 `koanf:"quiet_period"`
	ReAuthPeriod  uint32 `koanf:"reauth_period"`
	ReAuthEnabled bool   `koanf:"reauth_enabled"`
	ServerTimeout uint32 `koanf:"server_timeout"`
	MaxRetrans    int    `koanf:"max_retrans"`
	KeyTxEnabled  bool   `koanf:"key_tx_enabled"`
}

// AuthenticatorConfig holds the authenticator role configuration.
type AuthenticatorConfig struct {
	// Enabled turns the authenticator role on.
	Enabled bool `koanf:"enabled"`

	// Interfaces lists one network interface per controlled port, in
	// port order (port 1 first).
	Interfaces []string `koanf:"interfaces"`

	// Radius is the AAA server; an empty server runs without RADIUS.
	Radius RadiusConfig `koanf:"radius"`

	// FramedMTU is the EAP fragment budget advertised to the server.
	FramedMTU int `koanf:"framed_mtu"`

	// Ports seeds the per-port managed parameters.
	Ports PortDefaults `koanf:"ports"`
}

// EAPTLSConfig holds the supplicant EAP-TLS credentials.
type EAPTLSConfig struct {
	// CAFile is the PEM bundle of trusted server roots.
	CAFile string `koanf:"ca_file"`

	// CertFile and KeyFile are the client certificate pair.
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`

	// ServerName pins the expected server certificate name; empty
	// disables name verification (certificate chain is still checked).
	ServerName string `koanf:"server_name"`
}

// SupplicantConfig holds the supplicant role configuration.
type SupplicantConfig struct {
	// Enabled turns the supplicant role on.
	Enabled bool `koanf:"enabled"`

	// Interface is the network interface to authenticate on.
	Interface string `koanf:"interface"`

	// Identity is the EAP identity.
	Identity string `koanf:"identity"`

	// Password is the MD5-Challenge secret.
	Password string `koanf:"password"`

	// Methods lists the allowed EAP methods in preference order:
	// "md5", "tls". Identity is always handled.
	Methods []string `koanf:"methods"`

	// EAPTLS configures the TLS credentials when "tls" is listed.
	EAPTLS EAPTLSConfig `koanf:"eap_tls"`

	// HeldPeriod, StartPeriod, MaxStart and AuthPeriod tune the PAE
	// timers; zero selects the standard defaults.
	HeldPeriod  uint32 `koanf:"held_period"`
	StartPeriod uint32 `koanf:"start_period"`
	MaxStart    int    `koanf:"max_start"`
	AuthPeriod  uint32 `koanf:"auth_period"`
}

// OVSConfig holds the optional OVS switch driver configuration.
type OVSConfig struct {
	// Enabled turns the OVS driver on.
	Enabled bool `koanf:"enabled"`

	// Endpoint is the OVSDB endpoint (e.g., "unix:/run/openvswitch/db.sock").
	Endpoint string `koanf:"endpoint"`

	// Bridge is the OVS bridge holding the controlled ports.
	Bridge string `koanf:"bridge"`
}

// ServerAddr parses the RADIUS server address, applying the default
// port 1812 when none is given.
func (rc RadiusConfig) ServerAddr() (netip.AddrPort, error) {
	if rc.Server == "" {
		return netip.AddrPort{}, nil
	}
	if ap, err := netip.ParseAddrPort(rc.Server); err == nil {
		return ap, nil
	}
	addr, err := netip.ParseAddr(rc.Server)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("parse radius server %q: %w", rc.Server, err)
	}
	return netip.AddrPortFrom(addr, defaultRadiusPort), nil
}

// SourceAddr parses the NAS source address; empty yields the zero Addr.
func (rc RadiusConfig) SourceAddr() (netip.Addr, error) {
	if rc.SourceAddress == "" {
		return netip.Addr{}, nil
	}
	addr, err := netip.ParseAddr(rc.SourceAddress)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("parse radius source %q: %w", rc.SourceAddress, err)
	}
	return addr, nil
}

// defaultRadiusPort is the RADIUS authentication port (RFC 2865).
const defaultRadiusPort = 1812

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
//
// Port parameter defaults follow IEEE Std 802.1X-2004 Section 9.4.1:
// quietPeriod 60 s, reAuthPeriod 3600 s, serverTimeout 30 s.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			Addr: ":50051",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Authenticator: AuthenticatorConfig{
			Radius: RadiusConfig{
				TimeoutSeconds: 5,
				MaxRetrans:     4,
			},
			FramedMTU: 1400,
			Ports: PortDefaults{
				PortControl:   "auto",
				QuietPeriod:   60,
				ReAuthPeriod:  3600,
				ServerTimeout: 30,
				MaxRetrans:    4,
			},
		},
		Supplicant: SupplicantConfig{
			Methods: []string{"md5"},
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for godot1x configuration.
// Variables are named GODOT1X_<section>_<key>, e.g., GODOT1X_API_ADDR.
const envPrefix = "GODOT1X_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (GODOT1X_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	GODOT1X_API_ADDR     -> api.addr
//	GODOT1X_METRICS_ADDR -> metrics.addr
//	GODOT1X_LOG_LEVEL    -> log.level
//	GODOT1X_LOG_FORMAT   -> log.format
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	// Environment variable overrides on top of YAML.
	// GODOT1X_API_ADDR -> api.addr (strip prefix, lowercase, _ -> .).
	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms GODOT1X_API_ADDR -> api.addr.
// Strips the GODOT1X_ prefix, lowercases, and replaces _ with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"api.addr":                             defaults.API.Addr,
		"metrics.addr":                         defaults.Metrics.Addr,
		"metrics.path":                         defaults.Metrics.Path,
		"log.level":                            defaults.Log.Level,
		"log.format":                           defaults.Log.Format,
		"authenticator.radius.timeout_seconds": defaults.Authenticator.Radius.TimeoutSeconds,
		"authenticator.radius.max_retrans":     defaults.Authenticator.Radius.MaxRetrans,
		"authenticator.framed_mtu":             defaults.Authenticator.FramedMTU,
		"authenticator.ports.port_control":     defaults.Authenticator.Ports.PortControl,
		"authenticator.ports.quiet_period":     defaults.Authenticator.Ports.QuietPeriod,
		"authenticator.ports.reauth_period":    defaults.Authenticator.Ports.ReAuthPeriod,
		"authenticator.ports.server_timeout":   defaults.Authenticator.Ports.ServerTimeout,
		"authenticator.ports.max_retrans":      defaults.Authenticator.Ports.MaxRetrans,
		"supplicant.methods":                   defaults.Supplicant.Methods,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyAPIAddr indicates the API listen address is empty.
	ErrEmptyAPIAddr = errors.New("api.addr must not be empty")

	// ErrNoRole indicates neither role is enabled.
	ErrNoRole = errors.New("neither authenticator nor supplicant is enabled")

	// ErrNoInterfaces indicates an enabled authenticator without ports.
	ErrNoInterfaces = errors.New("authenticator.interfaces must not be empty")

	// ErrNoSecret indicates a RADIUS server without a shared secret.
	ErrNoSecret = errors.New("authenticator.radius.secret must not be empty")

	// ErrSecretTooLong indicates a shared secret beyond 64 octets.
	ErrSecretTooLong = errors.New("authenticator.radius.secret exceeds 64 octets")

	// ErrInvalidPortControl indicates an unrecognized port control string.
	ErrInvalidPortControl = errors.New("port_control must be auto, force_authorized or force_unauthorized")

	// ErrQuietPeriodRange indicates quiet_period outside 0..65535.
	ErrQuietPeriodRange = errors.New("quiet_period must be <= 65535")

	// ErrReAuthPeriodRange indicates reauth_period outside 10..86400.
	ErrReAuthPeriodRange = errors.New("reauth_period must be within 10..86400")

	// ErrServerTimeoutRange indicates server_timeout outside 1..3600.
	ErrServerTimeoutRange = errors.New("server_timeout must be within 1..3600")

	// ErrNoSupplicantInterface indicates an enabled supplicant without
	// an interface.
	ErrNoSupplicantInterface = errors.New("supplicant.interface must not be empty")

	// ErrNoIdentity indicates an enabled supplicant without an identity.
	ErrNoIdentity = errors.New("supplicant.identity must not be empty")

	// ErrUnknownMethod indicates an unrecognized supplicant method.
	ErrUnknownMethod = errors.New("supplicant method must be md5 or tls")
)

// ValidPortControls lists the recognized port control strings.
var ValidPortControls = map[string]bool{
	"auto":               true,
	"force_authorized":   true,
	"force_unauthorized": true,
}

// ValidMethods lists the recognized supplicant method strings.
var ValidMethods = map[string]bool{
	"md5": true,
	"tls": true,
}

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.API.Addr == "" {
		return ErrEmptyAPIAddr
	}
	if !cfg.Authenticator.Enabled && !cfg.Supplicant.Enabled {
		return ErrNoRole
	}

	if cfg.Authenticator.Enabled {
		if err := validateAuthenticator(&cfg.Authenticator); err != nil {
			return err
		}
	}
	if cfg.Supplicant.Enabled {
		if err := validateSupplicant(&cfg.Supplicant); err != nil {
			return err
		}
	}

	return nil
}

// validateAuthenticator checks the authenticator role section.
func validateAuthenticator(ac *AuthenticatorConfig) error {
	if len(ac.Interfaces) == 0 {
		return ErrNoInterfaces
	}

	if ac.Radius.Server != "" {
		if ac.Radius.Secret == "" {
			return ErrNoSecret
		}
		if len(ac.Radius.Secret) > 64 {
			return ErrSecretTooLong
		}
		if _, err := ac.Radius.ServerAddr(); err != nil {
			return err
		}
		if _, err := ac.Radius.SourceAddr(); err != nil {
			return err
		}
	}

	p := ac.Ports
	if p.PortControl != "" && !ValidPortControls[p.PortControl] {
		return fmt.Errorf("port_control %q: %w", p.PortControl, ErrInvalidPortControl)
	}
	if p.QuietPeriod > 65535 {
		return fmt.Errorf("quiet_period %d: %w", p.QuietPeriod, ErrQuietPeriodRange)
	}
	if p.ReAuthPeriod != 0 && (p.ReAuthPeriod < 10 || p.ReAuthPeriod > 86400) {
		return fmt.Errorf("reauth_period %d: %w", p.ReAuthPeriod, ErrReAuthPeriodRange)
	}
	if p.ServerTimeout != 0 && (p.ServerTimeout < 1 || p.ServerTimeout > 3600) {
		return fmt.Errorf("server_timeout %d: %w", p.ServerTimeout, ErrServerTimeoutRange)
	}

	return nil
}

// validateSupplicant checks the supplicant role section.
func validateSupplicant(sc *SupplicantConfig) error {
	if sc.Interface == "" {
		return ErrNoSupplicantInterface
	}
	if sc.Identity == "" {
		return ErrNoIdentity
	}
	for _, m := range sc.Methods {
		if !ValidMethods[strings.ToLower(m)] {
			return fmt.Errorf("method %q: %w", m, ErrUnknownMethod)
		}
	}
	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
