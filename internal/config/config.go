// Package config loads and validates the daemon configuration from
// defaults, an optional YAML file, and BFDD_-prefixed environment
// variables, in that order of precedence.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/netrange/bfdd/internal/bfd"
	"github.com/netrange/bfdd/internal/ext"
)

// envPrefix is the environment variable prefix, e.g. BFDD_LOG_LEVEL.
const envPrefix = "BFDD_"

// koanf key delimiter.
const delim = "."

// Sentinel errors for configuration validation.
var (
	// ErrNoSessions indicates the configuration defines no sessions and
	// dynamic session creation is not enabled either.
	ErrNoSessions = errors.New("no sessions configured")

	// ErrPortNotPermitted indicates a non-default UDP port without the
	// specify-ports capability enabled.
	ErrPortNotPermitted = errors.New("non-default port requires specify-ports capability")

	// ErrPeerUnresolvable indicates a peer name that resolves to no
	// usable IPv4 address.
	ErrPeerUnresolvable = errors.New("peer address unresolvable")

	// ErrInvalidLogLevel indicates an unrecognized log level name.
	ErrInvalidLogLevel = errors.New("invalid log level")

	// ErrAuthNotPermitted indicates an auth_key without the
	// authentication capability enabled.
	ErrAuthNotPermitted = errors.New("auth_key requires authentication capability")
)

// SessionEntry is one configured session.
type SessionEntry struct {
	// Peer is the peer IPv4 address or resolvable host name.
	Peer string `koanf:"peer"`

	// PeerPort and LocalPort default to 3784. Non-default values require
	// the specify-ports capability.
	PeerPort  uint16 `koanf:"peer_port"`
	LocalPort uint16 `koanf:"local_port"`

	DetectMult    uint8         `koanf:"detect_mult"`
	DesiredMinTx  time.Duration `koanf:"desired_min_tx"`
	RequiredMinRx time.Duration `koanf:"required_min_rx"`
	DemandMode    bool          `koanf:"demand_mode"`
	AdminDown     bool          `koanf:"admin_down"`

	// AuthKeyID and AuthKey enable authenticated operation for this
	// session. Requires the authentication capability.
	AuthKeyID uint8  `koanf:"auth_key_id"`
	AuthKey   string `koanf:"auth_key"`
}

// MonitorConfig configures the monitoring HTTP server.
type MonitorConfig struct {
	// Listen is the HTTP listen address. Empty disables the server.
	Listen string `koanf:"listen"`
}

// Config is the full daemon configuration.
type Config struct {
	LogLevel string `koanf:"log_level"`

	// Extensions names the enabled capabilities.
	Extensions []string `koanf:"extensions"`

	Monitor MonitorConfig `koanf:"monitor"`

	Sessions []SessionEntry `koanf:"sessions"`

	// DynamicSessions supplies the parameter template for sessions
	// created from unmatched inbound packets. Only consulted when the
	// dynamic-sessions capability is enabled.
	DynamicSessions SessionEntry `koanf:"dynamic_sessions"`
}

// defaults is the base configuration layer.
var defaults = map[string]any{
	"log_level":      "info",
	"monitor.listen": "127.0.0.1:5780",
	"sessions":       []SessionEntry{},
	"extensions":     []string{},
}

// Load reads the configuration: defaults, then the YAML file at path (if
// path is nonempty), then BFDD_ environment variables. Returns the parsed
// but not yet validated configuration.
func Load(path string) (*Config, error) {
	k := koanf.New(delim)

	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return nil, fmt.Errorf("set default %q: %w", key, err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %q: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, delim, envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// envKeyMapper turns BFDD_MONITOR_LISTEN into monitor.listen. Only the
// first underscore after a known top-level section becomes a delimiter;
// remaining underscores stay, matching the koanf field tags.
func envKeyMapper(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	for _, section := range []string{"monitor"} {
		prefix := section + "_"
		if strings.HasPrefix(key, prefix) {
			return section + delim + strings.TrimPrefix(key, prefix)
		}
	}
	return key
}

// Session is a validated session ready for table registration: the engine
// configuration plus the resolved authentication material.
type Session struct {
	Engine bfd.SessionConfig

	// AuthKeyID and AuthKey are nonempty only for authenticated sessions.
	AuthKeyID uint8
	AuthKey   string
}

// Validate checks the configuration against the capability gate and
// resolves peer names. It returns the per-session configurations ready
// for table registration.
func (c *Config) Validate(ctx context.Context, gate *ext.Gate) ([]Session, error) {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return nil, err
	}

	if len(c.Sessions) == 0 && !gate.IsEnabled(ext.DynamicSessions) {
		return nil, ErrNoSessions
	}

	out := make([]Session, 0, len(c.Sessions))
	for i, entry := range c.Sessions {
		s, err := entry.toSession(ctx, gate)
		if err != nil {
			return nil, fmt.Errorf("session %d (%s): %w", i, entry.Peer, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// toSession validates one entry and resolves its peer address.
func (e SessionEntry) toSession(ctx context.Context, gate *ext.Gate) (Session, error) {
	var s Session

	if err := checkPorts(e.PeerPort, e.LocalPort, gate); err != nil {
		return s, err
	}
	if e.AuthKey != "" && !gate.IsEnabled(ext.Authentication) {
		return s, ErrAuthNotPermitted
	}

	addr, err := resolvePeer(ctx, e.Peer)
	if err != nil {
		return s, err
	}

	s = Session{
		Engine: bfd.SessionConfig{
			PeerAddr:      addr,
			PeerPort:      e.PeerPort,
			LocalPort:     e.LocalPort,
			DetectMult:    e.DetectMult,
			DesiredMinTx:  e.DesiredMinTx,
			RequiredMinRx: e.RequiredMinRx,
			DemandMode:    e.DemandMode,
			AdminDown:     e.AdminDown,
		},
		AuthKeyID: e.AuthKeyID,
		AuthKey:   e.AuthKey,
	}
	return s, nil
}

// checkPorts enforces the specify-ports capability for non-default ports.
func checkPorts(peerPort, localPort uint16, gate *ext.Gate) error {
	defaultish := func(p uint16) bool { return p == 0 || p == bfd.DefaultPort }
	if defaultish(peerPort) && defaultish(localPort) {
		return nil
	}
	if gate.IsEnabled(ext.SpecifyPorts) {
		return nil
	}
	return fmt.Errorf("peer_port=%d local_port=%d: %w", peerPort, localPort, ErrPortNotPermitted)
}

// resolvePeer parses name as an IP address, falling back to a DNS lookup.
// Only IPv4 results are accepted.
func resolvePeer(ctx context.Context, name string) (netip.Addr, error) {
	if name == "" {
		return netip.Addr{}, fmt.Errorf("empty peer: %w", ErrPeerUnresolvable)
	}

	if addr, err := netip.ParseAddr(name); err == nil {
		if !addr.Is4() && !addr.Is4In6() {
			return netip.Addr{}, fmt.Errorf("peer %q is not IPv4: %w", name, ErrPeerUnresolvable)
		}
		return addr.Unmap(), nil
	}

	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip4", name)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("resolve peer %q: %w", name, err)
	}
	for _, addr := range addrs {
		if addr.Is4() || addr.Is4In6() {
			return addr.Unmap(), nil
		}
	}
	return netip.Addr{}, fmt.Errorf("peer %q has no IPv4 address: %w", name, ErrPeerUnresolvable)
}

// DynamicTemplate converts the dynamic-session entry to an engine config
// template. The peer identity fields are filled per packet at runtime.
func (c *Config) DynamicTemplate() bfd.SessionConfig {
	e := c.DynamicSessions
	return bfd.SessionConfig{
		DetectMult:    e.DetectMult,
		DesiredMinTx:  e.DesiredMinTx,
		RequiredMinRx: e.RequiredMinRx,
		DemandMode:    e.DemandMode,
	}
}

// ParseLogLevel maps a level name to a slog.Level.
func ParseLogLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%q: %w", name, ErrInvalidLogLevel)
	}
}
