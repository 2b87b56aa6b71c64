package config_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/netrange/bfdd/internal/bfd"
	"github.com/netrange/bfdd/internal/config"
	"github.com/netrange/bfdd/internal/ext"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bfdd.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// writeFixture marshals v to YAML and writes it as a config file, for
// tests that build their configuration programmatically.
func writeFixture(t *testing.T, v any) string {
	t.Helper()
	data, err := yaml.Marshal(v)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	return writeConfig(t, string(data))
}

func mustGate(t *testing.T, names ...string) *ext.Gate {
	t.Helper()
	gate, err := ext.NewGate(names...)
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	return gate
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log level = %q, want info", cfg.LogLevel)
	}
	if cfg.Monitor.Listen != "127.0.0.1:5780" {
		t.Errorf("monitor listen = %q, want default", cfg.Monitor.Listen)
	}
	if len(cfg.Sessions) != 0 {
		t.Errorf("sessions = %d, want 0", len(cfg.Sessions))
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
monitor:
  listen: "127.0.0.1:9999"
extensions:
  - specify-ports
sessions:
  - peer: 192.0.2.1
    detect_mult: 5
    desired_min_tx: 250ms
    required_min_rx: 500ms
    demand_mode: true
  - peer: 192.0.2.2
    peer_port: 4784
    local_port: 4784
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %q, want debug", cfg.LogLevel)
	}
	if cfg.Monitor.Listen != "127.0.0.1:9999" {
		t.Errorf("monitor listen = %q", cfg.Monitor.Listen)
	}
	if len(cfg.Sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(cfg.Sessions))
	}

	first := cfg.Sessions[0]
	if first.DetectMult != 5 || first.DesiredMinTx != 250*time.Millisecond || !first.DemandMode {
		t.Errorf("first session parsed wrong: %+v", first)
	}

	sessions, err := cfg.Validate(context.Background(), mustGate(t, ext.SpecifyPorts))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got := sessions[0].Engine.PeerAddr.String(); got != "192.0.2.1" {
		t.Errorf("peer addr = %s", got)
	}
	if sessions[1].Engine.PeerPort != 4784 {
		t.Errorf("peer port = %d, want 4784", sessions[1].Engine.PeerPort)
	}
}

func TestLoadGeneratedFixture(t *testing.T) {
	sessions := make([]map[string]any, 8)
	for i := range sessions {
		sessions[i] = map[string]any{
			"peer":            fmt.Sprintf("192.0.2.%d", i+1),
			"detect_mult":     i + 1,
			"desired_min_tx":  fmt.Sprintf("%dms", (i+1)*100),
			"required_min_rx": "1s",
		}
	}
	path := writeFixture(t, map[string]any{
		"log_level": "error",
		"sessions":  sessions,
	})

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("log level = %q, want error", cfg.LogLevel)
	}
	if len(cfg.Sessions) != len(sessions) {
		t.Fatalf("sessions = %d, want %d", len(cfg.Sessions), len(sessions))
	}
	for i, s := range cfg.Sessions {
		if s.DetectMult != uint8(i+1) {
			t.Errorf("session %d detect mult = %d, want %d", i, s.DetectMult, i+1)
		}
		if want := time.Duration(i+1) * 100 * time.Millisecond; s.DesiredMinTx != want {
			t.Errorf("session %d desired min tx = %v, want %v", i, s.DesiredMinTx, want)
		}
	}

	if _, err := cfg.Validate(context.Background(), mustGate(t)); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "log_level: debug\n")
	t.Setenv("BFDD_LOG_LEVEL", "warn")
	t.Setenv("BFDD_MONITOR_LISTEN", "0.0.0.0:1234")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("log level = %q, want env override warn", cfg.LogLevel)
	}
	if cfg.Monitor.Listen != "0.0.0.0:1234" {
		t.Errorf("monitor listen = %q, want env override", cfg.Monitor.Listen)
	}
}

func TestValidateRejectsNonDefaultPortsWithoutCapability(t *testing.T) {
	path := writeConfig(t, `
sessions:
  - peer: 192.0.2.1
    peer_port: 4784
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	_, err = cfg.Validate(context.Background(), mustGate(t))
	if !errors.Is(err, config.ErrPortNotPermitted) {
		t.Errorf("validate error = %v, want %v", err, config.ErrPortNotPermitted)
	}

	if _, err := cfg.Validate(context.Background(), mustGate(t, ext.SpecifyPorts)); err != nil {
		t.Errorf("validate with capability: %v", err)
	}
}

func TestValidateRejectsAuthWithoutCapability(t *testing.T) {
	path := writeConfig(t, `
sessions:
  - peer: 192.0.2.1
    auth_key_id: 1
    auth_key: hunter2
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	_, err = cfg.Validate(context.Background(), mustGate(t))
	if !errors.Is(err, config.ErrAuthNotPermitted) {
		t.Errorf("validate error = %v, want %v", err, config.ErrAuthNotPermitted)
	}

	if _, err := cfg.Validate(context.Background(), mustGate(t, ext.Authentication)); err != nil {
		t.Errorf("validate with capability: %v", err)
	}
}

func TestValidateRequiresSessions(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	_, err = cfg.Validate(context.Background(), mustGate(t))
	if !errors.Is(err, config.ErrNoSessions) {
		t.Errorf("validate error = %v, want %v", err, config.ErrNoSessions)
	}

	// Dynamic session capability stands in for configured sessions.
	if _, err := cfg.Validate(context.Background(), mustGate(t, ext.DynamicSessions)); err != nil {
		t.Errorf("validate with dynamic sessions: %v", err)
	}
}

func TestValidateRejectsBadPeers(t *testing.T) {
	for _, peer := range []string{"", "2001:db8::1"} {
		path := writeConfig(t, "sessions:\n  - peer: \""+peer+"\"\n")
		cfg, err := config.Load(path)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if _, err := cfg.Validate(context.Background(), mustGate(t)); err == nil {
			t.Errorf("peer %q accepted", peer)
		}
	}
}

func TestDynamicTemplate(t *testing.T) {
	path := writeConfig(t, `
dynamic_sessions:
  detect_mult: 4
  desired_min_tx: 100ms
  required_min_rx: 200ms
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	tmpl := cfg.DynamicTemplate()
	want := bfd.SessionConfig{
		DetectMult:    4,
		DesiredMinTx:  100 * time.Millisecond,
		RequiredMinRx: 200 * time.Millisecond,
	}
	if tmpl != want {
		t.Errorf("template = %+v, want %+v", tmpl, want)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := config.ParseLogLevel(tt.in)
		if err != nil {
			t.Errorf("ParseLogLevel(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := config.ParseLogLevel("loud"); !errors.Is(err, config.ErrInvalidLogLevel) {
		t.Errorf("ParseLogLevel(loud) = %v, want %v", err, config.ErrInvalidLogLevel)
	}
}
