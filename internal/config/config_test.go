package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"netsync/internal/input"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	}
}

type recordingLogger struct {
	lines []string
}

func (l *recordingLogger) Printf(format string, args ...any) {
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
	if cfg.RateController.Smoothing != 0.7 {
		t.Fatalf("expected smoothing 0.7, got %v", cfg.RateController.Smoothing)
	}
	if cfg.OverflowPolicy != input.DropOldest {
		t.Fatalf("expected drop_oldest, got %q", cfg.OverflowPolicy)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netsync.json")
	body := `{"tickRate": 30, "transport": "QUIC", "listenAddr": " :9000 "}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TickRate != 30 {
		t.Fatalf("expected tick rate 30, got %d", cfg.TickRate)
	}
	if cfg.Transport != TransportQUIC {
		t.Fatalf("expected transport to normalize to quic, got %q", cfg.Transport)
	}
	if cfg.ListenAddr != ":9000" {
		t.Fatalf("expected trimmed listen address, got %q", cfg.ListenAddr)
	}
	if cfg.BufferMaxTicks != Default().BufferMaxTicks {
		t.Fatalf("expected buffer to keep its default, got %d", cfg.BufferMaxTicks)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netsync.json")
	if err := os.WriteFile(path, []byte(`{"tickrate_typo": 5}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected unknown field to fail")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatalf("expected missing file to fail")
	}
}

func TestApplyEnv(t *testing.T) {
	logger := &recordingLogger{}
	cfg := Default().ApplyEnv(lookupFrom(map[string]string{
		EnvTickRate:        "20",
		EnvBufferMaxTicks:  "not-a-number",
		EnvTolerance:       "0.25",
		EnvMaxPeers:        "4",
		EnvListenAddr:      "127.0.0.1:7000",
		EnvTransport:       "carrier-pigeon",
		EnvInputQueueLimit: "",
	}), logger)

	if cfg.TickRate != 20 {
		t.Fatalf("expected tick rate 20, got %d", cfg.TickRate)
	}
	if cfg.BufferMaxTicks != Default().BufferMaxTicks {
		t.Fatalf("expected invalid buffer override to be ignored, got %d", cfg.BufferMaxTicks)
	}
	if cfg.PredictionErrorToleranceThreshold != 0.25 {
		t.Fatalf("expected tolerance 0.25, got %v", cfg.PredictionErrorToleranceThreshold)
	}
	if cfg.MaxPeers != 4 {
		t.Fatalf("expected max peers 4, got %d", cfg.MaxPeers)
	}
	if cfg.ListenAddr != "127.0.0.1:7000" {
		t.Fatalf("unexpected listen address %q", cfg.ListenAddr)
	}
	if cfg.Transport != TransportWebSocket {
		t.Fatalf("expected invalid transport to be ignored, got %q", cfg.Transport)
	}
	if cfg.InputQueueLimit != input.DefaultQueueLimit {
		t.Fatalf("expected empty override to be ignored, got %d", cfg.InputQueueLimit)
	}
	if len(logger.lines) != 2 {
		t.Fatalf("expected two invalid values to be logged, got %v", logger.lines)
	}
	if !strings.Contains(logger.lines[0], EnvBufferMaxTicks) {
		t.Fatalf("expected first complaint about %s, got %q", EnvBufferMaxTicks, logger.lines[0])
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "zero tick rate", mutate: func(c *Config) { c.TickRate = 0 }, want: "tickRate"},
		{name: "zero frame rate", mutate: func(c *Config) { c.FrameRate = 0 }, want: "frameRate"},
		{name: "empty buffer", mutate: func(c *Config) { c.BufferMaxTicks = 0 }, want: "bufferMaxTicks"},
		{name: "negative tolerance", mutate: func(c *Config) { c.PredictionErrorToleranceThreshold = -1 }, want: "predictionErrorToleranceThreshold"},
		{name: "negative peers", mutate: func(c *Config) { c.MaxPeers = -1 }, want: "maxPeers"},
		{name: "zero queue", mutate: func(c *Config) { c.InputQueueLimit = 0 }, want: "inputQueueLimit"},
		{name: "bad policy", mutate: func(c *Config) { c.OverflowPolicy = "drop_all" }, want: "overflowPolicy"},
		{name: "bad transport", mutate: func(c *Config) { c.Transport = "udp" }, want: "transport"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation to fail")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestConvertersCarrySettings(t *testing.T) {
	cfg := Default()
	cfg.TickRate = 30
	cfg.PredictionErrorToleranceThreshold = 0.2
	cfg.RegistrationTimeout = 3 * time.Second
	cfg.OverflowPolicy = input.DropNewest

	srv := cfg.Server()
	if srv.TickRate != 30 || srv.OverflowPolicy != input.DropNewest {
		t.Fatalf("unexpected server config %+v", srv)
	}
	cl := cfg.Client("bot")
	if cl.Name != "bot" || cl.TickRate != 30 || cl.Tolerance != 0.2 || cl.RegistrationTimeout != 3*time.Second {
		t.Fatalf("unexpected client config %+v", cl)
	}
	if runner := cfg.Runner(); runner.FrameRate != cfg.FrameRate {
		t.Fatalf("expected frame rate %d, got %d", cfg.FrameRate, runner.FrameRate)
	}
}
