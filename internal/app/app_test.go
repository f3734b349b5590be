package app

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"netsync/internal/config"
	"netsync/internal/entities"
	"netsync/internal/input"
	"netsync/internal/telemetry"
	"netsync/logging"
)

func quietLogger() telemetry.Logger {
	return telemetry.LoggerFunc(func(string, ...any) {})
}

func TestDefaultTarget(t *testing.T) {
	tests := []struct {
		listen    string
		transport string
		want      string
	}{
		{listen: ":8080", transport: config.TransportWebSocket, want: "ws://localhost:8080/ws"},
		{listen: "127.0.0.1:9000", transport: config.TransportQUIC, want: "127.0.0.1:9000"},
		{listen: "[::]:7000", transport: config.TransportWebSocket, want: "ws://localhost:7000/ws"},
		{listen: "0.0.0.0:7001", transport: config.TransportQUIC, want: "localhost:7001"},
	}
	for _, tt := range tests {
		settings := config.Default()
		settings.ListenAddr = tt.listen
		settings.Transport = tt.transport
		if got := DefaultTarget(settings); got != tt.want {
			t.Fatalf("DefaultTarget(%q, %s) = %q, want %q", tt.listen, tt.transport, got, tt.want)
		}
	}
}

func TestSquareWalkOnlyTurnsAtCorners(t *testing.T) {
	sampler := squareWalk(10)

	first := sampler.Sample(0)
	if !first.Equal(sampler.Sample(9)) {
		t.Fatalf("expected the intent to hold for a whole leg")
	}
	if !first.Pressed(input.ButtonCrouch) {
		t.Fatalf("expected the first leg to crouch")
	}
	second := sampler.Sample(10)
	if first.Equal(second) {
		t.Fatalf("expected the bot to turn after ten ticks")
	}
	if second.Pressed(input.ButtonCrouch) {
		t.Fatalf("expected the second leg to stand")
	}
	if !first.Equal(sampler.Sample(40)) {
		t.Fatalf("expected the square to repeat every four legs")
	}
}

func TestAvatarSpawnerPlacesNamedAvatars(t *testing.T) {
	typ, entity, err := avatarSpawner(2, "alice")
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if typ != entities.TypeAvatar {
		t.Fatalf("expected avatar type, got %q", typ)
	}
	avatar := entity.(*entities.Avatar)
	if avatar.Name != "alice" {
		t.Fatalf("expected name alice, got %q", avatar.Name)
	}
	if d := avatar.Position.Length(); d < spawnRadius-1e-9 || d > spawnRadius+1e-9 {
		t.Fatalf("expected spawn on the ring, got distance %v", d)
	}
}

func TestOpenEventLog(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		mutate  func(*logging.Config)
		wantErr bool
	}{
		{name: "console", mutate: func(*logging.Config) {}},
		{name: "json and msgpack files", mutate: func(c *logging.Config) {
			c.EnabledSinks = []string{logging.SinkJSON, logging.SinkMsgpack, logging.SinkMemory}
			c.JSON.FilePath = filepath.Join(dir, "events.ndjson")
			c.Msgpack.FilePath = filepath.Join(dir, "events.msgpack")
		}},
		{name: "msgpack without a file", mutate: func(c *logging.Config) {
			c.EnabledSinks = []string{logging.SinkMsgpack}
		}, wantErr: true},
		{name: "unknown sink", mutate: func(c *logging.Config) {
			c.EnabledSinks = []string{"carrier-pigeon"}
		}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := logging.DefaultConfig()
			tt.mutate(&cfg)
			events, err := openEventLog(cfg, io.Discard)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			if got := len(events.router.SinkNames()); got != len(cfg.EnabledSinks) {
				t.Fatalf("expected %d sinks, got %d", len(cfg.EnabledSinks), got)
			}
			if err := events.Close(context.Background()); err != nil {
				t.Fatalf("close: %v", err)
			}
		})
	}
}

func TestRunRejectsInvalidSettings(t *testing.T) {
	settings := config.Default()
	settings.TickRate = 0
	if err := Run(context.Background(), Config{Logger: quietLogger(), Settings: settings}); err == nil {
		t.Fatalf("expected invalid settings to fail")
	}
}

func TestBotPlaysAgainstHostOverWebSocket(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a real listener")
	}
	settings := config.Default()
	settings.ListenAddr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan string, 1)
	hostDone := make(chan error, 1)
	go func() {
		hostDone <- Run(ctx, Config{
			Logger:   quietLogger(),
			Settings: settings,
			Beacons:  2,
			Stdout:   io.Discard,
			Ready:    func(addr string) { ready <- addr },
		})
	}()

	var addr string
	select {
	case addr = <-ready:
	case err := <-hostDone:
		t.Fatalf("host exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatalf("host never started listening")
	}

	err := RunBot(ctx, BotConfig{
		Logger:   quietLogger(),
		Settings: settings,
		Target:   "ws://" + addr + "/ws",
		Name:     "walker",
		Duration: 300 * time.Millisecond,
		Stdout:   io.Discard,
	})
	if err != nil {
		t.Fatalf("bot: %v", err)
	}

	cancel()
	select {
	case err := <-hostDone:
		if err != nil {
			t.Fatalf("host: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("host did not shut down")
	}
}
