package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"netsync/internal/app"
	"netsync/internal/telemetry"
)

func main() {
	var (
		configPath string
		target     string
		name       string
		legTicks   uint64
		duration   time.Duration
	)
	flag.StringVar(&configPath, "config", "", "path to a JSON config file")
	flag.StringVar(&target, "target", "", "websocket URL or QUIC address of the host (default derived from the config)")
	flag.StringVar(&name, "name", "bot", "player name to join with")
	flag.Uint64Var(&legTicks, "leg", 0, "ticks per side of the walked square (default one second)")
	flag.DurationVar(&duration, "duration", 0, "stop after this long, 0 runs until interrupted")
	flag.Parse()

	logger := telemetry.WrapLogger(log.Default())
	settings, err := app.LoadSettings(configPath, logger)
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunBot(ctx, app.BotConfig{
		Logger:   logger,
		Settings: settings,
		Target:   target,
		Name:     name,
		LegTicks: legTicks,
		Duration: duration,
	}); err != nil {
		log.Fatalf("%v", err)
	}
}
