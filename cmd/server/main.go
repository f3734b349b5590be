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
	"netsync/internal/observability"
	"netsync/internal/telemetry"
)

func main() {
	var (
		configPath string
		beacons    int
		pprof      bool
		stats      time.Duration
	)
	flag.StringVar(&configPath, "config", "", "path to a JSON config file")
	flag.IntVar(&beacons, "beacons", 3, "static beacons to place before anyone joins")
	flag.BoolVar(&pprof, "pprof", false, "serve /debug/pprof")
	flag.DurationVar(&stats, "stats", 30*time.Second, "telemetry summary interval, 0 disables")
	flag.Parse()

	logger := telemetry.WrapLogger(log.Default())
	settings, err := app.LoadSettings(configPath, logger)
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, app.Config{
		Logger:   logger,
		Settings: settings,
		Observability: observability.Config{
			EnablePprof:   pprof,
			StatsInterval: stats,
		},
		Beacons: beacons,
	}); err != nil {
		log.Fatalf("%v", err)
	}
}
