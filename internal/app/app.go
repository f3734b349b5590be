package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"netsync/internal/config"
	"netsync/internal/entities"
	"netsync/internal/geom"
	servernet "netsync/internal/net"
	"netsync/internal/netid"
	"netsync/internal/observability"
	"netsync/internal/replication"
	"netsync/internal/server"
	"netsync/internal/telemetry"
	"netsync/internal/tick"
	"netsync/internal/transport"
	"netsync/internal/transport/quic"
	"netsync/internal/transport/ws"
)

const shutdownTimeout = 5 * time.Second

// spawnRadius is the distance from the origin at which avatars appear.
const spawnRadius = 4.0

type Config struct {
	Logger        telemetry.Logger
	Settings      config.Config
	Observability observability.Config
	// Beacons is the number of static markers placed before anyone joins.
	Beacons int
	Stdout  io.Writer
	// Ready receives the bound HTTP address once the host is listening.
	Ready func(addr string)
}

// Run hosts a session until ctx is cancelled or a component fails.
func Run(ctx context.Context, cfg Config) error {
	telemetryLogger := cfg.Logger
	if telemetryLogger == nil {
		telemetryLogger = telemetry.WrapLogger(log.Default())
	}
	settings := cfg.Settings
	if err := settings.Validate(); err != nil {
		return eris.Wrap(err, "invalid configuration")
	}

	events, err := openEventLog(settings.Logging, cfg.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if cerr := events.Close(closeCtx); cerr != nil {
			telemetryLogger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	counters := telemetry.NewCounters(nil)

	var (
		host        transport.Transport
		wsHandler   http.Handler
		connections func() any
	)
	switch settings.Transport {
	case config.TransportQUIC:
		qs, err := quic.Listen(quic.ServerConfig{Addr: settings.ListenAddr, Logger: telemetryLogger})
		if err != nil {
			return err
		}
		host = qs
		connections = func() any { return qs.Tokens() }
		telemetryLogger.Printf("quic transport listening on udp %s", qs.Addr())
	default:
		wss := ws.NewServer(ws.ServerConfig{Logger: telemetryLogger})
		host = wss
		wsHandler = http.HandlerFunc(wss.Handle)
		connections = func() any { return wss.Peers() }
	}
	defer host.Close()

	authority, err := server.New(settings.Server(), server.Deps{
		Transport: host,
		Spawner:   avatarSpawner,
		Logger:    telemetryLogger,
		Publisher: events.router,
		Metrics:   counters,
	})
	if err != nil {
		return err
	}
	if err := seedBeacons(authority, cfg.Beacons); err != nil {
		return err
	}

	handler := servernet.NewHTTPHandler(authority, servernet.HTTPHandlerConfig{
		Logger:        telemetryLogger,
		WebSocket:     wsHandler,
		Counters:      counters,
		Connections:   connections,
		EventStats:    events.router.Stats,
		Observability: cfg.Observability,
	})
	listener, err := net.Listen("tcp", settings.ListenAddr)
	if err != nil {
		return eris.Wrapf(err, "listen %s", settings.ListenAddr)
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	telemetryLogger.Printf("server listening on %s (transport=%s tickRate=%d)", listener.Addr(), settings.Transport, settings.TickRate)
	if cfg.Ready != nil {
		cfg.Ready(listener.Addr().String())
	}

	runner := tick.NewRunner(authority, settings.Runner(), tick.RunnerDeps{
		Logger:    telemetryLogger,
		Publisher: events.router,
		TickCount: authority.CurrentTick,
	})

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		authority.Pump(groupCtx)
		return nil
	})
	group.Go(func() error {
		return ignoreCancel(runner.Run(groupCtx))
	})
	group.Go(func() error {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if interval := cfg.Observability.StatsInterval; interval > 0 {
		group.Go(func() error {
			reportStats(groupCtx, interval, telemetryLogger, counters)
			return nil
		})
	}

	err = group.Wait()
	telemetryLogger.Printf("server stopped at tick %d", authority.CurrentTick())
	return err
}

// avatarSpawner places each joining player on a ring around the origin.
func avatarSpawner(peer netid.PeerID, name string) (string, replication.Entity, error) {
	avatar := entities.NewAvatar()
	avatar.Name = name
	angle := float64(peer) * (math.Pi / 4)
	avatar.Position = geom.Vec3{X: spawnRadius * math.Cos(angle), Z: spawnRadius * math.Sin(angle)}
	return entities.TypeAvatar, avatar, nil
}

func seedBeacons(authority *server.Authority, count int) error {
	for i := 0; i < count; i++ {
		beacon := entities.NewBeacon()
		beacon.Label = fmt.Sprintf("beacon-%d", i+1)
		beacon.Color = 0xff8800ff
		beacon.Position = geom.Vec3{X: float64(i) * 2 * spawnRadius}
		beacon.Period = 1 + float64(i)/2
		if _, err := authority.Spawn(entities.TypeBeacon, netid.HostPeer, beacon); err != nil {
			return eris.Wrapf(err, "seed beacon %d", i+1)
		}
	}
	return nil
}

func reportStats(ctx context.Context, interval time.Duration, logger telemetry.Logger, counters *telemetry.Counters) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Printf("[stats] %s", counters.Summary())
		}
	}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
