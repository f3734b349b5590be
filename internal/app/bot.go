package app

import (
	"context"
	"io"
	"log"
	"net"
	"time"

	"github.com/rotisserie/eris"

	"netsync/internal/client"
	"netsync/internal/config"
	"netsync/internal/entities"
	"netsync/internal/geom"
	"netsync/internal/input"
	"netsync/internal/telemetry"
	"netsync/internal/tick"
	"netsync/internal/transport"
	"netsync/internal/transport/quic"
	"netsync/internal/transport/ws"
	"netsync/internal/wire"
)

// BotConfig describes one headless predicting client.
type BotConfig struct {
	Logger   telemetry.Logger
	Settings config.Config
	// Target is the websocket URL or QUIC address of the host. Empty
	// derives it from Settings.ListenAddr.
	Target string
	Name   string
	// LegTicks is how long the bot walks in one direction before turning.
	LegTicks uint64
	// Duration stops the bot after it has been registered this long. Zero
	// runs until ctx is done.
	Duration time.Duration
	Stdout   io.Writer
}

// RunBot joins the host as a scripted player and predicts its own avatar
// until ctx is done, the duration passes or the host drops it.
func RunBot(ctx context.Context, cfg BotConfig) error {
	telemetryLogger := cfg.Logger
	if telemetryLogger == nil {
		telemetryLogger = telemetry.WrapLogger(log.Default())
	}
	settings := cfg.Settings
	if err := settings.Validate(); err != nil {
		return eris.Wrap(err, "invalid configuration")
	}
	if cfg.Name == "" {
		cfg.Name = "bot"
	}
	if cfg.LegTicks == 0 {
		cfg.LegTicks = uint64(settings.TickRate)
	}
	target := cfg.Target
	if target == "" {
		target = DefaultTarget(settings)
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

	link, err := dial(ctx, settings.Transport, target)
	if err != nil {
		return err
	}
	defer link.Close()

	counters := telemetry.NewCounters(nil)
	bot, err := client.New(settings.Client(cfg.Name), client.Deps{
		Transport: link,
		Registry:  entities.NewRegistry(),
		Sampler:   squareWalk(cfg.LegTicks),
		Logger:    telemetryLogger,
		Publisher: events.router,
		Metrics:   counters,
	})
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go bot.Pump(runCtx)

	if err := bot.Join(cfg.Name); err != nil {
		return eris.Wrap(err, "send join")
	}
	result, err := bot.AwaitRegistration(runCtx, 0)
	if err != nil {
		return err
	}
	telemetryLogger.Printf("%s joined as %s controlling %s", cfg.Name, result.Peer, result.Entity)

	if cfg.Duration > 0 {
		var stop context.CancelFunc
		runCtx, stop = context.WithTimeout(runCtx, cfg.Duration)
		defer stop()
	}
	runner := tick.NewRunner(bot, settings.Runner(), tick.RunnerDeps{
		Logger:    telemetryLogger,
		Publisher: events.router,
		TickCount: bot.CurrentTick,
	})
	runner.AfterFrame = func(tick.FrameResult) {
		if !bot.Connected() {
			cancel()
		}
	}
	err = ignoreCancel(runner.Run(runCtx))

	telemetryLogger.Printf("%s stopped at tick %d multiplier=%.4f %s spawnRequests[%s]",
		cfg.Name, bot.CurrentTick(), bot.Multiplier(), counters.Summary(), bot.SpawnRequests().Summary())
	if reason, kicked := bot.Kicked(); kicked {
		return eris.Errorf("kicked by host: %s", reason)
	}
	return err
}

// DefaultTarget derives the host address a bot dials from the listen
// address.
func DefaultTarget(settings config.Config) string {
	host, port, err := net.SplitHostPort(settings.ListenAddr)
	if err != nil {
		host, port = "", settings.ListenAddr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	addr := net.JoinHostPort(host, port)
	if settings.Transport == config.TransportQUIC {
		return addr
	}
	return "ws://" + addr + "/ws"
}

func dial(ctx context.Context, kind, target string) (transport.Transport, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if kind == config.TransportQUIC {
		link, err := quic.Dial(dialCtx, target, quic.ClientConfig{})
		if err != nil {
			return nil, err
		}
		return link, nil
	}
	link, err := ws.Dial(dialCtx, target, ws.ClientConfig{})
	if err != nil {
		return nil, err
	}
	return link, nil
}

// squareWalk walks the four compass directions in turn, crouching on the
// east-west legs. The intent only changes at corners.
func squareWalk(legTicks uint64) client.Sampler {
	directions := [4]geom.Vec3{{X: 1}, {Z: 1}, {X: -1}, {Z: -1}}
	return client.SamplerFunc(func(tick uint64) input.Sample {
		leg := (tick / legTicks) % 4
		sample := input.Sample{Move: directions[leg], LookAt: directions[leg]}
		var buttons wire.Flags
		buttons.Set(input.ButtonCrouch, leg%2 == 0)
		sample.Buttons = buttons
		return sample
	})
}
