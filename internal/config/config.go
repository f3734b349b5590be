// Package config holds the deployment settings shared by the host and the
// headless clients, loaded from JSON and overridden from the environment.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"netsync/internal/client"
	"netsync/internal/input"
	"netsync/internal/reconcile"
	"netsync/internal/server"
	"netsync/internal/telemetry"
	"netsync/internal/tick"
	"netsync/logging"
)

// Transport kinds.
const (
	TransportWebSocket = "websocket"
	TransportQUIC      = "quic"
)

const defaultListenAddr = ":8080"

// Environment overrides read by ApplyEnv.
const (
	EnvTickRate        = "NETSYNC_TICK_RATE"
	EnvBufferMaxTicks  = "NETSYNC_BUFFER_MAX_TICKS"
	EnvTolerance       = "NETSYNC_PREDICTION_TOLERANCE"
	EnvMaxPeers        = "NETSYNC_MAX_PEERS"
	EnvListenAddr      = "NETSYNC_LISTEN_ADDR"
	EnvTransport       = "NETSYNC_TRANSPORT"
	EnvInputQueueLimit = "NETSYNC_INPUT_QUEUE_LIMIT"
)

// Config is the full set of tunables.
type Config struct {
	TickRate                          int                  `json:"tickRate" jsonschema:"minimum=1"`
	FrameRate                         int                  `json:"frameRate" jsonschema:"minimum=1"`
	BufferMaxTicks                    int                  `json:"bufferMaxTicks" jsonschema:"minimum=1"`
	PredictionErrorToleranceThreshold float64              `json:"predictionErrorToleranceThreshold" jsonschema:"minimum=0"`
	MaxPeers                          int                  `json:"maxPeers" jsonschema:"minimum=0"`
	InputQueueLimit                   int                  `json:"inputQueueLimit" jsonschema:"minimum=1"`
	OverflowPolicy                    input.OverflowPolicy `json:"overflowPolicy" jsonschema:"enum=drop_oldest,enum=drop_newest"`
	RegistrationTimeout               time.Duration        `json:"registrationTimeout"`
	SpawnRequestRate                  float64              `json:"spawnRequestRate"`
	SpawnRequestBurst                 int                  `json:"spawnRequestBurst"`
	RateController                    tick.RateConfig      `json:"rateController"`
	ListenAddr                        string               `json:"listenAddr"`
	Transport                         string               `json:"transport" jsonschema:"enum=websocket,enum=quic"`
	Logging                           logging.Config       `json:"logging"`
}

// Default returns the stock settings.
func Default() Config {
	return Config{
		TickRate:                          tick.DefaultRate,
		FrameRate:                         tick.DefaultFrameRate,
		BufferMaxTicks:                    64,
		PredictionErrorToleranceThreshold: reconcile.DefaultTolerance,
		MaxPeers:                          16,
		InputQueueLimit:                   input.DefaultQueueLimit,
		OverflowPolicy:                    input.DropOldest,
		RegistrationTimeout:               10 * time.Second,
		SpawnRequestRate:                  10,
		SpawnRequestBurst:                 5,
		RateController:                    tick.DefaultRateConfig(),
		ListenAddr:                        defaultListenAddr,
		Transport:                         TransportWebSocket,
		Logging:                           logging.DefaultConfig(),
	}
}

// Load reads a JSON file on top of the defaults. Fields absent from the
// file keep their default values; unknown fields are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, eris.Wrapf(err, "read config %s", path)
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, eris.Wrapf(err, "decode config %s", path)
	}
	return cfg.normalized(), nil
}

// ApplyEnv overrides fields from lookup, normally os.LookupEnv. Values that
// do not parse are reported to logger and ignored.
func (c Config) ApplyEnv(lookup func(string) (string, bool), logger telemetry.Logger) Config {
	if lookup == nil {
		return c
	}
	if logger == nil {
		logger = telemetry.LoggerFunc(nil)
	}
	intVar := func(key string, dst *int) {
		raw, ok := lookup(key)
		if !ok || raw == "" {
			return
		}
		if value, err := strconv.Atoi(raw); err == nil {
			*dst = value
		} else {
			logger.Printf("invalid %s=%q: %v", key, raw, err)
		}
	}

	intVar(EnvTickRate, &c.TickRate)
	intVar(EnvBufferMaxTicks, &c.BufferMaxTicks)
	intVar(EnvMaxPeers, &c.MaxPeers)
	intVar(EnvInputQueueLimit, &c.InputQueueLimit)

	if raw, ok := lookup(EnvTolerance); ok && raw != "" {
		if value, err := strconv.ParseFloat(raw, 64); err == nil {
			c.PredictionErrorToleranceThreshold = value
		} else {
			logger.Printf("invalid %s=%q: %v", EnvTolerance, raw, err)
		}
	}
	if raw, ok := lookup(EnvListenAddr); ok && strings.TrimSpace(raw) != "" {
		c.ListenAddr = strings.TrimSpace(raw)
	}
	if raw, ok := lookup(EnvTransport); ok && raw != "" {
		kind := strings.ToLower(strings.TrimSpace(raw))
		switch kind {
		case TransportWebSocket, TransportQUIC:
			c.Transport = kind
		default:
			logger.Printf("invalid %s=%q: want %s or %s", EnvTransport, raw, TransportWebSocket, TransportQUIC)
		}
	}
	return c
}

func (c Config) normalized() Config {
	c.ListenAddr = strings.TrimSpace(c.ListenAddr)
	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	if c.Transport == "" {
		c.Transport = TransportWebSocket
	}
	if c.OverflowPolicy == "" {
		c.OverflowPolicy = input.DropOldest
	}
	return c
}

// Validate reports every setting that cannot be used.
func (c Config) Validate() error {
	var problems []error
	if c.TickRate <= 0 {
		problems = append(problems, eris.Errorf("tickRate must be positive, got %d", c.TickRate))
	}
	if c.FrameRate <= 0 {
		problems = append(problems, eris.Errorf("frameRate must be positive, got %d", c.FrameRate))
	}
	if c.BufferMaxTicks <= 0 {
		problems = append(problems, eris.Errorf("bufferMaxTicks must be positive, got %d", c.BufferMaxTicks))
	}
	if c.PredictionErrorToleranceThreshold < 0 {
		problems = append(problems, eris.Errorf("predictionErrorToleranceThreshold must not be negative, got %v", c.PredictionErrorToleranceThreshold))
	}
	if c.MaxPeers < 0 {
		problems = append(problems, eris.Errorf("maxPeers must not be negative, got %d", c.MaxPeers))
	}
	if c.InputQueueLimit <= 0 {
		problems = append(problems, eris.Errorf("inputQueueLimit must be positive, got %d", c.InputQueueLimit))
	}
	switch c.OverflowPolicy {
	case input.DropOldest, input.DropNewest:
	default:
		problems = append(problems, eris.Errorf("unknown overflowPolicy %q", c.OverflowPolicy))
	}
	switch c.Transport {
	case TransportWebSocket, TransportQUIC:
	default:
		problems = append(problems, eris.Errorf("unknown transport %q", c.Transport))
	}
	return errors.Join(problems...)
}

// Server returns the authority settings.
func (c Config) Server() server.Config {
	return server.Config{
		TickRate:          c.TickRate,
		BufferMaxTicks:    c.BufferMaxTicks,
		MaxPeers:          c.MaxPeers,
		InputQueueLimit:   c.InputQueueLimit,
		OverflowPolicy:    c.OverflowPolicy,
		SpawnRequestRate:  c.SpawnRequestRate,
		SpawnRequestBurst: c.SpawnRequestBurst,
	}
}

// Client returns the settings for a predicting client called name.
func (c Config) Client(name string) client.Config {
	cfg := client.DefaultConfig()
	cfg.Name = name
	cfg.TickRate = c.TickRate
	cfg.BufferMaxTicks = c.BufferMaxTicks
	cfg.Tolerance = c.PredictionErrorToleranceThreshold
	cfg.Rate = c.RateController
	cfg.SpawnRequestRate = c.SpawnRequestRate
	cfg.SpawnRequestBurst = c.SpawnRequestBurst
	cfg.RegistrationTimeout = c.RegistrationTimeout
	return cfg
}

// Runner returns the frame loop settings.
func (c Config) Runner() tick.RunnerConfig {
	return tick.RunnerConfig{FrameRate: c.FrameRate, MaxCatchupFrames: 4}
}
