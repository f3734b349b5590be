// Package net serves the host's HTTP surface: health and diagnostics for
// operators, an admin kick endpoint, and the websocket transport endpoint.
package net

import (
	"encoding/json"
	"io"
	nethttp "net/http"
	"time"

	"netsync/internal/netid"
	"netsync/internal/observability"
	"netsync/internal/server"
	"netsync/internal/telemetry"
	"netsync/logging"
)

// Authority is the slice of the host the handlers need.
type Authority interface {
	Diagnostics() server.Diagnostics
	Kick(peer netid.PeerID, reason string)
}

type HTTPHandlerConfig struct {
	Logger telemetry.Logger
	// WebSocket serves /ws when set.
	WebSocket nethttp.Handler
	Counters  *telemetry.Counters
	// Connections reports transport level connection details.
	Connections func() any
	EventStats  func() logging.RouterStats
	// Now overrides the wall clock for serverTime.
	Now           func() time.Time
	Observability observability.Config
}

type kickRequest struct {
	Peer   netid.PeerID `json:"peer"`
	Reason string       `json:"reason"`
}

func NewHTTPHandler(auth Authority, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.LoggerFunc(nil)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodGet {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		diag := auth.Diagnostics()
		payload := struct {
			Status      string               `json:"status"`
			ServerTime  int64                `json:"serverTime"`
			Tick        uint64               `json:"tick"`
			TickRate    int                  `json:"tickRate"`
			Authority   server.Diagnostics   `json:"authority"`
			Connections any                  `json:"connections,omitempty"`
			Telemetry   map[string]string    `json:"telemetry"`
			EventLog    *logging.RouterStats `json:"eventLog,omitempty"`
		}{
			Status:     "ok",
			ServerTime: now().UnixMilli(),
			Tick:       diag.Tick,
			TickRate:   diag.TickRate,
			Authority:  diag,
			Telemetry:  cfg.Counters.Humanized(),
		}
		if cfg.Connections != nil {
			payload.Connections = cfg.Connections()
		}
		if cfg.EventStats != nil {
			stats := cfg.EventStats()
			payload.EventLog = &stats
		}

		data, err := json.Marshal(payload)
		if err != nil {
			httpError(w, "failed to encode", nethttp.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	mux.HandleFunc("/kick", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		var req kickRequest
		if r.Body != nil {
			defer r.Body.Close()
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
				httpError(w, "invalid payload", nethttp.StatusBadRequest)
				return
			}
		}
		if req.Peer <= netid.HostPeer {
			httpError(w, "missing peer", nethttp.StatusBadRequest)
			return
		}
		if req.Reason == "" {
			req.Reason = "kicked by operator"
		}
		auth.Kick(req.Peer, req.Reason)
		logger.Printf("[admin] kick requested peer=%s reason=%q", req.Peer, req.Reason)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(nethttp.StatusAccepted)
		w.Write([]byte(`{"status":"accepted"}`))
	})

	if cfg.WebSocket != nil {
		mux.Handle("/ws", cfg.WebSocket)
	}
	observability.Mount(mux, cfg.Observability)

	return mux
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}
