package observability

import (
	nethttp "net/http"
	"net/http/pprof"
	"time"
)

// Config captures opt-in observability toggles that wire into the host.
type Config struct {
	EnablePprof bool `json:"enablePprof"`
	// StatsInterval is the period of the telemetry summary log line. Zero
	// disables it.
	StatsInterval time.Duration `json:"statsInterval"`
}

// Mount registers the enabled debug endpoints on mux.
func Mount(mux *nethttp.ServeMux, cfg Config) {
	if !cfg.EnablePprof {
		return
	}
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}
