package server

import (
	"time"

	"netsync/internal/netid"
)

// PeerDiagnostics describes one roster member for the diagnostics endpoint.
type PeerDiagnostics struct {
	Peer       netid.PeerID   `json:"peer"`
	Name       string         `json:"name"`
	Status     string         `json:"status"`
	Entity     netid.EntityID `json:"entity"`
	RTT        time.Duration  `json:"rttNanos"`
	QueueDepth int            `json:"queueDepth"`
	LastAck    uint16         `json:"lastAck"`
	JoinedAt   time.Time      `json:"joinedAt"`
}

// Diagnostics is a point-in-time view of the authority.
type Diagnostics struct {
	Tick     uint64            `json:"tick"`
	TickRate int               `json:"tickRate"`
	Entities int               `json:"entities"`
	Peers    []PeerDiagnostics `json:"peers"`
}

// Diagnostics collects the current state. It is safe to call from any
// goroutine.
func (a *Authority) Diagnostics() Diagnostics {
	members := a.roster.Members()
	peers := make([]PeerDiagnostics, 0, len(members))
	for _, m := range members {
		pd := PeerDiagnostics{
			Peer:     m.Peer,
			Name:     m.Name,
			Status:   m.Status.String(),
			Entity:   m.Entity,
			JoinedAt: m.JoinedAt,
		}
		if rtt, ok := a.transport.RTT(m.Peer); ok {
			pd.RTT = rtt
		}
		if queue, ok := a.queues.Get(m.Peer); ok {
			pd.QueueDepth = queue.Len()
			pd.LastAck, _ = queue.LastAcked()
		}
		peers = append(peers, pd)
	}
	return Diagnostics{
		Tick:     a.tick.Load(),
		TickRate: a.cfg.TickRate,
		Entities: a.directory.Len(),
		Peers:    peers,
	}
}
