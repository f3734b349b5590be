package client

import (
	"fmt"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"netsync/internal/netid"
)

// spawnRequests remembers entities seen in heartbeats before their spawn
// arrived and decides when to ask the authority for them again.
type spawnRequests struct {
	limiter    *rate.Limiter
	retryTicks uint64
	pending    map[netid.EntityID]uint64
	sent       uint64
	throttled  uint64
	now        func() time.Time
}

// RequestSignal summarises outstanding requests for diagnostics.
type RequestSignal struct {
	Pending   int
	Sent      uint64
	Throttled uint64
	Oldest    []netid.EntityID
}

const requestSignalLimit = 8

func newSpawnRequests(perSecond float64, burst int, retryTicks uint64) *spawnRequests {
	return &spawnRequests{
		limiter:    rate.NewLimiter(rate.Limit(perSecond), burst),
		retryTicks: retryTicks,
		pending:    make(map[netid.EntityID]uint64),
		now:        time.Now,
	}
}

// Note records that id was referenced at tick and reports whether a
// request should go out now.
func (r *spawnRequests) Note(id netid.EntityID, tick uint64) bool {
	if r == nil || id == netid.NoEntity {
		return false
	}
	if last, ok := r.pending[id]; ok && tick < last+r.retryTicks {
		return false
	}
	if !r.limiter.AllowN(r.now(), 1) {
		r.throttled++
		return false
	}
	r.pending[id] = tick
	r.sent++
	return true
}

func (r *spawnRequests) Resolve(id netid.EntityID) {
	if r == nil {
		return
	}
	delete(r.pending, id)
}

func (r *spawnRequests) Outstanding(id netid.EntityID) bool {
	if r == nil {
		return false
	}
	_, ok := r.pending[id]
	return ok
}

func (r *spawnRequests) Reset() {
	if r == nil {
		return
	}
	r.pending = make(map[netid.EntityID]uint64)
}

func (r *spawnRequests) Signal() RequestSignal {
	if r == nil {
		return RequestSignal{}
	}
	ids := make([]netid.EntityID, 0, len(r.pending))
	for id := range r.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if r.pending[ids[i]] == r.pending[ids[j]] {
			return ids[i] < ids[j]
		}
		return r.pending[ids[i]] < r.pending[ids[j]]
	})
	if len(ids) > requestSignalLimit {
		ids = ids[:requestSignalLimit]
	}
	return RequestSignal{Pending: len(r.pending), Sent: r.sent, Throttled: r.throttled, Oldest: ids}
}

func (s RequestSignal) Summary() string {
	if s.Pending == 0 && s.Sent == 0 {
		return ""
	}
	return fmt.Sprintf("pending=%d sent=%d throttled=%d oldest=%v", s.Pending, s.Sent, s.Throttled, s.Oldest)
}
