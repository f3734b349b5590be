package input

import (
	"sort"
	"sync"

	"netsync/internal/netid"
)

const (
	// RejectStale indicates a sample whose sequence id is not newer than the
	// last one queued for the peer. Unreliable delivery produces these
	// routinely; they are superseded, not errors.
	RejectStale = "stale_sequence"
	// RejectOverflow indicates the per-peer queue was full under the
	// drop-newest policy.
	RejectOverflow = "queue_overflow"
	// RejectRevoked indicates the peer has been removed; its packets are discarded.
	RejectRevoked = "peer_revoked"
)

const (
	inputQueueOccupancyMetricKey = "input_queue_occupancy"
	inputQueueOverflowMetricKey  = "input_queue_overflow_total"
	inputQueueStaleMetricKey     = "input_queue_stale_total"
)

// OverflowPolicy selects which sample is lost when a peer's queue is full.
type OverflowPolicy string

const (
	// DropOldest evicts the oldest queued sample so the newest intent always lands.
	DropOldest OverflowPolicy = "drop_oldest"
	// DropNewest rejects the incoming sample.
	DropNewest OverflowPolicy = "drop_newest"
)

// DefaultQueueLimit bounds a peer's queue when no limit is configured.
const DefaultQueueLimit = 64

type telemetryMetrics interface {
	Add(string, uint64)
	Store(string, uint64)
}

// Queue is the authority's FIFO of samples received from one peer. It is safe
// for a concurrent producer (the receive path) and a single consumer (the
// simulation tick).
type Queue struct {
	mu      sync.Mutex
	data    []Sample
	head    int
	count   int
	policy  OverflowPolicy
	metrics telemetryMetrics

	lastQueued uint16
	hasQueued  bool
	lastAcked  uint16
	hasAcked   bool
	overflowed uint64
}

// NewQueue constructs a bounded queue.
func NewQueue(limit int, policy OverflowPolicy, metrics telemetryMetrics) *Queue {
	if limit < 1 {
		limit = DefaultQueueLimit
	}
	if policy != DropNewest {
		policy = DropOldest
	}
	return &Queue{
		data:    make([]Sample, limit),
		policy:  policy,
		metrics: metrics,
	}
}

// Push appends a sample in arrival order. Samples that are not newer than the
// last queued sample are rejected as stale.
func (q *Queue) Push(s Sample) (bool, string) {
	if q == nil {
		return false, RejectRevoked
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.hasQueued && !SeqNewer(s.Seq, q.lastQueued) {
		q.add(inputQueueStaleMetricKey, 1)
		return false, RejectStale
	}
	if q.count == len(q.data) {
		q.overflowed++
		q.add(inputQueueOverflowMetricKey, 1)
		if q.policy == DropNewest {
			return false, RejectOverflow
		}
		q.head = (q.head + 1) % len(q.data)
		q.count--
	}
	tail := (q.head + q.count) % len(q.data)
	q.data[tail] = s
	q.count++
	q.lastQueued = s.Seq
	q.hasQueued = true
	q.storeOccupancyLocked()
	return true, ""
}

// Drain returns every queued sample in FIFO order and empties the queue.
func (q *Queue) Drain() []Sample {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		return nil
	}
	samples := make([]Sample, q.count)
	for i := 0; i < q.count; i++ {
		samples[i] = q.data[(q.head+i)%len(q.data)]
	}
	q.head = 0
	q.count = 0
	q.storeOccupancyLocked()
	return samples
}

// Len reports the number of queued samples.
func (q *Queue) Len() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Ack records the id of the last sample applied by the simulation.
func (q *Queue) Ack(seq uint16) {
	if q == nil {
		return
	}
	q.mu.Lock()
	q.lastAcked = seq
	q.hasAcked = true
	q.mu.Unlock()
}

// LastAcked returns the id of the last applied sample, if any.
func (q *Queue) LastAcked() (uint16, bool) {
	if q == nil {
		return 0, false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastAcked, q.hasAcked
}

// Overflowed reports how many samples were lost to the overflow policy.
func (q *Queue) Overflowed() uint64 {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.overflowed
}

func (q *Queue) add(key string, delta uint64) {
	if q.metrics != nil {
		q.metrics.Add(key, delta)
	}
}

func (q *Queue) storeOccupancyLocked() {
	if q.metrics == nil {
		return
	}
	q.metrics.Store(inputQueueOccupancyMetricKey, uint64(q.count))
}

// Queues holds one Queue per peer. Unknown peers are registered implicitly on
// first receipt; removed peers are revoked so late packets cannot recreate
// their queue.
type Queues struct {
	mu      sync.RWMutex
	peers   map[netid.PeerID]*Queue
	revoked map[netid.PeerID]struct{}
	limit   int
	policy  OverflowPolicy
	metrics telemetryMetrics
}

// NewQueues constructs an empty per-peer queue set.
func NewQueues(limit int, policy OverflowPolicy, metrics telemetryMetrics) *Queues {
	return &Queues{
		peers:   make(map[netid.PeerID]*Queue),
		revoked: make(map[netid.PeerID]struct{}),
		limit:   limit,
		policy:  policy,
		metrics: metrics,
	}
}

// Register ensures a queue exists for peer. Revoked peers are not re-admitted.
func (qs *Queues) Register(peer netid.PeerID) (*Queue, bool) {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	return qs.registerLocked(peer)
}

func (qs *Queues) registerLocked(peer netid.PeerID) (*Queue, bool) {
	if _, gone := qs.revoked[peer]; gone {
		return nil, false
	}
	q, ok := qs.peers[peer]
	if !ok {
		q = NewQueue(qs.limit, qs.policy, qs.metrics)
		qs.peers[peer] = q
	}
	return q, true
}

// Enqueue appends samples for peer in arrival order and reports how many
// were accepted. The reason is set when at least one sample was rejected.
func (qs *Queues) Enqueue(peer netid.PeerID, samples []Sample) (int, string) {
	qs.mu.Lock()
	q, ok := qs.registerLocked(peer)
	qs.mu.Unlock()
	if !ok {
		return 0, RejectRevoked
	}
	accepted := 0
	reason := ""
	for _, s := range samples {
		if ok, why := q.Push(s); ok {
			accepted++
		} else if reason == "" {
			reason = why
		}
	}
	return accepted, reason
}

// Get returns the queue for peer.
func (qs *Queues) Get(peer netid.PeerID) (*Queue, bool) {
	qs.mu.RLock()
	defer qs.mu.RUnlock()
	q, ok := qs.peers[peer]
	return q, ok
}

// Remove drops the peer's queue and revokes it.
func (qs *Queues) Remove(peer netid.PeerID) {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	delete(qs.peers, peer)
	qs.revoked[peer] = struct{}{}
}

// Revoked reports whether peer has been removed.
func (qs *Queues) Revoked(peer netid.PeerID) bool {
	qs.mu.RLock()
	defer qs.mu.RUnlock()
	_, gone := qs.revoked[peer]
	return gone
}

// Peers lists peers with a queue, in ascending id order.
func (qs *Queues) Peers() []netid.PeerID {
	qs.mu.RLock()
	defer qs.mu.RUnlock()
	ids := make([]netid.PeerID, 0, len(qs.peers))
	for id := range qs.peers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
