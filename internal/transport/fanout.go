package transport

import (
	"sync"

	"github.com/remeh/sizedwaitgroup"
	"github.com/rotisserie/eris"

	"netsync/internal/netid"
)

// DefaultFanout bounds the goroutines a broadcast uses at once.
const DefaultFanout = 8

// Fanout calls send for every peer with at most limit calls in flight and
// returns the first failure annotated with how many peers failed.
func Fanout(peers []netid.PeerID, limit int, send func(netid.PeerID) error) error {
	if len(peers) == 0 {
		return nil
	}
	if len(peers) == 1 {
		return send(peers[0])
	}
	if limit < 1 {
		limit = DefaultFanout
	}

	var (
		mu       sync.Mutex
		failed   int
		firstErr error
	)
	swg := sizedwaitgroup.New(limit)
	for _, peer := range peers {
		swg.Add()
		go func(peer netid.PeerID) {
			defer swg.Done()
			if err := send(peer); err != nil {
				mu.Lock()
				failed++
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(peer)
	}
	swg.Wait()

	if firstErr != nil {
		return eris.Wrapf(firstErr, "broadcast failed for %d/%d peers", failed, len(peers))
	}
	return nil
}
