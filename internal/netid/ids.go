// Package netid defines the identifiers shared by every replication component.
package netid

import "strconv"

// PeerID identifies a connected participant. The authoritative host is always
// HostPeer; remote peers are numbered from FirstRemotePeer upward by the host
// transport.
type PeerID int32

const (
	// NoPeer marks an unset peer reference.
	NoPeer PeerID = 0
	// HostPeer is reserved for the authoritative host.
	HostPeer PeerID = 1
	// FirstRemotePeer is the first id handed to a remote participant.
	FirstRemotePeer PeerID = 2
)

// IsHost reports whether the id refers to the authoritative host.
func (p PeerID) IsHost() bool {
	return p == HostPeer
}

func (p PeerID) String() string {
	return "peer-" + strconv.FormatInt(int64(p), 10)
}

// EntityID identifies a replicated object. Ids are assigned by the authority
// starting at 1; zero is never a valid entity.
type EntityID uint32

// NoEntity marks an unset entity reference.
const NoEntity EntityID = 0

func (e EntityID) String() string {
	return "entity-" + strconv.FormatUint(uint64(e), 10)
}
