// Package session tracks which peers belong to the running session and how
// far along their membership is.
package session

// Status is a peer's membership stage. Stages only move forward.
type Status uint8

const (
	StatusLobby Status = iota
	StatusJoining
	StatusActive
	StatusLeaving
)

func (s Status) String() string {
	switch s {
	case StatusLobby:
		return "lobby"
	case StatusJoining:
		return "joining"
	case StatusActive:
		return "active"
	case StatusLeaving:
		return "leaving"
	default:
		return "unknown"
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s <= StatusLeaving
}

// CanAdvance reports whether a peer in s may move to next.
func (s Status) CanAdvance(next Status) bool {
	return next.Valid() && next > s
}

// Result is the outcome of a registration attempt.
type Result uint8

const (
	ResultSuccess Result = iota
	ResultServerFull
	ResultDuplicate
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultServerFull:
		return "server_full"
	case ResultDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// OK reports whether the registration succeeded.
func (r Result) OK() bool {
	return r == ResultSuccess
}
