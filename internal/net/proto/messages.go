// Package proto defines the messages exchanged between the authority and its
// peers and their binary encoding. Every message starts with a one-byte Kind.
package proto

import (
	"github.com/rotisserie/eris"

	"netsync/internal/input"
	"netsync/internal/netid"
	"netsync/internal/session"
	"netsync/internal/snapshot"
	"netsync/internal/wire"
)

// Version tracks the wire-protocol revision.
const Version = 1

// Kind identifies a message type on the wire.
type Kind uint8

const (
	KindInput Kind = iota + 1
	KindHeartbeat
	KindSpawn
	KindDespawn
	KindSpawnRequest
	KindEntityCount
	KindPlayerConnected
	KindPlayerDisconnected
	KindStatusChanged
	KindReady
	KindKick
	KindRegistrationResult
)

var kindNames = map[Kind]string{
	KindInput:              "input",
	KindHeartbeat:          "heartbeat",
	KindSpawn:              "spawn",
	KindDespawn:            "despawn",
	KindSpawnRequest:       "spawn_request",
	KindEntityCount:        "entity_count",
	KindPlayerConnected:    "player_connected",
	KindPlayerDisconnected: "player_disconnected",
	KindStatusChanged:      "status_changed",
	KindReady:              "ready",
	KindKick:               "kick",
	KindRegistrationResult: "registration_result",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Reliable reports whether the kind must travel on the reliable channel.
// Per-tick traffic is unreliable and superseded by the next tick.
func (k Kind) Reliable() bool {
	return k != KindInput && k != KindHeartbeat
}

var (
	// ErrUnknownKind is returned for a leading byte that names no message.
	ErrUnknownKind = eris.New("proto: unknown message kind")
	// ErrTrailingData is returned when bytes remain after a complete message.
	ErrTrailingData = eris.New("proto: trailing data")
	// ErrEmpty is returned for a zero-length packet.
	ErrEmpty = eris.New("proto: empty packet")
)

// IsProtocolViolation reports whether err means the packet was malformed.
func IsProtocolViolation(err error) bool {
	return wire.IsProtocolViolation(err) ||
		eris.Is(err, ErrUnknownKind) ||
		eris.Is(err, ErrTrailingData) ||
		eris.Is(err, ErrEmpty)
}

// Message is implemented by every wire message.
type Message interface {
	Kind() Kind
	encode(buf *wire.Buffer) error
}

// Input carries the samples a peer captured since its last packet.
type Input struct {
	Samples []input.Sample
}

// Heartbeat is the authority's per-tick push to one peer. The flags byte in
// front of the body records which optional sections follow.
type Heartbeat struct {
	Tick     uint64
	HasAck   bool
	Ack      uint16
	HasState bool
	State    snapshot.WorldState
}

const (
	heartbeatFlagAck uint = iota
	heartbeatFlagState
	heartbeatFlagCount
)

// Spawn announces a replicated entity.
type Spawn struct {
	Entity netid.EntityID
	Type   string
	Owner  netid.PeerID
	State  []byte
}

// Despawn removes a replicated entity.
type Despawn struct {
	Entity netid.EntityID
}

// SpawnRequest asks the authority to resend the spawn for an entity the
// peer saw in a heartbeat but never spawned.
type SpawnRequest struct {
	Entity netid.EntityID
}

// EntityCount tells a joining peer how many spawns its catch-up will carry.
type EntityCount struct {
	Count uint32
}

// PlayerConnected announces a new session member to the others.
type PlayerConnected struct {
	Peer netid.PeerID
	Name string
}

// PlayerDisconnected announces a member's departure.
type PlayerDisconnected struct {
	Peer   netid.PeerID
	Reason string
}

// StatusChanged announces a member's new status.
type StatusChanged struct {
	Peer   netid.PeerID
	Status session.Status
}

// Ready is sent by a peer once it wants to join the running session.
type Ready struct {
	Name    string
	Version uint8
}

// Kick tells a peer it is being removed.
type Kick struct {
	Reason string
}

// RegistrationResult answers Ready. On success it names the peer's id, the
// entity it controls, and the authority tick the peer should start from.
type RegistrationResult struct {
	Result session.Result
	Peer   netid.PeerID
	Entity netid.EntityID
	Tick   uint64
}

func (Input) Kind() Kind              { return KindInput }
func (Heartbeat) Kind() Kind          { return KindHeartbeat }
func (Spawn) Kind() Kind              { return KindSpawn }
func (Despawn) Kind() Kind            { return KindDespawn }
func (SpawnRequest) Kind() Kind       { return KindSpawnRequest }
func (EntityCount) Kind() Kind        { return KindEntityCount }
func (PlayerConnected) Kind() Kind    { return KindPlayerConnected }
func (PlayerDisconnected) Kind() Kind { return KindPlayerDisconnected }
func (StatusChanged) Kind() Kind      { return KindStatusChanged }
func (Ready) Kind() Kind              { return KindReady }
func (Kick) Kind() Kind               { return KindKick }
func (RegistrationResult) Kind() Kind { return KindRegistrationResult }

// Encode renders msg with its kind byte.
func Encode(msg Message) ([]byte, error) {
	buf := wire.NewBuffer(64)
	buf.WriteUint8(uint8(msg.Kind()))
	if err := msg.encode(buf); err != nil {
		return nil, eris.Wrapf(err, "encode %s", msg.Kind())
	}
	return buf.Bytes(), nil
}

// PeekKind returns the kind byte of data without decoding the body.
func PeekKind(data []byte) (Kind, error) {
	if len(data) == 0 {
		return 0, ErrEmpty
	}
	kind := Kind(data[0])
	if _, ok := kindNames[kind]; !ok {
		return kind, eris.Wrapf(ErrUnknownKind, "kind %d", data[0])
	}
	return kind, nil
}

// Decode parses a complete message. Nothing is returned unless the whole
// packet is well formed.
func Decode(data []byte) (Message, error) {
	kind, err := PeekKind(data)
	if err != nil {
		return nil, err
	}
	buf := wire.FromBytes(data[1:])
	var msg Message
	switch kind {
	case KindInput:
		msg, err = decodeInput(buf)
	case KindHeartbeat:
		msg, err = decodeHeartbeat(buf)
	case KindSpawn:
		msg, err = decodeSpawn(buf)
	case KindDespawn:
		var id uint32
		id, err = buf.ReadUint32()
		msg = Despawn{Entity: netid.EntityID(id)}
	case KindSpawnRequest:
		var id uint32
		id, err = buf.ReadUint32()
		msg = SpawnRequest{Entity: netid.EntityID(id)}
	case KindEntityCount:
		var count uint32
		count, err = buf.ReadUint32()
		msg = EntityCount{Count: count}
	case KindPlayerConnected:
		msg, err = decodePlayerConnected(buf)
	case KindPlayerDisconnected:
		msg, err = decodePlayerDisconnected(buf)
	case KindStatusChanged:
		msg, err = decodeStatusChanged(buf)
	case KindReady:
		msg, err = decodeReady(buf)
	case KindKick:
		var reason string
		reason, err = buf.ReadString()
		msg = Kick{Reason: reason}
	case KindRegistrationResult:
		msg, err = decodeRegistrationResult(buf)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "decode %s", kind)
	}
	if buf.Remaining() != 0 {
		return nil, eris.Wrapf(ErrTrailingData, "decode %s: %d bytes left", kind, buf.Remaining())
	}
	return msg, nil
}

func (m Input) encode(buf *wire.Buffer) error {
	return input.EncodeSamples(buf, m.Samples)
}

func decodeInput(buf *wire.Buffer) (Message, error) {
	samples, err := input.DecodeSamples(buf)
	if err != nil {
		return nil, err
	}
	return Input{Samples: samples}, nil
}

func (m Heartbeat) encode(buf *wire.Buffer) error {
	if m.Tick > 0xFFFFFFFF {
		return eris.Wrapf(wire.ErrOversized, "heartbeat tick %d", m.Tick)
	}
	buf.WriteFlags(wire.PackFlags(m.HasAck, m.HasState))
	buf.WriteUint32(uint32(m.Tick))
	if m.HasAck {
		buf.WriteUint16(m.Ack)
	}
	if m.HasState {
		return m.State.Encode(buf)
	}
	return nil
}

func decodeHeartbeat(buf *wire.Buffer) (Message, error) {
	flags, err := buf.ReadFlags()
	if err != nil {
		return nil, err
	}
	if flags.Mask(heartbeatFlagCount) != flags {
		return nil, eris.Wrapf(wire.ErrInvalidFlags, "heartbeat flags %08b", flags)
	}
	tick, err := buf.ReadUint32()
	if err != nil {
		return nil, err
	}
	hb := Heartbeat{Tick: uint64(tick)}
	if flags.Has(heartbeatFlagAck) {
		hb.HasAck = true
		if hb.Ack, err = buf.ReadUint16(); err != nil {
			return nil, err
		}
	}
	if flags.Has(heartbeatFlagState) {
		hb.HasState = true
		if hb.State, err = snapshot.Decode(buf); err != nil {
			return nil, err
		}
	}
	return hb, nil
}

func (m Spawn) encode(buf *wire.Buffer) error {
	buf.WriteUint32(uint32(m.Entity))
	if err := buf.WriteString(m.Type); err != nil {
		return err
	}
	buf.WriteInt32(int32(m.Owner))
	return buf.WriteBytes(m.State)
}

func decodeSpawn(buf *wire.Buffer) (Message, error) {
	id, err := buf.ReadUint32()
	if err != nil {
		return nil, err
	}
	typ, err := buf.ReadString()
	if err != nil {
		return nil, err
	}
	owner, err := buf.ReadInt32()
	if err != nil {
		return nil, err
	}
	state, err := buf.ReadBytes()
	if err != nil {
		return nil, err
	}
	return Spawn{Entity: netid.EntityID(id), Type: typ, Owner: netid.PeerID(owner), State: state}, nil
}

func (m Despawn) encode(buf *wire.Buffer) error {
	buf.WriteUint32(uint32(m.Entity))
	return nil
}

func (m SpawnRequest) encode(buf *wire.Buffer) error {
	buf.WriteUint32(uint32(m.Entity))
	return nil
}

func (m EntityCount) encode(buf *wire.Buffer) error {
	buf.WriteUint32(m.Count)
	return nil
}

func (m PlayerConnected) encode(buf *wire.Buffer) error {
	buf.WriteInt32(int32(m.Peer))
	return buf.WriteString(m.Name)
}

func decodePlayerConnected(buf *wire.Buffer) (Message, error) {
	peer, err := buf.ReadInt32()
	if err != nil {
		return nil, err
	}
	name, err := buf.ReadString()
	if err != nil {
		return nil, err
	}
	return PlayerConnected{Peer: netid.PeerID(peer), Name: name}, nil
}

func (m PlayerDisconnected) encode(buf *wire.Buffer) error {
	buf.WriteInt32(int32(m.Peer))
	return buf.WriteString(m.Reason)
}

func decodePlayerDisconnected(buf *wire.Buffer) (Message, error) {
	peer, err := buf.ReadInt32()
	if err != nil {
		return nil, err
	}
	reason, err := buf.ReadString()
	if err != nil {
		return nil, err
	}
	return PlayerDisconnected{Peer: netid.PeerID(peer), Reason: reason}, nil
}

func (m StatusChanged) encode(buf *wire.Buffer) error {
	buf.WriteInt32(int32(m.Peer))
	buf.WriteUint8(uint8(m.Status))
	return nil
}

func decodeStatusChanged(buf *wire.Buffer) (Message, error) {
	peer, err := buf.ReadInt32()
	if err != nil {
		return nil, err
	}
	raw, err := buf.ReadUint8()
	if err != nil {
		return nil, err
	}
	status := session.Status(raw)
	if !status.Valid() {
		return nil, eris.Wrapf(wire.ErrInvalidFlags, "status %d", raw)
	}
	return StatusChanged{Peer: netid.PeerID(peer), Status: status}, nil
}

func (m Ready) encode(buf *wire.Buffer) error {
	buf.WriteUint8(m.Version)
	return buf.WriteString(m.Name)
}

func decodeReady(buf *wire.Buffer) (Message, error) {
	version, err := buf.ReadUint8()
	if err != nil {
		return nil, err
	}
	name, err := buf.ReadString()
	if err != nil {
		return nil, err
	}
	return Ready{Name: name, Version: version}, nil
}

func (m Kick) encode(buf *wire.Buffer) error {
	return buf.WriteString(m.Reason)
}

func (m RegistrationResult) encode(buf *wire.Buffer) error {
	buf.WriteUint8(uint8(m.Result))
	buf.WriteInt32(int32(m.Peer))
	buf.WriteUint32(uint32(m.Entity))
	buf.WriteUint64(m.Tick)
	return nil
}

func decodeRegistrationResult(buf *wire.Buffer) (Message, error) {
	result, err := buf.ReadUint8()
	if err != nil {
		return nil, err
	}
	peer, err := buf.ReadInt32()
	if err != nil {
		return nil, err
	}
	entity, err := buf.ReadUint32()
	if err != nil {
		return nil, err
	}
	tick, err := buf.ReadUint64()
	if err != nil {
		return nil, err
	}
	return RegistrationResult{
		Result: session.Result(result),
		Peer:   netid.PeerID(peer),
		Entity: netid.EntityID(entity),
		Tick:   tick,
	}, nil
}
