package entities

import (
	"math"

	"netsync/internal/geom"
	"netsync/internal/input"
	"netsync/internal/replication"
	"netsync/internal/wire"
)

// Beacon is a static world marker whose only changing state is a pulse
// phase. Its label and color travel once in the spawn message.
type Beacon struct {
	Label    string
	Color    uint32
	Position geom.Vec3
	Phase    float64
	Period   float64
}

// NewBeacon returns a beacon pulsing once per second.
func NewBeacon() *Beacon {
	return &Beacon{Period: 1}
}

func (b *Beacon) SerializeState(buf *wire.Buffer) error {
	buf.WriteVec3(b.Position)
	buf.WriteFloat32(float32(b.Phase))
	return nil
}

func (b *Beacon) DeserializeState(buf *wire.Buffer) error {
	position, err := buf.ReadVec3()
	if err != nil {
		return err
	}
	phase, err := buf.ReadFloat32()
	if err != nil {
		return err
	}
	b.Position = position
	b.Phase = float64(phase)
	return nil
}

func (b *Beacon) PackSpawnState(buf *wire.Buffer) error {
	if err := buf.WriteString(b.Label); err != nil {
		return err
	}
	buf.WriteUint32(b.Color)
	buf.WriteFloat32(float32(b.Period))
	return b.SerializeState(buf)
}

func (b *Beacon) ApplySpawnState(buf *wire.Buffer) error {
	label, err := buf.ReadString()
	if err != nil {
		return err
	}
	color, err := buf.ReadUint32()
	if err != nil {
		return err
	}
	period, err := buf.ReadFloat32()
	if err != nil {
		return err
	}
	if err := b.DeserializeState(buf); err != nil {
		return err
	}
	b.Label = label
	b.Color = color
	b.Period = float64(period)
	return nil
}

// ApplyInput is a no-op; beacons are not controllable.
func (b *Beacon) ApplyInput(input.Sample) {}

// Simulate advances the pulse phase, wrapping at 1.
func (b *Beacon) Simulate(delta float64) {
	if b.Period <= 0 || delta <= 0 {
		return
	}
	b.Phase = math.Mod(b.Phase+delta/b.Period, 1)
}

func (b *Beacon) Transform() geom.Transform {
	return geom.Transform{Position: b.Position, Rotation: geom.IdentityQuat()}
}

func (b *Beacon) SetTransform(t geom.Transform) {
	b.Position = t.Position
}

var (
	_ replication.Entity  = (*Beacon)(nil)
	_ replication.Spatial = (*Beacon)(nil)
)

// Register adds every entity type in this package to registry.
func Register(registry *replication.Registry) error {
	if err := registry.Register(TypeAvatar, func() replication.Entity { return NewAvatar() }); err != nil {
		return err
	}
	return registry.Register(TypeBeacon, func() replication.Entity { return NewBeacon() })
}

// NewRegistry returns a registry holding every entity type in this package.
func NewRegistry() *replication.Registry {
	registry := replication.NewRegistry()
	if err := Register(registry); err != nil {
		panic(err)
	}
	return registry
}
