// Package entities provides the replicated entity types used by the demo
// binaries: a player-controlled avatar and a static beacon.
package entities

import (
	"math"

	"github.com/rotisserie/eris"

	"netsync/internal/geom"
	"netsync/internal/input"
	"netsync/internal/replication"
	"netsync/internal/wire"
)

// Type tags carried in spawn messages.
const (
	TypeAvatar = "avatar"
	TypeBeacon = "beacon"
)

// DefaultAvatarSpeed is the avatar's ground speed in units per second.
const DefaultAvatarSpeed = 5.0

const (
	avatarHasPosition uint = iota
	avatarHasRotation
	avatarHasVelocity
	avatarCrouched
)

// Avatar is a kinematic body steered by input samples. Its per-tick state
// omits the rotation while it is the identity and the velocity while at rest.
type Avatar struct {
	Name     string
	Speed    float64
	Position geom.Vec3
	Rotation geom.Quat
	Velocity geom.Vec3
	Crouched bool
}

// NewAvatar returns an avatar at the origin.
func NewAvatar() *Avatar {
	return &Avatar{Speed: DefaultAvatarSpeed, Rotation: geom.IdentityQuat()}
}

func (a *Avatar) SerializeState(buf *wire.Buffer) error {
	var flags wire.Flags
	flags.Set(avatarHasPosition, !a.Position.IsZero())
	flags.Set(avatarHasRotation, a.Rotation != geom.IdentityQuat())
	flags.Set(avatarHasVelocity, !a.Velocity.IsZero())
	flags.Set(avatarCrouched, a.Crouched)
	buf.WriteFlags(flags)
	if flags.Has(avatarHasPosition) {
		buf.WriteVec3(a.Position)
	}
	if flags.Has(avatarHasRotation) {
		buf.WriteQuat(a.Rotation)
	}
	if flags.Has(avatarHasVelocity) {
		buf.WriteVec3(a.Velocity)
	}
	return nil
}

func (a *Avatar) DeserializeState(buf *wire.Buffer) error {
	flags, err := buf.ReadFlags()
	if err != nil {
		return err
	}
	if flags.Mask(4) != flags {
		return eris.Wrapf(wire.ErrInvalidFlags, "avatar flags %08b", flags)
	}
	position := geom.Vec3{}
	rotation := geom.IdentityQuat()
	velocity := geom.Vec3{}
	if flags.Has(avatarHasPosition) {
		if position, err = buf.ReadVec3(); err != nil {
			return err
		}
	}
	if flags.Has(avatarHasRotation) {
		if rotation, err = buf.ReadQuat(); err != nil {
			return err
		}
	}
	if flags.Has(avatarHasVelocity) {
		if velocity, err = buf.ReadVec3(); err != nil {
			return err
		}
	}
	a.Position = position
	a.Rotation = rotation
	a.Velocity = velocity
	a.Crouched = flags.Has(avatarCrouched)
	return nil
}

func (a *Avatar) PackSpawnState(buf *wire.Buffer) error {
	if err := buf.WriteString(a.Name); err != nil {
		return err
	}
	buf.WriteFloat32(float32(a.Speed))
	return a.SerializeState(buf)
}

func (a *Avatar) ApplySpawnState(buf *wire.Buffer) error {
	name, err := buf.ReadString()
	if err != nil {
		return err
	}
	speed, err := buf.ReadFloat32()
	if err != nil {
		return err
	}
	if err := a.DeserializeState(buf); err != nil {
		return err
	}
	a.Name = name
	a.Speed = float64(speed)
	return nil
}

// ApplyInput turns the sample's movement direction into a velocity and its
// look-at point into a yaw.
func (a *Avatar) ApplyInput(sample input.Sample) {
	move := geom.Vec3{X: sample.Move.X, Z: sample.Move.Z}
	if move.LengthSquared() > 1 {
		move = move.Normalized()
	}
	speed := a.Speed
	a.Crouched = sample.Pressed(input.ButtonCrouch)
	if a.Crouched {
		speed *= 0.5
	}
	a.Velocity = move.Scale(speed)
	look := geom.Vec3{X: sample.LookAt.X - a.Position.X, Z: sample.LookAt.Z - a.Position.Z}
	if !sample.LookAt.IsZero() && !look.IsZero() {
		a.Rotation = geom.YawQuat(math.Atan2(look.X, look.Z))
	}
}

// Simulate integrates velocity.
func (a *Avatar) Simulate(delta float64) {
	if delta <= 0 {
		return
	}
	a.Position = a.Position.Add(a.Velocity.Scale(delta))
}

func (a *Avatar) Transform() geom.Transform {
	return geom.Transform{Position: a.Position, Rotation: a.Rotation}
}

func (a *Avatar) SetTransform(t geom.Transform) {
	a.Position = t.Position
	a.Rotation = t.Rotation
}

var (
	_ replication.Entity  = (*Avatar)(nil)
	_ replication.Spatial = (*Avatar)(nil)
)
