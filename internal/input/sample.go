// Package input captures, batches, and queues the per-tick intent samples
// peers send to the authority.
package input

import (
	"github.com/rotisserie/eris"

	"netsync/internal/geom"
	"netsync/internal/wire"
)

// Button bits carried in Sample.Buttons.
const (
	ButtonPrimary uint = iota
	ButtonSecondary
	ButtonJump
	ButtonCrouch
	ButtonSprint
	ButtonInteract
)

// MaxSamplesPerPacket bounds how many samples one input packet may carry.
const MaxSamplesPerPacket = 255

// Presence bits written ahead of a sample's optional fields.
const (
	fieldLookX uint = iota
	fieldLookY
	fieldLookZ
	fieldMoveX
	fieldMoveY
	fieldMoveZ
	fieldButtons
	fieldDelta
)

// MaxSampleSize is the encoded size of a sample with every field present.
const MaxSampleSize = 2 + 1 + 6*4 + 1 + 4

// Sample is one peer's intent for one tick. Samples are immutable once
// captured; Seq is assigned by the producing peer when the sample is
// recorded for transmission.
type Sample struct {
	Seq     uint16
	Delta   float64
	LookAt  geom.Vec3
	Move    geom.Vec3
	Buttons wire.Flags
}

// Equal compares the intent carried by two samples. Seq and Delta are
// bookkeeping and do not participate, so an unchanged stick position does not
// produce a new sample every tick.
func (s Sample) Equal(o Sample) bool {
	return s.LookAt == o.LookAt && s.Move == o.Move && s.Buttons == o.Buttons
}

// Pressed reports whether button bit b is held.
func (s Sample) Pressed(b uint) bool {
	return s.Buttons.Has(b)
}

// Encode writes the sample. Zero-valued axes, buttons, and delta are omitted
// and flagged absent in the leading bitmask.
func (s Sample) Encode(buf *wire.Buffer) {
	var mask wire.Flags
	mask.Set(fieldLookX, s.LookAt.X != 0)
	mask.Set(fieldLookY, s.LookAt.Y != 0)
	mask.Set(fieldLookZ, s.LookAt.Z != 0)
	mask.Set(fieldMoveX, s.Move.X != 0)
	mask.Set(fieldMoveY, s.Move.Y != 0)
	mask.Set(fieldMoveZ, s.Move.Z != 0)
	mask.Set(fieldButtons, s.Buttons != 0)
	mask.Set(fieldDelta, s.Delta != 0)

	buf.WriteUint16(s.Seq)
	buf.WriteFlags(mask)
	axes := [...]float64{s.LookAt.X, s.LookAt.Y, s.LookAt.Z, s.Move.X, s.Move.Y, s.Move.Z}
	for i, v := range axes {
		if mask.Has(uint(i)) {
			buf.WriteFloat32(float32(v))
		}
	}
	if mask.Has(fieldButtons) {
		buf.WriteFlags(s.Buttons)
	}
	if mask.Has(fieldDelta) {
		buf.WriteFloat32(float32(s.Delta))
	}
}

// DecodeSample reads a sample written by Encode.
func DecodeSample(buf *wire.Buffer) (Sample, error) {
	var s Sample
	seq, err := buf.ReadUint16()
	if err != nil {
		return Sample{}, err
	}
	s.Seq = seq
	mask, err := buf.ReadFlags()
	if err != nil {
		return Sample{}, err
	}
	var axes [6]float64
	for i := range axes {
		if !mask.Has(uint(i)) {
			continue
		}
		v, err := buf.ReadFloat32()
		if err != nil {
			return Sample{}, eris.Wrapf(err, "sample %d axis %d", seq, i)
		}
		axes[i] = float64(v)
	}
	s.LookAt = geom.Vec3{X: axes[0], Y: axes[1], Z: axes[2]}
	s.Move = geom.Vec3{X: axes[3], Y: axes[4], Z: axes[5]}
	if mask.Has(fieldButtons) {
		if s.Buttons, err = buf.ReadFlags(); err != nil {
			return Sample{}, err
		}
	}
	if mask.Has(fieldDelta) {
		d, err := buf.ReadFloat32()
		if err != nil {
			return Sample{}, err
		}
		s.Delta = float64(d)
	}
	return s, nil
}

// EncodeSamples writes a count-prefixed batch of samples.
func EncodeSamples(buf *wire.Buffer, samples []Sample) error {
	if len(samples) > MaxSamplesPerPacket {
		return eris.Wrapf(wire.ErrOversized, "encode %d samples exceeds %d", len(samples), MaxSamplesPerPacket)
	}
	buf.WriteUint8(uint8(len(samples)))
	for _, s := range samples {
		s.Encode(buf)
	}
	return nil
}

// DecodeSamples reads a batch written by EncodeSamples. Either every sample
// decodes or none are returned.
func DecodeSamples(buf *wire.Buffer) ([]Sample, error) {
	count, err := buf.ReadUint8()
	if err != nil {
		return nil, err
	}
	samples := make([]Sample, 0, count)
	for i := 0; i < int(count); i++ {
		s, err := DecodeSample(buf)
		if err != nil {
			return nil, eris.Wrapf(err, "sample %d of %d", i, count)
		}
		samples = append(samples, s)
	}
	return samples, nil
}

// SeqNewer reports whether a is after b in 16-bit serial-number arithmetic.
func SeqNewer(a, b uint16) bool {
	return int16(a-b) > 0
}

// UnwrapSeq expands a 16-bit sequence id to the full tick nearest reference.
func UnwrapSeq(seq uint16, reference uint64) uint64 {
	diff := int64(int16(seq - uint16(reference)))
	if diff < 0 && uint64(-diff) > reference {
		return uint64(seq)
	}
	return uint64(int64(reference) + diff)
}
