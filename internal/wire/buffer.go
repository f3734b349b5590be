// Package wire implements the growable little-endian byte cursor every packet
// and entity state is encoded with.
package wire

import (
	"encoding/binary"
	"math"

	"github.com/rotisserie/eris"

	"netsync/internal/geom"
)

const (
	// MaxStringLength bounds string fields; the length prefix is a uint16.
	MaxStringLength = math.MaxUint16
	// MaxNestedLength bounds nested buffers so a hostile length prefix cannot
	// force a large allocation.
	MaxNestedLength = 1 << 20
)

// Buffer is a read/write cursor over a byte slice. Writes always append;
// reads advance an offset from the start of the data. A Buffer is not safe
// for concurrent use.
type Buffer struct {
	data []byte
	off  int
}

// NewBuffer returns an empty buffer with the requested initial capacity.
func NewBuffer(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{data: make([]byte, 0, capacity)}
}

// FromBytes wraps data for reading. The slice is not copied.
func FromBytes(data []byte) *Buffer {
	return &Buffer{data: data}
}

// Bytes returns every byte written so far.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len reports the total number of bytes held.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Offset reports the current read position.
func (b *Buffer) Offset() int {
	return b.off
}

// Remaining reports how many unread bytes are left.
func (b *Buffer) Remaining() int {
	return len(b.data) - b.off
}

// Reset clears the buffer for reuse, keeping its capacity.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
	b.off = 0
}

// Rewind moves the read cursor back to the start.
func (b *Buffer) Rewind() {
	b.off = 0
}

func (b *Buffer) take(n int, field string) ([]byte, error) {
	if n < 0 || b.Remaining() < n {
		return nil, eris.Wrapf(ErrShortBuffer, "read %s: need %d bytes at offset %d, have %d", field, n, b.off, b.Remaining())
	}
	out := b.data[b.off : b.off+n]
	b.off += n
	return out, nil
}

// WriteUint8 appends a single byte.
func (b *Buffer) WriteUint8(v uint8) {
	b.data = append(b.data, v)
}

// WriteBool appends a byte holding 0 or 1. Prefer Flags when several booleans
// travel together.
func (b *Buffer) WriteBool(v bool) {
	if v {
		b.WriteUint8(1)
		return
	}
	b.WriteUint8(0)
}

// WriteUint16 appends v little-endian.
func (b *Buffer) WriteUint16(v uint16) {
	b.data = binary.LittleEndian.AppendUint16(b.data, v)
}

// WriteUint32 appends v little-endian.
func (b *Buffer) WriteUint32(v uint32) {
	b.data = binary.LittleEndian.AppendUint32(b.data, v)
}

// WriteUint64 appends v little-endian.
func (b *Buffer) WriteUint64(v uint64) {
	b.data = binary.LittleEndian.AppendUint64(b.data, v)
}

// WriteInt16 appends v little-endian.
func (b *Buffer) WriteInt16(v int16) {
	b.WriteUint16(uint16(v))
}

// WriteInt32 appends v little-endian.
func (b *Buffer) WriteInt32(v int32) {
	b.WriteUint32(uint32(v))
}

// WriteInt64 appends v little-endian.
func (b *Buffer) WriteInt64(v int64) {
	b.WriteUint64(uint64(v))
}

// WriteFloat32 appends the IEEE-754 bits of v.
func (b *Buffer) WriteFloat32(v float32) {
	b.WriteUint32(math.Float32bits(v))
}

// WriteFloat64 appends the IEEE-754 bits of v.
func (b *Buffer) WriteFloat64(v float64) {
	b.WriteUint64(math.Float64bits(v))
}

// WriteVec3 appends three float32 components.
func (b *Buffer) WriteVec3(v geom.Vec3) {
	b.WriteFloat32(float32(v.X))
	b.WriteFloat32(float32(v.Y))
	b.WriteFloat32(float32(v.Z))
}

// WriteQuat appends four float32 components.
func (b *Buffer) WriteQuat(q geom.Quat) {
	b.WriteFloat32(float32(q.X))
	b.WriteFloat32(float32(q.Y))
	b.WriteFloat32(float32(q.Z))
	b.WriteFloat32(float32(q.W))
}

// WriteFlags appends a packed bitmask byte.
func (b *Buffer) WriteFlags(f Flags) {
	b.WriteUint8(uint8(f))
}

// WriteString appends a uint16 length prefix followed by the UTF-8 bytes.
func (b *Buffer) WriteString(s string) error {
	if len(s) > MaxStringLength {
		return eris.Wrapf(ErrOversized, "write string: %d bytes exceeds %d", len(s), MaxStringLength)
	}
	b.WriteUint16(uint16(len(s)))
	b.data = append(b.data, s...)
	return nil
}

// WriteRaw appends p without a length prefix.
func (b *Buffer) WriteRaw(p []byte) {
	b.data = append(b.data, p...)
}

// WriteBytes appends a uint32 length prefix followed by p.
func (b *Buffer) WriteBytes(p []byte) error {
	if len(p) > MaxNestedLength {
		return eris.Wrapf(ErrOversized, "write bytes: %d bytes exceeds %d", len(p), MaxNestedLength)
	}
	b.WriteUint32(uint32(len(p)))
	b.data = append(b.data, p...)
	return nil
}

// WriteBuffer nests the written contents of other behind a length prefix.
func (b *Buffer) WriteBuffer(other *Buffer) error {
	if other == nil {
		return b.WriteBytes(nil)
	}
	return b.WriteBytes(other.Bytes())
}

// ReadUint8 consumes one byte.
func (b *Buffer) ReadUint8() (uint8, error) {
	p, err := b.take(1, "uint8")
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

// ReadBool consumes a byte written by WriteBool.
func (b *Buffer) ReadBool() (bool, error) {
	v, err := b.ReadUint8()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// ReadUint16 consumes a little-endian uint16.
func (b *Buffer) ReadUint16() (uint16, error) {
	p, err := b.take(2, "uint16")
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(p), nil
}

// ReadUint32 consumes a little-endian uint32.
func (b *Buffer) ReadUint32() (uint32, error) {
	p, err := b.take(4, "uint32")
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(p), nil
}

// ReadUint64 consumes a little-endian uint64.
func (b *Buffer) ReadUint64() (uint64, error) {
	p, err := b.take(8, "uint64")
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(p), nil
}

// ReadInt16 consumes a little-endian int16.
func (b *Buffer) ReadInt16() (int16, error) {
	v, err := b.ReadUint16()
	return int16(v), err
}

// ReadInt32 consumes a little-endian int32.
func (b *Buffer) ReadInt32() (int32, error) {
	v, err := b.ReadUint32()
	return int32(v), err
}

// ReadInt64 consumes a little-endian int64.
func (b *Buffer) ReadInt64() (int64, error) {
	v, err := b.ReadUint64()
	return int64(v), err
}

// ReadFloat32 consumes an IEEE-754 float32.
func (b *Buffer) ReadFloat32() (float32, error) {
	v, err := b.ReadUint32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// ReadFloat64 consumes an IEEE-754 float64.
func (b *Buffer) ReadFloat64() (float64, error) {
	v, err := b.ReadUint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

// ReadVec3 consumes three float32 components.
func (b *Buffer) ReadVec3() (geom.Vec3, error) {
	p, err := b.take(12, "vec3")
	if err != nil {
		return geom.Vec3{}, err
	}
	return geom.Vec3{
		X: float64(math.Float32frombits(binary.LittleEndian.Uint32(p[0:4]))),
		Y: float64(math.Float32frombits(binary.LittleEndian.Uint32(p[4:8]))),
		Z: float64(math.Float32frombits(binary.LittleEndian.Uint32(p[8:12]))),
	}, nil
}

// ReadQuat consumes four float32 components.
func (b *Buffer) ReadQuat() (geom.Quat, error) {
	p, err := b.take(16, "quat")
	if err != nil {
		return geom.Quat{}, err
	}
	return geom.Quat{
		X: float64(math.Float32frombits(binary.LittleEndian.Uint32(p[0:4]))),
		Y: float64(math.Float32frombits(binary.LittleEndian.Uint32(p[4:8]))),
		Z: float64(math.Float32frombits(binary.LittleEndian.Uint32(p[8:12]))),
		W: float64(math.Float32frombits(binary.LittleEndian.Uint32(p[12:16]))),
	}, nil
}

// ReadFlags consumes a bitmask byte.
func (b *Buffer) ReadFlags() (Flags, error) {
	v, err := b.ReadUint8()
	return Flags(v), err
}

// ReadString consumes a string written by WriteString.
func (b *Buffer) ReadString() (string, error) {
	n, err := b.ReadUint16()
	if err != nil {
		return "", err
	}
	p, err := b.take(int(n), "string")
	if err != nil {
		return "", err
	}
	return string(p), nil
}

// ReadRaw consumes exactly n bytes. The returned slice aliases the buffer.
func (b *Buffer) ReadRaw(n int) ([]byte, error) {
	return b.take(n, "raw")
}

// ReadBytes consumes a length-prefixed byte slice. The returned slice is a copy.
func (b *Buffer) ReadBytes() ([]byte, error) {
	n, err := b.ReadUint32()
	if err != nil {
		return nil, err
	}
	if n > MaxNestedLength {
		return nil, eris.Wrapf(ErrOversized, "read bytes: length %d exceeds %d", n, MaxNestedLength)
	}
	p, err := b.take(int(n), "bytes")
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(p))
	copy(out, p)
	return out, nil
}

// ReadBuffer consumes a nested buffer written by WriteBuffer.
func (b *Buffer) ReadBuffer() (*Buffer, error) {
	p, err := b.ReadBytes()
	if err != nil {
		return nil, err
	}
	return FromBytes(p), nil
}
