package geom

import "math"

// Quat is a rotation quaternion. The zero value is not a valid rotation; use
// IdentityQuat.
type Quat struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// IdentityQuat returns the rotation that leaves vectors unchanged.
func IdentityQuat() Quat {
	return Quat{W: 1}
}

// YawQuat builds a rotation of angle radians around the Y (up) axis.
func YawQuat(angle float64) Quat {
	half := angle / 2
	return Quat{Y: math.Sin(half), W: math.Cos(half)}
}

// Dot returns the 4D dot product.
func (q Quat) Dot(o Quat) float64 {
	return q.X*o.X + q.Y*o.Y + q.Z*o.Z + q.W*o.W
}

// Normalized returns q scaled to unit length, or identity for a zero quaternion.
func (q Quat) Normalized() Quat {
	length := math.Sqrt(q.Dot(q))
	if length == 0 {
		return IdentityQuat()
	}
	inv := 1 / length
	return Quat{X: q.X * inv, Y: q.Y * inv, Z: q.Z * inv, W: q.W * inv}
}

// Slerp spherically interpolates between a and b along the shortest arc.
func Slerp(a, b Quat, t float64) Quat {
	a = a.Normalized()
	b = b.Normalized()
	cos := a.Dot(b)
	if cos < 0 {
		b = Quat{X: -b.X, Y: -b.Y, Z: -b.Z, W: -b.W}
		cos = -cos
	}
	// Nearly parallel: fall back to nlerp to avoid dividing by sin(0).
	if cos > 0.9995 {
		return Quat{
			X: a.X + (b.X-a.X)*t,
			Y: a.Y + (b.Y-a.Y)*t,
			Z: a.Z + (b.Z-a.Z)*t,
			W: a.W + (b.W-a.W)*t,
		}.Normalized()
	}
	theta := math.Acos(cos)
	sin := math.Sin(theta)
	wa := math.Sin((1-t)*theta) / sin
	wb := math.Sin(t*theta) / sin
	return Quat{
		X: a.X*wa + b.X*wb,
		Y: a.Y*wa + b.Y*wb,
		Z: a.Z*wa + b.Z*wb,
		W: a.W*wa + b.W*wb,
	}
}
