package geom

// Transform is the spatial state interpolated for remote entities and compared
// during reconciliation.
type Transform struct {
	Position Vec3 `json:"position"`
	Rotation Quat `json:"rotation"`
}

// IdentityTransform is positioned at the origin with no rotation.
func IdentityTransform() Transform {
	return Transform{Rotation: IdentityQuat()}
}

// Blend interpolates position linearly and rotation spherically.
func Blend(from, to Transform, t float64) Transform {
	if t <= 0 {
		return from
	}
	if t >= 1 {
		return to
	}
	return Transform{
		Position: Lerp(from.Position, to.Position, t),
		Rotation: Slerp(from.Rotation, to.Rotation, t),
	}
}
