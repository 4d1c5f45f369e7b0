package scene

import "math"

// Vec2 is a position on the ground plane. The renderer keeps avatars at a
// fixed height, so the core tracks X/Z only.
type Vec2 struct {
	X float64 `json:"x"`
	Z float64 `json:"z"`
}

func distXZ(a, b Vec2) float64 {
	return math.Hypot(a.X-b.X, a.Z-b.Z)
}

func midpoint(a, b Vec2) Vec2 {
	return Vec2{X: (a.X + b.X) / 2, Z: (a.Z + b.Z) / 2}
}

// headingTo returns the yaw that faces from a toward b. Yaw 0 looks along +Z.
func headingTo(a, b Vec2) float64 {
	return math.Atan2(b.X-a.X, b.Z-a.Z)
}

// normAngle wraps d into (-pi, pi].
func normAngle(d float64) float64 {
	for d <= -math.Pi {
		d += 2 * math.Pi
	}
	for d > math.Pi {
		d -= 2 * math.Pi
	}
	return d
}

func clampf(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func clampInt(v, min, max, def int) int {
	if v == 0 {
		v = def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Owner says which system may drive an avatar's transform and clips. Every
// mutating update checks it first, so the walker and an interaction can never
// fight over the same body within a tick.
type Owner uint8

const (
	OwnerSelf Owner = iota
	OwnerInteraction
)

func (o Owner) String() string {
	if o == OwnerInteraction {
		return "INTERACTION"
	}
	return "SELF"
}

// Mode is the walker's coarse state, mirrored into frames for the renderer.
type Mode uint8

const (
	ModeIdle Mode = iota
	ModeWalking
	ModeSpecial
)

func (m Mode) String() string {
	switch m {
	case ModeWalking:
		return "WALK"
	case ModeSpecial:
		return "SPECIAL"
	default:
		return "IDLE"
	}
}
