package scene

import (
	"math"

	"avatarium/internal/sim/catalogs"
)

// ---- Debug/Test Helpers ----
//
// These helpers let black-box tests in sibling packages (e.g.
// internal/sim/scenetest) set up deterministic preconditions without reaching
// into scene internals.
//
// They are NOT safe to call concurrently with Run(). Prefer using them only
// in tests that drive the scene via StepOnce(), from a single goroutine.

// AvatarSnapshot is a read-only copy of one avatar's externally visible
// state.
type AvatarSnapshot struct {
	Idx     int
	Name    string
	Ready   bool
	Loading bool

	Pos Vec2
	Yaw float64

	Owner    Owner
	Clip     string
	PrevClip string
	FadeLeft int

	Mode       Mode
	ShouldWalk bool
}

// AvatarSnapshot returns the avatar at idx, if present.
func (s *Scene) AvatarSnapshot(idx int) (AvatarSnapshot, bool) {
	if s == nil || !s.validAvatar(idx) {
		return AvatarSnapshot{}, false
	}
	av := s.avatars[idx]
	snap := AvatarSnapshot{
		Idx:      idx,
		Name:     av.Name,
		Ready:    av.ready,
		Loading:  av.Loading(),
		Pos:      av.Pos,
		Yaw:      av.Yaw,
		Owner:    av.owner,
		Clip:     av.clip,
		PrevClip: av.prevClip,
		FadeLeft: av.fadeLeft,
	}
	if w := s.walkers[idx]; w != nil {
		snap.Mode = w.mode
		snap.ShouldWalk = w.shouldWalk
	}
	return snap, true
}

// AvatarCount reports how many slots are occupied.
func (s *Scene) AvatarCount() int {
	n := 0
	for _, av := range s.avatars {
		if av != nil {
			n++
		}
	}
	return n
}

func (s *Scene) DebugSetAvatarPos(idx int, x, z float64) bool {
	if s == nil || !s.validAvatar(idx) {
		return false
	}
	s.avatars[idx].Pos = Vec2{X: x, Z: z}
	return true
}

func (s *Scene) DebugSetAvatarYaw(idx int, yaw float64) bool {
	if s == nil || !s.validAvatar(idx) {
		return false
	}
	s.avatars[idx].Yaw = normAngle(yaw)
	return true
}

// DebugForceReady completes every pending model load immediately, creating
// walkers for the affected avatars.
func (s *Scene) DebugForceReady() {
	for idx, av := range s.avatars {
		if av == nil || av.ready {
			continue
		}
		av.loadLeft = 0
		av.tickLoad()
		s.walkers[idx] = newWalker(s, av)
		_ = av.PlayAnimation(catalogs.ClipIdle, 0)
	}
	s.refreshBootstrap()
}

// DebugSetHour moves the virtual clock to the given hour of day.
func (s *Scene) DebugSetHour(h float64) {
	d := math.Mod(h-s.cfg.StartHour, 24)
	if d < 0 {
		d += 24
	}
	s.vticks = d / 24 * float64(s.cfg.DayTicks)
	s.lastPhase = dayPhase(s.hour())
}

// DebugSetLastInteractionHour stamps the cooldown clock as if an interaction
// had started at hour h.
func (s *Scene) DebugSetLastInteractionHour(h float64) {
	s.director.lastStartHour = h
	s.director.started = true
}

// DebugActiveInteraction reports the current interaction, if any.
func (s *Scene) DebugActiveInteraction() (variant string, phase Phase, a, b int, ok bool) {
	it := s.director.active
	if it == nil {
		return "", PhaseDone, 0, 0, false
	}
	return it.variant.ID, it.phase, it.a, it.b, true
}

// DebugStateDigest returns the scene digest for the given tick label. For
// black-box determinism tests in sibling packages.
func (s *Scene) DebugStateDigest(nowTick uint64) string {
	if s == nil {
		return ""
	}
	return s.stateDigest(nowTick)
}

func (s *Scene) DebugPaused() bool { return s.paused }
