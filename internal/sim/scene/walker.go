package scene

import (
	"math"

	"avatarium/internal/sim/catalogs"
)

// Walker drives one avatar's autonomous wander loop: walk for a while, stand
// for a while, sometimes play a gesture on arrival. It only runs while its
// avatar is self-owned; interactions suspend it and later hand the body back.
type Walker struct {
	s  *Scene
	av *Avatar

	shouldWalk bool
	mode       Mode
	frames     int
	duration   int

	target Vec2

	// Temporary override used by interaction approaches. While active the
	// toggle counter is held and arrival fires done exactly once. tmpHold
	// then pins the walker at the arrival spot until Suspend or a restore
	// lets go, so an early arriver waits for its partner.
	tmpActive bool
	tmpTarget Vec2
	tmpRadius float64
	tmpDone   func()
	tmpHold   bool

	suspended bool

	retargetCooldown int
}

func newWalker(s *Scene, av *Avatar) *Walker {
	w := &Walker{s: s, av: av}
	w.mode = ModeIdle
	w.duration = w.drawTicks(s.cfg.StopTicksMin, s.cfg.StopTicksMax)
	w.target = s.randomSafePoint()
	return w
}

// ShouldWalk reports the wander toggle, snapshotted by interactions before
// they take the avatar over.
func (w *Walker) ShouldWalk() bool { return w.shouldWalk }

// Mode reports the walker's coarse state.
func (w *Walker) Mode() Mode { return w.mode }

// Suspend hands the avatar over to an interaction. The walker stops driving
// it until Resume.
func (w *Walker) Suspend() {
	w.suspended = true
	w.tmpHold = false
	w.av.owner = OwnerInteraction
}

// Resume gives control back to the walker, restoring the walking flag that
// was captured when the interaction started.
func (w *Walker) Resume(shouldWalk bool) {
	w.suspended = false
	w.av.owner = OwnerSelf
	w.restoreToggle(shouldWalk)
}

// SetTemporaryTarget overrides the wander target until the avatar gets within
// radius of pos, then fires done once and holds in place until Suspend,
// Resume or another override takes over. A gesture already in flight finishes
// before the walk starts.
func (w *Walker) SetTemporaryTarget(pos Vec2, radius float64, done func()) {
	w.tmpActive = true
	w.tmpHold = false
	w.tmpTarget = pos
	w.tmpRadius = radius
	w.tmpDone = done
	w.shouldWalk = true
	if w.mode != ModeSpecial {
		w.mode = ModeWalking
		_ = w.av.PlayAnimation(catalogs.ClipWalk, w.s.cfg.FadeTicks)
	}
}

// ClearTemporaryTarget drops an unreached override without firing its
// callback.
func (w *Walker) ClearTemporaryTarget() {
	w.tmpActive = false
	w.tmpDone = nil
	w.tmpHold = false
}

func (w *Walker) update() {
	if !w.av.ready || w.suspended || w.av.owner != OwnerSelf {
		return
	}
	if w.retargetCooldown > 0 {
		w.retargetCooldown--
	}
	if w.mode == ModeSpecial || w.av.oneShot {
		// A gesture or closing clip is in flight; its finish callback moves
		// the walker on.
		return
	}

	if !w.tmpActive && !w.tmpHold {
		w.frames++
		if w.frames >= w.duration {
			w.toggle()
		}
	}

	if !w.shouldWalk {
		return
	}

	dst, arrive := w.target, w.s.cfg.ArriveRadius
	if w.tmpActive {
		dst, arrive = w.tmpTarget, w.tmpRadius
	}
	if distXZ(w.av.Pos, dst) <= arrive {
		w.arrive()
		return
	}

	want := headingTo(w.av.Pos, dst)
	diff := normAngle(want - w.av.Yaw)
	w.av.Yaw = normAngle(w.av.Yaw + w.s.cfg.YawRate*diff)
	if math.Abs(diff) >= w.s.cfg.YawGate {
		return
	}

	w.av.Pos.X += math.Sin(w.av.Yaw) * w.s.cfg.WalkSpeed
	w.av.Pos.Z += math.Cos(w.av.Yaw) * w.s.cfg.WalkSpeed
	w.clampToBounds()
}

func (w *Walker) toggle() {
	w.frames = 0
	w.shouldWalk = !w.shouldWalk
	if w.shouldWalk {
		w.mode = ModeWalking
		w.duration = w.drawTicks(w.s.cfg.WalkTicksMin, w.s.cfg.WalkTicksMax)
		if distXZ(w.av.Pos, w.target) <= w.s.cfg.ArriveRadius {
			w.target = w.s.randomSafePoint()
		}
		_ = w.av.PlayAnimation(catalogs.ClipWalk, w.s.cfg.FadeTicks)
		return
	}
	w.mode = ModeIdle
	w.duration = w.drawTicks(w.s.cfg.StopTicksMin, w.s.cfg.StopTicksMax)
	_ = w.av.PlayAnimation(catalogs.ClipIdle, w.s.cfg.FadeTicks)
}

func (w *Walker) arrive() {
	if w.tmpActive {
		done := w.tmpDone
		w.tmpActive = false
		w.tmpDone = nil
		// Pin the walker here until the interaction takes over; a resumed
		// wander would leave the meeting spot before the partner arrives.
		w.tmpHold = true
		w.shouldWalk = false
		w.mode = ModeIdle
		w.frames = 0
		_ = w.av.PlayAnimation(catalogs.ClipIdle, w.s.cfg.FadeTicks)
		if done != nil {
			done()
		}
		return
	}

	gestures := w.av.clips.Gestures
	if len(gestures) > 0 && w.s.rng.Float64() < w.s.cfg.SpecialChance {
		w.startSpecial(gestures[w.s.rng.Intn(len(gestures))])
		return
	}
	w.target = w.s.randomSafePoint()
}

func (w *Walker) startSpecial(clip string) {
	if err := w.av.PlayAnimation(clip, w.s.cfg.FadeTicks); err != nil {
		w.backToIdle()
		return
	}
	w.mode = ModeSpecial
	w.shouldWalk = false
	w.frames = 0
	w.av.OnFinished(func(string) { w.backToIdle() })
}

func (w *Walker) backToIdle() {
	if w.suspended || w.av.owner != OwnerSelf {
		return
	}
	w.frames = 0
	if w.tmpActive {
		// An approach was queued behind the gesture; start walking it now.
		w.mode = ModeWalking
		w.shouldWalk = true
		_ = w.av.PlayAnimation(catalogs.ClipWalk, w.s.cfg.FadeTicks)
		return
	}
	w.mode = ModeIdle
	w.shouldWalk = false
	w.duration = w.drawTicks(w.s.cfg.StopTicksMin, w.s.cfg.StopTicksMax)
	_ = w.av.PlayAnimation(catalogs.ClipIdle, w.s.cfg.FadeTicks)
}

// restoreToggle re-seats the wander loop after an interaction, re-arming the
// restored flag with a fresh duration and target. When a closing one-shot is
// still playing the clip switch waits for it to finish.
func (w *Walker) restoreToggle(shouldWalk bool) {
	w.tmpActive = false
	w.tmpDone = nil
	w.tmpHold = false
	w.frames = 0
	w.shouldWalk = shouldWalk
	if shouldWalk {
		w.mode = ModeWalking
		w.duration = w.drawTicks(w.s.cfg.WalkTicksMin, w.s.cfg.WalkTicksMax)
		w.target = w.s.randomSafePoint()
	} else {
		w.mode = ModeIdle
		w.duration = w.drawTicks(w.s.cfg.StopTicksMin, w.s.cfg.StopTicksMax)
	}
	if w.av.ready && w.av.oneShot {
		w.av.OnFinished(func(string) { w.applyModeClip() })
		return
	}
	w.applyModeClip()
}

func (w *Walker) applyModeClip() {
	if w.mode == ModeWalking {
		_ = w.av.PlayAnimation(catalogs.ClipWalk, w.s.cfg.FadeTicks)
		return
	}
	_ = w.av.PlayAnimation(catalogs.ClipIdle, w.s.cfg.FadeTicks)
}

func (w *Walker) clampToBounds() {
	lim := w.s.cfg.Boundary - w.s.cfg.Margin
	clamped := false
	if w.av.Pos.X < -lim {
		w.av.Pos.X = -lim
		clamped = true
	} else if w.av.Pos.X > lim {
		w.av.Pos.X = lim
		clamped = true
	}
	if w.av.Pos.Z < -lim {
		w.av.Pos.Z = -lim
		clamped = true
	} else if w.av.Pos.Z > lim {
		w.av.Pos.Z = lim
		clamped = true
	}
	if !clamped || w.tmpActive || w.retargetCooldown > 0 {
		return
	}
	w.target = w.s.randomSafePoint()
	w.retargetCooldown = w.s.cfg.RetargetDebounceTicks
}

func (w *Walker) drawTicks(min, max int) int {
	if max <= min {
		return min
	}
	return min + w.s.rng.Intn(max-min)
}
