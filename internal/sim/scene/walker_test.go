package scene

import (
	"math"
	"testing"

	"avatarium/internal/sim/catalogs"
)

// soloScene builds a one-avatar scene so the director never schedules an
// interaction underneath the walker assertions.
func soloScene(t *testing.T, mut func(*Config)) *Scene {
	t.Helper()
	return newTestScene(t, func(c *Config) {
		c.AvatarCount = 1
		c.AvatarNames = []string{"mio"}
		if mut != nil {
			mut(c)
		}
	})
}

func TestWalkerTogglesBetweenIdleAndWalk(t *testing.T) {
	s := soloScene(t, func(c *Config) {
		c.StopTicksMin, c.StopTicksMax = 4, 4
		c.WalkTicksMin, c.WalkTicksMax = 6, 6
	})
	s.DebugForceReady()
	w := s.walkers[0]

	// Pin the geometry so the walk windows are pure rotation/translation and
	// the avatar never reaches its target mid-window.
	s.DebugSetAvatarPos(0, 0, 0)
	w.target = Vec2{X: 5, Z: 5}

	modeAt := map[int]Mode{}
	clipAt := map[int]string{}
	for i := 1; i <= 19; i++ {
		s.StepOnce(nil)
		snap, _ := s.AvatarSnapshot(0)
		modeAt[i] = snap.Mode
		clipAt[i] = snap.Clip
	}

	// Stop window 4 ticks, walk window 6 ticks: idle 1-3, walk 4-9,
	// idle 10-13, walk 14-19.
	for tick, want := range map[int]Mode{
		1: ModeIdle, 3: ModeIdle,
		4: ModeWalking, 9: ModeWalking,
		10: ModeIdle, 13: ModeIdle,
		14: ModeWalking, 19: ModeWalking,
	} {
		if modeAt[tick] != want {
			t.Fatalf("tick %d: mode = %v, want %v", tick, modeAt[tick], want)
		}
	}
	if clipAt[4] != catalogs.ClipWalk || clipAt[10] != catalogs.ClipIdle {
		t.Fatalf("clips did not follow the toggle: walk=%q idle=%q", clipAt[4], clipAt[10])
	}
}

func TestWalkerTurnsBeforeTranslating(t *testing.T) {
	s := soloScene(t, nil)
	s.DebugForceReady()
	w := s.walkers[0]

	av := s.avatars[0]
	av.Pos = Vec2{}
	av.Yaw = 2.5
	w.shouldWalk = true
	w.mode = ModeWalking
	w.frames = 0
	w.duration = 10_000
	w.target = Vec2{X: 0, Z: 6} // heading 0

	moved := false
	prevAbs := math.Abs(normAngle(0 - av.Yaw))
	for i := 0; i < 200; i++ {
		preDiff := math.Abs(normAngle(headingTo(av.Pos, w.target) - av.Yaw))
		before := av.Pos
		w.update()
		if av.Pos != before {
			moved = true
			if preDiff >= s.cfg.YawGate {
				t.Fatalf("translated while misaligned by %v rad", preDiff)
			}
		}
		abs := math.Abs(normAngle(headingTo(av.Pos, w.target) - av.Yaw))
		if !moved && abs > prevAbs+1e-12 {
			t.Fatalf("yaw error grew during turn: %v -> %v", prevAbs, abs)
		}
		prevAbs = abs
	}
	if !moved {
		t.Fatalf("avatar never started translating")
	}
	if av.Pos.Z <= 0.5 {
		t.Fatalf("avatar barely moved: %+v", av.Pos)
	}
}

func TestWalkerTakesShortestTurnAcrossPi(t *testing.T) {
	s := soloScene(t, nil)
	s.DebugForceReady()
	w := s.walkers[0]

	av := s.avatars[0]
	av.Pos = Vec2{}
	av.Yaw = 3.0
	w.shouldWalk = true
	w.mode = ModeWalking
	w.duration = 10_000
	// Heading -3.0: the short way from +3.0 is up through pi, not back
	// through zero.
	w.target = Vec2{X: 5 * math.Sin(-3.0), Z: 5 * math.Cos(-3.0)}

	w.update()
	if av.Yaw <= 3.0 {
		t.Fatalf("turned the long way: yaw = %v", av.Yaw)
	}
	if av.Yaw > math.Pi {
		t.Fatalf("yaw left normalized range: %v", av.Yaw)
	}
}

func TestWalkerClampsAtBoundaryAndDebouncesRetarget(t *testing.T) {
	s := soloScene(t, func(c *Config) {
		c.Boundary = 5
		c.Margin = 0.5
		c.RetargetDebounceTicks = 10
	})
	s.DebugForceReady()
	w := s.walkers[0]

	av := s.avatars[0]
	av.Pos = Vec2{X: 0, Z: 4.49}
	av.Yaw = 0 // facing +Z, straight at the wall
	w.shouldWalk = true
	w.mode = ModeWalking
	w.duration = 10_000
	outside := Vec2{X: 0, Z: 9}
	w.target = outside

	w.update()
	if av.Pos.Z != 4.5 {
		t.Fatalf("pos.Z = %v, want clamp at 4.5", av.Pos.Z)
	}
	if w.target == outside {
		t.Fatalf("clamp should retarget away from the wall")
	}
	if w.retargetCooldown != 10 {
		t.Fatalf("retarget cooldown = %d, want 10", w.retargetCooldown)
	}

	// While the debounce holds, hitting the wall again keeps the target.
	w.target = outside
	w.update()
	if av.Pos.Z != 4.5 {
		t.Fatalf("pos.Z = %v after second clamp", av.Pos.Z)
	}
	if w.target != outside {
		t.Fatalf("retargeted during debounce window")
	}
}

func TestTemporaryTargetFiresDoneExactlyOnce(t *testing.T) {
	s := soloScene(t, nil)
	s.DebugForceReady()
	w := s.walkers[0]

	av := s.avatars[0]
	av.Pos = Vec2{}
	av.Yaw = 0
	fired := 0
	w.SetTemporaryTarget(Vec2{X: 0, Z: 0.5}, 0.1, func() { fired++ })

	if w.mode != ModeWalking || !w.shouldWalk {
		t.Fatalf("override should start walking: mode=%v shouldWalk=%v", w.mode, w.shouldWalk)
	}
	for i := 0; i < 40; i++ {
		w.update()
	}
	if fired != 1 {
		t.Fatalf("done fired %d times, want 1", fired)
	}
	if w.tmpActive {
		t.Fatalf("override still active after arrival")
	}
	if w.mode != ModeIdle || w.shouldWalk {
		t.Fatalf("walker should idle on the spot after arrival: mode=%v", w.mode)
	}
	if got := distXZ(av.Pos, Vec2{X: 0, Z: 0.5}); got > 0.1 {
		t.Fatalf("stopped %v away from the override target", got)
	}
}

func TestTemporaryTargetWaitsForGestureInFlight(t *testing.T) {
	s := soloScene(t, nil)
	s.DebugForceReady()
	w := s.walkers[0]
	av := s.avatars[0]

	w.startSpecial("STRETCH") // 40 ticks
	if w.mode != ModeSpecial {
		t.Fatalf("gesture did not start")
	}

	w.SetTemporaryTarget(Vec2{X: 3, Z: 3}, 0.1, nil)
	if av.Clip() != "STRETCH" {
		t.Fatalf("override must not interrupt the gesture, clip = %q", av.Clip())
	}
	if w.mode != ModeSpecial {
		t.Fatalf("override flipped mode mid-gesture: %v", w.mode)
	}

	stepN(s, 39)
	if w.mode != ModeSpecial {
		t.Fatalf("gesture ended early")
	}
	s.StepOnce(nil)
	if w.mode != ModeWalking || !w.shouldWalk {
		t.Fatalf("queued approach should start after the gesture: mode=%v", w.mode)
	}
	if av.Clip() != catalogs.ClipWalk {
		t.Fatalf("clip after gesture = %q, want %q", av.Clip(), catalogs.ClipWalk)
	}
}

func TestClearTemporaryTargetSkipsCallback(t *testing.T) {
	s := soloScene(t, nil)
	s.DebugForceReady()
	w := s.walkers[0]
	s.avatars[0].Pos = Vec2{}
	s.avatars[0].Yaw = 0

	fired := 0
	w.SetTemporaryTarget(Vec2{X: 0, Z: 0.3}, 0.1, func() { fired++ })
	w.ClearTemporaryTarget()
	for i := 0; i < 40; i++ {
		w.update()
	}
	if fired != 0 {
		t.Fatalf("cleared override still fired %d times", fired)
	}
}

func TestSuspendStopsWanderUntilResume(t *testing.T) {
	s := soloScene(t, nil)
	s.DebugForceReady()
	w := s.walkers[0]
	av := s.avatars[0]
	av.Pos = Vec2{X: 1, Z: 1}

	w.Suspend()
	if av.Owner() != OwnerInteraction {
		t.Fatalf("owner = %v after suspend", av.Owner())
	}
	before := av.Pos
	frames := w.frames
	for i := 0; i < 50; i++ {
		w.update()
	}
	if av.Pos != before || w.frames != frames {
		t.Fatalf("suspended walker kept running")
	}

	w.Resume(true)
	if av.Owner() != OwnerSelf {
		t.Fatalf("owner = %v after resume", av.Owner())
	}
	if w.mode != ModeWalking || !w.shouldWalk {
		t.Fatalf("resume(true) should restore walking, mode=%v", w.mode)
	}
	if av.Clip() != catalogs.ClipWalk {
		t.Fatalf("clip after resume = %q", av.Clip())
	}
}

func TestGestureCompletionUsesCatalogTicks(t *testing.T) {
	s := soloScene(t, nil)
	s.DebugForceReady()
	w := s.walkers[0]
	av := s.avatars[0]

	w.startSpecial("NOD") // 30 ticks in the catalog
	if av.ticksLeft != 30 {
		t.Fatalf("one-shot budget = %d, want catalog 30", av.ticksLeft)
	}
	stepN(s, 29)
	if w.mode != ModeSpecial {
		t.Fatalf("gesture finished early")
	}
	s.StepOnce(nil)
	if w.mode != ModeIdle {
		t.Fatalf("mode after gesture = %v, want idle", w.mode)
	}
	if av.Clip() != catalogs.ClipIdle {
		t.Fatalf("clip after gesture = %q", av.Clip())
	}
}
