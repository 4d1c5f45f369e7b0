package scene

import (
	"math"
	"testing"

	"avatarium/internal/protocol"
	"avatarium/internal/sim/catalogs"
)

// pairScene readies two avatars at the given spots and keeps the director
// from scheduling on its own before the test starts an interaction by hand.
func pairScene(t *testing.T, mut func(*Config), ax, az, bx, bz float64) (*Scene, *captureTimeline) {
	t.Helper()
	s := newTestScene(t, mut)
	ct := &captureTimeline{}
	s.SetTimelineLogger(ct)
	s.DebugForceReady()
	s.DebugSetAvatarPos(0, ax, az)
	s.DebugSetAvatarPos(1, bx, bz)
	return s, ct
}

func TestInteractionRunsToCompletion(t *testing.T) {
	s, ct := pairScene(t, func(c *Config) { c.DurationTicks = 60 }, -1, 0, 1, 0)
	w0, w1 := s.walkers[0], s.walkers[1]
	w0.shouldWalk = true // captured as the pre-interaction toggle
	w0.mode = ModeWalking

	it := s.startInteraction(s.Hour(), 0, 1, "HELLO_WAVE")
	if it == nil {
		t.Fatalf("start failed")
	}
	it.arrived[0], it.arrived[1] = true, true

	done := 0
	prevFrames := 0
	for i := 1; i <= 80; i++ {
		s.StepOnce(nil)
		if it.frames < prevFrames {
			t.Fatalf("frames went backwards: %d -> %d", prevFrames, it.frames)
		}
		prevFrames = it.frames
		if _, _, _, _, ok := s.DebugActiveInteraction(); !ok {
			done = i
			break
		}
	}
	// open (1) + open->run (1) + 60 run frames.
	if done != 62 {
		t.Fatalf("finished after %d ticks, want 62", done)
	}

	if ct.count(protocol.EventInteractionStart) != 1 || ct.count(protocol.EventInteractionEnd) != 1 {
		t.Fatalf("start/end events = %d/%d", ct.count(protocol.EventInteractionStart), ct.count(protocol.EventInteractionEnd))
	}
	var texts []string
	for _, ev := range ct.events {
		if ev.Kind == protocol.EventSpeech {
			texts = append(texts, ev.Text)
		}
		if ev.Kind == protocol.EventInteractionStart || ev.Kind == protocol.EventInteractionEnd {
			if ev.ID != it.id {
				t.Fatalf("event id = %d, want %d", ev.ID, it.id)
			}
		}
	}
	// Hour 0 is night, so the conditional cue swaps to its alternate line.
	if len(texts) != 2 || texts[0] != "hello" || texts[1] != "good evening" {
		t.Fatalf("cue lines = %q", texts)
	}

	if s.avatars[0].Owner() != OwnerSelf || s.avatars[1].Owner() != OwnerSelf {
		t.Fatalf("avatars not handed back")
	}
	if s.avatars[0].Clip() != "BOW" {
		t.Fatalf("closing clip = %q, want BOW", s.avatars[0].Clip())
	}
	if !w0.shouldWalk || w0.mode != ModeWalking {
		t.Fatalf("walker 0 toggle not restored: shouldWalk=%v mode=%v", w0.shouldWalk, w0.mode)
	}
	if w1.shouldWalk || w1.mode != ModeIdle {
		t.Fatalf("walker 1 toggle not restored: shouldWalk=%v mode=%v", w1.shouldWalk, w1.mode)
	}

	// The closing one-shot holds the clip until it lands, then the restored
	// toggle takes over.
	stepN(s, 70)
	if got := s.avatars[0].Clip(); got != catalogs.ClipWalk {
		t.Fatalf("clip after close = %q, want %q", got, catalogs.ClipWalk)
	}
	if got := s.avatars[1].Clip(); got != catalogs.ClipIdle {
		t.Fatalf("clip after close = %q, want %q", got, catalogs.ClipIdle)
	}

	// finish is idempotent.
	it.finish(s, false)
	if ct.count(protocol.EventInteractionEnd) != 1 {
		t.Fatalf("finish refired the end event")
	}
}

func TestApproachTargetsKeepInteractDistApart(t *testing.T) {
	s := newTestScene(t, nil)

	ta, tb := s.approachTargets(Vec2{X: -2}, Vec2{X: 2})
	if got := distXZ(ta, tb); got < 0.8-1e-9 || got > 0.8+1e-9 {
		t.Fatalf("separation = %v, want 0.8", got)
	}
	if ta.X > -0.39 || tb.X < 0.39 {
		t.Fatalf("targets not on the pair axis: %+v %+v", ta, tb)
	}

	// A pair already standing together gets the midpoint pushed out so both
	// visibly walk.
	spot := Vec2{X: 1, Z: 1}
	ta, tb = s.approachTargets(spot, spot)
	if got := distXZ(ta, tb); got < 0.8-1e-9 || got > 0.8+1e-9 {
		t.Fatalf("close-pair separation = %v, want 0.8", got)
	}
	if got := distXZ(midpoint(ta, tb), spot); got < 0.8-1e-9 || got > 0.8+1e-9 {
		t.Fatalf("midpoint nudge = %v, want 0.8", got)
	}
	if distXZ(ta, spot) < 0.05 || distXZ(tb, spot) < 0.05 {
		t.Fatalf("a target landed on the pair: %+v %+v", ta, tb)
	}
}

func TestWalkTogetherStrollsThenStands(t *testing.T) {
	s, ct := pairScene(t, func(c *Config) { c.DurationTicks = 200 }, -1, 0, 1, 0)

	it := s.startInteraction(s.Hour(), 0, 1, "WALK_TOGETHER")
	if it == nil {
		t.Fatalf("start failed")
	}
	it.arrived[0], it.arrived[1] = true, true
	s.StepOnce(nil) // open
	if got := distXZ(it.shared[0], it.shared[1]); got < 0.8-1e-9 || got > 0.8+1e-9 {
		t.Fatalf("shared spots %v apart, want 0.8", got)
	}
	// Pin the stroll destination so the distance covered is predictable.
	it.shared[0] = Vec2{X: -0.4, Z: 3}
	it.shared[1] = Vec2{X: 0.4, Z: 3}

	p0, _ := s.AvatarSnapshot(0)
	for it.frames < 100 {
		s.StepOnce(nil)
	}
	q0, _ := s.AvatarSnapshot(0)
	if p0.Pos == q0.Pos {
		t.Fatalf("pair did not stroll during the first half")
	}
	if s.avatars[0].Clip() != catalogs.ClipIdle || s.avatars[1].Clip() != catalogs.ClipIdle {
		t.Fatalf("pair should stand down at the halfway mark: %q %q", s.avatars[0].Clip(), s.avatars[1].Clip())
	}

	for i := 0; i < 150; i++ {
		if _, _, _, _, ok := s.DebugActiveInteraction(); !ok {
			break
		}
		s.StepOnce(nil)
	}
	if _, _, _, _, ok := s.DebugActiveInteraction(); ok {
		t.Fatalf("interaction never finished")
	}
	if ct.count(protocol.EventInteractionEnd) != 1 {
		t.Fatalf("end events = %d", ct.count(protocol.EventInteractionEnd))
	}
	if s.avatars[0].Owner() != OwnerSelf || s.avatars[1].Owner() != OwnerSelf {
		t.Fatalf("avatars not handed back")
	}
}

func TestFirstArriverWaitsForStragglingPartner(t *testing.T) {
	// Short stop windows so a walker that wrongly re-enters the wander
	// toggle starts moving again almost immediately.
	s, _ := pairScene(t, func(c *Config) {
		c.StopTicksMin, c.StopTicksMax = 5, 5
	}, -4, 0, 4, 0)
	s.DebugSetAvatarYaw(0, math.Pi/2)

	// A one-shot in flight on avatar 1 defers its approach by 90 ticks, so
	// avatar 0 reaches the meeting spot long before its partner.
	s.walkers[1].startSpecial("WAVE")

	it := s.startInteraction(s.Hour(), 0, 1, "HELLO_WAVE")
	if it == nil {
		t.Fatalf("start failed")
	}
	for i := 0; i < 400 && !it.arrived[0]; i++ {
		s.StepOnce(nil)
	}
	if !it.arrived[0] || it.arrived[1] {
		t.Fatalf("expected a staggered approach, arrived = %v", it.arrived)
	}

	// The early arriver stays pinned at the meeting spot until the partner
	// shows up and the choreography opens.
	held, _ := s.AvatarSnapshot(0)
	for i := 0; i < 600 && it.phase == PhaseApproach; i++ {
		s.StepOnce(nil)
		snap, _ := s.AvatarSnapshot(0)
		if snap.Owner == OwnerSelf && snap.Pos != held.Pos {
			t.Fatalf("first arriver wandered off while waiting: %+v -> %+v", held.Pos, snap.Pos)
		}
	}
	if it.phase == PhaseApproach {
		t.Fatalf("approach never completed")
	}
	p0, _ := s.AvatarSnapshot(0)
	p1, _ := s.AvatarSnapshot(1)
	if got := distXZ(p0.Pos, p1.Pos); math.Abs(got-s.cfg.InteractDist) > 0.5 {
		t.Fatalf("choreography opened with the pair %v apart, want about %v", got, s.cfg.InteractDist)
	}
}

func TestRemoveDuringApproachForceEnds(t *testing.T) {
	s, ct := pairScene(t, nil, -3, 0, 3, 0)
	w0 := s.walkers[0]

	it := s.startInteraction(s.Hour(), 0, 1, "HELLO_WAVE")
	if it == nil {
		t.Fatalf("start failed")
	}
	stepN(s, 3) // approach underway, walkers still self-owned

	one := 1
	s.StepOnce([]CommandEnvelope{{Cmd: protocol.CommandMsg{Cmd: protocol.CmdRemove, Avatar: &one}}})

	if _, _, _, _, ok := s.DebugActiveInteraction(); ok {
		t.Fatalf("interaction survived the removal")
	}
	if ct.count(protocol.EventInteractionEnd) != 1 {
		t.Fatalf("end events = %d", ct.count(protocol.EventInteractionEnd))
	}
	if w0.tmpActive {
		t.Fatalf("survivor still has the approach override")
	}
	if s.avatars[0].Owner() != OwnerSelf {
		t.Fatalf("survivor owner = %v", s.avatars[0].Owner())
	}
	// The closing choreography is skipped on a forced end.
	if s.avatars[0].Clip() == "BOW" {
		t.Fatalf("forced end still played the closer")
	}

	stepN(s, 30)
	if it.arrived[0] || it.arrived[1] {
		t.Fatalf("stale approach callback fired after the force end")
	}
	if _, _, _, _, ok := s.DebugActiveInteraction(); ok {
		t.Fatalf("director restarted inside the cooldown")
	}
}

func TestRemoveDuringRunRestoresSurvivor(t *testing.T) {
	s, ct := pairScene(t, func(c *Config) { c.DurationTicks = 500 }, -1, 0, 1, 0)

	it := s.startInteraction(s.Hour(), 0, 1, "HELLO_WAVE")
	it.arrived[0], it.arrived[1] = true, true
	stepN(s, 10) // well into the run phase
	if it.phase != PhaseRun {
		t.Fatalf("phase = %v, want run", it.phase)
	}

	one := 1
	s.StepOnce([]CommandEnvelope{{Cmd: protocol.CommandMsg{Cmd: protocol.CmdRemove, Avatar: &one}}})

	if s.avatars[0].Owner() != OwnerSelf {
		t.Fatalf("survivor owner = %v", s.avatars[0].Owner())
	}
	if s.walkers[0].suspended {
		t.Fatalf("survivor walker still suspended")
	}
	if ct.count(protocol.EventInteractionEnd) != 1 {
		t.Fatalf("end events = %d", ct.count(protocol.EventInteractionEnd))
	}
}

func TestResolveCuesChoosesConditionalLines(t *testing.T) {
	s := newTestScene(t, nil)

	far := &Interaction{variant: s.catalogs.Variants.ByID["FAR_WAVE"], startDist: 8}
	far.resolveCues(s)
	if len(far.cues) != 1 || far.cues[0].text != "that was a trek" {
		t.Fatalf("far cue = %+v", far.cues)
	}

	near := &Interaction{variant: s.catalogs.Variants.ByID["FAR_WAVE"], startDist: 2}
	near.resolveCues(s)
	if len(near.cues) != 1 || near.cues[0].text != "over here" {
		t.Fatalf("near cue = %+v", near.cues)
	}

	hello := &Interaction{variant: s.catalogs.Variants.ByID["HELLO_WAVE"]}
	s.DebugSetHour(20)
	hello.resolveCues(s)
	if len(hello.cues) != 2 || hello.cues[1].text != "good evening" {
		t.Fatalf("night cues = %+v", hello.cues)
	}
	s.DebugSetHour(12)
	hello.resolveCues(s)
	if len(hello.cues) != 2 || hello.cues[1].text != "hi there" {
		t.Fatalf("daytime cues = %+v", hello.cues)
	}
}
