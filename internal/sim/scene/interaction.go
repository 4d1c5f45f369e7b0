package scene

import (
	"math"

	"avatarium/internal/protocol"
	"avatarium/internal/sim/catalogs"
)

// Phase is the lifecycle of a paired interaction.
type Phase uint8

const (
	PhaseApproach Phase = iota
	PhaseOpen
	PhaseRun
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseApproach:
		return "APPROACH"
	case PhaseOpen:
		return "OPEN"
	case PhaseRun:
		return "RUN"
	default:
		return "DONE"
	}
}

// Interaction runs one scripted exchange between two avatars: walk them to a
// meeting spot, face them, play the variant's opening, count frames while
// speech cues fire, then close out and hand the bodies back to their walkers.
type Interaction struct {
	id      uint64
	variant catalogs.VariantDef

	a, b      int
	savedWalk [2]bool
	arrived   [2]bool
	startDist float64

	phase     Phase
	frames    int
	duration  int
	startTick uint64

	cues []resolvedCue

	// WALK_TOGETHER per-actor destinations, set at open.
	shared [2]Vec2

	closed bool
}

type resolvedCue struct {
	actor int
	at    int
	text  string
	fired bool
}

func (it *Interaction) involves(idx int) bool { return idx == it.a || idx == it.b }

func (it *Interaction) update(s *Scene) {
	switch it.phase {
	case PhaseApproach:
		if it.arrived[0] && it.arrived[1] {
			it.open(s)
		}
	case PhaseOpen:
		it.phase = PhaseRun
	case PhaseRun:
		it.run(s)
	}
}

// open suspends both walkers, turns the avatars face to face and fires the
// variant's opening choreography. The phase shows as OPEN for one tick so
// viewers see the transition.
func (it *Interaction) open(s *Scene) {
	pa, pb := s.avatars[it.a], s.avatars[it.b]
	wa, wb := s.walkers[it.a], s.walkers[it.b]
	if pa == nil || pb == nil || wa == nil || wb == nil {
		it.finish(s, true)
		return
	}

	wa.Suspend()
	wb.Suspend()

	pa.Yaw = headingTo(pa.Pos, pb.Pos)
	pb.Yaw = headingTo(pb.Pos, pa.Pos)

	if it.variant.Behavior == catalogs.BehaviorWalkTogether {
		it.planSharedWalk(s, pa.Pos, pb.Pos)
		_ = pa.PlayAnimation(catalogs.ClipWalk, s.cfg.FadeTicks)
		_ = pb.PlayAnimation(catalogs.ClipWalk, s.cfg.FadeTicks)
	}

	it.playActorClips(s, it.variant.Open)
	for _, av := range [2]*Avatar{pa, pb} {
		if av.oneShot {
			// Settle back to idling once the opening gesture lands.
			p := av
			p.OnFinished(func(string) { _ = p.PlayAnimation(catalogs.ClipIdle, s.cfg.FadeTicks) })
		}
	}
	it.resolveCues(s)

	it.frames = 0
	it.phase = PhaseOpen
}

func (it *Interaction) run(s *Scene) {
	it.frames++
	for i := range it.cues {
		c := &it.cues[i]
		if c.fired || c.at > it.frames {
			continue
		}
		c.fired = true
		idx := it.a
		if c.actor == 1 {
			idx = it.b
		}
		s.emitSpeech(idx, c.text)
	}

	if it.variant.Behavior == catalogs.BehaviorWalkTogether {
		it.stepWalkTogether(s)
	}

	if it.frames >= it.duration {
		it.finish(s, false)
	}
}

// finish ends the interaction exactly once. With force set (a participant was
// removed mid-flight) the closing choreography is skipped and only surviving
// walkers are restored.
func (it *Interaction) finish(s *Scene, force bool) {
	if it.closed {
		return
	}
	it.closed = true

	if !force {
		it.playActorClips(s, it.variant.Close)
	}

	idx := [2]int{it.a, it.b}
	for i := 0; i < 2; i++ {
		w := s.walkers[idx[i]]
		if w == nil {
			continue
		}
		if w.suspended {
			w.Resume(it.savedWalk[i])
		} else {
			w.restoreToggle(it.savedWalk[i])
		}
	}

	it.phase = PhaseDone
	s.emitInteractionEvent(protocol.EventInteractionEnd, it)
}

func (it *Interaction) playActorClips(s *Scene, clips []catalogs.ActorClip) {
	idx := [2]int{it.a, it.b}
	for _, ac := range clips {
		if ac.Actor < 0 || ac.Actor > 1 {
			continue
		}
		av := s.avatars[idx[ac.Actor]]
		if av == nil {
			continue
		}
		if err := av.PlayAnimation(ac.Clip, s.cfg.FadeTicks); err != nil {
			_ = av.PlayAnimation(catalogs.ClipIdle, s.cfg.FadeTicks)
		}
	}
}

// resolveCues freezes the variant's speech lines for this run, choosing the
// alternate text where its condition holds. The far condition is judged on
// the pair's separation when the interaction was picked, not at the meeting
// spot.
func (it *Interaction) resolveCues(s *Scene) {
	hour := s.hour()
	far := it.startDist > s.cfg.FarDist
	it.cues = it.cues[:0]
	for _, c := range it.variant.Cues {
		text := c.Text
		switch c.Cond {
		case catalogs.CueCondNight:
			if isEveningHour(hour) && c.Alt != "" {
				text = c.Alt
			}
		case catalogs.CueCondFar:
			if far && c.Alt != "" {
				text = c.Alt
			}
		}
		if text == "" {
			continue
		}
		it.cues = append(it.cues, resolvedCue{actor: c.Actor, at: c.AtTicks, text: text})
	}
}

func (it *Interaction) planSharedWalk(s *Scene, pa, pb Vec2) {
	dst := s.randomSafePoint()
	d := distXZ(pa, pb)
	var ax, az float64
	if d > 1e-9 {
		ax = (pb.X - pa.X) / d
		az = (pb.Z - pa.Z) / d
	} else {
		theta := s.rng.Float64() * 2 * math.Pi
		ax, az = math.Sin(theta), math.Cos(theta)
	}
	half := s.cfg.InteractDist / 2
	lim := s.cfg.Boundary - s.cfg.Margin
	it.shared[0] = Vec2{X: clampf(dst.X-ax*half, -lim, lim), Z: clampf(dst.Z-az*half, -lim, lim)}
	it.shared[1] = Vec2{X: clampf(dst.X+ax*half, -lim, lim), Z: clampf(dst.Z+az*half, -lim, lim)}
}

// stepWalkTogether steers the pair toward their shared spot for the first
// half of the run, then stands them down for the rest.
func (it *Interaction) stepWalkTogether(s *Scene) {
	half := it.duration / 2
	pa, pb := s.avatars[it.a], s.avatars[it.b]
	if pa == nil || pb == nil {
		return
	}
	if it.frames < half {
		it.steer(s, pa, it.shared[0])
		it.steer(s, pb, it.shared[1])
		return
	}
	if it.frames == half {
		_ = pa.PlayAnimation(catalogs.ClipIdle, s.cfg.FadeTicks)
		_ = pb.PlayAnimation(catalogs.ClipIdle, s.cfg.FadeTicks)
	}
}

func (it *Interaction) steer(s *Scene, av *Avatar, dst Vec2) {
	if av.owner != OwnerInteraction {
		return
	}
	if distXZ(av.Pos, dst) <= s.cfg.ArriveRadius {
		_ = av.PlayAnimation(catalogs.ClipIdle, s.cfg.FadeTicks)
		return
	}
	want := headingTo(av.Pos, dst)
	diff := normAngle(want - av.Yaw)
	av.Yaw = normAngle(av.Yaw + s.cfg.YawRate*diff)
	if math.Abs(diff) >= s.cfg.YawGate {
		return
	}
	av.Pos.X += math.Sin(av.Yaw) * s.cfg.WalkSpeed
	av.Pos.Z += math.Cos(av.Yaw) * s.cfg.WalkSpeed
	lim := s.cfg.Boundary - s.cfg.Margin
	av.Pos.X = clampf(av.Pos.X, -lim, lim)
	av.Pos.Z = clampf(av.Pos.Z, -lim, lim)
}
