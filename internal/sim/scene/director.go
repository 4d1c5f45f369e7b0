package scene

import (
	"math"

	"avatarium/internal/protocol"
	"avatarium/internal/sim/catalogs"
)

// Variants the selector treats specially. They live in the catalog like any
// other entry; these ids only pin the geometry rules to the variants they
// were written for.
const (
	variantFarWave      = "FAR_WAVE"
	variantWalkTogether = "WALK_TOGETHER"
	variantNearHouse    = "NEAR_HOUSE"
)

// Selector categories.
const (
	categoryGreeting = "greeting"
	categoryDance    = "dance"
)

// Weight shaping applied on top of catalog base weights.
const (
	timeOfDayBoost = 3.0
	morningDamp    = 0.5
	eveningDamp    = 0.3
	farBoost       = 3.0
	closeBoost     = 2.0
	landmarkBoost  = 3.0
	greetingBoost  = 1.5
	danceDamp      = 0.8
)

// Director owns interaction scheduling: at most one active interaction,
// started whenever the cooldown has lapsed and two avatars are free.
type Director struct {
	active        *Interaction
	lastStartHour float64
	started       bool
	nextID        uint64
	total         uint64
}

func isMorningHour(h float64) bool { return h >= 6 && h < 12 }
func isEveningHour(h float64) bool { return h >= 18 || h < 6 }

func dayPhase(h float64) string {
	switch {
	case h >= 6 && h < 12:
		return "MORNING"
	case h >= 12 && h < 18:
		return "AFTERNOON"
	case h >= 18:
		return "EVENING"
	default:
		return "NIGHT"
	}
}

// elapsedHours measures from..to forward around the 24h wheel, so 22:00
// followed by 01:00 counts 3 hours, never -21.
func elapsedHours(from, to float64) float64 {
	d := to - from
	if d < 0 {
		d += 24
	}
	return d
}

func (s *Scene) systemDirector() {
	d := s.director
	if d.active != nil {
		d.active.update(s)
		if d.active.phase == PhaseDone {
			d.active = nil
		}
		return
	}
	hour := s.hour()
	if d.started && elapsedHours(d.lastStartHour, hour) < s.cfg.CooldownHours {
		return
	}
	a, b, ok := s.pickPair()
	if !ok {
		return
	}
	s.startInteraction(hour, a, b, s.pickVariant(hour, a, b))
}

// pickPair draws two distinct self-owned ready avatars uniformly.
func (s *Scene) pickPair() (int, int, bool) {
	var free []int
	for idx, av := range s.avatars {
		if av == nil || !av.ready || av.owner != OwnerSelf || s.walkers[idx] == nil {
			continue
		}
		free = append(free, idx)
	}
	if len(free) < 2 {
		return 0, 0, false
	}
	i := s.rng.Intn(len(free))
	j := s.rng.Intn(len(free) - 1)
	if j >= i {
		j++
	}
	return free[i], free[j], true
}

// variantWeights shapes the catalog base weights for the given hour and pair
// geometry, in the catalog's stable id order.
func (s *Scene) variantWeights(hour float64, a, b int) (ids []string, weights []float64, total float64) {
	pa, pb := s.avatars[a], s.avatars[b]
	dist := distXZ(pa.Pos, pb.Pos)
	nearLandmark := distXZ(midpoint(pa.Pos, pb.Pos), s.cfg.Landmark) < s.cfg.LandmarkDist

	ids = s.catalogs.Variants.IDs
	weights = make([]float64, len(ids))
	for i, id := range ids {
		v := s.catalogs.Variants.ByID[id]
		w := v.BaseWeight
		switch v.TimeOfDay {
		case catalogs.TimeMorning:
			if isMorningHour(hour) {
				w *= timeOfDayBoost
			} else {
				w *= morningDamp
			}
		case catalogs.TimeEvening, catalogs.TimeNight:
			if isEveningHour(hour) {
				w *= timeOfDayBoost
			} else {
				w *= eveningDamp
			}
		}
		if dist > s.cfg.FarDist && id == variantFarWave {
			w *= farBoost
		}
		if dist < s.cfg.CloseDist && id == variantWalkTogether {
			w *= closeBoost
		}
		if nearLandmark && id == variantNearHouse {
			w *= landmarkBoost
		}
		switch v.Category {
		case categoryGreeting:
			w *= greetingBoost
		case categoryDance:
			w *= danceDamp
		}
		weights[i] = w
		total += w
	}
	return ids, weights, total
}

// drawFrom walks the weight list subtracting r until it goes non-positive.
// Out-of-range draws land on the default greeting, so the selector always
// terminates with a valid variant.
func drawFrom(ids []string, weights []float64, r float64) string {
	for i, id := range ids {
		r -= weights[i]
		if r <= 0 {
			return id
		}
	}
	return catalogs.DefaultVariant
}

func (s *Scene) pickVariant(hour float64, a, b int) string {
	ids, weights, total := s.variantWeights(hour, a, b)
	if total <= 0 || math.IsNaN(total) {
		return catalogs.DefaultVariant
	}
	return drawFrom(ids, weights, s.rng.Float64()*total)
}

// startInteraction begins the approach phase for the given pair and variant,
// stamping the cooldown clock from this hour.
func (s *Scene) startInteraction(hour float64, a, b int, variantID string) *Interaction {
	v, ok := s.catalogs.Variants.ByID[variantID]
	if !ok {
		return nil
	}
	wa, wb := s.walkers[a], s.walkers[b]
	pa, pb := s.avatars[a], s.avatars[b]
	if wa == nil || wb == nil || pa == nil || pb == nil {
		return nil
	}

	d := s.director
	d.nextID++
	d.total++
	it := &Interaction{
		id:        d.nextID,
		variant:   v,
		a:         a,
		b:         b,
		savedWalk: [2]bool{wa.ShouldWalk(), wb.ShouldWalk()},
		startDist: distXZ(pa.Pos, pb.Pos),
		phase:     PhaseApproach,
		duration:  s.cfg.DurationTicks,
		startTick: s.tick.Load(),
	}

	ta, tb := s.approachTargets(pa.Pos, pb.Pos)
	wa.SetTemporaryTarget(ta, s.cfg.ApproachRadius, func() { it.arrived[0] = true })
	wb.SetTemporaryTarget(tb, s.cfg.ApproachRadius, func() { it.arrived[1] = true })

	d.active = it
	d.lastStartHour = hour
	d.started = true

	s.emitInteractionEvent(protocol.EventInteractionStart, it)
	return it
}

// approachTargets picks two facing spots interactDist apart. Pairs already
// standing close get the midpoint nudged sideways so both avatars visibly
// walk to the meeting.
func (s *Scene) approachTargets(pa, pb Vec2) (Vec2, Vec2) {
	d := distXZ(pa, pb)
	var ax, az float64
	if d > 1e-9 {
		ax = (pb.X - pa.X) / d
		az = (pb.Z - pa.Z) / d
	} else {
		theta := s.rng.Float64() * 2 * math.Pi
		ax, az = math.Sin(theta), math.Cos(theta)
	}
	mid := midpoint(pa, pb)
	if d < 2*s.cfg.InteractDist {
		theta := s.rng.Float64() * 2 * math.Pi
		mid.X += math.Sin(theta) * s.cfg.InteractDist
		mid.Z += math.Cos(theta) * s.cfg.InteractDist
	}
	r := s.cfg.Boundary * s.cfg.SafeFrac
	mid.X = clampf(mid.X, -r, r)
	mid.Z = clampf(mid.Z, -r, r)
	half := s.cfg.InteractDist / 2
	ta := Vec2{X: mid.X - ax*half, Z: mid.Z - az*half}
	tb := Vec2{X: mid.X + ax*half, Z: mid.Z + az*half}
	return ta, tb
}

// triggerInteraction force-starts a variant, bypassing the cooldown. With nil
// indices the director picks the pair. It returns a protocol error code on
// rejection.
func (s *Scene) triggerInteraction(aPtr, bPtr *int, variantID string) (uint64, string) {
	if s.director.active != nil {
		return 0, protocol.ErrBusy
	}
	var a, b int
	if aPtr == nil || bPtr == nil {
		var ok bool
		a, b, ok = s.pickPair()
		if !ok {
			return 0, protocol.ErrNoPair
		}
	} else {
		a, b = *aPtr, *bPtr
		if a == b {
			return 0, protocol.ErrBadCommand
		}
		if !s.validAvatar(a) || !s.validAvatar(b) {
			return 0, protocol.ErrUnknownAvatar
		}
		if !s.avatars[a].ready || !s.avatars[b].ready {
			return 0, protocol.ErrNotReady
		}
		if s.avatars[a].owner != OwnerSelf || s.avatars[b].owner != OwnerSelf {
			return 0, protocol.ErrBusy
		}
	}
	if variantID == "" {
		variantID = s.pickVariant(s.hour(), a, b)
	} else if _, ok := s.catalogs.Variants.ByID[variantID]; !ok {
		return 0, protocol.ErrUnknownVariant
	}
	it := s.startInteraction(s.hour(), a, b, variantID)
	if it == nil {
		return 0, protocol.ErrInternal
	}
	return it.id, ""
}

// forceEndFor ends the active interaction if idx participates, whatever phase
// it is in. Called on avatar removal.
func (s *Scene) forceEndFor(idx int) {
	it := s.director.active
	if it == nil || !it.involves(idx) {
		return
	}
	it.finish(s, true)
	s.director.active = nil
}
