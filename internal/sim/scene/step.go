package scene

import (
	"fmt"
	"strings"
	"time"

	"avatarium/internal/protocol"
	"avatarium/internal/sim/catalogs"
)

// maxSpeed bounds the SET_SPEED clock multiplier.
const maxSpeed = 10.0

// step advances one tick. System order is fixed: commands, clock, loads,
// director, walkers, animations, then broadcast/logs/metrics. The director
// runs before the walkers so a freshly suspended walker is not also advanced
// by its own wander logic in the same tick.
func (s *Scene) step(cmds []CommandEnvelope) {
	started := time.Now()
	nowTick := s.tick.Add(1)

	s.events = s.events[:0]
	recorded := s.applyCommands(nowTick, cmds)

	if !s.paused {
		s.vticks += s.speed
		s.systemLoads()
		s.systemDayPhase()
		s.systemDirector()
		s.systemWalkers()
		s.systemAnimations()
	}

	s.broadcastFrame(nowTick)
	s.writeTickLog(nowTick, recorded)
	s.publishMetrics(nowTick, started)
}

func (s *Scene) applyCommands(nowTick uint64, cmds []CommandEnvelope) []RecordedCommand {
	if len(cmds) == 0 {
		return nil
	}
	recorded := make([]RecordedCommand, 0, len(cmds))
	for _, env := range cmds {
		code, detail := s.applyCommand(env.Cmd)
		recorded = append(recorded, RecordedCommand{Session: env.Session, Cmd: env.Cmd})
		s.ackCommand(env, nowTick, code, detail)
	}
	return recorded
}

func (s *Scene) applyCommand(cmd protocol.CommandMsg) (code, detail string) {
	switch cmd.Cmd {
	case protocol.CmdPause:
		s.paused = true
		return "", ""
	case protocol.CmdResume:
		s.paused = false
		return "", ""
	case protocol.CmdSetSpeed:
		if cmd.Speed <= 0 || cmd.Speed > maxSpeed {
			return protocol.ErrBadCommand, fmt.Sprintf("speed must be in (0, %g]", maxSpeed)
		}
		s.speed = cmd.Speed
		return "", ""
	case protocol.CmdSpawn:
		idx := s.spawnAvatar(strings.TrimSpace(cmd.Name))
		i := idx
		s.emitEvent(protocol.TimelineEvent{Kind: protocol.EventSpawn, Actor: &i})
		s.refreshBootstrap()
		return "", ""
	case protocol.CmdRemove:
		if cmd.Avatar == nil {
			return protocol.ErrBadCommand, "avatar index required"
		}
		return s.removeAvatar(*cmd.Avatar)
	case protocol.CmdTrigger:
		_, ec := s.triggerInteraction(cmd.A, cmd.B, strings.TrimSpace(cmd.Variant))
		return ec, ""
	default:
		return protocol.ErrBadCommand, fmt.Sprintf("unknown command %q", cmd.Cmd)
	}
}

// systemLoads counts down avatar model loads. An avatar that finishes gets
// its walker and starts idling.
func (s *Scene) systemLoads() {
	changed := false
	for idx, av := range s.avatars {
		if av == nil || av.ready {
			continue
		}
		if av.tickLoad() {
			s.walkers[idx] = newWalker(s, av)
			_ = av.PlayAnimation(catalogs.ClipIdle, 0)
			changed = true
		}
	}
	if changed {
		s.refreshBootstrap()
	}
}

// systemDayPhase emits a timeline marker when the virtual clock crosses into
// a new phase of day, plus an ambient line from the speech catalog when one
// exists for the phase.
func (s *Scene) systemDayPhase() {
	phase := dayPhase(s.hour())
	if phase == s.lastPhase {
		return
	}
	s.lastPhase = phase
	s.emitEvent(protocol.TimelineEvent{Kind: protocol.EventDayPhase, Phase: phase})

	set, ok := s.catalogs.Speech.ByID[phase]
	if !ok || len(set.Lines) == 0 {
		return
	}
	var ready []int
	for idx, av := range s.avatars {
		if av != nil && av.ready {
			ready = append(ready, idx)
		}
	}
	if len(ready) == 0 {
		return
	}
	actor := ready[s.rng.Intn(len(ready))]
	s.emitSpeech(actor, set.Lines[s.rng.Intn(len(set.Lines))])
}

func (s *Scene) systemWalkers() {
	for _, w := range s.walkers {
		if w != nil {
			w.update()
		}
	}
}

func (s *Scene) systemAnimations() {
	for _, av := range s.avatars {
		if av != nil {
			av.tickAnimation()
		}
	}
}

func (s *Scene) writeTickLog(nowTick uint64, cmds []RecordedCommand) {
	if s.tickLogger == nil {
		return
	}
	digestDue := nowTick%uint64(s.cfg.DigestEveryTicks) == 0
	if len(cmds) == 0 && len(s.events) == 0 && !digestDue {
		return
	}
	entry := TickLogEntry{
		Tick:     nowTick,
		Hour:     s.hour(),
		Commands: cmds,
		Events:   append([]protocol.TimelineEvent(nil), s.events...),
	}
	if digestDue || len(cmds) > 0 {
		entry.Digest = s.stateDigest(nowTick)
	}
	_ = s.tickLogger.WriteTick(entry)
}

func (s *Scene) publishMetrics(nowTick uint64, started time.Time) {
	m := SceneMetrics{
		Tick:         nowTick,
		Hour:         s.hour(),
		Paused:       s.paused,
		Speed:        s.speed,
		Viewers:      len(s.viewers),
		Interactions: s.director.total,
		Events:       s.eventsTotal,
		StepMicros:   time.Since(started).Microseconds(),
	}
	for _, av := range s.avatars {
		if av == nil {
			continue
		}
		m.Avatars++
		if av.ready {
			m.Ready++
		}
	}
	if it := s.director.active; it != nil {
		m.ActiveVariant = it.variant.ID
		m.ActivePhase = it.phase.String()
	}
	s.metrics.Store(m)
}
