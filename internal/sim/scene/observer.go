package scene

import (
	"encoding/json"

	"avatarium/internal/protocol"
)

// ViewerJoinRequest registers a read-only viewer session. Frames and ACKs are
// pushed to Out; frames use drop-oldest backpressure, so a slow viewer only
// loses intermediate frames, never the stream.
type ViewerJoinRequest struct {
	SessionID string
	Out       chan []byte

	// FrameEvery asks for every Nth frame (1 = every tick).
	FrameEvery int
	WithEvents bool
}

// ViewerSubscribeRequest updates an existing session's settings.
type ViewerSubscribeRequest struct {
	SessionID  string
	FrameEvery int
	WithEvents *bool
}

type viewerClient struct {
	id  string
	out chan []byte

	frameEvery int
	withEvents bool
}

func (s *Scene) handleViewerJoin(req ViewerJoinRequest) {
	if req.SessionID == "" || req.Out == nil {
		return
	}
	if old := s.viewers[req.SessionID]; old != nil {
		close(old.out)
	}
	s.viewers[req.SessionID] = &viewerClient{
		id:         req.SessionID,
		out:        req.Out,
		frameEvery: clampInt(req.FrameEvery, 1, 60, 1),
		withEvents: req.WithEvents,
	}
}

func (s *Scene) handleViewerSubscribe(req ViewerSubscribeRequest) {
	c := s.viewers[req.SessionID]
	if c == nil {
		return
	}
	c.frameEvery = clampInt(req.FrameEvery, 1, 60, c.frameEvery)
	if req.WithEvents != nil {
		c.withEvents = *req.WithEvents
	}
}

func (s *Scene) handleViewerLeave(sessionID string) {
	c := s.viewers[sessionID]
	if c == nil {
		return
	}
	delete(s.viewers, sessionID)
	close(c.out)
}

// broadcastFrame marshals the tick frame at most twice (with and without
// events) and fans it out to every due viewer.
func (s *Scene) broadcastFrame(nowTick uint64) {
	if len(s.viewers) == 0 {
		return
	}
	msg := s.buildFrame(nowTick)

	var withEvents, bare []byte
	for _, c := range s.viewers {
		if nowTick%uint64(c.frameEvery) != 0 {
			continue
		}
		if c.withEvents {
			if withEvents == nil {
				m := msg
				m.Events = s.events
				b, err := json.Marshal(m)
				if err != nil {
					continue
				}
				withEvents = b
			}
			sendLatest(c.out, withEvents)
			continue
		}
		if bare == nil {
			b, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			bare = b
		}
		sendLatest(c.out, bare)
	}
}

func (s *Scene) buildFrame(nowTick uint64) protocol.FrameMsg {
	avatars := make([]protocol.AvatarState, 0, len(s.avatars))
	for idx, av := range s.avatars {
		if av == nil {
			continue
		}
		st := protocol.AvatarState{
			Idx:   idx,
			Name:  av.Name,
			Ready: av.ready,
			Pos:   [2]float64{av.Pos.X, av.Pos.Z},
			Yaw:   av.Yaw,
			Clip:  av.clip,
		}
		if av.fadeLeft > 0 {
			st.PrevClip = av.prevClip
			st.FadeLeft = av.fadeLeft
		}
		if av.owner == OwnerInteraction {
			st.Mode = "INTERACT"
		} else if w := s.walkers[idx]; w != nil {
			st.Mode = w.mode.String()
		}
		avatars = append(avatars, st)
	}

	msg := protocol.FrameMsg{
		Type:            protocol.TypeFrame,
		ProtocolVersion: protocol.Version,
		Tick:            nowTick,
		Hour:            s.hour(),
		Paused:          s.paused,
		Avatars:         avatars,
	}
	if s.speed != 1 {
		msg.Speed = s.speed
	}
	if it := s.director.active; it != nil {
		st := protocol.InteractionState{
			ID:        it.id,
			Variant:   it.variant.ID,
			A:         it.a,
			B:         it.b,
			Phase:     it.phase.String(),
			StartTick: it.startTick,
		}
		if it.phase == PhaseRun && it.frames < it.duration {
			st.EndsTick = nowTick + uint64(it.duration-it.frames)
		}
		msg.Interaction = &st
	}
	return msg
}

func (s *Scene) ackCommand(env CommandEnvelope, nowTick uint64, code, detail string) {
	c := s.viewers[env.Session]
	if c == nil || env.Cmd.ID == "" {
		return
	}
	ack := protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          env.Cmd.ID,
		Accepted:        code == "",
		Code:            code,
		Message:         detail,
		Tick:            nowTick,
	}
	b, err := json.Marshal(ack)
	if err != nil {
		return
	}
	_ = trySend(c.out, b)
}

// refreshBootstrap rebuilds the cached BOOTSTRAP payload. Called whenever the
// roster or readiness changes; the HTTP handler serves the cached bytes from
// any goroutine.
func (s *Scene) refreshBootstrap() {
	resp := protocol.BootstrapResponse{
		ProtocolVersion: protocol.Version,
		Tick:            s.tick.Load(),
		SceneParams: protocol.SceneParams{
			TickRateHz: s.cfg.TickRateHz,
			DayTicks:   s.cfg.DayTicks,
			StartHour:  s.cfg.StartHour,
			Boundary:   s.cfg.Boundary,
			Landmark:   [2]float64{s.cfg.Landmark.X, s.cfg.Landmark.Z},
			Seed:       s.cfg.Seed,
		},
		Catalogs: protocol.CatalogDigests{
			Clips:    protocol.DigestRef{Digest: s.catalogs.Clips.Digest, Count: len(s.catalogs.Clips.Palette)},
			Variants: protocol.DigestRef{Digest: s.catalogs.Variants.Digest, Count: len(s.catalogs.Variants.IDs)},
			Speech:   protocol.DigestRef{Digest: s.catalogs.Speech.Digest, Count: len(s.catalogs.Speech.IDs)},
		},
	}
	for idx, av := range s.avatars {
		if av == nil {
			continue
		}
		resp.Avatars = append(resp.Avatars, protocol.AvatarState{
			Idx:   idx,
			Name:  av.Name,
			Ready: av.ready,
			Pos:   [2]float64{av.Pos.X, av.Pos.Z},
			Yaw:   av.Yaw,
			Clip:  av.clip,
		})
	}
	b, err := json.Marshal(resp)
	if err != nil {
		return
	}
	s.bootstrap.Store(b)
}

// Bootstrap returns the cached BOOTSTRAP JSON. Safe from any goroutine.
func (s *Scene) Bootstrap() []byte {
	b, _ := s.bootstrap.Load().([]byte)
	return b
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}

func trySend(ch chan []byte, b []byte) bool {
	select {
	case ch <- b:
		return true
	default:
		return false
	}
}
