package scene

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"avatarium/internal/protocol"
	"avatarium/internal/sim/catalogs"
)

// TimelineLogger receives every timeline event the scene emits. Called from
// the scene loop goroutine only.
type TimelineLogger interface {
	WriteEvent(ev protocol.TimelineEvent) error
}

// TickLogger receives one entry per tick that carried commands or events,
// plus periodic digest checkpoints. This is the replayable JSONL stream.
type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

// TickLogEntry is one replayable tick record.
type TickLogEntry struct {
	Tick     uint64                   `json:"tick"`
	Hour     float64                  `json:"hour"`
	Commands []RecordedCommand        `json:"commands,omitempty"`
	Events   []protocol.TimelineEvent `json:"events,omitempty"`
	Digest   string                   `json:"digest,omitempty"`
}

// RecordedCommand is a viewer command as applied.
type RecordedCommand struct {
	Session string              `json:"session,omitempty"`
	Cmd     protocol.CommandMsg `json:"cmd"`
}

// CommandEnvelope carries a decoded viewer command into the scene loop.
type CommandEnvelope struct {
	Session string
	Cmd     protocol.CommandMsg
}

// Scene is the authoritative simulation: a fixed-rate loop that owns every
// avatar, walker and interaction. All mutable state is confined to the loop
// goroutine; transports talk to it over channels.
type Scene struct {
	cfg      Config
	catalogs *catalogs.Catalogs

	tick atomic.Uint64
	rng  *rand.Rand

	// Virtual clock. vticks is frozen while paused and scaled by speed.
	vticks float64
	paused bool
	speed  float64

	avatars []*Avatar
	walkers []*Walker

	director *Director

	viewers map[string]*viewerClient

	commands    chan CommandEnvelope
	viewerJoin  chan ViewerJoinRequest
	viewerSub   chan ViewerSubscribeRequest
	viewerLeave chan string
	stop        chan struct{}

	// Optional loggers (may be nil). Implemented in internal/persistence/*.
	timelineLogger TimelineLogger
	tickLogger     TickLogger

	events      []protocol.TimelineEvent // emitted this tick
	eventsTotal uint64
	lastPhase   string

	bootstrap atomic.Value // []byte, cached BOOTSTRAP JSON
	metrics   atomic.Value // SceneMetrics
}

func New(cfg Config, cats *catalogs.Catalogs) (*Scene, error) {
	if cats == nil {
		return nil, errors.New("nil catalogs")
	}
	cfg.applyDefaults()
	s := &Scene{
		cfg:         cfg,
		catalogs:    cats,
		rng:         rand.New(rand.NewSource(cfg.Seed)),
		speed:       1,
		director:    &Director{},
		viewers:     map[string]*viewerClient{},
		commands:    make(chan CommandEnvelope, 256),
		viewerJoin:  make(chan ViewerJoinRequest, 16),
		viewerSub:   make(chan ViewerSubscribeRequest, 16),
		viewerLeave: make(chan string, 16),
		stop:        make(chan struct{}),
	}
	s.lastPhase = dayPhase(s.hour())
	for i := 0; i < cfg.AvatarCount; i++ {
		name := ""
		if i < len(cfg.AvatarNames) {
			name = cfg.AvatarNames[i]
		}
		s.spawnAvatar(name)
	}
	s.refreshBootstrap()
	s.metrics.Store(SceneMetrics{})
	return s, nil
}

func (s *Scene) SetTimelineLogger(l TimelineLogger) { s.timelineLogger = l }
func (s *Scene) SetTickLogger(l TickLogger)         { s.tickLogger = l }

func (s *Scene) Commands() chan<- CommandEnvelope               { return s.commands }
func (s *Scene) ViewerJoin() chan<- ViewerJoinRequest           { return s.viewerJoin }
func (s *Scene) ViewerSubscribe() chan<- ViewerSubscribeRequest { return s.viewerSub }
func (s *Scene) ViewerLeave() chan<- string                     { return s.viewerLeave }

func (s *Scene) CurrentTick() uint64 { return s.tick.Load() }

func (s *Scene) ID() string {
	if s == nil {
		return ""
	}
	return s.cfg.ID
}

func (s *Scene) TickRateHz() int {
	if s == nil {
		return 0
	}
	return s.cfg.TickRateHz
}

// Config returns a copy of the effective configuration.
func (s *Scene) Config() Config {
	cfg := s.cfg
	cfg.AvatarNames = append([]string(nil), s.cfg.AvatarNames...)
	return cfg
}

// Hour returns the current virtual time of day in [0, 24).
func (s *Scene) Hour() float64 { return s.hour() }

func (s *Scene) hour() float64 {
	h := s.cfg.StartHour + 24*s.vticks/float64(s.cfg.DayTicks)
	h = math.Mod(h, 24)
	if h < 0 {
		h += 24
	}
	return h
}

func (s *Scene) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(s.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pending []CommandEnvelope

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		case req := <-s.viewerJoin:
			s.handleViewerJoin(req)
		case req := <-s.viewerSub:
			s.handleViewerSubscribe(req)
		case id := <-s.viewerLeave:
			s.handleViewerLeave(id)
		case env := <-s.commands:
			pending = append(pending, env)
		case <-ticker.C:
			s.step(pending)
			pending = pending[:0]
		}
	}
}

func (s *Scene) Stop() { close(s.stop) }

// StepOnce advances exactly one tick with the given commands, using the same
// ordering semantics as the live loop. It returns the tick just executed and
// the state digest for that tick. Intended for replays and tests.
func (s *Scene) StepOnce(cmds []CommandEnvelope) (tick uint64, digest string) {
	s.step(cmds)
	tick = s.tick.Load()
	return tick, s.stateDigest(tick)
}

func (s *Scene) randomSafePoint() Vec2 {
	r := s.cfg.Boundary * s.cfg.SafeFrac
	return Vec2{
		X: (s.rng.Float64()*2 - 1) * r,
		Z: (s.rng.Float64()*2 - 1) * r,
	}
}

func (s *Scene) validAvatar(idx int) bool {
	return idx >= 0 && idx < len(s.avatars) && s.avatars[idx] != nil
}

// spawnAvatar appends a loading avatar at a random safe point. Indices are
// stable for the life of the scene; removal leaves a hole.
func (s *Scene) spawnAvatar(name string) int {
	idx := len(s.avatars)
	if name == "" {
		name = fmt.Sprintf("avatar-%d", idx)
	}
	pos := s.randomSafePoint()
	yaw := normAngle(s.rng.Float64() * 2 * math.Pi)
	load := s.cfg.LoadTicks
	if s.cfg.LoadTicksJitter > 0 {
		load += s.rng.Intn(s.cfg.LoadTicksJitter + 1)
	}
	av := newAvatar(idx, name, pos, yaw, load, &s.catalogs.Clips, s.cfg.DefaultClipTicks)
	s.avatars = append(s.avatars, av)
	s.walkers = append(s.walkers, nil)
	return idx
}

func (s *Scene) removeAvatar(idx int) (string, string) {
	if !s.validAvatar(idx) {
		return protocol.ErrUnknownAvatar, fmt.Sprintf("no avatar %d", idx)
	}
	s.avatars[idx] = nil
	s.walkers[idx] = nil
	s.forceEndFor(idx)
	i := idx
	s.emitEvent(protocol.TimelineEvent{Kind: protocol.EventRemove, Actor: &i})
	s.refreshBootstrap()
	return "", ""
}

func (s *Scene) emitEvent(ev protocol.TimelineEvent) {
	ev.Tick = s.tick.Load()
	ev.Hour = s.hour()
	s.events = append(s.events, ev)
	s.eventsTotal++
	if s.timelineLogger != nil {
		_ = s.timelineLogger.WriteEvent(ev)
	}
}

func (s *Scene) emitSpeech(actor int, text string) {
	a := actor
	s.emitEvent(protocol.TimelineEvent{Kind: protocol.EventSpeech, Actor: &a, Text: text})
}

func (s *Scene) emitInteractionEvent(kind string, it *Interaction) {
	a, b := it.a, it.b
	s.emitEvent(protocol.TimelineEvent{
		Kind:    kind,
		ID:      it.id,
		A:       &a,
		B:       &b,
		Variant: it.variant.ID,
		Phase:   it.phase.String(),
	})
}
