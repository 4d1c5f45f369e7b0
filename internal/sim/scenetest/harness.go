package scenetest

import (
	"fmt"
	"testing"

	"avatarium/internal/protocol"
	"avatarium/internal/sim/catalogs"
	"avatarium/internal/sim/scene"
)

// Harness is a small black-box helper for driving a scene via exported APIs:
// - Command() feeds CommandEnvelopes through StepOnce(), like the live loop
// - timeline events are captured through SetTimelineLogger
// - Debug* helpers provide deterministic preconditions
//
// It intentionally avoids touching scene internals so tests can live outside
// the scene package and exercise the shipped catalogs.
type Harness struct {
	T    *testing.T
	Cats *catalogs.Catalogs
	S    *scene.Scene

	Events *EventLog

	cmdSeq int
}

// LoadCatalogs loads the repository's production catalogs.
func LoadCatalogs(t *testing.T) *catalogs.Catalogs {
	t.Helper()
	cats, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	return cats
}

func NewHarness(t *testing.T, cfg scene.Config) *Harness {
	t.Helper()
	return NewHarnessWith(t, cfg, LoadCatalogs(t))
}

func NewHarnessWith(t *testing.T, cfg scene.Config, cats *catalogs.Catalogs) *Harness {
	t.Helper()
	s, err := scene.New(cfg, cats)
	if err != nil {
		t.Fatalf("scene.New: %v", err)
	}
	h := &Harness{
		T:      t,
		Cats:   cats,
		S:      s,
		Events: &EventLog{},
	}
	s.SetTimelineLogger(h.Events)
	return h
}

// EventLog records every timeline event the scene emits.
type EventLog struct {
	events []protocol.TimelineEvent
}

func (l *EventLog) WriteEvent(ev protocol.TimelineEvent) error {
	l.events = append(l.events, ev)
	return nil
}

func (l *EventLog) All() []protocol.TimelineEvent {
	return append([]protocol.TimelineEvent(nil), l.events...)
}

// Kind returns the recorded events of one kind, in emission order.
func (l *EventLog) Kind(kind string) []protocol.TimelineEvent {
	var out []protocol.TimelineEvent
	for _, ev := range l.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (l *EventLog) Reset() { l.events = l.events[:0] }

// Step advances one empty tick.
func (h *Harness) Step() { h.S.StepOnce(nil) }

func (h *Harness) StepN(n int) {
	for i := 0; i < n; i++ {
		h.S.StepOnce(nil)
	}
}

// Command applies one viewer command on the next tick and returns its id.
func (h *Harness) Command(cmd protocol.CommandMsg) string {
	h.T.Helper()
	h.cmdSeq++
	cmd.Type = protocol.TypeCommand
	cmd.ProtocolVersion = protocol.Version
	if cmd.ID == "" {
		cmd.ID = fmt.Sprintf("t%d", h.cmdSeq)
	}
	h.S.StepOnce([]scene.CommandEnvelope{{Session: "T1", Cmd: cmd}})
	return cmd.ID
}

// ForceReady finishes every pending model load so walkers exist.
func (h *Harness) ForceReady() {
	h.T.Helper()
	h.S.DebugForceReady()
	for i := 0; i < h.S.AvatarCount(); i++ {
		if snap, ok := h.S.AvatarSnapshot(i); ok && !snap.Ready {
			h.T.Fatalf("avatar %d still loading after DebugForceReady", i)
		}
	}
}

// Snapshot returns the avatar at idx, failing the test when the slot is empty.
func (h *Harness) Snapshot(idx int) scene.AvatarSnapshot {
	h.T.Helper()
	snap, ok := h.S.AvatarSnapshot(idx)
	if !ok {
		h.T.Fatalf("no avatar at idx %d", idx)
	}
	return snap
}

// StepUntil steps until cond holds, failing after max ticks.
func (h *Harness) StepUntil(max int, cond func() bool, what string) {
	h.T.Helper()
	for i := 0; i < max; i++ {
		if cond() {
			return
		}
		h.Step()
	}
	h.T.Fatalf("condition %q not reached within %d ticks", what, max)
}

// StepUntilInteractionDone steps until the active interaction clears.
func (h *Harness) StepUntilInteractionDone(max int) {
	h.T.Helper()
	h.StepUntil(max, func() bool {
		_, _, _, _, ok := h.S.DebugActiveInteraction()
		return !ok
	}, "interaction done")
}
