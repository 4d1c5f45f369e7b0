package scenetest

import (
	"testing"

	"avatarium/internal/protocol"
)

func firstEvent(evs []protocol.TimelineEvent, kind string) (protocol.TimelineEvent, bool) {
	for _, ev := range evs {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return protocol.TimelineEvent{}, false
}

func speechTexts(evs []protocol.TimelineEvent) []string {
	var out []string
	for _, ev := range evs {
		if ev.Kind == protocol.EventSpeech {
			out = append(out, ev.Text)
		}
	}
	return out
}

func speechActor(evs []protocol.TimelineEvent, text string) (int, bool) {
	for _, ev := range evs {
		if ev.Kind == protocol.EventSpeech && ev.Text == text && ev.Actor != nil {
			return *ev.Actor, true
		}
	}
	return 0, false
}

func indexOf(texts []string, want string) int {
	for i, s := range texts {
		if s == want {
			return i
		}
	}
	return -1
}

func contains(lines []string, want string) bool {
	for _, s := range lines {
		if s == want {
			return true
		}
	}
	return false
}

func mustIdx(t *testing.T, p *int) int {
	t.Helper()
	if p == nil {
		t.Fatalf("event missing participant index")
	}
	return *p
}
