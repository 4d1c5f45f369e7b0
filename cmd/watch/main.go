// Command watch tails a scene over the viewer WebSocket: frames, timeline
// events, and command acks, printed one per line. With -trigger it fires a
// single TRIGGER command after subscribing.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"avatarium/internal/protocol"
)

func main() {
	var (
		url        = flag.String("url", "ws://localhost:8080/v1/viewer/ws", "viewer ws url")
		every      = flag.Int("every", 30, "request every Nth frame")
		withEvents = flag.Bool("events", true, "include timeline events in frames")
		trigger    = flag.String("trigger", "", "trigger an interaction variant once after subscribing")
		a          = flag.Int("a", 0, "initiator avatar index for -trigger")
		b          = flag.Int("b", 1, "partner avatar index for -trigger")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[watch] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sub := protocol.SubscribeMsg{
		Type:            protocol.TypeSubscribe,
		ProtocolVersion: protocol.Version,
		FrameEvery:      *every,
		WithEvents:      withEvents,
	}
	if err := conn.WriteJSON(sub); err != nil {
		logger.Fatalf("send SUBSCRIBE: %v", err)
	}

	if strings.TrimSpace(*trigger) != "" {
		ai, bi := *a, *b
		cmd := protocol.CommandMsg{
			Type:            protocol.TypeCommand,
			ProtocolVersion: protocol.Version,
			ID:              fmt.Sprintf("watch_%d", time.Now().UnixNano()),
			Cmd:             protocol.CmdTrigger,
			A:               &ai,
			B:               &bi,
			Variant:         strings.TrimSpace(*trigger),
		}
		if err := conn.WriteJSON(cmd); err != nil {
			logger.Fatalf("send TRIGGER: %v", err)
		}
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	for {
		select {
		case <-stop:
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeFrame:
			var frame protocol.FrameMsg
			if err := json.Unmarshal(msg, &frame); err != nil {
				continue
			}
			printFrame(logger, &frame)

		case protocol.TypeAck:
			var ack protocol.AckMsg
			if err := json.Unmarshal(msg, &ack); err != nil {
				continue
			}
			logger.Printf("ACK %s accepted=%v code=%s msg=%q tick=%d", ack.AckFor, ack.Accepted, ack.Code, ack.Message, ack.Tick)
		}
	}
}

func printFrame(logger *log.Logger, frame *protocol.FrameMsg) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "tick=%d hour=%05.2f", frame.Tick, frame.Hour)
	if frame.Paused {
		sb.WriteString(" paused")
	}
	if frame.Speed != 0 && frame.Speed != 1 {
		fmt.Fprintf(&sb, " speed=%.2g", frame.Speed)
	}
	for _, av := range frame.Avatars {
		name := av.Name
		if name == "" {
			name = fmt.Sprintf("#%d", av.Idx)
		}
		if !av.Ready {
			fmt.Fprintf(&sb, " %s(loading)", name)
			continue
		}
		fmt.Fprintf(&sb, " %s(%.2f,%.2f %s)", name, av.Pos[0], av.Pos[1], av.Clip)
	}
	if it := frame.Interaction; it != nil {
		fmt.Fprintf(&sb, " interaction=%s[%s]", it.Variant, it.Phase)
	}
	logger.Print(sb.String())

	for _, ev := range frame.Events {
		switch ev.Kind {
		case protocol.EventSpeech:
			logger.Printf("EVENT %s actor=%s text=%q", ev.Kind, idxOrDash(ev.Actor), ev.Text)
		case protocol.EventInteractionStart, protocol.EventInteractionEnd:
			logger.Printf("EVENT %s id=%d variant=%s a=%s b=%s", ev.Kind, ev.ID, ev.Variant, idxOrDash(ev.A), idxOrDash(ev.B))
		case protocol.EventDayPhase:
			logger.Printf("EVENT %s phase=%s hour=%05.2f", ev.Kind, ev.Phase, ev.Hour)
		default:
			logger.Printf("EVENT %s tick=%d", ev.Kind, ev.Tick)
		}
	}
}

func idxOrDash(p *int) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *p)
}
