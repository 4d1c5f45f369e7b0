package viewer

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"avatarium/internal/protocol"
	"avatarium/internal/sim/catalogs"
	"avatarium/internal/sim/scene"
)

func newTestScene(t *testing.T) *scene.Scene {
	t.Helper()
	configDir := t.TempDir()
	write := func(name, data string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(configDir, name), []byte(data), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	write("clips.json", `[
		{"id":"IDLE","loop":true},
		{"id":"WALK","loop":true},
		{"id":"WAVE","ticks":90},
		{"id":"BOW","ticks":60}
	]`)
	write("interactions.json", `[
		{"id":"HELLO_WAVE","category":"greeting","base_weight":1,
		 "open":[{"actor":0,"clip":"WAVE"}],
		 "close":[{"actor":0,"clip":"BOW"}]}
	]`)
	write("speech.json", `[{"id":"MORNING","lines":["new day"]}]`)

	cats, err := catalogs.Load(configDir)
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	s, err := scene.New(scene.Config{
		Seed:        7,
		TickRateHz:  120,
		AvatarCount: 2,
		AvatarNames: []string{"mio", "yuki"},
		LoadTicks:   1,
	}, cats)
	if err != nil {
		t.Fatalf("new scene: %v", err)
	}
	return s
}

func dialWS(t *testing.T, httpURL string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(httpURL, "http") + "/v1/viewer/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestBootstrapAndFrames(t *testing.T) {
	s := newTestScene(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	srv := NewServer(s, log.New(io.Discard, "", 0))
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/viewer/bootstrap", srv.BootstrapHandler())
	mux.HandleFunc("/v1/viewer/ws", srv.WSHandler())
	ts := httptest.NewServer(mux)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/viewer/bootstrap")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	var boot protocol.BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&boot); err != nil {
		t.Fatalf("decode bootstrap: %v", err)
	}
	resp.Body.Close()
	if boot.ProtocolVersion != protocol.Version || len(boot.Avatars) != 2 {
		t.Fatalf("bootstrap = %+v", boot)
	}
	if boot.SceneParams.TickRateHz != 120 {
		t.Fatalf("tick rate = %d", boot.SceneParams.TickRateHz)
	}

	conn := dialWS(t, ts.URL)
	defer conn.Close()
	sub := protocol.SubscribeMsg{Type: protocol.TypeSubscribe, ProtocolVersion: protocol.Version, FrameEvery: 1}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	var frame protocol.FrameMsg
	if err := json.Unmarshal(readMsg(t, conn), &frame); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if frame.Type != protocol.TypeFrame || len(frame.Avatars) != 2 {
		t.Fatalf("frame = %+v", frame)
	}
	if frame.Avatars[0].Name != "mio" || frame.Avatars[1].Name != "yuki" {
		t.Fatalf("avatar names = %q %q", frame.Avatars[0].Name, frame.Avatars[1].Name)
	}
}

func TestCommandAckRoundTrip(t *testing.T) {
	s := newTestScene(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	srv := NewServer(s, log.New(io.Discard, "", 0))
	ts := httptest.NewServer(srv.WSHandler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	off := false
	sub := protocol.SubscribeMsg{Type: protocol.TypeSubscribe, ProtocolVersion: protocol.Version, FrameEvery: 60, WithEvents: &off}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	cmd := protocol.CommandMsg{Type: protocol.TypeCommand, ProtocolVersion: protocol.Version, ID: "c1", Cmd: protocol.CmdPause}
	if err := conn.WriteJSON(cmd); err != nil {
		t.Fatalf("command: %v", err)
	}

	// Frames keep flowing; scan until the ACK shows up.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("no ACK before deadline")
		}
		msg := readMsg(t, conn)
		base, err := protocol.DecodeBase(msg)
		if err != nil || base.Type != protocol.TypeAck {
			continue
		}
		var ack protocol.AckMsg
		if err := json.Unmarshal(msg, &ack); err != nil {
			t.Fatalf("decode ack: %v", err)
		}
		if ack.AckFor != "c1" || !ack.Accepted {
			t.Fatalf("ack = %+v", ack)
		}
		return
	}
}

func TestMalformedCommandRejected(t *testing.T) {
	s := newTestScene(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	srv := NewServer(s, log.New(io.Discard, "", 0))
	ts := httptest.NewServer(srv.WSHandler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sub := protocol.SubscribeMsg{Type: protocol.TypeSubscribe, ProtocolVersion: protocol.Version, FrameEvery: 60}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// Wrong protocol version on a COMMAND earns a NACK, not a disconnect.
	cmd := protocol.CommandMsg{Type: protocol.TypeCommand, ProtocolVersion: "0.0", ID: "c9", Cmd: protocol.CmdPause}
	if err := conn.WriteJSON(cmd); err != nil {
		t.Fatalf("command: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("no NACK before deadline")
		}
		msg := readMsg(t, conn)
		base, err := protocol.DecodeBase(msg)
		if err != nil || base.Type != protocol.TypeAck {
			continue
		}
		var ack protocol.AckMsg
		if err := json.Unmarshal(msg, &ack); err != nil {
			t.Fatalf("decode ack: %v", err)
		}
		if ack.Accepted || ack.Code != protocol.ErrProtoBadRequest {
			t.Fatalf("ack = %+v", ack)
		}
		return
	}
}

func TestHandshakeRequiresSubscribe(t *testing.T) {
	s := newTestScene(t)
	srv := NewServer(s, log.New(io.Discard, "", 0))
	ts := httptest.NewServer(srv.WSHandler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	cmd := protocol.CommandMsg{Type: protocol.TypeCommand, ProtocolVersion: protocol.Version, ID: "c1", Cmd: protocol.CmdPause}
	if err := conn.WriteJSON(cmd); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	if err == nil {
		t.Fatal("expected close after bad handshake")
	}
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("close error = %v", err)
	}
}
