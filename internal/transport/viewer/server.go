// Package viewer serves the public viewer surface: the bootstrap endpoint
// and the frame/command WebSocket.
package viewer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"avatarium/internal/protocol"
	"avatarium/internal/sim/scene"
)

type Server struct {
	scene *scene.Scene
	log   *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(s *scene.Scene, logger *log.Logger) *Server {
	return &Server{
		scene: s,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// BootstrapHandler serves the cached BOOTSTRAP payload. The scene refreshes
// the cache whenever the roster or readiness changes, so this reads a single
// atomic value and never touches the loop.
func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_, _ = rw.Write(s.scene.Bootstrap())
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub protocol.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad subscribe"), time.Now().Add(time.Second))
			return
		}
		if sub.Type != protocol.TypeSubscribe || sub.ProtocolVersion != protocol.Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("V%d", s.nextID.Add(1))
		out := make(chan []byte, 8)

		joinReq := scene.ViewerJoinRequest{
			SessionID:  sid,
			Out:        out,
			FrameEvery: frameEvery(&sub),
			WithEvents: withEvents(&sub),
		}
		select {
		case s.scene.ViewerJoin() <- joinReq:
		default:
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server busy"), time.Now().Add(time.Second))
			return
		}
		defer func() {
			select {
			case s.scene.ViewerLeave() <- sid:
			default:
				// Scene loop is stopping; nothing else to do.
			}
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b, ok := <-out:
					if !ok {
						writeErr <- nil
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: SUBSCRIBE updates and COMMANDs.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				s.reject(out, "", protocol.ErrProtoBadRequest, "not json")
				continue
			}
			switch base.Type {
			case protocol.TypeSubscribe:
				var sub protocol.SubscribeMsg
				if err := json.Unmarshal(msg, &sub); err != nil || sub.ProtocolVersion != protocol.Version {
					continue
				}
				req := scene.ViewerSubscribeRequest{
					SessionID:  sid,
					FrameEvery: frameEvery(&sub),
					WithEvents: sub.WithEvents,
				}
				select {
				case s.scene.ViewerSubscribe() <- req:
				default:
					// Drop updates under load; the client may resend.
				}
			case protocol.TypeCommand:
				var cmd protocol.CommandMsg
				if err := json.Unmarshal(msg, &cmd); err != nil {
					s.reject(out, "", protocol.ErrProtoBadRequest, "bad command payload")
					continue
				}
				if cmd.ProtocolVersion != protocol.Version {
					s.reject(out, cmd.ID, protocol.ErrProtoBadRequest, "bad protocol_version")
					continue
				}
				// Never block the reader on the scene loop; if it has
				// stopped draining, NACK instead of wedging the goroutine.
				select {
				case s.scene.Commands() <- scene.CommandEnvelope{Session: sid, Cmd: cmd}:
				default:
					s.reject(out, cmd.ID, protocol.ErrBusy, "server busy")
				}
			default:
				s.reject(out, "", protocol.ErrProtoBadRequest, fmt.Sprintf("unknown type %q", base.Type))
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// reject sends a transport-level NACK on the session's out channel. Dropped
// if the channel is full; frames take priority over error chatter.
func (s *Server) reject(out chan []byte, ackFor, code, reason string) {
	ack := protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          ackFor,
		Accepted:        false,
		Code:            code,
		Message:         reason,
	}
	b, err := json.Marshal(ack)
	if err != nil {
		return
	}
	select {
	case out <- b:
	default:
	}
}

func frameEvery(sub *protocol.SubscribeMsg) int {
	n := sub.FrameEvery
	if n <= 0 {
		n = 1
	}
	if n > 60 {
		n = 60
	}
	return n
}

func withEvents(sub *protocol.SubscribeMsg) bool {
	if sub.WithEvents == nil {
		return true
	}
	return *sub.WithEvents
}
