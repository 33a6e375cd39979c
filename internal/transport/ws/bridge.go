// Package ws bridges browser clients onto the datagram transport: each
// websocket connection becomes an Endpoint whose binary messages feed the
// same inbound channel the UDP listener uses, so the server loop never knows
// which transport a client arrived on.
package ws

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"corsair.gg/internal/transport"
)

const (
	readDeadline  = 60 * time.Second
	writeDeadline = 5 * time.Second
	sendQueue     = 64
)

// Bridge upgrades HTTP requests and pumps frames.
type Bridge struct {
	in  chan<- transport.Datagram
	log *zap.SugaredLogger

	dropped atomic.Uint64

	upgrader websocket.Upgrader
}

// NewBridge creates a bridge feeding in.
func NewBridge(in chan<- transport.Datagram, logger *zap.SugaredLogger) *Bridge {
	return &Bridge{
		in:  in,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Handler returns the upgrade handler.
func (b *Bridge) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := b.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		s := &session{
			id:   uuid.NewString(),
			out:  make(chan []byte, sendQueue),
			done: make(chan struct{}),
		}
		b.log.Infow("ws session open", "session", s.id, "remote", conn.RemoteAddr().String())

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-s.done:
					return
				case p := <-s.out:
					_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
					if err := conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if mt != websocket.BinaryMessage || len(msg) > transport.MaxDatagram {
				continue
			}
			payload := make([]byte, len(msg))
			copy(payload, msg)
			select {
			case b.in <- transport.Datagram{Payload: payload, From: s}:
			default:
				// Inbox full: shed the frame and count it, same as the
				// datagram listener.
				b.dropped.Add(1)
			}
		}

		close(s.done)
		b.log.Infow("ws session closed", "session", s.id)
	}
}

// Dropped returns how many inbound frames were shed against a full inbox.
func (b *Bridge) Dropped() uint64 { return b.dropped.Load() }

type session struct {
	id   string
	out  chan []byte
	done chan struct{}
}

// Send enqueues a frame for the writer goroutine, dropping when the client
// cannot keep up.
func (s *session) Send(payload []byte) {
	select {
	case <-s.done:
	case s.out <- payload:
	default:
	}
}

func (s *session) Addr() string { return "ws:" + s.id }
