// Package transport moves raw datagrams between clients and the server
// loop. The UDP listener here is the primary path; the ws subpackage bridges
// browser clients onto the same inbound channel. Reads never block the tick:
// a reader goroutine feeds a bounded channel and drops on overflow.
package transport

import (
	"net"
	"sync/atomic"

	"go.uber.org/zap"
)

// MaxDatagram is the largest datagram the reader accepts.
const MaxDatagram = 1500

// Endpoint is the reply path to one client. Send must not block.
type Endpoint interface {
	Send(payload []byte)
	Addr() string
}

// Datagram is one inbound packet paired with its reply endpoint.
type Datagram struct {
	Payload []byte
	From    Endpoint
}

// Stats is the transport counter snapshot.
type Stats struct {
	Received uint64 `json:"received"`
	Dropped  uint64 `json:"dropped"`
	Sent     uint64 `json:"sent"`
}

// UDP is the datagram listener.
type UDP struct {
	conn *net.UDPConn
	in   chan<- Datagram
	log  *zap.SugaredLogger

	received atomic.Uint64
	dropped  atomic.Uint64
	sent     atomic.Uint64

	done chan struct{}
}

// ListenUDP binds addr and starts the reader goroutine. Inbound datagrams
// land on in; when in is full the datagram is dropped and counted.
func ListenUDP(addr string, in chan<- Datagram, logger *zap.SugaredLogger) (*UDP, error) {
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", ua)
	if err != nil {
		return nil, err
	}
	u := &UDP{conn: conn, in: in, log: logger, done: make(chan struct{})}
	go u.readLoop()
	return u, nil
}

// LocalAddr returns the bound address.
func (u *UDP) LocalAddr() net.Addr { return u.conn.LocalAddr() }

// Close stops the reader and closes the socket.
func (u *UDP) Close() error {
	err := u.conn.Close()
	<-u.done
	return err
}

// Stats returns the counters.
func (u *UDP) Stats() Stats {
	return Stats{
		Received: u.received.Load(),
		Dropped:  u.dropped.Load(),
		Sent:     u.sent.Load(),
	}
}

func (u *UDP) readLoop() {
	defer close(u.done)
	buf := make([]byte, MaxDatagram)
	for {
		n, raddr, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		u.received.Add(1)
		payload := make([]byte, n)
		copy(payload, buf[:n])
		select {
		case u.in <- Datagram{Payload: payload, From: &udpEndpoint{u: u, raddr: raddr}}:
		default:
			u.dropped.Add(1)
		}
	}
}

type udpEndpoint struct {
	u     *UDP
	raddr *net.UDPAddr
}

func (e *udpEndpoint) Send(payload []byte) {
	if _, err := e.u.conn.WriteToUDP(payload, e.raddr); err != nil {
		return
	}
	e.u.sent.Add(1)
}

func (e *udpEndpoint) Addr() string { return e.raddr.String() }
