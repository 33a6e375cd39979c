package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"corsair.gg/internal/logging"
	"corsair.gg/internal/transport"
)

func TestBridge_BinaryFramesBecomeDatagrams(t *testing.T) {
	in := make(chan transport.Datagram, 16)
	b := NewBridge(in, logging.Nop())

	srv := httptest.NewServer(b.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{4, 5, 6}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var d transport.Datagram
	select {
	case d = <-in:
	case <-time.After(2 * time.Second):
		t.Fatalf("frame never arrived")
	}
	if string(d.Payload) != "\x04\x05\x06" {
		t.Fatalf("payload = %v", d.Payload)
	}
	if !strings.HasPrefix(d.From.Addr(), "ws:") {
		t.Fatalf("addr = %q", d.From.Addr())
	}

	// Reply through the session endpoint.
	d.From.Send([]byte{7})
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, msg, err := conn.ReadMessage()
	if err != nil || mt != websocket.BinaryMessage || len(msg) != 1 || msg[0] != 7 {
		t.Fatalf("reply = %v/%d (%v)", msg, mt, err)
	}
}

func TestBridge_FullInboxDropsCounted(t *testing.T) {
	in := make(chan transport.Datagram, 1)
	in <- transport.Datagram{} // wedge the inbox
	b := NewBridge(in, logging.Nop())

	srv := httptest.NewServer(b.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	for i := 0; i < 4; i++ {
		if err := conn.WriteMessage(websocket.BinaryMessage, []byte{byte(i)}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for b.Dropped() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("shed frames never counted")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBridge_TextFramesIgnored(t *testing.T) {
	in := make(chan transport.Datagram, 16)
	b := NewBridge(in, logging.Nop())

	srv := httptest.NewServer(b.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{1}); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case d := <-in:
		if len(d.Payload) != 1 || d.Payload[0] != 1 {
			t.Fatalf("text frame leaked through: %v", d.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("binary frame never arrived")
	}
}
