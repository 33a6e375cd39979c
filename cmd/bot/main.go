// Load bot: drives a swarm of synthetic clients against a running server
// over UDP, each performing the handshake and then streaming inputs while
// acking whatever snapshots come back.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/remeh/sizedwaitgroup"

	"corsair.gg/internal/protocol"
)

var (
	snapshots atomic.Uint64
	rejected  atomic.Uint64
)

func main() {
	var (
		addr     = flag.String("addr", "127.0.0.1:7777", "server udp address")
		count    = flag.Int("n", 8, "number of bots")
		parallel = flag.Int("parallel", 64, "max concurrently running bots")
		rateHz   = flag.Int("rate", 30, "input send rate per bot (hz)")
		duration = flag.Duration("duration", 30*time.Second, "how long each bot runs")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		cancel()
	}()

	swg := sizedwaitgroup.New(*parallel)
	start := time.Now()
	for i := 0; i < *count; i++ {
		swg.Add()
		go func(n int) {
			defer swg.Done()
			if err := runBot(ctx, *addr, n, *rateHz, *duration, logger); err != nil {
				logger.Printf("bot %d: %v", n, err)
			}
		}(i)
	}
	swg.Wait()

	logger.Printf("done in %v: snapshots=%d send_errors=%d",
		time.Since(start).Round(time.Millisecond), snapshots.Load(), rejected.Load())
}

func runBot(ctx context.Context, addr string, n, rateHz int, d time.Duration, logger *log.Logger) error {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	welcome, err := handshake(conn, n)
	if err != nil {
		return err
	}
	logger.Printf("bot %d: joined as player %d", n, welcome.PlayerID)

	// Reader: count snapshots and keep the ack state current.
	var ackSeq atomic.Uint32
	go func() {
		buf := make([]byte, 2048)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			nr, err := conn.Read(buf)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}
			if nr < 1 {
				continue
			}
			if buf[0] == protocol.TypeSnapshot {
				if pkt, err := protocol.UnmarshalSnapshot(buf[:nr]); err == nil {
					snapshots.Add(1)
					ackSeq.Store(uint32(pkt.SnapshotID))
				}
			}
		}
	}()

	interval := time.Second / time.Duration(rateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	deadline := time.After(d)

	r := rand.New(rand.NewSource(int64(n)*7919 + time.Now().UnixNano()))
	seq := uint16(0)
	startMs := time.Now().UnixMilli()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline:
			return nil
		case <-ticker.C:
			seq++
			if seq == 0 {
				seq = 1
			}
			in := protocol.InputPacket{
				Seq:        seq,
				DtMs:       uint16(interval.Milliseconds()),
				Thrust:     int16(r.Intn(32767)),
				Turn:       int16(r.Intn(16384) - 8192),
				ClientTime: uint32(time.Now().UnixMilli() - startMs),
			}
			if _, err := conn.Write(in.Marshal()); err != nil {
				rejected.Add(1)
				continue
			}
			if s := ackSeq.Load(); s != 0 {
				ack := protocol.AckPacket{
					AckSeq:     uint16(s),
					AckBits:    1, // bit 0 restates the explicit ack
					ClientTime: uint32(time.Now().UnixMilli() - startMs),
				}
				if _, err := conn.Write(ack.Marshal()); err != nil {
					rejected.Add(1)
				}
			}
		}
	}
}

func handshake(conn net.Conn, n int) (protocol.WelcomePacket, error) {
	hello := protocol.HelloPacket{
		ClientID: uint32(n + 1),
		Name:     fmt.Sprintf("bot-%d", n),
	}
	buf := make([]byte, 2048)
	for attempt := 0; attempt < 5; attempt++ {
		if _, err := conn.Write(hello.Marshal()); err != nil {
			return protocol.WelcomePacket{}, fmt.Errorf("send hello: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		nr, err := conn.Read(buf)
		if err != nil {
			continue
		}
		if nr < 1 || buf[0] != protocol.TypeWelcome {
			continue
		}
		w, err := protocol.UnmarshalWelcome(buf[:nr])
		if err != nil {
			continue
		}
		return w, nil
	}
	return protocol.WelcomePacket{}, fmt.Errorf("no welcome after 5 attempts")
}
