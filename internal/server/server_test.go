package server

import (
	"testing"

	"corsair.gg/internal/aoi"
	"corsair.gg/internal/fixmath"
	"corsair.gg/internal/logging"
	"corsair.gg/internal/protocol"
	"corsair.gg/internal/sim"
	"corsair.gg/internal/transport"
	"corsair.gg/internal/tuning"
)

type fakeEndpoint struct {
	addr string
	sent [][]byte
}

func (e *fakeEndpoint) Send(p []byte) {
	buf := make([]byte, len(p))
	copy(buf, p)
	e.sent = append(e.sent, buf)
}

func (e *fakeEndpoint) Addr() string { return e.addr }

func (e *fakeEndpoint) packetsOfType(tag byte) [][]byte {
	var out [][]byte
	for _, p := range e.sent {
		if len(p) > 0 && p[0] == tag {
			out = append(out, p)
		}
	}
	return out
}

func newServer(t *testing.T) *Server {
	t.Helper()
	return New(tuning.Defaults(), logging.Nop(), Options{})
}

func (s *Server) deliver(ep *fakeEndpoint, payload []byte) {
	s.inbox <- transport.Datagram{Payload: payload, From: ep}
}

func join(t *testing.T, s *Server, ep *fakeEndpoint, name string, nowMs int64) sim.EntityID {
	t.Helper()
	s.deliver(ep, protocol.HelloPacket{ClientID: 1, Name: name}.Marshal())
	s.Step(nowMs)
	welcomes := ep.packetsOfType(protocol.TypeWelcome)
	if len(welcomes) == 0 {
		t.Fatalf("no welcome sent")
	}
	w, err := protocol.UnmarshalWelcome(welcomes[0])
	if err != nil {
		t.Fatalf("welcome: %v", err)
	}
	if w.PlayerID == uint16(sim.InvalidEntity) {
		t.Fatalf("invalid player id assigned")
	}
	return w.PlayerID
}

func inputFrame(seq uint16, thrust int16, clientTime uint32) []byte {
	return protocol.InputPacket{
		Seq:        seq,
		DtMs:       33,
		Thrust:     thrust,
		ClientTime: clientTime,
	}.Marshal()
}

func TestScenario_HandshakeInputsAndHitValidation(t *testing.T) {
	s := newServer(t)
	ep := &fakeEndpoint{addr: "10.0.0.1:4000"}
	now := int64(1_000_000)

	player := join(t, s, ep, "anne", now)
	if !s.world.Exists(player) {
		t.Fatalf("player not spawned")
	}

	// Five inputs at 20 ms spacing: all accepted.
	ct := uint32(5000)
	for i := 0; i < 5; i++ {
		now += 20
		ct += 20
		s.deliver(ep, inputFrame(uint16(i+1), 8000, ct))
		s.Step(now)
	}
	if st := s.val.Stats(); st.Processed != 5 || st.Rejected != 0 {
		t.Fatalf("after paced inputs: %+v", st)
	}

	// Five more at 2 ms spacing: at least 4 rate-limited.
	for i := 0; i < 5; i++ {
		now += 2
		ct += 2
		s.deliver(ep, inputFrame(uint16(i+6), 8000, ct))
		s.Step(now)
	}
	if st := s.val.Stats(); st.Rejected < 4 {
		t.Fatalf("flood barely rejected: %+v", st)
	}

	// The client received acks and snapshots along the way.
	if len(ep.packetsOfType(protocol.TypeAck)) == 0 {
		t.Fatalf("no acks sent")
	}
	if len(ep.packetsOfType(protocol.TypeSnapshot)) == 0 {
		t.Fatalf("no snapshots sent")
	}

	// A ship parked at (10,0): a +x ray from the origin within 15 m hits it
	// through the rewind buffer; the same ray rotated 90 degrees misses.
	ship := s.world.Spawn(sim.KindShip, fixmath.Vec2{X: fixmath.FromInt(10)})
	now += 40
	s.Step(now)

	res := s.ValidateHit(player, s.Tick(),
		fixmath.Vec2{}, fixmath.Vec2{X: fixmath.One}, fixmath.FromInt(15), now)
	if !res.Valid || res.Target != ship {
		t.Fatalf("hit = %+v", res)
	}
	if st, _ := s.world.Entity(ship); st.Health != 75 {
		t.Fatalf("damage not applied, health = %d", st.Health)
	}

	res = s.ValidateHit(player, s.Tick(),
		fixmath.Vec2{}, fixmath.Vec2{Y: fixmath.One}, fixmath.FromInt(15), now)
	if res.Valid {
		t.Fatalf("perpendicular ray must miss: %+v", res)
	}
}

func TestFirstSnapshotIsReliableBaseline(t *testing.T) {
	s := newServer(t)
	epA := &fakeEndpoint{addr: "10.0.0.1:4000"}
	epB := &fakeEndpoint{addr: "10.0.0.2:4000"}
	now := int64(1_000_000)

	join(t, s, epA, "anne", now)
	now += 33
	join(t, s, epB, "mary", now)
	now += 33
	s.Step(now)

	snaps := epA.packetsOfType(protocol.TypeSnapshot)
	if len(snaps) == 0 {
		t.Fatalf("no snapshot for first player")
	}
	pkt, err := protocol.UnmarshalSnapshot(snaps[0])
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if pkt.Flags&protocol.SnapshotFlagBaseline == 0 {
		t.Fatalf("first snapshot not a baseline: %+v", pkt)
	}
}

func TestTimeout_DropsSilentPlayer(t *testing.T) {
	s := newServer(t)
	ep := &fakeEndpoint{addr: "10.0.0.1:4000"}
	now := int64(1_000_000)

	player := join(t, s, ep, "anne", now)
	s.Step(now + 31_000)

	if s.world.Exists(player) {
		t.Fatalf("silent player still alive")
	}
	if len(s.clients) != 0 {
		t.Fatalf("client table not cleaned up")
	}
	// The slot is free for the next join.
	ep2 := &fakeEndpoint{addr: "10.0.0.3:4000"}
	if id := join(t, s, ep2, "jack", now+31_100); id == uint16(sim.InvalidEntity) {
		t.Fatalf("slot not reusable")
	}
}

func TestServerFull_RejectsHello(t *testing.T) {
	cfg := tuning.Defaults()
	cfg.MaxClients = 1
	s := New(cfg, logging.Nop(), Options{})
	now := int64(1_000_000)

	join(t, s, &fakeEndpoint{addr: "10.0.0.1:1"}, "anne", now)

	ep2 := &fakeEndpoint{addr: "10.0.0.2:2"}
	s.deliver(ep2, protocol.HelloPacket{ClientID: 2, Name: "mary"}.Marshal())
	s.Step(now + 33)
	if len(ep2.packetsOfType(protocol.TypeWelcome)) != 0 {
		t.Fatalf("second client welcomed past capacity")
	}
	if s.snapshotStats().RejectedHellos != 1 {
		t.Fatalf("rejection not counted: %+v", s.snapshotStats())
	}
	// The existing connection is unaffected.
	if len(s.clients) != 1 {
		t.Fatalf("existing client lost")
	}
}

func TestDespawnReconciliationKeepsScanOrder(t *testing.T) {
	s := newServer(t)
	now := int64(1_000_000)

	// Five ships share one cell; despawning two of them must reshape the
	// cell's entity list the same way every time. The grid swap-removes, so
	// ascending-ID removal of 2 and 3 leaves exactly [1, 5, 4].
	var ids []sim.EntityID
	for i := 0; i < 5; i++ {
		ids = append(ids, s.world.Spawn(sim.KindShip, fixmath.Vec2{}))
	}
	s.Step(now)

	s.world.Despawn(ids[1])
	s.world.Despawn(ids[2])
	s.Step(now + 33)

	cx, cy := aoi.CellCoords(fixmath.Vec2{})
	got := s.grid.QueryCells(cx, cy, 0, nil)
	want := []sim.EntityID{ids[0], ids[4], ids[3]}
	if len(got) != len(want) {
		t.Fatalf("cell entities = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("cell scan order = %v, want %v", got, want)
		}
	}
}

func TestDuplicateCommandFlaggedAcrossResends(t *testing.T) {
	s := newServer(t)
	ep := &fakeEndpoint{addr: "10.0.0.1:4000"}
	now := int64(1_000_000)

	join(t, s, ep, "anne", now)

	// Two inputs with the same command body under fresh sequences, 15 ms
	// apart: distinct packets to the reliability layer, but the validator
	// must still see the repeated command.
	s.deliver(ep, inputFrame(1, 8000, 5000))
	s.Step(now + 20)
	s.deliver(ep, inputFrame(2, 8000, 5000))
	s.Step(now + 35)

	if st := s.val.Stats(); st.Rejected != 1 {
		t.Fatalf("duplicate command not rejected: %+v", st)
	}
}

func TestMalformedPacketsCountedNotFatal(t *testing.T) {
	s := newServer(t)
	ep := &fakeEndpoint{addr: "10.0.0.1:4000"}
	now := int64(1_000_000)

	s.deliver(ep, []byte{0xff})
	s.deliver(ep, []byte{protocol.TypeInput, protocol.Version, 1, 2, 3})
	corrupted := inputFrame(1, 0, 0)
	corrupted[5] ^= 0xff
	s.deliver(ep, corrupted)
	s.Step(now)

	if s.badPackets != 3 {
		t.Fatalf("bad packets = %d", s.badPackets)
	}
}
