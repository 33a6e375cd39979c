// Package server ties the netcode core together: it drains datagrams from
// the transports, runs them through reliability and validation, steps the
// simulation, maintains AOI membership, captures rewind history on its own
// clock and builds per-player snapshot packets. Everything runs on one
// goroutine; the tick is the unit of atomicity.
package server

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"corsair.gg/internal/aoi"
	"corsair.gg/internal/fixmath"
	"corsair.gg/internal/persistence/flagdb"
	"corsair.gg/internal/persistence/journal"
	"corsair.gg/internal/protocol"
	"corsair.gg/internal/reliability"
	"corsair.gg/internal/replication"
	"corsair.gg/internal/rewind"
	"corsair.gg/internal/sim"
	"corsair.gg/internal/transport"
	"corsair.gg/internal/tuning"
	"corsair.gg/internal/validate"
)

// Options carries the optional persistence sinks. Either may be nil.
type Options struct {
	Journal *journal.Journal
	Flags   *flagdb.DB
}

type client struct {
	playerID  sim.EntityID
	slot      int
	sessionID string
	addr      string
	endpoint  transport.Endpoint
	conn      *reliability.Connection
	stream    *replication.Stream
	name      string
}

// Server is the per-instance netcode core.
type Server struct {
	cfg tuning.Tuning
	log *zap.SugaredLogger

	world *sim.World
	grid  *aoi.Grid
	rel   *reliability.Manager
	val   *validate.Validator
	hist  *rewind.Buffer

	journal *journal.Journal
	flags   *flagdb.DB

	inbox chan transport.Datagram

	clients  map[string]*client
	byPlayer map[sim.EntityID]*client
	slots    [validate.MaxClients]bool
	lastPos  map[sim.EntityID]fixmath.Vec2

	tick          uint64
	startMs       int64
	lastCaptureMs int64

	badPackets     uint64
	rejectedHellos uint64

	udp *transport.UDP

	stop    chan struct{}
	statsCh chan statsReq
}

// New assembles a server from the tuning knobs.
func New(t tuning.Tuning, logger *zap.SugaredLogger, opts Options) *Server {
	return &Server{
		cfg:      t,
		log:      logger,
		world:    sim.NewWorld(t.MaxSpeed()),
		grid:     aoi.NewGrid(),
		rel:      reliability.NewManager(t.MaxClients),
		val:      validate.New(t.ValidatorConfig()),
		hist:     rewind.New(t.RewindConfig()),
		journal:  opts.Journal,
		flags:    opts.Flags,
		inbox:    make(chan transport.Datagram, 4*t.DrainPerTick),
		clients:  make(map[string]*client),
		byPlayer: make(map[sim.EntityID]*client),
		lastPos:  make(map[sim.EntityID]fixmath.Vec2),
		startMs:  time.Now().UnixMilli(),
		stop:     make(chan struct{}),
		statsCh:  make(chan statsReq),
	}
}

// Inbox is the inbound datagram channel shared by the transports.
func (s *Server) Inbox() chan<- transport.Datagram { return s.inbox }

// SetTransport attaches the UDP listener so its counters show up in stats.
// Call before Run.
func (s *Server) SetTransport(u *transport.UDP) { s.udp = u }

// World exposes the simulation for gameplay callers.
func (s *Server) World() *sim.World { return s.world }

// Tick returns the current tick number.
func (s *Server) Tick() uint64 { return s.tick }

func (s *Server) serverTime(nowMs int64) uint32 { return uint32(nowMs - s.startMs) }

// Step runs one full tick at nowMs. Run drives this from the ticker; tests
// drive it directly with a synthetic clock.
func (s *Server) Step(nowMs int64) {
	s.tick++

	s.drain(nowMs)
	s.world.Step(s.cfg.TickMs())
	s.updateGrid()

	// The capture clock is independent of the tick clock.
	if nowMs-s.lastCaptureMs >= s.cfg.CaptureMs() {
		s.captureHistory(nowMs)
		s.lastCaptureMs = nowMs
	}

	s.replicate(nowMs)

	expired := s.rel.Tick(nowMs, func(c *reliability.Connection) {
		hb := protocol.HeartbeatPacket{ServerTime: s.serverTime(nowMs)}.Marshal()
		c.Send(0, hb, false, nowMs)
	})
	for _, id := range expired {
		s.dropPlayer(id, "timeout", nowMs)
	}

	s.val.DecayTick()
}

func (s *Server) drain(nowMs int64) {
	for n := 0; n < s.cfg.DrainPerTick; n++ {
		select {
		case d := <-s.inbox:
			s.handleDatagram(d, nowMs)
		default:
			return
		}
	}
}

func (s *Server) handleDatagram(d transport.Datagram, nowMs int64) {
	if len(d.Payload) < 2 {
		s.badPackets++
		return
	}
	switch d.Payload[0] {
	case protocol.TypeHello:
		s.handleHello(d, nowMs)
	case protocol.TypeInput:
		s.handleInput(d, nowMs)
	case protocol.TypeAck:
		s.handleAck(d, nowMs)
	case protocol.TypeHeartbeat:
		if c := s.clients[d.From.Addr()]; c != nil {
			if _, err := protocol.UnmarshalHeartbeat(d.Payload); err == nil {
				c.conn.Touch(nowMs)
				return
			}
		}
		s.badPackets++
	default:
		s.badPackets++
	}
}

func (s *Server) handleHello(d transport.Datagram, nowMs int64) {
	hello, err := protocol.UnmarshalHello(d.Payload)
	if err != nil {
		s.badPackets++
		return
	}
	addr := d.From.Addr()
	if c := s.clients[addr]; c != nil {
		// Retransmitted hello: the welcome was lost, resend it.
		s.sendWelcome(c, nowMs)
		return
	}

	slot := s.allocSlot()
	if slot < 0 {
		s.rejectedHellos++
		s.log.Warnw("hello rejected, server full", "addr", addr)
		return
	}

	playerID := s.world.Spawn(sim.KindPlayer, fixmath.Vec2{})
	conn, err := s.rel.Add(playerID, d.From.Send)
	if err != nil {
		s.world.Despawn(playerID)
		s.slots[slot] = false
		s.rejectedHellos++
		s.log.Warnw("hello rejected", "addr", addr, "err", err)
		return
	}

	c := &client{
		playerID:  playerID,
		slot:      slot,
		sessionID: uuid.NewString(),
		addr:      addr,
		endpoint:  d.From,
		conn:      conn,
		stream:    replication.NewStream(playerID, s.cfg.ReplicationConfig()),
		name:      hello.Name,
	}
	s.clients[addr] = c
	s.byPlayer[playerID] = c

	st, _ := s.world.Entity(playerID)
	s.grid.Insert(playerID, st.Pos)
	s.lastPos[playerID] = st.Pos

	conn.Touch(nowMs)
	s.sendWelcome(c, nowMs)

	s.log.Infow("player joined", "player", playerID, "name", c.name, "addr", addr, "session", c.sessionID)
	if s.journal != nil {
		_ = s.journal.WriteSession(journal.SessionEntry{
			Kind: "connect", SessionID: c.sessionID, PlayerID: playerID,
			Name: c.name, Addr: addr, AtMs: nowMs,
		})
	}
	s.flags.RecordSession(flagdb.SessionRow{
		SessionID: c.sessionID, PlayerID: playerID, Name: c.name,
		Addr: addr, ConnectedMs: nowMs,
	})
}

func (s *Server) sendWelcome(c *client, nowMs int64) {
	w := protocol.WelcomePacket{PlayerID: c.playerID, ServerTime: s.serverTime(nowMs)}
	c.conn.Send(0, w.Marshal(), false, nowMs)
}

func (s *Server) handleInput(d transport.Datagram, nowMs int64) {
	c := s.clients[d.From.Addr()]
	if c == nil {
		s.badPackets++
		return
	}
	pkt, err := protocol.UnmarshalInput(d.Payload)
	if err != nil {
		s.badPackets++
		return
	}
	if c.conn.OnReceive(pkt.Seq, nowMs) == reliability.ReceiveDuplicate {
		return
	}

	res := s.val.Check(c.slot, pkt, nowMs)
	if res.OK {
		s.world.ApplyInput(c.playerID,
			protocol.Q15ToFixed(pkt.Thrust),
			protocol.Q15ToFixed(pkt.Turn),
			pkt.Actions)
	} else {
		ban := s.val.RecommendBan(c.slot)
		if s.journal != nil {
			_ = s.journal.WriteFlag(journal.FlagEntry{
				PlayerID: c.playerID, Violations: res.Violations,
				Suspicion: res.Suspicion, Ban: ban, AtMs: nowMs,
			})
		}
		s.flags.RecordFlag(flagdb.FlagRow{
			PlayerID: c.playerID, Violations: res.Violations,
			Suspicion: res.Suspicion, Tick: s.tick, AtMs: nowMs,
		})
		if ban {
			s.flags.RecordBan(c.playerID, res.Suspicion)
		}
	}

	ackSeq, ackBits := c.conn.AckState()
	ack := protocol.AckPacket{AckSeq: ackSeq, AckBits: ackBits, ClientTime: pkt.ClientTime}
	c.conn.Send(0, ack.Marshal(), false, nowMs)
}

func (s *Server) handleAck(d transport.Datagram, nowMs int64) {
	c := s.clients[d.From.Addr()]
	if c == nil {
		s.badPackets++
		return
	}
	pkt, err := protocol.UnmarshalAck(d.Payload)
	if err != nil {
		s.badPackets++
		return
	}
	c.conn.Touch(nowMs)
	c.conn.ProcessAck(pkt.AckSeq, pkt.AckBits, nowMs)
}

func (s *Server) allocSlot() int {
	for i := range s.slots {
		if !s.slots[i] {
			s.slots[i] = true
			return i
		}
	}
	return -1
}

// updateGrid reconciles AOI membership with the live entity set. Inserts
// follow the ascending ID order of the live set and stale entries are removed
// in ascending ID order too, so cell scan order is reproducible tick to tick.
func (s *Server) updateGrid() {
	ids := s.world.IDs()
	seen := make(map[sim.EntityID]struct{}, len(ids))
	for _, id := range ids {
		st, ok := s.world.Entity(id)
		if !ok {
			continue
		}
		seen[id] = struct{}{}
		old, tracked := s.lastPos[id]
		if !tracked {
			if s.grid.Insert(id, st.Pos) == aoi.DroppedFull {
				s.log.Warnw("aoi cell full, entity not tracked", "entity", id)
			}
		} else if old != st.Pos {
			s.grid.Move(id, old, st.Pos)
		}
		s.lastPos[id] = st.Pos
	}
	var stale []sim.EntityID
	for id := range s.lastPos {
		if _, ok := seen[id]; !ok {
			stale = append(stale, id)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i] < stale[j] })
	for _, id := range stale {
		s.grid.Remove(id, s.lastPos[id])
		delete(s.lastPos, id)
	}
}

func (s *Server) captureHistory(nowMs int64) {
	delays := make([]int64, validate.MaxClients)
	for _, c := range s.clients {
		delays[c.slot] = c.conn.RTT() / 2
	}
	s.hist.Store(s.tick, s.world, nowMs, delays)
}

func (s *Server) replicate(nowMs int64) {
	serverTime := s.serverTime(nowMs)
	for _, c := range s.clients {
		st, ok := s.world.Entity(c.playerID)
		if !ok {
			continue
		}
		sub := c.stream.Subscription()
		sub.Rebuild(s.grid, c.playerID, st.Pos)

		moving := st.Vel != (fixmath.Vec2{})
		inCombat := st.Flags&sim.FlagInCombat != 0
		s.val.SetTier(c.slot, validate.ClassifyTier(sub.Count, inCombat, moving))

		built, ok := c.stream.Build(s.world, s.tick, nowMs, serverTime, c.conn.NextSeq)
		if !ok {
			continue
		}
		c.conn.Send(built.Seq, built.Payload, built.Baseline, nowMs)
	}
}

// ValidateHit adjudicates a client-reported shot against the rewind buffer
// and applies the damage on success.
func (s *Server) ValidateHit(player sim.EntityID, reportedTick uint64, origin, dir fixmath.Vec2, rangeM fixmath.Fixed, nowMs int64) rewind.HitResult {
	slot := -1
	if c := s.byPlayer[player]; c != nil {
		slot = c.slot
	}
	res := s.hist.ValidateHit(slot, reportedTick, origin, dir, rangeM)
	if res.Valid {
		if st, ok := s.world.Entity(res.Target); ok {
			st.Health -= res.Damage
			if st.Health <= 0 {
				st.Health = 0
				st.Flags |= sim.FlagSinking
			}
			s.world.SetState(st)
		}
	}
	if s.journal != nil {
		_ = s.journal.WriteHit(journal.HitEntry{
			PlayerID: player, Target: res.Target, Tick: res.Tick,
			Valid: res.Valid, Damage: res.Damage, AtMs: nowMs,
		})
	}
	return res
}

// ValidateMovement checks a reported position against the rewind envelope.
func (s *Server) ValidateMovement(player sim.EntityID, fromTick, toTick uint64, reported fixmath.Vec2) bool {
	return s.hist.ValidateMovement(player, fromTick, toTick, reported)
}

// Disconnect removes a player explicitly.
func (s *Server) Disconnect(player sim.EntityID, nowMs int64) {
	s.rel.Remove(player)
	s.dropPlayer(player, "disconnect", nowMs)
}

func (s *Server) dropPlayer(player sim.EntityID, reason string, nowMs int64) {
	c := s.byPlayer[player]
	if c == nil {
		return
	}
	if pos, ok := s.lastPos[player]; ok {
		s.grid.Remove(player, pos)
		delete(s.lastPos, player)
	}
	s.world.Despawn(player)
	s.slots[c.slot] = false
	s.val.ResetClient(c.slot)
	delete(s.clients, c.addr)
	delete(s.byPlayer, player)

	s.log.Infow("player left", "player", player, "reason", reason, "session", c.sessionID)
	if s.journal != nil {
		_ = s.journal.WriteSession(journal.SessionEntry{
			Kind: reason, SessionID: c.sessionID, PlayerID: player, AtMs: nowMs,
		})
	}
	s.flags.RecordDisconnect(c.sessionID, nowMs)
}
