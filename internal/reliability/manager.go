package reliability

import (
	"errors"

	"corsair.gg/internal/sim"
)

// Protocol timing constants. Resend and heartbeat logic is purely
// wall-clock driven and intentionally decoupled from the simulation tick
// rate.
const (
	maxPending = 64

	resendTimeoutMs = 100
	maxResends      = 3
	heartbeatMs     = 5000
	timeoutMs       = 30000

	rttMinMs = 10
	rttMaxMs = 2000
)

// ErrTableFull rejects connections beyond the fixed table capacity. The
// specific attempt fails; existing connections are unaffected.
var ErrTableFull = errors.New("reliability: connection table full")

// ErrDuplicate rejects a second connection for the same player.
var ErrDuplicate = errors.New("reliability: player already connected")

// Stats is the aggregate counter snapshot exposed to telemetry.
type Stats struct {
	Connections    int     `json:"connections"`
	PacketsSent    uint64  `json:"packets_sent"`
	PacketsRecv    uint64  `json:"packets_received"`
	PacketsLost    uint64  `json:"packets_lost"`
	PacketsResent  uint64  `json:"packets_resent"`
	DroppedResend  uint64  `json:"dropped_resend"`
	DroppedPending uint64  `json:"dropped_pending"`
	Duplicates     uint64  `json:"duplicates"`
	Timeouts       uint64  `json:"timeouts"`
	LossPercent    float64 `json:"loss_percent"`
	AvgRTTMs       int64   `json:"avg_rtt_ms"`
}

// Manager owns the fixed-capacity connection table and drives the
// time-based resend/heartbeat/timeout sweeps. Single-threaded: all calls
// come from the server loop goroutine.
type Manager struct {
	maxConns int
	conns    map[sim.EntityID]*Connection

	timeouts uint64
}

// NewManager creates a manager with a fixed connection capacity.
func NewManager(maxConns int) *Manager {
	return &Manager{
		maxConns: maxConns,
		conns:    make(map[sim.EntityID]*Connection, maxConns),
	}
}

// Add activates a connection for a player. INACTIVE -> ACTIVE.
func (m *Manager) Add(player sim.EntityID, send SendFunc) (*Connection, error) {
	if _, ok := m.conns[player]; ok {
		return nil, ErrDuplicate
	}
	if len(m.conns) >= m.maxConns {
		return nil, ErrTableFull
	}
	c := &Connection{PlayerID: player, send: send}
	m.conns[player] = c
	return c, nil
}

// Remove deactivates a connection. ACTIVE -> INACTIVE.
func (m *Manager) Remove(player sim.EntityID) {
	delete(m.conns, player)
}

// Get returns the connection for a player, or nil.
func (m *Manager) Get(player sim.EntityID) *Connection {
	return m.conns[player]
}

// Len returns the number of active connections.
func (m *Manager) Len() int { return len(m.conns) }

// Tick runs the wall-clock sweeps: retransmit overdue reliable packets,
// emit heartbeats on idle send paths, and expire silent connections.
// Expired player IDs are returned for the caller to tear down.
func (m *Manager) Tick(nowMs int64, heartbeat func(c *Connection)) []sim.EntityID {
	var expired []sim.EntityID
	for id, c := range m.conns {
		if c.lastRecvMs != 0 && nowMs-c.lastRecvMs > timeoutMs {
			expired = append(expired, id)
			continue
		}
		c.sweepResends(nowMs, resendTimeoutMs, maxResends)
		if heartbeat != nil && c.lastSentMs != 0 && nowMs-c.lastSentMs > heartbeatMs {
			heartbeat(c)
			c.lastSentMs = nowMs
		}
	}
	for _, id := range expired {
		m.timeouts++
		delete(m.conns, id)
	}
	return expired
}

// Snapshot aggregates per-connection counters for telemetry.
func (m *Manager) Snapshot() Stats {
	var s Stats
	s.Connections = len(m.conns)
	s.Timeouts = m.timeouts
	var rttSum int64
	var rttN int64
	for _, c := range m.conns {
		s.PacketsSent += c.sent
		s.PacketsRecv += c.received
		s.PacketsLost += c.lost
		s.PacketsResent += c.resent
		s.DroppedResend += c.dropResend
		s.DroppedPending += c.dropPending
		s.Duplicates += c.duplicates
		if c.rttMs > 0 {
			rttSum += c.rttMs
			rttN++
		}
	}
	if rttN > 0 {
		s.AvgRTTMs = rttSum / rttN
	}
	if total := s.PacketsRecv + s.PacketsLost; total > 0 {
		s.LossPercent = float64(s.PacketsLost) / float64(total) * 100
	}
	return s
}
