package server

import (
	"context"
	"time"

	"corsair.gg/internal/reliability"
	"corsair.gg/internal/replication"
	"corsair.gg/internal/rewind"
	"corsair.gg/internal/transport"
	"corsair.gg/internal/validate"
)

// StatsSnapshot is the read-only telemetry view served to the admin surface.
type StatsSnapshot struct {
	Tick    uint64 `json:"tick"`
	Players int    `json:"players"`

	AOIOccupancy   int    `json:"aoi_occupancy"`
	AOIDropped     uint64 `json:"aoi_dropped"`
	BadPackets     uint64 `json:"bad_packets"`
	RejectedHellos uint64 `json:"rejected_hellos"`

	Reliability reliability.Stats `json:"reliability"`
	Validator   validate.Stats    `json:"validator"`
	Rewind      rewind.Stats      `json:"rewind"`
	Replication replication.Stats `json:"replication"`

	Transport *transport.Stats `json:"transport,omitempty"`
}

type statsReq struct {
	resp chan StatsSnapshot
}

// Run drives the tick loop until ctx is canceled or Stop is called. All
// state mutation happens here; stats requests are answered between ticks.
func (s *Server) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(s.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		case req := <-s.statsCh:
			req.resp <- s.snapshotStats()
		case <-ticker.C:
			s.Step(time.Now().UnixMilli())
		}
	}
}

// Stop terminates Run.
func (s *Server) Stop() { close(s.stop) }

// Stats requests a snapshot from the loop goroutine.
func (s *Server) Stats(ctx context.Context) (StatsSnapshot, error) {
	req := statsReq{resp: make(chan StatsSnapshot, 1)}
	select {
	case s.statsCh <- req:
	case <-ctx.Done():
		return StatsSnapshot{}, ctx.Err()
	}
	select {
	case snap := <-req.resp:
		return snap, nil
	case <-ctx.Done():
		return StatsSnapshot{}, ctx.Err()
	}
}

// snapshotStats aggregates counters. Loop goroutine only.
func (s *Server) snapshotStats() StatsSnapshot {
	snap := StatsSnapshot{
		Tick:           s.tick,
		Players:        len(s.clients),
		AOIOccupancy:   s.grid.Occupancy(),
		AOIDropped:     s.grid.Dropped(),
		BadPackets:     s.badPackets,
		RejectedHellos: s.rejectedHellos,
		Reliability:    s.rel.Snapshot(),
		Validator:      s.val.Stats(),
		Rewind:         s.hist.Stats(),
	}
	for _, c := range s.clients {
		st := c.stream.Stats()
		snap.Replication.PacketsBuilt += st.PacketsBuilt
		snap.Replication.Baselines += st.Baselines
		snap.Replication.BytesBuilt += st.BytesBuilt
		snap.Replication.EntitiesOmitted += st.EntitiesOmitted
		snap.Replication.DeltasNoBaseline += st.DeltasNoBaseline
		snap.Replication.BaselineEvicted += st.BaselineEvicted
		snap.Replication.BaselineCacheFull += st.BaselineCacheFull
		snap.Replication.PosClamped += st.PosClamped
	}
	if s.udp != nil {
		t := s.udp.Stats()
		snap.Transport = &t
	}
	return snap
}
