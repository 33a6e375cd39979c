// Package reliability provides per-connection sequencing, acknowledgment
// bitfields, retransmission and RTT estimation on top of an unreliable
// datagram transport. It is not a general-purpose reliable transport: only
// the specific sliding-window/ack scheme of this protocol.
package reliability

import (
	"corsair.gg/internal/sim"
)

// SendFunc transmits one raw payload to the connection's peer. It must not
// block; send failures surface through transport counters, not here.
type SendFunc func(payload []byte)

// pendingPacket is one reliable payload awaiting acknowledgment.
type pendingPacket struct {
	seq     uint16
	sentAt  int64 // unix ms of the most recent (re)transmission
	resends int
	payload []byte
}

// Connection is the per-player reliability state. It is the sole owner of
// its retransmit buffer.
type Connection struct {
	PlayerID sim.EntityID

	send SendFunc

	localSeq uint16 // last assigned outgoing sequence

	remoteSeq     uint16 // highest remote sequence seen
	remoteHistory uint32 // bit i: remoteSeq-i received; bit 0 is remoteSeq itself
	hasRemote     bool

	pending []pendingPacket

	lastSentMs int64
	lastRecvMs int64

	rttMs int64

	// Per-connection counters.
	sent        uint64
	received    uint64
	lost        uint64
	resent      uint64
	dropResend  uint64
	dropPending uint64
	duplicates  uint64
}

// seqDiff returns the signed circular distance from b to a, wrapping at
// 32768. Positive means a is newer.
func seqDiff(a, b uint16) int {
	d := int(a) - int(b)
	if d > 32767 {
		d -= 65536
	} else if d < -32768 {
		d += 65536
	}
	return d
}

// NextSeq assigns the next outgoing sequence. Wraps at 65536 and skips 0.
func (c *Connection) NextSeq() uint16 {
	c.localSeq++
	if c.localSeq == 0 {
		c.localSeq = 1
	}
	return c.localSeq
}

// Send transmits a payload carrying seq. Reliable payloads are copied into
// the pending queue for retransmission; a full queue skips tracking and
// counts the degradation instead of failing the tick.
func (c *Connection) Send(seq uint16, payload []byte, reliable bool, nowMs int64) {
	c.send(payload)
	c.lastSentMs = nowMs
	c.sent++
	if !reliable {
		return
	}
	if len(c.pending) >= maxPending {
		c.dropPending++
		return
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	c.pending = append(c.pending, pendingPacket{seq: seq, sentAt: nowMs, payload: buf})
}

// ReceiveResult classifies an incoming data sequence.
type ReceiveResult uint8

const (
	// ReceiveNew advances the window (possibly recording skipped
	// sequences as losses).
	ReceiveNew ReceiveResult = iota
	// ReceiveOutOfOrder fills a previously-skipped slot inside the
	// 32-sequence history window.
	ReceiveOutOfOrder
	// ReceiveDuplicate was already seen (or is older than the window).
	ReceiveDuplicate
)

// OnReceive records an incoming data packet's sequence and classifies it.
// Skipped sequences increment the loss counter; late arrivals inside the
// history window take the loss back.
func (c *Connection) OnReceive(seq uint16, nowMs int64) ReceiveResult {
	c.lastRecvMs = nowMs
	if !c.hasRemote {
		c.hasRemote = true
		c.remoteSeq = seq
		c.remoteHistory = 1
		c.received++
		return ReceiveNew
	}
	d := seqDiff(seq, c.remoteSeq)
	switch {
	case d > 0:
		// Shifts of 32 or more zero the mask, leaving only the new head.
		c.remoteHistory = c.remoteHistory<<uint(d) | 1
		c.remoteSeq = seq
		c.lost += uint64(d - 1)
		c.received++
		return ReceiveNew
	case d == 0:
		c.duplicates++
		return ReceiveDuplicate
	default:
		if -d > 31 {
			c.duplicates++
			return ReceiveDuplicate
		}
		bit := uint32(1) << uint(-d)
		if c.remoteHistory&bit != 0 {
			c.duplicates++
			return ReceiveDuplicate
		}
		c.remoteHistory |= bit
		if c.lost > 0 {
			c.lost--
		}
		c.received++
		return ReceiveOutOfOrder
	}
}

// Touch refreshes the receive clock for packets that carry no sequence,
// such as client heartbeats.
func (c *Connection) Touch(nowMs int64) { c.lastRecvMs = nowMs }

// AckState returns the highest received sequence and the history bitmask to
// echo back to the peer: bit i covers ackSeq-i, so bit 0 restates the
// explicit ack and bits 1..31 cover the preceding window.
func (c *Connection) AckState() (ackSeq uint16, ackBits uint32) {
	return c.remoteSeq, c.remoteHistory
}

// ProcessAck clears pending entries covered by an ack packet: the explicit
// sequence plus every bitmask-indicated one. Unretransmitted packets feed
// the RTT estimator.
func (c *Connection) ProcessAck(ackSeq uint16, ackBits uint32, nowMs int64) {
	kept := c.pending[:0]
	for _, p := range c.pending {
		if acked(p.seq, ackSeq, ackBits) {
			if p.resends == 0 {
				c.observeRTT(nowMs - p.sentAt)
			}
			continue
		}
		kept = append(kept, p)
	}
	c.pending = kept
}

// acked reports whether seq is covered by the ack: the explicit sequence, or
// bit ackSeq-seq of the bitmask.
func acked(seq, ackSeq uint16, ackBits uint32) bool {
	d := seqDiff(ackSeq, seq)
	if d == 0 {
		return true
	}
	if d < 1 || d > 31 {
		return false
	}
	return ackBits&(1<<uint(d)) != 0
}

// observeRTT folds one sample into the exponential moving average (7:1
// weight to history), clamped to [rttMinMs, rttMaxMs].
func (c *Connection) observeRTT(sample int64) {
	if sample < rttMinMs {
		sample = rttMinMs
	} else if sample > rttMaxMs {
		sample = rttMaxMs
	}
	if c.rttMs == 0 {
		c.rttMs = sample
		return
	}
	c.rttMs = (c.rttMs*7 + sample) / 8
}

// RTT returns the smoothed round-trip estimate in milliseconds.
func (c *Connection) RTT() int64 { return c.rttMs }

// PendingCount returns the current retransmit queue depth.
func (c *Connection) PendingCount() int { return len(c.pending) }

// sweepResends retransmits pending entries older than the resend timeout and
// drops entries that exhausted their resend budget.
func (c *Connection) sweepResends(nowMs int64, timeoutMs int64, maxResends int) {
	kept := c.pending[:0]
	for i := range c.pending {
		p := &c.pending[i]
		if nowMs-p.sentAt < timeoutMs {
			kept = append(kept, *p)
			continue
		}
		if p.resends >= maxResends {
			c.dropResend++
			continue
		}
		p.resends++
		p.sentAt = nowMs
		c.send(p.payload)
		c.lastSentMs = nowMs
		c.resent++
		kept = append(kept, *p)
	}
	c.pending = kept
}
