// Package validate runs the per-client anti-cheat checks on every accepted
// input frame: rate/burst limiting, movement bounds, action-bitfield
// validity, timestamp anomalies, duplicate frames and a pattern-anomaly
// suspicion score. It only classifies and counts; disconnecting a flagged
// client is the caller's decision.
package validate

import (
	"corsair.gg/internal/fixmath"
	"corsair.gg/internal/protocol"
)

// MaxClients is the fixed client-slot table size. Records are keyed by slot,
// not entity ID, and survive until an explicit reset.
const MaxClients = 64

// Violation bits. Any nonzero mask marks the input invalid.
const (
	ViolationRateLimit        uint32 = 1 << 0
	ViolationMovementBounds   uint32 = 1 << 1
	ViolationInvalidAction    uint32 = 1 << 2
	ViolationTimestampAnomaly uint32 = 1 << 3
	ViolationDuplicateInput   uint32 = 1 << 4
	ViolationPatternAnomaly   uint32 = 1 << 5

	violationKinds = 6
)

// Tier is the input-rate class assigned from external activity signals. It
// gates the minimum legal input interval independently of the base rate
// limit.
type Tier uint8

const (
	TierIdle Tier = iota
	TierBackground
	TierNormal
	TierCritical
)

func (t Tier) String() string {
	switch t {
	case TierIdle:
		return "idle"
	case TierBackground:
		return "background"
	case TierNormal:
		return "normal"
	case TierCritical:
		return "critical"
	}
	return "unknown"
}

// Config holds the check toggles and thresholds.
type Config struct {
	RateLimit      bool
	MovementBounds bool
	ActionBits     bool
	TimestampCheck bool
	DuplicateCheck bool
	PatternCheck   bool

	// MinIntervalMs is the base floor between inputs; the per-tier interval
	// below may raise it.
	MinIntervalMs int64

	// TierIntervalMs is the minimum legal interval per tier
	// (idle, background, normal, critical).
	TierIntervalMs [4]int64

	// BurstMax inputs inside BurstWindowMs trip the rate limiter even when
	// individual spacing is legal.
	BurstWindowMs int64
	BurstMax      int

	// DuplicateWindowMs bounds how recent an identical command body must
	// be to count as a duplicate. The comparison excludes the sequence and
	// checksum, which differ on every send.
	DuplicateWindowMs int64

	// MaxClientGapMs is the largest tolerated forward jump between
	// consecutive client timestamps.
	MaxClientGapMs int64

	// SuspicionIncrement is added per violating input, capped at 1.0.
	// PatternNudge and PatternDecay drive the heuristic score;
	// PatternThreshold turns it into a violation.
	SuspicionIncrement float64
	PatternNudge       float64
	PatternDecay       float64
	PatternThreshold   float64

	// Ban recommendation: RejectWeight*rejectionRate +
	// PatternWeight*patternScore >= BanThreshold.
	RejectWeight  float64
	PatternWeight float64
	BanThreshold  float64
}

// DefaultConfig enables every check with the production thresholds.
func DefaultConfig() Config {
	return Config{
		RateLimit:      true,
		MovementBounds: true,
		ActionBits:     true,
		TimestampCheck: true,
		DuplicateCheck: true,
		PatternCheck:   true,

		MinIntervalMs:  10,
		TierIntervalMs: [4]int64{100, 50, 15, 5},

		BurstWindowMs: 100,
		BurstMax:      8,

		DuplicateWindowMs: 20,
		MaxClientGapMs:    5000,

		SuspicionIncrement: 0.1,
		PatternNudge:       0.05,
		PatternDecay:       0.01,
		PatternThreshold:   0.5,

		RejectWeight:  0.7,
		PatternWeight: 0.3,
		BanThreshold:  0.5,
	}
}

// Result classifies one input frame.
type Result struct {
	OK         bool
	Violations uint32
	Suspicion  float64 // per-input score, capped at 1.0
}

// inputBody is the command content of one input frame: everything except the
// sequence and checksum, which change on every send.
type inputBody struct {
	dtMs       uint16
	thrust     int16
	turn       int16
	actions    uint16
	clientTime uint32
}

type clientRecord struct {
	seen bool

	tier Tier

	lastInputMs    int64
	lastClientTime uint32
	hasClientTime  bool

	lastBody   inputBody
	hasBody    bool
	lastBodyMs int64

	burstStartMs int64
	burstCount   int

	// patternScore is held in thousandths; integer accumulation keeps
	// repeated nudges exact.
	patternScore int

	processed  uint64
	rejected   uint64
	violations [violationKinds]uint64
}

// ClientStats is the per-slot counter view.
type ClientStats struct {
	Processed    uint64  `json:"processed"`
	Rejected     uint64  `json:"rejected"`
	PatternScore float64 `json:"pattern_score"`
	Tier         string  `json:"tier"`
}

// Stats is the global counter view.
type Stats struct {
	Processed uint64 `json:"processed"`
	Rejected  uint64 `json:"rejected"`
	Flagged   int    `json:"flagged_clients"`
}

// Validator owns the fixed client-slot table. Single-threaded, driven by the
// server loop.
type Validator struct {
	cfg     Config
	clients [MaxClients]clientRecord

	// Pattern thresholds converted to thousandths at construction.
	patternNudge     int
	patternDecay     int
	patternThreshold int

	processed uint64
	rejected  uint64
}

func milli(v float64) int { return int(v*1000 + 0.5) }

// New creates a validator.
func New(cfg Config) *Validator {
	v := &Validator{
		cfg:              cfg,
		patternNudge:     milli(cfg.PatternNudge),
		patternDecay:     milli(cfg.PatternDecay),
		patternThreshold: milli(cfg.PatternThreshold),
	}
	for i := range v.clients {
		v.clients[i].tier = TierNormal
	}
	return v
}

// SetTier assigns a client's input-rate tier from external activity signals.
func (v *Validator) SetTier(slot int, tier Tier) {
	if slot < 0 || slot >= MaxClients {
		return
	}
	v.clients[slot].tier = tier
}

// ClassifyTier maps activity signals to a tier: combat is critical, visible
// movement is normal, company without movement is background, and a lone
// idle client can slow down.
func ClassifyTier(nearbyPlayers int, inCombat, moving bool) Tier {
	switch {
	case inCombat:
		return TierCritical
	case moving:
		return TierNormal
	case nearbyPlayers > 0:
		return TierBackground
	default:
		return TierIdle
	}
}

func (v *Validator) minInterval(tier Tier) int64 {
	min := v.cfg.MinIntervalMs
	if ti := v.cfg.TierIntervalMs[tier]; ti > min {
		min = ti
	}
	return min
}

// Check runs every enabled check against one input frame. nowMs is the
// server arrival time.
func (v *Validator) Check(slot int, in protocol.InputPacket, nowMs int64) Result {
	if slot < 0 || slot >= MaxClients {
		return Result{Violations: ViolationInvalidAction}
	}
	c := &v.clients[slot]
	var mask uint32

	if v.cfg.RateLimit && c.seen {
		if nowMs-c.lastInputMs < v.minInterval(c.tier) {
			mask |= ViolationRateLimit
		}
		if nowMs-c.burstStartMs > v.cfg.BurstWindowMs {
			c.burstStartMs = nowMs
			c.burstCount = 0
		}
		c.burstCount++
		if c.burstCount > v.cfg.BurstMax {
			mask |= ViolationRateLimit
		}
	} else if v.cfg.RateLimit {
		c.burstStartMs = nowMs
		c.burstCount = 1
	}

	if v.cfg.MovementBounds {
		mv := fixmath.Vec2{
			X: protocol.Q15ToFixed(in.Thrust),
			Y: protocol.Q15ToFixed(in.Turn),
		}
		if mv.LengthSq() > int64(fixmath.One)*int64(fixmath.One) {
			mask |= ViolationMovementBounds
		}
	}

	if v.cfg.ActionBits && in.Actions&^protocol.ActionMask != 0 {
		mask |= ViolationInvalidAction
	}

	if v.cfg.TimestampCheck && c.hasClientTime {
		gap := int64(in.ClientTime) - int64(c.lastClientTime)
		if gap < 0 || gap > v.cfg.MaxClientGapMs {
			mask |= ViolationTimestampAnomaly
		}
	}

	body := inputBody{
		dtMs:       in.DtMs,
		thrust:     in.Thrust,
		turn:       in.Turn,
		actions:    in.Actions,
		clientTime: in.ClientTime,
	}
	if v.cfg.DuplicateCheck && c.hasBody &&
		nowMs-c.lastBodyMs < v.cfg.DuplicateWindowMs &&
		body == c.lastBody {
		mask |= ViolationDuplicateInput
	}

	if v.cfg.PatternCheck {
		// Perfectly mirrored axes are a bot tell; humans drift.
		if in.Thrust != 0 && (in.Thrust == in.Turn || in.Thrust == -in.Turn) {
			c.patternScore += v.patternNudge
			if c.patternScore > 1000 {
				c.patternScore = 1000
			}
		}
		if c.patternScore >= v.patternThreshold {
			mask |= ViolationPatternAnomaly
		}
	}

	c.seen = true
	c.lastInputMs = nowMs
	c.lastClientTime = in.ClientTime
	c.hasClientTime = true
	c.lastBody = body
	c.hasBody = true
	c.lastBodyMs = nowMs

	c.processed++
	v.processed++

	suspicion := 0.0
	for bit := 0; bit < violationKinds; bit++ {
		if mask&(1<<uint(bit)) != 0 {
			c.violations[bit]++
			suspicion += v.cfg.SuspicionIncrement
		}
	}
	if suspicion > 1 {
		suspicion = 1
	}
	if mask != 0 {
		c.rejected++
		v.rejected++
	}
	return Result{OK: mask == 0, Violations: mask, Suspicion: suspicion}
}

// DecayTick relaxes every client's pattern score once per tick.
func (v *Validator) DecayTick() {
	for i := range v.clients {
		c := &v.clients[i]
		if c.patternScore > 0 {
			c.patternScore -= v.patternDecay
			if c.patternScore < 0 {
				c.patternScore = 0
			}
		}
	}
}

// RecommendBan reports whether a client's blended score crossed the ban
// threshold. Advisory only.
func (v *Validator) RecommendBan(slot int) bool {
	if slot < 0 || slot >= MaxClients {
		return false
	}
	c := &v.clients[slot]
	if c.processed == 0 {
		return false
	}
	rejectionRate := float64(c.rejected) / float64(c.processed)
	blended := v.cfg.RejectWeight*rejectionRate + v.cfg.PatternWeight*float64(c.patternScore)/1000
	return blended >= v.cfg.BanThreshold
}

// ResetClient clears one slot's record, e.g. on disconnect.
func (v *Validator) ResetClient(slot int) {
	if slot < 0 || slot >= MaxClients {
		return
	}
	v.clients[slot] = clientRecord{tier: TierNormal}
}

// ClientStats returns one slot's counters.
func (v *Validator) ClientStats(slot int) ClientStats {
	if slot < 0 || slot >= MaxClients {
		return ClientStats{}
	}
	c := &v.clients[slot]
	return ClientStats{
		Processed:    c.processed,
		Rejected:     c.rejected,
		PatternScore: float64(c.patternScore) / 1000,
		Tier:         c.tier.String(),
	}
}

// Stats returns the global counters. Flagged counts clients with at least
// one rejected input.
func (v *Validator) Stats() Stats {
	s := Stats{Processed: v.processed, Rejected: v.rejected}
	for i := range v.clients {
		if v.clients[i].rejected > 0 {
			s.Flagged++
		}
	}
	return s
}
