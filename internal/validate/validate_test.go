package validate

import (
	"testing"

	"corsair.gg/internal/protocol"
)

func input(seq uint16, thrust, turn int16, actions uint16, clientTime uint32) protocol.InputPacket {
	return protocol.InputPacket{
		Seq:        seq,
		DtMs:       33,
		Thrust:     thrust,
		Turn:       turn,
		Actions:    actions,
		ClientTime: clientTime,
	}
}

func TestRateLimit_SpacingBelowMinimum(t *testing.T) {
	v := New(DefaultConfig())
	now := int64(10_000)

	if r := v.Check(0, input(1, 8000, 0, 0, 1000), now); !r.OK {
		t.Fatalf("first input rejected: %+v", r)
	}
	r := v.Check(0, input(2, 8000, 0, 0, 1002), now+2)
	if r.OK || r.Violations&ViolationRateLimit == 0 {
		t.Fatalf("2 ms spacing must trip the rate limit: %+v", r)
	}
}

func TestRateLimit_TwentyMsSpacingAccepted(t *testing.T) {
	v := New(DefaultConfig())
	now := int64(10_000)
	for i := 0; i < 5; i++ {
		p := input(uint16(i+1), 8000, 0, 0, uint32(1000+i*20))
		if r := v.Check(0, p, now+int64(i)*20); !r.OK {
			t.Fatalf("input %d rejected: %+v", i, r)
		}
	}
	if s := v.Stats(); s.Processed != 5 || s.Rejected != 0 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestRateLimit_FloodMostlyRejected(t *testing.T) {
	v := New(DefaultConfig())
	now := int64(10_000)
	v.Check(0, input(1, 8000, 0, 0, 1000), now)

	rejected := 0
	for i := 0; i < 5; i++ {
		now += 2
		if r := v.Check(0, input(uint16(i+2), 8000, 0, 0, uint32(1002+i*2)), now); !r.OK {
			rejected++
		}
	}
	if rejected < 4 {
		t.Fatalf("flood rejected only %d of 5", rejected)
	}
}

func TestRateLimit_BurstWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinIntervalMs = 0
	cfg.TierIntervalMs = [4]int64{}
	v := New(cfg)

	now := int64(10_000)
	for i := 0; i < 8; i++ {
		p := input(uint16(i+1), 8000, 0, 0, uint32(1000+i*30))
		if r := v.Check(0, p, now+int64(i)*5); !r.OK {
			t.Fatalf("input %d inside burst budget rejected: %+v", i, r)
		}
	}
	r := v.Check(0, input(9, 8000, 0, 0, 1300), now+45)
	if r.OK || r.Violations&ViolationRateLimit == 0 {
		t.Fatalf("9th input in 50 ms must trip the burst limit: %+v", r)
	}
}

func TestMovementBounds(t *testing.T) {
	v := New(DefaultConfig())
	// Both axes pinned: magnitude sqrt(2) > 1.
	r := v.Check(0, input(1, 32767, 32767, 0, 1000), 10_000)
	if r.OK || r.Violations&ViolationMovementBounds == 0 {
		t.Fatalf("oversized movement accepted: %+v", r)
	}

	if r := v.Check(0, input(2, 32767, 0, 0, 1020), 10_020); r.Violations&ViolationMovementBounds != 0 {
		t.Fatalf("full single-axis deflection is legal: %+v", r)
	}
}

func TestActionBits_UnknownRejected(t *testing.T) {
	v := New(DefaultConfig())
	r := v.Check(0, input(1, 0, 0, 1<<12, 1000), 10_000)
	if r.OK || r.Violations&ViolationInvalidAction == 0 {
		t.Fatalf("unknown action bit accepted: %+v", r)
	}
	p := input(2, 0, 0, protocol.ActionFire|protocol.ActionReload, 1020)
	if r := v.Check(0, p, 10_020); r.Violations&ViolationInvalidAction != 0 {
		t.Fatalf("known bits rejected: %+v", r)
	}
}

func TestTimestampAnomaly(t *testing.T) {
	v := New(DefaultConfig())
	v.Check(0, input(1, 0, 0, 0, 5000), 10_000)

	r := v.Check(0, input(2, 0, 0, 0, 4000), 10_020) // goes backward
	if r.Violations&ViolationTimestampAnomaly == 0 {
		t.Fatalf("backward timestamp not flagged: %+v", r)
	}

	r = v.Check(0, input(3, 0, 0, 0, 4000+10_000), 10_040) // jumps 10 s
	if r.Violations&ViolationTimestampAnomaly == 0 {
		t.Fatalf("oversized gap not flagged: %+v", r)
	}
}

func TestDuplicateInput_SameBodyInsideWindow(t *testing.T) {
	v := New(DefaultConfig())
	v.Check(0, input(1, 8000, 0, 0, 1000), 10_000)

	// Same command body 19 ms later under a fresh sequence: inside the
	// duplicate window, past the rate-limit interval. The sequence must not
	// shield the repeat.
	r := v.Check(0, input(2, 8000, 0, 0, 1000), 10_019)
	if r.Violations&ViolationDuplicateInput == 0 {
		t.Fatalf("duplicate body not flagged: %+v", r)
	}

	// Same body again but past the window.
	r = v.Check(0, input(3, 8000, 0, 0, 1000), 10_019+25)
	if r.Violations&ViolationDuplicateInput != 0 {
		t.Fatalf("stale repeat wrongly flagged: %+v", r)
	}

	// A changed axis is a fresh command even inside the window.
	r = v.Check(0, input(4, 8001, 0, 0, 1000), 10_019+40)
	if r.Violations&ViolationDuplicateInput != 0 {
		t.Fatalf("changed body wrongly flagged: %+v", r)
	}
}

func TestPatternAnomaly_MirroredAxesAccumulate(t *testing.T) {
	v := New(DefaultConfig())
	now := int64(10_000)
	var r Result
	for i := 0; i < 10; i++ {
		p := input(uint16(i+1), 1000, 1000, 0, uint32(1000+i*20))
		r = v.Check(0, p, now+int64(i)*20)
	}
	if r.Violations&ViolationPatternAnomaly == 0 {
		t.Fatalf("mirrored axes never flagged: %+v", r)
	}
	// Ten nudges of 0.05 sum to exactly the 0.5 threshold.
	if got := v.ClientStats(0).PatternScore; got != 0.5 {
		t.Fatalf("score after ten nudges = %v, want 0.5", got)
	}

	// Decay pulls the score back under the threshold.
	for i := 0; i < 200; i++ {
		v.DecayTick()
	}
	if v.ClientStats(0).PatternScore != 0 {
		t.Fatalf("score did not decay: %+v", v.ClientStats(0))
	}
}

func TestRecommendBan_BlendedScore(t *testing.T) {
	v := New(DefaultConfig())
	now := int64(10_000)
	// Every input violates the rate limit: rejection rate approaches 1.
	for i := 0; i < 20; i++ {
		v.Check(0, input(uint16(i+1), 0, 0, 0, uint32(1000+i)), now+int64(i))
	}
	if !v.RecommendBan(0) {
		t.Fatalf("flooding client not recommended for ban: %+v", v.ClientStats(0))
	}
	if v.RecommendBan(1) {
		t.Fatalf("untouched slot recommended for ban")
	}

	v.ResetClient(0)
	if v.RecommendBan(0) {
		t.Fatalf("reset slot still recommended for ban")
	}
}

func TestTierGating(t *testing.T) {
	v := New(DefaultConfig())
	v.SetTier(0, TierIdle) // 100 ms minimum

	v.Check(0, input(1, 0, 0, 0, 1000), 10_000)
	r := v.Check(0, input(2, 0, 0, 0, 1050), 10_050)
	if r.Violations&ViolationRateLimit == 0 {
		t.Fatalf("idle tier must reject 50 ms spacing: %+v", r)
	}

	v.SetTier(0, TierCritical)
	r = v.Check(0, input(3, 0, 0, 0, 1070), 10_070)
	if r.Violations&ViolationRateLimit != 0 {
		t.Fatalf("critical tier must allow 20 ms spacing: %+v", r)
	}
}

func TestClassifyTier(t *testing.T) {
	cases := []struct {
		nearby         int
		combat, moving bool
		want           Tier
	}{
		{0, true, false, TierCritical},
		{0, false, true, TierNormal},
		{3, false, false, TierBackground},
		{0, false, false, TierIdle},
	}
	for _, c := range cases {
		if got := ClassifyTier(c.nearby, c.combat, c.moving); got != c.want {
			t.Fatalf("ClassifyTier(%d,%v,%v) = %v, want %v", c.nearby, c.combat, c.moving, got, c.want)
		}
	}
}
