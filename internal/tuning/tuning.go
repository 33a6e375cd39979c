// Package tuning loads the server's runtime knobs from yaml and converts
// them into the per-subsystem configs. Every rate and bound is explicit
// here; in particular the simulation tick rate and the rewind capture rate
// are independent values, not derived from each other.
package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"corsair.gg/internal/fixmath"
	"corsair.gg/internal/replication"
	"corsair.gg/internal/rewind"
	"corsair.gg/internal/validate"
)

type Tuning struct {
	TickRateHz    int `yaml:"tick_rate_hz"`
	CaptureRateHz int `yaml:"capture_rate_hz"`

	MaxClients   int `yaml:"max_clients"`
	DrainPerTick int `yaml:"drain_per_tick"`

	MaxSpeedMps float64 `yaml:"max_speed_mps"`

	Replication Replication `yaml:"replication"`
	Rewind      Rewind      `yaml:"rewind"`
	Validator   Validator   `yaml:"validator"`
}

type Replication struct {
	BaselineTicks int    `yaml:"baseline_ticks"`
	BaselineMs    int    `yaml:"baseline_ms"`
	TierRatesHz   [3]int `yaml:"tier_rates_hz"`
	MaxEntities   int    `yaml:"max_entities"`
	MaxBaselines  int    `yaml:"max_baselines"`
}

type Rewind struct {
	ShipHalfExtentM float64 `yaml:"ship_half_extent_m"`
	HitDamage       int     `yaml:"hit_damage"`
	MaxEntities     int     `yaml:"max_entities"`
}

type Validator struct {
	MinIntervalMs     int      `yaml:"min_interval_ms"`
	TierIntervalMs    [4]int64 `yaml:"tier_interval_ms"`
	BurstWindowMs     int      `yaml:"burst_window_ms"`
	BurstMax          int      `yaml:"burst_max"`
	DuplicateWindowMs int      `yaml:"duplicate_window_ms"`
	MaxClientGapMs    int      `yaml:"max_client_gap_ms"`
	BanThreshold      float64  `yaml:"ban_threshold"`
}

// Defaults returns the production configuration.
func Defaults() Tuning {
	repl := replication.DefaultConfig()
	rw := rewind.DefaultConfig()
	val := validate.DefaultConfig()
	return Tuning{
		TickRateHz:    30,
		CaptureRateHz: rw.CaptureHz,
		MaxClients:    64,
		DrainPerTick:  256,
		MaxSpeedMps:   rw.MaxSpeed.Float(),
		Replication: Replication{
			BaselineTicks: int(repl.BaselineTicks),
			BaselineMs:    int(repl.BaselineMs),
			TierRatesHz:   repl.TierRatesHz,
			MaxEntities:   repl.MaxEntities,
			MaxBaselines:  repl.MaxBaselines,
		},
		Rewind: Rewind{
			ShipHalfExtentM: rw.ShipHalfExtent.Float(),
			HitDamage:       int(rw.HitDamage),
			MaxEntities:     rw.MaxEntities,
		},
		Validator: Validator{
			MinIntervalMs:     int(val.MinIntervalMs),
			TierIntervalMs:    val.TierIntervalMs,
			BurstWindowMs:     int(val.BurstWindowMs),
			BurstMax:          val.BurstMax,
			DuplicateWindowMs: int(val.DuplicateWindowMs),
			MaxClientGapMs:    int(val.MaxClientGapMs),
			BanThreshold:      val.BanThreshold,
		},
	}
}

// Load reads a yaml file over the defaults, so a partial file only overrides
// what it names.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// TickMs returns the simulation tick period in milliseconds.
func (t Tuning) TickMs() int64 {
	if t.TickRateHz <= 0 {
		return 33
	}
	return int64(1000 / t.TickRateHz)
}

// CaptureMs returns the rewind capture period in milliseconds.
func (t Tuning) CaptureMs() int64 {
	if t.CaptureRateHz <= 0 {
		return 22
	}
	return int64(1000 / t.CaptureRateHz)
}

// ReplicationConfig converts the yaml section into the stream config.
func (t Tuning) ReplicationConfig() replication.Config {
	cfg := replication.DefaultConfig()
	cfg.BaselineTicks = uint64(t.Replication.BaselineTicks)
	cfg.BaselineMs = int64(t.Replication.BaselineMs)
	cfg.TierRatesHz = t.Replication.TierRatesHz
	cfg.MaxEntities = t.Replication.MaxEntities
	cfg.MaxBaselines = t.Replication.MaxBaselines
	return cfg
}

// RewindConfig converts the yaml section into the rewind buffer config.
func (t Tuning) RewindConfig() rewind.Config {
	cfg := rewind.DefaultConfig()
	cfg.CaptureHz = t.CaptureRateHz
	cfg.MaxSpeed = fixmath.FromFloat(t.MaxSpeedMps)
	cfg.ShipHalfExtent = fixmath.FromFloat(t.Rewind.ShipHalfExtentM)
	cfg.HitDamage = int16(t.Rewind.HitDamage)
	cfg.MaxEntities = t.Rewind.MaxEntities
	return cfg
}

// ValidatorConfig converts the yaml section into the validator config.
func (t Tuning) ValidatorConfig() validate.Config {
	cfg := validate.DefaultConfig()
	cfg.MinIntervalMs = int64(t.Validator.MinIntervalMs)
	cfg.TierIntervalMs = t.Validator.TierIntervalMs
	cfg.BurstWindowMs = int64(t.Validator.BurstWindowMs)
	cfg.BurstMax = t.Validator.BurstMax
	cfg.DuplicateWindowMs = int64(t.Validator.DuplicateWindowMs)
	cfg.MaxClientGapMs = int64(t.Validator.MaxClientGapMs)
	cfg.BanThreshold = t.Validator.BanThreshold
	return cfg
}

// MaxSpeed returns the movement bound as Q16.16.
func (t Tuning) MaxSpeed() fixmath.Fixed { return fixmath.FromFloat(t.MaxSpeedMps) }
