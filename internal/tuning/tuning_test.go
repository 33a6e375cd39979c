package tuning

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults_IndependentClocks(t *testing.T) {
	d := Defaults()
	if d.TickRateHz != 30 || d.CaptureRateHz != 45 {
		t.Fatalf("rates = %d/%d", d.TickRateHz, d.CaptureRateHz)
	}
	if d.TickMs() != 33 || d.CaptureMs() != 22 {
		t.Fatalf("periods = %d/%d", d.TickMs(), d.CaptureMs())
	}
}

func TestLoad_PartialOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	data := "tick_rate_hz: 60\nvalidator:\n  burst_max: 4\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TickRateHz != 60 {
		t.Fatalf("tick rate = %d", cfg.TickRateHz)
	}
	if cfg.Validator.BurstMax != 4 {
		t.Fatalf("burst max = %d", cfg.Validator.BurstMax)
	}
	// Untouched fields keep defaults.
	if cfg.CaptureRateHz != 45 || cfg.Replication.BaselineTicks != 30 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoad_ShippedConfigMatchesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("load shipped config: %v", err)
	}
	if cfg != Defaults() {
		t.Fatalf("shipped config drifted from defaults:\n got %+v\nwant %+v", cfg, Defaults())
	}
}

func TestConfigConversions(t *testing.T) {
	d := Defaults()
	repl := d.ReplicationConfig()
	if repl.TierRatesHz != [3]int{30, 15, 5} {
		t.Fatalf("tier rates = %v", repl.TierRatesHz)
	}
	rw := d.RewindConfig()
	if rw.CaptureHz != 45 || rw.HitDamage != 25 {
		t.Fatalf("rewind cfg = %+v", rw)
	}
	val := d.ValidatorConfig()
	if val.MinIntervalMs != 10 || val.TierIntervalMs[3] != 5 {
		t.Fatalf("validator cfg = %+v", val)
	}
}
