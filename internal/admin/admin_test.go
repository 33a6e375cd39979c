package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"corsair.gg/internal/logging"
	"corsair.gg/internal/persistence/flagdb"
	"corsair.gg/internal/server"
)

type fakeStats struct {
	snap server.StatsSnapshot
}

func (f *fakeStats) Stats(ctx context.Context) (server.StatsSnapshot, error) {
	return f.snap, nil
}

func sampleSnapshot() server.StatsSnapshot {
	var snap server.StatsSnapshot
	snap.Tick = 1234
	snap.Players = 3
	snap.AOIOccupancy = 3
	snap.Reliability.Connections = 3
	snap.Reliability.PacketsSent = 9000
	snap.Reliability.PacketsRecv = 8800
	snap.Reliability.LossPercent = 1.5
	snap.Reliability.AvgRTTMs = 42
	snap.Validator.Processed = 8000
	snap.Validator.Rejected = 12
	snap.Rewind.Stores = 500
	snap.Rewind.AvgRewindMs = 35.5
	snap.Replication.PacketsBuilt = 7000
	snap.Replication.Baselines = 240
	return snap
}

func adminMux(t *testing.T, db *flagdb.DB) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	New(&fakeStats{snap: sampleSnapshot()}, db, logging.Nop()).Register(mux)
	return mux
}

func get(mux *http.ServeMux, url, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, url, nil)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestStatsEndpoint_MatchesSchema(t *testing.T) {
	schema, err := jsonschema.Compile(filepath.Join("..", "..", "schemas", "stats.schema.json"))
	if err != nil {
		t.Fatalf("compile schema: %v", err)
	}

	rec := get(adminMux(t, nil), "/admin/v1/stats", "127.0.0.1:9999")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var doc any
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := schema.Validate(doc); err != nil {
		t.Fatalf("stats response violates schema: %v", err)
	}
}

func TestNonLoopbackForbidden(t *testing.T) {
	rec := get(adminMux(t, nil), "/admin/v1/stats", "203.0.113.9:1000")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestDBEndpoints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	db, err := flagdb.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.RecordSession(flagdb.SessionRow{SessionID: "s1", PlayerID: 7, Name: "anne", Addr: "10.0.0.1:4000", ConnectedMs: 1000})
	db.RecordFlag(flagdb.FlagRow{PlayerID: 7, Violations: 1, Suspicion: 0.1, Tick: 10, AtMs: 1100})
	db.RecordFlag(flagdb.FlagRow{PlayerID: 7, Violations: 1, Suspicion: 0.2, Tick: 11, AtMs: 1150})
	db.RecordBan(7, 0.8)
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	db, err = flagdb.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	mux := adminMux(t, db)

	rec := get(mux, "/admin/v1/flags?player=7", "127.0.0.1:1")
	if rec.Code != http.StatusOK {
		t.Fatalf("flags status = %d: %s", rec.Code, rec.Body.String())
	}
	var flags struct {
		PlayerID uint16 `json:"player_id"`
		Flags    int    `json:"flags"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &flags); err != nil {
		t.Fatalf("decode flags: %v", err)
	}
	if flags.PlayerID != 7 || flags.Flags != 2 {
		t.Fatalf("flags = %+v", flags)
	}

	rec = get(mux, "/admin/v1/bans", "127.0.0.1:1")
	var bans struct {
		Banned []uint16 `json:"banned"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &bans); err != nil {
		t.Fatalf("decode bans: %v", err)
	}
	if len(bans.Banned) != 1 || bans.Banned[0] != 7 {
		t.Fatalf("bans = %+v", bans)
	}

	rec = get(mux, "/admin/v1/sessions?limit=10", "127.0.0.1:1")
	var sessions struct {
		Sessions []struct {
			SessionID string `json:"session_id"`
			Name      string `json:"name"`
		} `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &sessions); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(sessions.Sessions) != 1 || sessions.Sessions[0].Name != "anne" {
		t.Fatalf("sessions = %+v", sessions)
	}
}

func TestDBDisabled(t *testing.T) {
	mux := adminMux(t, nil)
	for _, url := range []string{"/admin/v1/sessions", "/admin/v1/flags?player=1", "/admin/v1/bans"} {
		if rec := get(mux, url, "127.0.0.1:1"); rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s status = %d", url, rec.Code)
		}
	}
}
