// Package admin serves the local-only operator endpoints: live server
// stats, recent sessions, per-player flag counts and ban recommendations.
// Read paths only; nothing here touches the simulation.
package admin

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"corsair.gg/internal/persistence/flagdb"
	"corsair.gg/internal/server"
)

// StatsSource answers stats requests; satisfied by *server.Server.
type StatsSource interface {
	Stats(ctx context.Context) (server.StatsSnapshot, error)
}

// Server holds the admin handler dependencies. db may be nil when the
// index backend is disabled; the db-backed endpoints answer 503 then.
type Server struct {
	stats StatsSource
	db    *flagdb.DB
	log   *zap.SugaredLogger
}

// New creates the admin surface.
func New(stats StatsSource, db *flagdb.DB, log *zap.SugaredLogger) *Server {
	return &Server{stats: stats, db: db, log: log}
}

// Register mounts the admin routes on mux.
func (a *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/admin/v1/stats", a.guard(a.handleStats))
	mux.HandleFunc("/admin/v1/sessions", a.guard(a.handleSessions))
	mux.HandleFunc("/admin/v1/flags", a.guard(a.handleFlags))
	mux.HandleFunc("/admin/v1/bans", a.guard(a.handleBans))
}

// guard restricts a handler to loopback callers.
func (a *Server) guard(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func (a *Server) handleStats(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	snap, err := a.stats.Stats(ctx)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(rw, snap)
}

func (a *Server) handleSessions(rw http.ResponseWriter, r *http.Request) {
	if a.db == nil {
		http.Error(rw, "index backend disabled", http.StatusServiceUnavailable)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			http.Error(rw, "bad limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	rows, err := a.db.Sessions(limit)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	type session struct {
		SessionID      string `json:"session_id"`
		PlayerID       uint16 `json:"player_id"`
		Name           string `json:"name"`
		Addr           string `json:"addr"`
		ConnectedMs    int64  `json:"connected_ms"`
		DisconnectedMs int64  `json:"disconnected_ms"`
	}
	out := make([]session, 0, len(rows))
	for _, s := range rows {
		out = append(out, session{
			SessionID:      s.SessionID,
			PlayerID:       s.PlayerID,
			Name:           s.Name,
			Addr:           s.Addr,
			ConnectedMs:    s.ConnectedMs,
			DisconnectedMs: s.DisconnectedMs,
		})
	}
	writeJSON(rw, map[string]any{"sessions": out})
}

func (a *Server) handleFlags(rw http.ResponseWriter, r *http.Request) {
	if a.db == nil {
		http.Error(rw, "index backend disabled", http.StatusServiceUnavailable)
		return
	}
	pid, err := strconv.ParseUint(r.URL.Query().Get("player"), 10, 16)
	if err != nil {
		http.Error(rw, "bad player id", http.StatusBadRequest)
		return
	}
	n, err := a.db.FlagCount(uint16(pid))
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(rw, map[string]any{"player_id": pid, "flags": n})
}

func (a *Server) handleBans(rw http.ResponseWriter, r *http.Request) {
	if a.db == nil {
		http.Error(rw, "index backend disabled", http.StatusServiceUnavailable)
		return
	}
	ids, err := a.db.BannedPlayers()
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	if ids == nil {
		ids = []uint16{}
	}
	writeJSON(rw, map[string]any{"banned": ids})
}

func writeJSON(rw http.ResponseWriter, v any) {
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(v)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
