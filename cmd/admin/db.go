package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/index.db)")
	limit := fs.Int("limit", 20, "result limit")
	player := fs.Uint("player", 0, "player_id filter (flags)")
	_ = fs.Parse(args)

	q := "sessions"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index.db")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if *limit <= 0 {
		*limit = 20
	}

	switch q {
	case "sessions":
		rows, err := db.Query(`SELECT session_id,player_id,name,addr,connected_ms,disconnected_ms FROM sessions ORDER BY connected_ms DESC LIMIT ?`, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				SessionID      string `json:"session_id"`
				PlayerID       int    `json:"player_id"`
				Name           string `json:"name"`
				Addr           string `json:"addr"`
				ConnectedMs    int64  `json:"connected_ms"`
				DisconnectedMs int64  `json:"disconnected_ms"`
			}
			if err := rows.Scan(&r.SessionID, &r.PlayerID, &r.Name, &r.Addr, &r.ConnectedMs, &r.DisconnectedMs); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	case "flags":
		query := `SELECT player_id,violations,suspicion,tick,at_ms FROM flags ORDER BY at_ms DESC LIMIT ?`
		qargs := []any{*limit}
		if *player != 0 {
			query = `SELECT player_id,violations,suspicion,tick,at_ms FROM flags WHERE player_id=? ORDER BY at_ms DESC LIMIT ?`
			qargs = []any{*player, *limit}
		}
		rows, err := db.Query(query, qargs...)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				PlayerID   int     `json:"player_id"`
				Violations uint32  `json:"violations"`
				Suspicion  float64 `json:"suspicion"`
				Tick       uint64  `json:"tick"`
				AtMs       int64   `json:"at_ms"`
			}
			if err := rows.Scan(&r.PlayerID, &r.Violations, &r.Suspicion, &r.Tick, &r.AtMs); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	case "top_flagged":
		rows, err := db.Query(`SELECT player_id,COUNT(*) AS n,MAX(suspicion) AS peak FROM flags GROUP BY player_id ORDER BY n DESC LIMIT ?`, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				PlayerID      int     `json:"player_id"`
				Flags         int     `json:"flags"`
				PeakSuspicion float64 `json:"peak_suspicion"`
			}
			if err := rows.Scan(&r.PlayerID, &r.Flags, &r.PeakSuspicion); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	case "bans":
		rows, err := db.Query(`SELECT player_id,score,recorded_at FROM bans ORDER BY recorded_at DESC LIMIT ?`, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				PlayerID   int     `json:"player_id"`
				Score      float64 `json:"score"`
				RecordedAt string  `json:"recorded_at"`
			}
			if err := rows.Scan(&r.PlayerID, &r.Score, &r.RecordedAt); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data|-db PATH] [-limit N] [-player ID] sessions|flags|top_flagged|bans")
		os.Exit(2)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
