// Package flagdb keeps a queryable sqlite index of sessions and anti-cheat
// flags. Writes go through a buffered channel to a single writer goroutine so
// the tick loop never blocks on the database; the JSONL journal remains the
// source of truth if the index falls behind and drops.
package flagdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// SessionRow records one client session.
type SessionRow struct {
	SessionID      string
	PlayerID       uint16
	Name           string
	Addr           string
	ConnectedMs    int64
	DisconnectedMs int64
}

// FlagRow records one validation violation.
type FlagRow struct {
	PlayerID   uint16
	Violations uint32
	Suspicion  float64
	Tick       uint64
	AtMs       int64
}

// BanRow records a ban recommendation.
type BanRow struct {
	PlayerID   uint16
	Score      float64
	RecordedAt string
}

type reqKind int

const (
	reqSession reqKind = iota + 1
	reqDisconnect
	reqFlag
	reqBan
)

type req struct {
	kind reqKind

	session    SessionRow
	disconnect SessionRow
	flag       FlagRow
	ban        BanRow
}

// DB is the async flag index.
type DB struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

// Open opens (creating if needed) the index at path and starts the writer.
func Open(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &DB{
		db: db,
		// Sized for violation bursts from flooding clients.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			player_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			addr TEXT NOT NULL,
			connected_ms INTEGER NOT NULL,
			disconnected_ms INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_player ON sessions(player_id, connected_ms);`,
		`CREATE TABLE IF NOT EXISTS flags (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			player_id INTEGER NOT NULL,
			violations INTEGER NOT NULL,
			suspicion REAL NOT NULL,
			tick INTEGER NOT NULL,
			at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_flags_player ON flags(player_id, at_ms);`,
		`CREATE TABLE IF NOT EXISTS bans (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			player_id INTEGER NOT NULL,
			score REAL NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_bans_player ON bans(player_id);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close drains the queue, stops the writer and closes the database.
func (s *DB) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *DB) enqueue(r req) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		// Drop if the indexer falls behind; the journal keeps the record.
	}
}

// RecordSession inserts a new session row.
func (s *DB) RecordSession(row SessionRow) { s.enqueue(req{kind: reqSession, session: row}) }

// RecordDisconnect stamps a session's end time.
func (s *DB) RecordDisconnect(sessionID string, atMs int64) {
	s.enqueue(req{kind: reqDisconnect, disconnect: SessionRow{SessionID: sessionID, DisconnectedMs: atMs}})
}

// RecordFlag inserts one violation row.
func (s *DB) RecordFlag(row FlagRow) { s.enqueue(req{kind: reqFlag, flag: row}) }

// RecordBan inserts a ban recommendation.
func (s *DB) RecordBan(playerID uint16, score float64) {
	s.enqueue(req{kind: reqBan, ban: BanRow{
		PlayerID:   playerID,
		Score:      score,
		RecordedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}})
}

// FlagCount returns the number of violation rows for a player. Read path;
// callers should expect recently enqueued writes to be invisible until the
// writer commits.
func (s *DB) FlagCount(playerID uint16) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM flags WHERE player_id = ?`, playerID).Scan(&n)
	return n, err
}

// Sessions returns the most recent sessions, newest first.
func (s *DB) Sessions(limit int) ([]SessionRow, error) {
	rows, err := s.db.Query(
		`SELECT session_id, player_id, name, addr, connected_ms, disconnected_ms
		 FROM sessions ORDER BY connected_ms DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SessionRow
	for rows.Next() {
		var r SessionRow
		if err := rows.Scan(&r.SessionID, &r.PlayerID, &r.Name, &r.Addr, &r.ConnectedMs, &r.DisconnectedMs); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// BannedPlayers returns player IDs with at least one ban recommendation.
func (s *DB) BannedPlayers() ([]uint16, error) {
	rows, err := s.db.Query(`SELECT DISTINCT player_id FROM bans ORDER BY player_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uint16
	for rows.Next() {
		var id uint16
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *DB) loop() {
	ctx := context.Background()

	insertSession, _ := s.db.Prepare(`INSERT OR REPLACE INTO sessions(session_id,player_id,name,addr,connected_ms,disconnected_ms) VALUES(?,?,?,?,?,0)`)
	stampEnd, _ := s.db.Prepare(`UPDATE sessions SET disconnected_ms = ? WHERE session_id = ?`)
	insertFlag, _ := s.db.Prepare(`INSERT INTO flags(player_id,violations,suspicion,tick,at_ms) VALUES(?,?,?,?,?)`)
	insertBan, _ := s.db.Prepare(`INSERT INTO bans(player_id,score,recorded_at) VALUES(?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertSession, stampEnd, insertFlag, insertBan} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		var err error
		switch r.kind {
		case reqSession:
			if insertSession != nil {
				_, err = tx.Stmt(insertSession).Exec(
					r.session.SessionID, r.session.PlayerID, r.session.Name,
					r.session.Addr, r.session.ConnectedMs)
			}
		case reqDisconnect:
			if stampEnd != nil {
				_, err = tx.Stmt(stampEnd).Exec(r.disconnect.DisconnectedMs, r.disconnect.SessionID)
			}
		case reqFlag:
			if insertFlag != nil {
				_, err = tx.Stmt(insertFlag).Exec(
					r.flag.PlayerID, int64(r.flag.Violations), r.flag.Suspicion,
					int64(r.flag.Tick), r.flag.AtMs)
			}
		case reqBan:
			if insertBan != nil {
				_, err = tx.Stmt(insertBan).Exec(r.ban.PlayerID, r.ban.Score, r.ban.RecordedAt)
			}
		}
		if err != nil {
			rollback()
			continue
		}
		opCount++
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}
