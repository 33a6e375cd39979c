// Package journal writes the netcode event stream (sessions, validated
// hits, anti-cheat flags) as hourly-rotated zstd-compressed JSONL files.
// These files are the replayable source of truth; the sqlite flag index is a
// derived view.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

type jsonlZstdWriter struct {
	baseDir string
	prefix  string

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func newJSONLZstdWriter(baseDir, prefix string) *jsonlZstdWriter {
	return &jsonlZstdWriter{baseDir: baseDir, prefix: prefix}
}

func (w *jsonlZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *jsonlZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := time.Now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *jsonlZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *jsonlZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	return err1
}

func (w *jsonlZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// SessionEntry records a connect or disconnect.
type SessionEntry struct {
	Kind      string `json:"kind"` // "connect" | "disconnect" | "timeout"
	SessionID string `json:"session_id"`
	PlayerID  uint16 `json:"player_id"`
	Name      string `json:"name,omitempty"`
	Addr      string `json:"addr,omitempty"`
	AtMs      int64  `json:"at_ms"`
}

// HitEntry records a lag-compensated hit adjudication.
type HitEntry struct {
	PlayerID uint16 `json:"player_id"`
	Target   uint16 `json:"target"`
	Tick     uint64 `json:"tick"`
	Valid    bool   `json:"valid"`
	Damage   int16  `json:"damage,omitempty"`
	AtMs     int64  `json:"at_ms"`
}

// FlagEntry records an input-validation violation or ban recommendation.
type FlagEntry struct {
	PlayerID   uint16  `json:"player_id"`
	Violations uint32  `json:"violations"`
	Suspicion  float64 `json:"suspicion"`
	Ban        bool    `json:"ban_recommended,omitempty"`
	AtMs       int64   `json:"at_ms"`
}

// Journal is the set of per-stream writers under one data directory.
type Journal struct {
	sessions *jsonlZstdWriter
	hits     *jsonlZstdWriter
	flags    *jsonlZstdWriter
}

// New creates a journal rooted at dataDir.
func New(dataDir string) *Journal {
	return &Journal{
		sessions: newJSONLZstdWriter(filepath.Join(dataDir, "sessions"), "sessions"),
		hits:     newJSONLZstdWriter(filepath.Join(dataDir, "hits"), "hits"),
		flags:    newJSONLZstdWriter(filepath.Join(dataDir, "flags"), "flags"),
	}
}

func (j *Journal) WriteSession(e SessionEntry) error { return j.sessions.Write(e) }
func (j *Journal) WriteHit(e HitEntry) error         { return j.hits.Write(e) }
func (j *Journal) WriteFlag(e FlagEntry) error       { return j.flags.Write(e) }

// Close flushes and closes every stream, returning the first error.
func (j *Journal) Close() error {
	err := j.sessions.Close()
	if e := j.hits.Close(); err == nil {
		err = e
	}
	if e := j.flags.Close(); err == nil {
		err = e
	}
	return err
}
