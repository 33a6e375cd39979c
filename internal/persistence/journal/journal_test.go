package journal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func TestJournal_WriteAndReadBack(t *testing.T) {
	dir := t.TempDir()
	j := New(dir)

	if err := j.WriteFlag(FlagEntry{PlayerID: 7, Violations: 1, Suspicion: 0.1, AtMs: 1000}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := j.WriteFlag(FlagEntry{PlayerID: 7, Violations: 3, Suspicion: 0.2, Ban: true, AtMs: 1100}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "flags", "flags-*.jsonl.zst"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("flag files = %v (%v)", matches, err)
	}
	f, err := os.Open(matches[0])
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd: %v", err)
	}
	defer dec.Close()

	var entries []FlagEntry
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var e FlagEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("decode %q: %v", sc.Text(), err)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[1].PlayerID != 7 || !entries[1].Ban {
		t.Fatalf("second entry = %+v", entries[1])
	}
}
