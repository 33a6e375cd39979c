// Journal reader: decodes the server's rotated jsonl.zst event streams and
// prints matching entries, newest file last. Useful for postmortems on
// sessions, hit adjudications and validation flags.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"corsair.gg/internal/persistence/journal"
)

func main() {
	var (
		dataDir  = flag.String("data", "./data", "runtime data directory")
		stream   = flag.String("stream", "flags", "stream to read: sessions|hits|flags")
		player   = flag.Uint("player", 0, "player_id filter (0 = all)")
		fromMs   = flag.Int64("from_ms", 0, "drop entries stamped before this unix ms")
		toMs     = flag.Int64("to_ms", 0, "drop entries stamped after this unix ms (0 = no bound)")
		jsonOut  = flag.Bool("json", true, "print raw json lines (false: one-line summaries)")
		maxLines = flag.Int("limit", 0, "stop after this many entries (0 = all)")
	)
	flag.Parse()

	switch *stream {
	case "sessions", "hits", "flags":
	default:
		fmt.Fprintln(os.Stderr, "unknown -stream:", *stream)
		os.Exit(2)
	}

	files, err := listStreamFiles(filepath.Join(*dataDir, *stream), *stream)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no journal files for stream", *stream)
		os.Exit(1)
	}

	printed := 0
	for _, path := range files {
		n, err := dumpFile(path, *stream, uint16(*player), *fromMs, *toMs, *jsonOut, *maxLines-printed)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
		printed += n
		if *maxLines != 0 && printed >= *maxLines {
			break
		}
	}
	fmt.Fprintf(os.Stderr, "%d entries from %d files\n", printed, len(files))
}

func listStreamFiles(dir, prefix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix+"-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

func dumpFile(path, stream string, player uint16, fromMs, toMs int64, jsonOut bool, budget int) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return 0, err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)

	printed := 0
	for sc.Scan() {
		line := sc.Bytes()
		pid, atMs, summary, err := decode(stream, line)
		if err != nil {
			return printed, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		if player != 0 && pid != player {
			continue
		}
		if atMs < fromMs || (toMs != 0 && atMs > toMs) {
			continue
		}
		if jsonOut {
			fmt.Println(string(line))
		} else {
			fmt.Println(summary)
		}
		printed++
		if budget > 0 && printed >= budget {
			return printed, nil
		}
	}
	return printed, sc.Err()
}

func decode(stream string, line []byte) (player uint16, atMs int64, summary string, err error) {
	switch stream {
	case "sessions":
		var e journal.SessionEntry
		if err = json.Unmarshal(line, &e); err != nil {
			return
		}
		return e.PlayerID, e.AtMs, fmt.Sprintf("%d %s player=%d name=%q addr=%s session=%s",
			e.AtMs, e.Kind, e.PlayerID, e.Name, e.Addr, e.SessionID), nil
	case "hits":
		var e journal.HitEntry
		if err = json.Unmarshal(line, &e); err != nil {
			return
		}
		return e.PlayerID, e.AtMs, fmt.Sprintf("%d hit player=%d target=%d tick=%d valid=%v damage=%d",
			e.AtMs, e.PlayerID, e.Target, e.Tick, e.Valid, e.Damage), nil
	default:
		var e journal.FlagEntry
		if err = json.Unmarshal(line, &e); err != nil {
			return
		}
		return e.PlayerID, e.AtMs, fmt.Sprintf("%d flag player=%d violations=%#x suspicion=%.2f ban=%v",
			e.AtMs, e.PlayerID, e.Violations, e.Suspicion, e.Ban), nil
	}
}
