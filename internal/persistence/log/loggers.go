// Package log persists the scene's two append-only streams: the replayable
// per-tick log and the human-readable timeline, both as hour-rotated
// zstd-compressed JSONL files under the scene data dir.
package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"avatarium/internal/protocol"
	"avatarium/internal/sim/scene"
)

// JSONLZstdWriter appends JSON lines to <prefix>-YYYY-MM-DD-HH.jsonl.zst
// files under dir, rotating whenever the wall-clock hour changes. Safe for
// concurrent use.
type JSONLZstdWriter struct {
	dir    string
	prefix string
	now    func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	buf     *bufio.Writer
}

func NewJSONLZstdWriter(dir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{dir: dir, prefix: prefix, now: time.Now}
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.buf.Write(b); err != nil {
		return err
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		return err
	}
	// Hand the line to the encoder right away; the compressed stream is
	// finalized on rotation and Close.
	return w.buf.Flush()
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := filepath.Join(w.dir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
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
	w.buf = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var errEnc error
	if w.buf != nil {
		_ = w.buf.Flush()
	}
	if w.enc != nil {
		errEnc = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.buf = nil
	return errEnc
}

// TickLogger persists the replayable tick stream under <sceneDir>/ticks.
type TickLogger struct{ w *JSONLZstdWriter }

func NewTickLogger(sceneDir string) *TickLogger {
	return &TickLogger{w: NewJSONLZstdWriter(filepath.Join(sceneDir, "ticks"), "ticks")}
}

func (l *TickLogger) WriteTick(entry scene.TickLogEntry) error { return l.w.Write(entry) }
func (l *TickLogger) Close() error                             { return l.w.Close() }

// TimelineLogger persists timeline events under <sceneDir>/timeline.
type TimelineLogger struct{ w *JSONLZstdWriter }

func NewTimelineLogger(sceneDir string) *TimelineLogger {
	return &TimelineLogger{w: NewJSONLZstdWriter(filepath.Join(sceneDir, "timeline"), "timeline")}
}

func (l *TimelineLogger) WriteEvent(ev protocol.TimelineEvent) error { return l.w.Write(ev) }
func (l *TimelineLogger) Close() error                               { return l.w.Close() }

// ListFiles returns the rotated files for prefix in dir, sorted by name.
// The hour-stamped naming makes that chronological order.
func ListFiles(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix+"-") || !strings.HasSuffix(name, ".jsonl.zst") {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}

// ScanFile streams the decompressed lines of one rotated file to fn, skipping
// blank lines. fn errors abort the scan.
func ScanFile(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("zstd %s: %w", path, err)
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 1024*1024), 8*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", path, err)
	}
	return nil
}
