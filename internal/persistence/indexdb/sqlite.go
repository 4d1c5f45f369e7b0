// Package indexdb mirrors the scene timeline into a local SQLite database so
// the admin surfaces can query it. The JSONL logs stay the source of truth;
// index writes are asynchronous and drop under backpressure.
package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"avatarium/internal/protocol"
	"avatarium/internal/sim/catalogs"
	"avatarium/internal/sim/tuning"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan protocol.TimelineEvent
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
	written atomic.Uint64
}

// Stats is a point-in-time view of the async writer queue.
type Stats struct {
	QueueDepth     int
	QueueCapacity  int
	DropEventTotal uint64
	WrittenTotal   uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
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

	s := &SQLiteIndex{
		db: db,
		// Timeline volume is modest (cues, phase markers, roster changes);
		// the buffer rides out commit stalls without blocking the scene loop.
		ch: make(chan protocol.TimelineEvent, 16384),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads. NORMAL is a decent
	// durability/perf tradeoff for a secondary index.
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
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS timeline (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			hour REAL NOT NULL,
			kind TEXT NOT NULL,
			actor INTEGER,
			a INTEGER,
			b INTEGER,
			variant TEXT,
			text TEXT,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_timeline_kind_tick ON timeline(kind, tick);`,
		`CREATE TABLE IF NOT EXISTS interactions (
			id INTEGER PRIMARY KEY,
			variant TEXT NOT NULL,
			a INTEGER NOT NULL,
			b INTEGER NOT NULL,
			start_tick INTEGER NOT NULL,
			start_hour REAL NOT NULL,
			end_tick INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_variant ON interactions(variant);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// WriteEvent enqueues one timeline event for indexing. Never blocks: when the
// indexer falls behind the event is dropped and counted.
func (s *SQLiteIndex) WriteEvent(ev protocol.TimelineEvent) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- ev:
	default:
		s.dropped.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
		DropEventTotal: s.dropped.Load(),
		WrittenTotal:   s.written.Load(),
	}
}

// UpsertCatalogs records the served catalog files and effective tuning with
// their digests, so the index can say exactly which data a run used.
func (s *SQLiteIndex) UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	type row struct {
		name   string
		digest string
		json   []byte
	}
	var rows []row
	add := func(name, digest, file string) {
		b, err := os.ReadFile(filepath.Join(configDir, file))
		if err != nil || len(b) == 0 {
			return
		}
		rows = append(rows, row{name: name, digest: digest, json: b})
	}
	if configDir != "" && cats != nil {
		add("clips", cats.Clips.Digest, "clips.json")
		add("interactions", cats.Variants.Digest, "interactions.json")
		add("speech", cats.Speech.Digest, "speech.json")
	}
	{
		// Tuning: store the values we actually apply (canonical JSON).
		b, _ := json.Marshal(tune)
		sum := sha256.Sum256(b)
		rows = append(rows, row{name: "tuning", digest: hex.EncodeToString(sum[:]), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.name == "" || r.digest == "" || len(r.json) == 0 {
			continue
		}
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertEvent, _ := s.db.Prepare(`INSERT OR REPLACE INTO timeline(tick,seq,hour,kind,actor,a,b,variant,text,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertInteraction, _ := s.db.Prepare(`INSERT OR REPLACE INTO interactions(id,variant,a,b,start_tick,start_hour,end_tick) VALUES(?,?,?,?,?,?,0)`)
	endInteraction, _ := s.db.Prepare(`UPDATE interactions SET end_tick=? WHERE id=?`)
	defer func() {
		for _, st := range []*sql.Stmt{insertEvent, insertInteraction, endInteraction} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx          *sql.Tx
		opCount     int
		commitEvery = 2000

		lastTick uint64
		seq      int
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
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
	}

	apply := func(ev protocol.TimelineEvent) {
		if ev.Tick != lastTick {
			lastTick = ev.Tick
			seq = 0
		}
		thisSeq := seq
		seq++

		raw, _ := json.Marshal(ev)
		if insertEvent != nil {
			if _, err := tx.Stmt(insertEvent).Exec(
				int64(ev.Tick),
				thisSeq,
				ev.Hour,
				ev.Kind,
				intOrNil(ev.Actor),
				intOrNil(ev.A),
				intOrNil(ev.B),
				nullEmpty(ev.Variant),
				nullEmpty(ev.Text),
				string(raw),
			); err != nil {
				rollback()
				return
			}
			opCount++
			s.written.Add(1)
		}

		switch ev.Kind {
		case protocol.EventInteractionStart:
			if insertInteraction == nil || ev.ID == 0 || ev.A == nil || ev.B == nil {
				return
			}
			if _, err := tx.Stmt(insertInteraction).Exec(
				int64(ev.ID), ev.Variant, *ev.A, *ev.B, int64(ev.Tick), ev.Hour,
			); err != nil {
				rollback()
				return
			}
			opCount++
		case protocol.EventInteractionEnd:
			if endInteraction == nil || ev.ID == 0 {
				return
			}
			if _, err := tx.Stmt(endInteraction).Exec(int64(ev.Tick), int64(ev.ID)); err != nil {
				rollback()
				return
			}
			opCount++
		}
	}

	// Committing on a timer (instead of only on traffic) keeps the single
	// connection free for admin queries during quiet stretches.
	flush := time.NewTicker(500 * time.Millisecond)
	defer flush.Stop()

	for {
		select {
		case ev, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			begin()
			if tx == nil {
				continue
			}
			apply(ev)
			if opCount >= commitEvery {
				commit()
			}
		case <-flush.C:
			commit()
		}
	}
}

func intOrNil(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// TimelineRow is one indexed timeline event.
type TimelineRow struct {
	Tick    uint64  `json:"tick"`
	Seq     int     `json:"seq"`
	Hour    float64 `json:"hour"`
	Kind    string  `json:"kind"`
	Actor   *int    `json:"actor,omitempty"`
	A       *int    `json:"a,omitempty"`
	B       *int    `json:"b,omitempty"`
	Variant string  `json:"variant,omitempty"`
	Text    string  `json:"text,omitempty"`
}

// QueryTimeline returns recent events, newest first. kind filters when
// non-empty; since drops rows before that tick.
func (s *SQLiteIndex) QueryTimeline(kind string, since uint64, limit int) ([]TimelineRow, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	q := `SELECT tick,seq,hour,kind,actor,a,b,variant,text FROM timeline`
	var (
		where []string
		args  []any
	)
	if kind != "" {
		where = append(where, "kind = ?")
		args = append(args, kind)
	}
	if since > 0 {
		where = append(where, "tick >= ?")
		args = append(args, int64(since))
	}
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY tick DESC, seq DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TimelineRow
	for rows.Next() {
		var (
			r                 TimelineRow
			actor, a, b       sql.NullInt64
			variant, lineText sql.NullString
		)
		if err := rows.Scan(&r.Tick, &r.Seq, &r.Hour, &r.Kind, &actor, &a, &b, &variant, &lineText); err != nil {
			return nil, err
		}
		r.Actor = nullableInt(actor)
		r.A = nullableInt(a)
		r.B = nullableInt(b)
		r.Variant = variant.String
		r.Text = lineText.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// InteractionRow is one indexed interaction. EndTick is 0 while it runs.
type InteractionRow struct {
	ID        uint64  `json:"id"`
	Variant   string  `json:"variant"`
	A         int     `json:"a"`
	B         int     `json:"b"`
	StartTick uint64  `json:"start_tick"`
	StartHour float64 `json:"start_hour"`
	EndTick   uint64  `json:"end_tick"`
}

// QueryInteractions returns recent interactions, newest first.
func (s *SQLiteIndex) QueryInteractions(limit int) ([]InteractionRow, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT id,variant,a,b,start_tick,start_hour,end_tick FROM interactions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InteractionRow
	for rows.Next() {
		var r InteractionRow
		if err := rows.Scan(&r.ID, &r.Variant, &r.A, &r.B, &r.StartTick, &r.StartHour, &r.EndTick); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestTick reports the newest indexed timeline tick (0 when empty).
func (s *SQLiteIndex) LatestTick() (uint64, error) {
	var tick sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(tick) FROM timeline`).Scan(&tick); err != nil {
		return 0, err
	}
	if !tick.Valid {
		return 0, nil
	}
	return uint64(tick.Int64), nil
}

func nullableInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}
