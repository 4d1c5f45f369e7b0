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

// dbCmd reads the sqlite index directly, so it works offline and against a
// copied database file.
func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	sceneID := fs.String("scene", "", "scene id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	kind := fs.String("kind", "", "kind filter (timeline)")
	variant := fs.String("variant", "", "variant filter (interactions)")
	since := fs.Uint64("since", 0, "only rows at or after this tick (timeline)")
	_ = fs.Parse(args)

	q := "summary"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*sceneID) == "" {
			fmt.Fprintln(os.Stderr, "missing -scene or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "scenes", *sceneID, "index", "scene.sqlite")
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
	case "summary":
		var r struct {
			LatestTick   int64 `json:"latest_tick"`
			Events       int64 `json:"events"`
			Interactions int64 `json:"interactions"`
			Open         int64 `json:"open_interactions"`
		}
		row := db.QueryRow(`SELECT COALESCE(MAX(tick),0), COUNT(*) FROM timeline`)
		if err := row.Scan(&r.LatestTick, &r.Events); err != nil {
			fmt.Fprintln(os.Stderr, "scan:", err)
			os.Exit(1)
		}
		row = db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(CASE WHEN end_tick=0 THEN 1 ELSE 0 END),0) FROM interactions`)
		if err := row.Scan(&r.Interactions, &r.Open); err != nil {
			fmt.Fprintln(os.Stderr, "scan:", err)
			os.Exit(1)
		}
		printJSON(r)

	case "timeline":
		query := `SELECT tick,seq,hour,kind,actor,a,b,variant,text FROM timeline`
		var (
			where []string
			qargs []any
		)
		if strings.TrimSpace(*kind) != "" {
			where = append(where, "kind = ?")
			qargs = append(qargs, strings.TrimSpace(*kind))
		}
		if *since > 0 {
			where = append(where, "tick >= ?")
			qargs = append(qargs, int64(*since))
		}
		if len(where) > 0 {
			query += " WHERE " + strings.Join(where, " AND ")
		}
		query += " ORDER BY tick DESC, seq DESC LIMIT ?"
		qargs = append(qargs, *limit)

		rows, err := db.Query(query, qargs...)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick    int64          `json:"tick"`
				Seq     int64          `json:"seq"`
				Hour    float64        `json:"hour"`
				Kind    string         `json:"kind"`
				Actor   sql.NullInt64  `json:"actor"`
				A       sql.NullInt64  `json:"a"`
				B       sql.NullInt64  `json:"b"`
				Variant sql.NullString `json:"variant"`
				Text    sql.NullString `json:"text"`
			}
			if err := rows.Scan(&r.Tick, &r.Seq, &r.Hour, &r.Kind, &r.Actor, &r.A, &r.B, &r.Variant, &r.Text); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	case "interactions":
		query := `SELECT id,variant,a,b,start_tick,start_hour,end_tick FROM interactions ORDER BY id DESC LIMIT ?`
		qargs := []any{*limit}
		if strings.TrimSpace(*variant) != "" {
			query = `SELECT id,variant,a,b,start_tick,start_hour,end_tick FROM interactions WHERE variant = ? ORDER BY id DESC LIMIT ?`
			qargs = []any{strings.TrimSpace(*variant), *limit}
		}
		rows, err := db.Query(query, qargs...)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				ID        int64   `json:"id"`
				Variant   string  `json:"variant"`
				A         int     `json:"a"`
				B         int     `json:"b"`
				StartTick int64   `json:"start_tick"`
				StartHour float64 `json:"start_hour"`
				EndTick   int64   `json:"end_tick"`
			}
			if err := rows.Scan(&r.ID, &r.Variant, &r.A, &r.B, &r.StartTick, &r.StartHour, &r.EndTick); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	case "catalogs":
		rows, err := db.Query(`SELECT name,digest,updated_at FROM catalogs ORDER BY name`)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Name      string `json:"name"`
				Digest    string `json:"digest"`
				UpdatedAt string `json:"updated_at"`
			}
			if err := rows.Scan(&r.Name, &r.Digest, &r.UpdatedAt); err != nil {
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
		fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data] [-scene SCENE|-db PATH] [-kind K] [-variant V] [-since T] [-limit N] summary|timeline|interactions|catalogs")
		os.Exit(2)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
