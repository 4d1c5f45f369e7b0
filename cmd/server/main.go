package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	persistlog "avatarium/internal/persistence/log"
	"avatarium/internal/persistence/recording"
	"avatarium/internal/protocol"
	"avatarium/internal/sim/catalogs"
	"avatarium/internal/sim/scene"
	"avatarium/internal/sim/tuning"
	"avatarium/internal/transport/viewer"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		sceneID    = flag.String("scene", "scene_1", "scene id")
		seed       = flag.Int64("seed", 1337, "scene seed")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite read-model index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	sceneDir := filepath.Join(*dataDir, "scenes", *sceneID)
	_ = os.MkdirAll(sceneDir, 0o755)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
	}
	if tune.ProtocolVersion != "" && tune.ProtocolVersion != protocol.Version {
		logger.Printf("tuning protocol_version=%s, server speaks %s", tune.ProtocolVersion, protocol.Version)
	}

	// Optional: read-model index backend (does not affect sim determinism).
	idx, err := openRuntimeIndex(sceneDir, *disableDB, logger)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertCatalogs(*configDir, cats, tune); err != nil {
			logger.Printf("index backend: upsert catalogs: %v", err)
		}
	}

	s, err := scene.New(sceneConfigFromTuning(tune, *sceneID, *seed), cats)
	if err != nil {
		logger.Fatalf("scene: %v", err)
	}

	// Record the effective run parameters; replay refuses to run without them.
	if err := recording.Write(sceneDir, recording.Capture(s, cats)); err != nil {
		logger.Fatalf("write params: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	tickLog := persistlog.NewTickLogger(sceneDir)
	timelineLog := persistlog.NewTimelineLogger(sceneDir)
	defer tickLog.Close()
	defer timelineLog.Close()
	s.SetTickLogger(tickLog)
	s.SetTimelineLogger(multiTimelineLogger{a: timelineLog, b: idx})

	go func() {
		if err := s.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("scene stopped: %v", err)
		}
	}()

	enableAdminHTTP := envBool("AV_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("AV_ENABLE_PPROF_HTTP", false)
	if !enableAdminHTTP {
		logger.Printf("admin endpoints disabled (AV_ENABLE_ADMIN_HTTP=false)")
	}
	if !enablePprofHTTP {
		logger.Printf("pprof endpoints disabled (AV_ENABLE_PPROF_HTTP=false)")
	}

	mux := buildServerMux(s, idx, logger, enableAdminHTTP, enablePprofHTTP)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("scene=%s listening on %s", *sceneID, *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

// sceneConfigFromTuning maps the YAML knobs onto the scene config; zero
// values fall through to the scene defaults.
func sceneConfigFromTuning(tune tuning.Tuning, sceneID string, seed int64) scene.Config {
	cfg := scene.FromTuning(&tune)
	cfg.ID = sceneID
	cfg.Seed = seed
	return cfg
}

func buildServerMux(s *scene.Scene, idx runtimeIndex, logger *log.Logger, enableAdmin, enablePprof bool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		m := s.Metrics()
		id := s.ID()
		tick := m.Tick
		if tick == 0 {
			tick = s.CurrentTick()
		}

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP avatarium_scene_tick Current scene tick.\n")
		fmt.Fprintf(rw, "# TYPE avatarium_scene_tick gauge\n")
		fmt.Fprintf(rw, "avatarium_scene_tick{scene=%q} %d\n", id, tick)

		fmt.Fprintf(rw, "# HELP avatarium_scene_hour Virtual hour of day.\n")
		fmt.Fprintf(rw, "# TYPE avatarium_scene_hour gauge\n")
		fmt.Fprintf(rw, "avatarium_scene_hour{scene=%q} %.4f\n", id, m.Hour)

		fmt.Fprintf(rw, "# HELP avatarium_scene_paused Whether the clock is paused.\n")
		fmt.Fprintf(rw, "# TYPE avatarium_scene_paused gauge\n")
		fmt.Fprintf(rw, "avatarium_scene_paused{scene=%q} %d\n", id, boolGauge(m.Paused))

		fmt.Fprintf(rw, "# HELP avatarium_scene_speed Simulation speed multiplier.\n")
		fmt.Fprintf(rw, "# TYPE avatarium_scene_speed gauge\n")
		fmt.Fprintf(rw, "avatarium_scene_speed{scene=%q} %.2f\n", id, m.Speed)

		fmt.Fprintf(rw, "# HELP avatarium_scene_avatars Avatars in the scene, by readiness.\n")
		fmt.Fprintf(rw, "# TYPE avatarium_scene_avatars gauge\n")
		fmt.Fprintf(rw, "avatarium_scene_avatars{scene=%q,state=%q} %d\n", id, "total", m.Avatars)
		fmt.Fprintf(rw, "avatarium_scene_avatars{scene=%q,state=%q} %d\n", id, "ready", m.Ready)

		fmt.Fprintf(rw, "# HELP avatarium_scene_viewers Connected viewer sessions.\n")
		fmt.Fprintf(rw, "# TYPE avatarium_scene_viewers gauge\n")
		fmt.Fprintf(rw, "avatarium_scene_viewers{scene=%q} %d\n", id, m.Viewers)

		fmt.Fprintf(rw, "# HELP avatarium_scene_interactions_total Interactions started since boot.\n")
		fmt.Fprintf(rw, "# TYPE avatarium_scene_interactions_total counter\n")
		fmt.Fprintf(rw, "avatarium_scene_interactions_total{scene=%q} %d\n", id, m.Interactions)

		fmt.Fprintf(rw, "# HELP avatarium_scene_events_total Timeline events emitted since boot.\n")
		fmt.Fprintf(rw, "# TYPE avatarium_scene_events_total counter\n")
		fmt.Fprintf(rw, "avatarium_scene_events_total{scene=%q} %d\n", id, m.Events)

		fmt.Fprintf(rw, "# HELP avatarium_scene_step_us Last tick step duration in microseconds.\n")
		fmt.Fprintf(rw, "# TYPE avatarium_scene_step_us gauge\n")
		fmt.Fprintf(rw, "avatarium_scene_step_us{scene=%q} %d\n", id, m.StepMicros)

		if m.ActiveVariant != "" {
			fmt.Fprintf(rw, "# HELP avatarium_scene_interaction_active Active interaction, labeled by variant and phase.\n")
			fmt.Fprintf(rw, "# TYPE avatarium_scene_interaction_active gauge\n")
			fmt.Fprintf(rw, "avatarium_scene_interaction_active{scene=%q,variant=%q,phase=%q} 1\n", id, m.ActiveVariant, m.ActivePhase)
		}

		writeIndexMetrics(rw, idx)
	})

	if enableAdmin {
		// Local-only admin endpoints (do not affect simulation determinism).
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				SceneID string             `json:"scene_id"`
				Tick    uint64             `json:"tick"`
				Metrics scene.SceneMetrics `json:"metrics"`
			}{
				SceneID: s.ID(),
				Tick:    s.CurrentTick(),
				Metrics: s.Metrics(),
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})
		mux.HandleFunc("/admin/v1/timeline", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			if idx == nil {
				http.Error(rw, "index disabled", http.StatusServiceUnavailable)
				return
			}
			q := r.URL.Query()
			since, _ := strconv.ParseUint(q.Get("since"), 10, 64)
			limit, _ := strconv.Atoi(q.Get("limit"))
			rows, err := idx.QueryTimeline(strings.TrimSpace(q.Get("kind")), since, limit)
			if err != nil {
				http.Error(rw, err.Error(), http.StatusInternalServerError)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(rows)
		})
		mux.HandleFunc("/admin/v1/interactions", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			if idx == nil {
				http.Error(rw, "index disabled", http.StatusServiceUnavailable)
				return
			}
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			rows, err := idx.QueryInteractions(limit)
			if err != nil {
				http.Error(rw, err.Error(), http.StatusInternalServerError)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(rows)
		})
	}
	if enablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	vs := viewer.NewServer(s, logger)
	mux.HandleFunc("/v1/viewer/bootstrap", vs.BootstrapHandler())
	mux.HandleFunc("/v1/viewer/ws", vs.WSHandler())

	return mux
}

func writeIndexMetrics(rw http.ResponseWriter, idx runtimeIndex) {
	if idx == nil {
		return
	}
	st := idx.Stats()

	fmt.Fprintf(rw, "# HELP avatarium_index_queue_depth Current index writer queue depth.\n")
	fmt.Fprintf(rw, "# TYPE avatarium_index_queue_depth gauge\n")
	fmt.Fprintf(rw, "avatarium_index_queue_depth %d\n", st.QueueDepth)

	fmt.Fprintf(rw, "# HELP avatarium_index_queue_capacity Index writer queue capacity.\n")
	fmt.Fprintf(rw, "# TYPE avatarium_index_queue_capacity gauge\n")
	fmt.Fprintf(rw, "avatarium_index_queue_capacity %d\n", st.QueueCapacity)

	fmt.Fprintf(rw, "# HELP avatarium_index_dropped_total Events dropped because the queue was full.\n")
	fmt.Fprintf(rw, "# TYPE avatarium_index_dropped_total counter\n")
	fmt.Fprintf(rw, "avatarium_index_dropped_total %d\n", st.DropEventTotal)

	fmt.Fprintf(rw, "# HELP avatarium_index_written_total Events committed to the index.\n")
	fmt.Fprintf(rw, "# TYPE avatarium_index_written_total counter\n")
	fmt.Fprintf(rw, "avatarium_index_written_total %d\n", st.WrittenTotal)
}

func boolGauge(b bool) int {
	if b {
		return 1
	}
	return 0
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
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

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

// multiTimelineLogger fans events out to the JSONL log and the index. The
// JSONL side is authoritative; index errors are already absorbed there.
type multiTimelineLogger struct {
	a scene.TimelineLogger
	b runtimeIndex
}

func (m multiTimelineLogger) WriteEvent(ev protocol.TimelineEvent) error {
	if m.a != nil {
		_ = m.a.WriteEvent(ev)
	}
	if m.b != nil {
		_ = m.b.WriteEvent(ev)
	}
	return nil
}
