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
	"strings"
	"syscall"
	"time"

	persistlog "charmcity.ai/internal/persistence/log"
	"charmcity.ai/internal/persistence/snapshot"
	"charmcity.ai/internal/sim/catalogs"
	"charmcity.ai/internal/sim/tuning"
	"charmcity.ai/internal/sim/world"
	"charmcity.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		cityID     = flag.String("city", "city_1", "city id")
		seed       = flag.Int64("seed", 1337, "city seed (used only when starting a fresh city)")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable sqlite indexing (tick/audit + catalogs + snapshot metadata)")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	cityDir := filepath.Join(*dataDir, "cities", *cityID)
	_ = os.MkdirAll(cityDir, 0o755)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}

	// Optional: read-model index backend (does not affect sim determinism).
	idx, err := openRuntimeIndex(cityDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
	}

	var w *world.World
	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = snapshot.Latest(filepath.Join(cityDir, "snapshots"))
	}

	// Load tuning (required for a fresh city; optional for snapshot resumes).
	tune, tuneErr := tuning.Load(tp)
	if tuneErr != nil {
		if snapshotToLoad == "" {
			logger.Fatalf("load tuning: %v", tuneErr)
		}
		if os.IsNotExist(tuneErr) {
			logger.Printf("tuning not found (%s); using defaults", tp)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", tuneErr)
		}
	}

	if idx != nil {
		if err := idx.UpsertCatalogs(*configDir, cats, tune); err != nil {
			logger.Printf("index backend: upsert catalogs: %v", err)
		}
	}

	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if snap.Header.CityID != "" && snap.Header.CityID != *cityID {
			logger.Fatalf("snapshot city id mismatch: flag=%s snap=%s", *cityID, snap.Header.CityID)
		}
		w, err = world.New(world.WorldConfig{
			ID:                 *cityID,
			TickRateHz:         snap.TickRate,
			DayTicks:           snap.DayTicks,
			Rows:               snap.Rows,
			Cols:               snap.Cols,
			CoverageBonus:      snap.CoverageBonus,
			Seed:               snap.Seed,
			SnapshotEveryTicks: tune.SnapshotEveryTicks,
			RateLimits:         rateLimitsFromTuning(tune),
		}, cats)
		if err != nil {
			logger.Fatalf("world: %v", err)
		}
		if err := w.ImportSnapshot(snap); err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s tick=%d", filepath.Base(snapshotToLoad), w.CurrentTick())
	} else {
		w, err = world.New(world.WorldConfig{
			ID:                 *cityID,
			TickRateHz:         tune.TickRateHz,
			DayTicks:           tune.DayTicks,
			Rows:               tune.MapRows,
			Cols:               tune.MapCols,
			CoverageBonus:      tune.CoverageBonus,
			Seed:               *seed,
			SnapshotEveryTicks: tune.SnapshotEveryTicks,
			RateLimits:         rateLimitsFromTuning(tune),
		}, cats)
		if err != nil {
			logger.Fatalf("world: %v", err)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	tickLog := persistlog.NewTickLogger(cityDir)
	auditLog := persistlog.NewAuditLogger(cityDir)
	defer tickLog.Close()
	defer auditLog.Close()
	w.SetTickLogger(multiTickLogger{a: tickLog, b: idx})
	w.SetAuditLogger(multiAuditLogger{a: auditLog, b: idx})

	// Snapshot writer.
	snapCh := make(chan snapshot.SnapshotV1, 2)
	w.SetSnapshotSink(snapCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapCh:
				path := filepath.Join(cityDir, "snapshots", fmt.Sprintf("%d.snap.zst", snap.Header.Tick))
				if err := snapshot.WriteSnapshot(path, snap); err != nil {
					logger.Printf("snapshot write: %v", err)
					continue
				}
				if idx != nil {
					idx.RecordSnapshot(path, snap)
				}
			}
		}
	}()

	go func() {
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		m := w.Metrics()
		tick := w.CurrentTick()
		if m.Tick != 0 {
			tick = m.Tick
		}

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP charmcity_tick Current city tick.\n")
		fmt.Fprintf(rw, "# TYPE charmcity_tick gauge\n")
		fmt.Fprintf(rw, "charmcity_tick{city=%q} %d\n", *cityID, tick)

		fmt.Fprintf(rw, "# HELP charmcity_players Current number of players in the city.\n")
		fmt.Fprintf(rw, "# TYPE charmcity_players gauge\n")
		fmt.Fprintf(rw, "charmcity_players{city=%q} %d\n", *cityID, m.Players)

		fmt.Fprintf(rw, "# HELP charmcity_clients Current number of connected clients.\n")
		fmt.Fprintf(rw, "# TYPE charmcity_clients gauge\n")
		fmt.Fprintf(rw, "charmcity_clients{city=%q} %d\n", *cityID, m.Clients)

		fmt.Fprintf(rw, "# HELP charmcity_buildings Current number of placed buildings.\n")
		fmt.Fprintf(rw, "# TYPE charmcity_buildings gauge\n")
		fmt.Fprintf(rw, "charmcity_buildings{city=%q} %d\n", *cityID, m.Buildings)

		fmt.Fprintf(rw, "# HELP charmcity_charm_total Map-wide charm total.\n")
		fmt.Fprintf(rw, "# TYPE charmcity_charm_total gauge\n")
		fmt.Fprintf(rw, "charmcity_charm_total{city=%q} %d\n", *cityID, m.CharmTotal)

		fmt.Fprintf(rw, "# HELP charmcity_queue_depth Channel backlog depth.\n")
		fmt.Fprintf(rw, "# TYPE charmcity_queue_depth gauge\n")
		fmt.Fprintf(rw, "charmcity_queue_depth{city=%q,queue=%q} %d\n", *cityID, "inbox", m.QueueDepths.Inbox)
		fmt.Fprintf(rw, "charmcity_queue_depth{city=%q,queue=%q} %d\n", *cityID, "join", m.QueueDepths.Join)
		fmt.Fprintf(rw, "charmcity_queue_depth{city=%q,queue=%q} %d\n", *cityID, "leave", m.QueueDepths.Leave)

		fmt.Fprintf(rw, "# HELP charmcity_step_ms Last tick step duration in milliseconds.\n")
		fmt.Fprintf(rw, "# TYPE charmcity_step_ms gauge\n")
		fmt.Fprintf(rw, "charmcity_step_ms{city=%q} %.3f\n", *cityID, m.StepMS)
	})

	enableAdminHTTP := envBool("CC_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("CC_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		// Local-only admin endpoints (do not affect simulation determinism).
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				CityID  string             `json:"city_id"`
				Tick    uint64             `json:"tick"`
				Metrics world.WorldMetrics `json:"metrics"`
			}{
				CityID:  *cityID,
				Tick:    w.CurrentTick(),
				Metrics: w.Metrics(),
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})
		mux.HandleFunc("/admin/v1/snapshot", func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			ctx2, cancel2 := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel2()
			tick, err := w.RequestSnapshot(ctx2)
			rw.Header().Set("Content-Type", "application/json")
			if err != nil {
				rw.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "tick": tick, "error": err.Error()})
				return
			}
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "tick": tick})
		})
	} else {
		logger.Printf("admin endpoints disabled (CC_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(w, logger).Handler())

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

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func rateLimitsFromTuning(tune tuning.Tuning) world.RateLimitConfig {
	return world.RateLimitConfig{
		PlaceWindowTicks:  tune.RateLimits.PlaceWindowTicks,
		PlaceMax:          tune.RateLimits.PlaceMax,
		RemoveWindowTicks: tune.RateLimits.RemoveWindowTicks,
		RemoveMax:         tune.RateLimits.RemoveMax,
		SayWindowTicks:    tune.RateLimits.SayWindowTicks,
		SayMax:            tune.RateLimits.SayMax,
	}
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
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

type multiTickLogger struct {
	a world.TickLogger
	b world.TickLogger
}

func (m multiTickLogger) WriteTick(entry world.TickLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteTick(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTick(entry)
	}
	return nil
}

type multiAuditLogger struct {
	a world.AuditLogger
	b world.AuditLogger
}

func (m multiAuditLogger) WriteAudit(entry world.AuditEntry) error {
	if m.a != nil {
		_ = m.a.WriteAudit(entry)
	}
	if m.b != nil {
		_ = m.b.WriteAudit(entry)
	}
	return nil
}
