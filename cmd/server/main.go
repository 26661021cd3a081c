// Command server runs the flashcard collection service described in
// spec.md: one cached SQLite .anki2 collection per authenticated user,
// served over HTTP. Wiring mirrors the teacher's main() in server.go
// (chi router, middleware stack, plain log output) generalized to this
// spec's components (SessionRegistry, CollectionRepo, Scheduler,
// ReviewService, ExportService, APIController).
package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/emadruga/javumbo-sub001/internal/ankidb"
	"github.com/emadruga/javumbo-sub001/internal/api"
	"github.com/emadruga/javumbo-sub001/internal/authgate"
	"github.com/emadruga/javumbo-sub001/internal/authstore"
	"github.com/emadruga/javumbo-sub001/internal/clock"
	"github.com/emadruga/javumbo-sub001/internal/config"
	"github.com/emadruga/javumbo-sub001/internal/export"
	"github.com/emadruga/javumbo-sub001/internal/review"
	"github.com/emadruga/javumbo-sub001/internal/session"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to an optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("javumbo: load config: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("javumbo: create data dir %q: %v", cfg.DataDir, err)
	}
	ankidb.SetBusyRetryAttempts(cfg.BusyRetryAttempts)

	c := clock.System{}

	users, err := authstore.NewSQLiteUserStore(filepath.Join(cfg.DataDir, "users.db"))
	if err != nil {
		log.Fatalf("javumbo: open user store: %v", err)
	}
	defer users.Close()

	gate := authgate.New()

	registry := session.New(session.Options{
		TTL:            time.Duration(cfg.SessionTTLSeconds) * time.Second,
		SweepInterval:  time.Duration(cfg.SweepIntervalSeconds) * time.Second,
		InvalidateWait: session.DefaultOptions().InvalidateWait,
	}, c)
	registry.StartSweeper()
	defer registry.Stop()

	pathFor := func(username string) string {
		u, err := users.Lookup(username)
		if err != nil {
			return filepath.Join(cfg.DataDir, "user_invalid.anki2")
		}
		return filepath.Join(cfg.DataDir, "user_"+strconv.FormatInt(u.ID, 10)+".anki2")
	}

	reviewSvc := review.New(registry, pathFor, c)
	exportSvc := export.New(registry, pathFor, c, cfg.DataDir, cfg.ExportZipLevel)

	deps := api.NewDeps(users, gate, registry, c, cfg.DataDir, reviewSvc, exportSvc)
	router := api.NewRouter(deps)

	log.Printf("javumbo: collection data dir %q", cfg.DataDir)
	log.Printf("javumbo: listening on %s", cfg.ListenAddress)
	if err := http.ListenAndServe(cfg.ListenAddress, router); err != nil {
		log.Fatalf("javumbo: server failed: %v", err)
	}
}
