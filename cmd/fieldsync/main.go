package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tractorcare/fieldsync/internal/baseline"
	"github.com/tractorcare/fieldsync/internal/connectivity"
	"github.com/tractorcare/fieldsync/internal/events"
	"github.com/tractorcare/fieldsync/internal/httpapi"
	"github.com/tractorcare/fieldsync/internal/ledger"
	"github.com/tractorcare/fieldsync/internal/pending"
	"github.com/tractorcare/fieldsync/internal/syncer"
	"github.com/tractorcare/fieldsync/internal/tractorcare"
	"github.com/tractorcare/fieldsync/internal/trend"
)

func main() {
	addr := os.Getenv("FIELDSYNC_ADDR")
	if addr == "" {
		addr = ":8600"
	}

	store, err := buildPendingStoreFromEnv()
	if err != nil {
		log.Fatalf("failed to initialize pending store: %v", err)
	}
	defer store.Close()

	apiBaseURL := os.Getenv("FIELDSYNC_API_BASE_URL")
	client := tractorcare.NewHTTPClient(apiBaseURL, os.Getenv("FIELDSYNC_API_TOKEN"), nil)

	bus := events.NewBus()
	logger := log.Default()

	probeURL := strings.TrimSpace(os.Getenv("FIELDSYNC_PROBE_URL"))
	if probeURL == "" {
		probeURL = strings.TrimRight(apiBaseURL, "/") + "/health"
	}
	monitor, err := connectivity.NewMonitor(connectivity.Options{
		Probe:            connectivity.NewHTTPProbe(probeURL, nil),
		Interval:         durationEnv("FIELDSYNC_PROBE_INTERVAL", 15*time.Second),
		ProbeTimeout:     durationEnv("FIELDSYNC_PROBE_TIMEOUT", 5*time.Second),
		ForceOfflinePath: os.Getenv("FIELDSYNC_FORCE_OFFLINE_FILE"),
		Bus:              bus,
		Logger:           logger,
	})
	if err != nil {
		log.Fatalf("failed to initialize connectivity monitor: %v", err)
	}

	coordinator := syncer.NewCoordinator(syncer.Options{
		Store:         store,
		Client:        client,
		Bus:           bus,
		SubmitTimeout: durationEnv("FIELDSYNC_SUBMIT_TIMEOUT", 15*time.Second),
		Logger:        logger,
	})
	coordinator.AttachConnectivity(func(fn func(online bool)) func() {
		return monitor.Subscribe(fn)
	})

	usageLedger := ledger.NewLedger(ledger.Options{
		Client:       client,
		Store:        store,
		FetchTimeout: durationEnv("FIELDSYNC_HISTORY_TIMEOUT", 15*time.Second),
		HistoryLimit: intEnv("FIELDSYNC_HISTORY_LIMIT", 0),
		Logger:       logger,
	})
	resolver := baseline.NewResolver(baseline.Options{
		Client:      client,
		TierTimeout: durationEnv("FIELDSYNC_BASELINE_TIER_TIMEOUT", 10*time.Second),
		Logger:      logger,
	})
	aggregator := trend.NewAggregator(trend.Options{
		Client:       client,
		Resolver:     resolver,
		FetchTimeout: durationEnv("FIELDSYNC_PREDICTIONS_TIMEOUT", 20*time.Second),
		Logger:       logger,
	})

	if err := monitor.Start(); err != nil {
		log.Fatalf("failed to start connectivity monitor: %v", err)
	}
	defer monitor.Close()

	server := httpapi.NewServerWithConfig(httpapi.Deps{
		Store:       store,
		Ledger:      usageLedger,
		Coordinator: coordinator,
		Aggregator:  aggregator,
		Monitor:     monitor,
		Bus:         bus,
		Logger:      logger,
	}, httpapi.ServerConfig{
		RateLimitMax:    intEnv("FIELDSYNC_RATE_LIMIT_MAX", 0),
		RateLimitWindow: durationEnv("FIELDSYNC_RATE_LIMIT_WINDOW", time.Minute),
		MaxBodyBytes:    int64Env("FIELDSYNC_MAX_BODY_BYTES", 0),
	})

	log.Printf("fieldsync listening on %s", addr)
	if err := http.ListenAndServe(addr, server); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func buildPendingStoreFromEnv() (pending.Store, error) {
	dsn := strings.TrimSpace(os.Getenv("FIELDSYNC_PENDING_DSN"))
	if dsn == "" {
		profileDSN, err := storageProfileDefaultFromEnv()
		if err != nil {
			return nil, err
		}
		dsn = profileDSN
	}
	return pending.BuildStoreFromDSN(dsn)
}

func storageProfileDefaultFromEnv() (string, error) {
	profile := strings.ToLower(strings.TrimSpace(os.Getenv("FIELDSYNC_BACKEND_PROFILE")))
	dataDir := strings.TrimSpace(os.Getenv("FIELDSYNC_DATA_DIR"))
	if dataDir == "" {
		dataDir = ".fieldsync"
	}
	switch profile {
	case "", "durable-local", "local-durable":
		return "file://" + filepath.Join(dataDir, "pending-queue.json"), nil
	case "memory", "inmemory":
		return "memory://", nil
	case "production", "prod", "hub":
		dsn := strings.TrimSpace(os.Getenv("FIELDSYNC_POSTGRES_DSN"))
		if dsn == "" {
			return "", fmt.Errorf("FIELDSYNC_POSTGRES_DSN is required when FIELDSYNC_BACKEND_PROFILE=%s", profile)
		}
		return dsn, nil
	default:
		return "", fmt.Errorf("unsupported FIELDSYNC_BACKEND_PROFILE: %s", profile)
	}
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}
