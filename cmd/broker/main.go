package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"webbroker/internal/api"
	"webbroker/internal/config"
	"webbroker/internal/orchestrator"
	"webbroker/internal/policy"
	"webbroker/internal/profile"
	"webbroker/internal/provider"
	"webbroker/internal/proxy"
	"webbroker/internal/ratelimit"
	"webbroker/internal/remotectx"
	"webbroker/internal/session"
	"webbroker/internal/telemetry"
	"webbroker/internal/worldmodel"
)

func main() {
	configPath := flag.String("config", "broker.yaml", "path to the broker config file")
	idleEvery := flag.Duration("idle-sweep", 5*time.Minute, "interval between idle session sweeps (0 disables)")
	idleAfter := flag.Duration("idle-after", 30*time.Minute, "idle time before a session is reaped")
	flag.Parse()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	log.Println("Starting web session broker...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Profile store guards local persistent browser profiles
	profiles := profile.NewStore(cfg.ProfilesRoot, profile.DefaultLease)
	log.Printf("✓ Profile store initialized (%s)", cfg.ProfilesRoot)

	// Remote context assignments survive restarts
	contexts := remotectx.NewStore(filepath.Join(filepath.Dir(cfg.ProfilesRoot), "remote-contexts.json"))
	log.Println("✓ Remote context store initialized")

	// Backends
	local := provider.NewLocal(profiles)
	browserbase := provider.NewBrowserbase(provider.RemoteConfig{
		APIKey:         cfg.Browserbase.APIKey,
		ProjectID:      cfg.Browserbase.ProjectID,
		BaseURL:        cfg.Browserbase.BaseURL,
		MaxConcurrency: cfg.Browserbase.MaxConcurrency,
		SessionTimeout: cfg.Browserbase.SessionTimeout(),
		LiveView:       cfg.Browserbase.LiveView,
	}, contexts)
	steel := provider.NewSteel(provider.RemoteConfig{
		APIKey:         cfg.Steel.APIKey,
		BaseURL:        cfg.Steel.BaseURL,
		MaxConcurrency: cfg.Steel.MaxConcurrency,
		SessionTimeout: cfg.Steel.SessionTimeout(),
		LiveView:       cfg.Steel.LiveView,
	}, contexts)
	log.Printf("✓ Backends ready (browserbase=%v steel=%v)",
		cfg.Browserbase.APIKey != "", cfg.Steel.APIKey != "")

	// Telemetry
	recorder := telemetry.NewRecorder(cfg.TelemetryDir)
	log.Println("✓ Telemetry recorder initialized")

	// Session manager routes across backends
	sessionMgr := session.NewManager(
		[]provider.Provider{local, browserbase, steel},
		session.Options{
			DefaultPreference:  cfg.Backend,
			DefaultFallback:    cfg.FallbackOnError,
			BrowserbaseEnabled: cfg.Browserbase.APIKey != "",
			SteelEnabled:       cfg.Steel.APIKey != "",
		},
		recorder,
	)
	log.Println("✓ Session manager initialized")

	// Policy engine gates risky actions
	engine := policy.NewEngine(cfg.ApprovalSecret)
	world := worldmodel.New()
	agent := orchestrator.New(engine)
	log.Println("✓ Policy engine and orchestrator initialized")

	// Live-view websocket proxy
	proxyServer := proxy.NewServer(sessionMgr)
	log.Println("✓ WebSocket live-view proxy initialized")

	// Rate limiter (100 requests/hour, burst of 10, per profile)
	rateLimiter := ratelimit.NewLimiter(100, 10)
	log.Println("✓ Rate limiter initialized (100 req/hour per profile)")

	// HTTP surface
	handler := api.NewHandler(sessionMgr, engine, agent, world)
	approvals := api.NewApprovalHandler(cfg.ApprovalSecret)
	router := handler.SetupRoutes(approvals, proxyServer, rateLimiter)
	log.Println("✓ HTTP routes configured")

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Idle session sweeps; reaping is never self-triggered by the manager
	stopSweep := make(chan struct{})
	if *idleEvery > 0 {
		go func() {
			ticker := time.NewTicker(*idleEvery)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if n := sessionMgr.CleanupIdleSessions(*idleAfter); n > 0 {
						log.Printf("Reaped %d idle sessions", n)
					}
				case <-stopSweep:
					return
				}
			}
		}()
	}

	go func() {
		log.Printf("🚀 Broker listening on %s", cfg.ListenAddr)
		log.Printf("📍 API endpoints available under /v1")
		log.Printf("🌐 Backend preference: %s (fallback=%v)", cfg.Backend, cfg.FallbackOnError)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("⏳ Shutting down gracefully...")
	close(stopSweep)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("warning: server shutdown: %v", err)
	}
	if err := sessionMgr.CloseAll(ctx); err != nil {
		log.Printf("warning: session teardown: %v", err)
	}

	log.Println("✅ Broker stopped cleanly")
}
