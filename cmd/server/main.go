package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"boxtrack/internal/config"
	"boxtrack/internal/handler"
	"boxtrack/internal/middleware"
	"boxtrack/internal/queue"
	"boxtrack/internal/repository"
	"boxtrack/internal/service"
	"boxtrack/internal/sheets"
	"boxtrack/internal/websocket"
	"boxtrack/internal/worker"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
	"github.com/gorilla/mux"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Logging.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := kivik.New("couch", cfg.Database.DSN())
	if err != nil {
		log.Fatalf("Failed to connect to CouchDB: %v", err)
	}

	exists, err := client.DBExists(ctx, cfg.Database.Name)
	if err != nil {
		log.Fatalf("Failed to check database existence: %v", err)
	}

	if !exists {
		if err := client.CreateDB(ctx, cfg.Database.Name); err != nil {
			log.Fatalf("Failed to create database: %v", err)
		}
		log.Printf("Created database: %s", cfg.Database.Name)
	}

	if err := repository.EnsureIndexes(ctx, client, cfg.Database.Name); err != nil {
		log.Fatalf("Failed to create indexes: %v", err)
	}

	tabRepo := repository.NewTabRepository(client, cfg.Database.Name)
	boxRepo := repository.NewBoxRepository(client, cfg.Database.Name)
	itemRepo := repository.NewItemRepository(client, cfg.Database.Name)
	issueRepo := repository.NewIssueRepository(client, cfg.Database.Name)

	targetDB, err := repository.OpenTargetDB(cfg.Sheets.TargetsDB)
	if err != nil {
		log.Fatalf("Failed to open sync target registry: %v", err)
	}
	defer targetDB.Close()

	targetRepo := repository.NewTargetRepository(targetDB)
	if err := targetRepo.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialise sync target registry: %v", err)
	}
	if err := seedTargets(ctx, targetRepo, cfg.Sheets.TargetsFile); err != nil {
		log.Fatalf("Failed to seed sync targets: %v", err)
	}

	syncQueue, err := queue.Open(cfg.Queue.Path,
		queue.WithName(cfg.Queue.Name),
		queue.WithLogger(logger.With("component", "queue")),
	)
	if err != nil {
		log.Fatalf("Failed to open sync queue: %v", err)
	}
	defer syncQueue.Close()

	if n, err := syncQueue.Recover(ctx); err != nil {
		log.Fatalf("Failed to recover sync jobs: %v", err)
	} else if n > 0 {
		log.Printf("Re-queued %d interrupted sync jobs", n)
	}

	defaults := sheets.Defaults{
		SpreadsheetID:   cfg.Sheets.SpreadsheetID,
		CredentialsPath: cfg.Sheets.CredentialsPath,
	}
	sheetLogger := logger.With("component", "sheets")
	managers := worker.NewManagers(func(target string) worker.SheetManager {
		return sheets.NewManager(target, targetRepo, sheets.OpenGoogleClient, defaults, sheetLogger)
	})

	wsManager := websocket.NewManager(websocket.Config{
		MaxClients: cfg.WebSocket.MaxClients,
		SendBuffer: cfg.WebSocket.SendBuffer,
		WriteWait:  cfg.WebSocket.WriteWait,
		PongWait:   cfg.WebSocket.PongWait,
		PingPeriod: cfg.WebSocket.PingPeriod,
	})
	wsManager.SetMessageHandler(handler.NewWebSocketMessageHandler(syncQueue))

	syncWorker := worker.New(managers, syncQueue, logger.With("component", "worker"))
	pool := worker.NewPool(syncQueue, syncWorker, wsManager, worker.PoolConfig{
		Workers:      cfg.Queue.Workers,
		PollInterval: cfg.Queue.PollInterval,
		JobTimeout:   cfg.Queue.JobTimeout,
		HeartbeatTTL: cfg.Queue.HeartbeatTTL,
	}, logger.With("component", "pool"))

	itemService := service.NewItemService(tabRepo, boxRepo, itemRepo, issueRepo, syncQueue, logger.With("component", "items"))
	catalogService := service.NewCatalogService(itemService, logger.With("component", "catalog"))

	itemHandler := handler.NewItemHandler(itemService)
	catalogHandler := handler.NewCatalogHandler(catalogService)
	systemHandler := handler.NewSystemHandler(syncQueue)
	wsHandler := handler.NewWebSocketHandler(wsManager,
		cfg.WebSocket.ReadBufferSize,
		cfg.WebSocket.WriteBufferSize,
		cfg.CORS.AllowedOrigins,
	)

	r := mux.NewRouter()

	r.Use(middleware.LoggerMiddleware())
	r.Use(middleware.CORSMiddleware(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowedHeaders,
	))

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/tabs", catalogHandler.CreateTab).Methods("POST", "OPTIONS")
	api.HandleFunc("/tabs", catalogHandler.ListTabs).Methods("GET", "OPTIONS")
	api.HandleFunc("/tabs/{id}/fields", catalogHandler.ListFields).Methods("GET", "OPTIONS")
	api.HandleFunc("/tabs/{id}/boxes", catalogHandler.ListBoxes).Methods("GET", "OPTIONS")

	api.HandleFunc("/fields", catalogHandler.CreateField).Methods("POST", "OPTIONS")
	api.HandleFunc("/fields/{id}", catalogHandler.UpdateField).Methods("PUT", "OPTIONS")

	api.HandleFunc("/boxes", catalogHandler.CreateBox).Methods("POST", "OPTIONS")
	api.HandleFunc("/boxes/{id}", catalogHandler.UpdateBox).Methods("PUT", "OPTIONS")
	api.HandleFunc("/boxes/{id}", catalogHandler.DeleteBox).Methods("DELETE", "OPTIONS")

	api.HandleFunc("/items", itemHandler.Create).Methods("POST", "OPTIONS")
	api.HandleFunc("/items/reorder", itemHandler.Reorder).Methods("POST", "OPTIONS")
	api.HandleFunc("/items/{id}", itemHandler.Update).Methods("PUT", "OPTIONS")
	api.HandleFunc("/items/{id}", itemHandler.Delete).Methods("DELETE", "OPTIONS")
	api.HandleFunc("/items/{id}/issue", itemHandler.Issue).Methods("POST", "OPTIONS")
	api.HandleFunc("/items/{id}/issues", itemHandler.ListIssues).Methods("GET", "OPTIONS")

	api.HandleFunc("/boxes/{id}/items", itemHandler.ListByBox).Methods("GET", "OPTIONS")
	api.HandleFunc("/boxes/{id}/recalculate", itemHandler.Recalculate).Methods("POST", "OPTIONS")

	api.HandleFunc("/system/sync-worker", systemHandler.SyncWorker).Methods("GET", "OPTIONS")

	r.HandleFunc("/ws/sync", wsHandler.HandleConnection)
	r.HandleFunc("/health", healthHandler).Methods("GET")

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var background sync.WaitGroup
	background.Add(2)
	go func() {
		defer background.Done()
		wsManager.Run(ctx)
	}()
	go func() {
		defer background.Done()
		pool.Run(ctx)
	}()

	go func() {
		log.Printf("Starting boxtrack on %s (env: %s)", addr, cfg.Server.Env)
		log.Printf("Connected to CouchDB at %s:%s", cfg.Database.Host, cfg.Database.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// the pool finishes its current job before the queue is closed
	background.Wait()
	log.Println("Server stopped gracefully")
}

// seedTargets loads sync target definitions from the optional YAML file into
// the registry. Targets already registered are overwritten.
func seedTargets(ctx context.Context, targets repository.TargetRepository, path string) error {
	if path != "" {
		loaded, err := config.LoadTargets(path)
		if err != nil {
			return err
		}
		for _, target := range loaded {
			if err := targets.Upsert(ctx, target); err != nil {
				return err
			}
		}
		log.Printf("Seeded %d sync targets from %s", len(loaded), path)
	}

	registered, err := targets.List(ctx)
	if err != nil {
		return err
	}
	for _, target := range registered {
		slog.Info("sync target registered",
			"target", target.Name,
			"worksheet", target.WorksheetName,
			"fields", len(target.Fields),
		)
	}
	return nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"boxtrack"}`))
}
