package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"labvault/internal/config"
	"labvault/internal/domain"
	"labvault/internal/handler"
	"labvault/internal/repository"
	"labvault/internal/service"
	"labvault/internal/service/s3"
)

func connectWithRetry(dsn string, maxAttempts int, delay time.Duration) (*sqlx.DB, error) {
	var db *sqlx.DB
	var err error
	for i := 0; i < maxAttempts; i++ {
		db, err = sqlx.Connect("postgres", dsn)
		if err == nil {
			return db, nil
		}
		log.Printf("Failed to connect to database (attempt %d/%d): %v", i+1, maxAttempts, err)
		time.Sleep(delay)
	}
	return nil, fmt.Errorf("failed to connect after %d attempts: %v", maxAttempts, err)
}

func runMigrations(cfg *config.Config) error {
	databaseURL := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)

	var m *migrate.Migrate
	var err error

	for i := 0; i < 5; i++ {
		m, err = migrate.New("file://migrations", databaseURL)
		if err == nil {
			break
		}
		log.Printf("Failed to create migrate instance (attempt %d/5): %v", i+1, err)
		time.Sleep(time.Second * 5)
	}

	if err != nil {
		return fmt.Errorf("failed to create migrate instance after retries: %w", err)
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if dirty {
		log.Printf("Found dirty database state at version %d, attempting to force version", version)
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("failed to force version: %w", err)
		}
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

func main() {
	appConfig, err := config.NewConfig(".app.env")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := connectWithRetry(appConfig.Database.GetDSN(), 5, time.Second*5)
	if err != nil {
		log.Fatalf("Failed to connect to database after retries: %v", err)
	}
	defer db.Close()

	if err := runMigrations(appConfig); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	s3Config, err := s3.NewConfig(".s3.env")
	if err != nil {
		log.Fatalf("Failed to load S3 config: %v", err)
	}

	s3Client, err := s3.NewClient(s3Config)
	if err != nil {
		log.Fatalf("Failed to create S3 client: %v", err)
	}

	nodeRepo := repository.NewNodeRepository(db)
	versionRepo := repository.NewVersionRepository(db)
	usageRepo := repository.NewUsageRepository(db)
	trashRepo := repository.NewTrashRepository(db)

	policy := domain.QuotaPolicy{
		DefaultStorageLimit: appConfig.Quota.StorageLimitBytes,
		WarningThreshold:    appConfig.Quota.WarningThresholdBytes,
		WarningWaitPeriod:   appConfig.Quota.WarningWaitPeriod,
	}

	usageService := service.NewUsageService(usageRepo, versionRepo, nodeRepo, service.LogMailer{}, policy)
	treeService := service.NewTreeService(nodeRepo, versionRepo, trashRepo, usageService)
	versionService := service.NewVersionService(versionRepo, nodeRepo, usageService)
	trashService := service.NewTrashService(trashRepo, versionRepo, s3Client)

	nodeHandler := handler.NewNodeHandler(treeService, usageService)
	versionHandler := handler.NewVersionHandler(versionService)
	usageHandler := handler.NewUsageHandler(usageService)
	trashHandler := handler.NewTrashHandler(trashService)

	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/nodes/path", nodeHandler.CreateByPath)

		r.Route("/nodes/{id}", func(r chi.Router) {
			r.Get("/", nodeHandler.GetNode)
			r.Delete("/", nodeHandler.DeleteNode)
			r.Get("/children", nodeHandler.ListChildren)
			r.Post("/children", nodeHandler.AppendChild)
			r.Get("/path", nodeHandler.GetPath)
			r.Put("/move", nodeHandler.MoveNode)
			r.Post("/copy", nodeHandler.CopyNode)

			r.Post("/versions", versionHandler.CreateVersion)
			r.Get("/versions", versionHandler.ListVersions)
			r.Get("/versions/{number}", versionHandler.GetVersion)
		})

		r.Post("/projects", usageHandler.CreateProject)
		r.Route("/projects/{id}", func(r chi.Router) {
			r.Get("/", usageHandler.GetProject)
			r.Post("/contributors", usageHandler.AddContributor)
		})

		r.Route("/usage", func(r chi.Router) {
			r.Route("/users/{id}", func(r chi.Router) {
				r.Get("/", usageHandler.GetUserQuota)
				r.Post("/recalculate", usageHandler.RecalculateUserUsage)
				r.Get("/collaborative", usageHandler.GetCollaborativeUsage)
				r.Post("/merge", usageHandler.MergeUsers)
				r.Post("/warning", usageHandler.SendWarning)
			})
			r.Get("/projects/{id}", usageHandler.GetProjectUsage)
		})

		r.Route("/trash", func(r chi.Router) {
			r.Get("/", trashHandler.ListTrash)
			r.Post("/purge", trashHandler.PurgeTrash)
		})
	})

	srv := &http.Server{
		Addr:    ":" + appConfig.Server.Port,
		Handler: r,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Periodic usage reconciliation keeps cached counters honest even when a
	// crash loses an in-flight delta.
	go func() {
		ticker := time.NewTicker(appConfig.Quota.ReconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				if err := usageService.ReconcileAll(rootCtx); err != nil {
					log.Printf("Usage reconciliation failed: %v", err)
				}
			}
		}
	}()

	go func() {
		log.Printf("HTTP server listening on :%s", appConfig.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	<-rootCtx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
}
