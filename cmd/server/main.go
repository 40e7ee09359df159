package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"opsdesk-backend/internal/auth"
	"opsdesk-backend/internal/config"
	"opsdesk-backend/internal/dashboard"
	"opsdesk-backend/internal/engine"
	"opsdesk-backend/internal/importer"
	"opsdesk-backend/internal/importer/webhook"
	"opsdesk-backend/internal/media"
	"opsdesk-backend/internal/notify"
	"opsdesk-backend/internal/semantics"
	"opsdesk-backend/internal/storage"
	"opsdesk-backend/internal/store"
	"opsdesk-backend/internal/sweeper"
	"opsdesk-backend/internal/uploads"
)

func main() {
	ctx := context.Background()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded (port: %d, db: %s:%d/%s, storage: %s)",
		cfg.Server.Port, cfg.Database.Host, cfg.Database.Port, cfg.Database.Name, cfg.Storage.Driver)

	// 2. Connect to database
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	// 3. Bootstrap system tables and seed roles
	if err := db.Bootstrap(ctx); err != nil {
		log.Fatalf("Failed to bootstrap system tables: %v", err)
	}
	log.Println("System tables ready")

	// 4. Object storage driver
	objects, err := newObjectStore(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to initialize object storage: %v", err)
	}

	// 5. Column semantics registry and media defaults
	reg := semantics.NewRegistry(db)
	mediaDefaults := media.Defaults{
		MaxImages:        1,
		MaxFileSizeBytes: cfg.Storage.MaxFileSize,
		AllowedMimeTypes: []string{"image/jpeg", "image/png", "image/webp", "image/gif"},
	}

	// 6. SSE broadcaster and entity engine
	broadcaster := notify.NewBroadcaster(0)
	eng := engine.New(db, reg, engine.Options{
		Objects:          objects,
		Notifier:         broadcaster,
		MediaDefaults:    mediaDefaults,
		RefreshThreshold: cfg.Media.RefreshThreshold,
		ClockSkew:        cfg.Media.ClockSkew,
	})

	// 7. Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
		BodyLimit:    int(cfg.Storage.MaxFileSize) + 1024*1024,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))

	// 8. Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// 9. Auth routes (before middleware, no auth required)
	authMW := auth.Middleware(cfg.JWTSecret, db)
	adminMW := auth.RequireAdmin()
	authHandler := auth.NewHandler(db, cfg.JWTSecret)
	auth.RegisterRoutes(app, authHandler, authMW)

	// 10. Admin import and template routes (auth + admin required)
	imp := importer.New(db, reg, mediaDefaults)
	importer.RegisterRoutes(app, importer.NewHandler(imp), authMW, adminMW)

	// 11. Sheet-sync webhook (shared secret, no JWT)
	webhook.RegisterRoutes(app, webhook.NewHandler(db, eng, cfg.SheetSync.Secret))

	// 12. Generic entity routes (auth required)
	engine.RegisterRoutes(app, engine.NewHandler(eng), authMW)

	// 13. File uploads and local file serving (auth required)
	uploads.RegisterRoutes(app, uploads.NewHandler(objects, reg, mediaDefaults), authMW)

	// 14. Dashboard and event streams (auth required)
	dashboard.RegisterRoutes(app, dashboard.NewHandler(db), authMW)
	notify.RegisterRoutes(app, broadcaster, authMW)

	// 15. Media refresh sweep
	sweep := sweeper.New(db, reg, objects, sweeper.Options{
		Interval:         cfg.Media.SweepInterval,
		RefreshThreshold: cfg.Media.RefreshThreshold,
		ClockSkew:        cfg.Media.ClockSkew,
		MediaDefaults:    mediaDefaults,
	})
	if err := sweep.Start(); err != nil {
		log.Fatalf("Failed to start media sweep: %v", err)
	}
	defer sweep.Stop()

	// 16. Start server, stop on SIGINT/SIGTERM
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down")
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Starting server on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server stopped: %v", err)
	}
}

func newObjectStore(cfg config.StorageConfig) (storage.ObjectStore, error) {
	switch cfg.Driver {
	case "s3":
		return storage.NewS3Store(cfg)
	case "local", "":
		return storage.NewLocalStore(cfg.LocalPath), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
	}

	var appErr *engine.AppError
	if errors.As(err, &appErr) {
		return c.Status(appErr.Status).JSON(engine.ErrorResponse{Error: appErr})
	}

	log.Printf("ERROR: %v", err)
	return c.Status(code).JSON(engine.ErrorResponse{
		Error: &engine.AppError{
			Code:    "INTERNAL_ERROR",
			Message: "Internal server error",
		},
	})
}
