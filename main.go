package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/stylemirror/credits-server/backend/config"
	"github.com/stylemirror/credits-server/backend/handlers"
	"github.com/stylemirror/credits-server/backend/middleware"
	"github.com/stylemirror/credits-server/creditserver"
	"github.com/stylemirror/credits-server/creditserver/logger"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	shouldSyncDB := flag.Bool("sync-db", true, "Whether to create tables and indexes on startup")
	debug := flag.Bool("debug", false, "Enable debug mode")
	exitAfterSync := flag.Bool("exit-after-sync", false, "Exit after syncing the schema")
	cfgPath := flag.String("config", "config.toml", "path to config")
	flag.Parse()

	customHandler := logger.NewHandler()
	slog.SetDefault(slog.New(customHandler))

	slog.Info("Starting StyleMirror credits server",
		slog.String("version", version),
		slog.String("commit", commit),
		slog.Bool("sync_db", *shouldSyncDB),
		slog.Bool("debug", *debug),
	)

	cfg, err := creditserver.LoadConfig(*cfgPath)
	if err != nil {
		slog.Error("Failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	app := creditserver.New(*cfg, version, commit)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	slog.Info("Connecting to database...")
	if err = app.Connect(ctx, *shouldSyncDB); err != nil {
		slog.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer app.Close()
	slog.Info("Database connected successfully")

	if *exitAfterSync {
		slog.Info("Schema sync complete, exiting")
		return
	}

	if err = app.Setup(); err != nil {
		slog.Error("Failed to wire services", slog.String("error", err.Error()))
		os.Exit(1)
	}

	webCfg := config.NewWebAppConfig(cfg, *debug)

	server := fiber.New(fiber.Config{
		AppName:      "StyleMirror Credits API",
		ServerHeader: "StyleMirror",
		ErrorHandler: middleware.CustomErrorHandler,
	})

	// Global middleware
	server.Use(recover.New())
	server.Use(middleware.SecurityHeaders())
	server.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))
	server.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))
	server.Use(middleware.LoggingMiddleware())

	webApp := &handlers.WebApp{
		Config:     webCfg,
		DB:         app.DB,
		Ledger:     app.Ledger,
		Grants:     app.Grants,
		Meter:      app.Meter,
		Reconciler: app.Reconciler,
		Generator:  app.Generator,
		Previews:   app.Previews,
		Version:    version,
		Commit:     commit,
	}

	setupRoutes(server, webApp)

	address := cfg.Server.Addr()
	slog.Info("Starting HTTP server", slog.String("address", address))

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Listen(address); err != nil {
			slog.Error("Failed to start server", slog.String("error", err.Error()))
		}
	}()

	<-c
	slog.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("Server shutdown error", slog.String("error", err.Error()))
	}

	slog.Info("Server shutdown complete")
}

// setupRoutes configures all application routes
func setupRoutes(server *fiber.App, webApp *handlers.WebApp) {
	server.Get("/health", handlers.HealthCheck(webApp))

	server.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message": "StyleMirror Credits API",
			"version": webApp.Version,
			"status":  "running",
		})
	})

	validator := middleware.NewJWTValidator(
		webApp.Config.GetAuthConfig().Secret,
		webApp.Config.GetAuthConfig().Issuer,
	)

	api := server.Group("/api")
	api.Use(middleware.APIRateLimit())
	api.Use(middleware.AuthRequired(validator))

	api.Get("/credits", handlers.CreditsGet(webApp))
	api.Get("/transactions", handlers.Transactions(webApp))
	api.Get("/products", handlers.ProductsList(webApp))

	api.Post("/hairstyle/try",
		middleware.GenerateRateLimit(),
		middleware.AuditLogMiddleware("try_hairstyle"),
		handlers.TryHairstyle(webApp))

	purchases := api.Group("/purchases")
	purchases.Use(middleware.PurchaseRateLimit())
	purchases.Post("/verify",
		middleware.AuditLogMiddleware("verify_purchase"),
		handlers.PurchasesVerify(webApp))
	purchases.Post("/restore",
		middleware.AuditLogMiddleware("restore_purchases"),
		handlers.PurchasesRestore(webApp))

	api.Post("/credits/daily",
		middleware.AuditLogMiddleware("daily_claim"),
		handlers.DailyClaim(webApp))
	api.Post("/credits/reward",
		middleware.AuditLogMiddleware("reward"),
		handlers.Reward(webApp))
}
