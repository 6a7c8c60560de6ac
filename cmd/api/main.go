package main

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"odatasample/docs"
	"odatasample/internal/config"
	"odatasample/internal/controller"
	"odatasample/internal/database"
	"odatasample/internal/database/migration"
	handlers "odatasample/internal/http/handler"
	"odatasample/internal/http/middleware"
	"odatasample/internal/logging"
	"odatasample/internal/odata"
	"odatasample/internal/odataconfig"
	"odatasample/internal/otel"
	"odatasample/internal/repository/postgres"
	"odatasample/internal/service"
	"odatasample/internal/storage"
	"odatasample/internal/swagger"
)

// @title OData Sample API
// @version 1.0
// @BasePath /
func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()
	logger := logging.NewStdout(logging.Location(cfg.Timezone))
	defer logger.Sync() //nolint:errcheck

	shutdown, err := otel.Init(context.Background(), logger)
	if err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(ctx)
	}()

	// Initialize PostgreSQL connection (with pooling via database/sql)
	db, err := database.NewPostgres(context.Background(), cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := migration.EnsureMigrated(context.Background(), db, logger, cfg.Database.Host); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	// Initialize reusable S3-compatible object storage client (MinIO-supported)
	objStore, err := storage.NewMinIO(cfg.MinIO)
	if err != nil {
		log.Fatalf("failed to initialize object storage: %v", err)
	}

	// Initialize repositories and services
	entitySvc := service.NewEntityService(
		postgres.NewEntityPostgres(db),
		postgres.NewRatingPostgres(db),
		objStore,
	)

	registry := odata.NewControllerRegistry()
	if err := controller.Register(registry, entitySvc); err != nil {
		log.Fatalf("failed to register controllers: %v", err)
	}

	server := odata.NewServer(registry, logger, odata.WithMaxBatchRequests(cfg.OData.MaxBatchRequests))
	generator := swagger.NewGenerator(swagger.Info{
		Title:       docs.SwaggerInfo.Title,
		Description: docs.SwaggerInfo.Description,
		Version:     docs.SwaggerInfo.Version,
	})
	if _, err := odataconfig.Register(server, registry, odataconfig.Deps{
		Config:  cfg.OData,
		Service: entitySvc,
		Swagger: generator,
		Logger:  logger,
	}); err != nil {
		log.Fatalf("failed to register odata routes: %v", err)
	}

	doc, err := generator.Generate(server)
	if err != nil {
		log.Fatalf("failed to generate swagger document: %v", err)
	}
	if err := docs.Register(doc); err != nil {
		log.Fatalf("failed to register swagger document: %v", err)
	}
	docs.SwaggerInfo.Host = cfg.AppHost

	promMiddleware, err := middleware.NewPrometheusMiddleware(prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatalf("failed to register metrics: %v", err)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler(),
	})

	// Register global middleware
	app.Use(otelfiber.Middleware())
	// RequestID middleware adds/propagates X-Request-ID and stores it in context
	app.Use(middleware.RequestID())
	app.Use(promMiddleware.Handler())
	// JSON Logger middleware for structured request logs
	app.Use(middleware.Logger(logger))

	// Register HTTP routes with injected OData server
	handlers.RegisterRoutes(app, db, server, prometheus.DefaultGatherer)

	addr := ":" + cfg.Port
	logger.Info("listening", zap.String("addr", addr), zap.Int("odata_routes", len(server.Routes())))

	if err := app.Listen(addr); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}
