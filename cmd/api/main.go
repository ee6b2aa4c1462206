package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/govdecisions/backend/internal/api/handlers"
	cacheredis "github.com/govdecisions/backend/internal/cache/redis"
	"github.com/govdecisions/backend/internal/checkpoint"
	"github.com/govdecisions/backend/internal/enrich"
	"github.com/govdecisions/backend/internal/graph"
	"github.com/govdecisions/backend/internal/metrics"
	"github.com/govdecisions/backend/internal/middleware/ratelimit"
	"github.com/govdecisions/backend/internal/middleware/security"
	"github.com/govdecisions/backend/internal/middleware/validation"
	"github.com/govdecisions/backend/internal/migration"
	"github.com/govdecisions/backend/internal/qa"
	"github.com/govdecisions/backend/internal/scraper"
	"github.com/govdecisions/backend/internal/search"
	"github.com/govdecisions/backend/internal/storage/models"
	"github.com/govdecisions/backend/internal/storage/sqlite"
	syncsvc "github.com/govdecisions/backend/internal/sync"
	"github.com/govdecisions/backend/internal/tagging"
	"github.com/govdecisions/backend/internal/vector/milvus"
	"github.com/govdecisions/backend/pkg/circuitbreaker"
	"github.com/govdecisions/backend/pkg/config"
	appLogger "github.com/govdecisions/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting government decisions API server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	vocab, err := tagging.LoadVocabulary(cfg.Vocab.PolicyAreasPath, cfg.Vocab.GovernmentBodiesPath)
	if err != nil {
		appLogger.Fatal("Failed to load tag vocabulary", zap.Error(err))
	}

	enrichClient := enrich.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
	)

	var redisCache *cacheredis.Client
	if cfg.Redis.Enabled {
		redisCache, err = cacheredis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer redisCache.Close()
	}

	var milvusClient *milvus.Client
	if cfg.Milvus.Enabled {
		milvusClient, err = milvus.NewClient(cfg.Milvus.Endpoint, cfg.Milvus.CollectionName, cfg.Milvus.VectorDim)
		if err != nil {
			appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
		}
		defer milvusClient.Close()

		err = milvusClient.EnsureCollection(context.Background())
		if err != nil {
			appLogger.Fatal("Failed to ensure Milvus collection", zap.Error(err))
		}
	}

	var graphClient *graph.Client
	var mirror *graph.Mirror
	if cfg.Neo4j.Enabled {
		graphClient, err = graph.NewClient(cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password, cfg.Neo4j.Database)
		if err != nil {
			appLogger.Fatal("Failed to create Neo4j client", zap.Error(err))
		}
		defer graphClient.Close(context.Background())

		err = graphClient.EnsureSchema(context.Background())
		if err != nil {
			appLogger.Fatal("Failed to ensure Neo4j schema", zap.Error(err))
		}
		mirror = graph.NewMirror(graphClient)
	}

	scraperClient := scraper.NewClient(scraper.Config{
		BaseURL:      cfg.Scraper.BaseURL,
		UserAgent:    cfg.Scraper.UserAgent,
		Timeout:      time.Duration(cfg.Scraper.TimeoutSec) * time.Second,
		RequestDelay: time.Duration(cfg.Scraper.RequestDelayMs) * time.Millisecond,
		MaxPages:     cfg.Scraper.MaxPages,
		Government:   cfg.Scraper.Government,
	})

	validator := tagging.NewValidator(vocab, enrichClient)

	persisterCfg := syncsvc.DefaultPersisterConfig()
	if cfg.Sync.BatchSize > 0 {
		persisterCfg.BatchSize = cfg.Sync.BatchSize
	}
	if cfg.Sync.InsertRetries > 0 {
		persisterCfg.InsertRetries = cfg.Sync.InsertRetries
	}
	if cfg.Sync.RecordRetries > 0 {
		persisterCfg.RecordRetries = cfg.Sync.RecordRetries
	}
	if cfg.Sync.RetryDelayMs > 0 {
		persisterCfg.RetryDelay = time.Duration(cfg.Sync.RetryDelayMs) * time.Millisecond
	}

	cacheTTL := time.Duration(cfg.Redis.CacheTTLSec) * time.Second

	// Optional backends stay nil when disabled. Assigning a nil *Client to
	// the interface parameters directly would defeat the services' nil
	// checks.
	var enrichmentCache syncsvc.EnrichmentCache
	if redisCache != nil {
		enrichmentCache = redisCache
	}

	syncService := syncsvc.NewService(
		scraperClient,
		enrichClient,
		sqliteClient,
		enrichmentCache,
		validator,
		persisterCfg,
		cacheTTL,
	)

	var searchService *search.Service
	if milvusClient != nil {
		var searchCache search.Cache
		if redisCache != nil {
			searchCache = redisCache
		}
		searchService = search.NewService(enrichClient, milvusClient, sqliteClient, searchCache, cacheTTL)
	}

	var cpStore checkpoint.Store
	if cfg.Checkpoint.Backend == "redis" && redisCache != nil {
		cpStore = checkpoint.NewRedisStore(redisCache, cfg.Checkpoint.Key)
	} else {
		if cfg.Checkpoint.Backend == "redis" {
			appLogger.Warn("Redis checkpoint backend requested but redis is disabled, falling back to file store")
		}
		cpStore = checkpoint.NewFileStore(cfg.Checkpoint.Path)
	}

	migrationEngine := migration.NewEngine(sqliteClient, validator, cpStore)
	qaChecker := qa.NewChecker(sqliteClient, enrichClient)

	breakers := []*circuitbreaker.CircuitBreaker{enrichClient.Breaker()}
	if graphClient != nil {
		breakers = append(breakers, graphClient.Breaker())
	}
	go watchBreakers(breakers)

	// Freshly synced records flow into the vector index and the tag graph in
	// the background. Both passes are idempotent, so failures here surface in
	// logs and get picked up by the next run or a manual backfill.
	onSyncComplete := func(run *models.SyncRun) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		if searchService != nil {
			if _, err := searchService.IndexPending(ctx, run.Inserted); err != nil {
				appLogger.Error("Post-sync indexing failed", zap.Error(err))
			}
		}
		if mirror.Enabled() {
			year := strconv.Itoa(time.Now().Year())
			decisions, err := sqliteClient.ListDecisions(models.ListFilter{Year: year})
			if err != nil {
				appLogger.Error("Failed to load decisions for graph mirror", zap.Error(err))
				return
			}
			mirror.MirrorDecisions(ctx, decisions)
		}
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.Server.RateLimitPerMinute,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		IsDevelopment: cfg.Server.Environment != "production",
	}))
	app.Use(limiter.Middleware())
	app.Use(validation.Middleware(validation.Config{}))

	syncHandler := handlers.NewSyncHandler(syncService, sqliteClient, onSyncComplete)
	decisionsHandler := handlers.NewDecisionsHandler(sqliteClient, mirror)
	searchHandler := handlers.NewSearchHandler(searchService)
	migrationHandler := handlers.NewMigrationHandler(migrationEngine)
	qaHandler := handlers.NewQAHandler(qaChecker)
	graphHandler := handlers.NewGraphHandler(mirror, sqliteClient)
	wsHandler := handlers.NewWebSocketHandler(syncService)

	api := app.Group("/api/v1")

	api.Post("/sync", syncHandler.TriggerSync)
	api.Get("/sync/runs", syncHandler.ListRuns)

	api.Get("/decisions", decisionsHandler.ListDecisions)
	api.Get("/decisions/:key", decisionsHandler.GetDecision)
	api.Get("/decisions/:key/related", decisionsHandler.Related)

	api.Post("/search", searchHandler.HandleSearch)
	api.Post("/ask", searchHandler.HandleAsk)
	api.Get("/search/history", searchHandler.History)
	api.Post("/search/index", searchHandler.TriggerIndex)

	api.Post("/migrate/tags", migrationHandler.MigrateTags)

	api.Get("/qa/report", qaHandler.Report)
	api.Post("/qa/dedupe", qaHandler.Dedupe)
	api.Post("/qa/spotcheck", qaHandler.SpotCheck)

	api.Post("/graph/mirror", graphHandler.MirrorGraph)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/sync", websocket.New(wsHandler.HandleSyncProgress))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	limiter.Stop()
	appLogger.Info("Server stopped")
}

// watchBreakers exports circuit breaker states as a gauge so dashboards can
// alert on open breakers.
func watchBreakers(breakers []*circuitbreaker.CircuitBreaker) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		for _, cb := range breakers {
			metrics.CircuitBreakerState.WithLabelValues(cb.Name()).Set(float64(cb.State()))
		}
	}
}
