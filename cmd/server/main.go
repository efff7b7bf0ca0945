package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HanTheDev/reqnest-engine/internal/accounts"
	"github.com/HanTheDev/reqnest-engine/internal/api"
	"github.com/HanTheDev/reqnest-engine/internal/cache"
	"github.com/HanTheDev/reqnest-engine/internal/config"
	"github.com/HanTheDev/reqnest-engine/internal/db"
	"github.com/HanTheDev/reqnest-engine/internal/docstore"
	"github.com/HanTheDev/reqnest-engine/internal/engine"
	"github.com/HanTheDev/reqnest-engine/internal/logger"
	"github.com/HanTheDev/reqnest-engine/internal/ratelimit"
	"github.com/HanTheDev/reqnest-engine/internal/registry"
	"github.com/HanTheDev/reqnest-engine/internal/schemagen"
	"github.com/HanTheDev/reqnest-engine/internal/usage"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	zlog := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	defer zlog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Schemas, users and usage logs live in PostgreSQL when configured.
	var (
		schemaStore  registry.Store = registry.NewMemoryStore()
		accountStore accounts.Store = accounts.NewMemoryStore()
		analytics    api.Analytics
	)
	ledgerOpts := []usage.Option{usage.WithLogger(zlog)}
	if cfg.DatabaseURL != "" {
		database, err := db.NewDB(cfg.DatabaseURL)
		if err != nil {
			zlog.Fatal("failed to connect to database", zap.Error(err))
		}
		defer database.Close()

		if err := database.Migrate(ctx); err != nil {
			zlog.Fatal("failed to migrate database", zap.Error(err))
		}
		schemaStore = database
		accountStore = database
		analytics = database
		ledgerOpts = append(ledgerOpts, usage.WithSink(database))
	} else {
		zlog.Warn("DATABASE_URL not set, using in-memory schema and account stores")
	}

	// Documents live in MongoDB when configured.
	var docs docstore.Store = docstore.NewMemoryStore()
	if cfg.MongoURL != "" {
		mongoStore, err := docstore.NewMongoStore(ctx, cfg.MongoURL, cfg.MongoDatabase)
		if err != nil {
			zlog.Fatal("failed to connect to mongodb", zap.Error(err))
		}
		defer mongoStore.Close(context.Background())
		docs = mongoStore
	} else {
		zlog.Warn("MONGO_URL not set, using in-memory document store")
	}

	// Schema registry
	regOpts := []registry.Option{registry.WithLogger(zlog)}
	if cfg.SchemaResolution == config.ResolutionGlobal {
		regOpts = append(regOpts, registry.WithScope(registry.ScopeGlobal))
	}
	if cfg.CascadeSchemaDelete {
		regOpts = append(regOpts, registry.WithCascadeDelete(docs))
	}
	if cfg.RedisURL != "" {
		schemaCache, err := cache.NewSchemaCache(cfg.RedisURL, cfg.SchemaCacheTTL, zlog)
		if err != nil {
			zlog.Fatal("failed to initialize schema cache", zap.Error(err))
		}
		defer schemaCache.Close()
		regOpts = append(regOpts, registry.WithCache(schemaCache))
	}
	schemas := registry.New(schemaStore, regOpts...)

	// Usage ledger and engine
	ledger := usage.NewLedger(ledgerOpts...)
	eng := engine.New(schemas, docs,
		engine.WithRecorder(ledger),
		engine.WithLogger(zlog),
	)

	// Rate limiter
	limiterOpts := []ratelimit.Option{ratelimit.WithLogger(zlog)}
	if cfg.HitCounter == config.HitCounterRedis {
		hits, err := ratelimit.NewRedisHitCounter(cfg.RedisURL)
		if err != nil {
			zlog.Fatal("failed to initialize hit counter", zap.Error(err))
		}
		defer hits.Close()
		limiterOpts = append(limiterOpts, ratelimit.WithHitCounter(hits))
	}
	limiter := ratelimit.New(accountStore, limiterOpts...)

	// Schema generation
	var generator *schemagen.Generator
	if cfg.LLMAPIKey != "" {
		genOpts := []schemagen.Option{schemagen.WithLogger(zlog)}
		if cfg.RedisURL != "" {
			prompts, err := cache.NewPromptCache(cfg.RedisURL, cfg.PromptCacheTTL, zlog)
			if err != nil {
				zlog.Fatal("failed to initialize prompt cache", zap.Error(err))
			}
			defer prompts.Close()
			genOpts = append(genOpts, schemagen.WithCache(prompts))
		}
		model := schemagen.NewOpenAIModel(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel)
		generator = schemagen.New(model, genOpts...)
	} else {
		zlog.Info("LLM_API_KEY not set, schema generation disabled")
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(ledger.PrometheusCollectors()...)
	reg.MustRegister(limiter.PrometheusCollectors()...)

	// Initialize router
	router := mux.NewRouter()
	handler := api.NewHandler(api.Deps{
		Engine:         eng,
		Registry:       schemas,
		Limiter:        limiter,
		FreeTrial:      ratelimit.NewFreeTrial(cfg.FreeTrialLimit),
		Ledger:         ledger,
		Accounts:       accountStore,
		Analytics:      analytics,
		Generator:      generator,
		Gatherer:       reg,
		JWTSecret:      cfg.JWTSecret,
		TokenTTL:       cfg.TokenTTL,
		AdminToken:     cfg.AdminToken,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         zlog,
	})
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zlog.Info("server starting",
			zap.String("port", cfg.ServerPort),
			zap.String("schema_resolution", cfg.SchemaResolution),
			zap.Bool("cascade_schema_delete", cfg.CascadeSchemaDelete))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zlog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("server shutdown error", zap.Error(err))
	}
}
