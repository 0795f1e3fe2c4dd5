// Command server wires the memory engine's collaborators from the
// environment and exposes it over HTTP: logrus setup, env-driven config,
// backend selection, and a signal.Notify graceful shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/helixmem/engine/internal/cache"
	"github.com/helixmem/engine/internal/config"
	"github.com/helixmem/engine/internal/engine"
	"github.com/helixmem/engine/internal/httpapi"
	"github.com/helixmem/engine/internal/llmclient"
	"github.com/helixmem/engine/internal/metrics"
	"github.com/helixmem/engine/internal/rerank"
	"github.com/helixmem/engine/internal/store"
	"github.com/helixmem/engine/internal/store/filestore"
	"github.com/helixmem/engine/internal/store/objectstore"
	"github.com/helixmem/engine/internal/store/pgstore"
)

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := run(logger); err != nil {
		logger.WithError(err).Fatal("server exited with error")
	}
}

func run(logger *logrus.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	baseURL := os.Getenv("LLM_BASE_URL")
	client := llmclient.New(cfg.APIKey, baseURL)

	extractionModel := os.Getenv("EXTRACTION_MODEL")
	if extractionModel == "" {
		extractionModel = "gpt-4o-mini"
	}
	rerankModel := os.Getenv("RERANK_MODEL")
	var rerankDriver *rerank.Driver
	if rerankModel != "" {
		rerankDriver = rerank.New(client, rerankModel, nil)
	}

	backend, err := buildBackend(context.Background(), cfg, logger)
	if err != nil {
		return fmt.Errorf("build storage backend: %w", err)
	}

	metricsCollector := metrics.New()

	var extractionStore cache.Store
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		extractionStore = cache.NewRedisStore(cache.RedisConfig{
			Addr:   redisAddr,
			Prefix: "memengine:extraction:",
		})
	}

	provider, err := engine.NewWithCache(cfg, logger, client, client, extractionModel, rerankDriver, backend, metricsCollector, extractionStore)
	if err != nil {
		return fmt.Errorf("construct engine: %w", err)
	}

	server := httpapi.New(provider, logger)
	router := server.Router(httpapi.Config{CORSOrigins: corsOrigins()})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	addr := ":" + port

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info("shutdown signal received")
		cancel()
	}()

	return httpapi.Serve(ctx, addr, router, logger)
}

func corsOrigins() []string {
	origins := os.Getenv("CORS_ORIGINS")
	if origins == "" {
		return []string{"*"}
	}
	return []string{origins}
}

func buildBackend(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (store.Backend, error) {
	switch os.Getenv("STORE_BACKEND") {
	case "postgres":
		pgCfg := pgstore.DefaultConfig()
		if h := os.Getenv("PG_HOST"); h != "" {
			pgCfg.Host = h
		}
		if u := os.Getenv("PG_USER"); u != "" {
			pgCfg.User = u
		}
		if p := os.Getenv("PG_PASSWORD"); p != "" {
			pgCfg.Password = p
		}
		if d := os.Getenv("PG_DATABASE"); d != "" {
			pgCfg.Database = d
		}
		pgClient, err := pgstore.NewClient(pgCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("pgstore client: %w", err)
		}
		if err := pgClient.Connect(ctx); err != nil {
			return nil, fmt.Errorf("pgstore connect: %w", err)
		}
		return pgstore.NewBackend(ctx, pgClient, embeddingDimension())

	case "object":
		objCfg := objectstore.DefaultConfig()
		if e := os.Getenv("MINIO_ENDPOINT"); e != "" {
			objCfg.Endpoint = e
		}
		if a := os.Getenv("MINIO_ACCESS_KEY"); a != "" {
			objCfg.AccessKey = a
		}
		if s := os.Getenv("MINIO_SECRET_KEY"); s != "" {
			objCfg.SecretKey = s
		}
		objClient, err := objectstore.NewClient(objCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("objectstore client: %w", err)
		}
		if err := objClient.Connect(ctx); err != nil {
			return nil, fmt.Errorf("objectstore connect: %w", err)
		}
		bucket := os.Getenv("MINIO_BUCKET")
		if bucket == "" {
			bucket = "memory-engine"
		}
		return objectstore.NewBackend(ctx, objClient, bucket)

	default:
		return filestore.New(cfg.SnapshotRoot, logger)
	}
}

func embeddingDimension() int {
	v := os.Getenv("EMBEDDING_DIMENSION")
	if v == "" {
		return 1536
	}
	var dim int
	if _, err := fmt.Sscanf(v, "%d", &dim); err != nil || dim <= 0 {
		return 1536
	}
	return dim
}
