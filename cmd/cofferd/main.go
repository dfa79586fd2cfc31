package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"coffer/internal/app"
	"coffer/internal/blob"
	"coffer/internal/config"
	"coffer/internal/content"
	"coffer/internal/principal"
	"coffer/internal/rendition"
	"coffer/internal/search"
	"coffer/internal/store"
	"coffer/internal/types"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	var blobs blob.Store
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		minioStore, err := blob.NewMinioStore(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("minio connection failed: %v", err)
		}
		blobs = minioStore
	} else {
		log.Printf("No blob store configured, keeping payloads in memory")
		blobs = blob.NewMemoryStore()
	}

	var dataStore store.Store
	switch cfg.StoreDriver {
	case "postgres":
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL, blobs)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer pg.Close()
		dataStore = pg
	default:
		rs, err := store.NewRedisStore(cfg.RedisURL, blobs)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer rs.Close()
		dataStore = rs
	}

	var indexer search.Indexer = search.Noop{}
	var searcher search.Searcher = search.Noop{}
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
		indexer = meiliClient
		searcher = meiliClient
	}

	var converter rendition.Converter = rendition.Noop{}
	if cfg.PreviewEnabled {
		converter = rendition.NewChromePDF()
	}

	resolver := principal.NewResolver(dataStore, cfg.PrincipalAnonymous, cfg.PrincipalAnyone)
	service := content.NewService(&cfg, dataStore, types.NewStaticRegistry(), indexer, converter, resolver)
	if err := service.EnsureRoot(ctx); err != nil {
		log.Fatalf("root folder bootstrap failed: %v", err)
	}

	httpServer := app.NewHTTPServer(&cfg, service, searcher, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Coffer listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
