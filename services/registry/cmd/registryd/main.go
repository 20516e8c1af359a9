package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"ipadepot/pkg/bus"
	"ipadepot/pkg/db"
	"ipadepot/pkg/locks"
	"ipadepot/pkg/render"
	gos3 "ipadepot/pkg/s3"
	"ipadepot/pkg/telemetry"
	"ipadepot/services/links"
	"ipadepot/services/registry"
	"ipadepot/services/repo"
	"ipadepot/services/signer"
)

func main() {
	if err := run("registryd"); err != nil {
		log.New(os.Stderr, "", log.LstdFlags).Fatal(err)
	}
}

func run(serviceName string) error {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, middleware, logger, err := telemetry.Init(ctx, serviceName)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownTelemetry != nil {
			if err := shutdownTelemetry(shutdownCtx); err != nil {
				fmt.Fprintf(os.Stderr, "%s: telemetry shutdown error: %v\n", serviceName, err)
			}
		}
	}()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return errors.New("DATABASE_URL is required")
	}

	pool, err := db.Open(ctx, dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	orm, err := db.ConnectORM(dsn)
	if err != nil {
		return fmt.Errorf("connect orm: %w", err)
	}
	defer func() {
		if err := db.CloseORM(orm); err != nil {
			logger.Printf("WARN orm close error: %v", err)
		}
	}()

	s3Client, err := gos3.NewClientFromEnv()
	if err != nil {
		return fmt.Errorf("init s3 client: %w", err)
	}

	var natsBus *bus.Bus
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsBus, err = bus.New(natsURL)
		if err != nil {
			return fmt.Errorf("connect bus: %w", err)
		}
		defer natsBus.Close()
	} else {
		logger.Printf("WARN NATS_URL not set, sign requests will be rejected")
	}

	builder, err := repo.NewBuilder(pool)
	if err != nil {
		return fmt.Errorf("create manifest builder: %w", err)
	}
	if err := builder.EnsureSeed(ctx, loadStoreInfo(logger)); err != nil {
		return fmt.Errorf("seed manifest: %w", err)
	}

	var manifestSigner *repo.Signer
	if os.Getenv("AGE_SECRET_KEY") != "" || os.Getenv("AGE_PUBLIC_KEY") != "" {
		manifestSigner, err = repo.NewSignerFromEnv()
		if err != nil {
			return fmt.Errorf("init manifest signer: %w", err)
		}
	} else {
		logger.Printf("WARN AGE_SECRET_KEY not set, repo.json.sig disabled")
	}

	renderer, err := render.New()
	if err != nil {
		return fmt.Errorf("init renderer: %w", err)
	}

	var shortener *links.Shortener
	if endpoint := os.Getenv("SHORTENER_ENDPOINT"); endpoint != "" {
		shortener = links.NewShortener(endpoint, nil)
	}

	api, err := registry.New(&registry.Store{
		DB:  pool,
		ORM: orm,
		S3:  s3Client,
		Bus: natsBus,
	}, builder, manifestSigner, shortener, renderer, locks.NewKeyed(), registry.Config{
		BaseURL: os.Getenv("BASE_URL"),
		Bucket:  os.Getenv("S3_BUCKET"),
	})
	if err != nil {
		return fmt.Errorf("init registry api: %w", err)
	}

	// the in-process signing worker shares the artifact locks with the
	// HTTP handlers, so a re-sign never interleaves with a binary swap
	if natsBus != nil {
		resigner := &signer.CommandResigner{Bin: os.Getenv("RESIGN_BIN")}
		if resigner.Bin == "" {
			resigner.Bin = "zsign"
		}
		pipeline, err := signer.NewPipeline(orm, natsBus, s3Client, resigner, bucketName(), api.Locks())
		if err != nil {
			return fmt.Errorf("create signing pipeline: %w", err)
		}
		if err := pipeline.Start(ctx); err != nil {
			return fmt.Errorf("start signing pipeline: %w", err)
		}
		defer pipeline.Close()
	}

	handler, err := api.Routes()
	if err != nil {
		return fmt.Errorf("build routes: %w", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	server := &http.Server{
		Addr:    ":" + port,
		Handler: middleware(handler),
	}

	errCh := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "%s: http shutdown error: %v\n", serviceName, err)
		}
	}()

	logger.Printf("INFO http listening on %s", server.Addr)

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

func bucketName() string {
	return os.Getenv("S3_BUCKET")
}

// loadStoreInfo reads the store-front metadata from STORE_CONFIG when the
// file is configured, falling back to env-provided essentials so a fresh
// deployment still seeds a valid manifest.
func loadStoreInfo(logger *log.Logger) repo.StoreInfo {
	if path := os.Getenv("STORE_CONFIG"); path != "" {
		info, err := repo.LoadStoreInfo(path)
		if err == nil {
			return info
		}
		logger.Printf("WARN store config %s: %v, using defaults", path, err)
	}

	info := repo.StoreInfo{
		Name:       os.Getenv("STORE_NAME"),
		Identifier: os.Getenv("STORE_IDENTIFIER"),
	}
	if info.Name == "" {
		info.Name = "IPA Depot"
	}
	if info.Identifier == "" {
		info.Identifier = "com.ipadepot.store"
	}
	return info
}
