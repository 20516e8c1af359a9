// Package registry exposes the IPA artifact registry over HTTP: artifact
// and certificate CRUD, sign-request submission, repository manifest
// maintenance, and the public installer-facing endpoints.
package registry

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/gorm"

	"ipadepot/pkg/bus"
	"ipadepot/pkg/locks"
	"ipadepot/pkg/render"
	gos3 "ipadepot/pkg/s3"
	"ipadepot/services/links"
	"ipadepot/services/repo"
)

const (
	defaultMaxUploadBytes = 512 << 20 // public edge upload ceiling
	defaultQuotaBytes     = 20 << 30
)

// Store holds external dependencies required by the registry layer.
type Store struct {
	DB  *pgxpool.Pool
	ORM *gorm.DB
	S3  *gos3.Client
	Bus *bus.Bus
}

// Config controls runtime behaviour for the registry handlers.
type Config struct {
	// BaseURL is the public origin every published link is derived from.
	BaseURL        string
	Bucket         string
	MaxUploadBytes int64
	QuotaBytes     int64
	JWTSecret      string
}

// API wires dependencies, the manifest builder, and configuration for the
// HTTP handlers.
type API struct {
	store     *Store
	config    Config
	repo      *repo.Builder
	signer    *repo.Signer
	shortener *links.Shortener
	renderer  *render.Engine
	locks     *locks.Keyed
}

// New initialises the registry API layer with defaults applied to the
// provided configuration.
func New(store *Store, builder *repo.Builder, manifestSigner *repo.Signer, shortener *links.Shortener, renderer *render.Engine, artifactLocks *locks.Keyed, cfg Config) (*API, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if store.DB == nil {
		return nil, errors.New("store DB is required")
	}
	if store.ORM == nil {
		return nil, errors.New("store ORM is required")
	}
	if builder == nil {
		return nil, errors.New("manifest builder is required")
	}
	if renderer == nil {
		return nil, errors.New("renderer is required")
	}
	if artifactLocks == nil {
		artifactLocks = locks.NewKeyed()
	}
	if shortener == nil {
		shortener = links.NewShortener("", nil)
	}

	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, errors.New("base url is required")
	}
	if cfg.Bucket == "" {
		cfg.Bucket = os.Getenv("S3_BUCKET")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = envInt64("MAX_UPLOAD_BYTES", defaultMaxUploadBytes)
	}
	if cfg.QuotaBytes <= 0 {
		cfg.QuotaBytes = envInt64("STORAGE_QUOTA_BYTES", defaultQuotaBytes)
	}
	// an empty secret leaves the management surface open, which suits
	// single-user deployments behind a private network
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = os.Getenv("JWT_SECRET")
	}

	return &API{
		store:     store,
		config:    cfg,
		repo:      builder,
		signer:    manifestSigner,
		shortener: shortener,
		renderer:  renderer,
		locks:     artifactLocks,
	}, nil
}

// Locks exposes the per-artifact lock set so the signing pipeline can share it.
func (a *API) Locks() *locks.Keyed {
	return a.locks
}

func envInt64(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
