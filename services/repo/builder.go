package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ipadepot/pkg/fault"
)

// manifestStore is the slice of pgxpool.Pool the builder touches.
type manifestStore interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const manifestRowID = 1

// ArtifactSnapshot is the point-in-time view of a registry artifact that a
// sync merges into the manifest. The registry assembles it; this package
// never reads the artifact tables itself, which is what lets an operator
// stage metadata edits before publishing them.
type ArtifactSnapshot struct {
	AppName        string
	BundleID       string
	Version        string
	Developer      string
	Subtitle       string
	Description    string
	Changelog      string
	IconURL        string
	TintColor      string
	ScreenshotURLs []string
	SizeBytes      int64
	DownloadURL    string
	MinOSVersion   string
	Date           time.Time
}

// Builder serializes every mutation of the shared manifest document. An
// in-process mutex covers concurrent handlers; a revision check on the
// write covers concurrent processes. Either way, two simultaneous syncs
// can never each write back a document missing the other's change.
type Builder struct {
	pool manifestStore

	mu sync.Mutex
}

// NewBuilder creates a Builder over the provided pool.
func NewBuilder(pool *pgxpool.Pool) (*Builder, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &Builder{pool: pool}, nil
}

// EnsureSeed inserts the initial manifest row carrying the store-front
// metadata when none exists yet. Safe to call on every startup.
func (b *Builder) EnsureSeed(ctx context.Context, store StoreInfo) error {
	seed := Document{
		Name:        store.Name,
		Identifier:  store.Identifier,
		Subtitle:    store.Subtitle,
		Description: store.Description,
		IconURL:     store.IconURL,
		HeaderURL:   store.HeaderURL,
		Website:     store.Website,
		TintColor:   store.TintColor,
		Apps:        []App{},
		News:        []News{},
	}
	payload, err := json.Marshal(seed)
	if err != nil {
		return err
	}

	query := `
        INSERT INTO repo_manifests (id, doc, revision, updated_at)
        VALUES ($1, $2::jsonb, 0, now())
        ON CONFLICT (id) DO NOTHING;
    `

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err = b.pool.Exec(ctx, query, manifestRowID, string(payload))
	return fault.Wrap(fault.KindStorage, err, "seed manifest")
}

// Load reads the current document and its revision.
func (b *Builder) Load(ctx context.Context) (Document, int64, error) {
	query := `SELECT doc, revision FROM repo_manifests WHERE id = $1`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var raw []byte
	var revision int64
	err := b.pool.QueryRow(ctx, query, manifestRowID).Scan(&raw, &revision)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, 0, fault.New(fault.KindNotFound, "manifest not initialised")
		}
		return Document{}, 0, fault.Wrap(fault.KindStorage, err, "load manifest")
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, 0, fault.Wrap(fault.KindStorage, err, "decode manifest")
	}
	return doc, revision, nil
}

// ApplyOps loads the document, applies ops, validates the result, and
// writes it back in full. The write carries the revision observed at load
// time; a concurrent writer advancing it first turns this call into a
// ConflictError, which the caller retries with a fresh read.
func (b *Builder) ApplyOps(ctx context.Context, ops ...Op) (Document, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	doc, revision, err := b.Load(ctx)
	if err != nil {
		return Document{}, err
	}

	next, err := Apply(doc, ops...)
	if err != nil {
		return Document{}, err
	}

	if err := Validate(next); err != nil {
		return Document{}, err
	}

	if err := b.save(ctx, next, revision); err != nil {
		return Document{}, err
	}
	return next, nil
}

// SyncArtifact merges one artifact snapshot into the manifest: a new app
// entry when the bundle identifier is unseen, otherwise a version entry
// prepended (or replaced on an exact version match) into the existing app.
func (b *Builder) SyncArtifact(ctx context.Context, snap ArtifactSnapshot) (Document, error) {
	if snap.BundleID == "" {
		return Document{}, fault.New(fault.KindValidation, "artifact snapshot has no bundle identifier")
	}
	if snap.Version == "" {
		return Document{}, fault.New(fault.KindValidation, "artifact snapshot has no version")
	}
	if snap.DownloadURL == "" {
		return Document{}, fault.New(fault.KindValidation, "artifact snapshot has no download URL")
	}

	op := AddVersion{
		BundleID: snap.BundleID,
		Seed: App{
			Name:                 snap.AppName,
			BundleIdentifier:     snap.BundleID,
			DeveloperName:        snap.Developer,
			Subtitle:             snap.Subtitle,
			LocalizedDescription: snap.Description,
			IconURL:              snap.IconURL,
			TintColor:            snap.TintColor,
			ScreenshotURLs:       snap.ScreenshotURLs,
		},
		Version: Version{
			Version:              snap.Version,
			Date:                 snap.Date.UTC(),
			Size:                 snap.SizeBytes,
			DownloadURL:          snap.DownloadURL,
			LocalizedDescription: snap.Changelog,
			MinOSVersion:         snap.MinOSVersion,
		},
	}

	return b.ApplyOps(ctx, op)
}

// PruneArtifact removes every manifest version entry whose download URL
// references a deleted artifact, including entries left behind by earlier
// syncs under a different version string.
func (b *Builder) PruneArtifact(ctx context.Context, downloadURL string) (Document, error) {
	return b.ApplyOps(ctx, RemoveArtifact{DownloadURL: downloadURL})
}

// Render serializes the current document for installer clients, refusing
// to emit anything that fails schema validation.
func (b *Builder) Render(ctx context.Context) ([]byte, error) {
	doc, _, err := b.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := Validate(doc); err != nil {
		return nil, err
	}
	return json.MarshalIndent(doc, "", "  ")
}

// RenderSigned renders the document and produces a detached base64
// signature over the exact served bytes.
func (b *Builder) RenderSigned(ctx context.Context, signer *Signer) ([]byte, string, error) {
	payload, err := b.Render(ctx)
	if err != nil {
		return nil, "", err
	}
	sig, err := signer.Sign(payload)
	if err != nil {
		return nil, "", fmt.Errorf("sign manifest: %w", err)
	}
	return payload, sig, nil
}

func (b *Builder) save(ctx context.Context, doc Document, revision int64) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	query := `
        UPDATE repo_manifests
        SET doc = $1::jsonb, revision = revision + 1, updated_at = now()
        WHERE id = $2 AND revision = $3;
    `

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := b.pool.Exec(ctx, query, string(payload), manifestRowID, revision)
	if err != nil {
		return fault.Wrap(fault.KindStorage, err, "write manifest")
	}
	if tag.RowsAffected() == 0 {
		return fault.New(fault.KindConflict, "manifest changed concurrently, retry with a fresh read")
	}
	return nil
}
