// Package signer runs the certificate-based re-signing pipeline. Requests
// arrive over the bus so the slow external-signer invocation never runs on
// the HTTP request path; the registry keeps serving other artifacts while
// a sign is in flight.
package signer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gorm.io/gorm"

	"ipadepot/pkg/bus"
	"ipadepot/pkg/fault"
	"ipadepot/pkg/locks"
)

const (
	SubjectSignRequested = "ipadepot.signing.requested"
	SubjectSignFinished  = "ipadepot.signing.finished"
)

var signOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ipadepot_sign_requests_total",
	Help: "Sign pipeline outcomes by terminal status.",
}, []string{"outcome"})

// BinaryStore is the slice of the blob store the pipeline needs: reading
// the current package and credential files, and atomically swapping the
// package bytes under an unchanged key.
type BinaryStore interface {
	GetObjectBytes(ctx context.Context, bucket, key string) ([]byte, error)
	ReplaceObject(ctx context.Context, bucket, key string, r io.Reader, size int64, sha256 string) error
}

// Pipeline consumes sign requests and drives each through
// Requested -> InProgress -> Signed | Failed.
type Pipeline struct {
	orm      *gorm.DB
	bus      *bus.Bus
	blobs    BinaryStore
	resigner Resigner
	bucket   string
	locks    *locks.Keyed

	subsMu sync.Mutex
	subs   []io.Closer
}

// NewPipeline creates a Pipeline bound to the provided dependencies. The
// keyed locks must be the same instance the registry uses so a sign and a
// metadata edit on one artifact cannot race on the same binary.
func NewPipeline(orm *gorm.DB, b *bus.Bus, blobs BinaryStore, resigner Resigner, bucket string, artifactLocks *locks.Keyed) (*Pipeline, error) {
	if orm == nil {
		return nil, errors.New("orm is required")
	}
	if b == nil {
		return nil, errors.New("bus is required")
	}
	if blobs == nil {
		return nil, errors.New("binary store is required")
	}
	if resigner == nil {
		return nil, errors.New("resigner is required")
	}
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if artifactLocks == nil {
		artifactLocks = locks.NewKeyed()
	}

	return &Pipeline{
		orm:      orm,
		bus:      b,
		blobs:    blobs,
		resigner: resigner,
		bucket:   bucket,
		locks:    artifactLocks,
	}, nil
}

// Start registers the bus subscription and begins processing requests.
func (p *Pipeline) Start(ctx context.Context) error {
	if p == nil {
		return errors.New("nil pipeline")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	closer, err := p.bus.Subscribe(ctx, SubjectSignRequested, "signer-requests", p.handleSignRequested)
	if err != nil {
		return err
	}

	p.subsMu.Lock()
	p.subs = append(p.subs, closer)
	p.subsMu.Unlock()
	return nil
}

// Close tears down active subscriptions.
func (p *Pipeline) Close() error {
	if p == nil {
		return nil
	}

	p.subsMu.Lock()
	defer p.subsMu.Unlock()

	var firstErr error
	for _, sub := range p.subs {
		if sub == nil {
			continue
		}
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.subs = nil
	return firstErr
}

func (p *Pipeline) handleSignRequested(ctx context.Context, data []byte) error {
	var evt signRequestedEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return err
	}
	if evt.RequestID == uuid.Nil {
		return errors.New("request_id missing from sign event")
	}

	var req signRequestModel
	err := p.orm.WithContext(ctx).First(&req, "id = ?", evt.RequestID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Request row gone; nothing to do.
			return nil
		}
		return err
	}
	if !shouldProcess(req.Status, req.StartedAt, time.Now().UTC()) {
		return nil
	}

	return p.process(ctx, &req)
}

// staleInProgressAfter is how long an in_progress request may sit without
// finishing before a redelivery reclaims it. It exceeds the signer timeout,
// so only a worker that died mid-run leaves a row old enough to reclaim.
const staleInProgressAfter = 5 * time.Minute

// shouldProcess gates redeliveries. Requested rows always run. An
// in_progress row normally means another worker holds the run, except when
// its started_at is stale enough that the worker must have crashed.
func shouldProcess(status string, startedAt *time.Time, now time.Time) bool {
	switch status {
	case StatusRequested:
		return true
	case StatusInProgress:
		return startedAt == nil || now.Sub(*startedAt) > staleInProgressAfter
	default:
		return false
	}
}

func (p *Pipeline) process(ctx context.Context, req *signRequestModel) error {
	var artifact artifactModel
	if err := p.orm.WithContext(ctx).First(&artifact, "id = ?", req.ArtifactID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return p.finish(ctx, req, StatusFailed, "artifact "+req.ArtifactID+" not found")
		}
		return err
	}

	var cert certificateModel
	if err := p.orm.WithContext(ctx).First(&cert, "id = ?", req.CertificateID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return p.finish(ctx, req, StatusFailed, "certificate "+req.CertificateID.String()+" not found")
		}
		return err
	}
	if !cert.IsActive {
		return p.finish(ctx, req, StatusFailed, "certificate "+cert.Name+" is not active")
	}

	startedAt := time.Now().UTC()
	if err := p.orm.WithContext(ctx).Model(req).Updates(map[string]any{
		"status":     StatusInProgress,
		"started_at": startedAt,
	}).Error; err != nil {
		return err
	}

	unlock := p.locks.Lock(artifact.ID)
	defer unlock()

	result, err := executeSign(ctx, p.blobs, p.resigner, signJob{
		Bucket:      p.bucket,
		ArtifactKey: artifact.StorageKey,
		P12Key:      cert.P12Key,
		ProfileKey:  cert.ProfileKey,
		Password:    cert.Password,
	})
	if err != nil {
		// The artifact's prior binary and metadata are untouched on every
		// failure path; only the request row records the outcome.
		return p.finish(ctx, req, StatusFailed, err.Error())
	}

	signedAt := time.Now().UTC()
	if err := p.orm.WithContext(ctx).Model(&artifactModel{}).Where("id = ?", artifact.ID).Updates(map[string]any{
		"signed_at":  signedAt,
		"size_bytes": result.SizeBytes,
		"sha256":     result.SHA256,
		"updated_at": signedAt,
	}).Error; err != nil {
		return err
	}

	return p.finish(ctx, req, StatusSigned, "")
}

func (p *Pipeline) finish(ctx context.Context, req *signRequestModel, status, errMsg string) error {
	finishedAt := time.Now().UTC()
	if err := p.orm.WithContext(ctx).Model(req).Updates(map[string]any{
		"status":      status,
		"error":       errMsg,
		"finished_at": finishedAt,
	}).Error; err != nil {
		return err
	}

	signOutcomes.WithLabelValues(status).Inc()

	payload := map[string]any{
		"request_id":  req.ID,
		"artifact_id": req.ArtifactID,
		"status":      status,
		"finished_at": finishedAt,
	}
	if errMsg != "" {
		payload["error"] = errMsg
	}
	return p.bus.Publish(ctx, SubjectSignFinished, payload)
}

type signJob struct {
	Bucket      string
	ArtifactKey string
	P12Key      string
	ProfileKey  string
	Password    string
}

type signResult struct {
	SizeBytes int64
	SHA256    string
}

// executeSign performs the binary work of one sign: fetch the current
// package and credentials, invoke the external signer, and atomically swap
// the stored bytes under the unchanged key. On any error the stored object
// is left exactly as it was.
func executeSign(ctx context.Context, blobs BinaryStore, resigner Resigner, job signJob) (signResult, error) {
	ipa, err := blobs.GetObjectBytes(ctx, job.Bucket, job.ArtifactKey)
	if err != nil {
		return signResult{}, fault.Wrap(fault.KindStorage, err, "fetch package")
	}

	p12, err := blobs.GetObjectBytes(ctx, job.Bucket, job.P12Key)
	if err != nil {
		return signResult{}, fault.Wrap(fault.KindStorage, err, "fetch key bundle")
	}
	profile, err := blobs.GetObjectBytes(ctx, job.Bucket, job.ProfileKey)
	if err != nil {
		return signResult{}, fault.Wrap(fault.KindStorage, err, "fetch provisioning profile")
	}

	signed, err := resigner.Resign(ctx, ipa, Credentials{P12: p12, Profile: profile, Password: job.Password})
	if err != nil {
		if fault.KindOf(err) == 0 {
			err = fault.Wrap(fault.KindSigning, err, "resign")
		}
		return signResult{}, err
	}
	if len(signed) == 0 {
		return signResult{}, fault.New(fault.KindSigning, "signer produced an empty package")
	}

	sum := sha256.Sum256(signed)
	digest := hex.EncodeToString(sum[:])

	if err := blobs.ReplaceObject(ctx, job.Bucket, job.ArtifactKey, bytes.NewReader(signed), int64(len(signed)), digest); err != nil {
		return signResult{}, fault.Wrap(fault.KindStorage, err, "swap package")
	}

	return signResult{SizeBytes: int64(len(signed)), SHA256: digest}, nil
}
