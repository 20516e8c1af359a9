package registry

import (
	"time"

	"github.com/google/uuid"

	"ipadepot/services/links"
)

// Artifact is one uploaded, possibly re-signed, application binary plus
// its metadata and derived links.
type Artifact struct {
	ID             string     `json:"id"`
	AppName        string     `json:"app_name"`
	BundleID       string     `json:"bundle_id"`
	Slug           string     `json:"slug"`
	Version        string     `json:"version"`
	Developer      string     `json:"developer"`
	Subtitle       string     `json:"subtitle"`
	SupportEmail   string     `json:"support_email"`
	Description    string     `json:"description"`
	Changelog      string     `json:"changelog"`
	IconURL        string     `json:"icon_url"`
	ScreenshotURLs []string   `json:"screenshot_urls"`
	MinOSVersion   string     `json:"min_os_version"`
	TintColor      string     `json:"tint_color"`
	TestflightURL  string     `json:"testflight_url"`
	SizeBytes      int64      `json:"size_bytes"`
	SHA256         string     `json:"sha256"`
	SignedAt       *time.Time `json:"signed_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Links          links.Set  `json:"links"`
}

// Certificate is a signing identity: a PKCS#12 key bundle plus a
// provisioning profile. Credential file bytes live in the blob store and
// are never echoed through the API.
type Certificate struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SignRequest reports the state of one signing pipeline run.
type SignRequest struct {
	ID            uuid.UUID  `json:"id"`
	ArtifactID    string     `json:"artifact_id"`
	CertificateID uuid.UUID  `json:"certificate_id"`
	Status        string     `json:"status"`
	Error         string     `json:"error,omitempty"`
	RequestedAt   time.Time  `json:"requested_at"`
	StartedAt     *time.Time `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
}

// StorageUsage summarises consumed versus allotted binary storage.
type StorageUsage struct {
	UsedBytes  int64 `json:"used_bytes"`
	QuotaBytes int64 `json:"quota_bytes"`
}
