package signer

import (
	"time"

	"github.com/google/uuid"
)

// Sign request lifecycle. A request moves Requested -> InProgress and ends
// Signed or Failed; re-signing an already-signed artifact submits a fresh
// request rather than reusing a terminal one.
const (
	StatusRequested  = "requested"
	StatusInProgress = "in_progress"
	StatusSigned     = "signed"
	StatusFailed     = "failed"
)

type signRequestModel struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey"`
	ArtifactID    string     `gorm:"type:text"`
	CertificateID uuid.UUID  `gorm:"type:uuid"`
	Status        string     `gorm:"type:text"`
	Error         string     `gorm:"type:text"`
	RequestedAt   time.Time  `gorm:"type:timestamptz"`
	StartedAt     *time.Time `gorm:"type:timestamptz"`
	FinishedAt    *time.Time `gorm:"type:timestamptz"`
}

func (signRequestModel) TableName() string { return "sign_requests" }

type artifactModel struct {
	ID         string     `gorm:"type:text;primaryKey"`
	SizeBytes  int64      `gorm:"type:bigint"`
	SHA256     string     `gorm:"type:text"`
	StorageKey string     `gorm:"type:text"`
	SignedAt   *time.Time `gorm:"type:timestamptz"`
}

func (artifactModel) TableName() string { return "artifacts" }

type certificateModel struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name       string    `gorm:"type:text"`
	P12Key     string    `gorm:"type:text"`
	ProfileKey string    `gorm:"type:text"`
	Password   string    `gorm:"type:text"`
	IsActive   bool
}

func (certificateModel) TableName() string { return "certificates" }

type signRequestedEvent struct {
	RequestID uuid.UUID `json:"request_id"`
}
