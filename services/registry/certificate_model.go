package registry

import (
	"time"

	"github.com/google/uuid"
)

type certificateModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name        string    `gorm:"type:text;not null"`
	Description string    `gorm:"type:text"`
	P12Key      string    `gorm:"type:text;not null"`
	ProfileKey  string    `gorm:"type:text;not null"`
	Password    string    `gorm:"type:text"`
	IsActive    bool      `gorm:"not null;default:true"`
	CreatedAt   time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt   time.Time `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func (certificateModel) TableName() string { return "certificates" }

func (m certificateModel) toAPI() Certificate {
	return Certificate{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		IsActive:    m.IsActive,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

type signRequestModel struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey"`
	ArtifactID    string     `gorm:"type:text;not null;index"`
	CertificateID uuid.UUID  `gorm:"type:uuid;not null"`
	Status        string     `gorm:"type:text;not null"`
	Error         string     `gorm:"type:text"`
	RequestedAt   time.Time  `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	StartedAt     *time.Time `gorm:"type:timestamptz"`
	FinishedAt    *time.Time `gorm:"type:timestamptz"`
}

func (signRequestModel) TableName() string { return "sign_requests" }

func (m signRequestModel) toAPI() SignRequest {
	return SignRequest{
		ID:            m.ID,
		ArtifactID:    m.ArtifactID,
		CertificateID: m.CertificateID,
		Status:        m.Status,
		Error:         m.Error,
		RequestedAt:   m.RequestedAt,
		StartedAt:     m.StartedAt,
		FinishedAt:    m.FinishedAt,
	}
}
