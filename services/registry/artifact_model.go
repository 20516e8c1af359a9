package registry

import (
	"time"

	"gorm.io/datatypes"

	"ipadepot/services/links"
)

type artifactModel struct {
	ID             string                      `gorm:"type:text;primaryKey"`
	AppName        string                      `gorm:"type:text;not null"`
	BundleID       string                      `gorm:"type:text;not null;index"`
	Slug           string                      `gorm:"type:text;not null"`
	Version        string                      `gorm:"type:text;not null"`
	Developer      string                      `gorm:"type:text"`
	Subtitle       string                      `gorm:"type:text"`
	SupportEmail   string                      `gorm:"type:text"`
	Description    string                      `gorm:"type:text"`
	Changelog      string                      `gorm:"type:text"`
	IconURL        string                      `gorm:"type:text"`
	ScreenshotURLs datatypes.JSONSlice[string] `gorm:"type:jsonb"`
	MinOSVersion   string                      `gorm:"type:text"`
	TintColor      string                      `gorm:"type:text"`
	TestflightURL  string                      `gorm:"type:text"`
	SizeBytes      int64                       `gorm:"type:bigint;not null"`
	SHA256         string                      `gorm:"type:text;not null"`
	StorageKey     string                      `gorm:"type:text;not null"`
	SignedAt       *time.Time                  `gorm:"type:timestamptz"`
	CreatedAt      time.Time                   `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt      time.Time                   `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func (artifactModel) TableName() string { return "artifacts" }

func (m artifactModel) toAPI(baseURL string) Artifact {
	return Artifact{
		ID:             m.ID,
		AppName:        m.AppName,
		BundleID:       m.BundleID,
		Slug:           m.Slug,
		Version:        m.Version,
		Developer:      m.Developer,
		Subtitle:       m.Subtitle,
		SupportEmail:   m.SupportEmail,
		Description:    m.Description,
		Changelog:      m.Changelog,
		IconURL:        m.IconURL,
		ScreenshotURLs: m.ScreenshotURLs,
		MinOSVersion:   m.MinOSVersion,
		TintColor:      m.TintColor,
		TestflightURL:  m.TestflightURL,
		SizeBytes:      m.SizeBytes,
		SHA256:         m.SHA256,
		SignedAt:       m.SignedAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
		Links:          links.Generate(baseURL, m.ID, m.Slug),
	}
}
