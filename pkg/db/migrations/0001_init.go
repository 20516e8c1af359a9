package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

type Artifact struct {
	ID             string                       `gorm:"type:text;primaryKey"`
	AppName        string                       `gorm:"type:text;not null"`
	BundleID       string                       `gorm:"type:text;not null;index"`
	Slug           string                       `gorm:"type:text;not null"`
	Version        string                       `gorm:"type:text;not null"`
	Developer      string                       `gorm:"type:text"`
	Subtitle       string                       `gorm:"type:text"`
	SupportEmail   string                       `gorm:"type:text"`
	Description    string                       `gorm:"type:text"`
	Changelog      string                       `gorm:"type:text"`
	IconURL        string                       `gorm:"type:text"`
	ScreenshotURLs datatypes.JSONSlice[string]  `gorm:"type:jsonb"`
	MinOSVersion   string                       `gorm:"type:text"`
	TintColor      string                       `gorm:"type:text"`
	TestflightURL  string                       `gorm:"type:text"`
	SizeBytes      int64                        `gorm:"type:bigint;not null"`
	SHA256         string                       `gorm:"type:text;not null"`
	StorageKey     string                       `gorm:"type:text;not null"`
	SignedAt       *time.Time                   `gorm:"type:timestamptz"`
	CreatedAt      time.Time                    `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt      time.Time                    `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

type Certificate struct {
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

type SignRequest struct {
	ID            uuid.UUID   `gorm:"type:uuid;primaryKey"`
	ArtifactID    string      `gorm:"type:text;not null;index"`
	CertificateID uuid.UUID   `gorm:"type:uuid;not null"`
	Status        string      `gorm:"type:text;not null"`
	Error         string      `gorm:"type:text"`
	RequestedAt   time.Time   `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	StartedAt     *time.Time  `gorm:"type:timestamptz"`
	FinishedAt    *time.Time  `gorm:"type:timestamptz"`
	Artifact      Artifact    `gorm:"foreignKey:ArtifactID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Certificate   Certificate `gorm:"foreignKey:CertificateID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

type RepoManifest struct {
	ID        int64          `gorm:"type:bigint;primaryKey"`
	Doc       datatypes.JSON `gorm:"type:jsonb;not null"`
	Revision  int64          `gorm:"type:bigint;not null;default:0"`
	UpdatedAt time.Time      `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).AutoMigrate(
		&Artifact{},
		&Certificate{},
		&SignRequest{},
		&RepoManifest{},
	); err != nil {
		return err
	}

	m := gormDB.WithContext(ctx).Migrator()
	if err := m.CreateConstraint(&SignRequest{}, "Artifact"); err != nil {
		return err
	}
	if err := m.CreateConstraint(&SignRequest{}, "Certificate"); err != nil {
		return err
	}

	return nil
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).Migrator().DropTable(
		&RepoManifest{},
		&SignRequest{},
		&Certificate{},
		&Artifact{},
	); err != nil {
		return err
	}

	return nil
}
