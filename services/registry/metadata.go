package registry

import (
	"strconv"
	"strings"
	"time"

	"gorm.io/datatypes"

	"ipadepot/pkg/fault"
	"ipadepot/pkg/locks"
)

// ArtifactMeta is the editable portion of an artifact record. It arrives as
// multipart form fields on upload and as JSON on metadata edits.
type ArtifactMeta struct {
	AppName        string   `json:"appName"`
	BundleID       string   `json:"bundleId"`
	Version        string   `json:"version"`
	Developer      string   `json:"developer"`
	Subtitle       string   `json:"subtitle"`
	SupportEmail   string   `json:"supportEmail"`
	Description    string   `json:"description"`
	Changelog      string   `json:"changelog"`
	IconURL        string   `json:"iconUrl"`
	ScreenshotURLs []string `json:"screenshotUrls"`
	MinOSVersion   string   `json:"minOsVersion"`
	TintColor      string   `json:"tintColor"`
	TestflightURL  string   `json:"testflightUrl"`
}

// NewArtifactID derives the artifact identifier from upload time. The id is
// fixed at creation and survives metadata edits and re-signing.
func NewArtifactID(at time.Time) string {
	return strconv.FormatInt(at.UnixMilli(), 36)
}

// claimArtifactID derives an upload id and acquires its per-artifact lock
// before reporting it free. Two uploads landing in the same millisecond
// serialize on the lock; the loser sees the id taken and nudges its
// timestamp forward, so no upload can ever write over another's binary.
// The caller holds the returned unlock through blob put and row insert.
func claimArtifactID(at time.Time, locker *locks.Keyed, taken func(id string) (bool, error)) (string, time.Time, func(), error) {
	for {
		id := NewArtifactID(at)
		unlock := locker.Lock(id)
		exists, err := taken(id)
		if err != nil {
			unlock()
			return "", time.Time{}, nil, err
		}
		if !exists {
			return id, at, unlock, nil
		}
		unlock()
		at = at.Add(time.Millisecond)
	}
}

func (m ArtifactMeta) validate() error {
	var missing []string
	if strings.TrimSpace(m.AppName) == "" {
		missing = append(missing, "appName")
	}
	if strings.TrimSpace(m.BundleID) == "" {
		missing = append(missing, "bundleId")
	}
	if strings.TrimSpace(m.Version) == "" {
		missing = append(missing, "version")
	}
	if len(missing) > 0 {
		return fault.New(fault.KindValidation, "missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ArtifactPatch carries a partial metadata edit. Pointer fields distinguish
// "leave alone" from "set to empty".
type ArtifactPatch struct {
	AppName        *string   `json:"appName"`
	Version        *string   `json:"version"`
	Developer      *string   `json:"developer"`
	Subtitle       *string   `json:"subtitle"`
	SupportEmail   *string   `json:"supportEmail"`
	Description    *string   `json:"description"`
	Changelog      *string   `json:"changelog"`
	IconURL        *string   `json:"iconUrl"`
	ScreenshotURLs *[]string `json:"screenshotUrls"`
	MinOSVersion   *string   `json:"minOsVersion"`
	TintColor      *string   `json:"tintColor"`
	TestflightURL  *string   `json:"testflightUrl"`
}

func (p ArtifactPatch) apply(m *artifactModel) {
	if p.AppName != nil {
		m.AppName = *p.AppName
	}
	if p.Version != nil {
		m.Version = *p.Version
	}
	if p.Developer != nil {
		m.Developer = *p.Developer
	}
	if p.Subtitle != nil {
		m.Subtitle = *p.Subtitle
	}
	if p.SupportEmail != nil {
		m.SupportEmail = *p.SupportEmail
	}
	if p.Description != nil {
		m.Description = *p.Description
	}
	if p.Changelog != nil {
		m.Changelog = *p.Changelog
	}
	if p.IconURL != nil {
		m.IconURL = *p.IconURL
	}
	if p.ScreenshotURLs != nil {
		m.ScreenshotURLs = datatypes.NewJSONSlice(*p.ScreenshotURLs)
	}
	if p.MinOSVersion != nil {
		m.MinOSVersion = *p.MinOSVersion
	}
	if p.TintColor != nil {
		m.TintColor = *p.TintColor
	}
	if p.TestflightURL != nil {
		m.TestflightURL = *p.TestflightURL
	}
}

func (p ArtifactPatch) validate() error {
	if p.AppName != nil && strings.TrimSpace(*p.AppName) == "" {
		return fault.New(fault.KindValidation, "appName cannot be cleared")
	}
	if p.Version != nil && strings.TrimSpace(*p.Version) == "" {
		return fault.New(fault.KindValidation, "version cannot be cleared")
	}
	return nil
}
