// Package export builds and restores portable registry bundles: every
// registered IPA plus its metadata packed into a signed tar.zst archive,
// suitable for moving a store between deployments or keeping cold backups.
package export

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest is the signed metadata record included in every bundle.
type Manifest struct {
	Version          string           `yaml:"version"`
	CreatedAt        time.Time        `yaml:"created_at"`
	Source           string           `yaml:"source,omitempty"`
	Signer           string           `yaml:"signer,omitempty"`
	SigningPublicKey string           `yaml:"signing_public_key,omitempty"`
	Signature        string           `yaml:"signature,omitempty"`
	Artifacts        []BundleArtifact `yaml:"artifacts"`
}

// SigningBytes marshals the manifest without its signature for
// signing and verification.
func (m Manifest) SigningBytes() ([]byte, error) {
	clone := m
	clone.Signature = ""
	return yaml.Marshal(clone)
}

// BundleArtifact carries the registry metadata for one packed IPA. Path is
// the archive-relative location of the binary.
type BundleArtifact struct {
	ID             string   `yaml:"id"`
	Path           string   `yaml:"path"`
	AppName        string   `yaml:"app_name"`
	BundleID       string   `yaml:"bundle_id"`
	Version        string   `yaml:"version"`
	Developer      string   `yaml:"developer,omitempty"`
	Subtitle       string   `yaml:"subtitle,omitempty"`
	SupportEmail   string   `yaml:"support_email,omitempty"`
	Description    string   `yaml:"description,omitempty"`
	Changelog      string   `yaml:"changelog,omitempty"`
	IconURL        string   `yaml:"icon_url,omitempty"`
	ScreenshotURLs []string `yaml:"screenshot_urls,omitempty"`
	MinOSVersion   string   `yaml:"min_os_version,omitempty"`
	TintColor      string   `yaml:"tint_color,omitempty"`
	TestflightURL  string   `yaml:"testflight_url,omitempty"`
	SizeBytes      int64    `yaml:"size_bytes"`
	SHA256         string   `yaml:"sha256"`
}
