// Package links derives the published URLs for an artifact. Links are a
// pure function of (baseURL, artifactID, appSlug) and are never stored:
// recomputing them always yields the byte-identical URLs that were handed
// out at upload time, no matter how often the artifact is edited or
// re-signed. Only deletion invalidates them.
package links

import (
	"fmt"
	"net/url"
	"strings"
)

// Set holds every URL published for one artifact.
type Set struct {
	Install    string `json:"install_url"`
	Direct     string `json:"direct_url"`
	Short      string `json:"short_url"`
	AppPage    string `json:"app_page_url"`
	TestFlight string `json:"testflight_url"`
}

// Generate derives the full link set for an artifact.
//
// Install is an itms-services URL wrapping the per-artifact install
// manifest, which is what an iOS device needs to perform an OTA install.
// Direct fetches the binary itself. Short and AppPage are the promotional
// redirect and share-page URLs. TestFlight is a stable redirect slot for
// an alternate distribution channel.
func Generate(baseURL, artifactID, appSlug string) Set {
	base := strings.TrimRight(baseURL, "/")
	if appSlug == "" {
		appSlug = "app"
	}

	manifestURL := fmt.Sprintf("%s/api/manifest/%s.plist", base, artifactID)

	return Set{
		Install:    "itms-services://?action=download-manifest&url=" + url.QueryEscape(manifestURL),
		Direct:     fmt.Sprintf("%s/api/ipa/%s.ipa", base, artifactID),
		Short:      fmt.Sprintf("%s/s/%s", base, artifactID),
		AppPage:    fmt.Sprintf("%s/app/%s/%s", base, appSlug, artifactID),
		TestFlight: fmt.Sprintf("%s/tf/%s", base, artifactID),
	}
}

// Slug reduces an app name to the URL-safe form used in page links.
func Slug(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	slug := strings.TrimRight(b.String(), "-")
	if slug == "" {
		return "app"
	}
	return slug
}
