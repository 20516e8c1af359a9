// Package repo owns the published repository manifest: the single document
// installer clients fetch to discover apps, versions, and news. The
// document is persisted separately from the artifact registry and is only
// changed through tagged operations applied by the Builder, which is what
// keeps a partially-written manifest from ever being observable.
package repo

import (
	"sort"
	"strings"
	"time"

	"ipadepot/pkg/fault"
)

// Document is the installer-consumable repository manifest.
type Document struct {
	Name        string `json:"name"`
	Identifier  string `json:"identifier"`
	Subtitle    string `json:"subtitle"`
	Description string `json:"description"`
	IconURL     string `json:"iconURL"`
	HeaderURL   string `json:"headerURL"`
	Website     string `json:"website"`
	TintColor   string `json:"tintColor"`
	Apps        []App  `json:"apps"`
	News        []News `json:"news"`
}

// App is one catalog entry, keyed by bundle identifier.
type App struct {
	Name                 string         `json:"name"`
	BundleIdentifier     string         `json:"bundleIdentifier"`
	DeveloperName        string         `json:"developerName"`
	Subtitle             string         `json:"subtitle"`
	LocalizedDescription string         `json:"localizedDescription"`
	IconURL              string         `json:"iconURL"`
	TintColor            string         `json:"tintColor"`
	ScreenshotURLs       []string       `json:"screenshotURLs"`
	Versions             []Version      `json:"versions"`
	AppPermissions       map[string]any `json:"appPermissions,omitempty"`
}

// Version is one release of an app, newest first within App.Versions.
type Version struct {
	Version              string    `json:"version"`
	Date                 time.Time `json:"date"`
	Size                 int64     `json:"size"`
	DownloadURL          string    `json:"downloadURL"`
	LocalizedDescription string    `json:"localizedDescription"`
	MinOSVersion         string    `json:"minOSVersion"`
}

// News is a dated announcement, optionally tied to an app.
type News struct {
	Identifier string    `json:"identifier"`
	Title      string    `json:"title"`
	Caption    string    `json:"caption"`
	Date       time.Time `json:"date"`
	TintColor  string    `json:"tintColor"`
	ImageURL   string    `json:"imageURL,omitempty"`
	Notify     bool      `json:"notify"`
	AppID      string    `json:"appID,omitempty"`
}

// Op is a tagged mutation of the manifest document. Ops are the only way
// the document changes; free-form field patches are not offered.
type Op interface {
	apply(doc *Document) error
}

// AddApp inserts or replaces an app entry wholesale. An existing entry with
// the same bundle identifier keeps its version list unless the new entry
// carries one.
type AddApp struct {
	App App
}

func (op AddApp) apply(doc *Document) error {
	if op.App.BundleIdentifier == "" {
		return fault.New(fault.KindValidation, "app bundleIdentifier is required")
	}
	for i := range doc.Apps {
		if doc.Apps[i].BundleIdentifier != op.App.BundleIdentifier {
			continue
		}
		next := op.App
		if next.Versions == nil {
			next.Versions = doc.Apps[i].Versions
		}
		sortVersions(next.Versions)
		doc.Apps[i] = next
		return nil
	}
	app := op.App
	sortVersions(app.Versions)
	doc.Apps = append(doc.Apps, app)
	return nil
}

// AddVersion merges one release into an app. A missing app entry is seeded
// from Seed; an existing version entry with the same version string is
// replaced (last write wins); the version list is re-sorted newest first.
type AddVersion struct {
	BundleID string
	Seed     App
	Version  Version
}

func (op AddVersion) apply(doc *Document) error {
	if op.BundleID == "" {
		return fault.New(fault.KindValidation, "bundle identifier is required")
	}
	if op.Version.Version == "" {
		return fault.New(fault.KindValidation, "version string is required")
	}

	idx := -1
	for i := range doc.Apps {
		if doc.Apps[i].BundleIdentifier == op.BundleID {
			idx = i
			break
		}
	}
	if idx < 0 {
		seed := op.Seed
		seed.BundleIdentifier = op.BundleID
		seed.Versions = nil
		doc.Apps = append(doc.Apps, seed)
		idx = len(doc.Apps) - 1
	}

	app := &doc.Apps[idx]
	replaced := false
	for i := range app.Versions {
		if app.Versions[i].Version == op.Version.Version {
			app.Versions[i] = op.Version
			replaced = true
			break
		}
	}
	if !replaced {
		app.Versions = append(app.Versions, op.Version)
	}
	sortVersions(app.Versions)
	return nil
}

// RemoveApp drops the app entry for the given bundle identifier. Removing
// an absent app is a no-op; the caller's intent is already satisfied.
type RemoveApp struct {
	BundleID string
}

func (op RemoveApp) apply(doc *Document) error {
	for i := range doc.Apps {
		if doc.Apps[i].BundleIdentifier == op.BundleID {
			doc.Apps = append(doc.Apps[:i], doc.Apps[i+1:]...)
			return nil
		}
	}
	return nil
}

// RemoveVersion prunes one version entry from an app. An app left with no
// versions is removed entirely, since installer clients reject version-less
// app entries.
type RemoveVersion struct {
	BundleID string
	Version  string
}

func (op RemoveVersion) apply(doc *Document) error {
	for i := range doc.Apps {
		if doc.Apps[i].BundleIdentifier != op.BundleID {
			continue
		}
		app := &doc.Apps[i]
		for j := range app.Versions {
			if app.Versions[j].Version == op.Version {
				app.Versions = append(app.Versions[:j], app.Versions[j+1:]...)
				break
			}
		}
		if len(app.Versions) == 0 {
			doc.Apps = append(doc.Apps[:i], doc.Apps[i+1:]...)
		}
		return nil
	}
	return nil
}

// RemoveArtifact prunes every version entry whose download URL points at a
// deleted artifact. Matching on the URL rather than a version string also
// catches entries published before a later version edit, so the catalog
// never keeps advertising a download that now 404s. Apps left with no
// versions are dropped.
type RemoveArtifact struct {
	DownloadURL string
}

func (op RemoveArtifact) apply(doc *Document) error {
	if op.DownloadURL == "" {
		return fault.New(fault.KindValidation, "download URL is required")
	}

	var apps []App
	for _, app := range doc.Apps {
		var versions []Version
		for _, v := range app.Versions {
			if v.DownloadURL != op.DownloadURL {
				versions = append(versions, v)
			}
		}
		if len(versions) == 0 {
			continue
		}
		app.Versions = versions
		apps = append(apps, app)
	}
	doc.Apps = apps
	return nil
}

// AddNews inserts or replaces a news item keyed by identifier.
type AddNews struct {
	News News
}

func (op AddNews) apply(doc *Document) error {
	if op.News.Identifier == "" {
		return fault.New(fault.KindValidation, "news identifier is required")
	}
	for i := range doc.News {
		if doc.News[i].Identifier == op.News.Identifier {
			doc.News[i] = op.News
			return nil
		}
	}
	doc.News = append(doc.News, op.News)
	return nil
}

// RemoveNews drops the news item with the given identifier.
type RemoveNews struct {
	Identifier string
}

func (op RemoveNews) apply(doc *Document) error {
	for i := range doc.News {
		if doc.News[i].Identifier == op.Identifier {
			doc.News = append(doc.News[:i], doc.News[i+1:]...)
			return nil
		}
	}
	return nil
}

// Apply runs ops against a deep copy of doc and returns the result. The
// input document is never mutated, so a failed op sequence leaves the
// caller's view untouched.
func Apply(doc Document, ops ...Op) (Document, error) {
	next := doc.clone()
	for _, op := range ops {
		if err := op.apply(&next); err != nil {
			return Document{}, err
		}
	}
	return next, nil
}

// Validate checks that the document satisfies the installer schema: every
// required store field present, bundle identifiers unique, and each app
// carrying at least one fully-populated version sorted newest first.
func Validate(doc Document) error {
	if strings.TrimSpace(doc.Name) == "" {
		return fault.New(fault.KindValidation, "manifest name is required")
	}
	if strings.TrimSpace(doc.Identifier) == "" {
		return fault.New(fault.KindValidation, "manifest identifier is required")
	}

	seen := make(map[string]bool, len(doc.Apps))
	for _, app := range doc.Apps {
		if app.BundleIdentifier == "" {
			return fault.New(fault.KindValidation, "app %q has no bundleIdentifier", app.Name)
		}
		if seen[app.BundleIdentifier] {
			return fault.New(fault.KindValidation, "duplicate bundleIdentifier %q", app.BundleIdentifier)
		}
		seen[app.BundleIdentifier] = true

		if app.Name == "" {
			return fault.New(fault.KindValidation, "app %s has no name", app.BundleIdentifier)
		}
		if len(app.Versions) == 0 {
			return fault.New(fault.KindValidation, "app %s has no versions", app.BundleIdentifier)
		}

		versions := make(map[string]bool, len(app.Versions))
		for i, v := range app.Versions {
			if v.Version == "" {
				return fault.New(fault.KindValidation, "app %s has a version with no version string", app.BundleIdentifier)
			}
			if versions[v.Version] {
				return fault.New(fault.KindValidation, "app %s has duplicate version %q", app.BundleIdentifier, v.Version)
			}
			versions[v.Version] = true
			if v.DownloadURL == "" {
				return fault.New(fault.KindValidation, "app %s version %s has no downloadURL", app.BundleIdentifier, v.Version)
			}
			if i > 0 && app.Versions[i-1].Date.Before(v.Date) {
				return fault.New(fault.KindValidation, "app %s versions are not sorted newest first", app.BundleIdentifier)
			}
		}
	}

	for _, n := range doc.News {
		if n.Identifier == "" {
			return fault.New(fault.KindValidation, "news item has no identifier")
		}
		if n.Title == "" {
			return fault.New(fault.KindValidation, "news %s has no title", n.Identifier)
		}
	}

	return nil
}

func (d Document) clone() Document {
	next := d
	next.Apps = make([]App, len(d.Apps))
	for i, app := range d.Apps {
		copied := app
		copied.Versions = append([]Version(nil), app.Versions...)
		copied.ScreenshotURLs = append([]string(nil), app.ScreenshotURLs...)
		if app.AppPermissions != nil {
			copied.AppPermissions = make(map[string]any, len(app.AppPermissions))
			for k, v := range app.AppPermissions {
				copied.AppPermissions[k] = v
			}
		}
		next.Apps[i] = copied
	}
	next.News = append([]News(nil), d.News...)
	return next
}

func sortVersions(versions []Version) {
	sort.SliceStable(versions, func(i, j int) bool {
		return versions[i].Date.After(versions[j].Date)
	})
}
