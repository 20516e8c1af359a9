package registry

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"ipadepot/pkg/fault"
	"ipadepot/services/links"
)

const presignTTL = 15 * time.Minute

// handleInstallManifest serves the per-artifact OTA install plist the
// itms-services link points at.
func (a *API) handleInstallManifest(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(chi.URLParam(r, "id"), ".plist")
	model, err := a.loadArtifact(r, id)
	if err != nil {
		respondFault(w, err)
		return
	}

	set := links.Generate(a.config.BaseURL, model.ID, model.Slug)
	payload, err := renderInstallManifest(model.BundleID, model.Version, model.AppName, set.Direct)
	if err != nil {
		respondFault(w, fault.Wrap(fault.KindStorage, err, "render install manifest"))
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// handleDownloadIPA redirects to a short-lived presigned object URL rather
// than proxying the binary through the registry process.
func (a *API) handleDownloadIPA(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(chi.URLParam(r, "id"), ".ipa")
	model, err := a.loadArtifact(r, id)
	if err != nil {
		respondFault(w, err)
		return
	}

	target, err := a.store.S3.PresignGet(r.Context(), a.config.Bucket, model.StorageKey, presignTTL)
	if err != nil {
		respondFault(w, fault.Wrap(fault.KindStorage, err, "presign download"))
		return
	}
	downloadsTotal.Inc()
	http.Redirect(w, r, target, http.StatusFound)
}

func sizeLabel(bytes int64) string {
	const mb = 1 << 20
	if bytes < mb {
		return fmt.Sprintf("%.0f KB", float64(bytes)/(1<<10))
	}
	return fmt.Sprintf("%.1f MB", float64(bytes)/mb)
}

func (a *API) handleAppPage(w http.ResponseWriter, r *http.Request) {
	model, err := a.loadArtifact(r, chi.URLParam(r, "id"))
	if err != nil {
		respondFault(w, err)
		return
	}

	set := links.Generate(a.config.BaseURL, model.ID, model.Slug)
	page, err := a.renderer.Render("apppage.tmpl", map[string]any{
		"AppName":     model.AppName,
		"Version":     model.Version,
		"Developer":   model.Developer,
		"SizeLabel":   sizeLabel(model.SizeBytes),
		"IconURL":     model.IconURL,
		"TintColor":   strings.TrimPrefix(model.TintColor, "#"),
		"InstallLink": set.Install,
		"DirectLink":  set.Direct,
		"Description": model.Description,
	})
	if err != nil {
		respondFault(w, fault.Wrap(fault.KindStorage, err, "render app page"))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(page))
}

// handleShortLink bounces /s/{id} to the app share page.
func (a *API) handleShortLink(w http.ResponseWriter, r *http.Request) {
	model, err := a.loadArtifact(r, chi.URLParam(r, "id"))
	if err != nil {
		respondFault(w, err)
		return
	}
	set := links.Generate(a.config.BaseURL, model.ID, model.Slug)
	http.Redirect(w, r, set.AppPage, http.StatusFound)
}

// handleTestFlightLink redirects to the artifact's TestFlight URL when one
// is recorded, otherwise to the share page so the visitor still lands
// somewhere useful.
func (a *API) handleTestFlightLink(w http.ResponseWriter, r *http.Request) {
	model, err := a.loadArtifact(r, chi.URLParam(r, "id"))
	if err != nil {
		respondFault(w, err)
		return
	}
	if model.TestflightURL != "" {
		http.Redirect(w, r, model.TestflightURL, http.StatusFound)
		return
	}
	set := links.Generate(a.config.BaseURL, model.ID, model.Slug)
	http.Redirect(w, r, set.AppPage, http.StatusFound)
}

// handleShareLinks returns the artifact's link set, decorated with an
// externally shortened URL when a shortener is configured. Shortening is
// fail-soft: the canonical short URL is returned on any upstream trouble.
func (a *API) handleShareLinks(w http.ResponseWriter, r *http.Request) {
	model, err := a.loadArtifact(r, chi.URLParam(r, "id"))
	if err != nil {
		respondFault(w, err)
		return
	}

	set := links.Generate(a.config.BaseURL, model.ID, model.Slug)
	shortened := a.shortener.Shorten(r.Context(), set.AppPage)
	respondJSON(w, http.StatusOK, map[string]any{
		"links":     set,
		"short_url": shortened,
	})
}
