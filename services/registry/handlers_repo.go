package registry

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ipadepot/pkg/fault"
	"ipadepot/services/links"
	"ipadepot/services/repo"
)

var errNoSigner = errors.New("manifest signing is not configured")

// applyManifest retries the op set a few times when a concurrent process
// won the revision race. The builder re-reads the document on every
// attempt, so a retry merges on top of the winner's write.
func (a *API) applyManifest(r *http.Request, fn func() error) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if err = fn(); !fault.IsConflict(err) {
			return err
		}
	}
	return err
}

// handleSyncArtifact publishes one artifact's current metadata into the
// repository manifest. Uploads never auto-publish; this is the explicit
// publish step.
func (a *API) handleSyncArtifact(w http.ResponseWriter, r *http.Request) {
	model, err := a.loadArtifact(r, chi.URLParam(r, "id"))
	if err != nil {
		respondFault(w, err)
		return
	}

	set := links.Generate(a.config.BaseURL, model.ID, model.Slug)
	snap := repo.ArtifactSnapshot{
		AppName:        model.AppName,
		BundleID:       model.BundleID,
		Version:        model.Version,
		Developer:      model.Developer,
		Subtitle:       model.Subtitle,
		Description:    model.Description,
		Changelog:      model.Changelog,
		IconURL:        model.IconURL,
		TintColor:      model.TintColor,
		ScreenshotURLs: model.ScreenshotURLs,
		SizeBytes:      model.SizeBytes,
		DownloadURL:    set.Direct,
		MinOSVersion:   model.MinOSVersion,
		Date:           model.CreatedAt,
	}

	var doc repo.Document
	err = a.applyManifest(r, func() error {
		var syncErr error
		doc, syncErr = a.repo.SyncArtifact(r.Context(), snap)
		return syncErr
	})
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

// handleUpsertManifestApp writes a curated app entry straight into the
// manifest. Version entries already synced for the bundle survive the
// upsert, so this is how operators polish listing metadata after the fact.
func (a *API) handleUpsertManifestApp(w http.ResponseWriter, r *http.Request) {
	var app repo.App
	if err := decodeJSON(r, &app); err != nil {
		respondFault(w, fault.Wrap(fault.KindValidation, err, "decode app entry"))
		return
	}
	if app.BundleIdentifier == "" {
		respondFault(w, fault.New(fault.KindValidation, "app bundle identifier is required"))
		return
	}

	var doc repo.Document
	err := a.applyManifest(r, func() error {
		var opErr error
		doc, opErr = a.repo.ApplyOps(r.Context(), repo.AddApp{App: app})
		return opErr
	})
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func (a *API) handleRemoveManifestApp(w http.ResponseWriter, r *http.Request) {
	bundleID := chi.URLParam(r, "bundleId")
	var doc repo.Document
	err := a.applyManifest(r, func() error {
		var opErr error
		doc, opErr = a.repo.ApplyOps(r.Context(), repo.RemoveApp{BundleID: bundleID})
		return opErr
	})
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func (a *API) handleGetManifest(w http.ResponseWriter, r *http.Request) {
	doc, revision, err := a.repo.Load(r.Context())
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"revision": revision, "document": doc})
}

func (a *API) handleAddNews(w http.ResponseWriter, r *http.Request) {
	var item repo.News
	if err := decodeJSON(r, &item); err != nil {
		respondFault(w, fault.Wrap(fault.KindValidation, err, "decode news item"))
		return
	}
	if item.Identifier == "" || item.Title == "" {
		respondFault(w, fault.New(fault.KindValidation, "news identifier and title are required"))
		return
	}
	if item.Date.IsZero() {
		item.Date = time.Now().UTC()
	}

	var doc repo.Document
	err := a.applyManifest(r, func() error {
		var opErr error
		doc, opErr = a.repo.ApplyOps(r.Context(), repo.AddNews{News: item})
		return opErr
	})
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

func (a *API) handleRemoveNews(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var doc repo.Document
	err := a.applyManifest(r, func() error {
		var opErr error
		doc, opErr = a.repo.ApplyOps(r.Context(), repo.RemoveNews{Identifier: id})
		return opErr
	})
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

// handleRepoJSON serves the installer-facing manifest. This endpoint is
// what AltStore-style clients add as a source URL.
func (a *API) handleRepoJSON(w http.ResponseWriter, r *http.Request) {
	payload, err := a.repo.Render(r.Context())
	if err != nil {
		respondFault(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (a *API) handleRepoSignature(w http.ResponseWriter, r *http.Request) {
	if a.signer == nil {
		respondError(w, http.StatusNotFound, errNoSigner)
		return
	}
	_, sig, err := a.repo.RenderSigned(r.Context(), a.signer)
	if err != nil {
		respondFault(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(sig))
}
