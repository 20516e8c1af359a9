package registry

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes constructs the chi router containing all registry endpoints. The
// management surface under /v1 sits behind bearer auth; everything an
// installer or a shared link touches stays public.
func (a *API) Routes() (http.Handler, error) {
	if a == nil {
		return nil, errors.New("nil api")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Minute))

	r.Get("/healthz", a.handleHealthz)
	r.Get("/readyz", a.handleReadyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/repo.json", a.handleRepoJSON)
	r.Get("/repo.json.sig", a.handleRepoSignature)
	r.Get("/api/manifest/{id}", a.handleInstallManifest)
	r.Get("/api/ipa/{id}", a.handleDownloadIPA)
	r.Get("/app/{slug}/{id}", a.handleAppPage)
	r.Get("/s/{id}", a.handleShortLink)
	r.Get("/tf/{id}", a.handleTestFlightLink)

	r.Route("/v1", func(r chi.Router) {
		r.Use(a.requireAuth)

		r.Post("/artifacts", a.handleCreateArtifact)
		r.Get("/artifacts", a.handleListArtifacts)
		r.Get("/artifacts/{id}", a.handleGetArtifact)
		r.Patch("/artifacts/{id}", a.handlePatchArtifact)
		r.Put("/artifacts/{id}/binary", a.handleReplaceBinary)
		r.Delete("/artifacts/{id}", a.handleDeleteArtifact)
		r.Get("/artifacts/{id}/links", a.handleShareLinks)

		r.Post("/certificates", a.handleCreateCertificate)
		r.Get("/certificates", a.handleListCertificates)
		r.Get("/certificates/{id}", a.handleGetCertificate)
		r.Patch("/certificates/{id}", a.handlePatchCertificate)
		r.Put("/certificates/{id}/active", a.handleSetCertificateActive)
		r.Delete("/certificates/{id}", a.handleDeleteCertificate)

		r.Post("/signing", a.handleCreateSignRequest)
		r.Get("/signing", a.handleListSignRequests)
		r.Get("/signing/{id}", a.handleGetSignRequest)

		r.Post("/repo/sync/{id}", a.handleSyncArtifact)
		r.Get("/repo/manifest", a.handleGetManifest)
		r.Post("/repo/apps", a.handleUpsertManifestApp)
		r.Delete("/repo/apps/{bundleId}", a.handleRemoveManifestApp)
		r.Post("/repo/news", a.handleAddNews)
		r.Delete("/repo/news/{id}", a.handleRemoveNews)
	})

	return r, nil
}
