package registry

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"ipadepot/pkg/fault"
	"ipadepot/services/signer"
)

// handleCreateSignRequest enqueues a re-sign. The handler only records the
// request and publishes the event; the pipeline worker does the actual
// signing, so the response returns immediately with a pollable id.
func (a *API) handleCreateSignRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ArtifactID    string    `json:"artifact_id"`
		CertificateID uuid.UUID `json:"certificate_id"`
	}
	if err := decodeJSON(r, &body); err != nil {
		respondFault(w, fault.Wrap(fault.KindValidation, err, "decode body"))
		return
	}
	if body.ArtifactID == "" {
		respondFault(w, fault.New(fault.KindValidation, "artifact_id is required"))
		return
	}
	if body.CertificateID == uuid.Nil {
		respondFault(w, fault.New(fault.KindValidation, "certificate_id is required"))
		return
	}
	if a.store.Bus == nil {
		respondError(w, http.StatusFailedDependency, errors.New("signing pipeline is not connected"))
		return
	}

	if _, err := a.loadArtifact(r, body.ArtifactID); err != nil {
		respondFault(w, err)
		return
	}
	cert, err := a.loadCertificate(r, body.CertificateID.String())
	if err != nil {
		respondFault(w, err)
		return
	}
	if !cert.IsActive {
		respondFault(w, fault.New(fault.KindValidation, "certificate %s is not active", cert.ID))
		return
	}

	model := signRequestModel{
		ID:            uuid.New(),
		ArtifactID:    body.ArtifactID,
		CertificateID: cert.ID,
		Status:        signer.StatusRequested,
		RequestedAt:   time.Now().UTC(),
	}
	if err := a.store.ORM.WithContext(r.Context()).Create(&model).Error; err != nil {
		respondFault(w, fault.Wrap(fault.KindStorage, err, "persist sign request"))
		return
	}

	err = a.store.Bus.Publish(r.Context(), signer.SubjectSignRequested, map[string]any{
		"request_id": model.ID,
	})
	if err != nil {
		// the row stays behind in requested state; a later publish retry
		// or a worker catalog sweep can still pick it up
		respondFault(w, fault.Wrap(fault.KindUpstream, err, "publish sign request"))
		return
	}

	respondJSON(w, http.StatusAccepted, model.toAPI())
}

func (a *API) handleGetSignRequest(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondFault(w, fault.New(fault.KindValidation, "malformed sign request id"))
		return
	}

	var model signRequestModel
	err = a.store.ORM.WithContext(r.Context()).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		respondFault(w, fault.New(fault.KindNotFound, "sign request %s not found", id))
		return
	}
	if err != nil {
		respondFault(w, fault.Wrap(fault.KindStorage, err, "load sign request"))
		return
	}
	respondJSON(w, http.StatusOK, model.toAPI())
}

func (a *API) handleListSignRequests(w http.ResponseWriter, r *http.Request) {
	q := a.store.ORM.WithContext(r.Context()).Order("requested_at DESC").Limit(200)
	if artifact := r.URL.Query().Get("artifact"); artifact != "" {
		q = q.Where("artifact_id = ?", artifact)
	}
	if status := r.URL.Query().Get("status"); status != "" {
		q = q.Where("status = ?", status)
	}

	var models []signRequestModel
	if err := q.Find(&models).Error; err != nil {
		respondFault(w, fault.Wrap(fault.KindStorage, err, "list sign requests"))
		return
	}

	items := make([]SignRequest, 0, len(models))
	for _, m := range models {
		items = append(items, m.toAPI())
	}
	respondJSON(w, http.StatusOK, map[string]any{"sign_requests": items})
}
