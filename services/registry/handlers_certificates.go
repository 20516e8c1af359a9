package registry

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"ipadepot/pkg/fault"
	"ipadepot/services/signer"
)

const maxCredentialBytes = 10 << 20

func certP12Key(id uuid.UUID) string     { return "certs/" + id.String() + "/cert.p12" }
func certProfileKey(id uuid.UUID) string { return "certs/" + id.String() + "/embedded.mobileprovision" }

func readCredential(r *http.Request, field string) ([]byte, error) {
	file, _, err := r.FormFile(field)
	if err != nil {
		return nil, fault.New(fault.KindValidation, "%s file is required", field)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxCredentialBytes+1))
	if err != nil {
		return nil, fault.Wrap(fault.KindStorage, err, "read %s", field)
	}
	if len(data) == 0 {
		return nil, fault.New(fault.KindValidation, "%s file is empty", field)
	}
	if len(data) > maxCredentialBytes {
		return nil, fault.New(fault.KindValidation, "%s file too large", field)
	}
	return data, nil
}

func (a *API) putCredential(r *http.Request, key string, data []byte) error {
	digest := sha256.Sum256(data)
	err := a.store.S3.PutObject(r.Context(), a.config.Bucket, key, bytes.NewReader(data), int64(len(data)), hex.EncodeToString(digest[:]))
	if err != nil {
		return fault.Wrap(fault.KindStorage, err, "store credential")
	}
	return nil
}

func (a *API) handleCreateCertificate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxCredentialBytes); err != nil {
		respondFault(w, fault.Wrap(fault.KindValidation, err, "parse upload form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	name := r.FormValue("name")
	if name == "" {
		respondFault(w, fault.New(fault.KindValidation, "name is required"))
		return
	}

	p12, err := readCredential(r, "p12")
	if err != nil {
		respondFault(w, err)
		return
	}
	profile, err := readCredential(r, "profile")
	if err != nil {
		respondFault(w, err)
		return
	}

	now := time.Now().UTC()
	model := certificateModel{
		ID:          uuid.New(),
		Name:        name,
		Description: r.FormValue("description"),
		Password:    r.FormValue("password"),
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	model.P12Key = certP12Key(model.ID)
	model.ProfileKey = certProfileKey(model.ID)

	if err := a.putCredential(r, model.P12Key, p12); err != nil {
		respondFault(w, err)
		return
	}
	if err := a.putCredential(r, model.ProfileKey, profile); err != nil {
		respondFault(w, err)
		return
	}

	if err := a.store.ORM.WithContext(r.Context()).Create(&model).Error; err != nil {
		respondFault(w, fault.Wrap(fault.KindStorage, err, "persist certificate"))
		return
	}

	respondJSON(w, http.StatusCreated, model.toAPI())
}

func (a *API) handleListCertificates(w http.ResponseWriter, r *http.Request) {
	q := a.store.ORM.WithContext(r.Context()).Order("created_at DESC")
	if raw := r.URL.Query().Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			respondFault(w, fault.New(fault.KindValidation, "active must be a boolean"))
			return
		}
		q = q.Where("is_active = ?", active)
	}

	var models []certificateModel
	err := q.Find(&models).Error
	if err != nil {
		respondFault(w, fault.Wrap(fault.KindStorage, err, "list certificates"))
		return
	}

	items := make([]Certificate, 0, len(models))
	for _, m := range models {
		items = append(items, m.toAPI())
	}
	respondJSON(w, http.StatusOK, map[string]any{"certificates": items})
}

func (a *API) loadCertificate(r *http.Request, raw string) (certificateModel, error) {
	var model certificateModel
	id, err := uuid.Parse(raw)
	if err != nil {
		return model, fault.New(fault.KindValidation, "malformed certificate id")
	}
	err = a.store.ORM.WithContext(r.Context()).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model, fault.New(fault.KindNotFound, "certificate %s not found", id)
	}
	if err != nil {
		return model, fault.Wrap(fault.KindStorage, err, "load certificate")
	}
	return model, nil
}

func (a *API) handleGetCertificate(w http.ResponseWriter, r *http.Request) {
	model, err := a.loadCertificate(r, chi.URLParam(r, "id"))
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusOK, model.toAPI())
}

// certificatePatch carries a partial certificate edit. Pointer fields
// distinguish "leave alone" from "set to empty".
type certificatePatch struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Password    *string `json:"password"`
	IsActive    *bool   `json:"is_active"`
}

func (p certificatePatch) apply(m *certificateModel) {
	if p.Name != nil {
		m.Name = *p.Name
	}
	if p.Description != nil {
		m.Description = *p.Description
	}
	if p.Password != nil {
		m.Password = *p.Password
	}
	if p.IsActive != nil {
		m.IsActive = *p.IsActive
	}
}

func (p certificatePatch) validate() error {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return fault.New(fault.KindValidation, "name cannot be cleared")
	}
	return nil
}

func (a *API) handlePatchCertificate(w http.ResponseWriter, r *http.Request) {
	var patch certificatePatch
	if err := decodeJSON(r, &patch); err != nil {
		respondFault(w, fault.Wrap(fault.KindValidation, err, "decode patch"))
		return
	}
	if err := patch.validate(); err != nil {
		respondFault(w, err)
		return
	}

	model, err := a.loadCertificate(r, chi.URLParam(r, "id"))
	if err != nil {
		respondFault(w, err)
		return
	}

	patch.apply(&model)
	model.UpdatedAt = time.Now().UTC()
	if err := a.store.ORM.WithContext(r.Context()).Save(&model).Error; err != nil {
		respondFault(w, fault.Wrap(fault.KindStorage, err, "update certificate"))
		return
	}
	respondJSON(w, http.StatusOK, model.toAPI())
}

// handleSetCertificateActive toggles whether a certificate may serve new
// sign requests. Deactivation never interrupts a run already in flight.
func (a *API) handleSetCertificateActive(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IsActive bool `json:"is_active"`
	}
	if err := decodeJSON(r, &body); err != nil {
		respondFault(w, fault.Wrap(fault.KindValidation, err, "decode body"))
		return
	}

	model, err := a.loadCertificate(r, chi.URLParam(r, "id"))
	if err != nil {
		respondFault(w, err)
		return
	}

	model.IsActive = body.IsActive
	model.UpdatedAt = time.Now().UTC()
	if err := a.store.ORM.WithContext(r.Context()).Save(&model).Error; err != nil {
		respondFault(w, fault.Wrap(fault.KindStorage, err, "update certificate"))
		return
	}
	respondJSON(w, http.StatusOK, model.toAPI())
}

func (a *API) handleDeleteCertificate(w http.ResponseWriter, r *http.Request) {
	model, err := a.loadCertificate(r, chi.URLParam(r, "id"))
	if err != nil {
		respondFault(w, err)
		return
	}

	var pending int64
	err = a.store.ORM.WithContext(r.Context()).
		Model(&signRequestModel{}).
		Where("certificate_id = ? AND status IN ?", model.ID, []string{signer.StatusRequested, signer.StatusInProgress}).
		Count(&pending).Error
	if err != nil {
		respondFault(w, fault.Wrap(fault.KindStorage, err, "check pending sign requests"))
		return
	}
	if pending > 0 {
		respondFault(w, fault.New(fault.KindConflict, "certificate has pending sign requests"))
		return
	}

	if err := a.store.ORM.WithContext(r.Context()).Delete(&certificateModel{}, "id = ?", model.ID).Error; err != nil {
		respondFault(w, fault.Wrap(fault.KindStorage, err, "delete certificate"))
		return
	}

	_ = a.store.S3.DeleteObject(r.Context(), a.config.Bucket, model.P12Key)
	_ = a.store.S3.DeleteObject(r.Context(), a.config.Bucket, model.ProfileKey)

	respondJSON(w, http.StatusOK, map[string]any{"deleted": model.ID})
}
