package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"ipadepot/pkg/db"
	"ipadepot/pkg/fault"
	"ipadepot/services/links"
)

func artifactKey(id string) string { return "ipas/" + id + ".ipa" }

// spoolUpload drains the multipart file into a temp file while hashing it,
// so large binaries never sit fully in memory.
func spoolUpload(src io.Reader) (*os.File, int64, string, error) {
	tmp, err := os.CreateTemp("", "ipadepot-upload-*")
	if err != nil {
		return nil, 0, "", err
	}

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), src)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, 0, "", err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, 0, "", err
	}
	return tmp, size, hex.EncodeToString(hasher.Sum(nil)), nil
}

func discardSpool(f *os.File) {
	f.Close()
	os.Remove(f.Name())
}

func metaFromForm(r *http.Request) ArtifactMeta {
	form := r.MultipartForm
	var shots []string
	if form != nil {
		shots = form.Value["screenshotUrls"]
	}
	return ArtifactMeta{
		AppName:        r.FormValue("appName"),
		BundleID:       r.FormValue("bundleId"),
		Version:        r.FormValue("version"),
		Developer:      r.FormValue("developer"),
		Subtitle:       r.FormValue("subtitle"),
		SupportEmail:   r.FormValue("supportEmail"),
		Description:    r.FormValue("description"),
		Changelog:      r.FormValue("changelog"),
		IconURL:        r.FormValue("iconUrl"),
		ScreenshotURLs: shots,
		MinOSVersion:   r.FormValue("minOsVersion"),
		TintColor:      r.FormValue("tintColor"),
		TestflightURL:  r.FormValue("testflightUrl"),
	}
}

func (a *API) usedBytes(r *http.Request) (int64, error) {
	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	var used int64
	err := db.Get(ctx, a.store.DB, &used, `SELECT COALESCE(SUM(size_bytes), 0) FROM artifacts`)
	if err != nil {
		return 0, fault.Wrap(fault.KindStorage, err, "query storage usage")
	}
	return used, nil
}

func (a *API) handleCreateArtifact(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondFault(w, fault.Wrap(fault.KindValidation, err, "parse upload form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	meta := metaFromForm(r)
	if err := meta.validate(); err != nil {
		respondFault(w, err)
		return
	}

	file, _, err := r.FormFile("ipa")
	if err != nil {
		respondFault(w, fault.New(fault.KindValidation, "ipa file is required"))
		return
	}
	defer file.Close()

	tmp, size, digest, err := spoolUpload(file)
	if err != nil {
		respondFault(w, fault.Wrap(fault.KindStorage, err, "spool upload"))
		return
	}
	defer discardSpool(tmp)

	if size == 0 {
		respondFault(w, fault.New(fault.KindValidation, "ipa file is empty"))
		return
	}

	used, err := a.usedBytes(r)
	if err != nil {
		respondFault(w, err)
		return
	}
	if used+size > a.config.QuotaBytes {
		respondError(w, http.StatusInsufficientStorage, errors.New("storage quota exceeded"))
		return
	}

	id, now, unlock, err := claimArtifactID(time.Now().UTC(), a.locks, func(id string) (bool, error) {
		var count int64
		countErr := a.store.ORM.WithContext(r.Context()).
			Model(&artifactModel{}).
			Where("id = ?", id).
			Count(&count).Error
		if countErr != nil {
			return false, fault.Wrap(fault.KindStorage, countErr, "check artifact id")
		}
		return count > 0, nil
	})
	if err != nil {
		respondFault(w, err)
		return
	}
	defer unlock()

	model := artifactModel{
		ID:             id,
		AppName:        meta.AppName,
		BundleID:       meta.BundleID,
		Slug:           links.Slug(meta.AppName),
		Version:        meta.Version,
		Developer:      meta.Developer,
		Subtitle:       meta.Subtitle,
		SupportEmail:   meta.SupportEmail,
		Description:    meta.Description,
		Changelog:      meta.Changelog,
		IconURL:        meta.IconURL,
		ScreenshotURLs: datatypes.NewJSONSlice(meta.ScreenshotURLs),
		MinOSVersion:   meta.MinOSVersion,
		TintColor:      meta.TintColor,
		TestflightURL:  meta.TestflightURL,
		SizeBytes:      size,
		SHA256:         digest,
		StorageKey:     "",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	model.StorageKey = artifactKey(model.ID)

	if err := a.store.S3.PutObject(r.Context(), a.config.Bucket, model.StorageKey, tmp, size, digest); err != nil {
		respondFault(w, fault.Wrap(fault.KindStorage, err, "store binary"))
		return
	}

	if err := a.store.ORM.WithContext(r.Context()).Create(&model).Error; err != nil {
		// best effort: don't leave an orphaned blob behind a failed insert
		_ = a.store.S3.DeleteObject(r.Context(), a.config.Bucket, model.StorageKey)
		respondFault(w, fault.Wrap(fault.KindStorage, err, "persist artifact"))
		return
	}

	uploadsTotal.Inc()
	respondJSON(w, http.StatusCreated, model.toAPI(a.config.BaseURL))
}

func (a *API) loadArtifact(r *http.Request, id string) (artifactModel, error) {
	var model artifactModel
	err := a.store.ORM.WithContext(r.Context()).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model, fault.New(fault.KindNotFound, "artifact %s not found", id)
	}
	if err != nil {
		return model, fault.Wrap(fault.KindStorage, err, "load artifact")
	}
	return model, nil
}

func (a *API) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	model, err := a.loadArtifact(r, chi.URLParam(r, "id"))
	if err != nil {
		respondFault(w, err)
		return
	}
	respondJSON(w, http.StatusOK, model.toAPI(a.config.BaseURL))
}

func (a *API) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	var models []artifactModel
	err := a.store.ORM.WithContext(r.Context()).Order("created_at DESC").Find(&models).Error
	if err != nil {
		respondFault(w, fault.Wrap(fault.KindStorage, err, "list artifacts"))
		return
	}

	used, err := a.usedBytes(r)
	if err != nil {
		respondFault(w, err)
		return
	}

	items := make([]Artifact, 0, len(models))
	for _, m := range models {
		items = append(items, m.toAPI(a.config.BaseURL))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"artifacts": items,
		"storage":   StorageUsage{UsedBytes: used, QuotaBytes: a.config.QuotaBytes},
	})
}

func (a *API) handlePatchArtifact(w http.ResponseWriter, r *http.Request) {
	var patch ArtifactPatch
	if err := decodeJSON(r, &patch); err != nil {
		respondFault(w, fault.Wrap(fault.KindValidation, err, "decode patch"))
		return
	}
	if err := patch.validate(); err != nil {
		respondFault(w, err)
		return
	}

	id := chi.URLParam(r, "id")
	unlock := a.locks.Lock(id)
	defer unlock()

	model, err := a.loadArtifact(r, id)
	if err != nil {
		respondFault(w, err)
		return
	}

	patch.apply(&model)
	model.UpdatedAt = time.Now().UTC()
	if err := a.store.ORM.WithContext(r.Context()).Save(&model).Error; err != nil {
		respondFault(w, fault.Wrap(fault.KindStorage, err, "update artifact"))
		return
	}

	respondJSON(w, http.StatusOK, model.toAPI(a.config.BaseURL))
}

// handleReplaceBinary swaps the stored binary under the same artifact id.
// The object goes to a staging key first and moves in with a server-side
// copy, so a download racing the replace sees either the old or the new
// binary, never a truncated one.
func (a *API) handleReplaceBinary(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondFault(w, fault.Wrap(fault.KindValidation, err, "parse upload form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("ipa")
	if err != nil {
		respondFault(w, fault.New(fault.KindValidation, "ipa file is required"))
		return
	}
	defer file.Close()

	tmp, size, digest, err := spoolUpload(file)
	if err != nil {
		respondFault(w, fault.Wrap(fault.KindStorage, err, "spool upload"))
		return
	}
	defer discardSpool(tmp)

	if size == 0 {
		respondFault(w, fault.New(fault.KindValidation, "ipa file is empty"))
		return
	}

	id := chi.URLParam(r, "id")
	unlock := a.locks.Lock(id)
	defer unlock()

	model, err := a.loadArtifact(r, id)
	if err != nil {
		respondFault(w, err)
		return
	}

	used, err := a.usedBytes(r)
	if err != nil {
		respondFault(w, err)
		return
	}
	if used-model.SizeBytes+size > a.config.QuotaBytes {
		respondError(w, http.StatusInsufficientStorage, errors.New("storage quota exceeded"))
		return
	}

	if err := a.store.S3.ReplaceObject(r.Context(), a.config.Bucket, model.StorageKey, tmp, size, digest); err != nil {
		respondFault(w, fault.Wrap(fault.KindStorage, err, "replace binary"))
		return
	}

	if v := r.FormValue("version"); v != "" {
		model.Version = v
	}
	model.SizeBytes = size
	model.SHA256 = digest
	model.SignedAt = nil
	model.UpdatedAt = time.Now().UTC()
	if err := a.store.ORM.WithContext(r.Context()).Save(&model).Error; err != nil {
		respondFault(w, fault.Wrap(fault.KindStorage, err, "update artifact"))
		return
	}

	uploadsTotal.Inc()
	respondJSON(w, http.StatusOK, model.toAPI(a.config.BaseURL))
}

func (a *API) handleDeleteArtifact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	unlock := a.locks.Lock(id)
	defer unlock()

	model, err := a.loadArtifact(r, id)
	if err != nil {
		respondFault(w, err)
		return
	}

	if err := a.store.ORM.WithContext(r.Context()).Delete(&artifactModel{}, "id = ?", id).Error; err != nil {
		respondFault(w, fault.Wrap(fault.KindStorage, err, "delete artifact"))
		return
	}

	if err := a.store.S3.DeleteObject(r.Context(), a.config.Bucket, model.StorageKey); err != nil {
		respondFault(w, fault.Wrap(fault.KindStorage, err, "delete binary"))
		return
	}

	// drop every manifest entry pointing at the deleted binary so
	// installers stop offering a download that no longer exists
	set := links.Generate(a.config.BaseURL, model.ID, model.Slug)
	err = a.applyManifest(r, func() error {
		_, pruneErr := a.repo.PruneArtifact(r.Context(), set.Direct)
		return pruneErr
	})
	if err != nil {
		respondFault(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"deleted": id})
}
