package registry

import (
	"testing"

	"github.com/google/uuid"
)

func TestCertificatePatchApply(t *testing.T) {
	newName := "Distribution 2026"
	inactive := false
	model := certificateModel{
		ID:       uuid.New(),
		Name:     "Distribution 2025",
		IsActive: true,
	}
	keep := model.ID

	patch := certificatePatch{Name: &newName, IsActive: &inactive}
	patch.apply(&model)

	if model.Name != "Distribution 2026" {
		t.Fatalf("name not applied: %q", model.Name)
	}
	if model.IsActive {
		t.Fatal("is_active not applied")
	}
	if model.ID != keep {
		t.Fatalf("patch touched the id: %s", model.ID)
	}
}

func TestCertificatePatchValidate(t *testing.T) {
	empty := ""
	if err := (certificatePatch{Name: &empty}).validate(); err == nil {
		t.Fatal("clearing name should fail")
	}
	if err := (certificatePatch{}).validate(); err != nil {
		t.Fatalf("empty patch should validate: %v", err)
	}
}
