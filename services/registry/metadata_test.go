package registry

import (
	"errors"
	"strings"
	"testing"
	"time"

	"ipadepot/pkg/locks"
)

func TestClaimArtifactIDAvoidsSameMillisecondClash(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	locker := locks.NewKeyed()
	seen := map[string]bool{}
	taken := func(id string) (bool, error) { return seen[id], nil }

	first, firstAt, unlock, err := claimArtifactID(at, locker, taken)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if first != NewArtifactID(at) || !firstAt.Equal(at) {
		t.Fatalf("first claim changed the timestamp: %q at %v", first, firstAt)
	}
	seen[first] = true
	unlock()

	// a second upload arriving in the same millisecond gets nudged forward
	second, secondAt, unlock, err := claimArtifactID(at, locker, taken)
	if err != nil {
		t.Fatalf("claim after clash: %v", err)
	}
	defer unlock()
	if second == first {
		t.Fatalf("same-millisecond uploads share id %q", second)
	}
	if !secondAt.After(firstAt) {
		t.Fatalf("clashing claim kept timestamp %v", secondAt)
	}
	if second != NewArtifactID(secondAt) {
		t.Fatalf("claimed id %q does not match its timestamp %v", second, secondAt)
	}
}

func TestClaimArtifactIDPropagatesLookupError(t *testing.T) {
	locker := locks.NewKeyed()
	boom := errors.New("db down")
	_, _, _, err := claimArtifactID(time.Now(), locker, func(string) (bool, error) {
		return false, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("lookup error not surfaced: %v", err)
	}
}

func TestNewArtifactIDStable(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	first := NewArtifactID(at)
	second := NewArtifactID(at)
	if first != second {
		t.Fatalf("same instant produced different ids: %q vs %q", first, second)
	}
	if first == "" {
		t.Fatal("empty artifact id")
	}
	for _, r := range first {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'z') {
			t.Fatalf("id %q contains non base36 rune %q", first, r)
		}
	}

	later := NewArtifactID(at.Add(time.Second))
	if later == first {
		t.Fatal("distinct instants produced the same id")
	}
}

func TestArtifactMetaValidate(t *testing.T) {
	tests := []struct {
		name    string
		meta    ArtifactMeta
		wantErr string
	}{
		{
			name: "complete",
			meta: ArtifactMeta{AppName: "Demo", BundleID: "com.example.demo", Version: "1.0"},
		},
		{
			name:    "missing app name",
			meta:    ArtifactMeta{BundleID: "com.example.demo", Version: "1.0"},
			wantErr: "appName",
		},
		{
			name:    "whitespace version",
			meta:    ArtifactMeta{AppName: "Demo", BundleID: "com.example.demo", Version: "   "},
			wantErr: "version",
		},
		{
			name:    "everything missing",
			meta:    ArtifactMeta{},
			wantErr: "appName, bundleId, version",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.meta.validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestArtifactPatchApply(t *testing.T) {
	newName := "Renamed"
	newSubtitle := "Clipboard sync for every device"
	newShots := []string{"https://cdn.example.com/1.png"}
	model := artifactModel{
		ID:       "m3kb1x2a",
		AppName:  "Demo",
		BundleID: "com.example.demo",
		Slug:     "demo",
		Version:  "1.0",
	}

	patch := ArtifactPatch{AppName: &newName, Subtitle: &newSubtitle, ScreenshotURLs: &newShots}
	patch.apply(&model)

	if model.AppName != "Renamed" {
		t.Fatalf("app name not applied: %q", model.AppName)
	}
	if model.Subtitle != newSubtitle {
		t.Fatalf("subtitle not applied: %q", model.Subtitle)
	}
	if len(model.ScreenshotURLs) != 1 || model.ScreenshotURLs[0] != newShots[0] {
		t.Fatalf("screenshots not applied: %v", model.ScreenshotURLs)
	}
	// identity and links inputs never move under a metadata edit
	if model.ID != "m3kb1x2a" || model.Slug != "demo" || model.BundleID != "com.example.demo" {
		t.Fatalf("patch touched immutable fields: %+v", model)
	}
}

func TestArtifactPatchValidate(t *testing.T) {
	empty := ""
	if err := (ArtifactPatch{AppName: &empty}).validate(); err == nil {
		t.Fatal("clearing appName should fail")
	}
	if err := (ArtifactPatch{Version: &empty}).validate(); err == nil {
		t.Fatal("clearing version should fail")
	}
	if err := (ArtifactPatch{}).validate(); err != nil {
		t.Fatalf("empty patch should validate: %v", err)
	}
}
