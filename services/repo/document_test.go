package repo

import (
	"reflect"
	"sort"
	"testing"
	"time"

	"ipadepot/pkg/fault"
)

func day(n int) time.Time {
	return time.Date(2025, time.March, n, 12, 0, 0, 0, time.UTC)
}

func seedDoc() Document {
	return Document{
		Name:       "Depot",
		Identifier: "com.example.depot",
		Apps:       []App{},
		News:       []News{},
	}
}

func version(v string, n int) Version {
	return Version{
		Version:     v,
		Date:        day(n),
		Size:        1024,
		DownloadURL: "https://store.example.com/api/ipa/a" + v + ".ipa",
	}
}

func TestAddAppCuratesMetadataKeepingVersions(t *testing.T) {
	doc, err := Apply(seedDoc(),
		AddVersion{BundleID: "com.x.y", Seed: App{Name: "Clipboard"}, Version: version("1.0.0", 1)},
		AddApp{App: App{
			Name:                 "Clipboard Pro",
			BundleIdentifier:     "com.x.y",
			DeveloperName:        "Acme",
			LocalizedDescription: "Curated copy written by an operator.",
		}},
	)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(doc.Apps) != 1 {
		t.Fatalf("got %d apps, want 1", len(doc.Apps))
	}
	app := doc.Apps[0]
	if app.Name != "Clipboard Pro" || app.DeveloperName != "Acme" {
		t.Fatalf("curated metadata not applied: %+v", app)
	}
	if len(app.Versions) != 1 || app.Versions[0].Version != "1.0.0" {
		t.Fatalf("curation dropped synced versions: %+v", app.Versions)
	}
}

func TestAddVersionSeedsApp(t *testing.T) {
	doc, err := Apply(seedDoc(), AddVersion{
		BundleID: "com.x.y",
		Seed:     App{Name: "Clipboard", DeveloperName: "Acme"},
		Version:  version("1.0.0", 1),
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(doc.Apps) != 1 {
		t.Fatalf("got %d apps, want 1", len(doc.Apps))
	}
	app := doc.Apps[0]
	if app.BundleIdentifier != "com.x.y" || app.Name != "Clipboard" {
		t.Fatalf("seeded app = %+v", app)
	}
	if len(app.Versions) != 1 || app.Versions[0].Version != "1.0.0" {
		t.Fatalf("seeded versions = %+v", app.Versions)
	}
}

func TestAddVersionPrependsNewerRelease(t *testing.T) {
	doc, err := Apply(seedDoc(),
		AddVersion{BundleID: "com.x.y", Seed: App{Name: "Clipboard"}, Version: version("1.0.0", 1)},
		AddVersion{BundleID: "com.x.y", Seed: App{Name: "Clipboard"}, Version: version("1.0.1", 2)},
	)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	got := []string{doc.Apps[0].Versions[0].Version, doc.Apps[0].Versions[1].Version}
	if want := []string{"1.0.1", "1.0.0"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("versions = %v, want %v", got, want)
	}
}

func TestAddVersionIdempotent(t *testing.T) {
	// Two syncs of an unchanged artifact leave exactly one entry for the
	// version string, not two.
	v := version("1.0.0", 1)
	doc, err := Apply(seedDoc(),
		AddVersion{BundleID: "com.x.y", Seed: App{Name: "Clipboard"}, Version: v},
		AddVersion{BundleID: "com.x.y", Seed: App{Name: "Clipboard"}, Version: v},
	)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got := len(doc.Apps[0].Versions); got != 1 {
		t.Fatalf("got %d version entries, want 1", got)
	}
}

func TestAddVersionLastWriteWinsOnExactMatch(t *testing.T) {
	updated := version("1.0.0", 1)
	updated.Size = 4096
	updated.LocalizedDescription = "fixed crash"

	doc, err := Apply(seedDoc(),
		AddVersion{BundleID: "com.x.y", Seed: App{Name: "Clipboard"}, Version: version("1.0.0", 1)},
		AddVersion{BundleID: "com.x.y", Seed: App{Name: "Clipboard"}, Version: updated},
	)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	got := doc.Apps[0].Versions
	if len(got) != 1 || got[0].Size != 4096 || got[0].LocalizedDescription != "fixed crash" {
		t.Fatalf("versions = %+v, want single replaced entry", got)
	}
}

func TestVersionsSortedAfterAnySequence(t *testing.T) {
	days := []int{5, 1, 9, 3, 7}
	ops := make([]Op, 0, len(days))
	for i, d := range days {
		ops = append(ops, AddVersion{
			BundleID: "com.x.y",
			Seed:     App{Name: "Clipboard"},
			Version:  version("1.0."+string(rune('0'+i)), d),
		})
	}
	doc, err := Apply(seedDoc(), ops...)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	versions := doc.Apps[0].Versions
	if !sort.SliceIsSorted(versions, func(i, j int) bool {
		return versions[i].Date.After(versions[j].Date)
	}) {
		t.Fatalf("versions not sorted newest first: %+v", versions)
	}
}

func TestRemoveVersionDropsEmptyApp(t *testing.T) {
	doc, err := Apply(seedDoc(),
		AddVersion{BundleID: "com.x.y", Seed: App{Name: "Clipboard"}, Version: version("1.0.0", 1)},
		RemoveVersion{BundleID: "com.x.y", Version: "1.0.0"},
	)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(doc.Apps) != 0 {
		t.Fatalf("app with no versions should be removed, got %+v", doc.Apps)
	}
}

func TestRemoveApp(t *testing.T) {
	doc, err := Apply(seedDoc(),
		AddVersion{BundleID: "com.x.y", Seed: App{Name: "Clipboard"}, Version: version("1.0.0", 1)},
		AddVersion{BundleID: "com.x.z", Seed: App{Name: "Notes"}, Version: version("2.0.0", 2)},
		RemoveApp{BundleID: "com.x.y"},
	)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(doc.Apps) != 1 || doc.Apps[0].BundleIdentifier != "com.x.z" {
		t.Fatalf("apps = %+v, want only com.x.z", doc.Apps)
	}
}

func TestNewsUpsertAndRemove(t *testing.T) {
	item := News{Identifier: "launch", Title: "We are live", Date: day(1), Notify: true}
	doc, err := Apply(seedDoc(), AddNews{News: item})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(doc.News) != 1 || doc.News[0].Title != "We are live" {
		t.Fatalf("news = %+v", doc.News)
	}

	item.Title = "Updated"
	doc, err = Apply(doc, AddNews{News: item})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(doc.News) != 1 || doc.News[0].Title != "Updated" {
		t.Fatalf("news after upsert = %+v", doc.News)
	}

	doc, err = Apply(doc, RemoveNews{Identifier: "launch"})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if len(doc.News) != 0 {
		t.Fatalf("news after remove = %+v", doc.News)
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	original, err := Apply(seedDoc(),
		AddVersion{BundleID: "com.x.y", Seed: App{Name: "Clipboard"}, Version: version("1.0.0", 1)},
	)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if _, err := Apply(original,
		AddVersion{BundleID: "com.x.y", Seed: App{Name: "Clipboard"}, Version: version("1.0.1", 2)},
		RemoveApp{BundleID: "com.x.y"},
	); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if len(original.Apps) != 1 || len(original.Apps[0].Versions) != 1 {
		t.Fatalf("input document was mutated: %+v", original.Apps)
	}
}

func TestApplyRejectsMissingFields(t *testing.T) {
	tests := []struct {
		name string
		op   Op
	}{
		{name: "version without bundle id", op: AddVersion{Version: version("1.0.0", 1)}},
		{name: "version without version string", op: AddVersion{BundleID: "com.x.y", Version: Version{Date: day(1)}}},
		{name: "news without identifier", op: AddNews{News: News{Title: "x"}}},
		{name: "app without bundle id", op: AddApp{App: App{Name: "x"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Apply(seedDoc(), tt.op)
			if !fault.IsValidation(err) {
				t.Fatalf("Apply() error = %v, want validation fault", err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	valid, err := Apply(seedDoc(),
		AddVersion{BundleID: "com.x.y", Seed: App{Name: "Clipboard"}, Version: version("1.0.0", 1)},
	)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if err := Validate(valid); err != nil {
		t.Fatalf("Validate(valid) = %v", err)
	}

	noName := valid
	noName.Name = ""
	if err := Validate(noName); !fault.IsValidation(err) {
		t.Fatalf("Validate(no name) = %v, want validation fault", err)
	}

	dup := valid.clone()
	dup.Apps = append(dup.Apps, dup.Apps[0])
	if err := Validate(dup); !fault.IsValidation(err) {
		t.Fatalf("Validate(duplicate bundle) = %v, want validation fault", err)
	}

	noURL := valid.clone()
	noURL.Apps[0].Versions[0].DownloadURL = ""
	if err := Validate(noURL); !fault.IsValidation(err) {
		t.Fatalf("Validate(no downloadURL) = %v, want validation fault", err)
	}
}

func TestRemoveArtifactDropsEveryVersionOfBinary(t *testing.T) {
	directURL := "https://store.example.com/api/ipa/m3kb1x2a.ipa"
	release := func(v string, n int) Version {
		return Version{Version: v, Date: day(n), Size: 1024, DownloadURL: directURL}
	}

	// the same binary synced twice under edited version strings, plus an
	// unrelated app that must survive the prune
	doc, err := Apply(seedDoc(),
		AddVersion{BundleID: "com.x.y", Seed: App{Name: "Clipboard"}, Version: release("1.0.0", 1)},
		AddVersion{BundleID: "com.x.y", Seed: App{Name: "Clipboard"}, Version: release("1.0.1", 2)},
		AddVersion{BundleID: "com.other.app", Seed: App{Name: "Other"}, Version: version("2.0.0", 3)},
	)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	doc, err = Apply(doc, RemoveArtifact{DownloadURL: directURL})
	if err != nil {
		t.Fatalf("remove artifact: %v", err)
	}

	for _, app := range doc.Apps {
		for _, v := range app.Versions {
			if v.DownloadURL == directURL {
				t.Fatalf("manifest still advertises deleted artifact: version %s -> %s", v.Version, v.DownloadURL)
			}
		}
	}
	if len(doc.Apps) != 1 || doc.Apps[0].BundleIdentifier != "com.other.app" {
		t.Fatalf("expected only the unrelated app to survive, got %+v", doc.Apps)
	}
}

func TestRemoveArtifactRequiresURL(t *testing.T) {
	_, err := Apply(seedDoc(), RemoveArtifact{})
	if !fault.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
