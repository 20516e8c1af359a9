package repo

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"ipadepot/pkg/fault"
)

// memoryStore keeps the manifest row in memory and honors the same
// revision-checked write the real table does, so concurrent-writer races
// can be forced deterministically.
type memoryStore struct {
	mu       sync.Mutex
	doc      string
	revision int64

	// afterLoad runs once after the next read, between a builder's load
	// and its write-back, which is exactly where a concurrent process wins.
	afterLoad func(s *memoryStore)
}

type memoryRow struct {
	doc      []byte
	revision int64
}

func (r memoryRow) Scan(dest ...any) error {
	*dest[0].(*[]byte) = r.doc
	*dest[1].(*int64) = r.revision
	return nil
}

func (s *memoryStore) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	s.mu.Lock()
	row := memoryRow{doc: []byte(s.doc), revision: s.revision}
	hook := s.afterLoad
	s.afterLoad = nil
	s.mu.Unlock()

	if hook != nil {
		hook(s)
	}
	return row
}

func (s *memoryStore) Exec(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload := args[0].(string)
	expected := args[2].(int64)
	if expected != s.revision {
		return pgconn.NewCommandTag("UPDATE 0"), nil
	}
	s.doc = payload
	s.revision++
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func newMemoryStore(t *testing.T, doc Document) *memoryStore {
	t.Helper()
	payload, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal seed doc: %v", err)
	}
	return &memoryStore{doc: string(payload)}
}

func TestApplyOpsConflictOnConcurrentWrite(t *testing.T) {
	store := newMemoryStore(t, seedDoc())
	b := &Builder{pool: store}
	ctx := context.Background()

	// a second writer lands its sync between this builder's read and write
	store.afterLoad = func(s *memoryStore) {
		other := &Builder{pool: s}
		if _, err := other.SyncArtifact(ctx, ArtifactSnapshot{
			AppName:     "First",
			BundleID:    "com.x.first",
			Version:     "1.0.0",
			SizeBytes:   1024,
			DownloadURL: "https://store.example.com/api/ipa/aaaa.ipa",
			Date:        day(1),
		}); err != nil {
			t.Errorf("concurrent sync: %v", err)
		}
	}

	_, err := b.SyncArtifact(ctx, ArtifactSnapshot{
		AppName:     "Second",
		BundleID:    "com.x.second",
		Version:     "2.0.0",
		SizeBytes:   2048,
		DownloadURL: "https://store.example.com/api/ipa/bbbb.ipa",
		Date:        day(2),
	})
	if !fault.IsConflict(err) {
		t.Fatalf("expected conflict error, got %v", err)
	}

	// the retry re-reads and merges on top of the winner's write
	doc, err := b.SyncArtifact(ctx, ArtifactSnapshot{
		AppName:     "Second",
		BundleID:    "com.x.second",
		Version:     "2.0.0",
		SizeBytes:   2048,
		DownloadURL: "https://store.example.com/api/ipa/bbbb.ipa",
		Date:        day(2),
	})
	if err != nil {
		t.Fatalf("retry after conflict: %v", err)
	}

	bundles := map[string]bool{}
	for _, app := range doc.Apps {
		bundles[app.BundleIdentifier] = true
	}
	if !bundles["com.x.first"] || !bundles["com.x.second"] {
		t.Fatalf("retry lost a concurrent write, apps: %v", bundles)
	}
}

func TestPruneArtifactSurvivesVersionEdits(t *testing.T) {
	store := newMemoryStore(t, seedDoc())
	b := &Builder{pool: store}
	ctx := context.Background()

	directURL := "https://store.example.com/api/ipa/m3kb1x2a.ipa"
	for i, v := range []string{"1.0.0", "1.0.1"} {
		if _, err := b.SyncArtifact(ctx, ArtifactSnapshot{
			AppName:     "Clipboard",
			BundleID:    "com.x.y",
			Version:     v,
			SizeBytes:   1024,
			DownloadURL: directURL,
			Date:        day(i + 1),
		}); err != nil {
			t.Fatalf("sync %s: %v", v, err)
		}
	}

	doc, err := b.PruneArtifact(ctx, directURL)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	for _, app := range doc.Apps {
		for _, v := range app.Versions {
			if v.DownloadURL == directURL {
				t.Fatalf("manifest still advertises deleted artifact: version %s -> %s", v.Version, v.DownloadURL)
			}
		}
	}
	if len(doc.Apps) != 0 {
		t.Fatalf("expected empty catalog after prune, got %+v", doc.Apps)
	}
}
