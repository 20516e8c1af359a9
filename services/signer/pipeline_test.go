package signer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"testing"
	"time"

	"ipadepot/pkg/fault"
)

type fakeStore struct {
	objects  map[string][]byte
	replaces int
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (f *fakeStore) GetObjectBytes(ctx context.Context, bucket, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.New("no such key: " + key)
	}
	return data, nil
}

func (f *fakeStore) ReplaceObject(ctx context.Context, bucket, key string, r io.Reader, size int64, sha string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.objects[key] = data
	f.replaces++
	return nil
}

type fakeResigner struct {
	output []byte
	err    error
	delay  time.Duration
}

func (f fakeResigner) Resign(ctx context.Context, ipa []byte, creds Credentials) ([]byte, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, fault.New(fault.KindSigning, "signer timed out")
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.output, nil
}

func testJob() signJob {
	return signJob{
		Bucket:      "depot",
		ArtifactKey: "ipas/m3kb1x2a.ipa",
		P12Key:      "certs/c1/cert.p12",
		ProfileKey:  "certs/c1/embedded.mobileprovision",
		Password:    "secret",
	}
}

func seedStore() *fakeStore {
	store := newFakeStore()
	store.objects["ipas/m3kb1x2a.ipa"] = []byte("old-binary")
	store.objects["certs/c1/cert.p12"] = []byte("p12")
	store.objects["certs/c1/embedded.mobileprovision"] = []byte("profile")
	return store
}

func TestExecuteSignReplacesBinary(t *testing.T) {
	store := seedStore()
	signed := []byte("new-signed-binary")

	result, err := executeSign(context.Background(), store, fakeResigner{output: signed}, testJob())
	if err != nil {
		t.Fatalf("executeSign() error = %v", err)
	}

	if result.SizeBytes != int64(len(signed)) {
		t.Fatalf("SizeBytes = %d, want %d", result.SizeBytes, len(signed))
	}
	sum := sha256.Sum256(signed)
	if want := hex.EncodeToString(sum[:]); result.SHA256 != want {
		t.Fatalf("SHA256 = %s, want %s", result.SHA256, want)
	}
	if !bytes.Equal(store.objects["ipas/m3kb1x2a.ipa"], signed) {
		t.Fatalf("stored binary was not replaced")
	}
	if store.replaces != 1 {
		t.Fatalf("replaces = %d, want 1", store.replaces)
	}
}

func TestExecuteSignFailureLeavesBinaryUntouched(t *testing.T) {
	store := seedStore()

	_, err := executeSign(context.Background(), store, fakeResigner{err: errors.New("certificate mismatch")}, testJob())
	if !fault.IsSigning(err) {
		t.Fatalf("executeSign() error = %v, want signing fault", err)
	}

	if !bytes.Equal(store.objects["ipas/m3kb1x2a.ipa"], []byte("old-binary")) {
		t.Fatalf("binary changed on failed sign")
	}
	if store.replaces != 0 {
		t.Fatalf("replaces = %d, want 0", store.replaces)
	}
}

func TestExecuteSignTimeout(t *testing.T) {
	store := seedStore()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := executeSign(ctx, store, fakeResigner{delay: time.Second, output: []byte("x")}, testJob())
	if !fault.IsSigning(err) {
		t.Fatalf("executeSign() error = %v, want signing fault", err)
	}
	if store.replaces != 0 {
		t.Fatalf("replaces = %d, want 0", store.replaces)
	}
}

func TestExecuteSignMissingArtifact(t *testing.T) {
	store := newFakeStore()
	store.objects["certs/c1/cert.p12"] = []byte("p12")
	store.objects["certs/c1/embedded.mobileprovision"] = []byte("profile")

	_, err := executeSign(context.Background(), store, fakeResigner{output: []byte("x")}, testJob())
	if !fault.IsStorage(err) {
		t.Fatalf("executeSign() error = %v, want storage fault", err)
	}
}

func TestExecuteSignEmptyOutput(t *testing.T) {
	store := seedStore()

	_, err := executeSign(context.Background(), store, fakeResigner{output: nil}, testJob())
	if !fault.IsSigning(err) {
		t.Fatalf("executeSign() error = %v, want signing fault", err)
	}
	if !bytes.Equal(store.objects["ipas/m3kb1x2a.ipa"], []byte("old-binary")) {
		t.Fatalf("binary changed on empty signer output")
	}
}

func TestExecuteSignRepeatableOnSignedArtifact(t *testing.T) {
	// Re-running a sign is permitted: it simply replaces the binary again.
	store := seedStore()
	job := testJob()

	if _, err := executeSign(context.Background(), store, fakeResigner{output: []byte("first")}, job); err != nil {
		t.Fatalf("first sign error = %v", err)
	}
	if _, err := executeSign(context.Background(), store, fakeResigner{output: []byte("second")}, job); err != nil {
		t.Fatalf("second sign error = %v", err)
	}
	if !bytes.Equal(store.objects["ipas/m3kb1x2a.ipa"], []byte("second")) {
		t.Fatalf("second sign did not replace binary")
	}
	if store.replaces != 2 {
		t.Fatalf("replaces = %d, want 2", store.replaces)
	}
}

func TestShouldProcessReclaimsStaleRuns(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	fresh := now.Add(-time.Minute)
	stale := now.Add(-staleInProgressAfter - time.Second)

	cases := []struct {
		name      string
		status    string
		startedAt *time.Time
		want      bool
	}{
		{"requested", StatusRequested, nil, true},
		{"in progress fresh", StatusInProgress, &fresh, false},
		{"in progress stale", StatusInProgress, &stale, true},
		{"in progress no start", StatusInProgress, nil, true},
		{"signed", StatusSigned, &stale, false},
		{"failed", StatusFailed, &stale, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := shouldProcess(tc.status, tc.startedAt, now); got != tc.want {
				t.Fatalf("shouldProcess(%s) = %v, want %v", tc.status, got, tc.want)
			}
		})
	}
}
