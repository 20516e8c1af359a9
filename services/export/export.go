package export

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"
)

const (
	manifestFileName = "manifest.yaml"
	ipasTarPrefix    = "ipas"
)

// Build pulls every artifact out of a running registry and writes the
// signed tar.zst bundle to cfg.Output.
func Build(ctx context.Context, cfg BuildConfig) (*Manifest, error) {
	if cfg.APIBaseURL == "" {
		return nil, errors.New("api base url is required")
	}
	if cfg.Output == "" {
		return nil, errors.New("output path is required")
	}
	if cfg.Signer == nil {
		return nil, errors.New("signer is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Minute}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	api := newClient(cfg.APIBaseURL, cfg.Token, cfg.HTTPClient)
	artifacts, err := api.listArtifacts(ctx)
	if err != nil {
		return nil, err
	}
	if len(artifacts) == 0 {
		return nil, errors.New("registry holds no artifacts to export")
	}

	tempDir, err := os.MkdirTemp("", "ipadepot-export-*")
	if err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	var entries []BundleArtifact
	for _, art := range artifacts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		dest := filepath.Join(tempDir, art.ID+".ipa")
		size, err := api.download(ctx, art.Links.Direct, dest)
		if err != nil {
			return nil, err
		}

		digest, err := fileSHA256(dest)
		if err != nil {
			return nil, err
		}
		if size != art.SizeBytes || !strings.EqualFold(digest, art.SHA256) {
			return nil, fmt.Errorf("downloaded %s does not match registry record", art.ID)
		}

		entries = append(entries, BundleArtifact{
			ID:             art.ID,
			Path:           ipasTarPrefix + "/" + art.ID + ".ipa",
			AppName:        art.AppName,
			BundleID:       art.BundleID,
			Version:        art.Version,
			Developer:      art.Developer,
			Subtitle:       art.Subtitle,
			SupportEmail:   art.SupportEmail,
			Description:    art.Description,
			Changelog:      art.Changelog,
			IconURL:        art.IconURL,
			ScreenshotURLs: art.ScreenshotURLs,
			MinOSVersion:   art.MinOSVersion,
			TintColor:      art.TintColor,
			TestflightURL:  art.TestflightURL,
			SizeBytes:      size,
			SHA256:         digest,
		})
		fmt.Fprintf(cfg.Stdout, "packed %s %s (%d bytes)\n", art.AppName, art.Version, size)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ID < entries[j].ID
	})

	manifest := &Manifest{
		Version:          "1",
		CreatedAt:        cfg.Now().UTC().Truncate(time.Second),
		Source:           strings.TrimRight(cfg.APIBaseURL, "/"),
		Signer:           cfg.Signer.Recipient(),
		SigningPublicKey: cfg.Signer.PublicKeyBase64(),
		Artifacts:        entries,
	}

	payload, err := manifest.SigningBytes()
	if err != nil {
		return nil, fmt.Errorf("marshal manifest for signing: %w", err)
	}
	sig, err := cfg.Signer.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("sign manifest: %w", err)
	}
	manifest.Signature = sig

	manifestBytes, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}

	if err := writeBundle(cfg.Output, manifestBytes, tempDir, entries); err != nil {
		return nil, err
	}

	fmt.Fprintf(cfg.Stdout, "wrote bundle %s (%d artifacts)\n", cfg.Output, len(entries))
	return manifest, nil
}

func fileSHA256(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", fmt.Errorf("hash %q: %w", path, err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

func writeBundle(output string, manifest []byte, spoolDir string, entries []BundleArtifact) error {
	dir := filepath.Dir(output)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	file, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer file.Close()

	encoder, err := zstd.NewWriter(file)
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	defer encoder.Close()

	tw := tar.NewWriter(encoder)
	defer tw.Close()

	manifestHeader := &tar.Header{
		Name:     manifestFileName,
		Mode:     0o644,
		Size:     int64(len(manifest)),
		ModTime:  time.Now().UTC(),
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(manifestHeader); err != nil {
		return fmt.Errorf("write manifest header: %w", err)
	}
	if _, err := tw.Write(manifest); err != nil {
		return fmt.Errorf("write manifest body: %w", err)
	}

	for _, entry := range entries {
		spooled := filepath.Join(spoolDir, entry.ID+".ipa")
		info, err := os.Stat(spooled)
		if err != nil {
			return fmt.Errorf("stat %q: %w", entry.Path, err)
		}
		src, err := os.Open(spooled)
		if err != nil {
			return fmt.Errorf("open %q: %w", entry.Path, err)
		}

		header := &tar.Header{
			Name:     entry.Path,
			Mode:     0o644,
			Size:     info.Size(),
			ModTime:  info.ModTime(),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(header); err != nil {
			src.Close()
			return fmt.Errorf("write header for %q: %w", entry.Path, err)
		}
		if _, err := io.Copy(tw, src); err != nil {
			src.Close()
			return fmt.Errorf("copy %q: %w", entry.Path, err)
		}
		src.Close()
	}

	return nil
}

// Import verifies a bundle and re-uploads its artifacts into a registry.
// The receiving registry assigns new ids; links from the source deployment
// are not carried over.
func Import(ctx context.Context, cfg ImportConfig) (*Manifest, error) {
	if cfg.BundlePath == "" {
		return nil, errors.New("bundle file is required")
	}
	if cfg.APIBaseURL == "" {
		return nil, errors.New("api base url is required")
	}
	if cfg.Signer == nil {
		return nil, errors.New("signer is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Minute}
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tempDir, err := os.MkdirTemp("", "ipadepot-import-*")
	if err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	manifestBytes, files, err := extractBundle(ctx, cfg.BundlePath, tempDir)
	if err != nil {
		return nil, err
	}
	if len(manifestBytes) == 0 {
		return nil, errors.New("bundle missing manifest.yaml")
	}

	var manifest Manifest
	if err := yaml.Unmarshal(manifestBytes, &manifest); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	if manifest.Version != "1" {
		return nil, fmt.Errorf("unsupported manifest version %q", manifest.Version)
	}
	if manifest.Signature == "" {
		return nil, errors.New("manifest missing signature")
	}

	payload, err := manifest.SigningBytes()
	if err != nil {
		return nil, fmt.Errorf("marshal manifest for verification: %w", err)
	}
	if err := cfg.Signer.VerifyEmbedded(payload, manifest.Signature, manifest.SigningPublicKey); err != nil {
		return nil, fmt.Errorf("verify manifest signature: %w", err)
	}

	fmt.Fprintf(cfg.Stdout, "verified manifest signed at %s\n", manifest.CreatedAt.Format(time.RFC3339))

	api := newClient(cfg.APIBaseURL, cfg.Token, cfg.HTTPClient)
	for _, art := range manifest.Artifacts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		path, ok := files[art.Path]
		if !ok {
			return nil, fmt.Errorf("artifact %q missing from archive", art.Path)
		}
		if err := validateArtifact(path, art); err != nil {
			return nil, err
		}
		if err := api.upload(ctx, art, path); err != nil {
			return nil, err
		}
		fmt.Fprintf(cfg.Stdout, "imported %s %s (%d bytes)\n", art.AppName, art.Version, art.SizeBytes)
	}

	return &manifest, nil
}

func extractBundle(ctx context.Context, bundlePath, tempDir string) ([]byte, map[string]string, error) {
	bundleFile, err := os.Open(bundlePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open bundle: %w", err)
	}
	defer bundleFile.Close()

	decoder, err := zstd.NewReader(bundleFile)
	if err != nil {
		return nil, nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer decoder.Close()

	tr := tar.NewReader(decoder)

	var manifestBytes []byte
	files := map[string]string{}

	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read tar entry: %w", err)
		}

		name := filepath.Clean(header.Name)
		if header.Typeflag != tar.TypeReg {
			continue
		}

		if name == manifestFileName {
			data, err := io.ReadAll(tr)
			if err != nil {
				return nil, nil, fmt.Errorf("read manifest: %w", err)
			}
			manifestBytes = data
			continue
		}

		targetPath := filepath.Join(tempDir, name)
		if !strings.HasPrefix(targetPath, tempDir) {
			return nil, nil, fmt.Errorf("invalid entry path %q", name)
		}
		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("mkdir %q: %w", filepath.Dir(targetPath), err)
		}
		file, err := os.Create(targetPath)
		if err != nil {
			return nil, nil, fmt.Errorf("create temp file for %q: %w", name, err)
		}
		if _, err := io.Copy(file, tr); err != nil {
			file.Close()
			return nil, nil, fmt.Errorf("write temp file for %q: %w", name, err)
		}
		file.Close()

		files[filepath.ToSlash(name)] = targetPath
	}

	return manifestBytes, files, nil
}

func validateArtifact(path string, art BundleArtifact) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %q: %w", art.Path, err)
	}
	if info.Size() != art.SizeBytes {
		return fmt.Errorf("size mismatch for %q: expected %d got %d", art.Path, art.SizeBytes, info.Size())
	}

	digest, err := fileSHA256(path)
	if err != nil {
		return fmt.Errorf("hash %q: %w", art.Path, err)
	}
	if !strings.EqualFold(digest, art.SHA256) {
		return fmt.Errorf("sha256 mismatch for %q", art.Path)
	}
	return nil
}
