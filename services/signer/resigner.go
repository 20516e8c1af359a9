package signer

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"ipadepot/pkg/fault"
)

// Credentials carries the signing identity injected into a package: the
// PKCS#12 key bundle, the provisioning profile, and the optional bundle
// password. Cryptographic well-formedness is the external signer's problem;
// this layer only moves bytes.
type Credentials struct {
	P12      []byte
	Profile  []byte
	Password string
}

// Resigner re-signs an IPA with the given credentials and returns the new
// binary. Implementations are treated as opaque, possibly slow process
// boundaries and must respect ctx cancellation.
type Resigner interface {
	Resign(ctx context.Context, ipa []byte, creds Credentials) ([]byte, error)
}

const defaultResignTimeout = 2 * time.Minute

// CommandResigner shells out to an external zsign-style binary. The
// invocation is bounded by Timeout so a hung signer surfaces as a
// SigningError instead of blocking the pipeline indefinitely.
type CommandResigner struct {
	Bin     string
	Timeout time.Duration
}

// Resign writes the package and credentials to a scratch directory, runs
// the external signer, and reads back the produced binary. The scratch
// directory is removed on every path; nothing partial survives a failure.
func (r CommandResigner) Resign(ctx context.Context, ipa []byte, creds Credentials) ([]byte, error) {
	if r.Bin == "" {
		return nil, fault.New(fault.KindSigning, "no signer binary configured")
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultResignTimeout
	}

	dir, err := os.MkdirTemp("", "ipadepot-sign-*")
	if err != nil {
		return nil, fault.Wrap(fault.KindSigning, err, "scratch dir")
	}
	defer os.RemoveAll(dir)

	inPath := filepath.Join(dir, "in.ipa")
	outPath := filepath.Join(dir, "out.ipa")
	p12Path := filepath.Join(dir, "cert.p12")
	profilePath := filepath.Join(dir, "embedded.mobileprovision")

	if err := os.WriteFile(inPath, ipa, 0o600); err != nil {
		return nil, fault.Wrap(fault.KindSigning, err, "write package")
	}
	if err := os.WriteFile(p12Path, creds.P12, 0o600); err != nil {
		return nil, fault.Wrap(fault.KindSigning, err, "write key bundle")
	}
	if err := os.WriteFile(profilePath, creds.Profile, 0o600); err != nil {
		return nil, fault.Wrap(fault.KindSigning, err, "write provisioning profile")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"-k", p12Path, "-m", profilePath, "-o", outPath, "-z", "1"}
	if creds.Password != "" {
		args = append(args, "-p", creds.Password)
	}
	args = append(args, inPath)

	cmd := exec.CommandContext(ctx, r.Bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fault.New(fault.KindSigning, "signer timed out after %s", timeout)
		}
		reason := strings.TrimSpace(stderr.String())
		if reason == "" {
			reason = err.Error()
		}
		return nil, fault.New(fault.KindSigning, "signer failed: %s", reason)
	}

	signed, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fault.Wrap(fault.KindSigning, err, "read signed package")
	}
	return signed, nil
}
