package export

import (
	"io"
	"net/http"
	"time"

	"ipadepot/services/repo"
)

// BuildConfig configures a bundle export.
type BuildConfig struct {
	APIBaseURL string
	Token      string
	Output     string
	Signer     *repo.Signer
	HTTPClient *http.Client
	Now        func() time.Time
	Stdout     io.Writer
}

// ImportConfig configures restoring a bundle into a registry.
type ImportConfig struct {
	BundlePath string
	APIBaseURL string
	Token      string
	Signer     *repo.Signer
	HTTPClient *http.Client
	Stdout     io.Writer
}
