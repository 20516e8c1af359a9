package links

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	shortenTimeout  = 3 * time.Second
	maxShortURLSize = 2048
)

// Shortener delegates to an external URL-shortening service. Shortening is
// a convenience, not a correctness requirement: every failure path returns
// the original long URL so the surrounding operation still succeeds.
type Shortener struct {
	endpoint string
	client   *http.Client
}

// NewShortener builds a Shortener for the given service endpoint. An empty
// endpoint disables shortening; Shorten then echoes its input.
func NewShortener(endpoint string, client *http.Client) *Shortener {
	if client == nil {
		client = &http.Client{Timeout: shortenTimeout}
	}
	return &Shortener{endpoint: strings.TrimSpace(endpoint), client: client}
}

// Shorten asks the external service for a short form of longURL. The call
// is bounded by a timeout and fails soft: on any error, non-200 status, or
// nonsense response body the original longURL is returned.
func (s *Shortener) Shorten(ctx context.Context, longURL string) string {
	if s == nil || s.endpoint == "" || longURL == "" {
		return longURL
	}

	ctx, cancel := context.WithTimeout(ctx, shortenTimeout)
	defer cancel()

	reqURL := s.endpoint + "?format=simple&url=" + url.QueryEscape(longURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return longURL
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return longURL
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return longURL
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxShortURLSize))
	if err != nil {
		return longURL
	}

	short := strings.TrimSpace(string(body))
	if !strings.HasPrefix(short, "http://") && !strings.HasPrefix(short, "https://") {
		return longURL
	}
	return short
}
