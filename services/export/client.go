package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
)

// registryArtifact mirrors the artifact payload the registry API serves.
type registryArtifact struct {
	ID             string   `json:"id"`
	AppName        string   `json:"app_name"`
	BundleID       string   `json:"bundle_id"`
	Version        string   `json:"version"`
	Developer      string   `json:"developer"`
	Subtitle       string   `json:"subtitle"`
	SupportEmail   string   `json:"support_email"`
	Description    string   `json:"description"`
	Changelog      string   `json:"changelog"`
	IconURL        string   `json:"icon_url"`
	ScreenshotURLs []string `json:"screenshot_urls"`
	MinOSVersion   string   `json:"min_os_version"`
	TintColor      string   `json:"tint_color"`
	TestflightURL  string   `json:"testflight_url"`
	SizeBytes      int64    `json:"size_bytes"`
	SHA256         string   `json:"sha256"`
	Links          struct {
		Direct string `json:"direct_url"`
	} `json:"links"`
}

type client struct {
	base  string
	token string
	http  *http.Client
}

func newClient(baseURL, token string, httpClient *http.Client) *client {
	return &client{
		base:  strings.TrimRight(baseURL, "/"),
		token: token,
		http:  httpClient,
	}
}

func (c *client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *client) listArtifacts(ctx context.Context) ([]registryArtifact, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/artifacts", nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("list artifacts failed: %s", strings.TrimSpace(string(data)))
	}

	var payload struct {
		Artifacts []registryArtifact `json:"artifacts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode artifact list: %w", err)
	}
	return payload.Artifacts, nil
}

// download streams one binary to dest. The registry answers the direct URL
// with a redirect to a presigned object URL, which the client follows.
func (c *client) download(ctx context.Context, url, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}

	file, err := os.Create(dest)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	return io.Copy(file, resp.Body)
}

// upload registers one bundle artifact through the registry's multipart
// upload endpoint. The registry assigns a fresh id; import does not try to
// preserve ids across stores.
func (c *client) upload(ctx context.Context, art BundleArtifact, ipaPath string) error {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		err := writeUploadForm(writer, art, ipaPath)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(writer.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/artifacts", pr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upload %s: %w", art.AppName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upload %s failed: %s", art.AppName, strings.TrimSpace(string(data)))
	}
	return nil
}

func writeUploadForm(writer *multipart.Writer, art BundleArtifact, ipaPath string) error {
	fields := map[string]string{
		"appName":       art.AppName,
		"bundleId":      art.BundleID,
		"version":       art.Version,
		"developer":     art.Developer,
		"subtitle":      art.Subtitle,
		"supportEmail":  art.SupportEmail,
		"description":   art.Description,
		"changelog":     art.Changelog,
		"iconUrl":       art.IconURL,
		"minOsVersion":  art.MinOSVersion,
		"tintColor":     art.TintColor,
		"testflightUrl": art.TestflightURL,
	}
	for name, value := range fields {
		if value == "" {
			continue
		}
		if err := writer.WriteField(name, value); err != nil {
			return err
		}
	}
	for _, shot := range art.ScreenshotURLs {
		if err := writer.WriteField("screenshotUrls", shot); err != nil {
			return err
		}
	}

	part, err := writer.CreateFormFile("ipa", art.ID+".ipa")
	if err != nil {
		return err
	}
	file, err := os.Open(ipaPath)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = io.Copy(part, file)
	return err
}
