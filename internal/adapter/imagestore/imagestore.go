// Package imagestore persists evidence frames. The primary backend is an
// HTTP upload service; a local disk store serves as fallback so frames are
// never lost to a cloud outage.
package imagestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Cloud uploads frames to an HTTP image service and deletes them by URL.
type Cloud struct {
	uploadURL  string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewCloud creates an upload client. uploadURL is the service's upload
// endpoint; deletes go to the same endpoint with the image URL as a query
// parameter.
func NewCloud(uploadURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Cloud {
	return &Cloud{
		uploadURL:  uploadURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Save uploads the frame as a multipart form and returns the service-assigned
// public URL.
func (c *Cloud) Save(ctx context.Context, name string, data []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL, &body)
	if err != nil {
		return "", fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("upload service error: status %d: %s", resp.StatusCode, msg)
	}

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("upload response missing url")
	}
	return out.URL, nil
}

// Remove deletes an uploaded frame by its public URL.
func (c *Cloud) Remove(ctx context.Context, imageURL string) error {
	u := c.uploadURL + "?url=" + url.QueryEscape(imageURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return fmt.Errorf("create delete request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete request: %w", err)
	}
	defer resp.Body.Close()

	// Already gone is success for a retention sweep.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("upload service error: status %d", resp.StatusCode)
	}
	return nil
}

type uploadResponse struct {
	URL string `json:"url"`
}

// Disk stores frames under a local directory, serving as the fallback when no
// upload service is configured or the upload fails.
type Disk struct {
	dir    string
	logger *slog.Logger
}

// NewDisk creates the directory if needed and returns a disk store.
func NewDisk(dir string, logger *slog.Logger) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image directory: %w", err)
	}
	return &Disk{dir: dir, logger: logger}, nil
}

// Save writes the frame to disk and returns its path relative to the service
// root, which the read API serves as static content.
func (d *Disk) Save(_ context.Context, name string, data []byte) (string, error) {
	// Feed names come from camera IDs; strip anything path-like.
	name = filepath.Base(name)
	path := filepath.Join(d.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write image file: %w", err)
	}
	return "/images/" + name, nil
}

// Remove deletes a stored frame. A missing file is not an error.
func (d *Disk) Remove(_ context.Context, imageURL string) error {
	name := filepath.Base(strings.TrimPrefix(imageURL, "/images/"))
	if name == "" || name == "." {
		return nil
	}
	if err := os.Remove(filepath.Join(d.dir, name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove image file: %w", err)
	}
	return nil
}

// Dir returns the backing directory, for wiring the static file route.
func (d *Disk) Dir() string { return d.dir }

// Fallback tries the primary store and degrades to the secondary when the
// primary fails. Removal is routed by URL shape: local paths go to the
// secondary, everything else to the primary.
type Fallback struct {
	primary   Store
	secondary Store
	logger    *slog.Logger
}

// Store is the save/remove surface both backends implement.
type Store interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
	Remove(ctx context.Context, imageURL string) error
}

// NewFallback composes two stores. primary may be nil, in which case every
// save goes straight to the secondary.
func NewFallback(primary, secondary Store, logger *slog.Logger) *Fallback {
	return &Fallback{primary: primary, secondary: secondary, logger: logger}
}

func (f *Fallback) Save(ctx context.Context, name string, data []byte) (string, error) {
	if f.primary != nil {
		url, err := f.primary.Save(ctx, name, data)
		if err == nil {
			return url, nil
		}
		f.logger.Warn("primary image store failed, falling back to local", "name", name, "error", err)
	}
	return f.secondary.Save(ctx, name, data)
}

func (f *Fallback) Remove(ctx context.Context, imageURL string) error {
	if strings.HasPrefix(imageURL, "/images/") || f.primary == nil {
		return f.secondary.Remove(ctx, imageURL)
	}
	return f.primary.Remove(ctx, imageURL)
}
