// Package blob is the client for the file storage the api service fronts.
package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// UploadOptions control upload behavior.
type UploadOptions struct {
	// Upsert overwrites an existing object at the same path instead of
	// failing.
	Upsert bool
	// ContentType is sent as the object's MIME type; detected from the
	// bytes when empty.
	ContentType string
}

// UploadResult is the resolved storage location of an uploaded object.
type UploadResult struct {
	PublicURL string `json:"public_url"`
}

// Store uploads file bytes and resolves their public URL.
type Store interface {
	Upload(ctx context.Context, data []byte, path string, opts UploadOptions) (UploadResult, error)
}

// HTTPStore talks to the api service's /files endpoint.
type HTTPStore struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewHTTPStore(baseURL, token string) *HTTPStore {
	return &HTTPStore{
		BaseURL: baseURL,
		Token:   token,
		Client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (s *HTTPStore) Upload(ctx context.Context, data []byte, path string, opts UploadOptions) (UploadResult, error) {
	u := s.BaseURL + "/files/" + url.PathEscape(path)
	if opts.Upsert {
		u += "?upsert=true"
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return UploadResult{}, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+s.Token)

	resp, err := s.Client.Do(req)
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return UploadResult{}, fmt.Errorf("upload %s failed: %d %s", path, resp.StatusCode, string(body))
	}

	var res UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return UploadResult{}, fmt.Errorf("decode upload response: %w", err)
	}
	return res, nil
}
