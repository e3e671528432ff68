// Package storage is the evidence store client. It speaks the
// Supabase-compatible storage REST API: authenticated uploads and deletes,
// public and signed read URLs.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultTimeout  = 15 * time.Second
	downloadTimeout = 10 * time.Second
)

type Client struct {
	baseURL string
	apiKey  string
	bucket  string
	client  *http.Client
}

func NewClient(baseURL, apiKey, bucket string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		bucket:  bucket,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

// EvidencePath builds the deterministic object path for one violation:
// cctv/{id}/{YYYY}/{MM}/{DD}/{class}_{HHMMSS}_{rand8hex}.jpg
func EvidencePath(cctvID int64, className string, ts time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("cctv/%d/%s/%s_%s_%s.jpg",
		cctvID, ts.Format("2006/01/02"), className, ts.Format("150405"), suffix)
}

// Upload stores the bytes under objectPath with upsert semantics and returns
// the public URL. Re-uploading the same path replaces the object and yields
// the same URL.
func (c *Client) Upload(ctx context.Context, data []byte, contentType, objectPath string) (string, error) {
	endpoint := fmt.Sprintf("%s/object/%s/%s", c.baseURL, c.bucket, objectPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")
	req.Header.Set("cache-control", "3600")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("storage: upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("storage: upload status %d", resp.StatusCode)
	}
	return c.PublicURL(objectPath), nil
}

func (c *Client) PublicURL(objectPath string) string {
	return fmt.Sprintf("%s/object/public/%s/%s", c.baseURL, c.bucket, objectPath)
}

// SignedURL creates a time-limited read URL for the admin UI.
func (c *Client) SignedURL(ctx context.Context, objectPath string, expiresIn int) (string, error) {
	endpoint := fmt.Sprintf("%s/object/sign/%s/%s", c.baseURL, c.bucket, objectPath)
	body, _ := json.Marshal(map[string]int{"expiresIn": expiresIn})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("storage: sign: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("storage: sign status %d", resp.StatusCode)
	}

	var out struct {
		SignedURL string `json:"signedURL"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("storage: sign decode: %w", err)
	}
	return c.baseURL + out.SignedURL, nil
}

// DeleteByURL removes the object a public URL points at. The bucket segment
// comes from the URL, not the client, so URLs recorded under older bucket
// names still resolve.
func (c *Client) DeleteByURL(ctx context.Context, publicURL string) error {
	marker := "/object/public/"
	idx := strings.Index(publicURL, marker)
	if idx < 0 {
		return fmt.Errorf("storage: not a public object URL: %s", publicURL)
	}
	bucketAndPath := publicURL[idx+len(marker):]
	parts := strings.SplitN(bucketAndPath, "/", 2)
	if len(parts) != 2 || parts[1] == "" {
		return fmt.Errorf("storage: malformed object URL: %s", publicURL)
	}

	endpoint := fmt.Sprintf("%s/object/%s/%s", c.baseURL, parts[0], parts[1])
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("storage: delete: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("storage: delete status %d", resp.StatusCode)
	}
	return nil
}

// FetchObject reads an object from the configured bucket through the
// authenticated endpoint. Used for ROI files referenced by cctv_data.area.
func (c *Client) FetchObject(ctx context.Context, name string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/object/%s/%s", c.baseURL, c.bucket, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("storage: fetch status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Download fetches an arbitrary URL, typically an evidence image for an
// email attachment. Best-effort callers treat any error as "no image".
func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage: download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("storage: download status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
