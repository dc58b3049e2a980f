// Package imagefetch resolves a message's image_url content block to
// inline base64 bytes, for providers whose vision format requires one
//. Data URIs decode locally; remote
// URLs are downloaded over HTTP or HTTPS with a byte cap and content-type
// allowlist.
package imagefetch

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// MaxBytes bounds a single remote image download.
const MaxBytes = 20 << 20

// DefaultTimeout bounds the remote fetch.
const DefaultTimeout = 10 * time.Second

// allowedContentTypes is the vision re-encoding allowlist.
var allowedContentTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
	"image/gif":  true,
}

// Fetcher downloads and decodes image_url content blocks into inline
// base64 + mime type, ready for adapters whose wire format wants bytes
// rather than a URL.
type Fetcher struct {
	client  *http.Client
	maxSize int64
}

// New builds a Fetcher. A nil client gets one scoped to DefaultTimeout.
func New(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &Fetcher{client: client, maxSize: MaxBytes}
}

// Resolved is a decoded image ready for provider-specific encoding.
type Resolved struct {
	MimeType string
	Data     []byte
}

// Base64 returns the data: URI form (base64 + mime type) most providers'
// inline-image wire format expects.
func (r Resolved) Base64() string {
	return fmt.Sprintf("data:%s;base64,%s", r.MimeType, base64.StdEncoding.EncodeToString(r.Data))
}

// Resolve decodes a data: URI locally, or downloads an http(s) URL subject
// to MaxBytes and the content-type allowlist.
func (f *Fetcher) Resolve(ctx context.Context, imageURL string) (*Resolved, error) {
	if strings.HasPrefix(imageURL, "data:") {
		return decodeDataURI(imageURL)
	}
	return f.fetchRemote(ctx, imageURL)
}

func decodeDataURI(uri string) (*Resolved, error) {
	// data:<mime>;base64,<payload>
	rest := strings.TrimPrefix(uri, "data:")
	parts := strings.SplitN(rest, ",", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("imagefetch: malformed data URI")
	}
	meta, payload := parts[0], parts[1]
	if !strings.HasSuffix(meta, ";base64") {
		return nil, fmt.Errorf("imagefetch: only base64 data URIs are supported")
	}
	mimeType := strings.TrimSuffix(meta, ";base64")
	if !allowedContentTypes[mimeType] {
		return nil, fmt.Errorf("imagefetch: unsupported content type %q", mimeType)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("imagefetch: invalid base64 payload: %w", err)
	}
	return &Resolved{MimeType: mimeType, Data: data}, nil
}

func (f *Fetcher) fetchRemote(ctx context.Context, url string) (*Resolved, error) {
	if !strings.HasPrefix(url, "https://") && !strings.HasPrefix(url, "http://") {
		return nil, fmt.Errorf("imagefetch: unsupported URL scheme")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("imagefetch: fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("imagefetch: unexpected status %d", resp.StatusCode)
	}

	contentType := strings.SplitN(resp.Header.Get("Content-Type"), ";", 2)[0]
	contentType = strings.TrimSpace(contentType)
	if !allowedContentTypes[contentType] {
		return nil, fmt.Errorf("imagefetch: unsupported content type %q", contentType)
	}

	limited := io.LimitReader(resp.Body, f.maxSize+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("imagefetch: read failed: %w", err)
	}
	if int64(len(data)) > f.maxSize {
		return nil, fmt.Errorf("imagefetch: image exceeds %d byte cap", f.maxSize)
	}

	return &Resolved{MimeType: contentType, Data: data}, nil
}
