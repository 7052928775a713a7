package audio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// maxTrackBytes bounds a single download
const maxTrackBytes = 64 << 20

// Fetcher downloads audio resources, resolving relative references
// against the backend's HTTP origin.
type Fetcher struct {
	base   *url.URL
	client *http.Client
}

// NewFetcher creates a fetcher. An empty baseURL only accepts absolute URLs.
func NewFetcher(baseURL string, timeout time.Duration) (*Fetcher, error) {
	f := &Fetcher{client: &http.Client{Timeout: timeout}}
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse base url: %w", err)
		}
		f.base = u
	}
	return f, nil
}

// Resolve returns the absolute URL for ref
func (f *Fetcher) Resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if f.base != nil {
		u = f.base.ResolveReference(u)
	}
	if !u.IsAbs() {
		return "", fmt.Errorf("relative url %q without a base url", ref)
	}
	return u.String(), nil
}

// Fetch downloads ref
func (f *Fetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	target, err := f.Resolve(ref)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", target, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTrackBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}
	return data, nil
}
