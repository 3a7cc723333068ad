// Package fetch downloads remote archives and unpacks them. It is the
// workflow's only HTTP surface besides version resolution; failures carry
// the attempted URL so the operator can retry by hand.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Fetcher downloads a URL into a local file.
type Fetcher interface {
	Download(ctx context.Context, url, dest string) error
}

// HTTPFetcher downloads over HTTP with a bounded redirect chain. There is
// deliberately no retry: connectivity failures surface immediately with
// the URL that failed.
type HTTPFetcher struct {
	Client *http.Client
}

// NewHTTPFetcher returns a Fetcher with sane timeouts.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{
		Client: &http.Client{
			Timeout: 5 * time.Minute,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				const maxRedirects = 10
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				if req.URL != nil && req.URL.Scheme != "" {
					scheme := strings.ToLower(req.URL.Scheme)
					if scheme != "http" && scheme != "https" {
						return fmt.Errorf("redirect to unsupported scheme: %s", req.URL.Scheme)
					}
				}
				return nil
			},
		},
	}
}

// Download fetches url into dest, creating parent directories as needed.
func (f *HTTPFetcher) Download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: HTTP %d %s%s",
			url, resp.StatusCode, http.StatusText(resp.StatusCode), bodySnippet(resp.Body))
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(dest)
		return fmt.Errorf("download %s: %w", url, err)
	}
	return out.Close()
}

// bodySnippet reads a bounded slice of an error response for diagnostics.
func bodySnippet(body io.Reader) string {
	const maxBodyBytes = 1024
	b, err := io.ReadAll(io.LimitReader(body, maxBodyBytes))
	if err != nil || len(b) == 0 {
		return ""
	}
	return ": " + strings.TrimSpace(string(b))
}
