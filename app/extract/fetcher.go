package extract

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Same-Writer/multi-site-scraper/app/search"
)

const defaultTimeout = 30 * time.Second

// Fetcher performs GET requests with per-site user agent, headers, timeout
// and credentials.
type Fetcher struct {
	client    *http.Client
	userAgent string
}

func NewFetcher(client *http.Client, userAgent string) *Fetcher {
	return &Fetcher{client: client, userAgent: userAgent}
}

func (f *Fetcher) Fetch(ctx context.Context, url string, site *search.SiteConfig) ([]byte, error) {
	timeout := defaultTimeout
	if site.Timeout > 0 {
		timeout = time.Duration(site.Timeout) * time.Second
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", cmp.Or(site.UserAgent, f.userAgent))
	for name, value := range site.Headers {
		req.Header.Set(name, value)
	}
	applyCredentials(req, site.Credentials)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return data, nil
}

// applyCredentials understands "token", "username"/"password" and "cookie".
func applyCredentials(req *http.Request, credentials map[string]string) {
	if token := credentials["token"]; token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else if user := credentials["username"]; user != "" {
		req.SetBasicAuth(user, credentials["password"])
	}
	if cookie := credentials["cookie"]; cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
}
