package desks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// HTTPFetcher loads rosters from GET {base}/api/users/{id}/desks.
type HTTPFetcher struct {
	mu      sync.RWMutex
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPFetcher creates a fetcher for the given base URL
// (e.g. "http://127.0.0.1:8080").
func NewHTTPFetcher(baseURL, token string, timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPFetcher{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// SetBaseURL points later requests at a new base URL.
func (f *HTTPFetcher) SetBaseURL(baseURL string) {
	f.mu.Lock()
	f.baseURL = baseURL
	f.mu.Unlock()
}

// UserDesks fetches the desks userID belongs to.
func (f *HTTPFetcher) UserDesks(ctx context.Context, userID string) ([]Desk, error) {
	var out []Desk
	if err := f.get(ctx, "/api/users/"+url.PathEscape(userID)+"/desks", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (f *HTTPFetcher) get(ctx context.Context, path string, out interface{}) error {
	f.mu.RLock()
	base := f.baseURL
	f.mu.RUnlock()
	if base == "" {
		return fmt.Errorf("GET %s: no API base URL configured", path)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return err
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("GET %s: %d %s", path, resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
