package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"time"
)

const browserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// antiCacheTransport decorates every request with headers that keep CDNs and
// intermediate proxies from serving a cached body. Price endpoints sit behind
// aggressive edge caches and a seconds-old answer defeats the whole engine.
type antiCacheTransport struct {
	agent string
	base  http.RoundTripper
}

func (t antiCacheTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.agent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate, max-age=0")
	req.Header.Set("Pragma", "no-cache")
	return t.base.RoundTrip(req)
}

// PoolOptions bounds the shared connection pool behind every HTTP adapter.
type PoolOptions struct {
	MaxIdleConns    int
	MaxConnsPerHost int
	IdleConnTimeout time.Duration
}

// NewHTTPClient builds the pooled client the HTTP adapters share. Per-call
// deadlines come from the adaptive timeout budget via request contexts, so
// the client itself carries no fixed timeout.
func NewHTTPClient(opts PoolOptions) *http.Client {
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = 32
	}
	if opts.MaxConnsPerHost <= 0 {
		opts.MaxConnsPerHost = 16
	}
	if opts.IdleConnTimeout <= 0 {
		opts.IdleConnTimeout = 90 * time.Second
	}

	base := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   2 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        opts.MaxIdleConns,
		MaxIdleConnsPerHost: opts.MaxIdleConns,
		MaxConnsPerHost:     opts.MaxConnsPerHost,
		IdleConnTimeout:     opts.IdleConnTimeout,
	}

	return &http.Client{
		Transport: antiCacheTransport{agent: browserAgent, base: base},
	}
}

// cacheBust appends a timestamp plus random nonce query parameter, matching
// the headers set by antiCacheTransport.
func cacheBust(url string) string {
	sep := "?"
	for _, r := range url {
		if r == '?' {
			sep = "&"
			break
		}
	}
	return fmt.Sprintf("%s%s_=%d&r=%05d", url, sep, time.Now().UnixMilli(), rand.Intn(100000))
}

// getJSON performs one GET under the given deadline and decodes the body into
// out. Callers translate errors into Success=false results.
func getJSON(ctx context.Context, client *http.Client, url string, total time.Duration, headers map[string]string, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, total)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cacheBust(url), nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("malformed response body: %w", err)
	}
	return nil
}
