// Package binarycache fetches narinfo files from a Nix binary cache over HTTP.
package binarycache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	xlog "narci/internal/log"
	"narci/internal/metrics"
	"narci/internal/narinfo"
	"narci/internal/security"
)

// DefaultURL is the public NixOS cache.
const DefaultURL = "https://cache.nixos.org"

var (
	ErrNotFound  = errors.New("narinfo not found")
	ErrUntrusted = errors.New("narinfo has no trusted signature")
)

// HTTPError is returned for unexpected upstream statuses.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// maxNarInfoSize bounds a narinfo body; real ones are well under 4 KiB.
const maxNarInfoSize = 1 << 20

// Client talks to one binary cache.
type Client struct {
	BaseURL     string
	HTTP        *http.Client
	Cache       Cache // optional
	TTL         time.Duration
	NegativeTTL time.Duration
	TrustedKeys []security.PublicKey // empty disables signature checks
	Logger      zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.HTTP = h } }

func WithCache(cache Cache, ttl, negativeTTL time.Duration) Option {
	return func(c *Client) {
		c.Cache = cache
		c.TTL = ttl
		c.NegativeTTL = negativeTTL
	}
}

func WithTrustedKeys(keys ...security.PublicKey) Option {
	return func(c *Client) { c.TrustedKeys = keys }
}

func WithLogger(l zerolog.Logger) Option { return func(c *Client) { c.Logger = l } }

// NewClient returns a client for baseURL (DefaultURL when empty).
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	c := &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		HTTP:        &http.Client{Timeout: 30 * time.Second},
		TTL:         time.Hour,
		NegativeTTL: time.Minute,
		Logger:      xlog.WithComponent("binarycache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CacheInfo fetches /nix-cache-info.
func (c *Client) CacheInfo(ctx context.Context) (*narinfo.CacheInfo, error) {
	body, err := c.get(ctx, "nix-cache-info")
	if err != nil {
		return nil, err
	}
	return narinfo.ParseCacheInfo(bytes.NewReader(body))
}

// NarInfo fetches and parses <hash>.narinfo. hashOrPath may be a store path,
// its basename or the bare hash.
func (c *Client) NarInfo(ctx context.Context, hashOrPath string) (*narinfo.NarInfo, error) {
	hash, err := narinfo.HashFromPath(hashOrPath)
	if err != nil {
		return nil, err
	}
	logger := c.Logger.With().Str("hash", hash).Logger()

	body, cached := c.lookup(hash)
	switch {
	case cached && body == nil:
		metrics.NarInfoFetch("hit")
		return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
	case cached:
		metrics.NarInfoFetch("hit")
	default:
		body, err = c.get(ctx, hash+".narinfo")
		if errors.Is(err, ErrNotFound) {
			metrics.NarInfoFetch("not_found")
			c.store(hash, nil, c.NegativeTTL)
			return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
		}
		if err != nil {
			metrics.NarInfoFetch("error")
			return nil, err
		}
		metrics.NarInfoFetch("miss")
	}

	ni, err := narinfo.Parse(bytes.NewReader(body))
	if err != nil {
		logger.Warn().Err(err).Msg("upstream narinfo does not parse")
		c.forget(hash)
		return nil, err
	}
	if got, _ := narinfo.HashFromPath(ni.StorePath); got != hash {
		c.forget(hash)
		return nil, fmt.Errorf("narinfo for %s describes %s", hash, ni.StorePath)
	}

	if len(c.TrustedKeys) > 0 {
		key, ok := ni.VerifiedBy(c.TrustedKeys)
		if !ok {
			metrics.NarInfoFetch("untrusted")
			c.forget(hash)
			return nil, fmt.Errorf("%w: %s", ErrUntrusted, ni.StorePath)
		}
		logger.Debug().Str("key", key).Msg("narinfo signature verified")
	}

	if !cached {
		c.store(hash, body, c.TTL)
	}
	return ni, nil
}

// HealthCheck reports whether the backing cache is reachable. Caches without
// a health check are always healthy.
func (c *Client) HealthCheck(ctx context.Context) error {
	if hc, ok := c.Cache.(interface{ HealthCheck(context.Context) error }); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

func (c *Client) get(ctx context.Context, rel string) ([]byte, error) {
	url := c.BaseURL + "/" + rel
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/x-nix-narinfo, text/plain;q=0.9")

	start := time.Now()
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	c.Logger.Debug().
		Str("url", url).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("binary cache request")

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusForbidden:
		// S3-backed caches answer 403 for missing keys
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &HTTPError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxNarInfoSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if len(body) > maxNarInfoSize {
		return nil, fmt.Errorf("%s: response larger than %d bytes", url, maxNarInfoSize)
	}
	return body, nil
}

func (c *Client) lookup(hash string) ([]byte, bool) {
	if c.Cache == nil {
		return nil, false
	}
	return c.Cache.Get(hash)
}

func (c *Client) store(hash string, body []byte, ttl time.Duration) {
	if c.Cache == nil || ttl <= 0 {
		return
	}
	c.Cache.Set(hash, body, ttl)
}

func (c *Client) forget(hash string) {
	if c.Cache != nil {
		c.Cache.Delete(hash)
	}
}
