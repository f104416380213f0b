package antiforgery

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"

	"go.uber.org/zap"
)

// Config describes the anti-forgery endpoint and where the token is carried.
type Config struct {
	// Endpoint is the absolute URL answering GET with 204 No Content.
	Endpoint string
	// HeaderName is both the response header the token is read from and the request header it
	// is attached under.
	HeaderName string
	// CookieName is the cookie carrying the token when the header is absent.
	CookieName string
	// OnFetch, when set, is called after every fetch with its result.
	OnFetch func(ok bool)
}

// Provider caches the most recently fetched anti-forgery token. It is safe for concurrent use.
type Provider struct {
	config Config
	client *http.Client
	logger *zap.Logger

	fetchMu sync.Mutex

	mu      sync.RWMutex
	token   string
	fetched bool
}

// NewProvider returns a provider issuing requests through client. The client should carry the
// cookie jar shared with the rest of the gateway so the anti-forgery cookie reaches later
// requests.
func NewProvider(cfg Config, client *http.Client, logger *zap.Logger) *Provider {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		config: cfg,
		client: client,
		logger: logger,
	}
}

// HeaderName returns the request header the token is attached under.
func (p *Provider) HeaderName() string {
	return p.config.HeaderName
}

// Token returns the cached token and whether a fetch has succeeded since the last reset.
func (p *Provider) Token() (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.token, p.fetched
}

// Fetched reports whether a token is cached.
func (p *Provider) Fetched() bool {
	_, ok := p.Token()
	return ok
}

// Reset drops the cached token.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = ""
	p.fetched = false
}

// Ensure fetches a token unless one is cached. Concurrent callers share one fetch.
func (p *Provider) Ensure(ctx context.Context) (string, bool) {
	if token, ok := p.Token(); ok {
		return token, true
	}

	p.fetchMu.Lock()
	defer p.fetchMu.Unlock()
	if token, ok := p.Token(); ok {
		return token, true
	}
	return p.fetchLocked(ctx)
}

// Fetch requests a new token unconditionally and caches it. On any failure the cache is
// cleared and ("", false) is returned.
func (p *Provider) Fetch(ctx context.Context) (string, bool) {
	p.fetchMu.Lock()
	defer p.fetchMu.Unlock()
	return p.fetchLocked(ctx)
}

func (p *Provider) fetchLocked(ctx context.Context) (string, bool) {
	token, err := p.request(ctx)
	if err != nil {
		p.Reset()
		p.logger.Warn("anti-forgery fetch failed", zap.String("endpoint", p.config.Endpoint), zap.Error(err))
		p.observe(false)
		return "", false
	}

	p.mu.Lock()
	p.token = token
	p.fetched = true
	p.mu.Unlock()
	p.observe(true)
	return token, true
}

func (p *Provider) observe(ok bool) {
	if p.config.OnFetch != nil {
		p.config.OnFetch(ok)
	}
}

func (p *Provider) request(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.Endpoint, nil)
	if err != nil {
		return "", err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode != http.StatusNoContent {
		return "", &statusError{code: resp.StatusCode}
	}

	if p.config.HeaderName != "" {
		if token := resp.Header.Get(p.config.HeaderName); token != "" {
			return token, nil
		}
	}
	if p.config.CookieName != "" {
		for _, c := range resp.Cookies() {
			if c.Name == p.config.CookieName && c.Value != "" {
				return c.Value, nil
			}
		}
		if token := p.jarCookie(req.URL); token != "" {
			return token, nil
		}
	}
	return "", errMissingToken
}

func (p *Provider) jarCookie(u *url.URL) string {
	if p.client.Jar == nil {
		return ""
	}
	for _, c := range p.client.Jar.Cookies(u) {
		if c.Name == p.config.CookieName {
			return c.Value
		}
	}
	return ""
}
