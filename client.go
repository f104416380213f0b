package authgate

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authgate/antiforgery"
	"github.com/MrEthical07/authgate/internal/flows"
	"github.com/MrEthical07/authgate/session"
	"go.uber.org/zap"
)

// Client owns one credential session and the HTTP machinery that keeps it usable. Create it
// with [New] and [Builder.Build]. All methods are safe for concurrent use.
type Client struct {
	config      Config
	logger      *zap.Logger
	refreshLog  *zap.Logger
	pipelineLog *zap.Logger

	store       *session.Store
	antiForgery *antiforgery.Provider

	base       http.RoundTripper
	jar        http.CookieJar
	identity   *http.Client
	httpClient *http.Client
	transport  *Transport
	flows      flows.Deps

	metrics  *Metrics
	audit    *auditDispatcher
	onSignIn SignInHandler
	now      func() time.Time

	// refreshMu guards phase and flight.
	refreshMu sync.Mutex
	phase     refreshPhase
	flight    *refreshFlight

	closed atomic.Bool
}

// HTTPClient returns an *http.Client whose requests go through the credential pipeline and
// share the client's cookie jar.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Transport returns the pipeline as a round tripper, for callers composing their own
// http.Client. Such a client should use the same cookie jar.
func (c *Client) Transport() *Transport {
	return c.transport
}

// Do sends req through the pipeline.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c == nil {
		return nil, ErrClientNotReady
	}
	return c.httpClient.Do(req)
}

// Store returns the credential store backing the client.
func (c *Client) Store() *session.Store {
	return c.store
}

// Session returns a copy of the current session.
func (c *Client) Session() session.Session {
	return c.store.Get()
}

// Restore loads a persisted refresh token into the session. It reports whether a token was
// restored.
func (c *Client) Restore(ctx context.Context) (bool, error) {
	if c == nil || c.closed.Load() {
		return false, ErrClientNotReady
	}
	return c.store.Restore(ctx)
}

// AntiForgeryToken returns the cached anti-forgery token. ok is false when protection is
// disabled or no fetch has succeeded since the last reset.
func (c *Client) AntiForgeryToken() (token string, ok bool) {
	if c.antiForgery == nil {
		return "", false
	}
	return c.antiForgery.Token()
}

// MetricsSnapshot returns a copy of the client's counters.
func (c *Client) MetricsSnapshot() MetricsSnapshot {
	return c.metrics.Snapshot()
}

// AuditDropped returns how many audit events were dropped because the buffer was full.
func (c *Client) AuditDropped() uint64 {
	return c.audit.Dropped()
}

// Stats is a point-in-time view of a client's live state.
type Stats struct {
	Authenticated   bool
	Recoverable     bool
	RefreshInFlight bool
	// Pending counts requests waiting on the in-flight refresh.
	Pending          int
	AntiForgeryReady bool
}

// Stats reports the client's live state. Values may be stale by the time they are read.
func (c *Client) Stats() Stats {
	sess := c.store.Get()
	st := Stats{
		Authenticated: sess.Authenticated(),
		Recoverable:   sess.Recoverable(),
	}
	_, st.AntiForgeryReady = c.AntiForgeryToken()

	c.refreshMu.Lock()
	f := c.flight
	st.RefreshInFlight = c.phase == phaseRefreshing
	c.refreshMu.Unlock()

	if f != nil && st.RefreshInFlight {
		st.Pending = f.queue.Len()
	}
	return st
}

// Close flushes buffered audit events. Requests started after Close fail with
// ErrClientNotReady; the session is kept.
func (c *Client) Close() {
	if c == nil || !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.audit.Close()
}

func (c *Client) antiForgeryHeader(ctx context.Context, fresh bool) http.Header {
	header := http.Header{}
	if c.antiForgery == nil {
		return header
	}

	var (
		token string
		ok    bool
	)
	if fresh {
		token, ok = c.antiForgery.Fetch(ctx)
	} else {
		token, ok = c.antiForgery.Ensure(ctx)
	}
	if ok && token != "" {
		header.Set(c.antiForgery.HeaderName(), token)
	}
	return header
}

func (c *Client) rotateAntiForgery(ctx context.Context) {
	if c.antiForgery != nil {
		c.antiForgery.Fetch(ctx)
	}
}

// clearLocal wipes the session and the cached anti-forgery token.
func (c *Client) clearLocal(ctx context.Context) {
	if err := c.store.Clear(ctx); err != nil {
		c.logger.Warn("clearing durable session failed", zap.Error(err))
	}
	if c.antiForgery != nil {
		c.antiForgery.Reset()
	}
}

// clearLocalIf is clearLocal for session generation gen only. It reports whether anything was
// cleared.
func (c *Client) clearLocalIf(ctx context.Context, gen uint64) bool {
	cleared, err := c.store.ClearIf(ctx, gen)
	if !cleared {
		return false
	}
	if err != nil {
		c.logger.Warn("clearing durable session failed", zap.Error(err))
	}
	if c.antiForgery != nil {
		c.antiForgery.Reset()
	}
	return true
}

func (c *Client) announceSignIn(ctx context.Context, info auditInfo, reason error) {
	c.metrics.Inc(MetricSessionCleared)
	c.metrics.Inc(MetricSignInRequired)
	c.emitAudit(ctx, auditEventSessionCleared, true, info, reason, nil)
	c.emitAudit(ctx, auditEventSignInRequired, false, info, reason, nil)

	c.logger.Info("sign-in required", zap.Error(reason))
	if c.onSignIn != nil {
		c.onSignIn(SignInRequired{Reason: reason, At: c.now()})
	}
}
