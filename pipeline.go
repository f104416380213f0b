package authgate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/MrEthical07/authgate/internal/pending"
	"github.com/MrEthical07/authgate/jwt"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const sniffLen = 512

// Transport is the credential pipeline as an http.RoundTripper. It attaches the session's
// bearer token and the anti-forgery token, and recovers from a 401 by refreshing once and
// replaying the request.
//
// A 401 is returned unchanged when the request context carries [SkipRecovery], when the request
// is itself a replay, or when the caller set Authorization explicitly. A replay denied again is
// returned to the caller as the 401 response. When recovery fails, RoundTrip returns a
// *RecoveryError and no response.
//
// A request sent right after a preemptive refresh already carries a just-refreshed token, so a
// 401 for it is handled as a denied replay: no second refresh is started for that request.
type Transport struct {
	client *Client
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t == nil || t.client == nil || t.client.closed.Load() {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, ErrClientNotReady
	}
	return t.client.roundTrip(req)
}

// call is one caller request, prepared so it can be sent more than once.
type call struct {
	req          *http.Request
	getBody      func() (io.ReadCloser, error)
	binary       bool
	requestID    string
	explicitAuth bool
	explicitAF   bool
}

func (c *Client) newCall(req *http.Request) (*call, error) {
	cl := &call{
		req:          req,
		explicitAuth: req.Header.Get("Authorization") != "",
		binary:       binaryBody(req.Context()),
	}
	if c.antiForgery != nil {
		cl.explicitAF = req.Header.Get(c.antiForgery.HeaderName()) != ""
	}
	if name := c.config.Headers.RequestID; name != "" && req.Header.Get(name) == "" {
		cl.requestID = uuid.NewString()
	}

	ct := req.Header.Get("Content-Type")
	if ct != "" {
		if mediaType, _, err := mime.ParseMediaType(ct); err == nil && strings.HasPrefix(mediaType, "multipart/") {
			cl.binary = true
		}
	}

	if req.Body == nil || req.Body == http.NoBody {
		return cl, nil
	}

	var prefix []byte
	if req.GetBody != nil {
		req.Body.Close()
		cl.getBody = req.GetBody
		if ct == "" && !cl.binary {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("authgate: read request body: %w", err)
			}
			prefix, _ = io.ReadAll(io.LimitReader(body, sniffLen))
			body.Close()
		}
	} else {
		raw, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("authgate: read request body: %w", err)
		}
		cl.getBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(raw)), nil
		}
		prefix = raw
	}

	if ct == "" && !cl.binary && len(prefix) > 0 {
		detected := http.DetectContentType(prefix)
		cl.binary = !strings.HasPrefix(detected, "text/")
	}
	return cl, nil
}

func (c *Client) roundTrip(req *http.Request) (*http.Response, error) {
	c.metrics.Inc(MetricRequest)
	ctx := req.Context()

	cl, err := c.newCall(req)
	if err != nil {
		return nil, err
	}
	recoverable := !retryMarked(ctx) && !cl.explicitAuth

	var preErr error
	preRefreshed := false
	if recoverable && c.shouldRefreshFirst() {
		c.metrics.Inc(MetricPreemptiveRefresh)
		_, err := c.Refresh(ctx)
		switch {
		case err == nil:
			preRefreshed = true
		case errors.Is(err, ErrRefreshFailed):
			preErr = err
		default:
			return nil, &RecoveryError{Err: err}
		}
	}

	token := c.store.AccessToken()
	resp, err := c.send(ctx, cl, token, false)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || !recoverable {
		return resp, err
	}

	c.metrics.Inc(MetricAuthorizationDenied)
	switch {
	case preErr != nil:
		return nil, &RecoveryError{Original: c.captureDenied(resp), Err: preErr}
	case preRefreshed:
		// The token is fresh from this very call's refresh: treat the 401 as a denied replay.
		c.replayDenied(ctx, token, resp)
		return resp, nil
	}
	return c.recoverDenied(ctx, cl, token, resp)
}

// shouldRefreshFirst reports whether a refresh token is held while the access token is missing
// or about to expire.
func (c *Client) shouldRefreshFirst() bool {
	if !c.config.Refresh.Preemptive {
		return false
	}
	sess := c.store.Get()
	if sess.RefreshToken == "" {
		return false
	}
	if sess.AccessToken == "" {
		return true
	}
	return jwt.Expired(sess.AccessToken, c.now(), c.config.Refresh.ExpirySkew)
}

func (c *Client) recoverDenied(ctx context.Context, cl *call, sentToken string, resp *http.Response) (*http.Response, error) {
	f, role := c.beginRefresh(sentToken, true)
	if role == roleStale {
		discard(resp)
		c.metrics.Inc(MetricStaleTokenReplay)
		return c.replay(ctx, cl, c.store.AccessToken())
	}

	original := c.captureDenied(resp)
	if role == roleLeader {
		c.runFlight(ctx, f)
		return c.afterFlight(ctx, cl, f, original)
	}

	c.metrics.Inc(MetricRefreshJoined)
	rec := pending.NewRecord(ctx, func(ctx context.Context, token string) (*http.Response, error) {
		return c.replay(ctx, cl, token)
	})

	err := f.queue.Enqueue(rec)
	switch {
	case err == nil:
		c.metrics.Inc(MetricPendingQueued)
		c.pipelineLog.Debug("request queued behind refresh", zap.String("flight_id", f.id), zap.String("record_id", rec.ID))
		out := rec.Wait(c.config.Pending.Timeout)
		if !out.Rejected {
			return out.Response, out.Err
		}
		if errors.Is(out.Err, pending.ErrTimeout) {
			c.metrics.Inc(MetricPendingTimeout)
			return nil, &RecoveryError{Original: original, Err: ErrPendingTimeout}
		}
		return nil, &RecoveryError{Original: original, Err: out.Err}

	case errors.Is(err, pending.ErrFull):
		c.metrics.Inc(MetricPendingQueueFull)
		c.pipelineLog.Warn("pending queue full", zap.String("flight_id", f.id))
		return nil, &RecoveryError{Original: original, Err: ErrPendingQueueFull}

	default:
		// The flight settled between attaching to it and queueing.
		<-f.done
		return c.afterFlight(ctx, cl, f, original)
	}
}

func (c *Client) afterFlight(ctx context.Context, cl *call, f *refreshFlight, original *ResponseError) (*http.Response, error) {
	if f.err != nil {
		return nil, &RecoveryError{Original: original, Err: f.err}
	}
	c.metrics.Inc(MetricReplay)
	return c.replay(ctx, cl, f.token)
}

// replay sends cl once more with token. A 401 here is final.
func (c *Client) replay(ctx context.Context, cl *call, token string) (*http.Response, error) {
	ctx = withRetryMarker(ctx)
	resp, err := c.send(ctx, cl, token, true)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	c.metrics.Inc(MetricReplayDenied)
	c.replayDenied(ctx, token, resp)
	return resp, nil
}

// replayDenied handles a 401 on a request sent with a token that had just been refreshed. The
// session is cleared at most once per token: only while token is still the session's token and
// no other refresh is running.
func (c *Client) replayDenied(ctx context.Context, token string, resp *http.Response) {
	reason := newResponseError(resp, c.config.MaxErrorBodyBytes)
	info := c.sessionAuditInfo()
	c.emitAudit(ctx, auditEventReplayDenied, false, info, reason, nil)
	c.pipelineLog.Info("replayed request denied", zap.String("url", redactURL(resp.Request)))

	if !c.config.Refresh.ClearSessionOnRetryDenied {
		return
	}

	c.refreshMu.Lock()
	cleared := c.phase == phaseIdle && token != "" && c.store.AccessToken() == token
	if cleared {
		c.clearLocal(ctx)
	}
	c.refreshMu.Unlock()

	if cleared {
		c.announceSignIn(ctx, info, reason)
	}
}

func (c *Client) send(ctx context.Context, cl *call, token string, replay bool) (*http.Response, error) {
	r := cl.req.Clone(ctx)
	if cl.getBody != nil {
		body, err := cl.getBody()
		if err != nil {
			return nil, fmt.Errorf("authgate: rewind request body: %w", err)
		}
		r.Body = body
		r.GetBody = cl.getBody
	}

	if !cl.explicitAuth {
		if token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		} else {
			r.Header.Del("Authorization")
		}
	}
	if c.antiForgery != nil && !cl.explicitAF {
		if af, ok := c.antiForgery.Ensure(ctx); ok && af != "" {
			r.Header.Set(c.antiForgery.HeaderName(), af)
		}
	}
	if ct := c.config.Headers.DefaultContentType; ct != "" && cl.getBody != nil && !cl.binary && r.Header.Get("Content-Type") == "" {
		r.Header.Set("Content-Type", ct)
	}
	if cl.requestID != "" {
		r.Header.Set(c.config.Headers.RequestID, cl.requestID)
	}
	if replay && c.jar != nil {
		r.Header.Del("Cookie")
		for _, ck := range c.jar.Cookies(r.URL) {
			r.AddCookie(ck)
		}
	}

	resp, err := c.base.RoundTrip(r)
	if err != nil {
		c.metrics.Inc(MetricRequestTransportError)
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return resp, nil
}

// captureDenied converts a 401 into a ResponseError and releases the response.
func (c *Client) captureDenied(resp *http.Response) *ResponseError {
	original := newResponseError(resp, c.config.MaxErrorBodyBytes)
	discard(resp)
	return original
}

func discard(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}

func redactURL(req *http.Request) string {
	if req == nil || req.URL == nil {
		return ""
	}
	return req.URL.Redacted()
}
