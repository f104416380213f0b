package authgate

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authgate/internal/flows"
	"github.com/MrEthical07/authgate/internal/pending"
	"github.com/MrEthical07/authgate/session"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type flightRole uint8

const (
	roleLeader flightRole = iota
	roleWaiter
	// roleStale means the session already holds a newer access token than the one the denied
	// request was sent with.
	roleStale
)

// Refresh exchanges the refresh token for a new access token and returns it. Concurrent calls,
// including refreshes started by the pipeline, share one network exchange and observe the same
// result.
//
// Without a refresh token Refresh makes no network call, clears the session, signals sign-in
// and returns ErrRefreshUnavailable. A 401 from the refresh endpoint does the same with
// ErrRefreshExpired. Any other failure returns an error matching ErrRefreshFailed and keeps the
// session. When the session is signed out or replaced by SignIn while the exchange runs, its
// result is dropped and Refresh returns ErrSignedOut.
//
// The exchange itself is bounded by Config.Refresh.Timeout, not by ctx; ctx only bounds how
// long a caller waits for a refresh started by someone else.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	if c == nil || c.closed.Load() {
		return "", ErrClientNotReady
	}

	f, role := c.beginRefresh("", false)
	if role == roleLeader {
		c.runFlight(ctx, f)
		return f.token, f.err
	}

	c.metrics.Inc(MetricRefreshJoined)
	select {
	case <-f.done:
		return f.token, f.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// beginRefresh attaches to the refresh in flight or starts a new one. With checkStale set, no
// refresh is started when the session token differs from sentToken.
func (c *Client) beginRefresh(sentToken string, checkStale bool) (*refreshFlight, flightRole) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	if c.phase == phaseRefreshing && c.flight != nil {
		return c.flight, roleWaiter
	}
	if checkStale {
		if current := c.store.AccessToken(); current != "" && current != sentToken {
			return nil, roleStale
		}
	}

	f := &refreshFlight{
		id:      uuid.NewString(),
		started: c.now(),
		done:    make(chan struct{}),
		queue:   pending.NewQueue(c.config.Pending.MaxQueued, c.config.Pending.ReplayConcurrency),
	}
	c.phase = phaseRefreshing
	c.flight = f
	return f, roleLeader
}

// runFlight performs the refresh, returns the coordinator to idle and then settles the pending
// queue: replayed with the new token on success, rejected with the refresh error otherwise.
// When the session was cleared, the sign-in signal is sent after the queue is rejected.
func (c *Client) runFlight(ctx context.Context, f *refreshFlight) {
	token, outcome, err := c.performRefresh(ctx, f)
	c.metrics.Observe(MetricRefreshLatency, c.now().Sub(f.started))
	c.settle(f, token, outcome, err)

	if err != nil {
		if n := f.queue.Reject(err); n > 0 {
			c.metrics.Add(MetricPendingRejected, uint64(n))
			c.refreshLog.Debug("pending requests rejected", zap.String("flight_id", f.id), zap.Int("count", n))
		}
		if outcome == outcomeCleared {
			c.announceSignIn(context.WithoutCancel(ctx), f.cleared, err)
		}
		return
	}
	if n := f.queue.Resolve(token); n > 0 {
		c.metrics.Add(MetricPendingReplayed, uint64(n))
		c.refreshLog.Debug("pending requests replayed", zap.String("flight_id", f.id), zap.Int("count", n))
	}
}

func (c *Client) settle(f *refreshFlight, token string, outcome refreshOutcome, err error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	f.token = token
	f.outcome = outcome
	f.err = err
	if c.flight == f {
		c.flight = nil
		c.phase = phaseIdle
	}
	close(f.done)
}

func (c *Client) performRefresh(parent context.Context, f *refreshFlight) (string, refreshOutcome, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.config.Refresh.Timeout)
	defer cancel()

	log := c.refreshLog.With(zap.String("flight_id", f.id))
	info := c.sessionAuditInfo()
	info.flightID = f.id

	// Results are written back only to the session this exchange was started for.
	gen := c.store.Generation()
	refreshToken, err := c.store.RefreshToken(ctx)
	if err != nil {
		log.Warn("reading durable refresh token failed", zap.Error(err))
	}
	if refreshToken == "" {
		if !c.clearLocalIf(ctx, gen) {
			return c.discardRefresh(log)
		}
		c.metrics.Inc(MetricRefreshUnavailable)
		c.emitAudit(ctx, auditEventRefreshUnavailable, false, info, ErrRefreshUnavailable, nil)
		f.cleared = info
		return "", outcomeCleared, ErrRefreshUnavailable
	}

	c.metrics.Inc(MetricRefreshStarted)
	header := c.antiForgeryHeader(ctx, true)
	res := flows.RunRefresh(ctx, refreshToken, header, c.flows.Refresh)

	switch res.Failure {
	case flows.RefreshFailureNone:
		token, applied := c.applyRefresh(ctx, log, gen, info, res.Credentials)
		if !applied {
			return c.discardRefresh(log)
		}
		return token, outcomeUpdated, nil

	case flows.RefreshFailureExpired, flows.RefreshFailureUnavailable:
		if !c.clearLocalIf(ctx, gen) {
			return c.discardRefresh(log)
		}
		reason := ErrRefreshExpired
		metric, event := MetricRefreshExpired, auditEventRefreshExpired
		if res.Failure == flows.RefreshFailureUnavailable {
			reason = ErrRefreshUnavailable
			metric, event = MetricRefreshUnavailable, auditEventRefreshUnavailable
		}
		c.metrics.Inc(metric)
		c.emitAudit(ctx, event, false, info, reason, nil)
		log.Info("refresh token rejected", zap.Int("status", res.StatusCode))
		f.cleared = info
		return "", outcomeCleared, reason

	default:
		err := softRefreshError(res)
		c.metrics.Inc(MetricRefreshSoftFailure)
		c.emitAudit(ctx, auditEventRefreshSoftFailure, false, info, err, func() map[string]string {
			return map[string]string{"kind": res.Failure.String()}
		})
		log.Warn("refresh failed",
			zap.Stringer("kind", res.Failure),
			zap.Int("status", res.StatusCode),
			zap.Error(err),
		)
		return "", outcomeSoftFailure, err
	}
}

// discardRefresh ends a flight whose session was signed out or replaced while the exchange was
// running. Nothing is written and no sign-in signal is sent: whoever ended the session did that.
func (c *Client) discardRefresh(log *zap.Logger) (string, refreshOutcome, error) {
	c.metrics.Inc(MetricRefreshDiscarded)
	log.Info("refresh result discarded, session ended during exchange")
	return "", outcomeDiscarded, ErrSignedOut
}

// applyRefresh stores creds if the session is still generation gen. It reports false, and
// writes nothing, when the session was cleared or replaced in the meantime.
func (c *Client) applyRefresh(ctx context.Context, log *zap.Logger, gen uint64, info auditInfo, creds flows.Credentials) (string, bool) {
	patch := session.Patch{AccessToken: session.Ref(creds.Token)}
	if creds.RefreshToken != "" {
		patch.RefreshToken = session.Ref(creds.RefreshToken)
	}
	if creds.Role != "" {
		patch.Role = session.Ref(session.Role(creds.Role))
	}
	if creds.User != nil {
		patch.User = creds.User
	}
	applied, err := c.store.SetIf(ctx, gen, patch)
	if !applied {
		return "", false
	}
	if err != nil {
		log.Warn("persisting refreshed session failed", zap.Error(err))
	}

	c.rotateAntiForgery(ctx)

	c.metrics.Inc(MetricRefreshSuccess)
	if creds.User != nil {
		info.userID = creds.User.ID
	}
	if creds.Role != "" {
		info.role = creds.Role
	}
	c.emitAudit(ctx, auditEventRefreshSuccess, true, info, nil, func() map[string]string {
		return map[string]string{"rotated": fmt.Sprint(creds.RefreshToken != "")}
	})
	log.Debug("refresh succeeded")
	return creds.Token, true
}

func softRefreshError(res flows.RefreshResult) error {
	switch res.Failure {
	case flows.RefreshFailureTransport:
		return fmt.Errorf("%w: %w: %w", ErrRefreshFailed, ErrTransport, res.Err)
	case flows.RefreshFailureStatus:
		return fmt.Errorf("%w: %w", ErrRefreshFailed, &ResponseError{StatusCode: res.StatusCode, Body: res.Body})
	default:
		cause := res.Err
		if cause == nil {
			cause = errors.New("malformed refresh response")
		}
		return fmt.Errorf("%w: %w", ErrRefreshFailed, cause)
	}
}
