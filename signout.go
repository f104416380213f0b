package authgate

import (
	"context"
	"fmt"

	"github.com/MrEthical07/authgate/internal/flows"
	"go.uber.org/zap"
)

// Logout tells the identity service to end the session, then clears the local session and
// signals sign-in with ErrSignedOut.
//
// Any HTTP response counts as done: a non-2xx status is logged and local state is still
// cleared. When no response was received the error matches ErrTransport and local state is
// left untouched, unless Config.Logout.ClearOnTransportError is set.
func (c *Client) Logout(ctx context.Context) error {
	if c == nil || c.closed.Load() {
		return ErrClientNotReady
	}

	header := c.antiForgeryHeader(ctx, false)
	if token := c.store.AccessToken(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	info := c.sessionAuditInfo()

	res := flows.RunLogout(ctx, header, c.flows.Logout)
	if res.Err != nil {
		err := fmt.Errorf("%w: %w", ErrTransport, res.Err)
		c.metrics.Inc(MetricLogoutFailure)
		c.logger.Warn("logout request failed", zap.Error(res.Err))
		if !c.config.Logout.ClearOnTransportError {
			c.emitAudit(ctx, auditEventLogout, false, info, err, nil)
			return err
		}
		c.signOut(ctx, info, err)
		return err
	}

	if !res.Success() {
		c.metrics.Inc(MetricLogoutFailure)
		c.logger.Warn("logout rejected by server",
			zap.Int("status", res.StatusCode),
			zap.String("message", ResponseMessage(res.Body)),
		)
	}
	c.signOut(ctx, info, nil)
	return nil
}

func (c *Client) signOut(ctx context.Context, info auditInfo, cause error) {
	c.clearLocal(ctx)
	c.metrics.Inc(MetricLogout)
	c.emitAudit(ctx, auditEventLogout, cause == nil, info, cause, nil)
	c.announceSignIn(ctx, info, ErrSignedOut)
}
