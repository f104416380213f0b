package authgate

import (
	"context"
	"errors"

	"github.com/MrEthical07/authgate/session"
)

const (
	auditEventRefreshSuccess     = "refresh_success"
	auditEventRefreshExpired     = "refresh_expired"
	auditEventRefreshUnavailable = "refresh_unavailable"
	auditEventRefreshSoftFailure = "refresh_soft_failure"
	auditEventSessionCleared     = "session_cleared"
	auditEventSignInRequired     = "sign_in_required"
	auditEventSignInSuccess      = "signin_success"
	auditEventSignInFailure      = "signin_failure"
	auditEventLogout             = "logout"
	auditEventReplayDenied       = "replay_denied"
)

// AuditErrorCode is the stable error label carried in [AuditEvent.Error].
type AuditErrorCode string

const (
	auditErrTransport        AuditErrorCode = "transport"
	auditErrUnauthorized     AuditErrorCode = "unauthorized"
	auditErrRefreshExpired   AuditErrorCode = "refresh_expired"
	auditErrRefreshUnavail   AuditErrorCode = "refresh_unavailable"
	auditErrRefreshFailed    AuditErrorCode = "refresh_failed"
	auditErrValidation       AuditErrorCode = "validation"
	auditErrPendingTimeout   AuditErrorCode = "pending_timeout"
	auditErrPendingQueueFull AuditErrorCode = "pending_queue_full"
	auditErrSignedOut        AuditErrorCode = "signed_out"
	auditErrUnexpectedStatus AuditErrorCode = "unexpected_status"
	auditErrDurableStorage   AuditErrorCode = "durable_storage"
	auditErrInternal         AuditErrorCode = "internal_error"
)

// auditInfo identifies the session and request an event belongs to.
type auditInfo struct {
	userID    string
	role      string
	requestID string
	flightID  string
}

func (c *Client) sessionAuditInfo() auditInfo {
	sess := c.store.Get()
	info := auditInfo{role: string(sess.Role)}
	if sess.User != nil {
		info.userID = sess.User.ID
	}
	return info
}

func (c *Client) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	info auditInfo,
	err error,
	metadataBuilder func() map[string]string,
) {
	if c == nil || c.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: c.now().UTC(),
		EventType: eventType,
		UserID:    info.userID,
		Role:      info.role,
		RequestID: info.requestID,
		FlightID:  info.flightID,
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	c.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	var respErr *ResponseError
	switch {
	case errors.Is(err, ErrRefreshExpired):
		return auditErrRefreshExpired
	case errors.Is(err, ErrRefreshUnavailable):
		return auditErrRefreshUnavail
	case errors.Is(err, ErrPendingTimeout):
		return auditErrPendingTimeout
	case errors.Is(err, ErrPendingQueueFull):
		return auditErrPendingQueueFull
	case errors.Is(err, ErrSignedOut):
		return auditErrSignedOut
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrRefreshFailed):
		return auditErrRefreshFailed
	case errors.Is(err, ErrTransport):
		return auditErrTransport
	case errors.Is(err, ErrAuthorizationDenied):
		return auditErrUnauthorized
	case errors.As(err, &respErr):
		return auditErrUnexpectedStatus
	case errors.Is(err, session.ErrDurableUnavailable):
		return auditErrDurableStorage
	default:
		return auditErrInternal
	}
}
