package authgate

import (
	"context"
	"fmt"

	"github.com/MrEthical07/authgate/internal/flows"
	"github.com/MrEthical07/authgate/session"
	"go.uber.org/zap"
)

// SignIn posts credentials as JSON to the sign-in endpoint and, on success, replaces the
// session with the issued tokens, role and user and rotates the anti-forgery token.
//
// A non-2xx answer is returned as *ResponseError; a 401 here never triggers a refresh. nil
// credentials fail with ErrValidation before any network call.
func (c *Client) SignIn(ctx context.Context, credentials any) (*SignInResult, error) {
	if c == nil || c.closed.Load() {
		return nil, ErrClientNotReady
	}
	if credentials == nil {
		return nil, fmt.Errorf("%w: credentials are required", ErrValidation)
	}

	header := c.antiForgeryHeader(ctx, false)
	res := flows.RunSignIn(ctx, credentials, header, c.flows.SignIn)
	if err := signInError(res); err != nil {
		c.metrics.Inc(MetricSignInFailure)
		c.emitAudit(ctx, auditEventSignInFailure, false, auditInfo{}, err, func() map[string]string {
			return map[string]string{"status": fmt.Sprint(res.StatusCode)}
		})
		return nil, err
	}

	creds := res.Credentials
	user := creds.User
	if user == nil {
		user = &session.User{}
	}
	role := session.Role(creds.Role)
	// Replace starts a new session generation, so a refresh still running for the previous
	// session cannot write over this one.
	err := c.store.Replace(ctx, session.Patch{
		AccessToken:  session.Ref(creds.Token),
		RefreshToken: session.Ref(creds.RefreshToken),
		Role:         &role,
		User:         user,
	})
	if err != nil {
		c.logger.Warn("persisting signed-in session failed", zap.Error(err))
	}

	c.rotateAntiForgery(ctx)

	info := auditInfo{role: creds.Role}
	if creds.User != nil {
		info.userID = creds.User.ID
	}
	c.metrics.Inc(MetricSignInSuccess)
	c.emitAudit(ctx, auditEventSignInSuccess, true, info, nil, nil)

	return &SignInResult{
		Role:        role,
		Redirection: creds.Redirection,
		Message:     creds.Message,
		User:        creds.User,
	}, nil
}

func signInError(res flows.SignInResult) error {
	switch res.Failure {
	case flows.SignInFailureNone:
		return nil
	case flows.SignInFailureEncode:
		return fmt.Errorf("%w: %v", ErrValidation, res.Err)
	case flows.SignInFailureTransport:
		return fmt.Errorf("%w: %w", ErrTransport, res.Err)
	case flows.SignInFailureStatus:
		return &ResponseError{StatusCode: res.StatusCode, Header: res.Header, Body: res.Body}
	default:
		return fmt.Errorf("authgate: malformed sign-in response: %w", res.Err)
	}
}
