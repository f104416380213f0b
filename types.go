package authgate

import (
	"time"

	"github.com/MrEthical07/authgate/internal/pending"
	"github.com/MrEthical07/authgate/session"
)

// SignInResult is what a successful [Client.SignIn] reports back to the caller. Tokens are kept
// in the session and are not repeated here.
type SignInResult struct {
	Role        session.Role
	Redirection string
	Message     string
	User        *session.User
}

// SignInRequired is delivered to the handler registered with [Builder.WithSignInHandler] when
// the session has been cleared and the user must sign in again.
//
// Reason is one of ErrRefreshExpired, ErrRefreshUnavailable, ErrSignedOut, or a
// *ResponseError for a replayed request that was denied again.
type SignInRequired struct {
	Reason error
	At     time.Time
}

// SignInHandler receives sign-in signals. It is called synchronously and must not block.
type SignInHandler func(SignInRequired)

type refreshPhase uint8

const (
	phaseIdle refreshPhase = iota
	phaseRefreshing
)

type refreshOutcome uint8

const (
	outcomeUpdated refreshOutcome = iota
	outcomeCleared
	outcomeSoftFailure
	// outcomeDiscarded means the session was signed out or replaced during the exchange.
	outcomeDiscarded
)

func (o refreshOutcome) String() string {
	switch o {
	case outcomeUpdated:
		return "updated"
	case outcomeCleared:
		return "cleared"
	case outcomeDiscarded:
		return "discarded"
	default:
		return "soft_failure"
	}
}

// refreshFlight is the handle shared by every caller attached to one refresh. token, err and
// outcome are written once before done is closed.
type refreshFlight struct {
	id      string
	started time.Time
	done    chan struct{}
	queue   *pending.Queue

	token   string
	err     error
	outcome refreshOutcome
	// cleared identifies the session that was wiped when outcome is outcomeCleared.
	cleared auditInfo
}
