package internaldefs

import (
	"github.com/MrEthical07/authgate"
)

// CounterDef binds a counter to its exported name.
type CounterDef struct {
	ID   authgate.MetricID
	Name string
	Help string
}

// HistogramDef binds a histogram to its exported name.
type HistogramDef struct {
	ID   authgate.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in exposition order.
var CounterDefs = []CounterDef{
	{ID: authgate.MetricRequest, Name: "authgate_request_total", Help: "Requests sent through the pipeline, replays excluded."},
	{ID: authgate.MetricRequestTransportError, Name: "authgate_request_transport_error_total", Help: "Requests that received no response."},
	{ID: authgate.MetricAuthorizationDenied, Name: "authgate_authorization_denied_total", Help: "First-attempt 401 responses."},
	{ID: authgate.MetricRefreshStarted, Name: "authgate_refresh_started_total", Help: "Refresh exchanges sent to the identity service."},
	{ID: authgate.MetricRefreshJoined, Name: "authgate_refresh_joined_total", Help: "Callers attached to an in-flight refresh."},
	{ID: authgate.MetricRefreshSuccess, Name: "authgate_refresh_success_total", Help: "Successful refreshes."},
	{ID: authgate.MetricRefreshExpired, Name: "authgate_refresh_expired_total", Help: "Refreshes rejected with 401."},
	{ID: authgate.MetricRefreshUnavailable, Name: "authgate_refresh_unavailable_total", Help: "Refreshes attempted without a refresh token."},
	{ID: authgate.MetricRefreshSoftFailure, Name: "authgate_refresh_soft_failure_total", Help: "Refreshes failed without clearing the session."},
	{ID: authgate.MetricRefreshDiscarded, Name: "authgate_refresh_discarded_total", Help: "Refresh results dropped because the session ended during the exchange."},
	{ID: authgate.MetricPendingQueued, Name: "authgate_pending_queued_total", Help: "Requests queued behind an in-flight refresh."},
	{ID: authgate.MetricPendingReplayed, Name: "authgate_pending_replayed_total", Help: "Queued requests replayed after a refresh."},
	{ID: authgate.MetricPendingRejected, Name: "authgate_pending_rejected_total", Help: "Queued requests rejected after a failed refresh."},
	{ID: authgate.MetricPendingTimeout, Name: "authgate_pending_timeout_total", Help: "Queued requests abandoned after the pending timeout."},
	{ID: authgate.MetricPendingQueueFull, Name: "authgate_pending_queue_full_total", Help: "Requests rejected because the pending queue was full."},
	{ID: authgate.MetricReplay, Name: "authgate_replay_total", Help: "Replays of the request that triggered a refresh."},
	{ID: authgate.MetricReplayDenied, Name: "authgate_replay_denied_total", Help: "Replayed requests denied a second time."},
	{ID: authgate.MetricStaleTokenReplay, Name: "authgate_stale_token_replay_total", Help: "Replays with a token refreshed after the request was sent."},
	{ID: authgate.MetricPreemptiveRefresh, Name: "authgate_preemptive_refresh_total", Help: "Refreshes triggered before sending a request."},
	{ID: authgate.MetricAntiForgeryFetch, Name: "authgate_anti_forgery_fetch_total", Help: "Successful anti-forgery token fetches."},
	{ID: authgate.MetricAntiForgeryFailure, Name: "authgate_anti_forgery_failure_total", Help: "Failed anti-forgery token fetches."},
	{ID: authgate.MetricSignInSuccess, Name: "authgate_sign_in_success_total", Help: "Successful sign-ins."},
	{ID: authgate.MetricSignInFailure, Name: "authgate_sign_in_failure_total", Help: "Failed sign-ins."},
	{ID: authgate.MetricLogout, Name: "authgate_logout_total", Help: "Logouts that cleared local state."},
	{ID: authgate.MetricLogoutFailure, Name: "authgate_logout_failure_total", Help: "Logouts not acknowledged with a 2xx status."},
	{ID: authgate.MetricSessionCleared, Name: "authgate_session_cleared_total", Help: "Sessions cleared locally."},
	{ID: authgate.MetricSignInRequired, Name: "authgate_sign_in_required_total", Help: "Sign-in signals emitted."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: authgate.MetricRefreshLatency, Name: "authgate_refresh_latency_seconds", Help: "Refresh round-trip latency histogram."},
}

// GaugeDef binds a live client state value to its exported name.
type GaugeDef struct {
	Name  string
	Help  string
	Value func(authgate.Stats) int64
}

// GaugeDefs lists every exported gauge.
var GaugeDefs = []GaugeDef{
	{Name: "authgate_session_authenticated", Help: "1 while the session holds an access token.", Value: func(s authgate.Stats) int64 { return boolValue(s.Authenticated) }},
	{Name: "authgate_session_recoverable", Help: "1 while the session holds a refresh token.", Value: func(s authgate.Stats) int64 { return boolValue(s.Recoverable) }},
	{Name: "authgate_refresh_in_flight", Help: "1 while a refresh is in flight.", Value: func(s authgate.Stats) int64 { return boolValue(s.RefreshInFlight) }},
	{Name: "authgate_pending_requests", Help: "Requests waiting on the in-flight refresh.", Value: func(s authgate.Stats) int64 { return int64(s.Pending) }},
	{Name: "authgate_anti_forgery_ready", Help: "1 while an anti-forgery token is cached.", Value: func(s authgate.Stats) int64 { return boolValue(s.AntiForgeryReady) }},
}

func boolValue(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// HistogramBounds are the upper bounds of the eight latency buckets, in seconds.
var HistogramBounds = []string{
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"+Inf",
}

// HistogramBoundSuffix is the metric-name-safe form of HistogramBounds.
var HistogramBoundSuffix = []string{
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed eight-bucket array, zero-filling missing buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into cumulative counts.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
