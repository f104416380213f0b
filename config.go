package authgate

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Config is the full client configuration. Start from DefaultConfig or LoadConfigFile; the
// builder validates it and the client keeps its own copy.
type Config struct {
	// BaseURL is the origin of the identity service. Relative endpoint paths are resolved
	// against it.
	BaseURL     string            `yaml:"base_url"`
	Endpoints   EndpointsConfig   `yaml:"endpoints"`
	AntiForgery AntiForgeryConfig `yaml:"anti_forgery"`
	Refresh     RefreshConfig     `yaml:"refresh"`
	Pending     PendingConfig     `yaml:"pending"`
	Logout      LogoutConfig      `yaml:"logout"`
	Headers     HeadersConfig     `yaml:"headers"`
	Storage     StorageConfig     `yaml:"storage"`
	Audit       AuditConfig       `yaml:"audit"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	// MaxErrorBodyBytes bounds how much of a failed response body is kept in a ResponseError.
	MaxErrorBodyBytes int64 `yaml:"max_error_body_bytes"`
	// MaxCredentialBodyBytes bounds how much of a refresh or sign-in response is read. A larger
	// body is a malformed response.
	MaxCredentialBodyBytes int64 `yaml:"max_credential_body_bytes"`
}

/*
====================================
ENDPOINTS CONFIG
====================================
*/

// EndpointsConfig lists the identity endpoints. Each entry is a path relative to BaseURL or
// an absolute URL.
type EndpointsConfig struct {
	AntiForgery string `yaml:"anti_forgery"`
	Refresh     string `yaml:"refresh"`
	Logout      string `yaml:"logout"`
	SignIn      string `yaml:"sign_in"`
}

/*
====================================
ANTI-FORGERY CONFIG
====================================
*/

// AntiForgeryConfig controls fetching and attaching the anti-forgery token.
type AntiForgeryConfig struct {
	Enabled bool `yaml:"enabled"`
	// HeaderName is the request header the token is attached under and the response header it
	// is read from. The name is deployment-specific.
	HeaderName string `yaml:"header_name"`
	CookieName string `yaml:"cookie_name"`
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig tunes the refresh coordinator.
type RefreshConfig struct {
	// Timeout bounds one refresh exchange, including the anti-forgery fetches around it.
	Timeout time.Duration `yaml:"timeout"`
	// Preemptive refreshes before sending when a refresh token is held and the access token is
	// missing or a JWT that expires within ExpirySkew.
	Preemptive bool          `yaml:"preemptive"`
	ExpirySkew time.Duration `yaml:"expiry_skew"`
	// ClearSessionOnRetryDenied clears the session and signals sign-in when a replayed request
	// is denied again.
	ClearSessionOnRetryDenied bool `yaml:"clear_session_on_retry_denied"`
}

/*
====================================
PENDING CONFIG
====================================
*/

// PendingConfig bounds the queue of requests waiting behind an in-flight refresh.
type PendingConfig struct {
	Timeout           time.Duration `yaml:"timeout"`
	MaxQueued         int           `yaml:"max_queued"`
	ReplayConcurrency int           `yaml:"replay_concurrency"`
}

// LogoutConfig tunes Logout.
type LogoutConfig struct {
	// ClearOnTransportError clears local state even when the logout request got no response.
	ClearOnTransportError bool `yaml:"clear_on_transport_error"`
}

// HeadersConfig names the headers the pipeline manages. An empty RequestID disables request
// ids; an empty DefaultContentType disables the default.
type HeadersConfig struct {
	RequestID          string `yaml:"request_id"`
	DefaultContentType string `yaml:"default_content_type"`
}

// StorageConfig configures durable storage of the refresh token.
type StorageConfig struct {
	RedisPrefix string        `yaml:"redis_prefix"`
	TTL         time.Duration `yaml:"ttl"`
	// RestoreOnBuild loads a persisted refresh token into the session during Build.
	RestoreOnBuild bool `yaml:"restore_on_build"`
}

// AuditConfig controls the asynchronous audit sink.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	DropIfFull bool `yaml:"drop_if_full"`
}

type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the configuration used by [New] before any option is applied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Endpoints: EndpointsConfig{
			AntiForgery: "/anti-forgery-cookie",
			Refresh:     "/auth/refresh",
			Logout:      "/auth/logout",
			SignIn:      "/auth/signin",
		},
		AntiForgery: AntiForgeryConfig{
			Enabled:    true,
			HeaderName: "X-CSRF-Token",
			CookieName: "XSRF-TOKEN",
		},
		Refresh: RefreshConfig{
			Timeout:                   15 * time.Second,
			Preemptive:                true,
			ExpirySkew:                30 * time.Second,
			ClearSessionOnRetryDenied: true,
		},
		Pending: PendingConfig{
			Timeout:           30 * time.Second,
			MaxQueued:         1024,
			ReplayConcurrency: 8,
		},
		Logout: LogoutConfig{
			ClearOnTransportError: false,
		},
		Headers: HeadersConfig{
			RequestID:          "X-Request-ID",
			DefaultContentType: "application/json",
		},
		Storage: StorageConfig{
			RedisPrefix:    "authgate",
			TTL:            0,
			RestoreOnBuild: true,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		MaxErrorBodyBytes:      defaultMaxErrorBodyBytes,
		MaxCredentialBodyBytes: defaultMaxCredentialBodyBytes,
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks cfg for internal consistency. It does not contact the identity service.
func (c *Config) Validate() error {
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.New("BaseURL must be an absolute URL")
		}
	}

	endpoints := []struct{ name, value string }{
		{"AntiForgery", c.Endpoints.AntiForgery},
		{"Refresh", c.Endpoints.Refresh},
		{"Logout", c.Endpoints.Logout},
		{"SignIn", c.Endpoints.SignIn},
	}
	for _, ep := range endpoints {
		if strings.TrimSpace(ep.value) == "" {
			return errors.New("Endpoints " + ep.name + " must be set")
		}
		if _, err := c.resolve(ep.value); err != nil {
			return errors.New("Endpoints " + ep.name + ": " + err.Error())
		}
	}

	if c.AntiForgery.Enabled {
		if strings.TrimSpace(c.AntiForgery.HeaderName) == "" {
			return errors.New("AntiForgery HeaderName must be set when enabled")
		}
		if http.CanonicalHeaderKey(c.AntiForgery.HeaderName) == "Authorization" {
			return errors.New("AntiForgery HeaderName must not be Authorization")
		}
	}

	if c.Refresh.Timeout <= 0 {
		return errors.New("Refresh Timeout must be > 0")
	}
	if c.Refresh.ExpirySkew < 0 {
		return errors.New("Refresh ExpirySkew must be >= 0")
	}

	if c.Pending.Timeout < 0 {
		return errors.New("Pending Timeout must be >= 0")
	}
	if c.Pending.MaxQueued < 0 {
		return errors.New("Pending MaxQueued must be >= 0")
	}
	if c.Pending.ReplayConcurrency < 0 {
		return errors.New("Pending ReplayConcurrency must be >= 0")
	}

	if c.Storage.TTL < 0 {
		return errors.New("Storage TTL must be >= 0")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	if c.MaxErrorBodyBytes <= 0 {
		return errors.New("MaxErrorBodyBytes must be > 0")
	}
	if c.MaxCredentialBodyBytes <= 0 {
		return errors.New("MaxCredentialBodyBytes must be > 0")
	}
	return nil
}

// resolve turns an endpoint path into an absolute URL.
func (c *Config) resolve(endpoint string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return "", errors.New("invalid URL")
	}
	if ref.IsAbs() {
		if ref.Host == "" {
			return "", errors.New("absolute URL without host")
		}
		return ref.String(), nil
	}
	if c.BaseURL == "" {
		return "", errors.New("relative path requires BaseURL")
	}
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", errors.New("invalid BaseURL")
	}
	return base.ResolveReference(ref).String(), nil
}
