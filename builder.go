package authgate

import (
	"context"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/MrEthical07/authgate/antiforgery"
	"github.com/MrEthical07/authgate/internal/flows"
	"github.com/MrEthical07/authgate/session"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles a [Client] from a Config and optional collaborators. Each With method
// returns the builder for chaining. A builder builds at most one client; a second Build
// fails.
type Builder struct {
	config Config

	base    http.RoundTripper
	jar     http.CookieJar
	durable session.Durable
	redis   redis.UniversalClient

	logger    *zap.Logger
	auditSink AuditSink
	onSignIn  SignInHandler

	built bool
}

// New returns a builder holding [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration. Start from [DefaultConfig] or [LoadConfigFile]
// rather than a zero Config.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithBaseURL sets Config.BaseURL.
func (b *Builder) WithBaseURL(baseURL string) *Builder {
	b.config.BaseURL = baseURL
	return b
}

// WithTransport sets the round tripper requests are finally sent through. Defaults to
// http.DefaultTransport.
func (b *Builder) WithTransport(rt http.RoundTripper) *Builder {
	b.base = rt
	return b
}

// WithCookieJar sets the jar shared by API requests and identity endpoint calls. By default
// a fresh in-memory jar is used.
func (b *Builder) WithCookieJar(jar http.CookieJar) *Builder {
	b.jar = jar
	return b
}

// WithDurable sets the durable storage of the refresh token. It takes precedence over
// [Builder.WithRedis].
func (b *Builder) WithDurable(d session.Durable) *Builder {
	b.durable = d
	return b
}

// WithRedis stores the refresh token in Redis under Config.Storage.RedisPrefix.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithLogger sets the logger. Components log under named children of it.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets the audit sink. Events are only produced when Config.Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithSignInHandler registers the receiver of [SignInRequired] signals.
func (b *Builder) WithSignInHandler(h SignInHandler) *Builder {
	b.onSignIn = h
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the refresh latency histogram. It requires metrics.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns a ready client. When
// Config.Storage.RestoreOnBuild is set, a persisted refresh token is loaded into the session;
// a storage failure at that point is logged, not returned.
//
// A Builder can be built once.
func (b *Builder) Build() (*Client, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b.built = true

	endpoints, err := resolveEndpoints(&cfg)
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	base := b.base
	if base == nil {
		base = http.DefaultTransport
	}
	jar := b.jar
	if jar == nil {
		jar, err = cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
	}

	durable := b.durable
	if durable == nil && b.redis != nil {
		durable = session.NewRedisDurable(b.redis, cfg.Storage.RedisPrefix, cfg.Storage.TTL)
	}

	c := &Client{
		config:      cfg,
		logger:      logger,
		refreshLog:  logger.Named("refresh"),
		pipelineLog: logger.Named("pipeline"),
		store:       session.NewStore(durable),
		base:        base,
		jar:         jar,
		metrics:     NewMetrics(cfg.Metrics),
		onSignIn:    b.onSignIn,
		now:         time.Now,
	}
	c.identity = &http.Client{Transport: base, Jar: jar}

	if cfg.AntiForgery.Enabled {
		c.antiForgery = antiforgery.NewProvider(antiforgery.Config{
			Endpoint:   endpoints.antiForgery,
			HeaderName: cfg.AntiForgery.HeaderName,
			CookieName: cfg.AntiForgery.CookieName,
			OnFetch: func(ok bool) {
				if ok {
					c.metrics.Inc(MetricAntiForgeryFetch)
					return
				}
				c.metrics.Inc(MetricAntiForgeryFailure)
			},
		}, c.identity, logger.Named("antiforgery"))
	}

	c.flows = flows.Deps{
		Refresh: flows.RefreshDeps{
			Client:            c.identity,
			Endpoint:          endpoints.refresh,
			MaxBodyBytes:      cfg.MaxCredentialBodyBytes,
			MaxErrorBodyBytes: cfg.MaxErrorBodyBytes,
		},
		SignIn: flows.SignInDeps{
			Client:            c.identity,
			Endpoint:          endpoints.signIn,
			MaxBodyBytes:      cfg.MaxCredentialBodyBytes,
			MaxErrorBodyBytes: cfg.MaxErrorBodyBytes,
		},
		Logout: flows.LogoutDeps{
			Client:       c.identity,
			Endpoint:     endpoints.logout,
			MaxBodyBytes: cfg.MaxErrorBodyBytes,
		},
	}

	c.transport = &Transport{client: c}
	c.httpClient = &http.Client{Transport: c.transport, Jar: jar}
	c.audit = newAuditDispatcher(cfg.Audit, b.auditSink, logger.Named("audit"))

	if cfg.Storage.RestoreOnBuild {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Refresh.Timeout)
		restored, err := c.store.Restore(ctx)
		cancel()
		switch {
		case err != nil:
			logger.Warn("restoring persisted session failed", zap.Error(err))
		case restored:
			logger.Debug("persisted refresh token restored")
		}
	}

	return c, nil
}

type resolvedEndpoints struct {
	antiForgery string
	refresh     string
	logout      string
	signIn      string
}

func resolveEndpoints(cfg *Config) (resolvedEndpoints, error) {
	var out resolvedEndpoints
	targets := []struct {
		value string
		dst   *string
	}{
		{cfg.Endpoints.AntiForgery, &out.antiForgery},
		{cfg.Endpoints.Refresh, &out.refresh},
		{cfg.Endpoints.Logout, &out.logout},
		{cfg.Endpoints.SignIn, &out.signIn},
	}
	for _, t := range targets {
		u, err := cfg.resolve(t.value)
		if err != nil {
			return resolvedEndpoints{}, err
		}
		*t.dst = u
	}
	return out, nil
}
