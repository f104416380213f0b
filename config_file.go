package authgate

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfigFile reads a YAML configuration over [DefaultConfig], applies AUTHGATE_*
// environment overrides, and validates the result. A missing file is not an error: defaults
// and environment still apply. Unknown YAML keys are rejected.
func LoadConfigFile(path string) (Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse config yaml: %w", err)
		}
	case !os.IsNotExist(err):
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg, err = applyEnv(cfg, os.LookupEnv)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg Config, lookup func(string) (string, bool)) (Config, error) {
	str := func(key string, dst *string) {
		if val, ok := lookup(key); ok && val != "" {
			*dst = val
		}
	}
	var firstErr error
	dur := func(key string, dst *time.Duration) {
		val, ok := lookup(key)
		if !ok || val == "" {
			return
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", key, err)
			}
			return
		}
		*dst = d
	}
	boolean := func(key string, dst *bool) {
		val, ok := lookup(key)
		if !ok || val == "" {
			return
		}
		b, err := strconv.ParseBool(val)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", key, err)
			}
			return
		}
		*dst = b
	}
	bytesLimit := func(key string, dst *int64) {
		val, ok := lookup(key)
		if !ok || val == "" {
			return
		}
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", key, err)
			}
			return
		}
		*dst = n
	}
	integer := func(key string, dst *int) {
		val, ok := lookup(key)
		if !ok || val == "" {
			return
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", key, err)
			}
			return
		}
		*dst = n
	}

	str("AUTHGATE_BASE_URL", &cfg.BaseURL)
	str("AUTHGATE_ANTI_FORGERY_HEADER", &cfg.AntiForgery.HeaderName)
	str("AUTHGATE_ANTI_FORGERY_COOKIE", &cfg.AntiForgery.CookieName)
	boolean("AUTHGATE_ANTI_FORGERY_ENABLED", &cfg.AntiForgery.Enabled)
	dur("AUTHGATE_REFRESH_TIMEOUT", &cfg.Refresh.Timeout)
	boolean("AUTHGATE_REFRESH_PREEMPTIVE", &cfg.Refresh.Preemptive)
	dur("AUTHGATE_PENDING_TIMEOUT", &cfg.Pending.Timeout)
	integer("AUTHGATE_PENDING_MAX_QUEUED", &cfg.Pending.MaxQueued)
	str("AUTHGATE_REDIS_PREFIX", &cfg.Storage.RedisPrefix)
	dur("AUTHGATE_STORAGE_TTL", &cfg.Storage.TTL)
	boolean("AUTHGATE_LOGOUT_CLEAR_ON_TRANSPORT_ERROR", &cfg.Logout.ClearOnTransportError)
	boolean("AUTHGATE_METRICS_ENABLED", &cfg.Metrics.Enabled)
	boolean("AUTHGATE_AUDIT_ENABLED", &cfg.Audit.Enabled)
	bytesLimit("AUTHGATE_MAX_ERROR_BODY_BYTES", &cfg.MaxErrorBodyBytes)
	bytesLimit("AUTHGATE_MAX_CREDENTIAL_BODY_BYTES", &cfg.MaxCredentialBodyBytes)

	if firstErr != nil {
		return Config{}, fmt.Errorf("%w: environment: %v", ErrValidation, firstErr)
	}
	return cfg, nil
}
