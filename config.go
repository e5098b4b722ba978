package authcore

import (
	"errors"
	"strings"
	"time"
)

// Config is the full engine configuration.
//
// Config instances are intended to be configured during initialization and
// then treated as immutable.
type Config struct {
	JWT            JWTConfig
	Session        SessionConfig
	MagicLink      MagicLinkConfig
	Federation     FederationConfig
	Audit          AuditConfig
	Metrics        MetricsConfig
	ValidationMode ValidationMode
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures access-token signing and validation.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	// Audience must name the deployment environment (for example
	// "authcore-prod"). Tokens minted for one audience never validate in
	// another, which blocks cross-environment replay.
	Audience string
	// Leeway absorbs clock skew between issuer and validator. Default 60s.
	Leeway     time.Duration
	KeyID      string
	VerifyKeys map[string][]byte
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig configures session persistence and the per-user cap.
type SessionConfig struct {
	RedisPrefix string
	// Lifetime bounds the refresh token: the session dies this long after
	// creation regardless of rotation activity. Default 7 days.
	Lifetime time.Duration
	// MaxPerUser caps non-revoked sessions per user; the oldest session is
	// evicted when the cap would be exceeded. Default 5.
	MaxPerUser int
}

/*
====================================
MAGIC LINK CONFIG
====================================
*/

// MagicLinkConfig configures passwordless login.
type MagicLinkConfig struct {
	Enabled bool
	// TokenTTL bounds how long an issued link stays consumable. Default 1h.
	TokenTTL time.Duration
	// BaseURL prefixes the verification URL placed in outgoing mail.
	BaseURL string
	// MaxPerEmail / MaxPerSource are fixed-window request budgets.
	// Defaults: 5 per email and 20 per source address per Window (1h).
	MaxPerEmail          int
	MaxPerSource         int
	Window               time.Duration
	EnableSourceThrottle bool
	// MailTimeout bounds the mailer call. Delivery that does not confirm
	// within the timeout is treated as failed.
	MailTimeout time.Duration
}

/*
====================================
FEDERATION CONFIG
====================================
*/

// FederationConfig configures OAuth callback resolution.
type FederationConfig struct {
	// AllowedProviders is the provider allow-list. Empty means any
	// provider name is accepted (useful in tests).
	AllowedProviders []string
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig configures the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull makes Emit drop events instead of blocking when the
	// buffer is full. Dropped events are counted.
	DropIfFull bool
}

// MetricsConfig configures in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the baseline configuration: 15-minute access
// tokens, 7-day sessions capped at 5 per user, 1-hour magic links with
// the standard request budgets, audit and metrics enabled.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "ed25519",
			Issuer:        "authcore",
			Audience:      "authcore-dev",
			Leeway:        60 * time.Second,
		},
		Session: SessionConfig{
			RedisPrefix: "acs",
			Lifetime:    7 * 24 * time.Hour,
			MaxPerUser:  5,
		},
		MagicLink: MagicLinkConfig{
			Enabled:              true,
			TokenTTL:             time.Hour,
			MaxPerEmail:          5,
			MaxPerSource:         20,
			Window:               time.Hour,
			EnableSourceThrottle: true,
			MailTimeout:          10 * time.Second,
		},
		Federation: FederationConfig{
			AllowedProviders: []string{"google", "github"},
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		ValidationMode: ModeStrict,
	}
}

func validateConfig(cfg Config) error {
	if cfg.JWT.AccessTTL <= 0 {
		return errors.New("JWT.AccessTTL must be positive")
	}
	if strings.TrimSpace(cfg.JWT.Audience) == "" {
		return errors.New("JWT.Audience is required")
	}
	if cfg.Session.Lifetime <= 0 {
		return errors.New("Session.Lifetime must be positive")
	}
	if cfg.Session.MaxPerUser <= 0 {
		return errors.New("Session.MaxPerUser must be positive")
	}
	if cfg.JWT.AccessTTL >= cfg.Session.Lifetime {
		return errors.New("JWT.AccessTTL must be shorter than Session.Lifetime")
	}
	if cfg.MagicLink.Enabled {
		if cfg.MagicLink.TokenTTL <= 0 {
			return errors.New("MagicLink.TokenTTL must be positive")
		}
		if cfg.MagicLink.MaxPerEmail <= 0 || cfg.MagicLink.Window <= 0 {
			return errors.New("MagicLink rate budget must be positive")
		}
		if cfg.MagicLink.EnableSourceThrottle && cfg.MagicLink.MaxPerSource <= 0 {
			return errors.New("MagicLink.MaxPerSource must be positive when source throttling is enabled")
		}
		if cfg.MagicLink.MailTimeout <= 0 {
			return errors.New("MagicLink.MailTimeout must be positive")
		}
	}
	switch cfg.ValidationMode {
	case ModeStrict, ModeJWTOnly:
	default:
		return errors.New("invalid validation mode")
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = append([]byte(nil), cfg.JWT.PrivateKey...)
	out.JWT.PublicKey = append([]byte(nil), cfg.JWT.PublicKey...)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = append([]byte(nil), key...)
		}
	}
	out.Federation.AllowedProviders = append([]string(nil), cfg.Federation.AllowedProviders...)
	return out
}
