package authcore

import (
	"crypto/ed25519"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/tickerboard/authcore/internal/rate"
	"github.com/tickerboard/authcore/internal/stores"
	"github.com/tickerboard/authcore/jwt"
	"github.com/tickerboard/authcore/session"
)

const (
	userStorePrefix      = "acu"
	magicLinkStorePrefix = "acml"
)

// Builder assembles an [Engine]. Configure it with the With* methods and
// call Build exactly once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	mailer    Mailer
	auditSink AuditSink

	built bool
}

// New returns a [Builder] seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the full configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing all durable state.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithMailer sets the magic-link mail collaborator. Without one,
// magic-link requests fail with [ErrMailerUnavailable].
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithAuditSink sets the destination for audit events.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the validation latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and assembles the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	jwtCfg, err := buildJWTConfig(cfg.JWT)
	if err != nil {
		return nil, err
	}
	jwtManager, err := jwt.NewManager(jwtCfg)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:     cfg,
		redis:      b.redis,
		jwtManager: jwtManager,
		users:      stores.NewUserStore(b.redis, userStorePrefix),
		magicLinks: stores.NewMagicLinkStore(b.redis, magicLinkStorePrefix),
		sessions:   session.NewStore(b.redis, cfg.Session.RedisPrefix),
		limiter: rate.New(b.redis, rate.Config{
			EnableSourceThrottle: cfg.MagicLink.EnableSourceThrottle,
			MaxPerEmail:          cfg.MagicLink.MaxPerEmail,
			MaxPerSource:         cfg.MagicLink.MaxPerSource,
			Window:               cfg.MagicLink.Window,
		}),
		mailer:  b.mailer,
		audit:   newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics: NewMetrics(cfg.Metrics),
	}

	b.built = true
	return engine, nil
}

func buildJWTConfig(cfg JWTConfig) (jwt.Config, error) {
	method := jwt.SigningMethod(cfg.SigningMethod)
	if method == "" {
		method = jwt.MethodEd25519
	}

	out := jwt.Config{
		AccessTTL:     cfg.AccessTTL,
		SigningMethod: method,
		PrivateKey:    cfg.PrivateKey,
		PublicKey:     cfg.PublicKey,
		Issuer:        cfg.Issuer,
		Audience:      cfg.Audience,
		Leeway:        cfg.Leeway,
		KeyID:         cfg.KeyID,
		VerifyKeys:    cfg.VerifyKeys,
	}

	if len(out.PrivateKey) == 0 {
		return jwt.Config{}, errors.New("JWT.PrivateKey is required")
	}

	// Derive the verify key from an ed25519 private key when the caller
	// did not supply one separately.
	if method == jwt.MethodEd25519 && len(out.PublicKey) == 0 && len(out.VerifyKeys) == 0 &&
		len(out.PrivateKey) == ed25519.PrivateKeySize {
		priv := ed25519.PrivateKey(out.PrivateKey)
		out.PublicKey = []byte(priv.Public().(ed25519.PublicKey))
	}

	return out, nil
}
