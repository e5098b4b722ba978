package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the signature algorithm for issued tokens.
type SigningMethod string

const (
	// MethodEd25519 signs tokens with an Ed25519 key pair.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs tokens with a shared HMAC secret.
	MethodHS256 SigningMethod = "hs256"
)

// Typed validation errors. Callers distinguish these with errors.Is; the
// HTTP layer maps all of them to a generic 401 so the distinction never
// leaks to clients.
var (
	// ErrTokenExpired is returned when exp (minus leeway) has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenMalformed is returned for tokens that do not parse.
	ErrTokenMalformed = errors.New("token malformed")
	// ErrTokenBadSignature is returned when the signature does not verify.
	ErrTokenBadSignature = errors.New("token signature invalid")
	// ErrTokenWrongAudience is returned when aud does not match this environment.
	ErrTokenWrongAudience = errors.New("token audience mismatch")
	// ErrTokenWrongIssuer is returned when iss does not match.
	ErrTokenWrongIssuer = errors.New("token issuer mismatch")
)

// Config holds the signing and validation policy for a [Manager].
//
// Config instances are intended to be configured during initialization and
// then treated as immutable.
type Config struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	// Audience is environment-specific (dev/staging/prod) to prevent
	// cross-environment token replay.
	Audience     string
	Leeway       time.Duration
	RequireIAT   bool
	MaxFutureIAT time.Duration
	KeyID        string
	VerifyKeys   map[string][]byte
}

// Manager issues and validates signed access tokens.
//
// Manager instances are safe for concurrent use after construction.
type Manager struct {
	config Config
}

// AccessClaims is the authcore claim set. Anonymous tokens omit the role
// claim entirely; [AccessClaims.Anonymous] keys off that shape.
type AccessClaims struct {
	Role string `json:"role,omitempty"`
	SID  string `json:"sid"`
	Rev  uint64 `json:"rev"`
	jwt.RegisteredClaims
}

// Anonymous reports whether this token was produced by the anonymous
// signing path. The decision rests only on the signed claim shape, never on
// anything the client supplied outside the token.
func (c *AccessClaims) Anonymous() bool {
	return c.Role == ""
}

// NewManager validates the configuration and returns a ready [Manager].
//
// NewManager may return an error when the TTL, leeway, or key material is
// invalid for the selected signing method.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if cfg.Audience == "" {
		return nil, errors.New("audience is required")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key or verify key set")
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("KeyID is not present in VerifyKeys")
		}
	}

	return &Manager{config: cfg}, nil
}

// CreateAccess issues an authenticated access token for the given user,
// role, and session. rev snapshots the user's current revocation counter;
// validation rejects the token the moment the counter moves past it.
func (j *Manager) CreateAccess(uid, role, sid, jti string, rev uint64) (string, error) {
	if role == "" {
		return "", errors.New("authenticated token requires a role")
	}
	return j.create(uid, role, sid, jti, rev)
}

// CreateAnonymous issues an anonymous access token: a bare subject and
// session with no role claim. The absent role claim is what marks the
// token anonymous during validation.
func (j *Manager) CreateAnonymous(uid, sid, jti string, rev uint64) (string, error) {
	return j.create(uid, "", sid, jti, rev)
}

func (j *Manager) create(uid, role, sid, jti string, rev uint64) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		Role: role,
		SID:  sid,
		Rev:  rev,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			ID:        jti,
			ExpiresAt: jwt.NewNumericDate(now.Add(j.config.AccessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    j.config.Issuer,
			Audience:  jwt.ClaimStrings{j.config.Audience},
		},
	}

	token := jwt.NewWithClaims(j.getMethod(), claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}

	signKey, err := j.getSignKey()
	if err != nil {
		return "", err
	}

	return token.SignedString(signKey)
}

// ParseAccess verifies the signature, expiry (with leeway), issuer, and
// audience, and returns the decoded claims. Failures map to the typed
// errors declared in this package.
func (j *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.getMethod().Alg()}),
		jwt.WithAudience(j.config.Audience),
		jwt.WithExpirationRequired(),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.RequireIAT {
		options = append(options, jwt.WithIssuedAt())
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &AccessClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != j.getMethod().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}

		if len(j.config.VerifyKeys) > 0 {
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, errors.New("missing kid")
			}
			key, ok := j.config.VerifyKeys[kid]
			if !ok {
				return nil, errors.New("unknown kid")
			}
			return j.keyBytesToVerifyKey(key)
		}

		if j.config.KeyID != "" {
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, errors.New("missing kid")
			}
			if kid != j.config.KeyID {
				return nil, errors.New("unknown kid")
			}
		}

		return j.getVerifyKey()
	})
	if err != nil {
		return nil, classifyParseError(err)
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenMalformed
	}
	if claims.IssuedAt != nil && j.config.MaxFutureIAT > 0 {
		maxAllowed := time.Now().Add(j.config.MaxFutureIAT)
		if claims.IssuedAt.Time.After(maxAllowed) {
			return nil, fmt.Errorf("%w: iat too far in the future", ErrTokenMalformed)
		}
	}
	if claims.Subject == "" || claims.SID == "" {
		return nil, ErrTokenMalformed
	}

	return claims, nil
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrTokenBadSignature, err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return fmt.Errorf("%w: %v", ErrTokenWrongAudience, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return fmt.Errorf("%w: %v", ErrTokenWrongIssuer, err)
	default:
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
}

func (j *Manager) getMethod() jwt.SigningMethod {
	switch j.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (j *Manager) getSignKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return j.config.PrivateKey, nil
	default:
		return parseEdPrivateKey(j.config.PrivateKey)
	}
}

func (j *Manager) getVerifyKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return j.config.PrivateKey, nil
	default:
		return parseEdPublicKey(j.config.PublicKey)
	}
}

func (j *Manager) keyBytesToVerifyKey(key []byte) (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return key, nil
	default:
		return parseEdPublicKey(key)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
