package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"
)

func hsConfig() Config {
	return Config{
		AccessTTL:     15 * time.Minute,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("unit-test-secret"),
		Issuer:        "authcore",
		Audience:      "authcore-test",
	}
}

func edConfig(t *testing.T) Config {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return Config{
		AccessTTL:     15 * time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "authcore",
		Audience:      "authcore-test",
	}
}

func mustManager(t *testing.T, cfg Config) *Manager {
	t.Helper()

	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestCreateAndParseAccess(t *testing.T) {
	for _, tc := range []struct {
		name string
		cfg  func(t *testing.T) Config
	}{
		{"hs256", func(*testing.T) Config { return hsConfig() }},
		{"ed25519", edConfig},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := mustManager(t, tc.cfg(t))

			token, err := m.CreateAccess("user-1", "free", "sess-1", "jti-1", 3)
			if err != nil {
				t.Fatalf("CreateAccess: %v", err)
			}

			claims, err := m.ParseAccess(token)
			if err != nil {
				t.Fatalf("ParseAccess: %v", err)
			}
			if claims.Subject != "user-1" || claims.SID != "sess-1" {
				t.Fatalf("claims = %+v", claims)
			}
			if claims.Role != "free" || claims.Anonymous() {
				t.Fatalf("role = %q, anonymous = %v", claims.Role, claims.Anonymous())
			}
			if claims.Rev != 3 {
				t.Fatalf("rev = %d, want 3", claims.Rev)
			}
		})
	}
}

func TestAnonymousClaimShape(t *testing.T) {
	m := mustManager(t, hsConfig())

	token, err := m.CreateAnonymous("user-1", "sess-1", "jti-1", 0)
	if err != nil {
		t.Fatalf("CreateAnonymous: %v", err)
	}

	claims, err := m.ParseAccess(token)
	if err != nil {
		t.Fatalf("ParseAccess: %v", err)
	}
	if !claims.Anonymous() {
		t.Fatal("anonymous token must have no role claim")
	}
	if claims.Role != "" {
		t.Fatalf("role = %q, want empty", claims.Role)
	}
}

func TestCreateAccessRequiresRole(t *testing.T) {
	m := mustManager(t, hsConfig())

	if _, err := m.CreateAccess("user-1", "", "sess-1", "jti-1", 0); err == nil {
		t.Fatal("expected error for authenticated token without a role")
	}
}

func TestParseRejectsWrongAudience(t *testing.T) {
	issuing := mustManager(t, hsConfig())

	cfg := hsConfig()
	cfg.Audience = "authcore-prod"
	verifying := mustManager(t, cfg)

	token, err := issuing.CreateAccess("user-1", "free", "sess-1", "jti-1", 0)
	if err != nil {
		t.Fatalf("CreateAccess: %v", err)
	}

	if _, err := verifying.ParseAccess(token); !errors.Is(err, ErrTokenWrongAudience) {
		t.Fatalf("cross-audience parse = %v, want ErrTokenWrongAudience", err)
	}
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	issuing := mustManager(t, hsConfig())

	cfg := hsConfig()
	cfg.Issuer = "someone-else"
	verifying := mustManager(t, cfg)

	token, err := issuing.CreateAccess("user-1", "free", "sess-1", "jti-1", 0)
	if err != nil {
		t.Fatalf("CreateAccess: %v", err)
	}

	if _, err := verifying.ParseAccess(token); !errors.Is(err, ErrTokenWrongIssuer) {
		t.Fatalf("cross-issuer parse = %v, want ErrTokenWrongIssuer", err)
	}
}

func TestParseRejectsBadSignature(t *testing.T) {
	issuing := mustManager(t, hsConfig())

	cfg := hsConfig()
	cfg.PrivateKey = []byte("a-different-secret")
	verifying := mustManager(t, cfg)

	token, err := issuing.CreateAccess("user-1", "free", "sess-1", "jti-1", 0)
	if err != nil {
		t.Fatalf("CreateAccess: %v", err)
	}

	if _, err := verifying.ParseAccess(token); !errors.Is(err, ErrTokenBadSignature) {
		t.Fatalf("forged token parse = %v, want ErrTokenBadSignature", err)
	}
}

func TestParseRejectsExpired(t *testing.T) {
	cfg := hsConfig()
	cfg.AccessTTL = time.Nanosecond
	m := mustManager(t, cfg)

	token, err := m.CreateAccess("user-1", "free", "sess-1", "jti-1", 0)
	if err != nil {
		t.Fatalf("CreateAccess: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if _, err := m.ParseAccess(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expired parse = %v, want ErrTokenExpired", err)
	}
}

func TestLeewayAcceptsRecentlyExpired(t *testing.T) {
	cfg := hsConfig()
	cfg.AccessTTL = time.Nanosecond
	cfg.Leeway = time.Minute
	m := mustManager(t, cfg)

	token, err := m.CreateAccess("user-1", "free", "sess-1", "jti-1", 0)
	if err != nil {
		t.Fatalf("CreateAccess: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if _, err := m.ParseAccess(token); err != nil {
		t.Fatalf("parse within leeway = %v, want success", err)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	m := mustManager(t, hsConfig())

	for _, input := range []string{"", "garbage", "a.b.c"} {
		if _, err := m.ParseAccess(input); !errors.Is(err, ErrTokenMalformed) {
			t.Fatalf("ParseAccess(%q) = %v, want ErrTokenMalformed", input, err)
		}
	}
}

func TestVerifyKeysRequireKnownKid(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	cfg := Config{
		AccessTTL:     15 * time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		Issuer:        "authcore",
		Audience:      "authcore-test",
		KeyID:         "2026-08",
		VerifyKeys:    map[string][]byte{"2026-08": pub},
	}
	m := mustManager(t, cfg)

	token, err := m.CreateAccess("user-1", "free", "sess-1", "jti-1", 0)
	if err != nil {
		t.Fatalf("CreateAccess: %v", err)
	}
	if _, err := m.ParseAccess(token); err != nil {
		t.Fatalf("ParseAccess with kid: %v", err)
	}

	// A verifier that no longer trusts that kid rejects the token.
	other := cfg
	other.KeyID = "2026-09"
	_, otherPriv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	otherPub := otherPriv.Public().(ed25519.PublicKey)
	other.PrivateKey = otherPriv
	other.VerifyKeys = map[string][]byte{"2026-09": otherPub}

	verifier := mustManager(t, other)
	if _, err := verifier.ParseAccess(token); err == nil {
		t.Fatal("expected rejection for unknown kid")
	}
}

func TestNewManagerValidation(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{"zero ttl", func(cfg *Config) { cfg.AccessTTL = 0 }},
		{"excessive leeway", func(cfg *Config) { cfg.Leeway = time.Hour }},
		{"missing audience", func(cfg *Config) { cfg.Audience = "" }},
		{"missing hmac secret", func(cfg *Config) { cfg.PrivateKey = nil }},
		{"unknown method", func(cfg *Config) { cfg.SigningMethod = "rs512" }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := hsConfig()
			tc.mutate(&cfg)
			if _, err := NewManager(cfg); err == nil {
				t.Fatal("expected configuration error")
			}
		})
	}
}
