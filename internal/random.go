package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

// SessionID is a 128-bit random session identifier.
type SessionID [16]byte

const (
	refreshTokenRawSize = 48
	refreshSecretSize   = 32
)

// NewSessionID generates a cryptographically random session identifier.
func NewSessionID() (SessionID, error) {
	var sid SessionID
	_, err := rand.Read(sid[:])
	return sid, err
}

func (s SessionID) Bytes() []byte {
	return s[:]
}

func (s SessionID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(s[:])
}

// ParseSessionID decodes the base64url form back into a SessionID.
func ParseSessionID(sessionID string) (SessionID, error) {
	var sid SessionID

	raw, err := base64.RawURLEncoding.DecodeString(sessionID)
	if err != nil {
		return sid, err
	}
	if len(raw) != len(sid) {
		return sid, errors.New("invalid session id size")
	}

	copy(sid[:], raw)
	return sid, nil
}

// NewRandomToken returns a URL-safe random token carrying the requested
// number of bits of entropy. Tokens are pure randomness, never derived from
// a signing secret: there is no "forge by guessing the secret" surface.
func NewRandomToken(bits int) (string, error) {
	if bits < 64 || bits%8 != 0 {
		return "", errors.New("invalid token bit size")
	}

	raw := make([]byte, bits/8)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashToken returns the SHA-256 digest of an opaque token. Stores persist
// only the digest, so a leaked datastore does not yield usable tokens.
func HashToken(token string) [32]byte {
	return sha256.Sum256([]byte(token))
}

// NewRefreshSecret generates the 256-bit secret half of a refresh token.
func NewRefreshSecret() ([refreshSecretSize]byte, error) {
	var secret [refreshSecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

// HashRefreshSecret hashes a refresh secret for storage.
func HashRefreshSecret(secret [refreshSecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// EncodeRefreshToken packs a session ID and refresh secret into the opaque
// refresh token wire form: sessionID(16) || secret(32), base64url.
func EncodeRefreshToken(sessionID string, secret [refreshSecretSize]byte) (string, error) {
	sid, err := ParseSessionID(sessionID)
	if err != nil {
		return "", err
	}

	var raw [refreshTokenRawSize]byte
	copy(raw[:len(sid)], sid[:])
	copy(raw[len(sid):], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// DecodeRefreshToken splits an opaque refresh token back into its session
// ID and secret. The secret itself is never stored server-side; only its
// hash is.
func DecodeRefreshToken(token string) (string, [refreshSecretSize]byte, error) {
	var secret [refreshSecretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", secret, err
	}
	if len(raw) != refreshTokenRawSize {
		return "", secret, errors.New("invalid refresh token size")
	}

	var sid SessionID
	copy(sid[:], raw[:len(sid)])
	copy(secret[:], raw[len(sid):])

	return sid.String(), secret, nil
}
