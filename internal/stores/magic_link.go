package stores

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const magicLinkRecordVersion = 1

var (
	// ErrMagicLinkNotFound covers absent, expired, and already-consumed
	// tokens alike. The store deliberately reports one outcome for all
	// three so callers cannot build an enumeration or timing oracle.
	ErrMagicLinkNotFound = errors.New("magic link token not found")
	// ErrMagicLinkHashMismatch is returned when the stored digest does not
	// match the presented token.
	ErrMagicLinkHashMismatch = errors.New("magic link token hash mismatch")
	// ErrMagicLinkStoreUnavailable wraps transport-level Redis failures.
	ErrMagicLinkStoreUnavailable = errors.New("magic link store unavailable")
)

// consumeMagicLinkLua atomically performs GET → expiry check → DEL on a
// magic-link record. The DEL is the used=false → used=true transition:
// among N concurrent verifications of the same token, exactly one caller
// receives the record; the rest see not_found.
//
// Record layout: version(1) createdAt(8 BE) expiresAt(8 BE)
// emailLen(2 BE) email secretHash(32).
var consumeMagicLinkLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return {err='not_found'}
end

local nowUnix = tonumber(ARGV[1])

local version = string.byte(data, 1)
if version ~= 1 then
  redis.call('DEL', KEYS[1])
  return {err='not_found'}
end

local expiresAt = 0
for i = 10, 17 do
  expiresAt = expiresAt * 256 + string.byte(data, i)
end

if nowUnix > expiresAt then
  redis.call('DEL', KEYS[1])
  return {err='not_found'}
end

redis.call('DEL', KEYS[1])
return data
`)

// MagicLinkRecord is one issued passwordless token. The token value itself
// is never stored; the record key and SecretHash are both derived from its
// SHA-256 digest.
type MagicLinkRecord struct {
	Email      string
	SecretHash [32]byte
	CreatedAt  int64
	ExpiresAt  int64
}

// MagicLinkStore persists one-time passwordless tokens.
type MagicLinkStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewMagicLinkStore creates a [MagicLinkStore] with the given key prefix.
func NewMagicLinkStore(redisClient redis.UniversalClient, prefix string) *MagicLinkStore {
	if prefix == "" {
		prefix = "acml"
	}
	return &MagicLinkStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *MagicLinkStore) key(tokenHash [32]byte) string {
	return s.prefix + ":" + fmt.Sprintf("%x", tokenHash)
}

// Save persists a magic-link record under the token's digest with the
// given TTL. Expired records vanish on their own; consumption deletes them
// earlier.
func (s *MagicLinkStore) Save(ctx context.Context, tokenHash [32]byte, record *MagicLinkRecord, ttl time.Duration) error {
	encoded, err := encodeMagicLinkRecord(record)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.key(tokenHash), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrMagicLinkStoreUnavailable, err)
	}

	return nil
}

// Delete removes a record. Best-effort cleanup path for tokens whose email
// could not be sent: no send means no consumable token should remain.
func (s *MagicLinkStore) Delete(ctx context.Context, tokenHash [32]byte) error {
	if err := s.redis.Del(ctx, s.key(tokenHash)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrMagicLinkStoreUnavailable, err)
	}
	return nil
}

// Consume atomically claims the record for the presented token. Absent,
// expired, and already-consumed tokens are indistinguishable to the
// caller. The winning caller gets the record exactly once.
func (s *MagicLinkStore) Consume(ctx context.Context, tokenHash [32]byte) (*MagicLinkRecord, error) {
	result, err := consumeMagicLinkLua.Run(ctx, s.redis,
		[]string{s.key(tokenHash)},
		time.Now().Unix(),
	).Result()
	if err != nil {
		if err.Error() == "not_found" {
			return nil, ErrMagicLinkNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrMagicLinkStoreUnavailable, err)
	}

	data, ok := result.(string)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected lua result type", ErrMagicLinkStoreUnavailable)
	}

	record, decErr := decodeMagicLinkRecord([]byte(data))
	if decErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrMagicLinkStoreUnavailable, decErr)
	}

	// Lua string comparison is not constant-time, so the digest check
	// happens here.
	if subtle.ConstantTimeCompare(record.SecretHash[:], tokenHash[:]) != 1 {
		return nil, ErrMagicLinkHashMismatch
	}

	return record, nil
}

func encodeMagicLinkRecord(record *MagicLinkRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(magicLinkRecordVersion)

	if err := binary.Write(&buf, binary.BigEndian, record.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.Email) > 65535 {
		return nil, errors.New("magic link record email too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.Email))); err != nil {
		return nil, err
	}
	buf.WriteString(record.Email)
	buf.Write(record.SecretHash[:])

	return buf.Bytes(), nil
}

func decodeMagicLinkRecord(data []byte) (*MagicLinkRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != magicLinkRecordVersion {
		return nil, errors.New("invalid magic link record version")
	}

	record := &MagicLinkRecord{}

	if err := binary.Read(reader, binary.BigEndian, &record.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var emailLen uint16
	if err := binary.Read(reader, binary.BigEndian, &emailLen); err != nil {
		return nil, err
	}

	email := make([]byte, emailLen)
	if _, err := io.ReadFull(reader, email); err != nil {
		return nil, err
	}
	record.Email = string(email)

	if _, err := io.ReadFull(reader, record.SecretHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}
