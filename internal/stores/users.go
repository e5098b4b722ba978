package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrUserNotFound is returned when a user record does not exist.
	ErrUserNotFound = errors.New("user record not found")
	// ErrUserExists is returned when creating over an existing user ID.
	ErrUserExists = errors.New("user record already exists")
	// ErrUserConflict is returned when the compare-and-swap retry budget
	// is exhausted by concurrent writers.
	ErrUserConflict = errors.New("user record update conflict")
	// ErrUserStoreUnavailable wraps transport-level Redis failures.
	ErrUserStoreUnavailable = errors.New("user store unavailable")
)

const userRecordVersion = 1

// casUpdateScript is a plain value compare-and-swap: the write succeeds
// only when the stored blob still equals what the caller read.
const casUpdateScript = `
local cur = redis.call("GET", KEYS[1])
if not cur then
  return 0
end
if cur ~= ARGV[1] then
  return 0
end
redis.call("SET", KEYS[1], ARGV[2])
return 1
`

var casUpdateLua = redis.NewScript(casUpdateScript)

// claimIndexScript claims a secondary index key for a user. The first
// claimant wins; later callers get the existing owner back. There is no
// silent overwrite: a provider subject belongs to exactly one user.
const claimIndexScript = `
local owner = redis.call("GET", KEYS[1])
if owner then
  return owner
end
redis.call("SET", KEYS[1], ARGV[1])
return ARGV[1]
`

var claimIndexLua = redis.NewScript(claimIndexScript)

// ProviderLink records one linked identity provider on a user.
type ProviderLink struct {
	Subject  string `json:"subject"`
	Email    string `json:"email,omitempty"`
	LinkedAt int64  `json:"linked_at"`
}

// UserRecord is the durable identity record. Role and verification are
// stored as strings; the engine layer owns the typed domain rules
// (monotonic role, forward-only verification).
type UserRecord struct {
	Version int    `json:"v"`
	UserID  string `json:"user_id"`

	Role           string `json:"role"`
	RoleAssignedAt int64  `json:"role_assigned_at,omitempty"`
	RoleAssignedBy string `json:"role_assigned_by,omitempty"`

	PrimaryEmail string   `json:"primary_email,omitempty"`
	Emails       []string `json:"emails,omitempty"`

	Verification         string `json:"verification"`
	VerificationMarkedAt int64  `json:"verification_marked_at,omitempty"`
	VerificationMarkedBy string `json:"verification_marked_by,omitempty"`

	LinkedProviders  []string                `json:"linked_providers,omitempty"`
	ProviderMetadata map[string]ProviderLink `json:"provider_metadata,omitempty"`
	LastProviderUsed string                  `json:"last_provider_used,omitempty"`

	// RevocationID is a per-user monotonic counter. Incrementing it
	// invalidates every outstanding token carrying an older rev claim.
	RevocationID uint64 `json:"revocation_id"`

	CreatedAt int64 `json:"created_at"`
}

// HasLinkedOAuthProvider reports whether any non-email provider is linked.
func (u *UserRecord) HasLinkedOAuthProvider() bool {
	for _, p := range u.LinkedProviders {
		if p != "email" {
			return true
		}
	}
	return false
}

// HasEmail reports whether the given address belongs to this user.
func (u *UserRecord) HasEmail(email string) bool {
	if u.PrimaryEmail == email {
		return true
	}
	for _, e := range u.Emails {
		if e == email {
			return true
		}
	}
	return false
}

// UserStore persists user records and the secondary indexes used to
// resolve emails and provider subjects back to user IDs.
type UserStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewUserStore creates a [UserStore] with the given key prefix.
func NewUserStore(redisClient redis.UniversalClient, prefix string) *UserStore {
	if prefix == "" {
		prefix = "acu"
	}
	return &UserStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *UserStore) userKey(userID string) string {
	return s.prefix + ":" + userID
}

func (s *UserStore) emailKey(email string) string {
	return s.prefix + ":email:" + email
}

func (s *UserStore) subjectKey(provider, subject string) string {
	return s.prefix + ":prov:" + provider + ":" + subject
}

// Create persists a brand-new user record. Fails with [ErrUserExists] if
// the ID is already taken.
func (s *UserStore) Create(ctx context.Context, rec *UserRecord) error {
	rec.Version = userRecordVersion
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	ok, err := s.redis.SetNX(ctx, s.userKey(rec.UserID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUserStoreUnavailable, err)
	}
	if !ok {
		return ErrUserExists
	}

	return nil
}

// Get fetches a user record by ID.
func (s *UserStore) Get(ctx context.Context, userID string) (*UserRecord, error) {
	rec, _, err := s.getRaw(ctx, userID)
	return rec, err
}

func (s *UserStore) getRaw(ctx context.Context, userID string) (*UserRecord, []byte, error) {
	data, err := s.redis.Get(ctx, s.userKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil, ErrUserNotFound
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrUserStoreUnavailable, err)
	}

	var rec UserRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, nil, fmt.Errorf("%w: corrupt user record: %v", ErrUserStoreUnavailable, err)
	}
	if rec.Version != userRecordVersion {
		return nil, nil, fmt.Errorf("%w: unknown user record version %d", ErrUserStoreUnavailable, rec.Version)
	}

	return &rec, data, nil
}

const userUpdateAttempts = 3

// Update applies mutate under a value compare-and-swap. On contention the
// read-mutate-write cycle is retried against the fresh record; after the
// attempt budget is exhausted the caller receives [ErrUserConflict].
// Returning an error from mutate aborts the update and surfaces that error.
func (s *UserStore) Update(ctx context.Context, userID string, mutate func(*UserRecord) error) (*UserRecord, error) {
	for attempt := 0; attempt < userUpdateAttempts; attempt++ {
		rec, old, err := s.getRaw(ctx, userID)
		if err != nil {
			return nil, err
		}

		if err := mutate(rec); err != nil {
			return nil, err
		}
		rec.Version = userRecordVersion

		next, err := json.Marshal(rec)
		if err != nil {
			return nil, err
		}

		swapped, err := casUpdateLua.Run(ctx, s.redis, []string{s.userKey(userID)}, old, next).Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUserStoreUnavailable, err)
		}
		if swapped == 1 {
			return rec, nil
		}
	}

	return nil, ErrUserConflict
}

// GetIDByEmail resolves an email to its owning user ID, or "" when the
// address is unclaimed.
func (s *UserStore) GetIDByEmail(ctx context.Context, email string) (string, error) {
	return s.lookupIndex(ctx, s.emailKey(email))
}

// GetIDBySubject resolves a provider subject to its owning user ID, or ""
// when the subject is unclaimed.
func (s *UserStore) GetIDBySubject(ctx context.Context, provider, subject string) (string, error) {
	return s.lookupIndex(ctx, s.subjectKey(provider, subject))
}

func (s *UserStore) lookupIndex(ctx context.Context, key string) (string, error) {
	owner, err := s.redis.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("%w: %v", ErrUserStoreUnavailable, err)
	}
	return owner, nil
}

// ClaimEmail claims an email for a user and returns the owning user ID
// after the claim: the caller's own ID when it won, the prior owner's
// otherwise.
func (s *UserStore) ClaimEmail(ctx context.Context, email, userID string) (string, error) {
	return s.claimIndex(ctx, s.emailKey(email), userID)
}

// ClaimProviderSubject claims a provider subject for a user. A subject
// belongs to exactly one user globally; callers must reject the operation
// when the returned owner differs from the requested user.
func (s *UserStore) ClaimProviderSubject(ctx context.Context, provider, subject, userID string) (string, error) {
	return s.claimIndex(ctx, s.subjectKey(provider, subject), userID)
}

func (s *UserStore) claimIndex(ctx context.Context, key, userID string) (string, error) {
	owner, err := claimIndexLua.Run(ctx, s.redis, []string{key}, userID).Text()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUserStoreUnavailable, err)
	}
	return owner, nil
}

// ReleaseProviderSubject removes a subject claim. Used only for best-effort
// cleanup when a multi-step link fails after the claim succeeded.
func (s *UserStore) ReleaseProviderSubject(ctx context.Context, provider, subject string) error {
	if err := s.redis.Del(ctx, s.subjectKey(provider, subject)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUserStoreUnavailable, err)
	}
	return nil
}
