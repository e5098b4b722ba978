package authcore

import "errors"

var (
	// ErrEngineNotReady is returned when the engine was not fully built.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrUnauthorized is the generic authentication failure.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrPermissionDenied is the generic authorization failure. It never
	// names the role that would have been required.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrUserNotFound is returned when a user record does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrStoreUnavailable wraps datastore transport failures. Operations
	// fail closed: an unconfirmed write is reported as a failure.
	ErrStoreUnavailable = errors.New("auth store unavailable")

	// ErrMagicLinkDisabled is returned when passwordless login is off.
	ErrMagicLinkDisabled = errors.New("magic link disabled")
	// ErrMagicLinkInvalid covers absent, expired, and already-used tokens
	// uniformly so callers cannot enumerate token state.
	ErrMagicLinkInvalid = errors.New("magic link invalid or already used")
	// ErrMagicLinkRateLimited is returned when the per-email or per-source
	// budget is exhausted.
	ErrMagicLinkRateLimited = errors.New("magic link rate limited")
	// ErrMailerUnavailable is returned when the mail collaborator failed;
	// no consumable token is left behind.
	ErrMailerUnavailable = errors.New("mailer unavailable")
	// ErrInvalidEmail is returned for syntactically unusable addresses.
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrEmailNotVerified rejects federation against an unverified
	// provider email.
	ErrEmailNotVerified = errors.New("provider email not verified")
	// ErrAccountAlreadyLinked rejects linking a provider subject that
	// belongs to a different account. There is no silent overwrite.
	ErrAccountAlreadyLinked = errors.New("provider account already linked")
	// ErrEmailAlreadyRegistered is returned when a concurrent signup
	// claimed the email first.
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	// ErrProviderNotAllowed is returned for providers outside the
	// configured allow-list.
	ErrProviderNotAllowed = errors.New("identity provider not allowed")

	// ErrSessionNotFound is returned when a session is absent or expired.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionRevoked is returned for explicitly revoked sessions.
	ErrSessionRevoked = errors.New("session revoked")
	// ErrSessionEvicted is returned when the session was displaced by the
	// per-user cap. Distinct from a generic auth failure so the evicted
	// device can explain itself.
	ErrSessionEvicted = errors.New("session evicted")
	// ErrRefreshInvalid is returned for undecodable refresh tokens.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrRefreshReuse is returned to the losers of a refresh rotation
	// race, including replayed old tokens.
	ErrRefreshReuse = errors.New("refresh token reuse detected")
	// ErrTokenRevoked is returned when a token's rev claim lags the
	// user's revocation counter.
	ErrTokenRevoked = errors.New("token revoked")

	// ErrRoleRegression rejects any attempt to lower a user's role.
	ErrRoleRegression = errors.New("role may not regress")
	// ErrRoleInvalid is returned for unknown role names.
	ErrRoleInvalid = errors.New("invalid role")
)

// ErrorCode maps an engine error to a stable machine-readable code for
// API responses. Unknown errors map to INTERNAL.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrMagicLinkInvalid):
		return "MAGIC_LINK_INVALID"
	case errors.Is(err, ErrMagicLinkRateLimited):
		return "RATE_LIMITED"
	case errors.Is(err, ErrMailerUnavailable):
		return "MAILER_UNAVAILABLE"
	case errors.Is(err, ErrInvalidEmail):
		return "INVALID_EMAIL"
	case errors.Is(err, ErrEmailNotVerified):
		return "EMAIL_NOT_VERIFIED"
	case errors.Is(err, ErrAccountAlreadyLinked):
		return "ACCOUNT_ALREADY_LINKED"
	case errors.Is(err, ErrEmailAlreadyRegistered):
		return "EMAIL_ALREADY_REGISTERED"
	case errors.Is(err, ErrProviderNotAllowed):
		return "PROVIDER_NOT_ALLOWED"
	case errors.Is(err, ErrSessionEvicted):
		return "SESSION_EVICTED"
	case errors.Is(err, ErrSessionRevoked):
		return "SESSION_REVOKED"
	case errors.Is(err, ErrSessionNotFound):
		return "SESSION_NOT_FOUND"
	case errors.Is(err, ErrRefreshReuse):
		return "REFRESH_REUSED"
	case errors.Is(err, ErrRefreshInvalid):
		return "REFRESH_INVALID"
	case errors.Is(err, ErrTokenRevoked):
		return "TOKEN_REVOKED"
	case errors.Is(err, ErrPermissionDenied):
		return "FORBIDDEN"
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrUserNotFound):
		return "USER_NOT_FOUND"
	case errors.Is(err, ErrRoleRegression), errors.Is(err, ErrRoleInvalid):
		return "ROLE_INVALID"
	default:
		return "INTERNAL"
	}
}
