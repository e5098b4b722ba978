package authcore

import (
	"context"
	"time"
)

// Role is the four-tier role hierarchy. Roles only ever advance; no code
// path lowers a user's role.
type Role uint8

const (
	// RoleAnonymous is the bootstrap role before any authentication.
	RoleAnonymous Role = iota
	// RoleFree is assigned on first successful authentication.
	RoleFree
	// RolePaid is assigned by the billing path.
	RolePaid
	// RoleOperator is the administrative role.
	RoleOperator
)

func (r Role) String() string {
	switch r {
	case RoleAnonymous:
		return "anonymous"
	case RoleFree:
		return "free"
	case RolePaid:
		return "paid"
	case RoleOperator:
		return "operator"
	default:
		return "unknown"
	}
}

// ParseRole converts a stored role name back to a [Role].
func ParseRole(s string) (Role, error) {
	switch s {
	case "anonymous", "":
		return RoleAnonymous, nil
	case "free":
		return RoleFree, nil
	case "paid":
		return RolePaid, nil
	case "operator":
		return RoleOperator, nil
	default:
		return RoleAnonymous, ErrRoleInvalid
	}
}

// Verification is the email verification state. Transitions are forward
// only: none → pending → verified.
type Verification string

const (
	// VerificationNone means no address has been asserted.
	VerificationNone Verification = "none"
	// VerificationPending means an address is asserted but unproven.
	VerificationPending Verification = "pending"
	// VerificationVerified means ownership was proven by magic link or a
	// provider reporting emailVerified.
	VerificationVerified Verification = "verified"
)

// ValidationMode controls how much state [Engine.Validate] consults.
type ValidationMode int

const (
	// ModeStrict checks the signed token and the live session and user
	// state (revocation counter, eviction). One to two Redis round-trips.
	ModeStrict ValidationMode = iota
	// ModeJWTOnly trusts the signed token alone: zero Redis round-trips,
	// for hot paths that tolerate revocation lag up to the access TTL.
	ModeJWTOnly
)

// ProviderInfo describes one linked identity provider on a user.
type ProviderInfo struct {
	Provider string
	Subject  string
	Email    string
	LinkedAt time.Time
}

// User is a read-only snapshot of an identity record.
type User struct {
	UserID string
	Role   Role

	PrimaryEmail string
	Emails       []string

	Verification         Verification
	VerificationMarkedAt time.Time
	VerificationMarkedBy string

	LinkedProviders  []ProviderInfo
	LastProviderUsed string

	RoleAssignedAt time.Time
	RoleAssignedBy string

	RevocationID uint64
	CreatedAt    time.Time
}

// TokenBundle is the issued credential set for one session: a signed
// access token, an opaque rotating refresh token, and the CSRF value to
// mirror into the csrf cookie.
type TokenBundle struct {
	UserID    string
	SessionID string
	Role      Role
	Anonymous bool

	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	CSRFToken        string
}

// SessionInfo is a read-only session summary for introspection.
type SessionInfo struct {
	SessionID string
	UserID    string
	Role      string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// AuthContext is the trustworthy authorization context extracted from a
// validated token. Every field derives from signed claims or server-side
// state — nothing in it comes from a client-supplied header.
type AuthContext struct {
	UserID    string
	SessionID string
	Role      Role
	Anonymous bool
}

// Allows reports whether the context's role meets the minimum. Anonymous
// contexts never satisfy a role requirement above RoleAnonymous.
func (a *AuthContext) Allows(min Role) bool {
	if a == nil {
		return false
	}
	return a.Role >= min
}

// Mailer delivers magic-link mail. The engine owns token generation;
// content and formatting are the collaborator's concern. Send must respect
// ctx cancellation — issuance fails closed when delivery is unconfirmed.
type Mailer interface {
	Send(ctx context.Context, toEmail, magicLinkURL string) error
}

// OAuthIdentity is the claim set produced by a completed provider token
// exchange. The exchange itself is an external collaborator; the engine
// consumes only these fields.
type OAuthIdentity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
}

// FederationOutcome is the result category of an OAuth callback.
type FederationOutcome string

const (
	// OutcomeSignedIn means the subject already resolved to an account.
	OutcomeSignedIn FederationOutcome = "signed_in"
	// OutcomeUserCreated means a fresh account was created and linked.
	OutcomeUserCreated FederationOutcome = "user_created"
	// OutcomeProviderLinked means the provider was linked to an existing
	// account.
	OutcomeProviderLinked FederationOutcome = "provider_linked"
	// OutcomeManualLinkRequired means the callback was ambiguous and the
	// client must decide: link to the candidate account or keep separate.
	// No state was mutated.
	OutcomeManualLinkRequired FederationOutcome = "manual_link_required"
)

// FederationResult is the resolution of one OAuth callback.
type FederationResult struct {
	Outcome FederationOutcome
	UserID  string

	// Bundle carries the issued session except for manual-link prompts,
	// which issue nothing.
	Bundle *TokenBundle

	// CandidateUserID names the account a manual-link prompt would join.
	CandidateUserID string
}
