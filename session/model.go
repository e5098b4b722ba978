package session

// RevokeReason encodes why a session stopped being valid. The reason is
// persisted with the session so the device's next request can be answered
// with a distinct outcome (an evicted device sees "session evicted", not a
// generic auth failure).
type RevokeReason uint8

const (
	// ReasonNone marks a live session.
	ReasonNone RevokeReason = iota
	// ReasonSignout marks a session revoked by the user signing out.
	ReasonSignout
	// ReasonEvicted marks a session removed by the per-user cap (oldest first).
	ReasonEvicted
	// ReasonAdmin marks a session revoked by an operator.
	ReasonAdmin
	// ReasonSecurity marks a session revoked by a bulk security revocation.
	ReasonSecurity
)

func (r RevokeReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonSignout:
		return "signout"
	case ReasonEvicted:
		return "evicted"
	case ReasonAdmin:
		return "admin"
	case ReasonSecurity:
		return "security"
	default:
		return "unknown"
	}
}

// Session is one device login. A user holds at most a configured number of
// non-revoked sessions; the oldest is evicted when the cap is exceeded.
type Session struct {
	SessionID string
	UserID    string
	Role      string

	Revoked      bool
	RevokeReason RevokeReason
	RevokedAt    int64

	// Rev snapshots the owning user's revocation counter at creation.
	// Refresh rotation rejects the session once the counter moves past it.
	Rev uint64

	RefreshHash [32]byte

	CreatedAt int64
	ExpiresAt int64
}
