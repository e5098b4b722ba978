package flows

// Flow is the closed set of account-linking flows an OAuth callback can
// resolve to. The engine matches it exhaustively with no fallback branch.
type Flow int

const (
	// FlowNewUser creates a fresh account: nothing owns the subject or the
	// email, and no session is present.
	FlowNewUser Flow = iota
	// FlowEmailLink links the provider to an existing account that owns
	// the callback's verified email.
	FlowEmailLink
	// FlowAutoLink links the provider to the current session's user
	// without further confirmation. Only taken when that user already has
	// at least one linked OAuth provider: OAuth providers are trusted for
	// email ownership, so a second provider needs no extra ceremony.
	FlowAutoLink
	// FlowSubjectCollision rejects the callback: the subject is already
	// owned by a different user than the one signed in. Silent overwrite
	// here would be an account hijack.
	FlowSubjectCollision
	// FlowManualPrompt returns a pending link-or-keep-separate decision to
	// the client for the ambiguous case: a signed-in email-only account and
	// a provider identity that does not match any of its addresses.
	FlowManualPrompt
)

func (f Flow) String() string {
	switch f {
	case FlowNewUser:
		return "new_user"
	case FlowEmailLink:
		return "email_link"
	case FlowAutoLink:
		return "auto_link"
	case FlowSubjectCollision:
		return "subject_collision"
	case FlowManualPrompt:
		return "manual_prompt"
	default:
		return "unknown"
	}
}

// State is the resolved account state an OAuth callback is classified
// against. Empty IDs mean "no such account".
type State struct {
	// SubjectOwnerID owns the provider subject, if anyone does.
	SubjectOwnerID string
	// EmailOwnerID owns the callback email, if anyone does.
	EmailOwnerID string
	// SessionUserID is the currently signed-in user, if any.
	SessionUserID string
	// SessionUserHasOAuth reports whether the session user already has a
	// linked OAuth provider.
	SessionUserHasOAuth bool
	// SessionUserOwnsEmail reports whether the callback email is one of
	// the session user's addresses.
	SessionUserOwnsEmail bool
}

// Classification is the outcome of resolving a callback against existing
// account state.
type Classification struct {
	// SignIn is true when the subject already resolves to an account the
	// caller may enter: no linking decision is needed, only a session.
	SignIn bool
	// Flow is the linking flow to execute when SignIn is false.
	Flow Flow
	// TargetUserID is the account the flow operates on, when one exists.
	TargetUserID string
}

// Classify resolves a callback to a sign-in or to exactly one of the five
// linking flows.
func Classify(st State) Classification {
	if st.SubjectOwnerID != "" {
		if st.SessionUserID != "" && st.SessionUserID != st.SubjectOwnerID {
			return Classification{Flow: FlowSubjectCollision, TargetUserID: st.SubjectOwnerID}
		}
		return Classification{SignIn: true, TargetUserID: st.SubjectOwnerID}
	}

	if st.SessionUserID != "" {
		if st.SessionUserHasOAuth {
			return Classification{Flow: FlowAutoLink, TargetUserID: st.SessionUserID}
		}
		if st.SessionUserOwnsEmail {
			return Classification{Flow: FlowEmailLink, TargetUserID: st.SessionUserID}
		}
		return Classification{Flow: FlowManualPrompt, TargetUserID: st.SessionUserID}
	}

	if st.EmailOwnerID != "" {
		return Classification{Flow: FlowEmailLink, TargetUserID: st.EmailOwnerID}
	}

	return Classification{Flow: FlowNewUser}
}
