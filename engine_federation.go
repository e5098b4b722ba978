package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/tickerboard/authcore/internal/flows"
	"github.com/tickerboard/authcore/internal/stores"
)

// ResolveOAuthCallback resolves a completed provider exchange into exactly
// one account-linking flow. sessionUserID names the currently signed-in
// user, or is empty for a signed-out callback; it must come from a
// validated token, never from a client-asserted header.
//
// The five flows are matched exhaustively. Rejections (unverified email,
// subject collision) mutate nothing; a manual-link prompt mutates nothing
// and issues no session.
func (e *Engine) ResolveOAuthCallback(ctx context.Context, identity OAuthIdentity, sessionUserID string) (*FederationResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.checkProvider(identity.Provider); err != nil {
		return nil, err
	}
	if identity.Subject == "" {
		return nil, ErrProviderNotAllowed
	}

	if identity.Email != "" {
		normalized, err := normalizeEmail(identity.Email)
		if err != nil {
			return nil, ErrInvalidEmail
		}
		identity.Email = normalized
	}

	state, err := e.resolveFederationState(ctx, identity, sessionUserID)
	if err != nil {
		return nil, err
	}

	cls := flows.Classify(state)
	if cls.SignIn {
		return e.federatedSignIn(ctx, identity, cls.TargetUserID)
	}

	switch cls.Flow {
	case flows.FlowNewUser:
		return e.federatedNewUser(ctx, identity)

	case flows.FlowEmailLink:
		return e.federatedEmailLink(ctx, identity, cls.TargetUserID)

	case flows.FlowAutoLink:
		return e.federatedLink(ctx, identity, sessionUserID)

	case flows.FlowSubjectCollision:
		e.rejectCallback(ctx, identity, sessionUserID, ErrAccountAlreadyLinked)
		return nil, ErrAccountAlreadyLinked

	case flows.FlowManualPrompt:
		e.metricInc(MetricFederationManualPrompt)
		e.emitAudit(ctx, auditEventFederationPrompt, true, sessionUserID, "", nil, func() map[string]string {
			return map[string]string{"provider": identity.Provider}
		})
		return &FederationResult{
			Outcome:         OutcomeManualLinkRequired,
			UserID:          sessionUserID,
			CandidateUserID: sessionUserID,
		}, nil
	}

	// Classify returns a member of the closed flow set; reaching here
	// means the set grew without this switch following.
	return nil, ErrEngineNotReady
}

// CompleteManualLink applies the "link" decision of a manual-link prompt:
// the provider identity joins the decider's existing account. The
// "keep separate" decision needs no engine call; the client simply
// abandons the prompt and may sign in fresh with the provider later.
func (e *Engine) CompleteManualLink(ctx context.Context, identity OAuthIdentity, userID string) (*FederationResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.checkProvider(identity.Provider); err != nil {
		return nil, err
	}
	if identity.Subject == "" || userID == "" {
		return nil, ErrProviderNotAllowed
	}

	return e.federatedLink(ctx, identity, userID)
}

// resolveFederationState gathers the account facts the classifier decides
// on: subject ownership, email ownership, and the session user's shape.
func (e *Engine) resolveFederationState(ctx context.Context, identity OAuthIdentity, sessionUserID string) (flows.State, error) {
	var state flows.State
	state.SessionUserID = sessionUserID

	ownerID, err := e.users.GetIDBySubject(ctx, identity.Provider, identity.Subject)
	if err != nil {
		return state, storeErr(err)
	}
	state.SubjectOwnerID = ownerID

	if identity.Email != "" {
		emailOwner, err := e.users.GetIDByEmail(ctx, identity.Email)
		if err != nil {
			return state, storeErr(err)
		}
		state.EmailOwnerID = emailOwner
	}

	if sessionUserID != "" {
		rec, err := e.users.Get(ctx, sessionUserID)
		if err != nil {
			if errors.Is(err, stores.ErrUserNotFound) {
				return state, ErrUserNotFound
			}
			return state, storeErr(err)
		}
		state.SessionUserHasOAuth = rec.HasLinkedOAuthProvider()
		state.SessionUserOwnsEmail = identity.Email != "" && rec.HasEmail(identity.Email)
	}

	return state, nil
}

// federatedSignIn handles the returning case: the subject already resolves
// to an account. Link metadata is refreshed and the role advanced, then a
// session is issued.
func (e *Engine) federatedSignIn(ctx context.Context, identity OAuthIdentity, userID string) (*FederationResult, error) {
	rec, err := e.applyLinkMutations(ctx, identity, userID)
	if err != nil {
		return nil, err
	}

	bundle, err := e.issueSession(ctx, rec)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricFederationSignIn)
	e.emitAudit(ctx, auditEventFederationSignIn, true, userID, bundle.SessionID, nil, func() map[string]string {
		return map[string]string{"provider": identity.Provider}
	})
	return &FederationResult{Outcome: OutcomeSignedIn, UserID: userID, Bundle: bundle}, nil
}

// federatedNewUser creates an account from a callback that matched
// nothing. The provider must vouch for the email: an unverified address
// creates no account at all.
func (e *Engine) federatedNewUser(ctx context.Context, identity OAuthIdentity) (*FederationResult, error) {
	if !identity.EmailVerified || identity.Email == "" {
		e.rejectCallback(ctx, identity, "", ErrEmailNotVerified)
		return nil, ErrEmailNotVerified
	}

	newID := uuid.NewString()

	subjectOwner, err := e.users.ClaimProviderSubject(ctx, identity.Provider, identity.Subject, newID)
	if err != nil {
		return nil, storeErr(err)
	}
	if subjectOwner != newID {
		// A concurrent callback for the same subject created the account
		// first; this request becomes a returning sign-in.
		return e.federatedSignIn(ctx, identity, subjectOwner)
	}

	now := time.Now()
	rec := &stores.UserRecord{
		UserID:         newID,
		Role:           RoleFree.String(),
		RoleAssignedAt: now.Unix(),
		RoleAssignedBy: roleByOAuthPrefix + identity.Provider,

		Verification: string(VerificationNone),

		LinkedProviders: []string{identity.Provider},
		ProviderMetadata: map[string]stores.ProviderLink{
			identity.Provider: {Subject: identity.Subject, Email: identity.Email, LinkedAt: now.Unix()},
		},
		LastProviderUsed: identity.Provider,

		CreatedAt: now.Unix(),
	}

	emailOwner, err := e.users.ClaimEmail(ctx, identity.Email, newID)
	if err != nil {
		return nil, storeErr(err)
	}
	if emailOwner == newID {
		rec.PrimaryEmail = identity.Email
		rec.Verification = string(VerificationVerified)
		rec.VerificationMarkedAt = now.Unix()
		rec.VerificationMarkedBy = roleByOAuthPrefix + identity.Provider
	}

	if err := e.users.Create(ctx, rec); err != nil {
		return nil, storeErr(err)
	}

	bundle, err := e.issueSession(ctx, rec)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricFederationNewUser)
	e.emitAudit(ctx, auditEventFederationNewUser, true, newID, bundle.SessionID, nil, func() map[string]string {
		return map[string]string{"provider": identity.Provider}
	})
	return &FederationResult{Outcome: OutcomeUserCreated, UserID: newID, Bundle: bundle}, nil
}

// federatedEmailLink joins the provider to the account that owns the
// callback's email. Only a provider-verified address proves that account
// is really the caller's.
func (e *Engine) federatedEmailLink(ctx context.Context, identity OAuthIdentity, targetUserID string) (*FederationResult, error) {
	if !identity.EmailVerified {
		e.rejectCallback(ctx, identity, targetUserID, ErrEmailNotVerified)
		return nil, ErrEmailNotVerified
	}
	return e.federatedLink(ctx, identity, targetUserID)
}

// federatedLink claims the subject for the user and applies the link.
func (e *Engine) federatedLink(ctx context.Context, identity OAuthIdentity, userID string) (*FederationResult, error) {
	subjectOwner, err := e.users.ClaimProviderSubject(ctx, identity.Provider, identity.Subject, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	if subjectOwner != userID {
		e.rejectCallback(ctx, identity, userID, ErrAccountAlreadyLinked)
		return nil, ErrAccountAlreadyLinked
	}

	rec, err := e.applyLinkMutations(ctx, identity, userID)
	if err != nil {
		return nil, err
	}

	bundle, err := e.issueSession(ctx, rec)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricFederationLinked)
	e.emitAudit(ctx, auditEventFederationLinked, true, userID, bundle.SessionID, nil, func() map[string]string {
		return map[string]string{"provider": identity.Provider}
	})
	return &FederationResult{Outcome: OutcomeProviderLinked, UserID: userID, Bundle: bundle}, nil
}

// applyLinkMutations writes the federation facts onto the user record.
// Link and verification updates run strictly before the role advancement
// inside the same compare-and-swap, so an advanced role can never be
// observed without the facts that justified it.
func (e *Engine) applyLinkMutations(ctx context.Context, identity OAuthIdentity, userID string) (*stores.UserRecord, error) {
	now := time.Now()

	attachAddress := false
	if identity.EmailVerified && identity.Email != "" {
		owner, err := e.users.ClaimEmail(ctx, identity.Email, userID)
		if err != nil {
			return nil, storeErr(err)
		}
		attachAddress = owner == userID
	}

	rec, err := e.users.Update(ctx, userID, func(rec *stores.UserRecord) error {
		if attachAddress {
			attachEmail(rec, identity.Email)
		}
		if identity.EmailVerified {
			markVerified(rec, roleByOAuthPrefix+identity.Provider, now)
		}
		linkProvider(rec, identity.Provider, identity.Subject, identity.Email, now)
		advanceRecordRole(rec, roleByOAuthPrefix+identity.Provider, now)
		return nil
	})
	if err != nil {
		if errors.Is(err, stores.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, storeErr(err)
	}
	return rec, nil
}

func (e *Engine) rejectCallback(ctx context.Context, identity OAuthIdentity, userID string, cause error) {
	e.metricInc(MetricFederationRejected)
	e.emitAudit(ctx, auditEventFederationRejected, false, userID, "", cause, func() map[string]string {
		return map[string]string{"provider": identity.Provider}
	})
}

func (e *Engine) checkProvider(provider string) error {
	if provider == "" || provider == "email" {
		return ErrProviderNotAllowed
	}
	allowed := e.config.Federation.AllowedProviders
	if len(allowed) == 0 {
		return nil
	}
	for _, p := range allowed {
		if p == provider {
			return nil
		}
	}
	return ErrProviderNotAllowed
}
