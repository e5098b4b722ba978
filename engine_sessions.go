package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tickerboard/authcore/internal"
	"github.com/tickerboard/authcore/internal/stores"
	"github.com/tickerboard/authcore/session"

	"github.com/google/uuid"
)

const csrfTokenBits = 128

// issueSession creates a session for the user, enforces the per-user cap
// by evicting the oldest live sessions, and mints the credential bundle.
func (e *Engine) issueSession(ctx context.Context, rec *stores.UserRecord) (*TokenBundle, error) {
	now := time.Now()

	if err := e.enforceSessionCap(ctx, rec.UserID, now); err != nil {
		return nil, err
	}

	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}
	secret, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, fmt.Errorf("generate refresh secret: %w", err)
	}

	sess := &session.Session{
		SessionID:   sid.String(),
		UserID:      rec.UserID,
		Role:        rec.Role,
		Rev:         rec.RevocationID,
		RefreshHash: internal.HashRefreshSecret(secret),
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(e.config.Session.Lifetime).Unix(),
	}
	if err := e.sessions.Save(ctx, sess, e.config.Session.Lifetime); err != nil {
		return nil, storeErr(err)
	}

	bundle, err := e.mintBundle(rec.UserID, rec.Role, sid.String(), secret, rec.RevocationID, now)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricSessionCreated)
	return bundle, nil
}

// enforceSessionCap evicts oldest-first until one slot is free. Eviction
// is a revoke with the evicted reason, so the displaced device's next
// request is answered with a session-evicted error rather than a generic
// auth failure.
func (e *Engine) enforceSessionCap(ctx context.Context, userID string, now time.Time) error {
	live, err := e.sessions.LiveSessions(ctx, userID)
	if err != nil {
		return storeErr(err)
	}

	max := e.config.Session.MaxPerUser
	for i := 0; len(live)-i >= max && i < len(live); i++ {
		victim := live[i]
		if _, err := e.sessions.Revoke(ctx, userID, victim.SessionID, session.ReasonEvicted, now); err != nil {
			return storeErr(err)
		}
		e.metricInc(MetricSessionEvicted)
		e.emitAudit(ctx, auditEventSessionEvicted, true, userID, victim.SessionID, nil, nil)
	}

	return nil
}

func (e *Engine) mintBundle(
	userID, role, sessionID string,
	secret [32]byte,
	rev uint64,
	now time.Time,
) (*TokenBundle, error) {
	jti := uuid.NewString()

	var (
		access string
		err    error
	)
	anonymous := role == "" || role == RoleAnonymous.String()
	if anonymous {
		access, err = e.jwtManager.CreateAnonymous(userID, sessionID, jti, rev)
	} else {
		access, err = e.jwtManager.CreateAccess(userID, role, sessionID, jti, rev)
	}
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refresh, err := internal.EncodeRefreshToken(sessionID, secret)
	if err != nil {
		return nil, fmt.Errorf("encode refresh token: %w", err)
	}
	csrf, err := internal.NewRandomToken(csrfTokenBits)
	if err != nil {
		return nil, fmt.Errorf("generate csrf token: %w", err)
	}

	parsedRole, roleErr := ParseRole(role)
	if roleErr != nil {
		return nil, roleErr
	}

	return &TokenBundle{
		UserID:           userID,
		SessionID:        sessionID,
		Role:             parsedRole,
		Anonymous:        anonymous,
		AccessToken:      access,
		AccessExpiresAt:  now.Add(e.config.JWT.AccessTTL),
		RefreshToken:     refresh,
		RefreshExpiresAt: now.Add(e.config.Session.Lifetime),
		CSRFToken:        csrf,
	}, nil
}

// Refresh rotates a refresh token: the presented secret is consumed and a
// new credential bundle is issued for the same session. Exactly one of any
// set of concurrent presenters wins; the rest get [ErrRefreshReuse] and
// the session is revoked as compromised.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenBundle, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	sessionID, secret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", ErrRefreshInvalid, nil)
		return nil, ErrRefreshInvalid
	}

	nextSecret, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, fmt.Errorf("generate refresh secret: %w", err)
	}

	sess, err := e.sessions.RotateRefreshHash(
		ctx,
		sessionID,
		internal.HashRefreshSecret(secret),
		internal.HashRefreshSecret(nextSecret),
	)
	if err != nil {
		return nil, e.refreshFailure(ctx, sessionID, err)
	}

	// The session snapshot lags the user record: re-read it so a bulk
	// revocation that raced this rotation still invalidates the session,
	// and so a role advanced since login propagates into the new token.
	rec, err := e.users.Get(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, stores.ErrUserNotFound) {
			return nil, ErrSessionRevoked
		}
		return nil, storeErr(err)
	}
	if rec.RevocationID != sess.Rev {
		_, _ = e.sessions.Revoke(ctx, sess.UserID, sessionID, session.ReasonSecurity, time.Now())
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, sess.UserID, sessionID, ErrSessionRevoked, nil)
		return nil, ErrSessionRevoked
	}

	bundle, err := e.mintBundle(sess.UserID, rec.Role, sessionID, nextSecret, sess.Rev, time.Now())
	if err != nil {
		return nil, err
	}
	bundle.RefreshExpiresAt = time.Unix(sess.ExpiresAt, 0)

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, sess.UserID, sessionID, nil, nil)
	return bundle, nil
}

func (e *Engine) refreshFailure(ctx context.Context, sessionID string, err error) error {
	var revoked *session.RevokedError

	switch {
	case errors.Is(err, redis.Nil):
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", sessionID, ErrSessionNotFound, nil)
		return ErrSessionNotFound

	case errors.Is(err, session.ErrRefreshHashMismatch):
		// A secret that does not match the live hash is a replay: either
		// a stolen old token or the loser of a concurrent rotation. The
		// session cannot be trusted either way.
		_, _ = e.sessions.Revoke(ctx, "", sessionID, session.ReasonSecurity, time.Now())
		e.metricInc(MetricRefreshReuseDetected)
		e.emitAudit(ctx, auditEventRefreshReuseDetected, false, "", sessionID, ErrRefreshReuse, nil)
		return ErrRefreshReuse

	case errors.As(err, &revoked):
		e.metricInc(MetricRefreshFailure)
		if revoked.Reason == session.ReasonEvicted {
			e.emitAudit(ctx, auditEventRefreshInvalid, false, "", sessionID, ErrSessionEvicted, nil)
			return ErrSessionEvicted
		}
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", sessionID, ErrSessionRevoked, nil)
		return ErrSessionRevoked

	case errors.Is(err, session.ErrSessionCorrupt):
		e.metricInc(MetricRefreshFailure)
		return ErrSessionNotFound

	default:
		return storeErr(err)
	}
}

// SignOut revokes one session. Signing out an already-revoked or unknown
// session succeeds: the desired end state holds either way.
func (e *Engine) SignOut(ctx context.Context, userID, sessionID string) error {
	if err := e.ready(); err != nil {
		return err
	}

	newly, err := e.sessions.Revoke(ctx, userID, sessionID, session.ReasonSignout, time.Now())
	if err != nil {
		return storeErr(err)
	}
	if newly {
		e.metricInc(MetricSessionRevoked)
	}

	e.emitAudit(ctx, auditEventSignout, true, userID, sessionID, nil, nil)
	return nil
}

// RevokeSession revokes one session on behalf of an operator.
func (e *Engine) RevokeSession(ctx context.Context, userID, sessionID string) error {
	if err := e.ready(); err != nil {
		return err
	}

	newly, err := e.sessions.Revoke(ctx, userID, sessionID, session.ReasonAdmin, time.Now())
	if err != nil {
		return storeErr(err)
	}
	if !newly {
		return ErrSessionNotFound
	}

	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventSessionRevoked, true, userID, sessionID, nil, nil)
	return nil
}

// RevokeAllForUser invalidates every credential the user holds: the
// revocation counter is bumped first, which orphans all outstanding access
// tokens, then each live session is revoked so refresh tokens die too. A
// refresh racing the per-session sweep is caught by the counter check.
func (e *Engine) RevokeAllForUser(ctx context.Context, userID string) error {
	if err := e.ready(); err != nil {
		return err
	}

	_, err := e.users.Update(ctx, userID, func(rec *stores.UserRecord) error {
		rec.RevocationID++
		return nil
	})
	if err != nil {
		if errors.Is(err, stores.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return storeErr(err)
	}

	ids, err := e.sessions.ActiveSessionIDs(ctx, userID)
	if err != nil {
		return storeErr(err)
	}

	now := time.Now()
	for _, sid := range ids {
		if _, err := e.sessions.Revoke(ctx, userID, sid, session.ReasonSecurity, now); err != nil {
			return storeErr(err)
		}
	}

	e.metricInc(MetricRevokeAll)
	e.emitAudit(ctx, auditEventRevokeAll, true, userID, "", nil, func() map[string]string {
		return map[string]string{"sessions": fmt.Sprintf("%d", len(ids))}
	})
	return nil
}

// ListSessions returns the user's live sessions, oldest first.
func (e *Engine) ListSessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	live, err := e.sessions.LiveSessions(ctx, userID)
	if err != nil {
		return nil, storeErr(err)
	}

	out := make([]SessionInfo, 0, len(live))
	for _, s := range live {
		out = append(out, SessionInfo{
			SessionID: s.SessionID,
			UserID:    s.UserID,
			Role:      s.Role,
			CreatedAt: time.Unix(s.CreatedAt, 0).UTC(),
			ExpiresAt: time.Unix(s.ExpiresAt, 0).UTC(),
		})
	}
	return out, nil
}
