package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tickerboard/authcore/internal/stores"
	"github.com/tickerboard/authcore/session"
)

// Validate checks an access token and produces the authorization context
// for the request. In [ModeStrict] the signed claims are cross-checked
// against the live session (revoked, evicted, expired) and the user's
// revocation counter; [ModeJWTOnly] trusts the signature alone and accepts
// revocation lag bounded by the access TTL.
//
// The anonymous/authenticated distinction comes from the signed claim
// shape. Nothing a client sends outside the token influences the result.
func (e *Engine) Validate(ctx context.Context, accessToken string) (*AuthContext, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	start := time.Now()
	authCtx, err := e.validate(ctx, accessToken)
	e.metricObserve(MetricValidateLatency, time.Since(start))

	if err != nil {
		e.metricInc(MetricValidateFailure)
		return nil, err
	}
	e.metricInc(MetricValidateSuccess)
	return authCtx, nil
}

func (e *Engine) validate(ctx context.Context, accessToken string) (*AuthContext, error) {
	claims, err := e.jwtManager.ParseAccess(accessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	role, err := ParseRole(claims.Role)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown role claim", ErrUnauthorized)
	}

	authCtx := &AuthContext{
		UserID:    claims.Subject,
		SessionID: claims.SID,
		Role:      role,
		Anonymous: claims.Anonymous(),
	}

	if e.config.ValidationMode == ModeJWTOnly {
		return authCtx, nil
	}

	sess, err := e.sessions.Get(ctx, claims.SID)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		if errors.Is(err, session.ErrSessionCorrupt) {
			return nil, ErrSessionNotFound
		}
		return nil, storeErr(err)
	}
	if sess.UserID != claims.Subject {
		return nil, ErrUnauthorized
	}
	if sess.Revoked {
		if sess.RevokeReason == session.ReasonEvicted {
			return nil, ErrSessionEvicted
		}
		return nil, ErrSessionRevoked
	}

	rec, err := e.users.Get(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, stores.ErrUserNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, storeErr(err)
	}
	if rec.RevocationID != claims.Rev {
		return nil, ErrTokenRevoked
	}

	return authCtx, nil
}
