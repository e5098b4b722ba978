package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tickerboard/authcore/internal/rate"
	"github.com/tickerboard/authcore/internal/stores"
	"github.com/tickerboard/authcore/jwt"
	"github.com/tickerboard/authcore/session"
)

// Engine is the authentication core. It owns identity records, session
// lifecycle, token issuance, and validation. Construct one with [New] and
// its builder; a built Engine is safe for concurrent use.
type Engine struct {
	config Config
	redis  redis.UniversalClient

	users      *stores.UserStore
	magicLinks *stores.MagicLinkStore
	sessions   *session.Store
	limiter    *rate.Limiter
	jwtManager *jwt.Manager
	mailer     Mailer
	audit      *auditDispatcher
	metrics    *Metrics
}

// Close flushes and stops the audit dispatcher. It does not close the
// Redis client, which the caller owns.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were dropped because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricObserve(id MetricID, d time.Duration) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Observe(id, d)
}

func (e *Engine) ready() error {
	if e == nil || e.users == nil || e.sessions == nil || e.jwtManager == nil {
		return ErrEngineNotReady
	}
	return nil
}

// Ping verifies Redis connectivity and reports the round-trip time.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	return e.sessions.Ping(ctx)
}

// GetUser returns a read-only snapshot of one identity record.
func (e *Engine) GetUser(ctx context.Context, userID string) (*User, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	rec, err := e.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, stores.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return userFromRecord(rec), nil
}

// RecordCSRFRejection counts and audits one rejected cross-site request.
// The HTTP layer calls it; the engine itself never sees raw requests.
func (e *Engine) RecordCSRFRejection(ctx context.Context, path string) {
	if e == nil {
		return
	}
	e.metricInc(MetricCSRFRejected)
	e.emitAudit(ctx, auditEventCSRFRejected, false, "", "", nil, func() map[string]string {
		return map[string]string{"path": path}
	})
}

func userFromRecord(rec *stores.UserRecord) *User {
	role, err := ParseRole(rec.Role)
	if err != nil {
		role = RoleAnonymous
	}

	u := &User{
		UserID:       rec.UserID,
		Role:         role,
		PrimaryEmail: rec.PrimaryEmail,
		Emails:       append([]string(nil), rec.Emails...),

		Verification:         Verification(rec.Verification),
		VerificationMarkedBy: rec.VerificationMarkedBy,

		LastProviderUsed: rec.LastProviderUsed,
		RoleAssignedBy:   rec.RoleAssignedBy,

		RevocationID: rec.RevocationID,
	}
	if rec.Verification == "" {
		u.Verification = VerificationNone
	}
	if rec.VerificationMarkedAt > 0 {
		u.VerificationMarkedAt = time.Unix(rec.VerificationMarkedAt, 0).UTC()
	}
	if rec.RoleAssignedAt > 0 {
		u.RoleAssignedAt = time.Unix(rec.RoleAssignedAt, 0).UTC()
	}
	if rec.CreatedAt > 0 {
		u.CreatedAt = time.Unix(rec.CreatedAt, 0).UTC()
	}

	for _, name := range rec.LinkedProviders {
		link, ok := rec.ProviderMetadata[name]
		if !ok {
			continue
		}
		u.LinkedProviders = append(u.LinkedProviders, ProviderInfo{
			Provider: name,
			Subject:  link.Subject,
			Email:    link.Email,
			LinkedAt: time.Unix(link.LinkedAt, 0).UTC(),
		})
	}

	return u
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
