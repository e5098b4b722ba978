package authcore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tickerboard/authcore/internal/stores"
)

// BootstrapAnonymous creates a fresh anonymous identity and its first
// session. The returned bundle carries an anonymous access token (bare
// subject, no role claim) plus a full refresh/CSRF pair, so anonymous
// sessions rotate and sign out exactly like authenticated ones.
func (e *Engine) BootstrapAnonymous(ctx context.Context) (*TokenBundle, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	now := time.Now()
	rec := &stores.UserRecord{
		UserID:       uuid.NewString(),
		Role:         RoleAnonymous.String(),
		Verification: string(VerificationNone),
		CreatedAt:    now.Unix(),
	}

	if err := e.users.Create(ctx, rec); err != nil {
		return nil, storeErr(err)
	}

	bundle, err := e.issueSession(ctx, rec)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricBootstrap)
	e.emitAudit(ctx, auditEventBootstrap, true, rec.UserID, bundle.SessionID, nil, nil)
	return bundle, nil
}
