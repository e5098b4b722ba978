package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/tickerboard/authcore/internal/stores"
)

const (
	roleByMagicLink   = "magic-link"
	roleByOAuthPrefix = "oauth:"
)

// advanceRecordRole promotes an anonymous record to free and stamps the
// audit fields. Idempotent: records at free or above are untouched, so
// repeated authentications never move the audit stamp and the role never
// regresses.
func advanceRecordRole(rec *stores.UserRecord, assignedBy string, now time.Time) bool {
	current, err := ParseRole(rec.Role)
	if err != nil || current >= RoleFree {
		return false
	}

	rec.Role = RoleFree.String()
	rec.RoleAssignedAt = now.Unix()
	rec.RoleAssignedBy = assignedBy
	return true
}

// SetRole moves a user to the given role on behalf of the billing or admin
// path. The move is monotonic: setting the current role is a no-op that
// preserves the original audit stamp, and any lower target is rejected
// with [ErrRoleRegression]. Outstanding access tokens keep their old role
// claim until refresh; callers that need it sooner revoke the user's
// sessions.
func (e *Engine) SetRole(ctx context.Context, userID string, role Role, assignedBy string) (*User, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if role > RoleOperator {
		return nil, ErrRoleInvalid
	}

	changed := false
	rec, err := e.users.Update(ctx, userID, func(rec *stores.UserRecord) error {
		current, perr := ParseRole(rec.Role)
		if perr != nil {
			return perr
		}
		if role < current {
			return ErrRoleRegression
		}
		if role == current {
			return nil
		}

		rec.Role = role.String()
		rec.RoleAssignedAt = time.Now().Unix()
		rec.RoleAssignedBy = assignedBy
		changed = true
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrRoleRegression), errors.Is(err, ErrRoleInvalid):
			return nil, err
		case errors.Is(err, stores.ErrUserNotFound):
			return nil, ErrUserNotFound
		default:
			return nil, storeErr(err)
		}
	}

	if changed {
		e.metricInc(MetricRoleAdvanced)
		e.emitAudit(ctx, auditEventRoleAdvanced, true, userID, "", nil, func() map[string]string {
			return map[string]string{
				"role":        rec.Role,
				"assigned_by": assignedBy,
			}
		})
	}

	return userFromRecord(rec), nil
}
