package authcore

import (
	"context"
	"time"
)

const (
	auditEventBootstrap              = "anonymous_bootstrap"
	auditEventMagicLinkRequest       = "magic_link_request"
	auditEventMagicLinkRateLimited   = "magic_link_rate_limited"
	auditEventMagicLinkVerifySuccess = "magic_link_verify_success"
	auditEventMagicLinkVerifyFailure = "magic_link_verify_failure"
	auditEventFederationSignIn       = "federation_sign_in"
	auditEventFederationNewUser      = "federation_new_user"
	auditEventFederationLinked       = "federation_provider_linked"
	auditEventFederationPrompt       = "federation_manual_prompt"
	auditEventFederationRejected     = "federation_rejected"
	auditEventRefreshSuccess         = "refresh_success"
	auditEventRefreshInvalid         = "refresh_invalid"
	auditEventRefreshReuseDetected   = "refresh_reuse_detected"
	auditEventSessionEvicted         = "session_evicted"
	auditEventSignout                = "signout"
	auditEventSessionRevoked         = "session_revoked"
	auditEventRevokeAll              = "revoke_all_sessions"
	auditEventRoleAdvanced           = "role_advanced"
	auditEventCSRFRejected           = "csrf_rejected"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if err != nil {
		event.Error = ErrorCode(err)
	}

	e.audit.Emit(ctx, event)
}
