package authcore

import (
	"context"
	"errors"
	"log"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tickerboard/authcore/internal"
	"github.com/tickerboard/authcore/internal/rate"
	"github.com/tickerboard/authcore/internal/stores"
)

const magicLinkTokenBits = 256

// RequestMagicLink issues a one-time login token for the address and hands
// the link to the mailer. The call fails closed: if delivery is not
// confirmed, the stored token is cleaned up so no consumable token exists
// for a mail that never went out.
//
// The response does not reveal whether an account exists for the address.
func (e *Engine) RequestMagicLink(ctx context.Context, email string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !e.config.MagicLink.Enabled {
		return ErrMagicLinkDisabled
	}

	email, err := normalizeEmail(email)
	if err != nil {
		return ErrInvalidEmail
	}
	if e.mailer == nil {
		return ErrMailerUnavailable
	}

	if err := e.limiter.CheckMagicLink(ctx, email, clientIPFromContext(ctx)); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricMagicLinkRateLimited)
			e.emitAudit(ctx, auditEventMagicLinkRateLimited, false, "", "", ErrMagicLinkRateLimited, func() map[string]string {
				return map[string]string{"email": email}
			})
			return ErrMagicLinkRateLimited
		}
		return storeErr(err)
	}

	token, err := internal.NewRandomToken(magicLinkTokenBits)
	if err != nil {
		return err
	}
	tokenHash := internal.HashToken(token)

	now := time.Now()
	record := &stores.MagicLinkRecord{
		Email:      email,
		SecretHash: tokenHash,
		CreatedAt:  now.Unix(),
		ExpiresAt:  now.Add(e.config.MagicLink.TokenTTL).Unix(),
	}
	if err := e.magicLinks.Save(ctx, tokenHash, record, e.config.MagicLink.TokenTTL); err != nil {
		return storeErr(err)
	}

	mailCtx, cancel := context.WithTimeout(ctx, e.config.MagicLink.MailTimeout)
	defer cancel()

	if err := e.mailer.Send(mailCtx, email, e.magicLinkURL(token)); err != nil {
		if delErr := e.magicLinks.Delete(ctx, tokenHash); delErr != nil {
			log.Printf("authcore: failed to clean up magic link after send failure: %v", delErr)
		}
		e.emitAudit(ctx, auditEventMagicLinkRequest, false, "", "", ErrMailerUnavailable, func() map[string]string {
			return map[string]string{"email": email}
		})
		return ErrMailerUnavailable
	}

	e.metricInc(MetricMagicLinkRequest)
	e.emitAudit(ctx, auditEventMagicLinkRequest, true, "", "", nil, func() map[string]string {
		return map[string]string{"email": email}
	})
	return nil
}

// VerifyMagicLink consumes a one-time token and signs its owner in,
// creating the account on first use. Among concurrent verifications of the
// same token exactly one caller wins; everyone else, and every holder of
// an absent or expired token, gets [ErrMagicLinkInvalid].
func (e *Engine) VerifyMagicLink(ctx context.Context, token string) (*TokenBundle, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !e.config.MagicLink.Enabled {
		return nil, ErrMagicLinkDisabled
	}

	record, err := e.magicLinks.Consume(ctx, internal.HashToken(token))
	if err != nil {
		if errors.Is(err, stores.ErrMagicLinkNotFound) || errors.Is(err, stores.ErrMagicLinkHashMismatch) {
			e.metricInc(MetricMagicLinkVerifyFailure)
			e.emitAudit(ctx, auditEventMagicLinkVerifyFailure, false, "", "", ErrMagicLinkInvalid, nil)
			return nil, ErrMagicLinkInvalid
		}
		return nil, storeErr(err)
	}

	rec, err := e.userForVerifiedEmail(ctx, record.Email)
	if err != nil {
		return nil, err
	}

	bundle, err := e.issueSession(ctx, rec)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricMagicLinkVerifySuccess)
	e.emitAudit(ctx, auditEventMagicLinkVerifySuccess, true, rec.UserID, bundle.SessionID, nil, func() map[string]string {
		return map[string]string{"email": record.Email}
	})
	return bundle, nil
}

// userForVerifiedEmail resolves a proven address to its account, creating
// one when nothing owns the address yet. The email index claim decides
// ownership, so two first-time verifications for the same address converge
// on a single account.
func (e *Engine) userForVerifiedEmail(ctx context.Context, email string) (*stores.UserRecord, error) {
	now := time.Now()

	ownerID, err := e.users.GetIDByEmail(ctx, email)
	if err != nil {
		return nil, storeErr(err)
	}

	if ownerID == "" {
		newID := uuid.NewString()
		ownerID, err = e.users.ClaimEmail(ctx, email, newID)
		if err != nil {
			return nil, storeErr(err)
		}
		if ownerID == newID {
			rec := &stores.UserRecord{
				UserID:       newID,
				Role:         RoleFree.String(),
				RoleAssignedAt: now.Unix(),
				RoleAssignedBy: roleByMagicLink,

				PrimaryEmail: email,

				Verification:         string(VerificationVerified),
				VerificationMarkedAt: now.Unix(),
				VerificationMarkedBy: roleByMagicLink,

				LinkedProviders: []string{"email"},
				ProviderMetadata: map[string]stores.ProviderLink{
					"email": {Subject: email, Email: email, LinkedAt: now.Unix()},
				},
				LastProviderUsed: "email",

				CreatedAt: now.Unix(),
			}
			if err := e.users.Create(ctx, rec); err != nil {
				return nil, storeErr(err)
			}
			return rec, nil
		}
		// A concurrent verification claimed the address first; fall
		// through to the update path against the winner's account.
	}

	rec, err := e.users.Update(ctx, ownerID, func(rec *stores.UserRecord) error {
		attachEmail(rec, email)
		markVerified(rec, roleByMagicLink, now)
		linkProvider(rec, "email", email, email, now)
		advanceRecordRole(rec, roleByMagicLink, now)
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

func (e *Engine) magicLinkURL(token string) string {
	base := e.config.MagicLink.BaseURL
	if base == "" {
		base = "/auth/verify"
	}

	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "token=" + url.QueryEscape(token)
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// attachEmail adds the address to the record, making it primary when none
// is set.
func attachEmail(rec *stores.UserRecord, email string) {
	if rec.PrimaryEmail == "" {
		rec.PrimaryEmail = email
		return
	}
	if rec.HasEmail(email) {
		return
	}
	rec.Emails = append(rec.Emails, email)
}

// markVerified moves verification forward to verified. Forward-only and
// idempotent: an already-verified record keeps its original audit stamp.
func markVerified(rec *stores.UserRecord, by string, now time.Time) {
	if rec.Verification == string(VerificationVerified) {
		return
	}
	rec.Verification = string(VerificationVerified)
	rec.VerificationMarkedAt = now.Unix()
	rec.VerificationMarkedBy = by
}

// linkProvider records a provider link on the record. Re-linking the same
// provider refreshes its metadata without duplicating the entry.
func linkProvider(rec *stores.UserRecord, provider, subject, email string, now time.Time) {
	found := false
	for _, p := range rec.LinkedProviders {
		if p == provider {
			found = true
			break
		}
	}
	if !found {
		rec.LinkedProviders = append(rec.LinkedProviders, provider)
	}
	if rec.ProviderMetadata == nil {
		rec.ProviderMetadata = make(map[string]stores.ProviderLink)
	}
	link, exists := rec.ProviderMetadata[provider]
	if !exists {
		link = stores.ProviderLink{LinkedAt: now.Unix()}
	}
	link.Subject = subject
	link.Email = email
	rec.ProviderMetadata[provider] = link
	rec.LastProviderUsed = provider
}
