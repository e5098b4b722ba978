package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	authcore "github.com/tickerboard/authcore"
	"github.com/tickerboard/authcore/middleware"
)

const refreshTokenCookie = "refresh_token"

type bundleResponse struct {
	UserID          string `json:"user_id"`
	SessionID       string `json:"session_id"`
	Role            string `json:"role"`
	Anonymous       bool   `json:"anonymous"`
	AccessToken     string `json:"access_token"`
	AccessExpiresAt int64  `json:"access_expires_at"`
	CSRFToken       string `json:"csrf_token"`
}

func (s *Server) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	bundle, err := s.engine.BootstrapAnonymous(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeBundle(w, http.StatusCreated, bundle)
}

func (s *Server) handleMagicLinkRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, authcore.ErrInvalidEmail)
		return
	}

	if err := s.engine.RequestMagicLink(r.Context(), body.Email); err != nil {
		s.writeError(w, err)
		return
	}

	// 202 regardless of whether an account exists for the address.
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (s *Server) handleMagicLinkVerify(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		s.writeError(w, authcore.ErrMagicLinkInvalid)
		return
	}

	bundle, err := s.engine.VerifyMagicLink(r.Context(), token)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeBundle(w, http.StatusOK, bundle)
}

type oauthRequest struct {
	Provider string `json:"provider"`
	Code     string `json:"code"`
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if s.oauth == nil {
		http.NotFound(w, r)
		return
	}

	var body oauthRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, authcore.ErrProviderNotAllowed)
		return
	}

	identity, err := s.oauth.Exchange(r.Context(), body.Provider, body.Code)
	if err != nil {
		s.writeError(w, authcore.ErrProviderNotAllowed)
		return
	}

	result, err := s.engine.ResolveOAuthCallback(r.Context(), identity, s.optionalSessionUser(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeFederationResult(w, result)
}

func (s *Server) handleManualLink(w http.ResponseWriter, r *http.Request) {
	if s.oauth == nil {
		http.NotFound(w, r)
		return
	}

	authCtx, ok := middleware.AuthContextFromRequest(r)
	if !ok {
		s.writeError(w, authcore.ErrUnauthorized)
		return
	}

	var body oauthRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, authcore.ErrProviderNotAllowed)
		return
	}

	identity, err := s.oauth.Exchange(r.Context(), body.Provider, body.Code)
	if err != nil {
		s.writeError(w, authcore.ErrProviderNotAllowed)
		return
	}

	result, err := s.engine.CompleteManualLink(r.Context(), identity, authCtx.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeFederationResult(w, result)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token := ""
	if c, err := r.Cookie(refreshTokenCookie); err == nil {
		token = c.Value
	}
	if token == "" {
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			token = body.RefreshToken
		}
	}
	if token == "" {
		s.writeError(w, authcore.ErrRefreshInvalid)
		return
	}

	bundle, err := s.engine.Refresh(r.Context(), token)
	if err != nil {
		s.clearSessionCookies(w)
		s.writeError(w, err)
		return
	}
	s.writeBundle(w, http.StatusOK, bundle)
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := middleware.AuthContextFromRequest(r)
	if !ok {
		s.writeError(w, authcore.ErrUnauthorized)
		return
	}

	if err := s.engine.SignOut(r.Context(), authCtx.UserID, authCtx.SessionID); err != nil {
		s.writeError(w, err)
		return
	}

	s.clearSessionCookies(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "signed_out"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := middleware.AuthContextFromRequest(r)
	if !ok {
		s.writeError(w, authcore.ErrUnauthorized)
		return
	}

	sessions, err := s.engine.ListSessions(r.Context(), authCtx.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	type sessionJSON struct {
		SessionID string `json:"session_id"`
		Role      string `json:"role"`
		Current   bool   `json:"current"`
		CreatedAt int64  `json:"created_at"`
		ExpiresAt int64  `json:"expires_at"`
	}
	out := make([]sessionJSON, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionJSON{
			SessionID: sess.SessionID,
			Role:      sess.Role,
			Current:   sess.SessionID == authCtx.SessionID,
			CreatedAt: sess.CreatedAt.Unix(),
			ExpiresAt: sess.ExpiresAt.Unix(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := middleware.AuthContextFromRequest(r)
	if !ok {
		s.writeError(w, authcore.ErrUnauthorized)
		return
	}

	user, err := s.engine.GetUser(r.Context(), authCtx.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	providers := make([]string, 0, len(user.LinkedProviders))
	for _, p := range user.LinkedProviders {
		providers = append(providers, p.Provider)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":          user.UserID,
		"role":             user.Role.String(),
		"anonymous":        authCtx.Anonymous,
		"primary_email":    user.PrimaryEmail,
		"verification":     string(user.Verification),
		"linked_providers": providers,
	})
}

func (s *Server) handleAdminRevokeSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID    string `json:"user_id"`
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.SessionID == "" {
		s.writeError(w, authcore.ErrSessionNotFound)
		return
	}

	if err := s.engine.RevokeSession(r.Context(), body.UserID, body.SessionID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (s *Server) handleAdminRevokeAll(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		s.writeError(w, authcore.ErrUserNotFound)
		return
	}

	if err := s.engine.RevokeAllForUser(r.Context(), body.UserID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (s *Server) handleAdminSetRole(w http.ResponseWriter, r *http.Request) {
	authCtx, _ := middleware.AuthContextFromRequest(r)

	var body struct {
		UserID string `json:"user_id"`
		Role   string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		s.writeError(w, authcore.ErrUserNotFound)
		return
	}

	role, err := authcore.ParseRole(body.Role)
	if err != nil {
		s.writeError(w, err)
		return
	}

	assignedBy := "admin"
	if authCtx != nil {
		assignedBy = "admin:" + authCtx.UserID
	}

	user, err := s.engine.SetRole(r.Context(), body.UserID, role, assignedBy)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"user_id": user.UserID,
		"role":    user.Role.String(),
	})
}

// optionalSessionUser resolves the signed-in user when the callback
// carries a valid token, and stays anonymous otherwise. Invalid tokens do
// not fail the callback; they simply drop the session context.
func (s *Server) optionalSessionUser(r *http.Request) string {
	token := ""
	if c, err := r.Cookie(middleware.AccessTokenCookie); err == nil {
		token = c.Value
	}
	if authz := r.Header.Get("Authorization"); len(authz) > len("Bearer ") && authz[:len("Bearer ")] == "Bearer " {
		token = authz[len("Bearer "):]
	}
	if token == "" {
		return ""
	}

	authCtx, err := s.engine.Validate(r.Context(), token)
	if err != nil {
		return ""
	}
	return authCtx.UserID
}

func (s *Server) writeFederationResult(w http.ResponseWriter, result *authcore.FederationResult) {
	if result.Bundle != nil {
		s.setSessionCookies(w, result.Bundle)
	}

	resp := map[string]any{
		"outcome": string(result.Outcome),
		"user_id": result.UserID,
	}
	if result.CandidateUserID != "" {
		resp["candidate_user_id"] = result.CandidateUserID
	}
	if result.Bundle != nil {
		resp["access_token"] = result.Bundle.AccessToken
		resp["access_expires_at"] = result.Bundle.AccessExpiresAt.Unix()
		resp["csrf_token"] = result.Bundle.CSRFToken
		resp["session_id"] = result.Bundle.SessionID
		resp["role"] = result.Bundle.Role.String()
	}

	status := http.StatusOK
	if result.Outcome == authcore.OutcomeUserCreated {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

func (s *Server) writeBundle(w http.ResponseWriter, status int, bundle *authcore.TokenBundle) {
	s.setSessionCookies(w, bundle)
	writeJSON(w, status, bundleResponse{
		UserID:          bundle.UserID,
		SessionID:       bundle.SessionID,
		Role:            bundle.Role.String(),
		Anonymous:       bundle.Anonymous,
		AccessToken:     bundle.AccessToken,
		AccessExpiresAt: bundle.AccessExpiresAt.Unix(),
		CSRFToken:       bundle.CSRFToken,
	})
}

// setSessionCookies installs the browser credential set: the refresh token
// scoped to /auth and hidden from scripts, the access token for
// cookie-authenticated requests, and the JS-readable csrf value the client
// echoes into the X-CSRF-Token header.
func (s *Server) setSessionCookies(w http.ResponseWriter, bundle *authcore.TokenBundle) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshTokenCookie,
		Value:    bundle.RefreshToken,
		Path:     "/auth",
		Expires:  bundle.RefreshExpiresAt,
		HttpOnly: true,
		Secure:   s.SecureCookies,
		SameSite: http.SameSiteNoneMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AccessTokenCookie,
		Value:    bundle.AccessToken,
		Path:     "/",
		Expires:  bundle.AccessExpiresAt,
		HttpOnly: true,
		Secure:   s.SecureCookies,
		SameSite: http.SameSiteNoneMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.CSRFCookie,
		Value:    bundle.CSRFToken,
		Path:     "/",
		Expires:  bundle.RefreshExpiresAt,
		Secure:   s.SecureCookies,
		SameSite: http.SameSiteNoneMode,
	})
}

func (s *Server) clearSessionCookies(w http.ResponseWriter) {
	expired := time.Unix(0, 0)
	http.SetCookie(w, &http.Cookie{
		Name: refreshTokenCookie, Value: "", Path: "/auth",
		Expires: expired, MaxAge: -1, HttpOnly: true,
		Secure: s.SecureCookies, SameSite: http.SameSiteNoneMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name: middleware.AccessTokenCookie, Value: "", Path: "/",
		Expires: expired, MaxAge: -1, HttpOnly: true,
		Secure: s.SecureCookies, SameSite: http.SameSiteNoneMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name: middleware.CSRFCookie, Value: "", Path: "/",
		Expires: expired, MaxAge: -1,
		Secure: s.SecureCookies, SameSite: http.SameSiteNoneMode,
	})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": authcore.ErrorCode(err)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, authcore.ErrMagicLinkRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, authcore.ErrInvalidEmail),
		errors.Is(err, authcore.ErrMagicLinkInvalid),
		errors.Is(err, authcore.ErrMagicLinkDisabled),
		errors.Is(err, authcore.ErrProviderNotAllowed),
		errors.Is(err, authcore.ErrRoleInvalid):
		return http.StatusBadRequest
	case errors.Is(err, authcore.ErrEmailNotVerified),
		errors.Is(err, authcore.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, authcore.ErrAccountAlreadyLinked),
		errors.Is(err, authcore.ErrEmailAlreadyRegistered),
		errors.Is(err, authcore.ErrRoleRegression):
		return http.StatusConflict
	case errors.Is(err, authcore.ErrUnauthorized),
		errors.Is(err, authcore.ErrRefreshInvalid),
		errors.Is(err, authcore.ErrRefreshReuse),
		errors.Is(err, authcore.ErrSessionNotFound),
		errors.Is(err, authcore.ErrSessionRevoked),
		errors.Is(err, authcore.ErrSessionEvicted),
		errors.Is(err, authcore.ErrTokenRevoked):
		return http.StatusUnauthorized
	case errors.Is(err, authcore.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, authcore.ErrStoreUnavailable),
		errors.Is(err, authcore.ErrMailerUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
