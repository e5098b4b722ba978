package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	authcore "github.com/tickerboard/authcore"
)

// AccessTokenCookie is the cookie carrying the access token for browser
// clients that do not attach an Authorization header.
const AccessTokenCookie = "access_token"

type authContextKey struct{}
type authSourceContextKey struct{}

// AuthSource records how the request authenticated. The CSRF middleware
// exempts bearer requests; everything else never branches on it.
type AuthSource int

const (
	// SourceNone marks an unauthenticated request.
	SourceNone AuthSource = iota
	// SourceBearer marks an Authorization-header token.
	SourceBearer
	// SourceCookie marks a cookie token.
	SourceCookie
)

// AuthContextFromRequest returns the validated authorization context
// attached by [Guard].
func AuthContextFromRequest(r *http.Request) (*authcore.AuthContext, bool) {
	authCtx, ok := r.Context().Value(authContextKey{}).(*authcore.AuthContext)
	return authCtx, ok
}

// AuthSourceFromRequest returns how the request authenticated.
func AuthSourceFromRequest(r *http.Request) AuthSource {
	src, _ := r.Context().Value(authSourceContextKey{}).(AuthSource)
	return src
}

// Guard validates the request's access token and attaches the resulting
// [authcore.AuthContext]. The Authorization header wins over the cookie.
// Missing or invalid tokens get 401; a session displaced by the per-user
// cap gets 401 with the session-evicted code so the device can explain
// itself.
func Guard(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				unauthorized(w, authcore.ErrUnauthorized)
				return
			}

			token, source := requestToken(r)
			if token == "" {
				unauthorized(w, authcore.ErrUnauthorized)
				return
			}

			authCtx, err := engine.Validate(r.Context(), token)
			if err != nil {
				if errors.Is(err, authcore.ErrStoreUnavailable) {
					http.Error(w, "service unavailable", http.StatusServiceUnavailable)
					return
				}
				unauthorized(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), authContextKey{}, authCtx)
			ctx = context.WithValue(ctx, authSourceContextKey{}, source)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects requests whose validated role is below min. The 403
// body is deliberately generic: it never reveals which role would have
// been enough.
func RequireRole(min authcore.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, ok := AuthContextFromRequest(r)
			if !ok {
				unauthorized(w, authcore.ErrUnauthorized)
				return
			}
			if !authCtx.Allows(min) {
				writeError(w, http.StatusForbidden, authcore.ErrorCode(authcore.ErrPermissionDenied))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestToken(r *http.Request) (string, AuthSource) {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token, SourceBearer
	}
	if c, err := r.Cookie(AccessTokenCookie); err == nil && c.Value != "" {
		return c.Value, SourceCookie
	}
	return "", SourceNone
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

func unauthorized(w http.ResponseWriter, err error) {
	writeError(w, http.StatusUnauthorized, authcore.ErrorCode(err))
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + code + `"}`))
}
