package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	authcore "github.com/tickerboard/authcore"
)

func newTestEngine(t *testing.T) *authcore.Engine {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := authcore.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("middleware-test-secret")
	cfg.JWT.Audience = "authcore-test"

	engine, err := authcore.New().WithConfig(cfg).WithRedis(rdb).Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build: %v", err)
	}

	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return engine
}

func okHandler(t *testing.T, hits *int) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*hits++
		w.WriteHeader(http.StatusOK)
	})
}

func errorCodeFromBody(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()

	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("response body %q: %v", rr.Body.String(), err)
	}
	return body.Error
}

func TestGuardRejectsMissingToken(t *testing.T) {
	engine := newTestEngine(t)

	hits := 0
	handler := Guard(engine)(okHandler(t, &hits))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/me", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	if hits != 0 {
		t.Fatal("handler ran without a token")
	}
}

func TestGuardAcceptsBearer(t *testing.T) {
	engine := newTestEngine(t)

	bundle, err := engine.BootstrapAnonymous(context.Background())
	if err != nil {
		t.Fatalf("BootstrapAnonymous: %v", err)
	}

	var got *authcore.AuthContext
	var source AuthSource
	handler := Guard(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = AuthContextFromRequest(r)
		source = AuthSourceFromRequest(r)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+bundle.AccessToken)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if got == nil || got.UserID != bundle.UserID || got.SessionID != bundle.SessionID {
		t.Fatalf("auth context = %+v", got)
	}
	if source != SourceBearer {
		t.Fatalf("source = %d, want bearer", source)
	}
}

func TestGuardAcceptsCookie(t *testing.T) {
	engine := newTestEngine(t)

	bundle, err := engine.BootstrapAnonymous(context.Background())
	if err != nil {
		t.Fatalf("BootstrapAnonymous: %v", err)
	}

	var source AuthSource
	handler := Guard(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		source = AuthSourceFromRequest(r)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: bundle.AccessToken})

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if source != SourceCookie {
		t.Fatalf("source = %d, want cookie", source)
	}
}

func TestGuardEvictedSessionCode(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()

	bundle, err := engine.BootstrapAnonymous(ctx)
	if err != nil {
		t.Fatalf("BootstrapAnonymous: %v", err)
	}
	if err := engine.SignOut(ctx, bundle.UserID, bundle.SessionID); err != nil {
		t.Fatalf("SignOut: %v", err)
	}

	handler := Guard(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+bundle.AccessToken)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	if code := errorCodeFromBody(t, rr); code != authcore.ErrorCode(authcore.ErrSessionRevoked) {
		t.Fatalf("error code = %q", code)
	}
}

func TestRequireRoleGeneric403(t *testing.T) {
	engine := newTestEngine(t)

	bundle, err := engine.BootstrapAnonymous(context.Background())
	if err != nil {
		t.Fatalf("BootstrapAnonymous: %v", err)
	}

	hits := 0
	handler := Guard(engine)(RequireRole(authcore.RoleOperator)(okHandler(t, &hits)))

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+bundle.AccessToken)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Code)
	}
	if hits != 0 {
		t.Fatal("handler ran below the required role")
	}
	// The body never names the role that would have been enough.
	if code := errorCodeFromBody(t, rr); code != authcore.ErrorCode(authcore.ErrPermissionDenied) {
		t.Fatalf("error code = %q", code)
	}
}

func TestCSRFSafeMethodsPass(t *testing.T) {
	hits := 0
	handler := CSRF(nil)(okHandler(t, &hits))

	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(method, "/me", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status = %d, want 200", method, rr.Code)
		}
	}
	if hits != 3 {
		t.Fatalf("hits = %d, want 3", hits)
	}
}

func TestCSRFDoubleSubmit(t *testing.T) {
	hits := 0
	handler := CSRF(nil)(okHandler(t, &hits))

	// Matching cookie and header pass.
	req := httptest.NewRequest(http.MethodPost, "/auth/signout", nil)
	req.AddCookie(&http.Cookie{Name: CSRFCookie, Value: "csrf-value"})
	req.Header.Set(CSRFHeader, "csrf-value")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("matching pair status = %d, want 200", rr.Code)
	}

	// Mismatch, missing header, and missing cookie all reject.
	for _, tc := range []struct {
		name   string
		cookie string
		header string
	}{
		{"mismatch", "csrf-value", "other-value"},
		{"missing header", "csrf-value", ""},
		{"missing cookie", "", "csrf-value"},
	} {
		req := httptest.NewRequest(http.MethodPost, "/auth/signout", nil)
		if tc.cookie != "" {
			req.AddCookie(&http.Cookie{Name: CSRFCookie, Value: tc.cookie})
		}
		if tc.header != "" {
			req.Header.Set(CSRFHeader, tc.header)
		}

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusForbidden {
			t.Fatalf("%s status = %d, want 403", tc.name, rr.Code)
		}
	}
	if hits != 1 {
		t.Fatalf("hits = %d, want 1", hits)
	}
}

func TestCSRFBearerExempt(t *testing.T) {
	hits := 0
	handler := CSRF(nil)(okHandler(t, &hits))

	req := httptest.NewRequest(http.MethodPost, "/auth/signout", nil)
	req.Header.Set("Authorization", "Bearer some-token")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("bearer status = %d, want 200", rr.Code)
	}
	if hits != 1 {
		t.Fatal("bearer request did not reach the handler")
	}
}

func TestCSRFExemptPaths(t *testing.T) {
	hits := 0
	handler := CSRF(nil, "/auth/refresh")(okHandler(t, &hits))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/auth/refresh", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("exempt path status = %d, want 200", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/auth/other", nil))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("non-exempt path status = %d, want 403", rr.Code)
	}
}
