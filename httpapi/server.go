package httpapi

import (
	"net"
	"net/http"

	authcore "github.com/tickerboard/authcore"
	promexport "github.com/tickerboard/authcore/metrics/export/prometheus"
	"github.com/tickerboard/authcore/middleware"
)

// Server wires the engine to its HTTP routes.
type Server struct {
	engine *authcore.Engine
	oauth  OAuthExchanger

	// SecureCookies controls the Secure attribute on issued cookies.
	// Disable only for plain-HTTP local development.
	SecureCookies bool
}

// NewServer creates a Server. oauth may be nil when the deployment does
// not federate; the OAuth routes then answer 404.
func NewServer(engine *authcore.Engine, oauth OAuthExchanger) *Server {
	return &Server{
		engine:        engine,
		oauth:         oauth,
		SecureCookies: true,
	}
}

// csrfExemptPaths are bootstrap endpoints with no prior session state to
// protect.
var csrfExemptPaths = []string{
	"/auth/anonymous",
	"/auth/magic-link",
	"/auth/refresh",
}

// Handler builds the full route tree: CSRF around everything, the token
// guard around authenticated routes, and the operator gate around admin
// routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	guard := middleware.Guard(s.engine)
	operator := middleware.RequireRole(authcore.RoleOperator)

	mux.HandleFunc("POST /auth/anonymous", s.handleBootstrap)
	mux.HandleFunc("POST /auth/magic-link", s.handleMagicLinkRequest)
	mux.HandleFunc("GET /auth/verify", s.handleMagicLinkVerify)
	mux.HandleFunc("POST /auth/oauth/callback", s.handleOAuthCallback)
	mux.HandleFunc("POST /auth/refresh", s.handleRefresh)

	mux.Handle("POST /auth/oauth/link", guard(http.HandlerFunc(s.handleManualLink)))
	mux.Handle("POST /auth/signout", guard(http.HandlerFunc(s.handleSignOut)))
	mux.Handle("GET /auth/sessions", guard(http.HandlerFunc(s.handleListSessions)))
	mux.Handle("GET /auth/me", guard(http.HandlerFunc(s.handleMe)))

	mux.Handle("POST /admin/sessions/revoke", guard(operator(http.HandlerFunc(s.handleAdminRevokeSession))))
	mux.Handle("POST /admin/users/revoke-all", guard(operator(http.HandlerFunc(s.handleAdminRevokeAll))))
	mux.Handle("POST /admin/users/role", guard(operator(http.HandlerFunc(s.handleAdminSetRole))))

	mux.Handle("GET /metrics", promexport.NewPrometheusExporter(s.engine).Handler())

	csrf := middleware.CSRF(s.engine, csrfExemptPaths...)
	return csrf(withClientIP(mux))
}

// withClientIP threads the request's source address into the context for
// rate limiting and audit logging. It is never used for authorization.
func withClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.Header.Get("X-Forwarded-For")
		if ip == "" {
			ip, _, _ = net.SplitHostPort(r.RemoteAddr)
		}
		next.ServeHTTP(w, r.WithContext(authcore.WithClientIP(r.Context(), ip)))
	})
}
