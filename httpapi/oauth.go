package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	authcore "github.com/tickerboard/authcore"
)

// ErrUnknownProvider is returned for providers the exchanger has no
// endpoints for.
var ErrUnknownProvider = errors.New("unknown oauth provider")

// ErrExchangeFailed wraps provider-side failures during the code exchange.
var ErrExchangeFailed = errors.New("oauth exchange failed")

// OAuthExchanger turns an authorization code into provider claims. The
// engine never talks to providers itself; it consumes only the resulting
// identity.
type OAuthExchanger interface {
	Exchange(ctx context.Context, provider, code string) (authcore.OAuthIdentity, error)
}

// ProviderEndpoints configures one provider for [HTTPExchanger].
type ProviderEndpoints struct {
	TokenURL     string
	UserInfoURL  string
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// HTTPExchanger is the standard authorization-code exchanger: POST the
// code to the token endpoint, then fetch the userinfo document with the
// returned access token. Every call is bounded by the client timeout.
type HTTPExchanger struct {
	providers map[string]ProviderEndpoints
	client    *http.Client
}

// NewHTTPExchanger creates an exchanger for the given providers. timeout
// bounds each provider round-trip; zero means 10 seconds.
func NewHTTPExchanger(providers map[string]ProviderEndpoints, timeout time.Duration) *HTTPExchanger {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPExchanger{
		providers: providers,
		client:    &http.Client{Timeout: timeout},
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type userInfoResponse struct {
	Sub           string `json:"sub"`
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	VerifiedEmail bool   `json:"verified_email"`
}

// Exchange implements [OAuthExchanger].
func (x *HTTPExchanger) Exchange(ctx context.Context, provider, code string) (authcore.OAuthIdentity, error) {
	ep, ok := x.providers[provider]
	if !ok {
		return authcore.OAuthIdentity{}, ErrUnknownProvider
	}

	accessToken, err := x.exchangeCode(ctx, ep, code)
	if err != nil {
		return authcore.OAuthIdentity{}, err
	}

	info, err := x.fetchUserInfo(ctx, ep, accessToken)
	if err != nil {
		return authcore.OAuthIdentity{}, err
	}

	subject := info.Sub
	if subject == "" {
		subject = info.ID
	}

	return authcore.OAuthIdentity{
		Provider:      provider,
		Subject:       subject,
		Email:         info.Email,
		EmailVerified: info.EmailVerified || info.VerifiedEmail,
	}, nil
}

func (x *HTTPExchanger) exchangeCode(ctx context.Context, ep ProviderEndpoints, code string) (string, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {ep.ClientID},
		"client_secret": {ep.ClientSecret},
	}
	if ep.RedirectURI != "" {
		form.Set("redirect_uri", ep.RedirectURI)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := x.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token endpoint returned %d", ErrExchangeFailed, resp.StatusCode)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrExchangeFailed)
	}
	return tok.AccessToken, nil
}

func (x *HTTPExchanger) fetchUserInfo(ctx context.Context, ep ProviderEndpoints, accessToken string) (*userInfoResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := x.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: userinfo endpoint returned %d", ErrExchangeFailed, resp.StatusCode)
	}

	var info userInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	if info.Sub == "" && info.ID == "" {
		return nil, fmt.Errorf("%w: userinfo missing subject", ErrExchangeFailed)
	}
	return &info, nil
}
