// Package oauth2 implements the social sign-in providers. Each provider
// turns an access token, an authorization code or an id token into an
// accounts.ExternalIdentity.
package oauth2

import (
	"context"
	"net/http"
	"os"
	"strings"

	"golang.org/x/oauth2"
)

// BaseOAuth2 holds what every provider needs to talk to its OAuth server.
type BaseOAuth2 struct {
	ClientId     string
	ClientSecret string
	oauthConfig  oauth2.Config

	// HTTPClient is used for token exchange and API calls. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client
}

func NewBaseOAuth2(clientId, clientSecret string, endpoint oauth2.Endpoint, scopes ...string) *BaseOAuth2 {
	return &BaseOAuth2{
		ClientId:     clientId,
		ClientSecret: clientSecret,
		oauthConfig: oauth2.Config{
			ClientID:     clientId,
			ClientSecret: clientSecret,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
	}
}

// SetEndpoint points the token exchange somewhere else, e.g. a test server.
func (b *BaseOAuth2) SetEndpoint(endpoint oauth2.Endpoint) {
	b.oauthConfig.Endpoint = endpoint
}

// AuthCodeURL is the consent screen URL for a redirect flow.
func (b *BaseOAuth2) AuthCodeURL(state, redirectURL string) string {
	cfg := b.oauthConfig
	cfg.RedirectURL = redirectURL
	return cfg.AuthCodeURL(state)
}

// exchangeCode trades an authorization code for a token. redirectURL must be
// the one the code was issued for.
func (b *BaseOAuth2) exchangeCode(ctx context.Context, code, redirectURL string) (*oauth2.Token, error) {
	cfg := b.oauthConfig
	cfg.RedirectURL = redirectURL
	return cfg.Exchange(b.context(ctx), code)
}

func (b *BaseOAuth2) context(ctx context.Context) context.Context {
	if b.HTTPClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, b.HTTPClient)
}

func (b *BaseOAuth2) client() *http.Client {
	if b.HTTPClient == nil {
		return http.DefaultClient
	}
	return b.HTTPClient
}

// envOr returns value, or the trimmed environment variable key when value
// is empty.
func envOr(value, key string) string {
	if value != "" {
		return value
	}
	return strings.TrimSpace(os.Getenv(key))
}
