package oauth2

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/idtoken"

	acc "github.com/panyam/accounts"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// IDTokenValidator verifies a Google id token for an audience.
type IDTokenValidator func(ctx context.Context, idToken, audience string) (*idtoken.Payload, error)

// Google signs people in with their Google account.
type Google struct {
	*BaseOAuth2

	// UserInfoURL can be overridden for testing.
	UserInfoURL string

	// ValidateIDToken defaults to idtoken.Validate.
	ValidateIDToken IDTokenValidator
}

// NewGoogle falls back to OAUTH2_GOOGLE_CLIENT_ID and
// OAUTH2_GOOGLE_CLIENT_SECRET for empty arguments.
func NewGoogle(clientId, clientSecret string) *Google {
	return &Google{
		BaseOAuth2: NewBaseOAuth2(
			envOr(clientId, "OAUTH2_GOOGLE_CLIENT_ID"),
			envOr(clientSecret, "OAUTH2_GOOGLE_CLIENT_SECRET"),
			google.Endpoint,
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
		),
		UserInfoURL:     googleUserInfoURL,
		ValidateIDToken: idtoken.Validate,
	}
}

func (g *Google) ID() string { return "google" }

type googleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Picture       string `json:"picture"`
	Locale        string `json:"locale"`
}

func (g *Google) Exchange(ctx context.Context, m acc.ExchangeMaterial) (*acc.ExternalIdentity, error) {
	switch m.Kind {
	case acc.MaterialAccessToken:
		identity, err := g.userInfo(ctx, m.AccessToken)
		if err != nil {
			return nil, err
		}
		if m.IDToken != "" {
			// an id token riding along must name the same person
			payload, err := g.validate(ctx, m.IDToken)
			if err != nil {
				return nil, err
			}
			if payload.Subject != identity.ProviderUserID {
				return nil, errors.New("id token subject does not match access token user")
			}
		}
		return identity, nil
	case acc.MaterialCode:
		token, err := g.exchangeCode(ctx, m.Code, m.CallbackURL)
		if err != nil {
			return nil, fmt.Errorf("exchanging code: %w", err)
		}
		return g.userInfo(ctx, token.AccessToken)
	case acc.MaterialIDToken:
		payload, err := g.validate(ctx, m.IDToken)
		if err != nil {
			return nil, err
		}
		return identityFromPayload(payload), nil
	}
	return nil, fmt.Errorf("unsupported material kind %d", m.Kind)
}

func (g *Google) userInfo(ctx context.Context, accessToken string) (*acc.ExternalIdentity, error) {
	var info googleUserInfo
	if err := getJSON(ctx, g.client(), g.UserInfoURL, accessToken, &info); err != nil {
		return nil, err
	}
	first, last := info.GivenName, info.FamilyName
	if first == "" && last == "" {
		first, last = splitName(info.Name)
	}
	return &acc.ExternalIdentity{
		Provider:       g.ID(),
		ProviderUserID: info.ID,
		Email:          info.Email,
		EmailVerified:  info.VerifiedEmail,
		FirstName:      first,
		LastName:       last,
		Extra: map[string]any{
			"name":    info.Name,
			"picture": info.Picture,
			"locale":  info.Locale,
		},
	}, nil
}

func (g *Google) validate(ctx context.Context, idToken string) (*idtoken.Payload, error) {
	payload, err := g.ValidateIDToken(ctx, idToken, g.ClientId)
	if err != nil {
		return nil, fmt.Errorf("validating id token: %w", err)
	}
	return payload, nil
}

func identityFromPayload(p *idtoken.Payload) *acc.ExternalIdentity {
	claim := func(name string) string {
		v, _ := p.Claims[name].(string)
		return v
	}
	verified, _ := p.Claims["email_verified"].(bool)
	return &acc.ExternalIdentity{
		Provider:       "google",
		ProviderUserID: p.Subject,
		Email:          claim("email"),
		EmailVerified:  verified,
		FirstName:      claim("given_name"),
		LastName:       claim("family_name"),
		Extra: map[string]any{
			"name":    claim("name"),
			"picture": claim("picture"),
		},
	}
}
