package oauth2

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/oauth2/github"

	acc "github.com/panyam/accounts"
)

// GitHub signs people in with their GitHub account.
type GitHub struct {
	*BaseOAuth2

	// APIURL is the REST API root. Can be overridden for testing.
	APIURL string
}

// NewGitHub falls back to OAUTH2_GITHUB_CLIENT_ID and
// OAUTH2_GITHUB_CLIENT_SECRET for empty arguments.
func NewGitHub(clientId, clientSecret string) *GitHub {
	return &GitHub{
		BaseOAuth2: NewBaseOAuth2(
			envOr(clientId, "OAUTH2_GITHUB_CLIENT_ID"),
			envOr(clientSecret, "OAUTH2_GITHUB_CLIENT_SECRET"),
			github.Endpoint,
			"read:user", "user:email",
		),
		APIURL: "https://api.github.com",
	}
}

func (g *GitHub) ID() string { return "github" }

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
	HTMLURL   string `json:"html_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

func (g *GitHub) Exchange(ctx context.Context, m acc.ExchangeMaterial) (*acc.ExternalIdentity, error) {
	accessToken := m.AccessToken
	switch m.Kind {
	case acc.MaterialAccessToken:
	case acc.MaterialCode:
		token, err := g.exchangeCode(ctx, m.Code, m.CallbackURL)
		if err != nil {
			return nil, fmt.Errorf("exchanging code: %w", err)
		}
		accessToken = token.AccessToken
	default:
		return nil, errors.New("github does not issue id tokens")
	}

	var user githubUser
	if err := getJSON(ctx, g.client(), g.APIURL+"/user", accessToken, &user); err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, errors.New("github returned no user id")
	}

	email, verified := user.Email, false
	// the public profile email is often hidden, the emails API has the primary one
	var emails []githubEmail
	if err := getJSON(ctx, g.client(), g.APIURL+"/user/emails", accessToken, &emails); err == nil {
		for _, e := range emails {
			if e.Primary && e.Verified {
				email, verified = e.Email, true
				break
			}
		}
	} else if email == "" {
		return nil, err
	}

	first, last := splitName(user.Name)
	return &acc.ExternalIdentity{
		Provider:       g.ID(),
		ProviderUserID: strconv.FormatInt(user.ID, 10),
		Email:          email,
		EmailVerified:  verified,
		Username:       user.Login,
		FirstName:      first,
		LastName:       last,
		Extra: map[string]any{
			"login":      user.Login,
			"avatar_url": user.AvatarURL,
			"html_url":   user.HTMLURL,
		},
	}, nil
}
