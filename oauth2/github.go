package oauth2

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2/github"

	ac "github.com/panyam/authcore"
)

type GithubOAuth2 struct {
	*BaseOAuth2

	// UserInfoURL is the URL to fetch user info from. Defaults to GitHub's API.
	// Can be overridden for testing.
	UserInfoURL string
	// EmailsURL lists the user's addresses with their verification state.
	EmailsURL string
}

// NewGithubOAuth2 creates the GitHub provider. Empty credentials fall back
// to OAUTH2_GITHUB_CLIENT_ID and OAUTH2_GITHUB_CLIENT_SECRET.
func NewGithubOAuth2(clientId string, clientSecret string) *GithubOAuth2 {
	if clientId == "" {
		clientId = strings.TrimSpace(os.Getenv("OAUTH2_GITHUB_CLIENT_ID"))
	}
	if clientSecret == "" {
		clientSecret = strings.TrimSpace(os.Getenv("OAUTH2_GITHUB_CLIENT_SECRET"))
	}
	return &GithubOAuth2{
		BaseOAuth2: &BaseOAuth2{
			ProviderID:   "github",
			DisplayName:  "GitHub",
			ClientId:     clientId,
			ClientSecret: clientSecret,
			Endpoint:     github.Endpoint,
			Scopes:       []string{"read:user", "user:email"},
		},
		UserInfoURL: "https://api.github.com/user",
		EmailsURL:   "https://api.github.com/user/emails",
	}
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// UserInfo reads the profile and resolves the primary address, since the
// profile's public email may be empty and carries no verification state.
func (g *GithubOAuth2) UserInfo(ctx context.Context, tokens *ac.OAuthTokens) (*ac.OAuthUserInfo, error) {
	client := g.authorizedClient(ctx, tokens)
	var raw map[string]any
	if err := getJSON(ctx, client, g.UserInfoURL, &raw); err != nil {
		return nil, fmt.Errorf("failed getting user info from github: %w", err)
	}
	info := &ac.OAuthUserInfo{
		ID:    stringClaim(raw, "id"),
		Email: stringClaim(raw, "email"),
		Name:  stringClaim(raw, "name"),
		Image: stringClaim(raw, "avatar_url"),
		Raw:   raw,
	}
	if info.Name == "" {
		info.Name = stringClaim(raw, "login")
	}

	var emails []githubEmail
	if err := getJSON(ctx, client, g.EmailsURL, &emails); err != nil {
		// Tokens without the user:email scope cannot list addresses.
		return info, nil
	}
	for _, e := range emails {
		if strings.EqualFold(e.Email, info.Email) {
			info.EmailVerified = e.Verified
		}
	}
	if info.Email == "" {
		for _, e := range emails {
			if e.Primary {
				info.Email = e.Email
				info.EmailVerified = e.Verified
				break
			}
		}
	}
	return info, nil
}
