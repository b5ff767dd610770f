package oauth2

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2/google"
	googleoauth "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	ac "github.com/panyam/authcore"
)

type GoogleOAuth2 struct {
	*BaseOAuth2

	// APIEndpoint overrides the Google API base URL. Can be overridden for
	// testing.
	APIEndpoint string
}

// NewGoogleOAuth2 creates the Google provider. Empty credentials fall back
// to OAUTH2_GOOGLE_CLIENT_ID and OAUTH2_GOOGLE_CLIENT_SECRET.
func NewGoogleOAuth2(clientId string, clientSecret string) *GoogleOAuth2 {
	if clientId == "" {
		clientId = strings.TrimSpace(os.Getenv("OAUTH2_GOOGLE_CLIENT_ID"))
	}
	if clientSecret == "" {
		clientSecret = strings.TrimSpace(os.Getenv("OAUTH2_GOOGLE_CLIENT_SECRET"))
	}
	return &GoogleOAuth2{
		BaseOAuth2: &BaseOAuth2{
			ProviderID:   "google",
			DisplayName:  "Google",
			ClientId:     clientId,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
			Scopes: []string{
				"openid",
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			// Google only returns a refresh token for offline access.
			AuthParams: map[string]string{"access_type": "offline"},
		},
	}
}

// UserInfo fetches the profile through the Google OAuth2 API.
func (g *GoogleOAuth2) UserInfo(ctx context.Context, tokens *ac.OAuthTokens) (*ac.OAuthUserInfo, error) {
	opts := []option.ClientOption{option.WithHTTPClient(g.authorizedClient(ctx, tokens))}
	if g.APIEndpoint != "" {
		opts = append(opts, option.WithEndpoint(g.APIEndpoint))
	}
	svc, err := googleoauth.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google: %w", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("google: user info: %w", err)
	}
	out := &ac.OAuthUserInfo{
		ID:    info.Id,
		Email: info.Email,
		Name:  info.Name,
		Image: info.Picture,
		Raw: map[string]any{
			"id":      info.Id,
			"email":   info.Email,
			"name":    info.Name,
			"picture": info.Picture,
			"hd":      info.Hd,
		},
	}
	if info.VerifiedEmail != nil {
		out.EmailVerified = *info.VerifiedEmail
	}
	return out, nil
}
