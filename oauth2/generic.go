package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"

	ac "github.com/panyam/authcore"
)

// GenericOAuth2 is a provider for any OAuth 2.0 / OpenID Connect server
// with a JSON user info endpoint.
type GenericOAuth2 struct {
	*BaseOAuth2

	UserInfoURL string
	// MapUser converts the user info document. Defaults to the OpenID
	// Connect claims (sub, email, email_verified, name, picture).
	MapUser func(raw map[string]any) *ac.OAuthUserInfo
}

// GenericConfig configures NewGenericOAuth2.
type GenericConfig struct {
	ID           string
	Name         string
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	Scopes       []string
}

func NewGenericOAuth2(cfg GenericConfig) *GenericOAuth2 {
	return &GenericOAuth2{
		BaseOAuth2: &BaseOAuth2{
			ProviderID:   cfg.ID,
			DisplayName:  cfg.Name,
			ClientId:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{AuthURL: cfg.AuthURL, TokenURL: cfg.TokenURL},
			Scopes:       cfg.Scopes,
		},
		UserInfoURL: cfg.UserInfoURL,
	}
}

func (g *GenericOAuth2) UserInfo(ctx context.Context, tokens *ac.OAuthTokens) (*ac.OAuthUserInfo, error) {
	var raw map[string]any
	if err := getJSON(ctx, g.authorizedClient(ctx, tokens), g.UserInfoURL, &raw); err != nil {
		return nil, fmt.Errorf("%s: user info: %w", g.ProviderID, err)
	}
	mapUser := g.MapUser
	if mapUser == nil {
		mapUser = mapOIDCUser
	}
	info := mapUser(raw)
	if info == nil {
		return nil, fmt.Errorf("%s: user info could not be mapped", g.ProviderID)
	}
	info.Raw = raw
	return info, nil
}

func mapOIDCUser(raw map[string]any) *ac.OAuthUserInfo {
	id := stringClaim(raw, "sub")
	if id == "" {
		id = stringClaim(raw, "id")
	}
	verified, _ := raw["email_verified"].(bool)
	return &ac.OAuthUserInfo{
		ID:            id,
		Email:         stringClaim(raw, "email"),
		Name:          stringClaim(raw, "name"),
		Image:         stringClaim(raw, "picture"),
		EmailVerified: verified,
	}
}

// stringClaim reads a string or numeric claim as a string.
func stringClaim(raw map[string]any, key string) string {
	switch v := raw[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	case json.Number:
		return v.String()
	}
	return ""
}

// getJSON GETs url with client and decodes the JSON body into out.
func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	response, err := client.Do(req)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	contents, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed read response: %w", err)
	}
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", response.StatusCode, contents)
	}
	if err := json.Unmarshal(contents, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
