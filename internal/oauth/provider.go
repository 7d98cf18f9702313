package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"identity_service/internal/config"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

var userInfoURLs = map[string]string{
	ProviderGoogle:   "https://www.googleapis.com/oauth2/v2/userinfo",
	ProviderFacebook: "https://graph.facebook.com/me?fields=id,name,email",
	ProviderGitHub:   "https://api.github.com/user",
}

const githubEmailsURL = "https://api.github.com/user/emails"

// Client talks to the configured OAuth providers: authorization-code
// exchange plus the userinfo fetch that produces the raw profile for
// Normalize. Providers without credentials in the config stay disabled.
type Client struct {
	configs map[string]*oauth2.Config
}

func NewClient(cfg *config.Config) *Client {
	configs := make(map[string]*oauth2.Config)

	if cfg.OAuth.Google.ClientID != "" {
		configs[ProviderGoogle] = &oauth2.Config{
			ClientID:     cfg.OAuth.Google.ClientID,
			ClientSecret: cfg.OAuth.Google.ClientSecret,
			RedirectURL:  cfg.OAuth.Google.RedirectURL,
			Endpoint:     endpoints.Google,
			Scopes:       []string{"openid", "email", "profile"},
		}
	}

	if cfg.OAuth.Facebook.ClientID != "" {
		configs[ProviderFacebook] = &oauth2.Config{
			ClientID:     cfg.OAuth.Facebook.ClientID,
			ClientSecret: cfg.OAuth.Facebook.ClientSecret,
			RedirectURL:  cfg.OAuth.Facebook.RedirectURL,
			Endpoint:     endpoints.Facebook,
			Scopes:       []string{"email"},
		}
	}

	if cfg.OAuth.GitHub.ClientID != "" {
		configs[ProviderGitHub] = &oauth2.Config{
			ClientID:     cfg.OAuth.GitHub.ClientID,
			ClientSecret: cfg.OAuth.GitHub.ClientSecret,
			RedirectURL:  cfg.OAuth.GitHub.RedirectURL,
			Endpoint:     endpoints.GitHub,
			Scopes:       []string{"user:email"},
		}
	}

	return &Client{configs: configs}
}

// FetchProfile resolves an authorization result into the provider's raw
// profile payload. Either an authorization code or a provider access token
// is accepted; a code is exchanged first.
func (c *Client) FetchProfile(
	ctx context.Context,
	provider, code, accessToken string,
) (map[string]any, error) {
	const op = "oauth.FetchProfile"

	conf, ok := c.configs[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}

	if accessToken == "" {
		token, err := conf.Exchange(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to exchange code: %w", op, err)
		}

		accessToken = token.AccessToken
	}

	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
	}))

	raw, err := fetchJSON[map[string]any](ctx, httpClient, userInfoURLs[provider])
	if err != nil {
		return nil, fmt.Errorf("%s: failed to fetch profile: %w", op, err)
	}

	// GitHub hides the email unless the user made it public; the emails
	// endpoint lists it regardless.
	if provider == ProviderGitHub && stringField(raw, "email") == "" {
		email, err := fetchGitHubPrimaryEmail(ctx, httpClient)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to fetch github email: %w", op, err)
		}

		raw["email"] = email
	}

	return raw, nil
}

func fetchGitHubPrimaryEmail(ctx context.Context, client *http.Client) (string, error) {
	emails, err := fetchJSON[[]struct {
		Email   string `json:"email"`
		Primary bool   `json:"primary"`
	}](ctx, client, githubEmailsURL)
	if err != nil {
		return "", err
	}

	for _, e := range emails {
		if e.Primary {
			return e.Email, nil
		}
	}

	return "", nil
}

func fetchJSON[T any](ctx context.Context, client *http.Client, url string) (T, error) {
	var out T

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return out, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, err
	}

	return out, nil
}
