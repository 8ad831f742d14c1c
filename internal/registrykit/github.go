package registrykit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const githubUserEndpoint = "https://api.github.com/user"

var (
	errGitHubEmptyAccessToken = errors.New("github.empty_access_token")
	errGitHubInvalidProfile   = errors.New("github.invalid_profile")
)

// GitHubProvider drives the GitHub authorization-code flow.
type GitHubProvider struct {
	config  *oauth2.Config
	userURL string
}

var _ IdentityProvider = (*GitHubProvider)(nil)

// NewGitHubProvider constructs a provider for the registered OAuth application.
func NewGitHubProvider(clientID string, clientSecret string, redirectURL string) *GitHubProvider {
	return &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		},
		userURL: githubUserEndpoint,
	}
}

// AuthorizationURL returns the provider URL carrying the supplied state. The
// state value appears literally in the URL query so the caller can round-trip
// it on the callback.
func (provider *GitHubProvider) AuthorizationURL(state string) string {
	return provider.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// ExchangeCode trades the callback code for a GitHub access token.
func (provider *GitHubProvider) ExchangeCode(ctx context.Context, code string) (string, error) {
	token, exchangeErr := provider.config.Exchange(ctx, code)
	if exchangeErr != nil {
		return "", fmt.Errorf("github.exchange: %w", exchangeErr)
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return "", fmt.Errorf("github.exchange: %w", errGitHubEmptyAccessToken)
	}
	return token.AccessToken, nil
}

// FetchProfile loads the authenticated user's GitHub profile.
func (provider *GitHubProvider) FetchProfile(ctx context.Context, accessToken string) (GitHubProfile, error) {
	client := provider.config.Client(ctx, &oauth2.Token{AccessToken: accessToken})
	response, requestErr := client.Get(provider.userURL)
	if requestErr != nil {
		return GitHubProfile{}, fmt.Errorf("github.profile.request: %w", requestErr)
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode != http.StatusOK {
		return GitHubProfile{}, fmt.Errorf("github.profile.status_%d: %w", response.StatusCode, errGitHubInvalidProfile)
	}

	var payload struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Email     string `json:"email"`
		Name      string `json:"name"`
		AvatarURL string `json:"avatar_url"`
	}
	if decodeErr := json.NewDecoder(response.Body).Decode(&payload); decodeErr != nil {
		return GitHubProfile{}, fmt.Errorf("github.profile.decode: %w", decodeErr)
	}
	if payload.ID == 0 {
		return GitHubProfile{}, fmt.Errorf("github.profile: %w", errGitHubInvalidProfile)
	}

	return GitHubProfile{
		GitHubID:  payload.ID,
		Login:     payload.Login,
		Email:     payload.Email,
		Name:      payload.Name,
		AvatarURL: payload.AvatarURL,
	}, nil
}
