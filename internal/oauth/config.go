package oauth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// CalendarReadonlyScope is enough for events.list.
const CalendarReadonlyScope = "https://www.googleapis.com/auth/calendar.readonly"

// Settings are the client registration values for the calendar provider.
type Settings struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// IssuerURL is used for OpenID discovery of the authorization and token
	// endpoints. Empty means the built-in Google endpoints.
	IssuerURL string
}

// NewConfig builds the oauth2 client configuration. Discovery failures fall
// back to google.Endpoint so a slow issuer does not block startup.
func NewConfig(ctx context.Context, s Settings, logger *zap.Logger) *oauth2.Config {
	if logger == nil {
		logger = zap.NewNop()
	}

	endpoint := google.Endpoint
	if s.IssuerURL != "" {
		provider, err := oidc.NewProvider(ctx, s.IssuerURL)
		if err != nil {
			logger.Warn("oauth issuer discovery failed, using default google endpoints",
				zap.String("issuer", s.IssuerURL), zap.Error(err))
		} else {
			endpoint = provider.Endpoint()
		}
	}

	return &oauth2.Config{
		ClientID:     s.ClientID,
		ClientSecret: s.ClientSecret,
		RedirectURL:  s.RedirectURL,
		Endpoint:     endpoint,
		Scopes:       []string{CalendarReadonlyScope},
	}
}

// ConsentURL asks for offline access and forces the consent screen so the
// provider issues a refresh token even for returning users.
func ConsentURL(cfg *oauth2.Config, state string) string {
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// ConfigRefresher implements Refresher with the oauth2 refresh-token grant.
type ConfigRefresher struct {
	Config *oauth2.Config
}

func (r ConfigRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if r.Config == nil {
		return nil, fmt.Errorf("oauth config is required")
	}
	if refreshToken == "" {
		return nil, ErrMissingRefreshToken
	}
	// A token without an access token is never valid, which forces the
	// source to run the refresh grant.
	tok, err := r.Config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, err
	}
	return tok, nil
}
