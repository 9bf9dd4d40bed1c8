package steam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/alanyoungcy/skinarb/internal/clock"
	"github.com/alanyoungcy/skinarb/internal/domain"
)

// Refresher obtains a fresh access token from the refresh token stored in
// the identity.
type Refresher struct {
	apiURL string
	tr     *transport
}

// NewRefresher creates a Refresher against apiURL (DefaultAPIURL when empty).
func NewRefresher(apiURL string, hc *http.Client, clk clock.Clock) *Refresher {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	return &Refresher{apiURL: apiURL, tr: newTransport(hc, clk, 2*time.Second)}
}

// Refresh returns a new access token. A missing refresh token, a rejected
// refresh token, or an empty answer are reported as domain.ErrAuthExpired.
// An answer that cannot be decoded is domain.ErrTransientNetwork.
func (r *Refresher) Refresh(ctx context.Context, id domain.Identity) (string, error) {
	if id.RefreshToken == "" {
		return "", fmt.Errorf("steam: refresh token: no refresh token: %w", domain.ErrAuthExpired)
	}

	resp, err := r.tr.do(ctx, request{
		method: http.MethodPost,
		url:    r.apiURL + "/IAuthenticationService/GenerateAccessTokenForApp/v1/",
		form: url.Values{
			"refresh_token": {id.RefreshToken},
			"steamid":       {id.SteamID},
		},
	})
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			return "", fmt.Errorf("steam: refresh token: %w", domain.ErrAuthExpired)
		}
		return "", fmt.Errorf("steam: refresh token: %w", err)
	}

	var body accessTokenResponse
	if err := json.Unmarshal(resp.body, &body); err != nil {
		return "", fmt.Errorf("steam: decode access token: %v: %w", err, domain.ErrTransientNetwork)
	}
	if body.Response.AccessToken == "" {
		return "", fmt.Errorf("steam: refresh token: empty access token: %w", domain.ErrAuthExpired)
	}
	return body.Response.AccessToken, nil
}

var _ domain.TokenRefresher = (*Refresher)(nil)
