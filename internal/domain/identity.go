package domain

import (
	"context"
	"fmt"
	"time"
)

// Identity is one Steam account as loaded from its authenticator file.
// SharedSecret and IdentitySecret never change for the lifetime of the value;
// AccessToken is rewritten on refresh.
type Identity struct {
	AccountName    string
	SteamID        string
	SharedSecret   []byte
	IdentitySecret []byte
	DeviceID       string
	AccessToken    string
	RefreshToken   string
}

// String returns a redacted representation suitable for logging.
func (id Identity) String() string {
	return fmt.Sprintf("Identity{account=%s, steamid=%s, device=%s}", id.AccountName, id.SteamID, id.DeviceID)
}

// IdentityStore is the durable record behind an Identity. The access token is
// the only field callers may write back.
type IdentityStore interface {
	Load() (Identity, error)
	SaveAccessToken(token string) error
}

// TokenRefresher exchanges the refresh token for a new access token.
type TokenRefresher interface {
	Refresh(ctx context.Context, id Identity) (string, error)
}

// RotatingCode is a Steam Guard login code and its validity window.
type RotatingCode struct {
	Value     string        `json:"value"`
	ValidFrom time.Time     `json:"valid_from"`
	ValidFor  time.Duration `json:"valid_for"`
}

// Expired reports whether the code can no longer be used at now.
func (c RotatingCode) Expired(now time.Time) bool {
	return !now.Before(c.ValidFrom.Add(c.ValidFor)) || now.Before(c.ValidFrom)
}

// Remaining returns how long the code stays valid after now.
func (c RotatingCode) Remaining(now time.Time) time.Duration {
	if c.Expired(now) {
		return 0
	}
	return c.ValidFrom.Add(c.ValidFor).Sub(now)
}
