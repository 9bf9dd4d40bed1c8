package steam

import (
	"strconv"

	"github.com/alanyoungcy/skinarb/internal/domain"
)

// queryTimeResponse is the body of ITwoFactorService/QueryTime. Steam sends
// server_time as a quoted integer.
type queryTimeResponse struct {
	Response struct {
		ServerTime string `json:"server_time" validate:"required,numeric"`
	} `json:"response"`
}

// accessTokenResponse is the body of
// IAuthenticationService/GenerateAccessTokenForApp.
type accessTokenResponse struct {
	Response struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token,omitempty"`
	} `json:"response"`
}

// confListResponse is the body of /mobileconf/getlist.
type confListResponse struct {
	Success  bool       `json:"success"`
	NeedAuth bool       `json:"needauth"`
	Message  string     `json:"message,omitempty"`
	Conf     []confItem `json:"conf" validate:"dive"`
}

type confItem struct {
	ID           string   `json:"id" validate:"required,numeric"`
	Nonce        string   `json:"nonce" validate:"required"`
	CreatorID    string   `json:"creator_id"`
	Type         int      `json:"type"`
	TypeName     string   `json:"type_name"`
	Headline     string   `json:"headline"`
	Summary      []string `json:"summary"`
	Icon         string   `json:"icon"`
	CreationTime int64    `json:"creation_time"`
}

func (c confItem) toDomain() domain.ConfirmationRequest {
	return domain.ConfirmationRequest{
		ID:        c.ID,
		Nonce:     c.Nonce,
		CreatorID: c.CreatorID,
		Kind:      c.Type,
		KindName:  c.TypeName,
		Headline:  c.Headline,
		Summary:   c.Summary,
		Icon:      c.Icon,
	}
}

// ajaxOpResponse is the body of /mobileconf/ajaxop.
type ajaxOpResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// acceptOfferResponse is the body of /tradeoffer/{id}/accept.
type acceptOfferResponse struct {
	TradeID                 string `json:"tradeid"`
	NeedsMobileConfirmation bool   `json:"needs_mobile_confirmation"`
	NeedsEmailConfirmation  bool   `json:"needs_email_confirmation"`
	StrError                string `json:"strError"`
}

// maFile is the authenticator file layout. Only the fields read by this
// package are declared; SaveAccessToken rewrites the raw document so the
// rest survives untouched.
type maFile struct {
	AccountName    string        `json:"account_name" validate:"required"`
	SharedSecret   string        `json:"shared_secret" validate:"required"`
	IdentitySecret string        `json:"identity_secret" validate:"required"`
	DeviceID       string        `json:"device_id" validate:"required"`
	Session        maFileSession `json:"Session"`
}

type maFileSession struct {
	SteamID      flexibleID `json:"SteamID" validate:"required"`
	AccessToken  string     `json:"AccessToken"`
	RefreshToken string     `json:"RefreshToken"`
}

// flexibleID accepts the SteamID either as a JSON number or a string.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	s := string(b)
	if unq, err := strconv.Unquote(s); err == nil {
		s = unq
	}
	if s == "null" {
		s = ""
	}
	*f = flexibleID(s)
	return nil
}
