package steam

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"

	"github.com/alanyoungcy/skinarb/internal/domain"
)

// TradeOfferPending is returned by AcceptTradeOffer when the offer was
// accepted but still awaits a mobile confirmation that could not be found.
const TradeOfferPending = "pending_confirmation"

var partnerRe = regexp.MustCompile(`g_ulTradePartnerSteamID\s*=\s*['"]?(\d+)`)

// AcceptTradeOffer accepts an incoming trade offer. It returns the trade ID,
// or TradeOfferPending when Steam asked for a mobile confirmation that was
// not resolved yet.
func (c *ConfirmationClient) AcceptTradeOffer(ctx context.Context, offerID string) (string, error) {
	id := c.Identity()
	offerURL := c.cfg.CommunityURL + "/tradeoffer/" + url.PathEscape(offerID) + "/"
	cookies := sessionCookies(id)

	page, err := c.tr.do(ctx, request{method: http.MethodGet, url: offerURL, cookies: cookies})
	if err != nil {
		return "", fmt.Errorf("steam: load trade offer %s: %w", offerID, err)
	}
	m := partnerRe.FindSubmatch(page.body)
	if m == nil {
		return "", fmt.Errorf("steam: trade offer %s: partner not found: %w", offerID, domain.ErrNotFound)
	}
	partner := string(m[1])

	sessionID := sessionIDFrom(page.cookies)
	if sessionID == "" {
		sessionID = randomSessionID()
	}
	cookies = append(cookies, &http.Cookie{Name: "sessionid", Value: sessionID})

	resp, err := c.tr.do(ctx, request{
		method: http.MethodPost,
		url:    offerURL + "accept",
		form: url.Values{
			"sessionid":    {sessionID},
			"serverid":     {"1"},
			"tradeofferid": {offerID},
			"partner":      {partner},
			"captcha":      {""},
		},
		cookies: cookies,
		header: http.Header{
			"Referer": {offerURL},
			"Origin":  {c.cfg.CommunityURL},
		},
	})
	if err != nil {
		return "", fmt.Errorf("steam: accept trade offer %s: %w", offerID, err)
	}

	var body acceptOfferResponse
	if err := json.Unmarshal(resp.body, &body); err != nil {
		return "", fmt.Errorf("steam: decode accept response: %w", err)
	}

	switch {
	case body.StrError != "":
		return "", fmt.Errorf("steam: accept trade offer %s: %s", offerID, body.StrError)
	case body.NeedsMobileConfirmation:
		n, err := c.AwaitAndResolve(ctx, 1, c.cfg.RetryPause)
		if err != nil {
			return "", fmt.Errorf("steam: confirm trade offer %s: %w", offerID, err)
		}
		if n == 0 {
			return TradeOfferPending, nil
		}
		if body.TradeID != "" {
			return body.TradeID, nil
		}
		return offerID, nil
	case body.TradeID != "":
		return body.TradeID, nil
	default:
		return "", fmt.Errorf("steam: accept trade offer %s: empty response", offerID)
	}
}

func sessionIDFrom(cookies []*http.Cookie) string {
	for _, ck := range cookies {
		if ck.Name == "sessionid" {
			return ck.Value
		}
	}
	return ""
}

func randomSessionID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
