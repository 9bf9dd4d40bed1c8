package steam_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/skinarb/internal/domain"
	"github.com/alanyoungcy/skinarb/internal/platform/steam"
)

const offerPage = `<html><script>
	var g_ulTradePartnerSteamID = '76561198000000042';
</script></html>`

func TestAcceptTradeOffer(t *testing.T) {
	h := newHarness(t)
	h.fake.offerPage = offerPage
	h.fake.acceptBody = `{"tradeid":"5550001"}`

	tradeID, err := h.client.AcceptTradeOffer(context.Background(), "777")
	require.NoError(t, err)
	assert.Equal(t, "5550001", tradeID)

	form := h.fake.acceptForm
	assert.Equal(t, "sess-from-page", form["sessionid"])
	assert.Equal(t, "sess-from-page", form["cookie_sessionid"])
	assert.Equal(t, "1", form["serverid"])
	assert.Equal(t, "777", form["tradeofferid"])
	assert.Equal(t, "76561198000000042", form["partner"])
	assert.True(t, strings.HasSuffix(h.fake.acceptRef, "/tradeoffer/777/"))
}

func TestAcceptTradeOffer_NeedsConfirmation(t *testing.T) {
	h := newHarness(t, trade("888"))
	h.fake.offerPage = offerPage
	h.fake.acceptBody = `{"needs_mobile_confirmation":true}`

	ref, err := h.client.AcceptTradeOffer(context.Background(), "888")
	require.NoError(t, err)
	assert.Equal(t, "888", ref)
	assert.Equal(t, []string{"allow"}, h.fake.ops)
}

func TestAcceptTradeOffer_PendingWhenNoConfirmation(t *testing.T) {
	h := newHarness(t)
	h.fake.offerPage = offerPage
	h.fake.acceptBody = `{"needs_mobile_confirmation":true}`

	ref, err := h.client.AcceptTradeOffer(context.Background(), "889")
	require.NoError(t, err)
	assert.Equal(t, steam.TradeOfferPending, ref)
}

func TestAcceptTradeOffer_Errors(t *testing.T) {
	h := newHarness(t)
	h.fake.offerPage = "<html>no partner</html>"
	_, err := h.client.AcceptTradeOffer(context.Background(), "1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	h.fake.offerPage = offerPage
	h.fake.acceptBody = `{"strError":"There was an error accepting this trade offer."}`
	_, err = h.client.AcceptTradeOffer(context.Background(), "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error accepting")
}
