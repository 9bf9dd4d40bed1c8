package domain

// ConfirmationRequest is one pending mobile confirmation awaiting approval.
type ConfirmationRequest struct {
	ID        string   `json:"id"`
	Nonce     string   `json:"nonce"`
	CreatorID string   `json:"creator_id"`
	Kind      int      `json:"kind"`
	KindName  string   `json:"kind_name"`
	Headline  string   `json:"headline"`
	Summary   []string `json:"summary"`
	Icon      string   `json:"icon,omitempty"`
}

// Confirmation kinds reported by the mobileconf list.
const (
	ConfirmationKindTrade       = 2
	ConfirmationKindMarket      = 3
	ConfirmationKindPhoneChange = 5
	ConfirmationKindAccountRec  = 6
)

// ConfirmationState is the state of a confirmation client for one identity.
type ConfirmationState string

const (
	ConfirmationIdle       ConfirmationState = "idle"
	ConfirmationPolling    ConfirmationState = "polling"
	ConfirmationResolving  ConfirmationState = "resolving"
	ConfirmationRefreshing ConfirmationState = "refreshing"
)
