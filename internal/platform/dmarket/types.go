package dmarket

// balanceResponse amounts are cents encoded as strings.
type balanceResponse struct {
	USD                    string `json:"usd" validate:"omitempty,numeric"`
	USDAvailableToWithdraw string `json:"usdAvailableToWithdraw,omitempty"`
	DMC                    string `json:"dmc" validate:"omitempty,numeric"`
}

type price struct {
	USD string `json:"USD"`
}

type itemsResponse struct {
	Objects []object `json:"objects" validate:"dive"`
	Total   any      `json:"total,omitempty"`
	Cursor  string   `json:"cursor,omitempty"`
}

type object struct {
	ItemID string      `json:"itemId"`
	Title  string      `json:"title" validate:"required"`
	Amount int         `json:"amount"`
	Price  price       `json:"price"`
	Extra  objectExtra `json:"extra"`
}

type objectExtra struct {
	OfferID  string `json:"offerId"`
	LinkID   string `json:"linkId"`
	Tradable bool   `json:"tradable"`
}

type buyRequest struct {
	Offers []buyOffer `json:"offers"`
}

type buyOffer struct {
	OfferID string   `json:"offerId"`
	Price   buyPrice `json:"price"`
}

type buyPrice struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type buyResponse struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
	TxID    string `json:"txId"`
}

type createOffersRequest struct {
	Offers []createOffer `json:"Offers"`
}

type createOffer struct {
	AssetID string     `json:"AssetID"`
	Price   offerPrice `json:"Price"`
}

type offerPrice struct {
	Currency string `json:"Currency"`
	Amount   string `json:"Amount"`
}

type createOffersResponse struct {
	Result []struct {
		CreateOffer struct {
			AssetID string `json:"AssetID"`
			OfferID string `json:"OfferID"`
		} `json:"CreateOffer"`
		Successful any    `json:"Successful,omitempty"`
		Error      any    `json:"Error,omitempty"`
		OfferID    string `json:"OfferID,omitempty"`
	} `json:"Result"`
}

type userOffersResponse struct {
	Items []struct {
		OfferID string `json:"OfferID"`
		AssetID string `json:"AssetID"`
		Title   string `json:"Title"`
		Price   price  `json:"Price"`
	} `json:"Items"`
}

type cancelOffersRequest struct {
	OfferID []string `json:"OfferID"`
}

// withdrawRequest is the single accepted withdraw schema.
type withdrawRequest struct {
	Assets    []withdrawAsset `json:"assets"`
	RequestID string          `json:"requestId"`
}

type withdrawAsset struct {
	ID string `json:"id"`
}

type withdrawResponse struct {
	TransferID string `json:"transferId"`
}

type depositRequest struct {
	AssetID []string `json:"AssetID"`
}

type depositResponse struct {
	OperationID string `json:"operationId"`
}
