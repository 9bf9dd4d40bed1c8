package pulse

// compareRequest is the body of POST /public-api/item/compare-tables.
type compareRequest struct {
	Game                string              `json:"game"`
	Currency            string              `json:"currency"`
	FirstMarket         string              `json:"firstMarket"`
	SecondMarket        string              `json:"secondMarket"`
	FirstMarketOptions  firstMarketOptions  `json:"firstMarketOptions"`
	SecondMarketOptions secondMarketOptions `json:"secondMarketOptions"`
	PaginationRequest   paginationRequest   `json:"paginationRequest"`
	DisplaySoldOutItems bool                `json:"displaySoldOutItems"`
	IsOverstock         *bool               `json:"isOverstock,omitempty"`
}

// "Sell" on the first market is the price we buy at; "Buy" on the second
// market is the price we sell at.
const (
	priceTypeSell = "Sell"
	priceTypeBuy  = "Buy"
)

type firstMarketOptions struct {
	PriceType   string      `json:"firstMarketPriceType"`
	PriceFilter priceFilter `json:"firstMarketPriceFilter"`
}

type secondMarketOptions struct {
	PriceType string `json:"secondMarketPriceType"`
}

type priceFilter struct {
	MinValue float64 `json:"minValue"`
	MaxValue float64 `json:"maxValue"`
}

type paginationRequest struct {
	SkipCount       int             `json:"skipCount"`
	TakeCount       int             `json:"takeCount"`
	OrderParameters orderParameters `json:"orderParameters"`
}

type orderParameters struct {
	Key       string `json:"key"`
	SortOrder string `json:"sortOrder"`
}

// compareRow is one element of the compare-tables response array.
type compareRow struct {
	MarketHashName   string      `json:"marketHashName" validate:"required"`
	FirstMarketInfo  *marketInfo `json:"firstMarketInfo"`
	SecondMarketInfo *marketInfo `json:"secondMarketInfo"`
}

type marketInfo struct {
	PriceUSD       float64        `json:"priceUsd"`
	BestOfferCount int            `json:"bestOfferCount" validate:"gte=0"`
	OverstockInfo  *overstockInfo `json:"overstockInfo"`
}

type overstockInfo struct {
	Limit        int `json:"limit"`
	CurrentCount int `json:"currentCount"`
}

// defaultOverstockLimit applies when the service omits the limit.
const defaultOverstockLimit = 999

func (o *overstockInfo) overstocked() bool {
	if o == nil {
		return false
	}
	limit := o.Limit
	if limit <= 0 {
		limit = defaultOverstockLimit
	}
	return o.CurrentCount >= limit
}

type supportedMarketsResponse struct {
	Markets []string `json:"markets"`
}
