package domain

import (
	"context"
	"fmt"
)

// Market names as understood by the price-comparison service.
const (
	MarketDmarket      = "Dmarket"
	MarketLootFarm     = "LootFarm"
	MarketTradeItTrade = "TradeItTrade"
	MarketTradeItStore = "TradeItStore"
)

// GameRust is the only game traded.
const GameRust = "Rust"

// PriceRange bounds the buy-side price in USD.
type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Valid reports whether the range is non-negative and ordered.
func (r PriceRange) Valid() bool {
	return r.Min >= 0 && r.Max > 0 && r.Min <= r.Max
}

func (r PriceRange) String() string {
	return fmt.Sprintf("$%.2f-$%.2f", r.Min, r.Max)
}

// MarketQuote is one market's side of a price snapshot.
type MarketQuote struct {
	Market         string  `json:"market"`
	ItemName       string  `json:"item_name"`
	PriceUSD       float64 `json:"price_usd"`
	AvailableCount int     `json:"available_count"`
	Overstocked    bool    `json:"overstocked"`
}

// PricePair is a raw row from the price-comparison service. Either side may be
// nil when the service has no data for that market.
type PricePair struct {
	ItemName string
	First    *MarketQuote
	Second   *MarketQuote
}

// CompareQuery selects one ordered market pair from the price service.
type CompareQuery struct {
	FirstMarket      string
	SecondMarket     string
	Range            PriceRange
	ExcludeOverstock bool
	Skip             int
	PageSize         int
}

// PriceService is the metered price-comparison API.
type PriceService interface {
	Compare(ctx context.Context, q CompareQuery) ([]PricePair, error)
	TokensUsed() int64
}

// CompareResult is a priced pair with the derived spread. First is the buy
// side, Second the sell side.
type CompareResult struct {
	ItemName      string      `json:"item_name"`
	First         MarketQuote `json:"first"`
	Second        MarketQuote `json:"second"`
	SpreadUSD     float64     `json:"spread_usd"`
	SpreadPercent float64     `json:"spread_percent"`
}

// QuoteCache keeps the latest accepted quote per (market, item).
type QuoteCache interface {
	SetQuote(ctx context.Context, q MarketQuote) error
	GetQuote(ctx context.Context, market, itemName string) (MarketQuote, error)
}

// Balance is a marketplace wallet balance.
type Balance struct {
	USD float64 `json:"usd"`
	DMC float64 `json:"dmc,omitempty"`
}

// Item is an asset held in a marketplace inventory.
type Item struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	PriceUSD float64 `json:"price_usd"`
	Tradable bool    `json:"tradable"`
	LinkID   string  `json:"link_id,omitempty"`
}

// Offer is a purchasable listing on a marketplace.
type Offer struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	PriceUSD float64 `json:"price_usd"`
}

// MarketAdapter is the per-marketplace trading surface. An empty reference
// with a nil error is the normal "not found" or "not filled" outcome; errors
// are reserved for transport failures.
type MarketAdapter interface {
	Name() string
	Balance(ctx context.Context) (Balance, error)
	Inventory(ctx context.Context, gameID string) ([]Item, error)
	SearchByName(ctx context.Context, name string) ([]Offer, error)
	Buy(ctx context.Context, offerID string, maxPrice float64) (string, error)
	Sell(ctx context.Context, itemID string, price float64) (string, error)
}
