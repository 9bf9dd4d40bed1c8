// Package arbitrage finds cross-market price spreads worth trading.
package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/alanyoungcy/skinarb/internal/clock"
	"github.com/alanyoungcy/skinarb/internal/domain"
)

// FinderConfig configures a SpreadFinder.
type FinderConfig struct {
	Prices domain.PriceService
	// Quotes is optional; accepted quotes are written to it when set.
	Quotes   domain.QuoteCache
	PageSize int
	Clock    clock.Clock
	Logger   *slog.Logger
}

// SpreadFinder compares market pairs through the price service and picks
// the widest spread.
type SpreadFinder struct {
	prices   domain.PriceService
	quotes   domain.QuoteCache
	pageSize int
	clock    clock.Clock
	logger   *slog.Logger
}

// NewSpreadFinder creates a SpreadFinder.
func NewSpreadFinder(cfg FinderConfig) *SpreadFinder {
	return &SpreadFinder{
		prices:   cfg.Prices,
		quotes:   cfg.Quotes,
		pageSize: cfg.PageSize,
		clock:    cfg.Clock,
		logger:   cfg.Logger.With(slog.String("component", "spread_finder")),
	}
}

// Compare fetches one page for buying on first and selling on second and
// returns the positive spreads, widest first.
func (f *SpreadFinder) Compare(ctx context.Context, first, second string, r domain.PriceRange, excludeOverstock bool) ([]domain.CompareResult, error) {
	pairs, err := f.prices.Compare(ctx, domain.CompareQuery{
		FirstMarket:      first,
		SecondMarket:     second,
		Range:            r,
		ExcludeOverstock: excludeOverstock,
		PageSize:         f.pageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("arbitrage: compare %s->%s: %w", first, second, err)
	}
	return rankPairs(pairs), nil
}

// BestDeal scans every ordered pair of markets and returns the deal with
// the highest spread percent strictly above minSpreadPercent, or nil when
// none qualifies. A failing pair is skipped unless the price service
// reports its quota exhausted, which aborts the scan.
func (f *SpreadFinder) BestDeal(ctx context.Context, markets []string, r domain.PriceRange, minSpreadPercent float64) (*domain.Deal, error) {
	var (
		best     *domain.CompareResult
		bestBuy  string
		bestSell string
	)

	for _, pair := range MarketPairs(markets) {
		buy, sell := pair[0], pair[1]

		results, err := f.Compare(ctx, buy, sell, r, true)
		if err != nil {
			if errors.Is(err, domain.ErrQuotaExhausted) || ctx.Err() != nil {
				return nil, err
			}
			f.logger.WarnContext(ctx, "market pair skipped",
				slog.String("buy_market", buy),
				slog.String("sell_market", sell),
				slog.String("error", err.Error()),
			)
			continue
		}

		for i := range results {
			res := results[i]
			if !tradable(res) {
				continue
			}
			f.cacheQuotes(ctx, res)
			if res.SpreadPercent <= minSpreadPercent {
				continue
			}
			if best == nil || res.SpreadPercent > best.SpreadPercent {
				best, bestBuy, bestSell = &res, buy, sell
			}
		}
	}

	if best == nil {
		f.logger.InfoContext(ctx, "no deal above threshold", slog.Float64("min_spread_percent", minSpreadPercent))
		return nil, nil
	}

	deal := &domain.Deal{
		ID:            uuid.New().String(),
		ItemName:      best.ItemName,
		SourceMarket:  bestBuy,
		TargetMarket:  bestSell,
		BuyPrice:      best.First.PriceUSD,
		SellPrice:     best.Second.PriceUSD,
		SpreadPercent: best.SpreadPercent,
		SpreadUSD:     best.SpreadUSD,
		CreatedAt:     f.clock.Now(),
	}
	f.logger.InfoContext(ctx, "best deal",
		slog.String("item", deal.ItemName),
		slog.String("buy_market", deal.SourceMarket),
		slog.Float64("buy_price", deal.BuyPrice),
		slog.String("sell_market", deal.TargetMarket),
		slog.Float64("sell_price", deal.SellPrice),
		slog.Float64("spread_percent", deal.SpreadPercent),
	)
	return deal, nil
}

// TokensUsed reports the price-service tokens consumed so far.
func (f *SpreadFinder) TokensUsed() int64 {
	return f.prices.TokensUsed()
}

func (f *SpreadFinder) cacheQuotes(ctx context.Context, res domain.CompareResult) {
	if f.quotes == nil {
		return
	}
	for _, q := range []domain.MarketQuote{res.First, res.Second} {
		if err := f.quotes.SetQuote(ctx, q); err != nil {
			f.logger.DebugContext(ctx, "quote cache write failed", slog.String("error", err.Error()))
			return
		}
	}
}
