package arbitrage

import (
	"sort"

	"github.com/alanyoungcy/skinarb/internal/domain"
)

// rankPairs converts raw price rows into spread results. Rows missing
// either side, priced at or below zero on either side, or with a
// non-positive spread are dropped. The rest are ordered by spread percent
// descending, then buy-side availability descending, then item name.
func rankPairs(pairs []domain.PricePair) []domain.CompareResult {
	out := make([]domain.CompareResult, 0, len(pairs))
	for _, p := range pairs {
		if p.First == nil || p.Second == nil {
			continue
		}
		buy, sell := p.First.PriceUSD, p.Second.PriceUSD
		if buy <= 0 || sell <= 0 {
			continue
		}
		spreadUSD := sell - buy
		spreadPct := spreadUSD / buy * 100
		if spreadPct <= 0 {
			continue
		}
		out = append(out, domain.CompareResult{
			ItemName:      p.ItemName,
			First:         *p.First,
			Second:        *p.Second,
			SpreadUSD:     spreadUSD,
			SpreadPercent: spreadPct,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.SpreadPercent != b.SpreadPercent {
			return a.SpreadPercent > b.SpreadPercent
		}
		if a.First.AvailableCount != b.First.AvailableCount {
			return a.First.AvailableCount > b.First.AvailableCount
		}
		return a.ItemName < b.ItemName
	})
	return out
}

// tradable reports whether a ranked result can back a deal: neither side
// overstocked and at least one unit on the buy side.
func tradable(r domain.CompareResult) bool {
	return !r.First.Overstocked && !r.Second.Overstocked && r.First.AvailableCount > 0
}

// MarketPairs returns every ordered pair of distinct markets, in input order.
func MarketPairs(markets []string) [][2]string {
	var pairs [][2]string
	for _, buy := range markets {
		for _, sell := range markets {
			if buy == sell {
				continue
			}
			pairs = append(pairs, [2]string{buy, sell})
		}
	}
	return pairs
}
