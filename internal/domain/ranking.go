package domain

// MarketStat is a per-symbol slice of the market-wide snapshot the ranker
// consumes: 24h volume, current spread, recent-range volatility and the 24h
// price change, for every known symbol.
type MarketStat struct {
	Symbol         string
	LastPrice      float64
	Volume24h      float64 // Quote-asset volume over the last 24h
	SpreadPct      float64 // (ask - bid) / bid
	VolatilityPct  float64 // ATR over recent candles as a fraction of price
	DailyChangePct float64 // 24h price change as a fraction
}

// RankingEntry is one row of the ordered top-N output of a ranking run.
// The ranked set is recomputed wholesale on every refresh and replaces the
// previous set; consumers diff old vs. new to detect additions and removals.
type RankingEntry struct {
	Symbol         string
	Score          float64
	Volume24h      float64
	SpreadPct      float64
	VolatilityPct  float64
	DailyChangePct float64
}
